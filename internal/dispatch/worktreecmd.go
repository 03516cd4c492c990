package dispatch

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"agentrelay/internal/bus"
)

// worktreePath places worktrees in a sibling directory of the main
// checkout so the agent never sees them as untracked files.
func (d *Dispatcher) worktreePath(branch string) string {
	base := filepath.Base(d.cfg.WorkDir)
	return filepath.Join(filepath.Dir(d.cfg.WorkDir), base+"-worktrees", branch)
}

func (d *Dispatcher) handleWorktreeAdd(ctx context.Context, in Interaction) error {
	if d.trees == nil {
		return errors.New("worktrees unavailable (workdir is not a git repository)")
	}
	if len(in.Args) == 0 {
		return errors.New("usage: /wt-add <branch>")
	}
	branch := in.Args[0]
	path := d.worktreePath(branch)
	if err := d.trees.Create(ctx, path, branch, true); err != nil {
		return err
	}
	return d.reply(ctx, bus.Text(fmt.Sprintf("Worktree for `%s` created at %s", branch, path)))
}

func (d *Dispatcher) handleWorktreeList(ctx context.Context, _ Interaction) error {
	if d.trees == nil {
		return errors.New("worktrees unavailable (workdir is not a git repository)")
	}
	trees, err := d.trees.List(ctx)
	if err != nil {
		return err
	}
	var b strings.Builder
	for _, t := range trees {
		branch := t.Branch
		if t.Detached {
			branch = "(detached)"
		}
		fmt.Fprintf(&b, "%s  %s\n", branch, t.Path)
	}
	return d.reply(ctx, bus.Panel("Worktrees", clip(b.String())))
}

func (d *Dispatcher) handleWorktreeRemove(ctx context.Context, in Interaction) error {
	if d.trees == nil {
		return errors.New("worktrees unavailable (workdir is not a git repository)")
	}
	if len(in.Args) == 0 {
		return errors.New("usage: /wt-remove <branch> [--force]")
	}
	branch := in.Args[0]
	force := len(in.Args) > 1 && in.Args[1] == "--force"

	if err := d.trees.Remove(ctx, d.worktreePath(branch), force); err != nil {
		return err
	}
	if err := d.trees.DeleteBranch(ctx, branch, force); err != nil {
		// Worktree is gone; report the branch leftover instead of failing.
		return d.reply(ctx, bus.Text(fmt.Sprintf("Worktree removed; branch `%s` kept (%v).", branch, err)))
	}
	return d.reply(ctx, bus.Text(fmt.Sprintf("Worktree and branch `%s` removed.", branch)))
}
