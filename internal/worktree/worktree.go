// Package worktree manages git worktrees for a repository so separate
// chat conversations can work on separate branches of the same checkout.
package worktree

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"agentrelay/internal/logging"
)

// Worktree is one entry from the repository's worktree list.
type Worktree struct {
	Path     string
	Head     string
	Branch   string
	Detached bool
}

// Manager runs git against one repository.
type Manager struct {
	repoDir string
}

// NewManager creates a manager rooted at repoDir.
func NewManager(repoDir string) *Manager {
	return &Manager{repoDir: repoDir}
}

// git runs one git command in the repo and returns its combined output.
func (m *Manager) git(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = m.repoDir
	out, err := cmd.CombinedOutput()
	if err != nil {
		msg := strings.TrimSpace(string(out))
		if msg == "" {
			msg = err.Error()
		}
		return "", fmt.Errorf("git %s: %s", strings.Join(args, " "), msg)
	}
	return string(out), nil
}

// Create adds a worktree at path. With newBranch set, a branch named
// branch is created at HEAD; otherwise the existing branch is checked
// out into the new worktree.
func (m *Manager) Create(ctx context.Context, path, branch string, newBranch bool) error {
	args := []string{"worktree", "add"}
	if newBranch {
		args = append(args, "-b", branch, path)
	} else {
		args = append(args, path, branch)
	}
	if _, err := m.git(ctx, args...); err != nil {
		return err
	}
	logging.Worktree("created %s on branch %s", path, branch)
	return nil
}

// List parses `git worktree list --porcelain` into entries. The main
// checkout is included as the first entry.
func (m *Manager) List(ctx context.Context) ([]Worktree, error) {
	out, err := m.git(ctx, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, err
	}

	var trees []Worktree
	var cur *Worktree
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimRight(line, "\r")
		switch {
		case line == "":
			if cur != nil {
				trees = append(trees, *cur)
				cur = nil
			}
		case strings.HasPrefix(line, "worktree "):
			cur = &Worktree{Path: strings.TrimPrefix(line, "worktree ")}
		case cur == nil:
			// Ignore attributes before the first worktree line.
		case strings.HasPrefix(line, "HEAD "):
			cur.Head = strings.TrimPrefix(line, "HEAD ")
		case strings.HasPrefix(line, "branch "):
			cur.Branch = strings.TrimPrefix(strings.TrimPrefix(line, "branch "), "refs/heads/")
		case line == "detached":
			cur.Detached = true
		}
	}
	if cur != nil {
		trees = append(trees, *cur)
	}
	return trees, nil
}

// HasUncommittedChanges reports whether the worktree at path has any
// staged, unstaged, or untracked changes.
func (m *Manager) HasUncommittedChanges(ctx context.Context, path string) (bool, error) {
	out, err := m.git(ctx, "-C", path, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) != "", nil
}

// Remove deletes the worktree at path. Without force, a worktree with
// uncommitted changes is refused so work is not silently lost.
func (m *Manager) Remove(ctx context.Context, path string, force bool) error {
	if !force {
		dirty, err := m.HasUncommittedChanges(ctx, path)
		if err != nil {
			return err
		}
		if dirty {
			return fmt.Errorf("worktree %s has uncommitted changes (use force to discard)", path)
		}
	}
	args := []string{"worktree", "remove"}
	if force {
		args = append(args, "--force")
	}
	args = append(args, path)
	if _, err := m.git(ctx, args...); err != nil {
		return err
	}
	logging.Worktree("removed %s", path)
	return nil
}

// DeleteBranch deletes a local branch, typically after its worktree is
// removed. force deletes even when unmerged.
func (m *Manager) DeleteBranch(ctx context.Context, branch string, force bool) error {
	flag := "-d"
	if force {
		flag = "-D"
	}
	if _, err := m.git(ctx, "branch", flag, branch); err != nil {
		return err
	}
	logging.Worktree("deleted branch %s", branch)
	return nil
}
