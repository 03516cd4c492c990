package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"agentrelay/internal/bus"
	"agentrelay/internal/shell"
)

// tailLines bounds the transcript posted when a shell command exits.
const tailLines = 20

func (d *Dispatcher) handleShell(ctx context.Context, in Interaction) error {
	command := strings.TrimSpace(strings.Join(in.Args, " "))
	if command == "" {
		return errors.New("usage: /shell <command>")
	}

	var mu sync.Mutex
	var tail []string
	p, err := d.shells.Run(context.WithoutCancel(ctx), d.cfg.WorkDir, command, func(line string) {
		mu.Lock()
		defer mu.Unlock()
		tail = append(tail, line)
		if len(tail) > tailLines {
			tail = tail[1:]
		}
	})
	if err != nil {
		return err
	}

	if err := d.reply(ctx, bus.Text(fmt.Sprintf("Started [%d] `%s` (pid %d).", p.ID, command, p.PID))); err != nil {
		return err
	}

	// Post the output tail once the process exits.
	go func() {
		waitErr := p.Wait()
		mu.Lock()
		transcript := strings.Join(tail, "\n")
		mu.Unlock()

		title := fmt.Sprintf("[%d] exited", p.ID)
		if waitErr != nil {
			title = fmt.Sprintf("[%d] failed: %v", p.ID, waitErr)
		}
		_ = d.reply(context.WithoutCancel(ctx), bus.Panel(title, clip(transcript)))
	}()
	return nil
}

func (d *Dispatcher) handlePS(ctx context.Context, _ Interaction) error {
	d.shells.Resync()
	procs := d.shells.List()
	if len(procs) == 0 {
		return d.reply(ctx, bus.Text("No tracked processes."))
	}
	var b strings.Builder
	for _, p := range procs {
		b.WriteString(formatProc(p) + "\n")
	}
	return d.reply(ctx, bus.Panel("Processes", clip(b.String())))
}

func formatProc(p shell.Info) string {
	state := "running"
	if !p.Running {
		state = "exited"
	}
	return fmt.Sprintf("[%d] pid=%d %s  %s  (%s)", p.ID, p.PID, state, p.Command,
		time.Since(p.Started).Round(time.Second))
}

func (d *Dispatcher) handleKill(ctx context.Context, in Interaction) error {
	if len(in.Args) == 0 {
		return errors.New("usage: /kill <id>")
	}
	id, err := strconv.Atoi(in.Args[0])
	if err != nil {
		return fmt.Errorf("process id must be an integer, got %q", in.Args[0])
	}
	if err := d.shells.Kill(id); err != nil {
		return err
	}
	return d.reply(ctx, bus.Text(fmt.Sprintf("Killed [%d].", id)))
}
