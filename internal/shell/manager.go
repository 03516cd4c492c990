// Package shell runs user-requested shell commands as tracked background
// processes. Each process gets a small integer id that chat commands use
// to list and kill it. Nothing here is persisted; a restart forgets all
// processes (they keep running, orphaned, which Resync cannot see).
package shell

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"sort"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"agentrelay/internal/crash"
	"agentrelay/internal/logging"
)

// OutputFunc receives one line of combined stdout/stderr output.
type OutputFunc func(line string)

// Proc is one tracked process.
type Proc struct {
	ID      int
	PID     int
	Command string
	Dir     string
	Started time.Time

	cmd  *exec.Cmd
	done chan struct{}

	mu      sync.Mutex
	exitErr error
	exited  bool
}

// Wait blocks until the process exits and returns its exit error.
func (p *Proc) Wait() error {
	<-p.done
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitErr
}

// Running reports whether the process is still alive.
func (p *Proc) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.exited
}

// Info is a race-free snapshot of one process for listings.
type Info struct {
	ID      int
	PID     int
	Command string
	Started time.Time
	Running bool
}

// Manager owns the process table.
type Manager struct {
	mu      sync.Mutex
	procs   map[int]*Proc
	nextID  int
	crashes *crash.Reporter
}

// NewManager creates an empty manager. crashes may be nil.
func NewManager(crashes *crash.Reporter) *Manager {
	return &Manager{procs: make(map[int]*Proc), crashes: crashes}
}

// Run starts command through the platform shell in dir and streams its
// combined output line by line to out (which may be nil). The returned
// Proc is already registered in the table.
func (m *Manager) Run(ctx context.Context, dir, command string, out OutputFunc) (*Proc, error) {
	cmd := platformCommand(ctx, command)
	cmd.Dir = dir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %q: %w", command, err)
	}

	m.mu.Lock()
	m.nextID++
	p := &Proc{
		ID:      m.nextID,
		PID:     cmd.Process.Pid,
		Command: command,
		Dir:     dir,
		Started: time.Now(),
		cmd:     cmd,
		done:    make(chan struct{}),
	}
	m.procs[p.ID] = p
	m.mu.Unlock()

	logging.Shell("started [%d] pid=%d: %s", p.ID, p.PID, command)
	go m.supervise(p, stdout, stderr, out)
	return p, nil
}

// supervise drains both pipes, then reaps the process.
func (m *Manager) supervise(p *Proc, stdout, stderr io.Reader, out OutputFunc) {
	var g errgroup.Group
	g.Go(func() error { return streamLines(stdout, out) })
	g.Go(func() error { return streamLines(stderr, out) })
	_ = g.Wait()

	err := p.cmd.Wait()

	p.mu.Lock()
	p.exitErr = err
	p.exited = true
	p.mu.Unlock()
	close(p.done)

	if err != nil {
		logging.Shell("[%d] exited: %v", p.ID, err)
		if m.crashes != nil {
			m.crashes.Report("shell", strconv.Itoa(p.ID), err, p.Command, true)
		}
		return
	}
	logging.Shell("[%d] exited cleanly", p.ID)
}

func streamLines(r io.Reader, out OutputFunc) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 256*1024)
	for sc.Scan() {
		if out != nil {
			out(sc.Text())
		}
	}
	return sc.Err()
}

// Get returns the tracked process with the given id.
func (m *Manager) Get(id int) (*Proc, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.procs[id]
	return p, ok
}

// Kill terminates a tracked process. Killing an already-exited process
// is an error so the caller can tell the user the id was stale.
func (m *Manager) Kill(id int) error {
	p, ok := m.Get(id)
	if !ok {
		return fmt.Errorf("no process with id %d", id)
	}
	if !p.Running() {
		return fmt.Errorf("process %d already exited", id)
	}
	if err := p.cmd.Process.Kill(); err != nil {
		return fmt.Errorf("kill process %d: %w", id, err)
	}
	logging.Shell("killed [%d]", id)
	return nil
}

// List snapshots the table, sorted by id.
func (m *Manager) List() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Info, 0, len(m.procs))
	for _, p := range m.procs {
		out = append(out, Info{
			ID:      p.ID,
			PID:     p.PID,
			Command: p.Command,
			Started: p.Started,
			Running: p.Running(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Resync drops exited processes from the table and returns how many
// were removed.
func (m *Manager) Resync() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, p := range m.procs {
		if !p.Running() {
			delete(m.procs, id)
			removed++
		}
	}
	if removed > 0 {
		logging.Shell("resync pruned %d process(es)", removed)
	}
	return removed
}

// platformCommand wraps command in the platform's shell.
func platformCommand(ctx context.Context, command string) *exec.Cmd {
	if runtime.GOOS == "windows" {
		return exec.CommandContext(ctx, "cmd", "/C", command)
	}
	return exec.CommandContext(ctx, "sh", "-c", command)
}
