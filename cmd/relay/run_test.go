package main

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"agentrelay/internal/bus"
	"agentrelay/internal/config"
	"agentrelay/internal/crash"
	"agentrelay/internal/dispatch"
	"agentrelay/internal/query"
	"agentrelay/internal/session"
	"agentrelay/internal/shell"
)

func TestParseLine(t *testing.T) {
	in := parseLine("/resume s-1 keep going", 1)
	assert.Equal(t, dispatch.KindCommand, in.Kind)
	assert.Equal(t, "resume", in.Name)
	assert.Equal(t, []string{"s-1", "keep", "going"}, in.Args)

	in = parseLine("!cancel-query", 2)
	assert.Equal(t, dispatch.KindButton, in.Kind)
	assert.Equal(t, "cancel-query", in.Name)

	in = parseLine("just a bare prompt", 3)
	assert.Equal(t, "ask", in.Name)
	assert.Equal(t, []string{"just", "a", "bare", "prompt"}, in.Args)
}

type memorySurface struct {
	mu   sync.Mutex
	sent []bus.Content
}

func (s *memorySurface) SendMessage(_ context.Context, c bus.Content) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, c)
	return nil
}

func (s *memorySurface) contains(text string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.sent {
		if strings.Contains(c.Text, text) || strings.Contains(c.Title, text) {
			return true
		}
	}
	return false
}

// blockingRunner parks inside Run until released, standing in for a
// long query.
type blockingRunner struct {
	started chan struct{}
	release chan struct{}
}

func (r *blockingRunner) Run(ctx context.Context, _ query.Options) (*query.Result, error) {
	close(r.started)
	select {
	case <-r.release:
	case <-ctx.Done():
	}
	return &query.Result{Cancelled: true}, nil
}

// A command typed while a query is running must be handled before that
// query finishes, not queued behind it.
func TestServeConsole_CommandsInterleaveWithRunningQuery(t *testing.T) {
	logger = zap.NewNop()

	runner := &blockingRunner{started: make(chan struct{}), release: make(chan struct{})}
	surface := &memorySurface{}
	cfg := &config.Config{WorkDir: t.TempDir()}
	d := dispatch.New(cfg, surface, runner, session.NewRegistry(), session.NewTable(24*time.Hour),
		crash.NewReporter(), shell.NewManager(nil), nil, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		serveConsole(context.Background(), d, strings.NewReader("/ask take your time\n/help\n"))
	}()

	select {
	case <-runner.started:
	case <-time.After(2 * time.Second):
		t.Fatal("query never started")
	}

	require.Eventually(t, func() bool {
		return surface.contains("Commands")
	}, 2*time.Second, 10*time.Millisecond, "/help answered while the query is still in flight")

	close(runner.release)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("serveConsole did not drain in-flight handlers")
	}
	assert.True(t, surface.contains("Query cancelled."))
}
