package query

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentrelay/internal/config"
	"agentrelay/internal/crash"
	"agentrelay/internal/engine"
	"agentrelay/internal/session"
)

type testRig struct {
	orch    *Orchestrator
	eng     *fakeEngine
	reg     *session.Registry
	table   *session.Table
	crashes *crash.Reporter
}

func newRig(handles ...*fakeHandle) *testRig {
	eng := &fakeEngine{handles: handles}
	reg := session.NewRegistry()
	table := session.NewTable(24 * time.Hour)
	crashes := crash.NewReporter()
	cfg := config.EngineConfig{
		Binary:         "claude",
		DefaultModel:   "sonnet",
		FallbackModel:  "haiku",
		PermissionMode: "default",
		QuestionTool:   "AskUserQuestion",
	}
	return &testRig{
		orch:    New(eng, reg, table, crashes, cfg),
		eng:     eng,
		reg:     reg,
		table:   table,
		crashes: crashes,
	}
}

func TestRun_HappyPath(t *testing.T) {
	h := &fakeHandle{events: []*engine.Event{
		sysEvent("s-1"),
		textEvent("Hello!"),
		resultEvent(0.02),
	}}
	rig := newRig(h)

	res, err := rig.orch.Run(context.Background(), Options{WorkDir: t.TempDir(), Prompt: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "Hello!", res.Text)
	assert.Equal(t, "s-1", res.SessionID)
	assert.Equal(t, "sonnet", res.Model, "default model applies when none requested")
	assert.InDelta(t, 0.02, res.CostUSD, 1e-9)
	assert.Empty(t, res.Denials)
	assert.False(t, res.Cancelled)

	assert.Nil(t, rig.reg.Active(), "handle cleared after completion")
	assert.True(t, h.Closed())

	meta, ok := rig.table.Get("s-1")
	require.True(t, ok)
	assert.InDelta(t, 0.02, meta.TotalCostUSD, 1e-9)
}

func TestRun_LatestAssistantTextWins(t *testing.T) {
	h := &fakeHandle{events: []*engine.Event{
		textEvent("first"),
		textEvent("second"),
		resultEvent(0),
	}}
	rig := newRig(h)

	res, err := rig.orch.Run(context.Background(), Options{WorkDir: t.TempDir(), Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, "second", res.Text)
}

func TestRun_TracksUserTurnsDuringStream(t *testing.T) {
	h := &fakeHandle{events: []*engine.Event{
		userEvent("turn-a", "do the first thing"),
		userEvent("turn-b", "now the second"),
		resultEvent(0),
	}}
	rig := newRig(h)

	var turnsAtResult []session.Turn
	sink := sinkFunc(func(ev engine.Event) {
		if ev.Kind == engine.KindResult {
			turnsAtResult = rig.reg.Turns()
		}
	})

	_, err := rig.orch.Run(context.Background(), Options{WorkDir: t.TempDir(), Prompt: "p", Sink: sink})
	require.NoError(t, err)

	require.Len(t, turnsAtResult, 2)
	assert.Equal(t, "turn-a", turnsAtResult[0].ID)
	assert.Equal(t, 1, turnsAtResult[0].Seq)
	assert.Equal(t, "do the first thing", turnsAtResult[0].Summary)
	assert.Equal(t, 2, turnsAtResult[1].Seq)

	assert.Empty(t, rig.reg.Turns(), "turns cleared with the handle")
}

func TestRun_CleansResumeID(t *testing.T) {
	h := &fakeHandle{events: []*engine.Event{resultEvent(0)}}
	rig := newRig(h)

	_, err := rig.orch.Run(context.Background(), Options{
		WorkDir: t.TempDir(),
		Prompt:  "p",
		Resume:  "`abc-123`\n",
	})
	require.NoError(t, err)
	assert.Equal(t, "abc-123", rig.eng.Requests()[0].Resume)
}

func TestRun_AbortIsNotAnError(t *testing.T) {
	h := &fakeHandle{finalErr: engine.ErrAborted}
	rig := newRig(h)

	res, err := rig.orch.Run(context.Background(), Options{WorkDir: t.TempDir(), Prompt: "p"})
	require.NoError(t, err)
	assert.True(t, res.Cancelled)
	assert.Empty(t, res.Text)
	assert.Empty(t, res.SessionID)
	assert.Zero(t, rig.crashes.Stats().Total, "aborts never reach crash reporting")
}

func TestRun_RateLimitRetriesOnFallback(t *testing.T) {
	first := &fakeHandle{finalErr: errors.New("engine: rate limit reached")}
	second := &fakeHandle{events: []*engine.Event{
		sysEvent("s-2"),
		textEvent("done on fallback"),
		resultEvent(0.001),
	}}
	rig := newRig(first, second)

	res, err := rig.orch.Run(context.Background(), Options{WorkDir: t.TempDir(), Prompt: "p", Model: "opus"})
	require.NoError(t, err)
	assert.Equal(t, "done on fallback", res.Text)
	assert.Equal(t, "haiku", res.Model)

	reqs := rig.eng.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "opus", reqs[0].Model)
	assert.Equal(t, "haiku", reqs[1].Model)
	assert.Equal(t, reqs[0].Prompt, reqs[1].Prompt, "retry reuses the prompt")
}

func TestRun_InBandErrorResultIsRetried(t *testing.T) {
	first := &fakeHandle{events: []*engine.Event{errorResultEvent("429 too many requests")}}
	second := &fakeHandle{events: []*engine.Event{textEvent("ok"), resultEvent(0)}}
	rig := newRig(first, second)

	res, err := rig.orch.Run(context.Background(), Options{WorkDir: t.TempDir(), Prompt: "p"})
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Text)
	require.Len(t, rig.eng.Requests(), 2)
}

func TestRun_RetryFailureIsAnnotated(t *testing.T) {
	first := &fakeHandle{finalErr: errors.New("exit status 1")}
	second := &fakeHandle{finalErr: errors.New("exit status 1")}
	rig := newRig(first, second)

	_, err := rig.orch.Run(context.Background(), Options{WorkDir: t.TempDir(), Prompt: "p"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retry with haiku failed")
	assert.Equal(t, 1, rig.crashes.Stats().Total)
}

func TestRun_FatalErrorIsNotRetried(t *testing.T) {
	h := &fakeHandle{finalErr: errors.New("interpreter not found")}
	rig := newRig(h)

	_, err := rig.orch.Run(context.Background(), Options{WorkDir: t.TempDir(), Prompt: "p"})
	require.Error(t, err)
	require.Len(t, rig.eng.Requests(), 1)
	assert.Equal(t, 1, rig.crashes.Stats().Total)
}

func TestRun_DuplicateDenialsCollapsed(t *testing.T) {
	h := &fakeHandle{events: []*engine.Event{
		resultEvent(0,
			engine.PermissionDenial{ToolName: "Bash"},
			engine.PermissionDenial{ToolName: "Bash"},
			engine.PermissionDenial{ToolName: "Edit"},
		),
	}}
	rig := newRig(h)

	res, err := rig.orch.Run(context.Background(), Options{WorkDir: t.TempDir(), Prompt: "p"})
	require.NoError(t, err)
	require.Len(t, res.Denials, 2)
	assert.Equal(t, "Bash", res.Denials[0].ToolName)
	assert.Equal(t, "Edit", res.Denials[1].ToolName)
}

func TestRun_NewQueryReplacesRunningOne(t *testing.T) {
	blocked := &fakeHandle{block: make(chan struct{})}
	quick := &fakeHandle{events: []*engine.Event{textEvent("fresh"), resultEvent(0)}}
	rig := newRig(blocked, quick)

	var wg sync.WaitGroup
	wg.Add(1)
	var firstRes *Result
	var firstErr error
	go func() {
		defer wg.Done()
		firstRes, firstErr = rig.orch.Run(context.Background(), Options{WorkDir: t.TempDir(), Prompt: "slow"})
	}()

	require.Eventually(t, func() bool {
		return rig.reg.Active() == engine.Handle(blocked)
	}, 2*time.Second, 10*time.Millisecond, "first query installs its handle")

	res, err := rig.orch.Run(context.Background(), Options{WorkDir: t.TempDir(), Prompt: "fast"})
	require.NoError(t, err)
	assert.Equal(t, "fresh", res.Text)

	wg.Wait()
	require.NoError(t, firstErr)
	assert.True(t, firstRes.Cancelled, "replaced query reports cancellation, not failure")
	assert.True(t, blocked.Closed())
	assert.Nil(t, rig.reg.Active(), "both queries finished; registry is clear")
}

func TestRun_StartFailurePropagates(t *testing.T) {
	rig := newRig()
	rig.eng.startErr = errors.New("no such binary")

	_, err := rig.orch.Run(context.Background(), Options{WorkDir: t.TempDir(), Prompt: "p"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no such binary")
	assert.Nil(t, rig.reg.Active())
}
