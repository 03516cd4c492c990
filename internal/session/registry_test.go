package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_SingleActiveHandle(t *testing.T) {
	r := NewRegistry()
	assert.Nil(t, r.Active())

	first := &fakeHandle{}
	firstCancelled := false
	r.SetActive(first, func() { firstCancelled = true })
	assert.Same(t, first, r.Active().(*fakeHandle))

	second := &fakeHandle{}
	r.SetActive(second, nil)

	assert.Same(t, second, r.Active().(*fakeHandle), "exactly one active handle after replacement")
	assert.True(t, firstCancelled, "previous query is cancelled on replace")
	assert.Equal(t, int32(1), first.closes.Load(), "previous handle is closed")
	assert.Equal(t, int32(0), second.closes.Load())
}

func TestRegistry_ClearDropsTurns(t *testing.T) {
	r := NewRegistry()
	r.SetActive(&fakeHandle{}, nil)
	r.TrackTurn("turn-a", "first question")
	r.TrackTurn("turn-b", "second question")
	require.Len(t, r.Turns(), 2)

	r.Clear()
	assert.Nil(t, r.Active())
	assert.Empty(t, r.Turns(), "clearing the handle clears tracked turns")
}

func TestRegistry_ClearIfOnlyClearsOwnHandle(t *testing.T) {
	r := NewRegistry()
	stale := &fakeHandle{}
	r.SetActive(stale, nil)

	current := &fakeHandle{}
	r.SetActive(current, nil)

	assert.False(t, r.ClearIf(stale), "a replaced query cannot clear its successor")
	assert.Same(t, current, r.Active().(*fakeHandle))

	assert.True(t, r.ClearIf(current))
	assert.Nil(t, r.Active())
	assert.Equal(t, int32(1), current.closes.Load())
}

func TestRegistry_TurnSequencing(t *testing.T) {
	r := NewRegistry()
	r.TrackTurn("turn-a", "a")
	r.TrackTurn("turn-b", "b")

	turns := r.Turns()
	require.Len(t, turns, 2)
	assert.Equal(t, 1, turns[0].Seq)
	assert.Equal(t, 2, turns[1].Seq)

	id, ok := r.ResolveTurn(2)
	require.True(t, ok)
	assert.Equal(t, "turn-b", id)

	_, ok = r.ResolveTurn(3)
	assert.False(t, ok)
}

func TestRegistry_ReplaceResetsSequence(t *testing.T) {
	r := NewRegistry()
	r.SetActive(&fakeHandle{}, nil)
	r.TrackTurn("old", "old turn")

	r.SetActive(&fakeHandle{}, nil)
	r.TrackTurn("new", "new turn")

	turns := r.Turns()
	require.Len(t, turns, 1)
	assert.Equal(t, 1, turns[0].Seq)
	assert.Equal(t, "new", turns[0].ID)
}

func TestRegistry_PassThroughsWithoutHandle(t *testing.T) {
	r := NewRegistry()
	ctx := context.Background()

	assert.False(t, r.Interrupt(ctx))
	assert.False(t, r.SetModel(ctx, "sonnet"))
	assert.False(t, r.SetPermissionMode(ctx, "plan"))
	assert.Nil(t, r.RewindToTurn(ctx, "turn-a", true))
}

func TestRegistry_PassThroughsSwallowErrors(t *testing.T) {
	r := NewRegistry()
	h := &fakeHandle{failControls: true}
	r.SetActive(h, nil)
	ctx := context.Background()

	// Failures become negative/null results; nothing panics or propagates.
	assert.False(t, r.Interrupt(ctx))
	assert.False(t, r.SetModel(ctx, "sonnet"))
	assert.False(t, r.SetPermissionMode(ctx, "plan"))
	assert.Nil(t, r.RewindToTurn(ctx, "turn-a", false))
}

func TestRegistry_PassThroughsForward(t *testing.T) {
	r := NewRegistry()
	h := &fakeHandle{}
	r.SetActive(h, nil)
	ctx := context.Background()

	assert.True(t, r.Interrupt(ctx))
	assert.Equal(t, int32(1), h.interrupts.Load())

	assert.True(t, r.SetModel(ctx, "opus"))
	assert.Equal(t, "opus", h.lastModel)

	assert.True(t, r.SetPermissionMode(ctx, "acceptEdits"))
	assert.Equal(t, "acceptEdits", h.lastMode)

	res := r.RewindToTurn(ctx, "turn-a", true)
	require.NotNil(t, res)
	assert.True(t, res.DryRun)
	assert.Equal(t, 2, res.FilesRestored)
}
