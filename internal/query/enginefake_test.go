package query

import (
	"context"
	"errors"
	"io"
	"sync"

	"agentrelay/internal/engine"
)

// fakeHandle replays a scripted event sequence, then finishes with
// finalErr (nil means a clean io.EOF end of stream).
type fakeHandle struct {
	mu       sync.Mutex
	events   []*engine.Event
	idx      int
	finalErr error
	closed   bool

	// block, when non-nil, makes Next wait until the channel closes or
	// the context is cancelled.
	block chan struct{}
}

func (h *fakeHandle) Next(ctx context.Context) (*engine.Event, error) {
	if h.block != nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-h.block:
		}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.idx < len(h.events) {
		ev := h.events[h.idx]
		h.idx++
		return ev, nil
	}
	if h.finalErr != nil {
		return nil, h.finalErr
	}
	return nil, io.EOF
}

func (h *fakeHandle) Interrupt(context.Context) error { return nil }

func (h *fakeHandle) SetModel(context.Context, string) error { return engine.ErrNotSupported }

func (h *fakeHandle) SetPermissionMode(context.Context, string) error {
	return engine.ErrNotSupported
}

func (h *fakeHandle) RewindFiles(context.Context, string, bool) (*engine.RewindResult, error) {
	return nil, engine.ErrNotSupported
}

func (h *fakeHandle) AccountInfo(context.Context) (map[string]any, error) {
	return nil, engine.ErrNotSupported
}

func (h *fakeHandle) SupportedModels(context.Context) ([]string, error) {
	return nil, engine.ErrNotSupported
}

func (h *fakeHandle) ToolServerStatus(context.Context) (map[string]any, error) {
	return nil, engine.ErrNotSupported
}

func (h *fakeHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return nil
}

func (h *fakeHandle) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// fakeEngine hands out pre-built handles in order and records every
// start request for assertions.
type fakeEngine struct {
	mu       sync.Mutex
	handles  []*fakeHandle
	next     int
	requests []engine.Request
	startErr error
}

func (e *fakeEngine) Start(_ context.Context, req engine.Request) (engine.Handle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.requests = append(e.requests, req)
	if e.startErr != nil {
		return nil, e.startErr
	}
	if e.next >= len(e.handles) {
		return nil, errors.New("fake engine: no handle scripted for this start")
	}
	h := e.handles[e.next]
	e.next++
	return h, nil
}

func (e *fakeEngine) Requests() []engine.Request {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]engine.Request, len(e.requests))
	copy(out, e.requests)
	return out
}

// sinkFunc adapts a func to the EventSink interface.
type sinkFunc func(engine.Event)

func (f sinkFunc) OnEvent(ev engine.Event) { f(ev) }

func sysEvent(sessionID string) *engine.Event {
	return &engine.Event{Kind: engine.KindSystem, Subtype: "init", SessionID: sessionID}
}

func textEvent(text string) *engine.Event {
	return &engine.Event{
		Kind: engine.KindAssistant,
		Message: &engine.Message{Role: "assistant", Content: []engine.ContentBlock{
			{Type: "text", Text: text},
		}},
	}
}

func userEvent(uuid, text string) *engine.Event {
	return &engine.Event{
		Kind: engine.KindUser,
		UUID: uuid,
		Message: &engine.Message{Role: "user", Content: []engine.ContentBlock{
			{Type: "text", Text: text},
		}},
	}
}

func resultEvent(cost float64, denials ...engine.PermissionDenial) *engine.Event {
	return &engine.Event{
		Kind:              engine.KindResult,
		Subtype:           "success",
		TotalCostUSD:      cost,
		DurationMS:        1234,
		PermissionDenials: denials,
	}
}

func errorResultEvent(msg string) *engine.Event {
	return &engine.Event{Kind: engine.KindResult, Subtype: "error", IsError: true, Result: msg}
}
