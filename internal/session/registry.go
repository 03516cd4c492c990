// Package session tracks the single active Agent Engine query and the
// auxiliary per-session metadata table. The registry has process lifetime
// and is never persisted.
package session

import (
	"context"
	"sync"
	"time"

	"agentrelay/internal/engine"
	"agentrelay/internal/logging"
)

// Turn is one observed user turn within the active session, kept so a
// human-chosen turn number can be resolved to an opaque id for rewind.
type Turn struct {
	ID      string
	Seq     int
	Time    time.Time
	Summary string
}

// Registry owns at most one active query handle. It is passed by reference
// to every component that needs it; there is no package-level instance.
type Registry struct {
	mu     sync.Mutex
	active engine.Handle
	cancel context.CancelFunc
	turns  []Turn
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// SetActive replaces the active handle. The previous handle, if any, is
// best-effort cancelled and closed first: starting a new query always wins.
// Passing a nil handle clears the registry, including all tracked turns.
func (r *Registry) SetActive(h engine.Handle, cancel context.CancelFunc) {
	r.mu.Lock()
	prev, prevCancel := r.active, r.cancel
	r.active = h
	r.cancel = cancel
	r.turns = nil
	r.mu.Unlock()

	if prev != nil {
		logging.Session("replacing active session handle")
		if prevCancel != nil {
			prevCancel()
		}
		prev.Close()
	}
}

// Clear drops the active handle and all tracked turns.
func (r *Registry) Clear() {
	r.SetActive(nil, nil)
}

// ClearIf clears the registry only when h is still the active handle, so a
// replaced query finishing late cannot clobber its successor. Returns
// whether the clear happened.
func (r *Registry) ClearIf(h engine.Handle) bool {
	r.mu.Lock()
	if r.active != h {
		r.mu.Unlock()
		return false
	}
	prev, prevCancel := r.active, r.cancel
	r.active = nil
	r.cancel = nil
	r.turns = nil
	r.mu.Unlock()

	if prevCancel != nil {
		prevCancel()
	}
	if prev != nil {
		prev.Close()
	}
	return true
}

// Active returns the current handle, or nil when no query is running.
func (r *Registry) Active() engine.Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// TrackTurn appends a turn with the next sequence number. The registry does
// not check for an active handle; that is the caller's contract.
func (r *Registry) TrackTurn(turnID, summary string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.turns = append(r.turns, Turn{
		ID:      turnID,
		Seq:     len(r.turns) + 1,
		Time:    time.Now(),
		Summary: summary,
	})
}

// Turns returns a copy of the tracked turns.
func (r *Registry) Turns() []Turn {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Turn, len(r.turns))
	copy(out, r.turns)
	return out
}

// ResolveTurn maps a 1-based sequence number to its opaque turn id.
func (r *Registry) ResolveTurn(seq int) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.turns {
		if t.Seq == seq {
			return t.ID, true
		}
	}
	return "", false
}

// Interrupt forwards to the active handle. Returns false when no handle is
// active or the handle failed; handle errors are swallowed, never fatal.
func (r *Registry) Interrupt(ctx context.Context) bool {
	h := r.Active()
	if h == nil {
		return false
	}
	if err := h.Interrupt(ctx); err != nil {
		logging.Session("interrupt failed: %v", err)
		return false
	}
	return true
}

// SetModel forwards to the active handle, swallowing errors.
func (r *Registry) SetModel(ctx context.Context, name string) bool {
	h := r.Active()
	if h == nil {
		return false
	}
	if err := h.SetModel(ctx, name); err != nil {
		logging.Session("set model failed: %v", err)
		return false
	}
	return true
}

// SetPermissionMode forwards to the active handle, swallowing errors.
func (r *Registry) SetPermissionMode(ctx context.Context, mode string) bool {
	h := r.Active()
	if h == nil {
		return false
	}
	if err := h.SetPermissionMode(ctx, mode); err != nil {
		logging.Session("set permission mode failed: %v", err)
		return false
	}
	return true
}

// RewindToTurn forwards to the active handle. Returns nil on any failure;
// handle errors are swallowed, never fatal.
func (r *Registry) RewindToTurn(ctx context.Context, turnID string, dryRun bool) *engine.RewindResult {
	h := r.Active()
	if h == nil {
		return nil
	}
	res, err := h.RewindFiles(ctx, turnID, dryRun)
	if err != nil {
		logging.Session("rewind failed: %v", err)
		return nil
	}
	return res
}
