package session

import (
	"sort"
	"sync"
	"time"
)

// Meta is the longer-lived bookkeeping for one engine session, kept
// separately from per-query results.
type Meta struct {
	SessionID    string
	FirstSeen    time.Time
	LastSeen     time.Time
	TurnCount    int
	TotalCostUSD float64
}

// Table holds session metadata keyed by session id. Entries are created on
// first use, updated on each turn, and deleted after the retention window
// or on explicit deletion.
type Table struct {
	mu        sync.Mutex
	entries   map[string]*Meta
	retention time.Duration
	now       func() time.Time
}

// NewTable creates a table with the given retention window.
func NewTable(retention time.Duration) *Table {
	return &Table{
		entries:   make(map[string]*Meta),
		retention: retention,
		now:       time.Now,
	}
}

// Touch records one completed turn for the session, creating the entry on
// first use. Expired entries are pruned opportunistically.
func (t *Table) Touch(sessionID string, costUSD float64) {
	if sessionID == "" {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	m, ok := t.entries[sessionID]
	if !ok {
		m = &Meta{SessionID: sessionID, FirstSeen: now}
		t.entries[sessionID] = m
	}
	m.LastSeen = now
	m.TurnCount++
	m.TotalCostUSD += costUSD

	t.pruneLocked(now)
}

// Get returns a copy of the session's metadata.
func (t *Table) Get(sessionID string) (Meta, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.entries[sessionID]
	if !ok {
		return Meta{}, false
	}
	return *m, true
}

// Delete removes a session's metadata. Returns false when absent.
func (t *Table) Delete(sessionID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.entries[sessionID]
	delete(t.entries, sessionID)
	return ok
}

// Prune removes entries idle longer than the retention window.
func (t *Table) Prune() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pruneLocked(t.now())
}

func (t *Table) pruneLocked(now time.Time) int {
	if t.retention <= 0 {
		return 0
	}
	removed := 0
	for id, m := range t.entries {
		if now.Sub(m.LastSeen) > t.retention {
			delete(t.entries, id)
			removed++
		}
	}
	return removed
}

// Snapshot returns all entries, most recently used first.
func (t *Table) Snapshot() []Meta {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]Meta, 0, len(t.entries))
	for _, m := range t.entries {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastSeen.After(out[j].LastSeen)
	})
	return out
}
