// Package crash collects component failures in a bounded in-memory ring
// buffer for statistics and inspection. Reporting never escalates; a full
// buffer drops the oldest entries.
package crash

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"agentrelay/internal/logging"
)

// maxReports bounds the ring buffer.
const maxReports = 100

// Report is one recorded failure.
type Report struct {
	ID          string
	Time        time.Time
	Category    string
	ProcessID   string
	Err         string
	Context     string
	Recoverable bool
}

// Stats summarizes the buffer contents.
type Stats struct {
	Total       int
	Recoverable int
	ByCategory  map[string]int
	Oldest      time.Time
	Newest      time.Time
}

// Reporter is the bounded crash log. Safe for concurrent use.
type Reporter struct {
	mu      sync.Mutex
	reports []Report
	now     func() time.Time
}

// NewReporter creates an empty reporter.
func NewReporter() *Reporter {
	return &Reporter{now: time.Now}
}

// Report appends a failure record, evicting the oldest entry when full.
func (r *Reporter) Report(category, processID string, err error, context string, recoverable bool) {
	if err == nil {
		return
	}

	rep := Report{
		ID:          uuid.NewString(),
		Time:        r.now(),
		Category:    category,
		ProcessID:   processID,
		Err:         err.Error(),
		Context:     context,
		Recoverable: recoverable,
	}
	logging.Crash("[%s] %s: %s (recoverable=%v)", category, processID, rep.Err, recoverable)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, rep)
	if len(r.reports) > maxReports {
		r.reports = r.reports[len(r.reports)-maxReports:]
	}
}

// Recent returns up to n reports, newest first.
func (r *Reporter) Recent(n int) []Report {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n <= 0 || n > len(r.reports) {
		n = len(r.reports)
	}
	out := make([]Report, 0, n)
	for i := len(r.reports) - 1; i >= len(r.reports)-n; i-- {
		out = append(out, r.reports[i])
	}
	return out
}

// Prune drops reports older than maxAge. Returns the number removed.
func (r *Reporter) Prune(maxAge time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := r.now().Add(-maxAge)
	kept := r.reports[:0]
	removed := 0
	for _, rep := range r.reports {
		if rep.Time.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, rep)
	}
	r.reports = kept
	return removed
}

// Stats computes summary statistics over the buffer.
func (r *Reporter) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Stats{ByCategory: make(map[string]int)}
	for _, rep := range r.reports {
		s.Total++
		if rep.Recoverable {
			s.Recoverable++
		}
		s.ByCategory[rep.Category]++
		if s.Oldest.IsZero() || rep.Time.Before(s.Oldest) {
			s.Oldest = rep.Time
		}
		if rep.Time.After(s.Newest) {
			s.Newest = rep.Time
		}
	}
	return s
}
