package query

import (
	"context"
	"errors"
	"strings"

	"agentrelay/internal/engine"
)

// Class buckets a failed query for the retry policy.
type Class int

const (
	// ClassFatal is any failure that is neither a cancellation nor
	// rate-limit shaped. No retry.
	ClassFatal Class = iota

	// ClassCancelled means the user or a replacing query aborted the
	// stream. Never surfaced as an error.
	ClassCancelled

	// ClassRateLimited means the failure looks like provider throttling
	// and earns exactly one retry on the fallback model.
	ClassRateLimited
)

// rateLimitMarkers are substrings that mark a failure as rate-limit
// shaped. "exit status 1" is included because the agent CLI exits with
// code 1 on usage-limit errors without a distinct message.
var rateLimitMarkers = []string{
	"rate limit",
	"rate_limit",
	"429",
	"overloaded",
	"usage limit",
	"exit status 1",
}

// Classify buckets err. Cancellation is checked first so an aborted
// subprocess whose stderr happens to mention a limit is still treated
// as cancelled.
func Classify(ctx context.Context, err error) Class {
	if err == nil {
		return ClassFatal
	}
	if ctx.Err() != nil ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, engine.ErrAborted) {
		return ClassCancelled
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range rateLimitMarkers {
		if strings.Contains(msg, marker) {
			return ClassRateLimited
		}
	}
	return ClassFatal
}
