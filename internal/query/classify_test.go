package query

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"agentrelay/internal/engine"
)

func TestClassify(t *testing.T) {
	bg := context.Background()

	cases := []struct {
		name string
		ctx  context.Context
		err  error
		want Class
	}{
		{"abort sentinel", bg, engine.ErrAborted, ClassCancelled},
		{"wrapped abort", bg, fmt.Errorf("next: %w", engine.ErrAborted), ClassCancelled},
		{"context canceled", bg, context.Canceled, ClassCancelled},
		{"rate limit phrase", bg, errors.New("API Rate Limit reached"), ClassRateLimited},
		{"http 429", bg, errors.New("server returned 429"), ClassRateLimited},
		{"overloaded", bg, errors.New("overloaded_error"), ClassRateLimited},
		{"bare exit 1", bg, errors.New("exit status 1"), ClassRateLimited},
		{"anything else", bg, errors.New("permission denied"), ClassFatal},
		{"nil error", bg, nil, ClassFatal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.ctx, tc.err))
		})
	}
}

func TestClassify_CancelledContextWinsOverMessage(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	got := Classify(ctx, errors.New("killed: rate limit reached"))
	assert.Equal(t, ClassCancelled, got)
}
