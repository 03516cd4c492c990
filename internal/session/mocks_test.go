package session

import (
	"context"
	"errors"
	"io"
	"sync/atomic"

	"agentrelay/internal/engine"
)

// fakeHandle implements engine.Handle for registry tests. Control calls
// fail when failControls is set.
type fakeHandle struct {
	failControls bool

	interrupts atomic.Int32
	closes     atomic.Int32
	lastModel  string
	lastMode   string
}

var errControlBroken = errors.New("control channel broken")

func (f *fakeHandle) Next(ctx context.Context) (*engine.Event, error) {
	return nil, io.EOF
}

func (f *fakeHandle) Interrupt(ctx context.Context) error {
	f.interrupts.Add(1)
	if f.failControls {
		return errControlBroken
	}
	return nil
}

func (f *fakeHandle) SetModel(ctx context.Context, name string) error {
	if f.failControls {
		return errControlBroken
	}
	f.lastModel = name
	return nil
}

func (f *fakeHandle) SetPermissionMode(ctx context.Context, mode string) error {
	if f.failControls {
		return errControlBroken
	}
	f.lastMode = mode
	return nil
}

func (f *fakeHandle) RewindFiles(ctx context.Context, turnID string, dryRun bool) (*engine.RewindResult, error) {
	if f.failControls {
		return nil, errControlBroken
	}
	return &engine.RewindResult{FilesRestored: 2, DryRun: dryRun}, nil
}

func (f *fakeHandle) AccountInfo(ctx context.Context) (map[string]any, error) {
	if f.failControls {
		return nil, errControlBroken
	}
	return map[string]any{"plan": "test"}, nil
}

func (f *fakeHandle) SupportedModels(ctx context.Context) ([]string, error) {
	if f.failControls {
		return nil, errControlBroken
	}
	return []string{"sonnet", "haiku"}, nil
}

func (f *fakeHandle) ToolServerStatus(ctx context.Context) (map[string]any, error) {
	if f.failControls {
		return nil, errControlBroken
	}
	return map[string]any{}, nil
}

func (f *fakeHandle) Close() error {
	f.closes.Add(1)
	return nil
}
