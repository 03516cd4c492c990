// Package engine abstracts the external Agent Engine: an async sequence of
// typed events plus a handful of optional control methods. The concrete
// implementation spawns the agent CLI subprocess and speaks its NDJSON
// stream protocol; callers only see Engine and Handle.
package engine

import (
	"context"
	"encoding/json"
	"errors"
)

var (
	// ErrAborted is returned when the subprocess was terminated by an
	// interrupt or cancellation rather than a failure.
	ErrAborted = errors.New("engine: query aborted")

	// ErrNotSupported is returned by control methods the active engine
	// cannot serve. Callers must degrade to a boolean/null result.
	ErrNotSupported = errors.New("engine: control method not supported")

	// ErrNoSession is returned by control methods when no session is active.
	ErrNoSession = errors.New("engine: no active session")
)

// PermissionDecision is the gate's answer to one tool invocation.
type PermissionDecision struct {
	Allow bool

	// UpdatedInput optionally replaces the tool input when allowed.
	UpdatedInput json.RawMessage

	// Message explains a denial to the agent.
	Message string
}

// PermissionFunc decides whether one tool invocation may proceed. A nil
// func denies everything.
type PermissionFunc func(ctx context.Context, toolName string, input json.RawMessage, toolUseID string) PermissionDecision

// Request describes one query against the Agent Engine.
type Request struct {
	WorkDir string
	Prompt  string

	// Resume continues a previous session by id. Continue resumes the most
	// recent session in WorkDir. Mutually exclusive; Resume wins.
	Resume   string
	Continue bool

	Model          string
	PermissionMode string

	// Effort and ThinkingBudget tune reasoning. Zero values are omitted.
	Effort         string
	ThinkingBudget int

	// MaxBudgetUSD caps spend for the query. Zero means no cap.
	MaxBudgetUSD float64

	// SystemPromptAppend is appended to the engine's system prompt.
	SystemPromptAppend string

	// Env is the full subprocess environment (see BuildEnv).
	Env []string

	// Permission gates tool use. Nil fails closed.
	Permission PermissionFunc
}

// RewindResult reports the outcome of a file rewind.
type RewindResult struct {
	FilesRestored int    `json:"files_restored"`
	DryRun        bool   `json:"dry_run"`
	Message       string `json:"message,omitempty"`
}

// Handle is one in-flight query: an event iterator plus optional-capability
// control methods.
type Handle interface {
	// Next returns the next stream event, io.EOF at normal end of stream,
	// or ErrAborted when the query was interrupted.
	Next(ctx context.Context) (*Event, error)

	Interrupt(ctx context.Context) error
	SetModel(ctx context.Context, name string) error
	SetPermissionMode(ctx context.Context, mode string) error
	RewindFiles(ctx context.Context, turnID string, dryRun bool) (*RewindResult, error)
	AccountInfo(ctx context.Context) (map[string]any, error)
	SupportedModels(ctx context.Context) ([]string, error)
	ToolServerStatus(ctx context.Context) (map[string]any, error)

	// Close terminates the subprocess and releases resources.
	Close() error
}

// Engine starts queries.
type Engine interface {
	Start(ctx context.Context, req Request) (Handle, error)
}
