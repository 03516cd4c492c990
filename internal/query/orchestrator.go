// Package query runs one end-to-end interaction against the Agent
// Engine: session id normalization, tool gating, event accumulation,
// turn tracking, and the single rate-limit retry. The orchestrator is
// the only writer of the session registry's active handle.
package query

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"agentrelay/internal/config"
	"agentrelay/internal/crash"
	"agentrelay/internal/engine"
	"agentrelay/internal/logging"
	"agentrelay/internal/mcp"
	"agentrelay/internal/session"
)

// Options describes one query. Gate, Asker, and Sink are optional
// capabilities; a nil Gate fails closed, a nil Asker denies questions,
// a nil Sink drops events.
type Options struct {
	WorkDir string
	Prompt  string

	// Resume continues a named session; Continue resumes the most recent
	// one in WorkDir. Resume wins when both are set.
	Resume   string
	Continue bool

	Model          string
	PermissionMode string
	Effort         string
	ThinkingBudget int
	MaxBudgetUSD   float64

	SystemPromptAppend string

	Gate  ToolGate
	Asker Asker
	Sink  EventSink
}

// Result is the terminal summary of a query. A cancelled query yields
// Cancelled=true with no text and no session id, and is never an error.
type Result struct {
	Text       string
	SessionID  string
	Model      string
	CostUSD    float64
	DurationMS int64
	Denials    []engine.PermissionDenial
	Cancelled  bool
}

// Orchestrator wires the engine to the registry, session table, and
// crash reporter. One instance serves the whole process.
type Orchestrator struct {
	engine   engine.Engine
	registry *session.Registry
	table    *session.Table
	crashes  *crash.Reporter
	cfg      config.EngineConfig
}

// New builds an orchestrator. All collaborators are required.
func New(eng engine.Engine, reg *session.Registry, table *session.Table, crashes *crash.Reporter, cfg config.EngineConfig) *Orchestrator {
	return &Orchestrator{
		engine:   eng,
		registry: reg,
		table:    table,
		crashes:  crashes,
		cfg:      cfg,
	}
}

// Run executes one query to completion. Starting a run replaces any
// active query. Rate-limit shaped failures are retried exactly once on
// the configured fallback model; cancellation is reported in the
// Result, never as an error.
func (o *Orchestrator) Run(ctx context.Context, opts Options) (*Result, error) {
	opts.Resume = CleanSessionID(opts.Resume)

	prefixes := o.approvedPrefixes(opts.WorkDir)

	model := opts.Model
	if model == "" {
		model = o.cfg.DefaultModel
	}

	res, err := o.attempt(ctx, opts, model, prefixes)
	if err == nil {
		return res, nil
	}

	switch Classify(ctx, err) {
	case ClassCancelled:
		return &Result{Model: model, Cancelled: true}, nil
	case ClassRateLimited:
		fallback := o.cfg.FallbackModel
		if fallback == "" || fallback == model {
			o.crashes.Report("engine", "", err, "query (no fallback model)", true)
			return nil, err
		}
		logging.QueryWarn("rate-limited on %s, retrying once with %s: %v", model, fallback, err)

		res, retryErr := o.attempt(ctx, opts, fallback, prefixes)
		if retryErr == nil {
			return res, nil
		}
		if Classify(ctx, retryErr) == ClassCancelled {
			return &Result{Model: fallback, Cancelled: true}, nil
		}
		o.crashes.Report("engine", "", retryErr, "query retry", true)
		return nil, fmt.Errorf("retry with %s failed: %w", fallback, retryErr)
	default:
		o.crashes.Report("engine", "", err, "query", true)
		return nil, err
	}
}

// attempt runs one engine query on a fixed model. It installs the
// handle as the registry's active query and clears it on the way out
// unless a newer query has already replaced it.
func (o *Orchestrator) attempt(ctx context.Context, opts Options, model string, prefixes []string) (*Result, error) {
	req := engine.Request{
		WorkDir:            opts.WorkDir,
		Prompt:             opts.Prompt,
		Resume:             opts.Resume,
		Continue:           opts.Continue,
		Model:              model,
		PermissionMode:     o.permissionMode(opts),
		Effort:             opts.Effort,
		ThinkingBudget:     opts.ThinkingBudget,
		MaxBudgetUSD:       opts.MaxBudgetUSD,
		SystemPromptAppend: opts.SystemPromptAppend,
		Env:                engine.BuildEnv(o.cfg.ProxyURL, o.cfg.FeatureFlags, nil),
		Permission:         o.permissionFunc(opts, prefixes),
	}

	queryCtx, cancel := context.WithCancel(ctx)
	h, err := o.engine.Start(queryCtx, req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("start query: %w", err)
	}

	o.registry.SetActive(h, cancel)
	defer o.registry.ClearIf(h)

	res := &Result{Model: model}
	for {
		// Cancellation wins over any buffered events.
		if queryCtx.Err() != nil {
			return &Result{Model: model, Cancelled: true}, nil
		}

		ev, err := h.Next(queryCtx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if Classify(queryCtx, err) == ClassCancelled {
				return &Result{Model: model, Cancelled: true}, nil
			}
			return nil, err
		}

		if opts.Sink != nil {
			opts.Sink.OnEvent(*ev)
		}
		if ev.SessionID != "" {
			res.SessionID = ev.SessionID
		}

		switch ev.Kind {
		case engine.KindAssistant:
			if text := assistantText(ev); text != "" {
				res.Text = text
			}
		case engine.KindUser:
			if ev.UUID != "" {
				o.registry.TrackTurn(ev.UUID, turnSummary(ev))
			}
		case engine.KindResult:
			if ev.IsError {
				return nil, fmt.Errorf("engine reported failure: %s", ev.Result)
			}
			res.CostUSD = ev.TotalCostUSD
			res.DurationMS = ev.DurationMS
			res.Denials = dedupeDenials(ev.PermissionDenials)
		}
	}

	if res.SessionID != "" {
		o.table.Touch(res.SessionID, res.CostUSD)
	}
	logging.Query("query finished: session=%s model=%s cost=$%.4f denials=%d",
		res.SessionID, model, res.CostUSD, len(res.Denials))
	return res, nil
}

// approvedPrefixes resolves the auto-approve list for a workdir. A
// config load failure only loses auto-approval; the gate still works.
func (o *Orchestrator) approvedPrefixes(workDir string) []string {
	cfg, err := mcp.Load(workDir)
	if err != nil {
		logging.Query("tool server config unreadable, auto-approve reduced to config list: %v", err)
		cfg = &mcp.Config{}
	}
	return cfg.AutoApprovePrefixes(o.cfg.AutoApprove)
}

func (o *Orchestrator) permissionMode(opts Options) string {
	if opts.PermissionMode != "" {
		return opts.PermissionMode
	}
	return o.cfg.PermissionMode
}

// assistantText concatenates the text blocks of an assistant event.
func assistantText(ev *engine.Event) string {
	if ev.Message == nil {
		return ""
	}
	var parts []string
	for _, b := range ev.Message.Content {
		if b.Type == "text" && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// turnSummary yields a short label for the turn list shown to users.
func turnSummary(ev *engine.Event) string {
	if ev.Message == nil {
		return ""
	}
	for _, b := range ev.Message.Content {
		if b.Type == "text" && b.Text != "" {
			return truncate(strings.TrimSpace(b.Text), 80)
		}
		if b.Type == "tool_result" {
			return "tool result"
		}
	}
	return ""
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// dedupeDenials keeps the first denial per tool name, preserving order.
func dedupeDenials(in []engine.PermissionDenial) []engine.PermissionDenial {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(in))
	out := make([]engine.PermissionDenial, 0, len(in))
	for _, d := range in {
		if seen[d.ToolName] {
			continue
		}
		seen[d.ToolName] = true
		out = append(out, d)
	}
	return out
}
