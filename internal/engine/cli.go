package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"agentrelay/internal/logging"
)

// CLIEngine runs queries by spawning the agent CLI with NDJSON streaming on
// stdout and the stdio control protocol on stdin.
type CLIEngine struct {
	// Binary is the agent CLI executable name or path.
	Binary string
}

// maxStderrTail bounds how much stderr is kept for error messages.
const maxStderrTail = 2048

// Start implements Engine.
func (e *CLIEngine) Start(ctx context.Context, req Request) (Handle, error) {
	binary := e.Binary
	if binary == "" {
		binary = "claude"
	}

	args := buildArgs(req)
	logging.EngineDebug("starting %s %v (dir=%s)", binary, args, req.WorkDir)

	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Dir = req.WorkDir
	if req.Env != nil {
		cmd.Env = req.Env
	}

	stderr := &tailBuffer{limit: maxStderrTail}
	cmd.Stderr = stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", binary, err)
	}

	h := &cliHandle{
		cmd:     cmd,
		stdin:   stdin,
		stderr:  stderr,
		perm:    req.Permission,
		events:  make(chan *Event, 64),
		pending: make(map[string]chan controlResult),
		closed:  make(chan struct{}),
	}

	go h.readLoop(ctx, stdout)

	// The prompt goes over stdin as a user message; stdin stays open for
	// control responses.
	if err := h.writeLine(stdinUserMessage(req.Prompt)); err != nil {
		h.Close()
		return nil, fmt.Errorf("send prompt: %w", err)
	}

	return h, nil
}

// buildArgs constructs the agent CLI argument list from a Request.
func buildArgs(req Request) []string {
	args := []string{
		"--print",
		"--verbose",
		"--output-format", "stream-json",
		"--input-format", "stream-json",
		"--permission-prompt-tool", "stdio",
	}

	mode := req.PermissionMode
	if mode == "" {
		mode = "default"
	}
	args = append(args, "--permission-mode", mode)

	if req.Model != "" {
		args = append(args, "--model", req.Model)
	}
	if req.Resume != "" {
		args = append(args, "--resume", req.Resume)
	} else if req.Continue {
		args = append(args, "--continue")
	}
	if req.SystemPromptAppend != "" {
		args = append(args, "--append-system-prompt", req.SystemPromptAppend)
	}
	if req.Effort != "" {
		args = append(args, "--effort", req.Effort)
	}
	if req.ThinkingBudget > 0 {
		args = append(args, "--thinking-budget-tokens", strconv.Itoa(req.ThinkingBudget))
	}
	if req.MaxBudgetUSD > 0 {
		args = append(args, "--max-budget-usd", strconv.FormatFloat(req.MaxBudgetUSD, 'f', -1, 64))
	}

	return args
}

func stdinUserMessage(prompt string) map[string]any {
	return map[string]any{
		"type": "user",
		"message": map[string]any{
			"role": "user",
			"content": []map[string]any{
				{"type": "text", "text": prompt},
			},
		},
	}
}

// controlResult is one answer to an outbound control request.
type controlResult struct {
	payload json.RawMessage
	err     error
}

// cliHandle is the Handle for one agent CLI subprocess.
type cliHandle struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr *tailBuffer
	perm   PermissionFunc

	stdinMu sync.Mutex

	events chan *Event

	pendingMu sync.Mutex
	pending   map[string]chan controlResult

	closeOnce sync.Once
	closed    chan struct{}

	exitMu  sync.Mutex
	exitErr error
}

// Next implements Handle.
func (h *cliHandle) Next(ctx context.Context) (*Event, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case ev, ok := <-h.events:
		if !ok {
			return nil, h.streamErr()
		}
		return ev, nil
	}
}

// streamErr reports how the stream ended: io.EOF for a clean end, ErrAborted
// for interrupt/kill, otherwise the wrapped exit failure.
func (h *cliHandle) streamErr() error {
	h.exitMu.Lock()
	defer h.exitMu.Unlock()
	if h.exitErr == nil {
		return io.EOF
	}
	return h.exitErr
}

func (h *cliHandle) setExit(err error) {
	h.exitMu.Lock()
	h.exitErr = err
	h.exitMu.Unlock()
}

// readLoop reads NDJSON lines from the subprocess until it exits.
func (h *cliHandle) readLoop(ctx context.Context, stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 1024*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var sl streamLine
		if err := json.Unmarshal(line, &sl); err != nil {
			logging.EngineDebug("unparseable line: %v", err)
			continue
		}

		switch sl.Type {
		case "control_request":
			// Answered off the read loop: a permission decision may block
			// on an interactive question while the stream stays live.
			reqCopy := make(json.RawMessage, len(sl.Request))
			copy(reqCopy, sl.Request)
			go h.answerControlRequest(ctx, sl.RequestID, reqCopy)
		case "control_response":
			h.routeControlResponse(sl.Response)
		default:
			ev, err := DecodeEvent(line)
			if err != nil || ev == nil {
				continue
			}
			select {
			case h.events <- ev:
			case <-h.closed:
				return
			}
		}
	}

	waitErr := h.cmd.Wait()
	h.setExit(classifyExit(ctx, waitErr, h.stderr.String()))
	h.failPending()
	close(h.events)
}

// classifyExit maps a subprocess exit to the engine error taxonomy.
func classifyExit(ctx context.Context, waitErr error, stderrTail string) error {
	if waitErr == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ErrAborted
	}
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) && exitErr.ExitCode() == -1 {
		// Killed by signal: treated as an abort, not a failure.
		return ErrAborted
	}
	if stderrTail != "" {
		return fmt.Errorf("agent exited: %w: %s", waitErr, stderrTail)
	}
	return fmt.Errorf("agent exited: %w", waitErr)
}

// answerControlRequest handles an inbound can_use_tool request.
func (h *cliHandle) answerControlRequest(ctx context.Context, requestID string, request json.RawMessage) {
	var req struct {
		Subtype   string          `json:"subtype"`
		ToolName  string          `json:"tool_name"`
		Input     json.RawMessage `json:"input"`
		ToolUseID string          `json:"tool_use_id"`
	}
	if err := json.Unmarshal(request, &req); err != nil || req.Subtype != "can_use_tool" {
		return
	}

	decision := PermissionDecision{Message: "no permission gate installed"}
	if h.perm != nil {
		decision = h.perm(ctx, req.ToolName, req.Input, req.ToolUseID)
	}

	inner := map[string]any{}
	if decision.Allow {
		inner["behavior"] = "allow"
		if decision.UpdatedInput != nil {
			inner["updatedInput"] = decision.UpdatedInput
		}
	} else {
		inner["behavior"] = "deny"
		inner["message"] = decision.Message
	}

	resp := map[string]any{
		"type": "control_response",
		"response": map[string]any{
			"subtype":    "success",
			"request_id": requestID,
			"response":   inner,
		},
	}
	if err := h.writeLine(resp); err != nil {
		logging.EngineDebug("control response write failed: %v", err)
	}
}

// routeControlResponse delivers a response to the waiting control caller.
func (h *cliHandle) routeControlResponse(response json.RawMessage) {
	var resp struct {
		Subtype   string          `json:"subtype"`
		RequestID string          `json:"request_id"`
		Response  json.RawMessage `json:"response"`
		Error     string          `json:"error"`
	}
	if err := json.Unmarshal(response, &resp); err != nil {
		return
	}

	h.pendingMu.Lock()
	ch, ok := h.pending[resp.RequestID]
	delete(h.pending, resp.RequestID)
	h.pendingMu.Unlock()
	if !ok {
		return
	}

	if resp.Subtype == "error" {
		ch <- controlResult{err: fmt.Errorf("%w: %s", ErrNotSupported, resp.Error)}
		return
	}
	ch <- controlResult{payload: resp.Response}
}

// failPending unblocks control callers when the process exits.
func (h *cliHandle) failPending() {
	h.pendingMu.Lock()
	defer h.pendingMu.Unlock()
	for id, ch := range h.pending {
		ch <- controlResult{err: ErrNoSession}
		delete(h.pending, id)
	}
}

// control sends one outbound control request and waits for its response.
func (h *cliHandle) control(ctx context.Context, subtype string, fields map[string]any) (json.RawMessage, error) {
	id := uuid.NewString()
	request := map[string]any{"subtype": subtype}
	for k, v := range fields {
		request[k] = v
	}

	ch := make(chan controlResult, 1)
	h.pendingMu.Lock()
	h.pending[id] = ch
	h.pendingMu.Unlock()

	msg := map[string]any{
		"type":       "control_request",
		"request_id": id,
		"request":    request,
	}
	if err := h.writeLine(msg); err != nil {
		h.pendingMu.Lock()
		delete(h.pending, id)
		h.pendingMu.Unlock()
		return nil, fmt.Errorf("%w: %v", ErrNoSession, err)
	}

	select {
	case <-ctx.Done():
		h.pendingMu.Lock()
		delete(h.pending, id)
		h.pendingMu.Unlock()
		return nil, ctx.Err()
	case <-h.closed:
		return nil, ErrNoSession
	case res := <-ch:
		return res.payload, res.err
	}
}

// Interrupt implements Handle. Falls back to SIGINT when the control
// channel is unusable.
func (h *cliHandle) Interrupt(ctx context.Context) error {
	_, err := h.control(ctx, "interrupt", nil)
	if err != nil && h.cmd.Process != nil {
		if sigErr := h.cmd.Process.Signal(os.Interrupt); sigErr == nil {
			return nil
		}
	}
	return err
}

// SetModel implements Handle.
func (h *cliHandle) SetModel(ctx context.Context, name string) error {
	fields := map[string]any{}
	if name != "" {
		fields["model"] = name
	}
	_, err := h.control(ctx, "set_model", fields)
	return err
}

// SetPermissionMode implements Handle.
func (h *cliHandle) SetPermissionMode(ctx context.Context, mode string) error {
	_, err := h.control(ctx, "set_permission_mode", map[string]any{"mode": mode})
	return err
}

// RewindFiles implements Handle.
func (h *cliHandle) RewindFiles(ctx context.Context, turnID string, dryRun bool) (*RewindResult, error) {
	payload, err := h.control(ctx, "rewind_files", map[string]any{
		"user_message_id": turnID,
		"dry_run":         dryRun,
	})
	if err != nil {
		return nil, err
	}
	var res RewindResult
	if err := json.Unmarshal(payload, &res); err != nil {
		return nil, fmt.Errorf("decode rewind result: %w", err)
	}
	res.DryRun = dryRun
	return &res, nil
}

// AccountInfo implements Handle.
func (h *cliHandle) AccountInfo(ctx context.Context) (map[string]any, error) {
	return h.controlMap(ctx, "account_info")
}

// SupportedModels implements Handle.
func (h *cliHandle) SupportedModels(ctx context.Context) ([]string, error) {
	payload, err := h.control(ctx, "supported_models", nil)
	if err != nil {
		return nil, err
	}
	var res struct {
		Models []string `json:"models"`
	}
	if err := json.Unmarshal(payload, &res); err != nil {
		return nil, fmt.Errorf("decode models: %w", err)
	}
	return res.Models, nil
}

// ToolServerStatus implements Handle.
func (h *cliHandle) ToolServerStatus(ctx context.Context) (map[string]any, error) {
	return h.controlMap(ctx, "mcp_server_status")
}

func (h *cliHandle) controlMap(ctx context.Context, subtype string) (map[string]any, error) {
	payload, err := h.control(ctx, subtype, nil)
	if err != nil {
		return nil, err
	}
	var res map[string]any
	if err := json.Unmarshal(payload, &res); err != nil {
		return nil, fmt.Errorf("decode %s: %w", subtype, err)
	}
	return res, nil
}

// Close implements Handle. Safe to call more than once.
func (h *cliHandle) Close() error {
	h.closeOnce.Do(func() {
		close(h.closed)
		h.stdin.Close()
		if h.cmd.Process != nil {
			h.cmd.Process.Kill()
		}
	})
	return nil
}

// writeLine marshals v and writes it as one NDJSON line to stdin.
func (h *cliHandle) writeLine(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.stdinMu.Lock()
	defer h.stdinMu.Unlock()
	_, err = h.stdin.Write(append(data, '\n'))
	return err
}

// tailBuffer keeps only the last `limit` bytes written.
type tailBuffer struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	limit int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf.Write(p)
	if t.buf.Len() > t.limit {
		data := t.buf.Bytes()
		trimmed := make([]byte, t.limit)
		copy(trimmed, data[len(data)-t.limit:])
		t.buf.Reset()
		t.buf.Write(trimmed)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buf.String()
}
