package query

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"agentrelay/internal/engine"
	"agentrelay/internal/logging"
)

// askTimeout bounds how long a query waits for a human answer to an
// interactive question before denying the tool call.
const askTimeout = 5 * time.Minute

// ToolGate decides tool invocations that are neither the question tool
// nor on the auto-approve list. Callers that pass no gate fail closed.
type ToolGate interface {
	Decide(ctx context.Context, toolName string, input json.RawMessage, toolUseID string) engine.PermissionDecision
}

// Asker answers the agent's interactive questions, typically by posting
// a prompt to the chat surface and waiting for a reply.
type Asker interface {
	Ask(ctx context.Context, question string, options []string) (string, error)
}

// EventSink receives every decoded stream event as it arrives.
type EventSink interface {
	OnEvent(ev engine.Event)
}

// questionInput is the payload shape of the interactive question tool.
type questionInput struct {
	Question string   `json:"question"`
	Prompt   string   `json:"prompt,omitempty"`
	Options  []string `json:"options,omitempty"`
}

// permissionFunc builds the per-query tool gate. Precedence: question
// tool goes to the asker, auto-approved prefixes pass, the caller's
// gate decides the rest, and everything else is denied.
func (o *Orchestrator) permissionFunc(opts Options, prefixes []string) engine.PermissionFunc {
	return func(ctx context.Context, toolName string, input json.RawMessage, toolUseID string) engine.PermissionDecision {
		if o.cfg.QuestionTool != "" && toolName == o.cfg.QuestionTool {
			return answerQuestion(ctx, opts.Asker, input)
		}
		for _, p := range prefixes {
			if strings.HasPrefix(toolName, p) {
				logging.QueryDebug("auto-approved tool %s", toolName)
				return engine.PermissionDecision{Allow: true}
			}
		}
		if opts.Gate != nil {
			return opts.Gate.Decide(ctx, toolName, input, toolUseID)
		}
		logging.Query("denied tool %s (not auto-approved, no gate)", toolName)
		return engine.PermissionDecision{
			Message: fmt.Sprintf("tool %q is not on the approved list", toolName),
		}
	}
}

// answerQuestion routes the question tool to the asker and merges the
// answer back into the tool input. No asker, a timeout, or an ask
// failure all deny the call; the query itself keeps running.
func answerQuestion(ctx context.Context, asker Asker, input json.RawMessage) engine.PermissionDecision {
	if asker == nil {
		return engine.PermissionDecision{Message: "no interactive channel available to answer questions"}
	}

	var qi questionInput
	if err := json.Unmarshal(input, &qi); err != nil {
		return engine.PermissionDecision{Message: fmt.Sprintf("unreadable question payload: %v", err)}
	}
	question := qi.Question
	if question == "" {
		question = qi.Prompt
	}

	askCtx, cancel := context.WithTimeout(ctx, askTimeout)
	defer cancel()

	answer, err := asker.Ask(askCtx, question, qi.Options)
	if err != nil {
		logging.Query("question went unanswered: %v", err)
		return engine.PermissionDecision{Message: "the user did not answer in time"}
	}

	var fields map[string]any
	if err := json.Unmarshal(input, &fields); err != nil || fields == nil {
		fields = map[string]any{}
	}
	fields["answer"] = answer
	updated, err := json.Marshal(fields)
	if err != nil {
		return engine.PermissionDecision{Message: fmt.Sprintf("merge answer: %v", err)}
	}
	return engine.PermissionDecision{Allow: true, UpdatedInput: updated}
}
