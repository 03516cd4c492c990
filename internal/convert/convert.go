// Package convert maps raw Agent Engine events to the small closed set of
// display messages the dispatch layer knows how to render. Conversion is
// pure: no errors, no side effects; malformed or empty input degrades to an
// empty result.
package convert

import (
	"encoding/json"
	"strings"

	"agentrelay/internal/engine"
)

// Kind is the display kind of a converted message.
type Kind string

const (
	KindText       Kind = "text"
	KindToolUse    Kind = "tool_use"
	KindThinking   Kind = "thinking"
	KindToolResult Kind = "tool_result"
	KindSystem     Kind = "system"
	KindOther      Kind = "other"
)

// Message is one display record produced from a stream event.
type Message struct {
	Kind    Kind
	Content string
	Meta    map[string]any
}

// FromEvent converts one event into zero or more display messages. Output
// ordering mirrors the input block order; concatenated assistant text takes
// the position of its first text block.
func FromEvent(ev engine.Event) []Message {
	switch ev.Kind {
	case engine.KindAssistant:
		return fromAssistant(ev)
	case engine.KindUser:
		return fromUser(ev)
	case engine.KindSystem:
		return []Message{{
			Kind:    KindSystem,
			Content: ev.Subtype,
			Meta:    map[string]any{"event": ev.Raw},
		}}
	default:
		// Unrecognized kinds (including the terminal summary, which the
		// orchestrator consumes directly) produce no display output.
		return nil
	}
}

func fromAssistant(ev engine.Event) []Message {
	if ev.Message == nil {
		return nil
	}

	var out []Message
	var text strings.Builder
	textAt := -1

	for _, block := range ev.Message.Content {
		switch block.Type {
		case "text":
			if textAt < 0 {
				textAt = len(out)
			}
			text.WriteString(block.Text)
		case "tool_use":
			out = append(out, Message{
				Kind:    KindToolUse,
				Content: block.Name,
				Meta: map[string]any{
					"id":    block.ID,
					"name":  block.Name,
					"input": block.Input,
				},
			})
		case "thinking":
			if block.Thinking == "" {
				continue
			}
			out = append(out, Message{
				Kind:    KindThinking,
				Content: block.Thinking,
			})
		default:
			out = append(out, Message{
				Kind:    KindOther,
				Content: serializeBlock(block),
			})
		}
	}

	// A run of empty text blocks produces no message.
	if textAt >= 0 && text.Len() > 0 {
		msg := Message{Kind: KindText, Content: text.String()}
		out = append(out[:textAt], append([]Message{msg}, out[textAt:]...)...)
	}

	return out
}

func fromUser(ev engine.Event) []Message {
	if ev.Message == nil {
		return nil
	}

	var out []Message
	for _, block := range ev.Message.Content {
		switch block.Type {
		case "tool_result":
			out = append(out, Message{
				Kind:    KindToolResult,
				Content: resultText(block.Content),
				Meta: map[string]any{
					"tool_use_id": block.ToolUseID,
					"is_error":    block.IsError,
				},
			})
		default:
			out = append(out, Message{
				Kind:    KindOther,
				Content: serializeBlock(block),
			})
		}
	}
	return out
}

// resultText extracts textual content from a tool result, defaulting to the
// serialized JSON when no textual content is present.
func resultText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var blocks []engine.ContentBlock
	if err := json.Unmarshal(raw, &blocks); err == nil {
		var b strings.Builder
		for _, blk := range blocks {
			if blk.Type == "text" {
				b.WriteString(blk.Text)
			}
		}
		if b.Len() > 0 {
			return b.String()
		}
	}

	return string(raw)
}

func serializeBlock(block engine.ContentBlock) string {
	data, err := json.Marshal(block)
	if err != nil {
		return ""
	}
	return string(data)
}
