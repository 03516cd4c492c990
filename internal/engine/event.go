package engine

import "encoding/json"

// Kind identifies the type of a stream event.
type Kind string

const (
	KindAssistant Kind = "assistant"
	KindUser      Kind = "user"
	KindSystem    Kind = "system"
	KindResult    Kind = "result"
)

// ContentBlock is one block inside an assistant or user message.
type ContentBlock struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	Thinking string          `json:"thinking,omitempty"`
	// tool_use fields
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
	// tool_result fields
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

// Message is the message payload of an assistant or user event.
type Message struct {
	Role    string         `json:"role"`
	Content []ContentBlock `json:"content"`
}

// PermissionDenial records one tool invocation the gate rejected during a
// turn. Reported by the engine in the terminal summary event.
type PermissionDenial struct {
	ToolName  string          `json:"tool_name"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	ToolInput json.RawMessage `json:"tool_input,omitempty"`
}

// Event is one typed event from the Agent Engine stream.
type Event struct {
	Kind      Kind
	Subtype   string
	SessionID string

	// UUID identifies the turn for user events; used for file rewind.
	UUID string

	// Message is set for assistant and user events.
	Message *Message

	// Terminal summary fields (result events only). Cost and duration are
	// absent unless the stream produced a terminal summary.
	IsError           bool
	Result            string
	TotalCostUSD      float64
	DurationMS        int64
	PermissionDenials []PermissionDenial

	// Raw is the full undecoded line the event came from.
	Raw json.RawMessage
}

// streamLine is the wire shape of one NDJSON line from the agent CLI.
type streamLine struct {
	Type              string             `json:"type"`
	Subtype           string             `json:"subtype,omitempty"`
	SessionID         string             `json:"session_id,omitempty"`
	UUID              string             `json:"uuid,omitempty"`
	Message           *Message           `json:"message,omitempty"`
	Result            string             `json:"result,omitempty"`
	IsError           bool               `json:"is_error,omitempty"`
	TotalCostUSD      float64            `json:"total_cost_usd,omitempty"`
	DurationMS        int64              `json:"duration_ms,omitempty"`
	PermissionDenials []PermissionDenial `json:"permission_denials,omitempty"`
	// control protocol fields
	RequestID string          `json:"request_id,omitempty"`
	Request   json.RawMessage `json:"request,omitempty"`
	Response  json.RawMessage `json:"response,omitempty"`
}

// DecodeEvent parses one NDJSON line into an Event. Lines that are not
// stream events (control traffic, unparseable data) return (nil, nil).
func DecodeEvent(line []byte) (*Event, error) {
	var sl streamLine
	if err := json.Unmarshal(line, &sl); err != nil {
		return nil, err
	}

	switch sl.Type {
	case "assistant", "user", "system", "result":
	default:
		// Control traffic and unknown types are not stream events.
		return nil, nil
	}

	raw := make(json.RawMessage, len(line))
	copy(raw, line)

	return &Event{
		Kind:              Kind(sl.Type),
		Subtype:           sl.Subtype,
		SessionID:         sl.SessionID,
		UUID:              sl.UUID,
		Message:           sl.Message,
		IsError:           sl.IsError,
		Result:            sl.Result,
		TotalCostUSD:      sl.TotalCostUSD,
		DurationMS:        sl.DurationMS,
		PermissionDenials: sl.PermissionDenials,
		Raw:               raw,
	}, nil
}
