// Package bus defines the neutral display records exchanged between the
// dispatch layer and the Messaging Surface. The orchestrator and converter
// never construct platform-specific objects; a renderer (out of tree) maps
// these records to the surface's native format.
package bus

import "context"

// Kind identifies the display shape of an outgoing message.
type Kind string

const (
	KindText    Kind = "text"
	KindPanel   Kind = "panel"
	KindButtons Kind = "buttons"
)

// Field is one labeled value inside a panel.
type Field struct {
	Name   string
	Value  string
	Inline bool
}

// Button is one interactive button. ID comes back as the interaction name.
type Button struct {
	ID    string
	Label string
}

// Content is one outgoing display record.
type Content struct {
	Kind Kind

	// Text body. For panels this is the description line.
	Text string

	// Panel fields (KindPanel only).
	Title  string
	Fields []Field
	IsErr  bool

	// Buttons (KindButtons only).
	Buttons []Button
}

// Surface is the Messaging Surface consumed by the dispatch layer.
type Surface interface {
	SendMessage(ctx context.Context, c Content) error
}

// Text builds a plain text record.
func Text(s string) Content {
	return Content{Kind: KindText, Text: s}
}

// Panel builds a rich panel record.
func Panel(title, body string, fields ...Field) Content {
	return Content{Kind: KindPanel, Title: title, Text: body, Fields: fields}
}

// ErrorPanel builds a plainly labeled error panel. Message text only, never
// stack traces.
func ErrorPanel(body string) Content {
	return Content{Kind: KindPanel, Title: "Error", Text: body, IsErr: true}
}

// Buttons builds an interactive button row.
func Buttons(text string, buttons ...Button) Content {
	return Content{Kind: KindButtons, Text: text, Buttons: buttons}
}
