package bus

import (
	"context"
	"fmt"
	"io"
	"strings"
)

// Console renders display records as plain text on a writer. It is the
// in-repo reference surface used by `relay run` when no chat renderer is
// attached.
type Console struct {
	W io.Writer
}

// SendMessage implements Surface.
func (c *Console) SendMessage(_ context.Context, content Content) error {
	switch content.Kind {
	case KindText:
		_, err := fmt.Fprintln(c.W, content.Text)
		return err
	case KindPanel:
		var b strings.Builder
		if content.IsErr {
			b.WriteString("!! ")
		}
		if content.Title != "" {
			b.WriteString(content.Title)
			b.WriteString("\n")
			b.WriteString(strings.Repeat("-", len(content.Title)))
			b.WriteString("\n")
		}
		if content.Text != "" {
			b.WriteString(content.Text)
			b.WriteString("\n")
		}
		for _, f := range content.Fields {
			fmt.Fprintf(&b, "%s: %s\n", f.Name, f.Value)
		}
		_, err := fmt.Fprint(c.W, b.String())
		return err
	case KindButtons:
		var b strings.Builder
		b.WriteString(content.Text)
		for _, btn := range content.Buttons {
			fmt.Fprintf(&b, " [%s]", btn.Label)
		}
		b.WriteString("\n")
		_, err := fmt.Fprint(c.W, b.String())
		return err
	default:
		return fmt.Errorf("unknown content kind %q", content.Kind)
	}
}
