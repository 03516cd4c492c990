package dispatch

import (
	"context"
	"errors"
	"fmt"

	"agentrelay/internal/bus"
)

func (d *Dispatcher) handleCancelButton(ctx context.Context, _ Interaction) error {
	if !d.registry.Interrupt(ctx) {
		return errNoActiveQuery
	}
	return d.reply(ctx, bus.Text("Cancel requested."))
}

// handleRewindConfirm performs the rewind that /rewind previewed. The
// turn id arrives as the button payload.
func (d *Dispatcher) handleRewindConfirm(ctx context.Context, in Interaction) error {
	if len(in.Args) == 0 || in.Args[0] == "" {
		return errors.New("rewind button carried no turn id")
	}
	turnID := in.Args[0]

	res := d.registry.RewindToTurn(ctx, turnID, false)
	if res == nil {
		return errors.New("rewind failed (no active session or not supported)")
	}
	body := fmt.Sprintf("Restored %d file(s).", res.FilesRestored)
	if res.Message != "" {
		body += " " + res.Message
	}
	return d.reply(ctx, bus.Panel("Rewind complete", body))
}
