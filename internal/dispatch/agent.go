package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"agentrelay/internal/bus"
	"agentrelay/internal/convert"
	"agentrelay/internal/engine"
	"agentrelay/internal/query"
)

var errNoActiveQuery = errors.New("no active query")

func (d *Dispatcher) handleAsk(ctx context.Context, in Interaction) error {
	prompt := strings.TrimSpace(strings.Join(in.Args, " "))
	if prompt == "" {
		return errors.New("usage: /ask <prompt>")
	}
	return d.runQuery(ctx, query.Options{WorkDir: d.cfg.WorkDir, Prompt: prompt})
}

func (d *Dispatcher) handleResume(ctx context.Context, in Interaction) error {
	if len(in.Args) < 2 {
		return errors.New("usage: /resume <session-id> <prompt>")
	}
	return d.runQuery(ctx, query.Options{
		WorkDir: d.cfg.WorkDir,
		Resume:  in.Args[0],
		Prompt:  strings.TrimSpace(strings.Join(in.Args[1:], " ")),
	})
}

func (d *Dispatcher) handleContinue(ctx context.Context, in Interaction) error {
	prompt := strings.TrimSpace(strings.Join(in.Args, " "))
	if prompt == "" {
		return errors.New("usage: /continue <prompt>")
	}
	return d.runQuery(ctx, query.Options{WorkDir: d.cfg.WorkDir, Prompt: prompt, Continue: true})
}

// runQuery drives one query and renders its outcome. Tool activity is
// streamed as it happens; the final text arrives as one message.
func (d *Dispatcher) runQuery(ctx context.Context, opts query.Options) error {
	if err := d.reply(ctx, bus.Buttons("Working on it…", bus.Button{ID: "cancel-query", Label: "Cancel"})); err != nil {
		return err
	}

	opts.Sink = &progressSink{d: d, ctx: ctx}
	res, err := d.runner.Run(ctx, opts)
	if err != nil {
		return err
	}
	return d.sendResult(ctx, res)
}

func (d *Dispatcher) sendResult(ctx context.Context, res *query.Result) error {
	if res.Cancelled {
		return d.reply(ctx, bus.Text("Query cancelled."))
	}
	if res.Text != "" {
		if err := d.reply(ctx, bus.Text(clip(res.Text))); err != nil {
			return err
		}
	}

	fields := []bus.Field{
		{Name: "Session", Value: valueOr(res.SessionID, "n/a"), Inline: true},
		{Name: "Model", Value: valueOr(res.Model, "default"), Inline: true},
		{Name: "Cost", Value: fmt.Sprintf("$%.4f", res.CostUSD), Inline: true},
		{Name: "Duration", Value: (time.Duration(res.DurationMS) * time.Millisecond).String(), Inline: true},
	}
	if len(res.Denials) > 0 {
		names := make([]string, len(res.Denials))
		for i, den := range res.Denials {
			names[i] = den.ToolName
		}
		fields = append(fields, bus.Field{Name: "Denied tools", Value: strings.Join(names, ", ")})
	}
	return d.reply(ctx, bus.Panel("Query finished", "", fields...))
}

// progressSink forwards tool invocations to the surface as they stream
// by. Text and thinking are withheld; the final text is sent once at
// the end instead of repeated per chunk.
type progressSink struct {
	d   *Dispatcher
	ctx context.Context
}

func (s *progressSink) OnEvent(ev engine.Event) {
	for _, m := range convert.FromEvent(ev) {
		if m.Kind != convert.KindToolUse {
			continue
		}
		name, _ := m.Meta["name"].(string)
		if name == "" {
			continue
		}
		_ = s.d.reply(s.ctx, bus.Text("→ "+name))
	}
}

func (d *Dispatcher) handleCancel(ctx context.Context, _ Interaction) error {
	if !d.registry.Interrupt(ctx) {
		return errNoActiveQuery
	}
	return d.reply(ctx, bus.Text("Cancel requested."))
}

func (d *Dispatcher) handleModel(ctx context.Context, in Interaction) error {
	if len(in.Args) == 0 {
		return d.reply(ctx, bus.Panel("Model", "",
			bus.Field{Name: "Default", Value: valueOr(d.cfg.Engine.DefaultModel, "engine default"), Inline: true},
			bus.Field{Name: "Fallback", Value: valueOr(d.cfg.Engine.FallbackModel, "none"), Inline: true},
		))
	}
	if !d.registry.SetModel(ctx, in.Args[0]) {
		return fmt.Errorf("could not switch model (is a query running?)")
	}
	return d.reply(ctx, bus.Text("Model switched to "+in.Args[0]+"."))
}

func (d *Dispatcher) handlePermission(ctx context.Context, in Interaction) error {
	if len(in.Args) == 0 {
		return errors.New("usage: /permission <mode>")
	}
	if !d.registry.SetPermissionMode(ctx, in.Args[0]) {
		return fmt.Errorf("could not set permission mode (is a query running?)")
	}
	return d.reply(ctx, bus.Text("Permission mode set to "+in.Args[0]+"."))
}

func (d *Dispatcher) handleRewind(ctx context.Context, in Interaction) error {
	if len(in.Args) == 0 {
		return errors.New("usage: /rewind <turn#> [--dry-run]")
	}
	seq, err := strconv.Atoi(in.Args[0])
	if err != nil || seq < 1 {
		return fmt.Errorf("turn number must be a positive integer, got %q", in.Args[0])
	}
	dryRunOnly := len(in.Args) > 1 && in.Args[1] == "--dry-run"

	turnID, ok := d.registry.ResolveTurn(seq)
	if !ok {
		return fmt.Errorf("no tracked turn #%d (see /turns)", seq)
	}

	res := d.registry.RewindToTurn(ctx, turnID, true)
	if res == nil {
		return errors.New("rewind is unavailable (no active session or not supported)")
	}

	body := fmt.Sprintf("Rewinding to turn #%d would restore %d file(s).", seq, res.FilesRestored)
	if res.Message != "" {
		body += " " + res.Message
	}
	if dryRunOnly {
		return d.reply(ctx, bus.Panel("Rewind (dry run)", body))
	}
	return d.reply(ctx, bus.Content{
		Kind:    bus.KindButtons,
		Text:    body + " Proceed?",
		Buttons: []bus.Button{{ID: "rewind-confirm:" + turnID, Label: "Rewind"}},
	})
}

func (d *Dispatcher) handleTurns(ctx context.Context, _ Interaction) error {
	turns := d.registry.Turns()
	if len(turns) == 0 {
		return d.reply(ctx, bus.Text("No turns tracked for the active session."))
	}
	var b strings.Builder
	for _, t := range turns {
		fmt.Fprintf(&b, "#%d  %s  %s\n", t.Seq, t.Time.Format("15:04:05"), t.Summary)
	}
	return d.reply(ctx, bus.Panel("Turns", clip(b.String())))
}

func (d *Dispatcher) handleSessions(ctx context.Context, _ Interaction) error {
	metas := d.table.Snapshot()
	if len(metas) == 0 {
		return d.reply(ctx, bus.Text("No sessions seen recently."))
	}
	var b strings.Builder
	for _, m := range metas {
		fmt.Fprintf(&b, "`%s`  turns=%d  $%.4f  last %s\n",
			m.SessionID, m.TurnCount, m.TotalCostUSD, m.LastSeen.Format("Jan 2 15:04"))
	}
	return d.reply(ctx, bus.Panel("Sessions", clip(b.String())))
}

func (d *Dispatcher) handleSessionDelete(ctx context.Context, in Interaction) error {
	if len(in.Args) == 0 {
		return errors.New("usage: /session-delete <session-id>")
	}
	id := query.CleanSessionID(in.Args[0])
	if !d.table.Delete(id) {
		return fmt.Errorf("unknown session %q", id)
	}
	return d.reply(ctx, bus.Text("Forgot session "+id+"."))
}

func (d *Dispatcher) handleAccount(ctx context.Context, _ Interaction) error {
	h := d.registry.Active()
	if h == nil {
		return errNoActiveQuery
	}
	info, err := h.AccountInfo(ctx)
	if err != nil {
		return fmt.Errorf("account info unavailable: %w", err)
	}
	return d.reply(ctx, bus.Panel("Account", "", mapFields(info)...))
}

func (d *Dispatcher) handleModels(ctx context.Context, _ Interaction) error {
	h := d.registry.Active()
	if h == nil {
		return errNoActiveQuery
	}
	models, err := h.SupportedModels(ctx)
	if err != nil {
		return fmt.Errorf("model list unavailable: %w", err)
	}
	return d.reply(ctx, bus.Panel("Models", strings.Join(models, "\n")))
}

func (d *Dispatcher) handleToolServers(ctx context.Context, _ Interaction) error {
	if h := d.registry.Active(); h != nil {
		if status, err := h.ToolServerStatus(ctx); err == nil {
			return d.reply(ctx, bus.Panel("Tool servers", "", mapFields(status)...))
		}
	}
	if d.mcpw == nil {
		return errors.New("no tool server configuration loaded")
	}
	servers := d.mcpw.Current().Servers
	if len(servers) == 0 {
		return d.reply(ctx, bus.Text("No tool servers configured."))
	}
	var b strings.Builder
	for _, s := range servers {
		target := s.Command
		if target == "" {
			target = s.URL
		}
		fmt.Fprintf(&b, "%s  %s\n", s.Name, target)
	}
	return d.reply(ctx, bus.Panel("Tool servers (configured)", clip(b.String())))
}

// mapFields renders a string-keyed map as sorted panel fields.
func mapFields(m map[string]any) []bus.Field {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fields := make([]bus.Field, 0, len(keys))
	for _, k := range keys {
		fields = append(fields, bus.Field{Name: k, Value: clip(fmt.Sprint(m[k])), Inline: true})
	}
	return fields
}

func valueOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
