// Package dispatch routes chat interactions (slash commands and button
// presses) to handlers and renders their results as neutral display
// records. It never constructs platform-specific objects; the Messaging
// Surface renderer lives outside this repository.
package dispatch

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"agentrelay/internal/bus"
	"agentrelay/internal/config"
	"agentrelay/internal/crash"
	"agentrelay/internal/logging"
	"agentrelay/internal/mcp"
	"agentrelay/internal/query"
	"agentrelay/internal/session"
	"agentrelay/internal/shell"
	"agentrelay/internal/worktree"
)

// InteractionKind distinguishes commands from button presses.
type InteractionKind string

const (
	KindCommand InteractionKind = "command"
	KindButton  InteractionKind = "button"
)

// Interaction is one neutral inbound event from the Messaging Surface.
type Interaction struct {
	ID        string
	Kind      InteractionKind
	Name      string
	Args      []string
	UserID    string
	ChannelID string
}

// Runner runs queries. Satisfied by *query.Orchestrator.
type Runner interface {
	Run(ctx context.Context, opts query.Options) (*query.Result, error)
}

// HandlerFunc handles one interaction, replying through the surface. A
// returned error is rendered as an error panel for the user.
type HandlerFunc func(ctx context.Context, in Interaction) error

// Dispatcher owns the handler table and the collaborators handlers use.
type Dispatcher struct {
	cfg      *config.Config
	surface  bus.Surface
	runner   Runner
	registry *session.Registry
	table    *session.Table
	crashes  *crash.Reporter
	shells   *shell.Manager
	trees    *worktree.Manager
	mcpw     *mcp.Watcher

	commands map[string]HandlerFunc
	buttons  map[string]HandlerFunc
}

// New builds a dispatcher with every command and button registered.
// mcpw and trees may be nil; the corresponding commands then report
// that the feature is unavailable.
func New(cfg *config.Config, surface bus.Surface, runner Runner, reg *session.Registry,
	table *session.Table, crashes *crash.Reporter, shells *shell.Manager,
	trees *worktree.Manager, mcpw *mcp.Watcher) *Dispatcher {

	d := &Dispatcher{
		cfg:      cfg,
		surface:  surface,
		runner:   runner,
		registry: reg,
		table:    table,
		crashes:  crashes,
		shells:   shells,
		trees:    trees,
		mcpw:     mcpw,
		commands: make(map[string]HandlerFunc),
		buttons:  make(map[string]HandlerFunc),
	}

	d.commands["ask"] = d.handleAsk
	d.commands["resume"] = d.handleResume
	d.commands["continue"] = d.handleContinue
	d.commands["cancel"] = d.handleCancel
	d.commands["model"] = d.handleModel
	d.commands["permission"] = d.handlePermission
	d.commands["rewind"] = d.handleRewind
	d.commands["turns"] = d.handleTurns
	d.commands["sessions"] = d.handleSessions
	d.commands["session-delete"] = d.handleSessionDelete
	d.commands["account"] = d.handleAccount
	d.commands["models"] = d.handleModels
	d.commands["toolservers"] = d.handleToolServers
	d.commands["status"] = d.handleStatus
	d.commands["screenshot"] = d.handleScreenshot
	d.commands["crashes"] = d.handleCrashes
	d.commands["shell"] = d.handleShell
	d.commands["ps"] = d.handlePS
	d.commands["kill"] = d.handleKill
	d.commands["wt-add"] = d.handleWorktreeAdd
	d.commands["wt-list"] = d.handleWorktreeList
	d.commands["wt-remove"] = d.handleWorktreeRemove
	d.commands["help"] = d.handleHelp

	d.buttons["cancel-query"] = d.handleCancelButton
	d.buttons["rewind-confirm"] = d.handleRewindConfirm

	return d
}

// Handle routes one interaction. Handler errors and panics are rendered
// as error panels; Handle itself only fails when the surface does.
func (d *Dispatcher) Handle(ctx context.Context, in Interaction) error {
	if !d.cfg.UserAllowed(in.UserID) {
		logging.Dispatch("denied user %s for %s", in.UserID, in.Name)
		return d.reply(ctx, bus.ErrorPanel("you are not allowed to use this bot"))
	}

	name, arg := splitButtonName(in.Name)
	var h HandlerFunc
	var ok bool
	switch in.Kind {
	case KindButton:
		h, ok = d.buttons[name]
		if arg != "" {
			in.Args = append([]string{arg}, in.Args...)
		}
	default:
		h, ok = d.commands[in.Name]
	}
	if !ok {
		return d.reply(ctx, bus.ErrorPanel(fmt.Sprintf("unknown %s %q (try /help)", in.Kind, in.Name)))
	}

	err := d.safeCall(ctx, h, in)
	if err != nil {
		logging.Dispatch("%s %s failed: %v", in.Kind, in.Name, err)
		return d.reply(ctx, bus.ErrorPanel(err.Error()))
	}
	return nil
}

// safeCall runs a handler, converting a panic into a crash report and a
// user-facing error instead of taking the process down.
func (d *Dispatcher) safeCall(ctx context.Context, h HandlerFunc, in Interaction) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("internal error handling %s", in.Name)
			d.crashes.Report("dispatch", in.ID, fmt.Errorf("panic: %v", r), in.Name, true)
		}
	}()
	return h(ctx, in)
}

func (d *Dispatcher) reply(ctx context.Context, c bus.Content) error {
	return d.surface.SendMessage(ctx, c)
}

// splitButtonName separates a button id from its payload, e.g.
// "rewind-confirm:abc" into ("rewind-confirm", "abc").
func splitButtonName(name string) (string, string) {
	if i := strings.IndexByte(name, ':'); i >= 0 {
		return name[:i], name[i+1:]
	}
	return name, ""
}

// panelLimit bounds text placed in a single display record.
const panelLimit = 3800

func clip(s string) string {
	r := []rune(s)
	if len(r) <= panelLimit {
		return s
	}
	return string(r[:panelLimit-1]) + "…"
}

func (d *Dispatcher) handleHelp(ctx context.Context, _ Interaction) error {
	names := make([]string, 0, len(d.commands))
	for name := range d.commands {
		names = append(names, "/"+name)
	}
	sort.Strings(names)
	return d.reply(ctx, bus.Panel("Commands", strings.Join(names, "  ")))
}
