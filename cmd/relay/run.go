package main

import (
	"bufio"
	"context"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"agentrelay/internal/bus"
	"agentrelay/internal/config"
	"agentrelay/internal/crash"
	"agentrelay/internal/dispatch"
	"agentrelay/internal/engine"
	"agentrelay/internal/logging"
	"agentrelay/internal/mcp"
	"agentrelay/internal/query"
	"agentrelay/internal/session"
	"agentrelay/internal/shell"
	"agentrelay/internal/worktree"
)

// runRelay wires every subsystem together and serves interactions from
// the console surface until the process is signalled.
func runRelay(cmd *cobra.Command) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := logging.Initialize(cfg.WorkDir); err != nil {
		logger.Warn("category logging disabled", zap.Error(err))
	}
	defer logging.CloseAll()
	logging.Boot("relay %s starting in %s", version, cfg.WorkDir)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := session.NewRegistry()
	table := session.NewTable(cfg.SessionRetention())
	crashes := crash.NewReporter()
	eng := &engine.CLIEngine{Binary: cfg.Engine.Binary}
	orch := query.New(eng, registry, table, crashes, cfg.Engine)
	shells := shell.NewManager(crashes)

	var trees *worktree.Manager
	if _, err := os.Stat(filepath.Join(cfg.WorkDir, ".git")); err == nil {
		trees = worktree.NewManager(cfg.WorkDir)
	} else {
		logger.Info("workdir is not a git repository; worktree commands disabled")
	}

	mcpw, err := mcp.NewWatcher(cfg.WorkDir)
	if err != nil {
		logger.Warn("tool server watcher unavailable", zap.Error(err))
	} else {
		defer mcpw.Close()
	}

	surface := &bus.Console{W: cmd.OutOrStdout()}
	d := dispatch.New(cfg, surface, orch, registry, table, crashes, shells, trees, mcpw)

	logger.Info("relay ready",
		zap.String("workdir", cfg.WorkDir),
		zap.String("channel", cfg.ChannelID),
		zap.String("engine", cfg.Engine.Binary))

	serveConsole(ctx, d, cmd.InOrStdin())

	registry.Clear()
	logging.Boot("relay shutting down")
	return nil
}

// loadConfig resolves the config file, then applies flag overrides on
// top of the file/env result.
func loadConfig() (*config.Config, error) {
	dir := workDir
	if dir == "" {
		dir = os.Getenv("RELAY_WORKDIR")
	}
	if dir == "" {
		var err error
		if dir, err = os.Getwd(); err != nil {
			return nil, err
		}
	}

	path := configPath
	if path == "" {
		path = config.DefaultPath(dir)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	cfg.WorkDir = dir
	if channelID != "" {
		cfg.ChannelID = channelID
	}
	if mentionUser != "" {
		cfg.MentionUser = mentionUser
	}
	return cfg, nil
}

// serveConsole reads interactions from r until EOF or cancellation.
// Lines starting with "/" are commands, "!" presses a button by id,
// and anything else is shorthand for /ask. Each interaction runs on
// its own goroutine so cancel/model/permission (and a replacing query)
// interleave with a query already in flight; the shared registries are
// mutex-guarded for exactly this delivery pattern.
func serveConsole(ctx context.Context, d *dispatch.Dispatcher, r io.Reader) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	var wg sync.WaitGroup
	defer wg.Wait()

	seq := 0
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			seq++
			in := parseLine(line, seq)
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := d.Handle(ctx, in); err != nil {
					logger.Error("surface send failed", zap.Error(err))
				}
			}()
		}
	}
}

func parseLine(line string, seq int) dispatch.Interaction {
	in := dispatch.Interaction{
		ID:     "console-" + strconv.Itoa(seq),
		Kind:   dispatch.KindCommand,
		UserID: "console",
	}
	switch {
	case strings.HasPrefix(line, "/"):
		parts := strings.Fields(line[1:])
		in.Name = parts[0]
		in.Args = parts[1:]
	case strings.HasPrefix(line, "!"):
		in.Kind = dispatch.KindButton
		in.Name = strings.TrimPrefix(line, "!")
	default:
		in.Name = "ask"
		in.Args = strings.Fields(line)
	}
	return in
}
