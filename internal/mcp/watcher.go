package mcp

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"agentrelay/internal/logging"
)

// Watcher reloads the tool-server config when .mcp.json changes, so new
// servers become auto-approvable without restarting the bot.
type Watcher struct {
	mu      sync.RWMutex
	watcher *fsnotify.Watcher
	workDir string
	current *Config

	debounce time.Duration
	lastSeen time.Time

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewWatcher loads the initial config and starts watching workDir for
// changes to the tool-server config file.
func NewWatcher(workDir string) (*Watcher, error) {
	cfg, err := Load(workDir)
	if err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Watch the directory, not the file: editors replace files on save.
	if err := fsw.Add(workDir); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &Watcher{
		watcher:  fsw,
		workDir:  workDir,
		current:  cfg,
		debounce: 500 * time.Millisecond,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

// Current returns the most recently loaded config.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.stopCh)
	err := w.watcher.Close()
	<-w.doneCh
	return err
}

func (w *Watcher) loop() {
	defer close(w.doneCh)

	for {
		select {
		case <-w.stopCh:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != configFileName {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			w.mu.Lock()
			if time.Since(w.lastSeen) < w.debounce {
				w.mu.Unlock()
				continue
			}
			w.lastSeen = time.Now()
			w.mu.Unlock()

			cfg, err := Load(w.workDir)
			if err != nil {
				logging.MCP("reload failed: %v", err)
				continue
			}
			w.mu.Lock()
			w.current = cfg
			w.mu.Unlock()
			logging.MCP("tool server config reloaded (%d server(s))", len(cfg.Servers))
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.MCP("watch error: %v", err)
		}
	}
}
