// Package mcp loads auxiliary tool-server configuration for a working
// directory and derives the auto-approved tool-name prefixes the query
// gate uses. Servers themselves are launched by the Agent Engine; this
// package only reads their configuration.
package mcp

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"agentrelay/internal/logging"
)

// configFileName is the conventional per-project tool-server config.
const configFileName = ".mcp.json"

// ServerConfig describes one configured tool server.
type ServerConfig struct {
	Name    string
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	URL     string            `json:"url,omitempty"`
}

// Config is the loaded tool-server configuration for one workdir.
type Config struct {
	Servers []ServerConfig
}

type configFile struct {
	Servers map[string]ServerConfig `json:"mcpServers"`
}

// Load reads the tool-server config under workDir. A missing file is not
// an error; it yields an empty config.
func Load(workDir string) (*Config, error) {
	path := filepath.Join(workDir, configFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var cf configFile
	if err := json.Unmarshal(data, &cf); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	cfg := &Config{Servers: make([]ServerConfig, 0, len(cf.Servers))}
	for name, sc := range cf.Servers {
		sc.Name = name
		cfg.Servers = append(cfg.Servers, sc)
	}
	sort.Slice(cfg.Servers, func(i, j int) bool {
		return cfg.Servers[i].Name < cfg.Servers[j].Name
	})

	logging.MCP("loaded %d tool server(s) from %s", len(cfg.Servers), path)
	return cfg, nil
}

// AutoApprovePrefixes returns the tool-name prefixes whose invocations are
// approved without prompting: one per configured server, plus any extras.
func (c *Config) AutoApprovePrefixes(extra []string) []string {
	prefixes := make([]string, 0, len(c.Servers)+len(extra))
	for _, s := range c.Servers {
		prefixes = append(prefixes, fmt.Sprintf("mcp__%s__", s.Name))
	}
	prefixes = append(prefixes, extra...)
	return prefixes
}
