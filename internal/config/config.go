// Package config loads agentrelay configuration from .relay/config.yaml
// with environment overrides applied after the file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all agentrelay configuration.
type Config struct {
	// Chat surface credentials. Both are mandatory at startup.
	Token string `yaml:"token"`
	AppID string `yaml:"app_id"`

	// ChannelID is the channel/category this bot instance serves.
	ChannelID string `yaml:"channel_id"`

	// MentionUser is an optional user id to mention in responses.
	MentionUser string `yaml:"mention_user"`

	// WorkDir is the working directory queries run in.
	WorkDir string `yaml:"work_dir"`

	// AllowedUsers restricts command access when non-empty.
	AllowedUsers []string `yaml:"allowed_users"`

	// Engine configures the Agent Engine subprocess.
	Engine EngineConfig `yaml:"engine"`

	// Sessions configures the auxiliary session table.
	Sessions SessionsConfig `yaml:"sessions"`

	// Logging configures the category file logger (read by internal/logging).
	Logging LoggingConfig `yaml:"logging"`
}

// EngineConfig configures the Agent Engine CLI subprocess.
type EngineConfig struct {
	// Binary is the agent CLI executable name or path.
	Binary string `yaml:"binary"`

	// DefaultModel is passed when a query does not name a model.
	DefaultModel string `yaml:"default_model"`

	// FallbackModel is forced on the single rate-limit retry.
	FallbackModel string `yaml:"fallback_model"`

	// PermissionMode is the default tool permission mode.
	PermissionMode string `yaml:"permission_mode"`

	// ProxyURL is exported to the subprocess as HTTPS_PROXY/HTTP_PROXY.
	ProxyURL string `yaml:"proxy_url"`

	// FeatureFlags are extra KEY=VALUE pairs exported to the subprocess.
	FeatureFlags []string `yaml:"feature_flags"`

	// QuestionTool is the tool name routed to the interactive asker.
	QuestionTool string `yaml:"question_tool"`

	// AutoApprove lists extra tool-name prefixes approved without prompting.
	AutoApprove []string `yaml:"auto_approve"`
}

// SessionsConfig configures session metadata retention.
type SessionsConfig struct {
	// Retention is how long idle session metadata is kept (e.g. "24h").
	Retention string `yaml:"retention"`
}

// LoggingConfig mirrors internal/logging's view of the logging section.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Categories map[string]bool `yaml:"categories"`
	Level      string          `yaml:"level"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		WorkDir: ".",
		Engine: EngineConfig{
			Binary:         "claude",
			FallbackModel:  "haiku",
			PermissionMode: "default",
			QuestionTool:   "AskUserQuestion",
		},
		Sessions: SessionsConfig{
			Retention: "24h",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// DefaultPath returns the default config path under the given workspace.
func DefaultPath(workspace string) string {
	return filepath.Join(workspace, ".relay", "config.yaml")
}

// Load reads config from path, falling back to defaults when the file is
// absent, then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides lets environment variables win over file values.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("RELAY_TOKEN"); v != "" {
		c.Token = v
	}
	if v := os.Getenv("RELAY_APP_ID"); v != "" {
		c.AppID = v
	}
	if v := os.Getenv("RELAY_CHANNEL_ID"); v != "" {
		c.ChannelID = v
	}
	if v := os.Getenv("RELAY_MENTION_USER"); v != "" {
		c.MentionUser = v
	}
	if v := os.Getenv("RELAY_WORKDIR"); v != "" {
		c.WorkDir = v
	}
	if v := os.Getenv("RELAY_ENGINE_BINARY"); v != "" {
		c.Engine.Binary = v
	}
	if v := os.Getenv("RELAY_FALLBACK_MODEL"); v != "" {
		c.Engine.FallbackModel = v
	}
	if v := os.Getenv("RELAY_PROXY_URL"); v != "" {
		c.Engine.ProxyURL = v
	}
	if v := os.Getenv("RELAY_ALLOWED_USERS"); v != "" {
		c.AllowedUsers = splitList(v)
	}
}

// Validate checks the mandatory credentials. Startup must fail hard when
// either is missing.
func (c *Config) Validate() error {
	if c.Token == "" {
		return fmt.Errorf("missing auth token: set RELAY_TOKEN or token in %s", DefaultPath(c.WorkDir))
	}
	if c.AppID == "" {
		return fmt.Errorf("missing application id: set RELAY_APP_ID or app_id in %s", DefaultPath(c.WorkDir))
	}
	if c.WorkDir == "" {
		return fmt.Errorf("work_dir cannot be empty")
	}
	return nil
}

// SessionRetention parses the session retention window, defaulting to 24h.
func (c *Config) SessionRetention() time.Duration {
	d, err := time.ParseDuration(c.Sessions.Retention)
	if err != nil || d <= 0 {
		return 24 * time.Hour
	}
	return d
}

// UserAllowed reports whether the user may issue commands. An empty
// allow-list means everyone is allowed.
func (c *Config) UserAllowed(userID string) bool {
	if len(c.AllowedUsers) == 0 {
		return true
	}
	for _, u := range c.AllowedUsers {
		if u == userID {
			return true
		}
	}
	return false
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
