package engine

import (
	"fmt"
	"os"
	"sort"
	"strings"
)

// BuildEnv assembles the Agent Engine subprocess environment: the bot
// process's own environment, then proxy settings and feature flags, with
// bot-specific overrides applied last so they always win.
func BuildEnv(proxyURL string, featureFlags []string, overrides map[string]string) []string {
	env := os.Environ()

	if proxyURL != "" {
		env = append(env,
			"HTTPS_PROXY="+proxyURL,
			"HTTP_PROXY="+proxyURL,
		)
	}

	for _, flag := range featureFlags {
		if strings.Contains(flag, "=") {
			env = append(env, flag)
		}
	}

	// Deterministic order keeps the env reproducible across runs.
	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, fmt.Sprintf("%s=%s", k, overrides[k]))
	}

	return env
}

// LookupEnv returns the last value of key in env, honoring override order.
func LookupEnv(env []string, key string) (string, bool) {
	prefix := key + "="
	for i := len(env) - 1; i >= 0; i-- {
		if strings.HasPrefix(env[i], prefix) {
			return env[i][len(prefix):], true
		}
	}
	return "", false
}
