package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Global flags
	verbose     bool
	configPath  string
	workDir     string
	channelID   string
	mentionUser string

	// Logger
	logger *zap.Logger
)

// version is stamped at build time.
var version = "dev"

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "relay",
	Short: "agentrelay - chat relay for a terminal coding agent",
	Long: `agentrelay brokers chat interactions between users and a terminal
coding agent: it runs queries, streams progress back to the chat
surface, gates tool use, and exposes shell/worktree/host utilities
as slash commands.

Run without arguments to start the relay with the console surface.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		config := zap.NewProductionConfig()
		if verbose {
			config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = config.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRelay(cmd)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the relay version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("agentrelay", version)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path (default <workdir>/.relay/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&workDir, "workdir", "w", "", "agent working directory (default: RELAY_WORKDIR or cwd)")
	rootCmd.PersistentFlags().StringVar(&channelID, "channel", "", "channel/category identifier (default: RELAY_CHANNEL_ID)")
	rootCmd.PersistentFlags().StringVar(&mentionUser, "mention-user", "", "user id to mention in replies (default: RELAY_MENTION_USER)")

	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
