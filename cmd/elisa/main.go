// Package main is the command line entry point of ELISA, the task and
// group assistant.
//
// # Basic Usage
//
// Start the server:
//
//	elisa serve --config elisa.yaml
//
// Talk to the assistant from a terminal:
//
//	elisa chat --user ana
//
// Create the database tables:
//
//	elisa migrate
//
// # Environment Variables
//
//   - ELISA_CONFIG: path to the configuration file
//   - OPENAI_API_KEY: used when llm.api_key is empty and the provider is openai
//   - ANTHROPIC_API_KEY: used when llm.api_key is empty and the provider is anthropic
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// Build information, set with -ldflags "-X main.version=...".
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "elisa",
		Short: "ELISA - task and group assistant",
		Long: `ELISA answers chat messages in private threads and group conversations.
It manages tasks, groups and messages through tool calls to a language model,
asks for confirmation before destructive actions and suggests tasks when a
group talks about something that needs doing.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.AddCommand(
		buildServeCmd(),
		buildChatCmd(),
		buildMigrateCmd(),
		buildConfigCmd(),
		buildVersionCmd(),
	)
	return rootCmd
}

// resolveConfigPath falls back to ELISA_CONFIG, then to elisa.yaml when it
// exists. An empty result means built-in defaults.
func resolveConfigPath(path string) string {
	if strings.TrimSpace(path) != "" {
		return path
	}
	if env := strings.TrimSpace(os.Getenv("ELISA_CONFIG")); env != "" {
		return env
	}
	if _, err := os.Stat("elisa.yaml"); err == nil {
		return "elisa.yaml"
	}
	return ""
}
