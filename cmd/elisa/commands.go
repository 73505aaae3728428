package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// buildServeCmd creates the "serve" command that runs the HTTP and
// websocket server.
func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
		watch      bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the assistant server",
		Long: `Start the assistant server.

The server will:
1. Load configuration from the specified file (or ELISA_CONFIG, or elisa.yaml)
2. Open the database and create missing tables
3. Connect the configured language model provider
4. Serve chat messages over websocket and HTTP
5. Run the background sweep and summary maintenance

Phrase lists are reloaded when the configuration file changes.
Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		Example: `  # Start with built-in defaults and OPENAI_API_KEY
  elisa serve

  # Start with a config file and debug logging
  elisa serve --config /etc/elisa/production.yaml --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), resolveConfigPath(configPath), debug, watch)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML or JSON5 configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	cmd.Flags().BoolVar(&watch, "watch", true, "Reload phrase lists when the config file changes")
	return cmd
}

// buildChatCmd creates the "chat" command, an interactive terminal session.
func buildChatCmd() *cobra.Command {
	var (
		configPath string
		userID     string
		groupName  string
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the assistant in the terminal",
		Long: `Open an interactive session with the assistant.

Messages go to your private thread. With --group a group is created and
messages are sent to it, so mentions, confirmations and proactive
suggestions can be tried out. Type /quit to leave.`,
		Example: `  elisa chat --user ana
  elisa chat --user ana --group Jurídico`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, resolveConfigPath(configPath), userID, groupName)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
	cmd.Flags().StringVarP(&userID, "user", "u", "local", "User id to chat as")
	cmd.Flags().StringVarP(&groupName, "group", "g", "", "Create a group with this name and chat in it")
	return cmd
}

// buildMigrateCmd creates the "migrate" command.
func buildMigrateCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create the database tables",
		Long: `Create the conversation state, group memory and thread tables in the
configured database. Statements are idempotent and safe to run on every
deploy.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd, resolveConfigPath(configPath))
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
	return cmd
}

// buildConfigCmd creates the "config" command group.
func buildConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and validate configuration",
	}

	schemaCmd := &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON Schema of the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigSchema(cmd)
		},
	}

	var configPath string
	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Load a configuration file and report problems",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigValidate(cmd, resolveConfigPath(configPath))
		},
	}
	validateCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")

	cmd.AddCommand(schemaCmd, validateCmd)
	return cmd
}

// buildVersionCmd creates the "version" command.
func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "elisa %s (commit: %s, built: %s)\n", version, commit, date)
			return nil
		},
	}
}
