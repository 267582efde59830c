// Package cmd provides the CLI commands for chatctx.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/guilhermegouw/chatctx/internal/config"
	"github.com/guilhermegouw/chatctx/internal/debug"
)

// Version is set at build time.
var Version = "dev"

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chatctx",
		Short: "Session-aware conversational context for LLM completions",
		Long: `chatctx keeps per-session conversation history, trims prompts to the
model's token budget, compacts long sessions into summaries and extracts
structured answers from model replies.

It runs as an HTTP service (chatctx serve) or one-shot from the shell:
  chatctx ask --session demo "What is a goroutine?"
  chatctx history demo
  chatctx clear demo`,
		SilenceUsage:      true,
		PersistentPreRunE: enableDebug,
		PersistentPostRun: func(*cobra.Command, []string) { debug.Disable() },
	}

	cmd.PersistentFlags().Bool("debug", false, "Enable debug logging to the data directory")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newAskCmd())
	cmd.AddCommand(newSummarizeCmd())
	cmd.AddCommand(newClearCmd())
	cmd.AddCommand(newHistoryCmd())
	cmd.AddCommand(newPruneCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newProvidersCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func enableDebug(cmd *cobra.Command, _ []string) error {
	debugMode, err := cmd.Flags().GetBool("debug")
	if err != nil {
		return fmt.Errorf("getting debug flag: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		cfg = config.NewConfig()
	}
	if !debugMode && !cfg.Options.Debug {
		return nil
	}

	logPath := cfg.DebugLogPath()
	if debugErr := debug.Enable(logPath); debugErr != nil {
		fmt.Fprintf(os.Stderr, "Warning: Failed to enable debug logging: %v\n", debugErr)
		return nil
	}
	fmt.Fprintf(os.Stderr, "Debug: %s\n", logPath)
	return nil
}

// loadConfig loads configuration for commands that cannot run without it.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "chatctx %s\n", Version)
		},
	}
}

// Execute runs the root command.
func Execute() error {
	return newRootCmd().Execute()
}
