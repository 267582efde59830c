package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/guilhermegouw/chatctx/internal/conversation"
	"github.com/guilhermegouw/chatctx/internal/provider"
)

func newSummarizeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "summarize [file]",
		Short: "Summarize a transcript",
		Long: `Summarize a standalone transcript with the active provider.

The transcript is read from the given file, or from standard input when the
file is "-" or omitted. No session is read or written.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runSummarize,
	}

	cmd.Flags().IntP("max-tokens", "m", conversation.DefaultSummaryTokens, "Maximum tokens in the summary")

	return cmd
}

func runSummarize(cmd *cobra.Command, args []string) error {
	maxTokens, _ := cmd.Flags().GetInt("max-tokens") //nolint:errcheck // Flags are registered above.
	path := "-"
	if len(args) == 1 {
		path = args[0]
	}

	transcript, err := readContext(cmd.InOrStdin(), path)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	completer, err := provider.Build(cmd.Context(), cfg)
	if err != nil {
		return fmt.Errorf("building provider: %w", err)
	}

	svc := conversation.New(conversation.Config{
		Provider: completer,
		Timeout:  cfg.RequestTimeout(),
	})
	summary, err := svc.Summarize(cmd.Context(), transcript, maxTokens)
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), summary)
	return nil
}
