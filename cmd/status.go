package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/guilhermegouw/chatctx/internal/budget"
	"github.com/guilhermegouw/chatctx/internal/config"
	"github.com/guilhermegouw/chatctx/internal/tokens"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the active provider, limits and store",
		Long: `Display the chatctx status including:
  - Active provider, model and token limits
  - Provider credentials
  - Session store and retention`,
		Args: cobra.NoArgs,
		RunE: runStatus,
	}
}

func runStatus(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	fmt.Fprintln(out, "chatctx Status")
	fmt.Fprintln(out, strings.Repeat("─", 40))
	fmt.Fprintln(out)

	active, err := cfg.ActiveProvider()
	if err != nil {
		return err
	}
	fmt.Fprintln(out, "Model Configuration:")
	fmt.Fprintf(out, "  Provider: %s\n", cfg.Provider)
	fmt.Fprintf(out, "  Model: %s\n", active.Model)
	fmt.Fprintf(out, "  Token limit: %d (budget %d)\n", active.TokenLimit, budget.Budget(active.TokenLimit))
	fmt.Fprintf(out, "  Summary trigger: %d\n", active.SummaryTrigger)
	if est, ok := tokens.ForModel(active.Model).(*tokens.CachedEstimator); ok && est.Encoding() != "" {
		fmt.Fprintf(out, "  Tokenizer: %s\n", est.Encoding())
	} else {
		fmt.Fprintln(out, "  Tokenizer: character estimate")
	}
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Providers:")
	for _, id := range []string{config.ProviderGroq, config.ProviderOpenAI} {
		if p, ok := cfg.Providers[id]; ok {
			printProviderStatus(cmd, id, p)
		}
	}
	fmt.Fprintln(out)

	fmt.Fprintln(out, "Sessions:")
	fmt.Fprintf(out, "  Store: %s\n", storeLocation(cfg))
	fmt.Fprintf(out, "  TTL: %s\n", formatDuration(cfg.SessionTTL()))
	fmt.Fprintf(out, "  Max history: %d messages\n", cfg.Session.MaxHistoryMessages)
	fmt.Fprintf(out, "  Key prefix: %s\n", cfg.Session.KeyPrefix)
	fmt.Fprintf(out, "  Summarizer: %s\n", cfg.Session.Summarizer)
	fmt.Fprintln(out)

	fmt.Fprintf(out, "Config File: %s\n", config.GlobalConfigPath())

	return nil
}

func storeLocation(cfg *config.Config) string {
	if cfg.Store.Backend == config.BackendRedis {
		return "redis " + cfg.Store.RedisURL
	}
	return "sqlite " + cfg.DatabasePath()
}

func printProviderStatus(cmd *cobra.Command, id string, provider *config.ProviderConfig) {
	status := "API Key"
	if provider.APIKey == "" {
		status = "Not configured"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "  %s: %s (%s)\n", id, status, provider.BaseURL)
}

func formatDuration(d time.Duration) string {
	if d < time.Hour {
		return fmt.Sprintf("%d minutes", int(d.Minutes()))
	}
	hours := int(d.Hours())
	if hours < 24 {
		return fmt.Sprintf("%d hours", hours)
	}
	days := hours / 24
	return fmt.Sprintf("%d days", days)
}
