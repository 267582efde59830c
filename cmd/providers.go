package cmd

import (
	"fmt"

	"github.com/charmbracelet/catwalk/pkg/catwalk"
	"github.com/charmbracelet/catwalk/pkg/embedded"
	"github.com/spf13/cobra"
)

// newProvidersCmd creates the providers command group.
func newProvidersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "providers",
		Short: "Browse the bundled model catalog",
		Long: `Browse the catwalk model catalog bundled with chatctx.

Context windows from this catalog are used as token limits when none is
configured.

Examples:
  chatctx providers list
  chatctx providers show groq`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List providers with OpenAI-compatible endpoints",
		Args:  cobra.NoArgs,
		RunE:  runProvidersList,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "show <provider-id>",
		Short: "Show the models of a provider",
		Args:  cobra.ExactArgs(1),
		RunE:  runProvidersShow,
	})

	return cmd
}

func compatible(p catwalk.Provider) bool {
	return p.Type == catwalk.TypeOpenAI || p.Type == catwalk.TypeOpenAICompat
}

func runProvidersList(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Available Providers:")
	fmt.Fprintln(out)

	count := 0
	for _, p := range embedded.GetAll() {
		if !compatible(p) {
			continue
		}
		count++
		fmt.Fprintf(out, "  %s (%s)\n", p.Name, p.ID)
		if p.DefaultLargeModelID != "" {
			fmt.Fprintf(out, "    Default: %s\n", p.DefaultLargeModelID)
		}
		fmt.Fprintf(out, "    Models: %d\n", len(p.Models))
	}
	fmt.Fprintf(out, "\nProviders: %d\n", count)
	return nil
}

func runProvidersShow(cmd *cobra.Command, args []string) error {
	providerID := args[0]

	var found *catwalk.Provider
	for _, p := range embedded.GetAll() {
		if string(p.ID) == providerID {
			found = &p
			break
		}
	}
	if found == nil {
		return fmt.Errorf("provider %q not found", providerID)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Provider: %s\n", found.Name)
	fmt.Fprintf(out, "ID: %s\n", found.ID)
	fmt.Fprintf(out, "Type: %s\n", found.Type)
	fmt.Fprintf(out, "API Endpoint: %s\n", found.APIEndpoint)
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Models:")
	for _, m := range found.Models {
		fmt.Fprintf(out, "  %s\n", m.ID)
		fmt.Fprintf(out, "    Context window: %d\n", m.ContextWindow)
		if m.DefaultMaxTokens > 0 {
			fmt.Fprintf(out, "    Max output: %d\n", m.DefaultMaxTokens)
		}
	}
	return nil
}
