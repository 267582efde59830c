package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"

	"github.com/guilhermegouw/chatctx/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and edit configuration",
		Long: `Inspect and edit the global configuration file.

Examples:
  chatctx config init
  chatctx config show
  chatctx config set provider openai
  chatctx config set providers.groq.token_limit 8000
  chatctx config set store.backend redis`,
	}

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the effective configuration to the global config file",
		Long: `Write the effective configuration, defaults included, to the global
config file. API keys are never written; keep them in the environment.`,
		Args: cobra.NoArgs,
		RunE: runConfigInit,
	}
	initCmd.Flags().Bool("force", false, "Overwrite an existing config file")
	cmd.AddCommand(initCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE:  runConfigShow,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a field in the global config file",
		Long: `Set a field using JSON path notation. Values that parse as JSON
(numbers, booleans, objects) are stored as such; anything else is a string.`,
		Args: cobra.ExactArgs(2),
		RunE: runConfigSet,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Print the global config file path",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), config.GlobalConfigPath())
		},
	})

	return cmd
}

func runConfigShow(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	for _, p := range cfg.Providers {
		if p.APIKey != "" {
			p.APIKey = maskKey(p.APIKey)
		}
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}

func runConfigInit(cmd *cobra.Command, _ []string) error {
	path := config.GlobalConfigPath()
	force, _ := cmd.Flags().GetBool("force") //nolint:errcheck // Flag is registered above.
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := config.Save(cfg); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
	return nil
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key, raw := args[0], args[1]

	var value any = raw
	if gjson.Valid(raw) {
		value = gjson.Parse(raw).Value()
	}

	if err := config.SetConfigFieldAt(config.GlobalConfigPath(), key, value); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Set %s in %s\n", key, config.GlobalConfigPath())
	return nil
}

func maskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "****" + key[len(key)-4:]
}
