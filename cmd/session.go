package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/guilhermegouw/chatctx/internal/session"
)

func newClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear <session-id>",
		Short: "Delete the history of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(store *session.Store) error {
				if err := store.Clear(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cleared session %s\n", args[0])
				return nil
			})
		},
	}
}

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history <session-id>",
		Short: "Show the stored messages of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit") //nolint:errcheck // Flag is registered below.
			return withStore(cmd, func(store *session.Store) error {
				ctx := cmd.Context()
				msgs, err := store.Load(ctx, args[0], limit)
				if err != nil {
					return err
				}
				ttl, err := store.TTL(ctx, args[0])
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if len(msgs) == 0 {
					fmt.Fprintf(out, "Session %s has no history.\n", args[0])
					return nil
				}
				fmt.Fprintf(out, "Session %s (%d messages, expires in %s)\n\n", args[0], len(msgs), ttl.Round(time.Second))
				for _, m := range msgs {
					fmt.Fprintf(out, "[%s] %s\n\n", m.Role, m.Content)
				}
				return nil
			})
		},
	}

	cmd.Flags().IntP("limit", "n", 0, "Show only the last n messages")

	return cmd
}

func newPruneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Delete expired sessions from the local store",
		Long: `Delete expired sessions. Redis expires keys on its own, so this only
reclaims space in the SQLite store.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd, func(store *session.Store) error {
				n, err := store.Prune(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d expired sessions\n", n)
				return nil
			})
		},
	}
}

// withStore runs fn with a store opened from the current configuration.
func withStore(cmd *cobra.Command, fn func(*session.Store) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cmd.Context(), cfg, nil)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }() //nolint:errcheck // Best effort.
	return fn(store)
}
