package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/guilhermegouw/chatctx/internal/debug"
	"github.com/guilhermegouw/chatctx/internal/events"
	"github.com/guilhermegouw/chatctx/internal/pubsub"
	"github.com/guilhermegouw/chatctx/internal/server"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP service",
		Long: `Serve the conversation endpoints:
  POST /api/conversational/chat
  POST /api/conversational/clear
  GET  /api/conversational/history
  POST /api/summarize
  GET  /healthz`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}

	cmd.Flags().String("addr", "", "Listen address (overrides config)")
	cmd.Flags().Duration("prune-interval", time.Minute, "How often expired sessions are swept (0 disables)")

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" { //nolint:errcheck // Flag is registered above.
		cfg.Options.Addr = addr
	}
	interval, _ := cmd.Flags().GetDuration("prune-interval") //nolint:errcheck // Flag is registered above.

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := pubsub.NewHub(cfg.Options.EventBuffer)
	defer func() {
		debug.Log("[serve] shutting down\n%s", hub.DebugString())
		hub.Shutdown()
	}()

	a, err := openApp(ctx, cfg, hub)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }() //nolint:errcheck // Best effort on shutdown.

	srv := &http.Server{
		Addr:              cfg.Options.Addr,
		Handler:           server.New(a.svc, hub),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		fmt.Fprintf(cmd.OutOrStdout(), "chatctx listening on %s (provider %s, store %s)\n",
			cfg.Options.Addr, cfg.Provider, cfg.Store.Backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving http: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if interval > 0 {
		g.Go(func() error {
			pruneLoop(gctx, a, interval)
			return nil
		})
	}

	g.Go(func() error {
		hub.Session.Listen(gctx, logSessionEvent)
		return nil
	})
	g.Go(func() error {
		hub.Conversation.Listen(gctx, logConversationEvent)
		return nil
	})

	return g.Wait()
}

// pruneLoop sweeps expired sessions until ctx is done.
func pruneLoop(ctx context.Context, a *app, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := a.store.Prune(ctx); err != nil {
				debug.Error("prune", err, "")
			}
		}
	}
}

func logSessionEvent(ev pubsub.Event[events.SessionEvent]) {
	p := ev.Payload
	switch p.Type {
	case events.SessionEventMessageAdded:
		debug.Event("session", string(p.Type), fmt.Sprintf("session=%s role=%s len=%d", p.SessionID, p.MessageRole, p.Length))
	case events.SessionEventCompacted:
		debug.Event("session", string(p.Type), fmt.Sprintf("session=%s removed=%d len=%d", p.SessionID, p.Removed, p.Length))
	case events.SessionEventPruned:
		debug.Event("session", string(p.Type), fmt.Sprintf("count=%d", p.Removed))
	default:
		debug.Event("session", string(p.Type), "session="+p.SessionID)
	}
}

func logConversationEvent(ev pubsub.Event[events.ConversationEvent]) {
	p := ev.Payload
	switch p.Type {
	case events.ConversationEventCompleted:
		debug.Event("conversation", string(p.Type), fmt.Sprintf(
			"session=%s action=%s tokens=%d dropped=%d suggestions=%d took=%s",
			p.SessionID, p.Action, p.Tokens, p.Dropped, p.Suggestions, p.Duration))
	case events.ConversationEventFailed:
		debug.Event("conversation", string(p.Type), fmt.Sprintf(
			"session=%s action=%s err=%v took=%s", p.SessionID, p.Action, p.Error, p.Duration))
	default:
		debug.Event("conversation", string(p.Type), fmt.Sprintf("session=%s action=%s", p.SessionID, p.Action))
	}
}
