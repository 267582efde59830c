package cmd

import (
	"context"
	"fmt"

	"github.com/guilhermegouw/chatctx/internal/budget"
	"github.com/guilhermegouw/chatctx/internal/compact"
	"github.com/guilhermegouw/chatctx/internal/config"
	"github.com/guilhermegouw/chatctx/internal/conversation"
	"github.com/guilhermegouw/chatctx/internal/db"
	"github.com/guilhermegouw/chatctx/internal/provider"
	"github.com/guilhermegouw/chatctx/internal/pubsub"
	"github.com/guilhermegouw/chatctx/internal/session"
	"github.com/guilhermegouw/chatctx/internal/tokens"
)

// app holds the components shared by the commands that touch sessions.
type app struct { //nolint:govet // fieldalignment: preserving logical field order
	cfg   *config.Config
	hub   *pubsub.Hub
	store *session.Store
	svc   *conversation.Service
}

// openBackend opens the session backend selected in cfg.
func openBackend(ctx context.Context, cfg *config.Config) (session.Backend, error) {
	switch cfg.Store.Backend {
	case config.BackendRedis:
		b, err := session.OpenRedis(ctx, cfg.Store.RedisURL, cfg.Session.KeyPrefix)
		if err != nil {
			return nil, fmt.Errorf("opening redis store: %w", err)
		}
		return b, nil
	default:
		database, err := db.Open(cfg.DatabasePath())
		if err != nil {
			return nil, fmt.Errorf("opening database: %w", err)
		}
		return session.NewSQLiteBackend(database, cfg.Session.KeyPrefix), nil
	}
}

// openStore builds the session store without a completion provider. Only
// the concat summarizer is available, so commands that never call a model
// can run without an API key.
func openStore(ctx context.Context, cfg *config.Config, hub *pubsub.Hub) (*session.Store, error) {
	backend, err := openBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}
	est := estimator(cfg)
	compactor := compact.New(compact.NewConcatSummarizer(est), est, cfg.Session.MaxHistoryMessages, compactOptions(cfg)...)
	return newStore(cfg, backend, compactor, hub), nil
}

func newStore(cfg *config.Config, backend session.Backend, compactor *compact.Compactor, hub *pubsub.Hub) *session.Store {
	var opts []session.Option
	if hub != nil {
		opts = append(opts, session.WithPublisher(hub.Session))
	}
	return session.NewStore(backend, cfg.SessionTTL(), compactor, opts...)
}

// compactOptions caps summaries at a quarter of the prompt budget, or at the
// summary trigger when that is lower, and bounds summarizer calls like
// completions.
func compactOptions(cfg *config.Config) []compact.Option {
	opts := []compact.Option{compact.WithTimeout(cfg.RequestTimeout())}
	if p, err := cfg.ActiveProvider(); err == nil {
		limit := budget.Budget(p.TokenLimit) / 4
		if p.SummaryTrigger > 0 {
			limit = min(limit, p.SummaryTrigger)
		}
		opts = append(opts, compact.WithSummaryCap(limit))
	}
	return opts
}

func estimator(cfg *config.Config) tokens.Estimator {
	model := ""
	if p, err := cfg.ActiveProvider(); err == nil {
		model = p.Model
	}
	return tokens.ForModel(model)
}

// openApp wires the full conversation pipeline from cfg.
func openApp(ctx context.Context, cfg *config.Config, hub *pubsub.Hub) (*app, error) {
	active, err := cfg.ActiveProvider()
	if err != nil {
		return nil, err
	}

	completer, err := provider.Build(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("building provider: %w", err)
	}

	backend, err := openBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}

	est := tokens.ForModel(active.Model)
	var summarizer compact.Summarizer = compact.NewConcatSummarizer(est)
	if cfg.Session.Summarizer == config.SummarizerModel {
		summarizer = compact.NewModelSummarizer(completer)
	}
	compactor := compact.New(summarizer, est, cfg.Session.MaxHistoryMessages, compactOptions(cfg)...)
	store := newStore(cfg, backend, compactor, hub)

	svc := conversation.New(conversation.Config{
		Store:          store,
		Provider:       completer,
		Compactor:      compactor,
		Estimator:      est,
		TokenLimit:     active.TokenLimit,
		SummaryTrigger: active.SummaryTrigger,
		Temperature:    active.Temperature,
		Timeout:        cfg.RequestTimeout(),
		Hub:            hub,
	})

	return &app{cfg: cfg, hub: hub, store: store, svc: svc}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}
