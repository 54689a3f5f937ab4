package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/oliviagallego/TesaHealth/internal/artifact"
	"github.com/oliviagallego/TesaHealth/internal/consensus"
	"github.com/oliviagallego/TesaHealth/internal/genai"
	"github.com/oliviagallego/TesaHealth/internal/interview"
	"github.com/oliviagallego/TesaHealth/internal/notify"
	"github.com/oliviagallego/TesaHealth/internal/reward"
	"github.com/oliviagallego/TesaHealth/internal/server"
	"github.com/oliviagallego/TesaHealth/internal/store"
	"github.com/oliviagallego/TesaHealth/pkg/anthropic"
	"github.com/oliviagallego/TesaHealth/pkg/infermedica"
)

// stack wires the full service graph for a running process.
type stack struct {
	store      store.Store
	interviews *interview.Service
	engine     *consensus.Engine
	ledger     *reward.Ledger
	server     *server.Server
}

// openStore opens the configured database backend.
func openStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	case "sqlite":
		return store.NewSQLite(cfg.Store.DatabaseURL)
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

// buildStack constructs the service graph from config.
func buildStack(ctx context.Context) (*stack, error) {
	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}

	diagOpts := []infermedica.Option{
		infermedica.WithBaseURL(cfg.Infermedica.BaseURL),
		infermedica.WithRateLimit(cfg.Infermedica.RateLimit),
	}
	if cfg.Infermedica.DevMode {
		diagOpts = append(diagOpts, infermedica.WithDevMode())
	}
	diag := infermedica.NewClient(cfg.Infermedica.AppID, cfg.Infermedica.AppKey, diagOpts...)

	gen := genai.NewGenerator(anthropic.NewClient(cfg.Anthropic.Key), cfg.Anthropic.SonnetModel, cfg.Anthropic.HaikuModel)

	denylist := artifact.NewDenylist()
	if cfg.Artifact.DenylistPath != "" {
		denylist, err = artifact.LoadDenylist(cfg.Artifact.DenylistPath)
		if err != nil {
			st.Close()
			return nil, err
		}
	}

	var events notify.Sink = notify.LogSink{}
	if cfg.Notify.WebhookURL != "" {
		events = notify.NewWebhookSink(cfg.Notify.WebhookURL)
	}

	ledger := reward.NewLedger(st, cfg.Reward.ReviewCents, cfg.Reward.BonusCents, cfg.Reward.Currency)
	generator := artifact.NewGenerator(st, diag, gen, denylist)
	interviews := interview.NewService(st, diag, generator, events)
	engine := consensus.NewEngine(st, gen, ledger, events, cfg.Consensus.MinReviews, cfg.Consensus.SupermajorityThreshold)

	return &stack{
		store:      st,
		interviews: interviews,
		engine:     engine,
		ledger:     ledger,
		server:     server.New(st, interviews, engine, ledger, diag),
	}, nil
}

func (s *stack) Close() {
	if err := s.store.Close(); err != nil {
		zap.L().Warn("store close failed", zap.Error(err))
	}
}
