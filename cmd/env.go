package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/kijani-supplies/order-desk/internal/confirm"
	"github.com/kijani-supplies/order-desk/internal/extract"
	"github.com/kijani-supplies/order-desk/internal/history"
	"github.com/kijani-supplies/order-desk/internal/match"
	"github.com/kijani-supplies/order-desk/internal/reconcile"
	"github.com/kijani-supplies/order-desk/internal/state"
	"github.com/kijani-supplies/order-desk/internal/store"
	anthropicpkg "github.com/kijani-supplies/order-desk/pkg/anthropic"
	"github.com/kijani-supplies/order-desk/pkg/odoo"
)

// env bundles the wired engine shared by the processing commands.
type env struct {
	Store     store.Store
	Manager   *state.Manager
	History   *history.Builder
	Extractor extract.Extractor
	Confirmer *confirm.Generator
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "order-desk.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initEnv builds the full processing environment. The Anthropic pieces stay
// nil without an API key; commands that need extraction check for that.
func initEnv(ctx context.Context) (*env, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	matcher := match.New(cfg.Matcher.SimilarityThreshold)
	e := &env{
		Store:   st,
		Manager: state.NewManager(st, reconcile.New(matcher)),
		History: history.NewBuilder(st),
	}

	if cfg.Anthropic.Key != "" {
		client := anthropicpkg.NewClient(cfg.Anthropic.Key)
		e.Extractor = extract.NewClaudeExtractor(client, extract.Config{
			Model:     cfg.Anthropic.Model,
			MaxTokens: cfg.Anthropic.MaxTokens,
		})
		e.Confirmer = confirm.NewGenerator(client, confirm.Config{
			Model:     cfg.Anthropic.Model,
			MaxTokens: cfg.Anthropic.ConfirmMaxTokens,
		})
	}

	return e, nil
}

func (e *env) Close() {
	_ = e.Store.Close()
}

func initOdoo() (odoo.Client, error) {
	if cfg.Odoo.URL == "" {
		return nil, eris.New("odoo URL is required (ORDERDESK_ODOO_URL)")
	}
	return odoo.NewClient(odoo.Config{
		URL:                 cfg.Odoo.URL,
		Database:            cfg.Odoo.Database,
		Username:            cfg.Odoo.Username,
		Password:            cfg.Odoo.Password,
		SimilarityThreshold: cfg.Odoo.SimilarityThreshold,
		RequestsPerSecond:   cfg.Odoo.RequestsPerSecond,
	}), nil
}
