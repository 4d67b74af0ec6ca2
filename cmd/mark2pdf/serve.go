package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/spf13/cobra"

	"mark2pdf/internal/config"
	"mark2pdf/internal/conversion"
	"mark2pdf/internal/http/server"
	"mark2pdf/internal/infra/chrome"
	"mark2pdf/internal/infra/logging"
	"mark2pdf/internal/infra/postgres"
	"mark2pdf/internal/infra/ratelimit"
	"mark2pdf/internal/infra/rod"
	"mark2pdf/internal/render"
	"mark2pdf/internal/tokens"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd(load func() config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the PDF Converter API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := load()
			logging.InitLogger(
				cfg.Logger.File,
				cfg.Logger.MaxSizeMB,
				cfg.Logger.MaxBackups,
				cfg.Logger.MaxAgeDays,
				cfg.Logger.Compress,
				cfg.Logger.Level,
			)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg config.Config) error {
	backend, closeBackend, err := newBackend(cfg)
	if err != nil {
		return err
	}
	defer closeBackend()

	conv, err := conversion.New(cfg, backend)
	if err != nil {
		return err
	}

	redisCfg := ratelimit.RedisConfig{Addr: cfg.Cache.RedisHost, DB: cfg.Cache.RateLimitDB}
	rdb := ratelimit.NewClient(redisCfg)
	if rdb != nil {
		defer rdb.Close()
	}

	cache, closeTokens, err := startTokens(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeTokens()

	app := server.New(server.Deps{
		Config:    cfg,
		Converter: conv,
		Backend:   backend,
		Store:     ratelimit.NewStore(redisCfg),
		Redis:     rdb,
		Tokens:    cache,
	})

	engine := "none"
	if backend != nil {
		engine = backend.Name()
	}
	logging.Info("Server starting", "addr", cfg.Addr(), "env", cfg.App.Env, "strategy", cfg.Render.Strategy, "engine", engine)
	return listen(ctx, app, cfg.Addr())
}

// newBackend returns nil under the client strategy. The returned cleanup is
// never nil.
func newBackend(cfg config.Config) (render.Backend, func(), error) {
	if cfg.Render.Strategy == config.StrategyClient {
		return nil, func() {}, nil
	}

	var (
		b       render.Backend
		cleanup = func() {}
	)
	switch {
	case cfg.Render.Engine == config.EngineRod:
		b = rod.New(cfg)
	case cfg.Render.PoolSize > 0:
		p, err := chrome.NewPool(cfg)
		if err != nil {
			return nil, nil, err
		}
		b, cleanup = p, p.Close
	default:
		b = chrome.New(cfg)
	}
	return render.Limit(b, cfg.Render.MaxConcurrent), cleanup, nil
}

// startTokens loads the API token table and keeps it fresh until ctx is done.
// A failed first load is logged; the readiness probe reports it.
func startTokens(ctx context.Context, cfg config.Config) (*tokens.Cache, func(), error) {
	if !cfg.Auth.Enabled {
		return nil, func() {}, nil
	}
	dsn, err := postgres.DSN(cfg.Auth.Postgres)
	if err != nil {
		return nil, nil, err
	}

	db := postgres.NewDB()
	cache := tokens.NewCache()
	r := tokens.NewReloader(postgres.NewTokenRepository(db, dsn), cache, cfg.Auth.ReloadEvery)
	if err := r.LoadOnce(ctx); err != nil {
		logging.Error("Failed to load API tokens", "error", err)
	}
	r.Start(ctx)

	return cache, func() { _ = db.Close() }, nil
}

// listen serves until ctx is done, then shuts down gracefully.
func listen(ctx context.Context, app *fiber.App, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Listen(addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logging.Warn("Shutdown signal received, closing server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logging.Error("Server forced to shutdown", "error", err)
	}
	logging.Info("Server stopped cleanly")
	return nil
}
