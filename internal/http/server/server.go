// Package server assembles the fiber application.
package server

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	memoryStorage "github.com/gofiber/storage/memory/v2"
	"github.com/redis/go-redis/v9"

	"mark2pdf/internal/config"
	"mark2pdf/internal/http/handlers"
	"mark2pdf/internal/http/middleware"
	"mark2pdf/internal/infra/logging"
	"mark2pdf/internal/infra/ratelimit"
	"mark2pdf/internal/render"
	"mark2pdf/internal/tokens"
)

// GeneratePath is the conversion endpoint.
const GeneratePath = "/api/generate-pdf"

// Deps are the components the app is built from. Store defaults to in-memory
// storage; Redis and Tokens are optional.
type Deps struct {
	Config    config.Config
	Converter handlers.Converter
	Backend   render.Backend
	Store     fiber.Storage
	Redis     *redis.Client
	Tokens    *tokens.Cache
}

// New returns the configured app with every route mounted.
func New(d Deps) *fiber.App {
	cfg := d.Config
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		BodyLimit:             cfg.Server.BodyLimitBytes,
		ReadTimeout:           cfg.Server.ReadTimeout,
		ErrorHandler:          ErrorHandler(cfg.Limits.MaxMarkdownBytes),
	})

	app.Use(recover.New(recover.Config{EnableStackTrace: !cfg.Production()}))
	middleware.Register(app, cfg, readiness(d))

	store := d.Store
	if store == nil {
		store = memoryStorage.New()
	}
	rl := middleware.RateLimitConfig{
		Enabled:  cfg.RateLimiter.Enabled,
		Max:      cfg.RateLimiter.Max,
		Interval: cfg.RateLimiter.Interval,
	}

	var quota []fiber.Handler
	if cfg.Auth.Enabled && d.Tokens != nil {
		quota = append(quota,
			middleware.APIKeyAuth(d.Tokens),
			middleware.TokenRateLimit(rl, d.Tokens, store, middleware.NewLimiterCache()),
		)
	}
	quota = append(quota, middleware.IPRateLimit(rl, store))

	h := handlers.New(d.Converter, d.Backend, cfg)

	app.Get("/", handlers.Root)

	api := app.Group("/api", quota...)
	api.Options("/generate-pdf", h.Preflight)
	api.Post("/generate-pdf", h.Generate)
	api.All("/generate-pdf", h.MethodNotAllowed)

	app.Get("/ops/renderer/stats", h.RendererStats)
	if cfg.Server.EnableMonitor {
		app.Get("/ops/monitor", monitor.New(monitor.Config{Title: "mark2pdf"}))
	}

	// Ensure all responses, including 404s, return JSON.
	app.Use(func(c *fiber.Ctx) error {
		return fiber.NewError(fiber.StatusNotFound, "Not Found")
	})

	return app
}

// ErrorHandler renders every error as {"error": message}. Anything that is
// not a *fiber.Error, panics included, becomes a generic 500. A body rejected
// by the server's body limit on the conversion endpoint is reported like any
// other oversized markdown.
func ErrorHandler(maxMarkdownBytes int) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		msg := handlers.MsgServerError

		var fe *fiber.Error
		if errors.As(err, &fe) {
			code = fe.Code
			msg = fe.Message
		}
		if code == fiber.StatusRequestEntityTooLarge && c.Path() == GeneratePath {
			code = fiber.StatusBadRequest
			msg = handlers.MarkdownTooLarge(maxMarkdownBytes)
		}

		if code >= fiber.StatusInternalServerError {
			logging.Error("Request failed", "path", c.Path(), "status", code, "error", err)
		} else {
			logging.Warn("Request failed", "path", c.Path(), "status", code, "message", msg)
		}
		return c.Status(code).JSON(fiber.Map{"error": msg})
	}
}

func readiness(d Deps) func(*fiber.Ctx) bool {
	return func(c *fiber.Ctx) bool {
		if err := ratelimit.Ping(c.UserContext(), d.Redis); err != nil {
			logging.Warn("Readiness check failed", "component", "redis", "error", err)
			return false
		}
		if d.Config.Auth.Enabled && d.Tokens != nil && !d.Tokens.Ready() {
			return false
		}
		return true
	}
}
