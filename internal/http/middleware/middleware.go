// Package middleware holds the global fiber middleware: security headers,
// CORS, request ids, health probes, API-key auth, quotas and request logs.
package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/healthcheck"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/rs/xid"

	"mark2pdf/internal/config"
	"mark2pdf/internal/infra/logging"
)

const (
	LivenessPath  = "/ops/health"
	ReadinessPath = "/ops/ready"
)

// Register attaches the middleware every route shares. ready backs the
// readiness probe; nil means always ready.
func Register(app *fiber.App, cfg config.Config, ready func(*fiber.Ctx) bool) {
	app.Use(helmet.New())
	app.Use(CORS(cfg))

	app.Use(requestid.New(requestid.Config{
		Generator: func() string {
			return xid.New().String()
		},
	}))

	if ready == nil {
		ready = func(*fiber.Ctx) bool { return true }
	}
	app.Use(healthcheck.New(healthcheck.Config{
		LivenessEndpoint:  LivenessPath,
		ReadinessEndpoint: ReadinessPath,
		ReadinessProbe:    ready,
	}))

	app.Use(RequestLog())
}

// CORS applies the configured origin policy. Preflights are answered with
// 200 and an empty body.
func CORS(cfg config.Config) fiber.Handler {
	h := cors.New(cors.Config{
		AllowOrigins:     strings.Join(cfg.CORS.AllowOrigins, ","),
		AllowMethods:     strings.Join(cfg.CORS.AllowMethods, ","),
		AllowHeaders:     strings.Join(cfg.CORS.AllowHeaders, ","),
		AllowCredentials: cfg.CORS.AllowCredentials,
	})
	return func(c *fiber.Ctx) error {
		if err := h(c); err != nil {
			return err
		}
		if c.Method() == fiber.MethodOptions && c.Response().StatusCode() == fiber.StatusNoContent {
			c.Status(fiber.StatusOK)
			c.Response().ResetBody()
		}
		return nil
	}
}

// RequestLog logs one line per request with its id.
func RequestLog() fiber.Handler {
	return func(c *fiber.Ctx) error {
		requestID := c.Get(fiber.HeaderXRequestID)
		if requestID == "" {
			requestID = c.GetRespHeader(fiber.HeaderXRequestID)
		}
		logging.Info("Incoming request", "method", c.Method(), "path", c.Path(), "request_id", requestID, "ip", c.IP())
		return c.Next()
	}
}
