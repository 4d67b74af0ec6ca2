package middleware

import (
	"errors"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/keyauth"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"mark2pdf/internal/domain"
	"mark2pdf/internal/infra/logging"
	"mark2pdf/internal/tokens"
)

// APIKeyLocal is the fiber.Ctx local holding an authenticated X-API-Key.
const APIKeyLocal = "api_key"

// QuotaMessage is the 429 body text.
const QuotaMessage = "Too many requests, please try again later."

// RateLimitConfig configures both quota limiters.
type RateLimitConfig struct {
	Enabled  bool
	Max      int
	Interval time.Duration
}

// TokenValidator checks API keys.
type TokenValidator interface {
	Validate(token, scope string) error
}

// TokenRater returns the per-token quota, 0 for none.
type TokenRater interface {
	RateLimit(token string) int
}

func apiKey(c *fiber.Ctx) string {
	token, _ := c.Locals(APIKeyLocal).(string)
	return token
}

func quotaExceeded(c *fiber.Ctx) error {
	return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": QuotaMessage})
}

// IPRateLimit applies the anonymous per-IP quota with a sliding window.
// Preflights and requests carrying a valid API key are not counted here.
func IPRateLimit(cfg RateLimitConfig, store fiber.Storage) fiber.Handler {
	if !cfg.Enabled || cfg.Max <= 0 {
		return func(c *fiber.Ctx) error { return c.Next() }
	}
	return limiter.New(limiter.Config{
		Max:               cfg.Max,
		Expiration:        cfg.Interval,
		LimiterMiddleware: limiter.SlidingWindow{},
		Storage:           store,
		Next: func(c *fiber.Ctx) bool {
			return c.Method() == fiber.MethodOptions || apiKey(c) != ""
		},
		KeyGenerator: func(c *fiber.Ctx) string {
			return "ip:" + c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			logging.Warn("Rate limit exceeded", "ip", c.IP(), "path", c.Path())
			return quotaExceeded(c)
		},
	})
}

// LimiterCache shares one limiter handler per distinct token quota.
type LimiterCache struct {
	mu       sync.RWMutex
	handlers map[int]fiber.Handler
}

func NewLimiterCache() *LimiterCache {
	return &LimiterCache{handlers: make(map[int]fiber.Handler)}
}

func (lc *LimiterCache) get(limit int, build func() fiber.Handler) fiber.Handler {
	lc.mu.RLock()
	h, ok := lc.handlers[limit]
	lc.mu.RUnlock()
	if ok {
		return h
	}

	lc.mu.Lock()
	defer lc.mu.Unlock()
	if h, ok := lc.handlers[limit]; ok {
		return h
	}
	h = build()
	lc.handlers[limit] = h
	return h
}

// TokenRateLimit applies the authenticated token's own quota.
func TokenRateLimit(cfg RateLimitConfig, rater TokenRater, store fiber.Storage, cache *LimiterCache) fiber.Handler {
	if !cfg.Enabled {
		return func(c *fiber.Ctx) error { return c.Next() }
	}
	return func(c *fiber.Ctx) error {
		token := apiKey(c)
		if token == "" {
			return c.Next()
		}
		limit := rater.RateLimit(token)
		if limit <= 0 {
			return c.Next()
		}
		h := cache.get(limit, func() fiber.Handler {
			return limiter.New(limiter.Config{
				Max:               limit,
				Expiration:        cfg.Interval,
				LimiterMiddleware: limiter.SlidingWindow{},
				Storage:           store,
				KeyGenerator: func(c *fiber.Ctx) string {
					return "token:" + apiKey(c)
				},
				LimitReached: func(c *fiber.Ctx) error {
					logging.Warn("Rate limit exceeded", "token", apiKey(c), "path", c.Path())
					return quotaExceeded(c)
				},
			})
		})
		return h(c)
	}
}

// APIKeyAuth validates X-API-Key when present. Requests without the header
// pass through as anonymous and fall under the IP quota.
func APIKeyAuth(v TokenValidator) fiber.Handler {
	return keyauth.New(keyauth.Config{
		KeyLookup:  "header:X-API-Key",
		ContextKey: APIKeyLocal,
		Next: func(c *fiber.Ctx) bool {
			return c.Method() == fiber.MethodOptions || c.Get("X-API-Key") == ""
		},
		Validator: func(c *fiber.Ctx, key string) (bool, error) {
			if err := v.Validate(key, tokens.ScopeConvert); err != nil {
				return false, err
			}
			return true, nil
		},
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			// keyauth may call ErrorHandler with a nil error.
			status := fiber.StatusUnauthorized
			if err == nil {
				err = domain.ErrInvalidAPIKey
			}
			if errors.Is(err, domain.ErrTokenStoreNotReady) {
				status = fiber.StatusServiceUnavailable
			}
			return c.Status(status).JSON(fiber.Map{"error": err.Error()})
		},
	})
}
