package middleware

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	memoryStorage "github.com/gofiber/storage/memory/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mark2pdf/internal/config"
	"mark2pdf/internal/tokens"
)

func TestRegister_AddsHealthRequestIDAndHelmet(t *testing.T) {
	app := fiber.New()
	Register(app, config.Default(), nil)
	app.Get("/ping", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, LivenessPath, nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/ping", nil))
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Header.Get("X-Request-Id"))
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
}

func TestRegister_ReadinessProbe(t *testing.T) {
	ready := false
	app := fiber.New()
	Register(app, config.Default(), func(*fiber.Ctx) bool { return ready })

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, ReadinessPath, nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)

	ready = true
	resp, err = app.Test(httptest.NewRequest(http.MethodGet, ReadinessPath, nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestCORS_PreflightIs200WithEmptyBody(t *testing.T) {
	app := fiber.New()
	app.Use(CORS(config.Default()))
	app.Post("/api/generate-pdf", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/api/generate-pdf", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")
	req.Header.Set("Access-Control-Request-Headers", "Content-Type")

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Empty(t, body)

	assert.Equal(t, "http://localhost:3000", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", resp.Header.Get("Access-Control-Allow-Credentials"))
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Methods"), "POST")
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Headers"), "X-API-Key")
}

func TestCORS_UnknownOriginGetsNoAllowHeader(t *testing.T) {
	app := fiber.New()
	app.Use(CORS(config.Default()))
	app.Get("/", func(c *fiber.Ctx) error { return c.SendString("ok") })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.example")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}

func ipLimitedApp(max int) *fiber.App {
	app := fiber.New()
	app.Use(IPRateLimit(RateLimitConfig{Enabled: true, Max: max, Interval: time.Minute}, memoryStorage.New()))
	app.Options("/", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })
	app.Post("/", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })
	return app
}

func TestIPRateLimit_TwentyFirstRequestIs429(t *testing.T) {
	app := ipLimitedApp(20)

	for i := 0; i < 20; i++ {
		resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/", nil))
		require.NoError(t, err)
		require.Equal(t, fiber.StatusOK, resp.StatusCode, "request %d", i+1)
	}

	resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusTooManyRequests, resp.StatusCode)

	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "Too many requests, please try again later.", body["error"])
}

func TestIPRateLimit_PreflightNotCounted(t *testing.T) {
	app := ipLimitedApp(1)

	for i := 0; i < 3; i++ {
		resp, err := app.Test(httptest.NewRequest(http.MethodOptions, "/", nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	}
	resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestIPRateLimit_Disabled(t *testing.T) {
	app := fiber.New()
	app.Use(IPRateLimit(RateLimitConfig{Enabled: false, Max: 1, Interval: time.Minute}, memoryStorage.New()))
	app.Get("/", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })

	for i := 0; i < 3; i++ {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	}
}

func authApp(cache *tokens.Cache) *fiber.App {
	store := memoryStorage.New()
	rl := RateLimitConfig{Enabled: true, Max: 1, Interval: time.Hour}

	app := fiber.New()
	app.Use(APIKeyAuth(cache))
	app.Use(TokenRateLimit(rl, cache, store, NewLimiterCache()))
	app.Use(IPRateLimit(rl, store))
	app.Get("/", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusOK) })
	return app
}

func get(t *testing.T, app *fiber.App, key string) int {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	return resp.StatusCode
}

func TestAPIKeyAuth_StoreNotReady(t *testing.T) {
	app := authApp(tokens.NewCache())
	assert.Equal(t, fiber.StatusServiceUnavailable, get(t, app, "abc"))
	assert.Equal(t, fiber.StatusOK, get(t, app, ""), "anonymous requests are unaffected")
}

func TestAPIKeyAuth_InvalidKey(t *testing.T) {
	cache := tokens.NewCache()
	cache.Replace(map[string]tokens.Entry{"good": {RateLimit: 3}})
	app := authApp(cache)

	assert.Equal(t, fiber.StatusUnauthorized, get(t, app, "bad"))
}

func TestTokenQuota_OverridesIPQuota(t *testing.T) {
	cache := tokens.NewCache()
	cache.Replace(map[string]tokens.Entry{"good": {RateLimit: 3}, "unlimited": {}})
	app := authApp(cache)

	for i := 0; i < 3; i++ {
		assert.Equal(t, fiber.StatusOK, get(t, app, "good"), "request %d", i+1)
	}
	assert.Equal(t, fiber.StatusTooManyRequests, get(t, app, "good"))

	assert.Equal(t, fiber.StatusOK, get(t, app, ""))
	assert.Equal(t, fiber.StatusTooManyRequests, get(t, app, ""))

	for i := 0; i < 5; i++ {
		assert.Equal(t, fiber.StatusOK, get(t, app, "unlimited"))
	}
}

func TestLimiterCache_ReusesHandlerPerLimit(t *testing.T) {
	lc := NewLimiterCache()
	builds := 0
	build := func() fiber.Handler {
		builds++
		return func(c *fiber.Ctx) error { return nil }
	}
	lc.get(5, build)
	lc.get(5, build)
	lc.get(7, build)
	assert.Equal(t, 2, builds)
}
