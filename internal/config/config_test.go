package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "cfg.yaml")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestLoadFrom_MissingFileUsesDefaults(t *testing.T) {
	cfg := LoadFrom(filepath.Join(t.TempDir(), "nope.yaml"))

	assert.Equal(t, ":4000", cfg.Server.Port)
	assert.Equal(t, 15*time.Second, cfg.Server.RequestTimeout)
	assert.Equal(t, 2*1024*1024, cfg.Limits.MaxMarkdownBytes)
	assert.Equal(t, 20, cfg.RateLimiter.Max)
	assert.Equal(t, time.Minute, cfg.RateLimiter.Interval)
	assert.Equal(t, StrategyServer, cfg.Render.Strategy)
	assert.Equal(t, EngineChromedp, cfg.Render.Engine)
	assert.Contains(t, cfg.Render.PaperSizes, "A4")
	assert.Contains(t, cfg.Render.PaperSizes, "LETTER")
	assert.GreaterOrEqual(t, cfg.Render.MaxConcurrent, 1)
	assert.False(t, cfg.Production())
}

func TestLoadFrom_Valid(t *testing.T) {
	p := writeConfig(t, `
app:
  env: production
server:
  host: "127.0.0.1"
  port: ":9000"
  request_timeout: 30s
cors:
  allow_origins: ["https://mark2pdf.example"]
rate_limiter:
  enabled: true
  max: 5
  interval: 1h
render:
  strategy: Client
  engine: rod
  default_paper: letter
  paper_sizes:
    letter:
      width: 8.5
      height: 11
  timeout_secs: 3
  print_delay: 500ms
`)
	cfg := LoadFrom(p)

	assert.True(t, cfg.Production())
	assert.Equal(t, "127.0.0.1:9000", cfg.Addr())
	assert.Equal(t, 30*time.Second, cfg.Server.RequestTimeout)
	assert.Equal(t, []string{"https://mark2pdf.example"}, cfg.CORS.AllowOrigins)
	assert.Equal(t, 5, cfg.RateLimiter.Max)
	assert.Equal(t, StrategyClient, cfg.Render.Strategy)
	assert.Equal(t, EngineRod, cfg.Render.Engine)
	assert.Equal(t, "LETTER", cfg.Render.DefaultPaper)
	assert.Equal(t, 3*time.Second, cfg.RenderTimeout())
	assert.Equal(t, 500*time.Millisecond, cfg.Render.PrintDelay)
}

func TestLoadFrom_EnvOverridesFile(t *testing.T) {
	p := writeConfig(t, `
server:
  port: ":9000"
rate_limiter:
  max: 5
`)
	t.Setenv("PORT", "7070")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("RATE_LIMIT_MAX", "50")
	t.Setenv("RATE_LIMIT_WINDOW", "2m")
	t.Setenv("REQUEST_TIMEOUT", "20s")
	t.Setenv("RENDER_STRATEGY", "client")
	t.Setenv("CHROME_BIN", "/usr/bin/chromium")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("APP_ENV", "production")

	cfg := LoadFrom(p)

	assert.Equal(t, ":7070", cfg.Server.Port)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORS.AllowOrigins)
	assert.Equal(t, 50, cfg.RateLimiter.Max)
	assert.Equal(t, 2*time.Minute, cfg.RateLimiter.Interval)
	assert.Equal(t, 20*time.Second, cfg.Server.RequestTimeout)
	assert.Equal(t, StrategyClient, cfg.Render.Strategy)
	assert.Equal(t, "/usr/bin/chromium", cfg.Render.ChromePath)
	assert.Equal(t, "redis:6379", cfg.Cache.RedisHost)
	assert.True(t, cfg.Production())
}

func TestLoadFrom_PanicsOnInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		yml  string
	}{
		{name: "unknown strategy", yml: "render:\n  strategy: carrier-pigeon\n"},
		{name: "unknown engine", yml: "render:\n  engine: wkhtmltopdf\n"},
		{name: "default paper missing", yml: "render:\n  default_paper: B0\n"},
		{name: "zero render timeout", yml: "render:\n  timeout_secs: 0\n"},
		{name: "pool with rod", yml: "render:\n  engine: rod\n  pool_size: 2\n"},
		{name: "zero request timeout", yml: "server:\n  request_timeout: 0s\n"},
		{name: "zero rate max", yml: "rate_limiter:\n  enabled: true\n  max: 0\n"},
		{name: "wildcard origin with credentials", yml: "cors:\n  allow_origins: ['*']\n  allow_credentials: true\n"},
		{name: "body limit below markdown limit", yml: "server:\n  body_limit_bytes: 10\n"},
		{name: "broken yaml", yml: "server: [\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := writeConfig(t, tc.yml)
			defer func() {
				if recover() == nil {
					t.Fatalf("expected panic")
				}
			}()
			_ = LoadFrom(p)
		})
	}
}

func TestLoad_UsesConfigPathEnv(t *testing.T) {
	p := writeConfig(t, "server:\n  port: \":8123\"\n")
	t.Setenv("CONFIG_PATH", p)
	cfg := Load()
	require.Equal(t, ":8123", cfg.Server.Port)
}

func TestLoadFrom_ExampleFile(t *testing.T) {
	cfg := LoadFrom(filepath.Join("..", "..", "config.example.yaml"))

	assert.Equal(t, StrategyServer, cfg.Render.Strategy)
	assert.Equal(t, 2, cfg.Render.MaxConcurrent)
	assert.Equal(t, 1500*time.Millisecond, cfg.Render.PrintDelay)
	assert.Equal(t, PaperSize{Width: 8.5, Height: 11}, cfg.Render.PaperSizes["LETTER"])
	assert.Equal(t, 5432, cfg.Auth.Postgres.Port)
}
