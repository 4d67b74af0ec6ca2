package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Render strategies.
const (
	StrategyServer = "server"
	StrategyClient = "client"
)

// Render engines.
const (
	EngineChromedp = "chromedp"
	EngineRod      = "rod"
)

// PaperSize is a page size in inches.
type PaperSize struct {
	Width  float64 `yaml:"width"`
	Height float64 `yaml:"height"`
}

// PostgresConfig locates the API token table.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
}

// Config is the full service configuration.
type Config struct {
	App struct {
		Env string `yaml:"env"`
	} `yaml:"app"`

	Server struct {
		Host           string        `yaml:"host"`
		Port           string        `yaml:"port"`
		BodyLimitBytes int           `yaml:"body_limit_bytes"`
		ReadTimeout    time.Duration `yaml:"read_timeout"`
		RequestTimeout time.Duration `yaml:"request_timeout"`
		EnableMonitor  bool          `yaml:"enable_monitor"`
	} `yaml:"server"`

	CORS struct {
		AllowOrigins     []string `yaml:"allow_origins"`
		AllowHeaders     []string `yaml:"allow_headers"`
		AllowMethods     []string `yaml:"allow_methods"`
		AllowCredentials bool     `yaml:"allow_credentials"`
	} `yaml:"cors"`

	RateLimiter struct {
		Enabled  bool          `yaml:"enabled"`
		Max      int           `yaml:"max"`
		Interval time.Duration `yaml:"interval"`
	} `yaml:"rate_limiter"`

	Cache struct {
		RedisHost   string `yaml:"redis_host"`
		RateLimitDB int    `yaml:"redis_rate_db"`
	} `yaml:"cache"`

	Auth struct {
		Enabled     bool           `yaml:"enabled"`
		Postgres    PostgresConfig `yaml:"postgres"`
		ReloadEvery time.Duration  `yaml:"reload_interval"`
	} `yaml:"auth"`

	Limits struct {
		MaxMarkdownBytes int `yaml:"max_markdown_bytes"`
		MaxPDFBytes      int `yaml:"max_pdf_bytes"`
	} `yaml:"limits"`

	Render struct {
		Strategy        string               `yaml:"strategy"`
		Engine          string               `yaml:"engine"`
		DefaultPaper    string               `yaml:"default_paper"`
		PaperSizes      map[string]PaperSize `yaml:"paper_sizes"`
		TimeoutSecs     int                  `yaml:"timeout_secs"`
		ChromePath      string               `yaml:"chrome_path"`
		ChromeNoSandbox bool                 `yaml:"chrome_no_sandbox"`
		PoolSize        int                  `yaml:"pool_size"`
		UserDataDir     string               `yaml:"user_data_dir"`
		MaxConcurrent   int                  `yaml:"max_concurrent"`
		PrintDelay      time.Duration        `yaml:"print_delay"`
	} `yaml:"render"`

	Logger struct {
		File       string `yaml:"file"`
		Level      string `yaml:"level"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
		Compress   bool   `yaml:"compress"`
	} `yaml:"logger"`
}

// Production reports whether internal error details must be hidden from clients.
func (c Config) Production() bool {
	return strings.EqualFold(c.App.Env, "production")
}

// Addr is the listen address.
func (c Config) Addr() string {
	return c.Server.Host + c.Server.Port
}

// RenderTimeout is the per-step budget handed to the rendering backend.
func (c Config) RenderTimeout() time.Duration {
	return time.Duration(c.Render.TimeoutSecs) * time.Second
}

// Default returns a configuration that runs without any config file.
func Default() Config {
	var cfg Config
	cfg.App.Env = "development"

	cfg.Server.Host = ""
	cfg.Server.Port = ":4000"
	cfg.Server.BodyLimitBytes = 16 * 1024 * 1024
	cfg.Server.ReadTimeout = 10 * time.Second
	cfg.Server.RequestTimeout = 15 * time.Second

	cfg.CORS.AllowOrigins = []string{"http://localhost:3000", "http://localhost:3001"}
	cfg.CORS.AllowHeaders = []string{
		"X-CSRF-Token", "X-Requested-With", "Accept", "Accept-Version", "Content-Length",
		"Content-MD5", "Content-Type", "Date", "X-Api-Version", "X-API-Key",
	}
	cfg.CORS.AllowMethods = []string{"GET", "OPTIONS", "POST"}
	cfg.CORS.AllowCredentials = true

	cfg.RateLimiter.Enabled = true
	cfg.RateLimiter.Max = 20
	cfg.RateLimiter.Interval = time.Minute

	cfg.Auth.ReloadEvery = time.Minute
	cfg.Auth.Postgres.Port = 5432

	cfg.Limits.MaxMarkdownBytes = 2 * 1024 * 1024
	cfg.Limits.MaxPDFBytes = 50 * 1024 * 1024

	cfg.Render.Strategy = StrategyServer
	cfg.Render.Engine = EngineChromedp
	cfg.Render.DefaultPaper = "A4"
	cfg.Render.PaperSizes = map[string]PaperSize{
		"A4":     {Width: 8.27, Height: 11.69},
		"LETTER": {Width: 8.5, Height: 11},
	}
	cfg.Render.TimeoutSecs = 10
	cfg.Render.MaxConcurrent = defaultMaxConcurrent()
	cfg.Render.PrintDelay = 1500 * time.Millisecond

	cfg.Logger.Level = "info"
	cfg.Logger.MaxSizeMB = 10
	cfg.Logger.MaxBackups = 3
	cfg.Logger.MaxAgeDays = 7
	return cfg
}

// defaultMaxConcurrent leaves CPU headroom for Chrome child processes.
func defaultMaxConcurrent() int {
	n := runtime.GOMAXPROCS(0) / 2
	if n < 1 {
		return 1
	}
	if n > 8 {
		return 8
	}
	return n
}

// Load reads the file named by CONFIG_PATH (default config.yaml).
func Load() Config {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}
	return LoadFrom(path)
}

// LoadFrom reads a YAML file over the defaults, applies environment overrides
// and validates the result. A missing file is not an error. It panics on an
// unreadable file or invalid values.
func LoadFrom(path string) Config {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		panic(fmt.Sprintf("config: read %s: %v", path, err))
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			panic(fmt.Sprintf("config: parse %s: %v", path, err))
		}
	}

	applyEnv(&cfg)
	normalize(&cfg)

	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("config: %v", err))
	}
	return cfg
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("APP_ENV"); v != "" {
		cfg.App.Env = v
	}
	if v := os.Getenv("HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if !strings.HasPrefix(v, ":") {
			v = ":" + v
		}
		cfg.Server.Port = v
	}
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		cfg.CORS.AllowOrigins = splitList(v)
	}
	if v := os.Getenv("RATE_LIMIT_MAX"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimiter.Max = n
		}
	}
	if v := os.Getenv("RATE_LIMIT_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.RateLimiter.Interval = d
		}
	}
	if v := os.Getenv("REQUEST_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.RequestTimeout = d
		}
	}
	if v := os.Getenv("RENDER_STRATEGY"); v != "" {
		cfg.Render.Strategy = v
	}
	if v := os.Getenv("RENDER_ENGINE"); v != "" {
		cfg.Render.Engine = v
	}
	// Allow common container env var to override chrome_path.
	if cfg.Render.ChromePath == "" {
		if v := os.Getenv("CHROME_BIN"); v != "" {
			cfg.Render.ChromePath = v
		}
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Cache.RedisHost = v
	}
}

func normalize(cfg *Config) {
	cfg.Render.Strategy = strings.ToLower(strings.TrimSpace(cfg.Render.Strategy))
	cfg.Render.Engine = strings.ToLower(strings.TrimSpace(cfg.Render.Engine))
	cfg.Render.DefaultPaper = strings.ToUpper(cfg.Render.DefaultPaper)

	sizes := make(map[string]PaperSize, len(cfg.Render.PaperSizes))
	for k, v := range cfg.Render.PaperSizes {
		sizes[strings.ToUpper(k)] = v
	}
	cfg.Render.PaperSizes = sizes
}

// Validate reports the first invalid value.
func (c Config) Validate() error {
	switch c.Render.Strategy {
	case StrategyServer, StrategyClient:
	default:
		return fmt.Errorf("render.strategy must be %q or %q, got %q", StrategyServer, StrategyClient, c.Render.Strategy)
	}
	switch c.Render.Engine {
	case EngineChromedp, EngineRod:
	default:
		return fmt.Errorf("render.engine must be %q or %q, got %q", EngineChromedp, EngineRod, c.Render.Engine)
	}
	if _, ok := c.Render.PaperSizes[c.Render.DefaultPaper]; !ok {
		return fmt.Errorf("render.default_paper %q has no entry in render.paper_sizes", c.Render.DefaultPaper)
	}
	for name, p := range c.Render.PaperSizes {
		if p.Width <= 0 || p.Height <= 0 {
			return fmt.Errorf("render.paper_sizes.%s must have positive width and height", name)
		}
	}
	if c.Render.TimeoutSecs <= 0 {
		return errors.New("render.timeout_secs must be positive")
	}
	if c.Render.PoolSize < 0 {
		return errors.New("render.pool_size must not be negative")
	}
	if c.Render.PoolSize > 0 && c.Render.Engine != EngineChromedp {
		return errors.New("render.pool_size is only supported by the chromedp engine")
	}
	if c.Render.MaxConcurrent < 1 {
		return errors.New("render.max_concurrent must be at least 1")
	}
	if c.Render.PrintDelay < 0 {
		return errors.New("render.print_delay must not be negative")
	}
	if c.Server.RequestTimeout <= 0 {
		return errors.New("server.request_timeout must be positive")
	}
	if c.Limits.MaxMarkdownBytes <= 0 {
		return errors.New("limits.max_markdown_bytes must be positive")
	}
	if c.Server.BodyLimitBytes < c.Limits.MaxMarkdownBytes {
		return errors.New("server.body_limit_bytes must be at least limits.max_markdown_bytes")
	}
	if c.RateLimiter.Enabled {
		if c.RateLimiter.Max <= 0 {
			return errors.New("rate_limiter.max must be positive")
		}
		if c.RateLimiter.Interval <= 0 {
			return errors.New("rate_limiter.interval must be positive")
		}
	}
	if c.CORS.AllowCredentials {
		for _, o := range c.CORS.AllowOrigins {
			if o == "*" {
				return errors.New("cors.allow_origins must not contain \"*\" when credentials are allowed")
			}
		}
	}
	if c.Auth.Enabled && c.Auth.ReloadEvery <= 0 {
		return errors.New("auth.reload_interval must be positive")
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
