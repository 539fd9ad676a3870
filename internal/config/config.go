// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes application settings
// such as server timeouts, logging, database paths, order quotas, automation
// behavior, and observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "go-cart-backend")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// OrdersConfig groups the admission and retry policy for the order store.
type OrdersConfig struct {
	MaxItemsPerUser int           // MAX_ITEMS_PER_USER: concurrently open orders per user
	MaxItemsPerDay  int           // MAX_ITEMS_PER_DAY: admissions per rolling 24h window
	MaxRetries      int           // MAX_RETRIES: failed attempts before Exhausted
	DedupWindow     time.Duration // DEDUP_WINDOW: identical (user, product, variant) rejection span
	BackoffBase     time.Duration // BACKOFF_BASE: first retry delay; doubles per attempt
	BackoffMax      time.Duration // BACKOFF_MAX: retry delay ceiling
}

// ExtractConfig configures the language-model extraction adapter.
type ExtractConfig struct {
	APIKey      string        // OPENAI_API_KEY
	BaseURL     string        // OPENAI_BASE_URL (chat-completions compatible endpoint)
	Model       string        // AI_MODEL
	Temperature float64       // AI_TEMPERATURE
	MaxTokens   int           // AI_MAX_TOKENS
	Timeout     time.Duration // EXTRACT_TIMEOUT: outbound call budget
}

// AutomationConfig configures the headless-browser cart executor.
type AutomationConfig struct {
	BaseURL         string        // SHEIN_BASE_URL: retail site landing page
	CartURL         string        // SHEIN_CART_URL
	LoginURL        string        // SHEIN_LOGIN_URL: used to detect lost sessions
	Headless        bool          // BROWSER_HEADLESS
	NoSandbox       bool          // BROWSER_NO_SANDBOX (required in containers)
	BrowserTimeout  time.Duration // BROWSER_TIMEOUT: per-attempt budget
	PageLoadTimeout time.Duration // PAGE_LOAD_TIMEOUT: navigation budget
	PollInterval    time.Duration // QUEUE_POLL_INTERVAL: executor idle poll
	SessionCount    int           // SESSION_COUNT: parallel browser sessions
	CookiesDir      string        // COOKIES_DIR: persisted cookie jars
	SessionTTL      time.Duration // SESSION_TTL: validity horizon for a cookie jar
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging
	LogLevel    string // debug|info|warn|error|fatal|panic
	LogPretty   bool   // pretty console logs in dev
	APIBasePath string // base path for API routes

	// App
	DBPath     string // SQLite path
	AdminToken string // ADMIN_TOKEN: shared secret for privileged endpoints
	AdminID    string // ADMIN_USER_ID: recipient of administrator alerts

	// Transport idempotency
	ReceiptTTL time.Duration // RECEIPT_TTL: how long a provider message id is remembered

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Pipeline
	Orders     OrdersConfig
	Extract    ExtractConfig
	Automation AutomationConfig

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging
		LogLevel:    strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:   getbool("LOG_PRETTY", false),
		APIBasePath: normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// App
		DBPath:     getenv("DB_PATH", "orders.db"),
		AdminToken: getenv("ADMIN_TOKEN", ""),
		AdminID:    getenv("ADMIN_USER_ID", ""),

		// Transport idempotency
		ReceiptTTL: getdur("RECEIPT_TTL", 24*time.Hour),

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Pipeline
		Orders: OrdersConfig{
			MaxItemsPerUser: getint("MAX_ITEMS_PER_USER", 20),
			MaxItemsPerDay:  getint("MAX_ITEMS_PER_DAY", 10),
			MaxRetries:      getint("MAX_RETRIES", 3),
			DedupWindow:     getdur("DEDUP_WINDOW", 24*time.Hour),
			BackoffBase:     getdur("BACKOFF_BASE", 2*time.Second),
			BackoffMax:      getdur("BACKOFF_MAX", 5*time.Minute),
		},
		Extract: ExtractConfig{
			APIKey:      getenv("OPENAI_API_KEY", ""),
			BaseURL:     getenv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
			Model:       getenv("AI_MODEL", "gpt-4"),
			Temperature: getfloat("AI_TEMPERATURE", 0.1),
			MaxTokens:   getint("AI_MAX_TOKENS", 500),
			Timeout:     getdur("EXTRACT_TIMEOUT", 30*time.Second),
		},
		Automation: AutomationConfig{
			BaseURL:         getenv("SHEIN_BASE_URL", "https://www.shein.com/fr/"),
			CartURL:         getenv("SHEIN_CART_URL", "https://www.shein.com/fr/cart"),
			LoginURL:        getenv("SHEIN_LOGIN_URL", "https://www.shein.com/fr/user/login"),
			Headless:        getbool("BROWSER_HEADLESS", true),
			NoSandbox:       getbool("BROWSER_NO_SANDBOX", false),
			BrowserTimeout:  getdur("BROWSER_TIMEOUT", 30*time.Second),
			PageLoadTimeout: getdur("PAGE_LOAD_TIMEOUT", 15*time.Second),
			PollInterval:    getdur("QUEUE_POLL_INTERVAL", 5*time.Second),
			SessionCount:    getint("SESSION_COUNT", 1),
			CookiesDir:      getenv("COOKIES_DIR", "cookies"),
			SessionTTL:      getdur("SESSION_TTL", 24*time.Hour),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-cart-backend"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return cfg, errors.New("DB_PATH must not be empty")
	}
	if cfg.ReceiptTTL <= 0 {
		return cfg, errors.New("RECEIPT_TTL must be > 0")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.Orders.MaxItemsPerUser < 1 || cfg.Orders.MaxItemsPerDay < 1 {
		return cfg, errors.New("MAX_ITEMS_PER_USER and MAX_ITEMS_PER_DAY must be >= 1")
	}
	if cfg.Orders.MaxRetries < 0 {
		return cfg, errors.New("MAX_RETRIES must be >= 0")
	}
	if cfg.Orders.DedupWindow <= 0 {
		return cfg, errors.New("DEDUP_WINDOW must be > 0")
	}
	if cfg.Orders.BackoffBase <= 0 || cfg.Orders.BackoffMax < cfg.Orders.BackoffBase {
		return cfg, errors.New("BACKOFF_BASE must be > 0 and BACKOFF_MAX >= BACKOFF_BASE")
	}
	if cfg.Extract.Timeout <= 0 {
		return cfg, errors.New("EXTRACT_TIMEOUT must be > 0")
	}
	if cfg.Extract.Temperature < 0 || cfg.Extract.Temperature > 2 {
		return cfg, errors.New("AI_TEMPERATURE must be in [0,2]")
	}
	if cfg.Extract.MaxTokens < 1 {
		return cfg, errors.New("AI_MAX_TOKENS must be >= 1")
	}
	if cfg.Automation.BrowserTimeout <= 0 || cfg.Automation.PageLoadTimeout <= 0 {
		return cfg, errors.New("browser timeouts must be positive durations")
	}
	if cfg.Automation.SessionCount < 1 {
		return cfg, errors.New("SESSION_COUNT must be >= 1")
	}
	if cfg.Automation.SessionTTL <= 0 {
		return cfg, errors.New("SESSION_TTL must be > 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
