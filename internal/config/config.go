// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes application settings
// such as server timeouts, logging, database selection, queue tuning, rate
// limiting, and observability.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
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
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "device-intake")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
	Environment string  // DEPLOYMENT_ENV, resource deployment.environment
}

// DBConfig selects and locates the database.
type DBConfig struct {
	Driver string // DB_DRIVER: sqlite|postgres
	Path   string // DB_PATH, SQLite file
	URL    string // DATABASE_URL, Postgres DSN
}

// DSN returns the connection string for the selected driver.
func (d DBConfig) DSN() string {
	if d.Driver == "postgres" {
		return d.URL
	}
	return d.Path
}

// QueueConfig tunes intake, draining and queue maintenance.
type QueueConfig struct {
	EnqueueBatchSize int           // ENQUEUE_BATCH_SIZE
	DrainLimit       int           // DRAIN_LIMIT, rows claimed per drain
	DrainWorkers     int           // DRAIN_WORKERS
	DrainInterval    time.Duration // DRAIN_INTERVAL, 0 disables the polling loop
	Retention        time.Duration // QUEUE_RETENTION, 0 disables pruning
	StaleClaimAfter  time.Duration // STALE_CLAIM_AFTER, 0 disables release

	RetryMode    string        // FAILED_RETRY_MODE: manual|auto
	RetryMax     int           // FAILED_RETRY_MAX
	RetryBackoff time.Duration // FAILED_RETRY_BACKOFF, base delay
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
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	APIBasePath    string // base path for API routes
	SwaggerEnabled bool   // enable Swagger UI route

	// App
	DB               DBConfig
	Queue            QueueConfig
	ArchiveBatchSize int           // ids per bulk archive checkpoint
	OpTimeout        time.Duration // per record / per device
	SKUCatalogPath   string        // optional CSV/XLSX SKU master
	MatchThreshold   float64       // high-confidence match cutoff [0,1]
	DefaultLocation  string        // location for records without one
	MaxUploadBytes   int64         // multipart import limit

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency
	IdempotencyTTL time.Duration // how long a given Idempotency-Key is valid

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
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),

		// App
		DB: DBConfig{
			Driver: strings.ToLower(getenv("DB_DRIVER", "sqlite")),
			Path:   getenv("DB_PATH", "inventory.db"),
			URL:    getenv("DATABASE_URL", ""),
		},
		Queue: QueueConfig{
			EnqueueBatchSize: getint("ENQUEUE_BATCH_SIZE", 500),
			DrainLimit:       getint("DRAIN_LIMIT", 50),
			DrainWorkers:     getint("DRAIN_WORKERS", 4),
			DrainInterval:    getdur("DRAIN_INTERVAL", 0),
			Retention:        getdur("QUEUE_RETENTION", 720*time.Hour),
			StaleClaimAfter:  getdur("STALE_CLAIM_AFTER", 10*time.Minute),
			RetryMode:        strings.ToLower(getenv("FAILED_RETRY_MODE", "manual")),
			RetryMax:         getint("FAILED_RETRY_MAX", 5),
			RetryBackoff:     getdur("FAILED_RETRY_BACKOFF", time.Minute),
		},
		ArchiveBatchSize: getint("ARCHIVE_BATCH_SIZE", 100),
		OpTimeout:        getdur("OP_TIMEOUT", 10*time.Second),
		SKUCatalogPath:   getenv("SKU_CATALOG_PATH", ""),
		MatchThreshold:   getfloat("MATCH_THRESHOLD", 0.85),
		DefaultLocation:  getenv("DEFAULT_LOCATION", "Unassigned"),
		MaxUploadBytes:   int64(getint("MAX_UPLOAD_BYTES", 32<<20)),

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

		// Idempotency
		IdempotencyTTL: getdur("IDEMPOTENCY_TTL", 24*time.Hour),

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "device-intake"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
			Environment: getenv("DEPLOYMENT_ENV", "development"),
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
	switch cfg.DB.Driver {
	case "sqlite":
		if strings.TrimSpace(cfg.DB.Path) == "" {
			return cfg, errors.New("DB_PATH must not be empty")
		}
	case "postgres":
		if strings.TrimSpace(cfg.DB.URL) == "" {
			return cfg, errors.New("DATABASE_URL is required when DB_DRIVER=postgres")
		}
	default:
		return cfg, fmt.Errorf("DB_DRIVER must be sqlite or postgres, got %q", cfg.DB.Driver)
	}
	if cfg.Queue.EnqueueBatchSize < 1 || cfg.Queue.DrainLimit < 1 || cfg.Queue.DrainWorkers < 1 || cfg.ArchiveBatchSize < 1 {
		return cfg, errors.New("ENQUEUE_BATCH_SIZE, DRAIN_LIMIT, DRAIN_WORKERS and ARCHIVE_BATCH_SIZE must be >= 1")
	}
	if cfg.Queue.DrainInterval < 0 || cfg.Queue.Retention < 0 || cfg.Queue.StaleClaimAfter < 0 {
		return cfg, errors.New("DRAIN_INTERVAL, QUEUE_RETENTION and STALE_CLAIM_AFTER must be >= 0")
	}
	switch cfg.Queue.RetryMode {
	case "manual":
	case "auto":
		if cfg.Queue.RetryMax < 1 || cfg.Queue.RetryBackoff <= 0 {
			return cfg, errors.New("FAILED_RETRY_MAX must be >= 1 and FAILED_RETRY_BACKOFF > 0 in auto mode")
		}
	default:
		return cfg, errors.New("FAILED_RETRY_MODE must be manual or auto")
	}
	if cfg.OpTimeout <= 0 {
		return cfg, errors.New("OP_TIMEOUT must be > 0")
	}
	if cfg.Queue.StaleClaimAfter > 0 && cfg.Queue.StaleClaimAfter <= cfg.OpTimeout {
		return cfg, errors.New("STALE_CLAIM_AFTER must exceed OP_TIMEOUT")
	}
	if cfg.MatchThreshold < 0 || cfg.MatchThreshold > 1 {
		return cfg, errors.New("MATCH_THRESHOLD must be between 0 and 1")
	}
	if strings.TrimSpace(cfg.DefaultLocation) == "" {
		return cfg, errors.New("DEFAULT_LOCATION must not be empty")
	}
	if cfg.MaxUploadBytes <= 0 {
		return cfg, errors.New("MAX_UPLOAD_BYTES must be > 0")
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
	if cfg.IdempotencyTTL <= 0 {
		return cfg, errors.New("IDEMPOTENCY_TTL must be > 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// LoadDotEnv loads variables from the given files (".env" when none) into
// the process environment. Variables already set win. Missing files are
// ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// ---- helpers ----

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
