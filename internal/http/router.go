// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// CORS, security headers, idempotency, and rate limiting.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic, minimal router setup; all dependencies injected
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/device-intake/internal/config"
	"github.com/tbourn/device-intake/internal/http/docs"
	"github.com/tbourn/device-intake/internal/http/handlers"
	"github.com/tbourn/device-intake/internal/http/middleware"
	"github.com/tbourn/device-intake/internal/repo"
)

// jsonBodyLimit caps every request body except spreadsheet imports, which
// use cfg.MaxUploadBytes.
const jsonBodyLimit = 1 << 20

// Services are the application services mounted by RegisterRoutes. DB backs
// the idempotency store.
type Services struct {
	DB      *gorm.DB
	Queue   handlers.QueueService
	Archive handlers.ArchiveService
	Stats   handlers.StatsService
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine and mounts the operator API under cfg.APIBasePath.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID and Operator: correlation and identity
//  3. AccessLog: structured logs with PII scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics, then gzip
//  7. Idempotency (replays skip the limiter)
//  8. Rate limiter (per operator/IP)
//  9. CORS and security headers
func RegisterRoutes(r *gin.Engine, svc Services, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID(), middleware.Operator())

	// 3) Structured logging with redaction
	r.Use(middleware.AccessLog(middleware.RedactOptions{
		MaskHeaders: []string{"X-API-Key"},
		SkipPaths:   []string{"/metrics"},
	}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit
	importPath := joinPath(cfg.APIBasePath, "/queue/import")
	r.Use(limitBody(jsonBodyLimit, importPath))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Compression wraps the writer before Idempotency so stored bodies stay plain
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))

	// 7) Idempotent POSTs backed by the database
	lookup, save := idempotencyStore(svc.DB, cfg.IdempotencyTTL)
	r.Use(middleware.Idempotency(middleware.IdempotencyOptions{MaxLen: 200}, lookup, save))

	// 8) Token-bucket rate limiter per operator/IP
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByOperatorOrIP(), "/health", "/metrics")
	r.Use(rl.Handler())

	// 9) CORS posture (allow all if none configured)
	corsCfg := cors.Config{
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{
			"Origin", "Content-Type", "Accept", "Authorization",
			middleware.HeaderOperatorID, middleware.HeaderIdempotencyKey,
		},
		ExposeHeaders:    []string{"X-Request-ID", "Content-Length", middleware.HeaderIdempotentReplay},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}
	if len(cfg.CORS.AllowedOrigins) == 0 {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = cfg.CORS.AllowedOrigins
	}
	r.Use(cors.New(corsCfg))

	// Security headers (HSTS only when enabled and request is HTTPS)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      true,
		EnablePolicy: true,
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	// Swagger UI (opt-in)
	if cfg.SwaggerEnabled {
		docs.SwaggerInfo.BasePath = cfg.APIBasePath
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	h := handlers.New(svc.Queue, svc.Archive, svc.Stats)
	h.Retention = cfg.Queue.Retention
	h.MaxUploadBytes = cfg.MaxUploadBytes

	api := groupWithPrefix(r, cfg.APIBasePath)
	{
		// Queue
		api.POST("/queue/records", h.EnqueueRecords)
		api.GET("/queue/records", h.ListRecords)
		api.POST("/queue/import", h.ImportFile)
		api.GET("/queue/stats", h.QueueStats)
		api.POST("/queue/drain", h.Drain)
		api.POST("/queue/retry", h.RetryFailed)
		api.POST("/queue/prune", h.Prune)

		// Archive
		api.POST("/archive/bulk", h.BulkArchive)
		api.POST("/archive/nuclear", h.NuclearDelete)
		api.POST("/archive/:deviceId", h.ArchiveDevice)
		api.GET("/archive/entries", h.ListEntries)
		api.POST("/restore/:deviceId", h.RestoreDevice)

		// Stats
		api.GET("/stats/health", h.Health)
	}
}

// idempotencyStore adapts the repo functions to the middleware hooks. A nil
// db disables the store.
func idempotencyStore(db *gorm.DB, ttl time.Duration) (middleware.IdempotencyLookup, middleware.IdempotencySave) {
	if db == nil {
		return nil, nil
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	lookup := func(ctx context.Context, client, scope, key string, now time.Time) (*middleware.StoredResponse, error) {
		rec, err := repo.GetIdempotency(ctx, db, client, scope, key, now)
		if errors.Is(err, repo.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return &middleware.StoredResponse{Status: rec.Status, Body: rec.Body}, nil
	}
	save := func(ctx context.Context, client, scope, key string, resp middleware.StoredResponse) error {
		_, err := repo.CreateIdempotency(ctx, db, client, scope, key, resp.Status, resp.Body, ttl)
		if errors.Is(err, repo.ErrDuplicate) {
			return nil
		}
		return err
	}
	return lookup, save
}

// limitBody caps the request body at maxBytes using http.MaxBytesReader,
// except on the listed paths. Requests exceeding the cap cause downstream
// body reads to error.
func limitBody(maxBytes int64, except ...string) gin.HandlerFunc {
	skip := make(map[string]struct{}, len(except))
	for _, p := range except {
		skip[p] = struct{}{}
	}
	return func(c *gin.Context) {
		if _, ok := skip[c.FullPath()]; !ok {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		}
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}

func joinPath(base, p string) string {
	if base == "" || base == "/" {
		return p
	}
	return strings.TrimSuffix(base, "/") + p
}
