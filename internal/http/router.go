// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// webhook replay detection, rate limiting, CORS, and security headers.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic, minimal router setup; all dependencies injected
//   - The webhook surface stays public for the chat provider; everything
//     administrative sits behind the shared admin token
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/adiouf/go-cart-backend/internal/config"
	"github.com/adiouf/go-cart-backend/internal/domain"
	"github.com/adiouf/go-cart-backend/internal/http/handlers"
	"github.com/adiouf/go-cart-backend/internal/http/middleware"
	"github.com/adiouf/go-cart-backend/internal/recap"
	"github.com/adiouf/go-cart-backend/internal/repo"
	"github.com/adiouf/go-cart-backend/internal/services"
)

// orderRepoShim adapts the repository free functions to the
// services.OrderRepo interface expected by the OrderService. This keeps
// services decoupled from the concrete repo package while reusing existing
// functions.
type orderRepoShim struct{}

// CreateOrder proxies repo.CreateOrder.
func (orderRepoShim) CreateOrder(ctx context.Context, db *gorm.DB, o *domain.Order) (*domain.Order, error) {
	return repo.CreateOrder(ctx, db, o)
}

// GetOrder proxies repo.GetOrder.
func (orderRepoShim) GetOrder(ctx context.Context, db *gorm.DB, id string) (*domain.Order, error) {
	return repo.GetOrder(ctx, db, id)
}

// UpdateOrderStatusCAS proxies repo.UpdateOrderStatusCAS.
func (orderRepoShim) UpdateOrderStatusCAS(ctx context.Context, db *gorm.DB, id string, from, to domain.OrderStatus, extra map[string]any) error {
	return repo.UpdateOrderStatusCAS(ctx, db, id, from, to, extra)
}

// ListQueued proxies repo.ListQueued.
func (orderRepoShim) ListQueued(ctx context.Context, db *gorm.DB, now time.Time) ([]domain.Order, error) {
	return repo.ListQueued(ctx, db, now)
}

// ListDueRetries proxies repo.ListDueRetries.
func (orderRepoShim) ListDueRetries(ctx context.Context, db *gorm.DB, now time.Time) ([]domain.Order, error) {
	return repo.ListDueRetries(ctx, db, now)
}

// CountOpenOrders proxies repo.CountOpenOrders.
func (orderRepoShim) CountOpenOrders(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	return repo.CountOpenOrders(ctx, db, userID)
}

// CountOrdersSince proxies repo.CountOrdersSince.
func (orderRepoShim) CountOrdersSince(ctx context.Context, db *gorm.DB, userID string, since time.Time) (int64, error) {
	return repo.CountOrdersSince(ctx, db, userID, since)
}

// FindDuplicate proxies repo.FindDuplicate.
func (orderRepoShim) FindDuplicate(ctx context.Context, db *gorm.DB, userID, productURL, size, color string, since time.Time) (*domain.Order, error) {
	return repo.FindDuplicate(ctx, db, userID, productURL, size, color, since)
}

// ListOrdersByUser proxies repo.ListOrdersByUser.
func (orderRepoShim) ListOrdersByUser(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.Order, error) {
	return repo.ListOrdersByUser(ctx, db, userID, offset, limit)
}

// CountOrdersByUser proxies repo.CountOrdersByUser.
func (orderRepoShim) CountOrdersByUser(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	return repo.CountOrdersByUser(ctx, db, userID)
}

// OrderStatusCounts proxies repo.OrderStatusCounts.
func (orderRepoShim) OrderStatusCounts(ctx context.Context, db *gorm.DB) ([]domain.StatusCount, error) {
	return repo.OrderStatusCounts(ctx, db)
}

// userRepoShim adapts repo user functions to services.UserStore.
type userRepoShim struct{}

// EnsureUser proxies repo.EnsureUser.
func (userRepoShim) EnsureUser(ctx context.Context, db *gorm.DB, id, displayName string) (*domain.User, error) {
	return repo.EnsureUser(ctx, db, id, displayName)
}

// receiptRepoShim adapts repo receipt functions to services.ReceiptStore.
type receiptRepoShim struct{}

// GetReceipt proxies repo.GetReceipt.
func (receiptRepoShim) GetReceipt(ctx context.Context, db *gorm.DB, providerMessageID string, now time.Time) (*domain.InboundReceipt, error) {
	return repo.GetReceipt(ctx, db, providerMessageID, now)
}

// CreateReceipt proxies repo.CreateReceipt.
func (receiptRepoShim) CreateReceipt(ctx context.Context, db *gorm.DB, providerMessageID, userID, reply string, ttl time.Duration) error {
	_, err := repo.CreateReceipt(ctx, db, providerMessageID, userID, reply, ttl)
	return err
}

// Shims exposes the repo adapters for service construction in main.
func Shims() (services.OrderRepo, services.UserStore, services.ReceiptStore) {
	return orderRepoShim{}, userRepoShim{}, receiptRepoShim{}
}

// Deps carries the application services the router mounts. All services are
// constructed in main so the executor and ticker loops share the same
// instances as the HTTP surface.
type Deps struct {
	Ingest handlers.IngestService
	Orders handlers.OrderService
	Recap  *recap.Aggregator
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine. It configures observability (tracing, metrics), webhook replay
// detection, rate limiting, CORS and security headers, health and metrics
// endpoints, then mounts the public webhook and the token-protected admin
// API under the configured base path.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with PII scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Gzip compression
//  7. Metrics
//  8. Replay detector (before rate limiter so redeliveries bypass it)
//  9. Rate limiter (per user/IP, bypass on replay)
//  10. CORS and Security headers
func RegisterRoutes(r *gin.Engine, db *gorm.DB, deps Deps, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction. Sender identifiers are phone
	// numbers, so webhook bodies are never logged verbatim.
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{"Authorization"},
	}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit (1 MiB)
	r.Use(limitBody(1 << 20))

	// 6) Compress admin list/recap payloads
	r.Use(gzip.Gzip(gzip.DefaultCompression))

	// 7) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 8) Webhook replay detection (before rate limiting)
	r.Use(middleware.ReplayDetector(func(ctx context.Context, providerMessageID string, now time.Time) (bool, error) {
		rec, err := repo.GetReceipt(ctx, db, providerMessageID, now)
		if err != nil || rec == nil {
			return false, nil
		}
		return true, nil
	}))

	// 9) Token-bucket rate limiter per user/IP
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())
	r.Use(rl.Handler())

	// 10) CORS posture (safe defaults: allow all if none configured)
	if len(cfg.CORS.AllowedOrigins) == 0 {
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Security headers (HSTS only when enabled and request is HTTPS)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      false,
		EnablePolicy: true,
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	wh := handlers.NewWebhookHandler(deps.Ingest)
	oh := handlers.NewOrderHandler(deps.Orders)
	rh := handlers.NewRecapHandler(deps.Recap)

	// Public webhook, called by the chat provider
	r.POST("/webhook/message", wh.Receive)

	// Private admin API
	api := groupWithPrefix(r, cfg.APIBasePath)
	api.Use(middleware.AdminAuth(cfg.AdminToken))
	{
		// Orders
		api.GET("/orders", oh.List)
		api.GET("/orders/:id", oh.Get)
		api.POST("/orders/:id/cancel", oh.Cancel)

		// Pipeline stats
		api.GET("/stats", oh.Stats)

		// Group recap
		api.GET("/recap", rh.Get)
		api.GET("/recap/text", rh.Text)
		api.POST("/recap/finalize", rh.Finalize)
	}
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
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
