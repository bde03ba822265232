// Package httpapi wires the Gin transport to the simulator's services,
// middleware and handlers: tracing, correlation IDs, redacted access logs,
// panic recovery, body limits, compression, metrics, idempotency, rate
// limiting, CORS and security headers.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/go-txsim/internal/config"
	"github.com/tbourn/go-txsim/internal/domain"
	"github.com/tbourn/go-txsim/internal/http/handlers"
	"github.com/tbourn/go-txsim/internal/http/middleware"
	"github.com/tbourn/go-txsim/internal/observability"
	"github.com/tbourn/go-txsim/internal/repo"
	"github.com/tbourn/go-txsim/internal/services"
)

// ledgerRepoShim adapts the repo free functions to services.LedgerRepo.
type ledgerRepoShim struct{}

func (ledgerRepoShim) GetTransaction(ctx context.Context, db *gorm.DB, id string) (*domain.TransactionRecord, error) {
	return repo.GetTransaction(ctx, db, id)
}

func (ledgerRepoShim) CountTransactions(ctx context.Context, db *gorm.DB, sender string) (int64, error) {
	return repo.CountTransactions(ctx, db, sender)
}

func (ledgerRepoShim) ListTransactionsPage(ctx context.Context, db *gorm.DB, sender string, offset, limit int) ([]domain.TransactionRecord, error) {
	return repo.ListTransactionsPage(ctx, db, sender, offset, limit)
}

func (ledgerRepoShim) TransactionsStats(ctx context.Context, db *gorm.DB, sender string) (int64, *time.Time, error) {
	return repo.TransactionsStats(ctx, db, sender)
}

func (ledgerRepoShim) ListBalances(ctx context.Context, db *gorm.DB, userID string) ([]domain.TokenBalance, error) {
	return repo.ListBalances(ctx, db, userID)
}

// idempotencyStore persists Idempotency-Key outcomes for handlers and
// answers lookups for the validator middleware.
type idempotencyStore struct {
	db  *gorm.DB
	ttl time.Duration
}

func (s idempotencyStore) Save(ctx context.Context, principal, key, transactionID string, status int) error {
	_, err := repo.CreateIdempotency(ctx, s.db, principal, key, transactionID, status, s.ttl)
	return err
}

func (s idempotencyStore) Lookup(ctx context.Context, principal, key string, now time.Time) (middleware.Replay, bool, error) {
	rec, err := repo.GetIdempotency(ctx, s.db, principal, key, now)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return middleware.Replay{}, false, nil
	case err != nil:
		return middleware.Replay{}, false, err
	}
	return middleware.Replay{TransactionID: rec.TransactionID, Status: rec.Status}, true, nil
}

// Options carries optional collaborators of RegisterRoutes.
type Options struct {
	// Registry receives the HTTP and transaction collectors and backs
	// /metrics. Nil uses the Prometheus default registry.
	Registry *prometheus.Registry
}

// RegisterRoutes builds the services over db and mounts middleware and
// endpoints on r.
//
// Middleware order:
//  1. OpenTelemetry
//  2. RequestID
//  3. RedactingLogger
//  4. Recovery
//  5. body size limit
//  6. gzip
//  7. metrics
//  8. idempotency validator (before the rate limiter so replays bypass it)
//  9. rate limiter
//  10. CORS and security headers
func RegisterRoutes(r *gin.Engine, db *gorm.DB, cfg config.Config, opts Options) *services.TransactionProcessor {
	r.HandleMethodNotAllowed = true

	var (
		reg     prometheus.Registerer = prometheus.DefaultRegisterer
		metrics http.Handler          = promhttp.Handler()
	)
	if opts.Registry != nil {
		reg = opts.Registry
		metrics = promhttp.HandlerFor(opts.Registry, promhttp.HandlerOpts{})
	}

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID())
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{"X-API-Key"},
	}))
	r.Use(middleware.Recovery())

	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	r.Use(limitBody(maxBody))
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))

	r.Use(middleware.NewHTTPMetrics(reg).Handler())
	r.GET("/metrics", gin.WrapH(metrics))

	idem := idempotencyStore{db: db, ttl: cfg.IdempotencyTTL}
	r.Use(middleware.IdempotencyValidator(middleware.IdempotencyOptions{MaxLen: 200}, idem.Lookup))

	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByPrincipalOrIP())
	r.Use(rl.Handler())

	useCORS(r, cfg.CORS)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		EnablePolicy: true,
	}))

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	r.GET("/health", healthHandler(db))
	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// services ← store ← db
	threshold := cfg.Ledger.ProposalThreshold
	proc := services.NewTransactionProcessor(services.NewGormStore(db), services.ProcessorConfig{
		GovernanceTokenID: cfg.Ledger.GovernanceTokenID,
		ProposalThreshold: &threshold,
		TitleMaxLen:       cfg.Ledger.TitleMaxLen,
	}, observability.NewTxMetrics(reg))
	ledger := services.NewLedgerService(db, ledgerRepoShim{})
	h := handlers.New(proc, ledger, idem)

	api := groupWithPrefix(r, cfg.APIBasePath)
	{
		api.POST("/transactions", h.SubmitTransaction)
		api.POST("/transactions/validate", h.ValidateTransaction)
		api.GET("/transactions", h.ListTransactions)
		api.GET("/transactions/:id", h.GetTransaction)
		api.GET("/balances/:user_id", h.GetBalances)
	}
	return proc
}

// useCORS allows every origin when no allowlist is configured. Credentials
// are never allowed.
func useCORS(r *gin.Engine, c config.CORSConfig) {
	cc := cors.Config{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{
			"Origin", "Content-Type", "Accept",
			middleware.HeaderPrincipal, middleware.HeaderIdempotencyKey, "If-None-Match",
		},
		ExposeHeaders: []string{"X-Request-ID", "ETag", middleware.HeaderIdempotencyReplayed},
		MaxAge:        12 * time.Hour,
	}
	if len(c.AllowedOrigins) == 0 {
		cc.AllowAllOrigins = true
	} else {
		cc.AllowOrigins = c.AllowedOrigins
	}
	r.Use(cors.New(cc))
}

// healthHandler reports 503 when the database does not answer a ping.
func healthHandler(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		sqlDB, err := db.DB()
		if err == nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			err = sqlDB.PingContext(ctx)
		}
		if err != nil {
			middleware.LoggerFrom(c).Warn().Err(err).Msg("health check failed")
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

// limitBody caps request bodies at maxBytes; larger bodies fail on read.
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
