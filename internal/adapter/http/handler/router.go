package handler

import (
	"net/http"

	"mccapes-reconciler/internal/adapter/http/middleware"
	redisStore "mccapes-reconciler/internal/adapter/storage/redis"
	"mccapes-reconciler/internal/core/ports"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// maxBodyBytes caps webhook and ops request bodies.
const maxBodyBytes = 1 << 20

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	Mode             string
	WebhookSecret    string
	DefaultBatchSize int

	IngestSvc      ports.WebhookIngestService
	SettlementSvc  ports.SettlementService
	ReconcilerSvc  ports.ReconcilerService
	ExpirySvc      ports.ExpiryService
	ReportingSvc   ports.ReportingService
	TokenSvc       ports.TokenService
	AuditSvc       ports.AuditService        // nil = audit logging disabled
	RateLimitStore *redisStore.RateLimitStore // nil = rate limiting disabled
	HealthCheckers []ports.HealthChecker
	Metrics        http.Handler // nil = /metrics not exposed
	Logger         zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	if deps.Mode != "" {
		gin.SetMode(deps.Mode)
	}
	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.MaxBodySize(maxBodyBytes))

	// Health check (deep: PostgreSQL + Redis)
	r.GET("/health", HealthCheck(deps.HealthCheckers...))
	if deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(deps.Metrics))
	}

	swagger := r.Group("/swagger")
	{
		swagger.GET("", SwaggerUI)
		swagger.GET("/spec", SwaggerSpec)
	}

	rules := middleware.DefaultRateLimitRules()

	// Rate limiter for a group, or a no-op when the store is unavailable.
	rl := func(group string) gin.HandlerFunc {
		if deps.RateLimitStore == nil {
			return func(c *gin.Context) { c.Next() }
		}
		rule, ok := rules[group]
		if !ok {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.RateLimiter(deps.RateLimitStore, group, rule, deps.Logger)
	}

	v1 := r.Group("/api/v1")

	// --- Provider webhooks (shared secret) ---
	webhookHandler := NewWebhookHandler(deps.IngestSvc, deps.Logger)
	webhooks := v1.Group("/webhooks", middleware.WebhookAuth(deps.WebhookSecret, deps.Logger), rl("webhooks"))
	{
		webhooks.POST("/blockcypher", webhookHandler.BlockCypher)
		webhooks.POST("/helius", webhookHandler.Helius)
	}

	// --- Operator routes (JWT) ---
	opsHandler := NewOpsHandler(deps.ReportingSvc, deps.ReconcilerSvc, deps.ExpirySvc, deps.SettlementSvc, deps.DefaultBatchSize)
	ops := v1.Group("/ops",
		middleware.JWTAuth(deps.TokenSvc, deps.Logger),
		gzip.Gzip(gzip.DefaultCompression),
	)
	if deps.AuditSvc != nil {
		ops.Use(middleware.AuditLog(deps.AuditSvc))
	}
	{
		ops.GET("/stats", rl("ops"), opsHandler.GetStats)
		ops.POST("/reconcile", rl("ops_write"), opsHandler.Reconcile)
		ops.POST("/orders/expire", rl("ops_write"), opsHandler.ExpireOrders)
		ops.POST("/wallets/:id/settle", rl("ops_write"), opsHandler.SettleWallet)
	}

	return r
}
