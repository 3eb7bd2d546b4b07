// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// CORS, security headers, and rate limiting.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic, minimal router setup; all dependencies injected
//   - Webhook ingress exempt from rate limiting: the provider retries on
//     anything but 200, so throttling it only multiplies traffic
package httpapi

import (
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

	_ "github.com/oferrer/wa-gateway/docs" // swagger spec
	"github.com/oferrer/wa-gateway/internal/agent"
	"github.com/oferrer/wa-gateway/internal/config"
	"github.com/oferrer/wa-gateway/internal/embeddings"
	"github.com/oferrer/wa-gateway/internal/http/handlers"
	"github.com/oferrer/wa-gateway/internal/http/middleware"
	"github.com/oferrer/wa-gateway/internal/media"
	"github.com/oferrer/wa-gateway/internal/services"
	"github.com/oferrer/wa-gateway/internal/wa"
)

// Dependencies carries the externally-constructed clients the router needs.
// Keeping construction in main makes their lifecycles (and test doubles)
// explicit.
type Dependencies struct {
	DB       *gorm.DB
	WhatsApp *wa.Client
	Agent    *agent.Client
	Embedder embeddings.Embedder
	Media    media.Store
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine: observability (tracing, metrics), CORS and security headers, the
// webhook ingress, and the operator API.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with PII scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//  7. CORS and security headers
//
// The rate limiter is applied per-group: the operator API gets it, the
// webhook ingress does not.
func RegisterRoutes(r *gin.Engine, deps Dependencies, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction (wa_ids are phone numbers)
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{
			"X-Hub-Signature-256",
			"Authorization",
		},
	}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit (1 MiB; media arrives by reference, not inline)
	r.Use(limitBody(1 << 20))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) CORS posture (safe defaults: allow all if none configured)
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header (helps tests and simple health checks).
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
			ExposeHeaders:    []string{"X-Request-ID", "Content-Length"},
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		// Echo ACAO with the request Origin when it is in the allowlist (in addition to gin-contrib/cors).
		allowed := make(map[string]struct{}, len(cfg.CORS.AllowedOrigins))
		for _, o := range cfg.CORS.AllowedOrigins {
			allowed[o] = struct{}{}
		}
		r.Use(func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
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

	// Swagger UI (behind a flag; off in production)
	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// Stored media, so the operator console can render receipt images. Only
	// mounted when the base URL is a local path; an absolute URL means a CDN
	// or reverse proxy serves the files.
	if prefix := strings.TrimSuffix(cfg.Media.BaseURL, "/"); cfg.Media.Dir != "" && strings.HasPrefix(prefix, "/") && prefix != "" {
		r.Static(prefix, cfg.Media.Dir)
	}

	// Dependency injection: services ← clients/db
	db := deps.DB
	intakeSvc := &services.IntakeService{DB: db, BotNumber: cfg.WhatsApp.BotNumber}
	responder := &services.Responder{DB: db, Sender: deps.WhatsApp, SenderName: "agent"}
	receiptSvc := &services.ReceiptService{
		DB:         db,
		Embedder:   deps.Embedder,
		Threshold:  cfg.Receipts.Threshold,
		TopK:       cfg.Receipts.TopK,
		MinTextLen: cfg.Receipts.MinTextLen,
	}
	dispatcher := &services.Dispatcher{
		DB:        db,
		Agent:     deps.Agent,
		Media:     media.NewPipeline(deps.WhatsApp, deps.Media, cfg.Media.Timeout),
		Receipts:  receiptSvc,
		Responder: responder,
		Retry: services.RetryPolicy{
			MaxAttempts: cfg.Agent.MaxAttempts,
			Delay:       cfg.Agent.RetryDelay,
		},
		AgentTimeout:     cfg.Agent.Timeout,
		Temperature:      cfg.Agent.Temperature,
		StateTTL:         cfg.StateTTL,
		VerboseFallbacks: cfg.VerboseFallbacks,
	}
	convSvc := &services.ConversationService{DB: db, Responder: responder}

	// Webhook ingress: signature-authenticated, never rate limited.
	wh := handlers.NewWebhook(intakeSvc, dispatcher, deps.WhatsApp, cfg.WhatsApp.VerifyToken, cfg.WhatsApp.AppSecret)
	r.GET("/webhook", wh.Verify)
	r.POST("/webhook", wh.Receive)

	// Operator API: rate limited and gzip-compressed.
	h := handlers.New(convSvc)
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByClientIP())
	api := groupWithPrefix(r, cfg.APIBasePath)
	api.Use(rl.Handler(), gzip.Gzip(gzip.DefaultCompression))
	{
		api.GET("/conversations", h.ListConversations)
		api.GET("/conversations/:id/messages", h.ListConversationMessages)
		api.POST("/conversations/:id/messages", h.SendOperatorMessage)
		api.POST("/conversations/:id/takeover", h.TakeoverConversation)
		api.POST("/conversations/:id/handback", h.HandBackConversation)
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
