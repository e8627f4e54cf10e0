// Package httpapi wires the HTTP transport (Gin) to the chat services,
// middleware and route handlers. Cross-cutting concerns live here: tracing,
// correlation IDs, access logging, panic recovery, metrics, compression,
// idempotency, rate limiting, CORS and security headers.
//
// Everything the router needs is injected through Deps; there is no
// package-level state beyond the Prometheus collectors.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/go-chat-stream/internal/config"
	"github.com/tbourn/go-chat-stream/internal/domain"
	"github.com/tbourn/go-chat-stream/internal/events"
	"github.com/tbourn/go-chat-stream/internal/http/handlers"
	"github.com/tbourn/go-chat-stream/internal/http/middleware"
	"github.com/tbourn/go-chat-stream/internal/provider"
	"github.com/tbourn/go-chat-stream/internal/repo"
	"github.com/tbourn/go-chat-stream/internal/services"
)

// maxBodyBytes caps every request body.
const maxBodyBytes = 1 << 20

// Deps carries the process-wide collaborators built at startup.
type Deps struct {
	DB       *gorm.DB
	Provider provider.Provider
	// Events may be nil, which disables publishing.
	Events events.Publisher
}

// sessionRepoShim adapts the repository free functions to the
// services.SessionRepo interface.
type sessionRepoShim struct{}

// CreateSession proxies repo.CreateSession.
func (sessionRepoShim) CreateSession(ctx context.Context, db *gorm.DB, title string) (*domain.ChatSession, error) {
	return repo.CreateSession(ctx, db, title)
}

// ListSessions proxies repo.ListSessions.
func (sessionRepoShim) ListSessions(ctx context.Context, db *gorm.DB) ([]domain.ChatSession, error) {
	return repo.ListSessions(ctx, db)
}

// GetSession proxies repo.GetSession.
func (sessionRepoShim) GetSession(ctx context.Context, db *gorm.DB, id string) (*domain.ChatSession, error) {
	return repo.GetSession(ctx, db, id)
}

// RenameSession proxies repo.RenameSession.
func (sessionRepoShim) RenameSession(ctx context.Context, db *gorm.DB, id, title string) (*domain.ChatSession, error) {
	return repo.RenameSession(ctx, db, id, title)
}

// DeleteSession proxies repo.DeleteSession.
func (sessionRepoShim) DeleteSession(ctx context.Context, db *gorm.DB, id string) (string, error) {
	return repo.DeleteSession(ctx, db, id)
}

// RegisterRoutes attaches all middleware and endpoints to r.
//
// Middleware order matters:
//  1. OpenTelemetry
//  2. RequestID
//  3. AccessLog (header masking, PII scrubbing)
//  4. Recovery
//  5. Body size limit
//  6. Metrics
//  7. Gzip (completion streams excluded)
//  8. Idempotency validator (before the limiter so replays bypass it)
//  9. Rate limiter
//  10. CORS and security headers
func RegisterRoutes(r *gin.Engine, deps Deps, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	pub := deps.Events
	if pub == nil {
		pub = events.Nop{}
	}

	sessSvc := services.NewSessionService(deps.DB, sessionRepoShim{})
	sessSvc.Events = pub
	if cfg.TitleMaxLen > 0 {
		sessSvc.TitleMaxLen = cfg.TitleMaxLen
	}
	msgSvc := &services.MessageService{
		DB:             deps.DB,
		Events:         pub,
		IdempotencyTTL: cfg.IdempotencyTTL,
	}
	relay := &services.Relay{
		DB:               deps.DB,
		Provider:         deps.Provider,
		IdleTimeout:      cfg.Stream.IdleTimeout,
		KeepEchoedPrompt: cfg.Stream.KeepEchoedPrompt,
	}

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID())
	r.Use(middleware.AccessLog(middleware.AccessLogOptions{
		MaskHeaders: []string{"X-API-Key"},
	}))
	r.Use(middleware.Recovery())
	r.Use(limitBody(maxBodyBytes))

	r.Use(middleware.Metrics(middleware.MetricsOptions{SkipPaths: []string{"/metrics"}}))
	r.GET("/metrics", middleware.MetricsHandler())

	// A compressing writer would buffer fragments; streams go out raw.
	r.Use(gzip.Gzip(gzip.DefaultCompression,
		gzip.WithExcludedPathsRegexs([]string{`.*/completion$`}),
	))

	r.Use(middleware.IdempotencyValidator(
		middleware.IdempotencyOptions{MaxLen: 200},
		func(ctx context.Context, chatID, key string) (bool, error) {
			return msgSvc.Replayed(ctx, chatID, key), nil
		},
	))

	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByClientIP())
	r.Use(rl.Handler())

	r.Use(corsMiddleware(cfg.CORS.AllowedOrigins)...)

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

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	h := handlers.New(sessSvc, msgSvc, relay)

	api := groupWithPrefix(r, cfg.APIBasePath)
	{
		api.GET("/sessions", h.ListSessions)
		api.POST("/sessions", h.CreateSession)
		api.PUT("/sessions/:id", h.RenameSession)
		api.DELETE("/sessions/:id", h.DeleteSession)

		api.GET("/sessions/:id/messages", h.ListMessages)
		api.POST("/sessions/:id/messages", h.AppendMessage)
		api.DELETE("/sessions/:id/messages/:messageId", h.DeleteMessage)

		api.POST("/sessions/:id/completion", h.Completion)
	}
}

// corsMiddleware returns the CORS chain. With no allowlist every origin is
// accepted and ACAO is forced to "*" even without an Origin header; with an
// allowlist, listed origins are echoed back.
func corsMiddleware(origins []string) []gin.HandlerFunc {
	methods := []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	allowHeaders := []string{"Origin", "Content-Type", "Accept", "If-None-Match", middleware.HeaderIdempotencyKey}
	expose := []string{"X-Request-ID", "ETag", "Idempotency-Replayed"}

	if len(origins) == 0 {
		return []gin.HandlerFunc{
			func(c *gin.Context) {
				c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
				c.Next()
			},
			cors.New(cors.Config{
				AllowAllOrigins:  true,
				AllowMethods:     methods,
				AllowHeaders:     allowHeaders,
				ExposeHeaders:    expose,
				AllowCredentials: false,
				MaxAge:           12 * time.Hour,
			}),
		}
	}

	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[o] = struct{}{}
	}
	return []gin.HandlerFunc{
		func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		},
		cors.New(cors.Config{
			AllowOrigins:     origins,
			AllowMethods:     methods,
			AllowHeaders:     allowHeaders,
			ExposeHeaders:    expose,
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}),
	}
}

// limitBody caps the request body at maxBytes. Reads past the cap fail with
// *http.MaxBytesError, which handlers turn into a 413.
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
