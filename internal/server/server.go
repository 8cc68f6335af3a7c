// Package server wires configuration, the generation coordinator and the
// HTTP/WebSocket surface together.
package server

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/bannerforge/bannerforge/internal/config"
	"github.com/bannerforge/bannerforge/internal/generation"
	apihttp "github.com/bannerforge/bannerforge/internal/http"
	"github.com/bannerforge/bannerforge/internal/logging"
	"github.com/bannerforge/bannerforge/internal/middleware"
	"github.com/bannerforge/bannerforge/internal/monitoring"
	"github.com/bannerforge/bannerforge/internal/persist"
	"github.com/bannerforge/bannerforge/internal/transport"
	"github.com/bannerforge/bannerforge/internal/ws"
)

// Server wraps the HTTP router and the session coordinator.
type Server struct {
	router *gin.Engine
	coord  *generation.Coordinator
	log    *logging.Logger
}

// New builds a server from configuration and resumes any in-flight job from
// the previous process.
func New(cfg *config.Config, log *logging.Logger) (*Server, error) {
	if log == nil {
		log = logging.NewDefault()
	}

	metrics := monitoring.NewMetrics(prometheus.DefaultRegisterer)
	store := persist.NewStore(cfg.Persist.Dir, cfg.Persist.Namespace, cfg.Persist.SessionID, log)

	client := transport.NewClient(transport.ClientConfig{
		BaseURL: cfg.Upstream.APIURL,
		Token:   cfg.Upstream.Token,
		Timeout: cfg.Upstream.Timeout,
	})
	push := transport.NewPush(transport.PushConfig{
		URL:         cfg.Upstream.PushURL,
		Token:       cfg.Upstream.Token,
		BackoffBase: cfg.Backoff.Base,
		BackoffMax:  cfg.Backoff.MaxDelay,
		MaxAttempts: cfg.Backoff.MaxAttempts,
	}, log, metrics)
	poller := transport.NewPoller(client, transport.PollConfig{
		Interval:         cfg.Poll.Interval,
		DegradedInterval: cfg.Poll.DegradedInterval,
	}, log, metrics)

	coord := generation.NewCoordinator(push, poller, client, store, log, metrics)
	if err := coord.Restore(context.Background()); err != nil {
		log.Warn("session restore failed", zap.Error(err))
	}

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if cfg.RateLimit.Enabled {
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}))
	}

	handlers := apihttp.NewHandlers(coord, store, log)
	wsHandler := ws.NewHandler(coord, log, metrics)

	router.GET("/", handlers.Root)
	router.GET("/health", handlers.Health)

	// Generation session
	router.POST("/generate", handlers.Generate)
	router.GET("/jobs/:id/status", handlers.JobStatus)
	router.POST("/jobs/:id/cancel", handlers.CancelJob)
	router.GET("/session", handlers.GetSession)
	router.DELETE("/session", handlers.ClearSession)

	// WebSocket stream
	router.GET("/stream", wsHandler.HandleConnection)

	// Metrics
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return &Server{
		router: router,
		coord:  coord,
		log:    log,
	}, nil
}

// Run starts the server on addr.
func (s *Server) Run(addr string) error {
	s.log.Info("starting bannerforge backend", zap.String("addr", addr))
	return s.router.Run(addr)
}

// Close releases the coordinator and its transports.
func (s *Server) Close() error {
	s.coord.Close()
	return nil
}
