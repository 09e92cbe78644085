// Package http exposes the chat coordinator over HTTP, server-sent events
// and websockets.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"souschef/internal/agent/app"
	"souschef/internal/agent/domain"
	"souschef/internal/agent/ports"
	"souschef/internal/logging"
)

// ChatService is the part of the coordinator the API needs.
type ChatService interface {
	SendMessage(ctx context.Context, threadID, content string) (*app.Reply, error)
	StreamMessage(ctx context.Context, threadID, content string, sink domain.DeltaSink) (*app.Reply, error)
	History(ctx context.Context, threadID string) (*ports.ConversationState, error)
	DeleteThread(ctx context.Context, threadID string) error
}

var _ ChatService = (*app.Coordinator)(nil)

// Config configures the API server.
type Config struct {
	Addr            string
	AllowedOrigins  []string
	RateLimit       RateLimitConfig
	ShutdownTimeout time.Duration
	Debug           bool
}

// Server serves the chat API.
type Server struct {
	config   Config
	chat     ChatService
	engine   *gin.Engine
	upgrader websocket.Upgrader
	metrics  http.Handler
	logger   logging.Logger
	started  time.Time
}

// Option customises a Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger logging.Logger) Option {
	return func(s *Server) { s.logger = logging.OrNop(logger) }
}

// WithMetricsHandler serves handler on /metrics.
func WithMetricsHandler(handler http.Handler) Option {
	return func(s *Server) { s.metrics = handler }
}

// NewServer builds the router. Call Run to listen, or use Handler directly.
func NewServer(cfg Config, chat ChatService, opts ...Option) *Server {
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 15 * time.Second
	}
	s := &Server{
		config:  cfg,
		chat:    chat,
		logger:  logging.Nop(),
		started: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.originAllowed,
	}

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestMiddleware(s.logger))
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig := cors.DefaultConfig()
		corsConfig.AllowOrigins = cfg.AllowedOrigins
		corsConfig.AllowCredentials = true
		corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", requestIDHeader}
		corsConfig.ExposeHeaders = []string{requestIDHeader}
		corsConfig.AllowWebSockets = true
		engine.Use(cors.New(corsConfig))
	}
	s.engine = engine
	s.routes()
	return s
}

func (s *Server) routes() {
	s.engine.GET("/health", s.handleHealth)
	if s.metrics != nil {
		s.engine.GET("/metrics", gin.WrapH(s.metrics))
	}

	chat := s.engine.Group("/", rateLimitMiddleware(s.config.RateLimit))
	chat.POST("/send_message", s.handleSendMessage)
	chat.GET("/stream", s.handleStream)
	chat.GET("/ws", s.handleWebSocket)

	threads := s.engine.Group("/threads")
	threads.GET("/:id/messages", s.handleHistory)
	threads.DELETE("/:id", s.handleDeleteThread)
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run listens on the configured address until ctx is done, then drains
// in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.config.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Listening on %s", s.config.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("listen on %s: %w", s.config.Addr, err)
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down API server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return <-errCh
}

func (s *Server) originAllowed(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return slices.Contains(s.config.AllowedOrigins, origin)
}
