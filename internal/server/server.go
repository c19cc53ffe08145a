// Package server exposes a room to browsers and scripts over HTTP: a JSON
// API, a server-sent event stream, a WebSocket stream and Prometheus metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/plaudern/plaudern/internal/chat"
	"github.com/plaudern/plaudern/internal/roomsync"
)

// Engine is the part of the sync controller the server drives.
type Engine interface {
	Room() string
	User() chat.Sender
	Display() roomsync.Display
	State() roomsync.State
	Messages() []chat.Message
	Subscribe(fn func([]chat.Message)) (unsubscribe func())
	Submit(ctx context.Context, d chat.Draft) error
}

// DefaultHeartbeat is the interval between SSE heartbeats.
const DefaultHeartbeat = 15 * time.Second

// Opts holds configuration for the presentation server.
type Opts struct {
	Engine       Engine
	Connectivity roomsync.ConnectivitySource
	Host         string
	Port         int
	Heartbeat    time.Duration // defaults to DefaultHeartbeat
	Logger       zerolog.Logger
}

// Server serves one room.
type Server struct {
	engine    Engine
	conn      roomsync.ConnectivitySource
	addr      string
	heartbeat time.Duration
	log       zerolog.Logger
	router    *gin.Engine
	handler   http.Handler
}

// New builds the server and its routes.
func New(opts Opts) (*Server, error) {
	if opts.Engine == nil {
		return nil, fmt.Errorf("server: engine is required")
	}
	if opts.Connectivity == nil {
		return nil, fmt.Errorf("server: connectivity source is required")
	}
	if opts.Port <= 0 {
		opts.Port = 8080
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = DefaultHeartbeat
	}

	s := &Server{
		engine:    opts.Engine,
		conn:      opts.Connectivity,
		addr:      net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port)),
		heartbeat: opts.Heartbeat,
		log:       opts.Logger.With().Str("component", "server").Logger(),
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(s.log), requestMetrics())
	s.registerRoutes(router)
	s.router = router

	// The WebSocket upgrade hijacks the connection, which gin's wrapped
	// writer refuses, so /api/ws is served beside the router.
	mux := http.NewServeMux()
	mux.Handle("GET /api/ws", http.HandlerFunc(s.serveWS))
	mux.Handle("/", router)
	s.handler = mux
	return s, nil
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.addr,
		Handler: s.handler,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	s.log.Info().Str("addr", s.addr).Msgf("serving room %q at http://%s", s.engine.Room(), s.addr)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}

// registerRoutes sets up all routes on the Gin router.
func (s *Server) registerRoutes(router *gin.Engine) {
	router.GET("/healthz", handleHealth())
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	api.GET("/messages", s.handleListMessages())
	api.POST("/messages", s.handlePostMessage())
	api.GET("/status", s.handleStatus())
	api.GET("/events", s.handleSSE())
}
