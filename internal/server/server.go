package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/axiomguard/engine/internal/auth"
)

// ServerConfig bundles everything needed to construct the HTTP server.
type ServerConfig struct {
	Handlers *Handlers
	Verifier *auth.Verifier
	// MCPServer, when non-nil, is mounted at /mcp as a StreamableHTTP
	// transport alongside the REST surface.
	MCPServer *mcpserver.MCPServer

	Port                string
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	IdleTimeout         time.Duration
	CORSAllowedOrigins  []string
	MaxRequestBodyBytes int64

	Logger *slog.Logger
}

// Server wraps an http.Server configured with this engine's routes and
// middleware chain.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// New builds the Server, wiring the route table and middleware chain. The
// middleware order (outermost first) mirrors the teacher's: request ID,
// security headers, CORS, tracing, logging, baggage, auth, recovery, then
// the handler itself.
func New(cfg ServerConfig) *Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", cfg.Handlers.HandleHealth)
	mux.HandleFunc("POST /verify", cfg.Handlers.HandleVerify)
	mux.HandleFunc("POST /embed", cfg.Handlers.HandleEmbed)
	mux.HandleFunc("POST /route", cfg.Handlers.HandleRoute)
	mux.HandleFunc("POST /recycle", cfg.Handlers.HandleRecycle)
	mux.HandleFunc("POST /bicameral_stream", cfg.Handlers.HandleBicameralStream)
	mux.HandleFunc("POST /generate/absolute_truth", cfg.Handlers.HandleGenerateAbsoluteTruth)
	mux.HandleFunc("POST /generate/neuro-symbolic", cfg.Handlers.HandleGenerateNeuroSymbolic)

	if cfg.MCPServer != nil {
		mux.Handle("/mcp", mcpserver.NewStreamableHTTPServer(cfg.MCPServer))
	}

	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = authMiddleware(cfg.Verifier, handler)
	handler = baggageMiddleware(handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = corsMiddleware(cfg.CORSAllowedOrigins, handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)

	readTimeout := cfg.ReadTimeout
	if readTimeout == 0 {
		readTimeout = 15 * time.Second
	}
	writeTimeout := cfg.WriteTimeout
	if writeTimeout == 0 {
		// Streaming routes (/bicameral_stream, /generate/neuro-symbolic) hold
		// the connection open longer than a typical JSON request.
		writeTimeout = 120 * time.Second
	}
	idleTimeout := cfg.IdleTimeout
	if idleTimeout == 0 {
		idleTimeout = 60 * time.Second
	}

	return &Server{
		httpServer: &http.Server{
			Addr:         ":" + cfg.Port,
			Handler:      handler,
			ReadTimeout:  readTimeout,
			WriteTimeout: writeTimeout,
			IdleTimeout:  idleTimeout,
		},
		logger: cfg.Logger,
	}
}

// Start begins serving and blocks until the server stops or errors. Returns
// nil on a clean shutdown via Shutdown.
func (s *Server) Start() error {
	s.logger.Info("server starting", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen and serve: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server, waiting for in-flight requests to
// complete or ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server shutting down")
	return s.httpServer.Shutdown(ctx)
}
