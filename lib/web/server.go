// Package web serves the daemon's diagnostics API: health, Prometheus
// metrics, pool statistics, gateway snapshots and on-demand gateway calls.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/arana198/mission-control-sub011/lib/metrics"
	"github.com/arana198/mission-control-sub011/lib/ratelimit"
)

// MaxConcurrentCalls bounds on-demand gateway calls in flight across all
// clients.
const MaxConcurrentCalls = 32

// Server is the diagnostics HTTP server.
type Server struct {
	httpServer  *http.Server
	backend     Backend
	logger      *slog.Logger
	callLimiter *ratelimit.KeyedLimiter
	ipLimiter   *RateLimiter
	callTimeout time.Duration

	mu      sync.Mutex
	running bool
	addr    string
}

// Config holds web server configuration.
type Config struct {
	// ListenAddr is the address to listen on (e.g., "127.0.0.1:8090")
	ListenAddr string
	// CallRate is on-demand calls per second allowed per gateway
	CallRate float64
	// CallBurst is the burst size for on-demand calls per gateway
	CallBurst int
	// CallTimeout bounds each on-demand call
	CallTimeout time.Duration
	// ClientRateLimit limits API requests per client address
	ClientRateLimit RateLimitConfig
	// Logger is the structured logger
	Logger *slog.Logger
}

// New creates a server for backend. Call Start to listen.
func New(cfg Config, backend Backend) *Server {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.CallRate <= 0 {
		cfg.CallRate = 2
	}
	if cfg.CallBurst <= 0 {
		cfg.CallBurst = 5
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 10 * time.Second
	}

	s := &Server{
		backend:     backend,
		logger:      cfg.Logger.With("component", "web"),
		callLimiter: ratelimit.NewKeyed(cfg.CallRate, cfg.CallBurst, 5*time.Minute),
		ipLimiter:   NewRateLimiter(cfg.ClientRateLimit),
		callTimeout: cfg.CallTimeout,
	}
	s.ipLimiter.SetOnReject(func(ip, path string) {
		metrics.RateLimitRejections.Inc()
		s.logger.Warn("client rate limited", "ip", ip, "path", path)
	})

	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.routes(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.CallTimeout + 15*time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)
	r.Use(securityHeaders)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(s.ipLimiter.Middleware)
		r.Use(requireJSONForWrites)

		r.Get("/pool", s.handlePoolStats)
		r.Post("/pool/clear", s.handlePoolClear)
		r.Get("/breakers", s.handleBreakers)
		r.Get("/gateways", s.handleGateways)
		r.Get("/gateways/{id}", s.handleGateway)
		r.With(middleware.Throttle(MaxConcurrentCalls)).
			Post("/gateways/{id}/call/{method}", s.handleGatewayCall)
	})
	return r
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Addr returns the bound address once the server is running.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Start listens and serves in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("server already running")
	}

	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	s.running = true
	s.addr = ln.Addr().String()
	s.logger.Info("web server started", "addr", s.addr)

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("server error", "error", err)
		}
	}()
	return nil
}

// Stop shuts the server down gracefully and releases the limiters.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	running := s.running
	s.running = false
	s.mu.Unlock()

	s.callLimiter.Close()
	s.ipLimiter.Close()
	if !running {
		return nil
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	s.logger.Info("web server stopped")
	return nil
}

// writeJSON writes a JSON response.
func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("json encode error", "error", err)
	}
}

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error string `json:"error"`
	Code  int    `json:"code,omitempty"`
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, code int, message string) {
	s.writeJSON(w, status, errorBody{Error: message, Code: code})
}
