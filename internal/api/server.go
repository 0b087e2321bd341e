// internal/api/server.go
package api

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/harborline/meridian/internal/balancer"
	"github.com/harborline/meridian/internal/failover"
)

// Server exposes the controller's routing and operational surface over HTTP.
type Server struct {
	logger    *zap.Logger
	router    chi.Router
	balancer  *balancer.Balancer
	failover  *failover.Manager
	limiter   *RateLimiter
	startTime time.Time
}

// NewServer wires the HTTP surface onto a balancer and failover manager.
func NewServer(b *balancer.Balancer, m *failover.Manager, limiter *RateLimiter, logger *zap.Logger) (*Server, error) {
	if b == nil {
		return nil, fmt.Errorf("balancer required")
	}
	if m == nil {
		return nil, fmt.Errorf("failover manager required")
	}
	if limiter == nil {
		limiter = NewRateLimiter(50, 100)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		logger:    logger,
		router:    chi.NewRouter(),
		balancer:  b,
		failover:  m,
		limiter:   limiter,
		startTime: time.Now(),
	}
	s.registerRoutes()
	return s, nil
}

// Router returns the handler for mounting into an http.Server.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Route("/v1", func(r chi.Router) {
		r.Use(s.requestLogger)
		r.Use(s.rateLimit)

		// Routing surface
		r.Post("/select", s.handleSelect)
		r.Post("/results", s.handleResult)

		// Observation
		r.Get("/status", s.handleStatus)
		r.Get("/performance", s.handlePerformance)
		r.Get("/cost", s.handleCost)
		r.Get("/weights", s.handleWeights)

		// Region administration
		r.Put("/regions/{region}/weight", s.handleSetWeight)
		r.Delete("/regions/{region}", s.handleQuarantine)

		// Failover
		r.Get("/failover", s.handleFailoverStatus)
		r.Post("/failover/recover", s.handleRecover)
	})
}

// statusRecorder captures the response code for request logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		s.logger.Debug("request handled",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)))
	})
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%g", s.limiter.Limit()))

		if !s.limiter.Allow(clientIP(r)) {
			w.WriteHeader(http.StatusTooManyRequests)
			// Handle error to satisfy gosec
			_, _ = w.Write([]byte("rate limit exceeded"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP extracts the caller's address, preferring the first hop recorded
// by an upstream proxy.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]interface{}{"error": msg})
}
