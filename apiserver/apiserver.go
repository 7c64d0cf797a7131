// Package apiserver exposes the platform's HTTP surface: health and
// readiness endpoints backed by the supervisor's health monitor, decision
// queries backed by the store, and Prometheus metrics.
package apiserver

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/LLM-Dev-Ops/auto-optimizer/errors"
	"github.com/LLM-Dev-Ops/auto-optimizer/health"
	"github.com/LLM-Dev-Ops/auto-optimizer/service"
	"github.com/LLM-Dev-Ops/auto-optimizer/types"
)

// Name is the service name the API server registers under
const Name = "apiserver"

// HealthSource provides aggregate health, normally the service manager
type HealthSource interface {
	GetHealthStatus() health.Response
	SystemHealth() health.SystemHealth
}

// DecisionReader serves decision queries, normally the store
type DecisionReader interface {
	GetDecision(ctx context.Context, workload string) (types.Decision, error)
	ListDecisions(ctx context.Context) ([]types.Decision, error)
}

// Config tunes the HTTP server
type Config struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// Server is the HTTP API service
type Server struct {
	*service.BaseService

	cfg       Config
	healthSrc HealthSource
	decisions DecisionReader

	mu         sync.Mutex
	httpServer *http.Server
	listenAddr string // actual address after binding, for tests with port 0
}

// New creates the API server service
func New(cfg Config, healthSrc HealthSource, decisions DecisionReader, opts ...service.Option) *Server {
	if cfg.Host == "" {
		cfg.Host = "0.0.0.0"
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}

	s := &Server{
		cfg:       cfg,
		healthSrc: healthSrc,
		decisions: decisions,
	}
	s.BaseService = service.NewBaseService(Name, opts...)
	return s
}

// routes builds the request mux
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /readyz", s.handleReadyz)
	mux.HandleFunc("GET /services", s.handleServices)
	mux.HandleFunc("GET /decisions", s.handleListDecisions)
	mux.HandleFunc("GET /decisions/{workload}", s.handleGetDecision)

	if m := s.Metrics(); m != nil {
		mux.Handle("GET /metrics", m.Handler())
	}
	return mux
}

// Start binds the listener and serves until stopped
func (s *Server) Start(ctx context.Context) error {
	if s.healthSrc == nil || s.decisions == nil {
		return fmt.Errorf("%w: apiserver requires a health source and decision reader",
			errors.ErrInvalidConfig)
	}

	if err := s.BaseService.Start(ctx); err != nil {
		return err
	}

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		_ = s.BaseService.Stop(time.Second)
		return errors.Wrap(err, "Server", "Start", "bind "+addr)
	}

	httpServer := &http.Server{
		Handler:      s.routes(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	s.mu.Lock()
	s.httpServer = httpServer
	s.listenAddr = listener.Addr().String()
	s.mu.Unlock()

	s.Go(func() {
		if err := httpServer.Serve(listener); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			s.Logger().Error("http server terminated", "error", err)
			s.MarkDegraded()
		}
	})

	s.Logger().Info("http api listening", "addr", s.listenAddr)
	return nil
}

// Stop drains in-flight requests and shuts the listener down
func (s *Server) Stop(timeout time.Duration) error {
	s.mu.Lock()
	httpServer := s.httpServer
	s.httpServer = nil
	s.mu.Unlock()

	if httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			s.Logger().Warn("http shutdown incomplete, closing", "error", err)
			_ = httpServer.Close()
		}
	}

	return s.BaseService.Stop(timeout)
}

// Addr returns the bound listen address, empty before Start
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listenAddr
}

// handleHealth returns the full aggregate health report. Degraded systems
// still return 200; only an unhealthy system gets 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := s.healthSrc.GetHealthStatus()

	status := http.StatusOK
	if resp.Status == health.SystemUnhealthy {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, resp)
}

// handleHealthz is the liveness probe: the process is up and serving
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReadyz is the readiness probe: unhealthy systems are not ready
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	sys := s.healthSrc.SystemHealth()
	if sys == health.SystemUnhealthy {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": string(sys)})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": string(sys)})
}

// handleServices returns the per-service health map
func (s *Server) handleServices(w http.ResponseWriter, r *http.Request) {
	resp := s.healthSrc.GetHealthStatus()
	s.writeJSON(w, http.StatusOK, resp.Services)
}

// handleListDecisions returns the latest decision for every workload
func (s *Server) handleListDecisions(w http.ResponseWriter, r *http.Request) {
	decisions, err := s.decisions.ListDecisions(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.recordServed()
	s.writeJSON(w, http.StatusOK, decisions)
}

// handleGetDecision returns the latest decision for one workload
func (s *Server) handleGetDecision(w http.ResponseWriter, r *http.Request) {
	workload := r.PathValue("workload")

	decision, err := s.decisions.GetDecision(r.Context(), workload)
	if err != nil {
		if stderrors.Is(err, errors.ErrKeyNotFound) {
			s.writeError(w, http.StatusNotFound,
				fmt.Errorf("no decision for workload %q", workload))
			return
		}
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.recordServed()
	s.writeJSON(w, http.StatusOK, decision)
}

func (s *Server) recordServed() {
	if m := s.Metrics(); m != nil {
		m.CoreMetrics().RecordDecisionServed()
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.Logger().Error("response encoding failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

// HealthCheck reports whether the listener is serving
func (s *Server) HealthCheck(_ context.Context) (health.CheckResult, error) {
	if s.State() != service.StateRunning {
		return health.Unhealthy(fmt.Sprintf("apiserver is %s", s.State())), nil
	}

	s.mu.Lock()
	serving := s.httpServer != nil
	addr := s.listenAddr
	s.mu.Unlock()

	if !serving {
		return health.Unhealthy("http listener not active"), nil
	}
	return health.Healthy("serving").WithMetadata("addr", addr), nil
}

// Recover restarts the HTTP server
func (s *Server) Recover(ctx context.Context) error {
	s.Logger().Info("recovering apiserver via restart")
	if err := s.Stop(5 * time.Second); err != nil {
		s.Logger().Warn("stop during recovery failed", "error", err)
	}
	return s.Start(ctx)
}
