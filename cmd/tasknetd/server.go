package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/tasknet-io/tasknet/config"
	"github.com/tasknet-io/tasknet/coordinator"
	"github.com/tasknet-io/tasknet/internal/metrics"
	"github.com/tasknet-io/tasknet/internal/server"
	"github.com/tasknet-io/tasknet/plan"
	"github.com/tasknet-io/tasknet/registry"
	"github.com/tasknet-io/tasknet/statemachine"
	"github.com/tasknet-io/tasknet/types"
)

// Server wires the coordination substrate behind an HTTP surface.
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	registry    *registry.Registry
	supervisor  *coordinator.LocalSupervisor
	coordinator *coordinator.Coordinator
	plans       *statemachine.Engine
	collector   *metrics.Collector

	httpManager *server.Manager
}

// NewServer creates a server from resolved configuration.
func NewServer(cfg *config.Config, logger *zap.Logger) *Server {
	return &Server{cfg: cfg, logger: logger}
}

// Start builds the substrate and begins serving HTTP.
func (s *Server) Start() error {
	s.collector = metrics.NewCollector("tasknet", nil, s.logger)
	s.registry = registry.New(s.logger)
	s.supervisor = coordinator.NewLocalSupervisor(s.registry, s.cfg.Governor.GovernorConfig(), s.logger).
		WithCollector(s.collector).
		WithMailboxSize(s.cfg.Registry.MailboxSize)
	s.coordinator = coordinator.New(s.registry, s.supervisor,
		s.cfg.Coordinator.CoordinatorConfig(), s.collector, s.logger)
	s.plans = plan.NewEngine(statemachine.EngineConfig{
		TransitionLockTTL: s.cfg.Locks.TransitionLockTTL,
		Locks:             s.cfg.Locks.LockManagerConfig(),
	}, s.logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/api/v1/tasks", s.handleRouteTask)
	mux.HandleFunc("/api/v1/workflows", s.handleExecuteWorkflow)
	mux.HandleFunc("POST /api/v1/plans", s.handleCreatePlan)
	mux.HandleFunc("GET /api/v1/plans/{id}", s.handleGetPlan)
	mux.HandleFunc("POST /api/v1/plans/{id}/transition", s.handleTransitionPlan)
	mux.Handle("/metrics", promhttp.Handler())

	middlewares := []Middleware{
		Recovery(s.logger),
		RequestLogger(s.logger),
		MetricsMiddleware(s.collector),
	}
	if s.cfg.Server.RateLimit > 0 {
		middlewares = append(middlewares, RateLimit(s.cfg.Server.RateLimit, s.cfg.Server.RateBurst))
	}

	s.httpManager = server.NewManager(Chain(mux, middlewares...), server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     120 * time.Second,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}, s.logger)
	s.httpManager.OnShutdown(func(ctx context.Context) error {
		return s.coordinator.Shutdown(ctx)
	})

	return s.httpManager.Start()
}

// WaitForShutdown blocks until a signal or serve error, then drains the
// HTTP server and stops all supervised agents.
func (s *Server) WaitForShutdown() {
	s.httpManager.WaitForShutdown()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": Version,
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.coordinator.GetSystemStatus())
}

func (s *Server) handleRouteTask(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req struct {
		Task    types.Task        `json:"task"`
		Context types.TaskContext `json:"context,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := s.coordinator.RouteTask(r.Context(), req.Task, req.Context)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleExecuteWorkflow(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var spec types.WorkflowSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := s.coordinator.ExecuteWorkflow(r.Context(), spec)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleCreatePlan(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" {
		writeError(w, http.StatusBadRequest, "plan id is required")
		return
	}

	snap, err := s.plans.CreateEntity(req.ID, plan.StateDraft)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

func (s *Server) handleGetPlan(w http.ResponseWriter, r *http.Request) {
	snap, err := s.plans.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleTransitionPlan(w http.ResponseWriter, r *http.Request) {
	var req struct {
		From  string `json:"from"`
		To    string `json:"to"`
		Actor string `json:"actor"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	id := r.PathValue("id")
	if err := s.plans.Transition(id, statemachine.State(req.From), statemachine.State(req.To), req.Actor, nil); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	snap, err := s.plans.Get(id)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// statusFor maps substrate error codes onto HTTP status codes.
func statusFor(err error) int {
	switch types.CodeOf(err) {
	case types.ErrInvalidWorkflowSpec:
		return http.StatusBadRequest
	case types.ErrNotFound, types.ErrAgentNotFound:
		return http.StatusNotFound
	case types.ErrAlreadyRegistered, types.ErrInvalidState, types.ErrInvalidTransition,
		types.ErrStateMismatch, types.ErrLockHeld:
		return http.StatusConflict
	case types.ErrRateLimited:
		return http.StatusTooManyRequests
	case types.ErrCircuitOpen:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
