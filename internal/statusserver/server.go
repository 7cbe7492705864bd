// Package statusserver exposes a Supervisor over HTTP: health, stats,
// per-agent detail, manual triggers, blackboard queries and Prometheus
// metrics.
package statusserver

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/dyluth/warren/internal/agent"
	"github.com/dyluth/warren/internal/supervisor"
	"github.com/dyluth/warren/internal/timespec"
	"github.com/dyluth/warren/pkg/blackboard"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const defaultBlackboardLimit = 100

// Pinger is an external dependency whose reachability affects health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server provides the HTTP status endpoints.
type Server struct {
	addr     string
	sup      *supervisor.Supervisor
	pinger   Pinger
	gatherer prometheus.Gatherer
	server   *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithPinger adds a dependency (the Redis mirror) to /healthz.
func WithPinger(p Pinger) Option {
	return func(s *Server) {
		s.pinger = p
	}
}

// WithGatherer serves /metrics from g instead of the default registry.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// New creates a status server for sup listening on addr.
func New(addr string, sup *supervisor.Supervisor, opts ...Option) *Server {
	s := &Server{
		addr:     addr,
		sup:      sup,
		gatherer: prometheus.DefaultGatherer,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routing for all endpoints.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.healthCheckHandler)
	mux.HandleFunc("GET /stats", s.statsHandler)
	mux.HandleFunc("GET /agents", s.listAgentsHandler)
	mux.HandleFunc("GET /agents/{name}", s.agentHandler)
	mux.HandleFunc("POST /agents/{name}/trigger", s.triggerHandler)
	mux.HandleFunc("POST /agents/{name}/pause", s.pauseHandler)
	mux.HandleFunc("POST /agents/{name}/resume", s.resumeHandler)
	mux.HandleFunc("GET /blackboard", s.blackboardHandler)
	mux.HandleFunc("GET /blackboard/{key}", s.entryHandler)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	return mux
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[StatusServer] Listening on %s", s.addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

// HealthResponse is the JSON response structure for health checks.
type HealthResponse struct {
	Status      string   `json:"status"`
	Supervisor  string   `json:"supervisor"`
	Redis       string   `json:"redis,omitempty"`
	ErrorAgents []string `json:"error_agents,omitempty"`
	Error       string   `json:"error,omitempty"`
}

// healthCheckHandler handles GET /healthz.
// Returns 200 when the supervisor is running, no agent is in the error
// state and the mirror (if any) is reachable; 503 otherwise.
func (s *Server) healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{Status: "healthy", Supervisor: "running"}
	healthy := true

	if !s.sup.Running() {
		response.Supervisor = "stopped"
		healthy = false
	}

	for _, runner := range s.sup.ListAgents() {
		if runner.Status() == agent.StatusError {
			response.ErrorAgents = append(response.ErrorAgents, runner.Name())
			healthy = false
		}
	}

	if s.pinger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := s.pinger.Ping(ctx); err != nil {
			response.Redis = "disconnected"
			response.Error = err.Error()
			healthy = false
		} else {
			response.Redis = "connected"
		}
	}

	status := http.StatusOK
	if !healthy {
		response.Status = "unhealthy"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, response)
}

func (s *Server) statsHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.sup.GetStats())
}

func (s *Server) listAgentsHandler(w http.ResponseWriter, _ *http.Request) {
	runners := s.sup.ListAgents()
	out := make([]agent.Stats, 0, len(runners))
	for _, runner := range runners {
		out = append(out, runner.Stats())
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) agentHandler(w http.ResponseWriter, r *http.Request) {
	runner, ok := s.sup.GetAgent(r.PathValue("name"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown agent")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"health":       runner.HealthCheck(),
		"capabilities": runner.Capabilities(),
		"history":      runner.History(),
		"pending":      runner.PendingTasks(),
	})
}

// triggerRequest is the optional body of POST /agents/{name}/trigger.
type triggerRequest struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

func (s *Server) triggerHandler(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if _, ok := s.sup.GetAgent(name); !ok {
		writeError(w, http.StatusNotFound, "unknown agent")
		return
	}

	var task *agent.Task
	if r.ContentLength != 0 {
		var req triggerRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
		if req.Type != "" || req.Payload != nil {
			task = &agent.Task{Type: req.Type, Payload: req.Payload}
		}
	}

	// a client disconnect must not interrupt the run
	result := s.sup.TriggerAgent(context.WithoutCancel(r.Context()), name, task)
	if result == nil {
		writeError(w, http.StatusConflict, "agent is already running")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) pauseHandler(w http.ResponseWriter, r *http.Request) {
	if !s.sup.PauseAgent(r.PathValue("name")) {
		writeError(w, http.StatusNotFound, "unknown agent")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) resumeHandler(w http.ResponseWriter, r *http.Request) {
	if !s.sup.ResumeAgent(r.PathValue("name")) {
		writeError(w, http.StatusConflict, "agent is unknown or not paused")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// blackboardHandler handles GET /blackboard.
// Query parameters: prefix, tag, agent (mutually exclusive filters), or
// since (duration or RFC3339) with limit for the most recent entries.
func (s *Server) blackboardHandler(w http.ResponseWriter, r *http.Request) {
	board := s.sup.Blackboard()
	q := r.URL.Query()

	var entries []blackboard.Entry
	switch {
	case q.Get("prefix") != "":
		entries = board.QueryByPrefix(q.Get("prefix"))
	case q.Get("tag") != "":
		entries = board.QueryByTag(q.Get("tag"))
	case q.Get("agent") != "":
		entries = board.QueryByAgent(q.Get("agent"))
	default:
		maxAge := blackboard.DefaultTTL
		if since := q.Get("since"); since != "" {
			age, err := timespec.ParseAge(since, time.Now())
			if err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			maxAge = age
		}

		limit := defaultBlackboardLimit
		if raw := q.Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				writeError(w, http.StatusBadRequest, "limit must be a positive integer")
				return
			}
			limit = n
		}
		entries = board.QueryRecent(maxAge, limit)
	}

	if entries == nil {
		entries = []blackboard.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) entryHandler(w http.ResponseWriter, r *http.Request) {
	entry, ok := s.sup.Blackboard().ReadEntry(r.PathValue("key"))
	if !ok {
		writeError(w, http.StatusNotFound, "entry not found")
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[StatusServer] [WARN] Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
