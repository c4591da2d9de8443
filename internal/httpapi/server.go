// Package httpapi exposes the orchestrator over HTTP: a JSON search endpoint,
// workflow status lookup, live progress over SSE and WebSocket, and health.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/medsearch-ai/orchestrator/internal/models"
	"github.com/medsearch-ai/orchestrator/internal/streaming"
	"github.com/medsearch-ai/orchestrator/internal/workflow"
)

// Executor runs search workflows. Satisfied by workflow.Engine.
type Executor interface {
	Execute(ctx context.Context, q models.Query) (*models.Response, error)
	Checkpoint(ctx context.Context, workflowID string) (*workflow.State, error)
}

// HealthCheck probes one dependency; a non-nil error reports it unreachable.
type HealthCheck func(ctx context.Context) error

// Server wires the HTTP surface.
type Server struct {
	exec    Executor
	stream  *StreamingHandler
	origins []string
	logger  *zap.Logger

	mu     sync.RWMutex
	checks map[string]HealthCheck
}

// NewServer builds the API server. allowedOrigins configures CORS; an empty
// list allows all origins.
func NewServer(exec Executor, mgr *streaming.Manager, allowedOrigins []string, logger *zap.Logger) *Server {
	return &Server{
		exec:    exec,
		stream:  NewStreamingHandler(mgr, logger),
		origins: allowedOrigins,
		logger:  logger,
		checks:  make(map[string]HealthCheck),
	}
}

// AddHealthCheck registers a named dependency probe reported by /healthz.
func (s *Server) AddHealthCheck(name string, check HealthCheck) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks[name] = check
}

// Handler returns the fully routed and CORS-wrapped handler.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/api/v1/search", s.handleSearch).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/workflows/{id}", s.handleWorkflowStatus).Methods(http.MethodGet)
	r.HandleFunc("/stream/sse", s.stream.handleSSE).Methods(http.MethodGet)
	r.HandleFunc("/stream/ws", s.stream.handleWS).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)

	origins := s.origins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Last-Event-ID"},
	})
	return c.Handler(r)
}

type searchRequest struct {
	Query   string                    `json:"query"`
	Filters *models.Filters           `json:"filters,omitempty"`
	Context []models.ConversationTurn `json:"context,omitempty"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "query must not be empty")
		return
	}

	resp, err := s.exec.Execute(r.Context(), models.Query{
		Text:    req.Query,
		Filters: req.Filters,
		Context: req.Context,
	})
	if err != nil {
		s.logger.Error("search failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "search could not be completed")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleWorkflowStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	state, err := s.exec.Checkpoint(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "workflow not found")
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// handleHealthz always returns 200; degraded dependencies are reported per
// component so the service keeps serving on its fallbacks.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	checks := make(map[string]HealthCheck, len(s.checks))
	for name, c := range s.checks {
		checks[name] = c
	}
	s.mu.RUnlock()

	status := "ok"
	components := make(map[string]string, len(checks))
	for name, check := range checks {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		if err := check(ctx); err != nil {
			components[name] = "unreachable"
			status = "degraded"
		} else {
			components[name] = "ok"
		}
		cancel()
	}

	resp := map[string]any{"status": status}
	if len(components) > 0 {
		resp["components"] = components
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
