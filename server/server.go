// Package server exposes the QuillFlow HTTP API: workflow CRUD, the
// assistant chat endpoints, test execution, event streaming, provider
// management, and cron schedules.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/quillflow/quillflow/bus"
	"github.com/quillflow/quillflow/planner"
	"github.com/quillflow/quillflow/runner"
	"github.com/quillflow/quillflow/sse"
)

// ServerConfig configures a Server instance.
type ServerConfig struct {
	Store         WorkflowStore
	ScheduleStore ScheduleStore
	ProviderStore ProviderStore
	Planner       *planner.Planner
	Tracker       *runner.Tracker
	Bus           bus.EventBus
	EventStore    bus.EventStore
	CORSOrigin    string
	MaxBody       int64
	Logger        *slog.Logger
}

// Server is the QuillFlow HTTP API server.
type Server struct {
	store         WorkflowStore
	scheduleStore ScheduleStore
	providerStore ProviderStore
	planner       *planner.Planner
	tracker       *runner.Tracker
	bus           bus.EventBus
	eventStore    bus.EventStore
	corsOrigin    string
	maxBody       int64
	logger        *slog.Logger
}

// NewServer creates a new Server with the given configuration.
func NewServer(cfg ServerConfig) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	corsOrigin := cfg.CORSOrigin
	if corsOrigin == "" {
		corsOrigin = "*"
	}
	maxBody := cfg.MaxBody
	if maxBody <= 0 {
		maxBody = 1 << 20 // 1 MB default
	}
	return &Server{
		store:         cfg.Store,
		scheduleStore: cfg.ScheduleStore,
		providerStore: cfg.ProviderStore,
		planner:       cfg.Planner,
		tracker:       cfg.Tracker,
		bus:           cfg.Bus,
		eventStore:    cfg.EventStore,
		corsOrigin:    corsOrigin,
		maxBody:       maxBody,
		logger:        logger,
	}
}

// Handler returns an http.Handler with all routes and middleware wired.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)

	var handler http.Handler = mux
	handler = s.corsMiddleware(handler)
	handler = s.maxBodyMiddleware(handler)

	return handler
}

// RegisterRoutes mounts API routes onto an existing mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/node-types", s.handleNodeTypes)

	mux.HandleFunc("GET /api/workflows", s.handleListWorkflows)
	mux.HandleFunc("POST /api/workflows", s.handleCreateWorkflow)
	mux.HandleFunc("GET /api/workflows/{id}", s.handleGetWorkflow)
	mux.HandleFunc("PUT /api/workflows/{id}", s.handleUpdateWorkflow)
	mux.HandleFunc("DELETE /api/workflows/{id}", s.handleDeleteWorkflow)
	mux.HandleFunc("POST /api/workflows/{id}/validate", s.handleValidateWorkflow)

	mux.HandleFunc("POST /api/assistant/chat", s.handleAssistantChat)
	mux.HandleFunc("POST /api/assistant/optimize", s.handleAssistantOptimize)
	mux.HandleFunc("GET /api/assistant/provider", s.handleAssistantProvider)

	mux.HandleFunc("POST /api/workflows/{id}/test", s.handleTriggerTest)
	mux.HandleFunc("GET /api/test-status", s.handleTestStatus)

	if s.eventStore != nil && s.bus != nil {
		mux.Handle("GET /api/executions/{execution_id}/events", sse.NewSSEHandler(s.eventStore, s.bus))
	}

	// Provider routes
	mux.HandleFunc("GET /api/providers", s.handleListProviders)
	mux.HandleFunc("POST /api/providers", s.handleCreateProvider)
	mux.HandleFunc("GET /api/providers/{id}", s.handleGetProvider)
	mux.HandleFunc("PUT /api/providers/{id}", s.handleUpdateProvider)
	mux.HandleFunc("DELETE /api/providers/{id}", s.handleDeleteProvider)
	mux.HandleFunc("POST /api/providers/{id}/test", s.handleTestProvider)

	// Schedule routes
	mux.HandleFunc("GET /api/workflows/{id}/schedules", s.handleListSchedules)
	mux.HandleFunc("POST /api/workflows/{id}/schedules", s.handleCreateSchedule)
	mux.HandleFunc("GET /api/workflows/{id}/schedules/{schedule_id}", s.handleGetSchedule)
	mux.HandleFunc("PUT /api/workflows/{id}/schedules/{schedule_id}", s.handleUpdateSchedule)
	mux.HandleFunc("DELETE /api/workflows/{id}/schedules/{schedule_id}", s.handleDeleteSchedule)
}

// --- Middleware ---

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", s.corsOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) maxBodyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
		next.ServeHTTP(w, r)
	})
}

// --- JSON helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// apiError is the standard error envelope.
type apiError struct {
	Error apiErrorBody `json:"error"`
}

type apiErrorBody struct {
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Details []string `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, message string, details ...string) {
	body := apiError{
		Error: apiErrorBody{
			Code:    code,
			Message: message,
		},
	}
	if len(details) > 0 {
		body.Error.Details = details
	}
	writeJSON(w, status, body)
}
