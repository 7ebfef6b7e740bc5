// Package api implements the Control API Surface: the external HTTP
// command/query interface over the Workflow Engine, per spec §6. Every
// response is enveloped as {success, data?, error?}.
//
// Grounded on _examples/hugo-lorenzo-mato-quorum-ai/internal/api/server.go's
// Server/ServerOption functional-options constructor, its
// chi+middleware+cors setupRouter, and its respondJSON/respondError
// helpers (generalized here into the spec's enveloped shape rather than
// that example's bare-map responses).
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/cors"

	"github.com/andywolf/agentorch/internal/approval"
	"github.com/andywolf/agentorch/internal/config"
	"github.com/andywolf/agentorch/internal/engine"
	"github.com/andywolf/agentorch/internal/model"
	"github.com/andywolf/agentorch/internal/project"
	"github.com/andywolf/agentorch/internal/store"
)

// envelope is the {success, data?, error?} shape every response follows.
type envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope{Success: status < 400, Data: data}); err != nil {
		log.Printf("api: failed to encode response: %v", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope{Success: false, Error: message}); err != nil {
		log.Printf("api: failed to encode error response: %v", err)
	}
}

// respondErrorWithData sends a failure envelope that still carries a data
// payload, for the 503-with-setup-instructions shape spec scenario 6
// requires.
func respondErrorWithData(w http.ResponseWriter, status int, message string, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope{Success: false, Error: message, Data: data}); err != nil {
		log.Printf("api: failed to encode error response: %v", err)
	}
}

// Server exposes the Workflow Engine over HTTP.
type Server struct {
	router    chi.Router
	eng       *engine.Engine
	store     *store.Store
	projects  *project.Registry
	approvals *approval.Gate
	runsDir   string
	logger    *log.Logger

	cfgMu sync.RWMutex
	cfg   *config.Config

	agentsMu     sync.Mutex
	agentsPaused bool

	runsMu   sync.Mutex
	cancels  map[string]context.CancelFunc
	runErrs  map[string]error
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithLogger overrides the server's logger.
func WithLogger(logger *log.Logger) ServerOption {
	return func(s *Server) { s.logger = logger }
}

// WithRunsDir sets the directory run artifacts (report.md, quality.json,
// artifacts/) are read from, per spec §6's run directory layout.
func WithRunsDir(dir string) ServerOption {
	return func(s *Server) { s.runsDir = dir }
}

// WithConfig seeds the server's in-memory configuration, served by
// GET/PUT /api/config.
func WithConfig(cfg *config.Config) ServerOption {
	return func(s *Server) { s.cfg = cfg }
}

// NewServer builds a Server wired to an already-constructed Engine.
func NewServer(eng *engine.Engine, st *store.Store, projects *project.Registry, approvals *approval.Gate, opts ...ServerOption) *Server {
	s := &Server{
		eng:       eng,
		store:     st,
		projects:  projects,
		approvals: approvals,
		runsDir:   "runs",
		logger:    log.Default(),
		cfg:       &config.Config{},
		cancels:   make(map[string]context.CancelFunc),
		runErrs:   make(map[string]error),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.setupRouter()
	return s
}

// Handler returns the HTTP handler backing the server.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe starts the HTTP server, shutting down gracefully when ctx
// is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	s.logger.Printf("control API listening on %s", addr)
	return srv.ListenAndServe()
}

func (s *Server) setupRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(s.loggingMiddleware)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Requested-With"},
		AllowCredentials: false,
		MaxAge:           300,
	})
	r.Use(corsHandler.Handler)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		respondError(w, http.StatusNotFound, fmt.Sprintf("no route for %s %s", r.Method, r.URL.Path))
	})

	r.Route("/api", func(r chi.Router) {
		r.Route("/health", func(r chi.Router) {
			r.Get("/", s.handleHealth)
			r.Get("/ai", s.handleHealthAI)
		})

		r.Route("/tasks", func(r chi.Router) {
			r.Post("/", s.handleCreateTask)
			r.Get("/{taskID}", s.handleGetTask)
			r.Delete("/{taskID}", s.handleCancelTask)
		})

		r.Route("/workflows", func(r chi.Router) {
			r.Get("/", s.handleListWorkflows)
			r.Post("/", s.handleCreateWorkflow)
			r.Get("/{workflowID}", s.handleGetWorkflow)
		})

		r.Route("/agents", func(r chi.Router) {
			r.Post("/pause", s.handleAgentsPause)
			r.Post("/resume", s.handleAgentsResume)
			r.Post("/emergency-stop", s.handleAgentsEmergencyStop)
		})

		r.Get("/dashboard/status", s.handleDashboardStatus)

		r.Route("/runs/{runID}", func(r chi.Router) {
			r.Get("/report", s.handleRunReport)
			r.Get("/artifacts", s.handleRunArtifacts)
			r.Get("/quality", s.handleRunQuality)
		})

		r.Route("/config", func(r chi.Router) {
			r.Get("/", s.handleGetConfig)
			r.Put("/", s.handleUpdateConfig)
			r.Post("/validate", s.handleValidateConfig)
		})
	})

	return r
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		defer func() {
			s.logger.Printf("%s %s -> %d (%s, %dB)", r.Method, r.URL.Path, ww.Status(), time.Since(start), ww.BytesWritten())
		}()
		next.ServeHTTP(ww, r)
	})
}

// ---- health ----

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleHealthAI(w http.ResponseWriter, r *http.Request) {
	health := s.eng.CheckAIAvailability(r.Context())
	respondJSON(w, http.StatusOK, aiHealthPayload(health))
}

func aiHealthPayload(health engine.AIHealth) map[string]interface{} {
	payload := map[string]interface{}{
		"available":         health.Available,
		"ollamaRunning":     health.OllamaRunning,
		"modelsInstalled":   orEmpty(health.ModelsInstalled),
		"recommendedModels": orEmpty(health.RecommendedModels),
		"codingAgents": map[string]interface{}{
			"available": health.CodingAgentsAvailable,
			"agents":    orEmpty(health.CodingAgents),
		},
	}
	if health.SetupInstructions != "" {
		payload["setupInstructions"] = health.SetupInstructions
	}
	return payload
}

func orEmpty(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return ss
}

// ---- tasks ----

type createRequest struct {
	Instruction string `json:"instruction"`
	ProjectID   string `json:"projectId"`
}

// handleCreateTask is the §6 POST /api/tasks entry point: it checks AI
// availability synchronously (scenario 6 requires a 503 before any
// workflow is even created), then starts and asynchronously drives a
// Workflow, returning its id as runId.
func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Instruction == "" || req.ProjectID == "" {
		respondError(w, http.StatusBadRequest, "instruction and projectId are required")
		return
	}

	health := s.eng.CheckAIAvailability(r.Context())
	if !health.Available {
		respondErrorWithData(w, http.StatusServiceUnavailable, "AI unavailable", aiHealthPayload(health))
		return
	}

	runID := uuid.NewString()
	s.startWorkflow(runID, req)
	respondJSON(w, http.StatusCreated, map[string]string{"runId": runID})
}

func (s *Server) startWorkflow(id string, req createRequest) {
	if _, err := s.eng.StartWorkflow(id, req.ProjectID, req.Instruction, model.WorkflowMetadata{Priority: "normal"}); err != nil {
		s.logger.Printf("api: start workflow %s: %v", id, err)
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.runsMu.Lock()
	s.cancels[id] = cancel
	s.runsMu.Unlock()

	go func() {
		err := s.eng.Run(ctx, id)
		s.runsMu.Lock()
		delete(s.cancels, id)
		s.runErrs[id] = err
		s.runsMu.Unlock()
		if err != nil {
			s.logger.Printf("api: workflow %s finished with error: %v", id, err)
		}
	}()
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "taskID")
	wf, ok, err := s.store.GetWorkflow(id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		respondError(w, http.StatusNotFound, "task not found")
		return
	}
	respondJSON(w, http.StatusOK, workflowPayload(wf))
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "taskID")
	s.runsMu.Lock()
	cancel, ok := s.cancels[id]
	s.runsMu.Unlock()
	if !ok {
		respondError(w, http.StatusNotFound, "task not running")
		return
	}
	cancel()
	respondJSON(w, http.StatusOK, map[string]string{"taskId": id, "status": "cancelling"})
}

// ---- workflows ----

func (s *Server) handleCreateWorkflow(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Instruction == "" || req.ProjectID == "" {
		respondError(w, http.StatusBadRequest, "instruction and projectId are required")
		return
	}
	workflowID := uuid.NewString()
	s.startWorkflow(workflowID, req)
	respondJSON(w, http.StatusCreated, map[string]string{"workflowId": workflowID})
}

func (s *Server) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	workflows, err := s.store.ListWorkflows()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	statusFilter := r.URL.Query().Get("status")
	out := make([]map[string]interface{}, 0, len(workflows))
	for _, wf := range workflows {
		if statusFilter == "waiting_approval" && !s.approvals.IsWaitingApproval(wf.WorkflowID) {
			continue
		}
		out = append(out, workflowPayload(wf))
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"workflows": out})
}

func (s *Server) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "workflowID")
	wf, ok, err := s.store.GetWorkflow(id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !ok {
		respondError(w, http.StatusNotFound, "workflow not found")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"workflow": workflowPayload(wf)})
}

func workflowPayload(wf model.Workflow) map[string]interface{} {
	return map[string]interface{}{
		"workflowId":   wf.WorkflowID,
		"projectId":    wf.ProjectID,
		"instruction":  wf.Instruction,
		"currentPhase": string(wf.Phase),
		"createdAt":    wf.CreatedAt,
		"updatedAt":    wf.UpdatedAt,
		"childTickets": wf.ChildTickets,
		"metadata":     wf.Metadata,
	}
}

// ---- agent control ----

func (s *Server) handleAgentsPause(w http.ResponseWriter, _ *http.Request) {
	s.agentsMu.Lock()
	s.agentsPaused = true
	s.agentsMu.Unlock()
	respondJSON(w, http.StatusOK, map[string]string{"status": "paused"})
}

func (s *Server) handleAgentsResume(w http.ResponseWriter, _ *http.Request) {
	s.agentsMu.Lock()
	s.agentsPaused = false
	s.agentsMu.Unlock()
	respondJSON(w, http.StatusOK, map[string]string{"status": "running"})
}

func (s *Server) handleAgentsEmergencyStop(w http.ResponseWriter, _ *http.Request) {
	s.agentsMu.Lock()
	s.agentsPaused = true
	s.agentsMu.Unlock()

	s.runsMu.Lock()
	stopped := make([]string, 0, len(s.cancels))
	for id, cancel := range s.cancels {
		cancel()
		stopped = append(stopped, id)
	}
	s.runsMu.Unlock()

	respondJSON(w, http.StatusOK, map[string]interface{}{"status": "stopped", "stoppedRuns": stopped})
}

// ---- dashboard ----

func (s *Server) handleDashboardStatus(w http.ResponseWriter, r *http.Request) {
	s.runsMu.Lock()
	queueLength := len(s.cancels)
	s.runsMu.Unlock()

	records, err := s.store.ListPerformanceRecords()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	successRate := 1.0
	if len(records) > 0 {
		successes := 0
		for _, rec := range records {
			if rec.Success {
				successes++
			}
		}
		successRate = float64(successes) / float64(len(records))
	}

	s.agentsMu.Lock()
	paused := s.agentsPaused
	s.agentsMu.Unlock()

	health := s.eng.CheckAIAvailability(r.Context())
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"queueLength": queueLength,
		"successRate": successRate,
		"agentsPaused": paused,
		"aiStatus":    aiHealthPayload(health),
	})
}

// ---- run artifacts ----

func (s *Server) handleRunReport(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	content, err := os.ReadFile(filepath.Join(s.runsDir, runID, "report.md"))
	if err != nil {
		respondError(w, http.StatusNotFound, "report not found for run "+runID)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"report": string(content)})
}

func (s *Server) handleRunArtifacts(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	dir := filepath.Join(s.runsDir, runID, "artifacts")
	entries, err := os.ReadDir(dir)
	if err != nil {
		respondError(w, http.StatusNotFound, "no artifacts for run "+runID)
		return
	}
	paths := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			paths = append(paths, e.Name())
		}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"artifacts": paths})
}

func (s *Server) handleRunQuality(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	content, err := os.ReadFile(filepath.Join(s.runsDir, runID, "quality.json"))
	if err != nil {
		respondError(w, http.StatusNotFound, "no quality report for run "+runID)
		return
	}
	var raw json.RawMessage = content
	respondJSON(w, http.StatusOK, raw)
}

// ---- config ----

func (s *Server) handleGetConfig(w http.ResponseWriter, _ *http.Request) {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	respondJSON(w, http.StatusOK, s.cfg)
}

func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var next config.Config
	if err := json.NewDecoder(r.Body).Decode(&next); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := next.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.cfgMu.Lock()
	s.cfg = &next
	s.cfgMu.Unlock()
	respondJSON(w, http.StatusOK, &next)
}

func (s *Server) handleValidateConfig(w http.ResponseWriter, r *http.Request) {
	var candidate config.Config
	if err := json.NewDecoder(r.Body).Decode(&candidate); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := candidate.Validate(); err != nil {
		respondJSON(w, http.StatusOK, map[string]interface{}{"valid": false, "error": err.Error()})
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"valid": true})
}
