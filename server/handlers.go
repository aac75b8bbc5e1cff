package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/quillflow/quillflow/canvas"
	"github.com/quillflow/quillflow/planner"
	"github.com/quillflow/quillflow/registry"
	"github.com/quillflow/quillflow/runner"
)

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleNodeTypes returns all registered node types.
func (s *Server) handleNodeTypes(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, registry.Global().All())
}

// handleListWorkflows returns all workflows.
func (s *Server) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	records, err := s.store.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// handleGetWorkflow returns a single workflow by ID.
func (s *Server) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rec, ok, err := s.store.Get(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("workflow %q not found", id))
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// workflowPayload is the JSON body for create and update requests.
type workflowPayload struct {
	ID              string             `json:"id,omitempty"`
	Name            string             `json:"name,omitempty"`
	Definition      *canvas.Definition `json:"definition"`
	ExpectedVersion int                `json:"expectedVersion,omitempty"`
	ForceOverwrite  bool               `json:"forceOverwrite,omitempty"`
}

// handleCreateWorkflow creates a workflow from a canvas definition body.
func (s *Server) handleCreateWorkflow(w http.ResponseWriter, r *http.Request) {
	var payload workflowPayload
	if err := decodeBody(w, r, &payload); err != nil {
		return
	}
	if payload.Definition == nil {
		writeError(w, http.StatusBadRequest, "PARSE_ERROR", "workflow definition is required")
		return
	}

	diags := payload.Definition.Validate()
	if canvas.HasErrors(diags) {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR",
			"workflow validation failed", diagMessages(diags)...)
		return
	}

	now := time.Now()
	id := payload.ID
	if id == "" {
		id = uuid.New().String()
	}
	name := payload.Name
	if name == "" {
		name = payload.Definition.Name
	}

	rec := WorkflowRecord{
		ID:         id,
		Name:       name,
		Definition: payload.Definition,
		Version:    1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.store.Create(r.Context(), rec); err != nil {
		if errors.Is(err, ErrWorkflowExists) {
			writeError(w, http.StatusConflict, "CONFLICT", fmt.Sprintf("workflow %q already exists", id))
			return
		}
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, rec)
}

// handleUpdateWorkflow updates an existing workflow. Updates are guarded by
// optimistic concurrency: the request carries the version it was based on,
// and a stale version is rejected unless forceOverwrite is set.
func (s *Server) handleUpdateWorkflow(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var payload workflowPayload
	if err := decodeBody(w, r, &payload); err != nil {
		return
	}
	if payload.Definition == nil {
		writeError(w, http.StatusBadRequest, "PARSE_ERROR", "workflow definition is required")
		return
	}

	diags := payload.Definition.Validate()
	if canvas.HasErrors(diags) {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR",
			"workflow validation failed", diagMessages(diags)...)
		return
	}

	rec := WorkflowRecord{
		ID:         id,
		Name:       payload.Name,
		Definition: payload.Definition,
		Version:    payload.ExpectedVersion,
		UpdatedAt:  time.Now(),
	}
	if rec.Name == "" {
		rec.Name = payload.Definition.Name
	}

	updated, err := s.store.Update(r.Context(), rec, payload.ForceOverwrite)
	if err != nil {
		switch {
		case errors.Is(err, ErrWorkflowNotFound):
			writeError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("workflow %q not found", id))
		case errors.Is(err, ErrVersionConflict):
			writeError(w, http.StatusConflict, "VERSION_CONFLICT",
				"workflow was modified by another client; reload or set forceOverwrite")
		default:
			writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		}
		return
	}

	writeJSON(w, http.StatusOK, updated)
}

// handleDeleteWorkflow deletes a workflow by ID along with its schedules.
func (s *Server) handleDeleteWorkflow(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.store.Delete(r.Context(), id); err != nil {
		if errors.Is(err, ErrWorkflowNotFound) {
			writeError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("workflow %q not found", id))
			return
		}
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	if s.scheduleStore != nil {
		if err := s.scheduleStore.DeleteSchedulesByWorkflow(r.Context(), id); err != nil {
			s.logger.Error("delete schedules for workflow", "workflow_id", id, "error", err)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleValidateWorkflow validates a stored workflow and returns its
// diagnostics without mutating anything.
func (s *Server) handleValidateWorkflow(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rec, ok, err := s.store.Get(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("workflow %q not found", id))
		return
	}

	diags := rec.Definition.Validate()
	writeJSON(w, http.StatusOK, map[string]any{
		"valid":       !canvas.HasErrors(diags),
		"diagnostics": diags,
	})
}

// handleAssistantChat runs one planning round against the configured LLM.
func (s *Server) handleAssistantChat(w http.ResponseWriter, r *http.Request) {
	s.handlePlanningRound(w, r, false)
}

// handleAssistantOptimize runs one optimization round, which tolerates the
// longest AI latency.
func (s *Server) handleAssistantOptimize(w http.ResponseWriter, r *http.Request) {
	s.handlePlanningRound(w, r, true)
}

func (s *Server) handlePlanningRound(w http.ResponseWriter, r *http.Request, optimize bool) {
	if s.planner == nil {
		writeError(w, http.StatusServiceUnavailable, "NO_PROVIDER", "no AI provider is configured")
		return
	}

	var req planner.Request
	if err := decodeBody(w, r, &req); err != nil {
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "PARSE_ERROR", "message is required")
		return
	}

	plan := s.planner.Plan
	if optimize {
		plan = s.planner.Optimize
	}

	resp, err := plan(r.Context(), req)
	if err != nil {
		s.logger.Error("planning round failed", "workflow_id", req.WorkflowID, "error", err)
		writeError(w, http.StatusBadGateway, "PLANNER_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleAssistantProvider returns the active provider configuration the
// assistant client should use.
func (s *Server) handleAssistantProvider(w http.ResponseWriter, r *http.Request) {
	if s.providerStore == nil {
		writeError(w, http.StatusNotFound, "NO_PROVIDER", "no provider store is configured")
		return
	}

	records, err := s.providerStore.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}

	for _, rec := range records {
		if rec.Active {
			writeJSON(w, http.StatusOK, map[string]string{
				"provider": string(rec.Type),
				"model":    rec.DefaultModel,
			})
			return
		}
	}
	writeError(w, http.StatusNotFound, "NO_PROVIDER", "no active provider is configured")
}

// testRequest is the JSON body for POST /api/workflows/{id}/test.
type testRequest struct {
	TestInput map[string]any `json:"testInput,omitempty"`
	Model     string         `json:"model,omitempty"`
}

// handleTriggerTest starts a background test execution of the workflow.
func (s *Server) handleTriggerTest(w http.ResponseWriter, r *http.Request) {
	if s.tracker == nil {
		writeError(w, http.StatusServiceUnavailable, "NO_RUNNER", "test execution is not configured")
		return
	}

	id := r.PathValue("id")
	rec, ok, err := s.store.Get(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("workflow %q not found", id))
		return
	}

	var req testRequest
	if err := decodeBody(w, r, &req); err != nil {
		return
	}

	executionID, pending, err := s.tracker.Start(rec.Definition, runner.Options{
		Inputs: req.TestInput,
		Model:  req.Model,
	})
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "TEST_START_ERROR", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"executionId":  executionID,
		"pendingNodes": pending,
	})
}

// handleTestStatus returns a snapshot of one test execution, selected by the
// "id" query parameter.
func (s *Server) handleTestStatus(w http.ResponseWriter, r *http.Request) {
	if s.tracker == nil {
		writeError(w, http.StatusServiceUnavailable, "NO_RUNNER", "test execution is not configured")
		return
	}

	executionID := r.URL.Query().Get("id")
	if executionID == "" {
		writeError(w, http.StatusBadRequest, "PARSE_ERROR", "id query parameter is required")
		return
	}

	exec, err := s.tracker.Get(executionID)
	if err != nil {
		if errors.Is(err, runner.ErrExecutionNotFound) {
			writeError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("execution %q not found", executionID))
			return
		}
		writeError(w, http.StatusInternalServerError, "TRACKER_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, exec)
}

// decodeBody decodes a JSON request body, writing the error response itself.
// A non-nil return means the response is already written.
func decodeBody(w http.ResponseWriter, r *http.Request, out any) error {
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "BODY_TOO_LARGE", "request body exceeds size limit")
			return err
		}
		writeError(w, http.StatusBadRequest, "PARSE_ERROR", err.Error())
		return err
	}
	return nil
}

func diagMessages(diags []canvas.Diagnostic) []string {
	messages := make([]string, 0, len(diags))
	for _, d := range diags {
		messages = append(messages, fmt.Sprintf("%s: %s", d.Code, d.Message))
	}
	return messages
}
