package server

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// schedulePayload is the JSON body for schedule create and update requests.
type schedulePayload struct {
	Cron    string         `json:"cron"`
	Enabled *bool          `json:"enabled,omitempty"`
	Input   map[string]any `json:"input,omitempty"`
}

// handleListSchedules returns all schedules for a workflow.
func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	if s.scheduleStore == nil {
		writeError(w, http.StatusNotFound, "NO_SCHEDULES", "scheduling is not configured")
		return
	}

	workflowID := r.PathValue("id")
	if !s.workflowExists(w, r, workflowID) {
		return
	}

	schedules, err := s.scheduleStore.ListSchedules(r.Context(), workflowID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, schedules)
}

// handleGetSchedule returns one schedule.
func (s *Server) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	if s.scheduleStore == nil {
		writeError(w, http.StatusNotFound, "NO_SCHEDULES", "scheduling is not configured")
		return
	}

	workflowID := r.PathValue("id")
	scheduleID := r.PathValue("schedule_id")

	sched, ok, err := s.scheduleStore.GetSchedule(r.Context(), workflowID, scheduleID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("schedule %q not found", scheduleID))
		return
	}
	writeJSON(w, http.StatusOK, sched)
}

// handleCreateSchedule creates a cron schedule for a workflow.
func (s *Server) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	if s.scheduleStore == nil {
		writeError(w, http.StatusNotFound, "NO_SCHEDULES", "scheduling is not configured")
		return
	}

	workflowID := r.PathValue("id")
	if !s.workflowExists(w, r, workflowID) {
		return
	}

	var payload schedulePayload
	if err := decodeBody(w, r, &payload); err != nil {
		return
	}

	now := time.Now().UTC()
	nextRunAt, err := nextCronRunUTC(payload.Cron, now)
	if err != nil {
		writeError(w, http.StatusBadRequest, "PARSE_ERROR", err.Error())
		return
	}

	sched := Schedule{
		ID:         uuid.New().String(),
		WorkflowID: workflowID,
		Cron:       payload.Cron,
		Enabled:    payload.Enabled == nil || *payload.Enabled,
		Input:      payload.Input,
		NextRunAt:  nextRunAt,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.scheduleStore.CreateSchedule(r.Context(), sched); err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, sched)
}

// handleUpdateSchedule updates an existing cron schedule.
func (s *Server) handleUpdateSchedule(w http.ResponseWriter, r *http.Request) {
	if s.scheduleStore == nil {
		writeError(w, http.StatusNotFound, "NO_SCHEDULES", "scheduling is not configured")
		return
	}

	workflowID := r.PathValue("id")
	scheduleID := r.PathValue("schedule_id")

	sched, ok, err := s.scheduleStore.GetSchedule(r.Context(), workflowID, scheduleID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("schedule %q not found", scheduleID))
		return
	}

	var payload schedulePayload
	if err := decodeBody(w, r, &payload); err != nil {
		return
	}

	now := time.Now().UTC()
	if payload.Cron != "" {
		nextRunAt, err := nextCronRunUTC(payload.Cron, now)
		if err != nil {
			writeError(w, http.StatusBadRequest, "PARSE_ERROR", err.Error())
			return
		}
		sched.Cron = payload.Cron
		sched.NextRunAt = nextRunAt
	}
	if payload.Enabled != nil {
		sched.Enabled = *payload.Enabled
	}
	if payload.Input != nil {
		sched.Input = payload.Input
	}
	sched.UpdatedAt = now

	if err := s.scheduleStore.UpdateSchedule(r.Context(), sched); err != nil {
		if errors.Is(err, ErrScheduleNotFound) {
			writeError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("schedule %q not found", scheduleID))
			return
		}
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sched)
}

// handleDeleteSchedule deletes a schedule.
func (s *Server) handleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	if s.scheduleStore == nil {
		writeError(w, http.StatusNotFound, "NO_SCHEDULES", "scheduling is not configured")
		return
	}

	workflowID := r.PathValue("id")
	scheduleID := r.PathValue("schedule_id")

	if err := s.scheduleStore.DeleteSchedule(r.Context(), workflowID, scheduleID); err != nil {
		if errors.Is(err, ErrScheduleNotFound) {
			writeError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("schedule %q not found", scheduleID))
			return
		}
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// workflowExists writes a 404 and returns false when the workflow is absent.
func (s *Server) workflowExists(w http.ResponseWriter, r *http.Request, workflowID string) bool {
	_, ok, err := s.store.Get(r.Context(), workflowID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return false
	}
	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("workflow %q not found", workflowID))
		return false
	}
	return true
}
