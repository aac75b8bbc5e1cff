package server

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

var (
	ErrScheduleExists   = errors.New("schedule already exists")
	ErrScheduleNotFound = errors.New("schedule not found")
)

const (
	ScheduleRunStatusRunning        = "running"
	ScheduleRunStatusCompleted      = "completed"
	ScheduleRunStatusFailed         = "failed"
	ScheduleRunStatusSkippedOverlap = "skipped_overlap"
)

// Schedule represents a persisted cron schedule for a workflow. Each firing
// starts a test execution with the stored input.
type Schedule struct {
	ID         string         `json:"id"`
	WorkflowID string         `json:"workflow_id"`
	Cron       string         `json:"cron"`
	Enabled    bool           `json:"enabled"`
	Input      map[string]any `json:"input,omitempty"`

	NextRunAt       time.Time  `json:"next_run_at"`
	LastRunAt       *time.Time `json:"last_run_at,omitempty"`
	LastExecutionID string     `json:"last_execution_id,omitempty"`
	LastStatus      string     `json:"last_status,omitempty"`
	LastError       string     `json:"last_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ScheduleStore provides CRUD + due scheduling operations.
type ScheduleStore interface {
	ListSchedules(ctx context.Context, workflowID string) ([]Schedule, error)
	GetSchedule(ctx context.Context, workflowID, scheduleID string) (Schedule, bool, error)
	CreateSchedule(ctx context.Context, schedule Schedule) error
	UpdateSchedule(ctx context.Context, schedule Schedule) error
	DeleteSchedule(ctx context.Context, workflowID, scheduleID string) error
	DeleteSchedulesByWorkflow(ctx context.Context, workflowID string) error
	ListDueSchedules(ctx context.Context, now time.Time, limit int) ([]Schedule, error)
}

// MemScheduleStore is a thread-safe in-memory schedule store.
type MemScheduleStore struct {
	mu        sync.RWMutex
	schedules map[string]Schedule
}

// NewMemScheduleStore creates an empty in-memory schedule store.
func NewMemScheduleStore() *MemScheduleStore {
	return &MemScheduleStore{schedules: make(map[string]Schedule)}
}

func (s *MemScheduleStore) ListSchedules(_ context.Context, workflowID string) ([]Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Schedule
	for _, sched := range s.schedules {
		if sched.WorkflowID == workflowID {
			out = append(out, sched)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemScheduleStore) GetSchedule(_ context.Context, workflowID, scheduleID string) (Schedule, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sched, ok := s.schedules[scheduleID]
	if !ok || sched.WorkflowID != workflowID {
		return Schedule{}, false, nil
	}
	return sched, true, nil
}

func (s *MemScheduleStore) CreateSchedule(_ context.Context, schedule Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.schedules[schedule.ID]; exists {
		return ErrScheduleExists
	}
	s.schedules[schedule.ID] = schedule
	return nil
}

func (s *MemScheduleStore) UpdateSchedule(_ context.Context, schedule Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.schedules[schedule.ID]
	if !exists || current.WorkflowID != schedule.WorkflowID {
		return ErrScheduleNotFound
	}
	s.schedules[schedule.ID] = schedule
	return nil
}

func (s *MemScheduleStore) DeleteSchedule(_ context.Context, workflowID, scheduleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.schedules[scheduleID]
	if !exists || current.WorkflowID != workflowID {
		return ErrScheduleNotFound
	}
	delete(s.schedules, scheduleID)
	return nil
}

func (s *MemScheduleStore) DeleteSchedulesByWorkflow(_ context.Context, workflowID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, sched := range s.schedules {
		if sched.WorkflowID == workflowID {
			delete(s.schedules, id)
		}
	}
	return nil
}

func (s *MemScheduleStore) ListDueSchedules(_ context.Context, now time.Time, limit int) ([]Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var due []Schedule
	for _, sched := range s.schedules {
		if sched.Enabled && !sched.NextRunAt.After(now) {
			due = append(due, sched)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].NextRunAt.Before(due[j].NextRunAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// Compile-time interface check.
var _ ScheduleStore = (*MemScheduleStore)(nil)
