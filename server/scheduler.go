package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/quillflow/quillflow/runner"
)

const (
	defaultSchedulePollInterval = 5 * time.Second
	defaultScheduleBatchLimit   = 100
)

// SchedulerConfig configures the background schedule runner.
type SchedulerConfig struct {
	Workflows    WorkflowStore
	Schedules    ScheduleStore
	Tracker      *runner.Tracker
	PollInterval time.Duration
	BatchLimit   int
	Now          func() time.Time
	Logger       *slog.Logger
}

// Scheduler periodically starts test executions for due workflow schedules.
type Scheduler struct {
	workflows    WorkflowStore
	schedules    ScheduleStore
	tracker      *runner.Tracker
	pollInterval time.Duration
	batchLimit   int
	now          func() time.Time
	logger       *slog.Logger

	mu     sync.Mutex
	active map[string]struct{}
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler creates a scheduler instance.
func NewScheduler(cfg SchedulerConfig) (*Scheduler, error) {
	if cfg.Workflows == nil {
		return nil, errors.New("scheduler workflow store is nil")
	}
	if cfg.Schedules == nil {
		return nil, errors.New("scheduler schedule store is nil")
	}
	if cfg.Tracker == nil {
		return nil, errors.New("scheduler tracker is nil")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultSchedulePollInterval
	}
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = defaultScheduleBatchLimit
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Scheduler{
		workflows:    cfg.Workflows,
		schedules:    cfg.Schedules,
		tracker:      cfg.Tracker,
		pollInterval: cfg.PollInterval,
		batchLimit:   cfg.BatchLimit,
		now:          cfg.Now,
		logger:       cfg.Logger,
		active:       map[string]struct{}{},
	}, nil
}

// Start starts background polling. A second Start is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	go func() {
		defer close(done)
		_ = s.RunOnce(loopCtx)
		ticker := time.NewTicker(s.pollInterval)
		defer ticker.Stop()

		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				_ = s.RunOnce(loopCtx)
			}
		}
	}()
}

// Stop stops background polling and waits for the loop to drain.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce executes a single scheduler pass.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	now := s.now().UTC()
	due, err := s.schedules.ListDueSchedules(ctx, now, s.batchLimit)
	if err != nil {
		return err
	}

	for _, sched := range due {
		s.processDueSchedule(ctx, sched, now)
	}
	return nil
}

func (s *Scheduler) processDueSchedule(ctx context.Context, sched Schedule, now time.Time) {
	if !sched.Enabled {
		return
	}

	if s.isActive(sched.ID) {
		s.markSkippedOverlap(ctx, sched, now)
		return
	}

	nextRunAt, err := nextCronRunUTC(sched.Cron, now)
	if err != nil {
		s.markFailure(ctx, sched, now, fmt.Errorf("invalid cron expression: %w", err))
		return
	}

	sched.NextRunAt = nextRunAt
	sched.LastStatus = ScheduleRunStatusRunning
	sched.LastError = ""
	sched.UpdatedAt = now
	if err := s.schedules.UpdateSchedule(ctx, sched); err != nil {
		s.logger.Error("update schedule before run", "schedule_id", sched.ID, "workflow_id", sched.WorkflowID, "error", err)
		return
	}

	s.markActive(sched.ID)
	go s.runSchedule(sched)
}

func (s *Scheduler) runSchedule(sched Schedule) {
	defer s.unmarkActive(sched.ID)

	ctx := context.Background()

	rec, ok, err := s.workflows.Get(ctx, sched.WorkflowID)
	if err == nil && !ok {
		err = ErrWorkflowNotFound
	}

	var executionID string
	if err == nil {
		executionID, _, err = s.tracker.Start(rec.Definition, runner.Options{
			Inputs: cloneMapAny(sched.Input),
		})
	}

	finish := s.now().UTC()
	latest, found, getErr := s.schedules.GetSchedule(ctx, sched.WorkflowID, sched.ID)
	if getErr != nil {
		s.logger.Error("load schedule after run", "schedule_id", sched.ID, "workflow_id", sched.WorkflowID, "error", getErr)
		return
	}
	if !found {
		return
	}

	latest.UpdatedAt = finish
	latest.LastRunAt = &finish
	if err != nil {
		latest.LastStatus = ScheduleRunStatusFailed
		latest.LastError = err.Error()
	} else {
		latest.LastStatus = ScheduleRunStatusCompleted
		latest.LastError = ""
		latest.LastExecutionID = executionID
	}

	if err := s.schedules.UpdateSchedule(ctx, latest); err != nil {
		s.logger.Error("persist schedule run result", "schedule_id", sched.ID, "workflow_id", sched.WorkflowID, "error", err)
	}
}

func (s *Scheduler) markSkippedOverlap(ctx context.Context, sched Schedule, now time.Time) {
	nextRunAt, err := nextCronRunUTC(sched.Cron, now)
	if err != nil {
		s.markFailure(ctx, sched, now, fmt.Errorf("invalid cron expression: %w", err))
		return
	}

	sched.NextRunAt = nextRunAt
	sched.LastStatus = ScheduleRunStatusSkippedOverlap
	sched.LastError = "skipped because prior scheduled run is still active"
	sched.UpdatedAt = now
	if err := s.schedules.UpdateSchedule(ctx, sched); err != nil {
		s.logger.Error("persist overlap skip", "schedule_id", sched.ID, "workflow_id", sched.WorkflowID, "error", err)
	}
}

func (s *Scheduler) markFailure(ctx context.Context, sched Schedule, now time.Time, runErr error) {
	nextRunAt, nextErr := nextCronRunUTC(sched.Cron, now)
	if nextErr == nil {
		sched.NextRunAt = nextRunAt
	}
	sched.LastStatus = ScheduleRunStatusFailed
	sched.LastError = runErr.Error()
	sched.UpdatedAt = now
	if err := s.schedules.UpdateSchedule(ctx, sched); err != nil {
		s.logger.Error("persist schedule failure", "schedule_id", sched.ID, "workflow_id", sched.WorkflowID, "error", err)
	}
}

func (s *Scheduler) isActive(scheduleID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.active[scheduleID]
	return ok
}

func (s *Scheduler) markActive(scheduleID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active[scheduleID] = struct{}{}
}

func (s *Scheduler) unmarkActive(scheduleID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, scheduleID)
}

func cloneMapAny(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}
