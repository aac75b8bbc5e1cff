package server

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(SQLiteStoreConfig{DSN: filepath.Join(t.TempDir(), "quillflow.db")})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStoreWorkflowRoundTrip(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	rec := WorkflowRecord{ID: "wf-1", Name: "demo", Definition: simpleDefinition("demo")}
	if err := s.Create(ctx, rec); err != nil {
		t.Fatal(err)
	}
	if err := s.Create(ctx, rec); !errors.Is(err, ErrWorkflowExists) {
		t.Errorf("duplicate create err = %v", err)
	}

	got, ok, err := s.Get(ctx, "wf-1")
	if err != nil || !ok {
		t.Fatalf("Get = %v, %v", ok, err)
	}
	if got.Name != "demo" || got.Version != 1 {
		t.Errorf("record = %+v", got)
	}
	if got.Definition == nil || len(got.Definition.Nodes) != 2 {
		t.Errorf("definition = %+v", got.Definition)
	}

	if _, ok, _ := s.Get(ctx, "ghost"); ok {
		t.Error("Get found a ghost")
	}
}

func TestSQLiteStoreUpdateVersioning(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	if err := s.Create(ctx, WorkflowRecord{ID: "wf-1", Definition: simpleDefinition("v1")}); err != nil {
		t.Fatal(err)
	}

	updated, err := s.Update(ctx, WorkflowRecord{ID: "wf-1", Definition: simpleDefinition("v2"), Version: 1}, false)
	if err != nil {
		t.Fatal(err)
	}
	if updated.Version != 2 {
		t.Errorf("version = %d, want 2", updated.Version)
	}

	if _, err := s.Update(ctx, WorkflowRecord{ID: "wf-1", Definition: simpleDefinition("v3"), Version: 1}, false); !errors.Is(err, ErrVersionConflict) {
		t.Errorf("stale update err = %v", err)
	}
	if _, err := s.Update(ctx, WorkflowRecord{ID: "ghost", Definition: simpleDefinition("x"), Version: 1}, false); !errors.Is(err, ErrWorkflowNotFound) {
		t.Errorf("missing update err = %v", err)
	}

	forced, err := s.Update(ctx, WorkflowRecord{ID: "wf-1", Definition: simpleDefinition("v3"), Version: 1}, true)
	if err != nil {
		t.Fatal(err)
	}
	if forced.Version != 3 {
		t.Errorf("forced version = %d, want 3", forced.Version)
	}
}

func TestSQLiteStoreListOrder(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	for _, id := range []string{"c", "a", "b"} {
		if err := s.Create(ctx, WorkflowRecord{ID: id, Definition: simpleDefinition(id)}); err != nil {
			t.Fatal(err)
		}
	}

	records, err := s.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 3 || records[0].ID != "c" || records[2].ID != "b" {
		t.Errorf("list order = %v", records)
	}
}

func TestSQLiteStoreDeleteWorkflowAndSchedules(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	if err := s.Create(ctx, WorkflowRecord{ID: "wf-1", Definition: simpleDefinition("demo")}); err != nil {
		t.Fatal(err)
	}
	now := time.Now().UTC()
	if err := s.CreateSchedule(ctx, Schedule{
		ID: "s-1", WorkflowID: "wf-1", Cron: "*/5 * * * *",
		Enabled: true, NextRunAt: now, CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatal(err)
	}

	if err := s.Delete(ctx, "wf-1"); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(ctx, "wf-1"); !errors.Is(err, ErrWorkflowNotFound) {
		t.Errorf("double delete err = %v", err)
	}
	if err := s.DeleteSchedulesByWorkflow(ctx, "wf-1"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := s.GetSchedule(ctx, "wf-1", "s-1"); ok {
		t.Error("schedule survived workflow deletion")
	}
}

func TestSQLiteStoreScheduleRoundTrip(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	if err := s.Create(ctx, WorkflowRecord{ID: "wf-1", Definition: simpleDefinition("demo")}); err != nil {
		t.Fatal(err)
	}

	now := time.Now().UTC().Truncate(time.Millisecond)
	sched := Schedule{
		ID:         "s-1",
		WorkflowID: "wf-1",
		Cron:       "0 * * * *",
		Enabled:    true,
		Input:      map[string]any{"topic": "news"},
		NextRunAt:  now.Add(time.Hour),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.CreateSchedule(ctx, sched); err != nil {
		t.Fatal(err)
	}

	got, ok, err := s.GetSchedule(ctx, "wf-1", "s-1")
	if err != nil || !ok {
		t.Fatalf("GetSchedule = %v, %v", ok, err)
	}
	if got.Cron != sched.Cron || !got.Enabled {
		t.Errorf("schedule = %+v", got)
	}
	if got.Input["topic"] != "news" {
		t.Errorf("input = %v", got.Input)
	}
	if !got.NextRunAt.Equal(sched.NextRunAt) {
		t.Errorf("next_run_at = %v, want %v", got.NextRunAt, sched.NextRunAt)
	}

	finish := now.Add(time.Minute)
	got.LastRunAt = &finish
	got.LastStatus = ScheduleRunStatusCompleted
	got.LastExecutionID = "exec-1"
	if err := s.UpdateSchedule(ctx, got); err != nil {
		t.Fatal(err)
	}

	again, _, err := s.GetSchedule(ctx, "wf-1", "s-1")
	if err != nil {
		t.Fatal(err)
	}
	if again.LastStatus != ScheduleRunStatusCompleted || again.LastExecutionID != "exec-1" {
		t.Errorf("schedule after update = %+v", again)
	}
	if again.LastRunAt == nil || !again.LastRunAt.Equal(finish) {
		t.Errorf("last_run_at = %v, want %v", again.LastRunAt, finish)
	}
}

func TestSQLiteStoreListDueSchedules(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	if err := s.Create(ctx, WorkflowRecord{ID: "wf-1", Definition: simpleDefinition("demo")}); err != nil {
		t.Fatal(err)
	}

	now := time.Now().UTC()
	for _, sched := range []Schedule{
		{ID: "due", WorkflowID: "wf-1", Cron: "* * * * *", Enabled: true, NextRunAt: now.Add(-time.Minute), CreatedAt: now, UpdatedAt: now},
		{ID: "future", WorkflowID: "wf-1", Cron: "* * * * *", Enabled: true, NextRunAt: now.Add(time.Hour), CreatedAt: now, UpdatedAt: now},
		{ID: "disabled", WorkflowID: "wf-1", Cron: "* * * * *", Enabled: false, NextRunAt: now.Add(-time.Hour), CreatedAt: now, UpdatedAt: now},
	} {
		if err := s.CreateSchedule(ctx, sched); err != nil {
			t.Fatal(err)
		}
	}

	due, err := s.ListDueSchedules(ctx, now, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 1 || due[0].ID != "due" {
		t.Errorf("due = %v", due)
	}
}
