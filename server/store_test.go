package server

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/quillflow/quillflow/canvas"
	"github.com/quillflow/quillflow/core"
)

func simpleDefinition(name string) *canvas.Definition {
	return &canvas.Definition{
		Name: name,
		Nodes: []core.Node{
			{ID: "in", Type: core.NodeTypeInput, Name: "In"},
			{ID: "out", Type: core.NodeTypeOutput, Name: "Out"},
		},
		Edges: []core.Edge{{Source: "in", Target: "out"}},
	}
}

func TestMemWorkflowStoreCreateAndGet(t *testing.T) {
	s := NewMemWorkflowStore()
	ctx := context.Background()

	rec := WorkflowRecord{ID: "wf-1", Name: "demo", Definition: simpleDefinition("demo")}
	if err := s.Create(ctx, rec); err != nil {
		t.Fatal(err)
	}
	if err := s.Create(ctx, rec); !errors.Is(err, ErrWorkflowExists) {
		t.Errorf("duplicate create err = %v, want ErrWorkflowExists", err)
	}

	got, ok, err := s.Get(ctx, "wf-1")
	if err != nil || !ok {
		t.Fatalf("Get = %v, %v", ok, err)
	}
	if got.Version != 1 {
		t.Errorf("version = %d, want 1 (defaulted)", got.Version)
	}

	if _, ok, _ := s.Get(ctx, "ghost"); ok {
		t.Error("Get found a ghost")
	}
}

func TestMemWorkflowStoreUpdateVersioning(t *testing.T) {
	s := NewMemWorkflowStore()
	ctx := context.Background()

	base := WorkflowRecord{ID: "wf-1", Definition: simpleDefinition("demo"), Version: 1}
	if err := s.Create(ctx, base); err != nil {
		t.Fatal(err)
	}

	updated, err := s.Update(ctx, WorkflowRecord{ID: "wf-1", Definition: simpleDefinition("v2"), Version: 1}, false)
	if err != nil {
		t.Fatal(err)
	}
	if updated.Version != 2 {
		t.Errorf("version = %d, want 2", updated.Version)
	}

	// Stale version is rejected without force.
	if _, err := s.Update(ctx, WorkflowRecord{ID: "wf-1", Definition: simpleDefinition("v3"), Version: 1}, false); !errors.Is(err, ErrVersionConflict) {
		t.Errorf("stale update err = %v, want ErrVersionConflict", err)
	}

	// Force overrides the version check and still increments.
	forced, err := s.Update(ctx, WorkflowRecord{ID: "wf-1", Definition: simpleDefinition("v3"), Version: 1}, true)
	if err != nil {
		t.Fatal(err)
	}
	if forced.Version != 3 {
		t.Errorf("forced version = %d, want 3", forced.Version)
	}

	if _, err := s.Update(ctx, WorkflowRecord{ID: "ghost", Definition: simpleDefinition("x")}, false); !errors.Is(err, ErrWorkflowNotFound) {
		t.Errorf("unknown update err = %v", err)
	}
}

func TestMemWorkflowStoreListOrderedByCreation(t *testing.T) {
	s := NewMemWorkflowStore()
	ctx := context.Background()
	base := time.Now()

	for i, id := range []string{"c", "a", "b"} {
		rec := WorkflowRecord{ID: id, Definition: simpleDefinition(id), CreatedAt: base.Add(time.Duration(i) * time.Second)}
		if err := s.Create(ctx, rec); err != nil {
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

func TestMemWorkflowStoreDelete(t *testing.T) {
	s := NewMemWorkflowStore()
	ctx := context.Background()

	if err := s.Create(ctx, WorkflowRecord{ID: "wf-1", Definition: simpleDefinition("demo")}); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(ctx, "wf-1"); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(ctx, "wf-1"); !errors.Is(err, ErrWorkflowNotFound) {
		t.Errorf("double delete err = %v", err)
	}
}

func TestMemScheduleStoreCRUD(t *testing.T) {
	s := NewMemScheduleStore()
	ctx := context.Background()

	sched := Schedule{ID: "s-1", WorkflowID: "wf-1", Cron: "*/5 * * * *", Enabled: true}
	if err := s.CreateSchedule(ctx, sched); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateSchedule(ctx, sched); !errors.Is(err, ErrScheduleExists) {
		t.Errorf("duplicate create err = %v", err)
	}

	// Lookup is scoped to the workflow.
	if _, ok, _ := s.GetSchedule(ctx, "other-wf", "s-1"); ok {
		t.Error("schedule leaked across workflows")
	}
	got, ok, err := s.GetSchedule(ctx, "wf-1", "s-1")
	if err != nil || !ok {
		t.Fatalf("GetSchedule = %v, %v", ok, err)
	}
	if got.Cron != "*/5 * * * *" {
		t.Errorf("cron = %q", got.Cron)
	}

	got.Enabled = false
	if err := s.UpdateSchedule(ctx, got); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateSchedule(ctx, Schedule{ID: "ghost", WorkflowID: "wf-1"}); !errors.Is(err, ErrScheduleNotFound) {
		t.Errorf("unknown update err = %v", err)
	}

	if err := s.DeleteSchedule(ctx, "wf-1", "s-1"); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteSchedule(ctx, "wf-1", "s-1"); !errors.Is(err, ErrScheduleNotFound) {
		t.Errorf("double delete err = %v", err)
	}
}

func TestMemScheduleStoreListDue(t *testing.T) {
	s := NewMemScheduleStore()
	ctx := context.Background()
	now := time.Now().UTC()

	schedules := []Schedule{
		{ID: "due-1", WorkflowID: "wf", Enabled: true, NextRunAt: now.Add(-2 * time.Minute)},
		{ID: "due-2", WorkflowID: "wf", Enabled: true, NextRunAt: now.Add(-time.Minute)},
		{ID: "future", WorkflowID: "wf", Enabled: true, NextRunAt: now.Add(time.Hour)},
		{ID: "disabled", WorkflowID: "wf", Enabled: false, NextRunAt: now.Add(-time.Hour)},
	}
	for _, sched := range schedules {
		if err := s.CreateSchedule(ctx, sched); err != nil {
			t.Fatal(err)
		}
	}

	due, err := s.ListDueSchedules(ctx, now, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 2 || due[0].ID != "due-1" || due[1].ID != "due-2" {
		t.Errorf("due = %v", due)
	}

	limited, err := s.ListDueSchedules(ctx, now, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 1 || limited[0].ID != "due-1" {
		t.Errorf("limited = %v", limited)
	}
}

func TestMemScheduleStoreDeleteByWorkflow(t *testing.T) {
	s := NewMemScheduleStore()
	ctx := context.Background()

	for _, sched := range []Schedule{
		{ID: "s-1", WorkflowID: "wf-1"},
		{ID: "s-2", WorkflowID: "wf-1"},
		{ID: "s-3", WorkflowID: "wf-2"},
	} {
		if err := s.CreateSchedule(ctx, sched); err != nil {
			t.Fatal(err)
		}
	}

	if err := s.DeleteSchedulesByWorkflow(ctx, "wf-1"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := s.GetSchedule(ctx, "wf-1", "s-1"); ok {
		t.Error("s-1 survived")
	}
	if _, ok, _ := s.GetSchedule(ctx, "wf-2", "s-3"); !ok {
		t.Error("s-3 deleted with the wrong workflow")
	}
}

func TestMemProviderStoreAPIKeyLifecycle(t *testing.T) {
	s := NewMemProviderStore()
	ctx := context.Background()

	rec := ProviderRecord{ID: "p-1", Type: ProviderTypeAnthropic, Name: "main"}
	if err := s.Create(ctx, rec); err != nil {
		t.Fatal(err)
	}

	if err := s.SetAPIKey(ctx, "ghost", "k"); !errors.Is(err, ErrProviderNotFound) {
		t.Errorf("SetAPIKey(ghost) err = %v", err)
	}
	if err := s.SetAPIKey(ctx, "p-1", "sk-test"); err != nil {
		t.Fatal(err)
	}

	key, err := s.GetAPIKey(ctx, "p-1")
	if err != nil || key != "sk-test" {
		t.Errorf("GetAPIKey = %q, %v", key, err)
	}

	if err := s.Delete(ctx, "p-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetAPIKey(ctx, "p-1"); !errors.Is(err, ErrProviderNotFound) {
		t.Errorf("GetAPIKey after delete err = %v", err)
	}
}
