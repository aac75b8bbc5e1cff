package server

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/quillflow/quillflow/canvas"
)

// Sentinel errors for store operations.
var (
	ErrWorkflowExists   = errors.New("workflow already exists")
	ErrWorkflowNotFound = errors.New("workflow not found")
	ErrVersionConflict  = errors.New("workflow version conflict")
)

// WorkflowRecord represents a stored workflow.
type WorkflowRecord struct {
	ID         string             `json:"id"`
	Name       string             `json:"name,omitempty"`
	Definition *canvas.Definition `json:"definition"`
	Version    int                `json:"version"`
	CreatedAt  time.Time          `json:"created_at"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

// WorkflowStore provides CRUD operations for workflow records.
// Update enforces optimistic concurrency: the record's Version must match
// the stored version, and the store increments it on success.
type WorkflowStore interface {
	List(ctx context.Context) ([]WorkflowRecord, error)
	Get(ctx context.Context, id string) (WorkflowRecord, bool, error)
	Create(ctx context.Context, rec WorkflowRecord) error
	Update(ctx context.Context, rec WorkflowRecord, force bool) (WorkflowRecord, error)
	Delete(ctx context.Context, id string) error
}

// MemWorkflowStore is a thread-safe in-memory workflow store.
type MemWorkflowStore struct {
	mu      sync.RWMutex
	records map[string]WorkflowRecord
}

// NewMemWorkflowStore creates an empty in-memory workflow store.
func NewMemWorkflowStore() *MemWorkflowStore {
	return &MemWorkflowStore{records: make(map[string]WorkflowRecord)}
}

func (s *MemWorkflowStore) List(_ context.Context) ([]WorkflowRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]WorkflowRecord, 0, len(s.records))
	for _, rec := range s.records {
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
	return records, nil
}

func (s *MemWorkflowStore) Get(_ context.Context, id string) (WorkflowRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	return rec, ok, nil
}

func (s *MemWorkflowStore) Create(_ context.Context, rec WorkflowRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[rec.ID]; exists {
		return ErrWorkflowExists
	}
	if rec.Version == 0 {
		rec.Version = 1
	}
	s.records[rec.ID] = rec
	return nil
}

func (s *MemWorkflowStore) Update(_ context.Context, rec WorkflowRecord, force bool) (WorkflowRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.records[rec.ID]
	if !exists {
		return WorkflowRecord{}, ErrWorkflowNotFound
	}
	if !force && rec.Version != current.Version {
		return WorkflowRecord{}, ErrVersionConflict
	}

	rec.Version = current.Version + 1
	rec.CreatedAt = current.CreatedAt
	s.records[rec.ID] = rec
	return rec, nil
}

func (s *MemWorkflowStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[id]; !exists {
		return ErrWorkflowNotFound
	}
	delete(s.records, id)
	return nil
}

// Compile-time interface check.
var _ WorkflowStore = (*MemWorkflowStore)(nil)
