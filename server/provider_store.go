package server

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// ProviderType represents the LLM provider type.
type ProviderType string

const (
	ProviderTypeAnthropic ProviderType = "anthropic"
	ProviderTypeOpenAI    ProviderType = "openai"
	ProviderTypeOllama    ProviderType = "ollama"
)

// ProviderRecord represents a stored LLM provider configuration.
type ProviderRecord struct {
	ID           string       `json:"id"`
	Type         ProviderType `json:"type"`
	Name         string       `json:"name"`
	DefaultModel string       `json:"default_model,omitempty"`
	Active       bool         `json:"active"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// Sentinel errors for provider store operations.
var (
	ErrProviderNotFound = errors.New("provider not found")
	ErrProviderExists   = errors.New("provider already exists")
)

// ProviderStore defines the interface for provider persistence.
type ProviderStore interface {
	// List returns all provider records.
	List(ctx context.Context) ([]ProviderRecord, error)

	// Get retrieves a provider by ID.
	Get(ctx context.Context, id string) (ProviderRecord, bool, error)

	// Create adds a new provider record.
	Create(ctx context.Context, rec ProviderRecord) error

	// Update modifies an existing provider record.
	Update(ctx context.Context, rec ProviderRecord) error

	// Delete removes a provider by ID.
	Delete(ctx context.Context, id string) error

	// GetAPIKey retrieves the stored API key for a provider.
	// This is separate to avoid accidentally exposing keys.
	GetAPIKey(ctx context.Context, id string) (string, error)

	// SetAPIKey stores an API key for a provider.
	SetAPIKey(ctx context.Context, id string, apiKey string) error
}

// MemProviderStore is a thread-safe in-memory provider store.
type MemProviderStore struct {
	mu      sync.RWMutex
	records map[string]ProviderRecord
	keys    map[string]string
}

// NewMemProviderStore creates an empty in-memory provider store.
func NewMemProviderStore() *MemProviderStore {
	return &MemProviderStore{
		records: make(map[string]ProviderRecord),
		keys:    make(map[string]string),
	}
}

func (s *MemProviderStore) List(_ context.Context) ([]ProviderRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]ProviderRecord, 0, len(s.records))
	for _, rec := range s.records {
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.Before(records[j].CreatedAt)
	})
	return records, nil
}

func (s *MemProviderStore) Get(_ context.Context, id string) (ProviderRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	return rec, ok, nil
}

func (s *MemProviderStore) Create(_ context.Context, rec ProviderRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[rec.ID]; exists {
		return ErrProviderExists
	}
	s.records[rec.ID] = rec
	return nil
}

func (s *MemProviderStore) Update(_ context.Context, rec ProviderRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[rec.ID]; !exists {
		return ErrProviderNotFound
	}
	s.records[rec.ID] = rec
	return nil
}

func (s *MemProviderStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[id]; !exists {
		return ErrProviderNotFound
	}
	delete(s.records, id)
	delete(s.keys, id)
	return nil
}

func (s *MemProviderStore) GetAPIKey(_ context.Context, id string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, exists := s.records[id]; !exists {
		return "", ErrProviderNotFound
	}
	return s.keys[id], nil
}

func (s *MemProviderStore) SetAPIKey(_ context.Context, id string, apiKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[id]; !exists {
		return ErrProviderNotFound
	}
	s.keys[id] = apiKey
	return nil
}

// Compile-time interface check.
var _ ProviderStore = (*MemProviderStore)(nil)
