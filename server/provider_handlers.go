package server

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// providerPayload is the JSON body for provider create and update requests.
// The API key is write-only; it never appears in responses.
type providerPayload struct {
	Type         ProviderType `json:"type"`
	Name         string       `json:"name"`
	DefaultModel string       `json:"default_model,omitempty"`
	Active       *bool        `json:"active,omitempty"`
	APIKey       string       `json:"api_key,omitempty"`
}

var knownProviderTypes = map[ProviderType]bool{
	ProviderTypeAnthropic: true,
	ProviderTypeOpenAI:    true,
	ProviderTypeOllama:    true,
}

// handleListProviders returns all provider records.
func (s *Server) handleListProviders(w http.ResponseWriter, r *http.Request) {
	if s.providerStore == nil {
		writeError(w, http.StatusNotFound, "NO_PROVIDER", "no provider store is configured")
		return
	}
	records, err := s.providerStore.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// handleGetProvider returns a single provider by ID.
func (s *Server) handleGetProvider(w http.ResponseWriter, r *http.Request) {
	if s.providerStore == nil {
		writeError(w, http.StatusNotFound, "NO_PROVIDER", "no provider store is configured")
		return
	}
	id := r.PathValue("id")
	rec, ok, err := s.providerStore.Get(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("provider %q not found", id))
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleCreateProvider creates a provider record, optionally storing its
// API key.
func (s *Server) handleCreateProvider(w http.ResponseWriter, r *http.Request) {
	if s.providerStore == nil {
		writeError(w, http.StatusNotFound, "NO_PROVIDER", "no provider store is configured")
		return
	}

	var payload providerPayload
	if err := decodeBody(w, r, &payload); err != nil {
		return
	}
	if err := validateProviderPayload(payload); err != nil {
		writeError(w, http.StatusBadRequest, "PARSE_ERROR", err.Error())
		return
	}

	now := time.Now()
	rec := ProviderRecord{
		ID:           uuid.New().String(),
		Type:         payload.Type,
		Name:         payload.Name,
		DefaultModel: payload.DefaultModel,
		Active:       payload.Active != nil && *payload.Active,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.providerStore.Create(r.Context(), rec); err != nil {
		if errors.Is(err, ErrProviderExists) {
			writeError(w, http.StatusConflict, "CONFLICT", fmt.Sprintf("provider %q already exists", rec.ID))
			return
		}
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}

	if payload.APIKey != "" {
		if err := s.providerStore.SetAPIKey(r.Context(), rec.ID, payload.APIKey); err != nil {
			writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
			return
		}
	}

	writeJSON(w, http.StatusCreated, rec)
}

// handleUpdateProvider updates a provider record and, when present, its
// API key.
func (s *Server) handleUpdateProvider(w http.ResponseWriter, r *http.Request) {
	if s.providerStore == nil {
		writeError(w, http.StatusNotFound, "NO_PROVIDER", "no provider store is configured")
		return
	}

	id := r.PathValue("id")
	rec, ok, err := s.providerStore.Get(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("provider %q not found", id))
		return
	}

	var payload providerPayload
	if err := decodeBody(w, r, &payload); err != nil {
		return
	}

	if payload.Type != "" {
		if !knownProviderTypes[payload.Type] {
			writeError(w, http.StatusBadRequest, "PARSE_ERROR", fmt.Sprintf("unknown provider type %q", payload.Type))
			return
		}
		rec.Type = payload.Type
	}
	if payload.Name != "" {
		rec.Name = payload.Name
	}
	if payload.DefaultModel != "" {
		rec.DefaultModel = payload.DefaultModel
	}
	if payload.Active != nil {
		rec.Active = *payload.Active
	}
	rec.UpdatedAt = time.Now()

	if err := s.providerStore.Update(r.Context(), rec); err != nil {
		if errors.Is(err, ErrProviderNotFound) {
			writeError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("provider %q not found", id))
			return
		}
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}

	if payload.APIKey != "" {
		if err := s.providerStore.SetAPIKey(r.Context(), id, payload.APIKey); err != nil {
			writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
			return
		}
	}

	writeJSON(w, http.StatusOK, rec)
}

// handleDeleteProvider deletes a provider by ID.
func (s *Server) handleDeleteProvider(w http.ResponseWriter, r *http.Request) {
	if s.providerStore == nil {
		writeError(w, http.StatusNotFound, "NO_PROVIDER", "no provider store is configured")
		return
	}
	id := r.PathValue("id")
	if err := s.providerStore.Delete(r.Context(), id); err != nil {
		if errors.Is(err, ErrProviderNotFound) {
			writeError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("provider %q not found", id))
			return
		}
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// providerTestResult is the response for POST /api/providers/{id}/test.
type providerTestResult struct {
	Success bool     `json:"success"`
	Models  []string `json:"models,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// handleTestProvider checks that a provider is usable: a stored API key for
// hosted providers, no key needed for local ones. On success it returns the
// known model names for the provider type.
func (s *Server) handleTestProvider(w http.ResponseWriter, r *http.Request) {
	if s.providerStore == nil {
		writeError(w, http.StatusNotFound, "NO_PROVIDER", "no provider store is configured")
		return
	}

	id := r.PathValue("id")
	rec, ok, err := s.providerStore.Get(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("provider %q not found", id))
		return
	}

	apiKey, err := s.providerStore.GetAPIKey(r.Context(), id)
	if err != nil && !errors.Is(err, ErrProviderNotFound) {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}

	result := providerTestResult{
		Success: apiKey != "" || rec.Type == ProviderTypeOllama,
	}
	if result.Success {
		result.Models = defaultModels(rec.Type)
	} else {
		result.Error = "no API key configured"
	}
	writeJSON(w, http.StatusOK, result)
}

// defaultModels returns the known model names for a provider type.
func defaultModels(t ProviderType) []string {
	switch t {
	case ProviderTypeAnthropic:
		return []string{
			"claude-sonnet-4-20250514",
			"claude-opus-4-20250514",
			"claude-3-5-haiku-20241022",
		}
	case ProviderTypeOpenAI:
		return []string{
			"gpt-4o",
			"gpt-4o-mini",
			"o1",
			"o1-mini",
		}
	case ProviderTypeOllama:
		return []string{
			"llama3.3",
			"llama3.2",
			"mistral",
			"qwen2.5",
		}
	default:
		return nil
	}
}

func validateProviderPayload(payload providerPayload) error {
	if strings.TrimSpace(payload.Name) == "" {
		return errors.New("provider name is required")
	}
	if !knownProviderTypes[payload.Type] {
		return fmt.Errorf("unknown provider type %q", payload.Type)
	}
	return nil
}
