package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/quillflow/quillflow/canvas"
	"github.com/quillflow/quillflow/core"
)

// Per-endpoint timeout budgets. Chat and optimization calls wait on AI
// latency and get a wider budget than the config fetch.
const (
	providerConfigTimeout = 30 * time.Second
	chatTimeout           = 120 * time.Second
	testTimeout           = 60 * time.Second
	optimizeTimeout       = 180 * time.Second

	providerConfigRetries = 2
	providerConfigBackoff = time.Second
)

// HTTPError is a non-2xx response with the message extracted from the body.
type HTTPError struct {
	Status  int
	Message string
}

func (e *HTTPError) Error() string {
	return e.Message
}

// ChatRequest is the payload sent to the chat endpoint.
type ChatRequest struct {
	Message         string             `json:"message"`
	Model           string             `json:"model,omitempty"`
	WorkflowContext *canvas.Definition `json:"workflowContext,omitempty"`
	WorkflowID      string             `json:"workflowId,omitempty"`
	History         []HistoryMessage   `json:"history,omitempty"`
}

// HistoryMessage is one prior conversation turn sent with a chat request.
type HistoryMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// TestStarted is the response to a test trigger.
type TestStarted struct {
	ExecutionID  string   `json:"executionId"`
	PendingNodes []string `json:"pendingNodes,omitempty"`
}

// ProviderConfig describes the AI provider the assistant should use.
type ProviderConfig struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
	BaseURL  string `json:"baseUrl,omitempty"`
}

// Client talks to the assistant back end: chat, test trigger, test status,
// and provider configuration. All methods honor the caller's context so an
// in-flight request can be aborted; Classify distinguishes that abort from
// a network failure.
type Client struct {
	baseURL string
	httpc   *http.Client
	logger  *slog.Logger
}

// NewClient creates a Client for the given base URL.
func NewClient(baseURL string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{},
		logger:  logger,
	}
}

// Chat sends one conversation turn.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	var resp ChatResponse
	if err := c.postJSON(ctx, "/api/assistant/chat", chatTimeout, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Optimize sends an optimization round, which tolerates the longest AI latency.
func (c *Client) Optimize(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	var resp ChatResponse
	if err := c.postJSON(ctx, "/api/assistant/optimize", optimizeTimeout, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TriggerTest starts a server-side test execution of the workflow.
func (c *Client) TriggerTest(ctx context.Context, workflowID string, testInput map[string]any) (*TestStarted, error) {
	body := map[string]any{
		"workflowId": workflowID,
		"testInput":  testInput,
	}
	var resp TestStarted
	if err := c.postJSON(ctx, fmt.Sprintf("/api/workflows/%s/test", url.PathEscape(workflowID)), testTimeout, body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TestStatus polls one execution. Callers inspect *HTTPError for the fatal
// status codes that end polling immediately.
func (c *Client) TestStatus(ctx context.Context, executionID string) (*core.TestExecution, error) {
	var exec core.TestExecution
	path := "/api/test-status?id=" + url.QueryEscape(executionID)
	if err := c.getJSON(ctx, path, testTimeout, &exec); err != nil {
		return nil, err
	}
	return &exec, nil
}

// FetchProviderConfig fetches the active provider configuration, retrying
// up to twice with a fixed one-second backoff — but only for errors
// classified as timeout or network. Anything else surfaces immediately.
func (c *Client) FetchProviderConfig(ctx context.Context) (*ProviderConfig, error) {
	var lastErr error
	for attempt := 0; attempt <= providerConfigRetries; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(providerConfigBackoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}

		var cfg ProviderConfig
		lastErr = c.getJSON(ctx, "/api/assistant/provider", providerConfigTimeout, &cfg)
		if lastErr == nil {
			return &cfg, nil
		}
		if !IsRetryable(lastErr) {
			return nil, lastErr
		}
		c.logger.Warn("provider config fetch failed, retrying",
			"attempt", attempt+1, "error", lastErr)
	}
	return nil, lastErr
}

func (c *Client) postJSON(ctx context.Context, path string, timeout time.Duration, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}
	return c.do(ctx, http.MethodPost, path, timeout, bytes.NewReader(payload), out)
}

func (c *Client) getJSON(ctx context.Context, path string, timeout time.Duration, out any) error {
	return c.do(ctx, http.MethodGet, path, timeout, nil, out)
}

func (c *Client) do(ctx context.Context, method, path string, timeout time.Duration, body io.Reader, out any) error {
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		// The outer context decides whether this was a user abort or a
		// genuine deadline; surface its error for classification.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &HTTPError{
			Status:  resp.StatusCode,
			Message: extractErrorMessage(raw, resp.StatusCode),
		}
	}

	if out == nil {
		return nil
	}
	return decodeWrapped(raw, out)
}

// extractErrorMessage pulls a human-readable message out of an error body,
// in priority order: error.message, message, error-as-string, then a
// generic "HTTP {status}".
func extractErrorMessage(raw []byte, status int) string {
	var body struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		if len(body.Error) > 0 {
			var nested struct {
				Message string `json:"message"`
			}
			if err := json.Unmarshal(body.Error, &nested); err == nil && nested.Message != "" {
				return nested.Message
			}
			var plain string
			if err := json.Unmarshal(body.Error, &plain); err == nil && plain != "" {
				return plain
			}
		}
		if body.Message != "" {
			return body.Message
		}
	}
	return fmt.Sprintf("HTTP %d", status)
}

// decodeWrapped decodes a response that may arrive bare or wrapped as
// {success, data}.
func decodeWrapped(raw []byte, out any) error {
	var wrapper struct {
		Success *bool           `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &wrapper); err == nil && wrapper.Success != nil && len(wrapper.Data) > 0 {
		return json.Unmarshal(wrapper.Data, out)
	}
	return json.Unmarshal(raw, out)
}
