package core

import "context"

// LLMClient abstracts a single provider/model backend. The planner uses it
// to turn conversation turns into structured responses; the test runner uses
// it to execute process nodes.
type LLMClient interface {
	Complete(ctx context.Context, req LLMRequest) (LLMResponse, error)
}

// LLMMessage is a chat message in provider-agnostic form.
type LLMMessage struct {
	Role    string // "system", "user", "assistant"
	Content string
}

// LLMRequest is a transport-agnostic completion request.
type LLMRequest struct {
	Model       string         // model identifier (e.g. "gpt-4o", "claude-sonnet-4")
	System      string         // system prompt
	Messages    []LLMMessage   // conversation messages
	InputText   string         // simple prompt mode (converted to a user message)
	JSONSchema  map[string]any // optional structured output constraint
	Temperature *float64       // optional sampling temperature
	MaxTokens   *int           // optional output token cap
}

// LLMResponse captures the output of an LLM call.
type LLMResponse struct {
	Text     string         // raw text output
	JSON     map[string]any // parsed JSON when structured output was requested
	Usage    LLMTokenUsage  // token consumption
	Provider string         // provider that handled the request
	Model    string         // model that generated the response
}

// LLMTokenUsage tracks token consumption for budgeting and test reporting.
type LLMTokenUsage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// Add combines two usage values.
func (u LLMTokenUsage) Add(other LLMTokenUsage) LLMTokenUsage {
	return LLMTokenUsage{
		InputTokens:  u.InputTokens + other.InputTokens,
		OutputTokens: u.OutputTokens + other.OutputTokens,
		TotalTokens:  u.TotalTokens + other.TotalTokens,
	}
}
