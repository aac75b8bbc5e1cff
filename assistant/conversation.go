package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quillflow/quillflow/actions"
	"github.com/quillflow/quillflow/canvas"
	"github.com/quillflow/quillflow/core"
)

// Listener receives orchestrator state changes. Implementations must not
// block; callbacks are invoked from the conversation's own goroutines.
type Listener interface {
	PhaseChanged(phase core.Phase)
	MessageAppended(msg *core.AIMessage)
	Notification(level, text string)
}

// NopListener discards all callbacks.
type NopListener struct{}

func (NopListener) PhaseChanged(core.Phase)          {}
func (NopListener) MessageAppended(*core.AIMessage)  {}
func (NopListener) Notification(string, string)      {}

// Conversation is the client-side state machine that drives AI-assisted
// workflow authoring: it sends user turns to the chat endpoint, mirrors the
// server's phase tag, replays returned node actions through the applier,
// and runs the test poll loop.
//
// The server is authoritative for phase with one exception: a locally
// observed graph mutation forces PhaseTesting, so a stale AI-declared phase
// can never mask an unverified edit.
type Conversation struct {
	client   *Client
	canvas   *canvas.Canvas
	applier  *actions.Applier
	runner   *TestRunner
	listener Listener
	logger   *slog.Logger

	workflowID string
	model      string

	mu       sync.Mutex
	phase    core.Phase
	messages []*core.AIMessage
	abort    context.CancelFunc
}

// Config wires a Conversation's collaborators.
type Config struct {
	Client     *Client
	Canvas     *canvas.Canvas
	Applier    *actions.Applier
	WorkflowID string
	Model      string
	Listener   Listener
	Logger     *slog.Logger
}

// NewConversation creates a conversation in the requirement-gathering phase.
func NewConversation(cfg Config) *Conversation {
	listener := cfg.Listener
	if listener == nil {
		listener = NopListener{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Conversation{
		client:     cfg.Client,
		canvas:     cfg.Canvas,
		applier:    cfg.Applier,
		listener:   listener,
		logger:     logger,
		workflowID: cfg.WorkflowID,
		model:      cfg.Model,
		phase:      core.PhaseRequirementGathering,
	}
	c.runner = NewTestRunner(cfg.Client, logger)
	c.runner.OnCompleted = c.handleTestCompleted
	c.runner.OnError = c.handleTestError
	return c
}

// Phase returns the current conversation phase.
func (c *Conversation) Phase() core.Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// Messages returns a snapshot of the conversation log.
func (c *Conversation) Messages() []*core.AIMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*core.AIMessage, len(c.messages))
	copy(out, c.messages)
	return out
}

// IsTestRunning reports whether the test poll loop is active.
func (c *Conversation) IsTestRunning() bool {
	return c.runner.IsRunning()
}

// Abort cancels the in-flight chat request, if any. The cancelled Send
// returns silently: a user abort is not an error.
func (c *Conversation) Abort() {
	c.mu.Lock()
	abort := c.abort
	c.mu.Unlock()
	if abort != nil {
		abort()
	}
}

// Send delivers one user turn and processes the response. On user abort it
// returns (nil, nil); on failure it appends an assistant message explaining
// the error in end-user language and returns the error, so the caller is
// never left without a terminal message.
func (c *Conversation) Send(ctx context.Context, text string) (*core.AIMessage, error) {
	sendCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.abort = cancel
	c.mu.Unlock()
	defer func() {
		cancel()
		c.mu.Lock()
		c.abort = nil
		c.mu.Unlock()
	}()

	c.appendMessage(&core.AIMessage{
		ID:        uuid.NewString(),
		Role:      core.RoleUser,
		Content:   text,
		CreatedAt: time.Now(),
	})

	resp, err := c.client.Chat(sendCtx, ChatRequest{
		Message:         text,
		Model:           c.model,
		WorkflowContext: c.canvas.Definition(),
		WorkflowID:      c.workflowID,
		History:         c.history(),
	})
	if err != nil {
		return nil, c.handleSendError(err)
	}
	return c.handleResponse(resp), nil
}

// handleSendError converts a chat failure into conversation state. Abort is
// a silent no-op; everything else ends in an appended assistant message.
func (c *Conversation) handleSendError(err error) error {
	switch Classify(err) {
	case ErrorKindAbort:
		return nil
	case ErrorKindTimeout, ErrorKindNetwork:
		c.appendFailureMessage("The assistant could not be reached. Please check your connection and try again.")
	default:
		c.appendFailureMessage(fmt.Sprintf("Something went wrong talking to the assistant: %s", err))
	}
	return err
}

// handleResponse mirrors the server phase, appends the assistant message,
// and dispatches on the closed response-variant set.
func (c *Conversation) handleResponse(resp *ChatResponse) *core.AIMessage {
	if resp.Phase != "" {
		c.setPhase(resp.Phase)
	}

	msg := &core.AIMessage{
		ID:                   uuid.NewString(),
		Role:                 core.RoleAssistant,
		Content:              resp.Content,
		Phase:                resp.Phase,
		NodeActions:          resp.NodeActions,
		TestResult:           resp.TestResult,
		InteractiveQuestions: resp.InteractiveQuestions,
		CreatedAt:            time.Now(),
	}

	switch resp.Variant() {
	case VariantPlan:
		c.applyActions(resp.NodeActions)

	case VariantTestingPending:
		c.startPolling(resp.TestResult)

	case VariantFixSuggestion:
		// Actions stay attached to the message until the user confirms or
		// rejects them via ConfirmFix / RejectFix.
		if resp.Diagnosis != nil && len(resp.Diagnosis.FixActions) > 0 {
			msg.NodeActions = resp.Diagnosis.FixActions
		}

	case VariantRequirementConfirmation:
		if resp.RequirementConfirmation != nil && msg.Content == "" {
			msg.Content = resp.RequirementConfirmation.Summary
		}

	case VariantInteractive:
		// Questions ride along on the message; nothing to do here.

	case VariantNodeDiagnosis:
		if resp.Diagnosis != nil && len(resp.Diagnosis.FixActions) > 0 {
			msg.NodeActions = resp.Diagnosis.FixActions
		}

	case VariantRequestNodeConfig:
		// Paused: the deeper diagnostic call happens only after the user
		// confirms sharing node configuration.

	case VariantMessage:
		// Content-only reply.
	}

	c.appendMessage(msg)
	return msg
}

// applyActions replays a planner batch and enforces the local phase
// override: any actual graph change forces testing regardless of the phase
// the server declared.
func (c *Conversation) applyActions(batch []core.NodeAction) {
	result := c.applier.Apply(context.Background(), batch)
	for _, outcome := range result.Outcomes {
		if outcome.Error != "" {
			c.listener.Notification("error",
				fmt.Sprintf("Could not %s %s: %s", outcome.Action, outcome.Subject, outcome.Error))
		}
	}
	if result.GraphChanged {
		c.setPhase(core.PhaseTesting)
	}
}

// ConfirmFix applies the node actions attached to a fix-suggestion message
// and records the verdict in place — the only in-place mutation the
// conversation log permits.
func (c *Conversation) ConfirmFix(messageID string) error {
	msg := c.findMessage(messageID)
	if msg == nil {
		return fmt.Errorf("message %s not found", messageID)
	}
	if len(msg.NodeActions) > 0 {
		c.applyActions(msg.NodeActions)
	}
	msg.FixStatus = core.FixStatusApplied
	return nil
}

// RejectFix records a rejected fix without touching the canvas.
func (c *Conversation) RejectFix(messageID string) error {
	msg := c.findMessage(messageID)
	if msg == nil {
		return fmt.Errorf("message %s not found", messageID)
	}
	msg.FixStatus = core.FixStatusRejected
	return nil
}

// StartTest triggers a server-side test run and begins polling.
func (c *Conversation) StartTest(ctx context.Context, testInput map[string]any) (*TestStarted, error) {
	started, err := c.client.TriggerTest(ctx, c.workflowID, testInput)
	if err != nil {
		c.appendFailureMessage(fmt.Sprintf("The test could not be started: %s", err))
		return nil, err
	}
	c.setPhase(core.PhaseTestingPending)
	if err := c.runner.Start(started.ExecutionID); err != nil {
		return nil, err
	}
	return started, nil
}

// Close stops background work. The conversation is unusable afterwards.
func (c *Conversation) Close() {
	c.Abort()
	c.runner.Close()
}

// startPolling begins the poll loop for a server-declared pending test.
func (c *Conversation) startPolling(result *core.TestExecution) {
	if result == nil || result.ExecutionID == "" {
		c.logger.Warn("testing_pending response carried no execution id")
		return
	}
	if err := c.runner.Start(result.ExecutionID); err != nil {
		c.logger.Warn("poll loop not started", "error", err)
	}
}

// handleTestCompleted records the final result and triggers one follow-up
// analysis round-trip. The append is unconditional apart from a
// last-message guard: a poll completion racing a newer user message still
// appends, it never rewrites history.
func (c *Conversation) handleTestCompleted(exec *core.TestExecution) {
	if c.lastResultMatches(exec.ExecutionID) {
		return
	}

	resultMsg := &core.AIMessage{
		ID:         uuid.NewString(),
		Role:       core.RoleAssistant,
		Content:    testSummary(exec),
		Phase:      core.PhaseTesting,
		TestResult: exec,
		CreatedAt:  time.Now(),
	}
	c.appendMessage(resultMsg)

	ctx, cancel := context.WithTimeout(context.Background(), chatTimeout)
	defer cancel()

	resp, err := c.client.Chat(ctx, ChatRequest{
		Message:         analysisPrompt(exec),
		Model:           c.model,
		WorkflowContext: c.canvas.Definition(),
		WorkflowID:      c.workflowID,
		History:         c.history(),
	})
	if err != nil {
		if Classify(err) != ErrorKindAbort {
			c.appendFailureMessage(fmt.Sprintf("The test finished but its analysis failed: %s", err))
		}
		return
	}
	c.handleResponse(resp)
}

func (c *Conversation) handleTestError(err error) {
	c.setPhase(core.PhaseTesting)
	c.appendFailureMessage(fmt.Sprintf("Test monitoring stopped: %s", err))
}

// lastResultMatches guards against appending the same execution's result
// twice when a poll completion races a concurrent send.
func (c *Conversation) lastResultMatches(executionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.messages) == 0 {
		return false
	}
	last := c.messages[len(c.messages)-1]
	return last.TestResult != nil && last.TestResult.Completed &&
		last.TestResult.ExecutionID == executionID
}

func (c *Conversation) setPhase(phase core.Phase) {
	c.mu.Lock()
	changed := c.phase != phase
	c.phase = phase
	c.mu.Unlock()
	if changed {
		c.listener.PhaseChanged(phase)
	}
}

func (c *Conversation) appendMessage(msg *core.AIMessage) {
	c.mu.Lock()
	c.messages = append(c.messages, msg)
	c.mu.Unlock()
	c.listener.MessageAppended(msg)
}

func (c *Conversation) appendFailureMessage(text string) {
	c.appendMessage(&core.AIMessage{
		ID:        uuid.NewString(),
		Role:      core.RoleAssistant,
		Content:   text,
		CreatedAt: time.Now(),
	})
}

func (c *Conversation) findMessage(id string) *core.AIMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, msg := range c.messages {
		if msg.ID == id {
			return msg
		}
	}
	return nil
}

// history converts the conversation log to the wire shape, skipping
// empty-content entries.
func (c *Conversation) history() []HistoryMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]HistoryMessage, 0, len(c.messages))
	for _, msg := range c.messages {
		if msg.Content == "" {
			continue
		}
		out = append(out, HistoryMessage{Role: msg.Role, Content: msg.Content})
	}
	return out
}

func testSummary(exec *core.TestExecution) string {
	if exec.Success {
		return fmt.Sprintf("Test run %s completed successfully.", exec.ExecutionID)
	}
	if exec.Error != "" {
		return fmt.Sprintf("Test run %s failed: %s", exec.ExecutionID, exec.Error)
	}
	return fmt.Sprintf("Test run %s finished with failures.", exec.ExecutionID)
}

func analysisPrompt(exec *core.TestExecution) string {
	status := "succeeded"
	if !exec.Success {
		status = "failed"
	}
	return fmt.Sprintf("The test run %s %s. Analyze the node results and suggest next steps.",
		exec.ExecutionID, status)
}
