// Package runner executes workflow definitions for test runs. It walks the
// canvas in topological order, resolves {{NodeName.field}} templates against
// upstream outputs, and records a per-node result trail on the execution.
package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/quillflow/quillflow/canvas"
	"github.com/quillflow/quillflow/core"
)

// Runner errors.
var (
	ErrRunCanceled = errors.New("execution was canceled")
	ErrEmptyCanvas = errors.New("workflow has no nodes")
)

const defaultHTTPNodeTimeout = 30 * time.Second

// Options controls execution behavior.
type Options struct {
	// Inputs seeds input and trigger nodes, keyed by field name.
	Inputs map[string]any

	// Model overrides the model configured on individual process nodes.
	Model string

	// Now provides the current time (for testing). If nil, uses time.Now.
	Now func() time.Time
}

// Runner executes workflow definitions sequentially and emits events.
type Runner struct {
	llm    core.LLMClient
	httpc  *http.Client
	bus    EventPublisher
	logger *slog.Logger
}

// New creates a Runner. llm may be nil, in which case process nodes fail
// with a configuration error instead of executing.
func New(llm core.LLMClient, bus EventPublisher, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		llm:    llm,
		httpc:  &http.Client{Timeout: defaultHTTPNodeTimeout},
		bus:    bus,
		logger: logger,
	}
}

// Run executes the definition and returns the completed execution record.
// The record is always non-nil; execution-level failures are reported on it
// rather than through the error return, which is reserved for cancellation.
func (r *Runner) Run(ctx context.Context, executionID string, def *canvas.Definition, opts Options) (*core.TestExecution, error) {
	if opts.Now == nil {
		opts.Now = time.Now
	}

	exec := &core.TestExecution{
		ExecutionID: executionID,
		Status:      core.ExecutionStatusRunning,
	}

	cv, err := canvas.FromDefinition(def)
	if err != nil {
		return r.fail(exec, fmt.Errorf("loading workflow: %w", err), 0), nil
	}
	if cv.NodeCount() == 0 {
		return r.fail(exec, ErrEmptyCanvas, 0), nil
	}

	start := opts.Now()
	var seq uint64
	emit := func(e Event) {
		seq++
		e.Seq = seq
		if r.bus != nil {
			r.bus.Publish(e)
		}
	}

	emit(NewEvent(EventExecutionStarted, executionID).
		WithPayload("workflow", def.Name).
		WithPayload("nodes", cv.NodeCount()))

	// Outputs are keyed both by node ID (for edge traversal) and node name
	// (for template references).
	outputs := make(map[string]any)
	byName := make(map[string]any)
	var lastOutput any

	for _, nodeID := range cv.TopologicalOrder() {
		node, ok := cv.NodeByID(nodeID)
		if !ok {
			continue
		}
		if ctx.Err() != nil {
			emit(NewEvent(EventExecutionFinished, executionID).
				WithElapsed(opts.Now().Sub(start)).
				WithPayload("status", "canceled"))
			return exec, fmt.Errorf("%w: %v", ErrRunCanceled, ctx.Err())
		}

		nodeStart := opts.Now()
		emit(NewEvent(EventNodeStarted, executionID).
			WithNode(node.ID, node.Type).
			WithElapsed(nodeStart.Sub(start)))

		result := core.NodeResult{
			NodeID:   node.ID,
			NodeName: node.Name,
			Status:   core.NodeStatusRunning,
		}

		out, tokens, nodeErr := r.executeNode(ctx, node, cv, outputs, byName, opts)
		elapsed := opts.Now().Sub(nodeStart)
		result.DurationMs = elapsed.Milliseconds()
		result.Tokens = tokens
		exec.TotalTokens += tokens

		switch {
		case nodeErr == errNodeSkipped:
			result.Status = core.NodeStatusSkipped
			emit(NewEvent(EventNodeSkipped, executionID).
				WithNode(node.ID, node.Type).
				WithElapsed(elapsed))
		case nodeErr != nil:
			result.Status = core.NodeStatusFailed
			result.Error = nodeErr.Error()
			exec.NodeResults = append(exec.NodeResults, result)
			emit(NewEvent(EventNodeFailed, executionID).
				WithNode(node.ID, node.Type).
				WithElapsed(elapsed).
				WithPayload("error", nodeErr.Error()))
			return r.fail(exec, fmt.Errorf("node %s: %w", displayName(node), nodeErr), opts.Now().Sub(start).Milliseconds()), nil
		default:
			result.Status = core.NodeStatusSuccess
			result.Output = stringify(out)
			outputs[node.ID] = out
			if node.Name != "" {
				byName[node.Name] = out
			}
			lastOutput = out
			emit(NewEvent(EventNodeFinished, executionID).
				WithNode(node.ID, node.Type).
				WithElapsed(elapsed))
		}
		exec.NodeResults = append(exec.NodeResults, result)
	}

	exec.Status = core.ExecutionStatusCompleted
	exec.Completed = true
	exec.Success = true
	exec.Output = stringify(lastOutput)
	exec.DurationMs = opts.Now().Sub(start).Milliseconds()

	emit(NewEvent(EventExecutionFinished, executionID).
		WithElapsed(opts.Now().Sub(start)).
		WithPayload("status", "completed"))

	return exec, nil
}

func (r *Runner) fail(exec *core.TestExecution, err error, durationMs int64) *core.TestExecution {
	exec.Status = core.ExecutionStatusFailed
	exec.Completed = true
	exec.Success = false
	exec.Error = err.Error()
	exec.DurationMs = durationMs
	r.logger.Warn("test execution failed", "execution_id", exec.ExecutionID, "error", err)
	return exec
}

// errNodeSkipped marks node types that have no server-side executor.
var errNodeSkipped = errors.New("node skipped")

func (r *Runner) executeNode(
	ctx context.Context,
	node *core.Node,
	cv *canvas.Canvas,
	outputs map[string]any,
	byName map[string]any,
	opts Options,
) (any, int, error) {
	switch node.Type {
	case core.NodeTypeInput, core.NodeTypeTrigger:
		return r.executeInput(node, opts.Inputs), 0, nil
	case core.NodeTypeProcess:
		return r.executeProcess(ctx, node, byName, opts)
	case core.NodeTypeHTTP:
		out, err := r.executeHTTP(ctx, node, byName)
		return out, 0, err
	case core.NodeTypeCondition, core.NodeTypeSwitch:
		return executeCondition(node, byName), 0, nil
	case core.NodeTypeMerge:
		return mergeUpstream(node, cv, outputs), 0, nil
	case core.NodeTypeOutput:
		return executeOutput(node, cv, outputs, byName), 0, nil
	case core.NodeTypeNotification:
		message := resolveTemplates(stringConfig(node, "message"), byName)
		r.logger.Info("notification node fired", "node", displayName(node), "message", message)
		return map[string]any{"message": message}, 0, nil
	case core.NodeTypeGroup:
		// Groups are visual containers, their children execute directly.
		return nil, 0, errNodeSkipped
	default:
		// code, loop, image_gen, mcp have no test-run executor.
		return nil, 0, errNodeSkipped
	}
}

// executeInput surfaces the seed inputs declared in the node config. Fields
// without a seed value fall back to their configured default.
func (r *Runner) executeInput(node *core.Node, inputs map[string]any) map[string]any {
	out := make(map[string]any)
	fields, _ := node.Config["fields"].([]any)
	for _, f := range fields {
		field, ok := f.(map[string]any)
		if !ok {
			continue
		}
		name, _ := field["name"].(string)
		if name == "" {
			continue
		}
		if val, ok := inputs[name]; ok {
			out[name] = val
		} else if def, ok := field["default"]; ok {
			out[name] = def
		} else {
			out[name] = ""
		}
	}
	// Unmapped seed inputs still pass through on single-field-less nodes.
	if len(fields) == 0 {
		for k, v := range inputs {
			out[k] = v
		}
	}
	return out
}

func (r *Runner) executeProcess(ctx context.Context, node *core.Node, byName map[string]any, opts Options) (any, int, error) {
	if r.llm == nil {
		return nil, 0, errors.New("no LLM provider configured")
	}

	model := opts.Model
	if model == "" {
		model = stringConfig(node, "model")
	}

	req := core.LLMRequest{
		Model:     model,
		System:    resolveTemplates(stringConfig(node, "systemPrompt"), byName),
		InputText: resolveTemplates(stringConfig(node, "userPrompt"), byName),
	}
	if temp, ok := floatConfig(node, "temperature"); ok {
		req.Temperature = &temp
	}
	if max, ok := intConfig(node, "maxTokens"); ok {
		req.MaxTokens = &max
	}

	resp, err := r.llm.Complete(ctx, req)
	if err != nil {
		return nil, 0, fmt.Errorf("llm call: %w", err)
	}
	return map[string]any{"text": resp.Text}, resp.Usage.TotalTokens, nil
}

func (r *Runner) executeHTTP(ctx context.Context, node *core.Node, byName map[string]any) (any, error) {
	method := strings.ToUpper(stringConfig(node, "method"))
	if method == "" {
		method = http.MethodGet
	}
	url := resolveTemplates(stringConfig(node, "url"), byName)
	if url == "" {
		return nil, errors.New("http node has no url")
	}

	var body io.Reader
	if raw := stringConfig(node, "body"); raw != "" {
		body = bytes.NewBufferString(resolveTemplates(raw, byName))
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	if headers, ok := node.Config["headers"].(map[string]any); ok {
		for k, v := range headers {
			if s, ok := v.(string); ok {
				req.Header.Set(k, resolveTemplates(s, byName))
			}
		}
	}

	resp, err := r.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	out := map[string]any{"status": resp.StatusCode}
	var parsed any
	if err := json.Unmarshal(data, &parsed); err == nil {
		out["body"] = parsed
	} else {
		out["body"] = string(data)
	}
	return out, nil
}

// executeCondition evaluates the configured expression after template
// substitution. Truthiness is textual: empty, "false" and "0" are false.
func executeCondition(node *core.Node, byName map[string]any) map[string]any {
	expr := resolveTemplates(stringConfig(node, "expression"), byName)
	trimmed := strings.TrimSpace(strings.ToLower(expr))
	result := trimmed != "" && trimmed != "false" && trimmed != "0"
	return map[string]any{"result": result, "expression": expr}
}

// mergeUpstream combines the outputs of all direct predecessors, keyed by
// node name where available.
func mergeUpstream(node *core.Node, cv *canvas.Canvas, outputs map[string]any) map[string]any {
	merged := make(map[string]any)
	for _, predID := range cv.Predecessors(node.ID) {
		out, ok := outputs[predID]
		if !ok {
			continue
		}
		pred, found := cv.NodeByID(predID)
		key := predID
		if found && pred.Name != "" {
			key = pred.Name
		}
		merged[key] = out
	}
	return merged
}

// executeOutput renders the configured template, or falls back to the
// single upstream value when no template is set.
func executeOutput(node *core.Node, cv *canvas.Canvas, outputs map[string]any, byName map[string]any) any {
	if tmpl := stringConfig(node, "template"); tmpl != "" {
		return resolveTemplates(tmpl, byName)
	}
	preds := cv.Predecessors(node.ID)
	if len(preds) == 1 {
		if out, ok := outputs[preds[0]]; ok {
			return out
		}
	}
	return mergeUpstream(node, cv, outputs)
}

func displayName(node *core.Node) string {
	if node.Name != "" {
		return node.Name
	}
	return node.ID
}

func stringConfig(node *core.Node, key string) string {
	if node.Config == nil {
		return ""
	}
	s, _ := node.Config[key].(string)
	return s
}

func floatConfig(node *core.Node, key string) (float64, bool) {
	if node.Config == nil {
		return 0, false
	}
	switch v := node.Config[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	}
	return 0, false
}

func intConfig(node *core.Node, key string) (int, bool) {
	if node.Config == nil {
		return 0, false
	}
	switch v := node.Config[key].(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	}
	return 0, false
}
