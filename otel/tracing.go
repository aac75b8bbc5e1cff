// Package otel translates execution events into OpenTelemetry traces and
// metrics.
package otel

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/quillflow/quillflow/runner"
)

// TracingHandler translates execution events into OpenTelemetry spans.
// It maintains maps of active execution and node spans, creating and ending
// them based on event kind.
type TracingHandler struct {
	tracer trace.Tracer

	mu        sync.RWMutex
	execSpans map[string]trace.Span       // executionID -> span
	execCtxs  map[string]context.Context  // executionID -> context (for child spans)
	nodeSpans map[string]trace.Span       // executionID:nodeID -> span
}

// NewTracingHandler creates a TracingHandler that uses the given tracer to
// create spans from execution events.
func NewTracingHandler(tracer trace.Tracer) *TracingHandler {
	return &TracingHandler{
		tracer:    tracer,
		execSpans: make(map[string]trace.Span),
		execCtxs:  make(map[string]context.Context),
		nodeSpans: make(map[string]trace.Span),
	}
}

// Handle processes one execution event and creates or ends spans accordingly.
func (h *TracingHandler) Handle(e runner.Event) {
	switch e.Kind {
	case runner.EventExecutionStarted:
		h.handleExecutionStarted(e)
	case runner.EventNodeStarted:
		h.handleNodeStarted(e)
	case runner.EventNodeFinished, runner.EventNodeSkipped:
		h.handleNodeFinished(e)
	case runner.EventNodeFailed:
		h.handleNodeFailed(e)
	case runner.EventExecutionFinished:
		h.handleExecutionFinished(e)
	}
}

func (h *TracingHandler) handleExecutionStarted(e runner.Event) {
	workflowName := payloadString(e.Payload, "workflow")

	spanName := "execution:" + e.ExecutionID
	if workflowName != "" {
		spanName = "execution:" + workflowName
	}

	ctx, span := h.tracer.Start(context.Background(), spanName,
		trace.WithAttributes(
			attribute.String("quillflow.execution_id", e.ExecutionID),
		),
		trace.WithTimestamp(e.Time),
	)

	if workflowName != "" {
		span.SetAttributes(attribute.String("quillflow.workflow", workflowName))
	}

	h.mu.Lock()
	h.execSpans[e.ExecutionID] = span
	h.execCtxs[e.ExecutionID] = ctx
	h.mu.Unlock()
}

func (h *TracingHandler) handleNodeStarted(e runner.Event) {
	h.mu.RLock()
	parentCtx, ok := h.execCtxs[e.ExecutionID]
	h.mu.RUnlock()

	if !ok {
		parentCtx = context.Background()
	}

	_, span := h.tracer.Start(parentCtx, "node:"+e.NodeID,
		trace.WithAttributes(
			attribute.String("quillflow.execution_id", e.ExecutionID),
			attribute.String("quillflow.node_id", e.NodeID),
			attribute.String("quillflow.node_type", string(e.NodeType)),
		),
		trace.WithTimestamp(e.Time),
	)

	h.mu.Lock()
	h.nodeSpans[e.ExecutionID+":"+e.NodeID] = span
	h.mu.Unlock()
}

func (h *TracingHandler) handleNodeFinished(e runner.Event) {
	span, ok := h.takeNodeSpan(e.ExecutionID, e.NodeID)
	if !ok {
		return
	}
	span.SetAttributes(attribute.String("quillflow.duration", e.Elapsed.String()))
	if e.Kind == runner.EventNodeSkipped {
		span.SetAttributes(attribute.Bool("quillflow.skipped", true))
	}
	span.SetStatus(codes.Ok, "")
	span.End(trace.WithTimestamp(e.Time))
}

func (h *TracingHandler) handleNodeFailed(e runner.Event) {
	span, ok := h.takeNodeSpan(e.ExecutionID, e.NodeID)
	if !ok {
		return
	}
	errMsg := payloadString(e.Payload, "error")
	if errMsg == "" {
		errMsg = "unknown error"
	}
	span.SetStatus(codes.Error, errMsg)
	span.RecordError(spanError(errMsg), trace.WithTimestamp(e.Time))
	span.End(trace.WithTimestamp(e.Time))
}

func (h *TracingHandler) handleExecutionFinished(e runner.Event) {
	h.mu.Lock()
	span, ok := h.execSpans[e.ExecutionID]
	if ok {
		delete(h.execSpans, e.ExecutionID)
		delete(h.execCtxs, e.ExecutionID)
	}
	h.mu.Unlock()

	if !ok {
		return
	}

	status := payloadString(e.Payload, "status")
	span.SetAttributes(
		attribute.String("quillflow.duration", e.Elapsed.String()),
		attribute.String("quillflow.status", status),
	)

	if status == "failed" {
		errMsg := payloadString(e.Payload, "error")
		if errMsg == "" {
			errMsg = "execution failed"
		}
		span.SetStatus(codes.Error, errMsg)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End(trace.WithTimestamp(e.Time))
}

// ActiveSpanContext returns the SpanContext for the active node span
// identified by executionID and nodeID. Returns an empty SpanContext if not
// found.
func (h *TracingHandler) ActiveSpanContext(executionID, nodeID string) trace.SpanContext {
	h.mu.RLock()
	span, ok := h.nodeSpans[executionID+":"+nodeID]
	h.mu.RUnlock()

	if !ok {
		return trace.SpanContext{}
	}
	return span.SpanContext()
}

// ActiveExecutionSpanContext returns the SpanContext for the active
// execution-level span. Returns an empty SpanContext if not found.
func (h *TracingHandler) ActiveExecutionSpanContext(executionID string) trace.SpanContext {
	h.mu.RLock()
	span, ok := h.execSpans[executionID]
	h.mu.RUnlock()

	if !ok {
		return trace.SpanContext{}
	}
	return span.SpanContext()
}

func (h *TracingHandler) takeNodeSpan(executionID, nodeID string) (trace.Span, bool) {
	key := executionID + ":" + nodeID
	h.mu.Lock()
	defer h.mu.Unlock()
	span, ok := h.nodeSpans[key]
	if ok {
		delete(h.nodeSpans, key)
	}
	return span, ok
}

func payloadString(payload map[string]any, key string) string {
	if payload == nil {
		return ""
	}
	if s, ok := payload[key].(string); ok {
		return s
	}
	return ""
}

// spanError is a simple error type for recording span errors.
type spanError string

func (e spanError) Error() string { return string(e) }
