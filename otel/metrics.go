package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/quillflow/quillflow/runner"
)

// MetricsHandler translates execution events into OpenTelemetry metrics.
// It records counters and histograms for node executions, failures, and
// execution durations.
type MetricsHandler struct {
	nodeExecutions metric.Int64Counter
	nodeFailures   metric.Int64Counter
	nodeSkips      metric.Int64Counter
	nodeDuration   metric.Float64Histogram
	execDuration   metric.Float64Histogram
	tokensUsed     metric.Int64Counter
}

// NewMetricsHandler creates a MetricsHandler that uses the given meter to
// create its instruments.
func NewMetricsHandler(meter metric.Meter) (*MetricsHandler, error) {
	nodeExec, err := meter.Int64Counter("quillflow.node.executions",
		metric.WithDescription("Number of node executions"),
	)
	if err != nil {
		return nil, err
	}

	nodeFail, err := meter.Int64Counter("quillflow.node.failures",
		metric.WithDescription("Number of node failures"),
	)
	if err != nil {
		return nil, err
	}

	nodeSkip, err := meter.Int64Counter("quillflow.node.skips",
		metric.WithDescription("Number of nodes skipped during execution"),
	)
	if err != nil {
		return nil, err
	}

	nodeDur, err := meter.Float64Histogram("quillflow.node.duration",
		metric.WithDescription("Duration of node execution in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	execDur, err := meter.Float64Histogram("quillflow.execution.duration",
		metric.WithDescription("Duration of a test execution in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	tokens, err := meter.Int64Counter("quillflow.execution.tokens",
		metric.WithDescription("Model tokens consumed by test executions"),
	)
	if err != nil {
		return nil, err
	}

	return &MetricsHandler{
		nodeExecutions: nodeExec,
		nodeFailures:   nodeFail,
		nodeSkips:      nodeSkip,
		nodeDuration:   nodeDur,
		execDuration:   execDur,
		tokensUsed:     tokens,
	}, nil
}

// Handle processes one execution event and records the appropriate metrics.
func (h *MetricsHandler) Handle(e runner.Event) {
	switch e.Kind {
	case runner.EventNodeFinished:
		h.handleNodeFinished(e)
	case runner.EventNodeFailed:
		h.handleNodeFailed(e)
	case runner.EventNodeSkipped:
		h.handleNodeSkipped(e)
	case runner.EventExecutionFinished:
		h.handleExecutionFinished(e)
	}
}

func (h *MetricsHandler) handleNodeFinished(e runner.Event) {
	ctx := context.Background()
	attrs := metric.WithAttributes(
		attribute.String("node_type", string(e.NodeType)),
		attribute.String("node_id", e.NodeID),
	)
	h.nodeExecutions.Add(ctx, 1, attrs)
	h.nodeDuration.Record(ctx, e.Elapsed.Seconds(), attrs)
}

func (h *MetricsHandler) handleNodeFailed(e runner.Event) {
	h.nodeFailures.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("node_type", string(e.NodeType)),
		attribute.String("node_id", e.NodeID),
	))
}

func (h *MetricsHandler) handleNodeSkipped(e runner.Event) {
	h.nodeSkips.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("node_type", string(e.NodeType)),
	))
}

func (h *MetricsHandler) handleExecutionFinished(e runner.Event) {
	ctx := context.Background()
	attrs := metric.WithAttributes(
		attribute.String("execution_id", e.ExecutionID),
	)
	h.execDuration.Record(ctx, e.Elapsed.Seconds(), attrs)

	if tokens, ok := payloadInt64(e.Payload, "tokens"); ok && tokens > 0 {
		h.tokensUsed.Add(ctx, tokens)
	}
}

func payloadInt64(payload map[string]any, key string) (int64, bool) {
	if payload == nil {
		return 0, false
	}
	switch v := payload[key].(type) {
	case int:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		return int64(v), true
	default:
		return 0, false
	}
}
