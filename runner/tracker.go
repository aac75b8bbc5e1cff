package runner

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/quillflow/quillflow/canvas"
	"github.com/quillflow/quillflow/core"
)

// ErrExecutionNotFound is returned when an execution ID is unknown.
var ErrExecutionNotFound = errors.New("execution not found")

// Tracker starts test executions in the background and serves status
// snapshots by execution ID. It is the backing store for the test-status
// endpoint the client polls.
type Tracker struct {
	runner *Runner
	logger *slog.Logger

	mu         sync.Mutex
	executions map[string]*core.TestExecution
	cancels    map[string]context.CancelFunc
}

// NewTracker creates a Tracker over the given runner.
func NewTracker(runner *Runner, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		runner:     runner,
		logger:     logger,
		executions: make(map[string]*core.TestExecution),
		cancels:    make(map[string]context.CancelFunc),
	}
}

// Start launches a test run in the background and returns its execution ID
// together with the IDs of the nodes that will run, in execution order.
func (t *Tracker) Start(def *canvas.Definition, opts Options) (string, []string, error) {
	cv, err := canvas.FromDefinition(def)
	if err != nil {
		return "", nil, err
	}
	if cv.NodeCount() == 0 {
		return "", nil, ErrEmptyCanvas
	}

	executionID := uuid.NewString()
	pending := cv.TopologicalOrder()

	ctx, cancel := context.WithCancel(context.Background())

	t.mu.Lock()
	t.executions[executionID] = &core.TestExecution{
		ExecutionID: executionID,
		Status:      core.ExecutionStatusRunning,
	}
	t.cancels[executionID] = cancel
	t.mu.Unlock()

	go t.run(ctx, executionID, def, opts)

	return executionID, pending, nil
}

func (t *Tracker) run(ctx context.Context, executionID string, def *canvas.Definition, opts Options) {
	defer func() {
		t.mu.Lock()
		if cancel, ok := t.cancels[executionID]; ok {
			cancel()
			delete(t.cancels, executionID)
		}
		t.mu.Unlock()
	}()

	exec, err := t.runner.Run(ctx, executionID, def, opts)
	if err != nil {
		exec.Status = core.ExecutionStatusFailed
		exec.Completed = true
		exec.Error = err.Error()
		t.logger.Warn("test execution aborted", "execution_id", executionID, "error", err)
	}

	t.mu.Lock()
	t.executions[executionID] = exec
	t.mu.Unlock()
}

// Get returns a snapshot of the execution. The returned record is a copy;
// callers may not mutate tracker state through it.
func (t *Tracker) Get(executionID string) (*core.TestExecution, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	exec, ok := t.executions[executionID]
	if !ok {
		return nil, ErrExecutionNotFound
	}

	snapshot := *exec
	snapshot.NodeResults = append([]core.NodeResult(nil), exec.NodeResults...)
	return &snapshot, nil
}

// Cancel stops a running execution. Canceling an unknown or finished
// execution is a no-op.
func (t *Tracker) Cancel(executionID string) {
	t.mu.Lock()
	cancel, ok := t.cancels[executionID]
	t.mu.Unlock()
	if ok {
		cancel()
	}
}

// Close cancels every running execution.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, cancel := range t.cancels {
		cancel()
		delete(t.cancels, id)
	}
}
