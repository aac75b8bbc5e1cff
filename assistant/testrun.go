package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/quillflow/quillflow/core"
)

// Poll loop tuning.
const (
	pollInterval           = 2 * time.Second
	maxConsecutiveFailures = 3
)

// fatalPollStatuses end polling immediately when seen on the first failure
// of a run: the execution is gone or the caller is no longer authorized,
// and further ticks cannot recover.
var fatalPollStatuses = map[int]bool{
	401: true,
	403: true,
	404: true,
	410: true,
}

// TestRunner polls a test execution until it completes or the circuit
// breaks. It owns a cancellable background task decoupled from any UI
// lifecycle, so headless callers can drive it directly.
//
// There is no user-initiated cancel of an in-progress poll; only the
// circuit breaker or Close stops it.
type TestRunner struct {
	client   *Client
	logger   *slog.Logger
	interval time.Duration

	// OnCompleted receives the final execution record exactly once per run.
	OnCompleted func(exec *core.TestExecution)
	// OnError receives the single consolidated error when polling is
	// circuit-broken, exactly once per failed run.
	OnError func(err error)

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
}

// NewTestRunner creates a TestRunner over the given client.
func NewTestRunner(client *Client, logger *slog.Logger) *TestRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &TestRunner{
		client:   client,
		logger:   logger,
		interval: pollInterval,
	}
}

// IsRunning reports whether a poll loop is active.
func (r *TestRunner) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Start begins polling the given execution. A second Start while a run is
// active is rejected.
func (r *TestRunner) Start(executionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return fmt.Errorf("test run %s: poll loop already running", executionID)
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.running = true
	r.cancel = cancel

	go r.poll(ctx, executionID)
	return nil
}

// Close stops any active poll loop. Used on orchestrator shutdown only.
func (r *TestRunner) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
	}
}

func (r *TestRunner) poll(ctx context.Context, executionID string) {
	defer r.finish()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		exec, err := r.client.TestStatus(ctx, executionID)
		if err != nil {
			failures++
			if r.isFatal(err, failures) {
				r.logger.Warn("test status polling stopped",
					"execution_id", executionID, "failures", failures, "error", err)
				r.emitError(fmt.Errorf("test status polling failed: %w", err))
				return
			}
			continue
		}

		// A successful poll resets the breaker.
		failures = 0

		if exec.Completed {
			if r.OnCompleted != nil {
				r.OnCompleted(exec)
			}
			return
		}
	}
}

// isFatal decides whether a poll failure ends the run: three consecutive
// transient failures, or one of the fatal HTTP statuses on the run's first
// failure.
func (r *TestRunner) isFatal(err error, failures int) bool {
	if failures >= maxConsecutiveFailures {
		return true
	}
	if failures == 1 {
		if httpErr, ok := err.(*HTTPError); ok && fatalPollStatuses[httpErr.Status] {
			return true
		}
	}
	return false
}

func (r *TestRunner) emitError(err error) {
	if r.OnError != nil {
		r.OnError(err)
	}
}

func (r *TestRunner) finish() {
	r.mu.Lock()
	r.running = false
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	r.mu.Unlock()
}
