package actions

import (
	"log/slog"

	"github.com/quillflow/quillflow/core"
)

// LogNotifier reports action outcomes through a structured logger.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier returns a notifier backed by the given logger, falling back
// to slog.Default when nil.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) ActionApplied(action core.ActionType, nodeName string) {
	n.logger.Info("node action applied", "action", action, "node", nodeName)
}

func (n *LogNotifier) ActionFailed(action core.ActionType, subject string, err error) {
	n.logger.Warn("node action failed", "action", action, "subject", subject, "error", err)
}

var _ Notifier = (*LogNotifier)(nil)
