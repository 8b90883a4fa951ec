package engine

import (
	"log/slog"

	"github.com/collectkit/amazon-collector/internal/models"
)

// Notifier receives run lifecycle events. Implementations must be fast or
// hand off internally; the engine calls them outside its lock but from the
// step goroutine.
type Notifier interface {
	// Progress fires after every persisted state mutation.
	Progress(st *models.CollectionState)
	// ReauthRequired fires when a run halts on an expired session.
	ReauthRequired()
	// Done fires once per run, after the final item.
	Done(success, failure int)
}

// NopNotifier discards all events.
type NopNotifier struct{}

func (NopNotifier) Progress(*models.CollectionState) {}
func (NopNotifier) ReauthRequired()                  {}
func (NopNotifier) Done(int, int)                    {}

// LogNotifier reports run events through the process logger.
type LogNotifier struct {
	Logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{Logger: logger.With("component", "progress")}
}

func (n *LogNotifier) Progress(st *models.CollectionState) {
	n.Logger.Info("collection progress",
		"phase", st.Phase,
		"current", st.CurrentIndex,
		"total", st.TotalItems,
		"success", st.SuccessCount,
		"failure", st.FailureCount)
}

func (n *LogNotifier) ReauthRequired() {
	n.Logger.Warn("session expired, sign in again to continue the run")
}

func (n *LogNotifier) Done(success, failure int) {
	n.Logger.Info("collection finished", "success", success, "failure", failure)
}
