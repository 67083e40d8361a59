package daemon

import (
	"context"
	"log/slog"
	"time"

	"nixupload/internal/history"
	"nixupload/internal/logging"
	"nixupload/internal/nix"
)

const recordTimeout = 5 * time.Second

// HistoryRecorder writes pool outcomes to the history ledger.
type HistoryRecorder struct {
	store       *history.Store
	runID       string
	destination string
	logger      *slog.Logger
}

// NewHistoryRecorder records outcomes for one daemon run into store.
func NewHistoryRecorder(store *history.Store, runID, destination string, logger *slog.Logger) *HistoryRecorder {
	return &HistoryRecorder{
		store:       store,
		runID:       runID,
		destination: destination,
		logger:      logging.NewComponentLogger(logger, "history"),
	}
}

// RecordUpload implements Recorder. Ledger failures are logged and never
// reach the worker.
func (r *HistoryRecorder) RecordUpload(ctx context.Context, outcome Outcome) {
	if r == nil || r.store == nil {
		return
	}
	entry := history.Entry{
		RunID:       r.runID,
		Path:        outcome.Path,
		Destination: r.destination,
		Status:      history.StatusUploaded,
		Worker:      outcome.Worker,
		StartedAt:   outcome.StartedAt,
		FinishedAt:  outcome.StartedAt.Add(outcome.Duration),
		Duration:    outcome.Duration,
	}
	if outcome.Err != nil {
		entry.Status = history.StatusFailed
		entry.ErrorMessage = outcome.Err.Error()
		if status, ok := nix.ExitStatus(outcome.Err); ok {
			entry.ExitStatus = &status
		}
	}

	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if _, err := r.store.Record(recordCtx, entry); err != nil {
		logging.WarnWithContext(r.logger, "failed to record upload outcome", "history_write_failed",
			logging.Path(outcome.Path),
			logging.Error(err),
			logging.String(logging.FieldImpact, "history is missing this upload"),
		)
	}
}
