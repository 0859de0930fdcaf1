package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	jobmetrics "github.com/procura-erp/procura/internal/jobs"
	"github.com/procura-erp/procura/internal/recon"
	"github.com/procura-erp/procura/internal/shared"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskReconRebuild rebuilds the reconciliation ledger from source tables.
	TaskReconRebuild = "recon:rebuild"
)

// ReconRebuildPayload identifies who requested the ledger rebuild.
type ReconRebuildPayload struct {
	TriggeredBy uuid.UUID `json:"triggered_by"`
	Reason      string    `json:"reason,omitempty"`
}

// NewReconRebuildTask constructs an Asynq task for a ledger rebuild.
func NewReconRebuildTask(payload ReconRebuildPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReconRebuild, data), nil
}

// MergeRunner is the slice of the recon service the worker needs.
type MergeRunner interface {
	RunMerge(ctx context.Context, actorID uuid.UUID) (recon.MergeRun, error)
}

// NewReconRebuildHandler returns the handler processing TaskReconRebuild tasks.
func NewReconRebuildHandler(runner MergeRunner, logger *slog.Logger, metrics *jobmetrics.Metrics) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload ReconRebuildPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}

		tracker := metrics.Track(TaskReconRebuild)
		run, err := runner.RunMerge(ctx, payload.TriggeredBy)
		if err != nil {
			if errors.Is(err, shared.ErrMergeInProgress) {
				logger.Info("ledger rebuild skipped, merge already running")
				return tracker.End(nil)
			}
			if errors.Is(err, shared.ErrNoData) {
				logger.Warn("ledger rebuild skipped, no source data")
				return tracker.End(nil)
			}
			logger.Error("ledger rebuild failed", slog.Any("error", err))
			return tracker.End(err)
		}

		logger.Info("ledger rebuild completed",
			slog.String("run_id", run.ID.String()),
			slog.Int("ledger_rows", run.LedgerRows),
			slog.Int("skipped_rows", run.SkippedRows))
		return tracker.End(nil)
	}
}
