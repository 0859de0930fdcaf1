package recon

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/procura-erp/procura/internal/shared"
)

// RepositoryPort defines persistence operations for the recon module.
type RepositoryPort interface {
	UpsertPOLines(ctx context.Context, lines []PurchaseOrderLine) (int, error)
	UpsertAcceptances(ctx context.Context, records []AcceptanceRecord) (int, error)
	LoadSources(ctx context.Context) ([]PurchaseOrderLine, []AcceptanceRecord, error)
	LoadAccounts(ctx context.Context) (map[string]string, error)
	ListAccounts(ctx context.Context, needsReviewOnly bool) ([]Account, error)
	ReplaceLedger(ctx context.Context, entries []LedgerEntry, newAccounts []Account) (resetAssigned, resetExternal int, err error)
	CreateRun(ctx context.Context, run MergeRun) error
	FinishRun(ctx context.Context, run MergeRun) error
	GetRun(ctx context.Context, id uuid.UUID) (MergeRun, error)
	ListRuns(ctx context.Context, limit int) ([]MergeRun, error)
}

// Releaser frees a held lock.
type Releaser interface {
	Release(ctx context.Context) error
}

// Locker serializes merge runs across processes.
type Locker interface {
	Acquire(ctx context.Context) (Releaser, error)
}

type mergeLockAdapter struct {
	inner *shared.MergeLock
}

func (a mergeLockAdapter) Acquire(ctx context.Context) (Releaser, error) {
	return a.inner.Acquire(ctx)
}

// LockerFor adapts the shared merge lock to the service port.
func LockerFor(lock *shared.MergeLock) Locker {
	return mergeLockAdapter{inner: lock}
}

// Auditor records audit trail entries.
type Auditor interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service orchestrates source ingestion and ledger rebuilds.
type Service struct {
	repo   RepositoryPort
	lock   Locker
	audit  Auditor
	logger *slog.Logger
}

// NewService constructs the recon service.
func NewService(repo RepositoryPort, lock Locker, audit Auditor, logger *slog.Logger) *Service {
	return &Service{repo: repo, lock: lock, audit: audit, logger: logger}
}

// IngestResult reports what a source upload stored.
type IngestResult struct {
	POLines     int
	Acceptances int
}

// IngestSource upserts raw PO lines and acceptance records by identity key.
func (s *Service) IngestSource(ctx context.Context, lines []PurchaseOrderLine, records []AcceptanceRecord) (IngestResult, error) {
	if len(lines) == 0 && len(records) == 0 {
		return IngestResult{}, fmt.Errorf("%w: empty source payload", shared.ErrValidation)
	}
	for _, l := range lines {
		if l.PONumber == "" || l.POLineNo == "" {
			return IngestResult{}, fmt.Errorf("%w: po line missing identity", shared.ErrValidation)
		}
	}
	for _, rec := range records {
		if rec.PONumber == "" || rec.POLineNo == "" || rec.AcceptanceNo == "" {
			return IngestResult{}, fmt.Errorf("%w: acceptance record missing identity", shared.ErrValidation)
		}
	}

	var out IngestResult
	var err error
	if out.POLines, err = s.repo.UpsertPOLines(ctx, lines); err != nil {
		return IngestResult{}, err
	}
	if out.Acceptances, err = s.repo.UpsertAcceptances(ctx, records); err != nil {
		return IngestResult{}, err
	}
	return out, nil
}

// RunMerge rebuilds the ledger snapshot from current source rows. At
// most one run executes at a time; concurrent callers get
// ErrMergeInProgress. A failed run is recorded in history before the
// error is returned.
func (s *Service) RunMerge(ctx context.Context, actorID uuid.UUID) (MergeRun, error) {
	release, err := s.lock.Acquire(ctx)
	if err != nil {
		return MergeRun{}, err
	}
	defer func() {
		if relErr := release.Release(ctx); relErr != nil {
			s.logger.Warn("release merge lock", slog.Any("error", relErr))
		}
	}()

	lines, records, err := s.repo.LoadSources(ctx)
	if err != nil {
		return MergeRun{}, err
	}
	if len(lines) == 0 {
		return MergeRun{}, shared.ErrNoData
	}
	accounts, err := s.repo.LoadAccounts(ctx)
	if err != nil {
		return MergeRun{}, err
	}

	run := MergeRun{
		ID:          uuid.New(),
		BatchID:     uuid.New(),
		Status:      RunInProgress,
		TriggeredBy: actorID,
		SourceLines: len(lines),
		StartedAt:   time.Now().UTC(),
	}
	if err := s.repo.CreateRun(ctx, run); err != nil {
		return MergeRun{}, err
	}

	built := BuildLedger(lines, records, accounts, run.BatchID, s.logger)
	run.LedgerRows = len(built.Entries)
	run.SkippedRows = built.Skipped
	run.NewAccounts = len(built.NewAccounts)

	resetAssigned, resetExternal, err := s.repo.ReplaceLedger(ctx, built.Entries, built.NewAccounts)
	now := time.Now().UTC()
	run.FinishedAt = &now
	if err != nil {
		run.Status = RunFailed
		run.Error = err.Error()
		if histErr := s.repo.FinishRun(ctx, run); histErr != nil {
			s.logger.Error("record failed merge run", slog.Any("error", histErr))
		}
		return MergeRun{}, err
	}

	run.Status = RunCompleted
	run.ResetAssigned = resetAssigned
	run.ResetExternal = resetExternal
	if err := s.repo.FinishRun(ctx, run); err != nil {
		return MergeRun{}, err
	}

	s.logger.Info("merge run completed",
		slog.String("batch_id", run.BatchID.String()),
		slog.Int("ledger_rows", run.LedgerRows),
		slog.Int("skipped_rows", run.SkippedRows),
		slog.Int("reset_assigned", resetAssigned),
		slog.Int("reset_external", resetExternal),
		slog.Int("new_accounts", run.NewAccounts))

	if s.audit != nil {
		if err := s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   "merge.run",
			Entity:   "merge_run",
			EntityID: run.ID.String(),
			Meta: map[string]any{
				"batch_id":    run.BatchID.String(),
				"ledger_rows": run.LedgerRows,
				"skipped":     run.SkippedRows,
			},
		}); err != nil {
			s.logger.Warn("audit merge run", slog.Any("error", err))
		}
	}
	return run, nil
}

// ListRuns exposes merge run history.
func (s *Service) ListRuns(ctx context.Context, limit int) ([]MergeRun, error) {
	return s.repo.ListRuns(ctx, limit)
}

// GetRun returns one merge run by id.
func (s *Service) GetRun(ctx context.Context, id uuid.UUID) (MergeRun, error) {
	return s.repo.GetRun(ctx, id)
}

// ListAccounts returns the project account mappings, optionally only
// those flagged for review.
func (s *Service) ListAccounts(ctx context.Context, needsReviewOnly bool) ([]Account, error) {
	return s.repo.ListAccounts(ctx, needsReviewOnly)
}
