package assignments

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/procura-erp/procura/internal/shared"
	"github.com/procura-erp/procura/internal/users"
)

// RepositoryPort defines persistence operations for assignments.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id uuid.UUID) (Assignment, error)
	List(ctx context.Context, f ListFilter) ([]Assignment, error)
}

// Recorder persists approval history entries.
type Recorder interface {
	Record(ctx context.Context, log shared.ApprovalLog) error
}

const approvalModule = "assignments"

// Service runs the assignment workflow.
type Service struct {
	repo      RepositoryPort
	approvals Recorder
	logger    *slog.Logger
}

// NewService constructs the assignments service.
func NewService(repo RepositoryPort, approvals Recorder, logger *slog.Logger) *Service {
	return &Service{repo: repo, approvals: approvals, logger: logger}
}

// checkAvailable verifies every requested line exists and none is
// already handed out. Locked states must arrive sorted by po_id.
func checkAvailable(op string, requested []string, states []LineState) error {
	found := make(map[string]LineState, len(states))
	for _, s := range states {
		found[s.POID] = s
	}
	var missing, taken []string
	for _, id := range requested {
		s, ok := found[id]
		if !ok {
			missing = append(missing, id)
			continue
		}
		if s.IsAssigned {
			taken = append(taken, id)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: unknown ledger lines %v", shared.ErrValidation, missing)
	}
	if len(taken) > 0 {
		return shared.NewOwnershipConflict(op, taken)
	}
	return nil
}

// Create opens a PENDING assignment proposing the lines to assignee.
// The ledger is not mutated until the assignee approves.
func (s *Service) Create(ctx context.Context, actor users.User, poIDs []string, assignee uuid.UUID, note string) (Assignment, error) {
	if !actor.Capabilities().CanAssign {
		return Assignment{}, shared.ErrForbidden
	}
	if len(poIDs) == 0 {
		return Assignment{}, fmt.Errorf("%w: no lines selected", shared.ErrValidation)
	}
	if assignee == uuid.Nil {
		return Assignment{}, fmt.Errorf("%w: assignee required", shared.ErrValidation)
	}

	assignment := Assignment{
		ID:         uuid.New(),
		POIDs:      dedupe(poIDs),
		AssignedTo: assignee,
		CreatedBy:  actor.ID,
		Status:     StatusPending,
		Note:       note,
		CreatedAt:  time.Now().UTC(),
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		states, err := tx.LockLines(ctx, assignment.POIDs)
		if err != nil {
			return err
		}
		if err := checkAvailable("assign", assignment.POIDs, states); err != nil {
			return err
		}
		return tx.Insert(ctx, assignment)
	})
	if err != nil {
		return Assignment{}, err
	}

	if err := s.approvals.Record(ctx, shared.ApprovalLog{
		Module:  approvalModule,
		RefID:   assignment.ID,
		ActorID: actor.ID,
		Action:  shared.ApprovalSubmit,
		Stage:   "assignee",
		Note:    note,
	}); err != nil {
		s.logger.Warn("record assignment submit", slog.Any("error", err))
	}
	return assignment, nil
}

// Respond lets the assignee accept or decline a pending assignment.
// Approval flips the ledger flags in the same transaction; rejection
// leaves the ledger untouched so the lines stay available.
func (s *Service) Respond(ctx context.Context, actor users.User, id uuid.UUID, action Action, reason string) (Assignment, error) {
	if action == ActionReject && reason == "" {
		return Assignment{}, fmt.Errorf("%w: rejection reason required", shared.ErrValidation)
	}
	if action != ActionApprove && action != ActionReject {
		return Assignment{}, fmt.Errorf("%w: unknown action %q", shared.ErrValidation, action)
	}

	var out Assignment
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		a, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if a.AssignedTo != actor.ID {
			return shared.ErrForbidden
		}
		if a.Status != StatusPending {
			return fmt.Errorf("%w: assignment already %s", shared.ErrStateConflict, a.Status)
		}

		now := time.Now().UTC()
		switch action {
		case ActionApprove:
			states, err := tx.LockLines(ctx, a.POIDs)
			if err != nil {
				return err
			}
			if err := checkAvailable("assign", a.POIDs, states); err != nil {
				return err
			}
			if err := tx.MarkAssigned(ctx, a.POIDs, actor.ID); err != nil {
				return err
			}
			a.Status = StatusApproved
		case ActionReject:
			a.Status = StatusRejected
			a.RejectionReason = reason
		}
		a.RespondedAt = &now
		if err := tx.SetStatus(ctx, a.ID, a.Status, reason, now); err != nil {
			return err
		}
		out = a
		return nil
	})
	if err != nil {
		return Assignment{}, err
	}

	approvalAction := shared.ApprovalApprove
	if action == ActionReject {
		approvalAction = shared.ApprovalReject
	}
	if err := s.approvals.Record(ctx, shared.ApprovalLog{
		Module:  approvalModule,
		RefID:   out.ID,
		ActorID: actor.ID,
		Action:  approvalAction,
		Stage:   "assignee",
		Note:    reason,
	}); err != nil {
		s.logger.Warn("record assignment response", slog.Any("error", err))
	}
	return out, nil
}

// Get returns one assignment visible to the actor.
func (s *Service) Get(ctx context.Context, actor users.User, id uuid.UUID) (Assignment, error) {
	a, err := s.repo.Get(ctx, id)
	if err != nil {
		return Assignment{}, err
	}
	if !actor.Capabilities().CanViewAll && a.AssignedTo != actor.ID && a.CreatedBy != actor.ID {
		return Assignment{}, shared.ErrNotFound
	}
	return a, nil
}

// List returns assignments visible to the actor, optionally filtered by
// status. The queue selects between the actor's inbox ("assigned"), the
// assignments they opened ("created") and the unscoped list, which
// privileged viewers see in full and everyone else sees as their inbox.
func (s *Service) List(ctx context.Context, actor users.User, queue string, status Status) ([]Assignment, error) {
	f := ListFilter{Status: status}
	id := actor.ID
	switch queue {
	case "assigned":
		f.AssignedTo = &id
	case "created":
		f.CreatedBy = &id
	case "":
		if !actor.Capabilities().CanViewAll {
			f.AssignedTo = &id
		}
	default:
		return nil, fmt.Errorf("%w: unknown queue %q", shared.ErrValidation, queue)
	}
	return s.repo.List(ctx, f)
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
