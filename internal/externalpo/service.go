package externalpo

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/procura-erp/procura/internal/shared"
	"github.com/procura-erp/procura/internal/users"
)

// RepositoryPort defines persistence operations for external POs.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id uuid.UUID) (ExternalPO, error)
	List(ctx context.Context, f ListFilter) ([]ExternalPO, error)
}

// Directory resolves user accounts referenced by an order.
type Directory interface {
	Get(ctx context.Context, id uuid.UUID) (users.User, error)
}

// Recorder persists approval history entries.
type Recorder interface {
	Record(ctx context.Context, log shared.ApprovalLog) error
}

const approvalModule = "external_po"

// Service runs the external PO workflow.
type Service struct {
	repo      RepositoryPort
	directory Directory
	approvals Recorder
	logger    *slog.Logger
	now       func() time.Time
}

// NewService constructs the external PO service.
func NewService(repo RepositoryPort, directory Directory, approvals Recorder, logger *slog.Logger) *Service {
	return &Service{
		repo:      repo,
		directory: directory,
		approvals: approvals,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// CreateInput carries the fields for a new order.
type CreateInput struct {
	POIDs             []string
	AssignedSBC       uuid.UUID
	Notes             string
	InternalNotes     string
	SubmitImmediately bool
}

func (s *Service) record(ctx context.Context, log shared.ApprovalLog) {
	if err := s.approvals.Record(ctx, log); err != nil {
		s.logger.Warn("record external po approval", slog.Any("error", err))
	}
}

// verifyLines checks the requested lines against their locked ledger
// state for a creator. Privileged creators skip the assignment rule.
func verifyLines(actor users.User, orderID uuid.UUID, requested []string, states []LineState) ([]LineState, error) {
	found := make(map[string]LineState, len(states))
	for _, st := range states {
		found[st.POID] = st
	}
	var missing, externalized, unassigned []string
	ordered := make([]LineState, 0, len(requested))
	for _, id := range requested {
		st, ok := found[id]
		if !ok {
			missing = append(missing, id)
			continue
		}
		if st.HasExternalPO && (st.ExternalPOID == nil || *st.ExternalPOID != orderID) {
			externalized = append(externalized, id)
		}
		if !actor.Privileged() {
			if !st.IsAssigned || st.AssignedTo == nil || *st.AssignedTo != actor.ID {
				unassigned = append(unassigned, id)
			}
		}
		ordered = append(ordered, st)
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: unknown ledger lines %v", shared.ErrValidation, missing)
	}
	if len(externalized) > 0 {
		return nil, shared.NewOwnershipConflict("externalize", externalized)
	}
	if len(unassigned) > 0 {
		return nil, shared.NewOwnershipConflict("externalize requires assignment", unassigned)
	}
	return ordered, nil
}

func totalOf(states []LineState) decimal.Decimal {
	total := decimal.Zero
	for _, st := range states {
		total = total.Add(st.LineAmount)
	}
	return total
}

func linesOf(states []LineState) []LineRef {
	lines := make([]LineRef, len(states))
	for i, st := range states {
		lines[i] = LineRef{POID: st.POID, PONumber: st.PONumber, POLineNo: st.POLineNo}
	}
	return lines
}

// Create opens an order in DRAFT, optionally submitting it right away.
// The estimated total is the sum of line amounts at this instant and is
// never recomputed.
func (s *Service) Create(ctx context.Context, actor users.User, in CreateInput) (ExternalPO, error) {
	if !actor.Capabilities().CanCreateExternalPO {
		return ExternalPO{}, shared.ErrForbidden
	}
	if len(in.POIDs) == 0 {
		return ExternalPO{}, fmt.Errorf("%w: no lines selected", shared.ErrValidation)
	}
	sbc, err := s.directory.Get(ctx, in.AssignedSBC)
	if err != nil {
		return ExternalPO{}, fmt.Errorf("%w: subcontractor not found", shared.ErrValidation)
	}
	if sbc.Role != users.RoleSBC || !sbc.IsActive {
		return ExternalPO{}, fmt.Errorf("%w: assignee is not an active subcontractor", shared.ErrValidation)
	}

	order := ExternalPO{
		ID:            uuid.New(),
		CreatedBy:     actor.ID,
		AssignedSBC:   in.AssignedSBC,
		Status:        StatusDraft,
		SBCStatus:     SBCPending,
		Notes:         in.Notes,
		InternalNotes: in.InternalNotes,
		CreatedAt:     s.now(),
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		states, err := tx.LockLines(ctx, dedupe(in.POIDs))
		if err != nil {
			return err
		}
		ordered, err := verifyLines(actor, order.ID, dedupe(in.POIDs), states)
		if err != nil {
			return err
		}
		order.Lines = linesOf(ordered)
		order.EstimatedTotal = totalOf(ordered)

		seq, err := tx.NextReference(ctx, order.CreatedAt.Year())
		if err != nil {
			return err
		}
		order.Reference = Reference(order.CreatedAt.Year(), seq)

		if in.SubmitImmediately {
			if err := tx.MarkExternal(ctx, order.POIDs(), order.ID); err != nil {
				return err
			}
			order.Status = StatusPendingL1
		}
		return tx.Insert(ctx, order)
	})
	if err != nil {
		return ExternalPO{}, err
	}

	if in.SubmitImmediately {
		s.record(ctx, shared.ApprovalLog{
			Module: approvalModule, RefID: order.ID, ActorID: actor.ID,
			Action: shared.ApprovalSubmit, Stage: "L1",
		})
	}
	return order, nil
}

// UpdateDraft lets the creator rework an order before submission.
func (s *Service) UpdateDraft(ctx context.Context, actor users.User, id uuid.UUID, in CreateInput) (ExternalPO, error) {
	var out ExternalPO
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		order, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if order.CreatedBy != actor.ID {
			return shared.ErrForbidden
		}
		if order.Status != StatusDraft {
			return fmt.Errorf("%w: order already %s", shared.ErrStateConflict, order.Status)
		}

		if in.AssignedSBC != uuid.Nil && in.AssignedSBC != order.AssignedSBC {
			sbc, err := s.directory.Get(ctx, in.AssignedSBC)
			if err != nil || sbc.Role != users.RoleSBC || !sbc.IsActive {
				return fmt.Errorf("%w: assignee is not an active subcontractor", shared.ErrValidation)
			}
			order.AssignedSBC = in.AssignedSBC
		}
		order.Notes = in.Notes
		order.InternalNotes = in.InternalNotes

		if len(in.POIDs) > 0 {
			states, err := tx.LockLines(ctx, dedupe(in.POIDs))
			if err != nil {
				return err
			}
			ordered, err := verifyLines(actor, order.ID, dedupe(in.POIDs), states)
			if err != nil {
				return err
			}
			order.Lines = linesOf(ordered)
			order.EstimatedTotal = totalOf(ordered)
			if err := tx.ReplaceLines(ctx, order.ID, order.Lines); err != nil {
				return err
			}
		}
		if err := tx.Update(ctx, order); err != nil {
			return err
		}
		out = order
		return nil
	})
	if err != nil {
		return ExternalPO{}, err
	}
	return out, nil
}

// Submit moves a draft into the approval chain and marks its lines as
// externalized.
func (s *Service) Submit(ctx context.Context, actor users.User, id uuid.UUID) (ExternalPO, error) {
	var out ExternalPO
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		order, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if order.CreatedBy != actor.ID {
			return shared.ErrForbidden
		}
		if order.Status != StatusDraft {
			return fmt.Errorf("%w: order already %s", shared.ErrStateConflict, order.Status)
		}

		states, err := tx.LockLines(ctx, order.POIDs())
		if err != nil {
			return err
		}
		if _, err := verifyLines(actor, order.ID, order.POIDs(), states); err != nil {
			return err
		}
		if err := tx.MarkExternal(ctx, order.POIDs(), order.ID); err != nil {
			return err
		}
		order.Status = StatusPendingL1
		if err := tx.Update(ctx, order); err != nil {
			return err
		}
		out = order
		return nil
	})
	if err != nil {
		return ExternalPO{}, err
	}
	s.record(ctx, shared.ApprovalLog{
		Module: approvalModule, RefID: out.ID, ActorID: actor.ID,
		Action: shared.ApprovalSubmit, Stage: "L1",
	})
	return out, nil
}

func validateRespond(action Action, reason string) error {
	if action != ActionApprove && action != ActionReject {
		return fmt.Errorf("%w: unknown action %q", shared.ErrValidation, action)
	}
	if action == ActionReject && reason == "" {
		return fmt.Errorf("%w: rejection reason required", shared.ErrValidation)
	}
	return nil
}

// L1Respond is the first approval stage. Approval advances the chain;
// rejection terminates it and releases the lines.
func (s *Service) L1Respond(ctx context.Context, actor users.User, id uuid.UUID, action Action, reason string) (ExternalPO, error) {
	if !actor.Capabilities().CanApproveLevel1 {
		return ExternalPO{}, shared.ErrForbidden
	}
	if err := validateRespond(action, reason); err != nil {
		return ExternalPO{}, err
	}

	var out ExternalPO
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		order, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if order.Status != StatusPendingL1 {
			return fmt.Errorf("%w: order is %s", shared.ErrStateConflict, order.Status)
		}

		now := s.now()
		actorID := actor.ID
		order.L1 = StageDecision{ActorID: &actorID, At: &now, Reason: reason}
		if action == ActionApprove {
			order.Status = StatusPendingL2
		} else {
			if err := tx.UnmarkExternal(ctx, order.POIDs()); err != nil {
				return err
			}
			order.Status = StatusRejected
		}
		if err := tx.Update(ctx, order); err != nil {
			return err
		}
		out = order
		return nil
	})
	if err != nil {
		return ExternalPO{}, err
	}
	s.record(ctx, shared.ApprovalLog{
		Module: approvalModule, RefID: out.ID, ActorID: actor.ID,
		Action: approvalActionOf(action), Stage: "L1", Note: reason,
	})
	return out, nil
}

// L2Respond is the final internal approval stage. Approval re-asserts
// the externalized flag on every line so a chain restarted by a
// subcontractor rejection ends in a consistent state.
func (s *Service) L2Respond(ctx context.Context, actor users.User, id uuid.UUID, action Action, reason string) (ExternalPO, error) {
	if !actor.Capabilities().CanApproveLevel2 {
		return ExternalPO{}, shared.ErrForbidden
	}
	if err := validateRespond(action, reason); err != nil {
		return ExternalPO{}, err
	}

	var out ExternalPO
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		order, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if order.Status != StatusPendingL2 {
			return fmt.Errorf("%w: order is %s", shared.ErrStateConflict, order.Status)
		}

		now := s.now()
		actorID := actor.ID
		order.L2 = StageDecision{ActorID: &actorID, At: &now, Reason: reason}
		if action == ActionApprove {
			states, err := tx.LockLines(ctx, order.POIDs())
			if err != nil {
				return err
			}
			var conflicting []string
			for _, st := range states {
				if st.HasExternalPO && (st.ExternalPOID == nil || *st.ExternalPOID != order.ID) {
					conflicting = append(conflicting, st.POID)
				}
			}
			if len(conflicting) > 0 {
				return shared.NewOwnershipConflict("externalize", conflicting)
			}
			if err := tx.MarkExternal(ctx, order.POIDs(), order.ID); err != nil {
				return err
			}
			order.Status = StatusApproved
			order.SBCStatus = SBCPending
		} else {
			if err := tx.UnmarkExternal(ctx, order.POIDs()); err != nil {
				return err
			}
			order.Status = StatusRejected
		}
		if err := tx.Update(ctx, order); err != nil {
			return err
		}
		out = order
		return nil
	})
	if err != nil {
		return ExternalPO{}, err
	}
	s.record(ctx, shared.ApprovalLog{
		Module: approvalModule, RefID: out.ID, ActorID: actor.ID,
		Action: approvalActionOf(action), Stage: "L2", Note: reason,
	})
	return out, nil
}

// SBCRespond records the subcontractor's verdict on an approved order.
// Acceptance is terminal. Rejection releases the lines and restarts the
// approval chain at L1 with the reason kept on the order.
func (s *Service) SBCRespond(ctx context.Context, actor users.User, id uuid.UUID, action Action, reason string) (ExternalPO, error) {
	if action != ActionAccept && action != ActionReject {
		return ExternalPO{}, fmt.Errorf("%w: unknown action %q", shared.ErrValidation, action)
	}
	if action == ActionReject && reason == "" {
		return ExternalPO{}, fmt.Errorf("%w: rejection reason required", shared.ErrValidation)
	}

	var out ExternalPO
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		order, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if order.AssignedSBC != actor.ID {
			return shared.ErrForbidden
		}
		if order.Status != StatusApproved || order.SBCStatus != SBCPending {
			return fmt.Errorf("%w: order is %s/%s", shared.ErrStateConflict, order.Status, order.SBCStatus)
		}

		now := s.now()
		actorID := actor.ID
		order.SBC = StageDecision{ActorID: &actorID, At: &now, Reason: reason}
		if action == ActionAccept {
			order.SBCStatus = SBCAccepted
		} else {
			if err := tx.UnmarkExternal(ctx, order.POIDs()); err != nil {
				return err
			}
			order.SBCStatus = SBCRejected
			order.Status = StatusPendingL1
			order.L1 = StageDecision{}
			order.L2 = StageDecision{}
		}
		if err := tx.Update(ctx, order); err != nil {
			return err
		}
		out = order
		return nil
	})
	if err != nil {
		return ExternalPO{}, err
	}
	approvalAction := shared.ApprovalAccept
	if action == ActionReject {
		approvalAction = shared.ApprovalReject
	}
	s.record(ctx, shared.ApprovalLog{
		Module: approvalModule, RefID: out.ID, ActorID: actor.ID,
		Action: approvalAction, Stage: "SBC", Note: reason,
	})
	return out, nil
}

// Get returns one order visible to the actor.
func (s *Service) Get(ctx context.Context, actor users.User, id uuid.UUID) (ExternalPO, error) {
	order, err := s.repo.Get(ctx, id)
	if err != nil {
		return ExternalPO{}, err
	}
	if !s.visible(actor, order) {
		return ExternalPO{}, shared.ErrNotFound
	}
	if actor.Role == users.RoleSBC {
		order.InternalNotes = ""
	}
	return order, nil
}

func (s *Service) visible(actor users.User, order ExternalPO) bool {
	caps := actor.Capabilities()
	if caps.CanViewAll || caps.CanApproveLevel1 || caps.CanApproveLevel2 {
		return true
	}
	return order.CreatedBy == actor.ID || order.AssignedSBC == actor.ID
}

// Queue identifies a work list preset.
type Queue string

const (
	QueueMine      Queue = "mine"
	QueuePendingL1 Queue = "pending_l1"
	QueuePendingL2 Queue = "pending_l2"
	QueueSBC       Queue = "sbc"
)

// List returns the orders in one of the work queues.
func (s *Service) List(ctx context.Context, actor users.User, queue Queue) ([]ExternalPO, error) {
	caps := actor.Capabilities()
	switch queue {
	case QueuePendingL1:
		if !caps.CanApproveLevel1 && !caps.CanViewAll {
			return nil, shared.ErrForbidden
		}
		return s.repo.List(ctx, ListFilter{Status: StatusPendingL1})
	case QueuePendingL2:
		if !caps.CanApproveLevel2 && !caps.CanViewAll {
			return nil, shared.ErrForbidden
		}
		return s.repo.List(ctx, ListFilter{Status: StatusPendingL2})
	case QueueSBC:
		id := actor.ID
		orders, err := s.repo.List(ctx, ListFilter{AssignedSBC: &id, Status: StatusApproved})
		if err != nil {
			return nil, err
		}
		for i := range orders {
			orders[i].InternalNotes = ""
		}
		return orders, nil
	case QueueMine, "":
		if caps.CanViewAll {
			return s.repo.List(ctx, ListFilter{})
		}
		id := actor.ID
		return s.repo.List(ctx, ListFilter{CreatedBy: &id})
	default:
		return nil, fmt.Errorf("%w: unknown queue %q", shared.ErrValidation, queue)
	}
}

func approvalActionOf(a Action) shared.ApprovalAction {
	if a == ActionApprove {
		return shared.ApprovalApprove
	}
	return shared.ApprovalReject
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
