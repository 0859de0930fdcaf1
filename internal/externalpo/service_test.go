package externalpo

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/procura-erp/procura/internal/shared"
	"github.com/procura-erp/procura/internal/users"
)

type memoryRepo struct {
	orders   map[uuid.UUID]ExternalPO
	lines    map[string]*LineState
	counters map[int]int
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		orders:   make(map[uuid.UUID]ExternalPO),
		lines:    make(map[string]*LineState),
		counters: make(map[int]int),
	}
}

func (m *memoryRepo) addLine(poID, poNumber, lineNo string, amount string, assignedTo *uuid.UUID) {
	m.lines[poID] = &LineState{
		POID:       poID,
		PONumber:   poNumber,
		POLineNo:   lineNo,
		LineAmount: decimal.RequireFromString(amount),
		IsAssigned: assignedTo != nil,
		AssignedTo: assignedTo,
	}
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, m)
}

func (m *memoryRepo) Get(ctx context.Context, id uuid.UUID) (ExternalPO, error) {
	o, ok := m.orders[id]
	if !ok {
		return ExternalPO{}, shared.ErrNotFound
	}
	return o, nil
}

func (m *memoryRepo) List(ctx context.Context, f ListFilter) ([]ExternalPO, error) {
	var out []ExternalPO
	for _, o := range m.orders {
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		if f.SBCStatus != "" && o.SBCStatus != f.SBCStatus {
			continue
		}
		if f.CreatedBy != nil && o.CreatedBy != *f.CreatedBy {
			continue
		}
		if f.AssignedSBC != nil && o.AssignedSBC != *f.AssignedSBC {
			continue
		}
		out = append(out, o)
	}
	return out, nil
}

func (m *memoryRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (ExternalPO, error) {
	return m.Get(ctx, id)
}

func (m *memoryRepo) LockLines(ctx context.Context, poIDs []string) ([]LineState, error) {
	var out []LineState
	for _, id := range poIDs {
		if s, ok := m.lines[id]; ok {
			out = append(out, *s)
		}
	}
	return out, nil
}

func (m *memoryRepo) NextReference(ctx context.Context, year int) (int, error) {
	m.counters[year]++
	return m.counters[year], nil
}

func (m *memoryRepo) Insert(ctx context.Context, o ExternalPO) error {
	m.orders[o.ID] = o
	return nil
}

func (m *memoryRepo) Update(ctx context.Context, o ExternalPO) error {
	stored, ok := m.orders[o.ID]
	if !ok {
		return shared.ErrNotFound
	}
	o.Lines = stored.Lines
	m.orders[o.ID] = o
	return nil
}

func (m *memoryRepo) ReplaceLines(ctx context.Context, orderID uuid.UUID, lines []LineRef) error {
	o := m.orders[orderID]
	o.Lines = lines
	m.orders[orderID] = o
	return nil
}

func (m *memoryRepo) MarkExternal(ctx context.Context, poIDs []string, orderID uuid.UUID) error {
	for _, id := range poIDs {
		s := m.lines[id]
		s.HasExternalPO = true
		external := orderID
		s.ExternalPOID = &external
	}
	return nil
}

func (m *memoryRepo) UnmarkExternal(ctx context.Context, poIDs []string) error {
	for _, id := range poIDs {
		s := m.lines[id]
		s.HasExternalPO = false
		s.ExternalPOID = nil
	}
	return nil
}

type memoryDirectory struct {
	users map[uuid.UUID]users.User
}

func (m *memoryDirectory) Get(ctx context.Context, id uuid.UUID) (users.User, error) {
	u, ok := m.users[id]
	if !ok {
		return users.User{}, shared.ErrNotFound
	}
	return u, nil
}

type memoryRecorder struct {
	logs []shared.ApprovalLog
}

func (m *memoryRecorder) Record(ctx context.Context, log shared.ApprovalLog) error {
	m.logs = append(m.logs, log)
	return nil
}

type fixture struct {
	repo *memoryRepo
	rec  *memoryRecorder
	svc  *Service

	pd    users.User
	pm    users.User
	admin users.User
	sbc   users.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := newMemoryRepo()
	rec := &memoryRecorder{}
	f := &fixture{
		repo:  repo,
		rec:   rec,
		pd:    users.User{ID: uuid.New(), Role: users.RolePD, IsActive: true},
		pm:    users.User{ID: uuid.New(), Role: users.RolePM, IsActive: true},
		admin: users.User{ID: uuid.New(), Role: users.RoleAdmin, IsActive: true},
		sbc:   users.User{ID: uuid.New(), Role: users.RoleSBC, IsActive: true},
	}
	dir := &memoryDirectory{users: map[uuid.UUID]users.User{
		f.pd.ID:    f.pd,
		f.pm.ID:    f.pm,
		f.admin.ID: f.admin,
		f.sbc.ID:   f.sbc,
	}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.svc = NewService(repo, dir, rec, logger)
	return f
}

func TestCreateDraft(t *testing.T) {
	f := newFixture(t)
	f.repo.addLine("1001-1", "1001", "1", "600", nil)
	f.repo.addLine("1001-2", "1001", "2", "400", nil)

	order, err := f.svc.Create(context.Background(), f.pd, CreateInput{
		POIDs:       []string{"1001-1", "1001-2"},
		AssignedSBC: f.sbc.ID,
		Notes:       "west cluster",
	})
	require.NoError(t, err)

	assert.Equal(t, StatusDraft, order.Status)
	assert.Equal(t, SBCPending, order.SBCStatus)
	assert.True(t, order.EstimatedTotal.Equal(decimal.RequireFromString("1000")))
	assert.Regexp(t, `^EPO-\d{4}-0001$`, order.Reference)
	assert.Len(t, order.Lines, 2)
	assert.False(t, f.repo.lines["1001-1"].HasExternalPO, "draft must not mark lines")
	assert.Empty(t, f.rec.logs)
}

func TestCreateReferenceSequence(t *testing.T) {
	f := newFixture(t)
	f.repo.addLine("1001-1", "1001", "1", "100", nil)
	f.repo.addLine("1001-2", "1001", "2", "100", nil)

	first, err := f.svc.Create(context.Background(), f.pd, CreateInput{POIDs: []string{"1001-1"}, AssignedSBC: f.sbc.ID})
	require.NoError(t, err)
	second, err := f.svc.Create(context.Background(), f.pd, CreateInput{POIDs: []string{"1001-2"}, AssignedSBC: f.sbc.ID})
	require.NoError(t, err)

	year := time.Now().UTC().Year()
	assert.Equal(t, Reference(year, 1), first.Reference)
	assert.Equal(t, Reference(year, 2), second.Reference)
}

func TestCreateRequiresActiveSBC(t *testing.T) {
	f := newFixture(t)
	f.repo.addLine("1001-1", "1001", "1", "100", nil)

	_, err := f.svc.Create(context.Background(), f.pd, CreateInput{POIDs: []string{"1001-1"}, AssignedSBC: f.pm.ID})
	assert.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.svc.Create(context.Background(), f.pd, CreateInput{POIDs: []string{"1001-1"}, AssignedSBC: uuid.New()})
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestCreateNonPrivilegedNeedsAssignment(t *testing.T) {
	f := newFixture(t)
	f.repo.addLine("1001-1", "1001", "1", "100", nil)

	_, err := f.svc.Create(context.Background(), f.pm, CreateInput{POIDs: []string{"1001-1"}, AssignedSBC: f.sbc.ID})
	var conflict *shared.OwnershipConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, []string{"1001-1"}, conflict.POIDs)

	// Assigned to the PM, so creation works.
	pmID := f.pm.ID
	f.repo.lines["1001-1"].IsAssigned = true
	f.repo.lines["1001-1"].AssignedTo = &pmID
	_, err = f.svc.Create(context.Background(), f.pm, CreateInput{POIDs: []string{"1001-1"}, AssignedSBC: f.sbc.ID})
	assert.NoError(t, err)
}

func TestCreateConflictsOnExternalizedLines(t *testing.T) {
	f := newFixture(t)
	f.repo.addLine("1001-1", "1001", "1", "100", nil)
	other := uuid.New()
	f.repo.lines["1001-1"].HasExternalPO = true
	f.repo.lines["1001-1"].ExternalPOID = &other

	_, err := f.svc.Create(context.Background(), f.pd, CreateInput{POIDs: []string{"1001-1"}, AssignedSBC: f.sbc.ID})
	var conflict *shared.OwnershipConflictError
	require.ErrorAs(t, err, &conflict)
}

func TestSubmitMarksLines(t *testing.T) {
	f := newFixture(t)
	f.repo.addLine("1001-1", "1001", "1", "100", nil)

	order, err := f.svc.Create(context.Background(), f.pd, CreateInput{POIDs: []string{"1001-1"}, AssignedSBC: f.sbc.ID})
	require.NoError(t, err)

	// Only the creator may submit.
	_, err = f.svc.Submit(context.Background(), f.admin, order.ID)
	assert.ErrorIs(t, err, shared.ErrForbidden)

	submitted, err := f.svc.Submit(context.Background(), f.pd, order.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPendingL1, submitted.Status)
	assert.True(t, f.repo.lines["1001-1"].HasExternalPO)
	require.NotNil(t, f.repo.lines["1001-1"].ExternalPOID)
	assert.Equal(t, order.ID, *f.repo.lines["1001-1"].ExternalPOID)

	// Cannot submit twice.
	_, err = f.svc.Submit(context.Background(), f.pd, order.ID)
	assert.ErrorIs(t, err, shared.ErrStateConflict)
}

func TestCreateSubmitImmediately(t *testing.T) {
	f := newFixture(t)
	f.repo.addLine("1001-1", "1001", "1", "100", nil)

	order, err := f.svc.Create(context.Background(), f.pd, CreateInput{
		POIDs: []string{"1001-1"}, AssignedSBC: f.sbc.ID, SubmitImmediately: true,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusPendingL1, order.Status)
	assert.True(t, f.repo.lines["1001-1"].HasExternalPO)
	require.Len(t, f.rec.logs, 1)
	assert.Equal(t, shared.ApprovalSubmit, f.rec.logs[0].Action)
}

func submittedOrder(t *testing.T, f *fixture, poIDs ...string) ExternalPO {
	t.Helper()
	order, err := f.svc.Create(context.Background(), f.pd, CreateInput{
		POIDs: poIDs, AssignedSBC: f.sbc.ID, SubmitImmediately: true,
	})
	require.NoError(t, err)
	return order
}

func TestL1ApproveAdvancesToL2(t *testing.T) {
	f := newFixture(t)
	f.repo.addLine("1001-1", "1001", "1", "100", nil)
	order := submittedOrder(t, f, "1001-1")

	// PM lacks L1 capability.
	_, err := f.svc.L1Respond(context.Background(), f.pm, order.ID, ActionApprove, "")
	assert.ErrorIs(t, err, shared.ErrForbidden)

	out, err := f.svc.L1Respond(context.Background(), f.pd, order.ID, ActionApprove, "")
	require.NoError(t, err)
	assert.Equal(t, StatusPendingL2, out.Status)
	require.NotNil(t, out.L1.ActorID)
	assert.Equal(t, f.pd.ID, *out.L1.ActorID)
	assert.True(t, f.repo.lines["1001-1"].HasExternalPO, "lines stay marked through L1 approval")
}

func TestL1RejectUnmarksLines(t *testing.T) {
	f := newFixture(t)
	f.repo.addLine("1001-1", "1001", "1", "100", nil)
	order := submittedOrder(t, f, "1001-1")

	_, err := f.svc.L1Respond(context.Background(), f.pd, order.ID, ActionReject, "")
	assert.ErrorIs(t, err, shared.ErrValidation, "reason required")

	out, err := f.svc.L1Respond(context.Background(), f.pd, order.ID, ActionReject, "budget")
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, out.Status)
	assert.False(t, f.repo.lines["1001-1"].HasExternalPO)
	assert.Nil(t, f.repo.lines["1001-1"].ExternalPOID)
}

func TestL2ApproveFinalizes(t *testing.T) {
	f := newFixture(t)
	f.repo.addLine("1001-1", "1001", "1", "100", nil)
	order := submittedOrder(t, f, "1001-1")

	_, err := f.svc.L1Respond(context.Background(), f.pd, order.ID, ActionApprove, "")
	require.NoError(t, err)

	// PD cannot close L2.
	_, err = f.svc.L2Respond(context.Background(), f.pd, order.ID, ActionApprove, "")
	assert.ErrorIs(t, err, shared.ErrForbidden)

	out, err := f.svc.L2Respond(context.Background(), f.admin, order.ID, ActionApprove, "")
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, out.Status)
	assert.Equal(t, SBCPending, out.SBCStatus)
	assert.True(t, f.repo.lines["1001-1"].HasExternalPO)
}

func TestL2RejectUnmarksLines(t *testing.T) {
	f := newFixture(t)
	f.repo.addLine("1001-1", "1001", "1", "100", nil)
	order := submittedOrder(t, f, "1001-1")

	_, err := f.svc.L1Respond(context.Background(), f.pd, order.ID, ActionApprove, "")
	require.NoError(t, err)

	out, err := f.svc.L2Respond(context.Background(), f.admin, order.ID, ActionReject, "wrong sbc")
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, out.Status)
	assert.False(t, f.repo.lines["1001-1"].HasExternalPO)
}

func TestSBCAcceptIsTerminal(t *testing.T) {
	f := newFixture(t)
	f.repo.addLine("1001-1", "1001", "1", "100", nil)
	order := submittedOrder(t, f, "1001-1")

	_, err := f.svc.L1Respond(context.Background(), f.pd, order.ID, ActionApprove, "")
	require.NoError(t, err)
	_, err = f.svc.L2Respond(context.Background(), f.admin, order.ID, ActionApprove, "")
	require.NoError(t, err)

	// Only the assigned subcontractor may respond.
	_, err = f.svc.SBCRespond(context.Background(), f.pm, order.ID, ActionAccept, "")
	assert.ErrorIs(t, err, shared.ErrForbidden)

	out, err := f.svc.SBCRespond(context.Background(), f.sbc, order.ID, ActionAccept, "")
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, out.Status)
	assert.Equal(t, SBCAccepted, out.SBCStatus)
	assert.True(t, f.repo.lines["1001-1"].HasExternalPO)

	// Terminal: no second response.
	_, err = f.svc.SBCRespond(context.Background(), f.sbc, order.ID, ActionAccept, "")
	assert.ErrorIs(t, err, shared.ErrStateConflict)
}

func TestSBCRejectRestartsChain(t *testing.T) {
	f := newFixture(t)
	f.repo.addLine("1001-1", "1001", "1", "100", nil)
	order := submittedOrder(t, f, "1001-1")

	_, err := f.svc.L1Respond(context.Background(), f.pd, order.ID, ActionApprove, "")
	require.NoError(t, err)
	_, err = f.svc.L2Respond(context.Background(), f.admin, order.ID, ActionApprove, "")
	require.NoError(t, err)

	out, err := f.svc.SBCRespond(context.Background(), f.sbc, order.ID, ActionReject, "site access blocked")
	require.NoError(t, err)
	assert.Equal(t, StatusPendingL1, out.Status)
	assert.Equal(t, SBCRejected, out.SBCStatus)
	assert.Equal(t, "site access blocked", out.SBC.Reason)
	assert.False(t, f.repo.lines["1001-1"].HasExternalPO, "lines released on sbc reject")

	// The chain runs again and ends consistent: approved with lines marked.
	_, err = f.svc.L1Respond(context.Background(), f.pd, order.ID, ActionApprove, "")
	require.NoError(t, err)
	final, err := f.svc.L2Respond(context.Background(), f.admin, order.ID, ActionApprove, "")
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, final.Status)
	assert.Equal(t, SBCPending, final.SBCStatus, "sbc may respond again")
	assert.True(t, f.repo.lines["1001-1"].HasExternalPO, "re-approval re-marks lines")
}

func TestGetHidesInternalNotesFromSBC(t *testing.T) {
	f := newFixture(t)
	f.repo.addLine("1001-1", "1001", "1", "100", nil)
	order, err := f.svc.Create(context.Background(), f.pd, CreateInput{
		POIDs: []string{"1001-1"}, AssignedSBC: f.sbc.ID, InternalNotes: "margin 12%",
	})
	require.NoError(t, err)

	forSBC, err := f.svc.Get(context.Background(), f.sbc, order.ID)
	require.NoError(t, err)
	assert.Empty(t, forSBC.InternalNotes)

	forPD, err := f.svc.Get(context.Background(), f.pd, order.ID)
	require.NoError(t, err)
	assert.Equal(t, "margin 12%", forPD.InternalNotes)

	// An unrelated PM cannot see the order at all.
	_, err = f.svc.Get(context.Background(), f.pm, order.ID)
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestListQueues(t *testing.T) {
	f := newFixture(t)
	f.repo.addLine("1001-1", "1001", "1", "100", nil)
	order := submittedOrder(t, f, "1001-1")

	pending, err := f.svc.List(context.Background(), f.pd, QueuePendingL1)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, order.ID, pending[0].ID)

	// PM has no approval capability.
	_, err = f.svc.List(context.Background(), f.pm, QueuePendingL1)
	assert.ErrorIs(t, err, shared.ErrForbidden)

	// SBC queue only shows approved orders.
	queue, err := f.svc.List(context.Background(), f.sbc, QueueSBC)
	require.NoError(t, err)
	assert.Empty(t, queue)

	_, err = f.svc.L1Respond(context.Background(), f.pd, order.ID, ActionApprove, "")
	require.NoError(t, err)
	_, err = f.svc.L2Respond(context.Background(), f.admin, order.ID, ActionApprove, "")
	require.NoError(t, err)

	queue, err = f.svc.List(context.Background(), f.sbc, QueueSBC)
	require.NoError(t, err)
	require.Len(t, queue, 1)
}

func TestUpdateDraft(t *testing.T) {
	f := newFixture(t)
	f.repo.addLine("1001-1", "1001", "1", "100", nil)
	f.repo.addLine("1001-2", "1001", "2", "250", nil)
	order, err := f.svc.Create(context.Background(), f.pd, CreateInput{POIDs: []string{"1001-1"}, AssignedSBC: f.sbc.ID})
	require.NoError(t, err)

	out, err := f.svc.UpdateDraft(context.Background(), f.pd, order.ID, CreateInput{
		POIDs: []string{"1001-2"}, Notes: "swapped line",
	})
	require.NoError(t, err)
	assert.True(t, out.EstimatedTotal.Equal(decimal.RequireFromString("250")))
	require.Len(t, out.Lines, 1)
	assert.Equal(t, "1001-2", out.Lines[0].POID)

	// Only drafts can be edited.
	_, err = f.svc.Submit(context.Background(), f.pd, order.ID)
	require.NoError(t, err)
	_, err = f.svc.UpdateDraft(context.Background(), f.pd, order.ID, CreateInput{Notes: "too late"})
	assert.ErrorIs(t, err, shared.ErrStateConflict)
}
