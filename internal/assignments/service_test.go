package assignments

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/procura-erp/procura/internal/shared"
	"github.com/procura-erp/procura/internal/users"
)

type memoryRepo struct {
	assignments map[uuid.UUID]Assignment
	lines       map[string]*LineState
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		assignments: make(map[uuid.UUID]Assignment),
		lines:       make(map[string]*LineState),
	}
}

func (m *memoryRepo) addLine(poID string) {
	m.lines[poID] = &LineState{POID: poID}
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, m)
}

func (m *memoryRepo) Get(ctx context.Context, id uuid.UUID) (Assignment, error) {
	a, ok := m.assignments[id]
	if !ok {
		return Assignment{}, shared.ErrNotFound
	}
	return a, nil
}

func (m *memoryRepo) List(ctx context.Context, f ListFilter) ([]Assignment, error) {
	var out []Assignment
	for _, a := range m.assignments {
		if f.AssignedTo != nil && a.AssignedTo != *f.AssignedTo {
			continue
		}
		if f.CreatedBy != nil && a.CreatedBy != *f.CreatedBy {
			continue
		}
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

func (m *memoryRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (Assignment, error) {
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

func (m *memoryRepo) Insert(ctx context.Context, a Assignment) error {
	m.assignments[a.ID] = a
	return nil
}

func (m *memoryRepo) MarkAssigned(ctx context.Context, poIDs []string, userID uuid.UUID) error {
	for _, id := range poIDs {
		s := m.lines[id]
		s.IsAssigned = true
		s.AssignedTo = &userID
	}
	return nil
}

func (m *memoryRepo) SetStatus(ctx context.Context, id uuid.UUID, status Status, reason string, respondedAt time.Time) error {
	a := m.assignments[id]
	a.Status = status
	a.RejectionReason = reason
	a.RespondedAt = &respondedAt
	m.assignments[id] = a
	return nil
}

type memoryRecorder struct {
	logs []shared.ApprovalLog
}

func (m *memoryRecorder) Record(ctx context.Context, log shared.ApprovalLog) error {
	m.logs = append(m.logs, log)
	return nil
}

func newTestService(repo *memoryRepo) (*Service, *memoryRecorder) {
	rec := &memoryRecorder{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(repo, rec, logger), rec
}

func pdUser() users.User {
	return users.User{ID: uuid.New(), Role: users.RolePD, IsActive: true}
}

func pmUser() users.User {
	return users.User{ID: uuid.New(), Role: users.RolePM, IsActive: true}
}

func TestCreateRequiresCapability(t *testing.T) {
	repo := newMemoryRepo()
	repo.addLine("1001-1")
	svc, _ := newTestService(repo)

	_, err := svc.Create(context.Background(), pmUser(), []string{"1001-1"}, uuid.New(), "")
	assert.ErrorIs(t, err, shared.ErrForbidden)
}

func TestCreateValidation(t *testing.T) {
	repo := newMemoryRepo()
	svc, _ := newTestService(repo)
	actor := pdUser()

	_, err := svc.Create(context.Background(), actor, nil, uuid.New(), "")
	assert.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.Create(context.Background(), actor, []string{"1001-1"}, uuid.Nil, "")
	assert.ErrorIs(t, err, shared.ErrValidation)

	// Unknown line.
	_, err = svc.Create(context.Background(), actor, []string{"nope-1"}, uuid.New(), "")
	assert.ErrorIs(t, err, shared.ErrValidation)
}

func TestCreateConflictsOnAssignedLines(t *testing.T) {
	repo := newMemoryRepo()
	repo.addLine("1001-1")
	repo.addLine("1001-2")
	taken := uuid.New()
	repo.lines["1001-2"].IsAssigned = true
	repo.lines["1001-2"].AssignedTo = &taken
	svc, _ := newTestService(repo)

	_, err := svc.Create(context.Background(), pdUser(), []string{"1001-1", "1001-2"}, uuid.New(), "")
	var conflict *shared.OwnershipConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, []string{"1001-2"}, conflict.POIDs)
	assert.Empty(t, repo.assignments, "nothing persisted on conflict")
}

func TestApproveFlipsLedgerFlags(t *testing.T) {
	repo := newMemoryRepo()
	repo.addLine("1001-1")
	repo.addLine("1001-2")
	svc, rec := newTestService(repo)

	assignee := pmUser()
	created, err := svc.Create(context.Background(), pdUser(), []string{"1001-1", "1001-2"}, assignee.ID, "field work")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, created.Status)
	assert.False(t, repo.lines["1001-1"].IsAssigned, "ledger untouched until approval")

	out, err := svc.Respond(context.Background(), assignee, created.ID, ActionApprove, "")
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, out.Status)
	require.NotNil(t, out.RespondedAt)

	for _, id := range []string{"1001-1", "1001-2"} {
		assert.True(t, repo.lines[id].IsAssigned)
		require.NotNil(t, repo.lines[id].AssignedTo)
		assert.Equal(t, assignee.ID, *repo.lines[id].AssignedTo)
	}
	require.Len(t, rec.logs, 2)
	assert.Equal(t, shared.ApprovalSubmit, rec.logs[0].Action)
	assert.Equal(t, shared.ApprovalApprove, rec.logs[1].Action)
}

func TestRejectLeavesLedgerUntouched(t *testing.T) {
	repo := newMemoryRepo()
	repo.addLine("1001-1")
	svc, rec := newTestService(repo)

	assignee := pmUser()
	created, err := svc.Create(context.Background(), pdUser(), []string{"1001-1"}, assignee.ID, "")
	require.NoError(t, err)

	// Reason is mandatory.
	_, err = svc.Respond(context.Background(), assignee, created.ID, ActionReject, "")
	assert.ErrorIs(t, err, shared.ErrValidation)

	out, err := svc.Respond(context.Background(), assignee, created.ID, ActionReject, "wrong scope")
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, out.Status)
	assert.Equal(t, "wrong scope", out.RejectionReason)
	assert.False(t, repo.lines["1001-1"].IsAssigned)
	assert.Equal(t, shared.ApprovalReject, rec.logs[len(rec.logs)-1].Action)
}

func TestRespondOnlyAssignee(t *testing.T) {
	repo := newMemoryRepo()
	repo.addLine("1001-1")
	svc, _ := newTestService(repo)

	assignee := pmUser()
	created, err := svc.Create(context.Background(), pdUser(), []string{"1001-1"}, assignee.ID, "")
	require.NoError(t, err)

	_, err = svc.Respond(context.Background(), pmUser(), created.ID, ActionApprove, "")
	assert.ErrorIs(t, err, shared.ErrForbidden)
}

func TestRespondTwiceConflicts(t *testing.T) {
	repo := newMemoryRepo()
	repo.addLine("1001-1")
	svc, _ := newTestService(repo)

	assignee := pmUser()
	created, err := svc.Create(context.Background(), pdUser(), []string{"1001-1"}, assignee.ID, "")
	require.NoError(t, err)

	_, err = svc.Respond(context.Background(), assignee, created.ID, ActionApprove, "")
	require.NoError(t, err)

	_, err = svc.Respond(context.Background(), assignee, created.ID, ActionApprove, "")
	assert.ErrorIs(t, err, shared.ErrStateConflict)
}

func TestApproveRacesAgainstConcurrentAssignment(t *testing.T) {
	repo := newMemoryRepo()
	repo.addLine("1001-1")
	svc, _ := newTestService(repo)

	assignee := pmUser()
	created, err := svc.Create(context.Background(), pdUser(), []string{"1001-1"}, assignee.ID, "")
	require.NoError(t, err)

	// Another workflow grabbed the line between create and respond.
	someone := uuid.New()
	repo.lines["1001-1"].IsAssigned = true
	repo.lines["1001-1"].AssignedTo = &someone

	_, err = svc.Respond(context.Background(), assignee, created.ID, ActionApprove, "")
	var conflict *shared.OwnershipConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, []string{"1001-1"}, conflict.POIDs)
}

func TestListScopedToAssignee(t *testing.T) {
	repo := newMemoryRepo()
	repo.addLine("1001-1")
	repo.addLine("1001-2")
	svc, _ := newTestService(repo)

	mine := pmUser()
	other := pmUser()
	creator := pdUser()
	_, err := svc.Create(context.Background(), creator, []string{"1001-1"}, mine.ID, "")
	require.NoError(t, err)
	_, err = svc.Create(context.Background(), pdUser(), []string{"1001-2"}, other.ID, "")
	require.NoError(t, err)

	list, err := svc.List(context.Background(), mine, "", "")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, mine.ID, list[0].AssignedTo)

	all, err := svc.List(context.Background(), users.User{ID: uuid.New(), Role: users.RoleCoordinator}, "", "")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	sent, err := svc.List(context.Background(), creator, "created", "")
	require.NoError(t, err)
	require.Len(t, sent, 1)
	assert.Equal(t, creator.ID, sent[0].CreatedBy)

	inbox, err := svc.List(context.Background(), other, "assigned", "")
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	assert.Equal(t, other.ID, inbox[0].AssignedTo)

	_, err = svc.List(context.Background(), mine, "everything", "")
	assert.ErrorIs(t, err, shared.ErrValidation)
}
