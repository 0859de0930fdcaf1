package assignments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/procura-erp/procura/internal/shared"
)

// TxRepository exposes transactional operations.
type TxRepository interface {
	GetForUpdate(ctx context.Context, id uuid.UUID) (Assignment, error)
	LockLines(ctx context.Context, poIDs []string) ([]LineState, error)
	Insert(ctx context.Context, a Assignment) error
	MarkAssigned(ctx context.Context, poIDs []string, userID uuid.UUID) error
	SetStatus(ctx context.Context, id uuid.UUID, status Status, reason string, respondedAt time.Time) error
}

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx wraps callback in repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	if err := fn(ctx, &txRepo{tx: tx}); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

const assignmentColumns = `id, po_ids, assigned_to, created_by, status, COALESCE(note, ''), COALESCE(rejection_reason, ''), created_at, responded_at`

func scanAssignment(row pgx.Row) (Assignment, error) {
	var a Assignment
	var responded pgtype.Timestamptz
	if err := row.Scan(&a.ID, &a.POIDs, &a.AssignedTo, &a.CreatedBy, &a.Status, &a.Note, &a.RejectionReason, &a.CreatedAt, &responded); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Assignment{}, shared.ErrNotFound
		}
		return Assignment{}, err
	}
	if responded.Valid {
		t := responded.Time
		a.RespondedAt = &t
	}
	return a, nil
}

// Get fetches an assignment without locking.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (Assignment, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+assignmentColumns+` FROM assignments WHERE id = $1`, id)
	return scanAssignment(row)
}

// ListFilter narrows assignment listings. Nil/zero fields are skipped.
type ListFilter struct {
	AssignedTo *uuid.UUID
	CreatedBy  *uuid.UUID
	Status     Status
}

// List returns assignments matching the filter, newest first.
func (r *Repository) List(ctx context.Context, f ListFilter) ([]Assignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM assignments`
	var conds []string
	var args []any
	add := func(cond string, value any) {
		args = append(args, value)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.AssignedTo != nil {
		add(`assigned_to = $%d`, *f.AssignedTo)
	}
	if f.CreatedBy != nil {
		add(`created_by = $%d`, *f.CreatedBy)
	}
	if f.Status != "" {
		add(`status = $%d`, string(f.Status))
	}
	for i, c := range conds {
		if i == 0 {
			query += ` WHERE ` + c
		} else {
			query += ` AND ` + c
		}
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, a)
	}
	return list, rows.Err()
}

func (t *txRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (Assignment, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+assignmentColumns+` FROM assignments WHERE id = $1 FOR UPDATE`, id)
	return scanAssignment(row)
}

func (t *txRepo) LockLines(ctx context.Context, poIDs []string) ([]LineState, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT po_id, is_assigned, assigned_to, has_external_po
		FROM ledger_entries
		WHERE po_id = ANY($1)
		ORDER BY po_id
		FOR UPDATE`, poIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var states []LineState
	for rows.Next() {
		var s LineState
		if err := rows.Scan(&s.POID, &s.IsAssigned, &s.AssignedTo, &s.HasExternalPO); err != nil {
			return nil, err
		}
		states = append(states, s)
	}
	return states, rows.Err()
}

func (t *txRepo) Insert(ctx context.Context, a Assignment) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO assignments (id, po_ids, assigned_to, created_by, status, note, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.ID, a.POIDs, a.AssignedTo, a.CreatedBy, string(a.Status), a.Note, a.CreatedAt)
	return err
}

func (t *txRepo) MarkAssigned(ctx context.Context, poIDs []string, userID uuid.UUID) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE ledger_entries
		SET is_assigned = TRUE, assigned_to = $2, updated_at = now()
		WHERE po_id = ANY($1)`, poIDs, userID)
	return err
}

func (t *txRepo) SetStatus(ctx context.Context, id uuid.UUID, status Status, reason string, respondedAt time.Time) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE assignments
		SET status = $2, rejection_reason = NULLIF($3, ''), responded_at = $4
		WHERE id = $1`, id, string(status), reason, respondedAt)
	return err
}
