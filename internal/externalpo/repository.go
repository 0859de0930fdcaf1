package externalpo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/procura-erp/procura/internal/shared"
)

// TxRepository exposes transactional operations.
type TxRepository interface {
	GetForUpdate(ctx context.Context, id uuid.UUID) (ExternalPO, error)
	LockLines(ctx context.Context, poIDs []string) ([]LineState, error)
	NextReference(ctx context.Context, year int) (int, error)
	Insert(ctx context.Context, order ExternalPO) error
	Update(ctx context.Context, order ExternalPO) error
	ReplaceLines(ctx context.Context, orderID uuid.UUID, lines []LineRef) error
	MarkExternal(ctx context.Context, poIDs []string, orderID uuid.UUID) error
	UnmarkExternal(ctx context.Context, poIDs []string) error
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

const orderColumns = `
	id, reference, created_by, assigned_sbc, status, sbc_status,
	COALESCE(notes, ''), COALESCE(internal_notes, ''), estimated_total,
	l1_actor, l1_at, COALESCE(l1_reason, ''),
	l2_actor, l2_at, COALESCE(l2_reason, ''),
	sbc_actor, sbc_at, COALESCE(sbc_reason, ''),
	created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (ExternalPO, error) {
	var o ExternalPO
	var total pgtype.Numeric
	var l1At, l2At, sbcAt pgtype.Timestamptz
	err := row.Scan(&o.ID, &o.Reference, &o.CreatedBy, &o.AssignedSBC, &o.Status, &o.SBCStatus,
		&o.Notes, &o.InternalNotes, &total,
		&o.L1.ActorID, &l1At, &o.L1.Reason,
		&o.L2.ActorID, &l2At, &o.L2.Reason,
		&o.SBC.ActorID, &sbcAt, &o.SBC.Reason,
		&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ExternalPO{}, shared.ErrNotFound
		}
		return ExternalPO{}, err
	}
	o.EstimatedTotal = decimalOf(total)
	o.L1.At = timePtr(l1At)
	o.L2.At = timePtr(l2At)
	o.SBC.At = timePtr(sbcAt)
	return o, nil
}

func (r *Repository) loadLines(ctx context.Context, q interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}, orderID uuid.UUID) ([]LineRef, error) {
	rows, err := q.Query(ctx, `
		SELECT po_id, po_number, po_line_no
		FROM external_po_lines
		WHERE external_po_id = $1
		ORDER BY po_id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []LineRef
	for rows.Next() {
		var l LineRef
		if err := rows.Scan(&l.POID, &l.PONumber, &l.POLineNo); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// Get fetches an order with its lines.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (ExternalPO, error) {
	order, err := scanOrder(r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM external_pos WHERE id = $1`, id))
	if err != nil {
		return ExternalPO{}, err
	}
	order.Lines, err = r.loadLines(ctx, r.pool, id)
	return order, err
}

// ListFilter narrows order listings.
type ListFilter struct {
	Status      Status
	SBCStatus   SBCResponse
	CreatedBy   *uuid.UUID
	AssignedSBC *uuid.UUID
}

// List returns orders matching the filter, newest first, without lines.
func (r *Repository) List(ctx context.Context, f ListFilter) ([]ExternalPO, error) {
	var conds []string
	var args []any
	add := func(cond string, value any) {
		args = append(args, value)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.Status != "" {
		add("status = $%d", string(f.Status))
	}
	if f.SBCStatus != "" {
		add("sbc_status = $%d", string(f.SBCStatus))
	}
	if f.CreatedBy != nil {
		add("created_by = $%d", *f.CreatedBy)
	}
	if f.AssignedSBC != nil {
		add("assigned_sbc = $%d", *f.AssignedSBC)
	}
	query := `SELECT ` + orderColumns + ` FROM external_pos`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var orders []ExternalPO
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func (t *txRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (ExternalPO, error) {
	order, err := scanOrder(t.tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM external_pos WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return ExternalPO{}, err
	}
	rows, err := t.tx.Query(ctx, `
		SELECT po_id, po_number, po_line_no
		FROM external_po_lines
		WHERE external_po_id = $1
		ORDER BY po_id`, id)
	if err != nil {
		return ExternalPO{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var l LineRef
		if err := rows.Scan(&l.POID, &l.PONumber, &l.POLineNo); err != nil {
			return ExternalPO{}, err
		}
		order.Lines = append(order.Lines, l)
	}
	return order, rows.Err()
}

func (t *txRepo) LockLines(ctx context.Context, poIDs []string) ([]LineState, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT po_id, po_number, po_line_no, line_amount,
		       is_assigned, assigned_to, has_external_po, external_po_id
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
		var amount pgtype.Numeric
		if err := rows.Scan(&s.POID, &s.PONumber, &s.POLineNo, &amount,
			&s.IsAssigned, &s.AssignedTo, &s.HasExternalPO, &s.ExternalPOID); err != nil {
			return nil, err
		}
		s.LineAmount = decimalOf(amount)
		states = append(states, s)
	}
	return states, rows.Err()
}

// NextReference bumps and returns the per-year order sequence.
func (t *txRepo) NextReference(ctx context.Context, year int) (int, error) {
	var seq int
	err := t.tx.QueryRow(ctx, `
		INSERT INTO external_po_counters (year, seq)
		VALUES ($1, 1)
		ON CONFLICT (year) DO UPDATE SET seq = external_po_counters.seq + 1
		RETURNING seq`, year).Scan(&seq)
	return seq, err
}

func (t *txRepo) Insert(ctx context.Context, o ExternalPO) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO external_pos (
			id, reference, created_by, assigned_sbc, status, sbc_status,
			notes, internal_notes, estimated_total, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$10)`,
		o.ID, o.Reference, o.CreatedBy, o.AssignedSBC, string(o.Status), string(o.SBCStatus),
		o.Notes, o.InternalNotes, numericOf(o.EstimatedTotal), o.CreatedAt)
	if err != nil {
		return err
	}
	return t.insertLines(ctx, o.ID, o.Lines)
}

func (t *txRepo) insertLines(ctx context.Context, orderID uuid.UUID, lines []LineRef) error {
	for _, l := range lines {
		if _, err := t.tx.Exec(ctx, `
			INSERT INTO external_po_lines (external_po_id, po_id, po_number, po_line_no)
			VALUES ($1, $2, $3, $4)`, orderID, l.POID, l.PONumber, l.POLineNo); err != nil {
			return err
		}
	}
	return nil
}

func (t *txRepo) Update(ctx context.Context, o ExternalPO) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE external_pos SET
			assigned_sbc = $2, status = $3, sbc_status = $4,
			notes = $5, internal_notes = $6, estimated_total = $7,
			l1_actor = $8, l1_at = $9, l1_reason = NULLIF($10, ''),
			l2_actor = $11, l2_at = $12, l2_reason = NULLIF($13, ''),
			sbc_actor = $14, sbc_at = $15, sbc_reason = NULLIF($16, ''),
			updated_at = now()
		WHERE id = $1`,
		o.ID, o.AssignedSBC, string(o.Status), string(o.SBCStatus),
		o.Notes, o.InternalNotes, numericOf(o.EstimatedTotal),
		o.L1.ActorID, tsOf(o.L1.At), o.L1.Reason,
		o.L2.ActorID, tsOf(o.L2.At), o.L2.Reason,
		o.SBC.ActorID, tsOf(o.SBC.At), o.SBC.Reason)
	return err
}

func (t *txRepo) ReplaceLines(ctx context.Context, orderID uuid.UUID, lines []LineRef) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM external_po_lines WHERE external_po_id = $1`, orderID); err != nil {
		return err
	}
	return t.insertLines(ctx, orderID, lines)
}

func (t *txRepo) MarkExternal(ctx context.Context, poIDs []string, orderID uuid.UUID) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE ledger_entries
		SET has_external_po = TRUE, external_po_id = $2, updated_at = now()
		WHERE po_id = ANY($1)`, poIDs, orderID)
	return err
}

func (t *txRepo) UnmarkExternal(ctx context.Context, poIDs []string) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE ledger_entries
		SET has_external_po = FALSE, external_po_id = NULL, updated_at = now()
		WHERE po_id = ANY($1)`, poIDs)
	return err
}

func numericOf(d decimal.Decimal) pgtype.Numeric {
	var n pgtype.Numeric
	_ = n.Scan(d.String())
	return n
}

func decimalOf(n pgtype.Numeric) decimal.Decimal {
	if !n.Valid {
		return decimal.Zero
	}
	v, err := n.Value()
	if err != nil {
		return decimal.Zero
	}
	s, ok := v.(string)
	if !ok {
		return decimal.Zero
	}
	out, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return out
}

func tsOf(t *time.Time) pgtype.Timestamptz {
	if t == nil {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: t.UTC(), Valid: true}
}

func timePtr(ts pgtype.Timestamptz) *time.Time {
	if !ts.Valid {
		return nil
	}
	t := ts.Time
	return &t
}
