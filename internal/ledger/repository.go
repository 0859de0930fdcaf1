package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/procura-erp/procura/internal/shared"
)

// Repository reads ledger_entries.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var sortColumns = map[string]string{
	"po_id":          "po_id",
	"po_number":      "po_number",
	"line_amount":    "line_amount",
	"remaining":      "remaining",
	"status":         "status",
	"published_date": "published_date",
	"updated_at":     "updated_at",
}

const entryColumns = `
	po_id, po_number, po_line_no, project_name, site_name, item_description,
	unit_price, requested_qty, line_amount, currency, payment_terms, po_status,
	published_date, category, payment_category, account_name, ac_date, pac_date,
	ac_amount, pac_amount, remaining, status,
	is_assigned, assigned_to, has_external_po, external_po_id,
	batch_id, updated_at`

func buildWhere(f Filter) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, value any) {
		args = append(args, value)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.PONumber != "" {
		add("po_number = $%d", f.PONumber)
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if f.Category != "" {
		add("category = $%d", f.Category)
	}
	if f.PaymentCategory != "" {
		add("payment_category = $%d", f.PaymentCategory)
	}
	if f.AccountName != "" {
		add("account_name = $%d", f.AccountName)
	}
	if f.Search != "" {
		args = append(args, f.Search)
		n := len(args)
		conds = append(conds, fmt.Sprintf("(po_id ILIKE '%%' || $%d || '%%' OR item_description ILIKE '%%' || $%d || '%%')", n, n))
	}
	if f.Assigned != nil {
		add("is_assigned = $%d", *f.Assigned)
	}
	if f.Externalized != nil {
		add("has_external_po = $%d", *f.Externalized)
	}
	if f.AssignedTo != nil {
		add("assigned_to = $%d", *f.AssignedTo)
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func scanEntry(row pgx.Row) (Entry, error) {
	var e Entry
	var unitPrice, reqQty, lineAmount, acAmount, pacAmount, remaining pgtype.Numeric
	var published, acDate, pacDate pgtype.Timestamptz
	err := row.Scan(&e.POID, &e.PONumber, &e.POLineNo, &e.ProjectName, &e.SiteName, &e.ItemDescription,
		&unitPrice, &reqQty, &lineAmount, &e.Currency, &e.PaymentTerms, &e.POStatus,
		&published, &e.Category, &e.PaymentCategory, &e.AccountName, &acDate, &pacDate,
		&acAmount, &pacAmount, &remaining, &e.Status,
		&e.IsAssigned, &e.AssignedTo, &e.HasExternalPO, &e.ExternalPOID,
		&e.BatchID, &e.UpdatedAt)
	if err != nil {
		return Entry{}, err
	}
	e.UnitPrice = decimalOf(unitPrice)
	e.RequestedQty = decimalOf(reqQty)
	e.LineAmount = decimalOf(lineAmount)
	e.ACAmount = decimalOf(acAmount)
	e.PACAmount = decimalOf(pacAmount)
	e.Remaining = decimalOf(remaining)
	e.PublishedDate = timePtr(published)
	e.ACDate = timePtr(acDate)
	e.PACDate = timePtr(pacDate)
	return e, nil
}

// List returns the filtered ledger page plus the unpaged match count.
func (r *Repository) List(ctx context.Context, f Filter) ([]Entry, int, error) {
	where, args := buildWhere(f)

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM ledger_entries`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	sortCol, ok := sortColumns[f.SortBy]
	if !ok {
		sortCol = "po_id"
	}
	dir := "ASC"
	if strings.EqualFold(f.SortDir, "desc") {
		dir = "DESC"
	}
	limit := f.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	query := fmt.Sprintf(`SELECT %s FROM ledger_entries%s ORDER BY %s %s LIMIT %d OFFSET %d`,
		entryColumns, where, sortCol, dir, limit, f.Offset)
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, 0, err
		}
		entries = append(entries, e)
	}
	return entries, total, rows.Err()
}

// ListAll returns every matching entry in one query, ignoring paging.
func (r *Repository) ListAll(ctx context.Context, f Filter) ([]Entry, error) {
	where, args := buildWhere(f)
	rows, err := r.pool.Query(ctx, `SELECT `+entryColumns+` FROM ledger_entries`+where+` ORDER BY po_id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Summarize aggregates the filtered slice of the ledger.
func (r *Repository) Summarize(ctx context.Context, f Filter) (Summary, error) {
	where, args := buildWhere(f)

	var s Summary
	var amount, remaining pgtype.Numeric
	row := r.pool.QueryRow(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(line_amount), 0),
		       COALESCE(SUM(remaining), 0),
		       COUNT(*) FILTER (WHERE is_assigned),
		       COUNT(*) FILTER (WHERE has_external_po)
		FROM ledger_entries`+where, args...)
	if err := row.Scan(&s.TotalLines, &amount, &remaining, &s.AssignedLines, &s.ExternalLines); err != nil {
		return Summary{}, err
	}
	s.TotalAmount = decimalOf(amount)
	s.TotalRemaining = decimalOf(remaining)

	rows, err := r.pool.Query(ctx, `
		SELECT status, COUNT(*), COALESCE(SUM(line_amount), 0), COALESCE(SUM(remaining), 0)
		FROM ledger_entries`+where+`
		GROUP BY status
		ORDER BY status`, args...)
	if err != nil {
		return Summary{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var b StatusBucket
		var bAmount, bRemaining pgtype.Numeric
		if err := rows.Scan(&b.Status, &b.Lines, &bAmount, &bRemaining); err != nil {
			return Summary{}, err
		}
		b.Amount = decimalOf(bAmount)
		b.Remaining = decimalOf(bRemaining)
		s.ByStatus = append(s.ByStatus, b)
	}
	if err := rows.Err(); err != nil {
		return Summary{}, err
	}

	catRows, err := r.pool.Query(ctx, `
		SELECT category, COUNT(*), COALESCE(SUM(line_amount), 0), COALESCE(SUM(remaining), 0)
		FROM ledger_entries`+where+`
		GROUP BY category
		ORDER BY category`, args...)
	if err != nil {
		return Summary{}, err
	}
	defer catRows.Close()
	for catRows.Next() {
		var b CategoryBucket
		var bAmount, bRemaining pgtype.Numeric
		if err := catRows.Scan(&b.Category, &b.Lines, &bAmount, &bRemaining); err != nil {
			return Summary{}, err
		}
		b.Amount = decimalOf(bAmount)
		b.Remaining = decimalOf(bRemaining)
		s.ByCategory = append(s.ByCategory, b)
	}
	return s, catRows.Err()
}

// Get fetches one entry by its po_id.
func (r *Repository) Get(ctx context.Context, poID string) (Entry, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+entryColumns+` FROM ledger_entries WHERE po_id = $1`, poID)
	e, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entry{}, shared.ErrNotFound
		}
		return Entry{}, err
	}
	return e, nil
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

func timePtr(ts pgtype.Timestamptz) *time.Time {
	if !ts.Valid {
		return nil
	}
	t := ts.Time
	return &t
}
