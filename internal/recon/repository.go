package recon

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/procura-erp/procura/internal/platform/db"
	"github.com/procura-erp/procura/internal/shared"
)

// Repository persists source rows, the ledger snapshot and run history.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
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

// UpsertPOLines ingests raw PO lines, replacing rows with the same
// identity key.
func (r *Repository) UpsertPOLines(ctx context.Context, lines []PurchaseOrderLine) (int, error) {
	var count int
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, l := range lines {
			batch.Queue(`
				INSERT INTO po_lines (
					po_number, po_line_no, project_name, site_name, item_description,
					unit_price, requested_qty, line_amount, currency, payment_terms,
					po_status, published_date, updated_at
				) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,now())
				ON CONFLICT (po_number, po_line_no) DO UPDATE SET
					project_name = EXCLUDED.project_name,
					site_name = EXCLUDED.site_name,
					item_description = EXCLUDED.item_description,
					unit_price = EXCLUDED.unit_price,
					requested_qty = EXCLUDED.requested_qty,
					line_amount = EXCLUDED.line_amount,
					currency = EXCLUDED.currency,
					payment_terms = EXCLUDED.payment_terms,
					po_status = EXCLUDED.po_status,
					published_date = EXCLUDED.published_date,
					updated_at = now()`,
				l.PONumber, l.POLineNo, l.ProjectName, l.SiteName, l.ItemDescription,
				numericOf(l.UnitPrice), numericOf(l.RequestedQty), numericOf(l.LineAmount),
				l.Currency, l.PaymentTerms, l.POStatus, tsOf(l.PublishedDate))
		}
		results := tx.SendBatch(ctx, batch)
		defer results.Close()
		for range lines {
			if _, err := results.Exec(); err != nil {
				return err
			}
			count++
		}
		return results.Close()
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// UpsertAcceptances ingests raw acceptance records.
func (r *Repository) UpsertAcceptances(ctx context.Context, records []AcceptanceRecord) (int, error) {
	var count int
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, rec := range records {
			batch.Queue(`
				INSERT INTO acceptances (
					acceptance_no, po_number, po_line_no, shipment_no,
					milestone_type, application_processed, billed_amount
				) VALUES ($1,$2,$3,$4,$5,$6,$7)
				ON CONFLICT (acceptance_no, po_number, po_line_no, shipment_no) DO UPDATE SET
					milestone_type = EXCLUDED.milestone_type,
					application_processed = EXCLUDED.application_processed,
					billed_amount = EXCLUDED.billed_amount`,
				rec.AcceptanceNo, rec.PONumber, rec.POLineNo, rec.ShipmentNo,
				rec.MilestoneType, tsOf(rec.ApplicationProcessed), numericOf(rec.BilledAmount))
		}
		results := tx.SendBatch(ctx, batch)
		defer results.Close()
		for range records {
			if _, err := results.Exec(); err != nil {
				return err
			}
			count++
		}
		return results.Close()
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// LoadSources reads all PO lines and acceptance records for a merge run.
func (r *Repository) LoadSources(ctx context.Context) ([]PurchaseOrderLine, []AcceptanceRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT po_number, po_line_no, project_name, site_name, item_description,
		       unit_price, requested_qty, line_amount, currency, payment_terms,
		       po_status, published_date
		FROM po_lines
		ORDER BY po_number, po_line_no`)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var lines []PurchaseOrderLine
	for rows.Next() {
		var l PurchaseOrderLine
		var unitPrice, reqQty, lineAmount pgtype.Numeric
		var published pgtype.Timestamptz
		if err := rows.Scan(&l.PONumber, &l.POLineNo, &l.ProjectName, &l.SiteName, &l.ItemDescription,
			&unitPrice, &reqQty, &lineAmount, &l.Currency, &l.PaymentTerms, &l.POStatus, &published); err != nil {
			return nil, nil, err
		}
		l.UnitPrice = decimalOf(unitPrice)
		l.RequestedQty = decimalOf(reqQty)
		l.LineAmount = decimalOf(lineAmount)
		l.PublishedDate = timePtr(published)
		lines = append(lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	accRows, err := r.pool.Query(ctx, `
		SELECT acceptance_no, po_number, po_line_no, shipment_no,
		       milestone_type, application_processed, billed_amount
		FROM acceptances`)
	if err != nil {
		return nil, nil, err
	}
	defer accRows.Close()

	var records []AcceptanceRecord
	for accRows.Next() {
		var rec AcceptanceRecord
		var processed pgtype.Timestamptz
		var billed pgtype.Numeric
		if err := accRows.Scan(&rec.AcceptanceNo, &rec.PONumber, &rec.POLineNo, &rec.ShipmentNo,
			&rec.MilestoneType, &processed, &billed); err != nil {
			return nil, nil, err
		}
		rec.ApplicationProcessed = timePtr(processed)
		rec.BilledAmount = decimalOf(billed)
		records = append(records, rec)
	}
	return lines, records, accRows.Err()
}

// LoadAccounts returns the project to account mapping table.
func (r *Repository) LoadAccounts(ctx context.Context) (map[string]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT project_name, account_name FROM accounts`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	accounts := make(map[string]string)
	for rows.Next() {
		var project, account string
		if err := rows.Scan(&project, &account); err != nil {
			return nil, err
		}
		accounts[project] = account
	}
	return accounts, rows.Err()
}

// ListAccounts returns account mappings, optionally restricted to those
// awaiting review.
func (r *Repository) ListAccounts(ctx context.Context, needsReviewOnly bool) ([]Account, error) {
	query := `SELECT project_name, account_name, needs_review FROM accounts`
	if needsReviewOnly {
		query += ` WHERE needs_review`
	}
	query += ` ORDER BY project_name`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []Account
	for rows.Next() {
		var a Account
		if err := rows.Scan(&a.ProjectName, &a.AccountName, &a.NeedsReview); err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// ReplaceLedger swaps the ledger snapshot for a new batch in one
// transaction, registering any newly seen project accounts first.
// Returns how many assignment and externalization flags the replacement
// wiped.
func (r *Repository) ReplaceLedger(ctx context.Context, entries []LedgerEntry, newAccounts []Account) (resetAssigned, resetExternal int, err error) {
	err = db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		for _, a := range newAccounts {
			if _, err := tx.Exec(ctx, `
				INSERT INTO accounts (project_name, account_name, needs_review)
				VALUES ($1, $2, $3)
				ON CONFLICT (project_name) DO NOTHING`,
				a.ProjectName, a.AccountName, a.NeedsReview); err != nil {
				return err
			}
		}

		row := tx.QueryRow(ctx, `
			SELECT COUNT(*) FILTER (WHERE is_assigned),
			       COUNT(*) FILTER (WHERE has_external_po)
			FROM ledger_entries`)
		if err := row.Scan(&resetAssigned, &resetExternal); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `DELETE FROM ledger_entries`); err != nil {
			return err
		}

		columns := []string{
			"po_id", "po_number", "po_line_no", "project_name", "site_name",
			"item_description", "unit_price", "requested_qty", "line_amount",
			"currency", "payment_terms", "po_status", "published_date",
			"category", "payment_category", "account_name", "ac_date", "pac_date",
			"ac_amount", "pac_amount", "remaining", "status",
			"is_assigned", "assigned_to", "has_external_po", "external_po_id",
			"batch_id", "created_at", "updated_at",
		}
		_, err := tx.CopyFrom(ctx, pgx.Identifier{"ledger_entries"}, columns,
			pgx.CopyFromSlice(len(entries), func(i int) ([]any, error) {
				e := entries[i]
				return []any{
					e.POID, e.PONumber, e.POLineNo, e.ProjectName, e.SiteName,
					e.ItemDescription, numericOf(e.UnitPrice), numericOf(e.RequestedQty), numericOf(e.LineAmount),
					e.Currency, e.PaymentTerms, e.POStatus, tsOf(e.PublishedDate),
					e.Category, e.PaymentCategory, e.AccountName, tsOf(e.ACDate), tsOf(e.PACDate),
					numericOf(e.ACAmount), numericOf(e.PACAmount), numericOf(e.Remaining), e.Status,
					e.IsAssigned, e.AssignedTo, e.HasExternalPO, e.ExternalPOID,
					e.BatchID, e.CreatedAt, e.UpdatedAt,
				}, nil
			}))
		return err
	})
	if err != nil {
		return 0, 0, err
	}
	return resetAssigned, resetExternal, nil
}

// CreateRun records a merge run starting.
func (r *Repository) CreateRun(ctx context.Context, run MergeRun) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO merge_runs (id, batch_id, status, triggered_by, started_at)
		VALUES ($1, $2, $3, $4, $5)`,
		run.ID, run.BatchID, run.Status, run.TriggeredBy, run.StartedAt)
	return err
}

// FinishRun records the terminal state of a merge run.
func (r *Repository) FinishRun(ctx context.Context, run MergeRun) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE merge_runs SET
			status = $2, source_lines = $3, ledger_rows = $4, skipped_rows = $5,
			reset_assigned = $6, reset_external = $7, new_accounts = $8,
			error = $9, finished_at = $10
		WHERE id = $1`,
		run.ID, run.Status, run.SourceLines, run.LedgerRows, run.SkippedRows,
		run.ResetAssigned, run.ResetExternal, run.NewAccounts, run.Error, run.FinishedAt)
	return err
}

const runColumns = `id, batch_id, status, triggered_by, source_lines, ledger_rows,
       skipped_rows, reset_assigned, reset_external, new_accounts,
       COALESCE(error, ''), started_at, finished_at`

func scanRun(row pgx.Row) (MergeRun, error) {
	var run MergeRun
	var finished pgtype.Timestamptz
	if err := row.Scan(&run.ID, &run.BatchID, &run.Status, &run.TriggeredBy,
		&run.SourceLines, &run.LedgerRows, &run.SkippedRows,
		&run.ResetAssigned, &run.ResetExternal, &run.NewAccounts, &run.Error,
		&run.StartedAt, &finished); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return MergeRun{}, shared.ErrNotFound
		}
		return MergeRun{}, err
	}
	run.FinishedAt = timePtr(finished)
	return run, nil
}

// GetRun fetches one merge run by id.
func (r *Repository) GetRun(ctx context.Context, id uuid.UUID) (MergeRun, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM merge_runs WHERE id = $1`, id)
	return scanRun(row)
}

// ListRuns returns merge run history, newest first.
func (r *Repository) ListRuns(ctx context.Context, limit int) ([]MergeRun, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`
		SELECT `+runColumns+`
		FROM merge_runs
		ORDER BY started_at DESC
		LIMIT %d`, limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []MergeRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
