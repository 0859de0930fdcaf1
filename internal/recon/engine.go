package recon

import (
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

type lineKey struct {
	poNumber string
	poLineNo string
}

type milestoneDates struct {
	ac  *time.Time
	pac *time.Time
}

// BuildResult is the outcome of one in-memory merge. NewAccounts holds
// the project mappings not present in the accounts argument, in first
// appearance order.
type BuildResult struct {
	Entries     []LedgerEntry
	NewAccounts []Account
	Skipped     int
}

// aggregateAcceptances reduces acceptance records to at most two dates
// per PO line: the earliest AC1 processing date and the earliest
// AC2/PAC processing date.
func aggregateAcceptances(records []AcceptanceRecord) map[lineKey]milestoneDates {
	agg := make(map[lineKey]milestoneDates, len(records))
	for _, rec := range records {
		if rec.ApplicationProcessed == nil {
			continue
		}
		key := lineKey{poNumber: rec.PONumber, poLineNo: rec.POLineNo}
		dates := agg[key]
		switch rec.MilestoneType {
		case MilestoneAC1:
			if dates.ac == nil || rec.ApplicationProcessed.Before(*dates.ac) {
				dates.ac = rec.ApplicationProcessed
			}
		case MilestoneAC2, MilestonePAC:
			if dates.pac == nil || rec.ApplicationProcessed.Before(*dates.pac) {
				dates.pac = rec.ApplicationProcessed
			}
		}
		agg[key] = dates
	}
	return agg
}

// BuildLedger joins PO lines against the acceptance aggregate and derives
// the classification columns for each. Lines without an identity are
// logged and skipped; the count of skips is reported on the result.
// accounts maps project names to account names; projects missing from it
// get a rule-derived account reported in NewAccounts.
func BuildLedger(lines []PurchaseOrderLine, records []AcceptanceRecord, accounts map[string]string, batchID uuid.UUID, logger *slog.Logger) BuildResult {
	agg := aggregateAcceptances(records)
	now := time.Now().UTC()

	result := BuildResult{Entries: make([]LedgerEntry, 0, len(lines))}
	seenNew := make(map[string]struct{})
	for _, line := range lines {
		if line.PONumber == "" || line.POLineNo == "" {
			logger.Warn("skipping source row without identity",
				slog.String("po_number", line.PONumber),
				slog.String("po_line_no", line.POLineNo))
			result.Skipped++
			continue
		}

		dates := agg[lineKey{poNumber: line.PONumber, poLineNo: line.POLineNo}]
		acDate, pacDate := dates.ac, dates.pac
		// Single milestone terms bill once, so the final milestone date
		// always mirrors the first for display, even when a stray second
		// milestone record carries its own date.
		if singleMilestone(line.PaymentTerms) && acDate != nil {
			pacDate = acDate
		}

		status, remaining := DeriveStatus(line.PaymentTerms, line.RequestedQty, line.POStatus, dates.ac, dates.pac, line.LineAmount)
		acAmount, pacAmount := SplitAmounts(line.LineAmount)

		project := strings.TrimSpace(line.ProjectName)
		if project == "" {
			project = UnknownProject
		}
		accountName, known := accounts[project]
		if !known {
			accountName = AccountNameFor(project)
			if _, dup := seenNew[project]; !dup {
				seenNew[project] = struct{}{}
				result.NewAccounts = append(result.NewAccounts, Account{
					ProjectName: project,
					AccountName: accountName,
					NeedsReview: accountName == AccountOther,
				})
			}
		}

		result.Entries = append(result.Entries, LedgerEntry{
			POID:            line.POID(),
			PONumber:        line.PONumber,
			POLineNo:        line.POLineNo,
			ProjectName:     line.ProjectName,
			SiteName:        line.SiteName,
			ItemDescription: line.ItemDescription,
			UnitPrice:       line.UnitPrice,
			RequestedQty:    line.RequestedQty,
			LineAmount:      line.LineAmount,
			Currency:        line.Currency,
			PaymentTerms:    line.PaymentTerms,
			POStatus:        line.POStatus,
			PublishedDate:   line.PublishedDate,
			Category:        Classify(line.ItemDescription, line.SiteName),
			PaymentCategory: PaymentCategoryFor(line.PaymentTerms),
			AccountName:     accountName,
			ACDate:          acDate,
			PACDate:         pacDate,
			ACAmount:        acAmount,
			PACAmount:       pacAmount,
			Remaining:       remaining,
			Status:          status,
			BatchID:         batchID,
			CreatedAt:       now,
			UpdatedAt:       now,
		})
	}
	return result
}
