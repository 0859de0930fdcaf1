// Package ledger serves the read side of the reconciliation ledger:
// filtered listings, aggregate summaries and CSV export.
package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Entry is one reconciled PO line as stored in ledger_entries.
type Entry struct {
	POID            string
	PONumber        string
	POLineNo        string
	ProjectName     string
	SiteName        string
	ItemDescription string
	UnitPrice       decimal.Decimal
	RequestedQty    decimal.Decimal
	LineAmount      decimal.Decimal
	Currency        string
	PaymentTerms    string
	POStatus        string
	PublishedDate   *time.Time

	Category        string
	PaymentCategory string
	AccountName     string
	ACDate          *time.Time
	PACDate         *time.Time
	ACAmount        decimal.Decimal
	PACAmount       decimal.Decimal
	Remaining       decimal.Decimal
	Status          string

	IsAssigned    bool
	AssignedTo    *uuid.UUID
	HasExternalPO bool
	ExternalPOID  *uuid.UUID

	BatchID   uuid.UUID
	UpdatedAt time.Time
}

// Filter narrows ledger listings. Zero values mean "no constraint".
type Filter struct {
	PONumber        string
	Status          string
	Category        string
	PaymentCategory string
	AccountName     string
	Search          string
	Assigned        *bool
	Externalized    *bool
	AssignedTo      *uuid.UUID

	SortBy  string
	SortDir string
	Limit   int
	Offset  int
}

// StatusBucket is one row of the per-status aggregate.
type StatusBucket struct {
	Status    string
	Lines     int
	Amount    decimal.Decimal
	Remaining decimal.Decimal
}

// CategoryBucket is one row of the per-category aggregate.
type CategoryBucket struct {
	Category  string
	Lines     int
	Amount    decimal.Decimal
	Remaining decimal.Decimal
}

// Summary aggregates the visible slice of the ledger.
type Summary struct {
	TotalLines     int
	TotalAmount    decimal.Decimal
	TotalRemaining decimal.Decimal
	AssignedLines  int
	ExternalLines  int
	ByStatus       []StatusBucket
	ByCategory     []CategoryBucket
}
