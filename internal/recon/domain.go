// Package recon merges purchase order source records with acceptance
// milestones into the reconciliation ledger.
package recon

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Milestone types carried on acceptance records. AC2 and PAC both mark
// the final 20% milestone.
const (
	MilestoneAC1 = "AC1"
	MilestoneAC2 = "AC2"
	MilestonePAC = "PAC"
)

// Derived ledger statuses.
const (
	StatusCancelled    = "CANCELLED"
	StatusClosed       = "CLOSED"
	StatusPendingACPAC = "Pending ACPAC"
	StatusPendingAC80  = "Pending AC80%"
	StatusPendingPAC20 = "Pending PAC20%"
	StatusUnknown      = "Unknown"
)

// Payment categories derived from payment terms text.
const (
	PaymentACPAC100  = "ACPAC 100%"
	PaymentAC80PAC20 = "AC1 80 | PAC 20"
)

// Line categories derived from item description and site name.
const (
	CategorySurvey         = "Survey"
	CategoryTransportation = "Transportation"
	CategorySiteEngineer   = "Site Engineer"
	CategoryService        = "Service"
)

// Account names mapped from project names. Projects outside the known
// operators land in AccountOther and are flagged for review.
const (
	AccountIAM    = "IAM Account"
	AccountOrange = "Orange Account"
	AccountINWI   = "INWI Account"
	AccountOther  = "Other"
)

// UnknownProject substitutes for blank project names on source rows.
const UnknownProject = "Unknown Project"

// Merge run lifecycle.
const (
	RunInProgress = "IN_PROGRESS"
	RunCompleted  = "COMPLETED"
	RunFailed     = "FAILED"
)

// PurchaseOrderLine is one raw source row, keyed by (po_number, po_line_no).
type PurchaseOrderLine struct {
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
}

// POID builds the ledger identity for the line.
func (l PurchaseOrderLine) POID() string {
	return POID(l.PONumber, l.POLineNo)
}

// POID joins a PO number and line number into the ledger key.
func POID(poNumber, poLineNo string) string {
	return fmt.Sprintf("%s-%s", poNumber, poLineNo)
}

// AcceptanceRecord is one raw milestone billing row.
type AcceptanceRecord struct {
	AcceptanceNo         string
	PONumber             string
	POLineNo             string
	ShipmentNo           string
	MilestoneType        string
	ApplicationProcessed *time.Time
	BilledAmount         decimal.Decimal
}

// LedgerEntry is the derived reconciliation row for one PO line.
type LedgerEntry struct {
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
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Account maps a project name to the account it bills under. Entries
// for projects no rule recognises carry NeedsReview until an operator
// fixes the mapping.
type Account struct {
	ProjectName string
	AccountName string
	NeedsReview bool
}

// MergeRun records one reconciliation engine execution.
type MergeRun struct {
	ID            uuid.UUID
	BatchID       uuid.UUID
	Status        string
	TriggeredBy   uuid.UUID
	SourceLines   int
	LedgerRows    int
	SkippedRows   int
	ResetAssigned int
	ResetExternal int
	NewAccounts   int
	Error         string
	StartedAt     time.Time
	FinishedAt    *time.Time
}
