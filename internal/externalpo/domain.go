// Package externalpo implements the two level approval chain that turns
// assigned ledger lines into an external purchase order for a
// subcontractor.
package externalpo

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status is the order lifecycle state.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusPendingL1 Status = "PENDING_L1_APPROVAL"
	StatusPendingL2 Status = "PENDING_L2_APPROVAL"
	StatusApproved  Status = "APPROVED"
	StatusRejected  Status = "REJECTED"
)

// SBCResponse is the subcontractor's verdict on an approved order.
type SBCResponse string

const (
	SBCPending  SBCResponse = "PENDING"
	SBCAccepted SBCResponse = "ACCEPTED"
	SBCRejected SBCResponse = "REJECTED"
)

// Action is a response in any approval stage.
type Action string

const (
	ActionApprove Action = "APPROVE"
	ActionReject  Action = "REJECT"
	ActionAccept  Action = "ACCEPT"
)

// LineRef ties the order to one ledger line.
type LineRef struct {
	POID     string
	PONumber string
	POLineNo string
}

// StageDecision records who decided a stage, when and why.
type StageDecision struct {
	ActorID *uuid.UUID
	At      *time.Time
	Reason  string
}

// ExternalPO bundles assigned ledger lines for subcontractor execution.
type ExternalPO struct {
	ID             uuid.UUID
	Reference      string
	Lines          []LineRef
	CreatedBy      uuid.UUID
	AssignedSBC    uuid.UUID
	Status         Status
	SBCStatus      SBCResponse
	Notes          string
	InternalNotes  string
	EstimatedTotal decimal.Decimal

	L1  StageDecision
	L2  StageDecision
	SBC StageDecision

	CreatedAt time.Time
	UpdatedAt time.Time
}

// POIDs lists the ledger keys of the order's lines.
func (e ExternalPO) POIDs() []string {
	ids := make([]string, len(e.Lines))
	for i, l := range e.Lines {
		ids[i] = l.POID
	}
	return ids
}

// Reference builds the human readable order id, a per-year sequence.
func Reference(year, seq int) string {
	return fmt.Sprintf("EPO-%d-%04d", year, seq)
}

// LineState is the slice of a ledger row the workflow checks and locks.
type LineState struct {
	POID          string
	PONumber      string
	POLineNo      string
	LineAmount    decimal.Decimal
	IsAssigned    bool
	AssignedTo    *uuid.UUID
	HasExternalPO bool
	ExternalPOID  *uuid.UUID
}
