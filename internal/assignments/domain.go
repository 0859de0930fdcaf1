// Package assignments implements the single approval workflow that hands
// ledger lines to a user.
package assignments

import (
	"time"

	"github.com/google/uuid"
)

// Status is the assignment lifecycle state.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
)

// Action is a response to a pending assignment.
type Action string

const (
	ActionApprove Action = "APPROVE"
	ActionReject  Action = "REJECT"
)

// Assignment hands a set of ledger lines to one user for acceptance.
type Assignment struct {
	ID              uuid.UUID
	POIDs           []string
	AssignedTo      uuid.UUID
	CreatedBy       uuid.UUID
	Status          Status
	Note            string
	RejectionReason string
	CreatedAt       time.Time
	RespondedAt     *time.Time
}

// LineState is the slice of a ledger row the workflow cares about.
type LineState struct {
	POID          string
	IsAssigned    bool
	AssignedTo    *uuid.UUID
	HasExternalPO bool
}
