package shared

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrValidation indicates malformed input, rejected before any mutation.
	ErrValidation = errors.New("invalid input")
	// ErrForbidden indicates the actor lacks the required capability or is
	// not the designated actor for the operation.
	ErrForbidden = errors.New("forbidden")
	// ErrStateConflict indicates an operation attempted from a state that
	// forbids it, e.g. responding twice to the same assignment.
	ErrStateConflict = errors.New("state conflict")
	// ErrNoData indicates a reconciliation run with no source PO lines.
	ErrNoData = errors.New("no purchase order data to merge")
	// ErrMergeInProgress indicates another reconciliation run holds the lock.
	ErrMergeInProgress = errors.New("a merge is already in progress")
)

// OwnershipConflictError reports ledger lines whose exclusivity flags
// forbid the requested operation. It carries the offending IDs so the
// caller can adjust the request.
type OwnershipConflictError struct {
	Op    string
	POIDs []string
}

func (e *OwnershipConflictError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, strings.Join(e.POIDs, ", "))
}

// NewOwnershipConflict builds an OwnershipConflictError.
func NewOwnershipConflict(op string, poIDs []string) *OwnershipConflictError {
	return &OwnershipConflictError{Op: op, POIDs: poIDs}
}
