package users

import (
	"time"

	"github.com/google/uuid"
)

// Role groups users into the coarse procurement hierarchy.
type Role string

const (
	RoleAdmin       Role = "ADMIN"
	RolePD          Role = "PD"
	RolePM          Role = "PM"
	RoleCoordinator Role = "COORDINATOR"
	RoleSBC         Role = "SBC"
)

// User represents an account in the procurement organisation.
type User struct {
	ID        uuid.UUID
	Email     string
	FullName  string
	Role      Role
	SBCCode   string
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Capabilities are the opaque booleans the workflow services consume.
// They are derived from the role in exactly one place so the matrix
// cannot drift per-row the way stored flags can.
type Capabilities struct {
	CanTriggerMerge        bool
	CanAssign              bool
	CanViewAll             bool
	CanCreateExternalPO    bool
	CanCreateExternalPOAny bool
	CanApproveLevel1       bool
	CanApproveLevel2       bool
	CanExport              bool
}

// Capabilities resolves the capability set for the user's role.
func (u User) Capabilities() Capabilities {
	switch u.Role {
	case RoleAdmin:
		return Capabilities{
			CanTriggerMerge:        true,
			CanAssign:              true,
			CanViewAll:             true,
			CanCreateExternalPO:    true,
			CanCreateExternalPOAny: true,
			CanApproveLevel2:       true,
			CanExport:              true,
		}
	case RolePD:
		return Capabilities{
			CanTriggerMerge:        true,
			CanAssign:              true,
			CanViewAll:             true,
			CanCreateExternalPO:    true,
			CanCreateExternalPOAny: true,
			CanApproveLevel1:       true,
			CanExport:              true,
		}
	case RolePM:
		return Capabilities{
			CanCreateExternalPO: true,
		}
	case RoleCoordinator:
		return Capabilities{
			CanTriggerMerge: true,
			CanViewAll:      true,
			CanExport:       true,
		}
	default:
		return Capabilities{}
	}
}

// Privileged reports whether the user may build external POs from lines
// that are not assigned to them personally.
func (u User) Privileged() bool {
	return u.Capabilities().CanCreateExternalPOAny
}
