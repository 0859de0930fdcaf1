package auth

import (
	"time"

	"github.com/google/uuid"
)

// Account carries the credential fields needed to authenticate a user.
type Account struct {
	ID           uuid.UUID
	Email        string
	PasswordHash string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
