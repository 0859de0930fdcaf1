package users

import (
	"context"

	"github.com/google/uuid"
)

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	Get(ctx context.Context, id uuid.UUID) (User, error)
	List(ctx context.Context, role Role) ([]User, error)
}

// Service handles user business logic.
type Service struct {
	repo RepositoryPort
}

// NewService builds Service instance.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// Get returns a single user by ID.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (User, error) {
	return s.repo.Get(ctx, id)
}

// List returns active users, optionally restricted to one role.
func (s *Service) List(ctx context.Context, role Role) ([]User, error) {
	return s.repo.List(ctx, role)
}
