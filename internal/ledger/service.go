package ledger

import (
	"context"
	"encoding/json"

	"golang.org/x/sync/singleflight"

	"github.com/procura-erp/procura/internal/shared"
	"github.com/procura-erp/procura/internal/users"
)

// RepositoryPort defines read operations over the ledger.
type RepositoryPort interface {
	List(ctx context.Context, f Filter) ([]Entry, int, error)
	ListAll(ctx context.Context, f Filter) ([]Entry, error)
	Summarize(ctx context.Context, f Filter) (Summary, error)
	Get(ctx context.Context, poID string) (Entry, error)
}

// Service applies role scoping on top of the repository and collapses
// identical concurrent summary queries.
type Service struct {
	repo  RepositoryPort
	group singleflight.Group
}

// NewService constructs the ledger service.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// scope restricts the filter to the viewer's own lines unless their
// role can see the whole ledger.
func scope(f Filter, viewer users.User) Filter {
	if viewer.Capabilities().CanViewAll {
		return f
	}
	id := viewer.ID
	f.AssignedTo = &id
	return f
}

// List returns the ledger page visible to the viewer.
func (s *Service) List(ctx context.Context, viewer users.User, f Filter) ([]Entry, int, error) {
	return s.repo.List(ctx, scope(f, viewer))
}

// Get returns one visible entry.
func (s *Service) Get(ctx context.Context, viewer users.User, poID string) (Entry, error) {
	entry, err := s.repo.Get(ctx, poID)
	if err != nil {
		return Entry{}, err
	}
	if !viewer.Capabilities().CanViewAll {
		// Hide other users' lines entirely rather than admitting they exist.
		if entry.AssignedTo == nil || *entry.AssignedTo != viewer.ID {
			return Entry{}, shared.ErrNotFound
		}
	}
	return entry, nil
}

// Summarize aggregates the viewer's slice of the ledger. Concurrent
// requests for the same scoped filter share one query.
func (s *Service) Summarize(ctx context.Context, viewer users.User, f Filter) (Summary, error) {
	scoped := scope(f, viewer)
	key, err := json.Marshal(scoped)
	if err != nil {
		return s.repo.Summarize(ctx, scoped)
	}
	v, err, _ := s.group.Do(string(key), func() (any, error) {
		return s.repo.Summarize(ctx, scoped)
	})
	if err != nil {
		return Summary{}, err
	}
	return v.(Summary), nil
}

// Export returns the full visible slice in one unpaged read so the CSV
// reflects a single ledger snapshot even if a rebuild commits mid-export.
func (s *Service) Export(ctx context.Context, viewer users.User, f Filter) ([]Entry, error) {
	scoped := scope(f, viewer)
	scoped.Limit = 0
	scoped.Offset = 0
	return s.repo.ListAll(ctx, scoped)
}
