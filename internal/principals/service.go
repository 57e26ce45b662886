package principals

import (
	"context"

	"github.com/northwire-isp/northwire/internal/shared"
)

// RepositoryPort defines data access methods for principals.
type RepositoryPort interface {
	ListPrincipals(ctx context.Context, limit, offset int) ([]Principal, error)
	CountPrincipals(ctx context.Context) (int, error)
}

// Service handles principal directory logic.
type Service struct {
	repo RepositoryPort
}

// NewService builds a Service instance.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// ListPrincipals returns one page of principals with paging metadata.
func (s *Service) ListPrincipals(ctx context.Context, page, perPage int) ([]Principal, shared.Pagination, error) {
	total, err := s.repo.CountPrincipals(ctx)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	paging := shared.NewPagination(page, perPage, total)
	principals, err := s.repo.ListPrincipals(ctx, paging.PerPage, (paging.Page-1)*paging.PerPage)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return principals, paging, nil
}
