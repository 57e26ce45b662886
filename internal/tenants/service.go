package tenants

import (
	"context"
	"fmt"
	"strings"
)

// RepositoryPort defines data access methods for tenants.
type RepositoryPort interface {
	ListTenants(ctx context.Context) ([]Tenant, error)
	GetTenant(ctx context.Context, id string) (Tenant, error)
	CreateTenant(ctx context.Context, t Tenant) (Tenant, error)
}

// Service handles tenant directory logic.
type Service struct {
	repo RepositoryPort
}

// NewService builds a Service instance.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// ListTenants returns all tenants.
func (s *Service) ListTenants(ctx context.Context) ([]Tenant, error) {
	return s.repo.ListTenants(ctx)
}

// GetTenant fetches one tenant.
func (s *Service) GetTenant(ctx context.Context, id string) (Tenant, error) {
	return s.repo.GetTenant(ctx, strings.TrimSpace(id))
}

// CreateTenant registers a new scope instance.
func (s *Service) CreateTenant(ctx context.Context, t Tenant) (Tenant, error) {
	t.ID = strings.TrimSpace(t.ID)
	t.Name = strings.TrimSpace(t.Name)
	if t.ID == "" || t.Name == "" {
		return Tenant{}, fmt.Errorf("tenants: id and name required")
	}
	if !t.Kind.Valid() {
		return Tenant{}, fmt.Errorf("tenants: invalid kind %q", t.Kind)
	}
	return s.repo.CreateTenant(ctx, t)
}
