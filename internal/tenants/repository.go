package tenants

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListTenants returns all tenants ordered by kind then id.
func (r *Repository) ListTenants(ctx context.Context) ([]Tenant, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, kind, name, created_at FROM tenants ORDER BY kind, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var tenants []Tenant
	for rows.Next() {
		var t Tenant
		if err := rows.Scan(&t.ID, &t.Kind, &t.Name, &t.CreatedAt); err != nil {
			return nil, err
		}
		tenants = append(tenants, t)
	}
	return tenants, rows.Err()
}

// GetTenant fetches one tenant by id.
func (r *Repository) GetTenant(ctx context.Context, id string) (Tenant, error) {
	var t Tenant
	err := r.pool.QueryRow(ctx, `SELECT id, kind, name, created_at FROM tenants WHERE id = $1`, id).
		Scan(&t.ID, &t.Kind, &t.Name, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Tenant{}, ErrNotFound
	}
	if err != nil {
		return Tenant{}, err
	}
	return t, nil
}

// CreateTenant inserts a new tenant.
func (r *Repository) CreateTenant(ctx context.Context, t Tenant) (Tenant, error) {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO tenants (id, kind, name, created_at) VALUES ($1, $2, $3, NOW()) RETURNING created_at`,
		t.ID, string(t.Kind), t.Name,
	).Scan(&t.CreatedAt)
	if err != nil {
		return Tenant{}, err
	}
	return t, nil
}
