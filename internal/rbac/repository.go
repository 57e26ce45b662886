package rbac

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/northwire-isp/northwire/internal/audit"
	"github.com/northwire-isp/northwire/internal/platform/db"
)

// Repository persists the permission catalog, roles and assignments in
// PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes the transactional operations used by Service.
// Every privileged mutation runs through one of these inside a single
// transaction together with its audit write.
type TxRepository interface {
	InsertPermission(ctx context.Context, code, description string) (Permission, error)
	MissingPermissions(ctx context.Context, codes []string) ([]string, error)
	InsertRole(ctx context.Context, name, description string, kind ScopeKind) (Role, error)
	GetRoleForUpdate(ctx context.Context, id int64) (Role, error)
	ReplaceRolePermissions(ctx context.Context, roleID int64, codes []string) error
	DeleteRole(ctx context.Context, id int64) error
	CountAssignmentsForRole(ctx context.Context, roleID int64) (int64, error)
	DeleteAssignmentsForRole(ctx context.Context, roleID int64) (int64, error)
	InsertAssignment(ctx context.Context, a Assignment) (bool, error)
	DeleteAssignment(ctx context.Context, a Assignment) (bool, error)
	AppendAudit(ctx context.Context, e audit.Entry) (uuid.UUID, error)
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction so
// a role update's revoke-then-grant is never observable as two states.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

// GetRole fetches a role with its permission codes.
func (r *Repository) GetRole(ctx context.Context, id int64) (Role, error) {
	return loadRole(ctx, r.pool, `SELECT id, name, description, scope_kind, created_at, updated_at FROM roles WHERE id = $1`, id)
}

// GetRoleByName fetches a role by its unique name.
func (r *Repository) GetRoleByName(ctx context.Context, name string) (Role, error) {
	return loadRole(ctx, r.pool, `SELECT id, name, description, scope_kind, created_at, updated_at FROM roles WHERE name = $1`, name)
}

// ListRoles returns all roles with their permission codes, by name.
func (r *Repository) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, description, scope_kind, created_at, updated_at FROM roles ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		var role Role
		if err := rows.Scan(&role.ID, &role.Name, &role.Description, &role.ScopeKind, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range roles {
		codes, err := rolePermissions(ctx, r.pool, roles[i].ID)
		if err != nil {
			return nil, err
		}
		roles[i].PermissionCodes = codes
	}
	return roles, nil
}

// GetPermission fetches one catalog entry.
func (r *Repository) GetPermission(ctx context.Context, code string) (Permission, error) {
	var p Permission
	err := r.pool.QueryRow(ctx, `SELECT code, description, created_at FROM permissions WHERE code = $1`, code).
		Scan(&p.Code, &p.Description, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Permission{}, ErrPermissionNotFound
	}
	if err != nil {
		return Permission{}, err
	}
	return p, nil
}

// ListPermissions returns the whole catalog ordered by code.
func (r *Repository) ListPermissions(ctx context.Context) ([]Permission, error) {
	rows, err := r.pool.Query(ctx, `SELECT code, description, created_at FROM permissions ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var perms []Permission
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.Code, &p.Description, &p.CreatedAt); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// PrincipalSnapshot loads the principal's assignments and referenced
// roles inside one repeatable-read transaction, so a concurrent role
// update can never be observed half-applied.
func (r *Repository) PrincipalSnapshot(ctx context.Context, principalID int64) (Snapshot, error) {
	snap := Snapshot{PrincipalID: principalID, Roles: make(map[int64]Role)}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return Snapshot{}, err
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx,
		`SELECT principal_id, role_id, COALESCE(scope_instance_id, ''), created_at
		 FROM role_assignments WHERE principal_id = $1`, principalID)
	if err != nil {
		return Snapshot{}, err
	}
	for rows.Next() {
		var a Assignment
		if err := rows.Scan(&a.PrincipalID, &a.RoleID, &a.ScopeInstanceID, &a.CreatedAt); err != nil {
			rows.Close()
			return Snapshot{}, err
		}
		snap.Assignments = append(snap.Assignments, a)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return Snapshot{}, err
	}

	for _, a := range snap.Assignments {
		if _, ok := snap.Roles[a.RoleID]; ok {
			continue
		}
		role, err := loadRole(ctx, tx, `SELECT id, name, description, scope_kind, created_at, updated_at FROM roles WHERE id = $1`, a.RoleID)
		if err != nil {
			if errors.Is(err, ErrRoleNotFound) {
				continue
			}
			return Snapshot{}, err
		}
		snap.Roles[a.RoleID] = role
	}
	if err := tx.Commit(ctx); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

func (t *txRepo) InsertPermission(ctx context.Context, code, description string) (Permission, error) {
	var p Permission
	err := t.tx.QueryRow(ctx,
		`INSERT INTO permissions (code, description, created_at) VALUES ($1, $2, NOW()) RETURNING code, description, created_at`,
		code, description,
	).Scan(&p.Code, &p.Description, &p.CreatedAt)
	if isUniqueViolation(err) {
		return Permission{}, ErrDuplicateCode
	}
	if err != nil {
		return Permission{}, err
	}
	return p, nil
}

func (t *txRepo) MissingPermissions(ctx context.Context, codes []string) ([]string, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT c FROM unnest($1::text[]) AS c WHERE NOT EXISTS (SELECT 1 FROM permissions WHERE code = c)`,
		codes)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var missing []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		missing = append(missing, code)
	}
	return missing, rows.Err()
}

func (t *txRepo) InsertRole(ctx context.Context, name, description string, kind ScopeKind) (Role, error) {
	var role Role
	err := t.tx.QueryRow(ctx,
		`INSERT INTO roles (name, description, scope_kind, created_at, updated_at) VALUES ($1, $2, $3, NOW(), NOW())
		 RETURNING id, name, description, scope_kind, created_at, updated_at`,
		name, description, string(kind),
	).Scan(&role.ID, &role.Name, &role.Description, &role.ScopeKind, &role.CreatedAt, &role.UpdatedAt)
	if isUniqueViolation(err) {
		return Role{}, ErrDuplicateName
	}
	if err != nil {
		return Role{}, err
	}
	return role, nil
}

func (t *txRepo) GetRoleForUpdate(ctx context.Context, id int64) (Role, error) {
	return loadRole(ctx, t.tx, `SELECT id, name, description, scope_kind, created_at, updated_at FROM roles WHERE id = $1 FOR UPDATE`, id)
}

func (t *txRepo) ReplaceRolePermissions(ctx context.Context, roleID int64, codes []string) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID); err != nil {
		return err
	}
	for _, code := range codes {
		if _, err := t.tx.Exec(ctx,
			`INSERT INTO role_permissions (role_id, permission_code) VALUES ($1, $2)`, roleID, code); err != nil {
			return err
		}
	}
	_, err := t.tx.Exec(ctx, `UPDATE roles SET updated_at = NOW() WHERE id = $1`, roleID)
	return err
}

func (t *txRepo) DeleteRole(ctx context.Context, id int64) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, id); err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx, `DELETE FROM roles WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRoleNotFound
	}
	return nil
}

func (t *txRepo) CountAssignmentsForRole(ctx context.Context, roleID int64) (int64, error) {
	var n int64
	err := t.tx.QueryRow(ctx, `SELECT COUNT(*) FROM role_assignments WHERE role_id = $1`, roleID).Scan(&n)
	return n, err
}

func (t *txRepo) DeleteAssignmentsForRole(ctx context.Context, roleID int64) (int64, error) {
	tag, err := t.tx.Exec(ctx, `DELETE FROM role_assignments WHERE role_id = $1`, roleID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (t *txRepo) InsertAssignment(ctx context.Context, a Assignment) (bool, error) {
	scope := pgtype.Text{String: a.ScopeInstanceID, Valid: a.ScopeInstanceID != ""}
	tag, err := t.tx.Exec(ctx,
		`INSERT INTO role_assignments (principal_id, role_id, scope_instance_id, created_at)
		 VALUES ($1, $2, $3, NOW()) ON CONFLICT DO NOTHING`,
		a.PrincipalID, a.RoleID, scope)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (t *txRepo) DeleteAssignment(ctx context.Context, a Assignment) (bool, error) {
	tag, err := t.tx.Exec(ctx,
		`DELETE FROM role_assignments
		 WHERE principal_id = $1 AND role_id = $2 AND scope_instance_id IS NOT DISTINCT FROM NULLIF($3, '')`,
		a.PrincipalID, a.RoleID, a.ScopeInstanceID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (t *txRepo) AppendAudit(ctx context.Context, e audit.Entry) (uuid.UUID, error) {
	return audit.NewRecorder(t.tx).Log(ctx, e)
}

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func loadRole(ctx context.Context, q rowQuerier, query string, arg any) (Role, error) {
	var role Role
	err := q.QueryRow(ctx, query, arg).
		Scan(&role.ID, &role.Name, &role.Description, &role.ScopeKind, &role.CreatedAt, &role.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Role{}, ErrRoleNotFound
	}
	if err != nil {
		return Role{}, err
	}
	codes, err := rolePermissions(ctx, q, role.ID)
	if err != nil {
		return Role{}, err
	}
	role.PermissionCodes = codes
	return role, nil
}

func rolePermissions(ctx context.Context, q rowQuerier, roleID int64) ([]string, error) {
	rows, err := q.Query(ctx, `SELECT permission_code FROM role_permissions WHERE role_id = $1 ORDER BY permission_code`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		codes = append(codes, code)
	}
	return codes, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
