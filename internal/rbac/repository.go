package rbac

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-wms/internal/shared"
)

// Repository loads role grants stored in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// PermissionsForRole lists stored grants for a role.
func (r *Repository) PermissionsForRole(ctx context.Context, role shared.Role) ([]string, error) {
	if r == nil {
		return nil, errors.New("rbac repository not initialised")
	}
	rows, err := r.pool.Query(ctx, `SELECT permission FROM wms_role_permissions WHERE role=$1 ORDER BY permission`, string(role))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var perms []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// ListGrants returns every stored grant.
func (r *Repository) ListGrants(ctx context.Context) ([]Grant, error) {
	if r == nil {
		return nil, errors.New("rbac repository not initialised")
	}
	rows, err := r.pool.Query(ctx, `SELECT role, permission FROM wms_role_permissions ORDER BY role, permission`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var grants []Grant
	for rows.Next() {
		var g Grant
		var role string
		if err := rows.Scan(&role, &g.Permission); err != nil {
			return nil, err
		}
		g.Role = shared.Role(role)
		grants = append(grants, g)
	}
	return grants, rows.Err()
}
