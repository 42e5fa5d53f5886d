package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/probenet-io/probenet/pkg/types"
)

// =============================================================================
// SYSTEM VARIABLES
// =============================================================================

// ListSystemVariables returns system variables ordered by name. A non-nil
// tenantID narrows the list to global variables plus that tenant's own.
func (s *Store) ListSystemVariables(ctx context.Context, tenantID *int64) ([]types.SystemVariable, error) {
	query := `
		SELECT id, tenant_id, name, value, COALESCE(remark, ''), created_at, updated_at
		FROM system_variables
	`
	args := []any{}
	if tenantID != nil {
		query += ` WHERE tenant_id IS NULL OR tenant_id = $1`
		args = append(args, *tenantID)
	}
	query += ` ORDER BY name`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var vars []types.SystemVariable
	for rows.Next() {
		var v types.SystemVariable
		if err := rows.Scan(&v.ID, &v.TenantID, &v.Name, &v.Value, &v.Remark, &v.CreatedAt, &v.UpdatedAt); err != nil {
			return nil, err
		}
		vars = append(vars, v)
	}
	return vars, rows.Err()
}

// UpsertSystemVariable creates or updates a variable by name.
func (s *Store) UpsertSystemVariable(ctx context.Context, v *types.SystemVariable) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO system_variables (tenant_id, name, value, remark, created_at, updated_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), NOW(), NOW())
		ON CONFLICT (name) DO UPDATE SET
			value = EXCLUDED.value,
			remark = COALESCE(EXCLUDED.remark, system_variables.remark),
			updated_at = NOW()
	`, v.TenantID, v.Name, v.Value, v.Remark)
	return err
}

// DeleteSystemVariable removes a variable by name.
func (s *Store) DeleteSystemVariable(ctx context.Context, name string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM system_variables WHERE name = $1`, name)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("system variable %s not found", name)
	}
	return nil
}

// =============================================================================
// USERS
// =============================================================================

// GetUserByUsername retrieves a user for login.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*types.User, error) {
	var u types.User
	err := s.pool.QueryRow(ctx, `
		SELECT id, tenant_id, username, password_hash, role, COALESCE(tenant_role, ''), disabled, created_at, updated_at
		FROM users WHERE username = $1
	`, username).Scan(
		&u.ID, &u.TenantID, &u.Username, &u.PasswordHash, &u.Role, &u.TenantRole,
		&u.Disabled, &u.CreatedAt, &u.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}
