package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"covera.io/internal/auth"
	"covera.io/internal/ids"
)

type grantStore struct{ db *sql.DB }

// Upsert relies on the (user_id, module_code) unique constraint so concurrent grants converge on one row.
func (r grantStore) Upsert(ctx context.Context, grant auth.ModuleGrant) (auth.ModuleGrant, error) {
	var (
		out       auth.ModuleGrant
		module    string
		grantedBy sql.NullString
	)
	err := r.db.QueryRowContext(ctx, `
		insert into module_grants (id, user_id, module_code, active, granted_at, granted_by)
		values ($1, $2, $3, true, $4, $5)
		on conflict (user_id, module_code) do update
		set active = true, granted_at = excluded.granted_at, granted_by = excluded.granted_by
		returning id, user_id, module_code, active, granted_at, granted_by
	`, grant.ID, grant.UserID, string(grant.Module), grant.GrantedAt.UTC(), nullIfEmpty(grant.GrantedBy)).
		Scan(&out.ID, &out.UserID, &module, &out.Active, &out.GrantedAt, &grantedBy)
	if err != nil {
		return auth.ModuleGrant{}, mapWriteError(err)
	}
	out.Module = auth.ModuleCode(module)
	out.GrantedBy = grantedBy.String
	return out, nil
}

func (r grantStore) Deactivate(ctx context.Context, userID string, module auth.ModuleCode) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		update module_grants set active = false
		where user_id = $1 and module_code = $2
	`, userID, string(module))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r grantStore) ListByUser(ctx context.Context, userID string) ([]auth.ModuleGrant, error) {
	rows, err := r.db.QueryContext(ctx, `
		select id, user_id, module_code, active, granted_at, granted_by
		from module_grants
		where user_id = $1
		order by module_code
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]auth.ModuleGrant, 0)
	for rows.Next() {
		var (
			g         auth.ModuleGrant
			module    string
			grantedBy sql.NullString
		)
		if err := rows.Scan(&g.ID, &g.UserID, &module, &g.Active, &g.GrantedAt, &grantedBy); err != nil {
			return nil, err
		}
		g.Module = auth.ModuleCode(module)
		g.GrantedBy = grantedBy.String
		result = append(result, g)
	}
	return result, rows.Err()
}

func (r grantStore) ActiveModules(ctx context.Context, userID string) ([]auth.ModuleCode, error) {
	rows, err := r.db.QueryContext(ctx, `
		select distinct module_code from module_grants
		where user_id = $1 and active
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []auth.ModuleCode
	for rows.Next() {
		var module string
		if err := rows.Scan(&module); err != nil {
			return nil, err
		}
		result = append(result, auth.ModuleCode(module))
	}
	return result, rows.Err()
}

func (r grantStore) HasActive(ctx context.Context, userID string, module auth.ModuleCode) (bool, error) {
	var ok bool
	err := r.db.QueryRowContext(ctx, `
		select exists(
			select 1 from module_grants
			where user_id = $1 and module_code = $2 and active
		)
	`, userID, string(module)).Scan(&ok)
	return ok, err
}

type roleStore struct{ db *sql.DB }

func (r roleStore) RolesForUser(ctx context.Context, userID string) ([]auth.Role, error) {
	rows, err := r.db.QueryContext(ctx, `
		select r.id, r.name, r.scope
		from identity_roles ir
		join roles r on r.id = ir.role_id
		where ir.user_id = $1
		order by r.scope, r.name
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []auth.Role
	for rows.Next() {
		var (
			role  auth.Role
			scope string
		)
		if err := rows.Scan(&role.ID, &role.Name, &scope); err != nil {
			return nil, err
		}
		role.Scope = auth.Scope(scope)
		result = append(result, role)
	}
	return result, rows.Err()
}

func (r roleStore) PermissionsForRole(ctx context.Context, roleID string) ([]auth.Permission, error) {
	rows, err := r.db.QueryContext(ctx, `
		select p.id, p.name, p.scope
		from role_permissions rp
		join permissions p on p.id = rp.permission_id
		where rp.role_id = $1
		order by p.name
	`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []auth.Permission
	for rows.Next() {
		var (
			perm  auth.Permission
			scope string
		)
		if err := rows.Scan(&perm.ID, &perm.Name, &scope); err != nil {
			return nil, err
		}
		perm.Scope = auth.Scope(scope)
		result = append(result, perm)
	}
	return result, rows.Err()
}

// CreateIdentity provisions an identity. passwordHash must already be a bcrypt hash.
func (s *Store) CreateIdentity(ctx context.Context, email, username, passwordHash string, systemAdmin bool) (auth.Identity, error) {
	row := s.db.QueryRowContext(ctx, `
		insert into identities (id, email, username, password_hash, active, system_admin)
		values ($1, $2, $3, $4, true, $5)
		returning `+identityColumns,
		ids.New(), strings.TrimSpace(email), nullIfEmpty(username), passwordHash, systemAdmin)
	identity, err := scanIdentity(row)
	if err != nil {
		return auth.Identity{}, mapWriteError(err)
	}
	return *identity, nil
}

func (r roleStore) BindByName(ctx context.Context, userID, name string, scope auth.Scope) (auth.Role, error) {
	role := auth.Role{Name: name, Scope: scope}
	err := r.db.QueryRowContext(ctx, `select id from roles where name = $1 and scope = $2`,
		name, string(scope)).Scan(&role.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return auth.Role{}, fmt.Errorf("%w: role %q in scope %q", auth.ErrNotFound, name, scope)
		}
		return auth.Role{}, err
	}
	if _, err := r.db.ExecContext(ctx, `
		insert into identity_roles (user_id, role_id)
		values ($1, $2)
		on conflict do nothing
	`, userID, role.ID); err != nil {
		return auth.Role{}, mapWriteError(err)
	}
	return role, nil
}
