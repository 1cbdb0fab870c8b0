package rbac

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/authgrid/authgrid/internal/shared"
)

// Repository provides PostgreSQL backed persistence for entities and links.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListRoles returns all roles.
func (r *Repository) ListRoles(ctx context.Context) ([]Role, error) {
	return r.queryRoles(ctx, `SELECT id, code, name, created_at, updated_at FROM roles ORDER BY id`)
}

// ListRolesByIDs returns the roles whose ids are in the given set.
func (r *Repository) ListRolesByIDs(ctx context.Context, ids []int64) ([]Role, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return r.queryRoles(ctx, `SELECT id, code, name, created_at, updated_at FROM roles WHERE id = ANY($1) ORDER BY id`, ids)
}

// GetRole fetches a role by id.
func (r *Repository) GetRole(ctx context.Context, id int64) (Role, error) {
	return r.scanRole(r.pool.QueryRow(ctx,
		`SELECT id, code, name, created_at, updated_at FROM roles WHERE id = $1`, id))
}

// GetRoleByCode fetches a role by its unique code.
func (r *Repository) GetRoleByCode(ctx context.Context, code string) (Role, error) {
	return r.scanRole(r.pool.QueryRow(ctx,
		`SELECT id, code, name, created_at, updated_at FROM roles WHERE code = $1`, code))
}

// CreateRole inserts a new role.
func (r *Repository) CreateRole(ctx context.Context, code, name string) (Role, error) {
	role, err := r.scanRole(r.pool.QueryRow(ctx,
		`INSERT INTO roles (code, name, created_at, updated_at)
		 VALUES ($1, $2, now(), now())
		 RETURNING id, code, name, created_at, updated_at`, code, name))
	if err != nil {
		return Role{}, mapConstraintErr(err)
	}
	return role, nil
}

// UpdateRole updates code and name of an existing role.
func (r *Repository) UpdateRole(ctx context.Context, role Role) (Role, error) {
	updated, err := r.scanRole(r.pool.QueryRow(ctx,
		`UPDATE roles SET code = $2, name = $3, updated_at = now()
		 WHERE id = $1
		 RETURNING id, code, name, created_at, updated_at`, role.ID, role.Code, role.Name))
	if err != nil {
		return Role{}, mapConstraintErr(err)
	}
	return updated, nil
}

// DeleteRoles removes roles and their user/permission links.
func (r *Repository) DeleteRoles(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	return r.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM user_roles WHERE role_id = ANY($1)`, ids); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = ANY($1)`, ids); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `DELETE FROM roles WHERE id = ANY($1)`, ids)
		return err
	})
}

// ReplaceRoleUsers swaps the full user membership of a role.
func (r *Repository) ReplaceRoleUsers(ctx context.Context, roleID int64, userIDs []int64) error {
	return r.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM user_roles WHERE role_id = $1`, roleID); err != nil {
			return err
		}
		for _, userID := range userIDs {
			if _, err := tx.Exec(ctx,
				`INSERT INTO user_roles (user_id, role_id) VALUES ($1, $2)`, userID, roleID); err != nil {
				return err
			}
		}
		return nil
	})
}

// ReplaceRolePermissions swaps the full permission set of a role.
func (r *Repository) ReplaceRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error {
	return r.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID); err != nil {
			return err
		}
		for _, permissionID := range permissionIDs {
			if _, err := tx.Exec(ctx,
				`INSERT INTO role_permissions (role_id, permission_id) VALUES ($1, $2)`, roleID, permissionID); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListPermissions returns all permissions ordered for tree construction.
func (r *Repository) ListPermissions(ctx context.Context) ([]Permission, error) {
	return r.queryPermissions(ctx,
		`SELECT id, parent_id, type, code, name, sort_order, created_at, updated_at
		 FROM permissions ORDER BY sort_order, id`)
}

// ListPermissionsByIDs returns the permissions whose ids are in the set.
func (r *Repository) ListPermissionsByIDs(ctx context.Context, ids []int64) ([]Permission, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return r.queryPermissions(ctx,
		`SELECT id, parent_id, type, code, name, sort_order, created_at, updated_at
		 FROM permissions WHERE id = ANY($1) ORDER BY sort_order, id`, ids)
}

// GetPermission fetches a permission by id.
func (r *Repository) GetPermission(ctx context.Context, id int64) (Permission, error) {
	return r.scanPermission(r.pool.QueryRow(ctx,
		`SELECT id, parent_id, type, code, name, sort_order, created_at, updated_at
		 FROM permissions WHERE id = $1`, id))
}

// CreatePermission inserts a new permission.
func (r *Repository) CreatePermission(ctx context.Context, perm Permission) (Permission, error) {
	created, err := r.scanPermission(r.pool.QueryRow(ctx,
		`INSERT INTO permissions (parent_id, type, code, name, sort_order, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, now(), now())
		 RETURNING id, parent_id, type, code, name, sort_order, created_at, updated_at`,
		perm.ParentID, perm.Type, perm.Code, perm.Name, perm.SortOrder))
	if err != nil {
		return Permission{}, mapConstraintErr(err)
	}
	return created, nil
}

// UpdatePermission updates an existing permission.
func (r *Repository) UpdatePermission(ctx context.Context, perm Permission) (Permission, error) {
	updated, err := r.scanPermission(r.pool.QueryRow(ctx,
		`UPDATE permissions
		 SET parent_id = $2, type = $3, code = $4, name = $5, sort_order = $6, updated_at = now()
		 WHERE id = $1
		 RETURNING id, parent_id, type, code, name, sort_order, created_at, updated_at`,
		perm.ID, perm.ParentID, perm.Type, perm.Code, perm.Name, perm.SortOrder))
	if err != nil {
		return Permission{}, mapConstraintErr(err)
	}
	return updated, nil
}

// DeletePermissions removes permissions and their role links.
func (r *Repository) DeletePermissions(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	return r.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM role_permissions WHERE permission_id = ANY($1)`, ids); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM user_permissions WHERE permission_id = ANY($1)`, ids); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `DELETE FROM permissions WHERE id = ANY($1)`, ids)
		return err
	})
}

// ListDepartments returns all departments.
func (r *Repository) ListDepartments(ctx context.Context) ([]Department, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, parent_id, name, created_at, updated_at FROM departments ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var depts []Department
	for rows.Next() {
		var d Department
		if err := rows.Scan(&d.ID, &d.ParentID, &d.Name, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, err
		}
		depts = append(depts, d)
	}
	return depts, rows.Err()
}

// ListUserRoles returns the role links of a user.
func (r *Repository) ListUserRoles(ctx context.Context, userID int64) ([]UserRole, error) {
	return r.queryUserRoles(ctx, `SELECT id, user_id, role_id FROM user_roles WHERE user_id = $1`, userID)
}

// ListUserRolesByRoleIDs returns every user link of the given roles.
func (r *Repository) ListUserRolesByRoleIDs(ctx context.Context, roleIDs []int64) ([]UserRole, error) {
	if len(roleIDs) == 0 {
		return nil, nil
	}
	return r.queryUserRoles(ctx, `SELECT id, user_id, role_id FROM user_roles WHERE role_id = ANY($1)`, roleIDs)
}

// ListUserPermissions returns the direct permission links of a user.
func (r *Repository) ListUserPermissions(ctx context.Context, userID int64) ([]UserPermission, error) {
	return r.queryUserPermissions(ctx,
		`SELECT id, user_id, permission_id FROM user_permissions WHERE user_id = $1`, userID)
}

// ListUserPermissionsByPermissionIDs returns every direct-grant link of the
// given permissions. Used to capture holders before a permission delete.
func (r *Repository) ListUserPermissionsByPermissionIDs(ctx context.Context, permissionIDs []int64) ([]UserPermission, error) {
	if len(permissionIDs) == 0 {
		return nil, nil
	}
	return r.queryUserPermissions(ctx,
		`SELECT id, user_id, permission_id FROM user_permissions WHERE permission_id = ANY($1)`, permissionIDs)
}

// ListUserDepartments returns the department links of a user.
func (r *Repository) ListUserDepartments(ctx context.Context, userID int64) ([]UserDepartment, error) {
	return r.queryUserDepartments(ctx,
		`SELECT id, user_id, department_id FROM user_departments WHERE user_id = $1`, userID)
}

// ListUserDepartmentsByDepartmentIDs returns every member link of the given
// departments.
func (r *Repository) ListUserDepartmentsByDepartmentIDs(ctx context.Context, departmentIDs []int64) ([]UserDepartment, error) {
	if len(departmentIDs) == 0 {
		return nil, nil
	}
	return r.queryUserDepartments(ctx,
		`SELECT id, user_id, department_id FROM user_departments WHERE department_id = ANY($1)`, departmentIDs)
}

// ListRolePermissions returns the permission links of a role.
func (r *Repository) ListRolePermissions(ctx context.Context, roleID int64) ([]RolePermission, error) {
	return r.queryRolePermissions(ctx,
		`SELECT id, role_id, permission_id FROM role_permissions WHERE role_id = $1`, roleID)
}

// ListRolePermissionsByRoleIDs returns the permission links of the given
// role set in one round trip.
func (r *Repository) ListRolePermissionsByRoleIDs(ctx context.Context, roleIDs []int64) ([]RolePermission, error) {
	if len(roleIDs) == 0 {
		return nil, nil
	}
	return r.queryRolePermissions(ctx,
		`SELECT id, role_id, permission_id FROM role_permissions WHERE role_id = ANY($1)`, roleIDs)
}

// ListRolePermissionsByPermissionIDs returns every role link of the given
// permissions. Used by invalidation to find affected role caches.
func (r *Repository) ListRolePermissionsByPermissionIDs(ctx context.Context, permissionIDs []int64) ([]RolePermission, error) {
	if len(permissionIDs) == 0 {
		return nil, nil
	}
	return r.queryRolePermissions(ctx,
		`SELECT id, role_id, permission_id FROM role_permissions WHERE permission_id = ANY($1)`, permissionIDs)
}

// ListDepartmentPermissionsByDepartmentIDs returns the permission links of
// the given department set.
func (r *Repository) ListDepartmentPermissionsByDepartmentIDs(ctx context.Context, departmentIDs []int64) ([]DepartmentPermission, error) {
	if len(departmentIDs) == 0 {
		return nil, nil
	}
	return r.queryDepartmentPermissions(ctx,
		`SELECT id, department_id, permission_id FROM department_permissions WHERE department_id = ANY($1)`, departmentIDs)
}

// ListDepartmentPermissionsByPermissionIDs returns every department link of
// the given permissions.
func (r *Repository) ListDepartmentPermissionsByPermissionIDs(ctx context.Context, permissionIDs []int64) ([]DepartmentPermission, error) {
	if len(permissionIDs) == 0 {
		return nil, nil
	}
	return r.queryDepartmentPermissions(ctx,
		`SELECT id, department_id, permission_id FROM department_permissions WHERE permission_id = ANY($1)`, permissionIDs)
}

func (r *Repository) queryUserPermissions(ctx context.Context, sql string, args ...any) ([]UserPermission, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var links []UserPermission
	for rows.Next() {
		var l UserPermission
		if err := rows.Scan(&l.ID, &l.UserID, &l.PermissionID); err != nil {
			return nil, err
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

func (r *Repository) queryUserDepartments(ctx context.Context, sql string, args ...any) ([]UserDepartment, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var links []UserDepartment
	for rows.Next() {
		var l UserDepartment
		if err := rows.Scan(&l.ID, &l.UserID, &l.DepartmentID); err != nil {
			return nil, err
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

func (r *Repository) queryDepartmentPermissions(ctx context.Context, sql string, args ...any) ([]DepartmentPermission, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var links []DepartmentPermission
	for rows.Next() {
		var l DepartmentPermission
		if err := rows.Scan(&l.ID, &l.DepartmentID, &l.PermissionID); err != nil {
			return nil, err
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

func (r *Repository) queryRoles(ctx context.Context, sql string, args ...any) ([]Role, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		var role Role
		if err := rows.Scan(&role.ID, &role.Code, &role.Name, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

func (r *Repository) queryPermissions(ctx context.Context, sql string, args ...any) ([]Permission, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var perms []Permission
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.ID, &p.ParentID, &p.Type, &p.Code, &p.Name, &p.SortOrder, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

func (r *Repository) queryUserRoles(ctx context.Context, sql string, args ...any) ([]UserRole, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var links []UserRole
	for rows.Next() {
		var l UserRole
		if err := rows.Scan(&l.ID, &l.UserID, &l.RoleID); err != nil {
			return nil, err
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

func (r *Repository) queryRolePermissions(ctx context.Context, sql string, args ...any) ([]RolePermission, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var links []RolePermission
	for rows.Next() {
		var l RolePermission
		if err := rows.Scan(&l.ID, &l.RoleID, &l.PermissionID); err != nil {
			return nil, err
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

func (r *Repository) scanRole(row pgx.Row) (Role, error) {
	var role Role
	err := row.Scan(&role.ID, &role.Code, &role.Name, &role.CreatedAt, &role.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Role{}, shared.ErrNotFound
	}
	if err != nil {
		return Role{}, err
	}
	return role, nil
}

func (r *Repository) scanPermission(row pgx.Row) (Permission, error) {
	var p Permission
	err := row.Scan(&p.ID, &p.ParentID, &p.Type, &p.Code, &p.Name, &p.SortOrder, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Permission{}, shared.ErrNotFound
	}
	if err != nil {
		return Permission{}, err
	}
	return p, nil
}

func (r *Repository) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

func mapConstraintErr(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", shared.ErrCodeTaken, pgErr.ConstraintName)
	}
	return err
}
