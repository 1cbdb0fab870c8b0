package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/authgrid/authgrid/internal/rbac"
	"github.com/authgrid/authgrid/internal/shared"
)

// Repository provides PostgreSQL backed persistence for departments and
// their user/permission links.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListDepartments returns all departments.
func (r *Repository) ListDepartments(ctx context.Context) ([]rbac.Department, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, parent_id, name, created_at, updated_at FROM departments ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("directory: list departments: %w", err)
	}
	defer rows.Close()

	var depts []rbac.Department
	for rows.Next() {
		var d rbac.Department
		if err := rows.Scan(&d.ID, &d.ParentID, &d.Name, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("directory: scan department: %w", err)
		}
		depts = append(depts, d)
	}
	return depts, rows.Err()
}

// GetDepartment fetches a department by id.
func (r *Repository) GetDepartment(ctx context.Context, id int64) (rbac.Department, error) {
	return r.scanDepartment(r.pool.QueryRow(ctx,
		`SELECT id, parent_id, name, created_at, updated_at FROM departments WHERE id = $1`, id))
}

// CreateDepartment inserts a new department.
func (r *Repository) CreateDepartment(ctx context.Context, dept rbac.Department) (rbac.Department, error) {
	return r.scanDepartment(r.pool.QueryRow(ctx,
		`INSERT INTO departments (parent_id, name, created_at, updated_at)
		 VALUES ($1, $2, now(), now())
		 RETURNING id, parent_id, name, created_at, updated_at`, dept.ParentID, dept.Name))
}

// UpdateDepartment updates parent and name of an existing department.
func (r *Repository) UpdateDepartment(ctx context.Context, dept rbac.Department) (rbac.Department, error) {
	return r.scanDepartment(r.pool.QueryRow(ctx,
		`UPDATE departments SET parent_id = $2, name = $3, updated_at = now()
		 WHERE id = $1
		 RETURNING id, parent_id, name, created_at, updated_at`, dept.ID, dept.ParentID, dept.Name))
}

// DeleteDepartments removes departments and their user/permission links.
func (r *Repository) DeleteDepartments(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	return r.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM user_departments WHERE department_id = ANY($1)`, ids); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `DELETE FROM department_permissions WHERE department_id = ANY($1)`, ids); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `DELETE FROM departments WHERE id = ANY($1)`, ids)
		return err
	})
}

// ReplaceUserDepartments swaps the full department membership of a user.
func (r *Repository) ReplaceUserDepartments(ctx context.Context, userID int64, departmentIDs []int64) error {
	return r.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM user_departments WHERE user_id = $1`, userID); err != nil {
			return err
		}
		for _, departmentID := range departmentIDs {
			if _, err := tx.Exec(ctx,
				`INSERT INTO user_departments (user_id, department_id) VALUES ($1, $2)`, userID, departmentID); err != nil {
				return err
			}
		}
		return nil
	})
}

// ReplaceDepartmentPermissions swaps the full permission set of a department.
func (r *Repository) ReplaceDepartmentPermissions(ctx context.Context, departmentID int64, permissionIDs []int64) error {
	return r.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM department_permissions WHERE department_id = $1`, departmentID); err != nil {
			return err
		}
		for _, permissionID := range permissionIDs {
			if _, err := tx.Exec(ctx,
				`INSERT INTO department_permissions (department_id, permission_id) VALUES ($1, $2)`, departmentID, permissionID); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListUserDepartmentsByDepartmentIDs returns membership rows for a department set.
func (r *Repository) ListUserDepartmentsByDepartmentIDs(ctx context.Context, departmentIDs []int64) ([]rbac.UserDepartment, error) {
	if len(departmentIDs) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, department_id FROM user_departments WHERE department_id = ANY($1) ORDER BY id`, departmentIDs)
	if err != nil {
		return nil, fmt.Errorf("directory: list user departments: %w", err)
	}
	defer rows.Close()

	var links []rbac.UserDepartment
	for rows.Next() {
		var l rbac.UserDepartment
		if err := rows.Scan(&l.ID, &l.UserID, &l.DepartmentID); err != nil {
			return nil, fmt.Errorf("directory: scan user department: %w", err)
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

func (r *Repository) scanDepartment(row pgx.Row) (rbac.Department, error) {
	var d rbac.Department
	err := row.Scan(&d.ID, &d.ParentID, &d.Name, &d.CreatedAt, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return rbac.Department{}, shared.ErrNotFound
	}
	if err != nil {
		return rbac.Department{}, fmt.Errorf("directory: scan department: %w", err)
	}
	return d, nil
}

func (r *Repository) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("directory: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
