package rbac

import "context"

// Store is the read side of the durable relation store: entity rows plus
// the many-to-many link tables resolution and invalidation walk over.
type Store interface {
	ListRoles(ctx context.Context) ([]Role, error)
	ListRolesByIDs(ctx context.Context, ids []int64) ([]Role, error)
	GetRole(ctx context.Context, id int64) (Role, error)
	GetRoleByCode(ctx context.Context, code string) (Role, error)

	ListPermissions(ctx context.Context) ([]Permission, error)
	ListPermissionsByIDs(ctx context.Context, ids []int64) ([]Permission, error)
	GetPermission(ctx context.Context, id int64) (Permission, error)

	ListDepartments(ctx context.Context) ([]Department, error)

	ListUserRoles(ctx context.Context, userID int64) ([]UserRole, error)
	ListUserRolesByRoleIDs(ctx context.Context, roleIDs []int64) ([]UserRole, error)
	ListUserPermissions(ctx context.Context, userID int64) ([]UserPermission, error)
	ListUserPermissionsByPermissionIDs(ctx context.Context, permissionIDs []int64) ([]UserPermission, error)
	ListUserDepartments(ctx context.Context, userID int64) ([]UserDepartment, error)
	ListUserDepartmentsByDepartmentIDs(ctx context.Context, departmentIDs []int64) ([]UserDepartment, error)
	ListRolePermissions(ctx context.Context, roleID int64) ([]RolePermission, error)
	ListRolePermissionsByRoleIDs(ctx context.Context, roleIDs []int64) ([]RolePermission, error)
	ListRolePermissionsByPermissionIDs(ctx context.Context, permissionIDs []int64) ([]RolePermission, error)
	ListDepartmentPermissionsByDepartmentIDs(ctx context.Context, departmentIDs []int64) ([]DepartmentPermission, error)
	ListDepartmentPermissionsByPermissionIDs(ctx context.Context, permissionIDs []int64) ([]DepartmentPermission, error)
}

// AdminStore extends Store with the administrative mutations whose events
// drive cache invalidation. Bind operations replace the full link set.
type AdminStore interface {
	Store

	CreateRole(ctx context.Context, code, name string) (Role, error)
	UpdateRole(ctx context.Context, role Role) (Role, error)
	DeleteRoles(ctx context.Context, ids []int64) error
	ReplaceRoleUsers(ctx context.Context, roleID int64, userIDs []int64) error
	ReplaceRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error

	CreatePermission(ctx context.Context, perm Permission) (Permission, error)
	UpdatePermission(ctx context.Context, perm Permission) (Permission, error)
	DeletePermissions(ctx context.Context, ids []int64) error
}
