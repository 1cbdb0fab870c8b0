// Package rbac implements the permission-resolution and cache-invalidation
// core of the authorization server: effective permissions are the union of
// direct grants, role membership, and department membership with downward
// inheritance, backed by a cache-aside Redis layer that is invalidated by
// mutation events.
package rbac

import "time"

// DefaultAdminRoleID is the reserved role id that implicitly grants every
// permission in the system.
const DefaultAdminRoleID int64 = 10000

// AdminRoleCode is the reserved code of the admin role.
const AdminRoleCode = "admin"

// Role groups permissions under a grantable code.
type Role struct {
	ID        int64     `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Permission is an atomic capability. Permissions form a forest via
// ParentID; zero marks a root.
type Permission struct {
	ID        int64     `json:"id"`
	ParentID  int64     `json:"parentId"`
	Type      int       `json:"type"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	SortOrder int       `json:"sortOrder"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Department is an organisational unit. Departments form a forest via
// ParentID with the same root convention as permissions.
type Department struct {
	ID        int64     `json:"id"`
	ParentID  int64     `json:"parentId"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// UserRole links a user to a role.
type UserRole struct {
	ID     int64 `json:"id"`
	UserID int64 `json:"userId"`
	RoleID int64 `json:"roleId"`
}

// UserPermission links a user directly to a permission, bypassing roles.
type UserPermission struct {
	ID           int64 `json:"id"`
	UserID       int64 `json:"userId"`
	PermissionID int64 `json:"permissionId"`
}

// UserDepartment links a user to a department.
type UserDepartment struct {
	ID           int64 `json:"id"`
	UserID       int64 `json:"userId"`
	DepartmentID int64 `json:"departmentId"`
}

// RolePermission links a role to a permission.
type RolePermission struct {
	ID           int64 `json:"id"`
	RoleID       int64 `json:"roleId"`
	PermissionID int64 `json:"permissionId"`
}

// DepartmentPermission links a department to a permission.
type DepartmentPermission struct {
	ID           int64 `json:"id"`
	DepartmentID int64 `json:"departmentId"`
	PermissionID int64 `json:"permissionId"`
}

// RoleRef distinguishes the admin role from an ordinary bound role so the
// two resolution paths (skip the binding lookup; always invalidate on any
// permission change) branch on the variant rather than on id comparisons.
type RoleRef struct {
	id    int64
	admin bool
}

// AdminRole returns the RoleRef variant for the reserved admin role.
func AdminRole(id int64) RoleRef {
	return RoleRef{id: id, admin: true}
}

// BoundRole returns the RoleRef variant for an ordinary role whose
// permissions come from explicit RolePermission bindings.
func BoundRole(id int64) RoleRef {
	return RoleRef{id: id}
}

// ID returns the underlying role id.
func (r RoleRef) ID() int64 { return r.id }

// IsAdmin reports whether the ref names the admin role.
func (r RoleRef) IsAdmin() bool { return r.admin }

// PermissionNode is a permission with its resolved children.
type PermissionNode struct {
	Permission
	Children []*PermissionNode `json:"children"`
}

// DepartmentNode is a department with its resolved children.
type DepartmentNode struct {
	Department
	Children []*DepartmentNode `json:"children"`
}
