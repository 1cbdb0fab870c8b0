package rbac

// Event types published by mutation services and consumed by the
// invalidation coordinator.
const (
	EventPermissionsChanged = "rbac.permissions.changed"
	EventRolesChanged       = "rbac.roles.changed"
	EventDepartmentsChanged = "rbac.departments.changed"
)

// PermissionsChanged announces create/update/delete/bind mutations that
// touched the given permission ids. When the mutation removes link rows,
// RoleIDs and UserIDs carry the holders captured before the rows
// disappeared; the invalidator cannot rediscover them from the store
// afterwards.
type PermissionsChanged struct {
	PermissionIDs []int64
	RoleIDs       []int64
	UserIDs       []int64
}

// EventType implements events.Event.
func (PermissionsChanged) EventType() string { return EventPermissionsChanged }

// RolesChanged announces mutations that touched the given role ids and,
// when the mutation rebinds users, the affected user ids.
type RolesChanged struct {
	RoleIDs []int64
	UserIDs []int64
}

// EventType implements events.Event.
func (RolesChanged) EventType() string { return EventRolesChanged }

// DepartmentsChanged announces a department mutation. The global tree is
// rebuilt from rows on the next read, so no department ids are carried;
// UserIDs names users whose inherited permissions may have shifted and
// whose per-user caches are therefore stale.
type DepartmentsChanged struct {
	UserIDs []int64
}

// EventType implements events.Event.
func (DepartmentsChanged) EventType() string { return EventDepartmentsChanged }
