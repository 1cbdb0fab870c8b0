package rbac

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authgrid/authgrid/internal/shared"
)

// ============================================================================
// MOCK STORE
// ============================================================================

type mockStore struct {
	mu sync.Mutex

	roles     map[int64]Role
	perms     map[int64]Permission
	depts     map[int64]Department
	userRoles []UserRole
	userPerms []UserPermission
	userDepts []UserDepartment
	rolePerms []RolePermission
	deptPerms []DepartmentPermission

	nextRoleID int64
	nextPermID int64

	calls map[string]int
}

func newMockStore() *mockStore {
	return &mockStore{
		roles:      make(map[int64]Role),
		perms:      make(map[int64]Permission),
		depts:      make(map[int64]Department),
		nextRoleID: 1,
		nextPermID: 1,
		calls:      make(map[string]int),
	}
}

func (m *mockStore) bump(name string) {
	m.calls[name]++
}

func (m *mockStore) callCount(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[name]
}

func (m *mockStore) addRole(id int64, code, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roles[id] = Role{ID: id, Code: code, Name: name}
	if id >= m.nextRoleID {
		m.nextRoleID = id + 1
	}
}

func (m *mockStore) addPermission(id, parentID int64, code string, sortOrder int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.perms[id] = Permission{ID: id, ParentID: parentID, Code: code, Name: code, SortOrder: sortOrder}
	if id >= m.nextPermID {
		m.nextPermID = id + 1
	}
}

func (m *mockStore) addDepartment(id, parentID int64, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.depts[id] = Department{ID: id, ParentID: parentID, Name: name}
}

func (m *mockStore) bindUserRole(userID, roleID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.userRoles = append(m.userRoles, UserRole{ID: int64(len(m.userRoles) + 1), UserID: userID, RoleID: roleID})
}

func (m *mockStore) bindUserPermission(userID, permissionID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.userPerms = append(m.userPerms, UserPermission{ID: int64(len(m.userPerms) + 1), UserID: userID, PermissionID: permissionID})
}

func (m *mockStore) bindUserDepartment(userID, departmentID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.userDepts = append(m.userDepts, UserDepartment{ID: int64(len(m.userDepts) + 1), UserID: userID, DepartmentID: departmentID})
}

func (m *mockStore) bindRolePermission(roleID, permissionID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rolePerms = append(m.rolePerms, RolePermission{ID: int64(len(m.rolePerms) + 1), RoleID: roleID, PermissionID: permissionID})
}

func (m *mockStore) bindDepartmentPermission(departmentID, permissionID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deptPerms = append(m.deptPerms, DepartmentPermission{ID: int64(len(m.deptPerms) + 1), DepartmentID: departmentID, PermissionID: permissionID})
}

func (m *mockStore) ListRoles(ctx context.Context) ([]Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bump("ListRoles")
	out := make([]Role, 0, len(m.roles))
	for _, r := range m.roles {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *mockStore) ListRolesByIDs(ctx context.Context, ids []int64) ([]Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bump("ListRolesByIDs")
	var out []Role
	for _, id := range ids {
		if r, ok := m.roles[id]; ok {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *mockStore) GetRole(ctx context.Context, id int64) (Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bump("GetRole")
	r, ok := m.roles[id]
	if !ok {
		return Role{}, shared.ErrNotFound
	}
	return r, nil
}

func (m *mockStore) GetRoleByCode(ctx context.Context, code string) (Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bump("GetRoleByCode")
	for _, r := range m.roles {
		if r.Code == code {
			return r, nil
		}
	}
	return Role{}, shared.ErrNotFound
}

func (m *mockStore) ListPermissions(ctx context.Context) ([]Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bump("ListPermissions")
	out := make([]Permission, 0, len(m.perms))
	for _, p := range m.perms {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SortOrder != out[j].SortOrder {
			return out[i].SortOrder < out[j].SortOrder
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *mockStore) ListPermissionsByIDs(ctx context.Context, ids []int64) ([]Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bump("ListPermissionsByIDs")
	var out []Permission
	for _, id := range ids {
		if p, ok := m.perms[id]; ok {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *mockStore) GetPermission(ctx context.Context, id int64) (Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bump("GetPermission")
	p, ok := m.perms[id]
	if !ok {
		return Permission{}, shared.ErrNotFound
	}
	return p, nil
}

func (m *mockStore) ListDepartments(ctx context.Context) ([]Department, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bump("ListDepartments")
	out := make([]Department, 0, len(m.depts))
	for _, d := range m.depts {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *mockStore) ListUserRoles(ctx context.Context, userID int64) ([]UserRole, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bump("ListUserRoles")
	var out []UserRole
	for _, l := range m.userRoles {
		if l.UserID == userID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *mockStore) ListUserRolesByRoleIDs(ctx context.Context, roleIDs []int64) ([]UserRole, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bump("ListUserRolesByRoleIDs")
	wanted := make(map[int64]struct{}, len(roleIDs))
	for _, id := range roleIDs {
		wanted[id] = struct{}{}
	}
	var out []UserRole
	for _, l := range m.userRoles {
		if _, ok := wanted[l.RoleID]; ok {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *mockStore) ListUserPermissions(ctx context.Context, userID int64) ([]UserPermission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bump("ListUserPermissions")
	var out []UserPermission
	for _, l := range m.userPerms {
		if l.UserID == userID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *mockStore) ListUserPermissionsByPermissionIDs(ctx context.Context, permissionIDs []int64) ([]UserPermission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bump("ListUserPermissionsByPermissionIDs")
	wanted := make(map[int64]struct{}, len(permissionIDs))
	for _, id := range permissionIDs {
		wanted[id] = struct{}{}
	}
	var out []UserPermission
	for _, l := range m.userPerms {
		if _, ok := wanted[l.PermissionID]; ok {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *mockStore) ListUserDepartments(ctx context.Context, userID int64) ([]UserDepartment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bump("ListUserDepartments")
	var out []UserDepartment
	for _, l := range m.userDepts {
		if l.UserID == userID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *mockStore) ListUserDepartmentsByDepartmentIDs(ctx context.Context, departmentIDs []int64) ([]UserDepartment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bump("ListUserDepartmentsByDepartmentIDs")
	wanted := make(map[int64]struct{}, len(departmentIDs))
	for _, id := range departmentIDs {
		wanted[id] = struct{}{}
	}
	var out []UserDepartment
	for _, l := range m.userDepts {
		if _, ok := wanted[l.DepartmentID]; ok {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *mockStore) ListRolePermissions(ctx context.Context, roleID int64) ([]RolePermission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bump("ListRolePermissions")
	var out []RolePermission
	for _, l := range m.rolePerms {
		if l.RoleID == roleID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *mockStore) ListRolePermissionsByRoleIDs(ctx context.Context, roleIDs []int64) ([]RolePermission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bump("ListRolePermissionsByRoleIDs")
	wanted := make(map[int64]struct{}, len(roleIDs))
	for _, id := range roleIDs {
		wanted[id] = struct{}{}
	}
	var out []RolePermission
	for _, l := range m.rolePerms {
		if _, ok := wanted[l.RoleID]; ok {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *mockStore) ListRolePermissionsByPermissionIDs(ctx context.Context, permissionIDs []int64) ([]RolePermission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bump("ListRolePermissionsByPermissionIDs")
	wanted := make(map[int64]struct{}, len(permissionIDs))
	for _, id := range permissionIDs {
		wanted[id] = struct{}{}
	}
	var out []RolePermission
	for _, l := range m.rolePerms {
		if _, ok := wanted[l.PermissionID]; ok {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *mockStore) ListDepartmentPermissionsByDepartmentIDs(ctx context.Context, departmentIDs []int64) ([]DepartmentPermission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bump("ListDepartmentPermissionsByDepartmentIDs")
	wanted := make(map[int64]struct{}, len(departmentIDs))
	for _, id := range departmentIDs {
		wanted[id] = struct{}{}
	}
	var out []DepartmentPermission
	for _, l := range m.deptPerms {
		if _, ok := wanted[l.DepartmentID]; ok {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *mockStore) ListDepartmentPermissionsByPermissionIDs(ctx context.Context, permissionIDs []int64) ([]DepartmentPermission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bump("ListDepartmentPermissionsByPermissionIDs")
	wanted := make(map[int64]struct{}, len(permissionIDs))
	for _, id := range permissionIDs {
		wanted[id] = struct{}{}
	}
	var out []DepartmentPermission
	for _, l := range m.deptPerms {
		if _, ok := wanted[l.PermissionID]; ok {
			out = append(out, l)
		}
	}
	return out, nil
}

func (m *mockStore) CreateRole(ctx context.Context, code, name string) (Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bump("CreateRole")
	role := Role{ID: m.nextRoleID, Code: code, Name: name}
	m.nextRoleID++
	m.roles[role.ID] = role
	return role, nil
}

func (m *mockStore) UpdateRole(ctx context.Context, role Role) (Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bump("UpdateRole")
	if _, ok := m.roles[role.ID]; !ok {
		return Role{}, shared.ErrNotFound
	}
	m.roles[role.ID] = role
	return role, nil
}

func (m *mockStore) DeleteRoles(ctx context.Context, ids []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bump("DeleteRoles")
	wanted := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
		delete(m.roles, id)
	}
	kept := m.userRoles[:0]
	for _, l := range m.userRoles {
		if _, ok := wanted[l.RoleID]; !ok {
			kept = append(kept, l)
		}
	}
	m.userRoles = kept
	keptPerms := m.rolePerms[:0]
	for _, l := range m.rolePerms {
		if _, ok := wanted[l.RoleID]; !ok {
			keptPerms = append(keptPerms, l)
		}
	}
	m.rolePerms = keptPerms
	return nil
}

func (m *mockStore) ReplaceRoleUsers(ctx context.Context, roleID int64, userIDs []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bump("ReplaceRoleUsers")
	kept := m.userRoles[:0]
	for _, l := range m.userRoles {
		if l.RoleID != roleID {
			kept = append(kept, l)
		}
	}
	m.userRoles = kept
	for _, userID := range userIDs {
		m.userRoles = append(m.userRoles, UserRole{ID: int64(len(m.userRoles) + 1), UserID: userID, RoleID: roleID})
	}
	return nil
}

func (m *mockStore) ReplaceRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bump("ReplaceRolePermissions")
	kept := m.rolePerms[:0]
	for _, l := range m.rolePerms {
		if l.RoleID != roleID {
			kept = append(kept, l)
		}
	}
	m.rolePerms = kept
	for _, permissionID := range permissionIDs {
		m.rolePerms = append(m.rolePerms, RolePermission{ID: int64(len(m.rolePerms) + 1), RoleID: roleID, PermissionID: permissionID})
	}
	return nil
}

func (m *mockStore) CreatePermission(ctx context.Context, perm Permission) (Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bump("CreatePermission")
	perm.ID = m.nextPermID
	m.nextPermID++
	m.perms[perm.ID] = perm
	return perm, nil
}

func (m *mockStore) UpdatePermission(ctx context.Context, perm Permission) (Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bump("UpdatePermission")
	if _, ok := m.perms[perm.ID]; !ok {
		return Permission{}, shared.ErrNotFound
	}
	m.perms[perm.ID] = perm
	return perm, nil
}

func (m *mockStore) DeletePermissions(ctx context.Context, ids []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bump("DeletePermissions")
	wanted := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
		delete(m.perms, id)
	}
	kept := m.rolePerms[:0]
	for _, l := range m.rolePerms {
		if _, ok := wanted[l.PermissionID]; !ok {
			kept = append(kept, l)
		}
	}
	m.rolePerms = kept
	keptDept := m.deptPerms[:0]
	for _, l := range m.deptPerms {
		if _, ok := wanted[l.PermissionID]; !ok {
			keptDept = append(keptDept, l)
		}
	}
	m.deptPerms = keptDept
	keptUser := m.userPerms[:0]
	for _, l := range m.userPerms {
		if _, ok := wanted[l.PermissionID]; !ok {
			keptUser = append(keptUser, l)
		}
	}
	m.userPerms = keptUser
	return nil
}

// ============================================================================
// HELPERS
// ============================================================================

func newTestResolver(t *testing.T, store Store) (*Resolver, *RedisCache) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	cache := NewRedisCache(client)
	return NewResolver(store, cache, nil, nil, Options{CacheTTL: time.Minute}), cache
}

// ============================================================================
// TESTS
// ============================================================================

func TestResolvePermissionsMergesAllPaths(t *testing.T) {
	store := newMockStore()
	store.addRole(1, "ops", "Operations")
	for id := int64(1); id <= 5; id++ {
		store.addPermission(id, 0, "perm."+string(rune('a'+id-1)), int(id))
	}
	store.addDepartment(10, 0, "Engineering")
	store.addDepartment(11, 10, "Platform")
	store.addDepartment(12, 0, "Finance")

	store.bindUserRole(1, 1)
	store.bindRolePermission(1, 1)
	store.bindRolePermission(1, 2)
	store.bindUserPermission(1, 2)
	store.bindUserPermission(1, 3)
	store.bindUserDepartment(1, 10)
	store.bindDepartmentPermission(11, 4)
	store.bindDepartmentPermission(12, 5)

	resolver, _ := newTestResolver(t, store)

	ids, err := resolver.ResolvePermissions(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3, 4}, ids)
}

func TestDepartmentInheritanceFlowsDownwardOnly(t *testing.T) {
	store := newMockStore()
	store.addPermission(1, 0, "parent.perm", 1)
	store.addPermission(2, 0, "own.perm", 2)
	store.addPermission(3, 0, "child.perm", 3)
	store.addDepartment(10, 0, "Root")
	store.addDepartment(11, 10, "Middle")
	store.addDepartment(12, 11, "Leaf")

	store.bindUserDepartment(1, 11)
	store.bindDepartmentPermission(10, 1)
	store.bindDepartmentPermission(11, 2)
	store.bindDepartmentPermission(12, 3)

	resolver, _ := newTestResolver(t, store)

	ids, err := resolver.ResolvePermissions(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 3}, ids, "ancestor permissions must not leak down to members")
}

func TestAdminUserHoldsEverything(t *testing.T) {
	store := newMockStore()
	store.addRole(DefaultAdminRoleID, AdminRoleCode, "Administrator")
	store.addRole(1, "ops", "Operations")
	store.addPermission(1, 0, "a", 1)
	store.addPermission(2, 0, "b", 2)
	store.bindUserRole(9, DefaultAdminRoleID)
	store.bindRolePermission(1, 1)

	resolver, _ := newTestResolver(t, store)
	ctx := context.Background()

	roles, err := resolver.ResolveRoles(ctx, 9)
	require.NoError(t, err)
	require.Len(t, roles, 2, "admin binding expands to every role")

	admin, err := resolver.IsAdmin(ctx, 9)
	require.NoError(t, err)
	assert.True(t, admin)

	ids, err := resolver.ResolvePermissions(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, ids)
}

func TestResolveRolesNegativeCache(t *testing.T) {
	store := newMockStore()
	resolver, _ := newTestResolver(t, store)
	ctx := context.Background()

	roles, err := resolver.ResolveRoles(ctx, 5)
	require.NoError(t, err)
	assert.Empty(t, roles)
	require.Equal(t, 1, store.callCount("ListUserRoles"))

	// Second resolution is served by the cached empty set.
	roles, err = resolver.ResolveRoles(ctx, 5)
	require.NoError(t, err)
	assert.Empty(t, roles)
	assert.Equal(t, 1, store.callCount("ListUserRoles"))
}

func TestPermissionsByRoleNegativeCache(t *testing.T) {
	store := newMockStore()
	store.addRole(2, "viewer", "Viewer")
	resolver, _ := newTestResolver(t, store)
	ctx := context.Background()

	perms, err := resolver.PermissionsByRole(ctx, 2)
	require.NoError(t, err)
	assert.Empty(t, perms)
	require.Equal(t, 1, store.callCount("ListRolePermissions"))

	perms, err = resolver.PermissionsByRole(ctx, 2)
	require.NoError(t, err)
	assert.Empty(t, perms)
	assert.Equal(t, 1, store.callCount("ListRolePermissions"))
}

func TestResolvePermissionsRejectsNonPositiveUser(t *testing.T) {
	store := newMockStore()
	resolver, _ := newTestResolver(t, store)

	_, err := resolver.ResolvePermissions(context.Background(), 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrInvalidID))

	_, err = resolver.ResolveRoles(context.Background(), -3)
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrInvalidID))
}

func TestPermissionTreeConcurrentMissesLoadOnce(t *testing.T) {
	store := newMockStore()
	store.addPermission(1, 0, "root", 1)
	store.addPermission(2, 1, "child", 2)
	resolver, _ := newTestResolver(t, store)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			forest, err := resolver.PermissionTree(ctx)
			assert.NoError(t, err)
			assert.Len(t, forest, 1)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, store.callCount("ListPermissions"),
		"concurrent misses must collapse to a single load")
}

func TestResolvePermissionsBatchesMissedRoles(t *testing.T) {
	store := newMockStore()
	store.addRole(1, "ops", "Operations")
	store.addRole(2, "viewer", "Viewer")
	store.addPermission(3, 0, "orders.read", 1)
	store.addPermission(4, 0, "reports.read", 2)
	store.bindRolePermission(1, 3)
	store.bindRolePermission(2, 4)
	store.bindUserRole(7, 1)
	store.bindUserRole(7, 2)
	resolver, _ := newTestResolver(t, store)

	perms, err := resolver.ResolvePermissions(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 4}, perms)

	// Both cold roles load through one link query, not one per role.
	assert.Equal(t, 1, store.callCount("ListRolePermissionsByRoleIDs"))
	assert.Equal(t, 0, store.callCount("ListRolePermissions"))
}

func TestPermissionsByRoleConcurrentMissesConverge(t *testing.T) {
	store := newMockStore()
	store.addRole(1, "ops", "Operations")
	store.addPermission(3, 0, "reports.read", 1)
	store.bindRolePermission(1, 3)
	resolver, _ := newTestResolver(t, store)

	const workers = 2
	results := make([][]Permission, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = resolver.PermissionsByRole(context.Background(), 1)
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		require.Len(t, results[i], 1)
		assert.Equal(t, int64(3), results[i][0].ID)
	}
	loads := store.callCount("ListRolePermissions")
	assert.GreaterOrEqual(t, loads, 1)
	assert.LessOrEqual(t, loads, workers)
}

func TestPermissionTreeCycleFailsClosed(t *testing.T) {
	store := newMockStore()
	store.addPermission(1, 2, "a", 1)
	store.addPermission(2, 1, "b", 2)
	resolver, cache := newTestResolver(t, store)
	ctx := context.Background()

	_, err := resolver.PermissionTree(ctx)
	require.Error(t, err)
	var cycleErr *CycleError
	assert.True(t, errors.As(err, &cycleErr))

	// Nothing partial may be cached after the failure.
	cached, err := cache.Get(ctx, permissionTreeKey)
	require.NoError(t, err)
	assert.False(t, cached.Found)
}

func TestResolvePermissionCodesSortedAndCached(t *testing.T) {
	store := newMockStore()
	store.addRole(1, "ops", "Operations")
	store.addPermission(1, 0, "zeta", 1)
	store.addPermission(2, 0, "alpha", 2)
	store.addPermission(3, 0, "", 3)
	store.bindUserRole(4, 1)
	store.bindRolePermission(1, 1)
	store.bindRolePermission(1, 2)
	store.bindRolePermission(1, 3)

	resolver, _ := newTestResolver(t, store)
	ctx := context.Background()

	codes, err := resolver.ResolvePermissionCodes(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "zeta"}, codes, "blank codes are dropped, rest sorted")

	before := store.callCount("ListUserRoles")
	codes, err = resolver.ResolvePermissionCodes(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "zeta"}, codes)
	assert.Equal(t, before, store.callCount("ListUserRoles"), "second call served from cache")
}

func TestUserPermissionTreeShapesOnlyEffectivePermissions(t *testing.T) {
	store := newMockStore()
	store.addPermission(1, 0, "menu", 1)
	store.addPermission(2, 1, "menu.read", 2)
	store.addPermission(3, 1, "menu.write", 3)
	store.bindUserPermission(6, 1)
	store.bindUserPermission(6, 2)

	resolver, _ := newTestResolver(t, store)

	forest, err := resolver.UserPermissionTree(context.Background(), 6)
	require.NoError(t, err)
	require.Len(t, forest, 1)
	assert.Equal(t, int64(1), forest[0].ID)
	require.Len(t, forest[0].Children, 1)
	assert.Equal(t, int64(2), forest[0].Children[0].ID)
}
