package rbac

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/authgrid/authgrid/internal/observability"
	"github.com/authgrid/authgrid/internal/shared"
)

// Options tunes the resolver. Zero values fall back to defaults.
type Options struct {
	// AdminRoleID is the reserved role id treated as holding every
	// permission. Defaults to DefaultAdminRoleID.
	AdminRoleID int64
	// CacheTTL bounds the lifetime of resolution cache entries.
	// Defaults to one hour.
	CacheTTL time.Duration
}

// Resolver computes effective permission and role sets for users, merging
// direct grants, role membership, and department membership. Reads are
// cache-aside: the cache is consulted first (batched where possible), the
// relation store fills misses, and results are written back with a TTL.
type Resolver struct {
	store   Store
	cache   Cache
	logger  *slog.Logger
	metrics *observability.Metrics

	adminRoleID int64
	ttl         time.Duration
	group       singleflight.Group
}

// NewResolver constructs a Resolver.
func NewResolver(store Store, cache Cache, logger *slog.Logger, metrics *observability.Metrics, opts Options) *Resolver {
	if opts.AdminRoleID == 0 {
		opts.AdminRoleID = DefaultAdminRoleID
	}
	if opts.CacheTTL == 0 {
		opts.CacheTTL = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		store:       store,
		cache:       cache,
		logger:      logger,
		metrics:     metrics,
		adminRoleID: opts.AdminRoleID,
		ttl:         opts.CacheTTL,
	}
}

// RoleRefFor classifies a role id as the admin variant or a bound role.
func (r *Resolver) RoleRefFor(roleID int64) RoleRef {
	if roleID == r.adminRoleID {
		return AdminRole(roleID)
	}
	return BoundRole(roleID)
}

// ResolveRoles returns the roles a user holds via direct UserRole bindings.
// The result is cached per user; a user bound to the admin role holds every
// role in the store.
func (r *Resolver) ResolveRoles(ctx context.Context, userID int64) ([]Role, error) {
	if userID <= 0 {
		return nil, fmt.Errorf("rbac: resolve roles: %w", shared.ErrInvalidID)
	}

	key := userRolesKey(userID)
	cached, err := r.cache.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if cached.Found {
		r.metrics.CacheHit("user-roles")
		var roles []Role
		if err := json.Unmarshal([]byte(cached.Data), &roles); err != nil {
			return nil, fmt.Errorf("rbac: decode cached roles for user %d: %w", userID, err)
		}
		return roles, nil
	}
	r.metrics.CacheMiss("user-roles")

	links, err := r.store.ListUserRoles(ctx, userID)
	if err != nil {
		return nil, err
	}

	roles := []Role{}
	if len(links) > 0 {
		roleIDs := make([]int64, 0, len(links))
		admin := false
		for _, l := range links {
			if r.RoleRefFor(l.RoleID).IsAdmin() {
				admin = true
			}
			roleIDs = append(roleIDs, l.RoleID)
		}
		if admin {
			roles, err = r.store.ListRoles(ctx)
		} else {
			roles, err = r.store.ListRolesByIDs(ctx, roleIDs)
		}
		if err != nil {
			return nil, err
		}
		if roles == nil {
			roles = []Role{}
		}
	}

	payload, err := json.Marshal(roles)
	if err != nil {
		return nil, fmt.Errorf("rbac: encode roles for user %d: %w", userID, err)
	}
	if err := r.cache.Put(ctx, key, string(payload), r.ttl); err != nil {
		return nil, err
	}
	return roles, nil
}

// IsAdmin reports whether the user holds the admin role.
func (r *Resolver) IsAdmin(ctx context.Context, userID int64) (bool, error) {
	roles, err := r.ResolveRoles(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, role := range roles {
		if r.RoleRefFor(role.ID).IsAdmin() {
			return true, nil
		}
	}
	return false, nil
}

// PermissionsByRole returns the permissions bound to a role. The result is
// cached per role, with an empty set stored as a negative cache so roles
// without permissions never hit the store again until invalidated. The
// admin role bypasses bindings and yields every permission that exists.
func (r *Resolver) PermissionsByRole(ctx context.Context, roleID int64) ([]Permission, error) {
	if roleID <= 0 {
		return nil, fmt.Errorf("rbac: permissions by role: %w", shared.ErrInvalidID)
	}

	key := rolePermissionsKey(roleID)
	cached, err := r.cache.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if cached.Found {
		r.metrics.CacheHit("role-permissions")
		var perms []Permission
		if err := json.Unmarshal([]byte(cached.Data), &perms); err != nil {
			return nil, fmt.Errorf("rbac: decode cached permissions for role %d: %w", roleID, err)
		}
		return perms, nil
	}
	r.metrics.CacheMiss("role-permissions")

	perms, err := r.loadRolePermissions(ctx, r.RoleRefFor(roleID))
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(perms)
	if err != nil {
		return nil, fmt.Errorf("rbac: encode permissions for role %d: %w", roleID, err)
	}
	if err := r.cache.Put(ctx, key, string(payload), r.ttl); err != nil {
		return nil, err
	}
	return perms, nil
}

func (r *Resolver) loadRolePermissions(ctx context.Context, ref RoleRef) ([]Permission, error) {
	if ref.IsAdmin() {
		perms, err := r.store.ListPermissions(ctx)
		if err != nil {
			return nil, err
		}
		if perms == nil {
			perms = []Permission{}
		}
		return perms, nil
	}

	links, err := r.store.ListRolePermissions(ctx, ref.ID())
	if err != nil {
		return nil, err
	}
	perms := []Permission{}
	if len(links) > 0 {
		ids := make([]int64, 0, len(links))
		for _, l := range links {
			ids = append(ids, l.PermissionID)
		}
		perms, err = r.store.ListPermissionsByIDs(ctx, ids)
		if err != nil {
			return nil, err
		}
		if perms == nil {
			perms = []Permission{}
		}
	}
	return perms, nil
}

// ResolvePermissions computes the effective permission id set for a user:
// the de-duplicated union of the role path, direct grants, and department
// membership with downward inheritance. The result is sorted.
func (r *Resolver) ResolvePermissions(ctx context.Context, userID int64) ([]int64, error) {
	if userID <= 0 {
		return nil, fmt.Errorf("rbac: resolve permissions: %w", shared.ErrInvalidID)
	}

	ids := make(map[int64]struct{})
	if err := r.addRolePermissions(ctx, userID, ids); err != nil {
		return nil, err
	}
	if err := r.addDirectPermissions(ctx, userID, ids); err != nil {
		return nil, err
	}
	if err := r.addDepartmentPermissions(ctx, userID, ids); err != nil {
		return nil, err
	}

	out := make([]int64, 0, len(ids))
	for id := range ids {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// ResolvePermissionCodes is the code-level variant of ResolvePermissions,
// cached per user under its own key.
func (r *Resolver) ResolvePermissionCodes(ctx context.Context, userID int64) ([]string, error) {
	if userID <= 0 {
		return nil, fmt.Errorf("rbac: resolve permission codes: %w", shared.ErrInvalidID)
	}

	key := userPermissionCodesKey(userID)
	cached, err := r.cache.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if cached.Found {
		r.metrics.CacheHit("user-permission-codes")
		var codes []string
		if err := json.Unmarshal([]byte(cached.Data), &codes); err != nil {
			return nil, fmt.Errorf("rbac: decode cached codes for user %d: %w", userID, err)
		}
		return codes, nil
	}
	r.metrics.CacheMiss("user-permission-codes")

	ids, err := r.ResolvePermissions(ctx, userID)
	if err != nil {
		return nil, err
	}

	codes := []string{}
	if len(ids) > 0 {
		perms, err := r.store.ListPermissionsByIDs(ctx, ids)
		if err != nil {
			return nil, err
		}
		unique := make(map[string]struct{}, len(perms))
		for _, p := range perms {
			if p.Code == "" {
				continue
			}
			unique[p.Code] = struct{}{}
		}
		for code := range unique {
			codes = append(codes, code)
		}
		sort.Strings(codes)
	}

	payload, err := json.Marshal(codes)
	if err != nil {
		return nil, fmt.Errorf("rbac: encode codes for user %d: %w", userID, err)
	}
	if err := r.cache.Put(ctx, key, string(payload), r.ttl); err != nil {
		return nil, err
	}
	return codes, nil
}

func (r *Resolver) addRolePermissions(ctx context.Context, userID int64, ids map[int64]struct{}) error {
	roles, err := r.ResolveRoles(ctx, userID)
	if err != nil {
		return err
	}
	if len(roles) == 0 {
		return nil
	}

	roleIDs := make([]int64, 0, len(roles))
	keys := make([]string, 0, len(roles))
	for _, role := range roles {
		roleIDs = append(roleIDs, role.ID)
		keys = append(keys, rolePermissionsKey(role.ID))
	}

	// One batched cache read across all roles; an empty cached set counts
	// as a hit (negative cache), only truly absent keys fall through.
	values, err := r.cache.MultiGet(ctx, keys)
	if err != nil {
		return err
	}
	var missed []int64
	for i, value := range values {
		if !value.Found {
			missed = append(missed, roleIDs[i])
			r.metrics.CacheMiss("role-permissions")
			continue
		}
		r.metrics.CacheHit("role-permissions")
		var perms []Permission
		if err := json.Unmarshal([]byte(value.Data), &perms); err != nil {
			return fmt.Errorf("rbac: decode cached permissions for role %d: %w", roleIDs[i], err)
		}
		for _, p := range perms {
			ids[p.ID] = struct{}{}
		}
	}

	if len(missed) > 0 {
		byRole, err := r.loadAndCacheMissedRoles(ctx, missed)
		if err != nil {
			return err
		}
		for _, perms := range byRole {
			for _, p := range perms {
				ids[p.ID] = struct{}{}
			}
		}
	}
	return nil
}

// loadAndCacheMissedRoles loads the permission sets of the given roles
// with one link query and one permission query, then caches each role's
// set individually. Roles without links cache the empty set.
func (r *Resolver) loadAndCacheMissedRoles(ctx context.Context, roleIDs []int64) (map[int64][]Permission, error) {
	byRole := make(map[int64][]Permission, len(roleIDs))
	bound := make([]int64, 0, len(roleIDs))
	for _, roleID := range roleIDs {
		if r.RoleRefFor(roleID).IsAdmin() {
			perms, err := r.loadRolePermissions(ctx, AdminRole(roleID))
			if err != nil {
				return nil, err
			}
			byRole[roleID] = perms
			continue
		}
		bound = append(bound, roleID)
		byRole[roleID] = []Permission{}
	}

	if len(bound) > 0 {
		links, err := r.store.ListRolePermissionsByRoleIDs(ctx, bound)
		if err != nil {
			return nil, err
		}
		permIDs := make(map[int64]struct{}, len(links))
		for _, l := range links {
			permIDs[l.PermissionID] = struct{}{}
		}
		permsByID := make(map[int64]Permission, len(permIDs))
		if len(permIDs) > 0 {
			ids := make([]int64, 0, len(permIDs))
			for id := range permIDs {
				ids = append(ids, id)
			}
			perms, err := r.store.ListPermissionsByIDs(ctx, ids)
			if err != nil {
				return nil, err
			}
			for _, p := range perms {
				permsByID[p.ID] = p
			}
		}
		for _, l := range links {
			if p, ok := permsByID[l.PermissionID]; ok {
				byRole[l.RoleID] = append(byRole[l.RoleID], p)
			}
		}
	}

	for roleID, perms := range byRole {
		payload, err := json.Marshal(perms)
		if err != nil {
			return nil, fmt.Errorf("rbac: encode permissions for role %d: %w", roleID, err)
		}
		if err := r.cache.Put(ctx, rolePermissionsKey(roleID), string(payload), r.ttl); err != nil {
			return nil, err
		}
	}
	return byRole, nil
}

func (r *Resolver) addDirectPermissions(ctx context.Context, userID int64, ids map[int64]struct{}) error {
	links, err := r.store.ListUserPermissions(ctx, userID)
	if err != nil {
		return err
	}
	for _, l := range links {
		ids[l.PermissionID] = struct{}{}
	}
	return nil
}

func (r *Resolver) addDepartmentPermissions(ctx context.Context, userID int64, ids map[int64]struct{}) error {
	links, err := r.store.ListUserDepartments(ctx, userID)
	if err != nil {
		return err
	}
	if len(links) == 0 {
		return nil
	}

	forest, err := r.DepartmentTree(ctx)
	if err != nil {
		return err
	}

	deptIDs := make(map[int64]struct{}, len(links))
	for _, l := range links {
		deptIDs[l.DepartmentID] = struct{}{}
	}
	for _, root := range forest {
		collectDescendantDepartments(root, deptIDs)
	}

	all := make([]int64, 0, len(deptIDs))
	for id := range deptIDs {
		all = append(all, id)
	}
	deptPerms, err := r.store.ListDepartmentPermissionsByDepartmentIDs(ctx, all)
	if err != nil {
		return err
	}
	for _, l := range deptPerms {
		ids[l.PermissionID] = struct{}{}
	}
	return nil
}

// collectDescendantDepartments walks the forest top-down, adding every
// department whose parent is already in the set. Inheritance flows only
// downward: ancestors of a bound department are never added.
func collectDescendantDepartments(node *DepartmentNode, ids map[int64]struct{}) {
	if _, ok := ids[node.ParentID]; ok {
		ids[node.ID] = struct{}{}
	}
	for _, child := range node.Children {
		collectDescendantDepartments(child, ids)
	}
}

// PermissionTree returns the full permission forest, cached under a single
// global key. Concurrent misses are collapsed with singleflight. A cycle in
// the stored rows aborts the call with CycleError.
func (r *Resolver) PermissionTree(ctx context.Context) ([]*PermissionNode, error) {
	v, err, _ := r.group.Do(permissionTreeKey, func() (any, error) {
		cached, err := r.cache.Get(ctx, permissionTreeKey)
		if err != nil {
			return nil, err
		}
		if cached.Found {
			r.metrics.CacheHit("permission-tree")
			var forest []*PermissionNode
			if err := json.Unmarshal([]byte(cached.Data), &forest); err != nil {
				return nil, fmt.Errorf("rbac: decode cached permission tree: %w", err)
			}
			return forest, nil
		}
		r.metrics.CacheMiss("permission-tree")

		perms, err := r.store.ListPermissions(ctx)
		if err != nil {
			return nil, err
		}
		sort.SliceStable(perms, func(i, j int) bool {
			if perms[i].SortOrder != perms[j].SortOrder {
				return perms[i].SortOrder < perms[j].SortOrder
			}
			return perms[i].ID < perms[j].ID
		})
		forest, err := BuildPermissionForest(perms)
		if err != nil {
			return nil, err
		}
		if forest == nil {
			forest = []*PermissionNode{}
		}

		payload, err := json.Marshal(forest)
		if err != nil {
			return nil, fmt.Errorf("rbac: encode permission tree: %w", err)
		}
		if err := r.cache.Put(ctx, permissionTreeKey, string(payload), r.ttl); err != nil {
			return nil, err
		}
		return forest, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]*PermissionNode), nil
}

// DepartmentTree returns the full department forest, cached under a single
// global key with the same miss semantics as PermissionTree.
func (r *Resolver) DepartmentTree(ctx context.Context) ([]*DepartmentNode, error) {
	v, err, _ := r.group.Do(departmentTreeKey, func() (any, error) {
		cached, err := r.cache.Get(ctx, departmentTreeKey)
		if err != nil {
			return nil, err
		}
		if cached.Found {
			r.metrics.CacheHit("department-tree")
			var forest []*DepartmentNode
			if err := json.Unmarshal([]byte(cached.Data), &forest); err != nil {
				return nil, fmt.Errorf("rbac: decode cached department tree: %w", err)
			}
			return forest, nil
		}
		r.metrics.CacheMiss("department-tree")

		depts, err := r.store.ListDepartments(ctx)
		if err != nil {
			return nil, err
		}
		forest, err := BuildDepartmentForest(depts)
		if err != nil {
			return nil, err
		}
		if forest == nil {
			forest = []*DepartmentNode{}
		}

		payload, err := json.Marshal(forest)
		if err != nil {
			return nil, fmt.Errorf("rbac: encode department tree: %w", err)
		}
		if err := r.cache.Put(ctx, departmentTreeKey, string(payload), r.ttl); err != nil {
			return nil, err
		}
		return forest, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]*DepartmentNode), nil
}

// UserPermissionTree builds a forest from only the user's effective
// permissions, ordered by sort key. Not cached: the underlying resolution
// paths already are.
func (r *Resolver) UserPermissionTree(ctx context.Context, userID int64) ([]*PermissionNode, error) {
	ids, err := r.ResolvePermissions(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []*PermissionNode{}, nil
	}

	perms, err := r.store.ListPermissionsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(perms, func(i, j int) bool {
		if perms[i].SortOrder != perms[j].SortOrder {
			return perms[i].SortOrder < perms[j].SortOrder
		}
		return perms[i].ID < perms[j].ID
	})
	forest, err := BuildPermissionForest(perms)
	if err != nil {
		return nil, err
	}
	if forest == nil {
		forest = []*PermissionNode{}
	}
	return forest, nil
}
