package rbac

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/authgrid/authgrid/internal/observability"
	"github.com/authgrid/authgrid/internal/platform/events"
)

// Invalidator walks the relation graph one hop outward from a mutated
// entity and deletes every cache entry whose value may now be stale.
// Deleted entries are not repopulated; the next read rebuilds them.
type Invalidator struct {
	store   Store
	cache   Cache
	logger  *slog.Logger
	metrics *observability.Metrics

	adminRoleID int64
}

// NewInvalidator constructs an Invalidator.
func NewInvalidator(store Store, cache Cache, logger *slog.Logger, metrics *observability.Metrics, adminRoleID int64) *Invalidator {
	if adminRoleID == 0 {
		adminRoleID = DefaultAdminRoleID
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Invalidator{
		store:       store,
		cache:       cache,
		logger:      logger,
		metrics:     metrics,
		adminRoleID: adminRoleID,
	}
}

// Register subscribes the invalidator to mutation events. Called once at
// startup.
func (i *Invalidator) Register(bus *events.Bus) {
	bus.Subscribe(EventPermissionsChanged, i.onPermissionsChanged)
	bus.Subscribe(EventRolesChanged, i.onRolesChanged)
	bus.Subscribe(EventDepartmentsChanged, i.onDepartmentsChanged)
}

// onPermissionsChanged clears the global permission tree, the permission
// cache of every role bound to the mutated permissions, and always the
// admin role (its permission set is the live "all permissions" set). User
// caches derived from those roles are cleared as well. Roles and users the
// event names explicitly are included; a delete removes the link rows
// before the event fires, so the store lookup alone cannot find them.
func (i *Invalidator) onPermissionsChanged(ctx context.Context, evt events.Event) error {
	e, ok := evt.(PermissionsChanged)
	if !ok {
		return fmt.Errorf("rbac: unexpected event payload %T", evt)
	}
	permissionIDs := compactIDs(e.PermissionIDs)
	if len(permissionIDs) == 0 {
		return nil
	}

	roleIDs := map[int64]struct{}{i.adminRoleID: {}}
	for _, id := range compactIDs(e.RoleIDs) {
		roleIDs[id] = struct{}{}
	}
	links, err := i.store.ListRolePermissionsByPermissionIDs(ctx, permissionIDs)
	if err != nil {
		return err
	}
	for _, l := range links {
		roleIDs[l.RoleID] = struct{}{}
	}

	keys := []string{permissionTreeKey}
	keys = append(keys, rolePermissionKeys(roleIDs)...)
	userKeys, err := i.userKeysForRoles(ctx, roleIDs)
	if err != nil {
		return err
	}
	keys = append(keys, userKeys...)
	// Users named by the event held the permission directly or through a
	// department; only their code cache is derived from it.
	for _, userID := range compactIDs(e.UserIDs) {
		keys = append(keys, userPermissionCodesKey(userID))
	}

	return i.deleteKeys(ctx, EventPermissionsChanged, keys)
}

// onRolesChanged clears the permission cache of the mutated roles plus the
// admin role, and the role/code caches of every user bound to them or named
// by the event.
func (i *Invalidator) onRolesChanged(ctx context.Context, evt events.Event) error {
	e, ok := evt.(RolesChanged)
	if !ok {
		return fmt.Errorf("rbac: unexpected event payload %T", evt)
	}
	roleIDs := map[int64]struct{}{i.adminRoleID: {}}
	for _, id := range compactIDs(e.RoleIDs) {
		roleIDs[id] = struct{}{}
	}

	userIDs := make(map[int64]struct{})
	for _, id := range compactIDs(e.UserIDs) {
		userIDs[id] = struct{}{}
	}
	links, err := i.store.ListUserRolesByRoleIDs(ctx, idSlice(roleIDs))
	if err != nil {
		return err
	}
	for _, l := range links {
		userIDs[l.UserID] = struct{}{}
	}

	keys := rolePermissionKeys(roleIDs)
	for userID := range userIDs {
		keys = append(keys, userRolesKey(userID), userPermissionCodesKey(userID))
	}

	return i.deleteKeys(ctx, EventRolesChanged, keys)
}

// onDepartmentsChanged clears the global department tree. Department
// permission rows are re-read from the store on every resolution, so the
// only narrower caches to clear are the code caches of users whose
// department bindings moved.
func (i *Invalidator) onDepartmentsChanged(ctx context.Context, evt events.Event) error {
	e, ok := evt.(DepartmentsChanged)
	if !ok {
		return fmt.Errorf("rbac: unexpected event payload %T", evt)
	}
	keys := []string{departmentTreeKey}
	for _, userID := range compactIDs(e.UserIDs) {
		keys = append(keys, userPermissionCodesKey(userID))
	}
	return i.deleteKeys(ctx, EventDepartmentsChanged, keys)
}

func (i *Invalidator) userKeysForRoles(ctx context.Context, roleIDs map[int64]struct{}) ([]string, error) {
	links, err := i.store.ListUserRolesByRoleIDs(ctx, idSlice(roleIDs))
	if err != nil {
		return nil, err
	}
	userIDs := make(map[int64]struct{}, len(links))
	for _, l := range links {
		userIDs[l.UserID] = struct{}{}
	}
	keys := make([]string, 0, len(userIDs))
	for userID := range userIDs {
		keys = append(keys, userPermissionCodesKey(userID))
	}
	return keys, nil
}

func (i *Invalidator) deleteKeys(ctx context.Context, event string, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := i.cache.Delete(ctx, keys...); err != nil {
		return err
	}
	i.metrics.KeysInvalidated(event, len(keys))
	i.logger.Info("invalidated cache keys",
		slog.String("event", event),
		slog.Int("keys", len(keys)))
	return nil
}

func rolePermissionKeys(roleIDs map[int64]struct{}) []string {
	keys := make([]string, 0, len(roleIDs))
	for roleID := range roleIDs {
		keys = append(keys, rolePermissionsKey(roleID))
	}
	return keys
}

func compactIDs(ids []int64) []int64 {
	out := ids[:0:0]
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if id <= 0 {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func idSlice(ids map[int64]struct{}) []int64 {
	out := make([]int64, 0, len(ids))
	for id := range ids {
		out = append(out, id)
	}
	return out
}
