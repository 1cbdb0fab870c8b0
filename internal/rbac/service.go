package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"

	"github.com/authgrid/authgrid/internal/platform/events"
	"github.com/authgrid/authgrid/internal/shared"
)

// RoleCreateRequest carries a new role.
type RoleCreateRequest struct {
	Code string `json:"code" validate:"required,max=64"`
	Name string `json:"name" validate:"required,max=128"`
}

// RoleUpdateRequest carries a role update.
type RoleUpdateRequest struct {
	ID   int64  `json:"id" validate:"required,gt=0"`
	Code string `json:"code" validate:"required,max=64"`
	Name string `json:"name" validate:"required,max=128"`
}

// PermissionCreateRequest carries a new permission.
type PermissionCreateRequest struct {
	ParentID  int64  `json:"parentId" validate:"gte=0"`
	Type      int    `json:"type" validate:"gte=0"`
	Code      string `json:"code" validate:"max=128"`
	Name      string `json:"name" validate:"required,max=128"`
	SortOrder int    `json:"sortOrder"`
}

// PermissionUpdateRequest carries a permission update.
type PermissionUpdateRequest struct {
	ID        int64  `json:"id" validate:"required,gt=0"`
	ParentID  int64  `json:"parentId" validate:"gte=0"`
	Type      int    `json:"type" validate:"gte=0"`
	Code      string `json:"code" validate:"max=128"`
	Name      string `json:"name" validate:"required,max=128"`
	SortOrder int    `json:"sortOrder"`
}

// Service performs the administrative mutations on roles and permissions.
// Every successful mutation publishes an invalidation event on the bus;
// because the bus is synchronous, a failing listener fails the mutation.
type Service struct {
	store    AdminStore
	bus      *events.Bus
	validate *validator.Validate
	logger   *slog.Logger

	adminRoleID int64
}

// NewService constructs a Service.
func NewService(store AdminStore, bus *events.Bus, logger *slog.Logger, adminRoleID int64) *Service {
	if adminRoleID == 0 {
		adminRoleID = DefaultAdminRoleID
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:       store,
		bus:         bus,
		validate:    validator.New(),
		logger:      logger,
		adminRoleID: adminRoleID,
	}
}

// CreateRole inserts a new role with a unique code.
func (s *Service) CreateRole(ctx context.Context, req RoleCreateRequest) (Role, error) {
	if err := s.validate.Struct(req); err != nil {
		return Role{}, err
	}
	if err := s.ensureRoleCodeFree(ctx, req.Code, 0); err != nil {
		return Role{}, err
	}

	role, err := s.store.CreateRole(ctx, req.Code, req.Name)
	if err != nil {
		return Role{}, err
	}
	if err := s.bus.Publish(ctx, RolesChanged{RoleIDs: []int64{role.ID}}); err != nil {
		return Role{}, err
	}
	return role, nil
}

// UpdateRole updates an existing role. The admin role is immutable.
func (s *Service) UpdateRole(ctx context.Context, req RoleUpdateRequest) (Role, error) {
	if err := s.validate.Struct(req); err != nil {
		return Role{}, err
	}
	if req.ID == s.adminRoleID || req.Code == AdminRoleCode {
		return Role{}, shared.ErrAdminImmutable
	}
	if err := s.ensureRoleCodeFree(ctx, req.Code, req.ID); err != nil {
		return Role{}, err
	}
	existing, err := s.store.GetRole(ctx, req.ID)
	if err != nil {
		return Role{}, err
	}
	if existing.Code == AdminRoleCode {
		return Role{}, shared.ErrAdminImmutable
	}

	existing.Code = req.Code
	existing.Name = req.Name
	role, err := s.store.UpdateRole(ctx, existing)
	if err != nil {
		return Role{}, err
	}
	if err := s.bus.Publish(ctx, RolesChanged{RoleIDs: []int64{role.ID}}); err != nil {
		return Role{}, err
	}
	return role, nil
}

// DeleteRoles removes roles along with their user and permission links.
// The admin role cannot be deleted.
func (s *Service) DeleteRoles(ctx context.Context, ids []int64) error {
	ids = compactIDs(ids)
	if len(ids) == 0 {
		return nil
	}
	for _, id := range ids {
		if id == s.adminRoleID {
			return shared.ErrAdminImmutable
		}
	}

	// Capture affected users before the links disappear so the event can
	// name them for invalidation.
	links, err := s.store.ListUserRolesByRoleIDs(ctx, ids)
	if err != nil {
		return err
	}
	userIDs := make([]int64, 0, len(links))
	for _, l := range links {
		userIDs = append(userIDs, l.UserID)
	}

	if err := s.store.DeleteRoles(ctx, ids); err != nil {
		return err
	}
	return s.bus.Publish(ctx, RolesChanged{RoleIDs: ids, UserIDs: userIDs})
}

// BindRoleUsers replaces the full user membership of a role.
func (s *Service) BindRoleUsers(ctx context.Context, roleID int64, userIDs []int64) error {
	if roleID <= 0 {
		return fmt.Errorf("rbac: bind role users: %w", shared.ErrInvalidID)
	}
	userIDs = compactIDs(userIDs)
	if len(userIDs) == 0 {
		return fmt.Errorf("rbac: bind role users: %w", shared.ErrInvalidID)
	}
	if _, err := s.store.GetRole(ctx, roleID); err != nil {
		return err
	}

	// Users losing membership need invalidation too; capture them before
	// the replace.
	previous, err := s.store.ListUserRolesByRoleIDs(ctx, []int64{roleID})
	if err != nil {
		return err
	}
	affected := append([]int64(nil), userIDs...)
	for _, l := range previous {
		affected = append(affected, l.UserID)
	}

	if err := s.store.ReplaceRoleUsers(ctx, roleID, userIDs); err != nil {
		return err
	}
	return s.bus.Publish(ctx, RolesChanged{RoleIDs: []int64{roleID}, UserIDs: affected})
}

// BindRolePermissions replaces the full permission set of a role. Every
// permission must exist before binding.
func (s *Service) BindRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) error {
	if roleID <= 0 {
		return fmt.Errorf("rbac: bind role permissions: %w", shared.ErrInvalidID)
	}
	permissionIDs = compactIDs(permissionIDs)
	if len(permissionIDs) == 0 {
		return fmt.Errorf("rbac: bind role permissions: %w", shared.ErrInvalidID)
	}
	if _, err := s.store.GetRole(ctx, roleID); err != nil {
		return err
	}
	existing, err := s.store.ListPermissionsByIDs(ctx, permissionIDs)
	if err != nil {
		return err
	}
	if len(existing) != len(permissionIDs) {
		return fmt.Errorf("rbac: bind role permissions: %w", shared.ErrNotFound)
	}

	if err := s.store.ReplaceRolePermissions(ctx, roleID, permissionIDs); err != nil {
		return err
	}
	return s.bus.Publish(ctx, PermissionsChanged{PermissionIDs: permissionIDs})
}

// CreatePermission inserts a new permission.
func (s *Service) CreatePermission(ctx context.Context, req PermissionCreateRequest) (Permission, error) {
	if err := s.validate.Struct(req); err != nil {
		return Permission{}, err
	}

	perm, err := s.store.CreatePermission(ctx, Permission{
		ParentID:  req.ParentID,
		Type:      req.Type,
		Code:      req.Code,
		Name:      req.Name,
		SortOrder: req.SortOrder,
	})
	if err != nil {
		return Permission{}, err
	}
	if err := s.bus.Publish(ctx, PermissionsChanged{PermissionIDs: []int64{perm.ID}}); err != nil {
		return Permission{}, err
	}
	return perm, nil
}

// UpdatePermission updates an existing permission.
func (s *Service) UpdatePermission(ctx context.Context, req PermissionUpdateRequest) (Permission, error) {
	if err := s.validate.Struct(req); err != nil {
		return Permission{}, err
	}
	if _, err := s.store.GetPermission(ctx, req.ID); err != nil {
		return Permission{}, err
	}

	perm, err := s.store.UpdatePermission(ctx, Permission{
		ID:        req.ID,
		ParentID:  req.ParentID,
		Type:      req.Type,
		Code:      req.Code,
		Name:      req.Name,
		SortOrder: req.SortOrder,
	})
	if err != nil {
		return Permission{}, err
	}
	if err := s.bus.Publish(ctx, PermissionsChanged{PermissionIDs: []int64{perm.ID}}); err != nil {
		return Permission{}, err
	}
	return perm, nil
}

// DeletePermissions removes permissions and their bindings. Bound roles
// and holding users are captured before the link rows disappear so the
// event can name them for invalidation.
func (s *Service) DeletePermissions(ctx context.Context, ids []int64) error {
	ids = compactIDs(ids)
	if len(ids) == 0 {
		return nil
	}

	roleLinks, err := s.store.ListRolePermissionsByPermissionIDs(ctx, ids)
	if err != nil {
		return err
	}
	roleIDs := make([]int64, 0, len(roleLinks))
	for _, l := range roleLinks {
		roleIDs = append(roleIDs, l.RoleID)
	}

	directLinks, err := s.store.ListUserPermissionsByPermissionIDs(ctx, ids)
	if err != nil {
		return err
	}
	userIDs := make([]int64, 0, len(directLinks))
	for _, l := range directLinks {
		userIDs = append(userIDs, l.UserID)
	}
	deptUsers, err := s.departmentHolderUsers(ctx, ids)
	if err != nil {
		return err
	}
	userIDs = append(userIDs, deptUsers...)

	if err := s.store.DeletePermissions(ctx, ids); err != nil {
		return err
	}
	return s.bus.Publish(ctx, PermissionsChanged{PermissionIDs: ids, RoleIDs: roleIDs, UserIDs: userIDs})
}

// departmentHolderUsers returns the users holding any of the permissions
// through a department binding. A permission bound to a department reaches
// the members of that department and of every department above it, so the
// walk follows parent links upward before collecting members.
func (s *Service) departmentHolderUsers(ctx context.Context, permissionIDs []int64) ([]int64, error) {
	deptLinks, err := s.store.ListDepartmentPermissionsByPermissionIDs(ctx, permissionIDs)
	if err != nil {
		return nil, err
	}
	if len(deptLinks) == 0 {
		return nil, nil
	}

	departments, err := s.store.ListDepartments(ctx)
	if err != nil {
		return nil, err
	}
	parents := make(map[int64]int64, len(departments))
	for _, d := range departments {
		parents[d.ID] = d.ParentID
	}

	chain := make(map[int64]struct{})
	for _, l := range deptLinks {
		id := l.DepartmentID
		for id != RootParentID {
			if _, seen := chain[id]; seen {
				break
			}
			chain[id] = struct{}{}
			id = parents[id]
		}
	}

	members, err := s.store.ListUserDepartmentsByDepartmentIDs(ctx, idSlice(chain))
	if err != nil {
		return nil, err
	}
	userIDs := make([]int64, 0, len(members))
	for _, m := range members {
		userIDs = append(userIDs, m.UserID)
	}
	return userIDs, nil
}

// ListRoles returns every role.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	return s.store.ListRoles(ctx)
}

// ListPermissions returns every permission.
func (s *Service) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.store.ListPermissions(ctx)
}

func (s *Service) ensureRoleCodeFree(ctx context.Context, code string, selfID int64) error {
	existing, err := s.store.GetRoleByCode(ctx, code)
	if errors.Is(err, shared.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if existing.ID != selfID {
		return fmt.Errorf("rbac: role code %q: %w", code, shared.ErrCodeTaken)
	}
	return nil
}
