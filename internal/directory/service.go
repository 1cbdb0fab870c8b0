package directory

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"

	"github.com/authgrid/authgrid/internal/platform/events"
	"github.com/authgrid/authgrid/internal/rbac"
	"github.com/authgrid/authgrid/internal/shared"
)

// Store is the persistence surface the service needs.
type Store interface {
	ListDepartments(ctx context.Context) ([]rbac.Department, error)
	GetDepartment(ctx context.Context, id int64) (rbac.Department, error)
	CreateDepartment(ctx context.Context, dept rbac.Department) (rbac.Department, error)
	UpdateDepartment(ctx context.Context, dept rbac.Department) (rbac.Department, error)
	DeleteDepartments(ctx context.Context, ids []int64) error
	ReplaceUserDepartments(ctx context.Context, userID int64, departmentIDs []int64) error
	ReplaceDepartmentPermissions(ctx context.Context, departmentID int64, permissionIDs []int64) error
	ListUserDepartmentsByDepartmentIDs(ctx context.Context, departmentIDs []int64) ([]rbac.UserDepartment, error)
}

// DepartmentCreateRequest carries a new department.
type DepartmentCreateRequest struct {
	ParentID int64  `json:"parentId" validate:"gte=0"`
	Name     string `json:"name" validate:"required,max=128"`
}

// DepartmentUpdateRequest carries a department update.
type DepartmentUpdateRequest struct {
	ID       int64  `json:"id" validate:"required,gt=0"`
	ParentID int64  `json:"parentId" validate:"gte=0"`
	Name     string `json:"name" validate:"required,max=128"`
}

// Service performs the administrative mutations on departments. Every
// successful mutation publishes an invalidation event on the bus; because
// the bus is synchronous, a failing listener fails the mutation.
type Service struct {
	store    Store
	bus      *events.Bus
	validate *validator.Validate
	logger   *slog.Logger
}

// NewService constructs a Service.
func NewService(store Store, bus *events.Bus, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    store,
		bus:      bus,
		validate: validator.New(),
		logger:   logger,
	}
}

// List returns all departments as a flat slice.
func (s *Service) List(ctx context.Context) ([]rbac.Department, error) {
	return s.store.ListDepartments(ctx)
}

// Create inserts a new department under the given parent.
func (s *Service) Create(ctx context.Context, req DepartmentCreateRequest) (rbac.Department, error) {
	if err := s.validate.Struct(req); err != nil {
		return rbac.Department{}, err
	}
	if err := s.ensureParentExists(ctx, req.ParentID, 0); err != nil {
		return rbac.Department{}, err
	}

	dept, err := s.store.CreateDepartment(ctx, rbac.Department{ParentID: req.ParentID, Name: req.Name})
	if err != nil {
		return rbac.Department{}, err
	}
	if err := s.bus.Publish(ctx, rbac.DepartmentsChanged{}); err != nil {
		return rbac.Department{}, err
	}
	return dept, nil
}

// Update renames a department or moves it under a new parent.
func (s *Service) Update(ctx context.Context, req DepartmentUpdateRequest) (rbac.Department, error) {
	if err := s.validate.Struct(req); err != nil {
		return rbac.Department{}, err
	}
	if err := s.ensureParentExists(ctx, req.ParentID, req.ID); err != nil {
		return rbac.Department{}, err
	}
	existing, err := s.store.GetDepartment(ctx, req.ID)
	if err != nil {
		return rbac.Department{}, err
	}

	existing.ParentID = req.ParentID
	existing.Name = req.Name
	dept, err := s.store.UpdateDepartment(ctx, existing)
	if err != nil {
		return rbac.Department{}, err
	}
	if err := s.bus.Publish(ctx, rbac.DepartmentsChanged{}); err != nil {
		return rbac.Department{}, err
	}
	return dept, nil
}

// Delete removes departments and their links.
func (s *Service) Delete(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	// Users bound to the deleted departments lose inherited permissions,
	// so their caches are named in the event before the rows disappear.
	links, err := s.store.ListUserDepartmentsByDepartmentIDs(ctx, ids)
	if err != nil {
		return err
	}
	userIDs := make([]int64, 0, len(links))
	for _, l := range links {
		userIDs = append(userIDs, l.UserID)
	}

	if err := s.store.DeleteDepartments(ctx, ids); err != nil {
		return err
	}
	return s.bus.Publish(ctx, rbac.DepartmentsChanged{UserIDs: userIDs})
}

// BindUserDepartments replaces the department membership of a user.
func (s *Service) BindUserDepartments(ctx context.Context, userID int64, departmentIDs []int64) error {
	if userID <= 0 {
		return fmt.Errorf("directory: user %d: %w", userID, shared.ErrInvalidID)
	}
	if err := s.store.ReplaceUserDepartments(ctx, userID, departmentIDs); err != nil {
		return err
	}
	return s.bus.Publish(ctx, rbac.DepartmentsChanged{UserIDs: []int64{userID}})
}

// BindDepartmentPermissions replaces the permission set of a department.
// Users inherit downward through the hierarchy, so the members of the
// department and of every ancestor are named in the invalidation event.
func (s *Service) BindDepartmentPermissions(ctx context.Context, departmentID int64, permissionIDs []int64) error {
	if _, err := s.store.GetDepartment(ctx, departmentID); err != nil {
		return err
	}
	if err := s.store.ReplaceDepartmentPermissions(ctx, departmentID, permissionIDs); err != nil {
		return err
	}
	userIDs, err := s.usersOfAncestorChain(ctx, departmentID)
	if err != nil {
		return err
	}
	return s.bus.Publish(ctx, rbac.DepartmentsChanged{UserIDs: userIDs})
}

// usersOfAncestorChain returns the users bound to the department or to any
// of its ancestors up to the root.
func (s *Service) usersOfAncestorChain(ctx context.Context, departmentID int64) ([]int64, error) {
	depts, err := s.store.ListDepartments(ctx)
	if err != nil {
		return nil, err
	}
	parents := make(map[int64]int64, len(depts))
	for _, d := range depts {
		parents[d.ID] = d.ParentID
	}

	chain := make([]int64, 0, 4)
	seen := make(map[int64]struct{})
	for id := departmentID; id != rbac.RootParentID; {
		if _, dup := seen[id]; dup {
			break
		}
		seen[id] = struct{}{}
		chain = append(chain, id)
		parent, ok := parents[id]
		if !ok {
			break
		}
		id = parent
	}

	links, err := s.store.ListUserDepartmentsByDepartmentIDs(ctx, chain)
	if err != nil {
		return nil, err
	}
	userIDs := make([]int64, 0, len(links))
	for _, l := range links {
		userIDs = append(userIDs, l.UserID)
	}
	return userIDs, nil
}

func (s *Service) ensureParentExists(ctx context.Context, parentID, selfID int64) error {
	if parentID == rbac.RootParentID {
		return nil
	}
	if parentID == selfID {
		return fmt.Errorf("directory: department %d cannot be its own parent: %w", selfID, shared.ErrInvalidID)
	}
	_, err := s.store.GetDepartment(ctx, parentID)
	return err
}
