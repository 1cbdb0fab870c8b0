package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrInvalidID indicates a missing or non-positive entity id.
	ErrInvalidID = errors.New("id must be a positive integer")
	// ErrCodeTaken indicates a role or permission code collision.
	ErrCodeTaken = errors.New("code already in use")
	// ErrAdminImmutable indicates an attempt to modify or delete the admin role.
	ErrAdminImmutable = errors.New("admin role cannot be modified or deleted")
)
