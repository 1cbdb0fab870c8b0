package rbac

import (
	"strconv"
	"strings"
)

// Cache key families. Per-role and per-user keys carry the entity id as the
// final segment; the two tree keys are global.
const (
	keyPrefix = "authgrid:rbac"

	permissionTreeKey = keyPrefix + ":permission-tree"
	departmentTreeKey = keyPrefix + ":department-tree"
)

func rolePermissionsKey(roleID int64) string {
	return buildKey("role-permissions", strconv.FormatInt(roleID, 10))
}

func userRolesKey(userID int64) string {
	return buildKey("user-roles", strconv.FormatInt(userID, 10))
}

func userPermissionCodesKey(userID int64) string {
	return buildKey("user-permission-codes", strconv.FormatInt(userID, 10))
}

func buildKey(parts ...string) string {
	return keyPrefix + ":" + strings.Join(parts, ":")
}
