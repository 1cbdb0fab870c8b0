package rbac

import "fmt"

// RootParentID is the sentinel parent id marking a tree root.
const RootParentID int64 = 0

// CycleError reports a parent-pointer cycle discovered while building a
// forest. The id names the first node revisited on its own parent chain.
type CycleError struct {
	ID int64
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("rbac: node %d is part of a parent cycle", e.ID)
}

// buildForest assembles a forest from a flat, parent-referencing node list.
//
// The cycle check runs over the entire node set before any linking: for each
// node the parent chain is walked with a per-walk visited set, stopping at a
// root or an unknown parent. A revisited id aborts the whole build with a
// CycleError; no partial forest is returned.
//
// During assembly a node whose parent id resolves to no known node is
// dropped from the output. Children keep the input order of the slice.
func buildForest[T any](nodes []T, id func(T) int64, parentID func(T) int64, attach func(parent, child T)) ([]T, error) {
	index := make(map[int64]T, len(nodes))
	for _, n := range nodes {
		index[id(n)] = n
	}

	for _, n := range nodes {
		path := make(map[int64]struct{})
		current := id(n)
		for {
			node, known := index[current]
			if !known {
				break
			}
			if _, seen := path[current]; seen {
				return nil, &CycleError{ID: current}
			}
			path[current] = struct{}{}
			if parentID(node) == RootParentID {
				break
			}
			current = parentID(node)
		}
	}

	var roots []T
	for _, n := range nodes {
		if parentID(n) == RootParentID {
			roots = append(roots, n)
			continue
		}
		parent, ok := index[parentID(n)]
		if !ok {
			// Dangling parent reference: the node is silently dropped.
			continue
		}
		attach(parent, n)
	}
	return roots, nil
}

// BuildPermissionForest converts flat permission rows into a forest. The
// input order determines sibling order; callers sort by SortOrder first.
func BuildPermissionForest(perms []Permission) ([]*PermissionNode, error) {
	nodes := make([]*PermissionNode, 0, len(perms))
	for _, p := range perms {
		nodes = append(nodes, &PermissionNode{Permission: p, Children: []*PermissionNode{}})
	}
	return buildForest(nodes,
		func(n *PermissionNode) int64 { return n.ID },
		func(n *PermissionNode) int64 { return n.ParentID },
		func(parent, child *PermissionNode) { parent.Children = append(parent.Children, child) },
	)
}

// BuildDepartmentForest converts flat department rows into a forest.
func BuildDepartmentForest(depts []Department) ([]*DepartmentNode, error) {
	nodes := make([]*DepartmentNode, 0, len(depts))
	for _, d := range depts {
		nodes = append(nodes, &DepartmentNode{Department: d, Children: []*DepartmentNode{}})
	}
	return buildForest(nodes,
		func(n *DepartmentNode) int64 { return n.ID },
		func(n *DepartmentNode) int64 { return n.ParentID },
		func(parent, child *DepartmentNode) { parent.Children = append(parent.Children, child) },
	)
}
