package rbac

import (
	"context"
	"fmt"
)

// ============================================================================
// HIERARCHY RESOLUTION
// ============================================================================

// DefaultMaxDepth bounds parent-chain walks as a defense against malformed
// data that slips past write-time validation.
const DefaultMaxDepth = 32

// HierarchyResolver walks role and resource parent chains iteratively,
// failing fast on a revisited node instead of looping. It performs pure reads;
// the verdict cache memoizes what it computes.
type HierarchyResolver struct {
	roles     RoleStore
	resources ResourceStore
	maxDepth  int
}

func NewHierarchyResolver(roles RoleStore, resources ResourceStore, maxDepth int) *HierarchyResolver {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &HierarchyResolver{roles: roles, resources: resources, maxDepth: maxDepth}
}

// RoleChain returns the role and its ancestors, child first. The role must
// exist and belong to orgID.
func (h *HierarchyResolver) RoleChain(ctx context.Context, roleID, orgID string) ([]*Role, error) {
	chain := make([]*Role, 0, 4)
	visited := make(map[string]bool)
	id := roleID
	for depth := 0; id != ""; depth++ {
		if visited[id] || depth >= h.maxDepth {
			return nil, &CyclicHierarchyError{Kind: "role", StartID: roleID, NodeID: id, Depth: depth}
		}
		visited[id] = true
		role, err := h.roles.GetRole(ctx, id)
		if err != nil {
			if id == roleID {
				return nil, fmt.Errorf("%w: %s", ErrRoleNotFound, id)
			}
			// dangling parent reference: stop at the last resolvable ancestor
			return chain, nil
		}
		if role.OrgID != orgID {
			if id == roleID {
				return nil, fmt.Errorf("%w: %s", ErrRoleNotFound, id)
			}
			// a parent outside the organization is never traversed
			return chain, nil
		}
		chain = append(chain, role)
		id = role.ParentID
	}
	return chain, nil
}

// EffectiveGrants returns the role's effective permission set: the union of
// its own grants and those of every ancestor, deduplicated by grant target.
// Presence is boolean, so a grant repeated at several levels collapses
// without any precedence rule.
func (h *HierarchyResolver) EffectiveGrants(ctx context.Context, roleID, orgID string) (map[GrantKey]*RolePermission, error) {
	chain, err := h.RoleChain(ctx, roleID, orgID)
	if err != nil {
		return nil, err
	}
	grants := make(map[GrantKey]*RolePermission)
	for _, role := range chain {
		rows, err := h.roles.ListGrants(ctx, role.ID)
		if err != nil {
			return nil, fmt.Errorf("list grants for role %s: %w", role.ID, err)
		}
		for _, rp := range rows {
			key := rp.GrantKey()
			if _, ok := grants[key]; !ok {
				grants[key] = rp
			}
		}
	}
	return grants, nil
}

// ResourceChain returns the resource and its ancestors, child first, with the
// same cycle and depth protection as RoleChain. Ancestors outside orgID are
// not traversed.
func (h *HierarchyResolver) ResourceChain(ctx context.Context, resourceID, orgID string) ([]*Resource, error) {
	chain := make([]*Resource, 0, 4)
	visited := make(map[string]bool)
	id := resourceID
	for depth := 0; id != ""; depth++ {
		if visited[id] || depth >= h.maxDepth {
			return nil, &CyclicHierarchyError{Kind: "resource", StartID: resourceID, NodeID: id, Depth: depth}
		}
		visited[id] = true
		res, err := h.resources.GetResource(ctx, id)
		if err != nil {
			if id == resourceID {
				return nil, fmt.Errorf("%w: %s", ErrResourceNotFound, id)
			}
			return chain, nil
		}
		if res.OrgID != orgID {
			if id == resourceID {
				return nil, fmt.Errorf("%w: %s", ErrResourceNotFound, id)
			}
			return chain, nil
		}
		chain = append(chain, res)
		id = res.ParentID
	}
	return chain, nil
}
