package rbac_test

import (
	"context"
	"errors"
	"testing"

	"github.com/oarkflow/rbac"
	"github.com/oarkflow/rbac/stores"
)

func TestRoleChainWalksToRoot(t *testing.T) {
	ctx := context.Background()
	rs := stores.NewMemoryRoleStore()
	_ = rs.CreateRole(ctx, &rbac.Role{ID: "viewer", OrgID: "org1", Name: "Viewer"})
	_ = rs.CreateRole(ctx, &rbac.Role{ID: "editor", OrgID: "org1", Name: "Editor", ParentID: "viewer"})
	_ = rs.CreateRole(ctx, &rbac.Role{ID: "admin", OrgID: "org1", Name: "Admin", ParentID: "editor"})

	r := rbac.NewHierarchyResolver(rs, stores.NewMemoryResourceStore(), rbac.DefaultMaxDepth)
	chain, err := r.RoleChain(ctx, "admin", "org1")
	if err != nil {
		t.Fatalf("role chain: %v", err)
	}
	if len(chain) != 3 {
		t.Fatalf("expected 3 roles in chain, got %d", len(chain))
	}
	if chain[0].ID != "admin" || chain[1].ID != "editor" || chain[2].ID != "viewer" {
		t.Fatalf("unexpected chain order: %s %s %s", chain[0].ID, chain[1].ID, chain[2].ID)
	}
}

func TestRoleChainDetectsCycle(t *testing.T) {
	ctx := context.Background()
	rs := stores.NewMemoryRoleStore()
	// write the cycle directly at the store layer, engine validation would
	// reject it
	_ = rs.CreateRole(ctx, &rbac.Role{ID: "a", OrgID: "org1", ParentID: "b"})
	_ = rs.CreateRole(ctx, &rbac.Role{ID: "b", OrgID: "org1", ParentID: "a"})

	r := rbac.NewHierarchyResolver(rs, stores.NewMemoryResourceStore(), rbac.DefaultMaxDepth)
	_, err := r.RoleChain(ctx, "a", "org1")
	if !rbac.IsCyclicHierarchy(err) {
		t.Fatalf("expected cyclic hierarchy error, got %v", err)
	}
}

func TestRoleChainDepthBound(t *testing.T) {
	ctx := context.Background()
	rs := stores.NewMemoryRoleStore()
	_ = rs.CreateRole(ctx, &rbac.Role{ID: "r0", OrgID: "org1"})
	_ = rs.CreateRole(ctx, &rbac.Role{ID: "r1", OrgID: "org1", ParentID: "r0"})
	_ = rs.CreateRole(ctx, &rbac.Role{ID: "r2", OrgID: "org1", ParentID: "r1"})
	_ = rs.CreateRole(ctx, &rbac.Role{ID: "r3", OrgID: "org1", ParentID: "r2"})

	r := rbac.NewHierarchyResolver(rs, stores.NewMemoryResourceStore(), 2)
	if _, err := r.RoleChain(ctx, "r3", "org1"); !rbac.IsCyclicHierarchy(err) {
		t.Fatalf("expected depth bound to trip, got %v", err)
	}
}

func TestRoleChainMissingRole(t *testing.T) {
	r := rbac.NewHierarchyResolver(stores.NewMemoryRoleStore(), stores.NewMemoryResourceStore(), rbac.DefaultMaxDepth)
	_, err := r.RoleChain(context.Background(), "nope", "org1")
	if !errors.Is(err, rbac.ErrRoleNotFound) {
		t.Fatalf("expected ErrRoleNotFound, got %v", err)
	}
}

func TestRoleChainStopsAtDanglingOrForeignParent(t *testing.T) {
	ctx := context.Background()
	rs := stores.NewMemoryRoleStore()
	_ = rs.CreateRole(ctx, &rbac.Role{ID: "orphan", OrgID: "org1", ParentID: "gone"})
	_ = rs.CreateRole(ctx, &rbac.Role{ID: "foreign-parent", OrgID: "org2"})
	_ = rs.CreateRole(ctx, &rbac.Role{ID: "crosser", OrgID: "org1", ParentID: "foreign-parent"})

	r := rbac.NewHierarchyResolver(rs, stores.NewMemoryResourceStore(), rbac.DefaultMaxDepth)

	chain, err := r.RoleChain(ctx, "orphan", "org1")
	if err != nil || len(chain) != 1 {
		t.Fatalf("dangling parent should end the chain: chain=%d err=%v", len(chain), err)
	}
	chain, err = r.RoleChain(ctx, "crosser", "org1")
	if err != nil || len(chain) != 1 {
		t.Fatalf("foreign parent should end the chain: chain=%d err=%v", len(chain), err)
	}
}

func TestEffectiveGrantsUnionOverChain(t *testing.T) {
	ctx := context.Background()
	rs := stores.NewMemoryRoleStore()
	_ = rs.CreateRole(ctx, &rbac.Role{ID: "viewer", OrgID: "org1"})
	_ = rs.CreateRole(ctx, &rbac.Role{ID: "editor", OrgID: "org1", ParentID: "viewer"})
	_ = rs.CreateGrant(ctx, &rbac.RolePermission{ID: "g1", OrgID: "org1", RoleID: "viewer", PermissionID: "p-view"})
	_ = rs.CreateGrant(ctx, &rbac.RolePermission{ID: "g2", OrgID: "org1", RoleID: "editor", PermissionID: "p-edit"})

	r := rbac.NewHierarchyResolver(rs, stores.NewMemoryResourceStore(), rbac.DefaultMaxDepth)
	grants, err := r.EffectiveGrants(ctx, "editor", "org1")
	if err != nil {
		t.Fatalf("effective grants: %v", err)
	}
	if len(grants) != 2 {
		t.Fatalf("expected 2 effective grants, got %d", len(grants))
	}

	grants, err = r.EffectiveGrants(ctx, "viewer", "org1")
	if err != nil {
		t.Fatalf("effective grants: %v", err)
	}
	if len(grants) != 1 {
		t.Fatalf("inheritance is upward only, viewer should have 1 grant, got %d", len(grants))
	}
}

func TestResourceChainDetectsCycle(t *testing.T) {
	ctx := context.Background()
	res := stores.NewMemoryResourceStore()
	_ = res.CreateResource(ctx, &rbac.Resource{ID: "a", OrgID: "org1", ParentID: "b", IsActive: true})
	_ = res.CreateResource(ctx, &rbac.Resource{ID: "b", OrgID: "org1", ParentID: "a", IsActive: true})

	r := rbac.NewHierarchyResolver(stores.NewMemoryRoleStore(), res, rbac.DefaultMaxDepth)
	if _, err := r.ResourceChain(ctx, "a", "org1"); !rbac.IsCyclicHierarchy(err) {
		t.Fatalf("expected cyclic hierarchy error, got %v", err)
	}
}
