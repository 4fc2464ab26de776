package rbac_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/oarkflow/rbac"
	"github.com/oarkflow/rbac/stores"
)

// wednesday inside business hours, UTC
var midweek = time.Date(2026, 1, 7, 10, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T, opts ...rbac.EngineOption) (*rbac.Engine, rbac.Stores) {
	t.Helper()
	st := stores.NewMemoryStores()
	eng, err := rbac.NewEngine(st, opts...)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	t.Cleanup(eng.Close)
	return eng, st
}

// seedOrg builds the standard fixture: org1 with viewer -> editor hierarchy,
// view_document granted to viewer and edit_document to editor.
func seedOrg(t *testing.T, eng *rbac.Engine) {
	t.Helper()
	ctx := context.Background()
	if err := eng.CreateOrganization(ctx, &rbac.Organization{ID: "org1", Name: "Acme"}); err != nil {
		t.Fatalf("create org: %v", err)
	}
	if err := eng.CreateRole(ctx, &rbac.Role{ID: "viewer", OrgID: "org1", Name: "Viewer"}); err != nil {
		t.Fatalf("create viewer: %v", err)
	}
	if err := eng.CreateRole(ctx, &rbac.Role{ID: "editor", OrgID: "org1", Name: "Editor", ParentID: "viewer"}); err != nil {
		t.Fatalf("create editor: %v", err)
	}
	if err := eng.CreatePermission(ctx, &rbac.Permission{ID: "p-view", OrgID: "org1", Code: "view_document"}); err != nil {
		t.Fatalf("create permission: %v", err)
	}
	if err := eng.CreatePermission(ctx, &rbac.Permission{ID: "p-edit", OrgID: "org1", Code: "edit_document"}); err != nil {
		t.Fatalf("create permission: %v", err)
	}
	if err := eng.AttachPermission(ctx, &rbac.RolePermission{OrgID: "org1", RoleID: "viewer", PermissionID: "p-view"}); err != nil {
		t.Fatalf("attach view: %v", err)
	}
	if err := eng.AttachPermission(ctx, &rbac.RolePermission{OrgID: "org1", RoleID: "editor", PermissionID: "p-edit"}); err != nil {
		t.Fatalf("attach edit: %v", err)
	}
}

func decide(t *testing.T, eng *rbac.Engine, actor, org, code, resource string, now time.Time) *rbac.Verdict {
	t.Helper()
	v, err := eng.Decide(context.Background(), actor, org, rbac.PermissionCheck(code), resource, now)
	if err != nil {
		t.Fatalf("decide %s/%s: %v", actor, code, err)
	}
	return v
}

func TestRoleGrantAllowsPermission(t *testing.T) {
	eng, _ := newTestEngine(t)
	seedOrg(t, eng)
	ctx := context.Background()

	if _, err := eng.GrantRole(ctx, &rbac.UserRole{OrgID: "org1", UserID: "alice", RoleID: "viewer"}); err != nil {
		t.Fatalf("grant role: %v", err)
	}

	v := decide(t, eng, "alice", "org1", "view_document", "", midweek)
	if !v.Allowed {
		t.Fatalf("expected allow, got deny (%s)", v.Reason)
	}
	if v.MatchedRole != "viewer" {
		t.Fatalf("expected matched role viewer, got %s", v.MatchedRole)
	}

	v = decide(t, eng, "alice", "org1", "edit_document", "", midweek)
	if v.Allowed || v.Reason != rbac.ReasonNoRole {
		t.Fatalf("viewer must not edit: allowed=%v reason=%s", v.Allowed, v.Reason)
	}
}

func TestEditorInheritsViewerGrants(t *testing.T) {
	eng, _ := newTestEngine(t)
	seedOrg(t, eng)
	ctx := context.Background()
	_, _ = eng.GrantRole(ctx, &rbac.UserRole{OrgID: "org1", UserID: "bob", RoleID: "editor"})

	// edit directly, view through the parent chain
	if v := decide(t, eng, "bob", "org1", "edit_document", "", midweek); !v.Allowed {
		t.Fatalf("editor should edit, got %s", v.Reason)
	}
	if v := decide(t, eng, "bob", "org1", "view_document", "", midweek); !v.Allowed {
		t.Fatalf("editor should inherit view, got %s", v.Reason)
	}
}

func TestUnknownPermissionDenies(t *testing.T) {
	eng, _ := newTestEngine(t)
	seedOrg(t, eng)
	_, _ = eng.GrantRole(context.Background(), &rbac.UserRole{OrgID: "org1", UserID: "alice", RoleID: "viewer"})

	v := decide(t, eng, "alice", "org1", "launch_rockets", "", midweek)
	if v.Allowed || v.Reason != rbac.ReasonNoRole {
		t.Fatalf("unknown permission must deny with no_role, got allowed=%v reason=%s", v.Allowed, v.Reason)
	}
}

func TestCrossOrganizationActorDenied(t *testing.T) {
	eng, _ := newTestEngine(t)
	seedOrg(t, eng)
	ctx := context.Background()
	_ = eng.CreateOrganization(ctx, &rbac.Organization{ID: "org2", Name: "Globex"})
	_, _ = eng.GrantRole(ctx, &rbac.UserRole{OrgID: "org1", UserID: "alice", RoleID: "viewer"})

	v := decide(t, eng, "alice", "org2", "view_document", "", midweek)
	if v.Allowed || v.Reason != rbac.ReasonNotMember {
		t.Fatalf("membership must not cross organizations: allowed=%v reason=%s", v.Allowed, v.Reason)
	}
}

func TestSuspendedOrganizationDenies(t *testing.T) {
	eng, _ := newTestEngine(t)
	seedOrg(t, eng)
	ctx := context.Background()
	_, _ = eng.GrantRole(ctx, &rbac.UserRole{OrgID: "org1", UserID: "alice", RoleID: "viewer"})

	if v := decide(t, eng, "alice", "org1", "view_document", "", midweek); !v.Allowed {
		t.Fatalf("precondition: %s", v.Reason)
	}
	if err := eng.SuspendOrganization(ctx, "org1"); err != nil {
		t.Fatalf("suspend: %v", err)
	}
	if v := decide(t, eng, "alice", "org1", "view_document", "", midweek); v.Allowed {
		t.Fatalf("suspended organization must deny")
	}
}

func TestRevocationVisibleBeforeWriteReturns(t *testing.T) {
	eng, _ := newTestEngine(t)
	seedOrg(t, eng)
	ctx := context.Background()
	ur, err := eng.GrantRole(ctx, &rbac.UserRole{OrgID: "org1", UserID: "alice", RoleID: "viewer"})
	if err != nil {
		t.Fatalf("grant role: %v", err)
	}

	// warm the cache, then revoke and re-ask at the exact same instant so the
	// time bucket cannot be what invalidates
	if v := decide(t, eng, "alice", "org1", "view_document", "", midweek); !v.Allowed {
		t.Fatalf("precondition: %s", v.Reason)
	}
	if err := eng.RevokeRole(ctx, ur.ID); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	v, err := eng.Decide(ctx, "alice", "org1", rbac.PermissionCheck("view_document"), "", midweek)
	if err != nil {
		t.Fatalf("decide after revoke: %v", err)
	}
	if v.Allowed {
		t.Fatalf("stale allow after revocation")
	}
}

type countingUserRoleStore struct {
	rbac.UserRoleStore
	activeCalls atomic.Int64
}

func (c *countingUserRoleStore) ListActiveForUser(ctx context.Context, userID, orgID string) ([]*rbac.UserRole, error) {
	c.activeCalls.Add(1)
	return c.UserRoleStore.ListActiveForUser(ctx, userID, orgID)
}

func TestRepeatDecisionServedFromCache(t *testing.T) {
	st := stores.NewMemoryStores()
	counter := &countingUserRoleStore{UserRoleStore: st.UserRoles}
	st.UserRoles = counter
	eng, err := rbac.NewEngine(st)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	t.Cleanup(eng.Close)
	seedOrg(t, eng)
	ctx := context.Background()
	_, _ = eng.GrantRole(ctx, &rbac.UserRole{OrgID: "org1", UserID: "alice", RoleID: "viewer"})

	first := decide(t, eng, "alice", "org1", "view_document", "", midweek)
	after := counter.activeCalls.Load()
	second := decide(t, eng, "alice", "org1", "view_document", "", midweek)
	if counter.activeCalls.Load() != after {
		t.Fatalf("second identical decision should not re-read assignments")
	}
	if first.Allowed != second.Allowed || first.Reason != second.Reason {
		t.Fatalf("identical inputs must yield identical verdicts")
	}
}

func TestExpiredAssignmentDenies(t *testing.T) {
	eng, _ := newTestEngine(t)
	seedOrg(t, eng)
	ctx := context.Background()
	past := midweek.Add(-time.Hour)
	_, _ = eng.GrantRole(ctx, &rbac.UserRole{OrgID: "org1", UserID: "alice", RoleID: "viewer", ExpiresAt: &past})

	v := decide(t, eng, "alice", "org1", "view_document", "", midweek)
	if v.Allowed || v.Reason != rbac.ReasonExpired {
		t.Fatalf("expired assignment: allowed=%v reason=%s", v.Allowed, v.Reason)
	}
}

func TestRegrantAfterExpiry(t *testing.T) {
	eng, st := newTestEngine(t)
	seedOrg(t, eng)
	ctx := context.Background()
	now := time.Now().UTC()
	past := now.Add(-time.Hour)
	old, _ := eng.GrantRole(ctx, &rbac.UserRole{OrgID: "org1", UserID: "alice", RoleID: "viewer", ExpiresAt: &past})

	v := decide(t, eng, "alice", "org1", "view_document", "", now)
	if v.Allowed || v.Reason != rbac.ReasonExpired {
		t.Fatalf("precondition: allowed=%v reason=%s", v.Allowed, v.Reason)
	}

	// the expired row must not block a fresh grant
	fresh, err := eng.GrantRole(ctx, &rbac.UserRole{OrgID: "org1", UserID: "alice", RoleID: "viewer"})
	if err != nil {
		t.Fatalf("re-grant: %v", err)
	}
	if fresh.ID == old.ID {
		t.Fatalf("re-grant returned the expired assignment instead of a new one")
	}
	if v := decide(t, eng, "alice", "org1", "view_document", "", now); !v.Allowed {
		t.Fatalf("fresh grant should allow: %s", v.Reason)
	}
	rows, _ := st.UserRoles.ListActiveForUser(ctx, "alice", "org1")
	if len(rows) != 1 || rows[0].ID != fresh.ID {
		t.Fatalf("expired row should be retired on re-grant, got %d active rows", len(rows))
	}
}

func TestSubSecondCacheBucket(t *testing.T) {
	eng, _ := newTestEngine(t, rbac.WithCacheBucket(500*time.Millisecond))
	seedOrg(t, eng)
	_, _ = eng.GrantRole(context.Background(), &rbac.UserRole{OrgID: "org1", UserID: "alice", RoleID: "viewer"})

	if v := decide(t, eng, "alice", "org1", "view_document", "", midweek); !v.Allowed {
		t.Fatalf("sub-second bucket: %s", v.Reason)
	}
	// repeat hits the cached verdict under the same fine-grained bucket
	if v := decide(t, eng, "alice", "org1", "view_document", "", midweek); !v.Allowed {
		t.Fatalf("repeat under sub-second bucket: %s", v.Reason)
	}
}

func TestWindowedAssignment(t *testing.T) {
	eng, _ := newTestEngine(t)
	seedOrg(t, eng)
	ctx := context.Background()
	_, _ = eng.GrantRole(ctx, &rbac.UserRole{
		OrgID: "org1", UserID: "alice", RoleID: "viewer",
		Window: rbac.BusinessHours("UTC", "09:00", "17:00"),
	})

	if v := decide(t, eng, "alice", "org1", "view_document", "", midweek); !v.Allowed {
		t.Fatalf("inside window: %s", v.Reason)
	}
	saturday := time.Date(2026, 1, 10, 10, 0, 0, 0, time.UTC)
	v := decide(t, eng, "alice", "org1", "view_document", "", saturday)
	if v.Allowed || v.Reason != rbac.ReasonOutsideWindow {
		t.Fatalf("outside window: allowed=%v reason=%s", v.Allowed, v.Reason)
	}
}

func TestExpiredOutranksOutsideWindow(t *testing.T) {
	eng, _ := newTestEngine(t)
	seedOrg(t, eng)
	ctx := context.Background()
	// two roles both grant view: one assignment expired, the other outside
	// its window
	_ = eng.CreateRole(ctx, &rbac.Role{ID: "auditor", OrgID: "org1", Name: "Auditor"})
	_ = eng.AttachPermission(ctx, &rbac.RolePermission{OrgID: "org1", RoleID: "auditor", PermissionID: "p-view"})
	past := midweek.Add(-time.Hour)
	_, _ = eng.GrantRole(ctx, &rbac.UserRole{OrgID: "org1", UserID: "alice", RoleID: "viewer", ExpiresAt: &past})
	_, _ = eng.GrantRole(ctx, &rbac.UserRole{
		OrgID: "org1", UserID: "alice", RoleID: "auditor",
		Window: rbac.BusinessHours("UTC", "09:00", "17:00"),
	})

	saturday := time.Date(2026, 1, 10, 10, 0, 0, 0, time.UTC)
	v := decide(t, eng, "alice", "org1", "view_document", "", saturday)
	if v.Allowed || v.Reason != rbac.ReasonExpired {
		t.Fatalf("expected expired to win: allowed=%v reason=%s", v.Allowed, v.Reason)
	}
}

func TestCyclicHierarchyFailsClosed(t *testing.T) {
	eng, st := newTestEngine(t)
	seedOrg(t, eng)
	ctx := context.Background()
	_, _ = eng.GrantRole(ctx, &rbac.UserRole{OrgID: "org1", UserID: "alice", RoleID: "viewer"})

	// corrupt the hierarchy behind the engine's back
	if err := st.Roles.UpdateRole(ctx, &rbac.Role{ID: "viewer", OrgID: "org1", Name: "Viewer", ParentID: "editor"}); err != nil {
		t.Fatalf("update role: %v", err)
	}
	eng.FlushVerdictCache()

	v, err := eng.Decide(ctx, "alice", "org1", rbac.PermissionCheck("view_document"), "", midweek)
	if v.Allowed {
		t.Fatalf("cycle must fail closed")
	}
	if v.Reason != rbac.ReasonCyclicHierarchy {
		t.Fatalf("expected cyclic_hierarchy reason, got %s", v.Reason)
	}
	if !rbac.IsCyclicHierarchy(err) {
		t.Fatalf("expected typed cycle error, got %v", err)
	}
}

func TestEngineRejectsCycleOnWrite(t *testing.T) {
	eng, _ := newTestEngine(t)
	seedOrg(t, eng)
	err := eng.SetRoleParent(context.Background(), "viewer", "editor")
	if !rbac.IsCyclicHierarchy(err) {
		t.Fatalf("expected cycle rejection, got %v", err)
	}
}

func seedResource(t *testing.T, eng *rbac.Engine) {
	t.Helper()
	ctx := context.Background()
	if err := eng.CreateResource(ctx, &rbac.Resource{ID: "folder1", OrgID: "org1", Type: "folder"}); err != nil {
		t.Fatalf("create folder: %v", err)
	}
	if err := eng.CreateResource(ctx, &rbac.Resource{ID: "doc1", OrgID: "org1", Type: "document", ParentID: "folder1"}); err != nil {
		t.Fatalf("create doc: %v", err)
	}
}

func TestResourceScopedDecision(t *testing.T) {
	eng, _ := newTestEngine(t)
	seedOrg(t, eng)
	seedResource(t, eng)
	ctx := context.Background()
	_, _ = eng.GrantRole(ctx, &rbac.UserRole{OrgID: "org1", UserID: "alice", RoleID: "editor"})
	_, _ = eng.GrantRole(ctx, &rbac.UserRole{OrgID: "org1", UserID: "bob", RoleID: "editor"})

	// capability without a resource grant is not enough
	v := decide(t, eng, "bob", "org1", "view_document", "doc1", midweek)
	if v.Allowed || v.Reason != rbac.ReasonNoResourceGrant {
		t.Fatalf("no resource grant: allowed=%v reason=%s", v.Allowed, v.Reason)
	}

	if _, err := eng.GrantResourceAccess(ctx, &rbac.ResourceAccess{OrgID: "org1", ResourceID: "doc1", UserID: "alice", Type: rbac.AccessRead}); err != nil {
		t.Fatalf("grant access: %v", err)
	}
	v = decide(t, eng, "alice", "org1", "view_document", "doc1", midweek)
	if !v.Allowed {
		t.Fatalf("read access should satisfy view: %s", v.Reason)
	}
	if v.MatchedAccess == "" {
		t.Fatalf("expected matched access id on resource allow")
	}

	// read does not cover edit
	v = decide(t, eng, "alice", "org1", "edit_document", "doc1", midweek)
	if v.Allowed || v.Reason != rbac.ReasonNoResourceGrant {
		t.Fatalf("read must not cover write: allowed=%v reason=%s", v.Allowed, v.Reason)
	}
}

func TestWriteAccessCoversRead(t *testing.T) {
	eng, _ := newTestEngine(t)
	seedOrg(t, eng)
	seedResource(t, eng)
	ctx := context.Background()
	_, _ = eng.GrantRole(ctx, &rbac.UserRole{OrgID: "org1", UserID: "alice", RoleID: "editor"})
	_, _ = eng.GrantResourceAccess(ctx, &rbac.ResourceAccess{OrgID: "org1", ResourceID: "doc1", UserID: "alice", Type: rbac.AccessWrite})

	if v := decide(t, eng, "alice", "org1", "view_document", "doc1", midweek); !v.Allowed {
		t.Fatalf("write should cover read: %s", v.Reason)
	}
	if v := decide(t, eng, "alice", "org1", "edit_document", "doc1", midweek); !v.Allowed {
		t.Fatalf("write should cover write: %s", v.Reason)
	}
}

func TestResourceAccessInheritsThroughHierarchy(t *testing.T) {
	eng, _ := newTestEngine(t)
	seedOrg(t, eng)
	seedResource(t, eng)
	ctx := context.Background()
	_, _ = eng.GrantRole(ctx, &rbac.UserRole{OrgID: "org1", UserID: "alice", RoleID: "viewer"})
	// grant on the folder, check on the document
	_, _ = eng.GrantResourceAccess(ctx, &rbac.ResourceAccess{OrgID: "org1", ResourceID: "folder1", UserID: "alice", Type: rbac.AccessRead})

	if v := decide(t, eng, "alice", "org1", "view_document", "doc1", midweek); !v.Allowed {
		t.Fatalf("folder access should reach the document: %s", v.Reason)
	}
}

func TestResourceAccessWindow(t *testing.T) {
	eng, _ := newTestEngine(t)
	seedOrg(t, eng)
	seedResource(t, eng)
	ctx := context.Background()
	_, _ = eng.GrantRole(ctx, &rbac.UserRole{OrgID: "org1", UserID: "alice", RoleID: "viewer"})
	_, _ = eng.GrantResourceAccess(ctx, &rbac.ResourceAccess{
		OrgID: "org1", ResourceID: "doc1", UserID: "alice", Type: rbac.AccessRead,
		Window: rbac.BusinessHours("UTC", "09:00", "17:00"),
	})

	if v := decide(t, eng, "alice", "org1", "view_document", "doc1", midweek); !v.Allowed {
		t.Fatalf("inside access window: %s", v.Reason)
	}
	saturday := time.Date(2026, 1, 10, 10, 0, 0, 0, time.UTC)
	v := decide(t, eng, "alice", "org1", "view_document", "doc1", saturday)
	if v.Allowed || v.Reason != rbac.ReasonOutsideWindow {
		t.Fatalf("outside access window: allowed=%v reason=%s", v.Allowed, v.Reason)
	}
}

func TestRegrantResourceAccessReplacesWindow(t *testing.T) {
	eng, _ := newTestEngine(t)
	seedOrg(t, eng)
	seedResource(t, eng)
	ctx := context.Background()
	_, _ = eng.GrantRole(ctx, &rbac.UserRole{OrgID: "org1", UserID: "alice", RoleID: "viewer"})
	first, _ := eng.GrantResourceAccess(ctx, &rbac.ResourceAccess{
		OrgID: "org1", ResourceID: "doc1", UserID: "alice", Type: rbac.AccessRead,
		Window: rbac.BusinessHours("UTC", "09:00", "17:00"),
	})

	saturday := time.Date(2026, 1, 10, 10, 0, 0, 0, time.UTC)
	if v := decide(t, eng, "alice", "org1", "view_document", "doc1", saturday); v.Allowed {
		t.Fatalf("precondition: weekend should be outside the window")
	}

	// same (resource, user, type) with a different window updates the row
	second, err := eng.GrantResourceAccess(ctx, &rbac.ResourceAccess{
		OrgID: "org1", ResourceID: "doc1", UserID: "alice", Type: rbac.AccessRead,
	})
	if err != nil {
		t.Fatalf("re-grant: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("re-grant with a new window should update the existing row")
	}
	if v := decide(t, eng, "alice", "org1", "view_document", "doc1", saturday); !v.Allowed {
		t.Fatalf("re-grant should have lifted the window: %s", v.Reason)
	}
}

func TestInactiveResourceDenies(t *testing.T) {
	eng, _ := newTestEngine(t)
	seedOrg(t, eng)
	seedResource(t, eng)
	ctx := context.Background()
	_, _ = eng.GrantRole(ctx, &rbac.UserRole{OrgID: "org1", UserID: "alice", RoleID: "viewer"})
	_, _ = eng.GrantResourceAccess(ctx, &rbac.ResourceAccess{OrgID: "org1", ResourceID: "doc1", UserID: "alice", Type: rbac.AccessRead})

	if err := eng.DeactivateResource(ctx, "doc1"); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	v := decide(t, eng, "alice", "org1", "view_document", "doc1", midweek)
	if v.Allowed || v.Reason != rbac.ReasonNoResourceGrant {
		t.Fatalf("inactive resource: allowed=%v reason=%s", v.Allowed, v.Reason)
	}
}

func TestForeignResourceLooksMissing(t *testing.T) {
	eng, _ := newTestEngine(t)
	seedOrg(t, eng)
	ctx := context.Background()
	_ = eng.CreateOrganization(ctx, &rbac.Organization{ID: "org2", Name: "Globex"})
	_ = eng.CreateResource(ctx, &rbac.Resource{ID: "doc-x", OrgID: "org2", Type: "document"})
	_, _ = eng.GrantRole(ctx, &rbac.UserRole{OrgID: "org1", UserID: "alice", RoleID: "viewer"})

	v := decide(t, eng, "alice", "org1", "view_document", "doc-x", midweek)
	if v.Allowed || v.Reason != rbac.ReasonNoResourceGrant {
		t.Fatalf("foreign resource must look like a missing grant: allowed=%v reason=%s", v.Allowed, v.Reason)
	}
}

func TestResourceOptionalCode(t *testing.T) {
	eng, _ := newTestEngine(t, rbac.WithResourceOptional("view_document"))
	seedOrg(t, eng)
	seedResource(t, eng)
	_, _ = eng.GrantRole(context.Background(), &rbac.UserRole{OrgID: "org1", UserID: "alice", RoleID: "viewer"})

	// no resource access at all, yet the configured code passes on capability
	if v := decide(t, eng, "alice", "org1", "view_document", "doc1", midweek); !v.Allowed {
		t.Fatalf("resource-optional code should pass on capability alone: %s", v.Reason)
	}
}

func TestFieldPermissionCheck(t *testing.T) {
	eng, _ := newTestEngine(t)
	seedOrg(t, eng)
	ctx := context.Background()
	if err := eng.CreateFieldPermission(ctx, &rbac.FieldPermission{ID: "fp-ssn", OrgID: "org1", EntityType: "patient", Field: "ssn", Type: rbac.PermRead}); err != nil {
		t.Fatalf("create field permission: %v", err)
	}
	if err := eng.AttachPermission(ctx, &rbac.RolePermission{OrgID: "org1", RoleID: "viewer", FieldPermissionID: "fp-ssn"}); err != nil {
		t.Fatalf("attach field permission: %v", err)
	}
	_, _ = eng.GrantRole(ctx, &rbac.UserRole{OrgID: "org1", UserID: "alice", RoleID: "viewer"})

	v, err := eng.Decide(ctx, "alice", "org1", rbac.FieldCheck("patient", "ssn", rbac.PermRead), "", midweek)
	if err != nil || !v.Allowed {
		t.Fatalf("field read should be allowed: %v %s", err, v.Reason)
	}
	v, err = eng.Decide(ctx, "alice", "org1", rbac.FieldCheck("patient", "ssn", rbac.PermWrite), "", midweek)
	if err != nil || v.Allowed {
		t.Fatalf("field write was never granted: %v", err)
	}
	if v.Reason != rbac.ReasonNoRole {
		t.Fatalf("expected no_role, got %s", v.Reason)
	}
}

func TestDelegation(t *testing.T) {
	eng, _ := newTestEngine(t)
	seedOrg(t, eng)
	ctx := context.Background()
	bobRow, _ := eng.GrantRole(ctx, &rbac.UserRole{OrgID: "org1", UserID: "bob", RoleID: "editor"})

	// a non-holder cannot delegate
	if _, err := eng.DelegateRole(ctx, "mallory", "carol", "editor", "org1", nil, nil); !errors.Is(err, rbac.ErrDelegatorNotAuthorized) {
		t.Fatalf("expected ErrDelegatorNotAuthorized, got %v", err)
	}

	carolRow, err := eng.DelegateRole(ctx, "bob", "carol", "editor", "org1", nil, nil)
	if err != nil {
		t.Fatalf("delegate: %v", err)
	}
	if !carolRow.IsDelegated || carolRow.DelegatedBy != "bob" {
		t.Fatalf("delegation provenance not recorded: %+v", carolRow)
	}
	if v := decide(t, eng, "carol", "org1", "edit_document", "", midweek); !v.Allowed {
		t.Fatalf("delegatee should hold the role: %s", v.Reason)
	}

	// revoking the delegator does not cascade
	if err := eng.RevokeRole(ctx, bobRow.ID); err != nil {
		t.Fatalf("revoke bob: %v", err)
	}
	if v := decide(t, eng, "carol", "org1", "edit_document", "", midweek); !v.Allowed {
		t.Fatalf("delegation must survive delegator revocation: %s", v.Reason)
	}
	if v := decide(t, eng, "bob", "org1", "edit_document", "", midweek); v.Allowed {
		t.Fatalf("bob was revoked")
	}

	// the delegated row revokes individually
	if err := eng.RevokeRole(ctx, carolRow.ID); err != nil {
		t.Fatalf("revoke carol: %v", err)
	}
	if v := decide(t, eng, "carol", "org1", "edit_document", "", midweek); v.Allowed {
		t.Fatalf("carol was revoked")
	}
}

func TestDelegateAncestorRole(t *testing.T) {
	eng, _ := newTestEngine(t)
	seedOrg(t, eng)
	ctx := context.Background()
	_, _ = eng.GrantRole(ctx, &rbac.UserRole{OrgID: "org1", UserID: "bob", RoleID: "editor"})

	// editor's chain contains viewer, so bob may hand viewer out
	if _, err := eng.DelegateRole(ctx, "bob", "carol", "viewer", "org1", nil, nil); err != nil {
		t.Fatalf("delegating an ancestor role should be authorized: %v", err)
	}
	if v := decide(t, eng, "carol", "org1", "view_document", "", midweek); !v.Allowed {
		t.Fatalf("carol should view: %s", v.Reason)
	}
}

func TestDelegateRoleIdempotent(t *testing.T) {
	eng, st := newTestEngine(t)
	seedOrg(t, eng)
	ctx := context.Background()
	_, _ = eng.GrantRole(ctx, &rbac.UserRole{OrgID: "org1", UserID: "bob", RoleID: "editor"})

	first, err := eng.DelegateRole(ctx, "bob", "carol", "editor", "org1", nil, nil)
	if err != nil {
		t.Fatalf("delegate: %v", err)
	}
	second, err := eng.DelegateRole(ctx, "bob", "carol", "editor", "org1", nil, nil)
	if err != nil {
		t.Fatalf("repeat delegate: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("duplicate delegation should return the existing row")
	}
	rows, _ := st.UserRoles.ListActiveForUser(ctx, "carol", "org1")
	if len(rows) != 1 {
		t.Fatalf("expected a single delegated row, got %d", len(rows))
	}
}

func TestGrantRoleIdempotent(t *testing.T) {
	eng, st := newTestEngine(t)
	seedOrg(t, eng)
	ctx := context.Background()
	first, _ := eng.GrantRole(ctx, &rbac.UserRole{OrgID: "org1", UserID: "alice", RoleID: "viewer"})
	second, _ := eng.GrantRole(ctx, &rbac.UserRole{OrgID: "org1", UserID: "alice", RoleID: "viewer"})
	if first.ID != second.ID {
		t.Fatalf("duplicate grant should return the existing assignment")
	}
	rows, _ := st.UserRoles.ListActiveForUser(ctx, "alice", "org1")
	if len(rows) != 1 {
		t.Fatalf("expected a single assignment row, got %d", len(rows))
	}
}

func TestDeletePermissionCascades(t *testing.T) {
	eng, _ := newTestEngine(t)
	seedOrg(t, eng)
	ctx := context.Background()
	_, _ = eng.GrantRole(ctx, &rbac.UserRole{OrgID: "org1", UserID: "alice", RoleID: "viewer"})
	if v := decide(t, eng, "alice", "org1", "view_document", "", midweek); !v.Allowed {
		t.Fatalf("precondition: %s", v.Reason)
	}

	if err := eng.DeletePermission(ctx, "p-view"); err != nil {
		t.Fatalf("delete permission: %v", err)
	}
	v := decide(t, eng, "alice", "org1", "view_document", "", midweek)
	if v.Allowed {
		t.Fatalf("deleted permission must not keep granting")
	}
}

func TestExplainProducesTrace(t *testing.T) {
	eng, _ := newTestEngine(t)
	seedOrg(t, eng)
	ctx := context.Background()
	_, _ = eng.GrantRole(ctx, &rbac.UserRole{OrgID: "org1", UserID: "alice", RoleID: "viewer"})

	v, err := eng.Explain(ctx, "alice", "org1", rbac.PermissionCheck("view_document"), "", midweek)
	if err != nil {
		t.Fatalf("explain: %v", err)
	}
	if !v.Allowed || len(v.Trace) == 0 {
		t.Fatalf("expected allow with a trace, got allowed=%v trace=%v", v.Allowed, v.Trace)
	}
}

func TestListUserPermissions(t *testing.T) {
	eng, _ := newTestEngine(t)
	seedOrg(t, eng)
	ctx := context.Background()
	_, _ = eng.GrantRole(ctx, &rbac.UserRole{OrgID: "org1", UserID: "bob", RoleID: "editor"})

	perms, err := eng.ListUserPermissions(ctx, "bob", "org1", midweek)
	if err != nil {
		t.Fatalf("list user permissions: %v", err)
	}
	if len(perms) != 2 {
		t.Fatalf("editor should hold 2 effective grants, got %d", len(perms))
	}

	eff, err := eng.EffectivePermissions(ctx, "viewer", "org1")
	if err != nil || len(eff) != 1 {
		t.Fatalf("viewer should hold 1 effective grant, got %d (%v)", len(eff), err)
	}
}

func TestVerdictsRecorded(t *testing.T) {
	eng, _ := newTestEngine(t)
	seedOrg(t, eng)
	ctx := context.Background()
	_, _ = eng.GrantRole(ctx, &rbac.UserRole{OrgID: "org1", UserID: "alice", RoleID: "viewer"})
	_ = decide(t, eng, "alice", "org1", "view_document", "", midweek)

	// audit writes are async
	deadline := time.Now().Add(2 * time.Second)
	for {
		entries, err := eng.Verdicts(ctx, rbac.AuditFilter{OrgID: "org1", ActorID: "alice"})
		if err != nil {
			t.Fatalf("verdicts: %v", err)
		}
		if len(entries) > 0 {
			if !entries[0].Allowed || entries[0].Check != "p/view_document" {
				t.Fatalf("unexpected audit entry: %+v", entries[0])
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("audit entry never arrived")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
