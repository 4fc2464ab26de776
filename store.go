package rbac

import (
	"context"
	"time"
)

// ============================================================================
// STORAGE INTERFACES
// ============================================================================

// The engine is storage-agnostic: it consumes these interfaces and propagates
// the caller's context unchanged, so cancellation and timeouts belong to the
// caller. Any store error on the decision path turns into a fail-closed deny.

// OrganizationStore manages tenant records.
type OrganizationStore interface {
	CreateOrganization(ctx context.Context, org *Organization) error
	UpdateOrganization(ctx context.Context, org *Organization) error
	GetOrganization(ctx context.Context, id string) (*Organization, error)
	ListOrganizations(ctx context.Context) ([]*Organization, error)
}

// RoleStore manages roles and their grant joins.
type RoleStore interface {
	CreateRole(ctx context.Context, r *Role) error
	UpdateRole(ctx context.Context, r *Role) error
	// DeleteRole removes the role and cascades its RolePermission rows.
	DeleteRole(ctx context.Context, id string) error
	GetRole(ctx context.Context, id string) (*Role, error)
	ListRoles(ctx context.Context, orgID string) ([]*Role, error)

	CreateGrant(ctx context.Context, rp *RolePermission) error
	DeleteGrant(ctx context.Context, id string) error
	ListGrants(ctx context.Context, roleID string) ([]*RolePermission, error)
	// DeleteGrantsByPermission cascades grant joins when a Permission or
	// FieldPermission is deleted; targetKey is the GrantKey of the deleted
	// target.
	DeleteGrantsByPermission(ctx context.Context, targetKey GrantKey) error
}

// PermissionStore manages coarse and field-level permissions.
type PermissionStore interface {
	CreatePermission(ctx context.Context, p *Permission) error
	DeletePermission(ctx context.Context, id string) error
	GetPermission(ctx context.Context, id string) (*Permission, error)
	// GetPermissionByCode resolves a code inside one organization; codes are
	// unique per organization.
	GetPermissionByCode(ctx context.Context, orgID, code string) (*Permission, error)
	ListPermissions(ctx context.Context, orgID string) ([]*Permission, error)

	CreateFieldPermission(ctx context.Context, fp *FieldPermission) error
	DeleteFieldPermission(ctx context.Context, id string) error
	GetFieldPermission(ctx context.Context, id string) (*FieldPermission, error)
	FindFieldPermission(ctx context.Context, orgID, entityType, field string, t PermissionType) (*FieldPermission, error)
}

// UserRoleStore manages role assignments.
type UserRoleStore interface {
	CreateUserRole(ctx context.Context, ur *UserRole) error
	UpdateUserRole(ctx context.Context, ur *UserRole) error
	GetUserRole(ctx context.Context, id string) (*UserRole, error)
	// ListActiveForUser is the membership hot path and should be indexed by
	// (user, org, is_active).
	ListActiveForUser(ctx context.Context, userID, orgID string) ([]*UserRole, error)
	ListForUser(ctx context.Context, userID, orgID string) ([]*UserRole, error)
}

// ResourceStore manages the resource tree.
type ResourceStore interface {
	CreateResource(ctx context.Context, r *Resource) error
	UpdateResource(ctx context.Context, r *Resource) error
	GetResource(ctx context.Context, id string) (*Resource, error)
	ListResources(ctx context.Context, orgID string) ([]*Resource, error)
}

// ResourceAccessStore manages resource-level grants.
type ResourceAccessStore interface {
	CreateAccess(ctx context.Context, ra *ResourceAccess) error
	UpdateAccess(ctx context.Context, ra *ResourceAccess) error
	GetAccess(ctx context.Context, id string) (*ResourceAccess, error)
	// ListActiveForResourceUser is the resource hot path and should be indexed
	// by (resource, user, is_active).
	ListActiveForResourceUser(ctx context.Context, resourceID, userID string) ([]*ResourceAccess, error)
	ListActiveForUser(ctx context.Context, userID, orgID string) ([]*ResourceAccess, error)
}

// AuditStore records decision outcomes.
type AuditStore interface {
	LogVerdict(ctx context.Context, entry *AuditEntry) error
	ListVerdicts(ctx context.Context, filter AuditFilter) ([]*AuditEntry, error)
}

// Stores bundles the engine's storage collaborators.
type Stores struct {
	Organizations OrganizationStore
	Roles         RoleStore
	Permissions   PermissionStore
	UserRoles     UserRoleStore
	Resources     ResourceStore
	Accesses      ResourceAccessStore
	Audit         AuditStore
}

// MembershipIndex is an optional fast index of active role membership, e.g.
// Redis sets shared between processes. It is advisory: a positive hit lets
// the isolation guard skip a store query, while misses and errors always fall
// back to the authoritative UserRoleStore, so a stale index can never produce
// a stale allow.
type MembershipIndex interface {
	AddRole(ctx context.Context, orgID, userID, roleID string) error
	RemoveRole(ctx context.Context, orgID, userID, roleID string) error
	ListRoleIDs(ctx context.Context, orgID, userID string) ([]string, error)
}

// ============================================================================
// AUDIT
// ============================================================================

// AuditEntry records one decision.
type AuditEntry struct {
	ID         string         `json:"id"`
	Timestamp  time.Time      `json:"timestamp"`
	OrgID      string         `json:"org_id"`
	ActorID    string         `json:"actor_id"`
	Check      string         `json:"check"`
	ResourceID string         `json:"resource_id,omitempty"`
	Allowed    bool           `json:"allowed"`
	Reason     Reason         `json:"reason,omitempty"`
	TraceID    string         `json:"trace_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// AuditFilter selects audit entries.
type AuditFilter struct {
	OrgID      string
	ActorID    string
	ResourceID string
	StartTime  time.Time
	EndTime    time.Time
	Limit      int
}
