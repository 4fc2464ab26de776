package rbac

import (
	"fmt"
	"time"
)

// ============================================================================
// DOMAIN OBJECTS
// ============================================================================

// OrgStatus is the lifecycle state of an organization.
type OrgStatus string

const (
	OrgActive    OrgStatus = "active"
	OrgSuspended OrgStatus = "suspended"
)

// Organization is the tenant boundary. Every other entity references exactly
// one organization and is never visible outside it.
type Organization struct {
	ID        string    `json:"id" yaml:"id"`
	Name      string    `json:"name" yaml:"name"`
	Status    OrgStatus `json:"status" yaml:"status"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at,omitempty"`
}

func (o *Organization) Organization() string { return o.ID }

// Role is a named grant holder. ParentID is a weak reference used only for
// traversal: a role inherits the grants of its ancestor chain, and the chain
// must be acyclic.
type Role struct {
	ID        string    `json:"id" yaml:"id"`
	OrgID     string    `json:"org_id" yaml:"org_id"`
	Name      string    `json:"name" yaml:"name"`
	ParentID  string    `json:"parent_id,omitempty" yaml:"parent_id,omitempty"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at,omitempty"`
}

func (r *Role) Organization() string { return r.OrgID }

// Permission is a coarse, org-scoped capability identified by a code
// (e.g. "view_user") unique within its organization.
type Permission struct {
	ID          string    `json:"id" yaml:"id"`
	OrgID       string    `json:"org_id" yaml:"org_id"`
	Code        string    `json:"code" yaml:"code"`
	Name        string    `json:"name" yaml:"name"`
	Description string    `json:"description,omitempty" yaml:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at" yaml:"created_at,omitempty"`
}

func (p *Permission) Organization() string { return p.OrgID }

// PermissionType is the operation class of a field-level grant.
type PermissionType string

const (
	PermRead   PermissionType = "read"
	PermWrite  PermissionType = "write"
	PermCreate PermissionType = "create"
	PermDelete PermissionType = "delete"
)

// FieldPermission scopes a capability to one field of one entity type rather
// than the whole entity.
type FieldPermission struct {
	ID         string         `json:"id" yaml:"id"`
	OrgID      string         `json:"org_id" yaml:"org_id"`
	EntityType string         `json:"entity_type" yaml:"entity_type"`
	Field      string         `json:"field" yaml:"field"`
	Type       PermissionType `json:"permission_type" yaml:"permission_type"`
	CreatedAt  time.Time      `json:"created_at" yaml:"created_at,omitempty"`
}

func (f *FieldPermission) Organization() string { return f.OrgID }

// GrantKey identifies the target of a role grant: either a Permission or a
// FieldPermission. Effective permission sets are keyed by it, so a grant that
// appears at multiple levels of a role chain collapses to one entry.
type GrantKey string

func permissionKey(id string) GrantKey { return GrantKey("perm:" + id) }
func fieldKey(id string) GrantKey      { return GrantKey("field:" + id) }

// RolePermission joins a role to a Permission or a FieldPermission. Exactly
// one of PermissionID / FieldPermissionID is set. Rows are cascade-deleted
// with their role or permission.
type RolePermission struct {
	ID                string    `json:"id" yaml:"id"`
	OrgID             string    `json:"org_id" yaml:"org_id"`
	RoleID            string    `json:"role_id" yaml:"role_id"`
	PermissionID      string    `json:"permission_id,omitempty" yaml:"permission_id,omitempty"`
	FieldPermissionID string    `json:"field_permission_id,omitempty" yaml:"field_permission_id,omitempty"`
	CreatedAt         time.Time `json:"created_at" yaml:"created_at,omitempty"`
}

func (rp *RolePermission) Organization() string { return rp.OrgID }

// GrantKey returns the key of the granted target.
func (rp *RolePermission) GrantKey() GrantKey {
	if rp.FieldPermissionID != "" {
		return fieldKey(rp.FieldPermissionID)
	}
	return permissionKey(rp.PermissionID)
}

// Validate checks that the join references exactly one target.
func (rp *RolePermission) Validate() error {
	if (rp.PermissionID == "") == (rp.FieldPermissionID == "") {
		return fmt.Errorf("role grant %s: exactly one of permission_id or field_permission_id must be set", rp.ID)
	}
	return nil
}

// UserRole is an assignment of a role to a user inside one organization.
// (user, role, org) is unique while active. Revocation deactivates the row
// rather than deleting it, preserving audit history; expiry is enforced
// lazily at decision time.
type UserRole struct {
	ID          string        `json:"id" yaml:"id"`
	OrgID       string        `json:"org_id" yaml:"org_id"`
	UserID      string        `json:"user_id" yaml:"user_id"`
	RoleID      string        `json:"role_id" yaml:"role_id"`
	AssignedBy  string        `json:"assigned_by" yaml:"assigned_by"`
	DelegatedBy string        `json:"delegated_by,omitempty" yaml:"delegated_by,omitempty"`
	IsDelegated bool          `json:"is_delegated" yaml:"is_delegated,omitempty"`
	IsActive    bool          `json:"is_active" yaml:"is_active"`
	ExpiresAt   *time.Time    `json:"expires_at,omitempty" yaml:"expires_at,omitempty"`
	Window      *AccessWindow `json:"access_window,omitempty" yaml:"access_window,omitempty"`
	AssignedAt  time.Time     `json:"assigned_at" yaml:"assigned_at,omitempty"`
	RevokedAt   *time.Time    `json:"revoked_at,omitempty" yaml:"revoked_at,omitempty"`
}

func (ur *UserRole) Organization() string { return ur.OrgID }

// IsExpired reports whether the assignment's absolute expiry has passed.
func (ur *UserRole) IsExpired(now time.Time) bool {
	return ur.ExpiresAt != nil && now.After(*ur.ExpiresAt)
}

// AccessType classifies resource-level access.
type AccessType string

const (
	AccessRead   AccessType = "read"
	AccessWrite  AccessType = "write"
	AccessDelete AccessType = "delete"
	AccessAdmin  AccessType = "admin"
)

// Covers reports whether holding the receiver satisfies a request for need.
// Admin covers everything; write covers read.
func (a AccessType) Covers(need AccessType) bool {
	if a == need || a == AccessAdmin {
		return true
	}
	return a == AccessWrite && need == AccessRead
}

// Resource is a protected object. ParentID is a weak self-reference forming a
// tree; the parent must belong to the same organization and the chain must be
// acyclic. Grants on a resource are inherited by its descendants.
type Resource struct {
	ID        string         `json:"id" yaml:"id"`
	OrgID     string         `json:"org_id" yaml:"org_id"`
	Type      string         `json:"resource_type" yaml:"resource_type"`
	OwnerID   string         `json:"owner_id,omitempty" yaml:"owner_id,omitempty"`
	ParentID  string         `json:"parent_id,omitempty" yaml:"parent_id,omitempty"`
	IsActive  bool           `json:"is_active" yaml:"is_active"`
	Metadata  map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at" yaml:"created_at,omitempty"`
}

func (r *Resource) Organization() string { return r.OrgID }

// ResourceAccess grants a user an access type on a resource. Granting an
// already-active identical access is a no-op. Revocation deactivates the row.
type ResourceAccess struct {
	ID            string        `json:"id" yaml:"id"`
	OrgID         string        `json:"org_id" yaml:"org_id"`
	ResourceID    string        `json:"resource_id" yaml:"resource_id"`
	UserID        string        `json:"user_id" yaml:"user_id"`
	Type          AccessType    `json:"access_type" yaml:"access_type"`
	IsActive      bool          `json:"is_active" yaml:"is_active"`
	DeactivatedAt *time.Time    `json:"deactivated_at,omitempty" yaml:"deactivated_at,omitempty"`
	Window        *AccessWindow `json:"access_window,omitempty" yaml:"access_window,omitempty"`
	Notes         string        `json:"notes,omitempty" yaml:"notes,omitempty"`
	CreatedAt     time.Time     `json:"created_at" yaml:"created_at,omitempty"`
}

func (ra *ResourceAccess) Organization() string { return ra.OrgID }

// ============================================================================
// CHECKS
// ============================================================================

// CheckKind tags the two variants of a Check.
type CheckKind uint8

const (
	CheckPermission CheckKind = iota + 1
	CheckField
)

// Check is what a caller asks about: either a coarse permission code or a
// (entity type, field, permission type) tuple. It is a closed sum; the engine
// resolves both variants exhaustively.
type Check struct {
	kind       CheckKind
	code       string
	entityType string
	field      string
	permType   PermissionType
}

// PermissionCheck builds a check for a coarse permission code.
func PermissionCheck(code string) Check {
	return Check{kind: CheckPermission, code: code}
}

// FieldCheck builds a check for a field-level permission.
func FieldCheck(entityType, field string, t PermissionType) Check {
	return Check{kind: CheckField, entityType: entityType, field: field, permType: t}
}

func (c Check) Kind() CheckKind { return c.kind }

// Code returns the permission code of a CheckPermission check.
func (c Check) Code() string { return c.code }

// Field returns the tuple of a CheckField check.
func (c Check) Field() (entityType, field string, t PermissionType) {
	return c.entityType, c.field, c.permType
}

// Key is a stable string used in cache keys and audit records.
func (c Check) Key() string {
	switch c.kind {
	case CheckPermission:
		return "p/" + c.code
	case CheckField:
		return "f/" + c.entityType + "/" + c.field + "/" + string(c.permType)
	}
	return ""
}

func (c Check) String() string {
	switch c.kind {
	case CheckPermission:
		return c.code
	case CheckField:
		return fmt.Sprintf("%s.%s:%s", c.entityType, c.field, c.permType)
	}
	return "(invalid check)"
}

// ============================================================================
// VERDICTS
// ============================================================================

// Reason is the machine-readable cause attached to a verdict. Deny reasons are
// ordinary results, not errors; they are available to the caller for audit
// logging but need not be surfaced to end users.
type Reason string

const (
	ReasonNone            Reason = ""
	ReasonNotMember       Reason = "not_member"
	ReasonNoRole          Reason = "no_role"
	ReasonNoResourceGrant Reason = "no_resource_grant"
	ReasonOutsideWindow   Reason = "outside_window"
	ReasonExpired         Reason = "expired"
	ReasonCyclicHierarchy Reason = "cyclic_hierarchy"
	ReasonEvaluationError Reason = "evaluation_error"
)

// Verdict is the outcome of a Decide call.
type Verdict struct {
	Allowed       bool      `json:"allowed"`
	Reason        Reason    `json:"reason,omitempty"`
	MatchedRole   string    `json:"matched_role,omitempty"`
	MatchedAccess string    `json:"matched_access,omitempty"`
	Trace         []string  `json:"trace,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

func allow(now time.Time) *Verdict {
	return &Verdict{Allowed: true, Timestamp: now}
}

func deny(reason Reason, now time.Time) *Verdict {
	return &Verdict{Allowed: false, Reason: reason, Timestamp: now}
}
