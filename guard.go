package rbac

import (
	"context"
	"fmt"
)

// ============================================================================
// ORGANIZATION ISOLATION GUARD
// ============================================================================

// OrgScoped is implemented by every entity owned by an organization.
type OrgScoped interface {
	Organization() string
}

// Guard enforces tenant isolation. It is a standalone component, invoked as
// step 1 of every decision and on every write path, rather than scattered
// checks: a single missed check here means cross-tenant leakage.
type Guard struct {
	userRoles UserRoleStore
	index     MembershipIndex // optional; positive hits only
}

func NewGuard(userRoles UserRoleStore) *Guard {
	return &Guard{userRoles: userRoles}
}

// WithIndex installs an advisory membership index. Only positive hits are
// trusted; misses and errors fall back to the authoritative store.
func (g *Guard) WithIndex(idx MembershipIndex) *Guard {
	g.index = idx
	return g
}

// SameOrganization rejects any set of entities that does not belong entirely
// to orgID.
func (g *Guard) SameOrganization(orgID string, refs ...OrgScoped) error {
	for _, ref := range refs {
		if ref == nil {
			continue
		}
		if got := ref.Organization(); got != orgID {
			return fmt.Errorf("%w: entity belongs to %q, operation scoped to %q", ErrOrganizationMismatch, got, orgID)
		}
	}
	return nil
}

// Member reports whether the user holds at least one active role assignment
// in the organization. Expiry and windows are deliberately not consulted
// here: an expired member is still a member, and is denied later with a more
// specific reason.
func (g *Guard) Member(ctx context.Context, userID, orgID string) (bool, error) {
	if g.index != nil {
		if ids, err := g.index.ListRoleIDs(ctx, orgID, userID); err == nil && len(ids) > 0 {
			return true, nil
		}
	}
	rows, err := g.userRoles.ListActiveForUser(ctx, userID, orgID)
	if err != nil {
		return false, fmt.Errorf("membership lookup for %s in %s: %w", userID, orgID, err)
	}
	return len(rows) > 0, nil
}
