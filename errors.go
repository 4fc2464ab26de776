package rbac

import (
	"errors"
	"fmt"
)

// Referential and integrity faults surfaced by write paths and resolution.
var (
	ErrOrganizationNotFound    = errors.New("organization not found")
	ErrRoleNotFound            = errors.New("role not found")
	ErrPermissionNotFound      = errors.New("permission not found")
	ErrFieldPermissionNotFound = errors.New("field permission not found")
	ErrUserRoleNotFound        = errors.New("user role not found")
	ErrResourceNotFound        = errors.New("resource not found")
	ErrAccessNotFound          = errors.New("resource access not found")

	// ErrOrganizationMismatch is returned by the isolation guard when an
	// operation references entities from more than one organization.
	ErrOrganizationMismatch = errors.New("organization mismatch")

	// ErrDelegatorNotAuthorized is returned by DelegateRole when the delegator
	// does not actively hold the delegated role or a superior of it.
	ErrDelegatorNotAuthorized = errors.New("delegator does not hold the delegated role")

	ErrInvalidWindow = errors.New("invalid access window")
	ErrInvalidCheck  = errors.New("invalid check")
)

// CyclicHierarchyError reports a cycle (or a chain deeper than the configured
// bound, which is treated the same) in a role or resource parent chain. It is
// a data integrity fault: the decision fails closed and the error is logged
// so operators can alert on it separately from ordinary denials.
type CyclicHierarchyError struct {
	Kind    string // "role" or "resource"
	StartID string // node the walk began at
	NodeID  string // node at which the cycle was detected
	Depth   int
}

func (e *CyclicHierarchyError) Error() string {
	return fmt.Sprintf("cyclic %s hierarchy starting at %s (revisited %s at depth %d)", e.Kind, e.StartID, e.NodeID, e.Depth)
}

// IsCyclicHierarchy reports whether err is (or wraps) a CyclicHierarchyError.
func IsCyclicHierarchy(err error) bool {
	var che *CyclicHierarchyError
	return errors.As(err, &che)
}
