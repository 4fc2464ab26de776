package stores

import (
	"github.com/oarkflow/squealx"

	"github.com/oarkflow/rbac"
)

// NewSQLStores wires a full SQL-backed store bundle on one connection. Run
// Migrate first.
func NewSQLStores(db *squealx.DB) rbac.Stores {
	return rbac.Stores{
		Organizations: NewSQLOrganizationStore(db),
		Roles:         NewSQLRoleStore(db),
		Permissions:   NewSQLPermissionStore(db),
		UserRoles:     NewSQLUserRoleStore(db),
		Resources:     NewSQLResourceStore(db),
		Accesses:      NewSQLResourceAccessStore(db),
		Audit:         NewSQLAuditStore(db),
	}
}
