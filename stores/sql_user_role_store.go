package stores

import (
	"context"
	"fmt"

	"github.com/oarkflow/squealx"

	"github.com/oarkflow/rbac"
)

// SQLUserRoleStore persists role assignments. Access windows ride along as a
// JSON column: they are opaque to SQL and only evaluated in process.
type SQLUserRoleStore struct {
	db *squealx.DB
}

func NewSQLUserRoleStore(db *squealx.DB) *SQLUserRoleStore {
	return &SQLUserRoleStore{db: db}
}

func (s *SQLUserRoleStore) CreateUserRole(ctx context.Context, ur *rbac.UserRole) error {
	windowJSON, err := marshalWindow(ur.Window)
	if err != nil {
		return err
	}
	q := `INSERT INTO user_roles(id, org_id, user_id, role_id, assigned_by, delegated_by, is_delegated, is_active, expires_at, window_json, assigned_at, revoked_at)
	      VALUES(:id, :org_id, :user_id, :role_id, :assigned_by, :delegated_by, :is_delegated, :is_active, :expires_at, :window_json, :assigned_at, :revoked_at)`
	_, err = s.db.NamedExecContext(ctx, q, map[string]any{
		"id": ur.ID, "org_id": ur.OrgID, "user_id": ur.UserID, "role_id": ur.RoleID,
		"assigned_by": ur.AssignedBy, "delegated_by": ur.DelegatedBy,
		"is_delegated": boolToInt(ur.IsDelegated), "is_active": boolToInt(ur.IsActive),
		"expires_at": timeOrNil(ur.ExpiresAt), "window_json": windowJSON,
		"assigned_at": ur.AssignedAt, "revoked_at": timeOrNil(ur.RevokedAt),
	})
	return err
}

func (s *SQLUserRoleStore) UpdateUserRole(ctx context.Context, ur *rbac.UserRole) error {
	windowJSON, err := marshalWindow(ur.Window)
	if err != nil {
		return err
	}
	q := `UPDATE user_roles SET is_active=:is_active, expires_at=:expires_at, window_json=:window_json, revoked_at=:revoked_at WHERE id=:id`
	_, err = s.db.NamedExecContext(ctx, q, map[string]any{
		"id": ur.ID, "is_active": boolToInt(ur.IsActive),
		"expires_at": timeOrNil(ur.ExpiresAt), "window_json": windowJSON,
		"revoked_at": timeOrNil(ur.RevokedAt),
	})
	return err
}

const userRoleColumns = `id, org_id, user_id, role_id, assigned_by, delegated_by, is_delegated, is_active, expires_at, window_json, assigned_at, revoked_at`

func (s *SQLUserRoleStore) GetUserRole(ctx context.Context, id string) (*rbac.UserRole, error) {
	q := `SELECT ` + userRoleColumns + ` FROM user_roles WHERE id = :id`
	rows, err := s.db.NamedQueryContext(ctx, q, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, rbac.ErrUserRoleNotFound
	}
	return scanUserRole(rows)
}

func (s *SQLUserRoleStore) ListActiveForUser(ctx context.Context, userID, orgID string) ([]*rbac.UserRole, error) {
	q := `SELECT ` + userRoleColumns + ` FROM user_roles WHERE user_id = :user_id AND org_id = :org_id AND is_active = 1 ORDER BY id`
	return s.list(ctx, q, map[string]any{"user_id": userID, "org_id": orgID})
}

func (s *SQLUserRoleStore) ListForUser(ctx context.Context, userID, orgID string) ([]*rbac.UserRole, error) {
	q := `SELECT ` + userRoleColumns + ` FROM user_roles WHERE user_id = :user_id AND org_id = :org_id ORDER BY id`
	return s.list(ctx, q, map[string]any{"user_id": userID, "org_id": orgID})
}

func (s *SQLUserRoleStore) list(ctx context.Context, q string, args map[string]any) ([]*rbac.UserRole, error) {
	rows, err := s.db.NamedQueryContext(ctx, q, args)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]*rbac.UserRole, 0)
	for rows.Next() {
		ur, err := scanUserRole(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ur)
	}
	return out, nil
}

func scanUserRole(r rowScanner) (*rbac.UserRole, error) {
	var id, orgID, userID, roleID, assignedBy, delegatedBy, windowJSON string
	var isDelegatedRaw, isActiveRaw, expiresRaw, assignedRaw, revokedRaw any
	if err := r.Scan(&id, &orgID, &userID, &roleID, &assignedBy, &delegatedBy,
		&isDelegatedRaw, &isActiveRaw, &expiresRaw, &windowJSON, &assignedRaw, &revokedRaw); err != nil {
		return nil, err
	}
	window, err := unmarshalWindow(windowJSON)
	if err != nil {
		return nil, fmt.Errorf("assignment %s: %w", id, err)
	}
	return &rbac.UserRole{
		ID: id, OrgID: orgID, UserID: userID, RoleID: roleID,
		AssignedBy: assignedBy, DelegatedBy: delegatedBy,
		IsDelegated: intToBool(isDelegatedRaw), IsActive: intToBool(isActiveRaw),
		ExpiresAt: scanTimePtr(expiresRaw), Window: window,
		AssignedAt: scanTime(assignedRaw), RevokedAt: scanTimePtr(revokedRaw),
	}, nil
}
