package stores

import (
	"context"
	"fmt"

	"github.com/oarkflow/squealx"

	"github.com/oarkflow/rbac"
)

// SQLResourceAccessStore persists resource-level grants.
type SQLResourceAccessStore struct {
	db *squealx.DB
}

func NewSQLResourceAccessStore(db *squealx.DB) *SQLResourceAccessStore {
	return &SQLResourceAccessStore{db: db}
}

func (s *SQLResourceAccessStore) CreateAccess(ctx context.Context, ra *rbac.ResourceAccess) error {
	windowJSON, err := marshalWindow(ra.Window)
	if err != nil {
		return err
	}
	q := `INSERT INTO resource_access(id, org_id, resource_id, user_id, access_type, is_active, deactivated_at, window_json, notes, created_at)
	      VALUES(:id, :org_id, :resource_id, :user_id, :access_type, :is_active, :deactivated_at, :window_json, :notes, :created_at)`
	_, err = s.db.NamedExecContext(ctx, q, map[string]any{
		"id": ra.ID, "org_id": ra.OrgID, "resource_id": ra.ResourceID, "user_id": ra.UserID,
		"access_type": string(ra.Type), "is_active": boolToInt(ra.IsActive),
		"deactivated_at": timeOrNil(ra.DeactivatedAt), "window_json": windowJSON,
		"notes": ra.Notes, "created_at": ra.CreatedAt,
	})
	return err
}

func (s *SQLResourceAccessStore) UpdateAccess(ctx context.Context, ra *rbac.ResourceAccess) error {
	windowJSON, err := marshalWindow(ra.Window)
	if err != nil {
		return err
	}
	q := `UPDATE resource_access SET is_active=:is_active, deactivated_at=:deactivated_at, window_json=:window_json WHERE id=:id`
	_, err = s.db.NamedExecContext(ctx, q, map[string]any{
		"id": ra.ID, "is_active": boolToInt(ra.IsActive),
		"deactivated_at": timeOrNil(ra.DeactivatedAt), "window_json": windowJSON,
	})
	return err
}

const accessColumns = `id, org_id, resource_id, user_id, access_type, is_active, deactivated_at, window_json, notes, created_at`

func (s *SQLResourceAccessStore) GetAccess(ctx context.Context, id string) (*rbac.ResourceAccess, error) {
	q := `SELECT ` + accessColumns + ` FROM resource_access WHERE id = :id`
	rows, err := s.db.NamedQueryContext(ctx, q, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, rbac.ErrAccessNotFound
	}
	return scanAccess(rows)
}

func (s *SQLResourceAccessStore) ListActiveForResourceUser(ctx context.Context, resourceID, userID string) ([]*rbac.ResourceAccess, error) {
	q := `SELECT ` + accessColumns + ` FROM resource_access WHERE resource_id = :resource_id AND user_id = :user_id AND is_active = 1 ORDER BY id`
	return s.list(ctx, q, map[string]any{"resource_id": resourceID, "user_id": userID})
}

func (s *SQLResourceAccessStore) ListActiveForUser(ctx context.Context, userID, orgID string) ([]*rbac.ResourceAccess, error) {
	q := `SELECT ` + accessColumns + ` FROM resource_access WHERE user_id = :user_id AND org_id = :org_id AND is_active = 1 ORDER BY id`
	return s.list(ctx, q, map[string]any{"user_id": userID, "org_id": orgID})
}

func (s *SQLResourceAccessStore) list(ctx context.Context, q string, args map[string]any) ([]*rbac.ResourceAccess, error) {
	rows, err := s.db.NamedQueryContext(ctx, q, args)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]*rbac.ResourceAccess, 0)
	for rows.Next() {
		ra, err := scanAccess(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ra)
	}
	return out, nil
}

func scanAccess(r rowScanner) (*rbac.ResourceAccess, error) {
	var id, orgID, resourceID, userID, accessType, windowJSON, notes string
	var isActiveRaw, deactivatedRaw, createdRaw any
	if err := r.Scan(&id, &orgID, &resourceID, &userID, &accessType, &isActiveRaw,
		&deactivatedRaw, &windowJSON, &notes, &createdRaw); err != nil {
		return nil, err
	}
	window, err := unmarshalWindow(windowJSON)
	if err != nil {
		return nil, fmt.Errorf("resource access %s: %w", id, err)
	}
	return &rbac.ResourceAccess{
		ID: id, OrgID: orgID, ResourceID: resourceID, UserID: userID,
		Type: rbac.AccessType(accessType), IsActive: intToBool(isActiveRaw),
		DeactivatedAt: scanTimePtr(deactivatedRaw), Window: window,
		Notes: notes, CreatedAt: scanTime(createdRaw),
	}, nil
}
