package stores

import (
	"context"
	"strings"

	"github.com/oarkflow/squealx"

	"github.com/oarkflow/rbac"
)

// SQLRoleStore persists roles and their grant joins through squealx.
type SQLRoleStore struct {
	db *squealx.DB
}

func NewSQLRoleStore(db *squealx.DB) *SQLRoleStore {
	return &SQLRoleStore{db: db}
}

func (s *SQLRoleStore) CreateRole(ctx context.Context, r *rbac.Role) error {
	q := `INSERT INTO roles(id, org_id, name, parent_id, created_at) VALUES(:id, :org_id, :name, :parent_id, :created_at)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id": r.ID, "org_id": r.OrgID, "name": r.Name, "parent_id": r.ParentID, "created_at": r.CreatedAt,
	})
	return err
}

func (s *SQLRoleStore) UpdateRole(ctx context.Context, r *rbac.Role) error {
	q := `UPDATE roles SET org_id=:org_id, name=:name, parent_id=:parent_id WHERE id=:id`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id": r.ID, "org_id": r.OrgID, "name": r.Name, "parent_id": r.ParentID,
	})
	return err
}

func (s *SQLRoleStore) DeleteRole(ctx context.Context, id string) error {
	if _, err := s.db.NamedExecContext(ctx, `DELETE FROM role_permissions WHERE role_id = :id`, map[string]any{"id": id}); err != nil {
		return err
	}
	_, err := s.db.NamedExecContext(ctx, `DELETE FROM roles WHERE id = :id`, map[string]any{"id": id})
	return err
}

func (s *SQLRoleStore) GetRole(ctx context.Context, id string) (*rbac.Role, error) {
	q := `SELECT id, org_id, name, parent_id, created_at FROM roles WHERE id = :id`
	rows, err := s.db.NamedQueryContext(ctx, q, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, rbac.ErrRoleNotFound
	}
	return scanRole(rows)
}

func (s *SQLRoleStore) ListRoles(ctx context.Context, orgID string) ([]*rbac.Role, error) {
	q := `SELECT id, org_id, name, parent_id, created_at FROM roles WHERE org_id = :org_id ORDER BY id`
	rows, err := s.db.NamedQueryContext(ctx, q, map[string]any{"org_id": orgID})
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]*rbac.Role, 0)
	for rows.Next() {
		r, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func scanRole(r rowScanner) (*rbac.Role, error) {
	var id, orgID, name, parentID string
	var createdRaw any
	if err := r.Scan(&id, &orgID, &name, &parentID, &createdRaw); err != nil {
		return nil, err
	}
	return &rbac.Role{ID: id, OrgID: orgID, Name: name, ParentID: parentID, CreatedAt: scanTime(createdRaw)}, nil
}

func (s *SQLRoleStore) CreateGrant(ctx context.Context, rp *rbac.RolePermission) error {
	q := `INSERT INTO role_permissions(id, org_id, role_id, permission_id, field_permission_id, created_at)
	      VALUES(:id, :org_id, :role_id, :permission_id, :field_permission_id, :created_at)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id": rp.ID, "org_id": rp.OrgID, "role_id": rp.RoleID,
		"permission_id": rp.PermissionID, "field_permission_id": rp.FieldPermissionID,
		"created_at": rp.CreatedAt,
	})
	return err
}

func (s *SQLRoleStore) DeleteGrant(ctx context.Context, id string) error {
	_, err := s.db.NamedExecContext(ctx, `DELETE FROM role_permissions WHERE id = :id`, map[string]any{"id": id})
	return err
}

func (s *SQLRoleStore) ListGrants(ctx context.Context, roleID string) ([]*rbac.RolePermission, error) {
	q := `SELECT id, org_id, role_id, permission_id, field_permission_id, created_at FROM role_permissions WHERE role_id = :role_id ORDER BY id`
	rows, err := s.db.NamedQueryContext(ctx, q, map[string]any{"role_id": roleID})
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]*rbac.RolePermission, 0)
	for rows.Next() {
		var id, orgID, rID, permID, fieldID string
		var createdRaw any
		if err := rows.Scan(&id, &orgID, &rID, &permID, &fieldID, &createdRaw); err != nil {
			return nil, err
		}
		out = append(out, &rbac.RolePermission{
			ID: id, OrgID: orgID, RoleID: rID, PermissionID: permID,
			FieldPermissionID: fieldID, CreatedAt: scanTime(createdRaw),
		})
	}
	return out, nil
}

func (s *SQLRoleStore) DeleteGrantsByPermission(ctx context.Context, targetKey rbac.GrantKey) error {
	key := string(targetKey)
	switch {
	case strings.HasPrefix(key, "perm:"):
		_, err := s.db.NamedExecContext(ctx,
			`DELETE FROM role_permissions WHERE permission_id = :id`,
			map[string]any{"id": strings.TrimPrefix(key, "perm:")})
		return err
	case strings.HasPrefix(key, "field:"):
		_, err := s.db.NamedExecContext(ctx,
			`DELETE FROM role_permissions WHERE field_permission_id = :id`,
			map[string]any{"id": strings.TrimPrefix(key, "field:")})
		return err
	}
	return nil
}
