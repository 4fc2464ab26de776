package stores

import (
	"context"

	"github.com/oarkflow/squealx"

	"github.com/oarkflow/rbac"
)

// SQLPermissionStore persists coarse and field-level permissions.
type SQLPermissionStore struct {
	db *squealx.DB
}

func NewSQLPermissionStore(db *squealx.DB) *SQLPermissionStore {
	return &SQLPermissionStore{db: db}
}

func (s *SQLPermissionStore) CreatePermission(ctx context.Context, p *rbac.Permission) error {
	q := `INSERT INTO permissions(id, org_id, code, name, description, created_at)
	      VALUES(:id, :org_id, :code, :name, :description, :created_at)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id": p.ID, "org_id": p.OrgID, "code": p.Code, "name": p.Name,
		"description": p.Description, "created_at": p.CreatedAt,
	})
	return err
}

func (s *SQLPermissionStore) DeletePermission(ctx context.Context, id string) error {
	_, err := s.db.NamedExecContext(ctx, `DELETE FROM permissions WHERE id = :id`, map[string]any{"id": id})
	return err
}

func (s *SQLPermissionStore) GetPermission(ctx context.Context, id string) (*rbac.Permission, error) {
	return s.onePermission(ctx, `SELECT id, org_id, code, name, description, created_at FROM permissions WHERE id = :id`,
		map[string]any{"id": id})
}

func (s *SQLPermissionStore) GetPermissionByCode(ctx context.Context, orgID, code string) (*rbac.Permission, error) {
	return s.onePermission(ctx, `SELECT id, org_id, code, name, description, created_at FROM permissions WHERE org_id = :org_id AND code = :code`,
		map[string]any{"org_id": orgID, "code": code})
}

func (s *SQLPermissionStore) onePermission(ctx context.Context, q string, args map[string]any) (*rbac.Permission, error) {
	rows, err := s.db.NamedQueryContext(ctx, q, args)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, rbac.ErrPermissionNotFound
	}
	return scanPermission(rows)
}

func (s *SQLPermissionStore) ListPermissions(ctx context.Context, orgID string) ([]*rbac.Permission, error) {
	q := `SELECT id, org_id, code, name, description, created_at FROM permissions WHERE org_id = :org_id ORDER BY code`
	rows, err := s.db.NamedQueryContext(ctx, q, map[string]any{"org_id": orgID})
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]*rbac.Permission, 0)
	for rows.Next() {
		p, err := scanPermission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func scanPermission(r rowScanner) (*rbac.Permission, error) {
	var id, orgID, code, name, description string
	var createdRaw any
	if err := r.Scan(&id, &orgID, &code, &name, &description, &createdRaw); err != nil {
		return nil, err
	}
	return &rbac.Permission{
		ID: id, OrgID: orgID, Code: code, Name: name, Description: description,
		CreatedAt: scanTime(createdRaw),
	}, nil
}

func (s *SQLPermissionStore) CreateFieldPermission(ctx context.Context, fp *rbac.FieldPermission) error {
	q := `INSERT INTO field_permissions(id, org_id, entity_type, field, perm_type, created_at)
	      VALUES(:id, :org_id, :entity_type, :field, :perm_type, :created_at)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id": fp.ID, "org_id": fp.OrgID, "entity_type": fp.EntityType,
		"field": fp.Field, "perm_type": string(fp.Type), "created_at": fp.CreatedAt,
	})
	return err
}

func (s *SQLPermissionStore) DeleteFieldPermission(ctx context.Context, id string) error {
	_, err := s.db.NamedExecContext(ctx, `DELETE FROM field_permissions WHERE id = :id`, map[string]any{"id": id})
	return err
}

func (s *SQLPermissionStore) GetFieldPermission(ctx context.Context, id string) (*rbac.FieldPermission, error) {
	return s.oneFieldPermission(ctx,
		`SELECT id, org_id, entity_type, field, perm_type, created_at FROM field_permissions WHERE id = :id`,
		map[string]any{"id": id})
}

func (s *SQLPermissionStore) FindFieldPermission(ctx context.Context, orgID, entityType, field string, t rbac.PermissionType) (*rbac.FieldPermission, error) {
	return s.oneFieldPermission(ctx,
		`SELECT id, org_id, entity_type, field, perm_type, created_at FROM field_permissions
		 WHERE org_id = :org_id AND entity_type = :entity_type AND field = :field AND perm_type = :perm_type`,
		map[string]any{"org_id": orgID, "entity_type": entityType, "field": field, "perm_type": string(t)})
}

func (s *SQLPermissionStore) oneFieldPermission(ctx context.Context, q string, args map[string]any) (*rbac.FieldPermission, error) {
	rows, err := s.db.NamedQueryContext(ctx, q, args)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, rbac.ErrFieldPermissionNotFound
	}
	var id, orgID, entityType, field, permType string
	var createdRaw any
	if err := rows.Scan(&id, &orgID, &entityType, &field, &permType, &createdRaw); err != nil {
		return nil, err
	}
	return &rbac.FieldPermission{
		ID: id, OrgID: orgID, EntityType: entityType, Field: field,
		Type: rbac.PermissionType(permType), CreatedAt: scanTime(createdRaw),
	}, nil
}
