package stores

import (
	"context"
	"encoding/json"

	"github.com/oarkflow/squealx"

	"github.com/oarkflow/rbac"
)

// SQLResourceStore persists the resource tree.
type SQLResourceStore struct {
	db *squealx.DB
}

func NewSQLResourceStore(db *squealx.DB) *SQLResourceStore {
	return &SQLResourceStore{db: db}
}

func (s *SQLResourceStore) CreateResource(ctx context.Context, r *rbac.Resource) error {
	meta := ""
	if len(r.Metadata) > 0 {
		if b, err := json.Marshal(r.Metadata); err == nil {
			meta = string(b)
		}
	}
	q := `INSERT INTO resources(id, org_id, resource_type, owner_id, parent_id, is_active, metadata_json, created_at)
	      VALUES(:id, :org_id, :resource_type, :owner_id, :parent_id, :is_active, :metadata_json, :created_at)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id": r.ID, "org_id": r.OrgID, "resource_type": r.Type, "owner_id": r.OwnerID,
		"parent_id": r.ParentID, "is_active": boolToInt(r.IsActive),
		"metadata_json": meta, "created_at": r.CreatedAt,
	})
	return err
}

func (s *SQLResourceStore) UpdateResource(ctx context.Context, r *rbac.Resource) error {
	q := `UPDATE resources SET owner_id=:owner_id, parent_id=:parent_id, is_active=:is_active WHERE id=:id`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id": r.ID, "owner_id": r.OwnerID, "parent_id": r.ParentID, "is_active": boolToInt(r.IsActive),
	})
	return err
}

const resourceColumns = `id, org_id, resource_type, owner_id, parent_id, is_active, metadata_json, created_at`

func (s *SQLResourceStore) GetResource(ctx context.Context, id string) (*rbac.Resource, error) {
	q := `SELECT ` + resourceColumns + ` FROM resources WHERE id = :id`
	rows, err := s.db.NamedQueryContext(ctx, q, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, rbac.ErrResourceNotFound
	}
	return scanResource(rows)
}

func (s *SQLResourceStore) ListResources(ctx context.Context, orgID string) ([]*rbac.Resource, error) {
	q := `SELECT ` + resourceColumns + ` FROM resources WHERE org_id = :org_id ORDER BY id`
	rows, err := s.db.NamedQueryContext(ctx, q, map[string]any{"org_id": orgID})
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]*rbac.Resource, 0)
	for rows.Next() {
		r, err := scanResource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func scanResource(r rowScanner) (*rbac.Resource, error) {
	var id, orgID, resType, ownerID, parentID, metaJSON string
	var isActiveRaw, createdRaw any
	if err := r.Scan(&id, &orgID, &resType, &ownerID, &parentID, &isActiveRaw, &metaJSON, &createdRaw); err != nil {
		return nil, err
	}
	res := &rbac.Resource{
		ID: id, OrgID: orgID, Type: resType, OwnerID: ownerID, ParentID: parentID,
		IsActive: intToBool(isActiveRaw), CreatedAt: scanTime(createdRaw),
	}
	if metaJSON != "" {
		_ = json.Unmarshal([]byte(metaJSON), &res.Metadata)
	}
	return res, nil
}
