package stores

import (
	"context"

	"github.com/oarkflow/squealx"

	"github.com/oarkflow/rbac"
)

// SQLOrganizationStore persists organizations through squealx.
type SQLOrganizationStore struct {
	db *squealx.DB
}

func NewSQLOrganizationStore(db *squealx.DB) *SQLOrganizationStore {
	return &SQLOrganizationStore{db: db}
}

func (s *SQLOrganizationStore) CreateOrganization(ctx context.Context, org *rbac.Organization) error {
	q := `INSERT INTO organizations(id, name, status, created_at) VALUES(:id, :name, :status, :created_at)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id": org.ID, "name": org.Name, "status": string(org.Status), "created_at": org.CreatedAt,
	})
	return err
}

func (s *SQLOrganizationStore) UpdateOrganization(ctx context.Context, org *rbac.Organization) error {
	q := `UPDATE organizations SET name=:name, status=:status WHERE id=:id`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id": org.ID, "name": org.Name, "status": string(org.Status),
	})
	return err
}

func (s *SQLOrganizationStore) GetOrganization(ctx context.Context, id string) (*rbac.Organization, error) {
	q := `SELECT id, name, status, created_at FROM organizations WHERE id = :id`
	rows, err := s.db.NamedQueryContext(ctx, q, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, rbac.ErrOrganizationNotFound
	}
	return scanOrganization(rows)
}

func (s *SQLOrganizationStore) ListOrganizations(ctx context.Context) ([]*rbac.Organization, error) {
	q := `SELECT id, name, status, created_at FROM organizations ORDER BY id`
	rows, err := s.db.NamedQueryContext(ctx, q, map[string]any{})
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]*rbac.Organization, 0)
	for rows.Next() {
		org, err := scanOrganization(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, org)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrganization(r rowScanner) (*rbac.Organization, error) {
	var id, name, status string
	var createdRaw any
	if err := r.Scan(&id, &name, &status, &createdRaw); err != nil {
		return nil, err
	}
	return &rbac.Organization{
		ID: id, Name: name, Status: rbac.OrgStatus(status), CreatedAt: scanTime(createdRaw),
	}, nil
}
