package stores

import (
	"context"
	"sort"
	"sync"

	"github.com/oarkflow/rbac"
)

// ============================================================================
// IN-MEMORY STORES
// ============================================================================
//
// Map-backed stores guarded by RWMutex. They are the default wiring for
// tests and single-process embedding; the SQL stores carry the same
// semantics for durable deployments.

// NewMemoryStores wires a full in-memory store bundle.
func NewMemoryStores() rbac.Stores {
	return rbac.Stores{
		Organizations: NewMemoryOrganizationStore(),
		Roles:         NewMemoryRoleStore(),
		Permissions:   NewMemoryPermissionStore(),
		UserRoles:     NewMemoryUserRoleStore(),
		Resources:     NewMemoryResourceStore(),
		Accesses:      NewMemoryResourceAccessStore(),
		Audit:         NewMemoryAuditStore(),
	}
}

// ----------------------------------------------------------------------------
// Organizations
// ----------------------------------------------------------------------------

type MemoryOrganizationStore struct {
	mu   sync.RWMutex
	orgs map[string]*rbac.Organization
}

func NewMemoryOrganizationStore() *MemoryOrganizationStore {
	return &MemoryOrganizationStore{orgs: make(map[string]*rbac.Organization)}
}

func (s *MemoryOrganizationStore) CreateOrganization(_ context.Context, org *rbac.Organization) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	dup := *org
	s.orgs[org.ID] = &dup
	return nil
}

func (s *MemoryOrganizationStore) UpdateOrganization(_ context.Context, org *rbac.Organization) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orgs[org.ID]; !ok {
		return rbac.ErrOrganizationNotFound
	}
	dup := *org
	s.orgs[org.ID] = &dup
	return nil
}

func (s *MemoryOrganizationStore) GetOrganization(_ context.Context, id string) (*rbac.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	org, ok := s.orgs[id]
	if !ok {
		return nil, rbac.ErrOrganizationNotFound
	}
	dup := *org
	return &dup, nil
}

func (s *MemoryOrganizationStore) ListOrganizations(_ context.Context) ([]*rbac.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*rbac.Organization, 0, len(s.orgs))
	for _, org := range s.orgs {
		dup := *org
		out = append(out, &dup)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ----------------------------------------------------------------------------
// Roles and grants
// ----------------------------------------------------------------------------

type MemoryRoleStore struct {
	mu     sync.RWMutex
	roles  map[string]*rbac.Role
	grants map[string]*rbac.RolePermission
}

func NewMemoryRoleStore() *MemoryRoleStore {
	return &MemoryRoleStore{
		roles:  make(map[string]*rbac.Role),
		grants: make(map[string]*rbac.RolePermission),
	}
}

func (s *MemoryRoleStore) CreateRole(_ context.Context, r *rbac.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	dup := *r
	s.roles[r.ID] = &dup
	return nil
}

func (s *MemoryRoleStore) UpdateRole(_ context.Context, r *rbac.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[r.ID]; !ok {
		return rbac.ErrRoleNotFound
	}
	dup := *r
	s.roles[r.ID] = &dup
	return nil
}

func (s *MemoryRoleStore) DeleteRole(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[id]; !ok {
		return rbac.ErrRoleNotFound
	}
	delete(s.roles, id)
	for gid, rp := range s.grants {
		if rp.RoleID == id {
			delete(s.grants, gid)
		}
	}
	return nil
}

func (s *MemoryRoleStore) GetRole(_ context.Context, id string) (*rbac.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.roles[id]
	if !ok {
		return nil, rbac.ErrRoleNotFound
	}
	dup := *r
	return &dup, nil
}

func (s *MemoryRoleStore) ListRoles(_ context.Context, orgID string) ([]*rbac.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*rbac.Role, 0)
	for _, r := range s.roles {
		if r.OrgID == orgID {
			dup := *r
			out = append(out, &dup)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryRoleStore) CreateGrant(_ context.Context, rp *rbac.RolePermission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	dup := *rp
	s.grants[rp.ID] = &dup
	return nil
}

func (s *MemoryRoleStore) DeleteGrant(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.grants, id)
	return nil
}

func (s *MemoryRoleStore) ListGrants(_ context.Context, roleID string) ([]*rbac.RolePermission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*rbac.RolePermission, 0)
	for _, rp := range s.grants {
		if rp.RoleID == roleID {
			dup := *rp
			out = append(out, &dup)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryRoleStore) DeleteGrantsByPermission(_ context.Context, targetKey rbac.GrantKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for gid, rp := range s.grants {
		if rp.GrantKey() == targetKey {
			delete(s.grants, gid)
		}
	}
	return nil
}

// ----------------------------------------------------------------------------
// Permissions
// ----------------------------------------------------------------------------

type MemoryPermissionStore struct {
	mu     sync.RWMutex
	perms  map[string]*rbac.Permission
	fields map[string]*rbac.FieldPermission
}

func NewMemoryPermissionStore() *MemoryPermissionStore {
	return &MemoryPermissionStore{
		perms:  make(map[string]*rbac.Permission),
		fields: make(map[string]*rbac.FieldPermission),
	}
}

func (s *MemoryPermissionStore) CreatePermission(_ context.Context, p *rbac.Permission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	dup := *p
	s.perms[p.ID] = &dup
	return nil
}

func (s *MemoryPermissionStore) DeletePermission(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.perms[id]; !ok {
		return rbac.ErrPermissionNotFound
	}
	delete(s.perms, id)
	return nil
}

func (s *MemoryPermissionStore) GetPermission(_ context.Context, id string) (*rbac.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.perms[id]
	if !ok {
		return nil, rbac.ErrPermissionNotFound
	}
	dup := *p
	return &dup, nil
}

func (s *MemoryPermissionStore) GetPermissionByCode(_ context.Context, orgID, code string) (*rbac.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.perms {
		if p.OrgID == orgID && p.Code == code {
			dup := *p
			return &dup, nil
		}
	}
	return nil, rbac.ErrPermissionNotFound
}

func (s *MemoryPermissionStore) ListPermissions(_ context.Context, orgID string) ([]*rbac.Permission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*rbac.Permission, 0)
	for _, p := range s.perms {
		if p.OrgID == orgID {
			dup := *p
			out = append(out, &dup)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (s *MemoryPermissionStore) CreateFieldPermission(_ context.Context, fp *rbac.FieldPermission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	dup := *fp
	s.fields[fp.ID] = &dup
	return nil
}

func (s *MemoryPermissionStore) DeleteFieldPermission(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.fields[id]; !ok {
		return rbac.ErrFieldPermissionNotFound
	}
	delete(s.fields, id)
	return nil
}

func (s *MemoryPermissionStore) GetFieldPermission(_ context.Context, id string) (*rbac.FieldPermission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fp, ok := s.fields[id]
	if !ok {
		return nil, rbac.ErrFieldPermissionNotFound
	}
	dup := *fp
	return &dup, nil
}

func (s *MemoryPermissionStore) FindFieldPermission(_ context.Context, orgID, entityType, field string, t rbac.PermissionType) (*rbac.FieldPermission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, fp := range s.fields {
		if fp.OrgID == orgID && fp.EntityType == entityType && fp.Field == field && fp.Type == t {
			dup := *fp
			return &dup, nil
		}
	}
	return nil, rbac.ErrFieldPermissionNotFound
}

// ----------------------------------------------------------------------------
// Assignments
// ----------------------------------------------------------------------------

type MemoryUserRoleStore struct {
	mu   sync.RWMutex
	rows map[string]*rbac.UserRole
}

func NewMemoryUserRoleStore() *MemoryUserRoleStore {
	return &MemoryUserRoleStore{rows: make(map[string]*rbac.UserRole)}
}

func (s *MemoryUserRoleStore) CreateUserRole(_ context.Context, ur *rbac.UserRole) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	dup := *ur
	s.rows[ur.ID] = &dup
	return nil
}

func (s *MemoryUserRoleStore) UpdateUserRole(_ context.Context, ur *rbac.UserRole) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[ur.ID]; !ok {
		return rbac.ErrUserRoleNotFound
	}
	dup := *ur
	s.rows[ur.ID] = &dup
	return nil
}

func (s *MemoryUserRoleStore) GetUserRole(_ context.Context, id string) (*rbac.UserRole, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ur, ok := s.rows[id]
	if !ok {
		return nil, rbac.ErrUserRoleNotFound
	}
	dup := *ur
	return &dup, nil
}

func (s *MemoryUserRoleStore) ListActiveForUser(_ context.Context, userID, orgID string) ([]*rbac.UserRole, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*rbac.UserRole, 0)
	for _, ur := range s.rows {
		if ur.UserID == userID && ur.OrgID == orgID && ur.IsActive {
			dup := *ur
			out = append(out, &dup)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryUserRoleStore) ListForUser(_ context.Context, userID, orgID string) ([]*rbac.UserRole, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*rbac.UserRole, 0)
	for _, ur := range s.rows {
		if ur.UserID == userID && ur.OrgID == orgID {
			dup := *ur
			out = append(out, &dup)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ----------------------------------------------------------------------------
// Resources
// ----------------------------------------------------------------------------

type MemoryResourceStore struct {
	mu   sync.RWMutex
	rows map[string]*rbac.Resource
}

func NewMemoryResourceStore() *MemoryResourceStore {
	return &MemoryResourceStore{rows: make(map[string]*rbac.Resource)}
}

func (s *MemoryResourceStore) CreateResource(_ context.Context, r *rbac.Resource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	dup := *r
	s.rows[r.ID] = &dup
	return nil
}

func (s *MemoryResourceStore) UpdateResource(_ context.Context, r *rbac.Resource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[r.ID]; !ok {
		return rbac.ErrResourceNotFound
	}
	dup := *r
	s.rows[r.ID] = &dup
	return nil
}

func (s *MemoryResourceStore) GetResource(_ context.Context, id string) (*rbac.Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rows[id]
	if !ok {
		return nil, rbac.ErrResourceNotFound
	}
	dup := *r
	return &dup, nil
}

func (s *MemoryResourceStore) ListResources(_ context.Context, orgID string) ([]*rbac.Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*rbac.Resource, 0)
	for _, r := range s.rows {
		if r.OrgID == orgID {
			dup := *r
			out = append(out, &dup)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ----------------------------------------------------------------------------
// Resource accesses
// ----------------------------------------------------------------------------

type MemoryResourceAccessStore struct {
	mu   sync.RWMutex
	rows map[string]*rbac.ResourceAccess
}

func NewMemoryResourceAccessStore() *MemoryResourceAccessStore {
	return &MemoryResourceAccessStore{rows: make(map[string]*rbac.ResourceAccess)}
}

func (s *MemoryResourceAccessStore) CreateAccess(_ context.Context, ra *rbac.ResourceAccess) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	dup := *ra
	s.rows[ra.ID] = &dup
	return nil
}

func (s *MemoryResourceAccessStore) UpdateAccess(_ context.Context, ra *rbac.ResourceAccess) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[ra.ID]; !ok {
		return rbac.ErrAccessNotFound
	}
	dup := *ra
	s.rows[ra.ID] = &dup
	return nil
}

func (s *MemoryResourceAccessStore) GetAccess(_ context.Context, id string) (*rbac.ResourceAccess, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ra, ok := s.rows[id]
	if !ok {
		return nil, rbac.ErrAccessNotFound
	}
	dup := *ra
	return &dup, nil
}

func (s *MemoryResourceAccessStore) ListActiveForResourceUser(_ context.Context, resourceID, userID string) ([]*rbac.ResourceAccess, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*rbac.ResourceAccess, 0)
	for _, ra := range s.rows {
		if ra.ResourceID == resourceID && ra.UserID == userID && ra.IsActive {
			dup := *ra
			out = append(out, &dup)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryResourceAccessStore) ListActiveForUser(_ context.Context, userID, orgID string) ([]*rbac.ResourceAccess, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*rbac.ResourceAccess, 0)
	for _, ra := range s.rows {
		if ra.UserID == userID && ra.OrgID == orgID && ra.IsActive {
			dup := *ra
			out = append(out, &dup)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ----------------------------------------------------------------------------
// Audit
// ----------------------------------------------------------------------------

type MemoryAuditStore struct {
	mu      sync.RWMutex
	entries []*rbac.AuditEntry
	max     int
}

// NewMemoryAuditStore keeps the newest 10000 entries.
func NewMemoryAuditStore() *MemoryAuditStore {
	return &MemoryAuditStore{max: 10000}
}

func (s *MemoryAuditStore) LogVerdict(_ context.Context, entry *rbac.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	dup := *entry
	s.entries = append(s.entries, &dup)
	if len(s.entries) > s.max {
		s.entries = s.entries[len(s.entries)-s.max:]
	}
	return nil
}

func (s *MemoryAuditStore) ListVerdicts(_ context.Context, f rbac.AuditFilter) ([]*rbac.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*rbac.AuditEntry, 0)
	for _, e := range s.entries {
		if f.OrgID != "" && e.OrgID != f.OrgID {
			continue
		}
		if f.ActorID != "" && e.ActorID != f.ActorID {
			continue
		}
		if f.ResourceID != "" && e.ResourceID != f.ResourceID {
			continue
		}
		if !f.StartTime.IsZero() && e.Timestamp.Before(f.StartTime) {
			continue
		}
		if !f.EndTime.IsZero() && e.Timestamp.After(f.EndTime) {
			continue
		}
		dup := *e
		out = append(out, &dup)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, nil
}
