package rbac

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// ============================================================================
// DECLARATIVE CONFIGURATION
// ============================================================================
//
// A Config is a declarative snapshot of an authorization graph: organizations,
// roles, permissions, grants, assignments, resources and accesses, plus engine
// tuning. It loads from YAML or JSON and applies through the regular engine
// write paths, so every apply gets the same validation and invalidation as
// API callers.

type Config struct {
	Version          uint16                  `json:"version" yaml:"version"`
	Organizations    []OrganizationConfig    `json:"organizations" yaml:"organizations"`
	Roles            []RoleConfig            `json:"roles" yaml:"roles"`
	Permissions      []PermissionConfig      `json:"permissions" yaml:"permissions"`
	FieldPermissions []FieldPermissionConfig `json:"field_permissions,omitempty" yaml:"field_permissions,omitempty"`
	Grants           []GrantConfig           `json:"grants" yaml:"grants"`
	Assignments      []AssignmentConfig      `json:"assignments" yaml:"assignments"`
	Resources        []ResourceConfig        `json:"resources,omitempty" yaml:"resources,omitempty"`
	Accesses         []AccessConfig          `json:"accesses,omitempty" yaml:"accesses,omitempty"`
	Engine           EngineConfig            `json:"engine" yaml:"engine"`
}

type OrganizationConfig struct {
	ID     string `json:"id" yaml:"id"`
	Name   string `json:"name" yaml:"name"`
	Status string `json:"status,omitempty" yaml:"status,omitempty"`
}

type RoleConfig struct {
	ID     string `json:"id" yaml:"id"`
	Org    string `json:"org" yaml:"org"`
	Name   string `json:"name" yaml:"name"`
	Parent string `json:"parent,omitempty" yaml:"parent,omitempty"`
}

type PermissionConfig struct {
	ID   string `json:"id" yaml:"id"`
	Org  string `json:"org" yaml:"org"`
	Code string `json:"code" yaml:"code"`
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

type FieldPermissionConfig struct {
	ID     string `json:"id" yaml:"id"`
	Org    string `json:"org" yaml:"org"`
	Entity string `json:"entity" yaml:"entity"`
	Field  string `json:"field" yaml:"field"`
	Type   string `json:"type" yaml:"type"`
}

type GrantConfig struct {
	Role            string `json:"role" yaml:"role"`
	Org             string `json:"org" yaml:"org"`
	Permission      string `json:"permission,omitempty" yaml:"permission,omitempty"`
	FieldPermission string `json:"field_permission,omitempty" yaml:"field_permission,omitempty"`
}

type AssignmentConfig struct {
	Org       string        `json:"org" yaml:"org"`
	User      string        `json:"user" yaml:"user"`
	Role      string        `json:"role" yaml:"role"`
	ExpiresAt string        `json:"expires_at,omitempty" yaml:"expires_at,omitempty"`
	Window    *WindowConfig `json:"window,omitempty" yaml:"window,omitempty"`
}

type ResourceConfig struct {
	ID     string `json:"id" yaml:"id"`
	Org    string `json:"org" yaml:"org"`
	Type   string `json:"type" yaml:"type"`
	Owner  string `json:"owner,omitempty" yaml:"owner,omitempty"`
	Parent string `json:"parent,omitempty" yaml:"parent,omitempty"`
}

type AccessConfig struct {
	Org      string        `json:"org" yaml:"org"`
	Resource string        `json:"resource" yaml:"resource"`
	User     string        `json:"user" yaml:"user"`
	Type     string        `json:"type" yaml:"type"`
	Window   *WindowConfig `json:"window,omitempty" yaml:"window,omitempty"`
}

type WindowConfig struct {
	Timezone   string           `json:"timezone,omitempty" yaml:"timezone,omitempty"`
	Intervals  []IntervalConfig `json:"intervals" yaml:"intervals"`
	ValidFrom  string           `json:"valid_from,omitempty" yaml:"valid_from,omitempty"`
	ValidUntil string           `json:"valid_until,omitempty" yaml:"valid_until,omitempty"`
}

type IntervalConfig struct {
	Weekday string `json:"weekday" yaml:"weekday"`
	Start   string `json:"start" yaml:"start"`
	End     string `json:"end" yaml:"end"`
}

type EngineConfig struct {
	MaxHierarchyDepth   int               `json:"max_hierarchy_depth,omitempty" yaml:"max_hierarchy_depth,omitempty"`
	CacheBucketSeconds  int               `json:"cache_bucket_seconds,omitempty" yaml:"cache_bucket_seconds,omitempty"`
	RistrettoNumCounter int64             `json:"ristretto_num_counter,omitempty" yaml:"ristretto_num_counter,omitempty"`
	RistrettoMaxCost    int64             `json:"ristretto_max_cost,omitempty" yaml:"ristretto_max_cost,omitempty"`
	RistrettoBuffer     int64             `json:"ristretto_buffer,omitempty" yaml:"ristretto_buffer,omitempty"`
	ResourceOptional    []string          `json:"resource_optional,omitempty" yaml:"resource_optional,omitempty"`
	AccessTypeOverrides map[string]string `json:"access_type_overrides,omitempty" yaml:"access_type_overrides,omitempty"`
}

// ConfigLoader decodes configuration documents.
type ConfigLoader struct{}

func NewConfigLoader() *ConfigLoader { return &ConfigLoader{} }

func (l *ConfigLoader) LoadYAML(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("decode yaml config: %w", err)
	}
	return cfg, nil
}

func (l *ConfigLoader) LoadJSON(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("decode json config: %w", err)
	}
	return cfg, nil
}

func (c *Config) ToYAML() ([]byte, error) {
	return yaml.Marshal(c)
}

func (c *Config) ToJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

var weekdayNames = map[string]time.Weekday{
	"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday,
	"wednesday": time.Wednesday, "thursday": time.Thursday,
	"friday": time.Friday, "saturday": time.Saturday,
	"sun": time.Sunday, "mon": time.Monday, "tue": time.Tuesday,
	"wed": time.Wednesday, "thu": time.Thursday, "fri": time.Friday,
	"sat": time.Saturday,
}

func (w *WindowConfig) toWindow() (*AccessWindow, error) {
	if w == nil {
		return nil, nil
	}
	out := &AccessWindow{Timezone: w.Timezone}
	for _, iv := range w.Intervals {
		day, ok := weekdayNames[normalizeDay(iv.Weekday)]
		if !ok {
			return nil, fmt.Errorf("window: unknown weekday %q: %w", iv.Weekday, ErrInvalidWindow)
		}
		out.Intervals = append(out.Intervals, WindowInterval{Weekday: day, Start: iv.Start, End: iv.End})
	}
	if w.ValidFrom != "" {
		t, err := time.Parse(time.RFC3339, w.ValidFrom)
		if err != nil {
			return nil, fmt.Errorf("window valid_from: %w", err)
		}
		out.ValidFrom = &t
	}
	if w.ValidUntil != "" {
		t, err := time.Parse(time.RFC3339, w.ValidUntil)
		if err != nil {
			return nil, fmt.Errorf("window valid_until: %w", err)
		}
		out.ValidUntil = &t
	}
	if err := out.Validate(); err != nil {
		return nil, err
	}
	return out, nil
}

func normalizeDay(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		out = append(out, c)
	}
	return string(out)
}

// Validate checks referential integrity before anything touches the stores.
func (c *Config) Validate() error {
	orgs := make(map[string]struct{}, len(c.Organizations))
	for _, o := range c.Organizations {
		if o.ID == "" {
			return fmt.Errorf("organization without id")
		}
		orgs[o.ID] = struct{}{}
	}
	roles := make(map[string]string, len(c.Roles))
	for _, r := range c.Roles {
		if _, ok := orgs[r.Org]; !ok {
			return fmt.Errorf("role %s: unknown organization %s", r.ID, r.Org)
		}
		roles[r.ID] = r.Org
	}
	for _, r := range c.Roles {
		if r.Parent == "" {
			continue
		}
		parentOrg, ok := roles[r.Parent]
		if !ok {
			return fmt.Errorf("role %s: unknown parent %s", r.ID, r.Parent)
		}
		if parentOrg != r.Org {
			return fmt.Errorf("role %s: parent %s belongs to %s: %w", r.ID, r.Parent, parentOrg, ErrOrganizationMismatch)
		}
	}
	perms := make(map[string]string, len(c.Permissions))
	for _, p := range c.Permissions {
		if _, ok := orgs[p.Org]; !ok {
			return fmt.Errorf("permission %s: unknown organization %s", p.ID, p.Org)
		}
		perms[p.ID] = p.Org
	}
	fperms := make(map[string]string, len(c.FieldPermissions))
	for _, fp := range c.FieldPermissions {
		if _, ok := orgs[fp.Org]; !ok {
			return fmt.Errorf("field permission %s: unknown organization %s", fp.ID, fp.Org)
		}
		fperms[fp.ID] = fp.Org
	}
	for i, g := range c.Grants {
		if (g.Permission == "") == (g.FieldPermission == "") {
			return fmt.Errorf("grant %d: exactly one of permission or field_permission required", i)
		}
		if _, ok := roles[g.Role]; !ok {
			return fmt.Errorf("grant %d: unknown role %s", i, g.Role)
		}
		if g.Permission != "" {
			if _, ok := perms[g.Permission]; !ok {
				return fmt.Errorf("grant %d: unknown permission %s", i, g.Permission)
			}
		} else if _, ok := fperms[g.FieldPermission]; !ok {
			return fmt.Errorf("grant %d: unknown field permission %s", i, g.FieldPermission)
		}
	}
	for i, a := range c.Assignments {
		if _, ok := roles[a.Role]; !ok {
			return fmt.Errorf("assignment %d: unknown role %s", i, a.Role)
		}
		if _, ok := orgs[a.Org]; !ok {
			return fmt.Errorf("assignment %d: unknown organization %s", i, a.Org)
		}
		if _, err := a.window(); err != nil {
			return fmt.Errorf("assignment %d: %w", i, err)
		}
	}
	resources := make(map[string]string, len(c.Resources))
	for _, r := range c.Resources {
		if _, ok := orgs[r.Org]; !ok {
			return fmt.Errorf("resource %s: unknown organization %s", r.ID, r.Org)
		}
		resources[r.ID] = r.Org
	}
	for _, r := range c.Resources {
		if r.Parent == "" {
			continue
		}
		if _, ok := resources[r.Parent]; !ok {
			return fmt.Errorf("resource %s: unknown parent %s", r.ID, r.Parent)
		}
	}
	for i, a := range c.Accesses {
		if _, ok := resources[a.Resource]; !ok {
			return fmt.Errorf("access %d: unknown resource %s", i, a.Resource)
		}
		switch AccessType(a.Type) {
		case AccessRead, AccessWrite, AccessDelete, AccessAdmin:
		default:
			return fmt.Errorf("access %d: unknown access type %q", i, a.Type)
		}
	}
	return nil
}

func (a AssignmentConfig) window() (*AccessWindow, error) {
	return a.Window.toWindow()
}

// Stats summarizes a configuration document.
type ConfigStats struct {
	Organizations    int `json:"organizations"`
	Roles            int `json:"roles"`
	Permissions      int `json:"permissions"`
	FieldPermissions int `json:"field_permissions"`
	Grants           int `json:"grants"`
	Assignments      int `json:"assignments"`
	Resources        int `json:"resources"`
	Accesses         int `json:"accesses"`
}

func (c *Config) Stats() ConfigStats {
	return ConfigStats{
		Organizations:    len(c.Organizations),
		Roles:            len(c.Roles),
		Permissions:      len(c.Permissions),
		FieldPermissions: len(c.FieldPermissions),
		Grants:           len(c.Grants),
		Assignments:      len(c.Assignments),
		Resources:        len(c.Resources),
		Accesses:         len(c.Accesses),
	}
}

// ApplyConfig loads the snapshot into the engine's stores in dependency
// order. Engine tuning that can change at runtime is applied first.
func (e *Engine) ApplyConfig(ctx context.Context, cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("apply config: %w", err)
	}

	if cfg.Engine.MaxHierarchyDepth > 0 {
		e.maxDepth = cfg.Engine.MaxHierarchyDepth
		e.resolver = NewHierarchyResolver(e.st.Roles, e.st.Resources, e.maxDepth)
	}
	if cfg.Engine.CacheBucketSeconds > 0 {
		e.bucket = time.Duration(cfg.Engine.CacheBucketSeconds) * time.Second
	}
	if cfg.Engine.RistrettoNumCounter > 0 {
		if err := e.ConfigureRistrettoVerdictCache(cfg.Engine.RistrettoNumCounter, cfg.Engine.RistrettoMaxCost, cfg.Engine.RistrettoBuffer); err != nil {
			return fmt.Errorf("apply config: %w", err)
		}
	}
	for _, code := range cfg.Engine.ResourceOptional {
		e.resourceOptional[code] = struct{}{}
	}
	for code, t := range cfg.Engine.AccessTypeOverrides {
		e.accessTypeOverride[code] = AccessType(t)
	}

	for _, o := range cfg.Organizations {
		status := OrgStatus(o.Status)
		if status == "" {
			status = OrgActive
		}
		if err := e.CreateOrganization(ctx, &Organization{ID: o.ID, Name: o.Name, Status: status}); err != nil {
			return fmt.Errorf("apply organization %s: %w", o.ID, err)
		}
	}
	// parents may be declared after children, so insert bare then link
	for _, r := range cfg.Roles {
		if err := e.CreateRole(ctx, &Role{ID: r.ID, OrgID: r.Org, Name: r.Name}); err != nil {
			return fmt.Errorf("apply role %s: %w", r.ID, err)
		}
	}
	for _, r := range cfg.Roles {
		if r.Parent == "" {
			continue
		}
		if err := e.SetRoleParent(ctx, r.ID, r.Parent); err != nil {
			return fmt.Errorf("apply role %s: %w", r.ID, err)
		}
	}
	for _, p := range cfg.Permissions {
		if err := e.CreatePermission(ctx, &Permission{ID: p.ID, OrgID: p.Org, Code: p.Code, Name: p.Name}); err != nil {
			return fmt.Errorf("apply permission %s: %w", p.ID, err)
		}
	}
	for _, fp := range cfg.FieldPermissions {
		if err := e.CreateFieldPermission(ctx, &FieldPermission{
			ID: fp.ID, OrgID: fp.Org, EntityType: fp.Entity, Field: fp.Field, Type: PermissionType(fp.Type),
		}); err != nil {
			return fmt.Errorf("apply field permission %s: %w", fp.ID, err)
		}
	}
	for i, g := range cfg.Grants {
		rp := &RolePermission{OrgID: g.Org, RoleID: g.Role, PermissionID: g.Permission, FieldPermissionID: g.FieldPermission}
		if err := e.AttachPermission(ctx, rp); err != nil {
			return fmt.Errorf("apply grant %d: %w", i, err)
		}
	}
	for i, a := range cfg.Assignments {
		ur := &UserRole{OrgID: a.Org, UserID: a.User, RoleID: a.Role}
		if a.ExpiresAt != "" {
			t, err := time.Parse(time.RFC3339, a.ExpiresAt)
			if err != nil {
				return fmt.Errorf("apply assignment %d: expires_at: %w", i, err)
			}
			ur.ExpiresAt = &t
		}
		w, err := a.Window.toWindow()
		if err != nil {
			return fmt.Errorf("apply assignment %d: %w", i, err)
		}
		ur.Window = w
		if _, err := e.GrantRole(ctx, ur); err != nil {
			return fmt.Errorf("apply assignment %d: %w", i, err)
		}
	}
	for _, r := range cfg.Resources {
		res := &Resource{ID: r.ID, OrgID: r.Org, Type: r.Type, OwnerID: r.Owner}
		if err := e.CreateResource(ctx, res); err != nil {
			return fmt.Errorf("apply resource %s: %w", r.ID, err)
		}
	}
	for _, r := range cfg.Resources {
		if r.Parent == "" {
			continue
		}
		if err := e.SetResourceParent(ctx, r.ID, r.Parent); err != nil {
			return fmt.Errorf("apply resource %s: %w", r.ID, err)
		}
	}
	for i, a := range cfg.Accesses {
		w, err := a.Window.toWindow()
		if err != nil {
			return fmt.Errorf("apply access %d: %w", i, err)
		}
		ra := &ResourceAccess{OrgID: a.Org, ResourceID: a.Resource, UserID: a.User, Type: AccessType(a.Type), Window: w}
		if _, err := e.GrantResourceAccess(ctx, ra); err != nil {
			return fmt.Errorf("apply access %d: %w", i, err)
		}
	}
	e.FlushVerdictCache()
	return nil
}
