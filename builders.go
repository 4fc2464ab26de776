package rbac

import "time"

// Builders provide a fluent API for assembling roles, assignments, resources
// and access windows before handing them to the engine.

// RoleBuilder builds a Role.
type RoleBuilder struct {
	r *Role
}

func NewRoleBuilder() *RoleBuilder                 { return &RoleBuilder{r: &Role{}} }
func (b *RoleBuilder) ID(id string) *RoleBuilder   { b.r.ID = id; return b }
func (b *RoleBuilder) Org(org string) *RoleBuilder { b.r.OrgID = org; return b }
func (b *RoleBuilder) Name(n string) *RoleBuilder  { b.r.Name = n; return b }
func (b *RoleBuilder) Parent(id string) *RoleBuilder {
	b.r.ParentID = id
	return b
}
func (b *RoleBuilder) Build() *Role { return b.r }

// AssignmentBuilder builds a UserRole.
type AssignmentBuilder struct {
	ur *UserRole
}

func NewAssignmentBuilder() *AssignmentBuilder { return &AssignmentBuilder{ur: &UserRole{}} }
func (b *AssignmentBuilder) ID(id string) *AssignmentBuilder {
	b.ur.ID = id
	return b
}
func (b *AssignmentBuilder) Org(org string) *AssignmentBuilder   { b.ur.OrgID = org; return b }
func (b *AssignmentBuilder) User(id string) *AssignmentBuilder   { b.ur.UserID = id; return b }
func (b *AssignmentBuilder) Role(id string) *AssignmentBuilder   { b.ur.RoleID = id; return b }
func (b *AssignmentBuilder) Issuer(id string) *AssignmentBuilder { b.ur.AssignedBy = id; return b }
func (b *AssignmentBuilder) ExpiresAt(t time.Time) *AssignmentBuilder {
	b.ur.ExpiresAt = &t
	return b
}
func (b *AssignmentBuilder) Window(w *AccessWindow) *AssignmentBuilder {
	b.ur.Window = w
	return b
}
func (b *AssignmentBuilder) Build() *UserRole { return b.ur }

// ResourceBuilder builds a Resource.
type ResourceBuilder struct {
	res *Resource
}

func NewResourceBuilder() *ResourceBuilder { return &ResourceBuilder{res: &Resource{IsActive: true}} }
func (b *ResourceBuilder) ID(id string) *ResourceBuilder     { b.res.ID = id; return b }
func (b *ResourceBuilder) Org(org string) *ResourceBuilder   { b.res.OrgID = org; return b }
func (b *ResourceBuilder) Type(t string) *ResourceBuilder    { b.res.Type = t; return b }
func (b *ResourceBuilder) Owner(id string) *ResourceBuilder  { b.res.OwnerID = id; return b }
func (b *ResourceBuilder) Parent(id string) *ResourceBuilder { b.res.ParentID = id; return b }
func (b *ResourceBuilder) Meta(k, v string) *ResourceBuilder {
	if b.res.Metadata == nil {
		b.res.Metadata = map[string]any{}
	}
	b.res.Metadata[k] = v
	return b
}
func (b *ResourceBuilder) Build() *Resource { return b.res }

// WindowBuilder builds an AccessWindow interval by interval.
type WindowBuilder struct {
	w *AccessWindow
}

func NewWindowBuilder() *WindowBuilder { return &WindowBuilder{w: &AccessWindow{}} }
func (b *WindowBuilder) Timezone(tz string) *WindowBuilder {
	b.w.Timezone = tz
	return b
}
func (b *WindowBuilder) On(day time.Weekday, start, end string) *WindowBuilder {
	b.w.Intervals = append(b.w.Intervals, WindowInterval{Weekday: day, Start: start, End: end})
	return b
}
func (b *WindowBuilder) Weekdays(start, end string) *WindowBuilder {
	for day := time.Monday; day <= time.Friday; day++ {
		b.w.Intervals = append(b.w.Intervals, WindowInterval{Weekday: day, Start: start, End: end})
	}
	return b
}
func (b *WindowBuilder) ValidFrom(t time.Time) *WindowBuilder {
	b.w.ValidFrom = &t
	return b
}
func (b *WindowBuilder) ValidUntil(t time.Time) *WindowBuilder {
	b.w.ValidUntil = &t
	return b
}
func (b *WindowBuilder) Build() *AccessWindow { return b.w }
