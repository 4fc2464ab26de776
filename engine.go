package rbac

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/oarkflow/rbac/logger"
)

// ============================================================================
// DECISION ENGINE
// ============================================================================

// Engine is the authorization façade: it combines the isolation guard, the
// hierarchy resolver, the temporal evaluator and the verdict cache into a
// single Decide call, and owns every write path so cache invalidation is a
// precondition of write completion.
//
// The engine is an explicit, constructed component: build one per process,
// inject it where decisions are needed, flush it in tests. Decide is
// reentrant and safe for concurrent use; the only suspension points are the
// store calls, which receive the caller's context unchanged.
type Engine struct {
	st       Stores
	guard    *Guard
	resolver *HierarchyResolver

	cache  verdictCache
	gens   generations
	bucket time.Duration

	maxDepth           int
	resourceOptional   map[string]struct{}
	accessTypeOverride map[string]AccessType

	membership MembershipIndex

	logger      logger.Logger
	traceIDFunc logger.TraceIDFunc

	auditCh   chan AuditEntry
	auditDone chan struct{}
	auditSeq  atomic.Uint64
}

// EngineOption configures an Engine at construction time.
type EngineOption func(*Engine) error

// WithLogger installs a structured logger on the engine.
func WithLogger(l logger.Logger) EngineOption {
	return func(e *Engine) error {
		e.logger = l
		return nil
	}
}

// WithTraceIDFunc installs a correlation ID generator used on audit entries.
func WithTraceIDFunc(f logger.TraceIDFunc) EngineOption {
	return func(e *Engine) error {
		e.traceIDFunc = f
		return nil
	}
}

// WithMaxHierarchyDepth bounds role and resource parent-chain walks.
func WithMaxHierarchyDepth(depth int) EngineOption {
	return func(e *Engine) error {
		if depth <= 0 {
			return fmt.Errorf("max hierarchy depth must be positive, got %d", depth)
		}
		e.maxDepth = depth
		return nil
	}
}

// WithCacheBucket sets the time-bucket width mixed into verdict cache keys.
func WithCacheBucket(width time.Duration) EngineOption {
	return func(e *Engine) error {
		if width <= 0 {
			return fmt.Errorf("cache bucket width must be positive, got %s", width)
		}
		e.bucket = width
		return nil
	}
}

// WithResourceOptional marks permission codes whose checks pass on the role
// layer alone even when a resource id is supplied. Scope enforcement stays on
// for every other code.
func WithResourceOptional(codes ...string) EngineOption {
	return func(e *Engine) error {
		for _, c := range codes {
			e.resourceOptional[c] = struct{}{}
		}
		return nil
	}
}

// WithAccessTypeOverride pins the resource access type required by a
// permission code, overriding the verb-prefix heuristic.
func WithAccessTypeOverride(code string, t AccessType) EngineOption {
	return func(e *Engine) error {
		e.accessTypeOverride[code] = t
		return nil
	}
}

// WithMembershipIndex installs an advisory membership index (e.g. Redis). The
// engine keeps it updated on grant/revoke and the guard uses positive hits to
// skip store lookups.
func WithMembershipIndex(idx MembershipIndex) EngineOption {
	return func(e *Engine) error {
		e.membership = idx
		return nil
	}
}

func NewEngine(st Stores, opts ...EngineOption) (*Engine, error) {
	e := &Engine{
		st:                 st,
		cache:              newShardedCache(),
		bucket:             DefaultBucket,
		maxDepth:           DefaultMaxDepth,
		resourceOptional:   make(map[string]struct{}),
		accessTypeOverride: make(map[string]AccessType),
		logger:             logger.NewNullLogger(),
		auditCh:            make(chan AuditEntry, 1024),
		auditDone:          make(chan struct{}),
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	e.guard = NewGuard(st.UserRoles)
	if e.membership != nil {
		e.guard.WithIndex(e.membership)
	}
	e.resolver = NewHierarchyResolver(st.Roles, st.Resources, e.maxDepth)
	go e.auditWorker()
	return e, nil
}

// ConfigureRistrettoVerdictCache swaps the default sharded map for a
// ristretto-backed cache. Call before the engine serves traffic.
func (e *Engine) ConfigureRistrettoVerdictCache(numCounters, maxCost, bufferItems int64) error {
	c, err := newRistrettoCache(numCounters, maxCost, bufferItems)
	if err != nil {
		return fmt.Errorf("configure ristretto cache: %w", err)
	}
	e.cache = c
	return nil
}

// FlushVerdictCache drops every cached verdict. Intended for tests.
func (e *Engine) FlushVerdictCache() {
	e.cache.flush()
}

// Close stops the audit worker. Queued entries may be dropped.
func (e *Engine) Close() {
	select {
	case <-e.auditDone:
	default:
		close(e.auditDone)
	}
}

// ----------------------------------------------------------------------------
// Decide
// ----------------------------------------------------------------------------

// Decide answers whether actorID may perform check in orgID at instant now,
// optionally scoped to resourceID (empty string for no resource).
//
// Ordinary denials (NotMember, NoRole, NoResourceGrant, OutsideWindow,
// Expired) return a verdict and a nil error. Integrity faults (cyclic
// hierarchies) and store I/O faults return a denying verdict AND a non-nil
// error so callers can alert on them separately: the engine fails closed,
// never open.
func (e *Engine) Decide(ctx context.Context, actorID, orgID string, check Check, resourceID string, now time.Time) (*Verdict, error) {
	if check.Kind() == 0 {
		return deny(ReasonEvaluationError, now), ErrInvalidCheck
	}

	// Cache first: NotMember verdicts are never stored, so a hit can only be
	// a verdict that passed the membership guard within the current bucket
	// and generations. Write paths bump generations before returning, which
	// invalidates hits for revoked members.
	key := e.verdictKey(actorID, orgID, check, resourceID, now)
	if cached, ok := e.cache.get(key); ok {
		return cached, nil
	}

	member, err := e.guard.Member(ctx, actorID, orgID)
	if err != nil {
		v := deny(ReasonEvaluationError, now)
		e.audit(ctx, actorID, orgID, check, resourceID, v)
		return v, fmt.Errorf("evaluate membership: %w", err)
	}
	if !member {
		// no cache entry: cross-tenant probes must never populate the cache
		v := deny(ReasonNotMember, now)
		e.audit(ctx, actorID, orgID, check, resourceID, v)
		return v, nil
	}

	v, err := e.evaluate(ctx, actorID, orgID, check, resourceID, now, nil)
	if err == nil && v.Reason != ReasonNotMember {
		e.cache.set(key, v, e.bucket)
	}
	e.audit(ctx, actorID, orgID, check, resourceID, v)
	return v, err
}

// Explain evaluates like Decide but returns a step-by-step trace and bypasses
// the verdict cache.
func (e *Engine) Explain(ctx context.Context, actorID, orgID string, check Check, resourceID string, now time.Time) (*Verdict, error) {
	trace := make([]string, 0, 8)
	member, err := e.guard.Member(ctx, actorID, orgID)
	if err != nil {
		return deny(ReasonEvaluationError, now), fmt.Errorf("evaluate membership: %w", err)
	}
	if !member {
		trace = append(trace, fmt.Sprintf("DENY: %s has no active role in %s", actorID, orgID))
		v := deny(ReasonNotMember, now)
		v.Trace = trace
		return v, nil
	}
	trace = append(trace, fmt.Sprintf("guard: %s is a member of %s", actorID, orgID))
	v, err := e.evaluate(ctx, actorID, orgID, check, resourceID, now, &trace)
	v.Trace = trace
	return v, err
}

func (e *Engine) verdictKey(actorID, orgID string, check Check, resourceID string, now time.Time) VerdictKey {
	return VerdictKey{
		OrgID:      orgID,
		UserID:     actorID,
		Check:      check.Key(),
		ResourceID: resourceID,
		Bucket:     now.UnixNano() / int64(e.bucket),
		UserGen:    e.gens.user(orgID, actorID),
		GlobalGen:  e.gens.global.Load(),
	}
}

func tracef(trace *[]string, format string, args ...any) {
	if trace != nil {
		*trace = append(*trace, fmt.Sprintf(format, args...))
	}
}

// evaluate computes a verdict on a cache miss: role-layer capability first,
// then resource-layer scope if a resource is named.
func (e *Engine) evaluate(ctx context.Context, actorID, orgID string, check Check, resourceID string, now time.Time, trace *[]string) (*Verdict, error) {
	org, err := e.st.Organizations.GetOrganization(ctx, orgID)
	if err != nil {
		if errors.Is(err, ErrOrganizationNotFound) {
			tracef(trace, "organization %s: not found", orgID)
			return deny(ReasonNotMember, now), nil
		}
		return deny(ReasonEvaluationError, now), fmt.Errorf("load organization %s: %w", orgID, err)
	}
	if org.Status != OrgActive {
		tracef(trace, "organization %s: %s", orgID, org.Status)
		return deny(ReasonNotMember, now), nil
	}

	target, found, err := e.resolveCheckTarget(ctx, orgID, check)
	if err != nil {
		return deny(ReasonEvaluationError, now), err
	}
	if !found {
		// the permission is not defined in this organization, so no grant can
		// possibly cover it
		tracef(trace, "check %s: no such permission in %s", check, orgID)
		return deny(ReasonNoRole, now), nil
	}

	rows, err := e.st.UserRoles.ListActiveForUser(ctx, actorID, orgID)
	if err != nil {
		return deny(ReasonEvaluationError, now), fmt.Errorf("list assignments: %w", err)
	}

	var matchedRole string
	sawExpired, sawWindow := false, false
	for _, ur := range rows {
		grants, err := e.resolver.EffectiveGrants(ctx, ur.RoleID, orgID)
		if err != nil {
			if IsCyclicHierarchy(err) {
				e.logger.Error("cyclic role hierarchy", "role", ur.RoleID, "org", orgID, "error", err.Error())
				return deny(ReasonCyclicHierarchy, now), err
			}
			return deny(ReasonEvaluationError, now), err
		}
		if _, ok := grants[target]; !ok {
			tracef(trace, "role %s: does not grant %s", ur.RoleID, check)
			continue
		}
		if ur.IsExpired(now) {
			tracef(trace, "role %s: grants %s but assignment expired %s", ur.RoleID, check, ur.ExpiresAt.Format(time.RFC3339))
			sawExpired = true
			continue
		}
		ok, werr := ur.Window.Admits(now)
		if werr != nil {
			e.logger.Error("malformed access window on assignment", "assignment", ur.ID, "error", werr.Error())
		}
		if !ok {
			tracef(trace, "role %s: grants %s but window does not admit %s", ur.RoleID, check, now.Format(time.RFC3339))
			sawWindow = true
			continue
		}
		tracef(trace, "role %s: grants %s", ur.RoleID, check)
		matchedRole = ur.RoleID
		break
	}

	if matchedRole == "" {
		switch {
		case sawExpired:
			return deny(ReasonExpired, now), nil
		case sawWindow:
			return deny(ReasonOutsideWindow, now), nil
		default:
			return deny(ReasonNoRole, now), nil
		}
	}

	if resourceID == "" || e.resourceCheckOptional(check) {
		if resourceID != "" {
			tracef(trace, "resource %s: scope check waived for %s", resourceID, check)
		}
		v := allow(now)
		v.MatchedRole = matchedRole
		return v, nil
	}

	accessID, reason, err := e.evaluateResource(ctx, actorID, orgID, check, resourceID, now, trace)
	if err != nil {
		return deny(reason, now), err
	}
	if reason != ReasonNone {
		return deny(reason, now), nil
	}
	v := allow(now)
	v.MatchedRole = matchedRole
	v.MatchedAccess = accessID
	return v, nil
}

// evaluateResource walks the resource ancestor chain looking for an active
// access whose type covers the requested action and whose window admits now.
func (e *Engine) evaluateResource(ctx context.Context, actorID, orgID string, check Check, resourceID string, now time.Time, trace *[]string) (string, Reason, error) {
	res, err := e.st.Resources.GetResource(ctx, resourceID)
	if err != nil {
		if errors.Is(err, ErrResourceNotFound) {
			tracef(trace, "resource %s: not found", resourceID)
			return "", ReasonNoResourceGrant, nil
		}
		return "", ReasonEvaluationError, fmt.Errorf("load resource %s: %w", resourceID, err)
	}
	// a resource from another organization is indistinguishable from a
	// missing grant, by the isolation invariant
	if err := e.guard.SameOrganization(orgID, res); err != nil {
		tracef(trace, "resource %s: outside organization %s", resourceID, orgID)
		return "", ReasonNoResourceGrant, nil
	}
	if !res.IsActive {
		tracef(trace, "resource %s: inactive", resourceID)
		return "", ReasonNoResourceGrant, nil
	}

	chain, err := e.resolver.ResourceChain(ctx, resourceID, orgID)
	if err != nil {
		if IsCyclicHierarchy(err) {
			e.logger.Error("cyclic resource hierarchy", "resource", resourceID, "org", orgID, "error", err.Error())
			return "", ReasonCyclicHierarchy, err
		}
		return "", ReasonEvaluationError, err
	}

	need := e.requiredAccessType(check)
	sawWindow := false
	for _, node := range chain {
		accs, err := e.st.Accesses.ListActiveForResourceUser(ctx, node.ID, actorID)
		if err != nil {
			return "", ReasonEvaluationError, fmt.Errorf("list accesses on %s: %w", node.ID, err)
		}
		for _, acc := range accs {
			if !acc.Type.Covers(need) {
				tracef(trace, "access %s on %s: %s does not cover %s", acc.ID, node.ID, acc.Type, need)
				continue
			}
			ok, werr := acc.Window.Admits(now)
			if werr != nil {
				e.logger.Error("malformed access window on resource access", "access", acc.ID, "error", werr.Error())
			}
			if !ok {
				tracef(trace, "access %s on %s: window does not admit %s", acc.ID, node.ID, now.Format(time.RFC3339))
				sawWindow = true
				continue
			}
			tracef(trace, "access %s on %s: %s covers %s", acc.ID, node.ID, acc.Type, need)
			return acc.ID, ReasonNone, nil
		}
	}
	if sawWindow {
		return "", ReasonOutsideWindow, nil
	}
	tracef(trace, "resource %s: no active grant covers %s", resourceID, need)
	return "", ReasonNoResourceGrant, nil
}

// resolveCheckTarget maps a check onto the grant key of the permission record
// it names, resolving both variants of the sum exhaustively.
func (e *Engine) resolveCheckTarget(ctx context.Context, orgID string, check Check) (GrantKey, bool, error) {
	switch check.Kind() {
	case CheckPermission:
		p, err := e.st.Permissions.GetPermissionByCode(ctx, orgID, check.Code())
		if err != nil {
			if errors.Is(err, ErrPermissionNotFound) {
				return "", false, nil
			}
			return "", false, fmt.Errorf("resolve permission %q: %w", check.Code(), err)
		}
		return permissionKey(p.ID), true, nil
	case CheckField:
		entityType, field, t := check.Field()
		fp, err := e.st.Permissions.FindFieldPermission(ctx, orgID, entityType, field, t)
		if err != nil {
			if errors.Is(err, ErrFieldPermissionNotFound) {
				return "", false, nil
			}
			return "", false, fmt.Errorf("resolve field permission %s: %w", check, err)
		}
		return fieldKey(fp.ID), true, nil
	default:
		return "", false, ErrInvalidCheck
	}
}

func (e *Engine) resourceCheckOptional(check Check) bool {
	if check.Kind() != CheckPermission {
		return false
	}
	_, ok := e.resourceOptional[check.Code()]
	return ok
}

// requiredAccessType maps a check to the resource access type it needs.
// Field checks map by their permission type; coarse codes use the configured
// override or a verb-prefix heuristic.
func (e *Engine) requiredAccessType(check Check) AccessType {
	if check.Kind() == CheckField {
		_, _, t := check.Field()
		switch t {
		case PermWrite, PermCreate:
			return AccessWrite
		case PermDelete:
			return AccessDelete
		default:
			return AccessRead
		}
	}
	code := check.Code()
	if t, ok := e.accessTypeOverride[code]; ok {
		return t
	}
	switch {
	case code == string(AccessRead) || code == string(AccessWrite) || code == string(AccessDelete) || code == string(AccessAdmin):
		return AccessType(code)
	case strings.HasPrefix(code, "view_") || strings.HasPrefix(code, "read_") || strings.HasPrefix(code, "list_"):
		return AccessRead
	case strings.HasPrefix(code, "edit_") || strings.HasPrefix(code, "update_") || strings.HasPrefix(code, "write_") || strings.HasPrefix(code, "create_"):
		return AccessWrite
	case strings.HasPrefix(code, "delete_") || strings.HasPrefix(code, "remove_"):
		return AccessDelete
	case strings.HasPrefix(code, "manage_") || strings.HasPrefix(code, "admin_"):
		return AccessAdmin
	default:
		return AccessRead
	}
}

// ----------------------------------------------------------------------------
// Audit
// ----------------------------------------------------------------------------

func (e *Engine) audit(_ context.Context, actorID, orgID string, check Check, resourceID string, v *Verdict) {
	traceID := ""
	if e.traceIDFunc != nil {
		traceID = e.traceIDFunc()
	}
	entry := AuditEntry{
		ID:         fmt.Sprintf("%d-%d", v.Timestamp.UnixNano(), e.auditSeq.Add(1)),
		Timestamp:  v.Timestamp,
		OrgID:      orgID,
		ActorID:    actorID,
		Check:      check.Key(),
		ResourceID: resourceID,
		Allowed:    v.Allowed,
		Reason:     v.Reason,
		TraceID:    traceID,
	}

	e.logger.Info("verdict",
		"org", orgID,
		"actor", actorID,
		"check", check.String(),
		"resource", resourceID,
		"allowed", v.Allowed,
		"reason", string(v.Reason),
		"trace_id", traceID,
	)

	select {
	case e.auditCh <- entry:
	default:
		// never block the decision path on a slow audit sink
	}
}

func (e *Engine) auditWorker() {
	bg := context.Background()
	for {
		select {
		case entry := <-e.auditCh:
			if e.st.Audit == nil {
				continue
			}
			if err := e.st.Audit.LogVerdict(bg, &entry); err != nil {
				e.logger.Error("audit write failed", "entry", entry.ID, "error", err.Error())
			}
		case <-e.auditDone:
			return
		}
	}
}

// Verdicts exposes the audit trail to the calling layer.
func (e *Engine) Verdicts(ctx context.Context, filter AuditFilter) ([]*AuditEntry, error) {
	if e.st.Audit == nil {
		return nil, nil
	}
	return e.st.Audit.ListVerdicts(ctx, filter)
}

// ----------------------------------------------------------------------------
// Introspection
// ----------------------------------------------------------------------------

// EffectivePermissions returns a role's flattened grant set.
func (e *Engine) EffectivePermissions(ctx context.Context, roleID, orgID string) ([]*RolePermission, error) {
	grants, err := e.resolver.EffectiveGrants(ctx, roleID, orgID)
	if err != nil {
		return nil, err
	}
	out := make([]*RolePermission, 0, len(grants))
	for _, rp := range grants {
		out = append(out, rp)
	}
	return out, nil
}

// ListUserPermissions unions the effective grants of every assignment that is
// active, unexpired and inside its window at instant now.
func (e *Engine) ListUserPermissions(ctx context.Context, userID, orgID string, now time.Time) ([]*RolePermission, error) {
	rows, err := e.st.UserRoles.ListActiveForUser(ctx, userID, orgID)
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	seen := make(map[GrantKey]*RolePermission)
	for _, ur := range rows {
		if ur.IsExpired(now) {
			continue
		}
		if ok, _ := ur.Window.Admits(now); !ok {
			continue
		}
		grants, err := e.resolver.EffectiveGrants(ctx, ur.RoleID, orgID)
		if err != nil {
			return nil, err
		}
		for k, rp := range grants {
			if _, dup := seen[k]; !dup {
				seen[k] = rp
			}
		}
	}
	out := make([]*RolePermission, 0, len(seen))
	for _, rp := range seen {
		out = append(out, rp)
	}
	return out, nil
}
