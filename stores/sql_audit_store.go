package stores

import (
	"context"
	"strings"

	"github.com/oarkflow/squealx"

	"github.com/oarkflow/rbac"
)

// SQLAuditStore persists decision outcomes for compliance queries.
type SQLAuditStore struct {
	db *squealx.DB
}

func NewSQLAuditStore(db *squealx.DB) *SQLAuditStore {
	return &SQLAuditStore{db: db}
}

func (s *SQLAuditStore) LogVerdict(ctx context.Context, entry *rbac.AuditEntry) error {
	q := `INSERT INTO audit_entries(id, ts, org_id, actor_id, check_key, resource_id, allowed, reason, trace_id)
	      VALUES(:id, :ts, :org_id, :actor_id, :check_key, :resource_id, :allowed, :reason, :trace_id)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id": entry.ID, "ts": entry.Timestamp, "org_id": entry.OrgID, "actor_id": entry.ActorID,
		"check_key": entry.Check, "resource_id": entry.ResourceID,
		"allowed": boolToInt(entry.Allowed), "reason": string(entry.Reason), "trace_id": entry.TraceID,
	})
	return err
}

func (s *SQLAuditStore) ListVerdicts(ctx context.Context, f rbac.AuditFilter) ([]*rbac.AuditEntry, error) {
	conds := make([]string, 0, 5)
	args := map[string]any{}
	if f.OrgID != "" {
		conds = append(conds, "org_id = :org_id")
		args["org_id"] = f.OrgID
	}
	if f.ActorID != "" {
		conds = append(conds, "actor_id = :actor_id")
		args["actor_id"] = f.ActorID
	}
	if f.ResourceID != "" {
		conds = append(conds, "resource_id = :resource_id")
		args["resource_id"] = f.ResourceID
	}
	if !f.StartTime.IsZero() {
		conds = append(conds, "ts >= :start_ts")
		args["start_ts"] = f.StartTime
	}
	if !f.EndTime.IsZero() {
		conds = append(conds, "ts <= :end_ts")
		args["end_ts"] = f.EndTime
	}
	q := `SELECT id, ts, org_id, actor_id, check_key, resource_id, allowed, reason, trace_id FROM audit_entries`
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY ts DESC"
	if f.Limit > 0 {
		q += " LIMIT :limit"
		args["limit"] = f.Limit
	}
	rows, err := s.db.NamedQueryContext(ctx, q, args)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]*rbac.AuditEntry, 0)
	for rows.Next() {
		var id, orgID, actorID, checkKey, resourceID, reason, traceID string
		var tsRaw, allowedRaw any
		if err := rows.Scan(&id, &tsRaw, &orgID, &actorID, &checkKey, &resourceID, &allowedRaw, &reason, &traceID); err != nil {
			return nil, err
		}
		out = append(out, &rbac.AuditEntry{
			ID: id, Timestamp: scanTime(tsRaw), OrgID: orgID, ActorID: actorID,
			Check: checkKey, ResourceID: resourceID, Allowed: intToBool(allowedRaw),
			Reason: rbac.Reason(reason), TraceID: traceID,
		})
	}
	return out, nil
}
