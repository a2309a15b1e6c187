package repo

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/noah-isme/toko-pricing-matrix/internal/audit"
)

var _ audit.Store = (*AuditStore)(nil)

// AuditStore keeps admin change entries in pricing_audit_logs.
type AuditStore struct {
	db DB
}

// NewAuditStore builds the store over a pool (or any DB).
func NewAuditStore(db DB) *AuditStore {
	return &AuditStore{db: db}
}

func (s *AuditStore) InsertAuditLog(ctx context.Context, e audit.Entry) error {
	var metadata []byte
	if len(e.Metadata) > 0 {
		metadata = e.Metadata
	}
	_, err := s.db.Exec(ctx, `INSERT INTO pricing_audit_logs
(id, actor, action, resource, resource_id, method, path, route, status, ip, user_agent, request_id, metadata, created_at)
VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, NULLIF($8, ''), $9, NULLIF($10, ''), NULLIF($11, ''), NULLIF($12, ''), $13, $14)`,
		e.ID, e.Actor, e.Action, e.Resource, e.ResourceID, e.Method, e.Path, e.Route, e.Status,
		e.IP, e.UserAgent, e.RequestID, metadata, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

func (s *AuditStore) ListAuditLogs(ctx context.Context, limit, offset int) ([]audit.Entry, error) {
	rows, err := s.db.Query(ctx, `SELECT id, actor, action, resource, COALESCE(resource_id, ''), method, path,
COALESCE(route, ''), status, COALESCE(ip, ''), COALESCE(user_agent, ''), COALESCE(request_id, ''), metadata, created_at
FROM pricing_audit_logs ORDER BY created_at DESC, id LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list audit logs: %w", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (audit.Entry, error) {
		var e audit.Entry
		var metadata []byte
		err := row.Scan(&e.ID, &e.Actor, &e.Action, &e.Resource, &e.ResourceID, &e.Method, &e.Path,
			&e.Route, &e.Status, &e.IP, &e.UserAgent, &e.RequestID, &metadata, &e.CreatedAt)
		e.Metadata = metadata
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("list audit logs: %w", err)
	}
	return entries, nil
}
