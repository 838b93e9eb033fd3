package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/warp/spend-ledger/ledger"
)

// AuditRecord is one stored audit event.
type AuditRecord struct {
	ID string
	ledger.AuditEntry
}

// SaveAudit appends a batch of audit entries in one transaction.
func (s *Store) SaveAudit(ctx context.Context, entries []ledger.AuditEntry) error {
	if len(entries) == 0 {
		return nil
	}
	return s.WithTx(ctx, func(ltx ledger.Tx) error {
		t := ltx.(*tx)
		for _, e := range entries {
			var meta sql.NullString
			if len(e.Metadata) > 0 {
				b, err := json.Marshal(e.Metadata)
				if err != nil {
					return fmt.Errorf("failed to encode audit metadata: %w", err)
				}
				meta = sql.NullString{String: string(b), Valid: true}
			}
			_, err := t.exec(ctx, `
				INSERT INTO audit_events
				(id, occurred_at, actor, trip_id, entity_type, entity_id, action, metadata_json)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				uuid.NewString(), formatTime(e.At), e.Actor, e.TripID,
				e.EntityType, e.EntityID, string(e.Action), meta,
			)
			if err != nil {
				return fmt.Errorf("failed to insert audit event: %w", err)
			}
		}
		return nil
	})
}

// AuditLog returns the trip's most recent audit events, newest first.
// limit <= 0 returns everything.
func (s *Store) AuditLog(ctx context.Context, tripID ledger.TripID, limit int) ([]AuditRecord, error) {
	query := `
		SELECT id, occurred_at, actor, trip_id, entity_type, entity_id, action, metadata_json
		FROM audit_events WHERE trip_id = ?
		ORDER BY occurred_at DESC, id DESC`
	args := []any{tripID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", s.dialect.Classify(err))
	}
	defer rows.Close()

	var out []AuditRecord
	for rows.Next() {
		var (
			r          AuditRecord
			occurredAt string
			action     string
			meta       sql.NullString
		)
		if err := rows.Scan(&r.ID, &occurredAt, &r.Actor, &r.TripID,
			&r.EntityType, &r.EntityID, &action, &meta); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		r.At = parseTime(occurredAt)
		r.Action = ledger.AuditAction(action)
		if meta.Valid {
			if err := json.Unmarshal([]byte(meta.String), &r.Metadata); err != nil {
				return nil, fmt.Errorf("corrupt metadata on audit event %s: %w", r.ID, err)
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
