package pgstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/BearBump/SealTrip/internal/models"
)

// AppendAudit writes one immutable audit entry. There is no update or
// delete; history is the entries themselves.
func (s *Storage) AppendAudit(ctx context.Context, actorID uint64, action, targetType, targetID string, detail json.RawMessage) (uint64, error) {
	var id uint64
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		var err error
		id, err = appendAuditTx(ctx, tx, actorID, action, targetType, targetID, detail)
		return err
	})
	return id, err
}

func appendAuditTx(ctx context.Context, tx pgx.Tx, actorID uint64, action, targetType, targetID string, detail json.RawMessage) (uint64, error) {
	var id uint64
	err := tx.QueryRow(ctx, `
INSERT INTO audit_entries (actor_id, action, target_type, target_id, detail, created_at)
VALUES ($1,$2,$3,$4,$5,$6)
RETURNING id
`, actorID, action, targetType, targetID, detail, time.Now().UTC()).Scan(&id)
	if err != nil {
		return 0, errors.Wrap(err, "insert audit entry")
	}
	return id, nil
}

// LatestAuditEntry returns the most recent entry for a target and action.
// Derived views (the trip-detail projection) are defined by this query.
func (s *Storage) LatestAuditEntry(ctx context.Context, targetType, targetID, action string) (*models.AuditEntry, error) {
	var e models.AuditEntry
	err := s.db.QueryRow(ctx, `
SELECT id, actor_id, action, target_type, target_id, detail, created_at
FROM audit_entries
WHERE target_type = $1 AND target_id = $2 AND action = $3
ORDER BY created_at DESC, id DESC
LIMIT 1
`, targetType, targetID, action).Scan(
		&e.ID, &e.ActorID, &e.Action, &e.TargetType, &e.TargetID, &e.Detail, &e.CreatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, models.ErrNoAuditEntry
	}
	if err != nil {
		return nil, errors.Wrap(err, "select latest audit entry")
	}
	return &e, nil
}

// ListAuditEntries returns a target's history, newest first.
func (s *Storage) ListAuditEntries(ctx context.Context, targetType, targetID string, limit, offset int) ([]*models.AuditEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.Query(ctx, `
SELECT id, actor_id, action, target_type, target_id, detail, created_at
FROM audit_entries
WHERE target_type = $1 AND target_id = $2
ORDER BY created_at DESC, id DESC
LIMIT $3 OFFSET $4
`, targetType, targetID, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "select audit entries")
	}
	defer rows.Close()

	var out []*models.AuditEntry
	for rows.Next() {
		var e models.AuditEntry
		if err := rows.Scan(
			&e.ID, &e.ActorID, &e.Action, &e.TargetType, &e.TargetID, &e.Detail, &e.CreatedAt,
		); err != nil {
			return nil, errors.Wrap(err, "scan audit entry")
		}
		out = append(out, &e)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}
