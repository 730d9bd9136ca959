package pgstore

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS accounts (
  id BIGSERIAL PRIMARY KEY,
  coins BIGINT NOT NULL DEFAULT 0 CHECK (coins >= 0),
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
		`
CREATE TABLE IF NOT EXISTS coin_transactions (
  id BIGSERIAL PRIMARY KEY,
  from_account BIGINT NOT NULL REFERENCES accounts(id),
  to_account BIGINT NOT NULL REFERENCES accounts(id),
  amount BIGINT NOT NULL CHECK (amount > 0),
  entry_kind TEXT NOT NULL,
  reason_code TEXT NOT NULL,
  note TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_coin_tx_from_created ON coin_transactions(from_account, created_at DESC, id DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_coin_tx_to_created ON coin_transactions(to_account, created_at DESC, id DESC)`,
		`
CREATE TABLE IF NOT EXISTS trips (
  id BIGSERIAL PRIMARY KEY,
  source TEXT NOT NULL,
  destination TEXT NOT NULL,
  status TEXT NOT NULL,
  created_by BIGINT NOT NULL,
  company_id BIGINT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  completed_at TIMESTAMPTZ NULL
)`,
		// tag_id is the natural key; the primary-key constraint is the
		// atomic cross-trip uniqueness check (23505 => DuplicateTag).
		`
CREATE TABLE IF NOT EXISTS seal_tags (
  tag_id TEXT PRIMARY KEY,
  trip_id BIGINT NOT NULL REFERENCES trips(id),
  method TEXT NOT NULL,
  image_evidence TEXT NOT NULL,
  status TEXT NOT NULL,
  status_comment TEXT NOT NULL DEFAULT '',
  status_evidence JSONB NULL,
  created_at TIMESTAMPTZ NOT NULL,
  verified_at TIMESTAMPTZ NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_seal_tags_trip_id ON seal_tags(trip_id)`,
		`
CREATE TABLE IF NOT EXISTS system_seals (
  trip_id BIGINT PRIMARY KEY REFERENCES trips(id),
  barcode TEXT NOT NULL UNIQUE,
  verified BOOLEAN NOT NULL DEFAULT FALSE,
  verified_by BIGINT NULL,
  scanned_at TIMESTAMPTZ NULL,
  created_at TIMESTAMPTZ NOT NULL
)`,
		`
CREATE TABLE IF NOT EXISTS audit_entries (
  id BIGSERIAL PRIMARY KEY,
  actor_id BIGINT NOT NULL,
  action TEXT NOT NULL,
  target_type TEXT NOT NULL,
  target_id TEXT NOT NULL,
  detail JSONB NOT NULL,
  created_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_audit_target_action ON audit_entries(target_type, target_id, action, created_at DESC, id DESC)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
