package pgstore

import (
	"context"
	stderrors "errors"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"

	"github.com/BearBump/SealTrip/internal/models"
)

const pgUniqueViolation = "23505"

// registerTagTx inserts one seal tag inside the trip creation unit. The
// primary key on tag_id is the duplicate check: there is no separate
// lookup, the constraint violation itself is the DuplicateTag signal.
func registerTagTx(ctx context.Context, tx pgx.Tx, tripID uint64, in models.TagInput, now time.Time) error {
	_, err := tx.Exec(ctx, `
INSERT INTO seal_tags (tag_id, trip_id, method, image_evidence, status, created_at)
VALUES ($1,$2,$3,$4,$5,$6)
`, in.TagID, tripID, in.Method, in.ImageEvidence, models.TagStatusRegistered, now)
	if isUniqueViolation(err) {
		return models.ErrDuplicateTag
	}
	if err != nil {
		return errors.Wrap(err, "insert seal tag")
	}
	return nil
}

func insertSystemSealTx(ctx context.Context, tx pgx.Tx, tripID uint64, barcode string, now time.Time) error {
	_, err := tx.Exec(ctx, `
INSERT INTO system_seals (trip_id, barcode, created_at)
VALUES ($1,$2,$3)
`, tripID, barcode, now)
	if isUniqueViolation(err) {
		return models.ErrDuplicateBarcode
	}
	if err != nil {
		return errors.Wrap(err, "insert system seal")
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return stderrors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func (s *Storage) CountTagsForTrip(ctx context.Context, tripID uint64) (int, error) {
	var n int
	err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM seal_tags WHERE trip_id = $1`, tripID).Scan(&n)
	if err != nil {
		return 0, errors.Wrap(err, "count seal tags")
	}
	return n, nil
}

func (s *Storage) GetTag(ctx context.Context, tagID string) (*models.SealTag, error) {
	row := s.db.QueryRow(ctx, `
SELECT tag_id, trip_id, method, image_evidence, status, status_comment, status_evidence, created_at, verified_at
FROM seal_tags WHERE tag_id = $1
`, tagID)
	tag, err := scanTag(row)
	if err == pgx.ErrNoRows {
		return nil, models.ErrUnknownTag
	}
	if err != nil {
		return nil, errors.Wrap(err, "select seal tag")
	}
	return tag, nil
}

func (s *Storage) GetTagsByTrip(ctx context.Context, tripID uint64) ([]*models.SealTag, error) {
	rows, err := s.db.Query(ctx, `
SELECT tag_id, trip_id, method, image_evidence, status, status_comment, status_evidence, created_at, verified_at
FROM seal_tags WHERE trip_id = $1
ORDER BY created_at ASC, tag_id ASC
`, tripID)
	if err != nil {
		return nil, errors.Wrap(err, "select seal tags")
	}
	defer rows.Close()

	var out []*models.SealTag
	for rows.Next() {
		tag, err := scanTag(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan seal tag")
		}
		out = append(out, tag)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func (s *Storage) GetSystemSeal(ctx context.Context, tripID uint64) (*models.SystemSeal, error) {
	var seal models.SystemSeal
	err := s.db.QueryRow(ctx, `
SELECT trip_id, barcode, verified, verified_by, scanned_at, created_at
FROM system_seals WHERE trip_id = $1
`, tripID).Scan(&seal.TripID, &seal.Barcode, &seal.Verified, &seal.VerifiedBy, &seal.ScannedAt, &seal.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, models.ErrTripNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select system seal")
	}
	return &seal, nil
}

// UpdateTagStatus applies a manual status flag (BROKEN/TAMPERED, or VERIFIED
// via the scan path). Evidence preconditions are the caller's job; the state
// machine rules are enforced here, under a row lock, so two racing updates
// serialize.
func (s *Storage) UpdateTagStatus(ctx context.Context, tagID, newStatus, comment string, evidence []string) (*models.SealTag, error) {
	var out *models.SealTag
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		tag, tripStatus, err := lockTagTx(ctx, tx, tagID)
		if err != nil {
			return err
		}
		if tripStatus == models.TripStatusCompleted {
			// Statuses freeze once the trip completes.
			return models.ErrAlreadyCompleted
		}
		if models.TerminalTagStatus(tag.Status) {
			return models.ErrInvalidTransition
		}

		evidenceJSON, err := json.Marshal(evidence)
		if err != nil {
			return errors.Wrap(err, "marshal evidence")
		}
		row := tx.QueryRow(ctx, `
UPDATE seal_tags
SET status = $2, status_comment = $3, status_evidence = $4
WHERE tag_id = $1
RETURNING tag_id, trip_id, method, image_evidence, status, status_comment, status_evidence, created_at, verified_at
`, tagID, newStatus, comment, evidenceJSON)
		out, err = scanTag(row)
		return errors.Wrap(err, "update seal tag status")
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// MarkTagScanned flips REGISTERED -> VERIFIED for a guard's scan. Re-scans
// surface as ErrAlreadyScanned so callers can treat them as no-ops.
func (s *Storage) MarkTagScanned(ctx context.Context, tripID uint64, tagID string) (*models.SealTag, error) {
	var out *models.SealTag
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		tag, tripStatus, err := lockTagTx(ctx, tx, tagID)
		if err != nil {
			return err
		}
		if tag.TripID != tripID {
			return models.ErrUnknownTag
		}
		if tripStatus != models.TripStatusInProgress {
			return models.ErrTripNotInProgress
		}
		switch tag.Status {
		case models.TagStatusVerified:
			out = tag
			return models.ErrAlreadyScanned
		case models.TagStatusRegistered:
		default:
			return models.ErrInvalidTransition
		}

		row := tx.QueryRow(ctx, `
UPDATE seal_tags
SET status = $2, verified_at = $3
WHERE tag_id = $1
RETURNING tag_id, trip_id, method, image_evidence, status, status_comment, status_evidence, created_at, verified_at
`, tagID, models.TagStatusVerified, time.Now().UTC())
		out, err = scanTag(row)
		return errors.Wrap(err, "mark seal tag scanned")
	})
	if err != nil && !stderrors.Is(err, models.ErrAlreadyScanned) {
		return nil, err
	}
	return out, err
}

// markTagsMissingTx assigns MISSING to still-REGISTERED unscanned tags at
// completion time. Tags already flagged BROKEN/TAMPERED keep their status.
func markTagsMissingTx(ctx context.Context, tx pgx.Tx, tripID uint64, tagIDs []string) error {
	if len(tagIDs) == 0 {
		return nil
	}
	_, err := tx.Exec(ctx, `
UPDATE seal_tags
SET status = $3
WHERE trip_id = $1 AND tag_id = ANY($2) AND status = $4
`, tripID, tagIDs, models.TagStatusMissing, models.TagStatusRegistered)
	return errors.Wrap(err, "mark seal tags missing")
}

func markSystemSealVerifiedTx(ctx context.Context, tx pgx.Tx, tripID uint64, verifiedBy uint64, now time.Time) error {
	_, err := tx.Exec(ctx, `
UPDATE system_seals
SET verified = TRUE, verified_by = $2, scanned_at = $3
WHERE trip_id = $1
`, tripID, verifiedBy, now)
	return errors.Wrap(err, "mark system seal verified")
}

func lockTagTx(ctx context.Context, tx pgx.Tx, tagID string) (*models.SealTag, string, error) {
	row := tx.QueryRow(ctx, `
SELECT t.tag_id, t.trip_id, t.method, t.image_evidence, t.status, t.status_comment, t.status_evidence, t.created_at, t.verified_at,
       tr.status
FROM seal_tags t
JOIN trips tr ON tr.id = t.trip_id
WHERE t.tag_id = $1
FOR UPDATE OF t
`, tagID)

	var tag models.SealTag
	var evidenceJSON []byte
	var tripStatus string
	err := row.Scan(
		&tag.TagID, &tag.TripID, &tag.Method, &tag.ImageEvidence,
		&tag.Status, &tag.StatusComment, &evidenceJSON, &tag.CreatedAt, &tag.VerifiedAt,
		&tripStatus,
	)
	if err == pgx.ErrNoRows {
		return nil, "", models.ErrUnknownTag
	}
	if err != nil {
		return nil, "", errors.Wrap(err, "lock seal tag")
	}
	if len(evidenceJSON) > 0 {
		_ = json.Unmarshal(evidenceJSON, &tag.StatusEvidence)
	}
	return &tag, tripStatus, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTag(row rowScanner) (*models.SealTag, error) {
	var tag models.SealTag
	var evidenceJSON []byte
	err := row.Scan(
		&tag.TagID, &tag.TripID, &tag.Method, &tag.ImageEvidence,
		&tag.Status, &tag.StatusComment, &evidenceJSON, &tag.CreatedAt, &tag.VerifiedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(evidenceJSON) > 0 {
		_ = json.Unmarshal(evidenceJSON, &tag.StatusEvidence)
	}
	return &tag, nil
}
