package pgstore

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/BearBump/SealTrip/internal/models"
)

// CreateTrip executes the whole creation unit in one transaction: debit one
// coin, insert the trip IN_PROGRESS, attach the system seal, register every
// tag, then append the CREATE and STORE_IMAGES audit entries. Any failure —
// insufficient balance, a duplicate tag, a taken barcode — discards all of
// it, including the debit.
func (s *Storage) CreateTrip(ctx context.Context, in models.TripCreateInput, detail *models.TripDetail, bundle *models.EvidenceBundle) (*models.Trip, error) {
	var trip models.Trip
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		now := time.Now().UTC()

		if _, err := debitTx(ctx, tx, in.AccountID, 1, models.ReasonSessionCreation, "trip creation"); err != nil {
			return err
		}

		// Trips are created with seals already attached, so they skip
		// PENDING and start IN_PROGRESS.
		err := tx.QueryRow(ctx, `
INSERT INTO trips (source, destination, status, created_by, company_id, created_at)
VALUES ($1,$2,$3,$4,$5,$6)
RETURNING id, source, destination, status, created_by, company_id, created_at, completed_at
`, in.Source, in.Destination, models.TripStatusInProgress, in.ActorID, in.CompanyID, now).Scan(
			&trip.ID, &trip.Source, &trip.Destination, &trip.Status,
			&trip.CreatedBy, &trip.CompanyID, &trip.CreatedAt, &trip.CompletedAt,
		)
		if err != nil {
			return errors.Wrap(err, "insert trip")
		}

		if err := insertSystemSealTx(ctx, tx, trip.ID, in.SystemSealBarcode, now); err != nil {
			return err
		}

		for _, tag := range in.Tags {
			if err := registerTagTx(ctx, tx, trip.ID, tag, now); err != nil {
				return err
			}
		}

		targetID := strconv.FormatUint(trip.ID, 10)

		detail.TripID = trip.ID
		detail.CreatedAt = trip.CreatedAt
		detailJSON, err := json.Marshal(detail)
		if err != nil {
			return errors.Wrap(err, "marshal trip detail")
		}
		if _, err := appendAuditTx(ctx, tx, in.ActorID, models.AuditActionCreate, models.TargetTypeTrip, targetID, detailJSON); err != nil {
			return err
		}

		// The evidence bundle goes in a second entry to keep the primary
		// detail record small.
		bundle.TripID = trip.ID
		bundleJSON, err := json.Marshal(bundle)
		if err != nil {
			return errors.Wrap(err, "marshal evidence bundle")
		}
		_, err = appendAuditTx(ctx, tx, in.ActorID, models.AuditActionStoreImages, models.TargetTypeTrip, targetID, bundleJSON)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &trip, nil
}

func (s *Storage) GetTrip(ctx context.Context, tripID uint64) (*models.Trip, error) {
	var trip models.Trip
	err := s.db.QueryRow(ctx, `
SELECT id, source, destination, status, created_by, company_id, created_at, completed_at
FROM trips WHERE id = $1
`, tripID).Scan(
		&trip.ID, &trip.Source, &trip.Destination, &trip.Status,
		&trip.CreatedBy, &trip.CompanyID, &trip.CreatedAt, &trip.CompletedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, models.ErrTripNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select trip")
	}
	return &trip, nil
}

// FinalizeTrip flips the trip to COMPLETED exactly once, marks the given
// unscanned tags MISSING, verifies the system seal and appends the summary
// audit entry, all in one transaction. The status compare-and-set makes a
// double submission fail with AlreadyCompleted instead of re-applying
// anything.
func (s *Storage) FinalizeTrip(ctx context.Context, tripID uint64, missingTagIDs []string, summary *models.VerificationSummary, actorID uint64) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		now := time.Now().UTC()

		ct, err := tx.Exec(ctx, `
UPDATE trips SET status = $2, completed_at = $3
WHERE id = $1 AND status = $4
`, tripID, models.TripStatusCompleted, now, models.TripStatusInProgress)
		if err != nil {
			return errors.Wrap(err, "complete trip")
		}
		if ct.RowsAffected() == 0 {
			var status string
			err := tx.QueryRow(ctx, `SELECT status FROM trips WHERE id = $1`, tripID).Scan(&status)
			if err == pgx.ErrNoRows {
				return models.ErrTripNotFound
			}
			if err != nil {
				return errors.Wrap(err, "check trip status")
			}
			if status == models.TripStatusCompleted {
				return models.ErrAlreadyCompleted
			}
			return models.ErrTripNotInProgress
		}

		if err := markTagsMissingTx(ctx, tx, tripID, missingTagIDs); err != nil {
			return err
		}
		if err := markSystemSealVerifiedTx(ctx, tx, tripID, actorID, now); err != nil {
			return err
		}

		summaryJSON, err := json.Marshal(summary)
		if err != nil {
			return errors.Wrap(err, "marshal verification summary")
		}
		_, err = appendAuditTx(ctx, tx, actorID, models.AuditActionUpdate, models.TargetTypeTrip,
			strconv.FormatUint(tripID, 10), summaryJSON)
		return err
	})
}
