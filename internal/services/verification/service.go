// Package verification implements the guard-side reconciliation of scanned
// vs. unscanned seal tags. It is two-phase: ComputeSummary shows the guard
// what would go MISSING, CompleteVerification commits it.
package verification

import (
	"context"
	"log/slog"

	"github.com/pkg/errors"

	"github.com/BearBump/SealTrip/internal/metrics"
	"github.com/BearBump/SealTrip/internal/models"
)

type Repository interface {
	GetTrip(ctx context.Context, tripID uint64) (*models.Trip, error)
	GetTagsByTrip(ctx context.Context, tripID uint64) ([]*models.SealTag, error)
	MarkTagScanned(ctx context.Context, tripID uint64, tagID string) (*models.SealTag, error)
	UpdateTagStatus(ctx context.Context, tagID, newStatus, comment string, evidence []string) (*models.SealTag, error)
}

// Finalizer is the trip lifecycle's completion entry point.
type Finalizer interface {
	Finalize(ctx context.Context, tripID uint64, missingTagIDs []string, summary *models.VerificationSummary, actorID uint64) error
}

type Service struct {
	repo      Repository
	finalizer Finalizer
}

func New(repo Repository, finalizer Finalizer) *Service {
	return &Service{repo: repo, finalizer: finalizer}
}

// RecordScan marks a tag VERIFIED. Re-scanning the same tag returns
// ErrAlreadyScanned with the current tag — a no-op, not a failure that
// should abort the guard's flow.
func (s *Service) RecordScan(ctx context.Context, tripID uint64, tagID string) (*models.SealTag, error) {
	if tagID == "" {
		return nil, models.ErrUnknownTag
	}
	tag, err := s.repo.MarkTagScanned(ctx, tripID, tagID)
	switch {
	case err == nil:
		metrics.ScansRecorded.WithLabelValues("ok").Inc()
	case errors.Is(err, models.ErrAlreadyScanned):
		metrics.ScansRecorded.WithLabelValues("already_scanned").Inc()
	default:
		metrics.ScansRecorded.WithLabelValues("rejected").Inc()
	}
	return tag, err
}

// UpdateSealStatus applies a manual damage flag. BROKEN and TAMPERED need a
// comment and at least one evidence photo; MISSING is never accepted here.
func (s *Service) UpdateSealStatus(ctx context.Context, tagID, newStatus, comment string, evidence []string) (*models.SealTag, error) {
	if tagID == "" {
		return nil, models.ErrUnknownTag
	}
	if err := models.ValidateTagStatusChange(newStatus, comment, evidence); err != nil {
		return nil, err
	}
	return s.repo.UpdateTagStatus(ctx, tagID, newStatus, comment, evidence)
}

// ComputeSummary reads the trip's tags and reports the reconciliation state.
// Tags still REGISTERED are the unscanned set earmarked to become MISSING.
func (s *Service) ComputeSummary(ctx context.Context, tripID uint64) (*models.VerificationSummary, error) {
	if _, err := s.repo.GetTrip(ctx, tripID); err != nil {
		return nil, err
	}
	tags, err := s.repo.GetTagsByTrip(ctx, tripID)
	if err != nil {
		return nil, err
	}
	return summarize(tripID, tags), nil
}

// CompleteVerification is the confirm phase. The guard submits the unscanned
// ids they reviewed; those still REGISTERED become MISSING and the trip
// completes, all in the lifecycle's one finalization unit.
func (s *Service) CompleteVerification(ctx context.Context, tripID uint64, unscannedTagIDs []string, actorID uint64) (*models.VerificationSummary, error) {
	trip, err := s.repo.GetTrip(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if trip.Status == models.TripStatusCompleted {
		return nil, models.ErrAlreadyCompleted
	}
	if trip.Status != models.TripStatusInProgress {
		return nil, models.ErrTripNotInProgress
	}

	tags, err := s.repo.GetTagsByTrip(ctx, tripID)
	if err != nil {
		return nil, err
	}
	known := make(map[string]*models.SealTag, len(tags))
	for _, tag := range tags {
		known[tag.TagID] = tag
	}
	for _, id := range unscannedTagIDs {
		if _, ok := known[id]; !ok {
			return nil, models.ErrUnknownTag
		}
	}

	// Summary of the state being committed: submitted REGISTERED tags
	// count as MISSING.
	summary := summarizeCompletion(tripID, tags, unscannedTagIDs)

	if err := s.finalizer.Finalize(ctx, tripID, unscannedTagIDs, summary, actorID); err != nil {
		return nil, err
	}
	slog.Info("trip verification completed",
		"trip_id", tripID, "total", summary.Total, "scanned", summary.Scanned, "missing", summary.StatusBreakdown[models.TagStatusMissing])
	return summary, nil
}

func summarize(tripID uint64, tags []*models.SealTag) *models.VerificationSummary {
	sum := &models.VerificationSummary{
		TripID:          tripID,
		Total:           len(tags),
		StatusBreakdown: map[string]int{},
	}
	for _, tag := range tags {
		sum.StatusBreakdown[tag.Status]++
		if tag.Status == models.TagStatusVerified {
			sum.Scanned++
		} else {
			sum.Unscanned++
			if tag.Status == models.TagStatusRegistered {
				sum.UnscannedTagIDs = append(sum.UnscannedTagIDs, tag.TagID)
			}
		}
	}
	return sum
}

func summarizeCompletion(tripID uint64, tags []*models.SealTag, unscannedTagIDs []string) *models.VerificationSummary {
	missing := make(map[string]struct{}, len(unscannedTagIDs))
	for _, id := range unscannedTagIDs {
		missing[id] = struct{}{}
	}

	sum := &models.VerificationSummary{
		TripID:          tripID,
		Total:           len(tags),
		UnscannedTagIDs: unscannedTagIDs,
		StatusBreakdown: map[string]int{},
	}
	for _, tag := range tags {
		status := tag.Status
		if _, ok := missing[tag.TagID]; ok && status == models.TagStatusRegistered {
			status = models.TagStatusMissing
		}
		sum.StatusBreakdown[status]++
		if status == models.TagStatusVerified {
			sum.Scanned++
		} else {
			sum.Unscanned++
		}
	}
	return sum
}
