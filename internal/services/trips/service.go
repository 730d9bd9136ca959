// Package trips owns the trip lifecycle: the atomic creation unit and the
// one-shot completion transition.
package trips

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/BearBump/SealTrip/internal/broker/messages"
	"github.com/BearBump/SealTrip/internal/cache"
	"github.com/BearBump/SealTrip/internal/metrics"
	"github.com/BearBump/SealTrip/internal/models"
)

const (
	TopicTripCreated   = "trip.created"
	TopicTripCompleted = "trip.completed"
)

type Repository interface {
	CreateTrip(ctx context.Context, in models.TripCreateInput, detail *models.TripDetail, bundle *models.EvidenceBundle) (*models.Trip, error)
	GetTrip(ctx context.Context, tripID uint64) (*models.Trip, error)
	GetTagsByTrip(ctx context.Context, tripID uint64) ([]*models.SealTag, error)
	GetSystemSeal(ctx context.Context, tripID uint64) (*models.SystemSeal, error)
	FinalizeTrip(ctx context.Context, tripID uint64, missingTagIDs []string, summary *models.VerificationSummary, actorID uint64) error
	LatestAuditEntry(ctx context.Context, targetType, targetID, action string) (*models.AuditEntry, error)
	ListAuditEntries(ctx context.Context, targetType, targetID string, limit, offset int) ([]*models.AuditEntry, error)
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

type Service struct {
	repo      Repository
	producer  Producer
	cache     cache.BytesCache
	detailTTL time.Duration
}

// New wires the lifecycle service. producer and cache may be nil; both are
// best-effort side channels, never part of the atomic unit.
func New(repo Repository, producer Producer, c cache.BytesCache, detailTTL time.Duration) *Service {
	return &Service{repo: repo, producer: producer, cache: c, detailTTL: detailTTL}
}

// TripView is the assembled read model: the trip row plus its seals.
type TripView struct {
	Trip       *models.Trip
	Tags       []*models.SealTag
	SystemSeal *models.SystemSeal
}

// CreateTrip validates the request, derives the system-seal barcode and runs
// the creation unit. On success it publishes trip.created and primes the
// detail cache; failures on those side channels are logged, not returned —
// the trip is already committed.
func (s *Service) CreateTrip(ctx context.Context, in models.TripCreateInput) (*models.Trip, error) {
	if err := validateCreate(&in); err != nil {
		return nil, err
	}
	if in.SystemSealBarcode == "" {
		in.SystemSealBarcode = defaultBarcode(in.Tags)
	}

	detail, bundle := buildAuditPayloads(in)
	trip, err := s.repo.CreateTrip(ctx, in, detail, bundle)
	if err != nil {
		if errors.Is(err, models.ErrDuplicateTag) {
			metrics.DuplicateTagRejections.Inc()
		}
		return nil, err
	}
	metrics.TripsCreated.Inc()

	if s.producer != nil {
		msg := messages.TripCreated{
			TripID:            trip.ID,
			AccountID:         in.AccountID,
			CompanyID:         in.CompanyID,
			Source:            in.Source,
			Destination:       in.Destination,
			SystemSealBarcode: in.SystemSealBarcode,
			TagCount:          len(in.Tags),
			CreatedAt:         trip.CreatedAt,
		}
		b, _ := json.Marshal(msg)
		if err := s.producer.Publish(ctx, TopicTripCreated, tripKey(trip.ID), b); err != nil {
			slog.Error("publish trip.created failed", "trip_id", trip.ID, "err", err)
		}
	}

	if s.cache != nil && s.detailTTL > 0 {
		b, _ := json.Marshal(detail)
		_ = s.cache.Set(ctx, detailKey(trip.ID), b, s.detailTTL)
	}

	return trip, nil
}

func validateCreate(in *models.TripCreateInput) error {
	if in.AccountID == 0 {
		return errors.New("accountId is required")
	}
	if in.Source == "" {
		return errors.New("source is required")
	}
	if in.Destination == "" {
		return errors.New("destination is required")
	}
	if len(in.Tags) < models.MinSealTags {
		return models.ErrTooFewTags
	}
	if len(in.Tags) > models.MaxSealTags {
		return models.ErrTooManyTags
	}
	seen := make(map[string]struct{}, len(in.Tags))
	for _, tag := range in.Tags {
		if tag.TagID == "" {
			return errors.New("tagId is required")
		}
		if tag.ImageEvidence == "" {
			return errors.Errorf("tag %s: image evidence is required", tag.TagID)
		}
		if !models.ValidTagMethod(tag.Method) {
			return errors.Errorf("tag %s: unknown method %q", tag.TagID, tag.Method)
		}
		if _, ok := seen[tag.TagID]; ok {
			return models.ErrDuplicateTag
		}
		seen[tag.TagID] = struct{}{}
	}
	return nil
}

// defaultBarcode falls back to the first scanned tag id, then a generated
// UUID. Either way the barcode is subject to the same global uniqueness
// constraint as tag identifiers.
func defaultBarcode(tags []models.TagInput) string {
	for _, tag := range tags {
		if tag.Method == models.TagMethodScanned {
			return "SYS-" + tag.TagID
		}
	}
	return "SYS-" + uuid.NewString()
}

func buildAuditPayloads(in models.TripCreateInput) (*models.TripDetail, *models.EvidenceBundle) {
	ids := make([]string, len(in.Tags))
	images := make([]models.EvidenceImage, len(in.Tags))
	for i, tag := range in.Tags {
		ids[i] = tag.TagID
		images[i] = models.EvidenceImage{TagID: tag.TagID, Ref: tag.ImageEvidence}
	}
	detail := &models.TripDetail{
		Source:            in.Source,
		Destination:       in.Destination,
		CreatedBy:         in.ActorID,
		CompanyID:         in.CompanyID,
		AccountID:         in.AccountID,
		SystemSealBarcode: in.SystemSealBarcode,
		TagCount:          len(in.Tags),
		TagIDs:            ids,
	}
	return detail, &models.EvidenceBundle{Images: images}
}

func (s *Service) GetTrip(ctx context.Context, tripID uint64) (*TripView, error) {
	trip, err := s.repo.GetTrip(ctx, tripID)
	if err != nil {
		return nil, err
	}
	tags, err := s.repo.GetTagsByTrip(ctx, tripID)
	if err != nil {
		return nil, err
	}
	seal, err := s.repo.GetSystemSeal(ctx, tripID)
	if err != nil {
		return nil, err
	}
	return &TripView{Trip: trip, Tags: tags, SystemSeal: seal}, nil
}

// TripDetail reconstitutes the trip-detail view: the latest CREATE audit
// entry, decoded. The cache is a pass-through in front of the projection.
func (s *Service) TripDetail(ctx context.Context, tripID uint64) (*models.TripDetail, error) {
	if s.cache != nil && s.detailTTL > 0 {
		b, ok, err := s.cache.Get(ctx, detailKey(tripID))
		if err == nil && ok {
			var d models.TripDetail
			if json.Unmarshal(b, &d) == nil {
				return &d, nil
			}
		}
	}

	e, err := s.repo.LatestAuditEntry(ctx, models.TargetTypeTrip, strconv.FormatUint(tripID, 10), models.AuditActionCreate)
	if err != nil {
		if errors.Is(err, models.ErrNoAuditEntry) {
			return nil, models.ErrTripNotFound
		}
		return nil, err
	}
	decoded, err := models.DecodeAuditDetail(e.Action, e.Detail)
	if err != nil {
		return nil, err
	}
	detail := decoded.(*models.TripDetail)

	if s.cache != nil && s.detailTTL > 0 {
		b, _ := json.Marshal(detail)
		_ = s.cache.Set(ctx, detailKey(tripID), b, s.detailTTL)
	}
	return detail, nil
}

// Finalize completes the trip exactly once and publishes trip.completed.
func (s *Service) Finalize(ctx context.Context, tripID uint64, missingTagIDs []string, summary *models.VerificationSummary, actorID uint64) error {
	if err := s.repo.FinalizeTrip(ctx, tripID, missingTagIDs, summary, actorID); err != nil {
		return err
	}
	metrics.TripsCompleted.Inc()

	if s.cache != nil {
		// Drop the cached projection so later reads rebuild from the trail.
		_ = s.cache.Del(ctx, detailKey(tripID))
	}

	if s.producer != nil {
		msg := messages.TripCompleted{
			TripID:          tripID,
			Total:           summary.Total,
			Scanned:         summary.Scanned,
			Unscanned:       summary.Unscanned,
			StatusBreakdown: summary.StatusBreakdown,
			CompletedAt:     time.Now().UTC(),
		}
		b, _ := json.Marshal(msg)
		if err := s.producer.Publish(ctx, TopicTripCompleted, tripKey(tripID), b); err != nil {
			slog.Error("publish trip.completed failed", "trip_id", tripID, "err", err)
		}
	}
	return nil
}

// LatestAuditEntry exposes the read-only audit query for report consumers.
func (s *Service) LatestAuditEntry(ctx context.Context, targetType, targetID, action string) (*models.AuditEntry, error) {
	return s.repo.LatestAuditEntry(ctx, targetType, targetID, action)
}

// AuditHistory lists a target's entries, newest first.
func (s *Service) AuditHistory(ctx context.Context, targetType, targetID string, limit, offset int) ([]*models.AuditEntry, error) {
	return s.repo.ListAuditEntries(ctx, targetType, targetID, limit, offset)
}

func detailKey(tripID uint64) string {
	return fmt.Sprintf("trip:%d:detail", tripID)
}

func tripKey(tripID uint64) []byte {
	return []byte(strconv.FormatUint(tripID, 10))
}
