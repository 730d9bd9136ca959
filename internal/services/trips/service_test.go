package trips

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/BearBump/SealTrip/internal/models"
)

type fakeRepo struct {
	createIn  *models.TripCreateInput
	createOut *models.Trip
	createErr error

	finalizeID      uint64
	finalizeMissing []string
	finalizeErr     error

	latestEntry *models.AuditEntry
	latestErr   error
}

func (f *fakeRepo) CreateTrip(ctx context.Context, in models.TripCreateInput, detail *models.TripDetail, bundle *models.EvidenceBundle) (*models.Trip, error) {
	f.createIn = &in
	if f.createErr != nil {
		return nil, f.createErr
	}
	detail.TripID = f.createOut.ID
	bundle.TripID = f.createOut.ID
	return f.createOut, nil
}
func (f *fakeRepo) GetTrip(ctx context.Context, tripID uint64) (*models.Trip, error) {
	return &models.Trip{ID: tripID, Status: models.TripStatusInProgress}, nil
}
func (f *fakeRepo) GetTagsByTrip(ctx context.Context, tripID uint64) ([]*models.SealTag, error) {
	return []*models.SealTag{}, nil
}
func (f *fakeRepo) GetSystemSeal(ctx context.Context, tripID uint64) (*models.SystemSeal, error) {
	return &models.SystemSeal{TripID: tripID, Barcode: "SYS-X"}, nil
}
func (f *fakeRepo) FinalizeTrip(ctx context.Context, tripID uint64, missingTagIDs []string, summary *models.VerificationSummary, actorID uint64) error {
	f.finalizeID = tripID
	f.finalizeMissing = missingTagIDs
	return f.finalizeErr
}
func (f *fakeRepo) LatestAuditEntry(ctx context.Context, targetType, targetID, action string) (*models.AuditEntry, error) {
	return f.latestEntry, f.latestErr
}
func (f *fakeRepo) ListAuditEntries(ctx context.Context, targetType, targetID string, limit, offset int) ([]*models.AuditEntry, error) {
	if f.latestEntry == nil {
		return []*models.AuditEntry{}, nil
	}
	return []*models.AuditEntry{f.latestEntry}, nil
}

type fakeProducer struct {
	topics []string
	keys   [][]byte
	values [][]byte
}

func (p *fakeProducer) Publish(ctx context.Context, topic string, key, value []byte) error {
	p.topics = append(p.topics, topic)
	p.keys = append(p.keys, key)
	p.values = append(p.values, value)
	return nil
}

type fakeCache struct {
	m map[string][]byte
}

func (c *fakeCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, ok := c.m[key]
	return b, ok, nil
}
func (c *fakeCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.m[key] = value
	return nil
}
func (c *fakeCache) Del(ctx context.Context, key string) error {
	delete(c.m, key)
	return nil
}

func validInput(n int) models.TripCreateInput {
	tags := make([]models.TagInput, 0, n)
	for i := 0; i < n; i++ {
		tags = append(tags, models.TagInput{
			TagID:         fmt.Sprintf("T-%03d", i),
			Method:        models.TagMethodScanned,
			ImageEvidence: fmt.Sprintf("img/%03d.jpg", i),
		})
	}
	return models.TripCreateInput{
		AccountID:   3,
		ActorID:     9,
		CompanyID:   1,
		Source:      "Warehouse A",
		Destination: "Port B",
		Tags:        tags,
	}
}

func TestService_CreateTrip_TagBounds(t *testing.T) {
	r := &fakeRepo{createOut: &models.Trip{ID: 1}}
	s := New(r, nil, nil, 0)

	_, err := s.CreateTrip(context.Background(), validInput(19))
	require.ErrorIs(t, err, models.ErrTooFewTags)

	_, err = s.CreateTrip(context.Background(), validInput(41))
	require.ErrorIs(t, err, models.ErrTooManyTags)

	require.Nil(t, r.createIn)

	_, err = s.CreateTrip(context.Background(), validInput(20))
	require.NoError(t, err)
	_, err = s.CreateTrip(context.Background(), validInput(40))
	require.NoError(t, err)
}

func TestService_CreateTrip_Validate(t *testing.T) {
	r := &fakeRepo{createOut: &models.Trip{ID: 1}}
	s := New(r, nil, nil, 0)

	in := validInput(20)
	in.AccountID = 0
	_, err := s.CreateTrip(context.Background(), in)
	require.Error(t, err)

	in = validInput(20)
	in.Tags[4].ImageEvidence = ""
	_, err = s.CreateTrip(context.Background(), in)
	require.Error(t, err)

	in = validInput(20)
	in.Tags[4].Method = "GUESSED"
	_, err = s.CreateTrip(context.Background(), in)
	require.Error(t, err)

	// Same tag twice in one request.
	in = validInput(20)
	in.Tags[5].TagID = in.Tags[4].TagID
	_, err = s.CreateTrip(context.Background(), in)
	require.ErrorIs(t, err, models.ErrDuplicateTag)
}

func TestService_CreateTrip_DefaultBarcode(t *testing.T) {
	r := &fakeRepo{createOut: &models.Trip{ID: 1}}
	s := New(r, nil, nil, 0)

	in := validInput(20)
	_, err := s.CreateTrip(context.Background(), in)
	require.NoError(t, err)
	require.Equal(t, "SYS-T-000", r.createIn.SystemSealBarcode)

	// No scanned tags: a generated barcode, still prefixed.
	in = validInput(20)
	for i := range in.Tags {
		in.Tags[i].Method = models.TagMethodManual
	}
	_, err = s.CreateTrip(context.Background(), in)
	require.NoError(t, err)
	require.NotEmpty(t, r.createIn.SystemSealBarcode)
	require.NotEqual(t, "SYS-T-000", r.createIn.SystemSealBarcode)

	// Caller-supplied barcodes pass through untouched.
	in = validInput(20)
	in.SystemSealBarcode = "SYS-CUSTOM"
	_, err = s.CreateTrip(context.Background(), in)
	require.NoError(t, err)
	require.Equal(t, "SYS-CUSTOM", r.createIn.SystemSealBarcode)
}

func TestService_CreateTrip_PublishesAndCaches(t *testing.T) {
	r := &fakeRepo{createOut: &models.Trip{ID: 42, Status: models.TripStatusInProgress}}
	p := &fakeProducer{}
	c := &fakeCache{m: map[string][]byte{}}
	s := New(r, p, c, 10*time.Minute)

	trip, err := s.CreateTrip(context.Background(), validInput(20))
	require.NoError(t, err)
	require.EqualValues(t, 42, trip.ID)

	require.Equal(t, []string{TopicTripCreated}, p.topics)
	require.Equal(t, []byte("42"), p.keys[0])

	b, ok := c.m["trip:42:detail"]
	require.True(t, ok)
	var d models.TripDetail
	require.NoError(t, json.Unmarshal(b, &d))
	require.EqualValues(t, 42, d.TripID)
	require.Equal(t, 20, d.TagCount)
}

func TestService_CreateTrip_RepoErrorNoPublish(t *testing.T) {
	r := &fakeRepo{createErr: models.ErrInsufficientBalance}
	p := &fakeProducer{}
	s := New(r, p, nil, 0)

	_, err := s.CreateTrip(context.Background(), validInput(20))
	require.ErrorIs(t, err, models.ErrInsufficientBalance)
	require.Empty(t, p.topics)
}

func TestService_TripDetail_CacheHitSkipsAudit(t *testing.T) {
	r := &fakeRepo{latestErr: models.ErrNoAuditEntry}
	c := &fakeCache{m: map[string][]byte{}}
	s := New(r, nil, c, 10*time.Minute)

	want := models.TripDetail{TripID: 7, Source: "A", Destination: "B"}
	b, _ := json.Marshal(want)
	c.m["trip:7:detail"] = b

	d, err := s.TripDetail(context.Background(), 7)
	require.NoError(t, err)
	require.EqualValues(t, 7, d.TripID)
}

func TestService_TripDetail_ProjectsLatestCreateEntry(t *testing.T) {
	detail := models.TripDetail{TripID: 7, Source: "A", Destination: "B", TagCount: 20}
	raw, _ := json.Marshal(detail)
	r := &fakeRepo{latestEntry: &models.AuditEntry{
		Action: models.AuditActionCreate, TargetType: models.TargetTypeTrip, TargetID: "7", Detail: raw,
	}}
	c := &fakeCache{m: map[string][]byte{}}
	s := New(r, nil, c, 10*time.Minute)

	d, err := s.TripDetail(context.Background(), 7)
	require.NoError(t, err)
	require.Equal(t, 20, d.TagCount)

	// Projection result got cached.
	_, ok := c.m["trip:7:detail"]
	require.True(t, ok)
}

func TestService_TripDetail_NoEntryIsNotFound(t *testing.T) {
	r := &fakeRepo{latestErr: models.ErrNoAuditEntry}
	s := New(r, nil, nil, 0)
	_, err := s.TripDetail(context.Background(), 404)
	require.ErrorIs(t, err, models.ErrTripNotFound)
}

func TestService_Finalize_PublishesCompleted(t *testing.T) {
	r := &fakeRepo{}
	p := &fakeProducer{}
	s := New(r, p, nil, 0)

	summary := &models.VerificationSummary{TripID: 5, Total: 20, Scanned: 20, StatusBreakdown: map[string]int{models.TagStatusVerified: 20}}
	require.NoError(t, s.Finalize(context.Background(), 5, nil, summary, 9))
	require.EqualValues(t, 5, r.finalizeID)
	require.Equal(t, []string{TopicTripCompleted}, p.topics)
}

func TestService_Finalize_AlreadyCompletedNoPublish(t *testing.T) {
	r := &fakeRepo{finalizeErr: models.ErrAlreadyCompleted}
	p := &fakeProducer{}
	s := New(r, p, nil, 0)

	err := s.Finalize(context.Background(), 5, nil, &models.VerificationSummary{}, 9)
	require.ErrorIs(t, err, models.ErrAlreadyCompleted)
	require.Empty(t, p.topics)
}
