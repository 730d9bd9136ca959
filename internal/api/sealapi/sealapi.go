// Package sealapi exposes the service's HTTP surface: trip creation,
// seal-status updates, verification, ledger and audit queries.
package sealapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"

	"github.com/BearBump/SealTrip/internal/models"
	"github.com/BearBump/SealTrip/internal/services/ledger"
	"github.com/BearBump/SealTrip/internal/services/trips"
	"github.com/BearBump/SealTrip/internal/services/verification"
)

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

type API struct {
	trips    *trips.Service
	verify   *verification.Service
	ledger   *ledger.Service
	rl       RateLimiter
	rlPerMin int64
}

// New builds the API. rl may be nil to disable creation throttling.
func New(tripsSvc *trips.Service, verifySvc *verification.Service, ledgerSvc *ledger.Service, rl RateLimiter, createPerMin int64) *API {
	return &API{trips: tripsSvc, verify: verifySvc, ledger: ledgerSvc, rl: rl, rlPerMin: createPerMin}
}

func (a *API) Routes(r chi.Router) {
	r.Route("/v1", func(r chi.Router) {
		r.Post("/accounts", a.createAccount)
		r.Get("/accounts/{accountID}", a.getAccount)
		r.Post("/accounts/{accountID}/credits", a.creditAccount)
		r.Post("/accounts/{accountID}/transfers", a.transfer)
		r.Get("/accounts/{accountID}/transactions", a.listTransactions)

		r.Post("/trips", a.createTrip)
		r.Get("/trips/{tripID}", a.getTrip)
		r.Get("/trips/{tripID}/detail", a.tripDetail)
		r.Post("/trips/{tripID}/scans", a.recordScan)
		r.Get("/trips/{tripID}/verification", a.verificationSummary)
		r.Post("/trips/{tripID}/verification", a.completeVerification)

		r.Patch("/seals/{tagID}", a.updateSealStatus)

		r.Get("/audit/latest", a.latestAuditEntry)
		r.Get("/audit", a.auditHistory)
	})
}

type tagPayload struct {
	TagID          string     `json:"tag_id"`
	TripID         uint64     `json:"trip_id"`
	Method         string     `json:"method"`
	ImageEvidence  string     `json:"image_evidence"`
	Status         string     `json:"status"`
	StatusComment  string     `json:"status_comment,omitempty"`
	StatusEvidence []string   `json:"status_evidence,omitempty"`
	VerifiedAt     *time.Time `json:"verified_at,omitempty"`
}

func toTagPayload(t *models.SealTag) tagPayload {
	return tagPayload{
		TagID:          t.TagID,
		TripID:         t.TripID,
		Method:         t.Method,
		ImageEvidence:  t.ImageEvidence,
		Status:         t.Status,
		StatusComment:  t.StatusComment,
		StatusEvidence: t.StatusEvidence,
		VerifiedAt:     t.VerifiedAt,
	}
}

type createTripRequest struct {
	AccountID         uint64 `json:"account_id"`
	ActorID           uint64 `json:"actor_id"`
	CompanyID         uint64 `json:"company_id"`
	Source            string `json:"source"`
	Destination       string `json:"destination"`
	SystemSealBarcode string `json:"system_seal_barcode,omitempty"`
	Tags              []struct {
		TagID         string `json:"tag_id"`
		Method        string `json:"method"`
		ImageEvidence string `json:"image_evidence"`
	} `json:"tags"`
}

func (a *API) createTrip(w http.ResponseWriter, r *http.Request) {
	var req createTripRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	if a.rl != nil && a.rlPerMin > 0 {
		key := fmt.Sprintf("ratelimit:create:%d", req.AccountID)
		ok, _, err := a.rl.Allow(r.Context(), key, a.rlPerMin, time.Minute)
		if err != nil {
			slog.Error("rate limiter unavailable, allowing request", "err", err)
		} else if !ok {
			writeJSONError(w, http.StatusTooManyRequests, "trip creation rate limit exceeded")
			return
		}
	}

	in := models.TripCreateInput{
		AccountID:         req.AccountID,
		ActorID:           req.ActorID,
		CompanyID:         req.CompanyID,
		Source:            req.Source,
		Destination:       req.Destination,
		SystemSealBarcode: req.SystemSealBarcode,
	}
	for _, t := range req.Tags {
		in.Tags = append(in.Tags, models.TagInput{TagID: t.TagID, Method: t.Method, ImageEvidence: t.ImageEvidence})
	}

	trip, err := a.trips.CreateTrip(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"trip_id":    trip.ID,
		"status":     trip.Status,
		"created_at": trip.CreatedAt,
	})
}

func (a *API) getTrip(w http.ResponseWriter, r *http.Request) {
	tripID, ok := tripIDParam(w, r)
	if !ok {
		return
	}
	view, err := a.trips.GetTrip(r.Context(), tripID)
	if err != nil {
		writeError(w, err)
		return
	}
	tags := make([]tagPayload, 0, len(view.Tags))
	for _, t := range view.Tags {
		tags = append(tags, toTagPayload(t))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"trip": map[string]any{
			"id":           view.Trip.ID,
			"source":       view.Trip.Source,
			"destination":  view.Trip.Destination,
			"status":       view.Trip.Status,
			"created_by":   view.Trip.CreatedBy,
			"company_id":   view.Trip.CompanyID,
			"created_at":   view.Trip.CreatedAt,
			"completed_at": view.Trip.CompletedAt,
		},
		"tags": tags,
		"system_seal": map[string]any{
			"barcode":     view.SystemSeal.Barcode,
			"verified":    view.SystemSeal.Verified,
			"verified_by": view.SystemSeal.VerifiedBy,
			"scanned_at":  view.SystemSeal.ScannedAt,
		},
	})
}

func (a *API) tripDetail(w http.ResponseWriter, r *http.Request) {
	tripID, ok := tripIDParam(w, r)
	if !ok {
		return
	}
	detail, err := a.trips.TripDetail(r.Context(), tripID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (a *API) recordScan(w http.ResponseWriter, r *http.Request) {
	tripID, ok := tripIDParam(w, r)
	if !ok {
		return
	}
	var req struct {
		TagID string `json:"tag_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	tag, err := a.verify.RecordScan(r.Context(), tripID, req.TagID)
	if errors.Is(err, models.ErrAlreadyScanned) {
		// Idempotent no-op: report it, do not fail the guard's flow.
		writeJSON(w, http.StatusOK, map[string]any{"tag": toTagPayload(tag), "already_scanned": true})
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tag": toTagPayload(tag), "already_scanned": false})
}

func (a *API) verificationSummary(w http.ResponseWriter, r *http.Request) {
	tripID, ok := tripIDParam(w, r)
	if !ok {
		return
	}
	sum, err := a.verify.ComputeSummary(r.Context(), tripID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (a *API) completeVerification(w http.ResponseWriter, r *http.Request) {
	tripID, ok := tripIDParam(w, r)
	if !ok {
		return
	}
	var req struct {
		ActorID         uint64   `json:"actor_id"`
		ScannedTagIDs   []string `json:"scanned_tag_ids"`
		UnscannedTagIDs []string `json:"unscanned_tag_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	// Late scans submitted with the completion request. Already-scanned tags
	// are fine; anything else rejects the completion before it mutates state.
	for _, tagID := range req.ScannedTagIDs {
		if _, err := a.verify.RecordScan(r.Context(), tripID, tagID); err != nil && !errors.Is(err, models.ErrAlreadyScanned) {
			writeError(w, err)
			return
		}
	}

	sum, err := a.verify.CompleteVerification(r.Context(), tripID, req.UnscannedTagIDs, req.ActorID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (a *API) updateSealStatus(w http.ResponseWriter, r *http.Request) {
	tagID := chi.URLParam(r, "tagID")
	var req struct {
		Status         string   `json:"status"`
		Comment        string   `json:"comment"`
		EvidencePhotos []string `json:"evidence_photos"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	tag, err := a.verify.UpdateSealStatus(r.Context(), tagID, req.Status, req.Comment, req.EvidencePhotos)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTagPayload(tag))
}

func (a *API) createAccount(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OpeningCoins int64 `json:"opening_coins"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	acc, err := a.ledger.CreateAccount(r.Context(), req.OpeningCoins)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"account_id": acc.ID, "coins": acc.Coins})
}

func (a *API) getAccount(w http.ResponseWriter, r *http.Request) {
	accountID, ok := accountIDParam(w, r)
	if !ok {
		return
	}
	acc, err := a.ledger.GetAccount(r.Context(), accountID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"account_id": acc.ID, "coins": acc.Coins})
}

func (a *API) creditAccount(w http.ResponseWriter, r *http.Request) {
	accountID, ok := accountIDParam(w, r)
	if !ok {
		return
	}
	var req struct {
		Amount int64  `json:"amount"`
		Note   string `json:"note"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	txID, err := a.ledger.Credit(r.Context(), accountID, req.Amount, models.ReasonAllocation, req.Note)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"transaction_id": txID})
}

func (a *API) transfer(w http.ResponseWriter, r *http.Request) {
	accountID, ok := accountIDParam(w, r)
	if !ok {
		return
	}
	var req struct {
		ToAccount  uint64 `json:"to_account"`
		Amount     int64  `json:"amount"`
		ReasonCode string `json:"reason_code"`
		Note       string `json:"note"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if req.ReasonCode == "" {
		req.ReasonCode = models.ReasonAllocation
	}
	txID, err := a.ledger.Transfer(r.Context(), accountID, req.ToAccount, req.Amount, req.ReasonCode, req.Note)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"transaction_id": txID})
}

func (a *API) listTransactions(w http.ResponseWriter, r *http.Request) {
	accountID, ok := accountIDParam(w, r)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	txs, err := a.ledger.ListTransactions(r.Context(), accountID, limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]map[string]any, 0, len(txs))
	for _, t := range txs {
		out = append(out, map[string]any{
			"id":           t.ID,
			"from_account": t.FromAccount,
			"to_account":   t.ToAccount,
			"amount":       t.Amount,
			"entry_kind":   t.EntryKind,
			"reason_code":  t.ReasonCode,
			"note":         t.Note,
			"created_at":   t.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": out})
}

func (a *API) latestAuditEntry(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	targetType, targetID, action := q.Get("target_type"), q.Get("target_id"), q.Get("action")
	if targetType == "" || targetID == "" || action == "" {
		writeJSONError(w, http.StatusBadRequest, "target_type, target_id and action are required")
		return
	}
	e, err := a.trips.LatestAuditEntry(r.Context(), targetType, targetID, action)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":          e.ID,
		"actor_id":    e.ActorID,
		"action":      e.Action,
		"target_type": e.TargetType,
		"target_id":   e.TargetID,
		"detail":      json.RawMessage(e.Detail),
		"created_at":  e.CreatedAt,
	})
}

func (a *API) auditHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	targetType, targetID := q.Get("target_type"), q.Get("target_id")
	if targetType == "" || targetID == "" {
		writeJSONError(w, http.StatusBadRequest, "target_type and target_id are required")
		return
	}
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	entries, err := a.trips.AuditHistory(r.Context(), targetType, targetID, limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		out = append(out, map[string]any{
			"id":          e.ID,
			"actor_id":    e.ActorID,
			"action":      e.Action,
			"target_type": e.TargetType,
			"target_id":   e.TargetID,
			"detail":      json.RawMessage(e.Detail),
			"created_at":  e.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": out})
}

func tripIDParam(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "tripID"), 10, 64)
	if err != nil || id == 0 {
		writeJSONError(w, http.StatusBadRequest, "invalid trip id")
		return 0, false
	}
	return id, true
}

func accountIDParam(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "accountID"), 10, 64)
	if err != nil || id == 0 {
		writeJSONError(w, http.StatusBadRequest, "invalid account id")
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeError maps the domain taxonomy onto HTTP statuses: preconditions are
// 4xx without side effects, integrity conflicts are 409, storage failures
// are 500.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrInsufficientBalance):
		writeJSONError(w, http.StatusPaymentRequired, err.Error())
	case errors.Is(err, models.ErrTooFewTags),
		errors.Is(err, models.ErrTooManyTags),
		errors.Is(err, models.ErrMissingEvidence):
		writeJSONError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, models.ErrDuplicateTag),
		errors.Is(err, models.ErrDuplicateBarcode),
		errors.Is(err, models.ErrAlreadyCompleted),
		errors.Is(err, models.ErrInvalidTransition),
		errors.Is(err, models.ErrTripNotInProgress):
		writeJSONError(w, http.StatusConflict, err.Error())
	case errors.Is(err, models.ErrUnknownTag),
		errors.Is(err, models.ErrTripNotFound),
		errors.Is(err, models.ErrAccountNotFound),
		errors.Is(err, models.ErrNoAuditEntry):
		writeJSONError(w, http.StatusNotFound, err.Error())
	default:
		slog.Error("request failed", "err", err)
		writeJSONError(w, http.StatusInternalServerError, "internal error")
	}
}
