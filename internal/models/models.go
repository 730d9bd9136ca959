package models

import (
	"encoding/json"
	"time"
)

// Trip statuses. Transitions are monotonic: a trip never goes back.
const (
	TripStatusPending    = "PENDING"
	TripStatusInProgress = "IN_PROGRESS"
	TripStatusCompleted  = "COMPLETED"
)

// Seal tag statuses.
const (
	TagStatusRegistered = "REGISTERED"
	TagStatusVerified   = "VERIFIED"
	TagStatusBroken     = "BROKEN"
	TagStatusTampered   = "TAMPERED"
	TagStatusMissing    = "MISSING"
)

// Tag registration methods.
const (
	TagMethodScanned = "SCANNED"
	TagMethodManual  = "MANUAL"
)

// Coin transaction reason codes.
const (
	ReasonSessionCreation = "SESSION_CREATION"
	ReasonAllocation      = "ALLOCATION"
)

// Coin transaction entry kinds. A pure spend keeps from == to, so the sign
// of a row cannot be derived from the account pair alone.
const (
	EntryDebit    = "DEBIT"
	EntryCredit   = "CREDIT"
	EntryTransfer = "TRANSFER"
)

// Audit actions.
const (
	AuditActionCreate      = "CREATE"
	AuditActionStoreImages = "STORE_IMAGES"
	AuditActionUpdate      = "UPDATE"
)

// Audit target types.
const (
	TargetTypeTrip = "TRIP"
)

// Tag set bounds enforced at trip creation.
const (
	MinSealTags = 20
	MaxSealTags = 40
)

type Account struct {
	ID        uint64
	Coins     int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

type CoinTransaction struct {
	ID          uint64
	FromAccount uint64
	ToAccount   uint64
	Amount      int64
	EntryKind   string
	ReasonCode  string
	Note        string
	CreatedAt   time.Time
}

type Trip struct {
	ID          uint64
	Source      string
	Destination string
	Status      string
	CreatedBy   uint64
	CompanyID   uint64
	CreatedAt   time.Time
	CompletedAt *time.Time
}

// SealTag is one physical tamper tag. The tag identifier is the natural key
// and is unique across all trips ever created.
type SealTag struct {
	TagID          string
	TripID         uint64
	Method         string
	ImageEvidence  string
	Status         string
	StatusComment  string
	StatusEvidence []string
	CreatedAt      time.Time
	VerifiedAt     *time.Time
}

// SystemSeal is the single master seal closing a trip, distinct from the
// per-package tags. Its barcode is globally unique like tag identifiers.
type SystemSeal struct {
	TripID     uint64
	Barcode    string
	Verified   bool
	VerifiedBy *uint64
	ScannedAt  *time.Time
	CreatedAt  time.Time
}

type AuditEntry struct {
	ID         uint64
	ActorID    uint64
	Action     string
	TargetType string
	TargetID   string
	Detail     json.RawMessage
	CreatedAt  time.Time
}

// TagInput describes one tag in a create request.
type TagInput struct {
	TagID         string
	Method        string
	ImageEvidence string
}

type TripCreateInput struct {
	AccountID         uint64
	ActorID           uint64
	CompanyID         uint64
	Source            string
	Destination       string
	Tags              []TagInput
	SystemSealBarcode string
}

// VerificationSummary is the reconciliation result driving trip completion.
type VerificationSummary struct {
	TripID          uint64         `json:"trip_id"`
	Total           int            `json:"total"`
	Scanned         int            `json:"scanned"`
	Unscanned       int            `json:"unscanned"`
	UnscannedTagIDs []string       `json:"unscanned_tag_ids,omitempty"`
	StatusBreakdown map[string]int `json:"status_breakdown"`
}

// TerminalTagStatus reports whether a tag status admits no further transitions
// before trip completion. VERIFIED stays open until the trip completes.
func TerminalTagStatus(status string) bool {
	switch status {
	case TagStatusBroken, TagStatusTampered, TagStatusMissing:
		return true
	}
	return false
}

// ValidTagMethod reports whether m is a known registration method.
func ValidTagMethod(m string) bool {
	return m == TagMethodScanned || m == TagMethodManual
}

// ValidateTagStatusChange checks the evidence preconditions of a manual
// status flag. BROKEN and TAMPERED need a comment and at least one photo;
// MISSING is assigned only by the verification engine, never by a caller.
func ValidateTagStatusChange(newStatus, comment string, evidence []string) error {
	switch newStatus {
	case TagStatusBroken, TagStatusTampered:
		if comment == "" || len(evidence) == 0 {
			return ErrMissingEvidence
		}
		return nil
	case TagStatusVerified:
		return nil
	case TagStatusMissing:
		return ErrInvalidTransition
	default:
		return ErrInvalidTransition
	}
}
