package models

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

// Audit detail payloads form a tagged union keyed by the entry action:
// CREATE carries the trip detail, STORE_IMAGES the evidence bundle,
// UPDATE the verification summary. Decoding is an exhaustive switch,
// not field probing.

// TripDetail is the full trip payload written with the CREATE entry.
// It is the sole durable source of these attributes.
type TripDetail struct {
	TripID            uint64    `json:"trip_id"`
	Source            string    `json:"source"`
	Destination       string    `json:"destination"`
	CreatedBy         uint64    `json:"created_by"`
	CompanyID         uint64    `json:"company_id"`
	AccountID         uint64    `json:"account_id"`
	SystemSealBarcode string    `json:"system_seal_barcode"`
	TagCount          int       `json:"tag_count"`
	TagIDs            []string  `json:"tag_ids"`
	CreatedAt         time.Time `json:"created_at"`
}

// EvidenceBundle is the STORE_IMAGES payload, sized separately from the
// primary CREATE record so the trip-detail entry stays small.
type EvidenceBundle struct {
	TripID uint64          `json:"trip_id"`
	Images []EvidenceImage `json:"images"`
}

type EvidenceImage struct {
	TagID string `json:"tag_id,omitempty"`
	Ref   string `json:"ref"`
}

// DecodeAuditDetail decodes an entry's detail into the concrete type for
// its action.
func DecodeAuditDetail(action string, detail json.RawMessage) (any, error) {
	switch action {
	case AuditActionCreate:
		var d TripDetail
		if err := json.Unmarshal(detail, &d); err != nil {
			return nil, errors.Wrap(err, "decode trip detail")
		}
		return &d, nil
	case AuditActionStoreImages:
		var b EvidenceBundle
		if err := json.Unmarshal(detail, &b); err != nil {
			return nil, errors.Wrap(err, "decode evidence bundle")
		}
		return &b, nil
	case AuditActionUpdate:
		var s VerificationSummary
		if err := json.Unmarshal(detail, &s); err != nil {
			return nil, errors.Wrap(err, "decode verification summary")
		}
		return &s, nil
	default:
		return nil, errors.Errorf("unknown audit action %q", action)
	}
}
