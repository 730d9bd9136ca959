package messages

import "time"

// TripCreated is published after a trip's creation unit commits.
// Report collaborators consume it to start their own pipelines.
type TripCreated struct {
	TripID            uint64    `json:"trip_id"`
	AccountID         uint64    `json:"account_id"`
	CompanyID         uint64    `json:"company_id"`
	Source            string    `json:"source"`
	Destination       string    `json:"destination"`
	SystemSealBarcode string    `json:"system_seal_barcode"`
	TagCount          int       `json:"tag_count"`
	CreatedAt         time.Time `json:"created_at"`
}

// TripCompleted is published once, when verification finalizes the trip.
type TripCompleted struct {
	TripID          uint64         `json:"trip_id"`
	Total           int            `json:"total"`
	Scanned         int            `json:"scanned"`
	Unscanned       int            `json:"unscanned"`
	StatusBreakdown map[string]int `json:"status_breakdown"`
	CompletedAt     time.Time      `json:"completed_at"`
}

// SealScanned arrives from handheld scanner devices. Delivery is
// at-least-once; the scan operation itself is idempotent per tag.
type SealScanned struct {
	TripID    uint64    `json:"trip_id"`
	TagID     string    `json:"tag_id"`
	ActorID   uint64    `json:"actor_id"`
	ScannedAt time.Time `json:"scanned_at"`
}
