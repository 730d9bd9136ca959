package models

import "errors"

// Domain errors. Precondition violations and integrity conflicts are
// returned without side effects; storage failures are wrapped separately.
var (
	// Precondition violations (user-facing, nothing applied).
	ErrInsufficientBalance = errors.New("insufficient coin balance")
	ErrTooFewTags          = errors.New("too few seal tags (min 20)")
	ErrTooManyTags         = errors.New("too many seal tags (max 40)")
	ErrMissingEvidence     = errors.New("status change requires comment and evidence photos")

	// Integrity conflicts (concurrent actor or stale client).
	ErrDuplicateTag      = errors.New("seal tag already registered to a trip")
	ErrDuplicateBarcode  = errors.New("system seal barcode already in use")
	ErrAlreadyCompleted  = errors.New("trip already completed")
	ErrAlreadyScanned    = errors.New("seal tag already scanned")
	ErrInvalidTransition = errors.New("invalid seal tag status transition")
	ErrUnknownTag        = errors.New("unknown seal tag")

	// Not-found lookups.
	ErrTripNotFound      = errors.New("trip not found")
	ErrAccountNotFound   = errors.New("account not found")
	ErrTripNotInProgress = errors.New("trip is not in progress")
	ErrNoAuditEntry      = errors.New("no matching audit entry")
)
