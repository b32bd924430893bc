package contracts

import "errors"

// Authorization errors. Rejected before any mutation; never retried
// automatically, clearing them requires an admin action.
var (
	ErrNotAuthorized = errors.New("contracts: caller is not an authorized node")
	ErrNotOwner      = errors.New("contracts: caller is not the registry owner")
)

// Validation errors. Malformed caller input, rejected synchronously; safe
// for the caller to fix and resubmit.
var (
	ErrZeroHash        = errors.New("contracts: zero content hash")
	ErrZeroAddress     = errors.New("contracts: zero address")
	ErrScoreOutOfRange = errors.New("contracts: score exceeds 10000 basis points")
	ErrLengthMismatch  = errors.New("contracts: batch array lengths differ")
	ErrBatchTooLarge   = errors.New("contracts: batch exceeds maximum size")
	ErrSelfReference   = errors.New("contracts: lineage parent equals child")
	ErrInvalidID       = errors.New("contracts: no such alert id")
)

// State-conflict errors. The requested transition does not apply given
// current state; callers should treat these as informational (often
// meaning "already done") rather than transient failures.
var (
	ErrAlreadyAuthorized      = errors.New("contracts: node already authorized")
	ErrAlreadyAcknowledged    = errors.New("contracts: alert already acknowledged")
	ErrAlreadyRegistered      = errors.New("contracts: lineage already registered")
	ErrNotFound               = errors.New("contracts: record not found")
	ErrCannotDeauthorizeOwner = errors.New("contracts: registry owner cannot be deauthorized")
)
