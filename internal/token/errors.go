package token

import "errors"

// Error taxonomy for the core. Every failure is surfaced synchronously with
// one of these sentinels (possibly wrapped); no partial mutation is ever
// observable after a failed instruction.

// Validation — rejected before any state change.
var (
	ErrInvalidAmount = errors.New("amount must be positive")
	ErrZeroAddress   = errors.New("null account not allowed")
	ErrBadDateOrder  = errors.New("record date must precede execution date")
	ErrPastDate      = errors.New("date must be strictly in the future")
	ErrZeroFactor    = errors.New("adjustment factor must be non-zero")
	ErrBadExpiration = errors.New("expiration must be after current time")
)

// Insufficient-resource.
var (
	ErrInsufficientBalance = errors.New("insufficient free balance")
	ErrInsufficientFrozen  = errors.New("insufficient frozen balance")
	ErrInsufficientHold    = errors.New("amount exceeds hold balance")
	ErrMaxSupplyExceeded   = errors.New("max supply exceeded")
)

// Authorization.
var (
	ErrUnauthorized = errors.New("missing required role")
	ErrNotEscrow    = errors.New("only the escrow agent may act on this hold")
	ErrNotHolder    = errors.New("only the holder may act on this record")
)

// Eligibility.
var (
	ErrPaused                      = errors.New("asset is paused")
	ErrKYCInvalid                  = errors.New("account KYC is not granted")
	ErrControlListBlocked          = errors.New("account rejected by control list")
	ErrOnlyDefaultPartitionAllowed = errors.New("asset allows only the default partition")
	ErrProtectedPartition          = errors.New("partition is protected")
)

// Lifecycle.
var (
	ErrHoldNotFound        = errors.New("hold not found")
	ErrClearingNotFound    = errors.New("clearing operation not found")
	ErrExpired             = errors.New("record has expired")
	ErrNotExpired          = errors.New("record has not expired yet")
	ErrActionNotFound      = errors.New("corporate action not found")
	ErrWrongIndexForAction = errors.New("action id belongs to a different action type")
	ErrMaturityNotReached  = errors.New("maturity date not reached")
	ErrUnknownHolder       = errors.New("unknown holder")
)
