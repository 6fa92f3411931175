// Package instruction defines the typed inputs the core engine consumes and
// the envelope every applied instruction is wrapped in before persistence.
package instruction

import (
	"time"

	"github.com/google/uuid"

	"SecTokenLedger/internal/token"
)

// Type discriminator for instruction payloads
type Type int32

const (
	TypeUnknown Type = iota
	TypeIssue
	TypeTransfer
	TypeRedeem
	TypeRedeemAtMaturity
	TypeHoldCreate
	TypeHoldExecute
	TypeHoldRelease
	TypeHoldReclaim
	TypeFreeze
	TypeUnfreeze
	TypeFreezeBatch
	TypeUnfreezeBatch
	TypeClearingSetActive
	TypeClearingApprove
	TypeClearingReclaim
	TypeScheduleDividend
	TypeScheduleVoting
	TypeScheduleCoupon
	TypeScheduleBalanceAdjustment
	TypeSetPaused
	TypeGrantRole
	TypeRevokeRole
	TypeKYCGrant
	TypeKYCRevoke
	TypeControlListAdd
	TypeControlListRemove
)

func (t Type) String() string {
	switch t {
	case TypeIssue:
		return "Issue"
	case TypeTransfer:
		return "Transfer"
	case TypeRedeem:
		return "Redeem"
	case TypeRedeemAtMaturity:
		return "RedeemAtMaturity"
	case TypeHoldCreate:
		return "HoldCreate"
	case TypeHoldExecute:
		return "HoldExecute"
	case TypeHoldRelease:
		return "HoldRelease"
	case TypeHoldReclaim:
		return "HoldReclaim"
	case TypeFreeze:
		return "Freeze"
	case TypeUnfreeze:
		return "Unfreeze"
	case TypeFreezeBatch:
		return "FreezeBatch"
	case TypeUnfreezeBatch:
		return "UnfreezeBatch"
	case TypeClearingSetActive:
		return "ClearingSetActive"
	case TypeClearingApprove:
		return "ClearingApprove"
	case TypeClearingReclaim:
		return "ClearingReclaim"
	case TypeScheduleDividend:
		return "ScheduleDividend"
	case TypeScheduleVoting:
		return "ScheduleVoting"
	case TypeScheduleCoupon:
		return "ScheduleCoupon"
	case TypeScheduleBalanceAdjustment:
		return "ScheduleBalanceAdjustment"
	case TypeSetPaused:
		return "SetPaused"
	case TypeGrantRole:
		return "GrantRole"
	case TypeRevokeRole:
		return "RevokeRole"
	case TypeKYCGrant:
		return "KYCGrant"
	case TypeKYCRevoke:
		return "KYCRevoke"
	case TypeControlListAdd:
		return "ControlListAdd"
	case TypeControlListRemove:
		return "ControlListRemove"
	default:
		return "Unknown"
	}
}

// Envelope wraps every applied instruction in the log
type Envelope struct {
	// Asset-wide monotonic sequence assigned by core
	Sequence int64

	// Stable idempotency key from upstream
	IdempotencyKey string

	// Instruction type discriminator
	Type Type

	// Versioned input timestamp (NOT wall-clock)
	Timestamp time.Time

	// Operator that submitted the instruction
	Operator token.Holder

	// JSON-encoded instruction-specific data
	Payload []byte

	// SHA-256 of state AFTER applying this instruction
	StateHash [32]byte

	// Previous instruction's state hash (chain integrity)
	PrevHash [32]byte
}

// Instruction is the interface all instruction payloads implement
type Instruction interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// InstructionType returns the discriminator
	InstructionType() Type

	// When returns the caller-supplied timestamp. The core never reads the
	// wall clock; every time comparison uses this value.
	When() time.Time

	// By returns the submitting operator
	By() token.Holder
}

// Meta carries the fields shared by every instruction and is embedded in each
// payload type.
type Meta struct {
	ID       uuid.UUID
	Time     time.Time
	Operator token.Holder
}

func (m Meta) IdempotencyKey() string { return m.ID.String() }
func (m Meta) When() time.Time        { return m.Time }
func (m Meta) By() token.Holder       { return m.Operator }
