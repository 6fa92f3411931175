package ledger

import (
	"fmt"

	"github.com/google/uuid"

	"SecTokenLedger/internal/token"
)

// Bucket names the balance sub-account an entry moves value out of or into.
// BucketSupply is the external boundary: issuance debits it, redemption
// credits it.
type Bucket uint8

const (
	BucketSupply Bucket = iota
	BucketFree
	BucketHeld
	BucketFrozen
)

func (b Bucket) String() string {
	switch b {
	case BucketFree:
		return "free"
	case BucketHeld:
		return "held"
	case BucketFrozen:
		return "frozen"
	default:
		return "supply"
	}
}

// EntryType discriminates audit entries in the append-only log.
type EntryType int32

const (
	EntryTypeIssue EntryType = iota
	EntryTypeRedeem
	EntryTypeTransfer
	EntryTypeHoldCreate
	EntryTypeHoldExecute
	EntryTypeHoldRelease
	EntryTypeHoldReclaim
	EntryTypeFreeze
	EntryTypeUnfreeze
	EntryTypeClearingCreate
	EntryTypeClearingApprove
	EntryTypeClearingReclaim
)

func (t EntryType) String() string {
	switch t {
	case EntryTypeIssue:
		return "issue"
	case EntryTypeRedeem:
		return "redeem"
	case EntryTypeTransfer:
		return "transfer"
	case EntryTypeHoldCreate:
		return "hold_create"
	case EntryTypeHoldExecute:
		return "hold_execute"
	case EntryTypeHoldRelease:
		return "hold_release"
	case EntryTypeHoldReclaim:
		return "hold_reclaim"
	case EntryTypeFreeze:
		return "freeze"
	case EntryTypeUnfreeze:
		return "unfreeze"
	case EntryTypeClearingCreate:
		return "clearing_create"
	case EntryTypeClearingApprove:
		return "clearing_approve"
	case EntryTypeClearingReclaim:
		return "clearing_reclaim"
	default:
		return "unknown"
	}
}

// Entry is a single audit record of a balance movement. Every ledger mutation
// is representable as one or more entries so the full state can be replayed
// from the log.
type Entry struct {
	EntryID        uuid.UUID
	BatchID        uuid.UUID
	InstructionRef string // Idempotency key of the source instruction
	Sequence       int64  // Asset-wide instruction sequence
	Partition      token.Partition
	Holder         token.Holder
	Counterparty   *token.Holder // Destination holder for transfers/executions
	FromBucket     Bucket
	ToBucket       Bucket
	Amount         int64 // ALWAYS positive
	EntryType      EntryType
	Timestamp      int64 // Versioned input timestamp (epoch microseconds)
}

// Batch groups the entries produced by one instruction. The batch commits
// all-or-nothing.
type Batch struct {
	BatchID        uuid.UUID
	InstructionRef string
	Sequence       int64
	Timestamp      int64
	Entries        []Entry
}

// Validate ensures the batch is well-formed before it is applied or persisted.
func (b *Batch) Validate() error {
	for _, e := range b.Entries {
		if e.Amount <= 0 {
			return fmt.Errorf("entry %s has non-positive amount: %d", e.EntryID, e.Amount)
		}
		if e.BatchID != b.BatchID {
			return fmt.Errorf("entry %s has mismatched batch_id", e.EntryID)
		}
		if e.FromBucket == e.ToBucket && e.Counterparty == nil {
			return fmt.Errorf("entry %s moves within the same bucket of one holder", e.EntryID)
		}
	}
	return nil
}
