package instruction

import (
	"time"

	"SecTokenLedger/internal/token"
)

// HoldCreate reserves free balance under an escrow agent. Subject to clearing
// interception; Expiration then applies to both the clearing operation and
// the eventual hold.
type HoldCreate struct {
	Meta
	Partition   token.Partition
	Holder      token.Holder
	Amount      int64
	Expiration  time.Time
	Escrow      token.Holder
	Destination token.Holder // NullHolder leaves the beneficiary open
	ThirdParty  bool
	Payload     []byte
}

func (h *HoldCreate) InstructionType() Type { return TypeHoldCreate }

// HoldExecute settles part or all of a hold to its destination. Escrow only.
type HoldExecute struct {
	Meta
	Partition token.Partition
	Holder    token.Holder
	HoldID    uint64
	Amount    int64
	To        token.Holder // Beneficiary for open-destination holds
}

func (h *HoldExecute) InstructionType() Type { return TypeHoldExecute }

// HoldRelease returns the full held amount to free before expiration.
type HoldRelease struct {
	Meta
	Partition token.Partition
	Holder    token.Holder
	HoldID    uint64
}

func (h *HoldRelease) InstructionType() Type { return TypeHoldRelease }

// HoldReclaim returns the held amount to free strictly after expiration.
type HoldReclaim struct {
	Meta
	Partition token.Partition
	Holder    token.Holder
	HoldID    uint64
}

func (h *HoldReclaim) InstructionType() Type { return TypeHoldReclaim }
