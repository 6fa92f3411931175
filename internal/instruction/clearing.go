package instruction

import "SecTokenLedger/internal/token"

// ClearingSetActive toggles clearing mode. Clearing role. Existing pending
// operations stay resolvable regardless of the flag.
type ClearingSetActive struct {
	Meta
	Active bool
}

func (c *ClearingSetActive) InstructionType() Type { return TypeClearingSetActive }

// ClearingApprove applies a pending clearing operation's underlying effect.
// Clearing role.
type ClearingApprove struct {
	Meta
	Partition  token.Partition
	Holder     token.Holder
	ClearingID uint64
}

func (c *ClearingApprove) InstructionType() Type { return TypeClearingApprove }

// ClearingReclaim returns an expired clearing operation's reserved amount to
// free. Holder only.
type ClearingReclaim struct {
	Meta
	Partition  token.Partition
	Holder     token.Holder
	ClearingID uint64
}

func (c *ClearingReclaim) InstructionType() Type { return TypeClearingReclaim }
