package instruction

import "SecTokenLedger/internal/token"

// Freeze moves part of a holder's free balance into frozen. Freeze-manager
// role.
type Freeze struct {
	Meta
	Partition token.Partition
	Holder    token.Holder
	Amount    int64
}

func (f *Freeze) InstructionType() Type { return TypeFreeze }

// Unfreeze moves frozen balance back to free. Freeze-manager role.
type Unfreeze struct {
	Meta
	Partition token.Partition
	Holder    token.Holder
	Amount    int64
}

func (u *Unfreeze) InstructionType() Type { return TypeUnfreeze }

// BatchTarget is one (holder, amount) pair of a batch freeze instruction.
type BatchTarget struct {
	Partition token.Partition
	Holder    token.Holder
	Amount    int64
}

// FreezeBatch freezes every target or none.
type FreezeBatch struct {
	Meta
	Targets []BatchTarget
}

func (f *FreezeBatch) InstructionType() Type { return TypeFreezeBatch }

// UnfreezeBatch unfreezes every target or none.
type UnfreezeBatch struct {
	Meta
	Targets []BatchTarget
}

func (u *UnfreezeBatch) InstructionType() Type { return TypeUnfreezeBatch }
