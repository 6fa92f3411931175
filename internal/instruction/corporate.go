package instruction

import "time"

// ScheduleDividend records a future dividend. Corporate-actions role.
type ScheduleDividend struct {
	Meta
	RecordDate    time.Time
	ExecutionDate time.Time
	Amount        int64
	Decimals      uint8
}

func (s *ScheduleDividend) InstructionType() Type { return TypeScheduleDividend }

// ScheduleVoting records a future ballot. Corporate-actions role.
type ScheduleVoting struct {
	Meta
	RecordDate time.Time
	Ballot     []byte
}

func (s *ScheduleVoting) InstructionType() Type { return TypeScheduleVoting }

// ScheduleCoupon records a future coupon payment. Bond-manager role.
type ScheduleCoupon struct {
	Meta
	RecordDate    time.Time
	ExecutionDate time.Time
	Rate          int64
}

func (s *ScheduleCoupon) InstructionType() Type { return TypeScheduleCoupon }

// ScheduleBalanceAdjustment records a ledger-wide multiplier for future
// balance queries. Corporate-actions role.
type ScheduleBalanceAdjustment struct {
	Meta
	ExecutionDate time.Time
	Factor        int64
	Decimals      uint8
}

func (s *ScheduleBalanceAdjustment) InstructionType() Type { return TypeScheduleBalanceAdjustment }
