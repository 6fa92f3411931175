// Package corporate owns dividend, voting, coupon and scheduled balance
// adjustment records. All four variants share one incrementing id space; a
// lookup with the wrong variant fails instead of coercing.
package corporate

import (
	"math/big"
	"sort"
	"time"

	"SecTokenLedger/internal/token"
)

// Kind discriminates the tagged-union action record.
type Kind int32

const (
	KindDividend Kind = iota
	KindVoting
	KindCoupon
	KindBalanceAdjustment
)

func (k Kind) String() string {
	switch k {
	case KindDividend:
		return "dividend"
	case KindVoting:
		return "voting"
	case KindCoupon:
		return "coupon"
	case KindBalanceAdjustment:
		return "balance_adjustment"
	default:
		return "unknown"
	}
}

// Action is one corporate action record. Immutable once created except for
// SnapshotID, which the snapshot engine assigns lazily (0 = unresolved).
type Action struct {
	ID            uint64
	Kind          Kind
	RecordDate    time.Time // Zero for balance adjustments.
	ExecutionDate time.Time // Zero for voting.

	// Dividend fields.
	Amount         int64
	AmountDecimals uint8

	// Voting field.
	Ballot []byte

	// Coupon field. Fixed-point rate; interpretation is the caller's.
	Rate int64

	// Balance adjustment fields: multiply by Factor, divide by 10^Decimals.
	Factor   int64
	Decimals uint8

	SnapshotID uint64
}

// Scheduler allocates action ids and stores the records. Scheduling itself
// never mutates balances — record dates resolve through the snapshot engine.
//
// Not thread-safe — single-threaded core only.
type Scheduler struct {
	nextID      uint64
	actions     map[uint64]*Action
	adjustments []uint64 // Adjustment ids ordered by execution date.
}

func NewScheduler() *Scheduler {
	return &Scheduler{
		actions: make(map[uint64]*Action),
	}
}

func (s *Scheduler) add(a *Action) uint64 {
	s.nextID++
	a.ID = s.nextID
	s.actions[a.ID] = a
	return a.ID
}

// ScheduleDividend validates dates and records a dividend anchored to its
// record date.
func (s *Scheduler) ScheduleDividend(now, recordDate, executionDate time.Time, amount int64, decimals uint8) (uint64, error) {
	if !recordDate.After(now) {
		return 0, token.ErrPastDate
	}
	if !recordDate.Before(executionDate) {
		return 0, token.ErrBadDateOrder
	}
	if amount <= 0 {
		return 0, token.ErrInvalidAmount
	}
	return s.add(&Action{
		Kind:           KindDividend,
		RecordDate:     recordDate,
		ExecutionDate:  executionDate,
		Amount:         amount,
		AmountDecimals: decimals,
	}), nil
}

// ScheduleVoting records a ballot anchored to its record date.
func (s *Scheduler) ScheduleVoting(now, recordDate time.Time, ballot []byte) (uint64, error) {
	if !recordDate.After(now) {
		return 0, token.ErrPastDate
	}
	return s.add(&Action{
		Kind:       KindVoting,
		RecordDate: recordDate,
		Ballot:     ballot,
	}), nil
}

// ScheduleCoupon records a coupon payment anchored to its record date.
func (s *Scheduler) ScheduleCoupon(now, recordDate, executionDate time.Time, rate int64) (uint64, error) {
	if !recordDate.After(now) {
		return 0, token.ErrPastDate
	}
	if !recordDate.Before(executionDate) {
		return 0, token.ErrBadDateOrder
	}
	return s.add(&Action{
		Kind:          KindCoupon,
		RecordDate:    recordDate,
		ExecutionDate: executionDate,
		Rate:          rate,
	}), nil
}

// ScheduleBalanceAdjustment records a ledger-wide multiplier applied to
// future balance queries. No record date and no balance mutation — factor
// composition happens at query time.
func (s *Scheduler) ScheduleBalanceAdjustment(now, executionDate time.Time, factor int64, decimals uint8) (uint64, error) {
	if !executionDate.After(now) {
		return 0, token.ErrPastDate
	}
	if factor == 0 {
		return 0, token.ErrZeroFactor
	}
	id := s.add(&Action{
		Kind:          KindBalanceAdjustment,
		ExecutionDate: executionDate,
		Factor:        factor,
		Decimals:      decimals,
	})
	s.adjustments = append(s.adjustments, id)
	sort.SliceStable(s.adjustments, func(i, j int) bool {
		return s.actions[s.adjustments[i]].ExecutionDate.Before(s.actions[s.adjustments[j]].ExecutionDate)
	})
	return id, nil
}

// Get returns the action of the expected kind. An id belonging to another
// variant fails with ErrWrongIndexForAction rather than silently coercing.
func (s *Scheduler) Get(id uint64, kind Kind) (*Action, error) {
	a, ok := s.actions[id]
	if !ok {
		return nil, token.ErrActionNotFound
	}
	if a.Kind != kind {
		return nil, token.ErrWrongIndexForAction
	}
	return a, nil
}

// BindSnapshot assigns the lazily-taken snapshot id to an action. The only
// mutation an action record ever sees.
func (s *Scheduler) BindSnapshot(actionID, snapshotID uint64) {
	if a, ok := s.actions[actionID]; ok && a.SnapshotID == 0 {
		a.SnapshotID = snapshotID
	}
}

// AdjustmentFactorBetween composes every scheduled adjustment whose execution
// date lies strictly after `from` and at or before `until` into an un-divided
// numerator/denominator pair. Never pre-divided, to avoid rounding loss.
func (s *Scheduler) AdjustmentFactorBetween(from, until time.Time) (*big.Int, *big.Int) {
	num := big.NewInt(1)
	den := big.NewInt(1)
	for _, id := range s.adjustments {
		a := s.actions[id]
		if a.ExecutionDate.After(from) && !a.ExecutionDate.After(until) {
			num.Mul(num, big.NewInt(a.Factor))
			den.Mul(den, pow10(a.Decimals))
		}
	}
	return num, den
}

func pow10(decimals uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
}

// Position is an adjusted holder balance as of a corporate action's record
// date: Numerator/Denominator is the balance with every intervening
// adjustment applied, left un-divided.
type Position struct {
	ActionID          uint64
	SnapshotID        uint64
	Numerator         *big.Int
	Denominator       *big.Int
	RecordDateReached bool
}

// BalanceResolver resolves a holder balance for a snapshot id, falling back
// to live state when unresolved. Provided by the core engine.
type BalanceResolver func(snapshotID uint64, h token.Holder) int64

// PositionFor computes the holder's adjusted position for a dividend, voting
// or coupon action. Balance adjustments between the record date and `now`
// are composed into the numerator/denominator.
func (s *Scheduler) PositionFor(id uint64, kind Kind, h token.Holder, now time.Time, resolve BalanceResolver) (Position, error) {
	a, err := s.Get(id, kind)
	if err != nil {
		return Position{}, err
	}

	balance := resolve(a.SnapshotID, h)
	num, den := s.AdjustmentFactorBetween(a.RecordDate, now)

	return Position{
		ActionID:          a.ID,
		SnapshotID:        a.SnapshotID,
		Numerator:         new(big.Int).Mul(big.NewInt(balance), num),
		Denominator:       den,
		RecordDateReached: !a.RecordDate.After(now),
	}, nil
}

// All returns every action sorted by id (state snapshot).
func (s *Scheduler) All() []*Action {
	out := make([]*Action, 0, len(s.actions))
	for _, a := range s.actions {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// LastID returns the highest action id assigned so far.
func (s *Scheduler) LastID() uint64 {
	return s.nextID
}

// Restore re-inserts an action and advances the id counter (recovery path).
func (s *Scheduler) Restore(a *Action) {
	s.actions[a.ID] = a
	if a.ID > s.nextID {
		s.nextID = a.ID
	}
	if a.Kind == KindBalanceAdjustment {
		s.adjustments = append(s.adjustments, a.ID)
		sort.SliceStable(s.adjustments, func(i, j int) bool {
			return s.actions[s.adjustments[i]].ExecutionDate.Before(s.actions[s.adjustments[j]].ExecutionDate)
		})
	}
}
