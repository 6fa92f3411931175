package core

import (
	"time"

	"SecTokenLedger/internal/corporate"
	"SecTokenLedger/internal/ledger"
	"SecTokenLedger/internal/reservation"
	"SecTokenLedger/internal/snapshot"
	"SecTokenLedger/internal/token"
)

// The reader methods below touch the same state Process mutates and are safe
// only from the core goroutine. External callers go through Runner.Query.

// BalanceOf returns the balance record for (holder, partition).
func (e *Engine) BalanceOf(h token.Holder, p token.Partition) (ledger.Balance, error) {
	resolved, err := e.book.ResolvePartition(p)
	if err != nil {
		return ledger.Balance{}, err
	}
	return e.book.BalanceOf(h, resolved), nil
}

// TotalBalanceOf sums the holder's total across all partitions.
func (e *Engine) TotalBalanceOf(h token.Holder) int64 {
	return e.book.TotalAcrossPartitions(h)
}

func (e *Engine) TotalSupply() int64 {
	return e.book.TotalSupply()
}

func (e *Engine) SupplyOf(p token.Partition) int64 {
	return e.book.SupplyOf(p)
}

func (e *Engine) Partitions() []token.Partition {
	return e.book.Partitions()
}

func (e *Engine) HoldersOf(p token.Partition) []token.Holder {
	return e.book.Holders(p)
}

func (e *Engine) AllHolders() []token.Holder {
	return e.book.AllHolders()
}

// Hold returns one open hold.
func (e *Engine) Hold(h token.Holder, p token.Partition, id uint64) (reservation.Reservation, error) {
	resolved, err := e.book.ResolvePartition(p)
	if err != nil {
		return reservation.Reservation{}, err
	}
	return e.holds.Get(h, resolved, id)
}

// ClearingActive reports the clearing mode flag.
func (e *Engine) ClearingActive() bool {
	return e.clearing.Active()
}

// Paused reports the pause flag.
func (e *Engine) Paused() bool {
	return e.pause.Paused()
}

// SnapshotRecord returns a stored snapshot record (nil when absent).
func (e *Engine) SnapshotRecord(id uint64) *snapshot.Record {
	return e.snapshots.Get(id)
}

// Action returns one corporate action of the expected kind.
func (e *Engine) Action(id uint64, kind corporate.Kind) (*corporate.Action, error) {
	return e.corporate.Get(id, kind)
}

// resolveBalance is the snapshot-or-live balance resolver: captured totals
// when the action's snapshot exists, live state while snapshotID is still 0.
func (e *Engine) resolveBalance(snapshotID uint64, h token.Holder) int64 {
	if v, ok := e.snapshots.BalanceAsOf(snapshotID, h); ok {
		return v
	}
	return e.book.TotalAcrossPartitions(h)
}

// DividendPosition resolves a holder's adjusted dividend position at `now`.
func (e *Engine) DividendPosition(actionID uint64, h token.Holder, now time.Time) (corporate.Position, error) {
	return e.corporate.PositionFor(actionID, corporate.KindDividend, h, now, e.resolveBalance)
}

// VotingPosition resolves a holder's adjusted voting weight at `now`.
func (e *Engine) VotingPosition(actionID uint64, h token.Holder, now time.Time) (corporate.Position, error) {
	return e.corporate.PositionFor(actionID, corporate.KindVoting, h, now, e.resolveBalance)
}

// CouponPosition resolves a holder's adjusted coupon position at `now`.
func (e *Engine) CouponPosition(actionID uint64, h token.Holder, now time.Time) (corporate.Position, error) {
	return e.corporate.PositionFor(actionID, corporate.KindCoupon, h, now, e.resolveBalance)
}

// HoldersForAction returns the holder set an action's entitlement applies to:
// captured when the snapshot exists, live otherwise.
func (e *Engine) HoldersForAction(actionID uint64, kind corporate.Kind) ([]token.Holder, error) {
	a, err := e.corporate.Get(actionID, kind)
	if err != nil {
		return nil, err
	}
	if hs, ok := e.snapshots.HoldersAsOf(a.SnapshotID); ok {
		return hs, nil
	}
	return e.book.AllHolders(), nil
}

// RolesOf returns the operator's granted roles.
func (e *Engine) RolesOf(h token.Holder) []token.Role {
	return e.roles.RolesOf(h)
}

// KYCStatusOf returns the holder's verification status.
func (e *Engine) KYCStatusOf(h token.Holder) token.KYCStatus {
	return e.kyc.StatusOf(h)
}
