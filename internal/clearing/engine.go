// Package clearing implements the optional deferred-settlement mode. While
// active, transfers, redemptions and hold creations become pending operator-
// approved obligations instead of immediate ledger effects.
package clearing

import (
	"fmt"
	"time"

	"SecTokenLedger/internal/hold"
	"SecTokenLedger/internal/ledger"
	"SecTokenLedger/internal/reservation"
	"SecTokenLedger/internal/token"
)

// OpKind discriminates what an approved clearing operation resolves into.
type OpKind int32

const (
	OpTransfer OpKind = iota
	OpRedeem
	OpHoldCreate
)

func (k OpKind) String() string {
	switch k {
	case OpRedeem:
		return "redeem"
	case OpHoldCreate:
		return "hold_create"
	default:
		return "transfer"
	}
}

// Operation is one pending clearing obligation. The embedded reservation
// carries the reserved amount, expiration and destination; HoldParams is set
// only for OpHoldCreate.
type Operation struct {
	reservation.Reservation
	Kind       OpKind
	HoldParams *hold.CreateParams
}

// Engine owns the clearingActive flag and the pending operation book. The
// same reservation state machine as holds, with different authorization
// rules: the clearing operator approves, the holder reclaims after expiry,
// nobody releases early.
type Engine struct {
	book   *ledger.Book
	holds  *hold.Manager
	active bool

	ops      *reservation.Book
	metadata map[opKey]*opMeta
}

type opKey struct {
	holder    token.Holder
	partition token.Partition
	id        uint64
}

type opMeta struct {
	kind       OpKind
	holdParams *hold.CreateParams
}

func NewEngine(book *ledger.Book, holds *hold.Manager) *Engine {
	return &Engine{
		book:     book,
		holds:    holds,
		ops:      reservation.NewBook(),
		metadata: make(map[opKey]*opMeta),
	}
}

// Active reports whether clearing mode intercepts ledger operations.
func (e *Engine) Active() bool {
	return e.active
}

// SetActive toggles clearing mode. Toggling never touches already-created
// operations — they stay resolvable either way.
func (e *Engine) SetActive(active bool) {
	e.active = active
}

// CreateParams carries a clearing operation request.
type CreateParams struct {
	Kind        OpKind
	Partition   token.Partition
	Holder      token.Holder
	Amount      int64
	Expiration  time.Time
	Destination token.Holder // Transfer destination; NullHolder for redeem
	Payload     []byte
	Operator    token.Holder
	HoldParams  *hold.CreateParams // Required for OpHoldCreate
}

// Create reserves amount from free (identically to a hold) and records the
// pending operation under the next clearingID for (holder, partition).
func (e *Engine) Create(now time.Time, p CreateParams) (uint64, error) {
	if p.Amount <= 0 {
		return 0, token.ErrInvalidAmount
	}
	if !p.Expiration.After(now) {
		return 0, token.ErrBadExpiration
	}
	if p.Kind == OpTransfer && p.Destination == token.NullHolder {
		return 0, fmt.Errorf("destination: %w", token.ErrZeroAddress)
	}
	if p.Kind == OpHoldCreate {
		if p.HoldParams == nil || p.HoldParams.Amount != p.Amount {
			return 0, token.ErrInvalidAmount
		}
		if p.HoldParams.Escrow == token.NullHolder {
			return 0, fmt.Errorf("escrow: %w", token.ErrZeroAddress)
		}
	}
	if err := e.book.Reserve(p.Partition, p.Holder, p.Amount); err != nil {
		return 0, err
	}

	id := e.ops.Create(reservation.Reservation{
		Partition:   p.Partition,
		Holder:      p.Holder,
		Amount:      p.Amount,
		Expiration:  p.Expiration,
		Executor:    p.Operator,
		Destination: p.Destination,
		Payload:     p.Payload,
		Operator:    p.Operator,
	})
	e.metadata[opKey{holder: p.Holder, partition: p.Partition, id: id}] = &opMeta{
		kind:       p.Kind,
		holdParams: p.HoldParams,
	}
	return id, nil
}

// Get returns a copy of a pending operation.
func (e *Engine) Get(h token.Holder, p token.Partition, id uint64) (Operation, error) {
	r := e.ops.Get(h, p, id)
	if r == nil {
		return Operation{}, token.ErrClearingNotFound
	}
	meta := e.metadata[opKey{holder: h, partition: p, id: id}]
	return Operation{Reservation: *r, Kind: meta.kind, HoldParams: meta.holdParams}, nil
}

// Approve applies the underlying effect and deletes the pending record.
// Role authorization (clearing role) is checked by the core engine before
// this is called. Approving an already-resolved operation fails — the record
// is gone.
func (e *Engine) Approve(h token.Holder, p token.Partition, id uint64) (Operation, uint64, error) {
	op, err := e.Get(h, p, id)
	if err != nil {
		return Operation{}, 0, err
	}

	var holdID uint64
	switch op.Kind {
	case OpTransfer:
		if err := e.book.ExecuteReserved(p, h, op.Destination, op.Amount); err != nil {
			return Operation{}, 0, err
		}
	case OpRedeem:
		if err := e.book.BurnReserved(p, h, op.Amount); err != nil {
			return Operation{}, 0, err
		}
	case OpHoldCreate:
		// The reserved amount stays held; the hold record takes it over.
		holdID = e.holds.Adopt(*op.HoldParams)
	}

	e.remove(h, p, id)
	return op, holdID, nil
}

// Reclaim returns the reserved amount to free. Holder only, only strictly
// after the operation's expiration.
func (e *Engine) Reclaim(now time.Time, actor, h token.Holder, p token.Partition, id uint64) (Operation, error) {
	op, err := e.Get(h, p, id)
	if err != nil {
		return Operation{}, err
	}
	if actor != h {
		return Operation{}, token.ErrNotHolder
	}
	if !op.Expired(now) {
		return Operation{}, token.ErrNotExpired
	}
	if err := e.book.ReleaseReserved(p, h, op.Amount); err != nil {
		return Operation{}, err
	}
	e.remove(h, p, id)
	return op, nil
}

func (e *Engine) remove(h token.Holder, p token.Partition, id uint64) {
	e.ops.Remove(h, p, id)
	delete(e.metadata, opKey{holder: h, partition: p, id: id})
}

// All returns every pending operation (state snapshot).
func (e *Engine) All() []Operation {
	out := make([]Operation, 0, len(e.metadata))
	for _, r := range e.ops.All() {
		meta := e.metadata[opKey{holder: r.Holder, partition: r.Partition, id: r.ID}]
		out = append(out, Operation{Reservation: r, Kind: meta.kind, HoldParams: meta.holdParams})
	}
	return out
}

// Counters returns the per-(holder, partition) clearingID counters.
func (e *Engine) Counters() map[reservation.CounterRef]uint64 {
	return e.ops.Counters()
}

// Restore re-inserts a pending operation (snapshot recovery path).
func (e *Engine) Restore(op Operation) {
	e.ops.Restore(op.Reservation)
	e.metadata[opKey{holder: op.Holder, partition: op.Partition, id: op.ID}] = &opMeta{
		kind:       op.Kind,
		holdParams: op.HoldParams,
	}
}

// RestoreCounter forces a clearingID counter (snapshot recovery path).
func (e *Engine) RestoreCounter(ref reservation.CounterRef, next uint64) {
	e.ops.RestoreCounter(ref.Holder, ref.Partition, next)
}
