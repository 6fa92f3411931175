// Package hold implements escrow-controlled conditional reservations against
// free balance.
package hold

import (
	"fmt"
	"time"

	"SecTokenLedger/internal/ledger"
	"SecTokenLedger/internal/reservation"
	"SecTokenLedger/internal/token"
)

// Manager owns the hold lifecycle: create reserves free into held; the escrow
// agent executes (partially or fully) or releases before expiration; the
// holder releases before expiration or reclaims strictly after it. Terminal
// transitions delete the hold.
type Manager struct {
	book  *ledger.Book
	holds *reservation.Book
}

func NewManager(book *ledger.Book) *Manager {
	return &Manager{
		book:  book,
		holds: reservation.NewBook(),
	}
}

// CreateParams carries everything a hold is created with. Destination may be
// NullHolder, in which case execution must name a beneficiary.
type CreateParams struct {
	Partition   token.Partition
	Holder      token.Holder
	Amount      int64
	Expiration  time.Time
	Escrow      token.Holder
	Destination token.Holder
	ThirdParty  bool
	Payload     []byte
	Operator    token.Holder
}

// Create reserves amount from the holder's free balance and records the hold.
func (m *Manager) Create(now time.Time, p CreateParams) (uint64, error) {
	if p.Amount <= 0 {
		return 0, token.ErrInvalidAmount
	}
	if p.Escrow == token.NullHolder {
		return 0, fmt.Errorf("escrow: %w", token.ErrZeroAddress)
	}
	if !p.Expiration.After(now) {
		return 0, token.ErrBadExpiration
	}
	if err := m.book.Reserve(p.Partition, p.Holder, p.Amount); err != nil {
		return 0, err
	}

	id := m.holds.Create(reservation.Reservation{
		Partition:   p.Partition,
		Holder:      p.Holder,
		Amount:      p.Amount,
		Expiration:  p.Expiration,
		Executor:    p.Escrow,
		Destination: p.Destination,
		ThirdParty:  p.ThirdParty,
		Payload:     p.Payload,
		Operator:    p.Operator,
	})
	return id, nil
}

// Adopt records a hold whose amount is already reserved on the ledger. Used
// when an approved clearing operation resolves into a hold creation: the
// clearing reservation keeps the amount in held, and the hold takes it over.
func (m *Manager) Adopt(p CreateParams) uint64 {
	return m.holds.Create(reservation.Reservation{
		Partition:   p.Partition,
		Holder:      p.Holder,
		Amount:      p.Amount,
		Expiration:  p.Expiration,
		Executor:    p.Escrow,
		Destination: p.Destination,
		ThirdParty:  p.ThirdParty,
		Payload:     p.Payload,
		Operator:    p.Operator,
	})
}

// Get returns a copy of the hold.
func (m *Manager) Get(h token.Holder, p token.Partition, id uint64) (reservation.Reservation, error) {
	r := m.holds.Get(h, p, id)
	if r == nil {
		return reservation.Reservation{}, token.ErrHoldNotFound
	}
	return *r, nil
}

// Execute settles amount of the hold to the destination and returns the
// resolved beneficiary. Only the escrow agent, only before expiration. A
// partial execution leaves the remainder held; a full execution deletes the
// hold.
func (m *Manager) Execute(now time.Time, actor, holder token.Holder, p token.Partition, id uint64, amount int64, to token.Holder) (token.Holder, error) {
	r := m.holds.Get(holder, p, id)
	if r == nil {
		return token.NullHolder, token.ErrHoldNotFound
	}
	if actor != r.Executor {
		return token.NullHolder, token.ErrNotEscrow
	}
	if r.Expired(now) {
		return token.NullHolder, token.ErrExpired
	}
	if amount <= 0 {
		return token.NullHolder, token.ErrInvalidAmount
	}
	if amount > r.Amount {
		return token.NullHolder, fmt.Errorf("%w: held=%d, need=%d", token.ErrInsufficientHold, r.Amount, amount)
	}

	dest := r.Destination
	if dest == token.NullHolder || r.ThirdParty {
		if to != token.NullHolder {
			dest = to
		}
	}
	if dest == token.NullHolder {
		return token.NullHolder, fmt.Errorf("destination: %w", token.ErrZeroAddress)
	}

	if err := m.book.ExecuteReserved(p, holder, dest, amount); err != nil {
		return token.NullHolder, err
	}
	if amount == r.Amount {
		m.holds.Remove(holder, p, id)
	} else {
		m.holds.Decrease(holder, p, id, amount)
	}
	return dest, nil
}

// Release returns the full reserved amount to free and deletes the hold.
// Escrow or holder, only before expiration.
func (m *Manager) Release(now time.Time, actor, holder token.Holder, p token.Partition, id uint64) error {
	r := m.holds.Get(holder, p, id)
	if r == nil {
		return token.ErrHoldNotFound
	}
	if actor != r.Executor && actor != r.Holder {
		return fmt.Errorf("release: %w", token.ErrNotEscrow)
	}
	if r.Expired(now) {
		return token.ErrExpired
	}
	if err := m.book.ReleaseReserved(p, holder, r.Amount); err != nil {
		return err
	}
	m.holds.Remove(holder, p, id)
	return nil
}

// Reclaim returns the reserved amount to free after expiration. Holder only,
// only strictly after the expiration timestamp.
func (m *Manager) Reclaim(now time.Time, actor, holder token.Holder, p token.Partition, id uint64) error {
	r := m.holds.Get(holder, p, id)
	if r == nil {
		return token.ErrHoldNotFound
	}
	if actor != r.Holder {
		return token.ErrNotHolder
	}
	if !r.Expired(now) {
		return token.ErrNotExpired
	}
	if err := m.book.ReleaseReserved(p, holder, r.Amount); err != nil {
		return err
	}
	m.holds.Remove(holder, p, id)
	return nil
}

// All returns every open hold (state snapshot).
func (m *Manager) All() []reservation.Reservation {
	return m.holds.All()
}

// Counters returns the per-(holder, partition) id counters (state snapshot).
func (m *Manager) Counters() map[reservation.CounterRef]uint64 {
	return m.holds.Counters()
}

// Restore re-inserts a hold (snapshot recovery path).
func (m *Manager) Restore(r reservation.Reservation) {
	m.holds.Restore(r)
}

// RestoreCounter forces an id counter (snapshot recovery path).
func (m *Manager) RestoreCounter(ref reservation.CounterRef, next uint64) {
	m.holds.RestoreCounter(ref.Holder, ref.Partition, next)
}
