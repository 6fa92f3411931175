// Package reservation implements the two-phase reservation pattern shared by
// holds and clearing operations: reserve free balance at creation, then
// execute, release, or reclaim-after-expiry. The book handles id allocation
// and amount bookkeeping; who may perform each transition is decided by the
// instantiating manager.
package reservation

import (
	"time"

	"SecTokenLedger/internal/token"
)

// Reservation is one pending conditional balance movement. Immutable once
// created except for Amount, which a partial execution decreases. Terminal
// transitions delete the record.
type Reservation struct {
	ID          uint64
	Partition   token.Partition
	Holder      token.Holder
	Amount      int64
	Expiration  time.Time
	Executor    token.Holder // The only party allowed to execute
	Destination token.Holder // NullHolder when left open at creation
	ThirdParty  bool         // Execution may name a beneficiary other than Destination
	Payload     []byte       // Opaque instruction data, carried untouched
	Operator    token.Holder // Who requested the reservation
}

// Expired reports whether the reservation is strictly past its expiration at
// the caller-supplied current time. Expiration is never evaluated by
// background timers.
func (r *Reservation) Expired(now time.Time) bool {
	return now.After(r.Expiration)
}

type key struct {
	holder    token.Holder
	partition token.Partition
	id        uint64
}

type counterKey struct {
	holder    token.Holder
	partition token.Partition
}

// Book tracks reservations with a monotonically increasing id per
// (holder, partition). Not thread-safe — single-threaded core only.
type Book struct {
	next map[counterKey]uint64
	byID map[key]*Reservation
}

func NewBook() *Book {
	return &Book{
		next: make(map[counterKey]uint64),
		byID: make(map[key]*Reservation),
	}
}

// Create allocates the next id for (holder, partition) and stores the
// reservation. The caller has already reserved the amount on the ledger.
func (b *Book) Create(r Reservation) uint64 {
	ck := counterKey{holder: r.Holder, partition: r.Partition}
	b.next[ck]++
	r.ID = b.next[ck]
	stored := r
	b.byID[key{holder: r.Holder, partition: r.Partition, id: r.ID}] = &stored
	return r.ID
}

// Get returns the reservation, or nil if it does not exist (never created or
// already resolved).
func (b *Book) Get(h token.Holder, p token.Partition, id uint64) *Reservation {
	return b.byID[key{holder: h, partition: p, id: id}]
}

// Decrease reduces the reserved amount after a partial execution. A full
// execution removes the record instead.
func (b *Book) Decrease(h token.Holder, p token.Partition, id uint64, amount int64) {
	if r := b.Get(h, p, id); r != nil {
		r.Amount -= amount
	}
}

// Remove deletes a resolved reservation. Resolving twice is therefore
// impossible: the second lookup fails.
func (b *Book) Remove(h token.Holder, p token.Partition, id uint64) {
	delete(b.byID, key{holder: h, partition: p, id: id})
}

// All returns every open reservation (for state snapshot and digesting).
func (b *Book) All() []Reservation {
	out := make([]Reservation, 0, len(b.byID))
	for _, r := range b.byID {
		out = append(out, *r)
	}
	return out
}

// Restore re-inserts a reservation and advances the per-key counter so future
// ids stay monotonic (snapshot recovery path).
func (b *Book) Restore(r Reservation) {
	ck := counterKey{holder: r.Holder, partition: r.Partition}
	if r.ID > b.next[ck] {
		b.next[ck] = r.ID
	}
	stored := r
	b.byID[key{holder: r.Holder, partition: r.Partition, id: r.ID}] = &stored
}

// RestoreCounter forces a per-key counter (snapshot recovery path — counters
// must survive even when every reservation under them has been resolved).
func (b *Book) RestoreCounter(h token.Holder, p token.Partition, next uint64) {
	ck := counterKey{holder: h, partition: p}
	if next > b.next[ck] {
		b.next[ck] = next
	}
}

// Counters returns the per-key id counters (for state snapshot).
func (b *Book) Counters() map[CounterRef]uint64 {
	out := make(map[CounterRef]uint64, len(b.next))
	for ck, n := range b.next {
		out[CounterRef{Holder: ck.holder, Partition: ck.partition}] = n
	}
	return out
}

// CounterRef is the exported form of the per-(holder, partition) counter key.
type CounterRef struct {
	Holder    token.Holder
	Partition token.Partition
}
