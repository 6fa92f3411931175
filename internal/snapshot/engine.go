// Package snapshot captures point-in-time balances and holder sets the first
// time a ledger-mutating instruction lands at or after a scheduled record
// date. A record date with no intervening mutation never produces a stored
// snapshot; queries against it fall back to live state.
package snapshot

import (
	"sort"
	"time"

	"SecTokenLedger/internal/token"
)

// Record is one immutable, numbered capture of every holder's total balance
// and the holder set at the moment a record date was first crossed.
type Record struct {
	ID      uint64
	TakenAt time.Time
	Totals  map[token.Holder]int64
	Holders []token.Holder
}

// BalanceSource is what the engine captures from — satisfied by ledger.Book.
type BalanceSource interface {
	AllHolders() []token.Holder
	TotalAcrossPartitions(h token.Holder) int64
}

// Assignment reports which corporate action a freshly taken snapshot was
// bound to.
type Assignment struct {
	ActionID   uint64
	SnapshotID uint64
}

type scheduled struct {
	actionID   uint64
	recordDate time.Time
}

// Engine owns the asset-wide snapshot counter and the pending record dates
// registered by the corporate actions scheduler.
//
// Not thread-safe — single-threaded core only.
type Engine struct {
	nextID  uint64 // Last assigned snapshot id; ids start at 1, 0 means unresolved.
	records map[uint64]*Record
	pending []scheduled // Sorted by record date.
}

func NewEngine() *Engine {
	return &Engine{
		records: make(map[uint64]*Record),
	}
}

// Schedule registers a corporate action's record date. The snapshot for it is
// taken lazily by MaybeSnapshot.
func (e *Engine) Schedule(actionID uint64, recordDate time.Time) {
	e.pending = append(e.pending, scheduled{actionID: actionID, recordDate: recordDate})
	sort.SliceStable(e.pending, func(i, j int) bool {
		return e.pending[i].recordDate.Before(e.pending[j].recordDate)
	})
}

// Pending is a captured-but-uncommitted snapshot. The core prepares it from
// the pre-mutation ledger state, applies the instruction, and commits only on
// success so a rejected instruction never consumes a snapshot id.
type Pending struct {
	record *Record
	due    []scheduled
}

// Prepare captures the pre-mutation state when any pending record date is at
// or before now. Returns nil when nothing is due. Engine state is untouched
// until Commit.
func (e *Engine) Prepare(now time.Time, src BalanceSource) *Pending {
	var due []scheduled
	for _, s := range e.pending {
		if !s.recordDate.After(now) {
			due = append(due, s)
		}
	}
	if len(due) == 0 {
		return nil
	}

	rec := &Record{
		TakenAt: now,
		Totals:  make(map[token.Holder]int64),
		Holders: src.AllHolders(),
	}
	for _, h := range rec.Holders {
		rec.Totals[h] = src.TotalAcrossPartitions(h)
	}
	return &Pending{record: rec, due: due}
}

// Commit assigns the next snapshot id to a prepared capture, stores it and
// binds it to every satisfied action. Passing nil is a no-op.
func (e *Engine) Commit(p *Pending) []Assignment {
	if p == nil {
		return nil
	}

	remaining := e.pending[:0]
	for _, s := range e.pending {
		if s.recordDate.After(p.record.TakenAt) {
			remaining = append(remaining, s)
		}
	}
	e.pending = remaining

	e.nextID++
	p.record.ID = e.nextID
	e.records[p.record.ID] = p.record

	assignments := make([]Assignment, 0, len(p.due))
	for _, s := range p.due {
		assignments = append(assignments, Assignment{ActionID: s.actionID, SnapshotID: p.record.ID})
	}
	return assignments
}

// MaybeSnapshot prepares and commits in one step, for callers with no
// intervening mutation that can fail.
func (e *Engine) MaybeSnapshot(now time.Time, src BalanceSource) []Assignment {
	return e.Commit(e.Prepare(now, src))
}

// BalanceAsOf returns the captured total for a holder. ok is false when the
// snapshot id is 0 or unknown — the caller then falls back to live state, so
// "resolved historical" and "not yet resolved" are indistinguishable except
// through the action's snapshotID field.
func (e *Engine) BalanceAsOf(snapshotID uint64, h token.Holder) (int64, bool) {
	rec, ok := e.records[snapshotID]
	if !ok {
		return 0, false
	}
	return rec.Totals[h], true
}

// HoldersAsOf returns the captured holder set, or ok=false for live fallback.
func (e *Engine) HoldersAsOf(snapshotID uint64) ([]token.Holder, bool) {
	rec, ok := e.records[snapshotID]
	if !ok {
		return nil, false
	}
	out := make([]token.Holder, len(rec.Holders))
	copy(out, rec.Holders)
	return out, true
}

// Get returns a stored record (nil when absent).
func (e *Engine) Get(snapshotID uint64) *Record {
	return e.records[snapshotID]
}

// LastID returns the highest snapshot id assigned so far.
func (e *Engine) LastID() uint64 {
	return e.nextID
}

// PendingDates returns (actionID, recordDate) pairs for persistence.
func (e *Engine) PendingDates() map[uint64]time.Time {
	out := make(map[uint64]time.Time, len(e.pending))
	for _, s := range e.pending {
		out[s.actionID] = s.recordDate
	}
	return out
}

// Records returns every stored record (state snapshot).
func (e *Engine) Records() []*Record {
	out := make([]*Record, 0, len(e.records))
	for _, r := range e.records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Restore re-inserts a record and advances the counter (recovery path).
func (e *Engine) Restore(rec *Record) {
	e.records[rec.ID] = rec
	if rec.ID > e.nextID {
		e.nextID = rec.ID
	}
}

// RestoreCounter forces the snapshot counter (recovery path).
func (e *Engine) RestoreCounter(last uint64) {
	if last > e.nextID {
		e.nextID = last
	}
}
