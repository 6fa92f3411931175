package snapshot_test

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"SecTokenLedger/internal/ledger"
	"SecTokenLedger/internal/snapshot"
	"SecTokenLedger/internal/token"
)

func at(step int64) time.Time {
	return time.UnixMicro(1_000_000 + step*1_000)
}

func newBookWith(holders map[token.Holder]int64) *ledger.Book {
	bk := ledger.NewBook(false, 0)
	for h, amount := range holders {
		bk.Issue(token.DefaultPartition, h, amount)
	}
	return bk
}

func TestPrepare_NothingDue(t *testing.T) {
	e := snapshot.NewEngine()
	bk := newBookWith(map[token.Holder]int64{uuid.New(): 100})

	e.Schedule(1, at(50))
	if p := e.Prepare(at(10), bk); p != nil {
		t.Error("prepared a snapshot before the record date")
	}
	if got := e.LastID(); got != 0 {
		t.Errorf("last id: got %d, want 0", got)
	}
}

func TestPrepareCommit_CapturesPreMutationState(t *testing.T) {
	e := snapshot.NewEngine()
	a := uuid.New()
	bk := newBookWith(map[token.Holder]int64{a: 1000})

	e.Schedule(7, at(5))

	p := e.Prepare(at(10), bk)
	if p == nil {
		t.Fatal("expected a pending snapshot at the record date")
	}

	// Mutate between prepare and commit, the way the core does.
	bk.Redeem(token.DefaultPartition, a, 400)

	assignments := e.Commit(p)
	if len(assignments) != 1 || assignments[0].ActionID != 7 || assignments[0].SnapshotID != 1 {
		t.Fatalf("assignments: got %+v", assignments)
	}

	total, ok := e.BalanceAsOf(1, a)
	if !ok {
		t.Fatal("snapshot 1 missing")
	}
	if total != 1000 {
		t.Errorf("captured total: got %d, want pre-mutation 1000", total)
	}
}

func TestCommit_NilIsNoOp(t *testing.T) {
	e := snapshot.NewEngine()
	if got := e.Commit(nil); got != nil {
		t.Errorf("got %v, want nil", got)
	}
	if got := e.LastID(); got != 0 {
		t.Errorf("last id: got %d, want 0", got)
	}
}

func TestRejectedInstruction_ConsumesNoSnapshotID(t *testing.T) {
	e := snapshot.NewEngine()
	bk := newBookWith(map[token.Holder]int64{uuid.New(): 100})
	e.Schedule(1, at(5))

	// A prepare that is never committed (the instruction was rejected).
	if p := e.Prepare(at(10), bk); p == nil {
		t.Fatal("expected a pending snapshot")
	}
	if got := e.LastID(); got != 0 {
		t.Errorf("last id after abandoned prepare: got %d, want 0", got)
	}

	// The record date is still pending; the next mutation resolves it.
	assignments := e.MaybeSnapshot(at(11), bk)
	if len(assignments) != 1 || assignments[0].SnapshotID != 1 {
		t.Errorf("assignments: got %+v", assignments)
	}
}

func TestMultipleDueDates_ShareOneSnapshot(t *testing.T) {
	e := snapshot.NewEngine()
	bk := newBookWith(map[token.Holder]int64{uuid.New(): 100})

	e.Schedule(1, at(5))
	e.Schedule(2, at(8))
	e.Schedule(3, at(50))

	assignments := e.MaybeSnapshot(at(10), bk)
	if len(assignments) != 2 {
		t.Fatalf("assignments: got %d, want 2", len(assignments))
	}
	for _, a := range assignments {
		if a.SnapshotID != 1 {
			t.Errorf("action %d bound to snapshot %d, want 1", a.ActionID, a.SnapshotID)
		}
	}
	if got := e.LastID(); got != 1 {
		t.Errorf("last id: got %d, want 1", got)
	}

	// The far date stays pending.
	pending := e.PendingDates()
	if len(pending) != 1 {
		t.Fatalf("pending: got %v", pending)
	}
	if _, ok := pending[3]; !ok {
		t.Errorf("action 3 should still be pending, got %v", pending)
	}
}

func TestBalanceAsOf_UnknownIDFallsBack(t *testing.T) {
	e := snapshot.NewEngine()

	if _, ok := e.BalanceAsOf(0, uuid.New()); ok {
		t.Error("id 0 must report not-found for live fallback")
	}
	if _, ok := e.BalanceAsOf(42, uuid.New()); ok {
		t.Error("unknown id must report not-found for live fallback")
	}
}

func TestSnapshot_ImmutableAfterLaterMutations(t *testing.T) {
	e := snapshot.NewEngine()
	a := uuid.New()
	bk := newBookWith(map[token.Holder]int64{a: 1000})
	e.Schedule(1, at(5))
	e.MaybeSnapshot(at(10), bk)

	bk.Issue(token.DefaultPartition, a, 9000)

	total, _ := e.BalanceAsOf(1, a)
	if total != 1000 {
		t.Errorf("stored total changed: got %d, want 1000", total)
	}
	holders, ok := e.HoldersAsOf(1)
	if !ok || len(holders) != 1 {
		t.Errorf("holder set: got %v", holders)
	}
}

func TestRestore_AdvancesCounter(t *testing.T) {
	e := snapshot.NewEngine()
	e.Restore(&snapshot.Record{ID: 5, TakenAt: at(1), Totals: map[token.Holder]int64{}})

	if got := e.LastID(); got != 5 {
		t.Errorf("last id: got %d, want 5", got)
	}

	// The next committed snapshot continues after the restored id.
	bk := newBookWith(map[token.Holder]int64{uuid.New(): 100})
	e.Schedule(9, at(2))
	assignments := e.MaybeSnapshot(at(3), bk)
	if len(assignments) != 1 || assignments[0].SnapshotID != 6 {
		t.Errorf("assignments: got %+v", assignments)
	}
}
