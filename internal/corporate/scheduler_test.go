package corporate_test

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/google/uuid"

	"SecTokenLedger/internal/corporate"
	"SecTokenLedger/internal/token"
)

func at(step int64) time.Time {
	return time.UnixMicro(1_000_000 + step*1_000)
}

func TestScheduleDividend_DateValidation(t *testing.T) {
	s := corporate.NewScheduler()

	if _, err := s.ScheduleDividend(at(10), at(10), at(20), 100, 0); !errors.Is(err, token.ErrPastDate) {
		t.Errorf("record date not in future: got %v, want ErrPastDate", err)
	}
	if _, err := s.ScheduleDividend(at(10), at(20), at(20), 100, 0); !errors.Is(err, token.ErrBadDateOrder) {
		t.Errorf("record date == execution date: got %v, want ErrBadDateOrder", err)
	}
	if _, err := s.ScheduleDividend(at(10), at(20), at(30), 0, 0); !errors.Is(err, token.ErrInvalidAmount) {
		t.Errorf("zero amount: got %v, want ErrInvalidAmount", err)
	}

	id, err := s.ScheduleDividend(at(10), at(20), at(30), 100, 2)
	if err != nil {
		t.Fatalf("valid dividend: %v", err)
	}
	if id != 1 {
		t.Errorf("id: got %d, want 1", id)
	}
}

func TestScheduleBalanceAdjustment_Validation(t *testing.T) {
	s := corporate.NewScheduler()

	if _, err := s.ScheduleBalanceAdjustment(at(10), at(10), 2, 0); !errors.Is(err, token.ErrPastDate) {
		t.Errorf("execution date not in future: got %v, want ErrPastDate", err)
	}
	if _, err := s.ScheduleBalanceAdjustment(at(10), at(20), 0, 0); !errors.Is(err, token.ErrZeroFactor) {
		t.Errorf("zero factor: got %v, want ErrZeroFactor", err)
	}
}

func TestGet_WrongKindFails(t *testing.T) {
	s := corporate.NewScheduler()
	id, err := s.ScheduleVoting(at(1), at(10), []byte("agm"))
	if err != nil {
		t.Fatalf("schedule voting: %v", err)
	}

	if _, err := s.Get(id, corporate.KindVoting); err != nil {
		t.Errorf("voting lookup: %v", err)
	}
	if _, err := s.Get(id, corporate.KindCoupon); !errors.Is(err, token.ErrWrongIndexForAction) {
		t.Errorf("coupon lookup: got %v, want ErrWrongIndexForAction", err)
	}
	if _, err := s.Get(99, corporate.KindVoting); !errors.Is(err, token.ErrActionNotFound) {
		t.Errorf("missing id: got %v, want ErrActionNotFound", err)
	}
}

func TestBindSnapshot_OnlyOnce(t *testing.T) {
	s := corporate.NewScheduler()
	id, _ := s.ScheduleVoting(at(1), at(10), nil)

	s.BindSnapshot(id, 3)
	s.BindSnapshot(id, 4)

	a, _ := s.Get(id, corporate.KindVoting)
	if a.SnapshotID != 3 {
		t.Errorf("snapshot id: got %d, want first binding 3", a.SnapshotID)
	}
}

func TestAdjustmentFactorBetween_Composition(t *testing.T) {
	s := corporate.NewScheduler()
	// A 3:1 split at step 10 and a 1:2 reverse split at step 20.
	if _, err := s.ScheduleBalanceAdjustment(at(1), at(10), 3, 0); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if _, err := s.ScheduleBalanceAdjustment(at(1), at(20), 5, 1); err != nil {
		t.Fatalf("schedule: %v", err)
	}

	// (at(5), at(15)]: only the first adjustment applies.
	num, den := s.AdjustmentFactorBetween(at(5), at(15))
	if num.Cmp(big.NewInt(3)) != 0 || den.Cmp(big.NewInt(1)) != 0 {
		t.Errorf("single: got %s/%s, want 3/1", num, den)
	}

	// (at(5), at(25)]: both compose, never pre-divided.
	num, den = s.AdjustmentFactorBetween(at(5), at(25))
	if num.Cmp(big.NewInt(15)) != 0 || den.Cmp(big.NewInt(10)) != 0 {
		t.Errorf("composed: got %s/%s, want 15/10", num, den)
	}

	// Boundary: `from` is exclusive, `until` inclusive.
	num, den = s.AdjustmentFactorBetween(at(10), at(20))
	if num.Cmp(big.NewInt(5)) != 0 || den.Cmp(big.NewInt(10)) != 0 {
		t.Errorf("boundary: got %s/%s, want 5/10", num, den)
	}
}

func TestPositionFor_AppliesResolverAndAdjustments(t *testing.T) {
	s := corporate.NewScheduler()
	h := uuid.New()

	divID, err := s.ScheduleDividend(at(1), at(10), at(50), 500, 0)
	if err != nil {
		t.Fatalf("schedule dividend: %v", err)
	}
	if _, err := s.ScheduleBalanceAdjustment(at(1), at(15), 3, 1); err != nil {
		t.Fatalf("schedule adjustment: %v", err)
	}
	s.BindSnapshot(divID, 1)

	resolve := func(snapshotID uint64, holder token.Holder) int64 {
		if snapshotID != 1 || holder != h {
			t.Errorf("resolver called with snapshot=%d holder=%s", snapshotID, holder)
		}
		return 1000
	}

	pos, err := s.PositionFor(divID, corporate.KindDividend, h, at(20), resolve)
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	if pos.Numerator.Cmp(big.NewInt(3000)) != 0 || pos.Denominator.Cmp(big.NewInt(10)) != 0 {
		t.Errorf("position: got %s/%s, want 3000/10", pos.Numerator, pos.Denominator)
	}
	if !pos.RecordDateReached {
		t.Error("record date should be reached at query time")
	}

	// Querying before the record date reports it unreached.
	pos, err = s.PositionFor(divID, corporate.KindDividend, h, at(5), resolve)
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	if pos.RecordDateReached {
		t.Error("record date should not be reached yet")
	}
}

func TestRestore_RebuildsAdjustmentOrder(t *testing.T) {
	s := corporate.NewScheduler()
	s.Restore(&corporate.Action{ID: 2, Kind: corporate.KindBalanceAdjustment, ExecutionDate: at(20), Factor: 5, Decimals: 1})
	s.Restore(&corporate.Action{ID: 1, Kind: corporate.KindBalanceAdjustment, ExecutionDate: at(10), Factor: 3})

	if got := s.LastID(); got != 2 {
		t.Errorf("last id: got %d, want 2", got)
	}
	num, den := s.AdjustmentFactorBetween(at(5), at(25))
	if num.Cmp(big.NewInt(15)) != 0 || den.Cmp(big.NewInt(10)) != 0 {
		t.Errorf("composed after restore: got %s/%s, want 15/10", num, den)
	}
}
