package ledger_test

import (
	"errors"
	"testing"

	"github.com/google/uuid"

	"SecTokenLedger/internal/ledger"
	"SecTokenLedger/internal/token"
)

// ============================================================================
// Test: Book — partitions
// ============================================================================

func TestResolvePartition_EmptyDefaults(t *testing.T) {
	bk := ledger.NewBook(false, 0)
	p, err := bk.ResolvePartition("")
	if err != nil {
		t.Fatalf("resolve empty partition: %v", err)
	}
	if p != token.DefaultPartition {
		t.Errorf("got %q, want %q", p, token.DefaultPartition)
	}
}

func TestResolvePartition_SinglePartitionRejectsNamed(t *testing.T) {
	bk := ledger.NewBook(false, 0)
	_, err := bk.ResolvePartition("tranche-a")
	if !errors.Is(err, token.ErrOnlyDefaultPartitionAllowed) {
		t.Errorf("got %v, want ErrOnlyDefaultPartitionAllowed", err)
	}
}

func TestResolvePartition_MultiPartitionAllowsNamed(t *testing.T) {
	bk := ledger.NewBook(true, 0)
	p, err := bk.ResolvePartition("tranche-a")
	if err != nil {
		t.Fatalf("resolve named partition: %v", err)
	}
	if p != "tranche-a" {
		t.Errorf("got %q, want %q", p, "tranche-a")
	}
}

// ============================================================================
// Test: Book — supply
// ============================================================================

func TestIssue_UpdatesBalanceAndSupply(t *testing.T) {
	bk := ledger.NewBook(false, 0)
	h := uuid.New()

	if err := bk.Issue(token.DefaultPartition, h, 1000); err != nil {
		t.Fatalf("issue: %v", err)
	}

	if got := bk.FreeOf(h, token.DefaultPartition); got != 1000 {
		t.Errorf("free: got %d, want 1000", got)
	}
	if got := bk.SupplyOf(token.DefaultPartition); got != 1000 {
		t.Errorf("partition supply: got %d, want 1000", got)
	}
	if got := bk.TotalSupply(); got != 1000 {
		t.Errorf("total supply: got %d, want 1000", got)
	}
}

func TestIssue_MaxSupplyEnforced(t *testing.T) {
	bk := ledger.NewBook(false, 1500)
	h := uuid.New()

	if err := bk.Issue(token.DefaultPartition, h, 1000); err != nil {
		t.Fatalf("first issue: %v", err)
	}
	err := bk.Issue(token.DefaultPartition, h, 501)
	if !errors.Is(err, token.ErrMaxSupplyExceeded) {
		t.Errorf("got %v, want ErrMaxSupplyExceeded", err)
	}
	// Exactly at cap is fine
	if err := bk.Issue(token.DefaultPartition, h, 500); err != nil {
		t.Errorf("issue to cap: %v", err)
	}
}

func TestIssue_RejectsNullHolderAndBadAmount(t *testing.T) {
	bk := ledger.NewBook(false, 0)
	if err := bk.Issue(token.DefaultPartition, token.NullHolder, 100); !errors.Is(err, token.ErrZeroAddress) {
		t.Errorf("null holder: got %v, want ErrZeroAddress", err)
	}
	if err := bk.Issue(token.DefaultPartition, uuid.New(), 0); !errors.Is(err, token.ErrInvalidAmount) {
		t.Errorf("zero amount: got %v, want ErrInvalidAmount", err)
	}
	if err := bk.Issue(token.DefaultPartition, uuid.New(), -5); !errors.Is(err, token.ErrInvalidAmount) {
		t.Errorf("negative amount: got %v, want ErrInvalidAmount", err)
	}
}

func TestRedeem_BurnsAndShrinksSupply(t *testing.T) {
	bk := ledger.NewBook(false, 0)
	h := uuid.New()
	bk.Issue(token.DefaultPartition, h, 1000)

	if err := bk.Redeem(token.DefaultPartition, h, 400); err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if got := bk.FreeOf(h, token.DefaultPartition); got != 600 {
		t.Errorf("free: got %d, want 600", got)
	}
	if got := bk.TotalSupply(); got != 600 {
		t.Errorf("total supply: got %d, want 600", got)
	}
}

func TestRedeem_InsufficientFree(t *testing.T) {
	bk := ledger.NewBook(false, 0)
	h := uuid.New()
	bk.Issue(token.DefaultPartition, h, 100)
	bk.Freeze(token.DefaultPartition, h, 50)

	// Only 50 free remains; frozen balance is not redeemable.
	err := bk.Redeem(token.DefaultPartition, h, 51)
	if !errors.Is(err, token.ErrInsufficientBalance) {
		t.Errorf("got %v, want ErrInsufficientBalance", err)
	}
}

// ============================================================================
// Test: Book — bucket movements
// ============================================================================

func TestTransfer_MovesFreeOnly(t *testing.T) {
	bk := ledger.NewBook(false, 0)
	a, b := uuid.New(), uuid.New()
	bk.Issue(token.DefaultPartition, a, 1000)

	if err := bk.Transfer(token.DefaultPartition, a, b, 300); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if got := bk.FreeOf(a, token.DefaultPartition); got != 700 {
		t.Errorf("sender free: got %d, want 700", got)
	}
	if got := bk.FreeOf(b, token.DefaultPartition); got != 300 {
		t.Errorf("recipient free: got %d, want 300", got)
	}
	if got := bk.TotalSupply(); got != 1000 {
		t.Errorf("transfer must not change supply: got %d", got)
	}
}

func TestReserveAndRelease(t *testing.T) {
	bk := ledger.NewBook(false, 0)
	h := uuid.New()
	bk.Issue(token.DefaultPartition, h, 1000)

	if err := bk.Reserve(token.DefaultPartition, h, 400); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	bal := bk.BalanceOf(h, token.DefaultPartition)
	if bal.Free != 600 || bal.Held != 400 {
		t.Errorf("after reserve: free=%d held=%d, want 600/400", bal.Free, bal.Held)
	}
	if bal.Total() != 1000 {
		t.Errorf("reserve must preserve total: got %d", bal.Total())
	}

	if err := bk.ReleaseReserved(token.DefaultPartition, h, 400); err != nil {
		t.Fatalf("release: %v", err)
	}
	bal = bk.BalanceOf(h, token.DefaultPartition)
	if bal.Free != 1000 || bal.Held != 0 {
		t.Errorf("after release: free=%d held=%d, want 1000/0", bal.Free, bal.Held)
	}
}

func TestExecuteReserved_SettlesToDestination(t *testing.T) {
	bk := ledger.NewBook(false, 0)
	a, b := uuid.New(), uuid.New()
	bk.Issue(token.DefaultPartition, a, 1000)
	bk.Reserve(token.DefaultPartition, a, 400)

	if err := bk.ExecuteReserved(token.DefaultPartition, a, b, 250); err != nil {
		t.Fatalf("execute reserved: %v", err)
	}
	bal := bk.BalanceOf(a, token.DefaultPartition)
	if bal.Free != 600 || bal.Held != 150 {
		t.Errorf("source: free=%d held=%d, want 600/150", bal.Free, bal.Held)
	}
	if got := bk.FreeOf(b, token.DefaultPartition); got != 250 {
		t.Errorf("destination free: got %d, want 250", got)
	}
}

func TestBurnReserved_ShrinksSupply(t *testing.T) {
	bk := ledger.NewBook(false, 0)
	h := uuid.New()
	bk.Issue(token.DefaultPartition, h, 1000)
	bk.Reserve(token.DefaultPartition, h, 400)

	if err := bk.BurnReserved(token.DefaultPartition, h, 400); err != nil {
		t.Fatalf("burn reserved: %v", err)
	}
	if got := bk.TotalSupply(); got != 600 {
		t.Errorf("total supply: got %d, want 600", got)
	}
	if got := bk.BalanceOf(h, token.DefaultPartition).Held; got != 0 {
		t.Errorf("held: got %d, want 0", got)
	}
}

func TestFreezeUnfreeze_OrthogonalToHeld(t *testing.T) {
	bk := ledger.NewBook(false, 0)
	h := uuid.New()
	bk.Issue(token.DefaultPartition, h, 1000)
	bk.Reserve(token.DefaultPartition, h, 300)

	if err := bk.Freeze(token.DefaultPartition, h, 500); err != nil {
		t.Fatalf("freeze: %v", err)
	}
	bal := bk.BalanceOf(h, token.DefaultPartition)
	if bal.Free != 200 || bal.Held != 300 || bal.Frozen != 500 {
		t.Errorf("got free=%d held=%d frozen=%d, want 200/300/500", bal.Free, bal.Held, bal.Frozen)
	}

	// Freezing must never dip into held.
	if err := bk.Freeze(token.DefaultPartition, h, 201); !errors.Is(err, token.ErrInsufficientBalance) {
		t.Errorf("freeze beyond free: got %v, want ErrInsufficientBalance", err)
	}

	if err := bk.Unfreeze(token.DefaultPartition, h, 500); err != nil {
		t.Fatalf("unfreeze: %v", err)
	}
	if got := bk.BalanceOf(h, token.DefaultPartition).Free; got != 700 {
		t.Errorf("free after unfreeze: got %d, want 700", got)
	}
}

func TestUnfreeze_InsufficientFrozen(t *testing.T) {
	bk := ledger.NewBook(false, 0)
	h := uuid.New()
	bk.Issue(token.DefaultPartition, h, 100)
	bk.Freeze(token.DefaultPartition, h, 40)

	if err := bk.Unfreeze(token.DefaultPartition, h, 41); !errors.Is(err, token.ErrInsufficientFrozen) {
		t.Errorf("got %v, want ErrInsufficientFrozen", err)
	}
}

// ============================================================================
// Test: Book — holder sets
// ============================================================================

func TestHolderSet_TracksNonZeroTotals(t *testing.T) {
	bk := ledger.NewBook(false, 0)
	a, b := uuid.New(), uuid.New()
	bk.Issue(token.DefaultPartition, a, 100)
	bk.Issue(token.DefaultPartition, b, 100)

	if got := len(bk.Holders(token.DefaultPartition)); got != 2 {
		t.Fatalf("holders: got %d, want 2", got)
	}

	// Transferring everything away removes the holder from the set.
	bk.Transfer(token.DefaultPartition, a, b, 100)
	holders := bk.Holders(token.DefaultPartition)
	if len(holders) != 1 || holders[0] != b {
		t.Errorf("got %v, want [%s]", holders, b)
	}
}

func TestTotalAcrossPartitions_IncludesHeldAndFrozen(t *testing.T) {
	bk := ledger.NewBook(true, 0)
	h := uuid.New()
	bk.Issue("tranche-a", h, 600)
	bk.Issue("tranche-b", h, 400)
	bk.Reserve("tranche-a", h, 100)
	bk.Freeze("tranche-b", h, 50)

	if got := bk.TotalAcrossPartitions(h); got != 1000 {
		t.Errorf("got %d, want 1000", got)
	}
}

// ============================================================================
// Test: InvariantValidator
// ============================================================================

func TestValidator_HealthyBook(t *testing.T) {
	bk := ledger.NewBook(true, 0)
	v := ledger.NewInvariantValidator(bk)
	a, b := uuid.New(), uuid.New()
	bk.Issue("tranche-a", a, 500)
	bk.Issue(token.DefaultPartition, b, 300)
	bk.Reserve("tranche-a", a, 100)
	bk.Transfer(token.DefaultPartition, b, a, 50)

	if err := v.ValidateHolder(a, "tranche-a"); err != nil {
		t.Errorf("validate holder: %v", err)
	}
	if err := v.ValidateSupply(); err != nil {
		t.Errorf("validate supply: %v", err)
	}
}

func TestValidator_DetectsSupplyMismatch(t *testing.T) {
	bk := ledger.NewBook(false, 0)
	v := ledger.NewInvariantValidator(bk)
	h := uuid.New()
	bk.Issue(token.DefaultPartition, h, 500)

	// Corrupt the supply counter directly through the restore path.
	bk.RestoreSupply(map[token.Partition]int64{token.DefaultPartition: 999}, 999)

	if err := v.ValidateSupply(); err == nil {
		t.Error("expected supply mismatch error, got nil")
	}
}

// ============================================================================
// Test: Batch validation
// ============================================================================

func TestBatchValidate_RejectsNonPositiveAmount(t *testing.T) {
	h := uuid.New()
	batch := &ledger.Batch{
		BatchID:        uuid.New(),
		InstructionRef: "k1",
		Sequence:       1,
	}
	batch.Entries = append(batch.Entries, ledger.Entry{
		EntryID:        uuid.New(),
		BatchID:        batch.BatchID,
		InstructionRef: "k1",
		Sequence:       1,
		Partition:      token.DefaultPartition,
		Holder:         h,
		FromBucket:     ledger.BucketFree,
		ToBucket:       ledger.BucketHeld,
		Amount:         0,
		EntryType:      ledger.EntryTypeHoldCreate,
	})
	if err := batch.Validate(); err == nil {
		t.Error("expected validation error for zero amount, got nil")
	}
}
