package core_test

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/google/uuid"

	"SecTokenLedger/internal/core"
	"SecTokenLedger/internal/corporate"
	"SecTokenLedger/internal/instruction"
	"SecTokenLedger/internal/token"
)

// ============================================================================
// Helpers
// ============================================================================

var admin = uuid.MustParse("00000000-0000-0000-0000-00000000aaaa")

// at builds the versioned input timestamp for step n. The core never reads
// the wall clock, so tests control time entirely through these.
func at(step int64) time.Time {
	return time.UnixMicro(1_000_000 + step*1_000)
}

func meta(op token.Holder, step int64) instruction.Meta {
	return instruction.Meta{ID: uuid.New(), Time: at(step), Operator: op}
}

// newTestEngine builds an engine with the bootstrap admin holding the
// wildcard role, a nil DB checker and no metrics.
func newTestEngine(t *testing.T, cfg core.Config) (*core.Engine, chan core.CoreOutput) {
	t.Helper()
	cfg.BootstrapAdmin = admin
	persistChan := make(chan core.CoreOutput, 1024)
	projectionChan := make(chan core.CoreOutput, 1024)
	return core.NewEngine(cfg, 0, persistChan, projectionChan, nil, nil), persistChan
}

func mustProcess(t *testing.T, e *core.Engine, ins instruction.Instruction) {
	t.Helper()
	if err := e.Process(ins); err != nil {
		t.Fatalf("%s: %v", ins.InstructionType(), err)
	}
}

func grantKYC(t *testing.T, e *core.Engine, step int64, holders ...token.Holder) {
	t.Helper()
	for _, h := range holders {
		mustProcess(t, e, &instruction.KYCGrant{Meta: meta(admin, step), Account: h})
	}
}

func mustIssue(t *testing.T, e *core.Engine, step int64, to token.Holder, amount int64) {
	t.Helper()
	mustProcess(t, e, &instruction.Issue{Meta: meta(admin, step), To: to, Amount: amount})
}

func freeOf(t *testing.T, e *core.Engine, h token.Holder) int64 {
	t.Helper()
	bal, err := e.BalanceOf(h, "")
	if err != nil {
		t.Fatalf("balance of %s: %v", h, err)
	}
	return bal.Free
}

func drain(ch chan core.CoreOutput) []core.CoreOutput {
	var out []core.CoreOutput
	for {
		select {
		case o := <-ch:
			out = append(out, o)
		default:
			return out
		}
	}
}

// ============================================================================
// Test: roles and bootstrap
// ============================================================================

func TestBootstrapAdminGrantsFirstRole(t *testing.T) {
	engine, _ := newTestEngine(t, core.Config{})
	issuer, investor := uuid.New(), uuid.New()

	mustProcess(t, engine, &instruction.GrantRole{Meta: meta(admin, 1), Account: issuer, Role: token.RoleIssuer})
	grantKYC(t, engine, 2, investor)

	mustProcess(t, engine, &instruction.Issue{Meta: meta(issuer, 3), To: investor, Amount: 1000})
	if got := freeOf(t, engine, investor); got != 1000 {
		t.Errorf("free: got %d, want 1000", got)
	}
}

func TestGrantRole_RequiresWildcard(t *testing.T) {
	engine, _ := newTestEngine(t, core.Config{})
	outsider := uuid.New()

	err := engine.Process(&instruction.GrantRole{Meta: meta(outsider, 1), Account: outsider, Role: token.RoleIssuer})
	if !errors.Is(err, token.ErrUnauthorized) {
		t.Errorf("got %v, want ErrUnauthorized", err)
	}
}

func TestRevokeRole_StopsFurtherUse(t *testing.T) {
	engine, _ := newTestEngine(t, core.Config{})
	issuer, investor := uuid.New(), uuid.New()
	mustProcess(t, engine, &instruction.GrantRole{Meta: meta(admin, 1), Account: issuer, Role: token.RoleIssuer})
	grantKYC(t, engine, 2, investor)
	mustProcess(t, engine, &instruction.Issue{Meta: meta(issuer, 3), To: investor, Amount: 100})

	mustProcess(t, engine, &instruction.RevokeRole{Meta: meta(admin, 4), Account: issuer, Role: token.RoleIssuer})
	err := engine.Process(&instruction.Issue{Meta: meta(issuer, 5), To: investor, Amount: 100})
	if !errors.Is(err, token.ErrUnauthorized) {
		t.Errorf("got %v, want ErrUnauthorized", err)
	}
}

// ============================================================================
// Test: eligibility gates
// ============================================================================

func TestIssue_RejectsUnverifiedRecipient(t *testing.T) {
	engine, _ := newTestEngine(t, core.Config{})
	investor := uuid.New()

	err := engine.Process(&instruction.Issue{Meta: meta(admin, 1), To: investor, Amount: 100})
	if !errors.Is(err, token.ErrKYCInvalid) {
		t.Errorf("got %v, want ErrKYCInvalid", err)
	}
}

func TestTransfer_ControlListBlocksSender(t *testing.T) {
	engine, _ := newTestEngine(t, core.Config{})
	a, b := uuid.New(), uuid.New()
	grantKYC(t, engine, 1, a, b)
	mustIssue(t, engine, 2, a, 1000)

	mustProcess(t, engine, &instruction.ControlListAdd{Meta: meta(admin, 3), Account: a})
	err := engine.Process(&instruction.Transfer{Meta: meta(a, 4), From: a, To: b, Amount: 100})
	if !errors.Is(err, token.ErrControlListBlocked) {
		t.Errorf("got %v, want ErrControlListBlocked", err)
	}

	// Delisting restores transferability.
	mustProcess(t, engine, &instruction.ControlListRemove{Meta: meta(admin, 5), Account: a})
	mustProcess(t, engine, &instruction.Transfer{Meta: meta(a, 6), From: a, To: b, Amount: 100})
	if got := freeOf(t, engine, b); got != 100 {
		t.Errorf("free: got %d, want 100", got)
	}
}

func TestKYCRevoke_BlocksFurtherTransfers(t *testing.T) {
	engine, _ := newTestEngine(t, core.Config{})
	a, b := uuid.New(), uuid.New()
	grantKYC(t, engine, 1, a, b)
	mustIssue(t, engine, 2, a, 1000)

	mustProcess(t, engine, &instruction.KYCRevoke{Meta: meta(admin, 3), Account: b})
	err := engine.Process(&instruction.Transfer{Meta: meta(a, 4), From: a, To: b, Amount: 100})
	if !errors.Is(err, token.ErrKYCInvalid) {
		t.Errorf("got %v, want ErrKYCInvalid", err)
	}
}

func TestTransfer_OperatorMustBeSender(t *testing.T) {
	engine, _ := newTestEngine(t, core.Config{})
	victim, attacker := uuid.New(), uuid.New()
	grantKYC(t, engine, 1, victim, attacker)
	mustIssue(t, engine, 2, victim, 1000)

	err := engine.Process(&instruction.Transfer{Meta: meta(attacker, 3), From: victim, To: attacker, Amount: 1000})
	if !errors.Is(err, token.ErrNotHolder) {
		t.Fatalf("third-party transfer: got %v, want ErrNotHolder", err)
	}
	if got := freeOf(t, engine, victim); got != 1000 {
		t.Errorf("victim free: got %d, want 1000", got)
	}
	if got := freeOf(t, engine, attacker); got != 0 {
		t.Errorf("attacker free: got %d, want 0", got)
	}

	// The wildcard holder may force a transfer.
	mustProcess(t, engine, &instruction.Transfer{Meta: meta(admin, 4), From: victim, To: attacker, Amount: 100})
	if got := freeOf(t, engine, attacker); got != 100 {
		t.Errorf("forced transfer: got %d, want 100", got)
	}
}

func TestRedeem_OperatorMustBeHolder(t *testing.T) {
	engine, _ := newTestEngine(t, core.Config{})
	victim, attacker := uuid.New(), uuid.New()
	grantKYC(t, engine, 1, victim, attacker)
	mustIssue(t, engine, 2, victim, 1000)

	err := engine.Process(&instruction.Redeem{Meta: meta(attacker, 3), Holder: victim, Amount: 400})
	if !errors.Is(err, token.ErrNotHolder) {
		t.Fatalf("third-party redeem: got %v, want ErrNotHolder", err)
	}
	if got := engine.TotalSupply(); got != 1000 {
		t.Errorf("supply: got %d, want 1000", got)
	}

	mustProcess(t, engine, &instruction.Redeem{Meta: meta(victim, 4), Holder: victim, Amount: 400})
	if got := engine.TotalSupply(); got != 600 {
		t.Errorf("supply after holder redeem: got %d, want 600", got)
	}
}

func TestHoldCreate_OperatorMustBeHolder(t *testing.T) {
	engine, _ := newTestEngine(t, core.Config{})
	victim, attacker := uuid.New(), uuid.New()
	grantKYC(t, engine, 1, victim, attacker)
	mustIssue(t, engine, 2, victim, 1000)

	err := engine.Process(&instruction.HoldCreate{
		Meta: meta(attacker, 3), Holder: victim, Amount: 1000,
		Expiration: at(100), Escrow: attacker, Destination: attacker,
	})
	if !errors.Is(err, token.ErrNotHolder) {
		t.Fatalf("third-party hold create: got %v, want ErrNotHolder", err)
	}
	if got := freeOf(t, engine, victim); got != 1000 {
		t.Errorf("victim free: got %d, want 1000", got)
	}
}

func TestPause_HaltsMutationsOnly(t *testing.T) {
	engine, _ := newTestEngine(t, core.Config{})
	a, b := uuid.New(), uuid.New()
	grantKYC(t, engine, 1, a, b)
	mustIssue(t, engine, 2, a, 1000)

	mustProcess(t, engine, &instruction.SetPaused{Meta: meta(admin, 3), Paused: true})
	if !engine.Paused() {
		t.Fatal("engine should report paused")
	}

	err := engine.Process(&instruction.Transfer{Meta: meta(a, 4), From: a, To: b, Amount: 100})
	if !errors.Is(err, token.ErrPaused) {
		t.Errorf("got %v, want ErrPaused", err)
	}

	// Administrative instructions still flow while paused.
	mustProcess(t, engine, &instruction.GrantRole{Meta: meta(admin, 5), Account: a, Role: token.RolePauser})

	mustProcess(t, engine, &instruction.SetPaused{Meta: meta(a, 6), Paused: false})
	mustProcess(t, engine, &instruction.Transfer{Meta: meta(a, 7), From: a, To: b, Amount: 100})
	if got := freeOf(t, engine, b); got != 100 {
		t.Errorf("free: got %d, want 100", got)
	}
}

// ============================================================================
// Test: partitions
// ============================================================================

func TestSinglePartitionAsset_RejectsNamedPartition(t *testing.T) {
	engine, _ := newTestEngine(t, core.Config{})
	investor := uuid.New()
	grantKYC(t, engine, 1, investor)

	err := engine.Process(&instruction.Issue{Meta: meta(admin, 2), Partition: "tranche-a", To: investor, Amount: 100})
	if !errors.Is(err, token.ErrOnlyDefaultPartitionAllowed) {
		t.Errorf("got %v, want ErrOnlyDefaultPartitionAllowed", err)
	}
}

func TestProtectedPartitions_RequireWildcard(t *testing.T) {
	engine, _ := newTestEngine(t, core.Config{MultiPartition: true, ProtectedPartitions: true})
	issuer, investor := uuid.New(), uuid.New()
	mustProcess(t, engine, &instruction.GrantRole{Meta: meta(admin, 1), Account: issuer, Role: token.RoleIssuer})
	grantKYC(t, engine, 2, investor)

	err := engine.Process(&instruction.Issue{Meta: meta(issuer, 3), Partition: "tranche-a", To: investor, Amount: 100})
	if !errors.Is(err, token.ErrProtectedPartition) {
		t.Errorf("issuer on protected partition: got %v, want ErrProtectedPartition", err)
	}

	// The wildcard holder passes; the default partition needs no wildcard.
	mustProcess(t, engine, &instruction.Issue{Meta: meta(admin, 4), Partition: "tranche-a", To: investor, Amount: 100})
	mustProcess(t, engine, &instruction.Issue{Meta: meta(issuer, 5), To: investor, Amount: 50})
}

// ============================================================================
// Test: holds
// ============================================================================

func TestHoldLifecycle_PartialExecuteThenRelease(t *testing.T) {
	engine, _ := newTestEngine(t, core.Config{})
	a, dest, escrow := uuid.New(), uuid.New(), uuid.New()
	grantKYC(t, engine, 1, a, dest)
	mustIssue(t, engine, 2, a, 1000)

	mustProcess(t, engine, &instruction.HoldCreate{
		Meta: meta(a, 3), Holder: a, Amount: 400,
		Expiration: at(100), Escrow: escrow, Destination: dest,
	})
	bal, _ := engine.BalanceOf(a, "")
	if bal.Free != 600 || bal.Held != 400 {
		t.Fatalf("after create: free=%d held=%d, want 600/400", bal.Free, bal.Held)
	}

	// Only the escrow agent may execute.
	err := engine.Process(&instruction.HoldExecute{Meta: meta(a, 4), Holder: a, HoldID: 1, Amount: 250})
	if !errors.Is(err, token.ErrNotEscrow) {
		t.Fatalf("holder executing: got %v, want ErrNotEscrow", err)
	}

	mustProcess(t, engine, &instruction.HoldExecute{Meta: meta(escrow, 5), Holder: a, HoldID: 1, Amount: 250})
	if got := freeOf(t, engine, dest); got != 250 {
		t.Errorf("destination free: got %d, want 250", got)
	}
	bal, _ = engine.BalanceOf(a, "")
	if bal.Held != 150 {
		t.Errorf("remaining held: got %d, want 150", bal.Held)
	}

	// The holder releases the remainder back to free.
	mustProcess(t, engine, &instruction.HoldRelease{Meta: meta(a, 6), Holder: a, HoldID: 1})
	bal, _ = engine.BalanceOf(a, "")
	if bal.Free != 750 || bal.Held != 0 {
		t.Errorf("after release: free=%d held=%d, want 750/0", bal.Free, bal.Held)
	}
}

func TestHoldReclaim_StrictlyAfterExpiry(t *testing.T) {
	engine, _ := newTestEngine(t, core.Config{})
	a, escrow := uuid.New(), uuid.New()
	grantKYC(t, engine, 1, a)
	mustIssue(t, engine, 2, a, 1000)

	mustProcess(t, engine, &instruction.HoldCreate{
		Meta: meta(a, 3), Holder: a, Amount: 400,
		Expiration: at(10), Escrow: escrow,
	})

	err := engine.Process(&instruction.HoldReclaim{Meta: meta(a, 5), Holder: a, HoldID: 1})
	if !errors.Is(err, token.ErrNotExpired) {
		t.Errorf("before expiry: got %v, want ErrNotExpired", err)
	}

	// At the expiration instant the hold is not yet expired.
	err = engine.Process(&instruction.HoldReclaim{Meta: meta(a, 10), Holder: a, HoldID: 1})
	if !errors.Is(err, token.ErrNotExpired) {
		t.Errorf("at expiry: got %v, want ErrNotExpired", err)
	}

	// Only the holder may reclaim.
	err = engine.Process(&instruction.HoldReclaim{Meta: meta(escrow, 11), Holder: a, HoldID: 1})
	if !errors.Is(err, token.ErrNotHolder) {
		t.Errorf("escrow reclaiming: got %v, want ErrNotHolder", err)
	}

	mustProcess(t, engine, &instruction.HoldReclaim{Meta: meta(a, 12), Holder: a, HoldID: 1})
	if got := freeOf(t, engine, a); got != 1000 {
		t.Errorf("free after reclaim: got %d, want 1000", got)
	}
}

func TestHoldExecute_ExpiredHoldFails(t *testing.T) {
	engine, _ := newTestEngine(t, core.Config{})
	a, dest, escrow := uuid.New(), uuid.New(), uuid.New()
	grantKYC(t, engine, 1, a, dest)
	mustIssue(t, engine, 2, a, 1000)
	mustProcess(t, engine, &instruction.HoldCreate{
		Meta: meta(a, 3), Holder: a, Amount: 400,
		Expiration: at(10), Escrow: escrow, Destination: dest,
	})

	err := engine.Process(&instruction.HoldExecute{Meta: meta(escrow, 11), Holder: a, HoldID: 1, Amount: 400})
	if !errors.Is(err, token.ErrExpired) {
		t.Errorf("got %v, want ErrExpired", err)
	}
}

// ============================================================================
// Test: freezes
// ============================================================================

func TestFreeze_BlocksTransferOfFrozenAmount(t *testing.T) {
	engine, _ := newTestEngine(t, core.Config{})
	a, b := uuid.New(), uuid.New()
	grantKYC(t, engine, 1, a, b)
	mustIssue(t, engine, 2, a, 1000)

	mustProcess(t, engine, &instruction.Freeze{Meta: meta(admin, 3), Holder: a, Amount: 800})
	err := engine.Process(&instruction.Transfer{Meta: meta(a, 4), From: a, To: b, Amount: 300})
	if !errors.Is(err, token.ErrInsufficientBalance) {
		t.Errorf("got %v, want ErrInsufficientBalance", err)
	}

	mustProcess(t, engine, &instruction.Unfreeze{Meta: meta(admin, 5), Holder: a, Amount: 800})
	mustProcess(t, engine, &instruction.Transfer{Meta: meta(a, 6), From: a, To: b, Amount: 300})
}

func TestFreezeBatch_AllOrNothing(t *testing.T) {
	engine, _ := newTestEngine(t, core.Config{})
	a, b := uuid.New(), uuid.New()
	grantKYC(t, engine, 1, a, b)
	mustIssue(t, engine, 2, a, 100)
	mustIssue(t, engine, 3, b, 50)

	err := engine.Process(&instruction.FreezeBatch{Meta: meta(admin, 4), Targets: []instruction.BatchTarget{
		{Holder: a, Amount: 100},
		{Holder: b, Amount: 51},
	}})
	if !errors.Is(err, token.ErrInsufficientBalance) {
		t.Fatalf("got %v, want ErrInsufficientBalance", err)
	}

	// The valid first target must not have been applied.
	if got := freeOf(t, engine, a); got != 100 {
		t.Errorf("a free after failed batch: got %d, want 100", got)
	}

	mustProcess(t, engine, &instruction.FreezeBatch{Meta: meta(admin, 5), Targets: []instruction.BatchTarget{
		{Holder: a, Amount: 100},
		{Holder: b, Amount: 50},
	}})
	balA, _ := engine.BalanceOf(a, "")
	balB, _ := engine.BalanceOf(b, "")
	if balA.Frozen != 100 || balB.Frozen != 50 {
		t.Errorf("frozen: a=%d b=%d, want 100/50", balA.Frozen, balB.Frozen)
	}
}

// ============================================================================
// Test: clearing mode
// ============================================================================

func TestClearing_InterceptsTransferUntilApproved(t *testing.T) {
	engine, _ := newTestEngine(t, core.Config{})
	a, b := uuid.New(), uuid.New()
	grantKYC(t, engine, 1, a, b)
	mustIssue(t, engine, 2, a, 1000)

	mustProcess(t, engine, &instruction.ClearingSetActive{Meta: meta(admin, 3), Active: true})
	if !engine.ClearingActive() {
		t.Fatal("clearing mode should be active")
	}

	mustProcess(t, engine, &instruction.Transfer{
		Meta: meta(a, 4), From: a, To: b, Amount: 300,
		ClearingExpiration: at(100),
	})
	bal, _ := engine.BalanceOf(a, "")
	if bal.Free != 700 || bal.Held != 300 {
		t.Fatalf("intercepted: free=%d held=%d, want 700/300", bal.Free, bal.Held)
	}
	if got := freeOf(t, engine, b); got != 0 {
		t.Fatalf("recipient before approval: got %d, want 0", got)
	}

	mustProcess(t, engine, &instruction.ClearingApprove{Meta: meta(admin, 5), Holder: a, ClearingID: 1})
	if got := freeOf(t, engine, b); got != 300 {
		t.Errorf("recipient after approval: got %d, want 300", got)
	}

	// An approved operation is gone; approving again fails.
	err := engine.Process(&instruction.ClearingApprove{Meta: meta(admin, 6), Holder: a, ClearingID: 1})
	if !errors.Is(err, token.ErrClearingNotFound) {
		t.Errorf("double approve: got %v, want ErrClearingNotFound", err)
	}
}

func TestClearing_ReclaimAfterExpiry(t *testing.T) {
	engine, _ := newTestEngine(t, core.Config{})
	a, b := uuid.New(), uuid.New()
	grantKYC(t, engine, 1, a, b)
	mustIssue(t, engine, 2, a, 1000)
	mustProcess(t, engine, &instruction.ClearingSetActive{Meta: meta(admin, 3), Active: true})
	mustProcess(t, engine, &instruction.Transfer{
		Meta: meta(a, 4), From: a, To: b, Amount: 300,
		ClearingExpiration: at(10),
	})

	err := engine.Process(&instruction.ClearingReclaim{Meta: meta(a, 5), Holder: a, ClearingID: 1})
	if !errors.Is(err, token.ErrNotExpired) {
		t.Errorf("before expiry: got %v, want ErrNotExpired", err)
	}

	mustProcess(t, engine, &instruction.ClearingReclaim{Meta: meta(a, 11), Holder: a, ClearingID: 1})
	if got := freeOf(t, engine, a); got != 1000 {
		t.Errorf("free after reclaim: got %d, want 1000", got)
	}
}

func TestClearing_DeactivationKeepsPendingResolvable(t *testing.T) {
	engine, _ := newTestEngine(t, core.Config{})
	a, b := uuid.New(), uuid.New()
	grantKYC(t, engine, 1, a, b)
	mustIssue(t, engine, 2, a, 1000)
	mustProcess(t, engine, &instruction.ClearingSetActive{Meta: meta(admin, 3), Active: true})
	mustProcess(t, engine, &instruction.Transfer{
		Meta: meta(a, 4), From: a, To: b, Amount: 300,
		ClearingExpiration: at(100),
	})

	mustProcess(t, engine, &instruction.ClearingSetActive{Meta: meta(admin, 5), Active: false})
	mustProcess(t, engine, &instruction.ClearingApprove{Meta: meta(admin, 6), Holder: a, ClearingID: 1})
	if got := freeOf(t, engine, b); got != 300 {
		t.Errorf("recipient: got %d, want 300", got)
	}
}

// ============================================================================
// Test: maturity
// ============================================================================

func TestRedeemAtMaturity_GatedByDate(t *testing.T) {
	engine, _ := newTestEngine(t, core.Config{MaturityDate: at(100)})
	a := uuid.New()
	grantKYC(t, engine, 1, a)
	mustIssue(t, engine, 2, a, 1000)

	err := engine.Process(&instruction.RedeemAtMaturity{Meta: meta(admin, 50), Holder: a, Amount: 400})
	if !errors.Is(err, token.ErrMaturityNotReached) {
		t.Fatalf("before maturity: got %v, want ErrMaturityNotReached", err)
	}

	// The maturity instant itself is redeemable.
	mustProcess(t, engine, &instruction.RedeemAtMaturity{Meta: meta(admin, 100), Holder: a, Amount: 400})
	if got := engine.TotalSupply(); got != 600 {
		t.Errorf("supply: got %d, want 600", got)
	}
}

func TestRedeemAtMaturity_DisabledWithoutDate(t *testing.T) {
	engine, _ := newTestEngine(t, core.Config{})
	a := uuid.New()
	grantKYC(t, engine, 1, a)
	mustIssue(t, engine, 2, a, 1000)

	err := engine.Process(&instruction.RedeemAtMaturity{Meta: meta(admin, 3), Holder: a, Amount: 400})
	if !errors.Is(err, token.ErrMaturityNotReached) {
		t.Errorf("got %v, want ErrMaturityNotReached", err)
	}
}

// ============================================================================
// Test: corporate actions and lazy snapshots
// ============================================================================

func TestDividend_LazySnapshotOnFirstMutation(t *testing.T) {
	engine, _ := newTestEngine(t, core.Config{})
	a, b := uuid.New(), uuid.New()
	grantKYC(t, engine, 1, a, b)
	mustIssue(t, engine, 2, a, 1000)

	mustProcess(t, engine, &instruction.ScheduleDividend{
		Meta: meta(admin, 3), RecordDate: at(5), ExecutionDate: at(20), Amount: 500,
	})

	// No mutation has crossed the record date yet; nothing is stored.
	if rec := engine.SnapshotRecord(1); rec != nil {
		t.Fatal("snapshot stored before any mutation crossed the record date")
	}

	// The first mutation at/after the record date snapshots pre-mutation state.
	mustProcess(t, engine, &instruction.Transfer{Meta: meta(a, 10), From: a, To: b, Amount: 400})

	rec := engine.SnapshotRecord(1)
	if rec == nil {
		t.Fatal("snapshot missing after record date crossed")
	}
	if got := rec.Totals[a]; got != 1000 {
		t.Errorf("captured total: got %d, want pre-transfer 1000", got)
	}

	// Subsequent mutations reuse the record instead of creating new ones.
	mustProcess(t, engine, &instruction.Transfer{Meta: meta(a, 12), From: a, To: b, Amount: 100})
	if rec2 := engine.SnapshotRecord(2); rec2 != nil {
		t.Error("second snapshot taken for an already-resolved record date")
	}

	pos, err := engine.DividendPosition(1, a, at(15))
	if err != nil {
		t.Fatalf("dividend position: %v", err)
	}
	if pos.Numerator.Cmp(big.NewInt(1000)) != 0 || pos.Denominator.Cmp(big.NewInt(1)) != 0 {
		t.Errorf("position: got %s/%s, want 1000/1", pos.Numerator, pos.Denominator)
	}
	if !pos.RecordDateReached {
		t.Error("record date should be reached")
	}
}

func TestDividend_LiveFallbackBeforeRecordDate(t *testing.T) {
	engine, _ := newTestEngine(t, core.Config{})
	a := uuid.New()
	grantKYC(t, engine, 1, a)
	mustIssue(t, engine, 2, a, 1000)
	mustProcess(t, engine, &instruction.ScheduleDividend{
		Meta: meta(admin, 3), RecordDate: at(50), ExecutionDate: at(60), Amount: 500,
	})

	// Unresolved snapshot id resolves against live balances.
	pos, err := engine.DividendPosition(1, a, at(10))
	if err != nil {
		t.Fatalf("dividend position: %v", err)
	}
	if pos.SnapshotID != 0 {
		t.Errorf("snapshot id: got %d, want 0 (unresolved)", pos.SnapshotID)
	}
	if pos.Numerator.Cmp(big.NewInt(1000)) != 0 {
		t.Errorf("numerator: got %s, want live 1000", pos.Numerator)
	}
	if pos.RecordDateReached {
		t.Error("record date should not be reached yet")
	}
}

func TestHoldersForAction_SnapshotExcludesLateHolder(t *testing.T) {
	engine, _ := newTestEngine(t, core.Config{})
	a, b, late := uuid.New(), uuid.New(), uuid.New()
	grantKYC(t, engine, 1, a, b, late)
	mustIssue(t, engine, 2, a, 1000)
	mustIssue(t, engine, 3, b, 500)

	mustProcess(t, engine, &instruction.ScheduleVoting{
		Meta: meta(admin, 4), RecordDate: at(10),
	})

	// Record date not yet resolved by any mutation: the live holder set.
	hs, err := engine.HoldersForAction(1, corporate.KindVoting)
	if err != nil {
		t.Fatalf("holders for action: %v", err)
	}
	if got := len(hs); got != 2 {
		t.Fatalf("live holder set size: got %d, want 2", got)
	}

	// The first mutation past the record date captures the pre-mutation set,
	// so the recipient it introduces is not entitled.
	mustProcess(t, engine, &instruction.Transfer{Meta: meta(a, 15), From: a, To: late, Amount: 100})

	hs, err = engine.HoldersForAction(1, corporate.KindVoting)
	if err != nil {
		t.Fatalf("holders for action: %v", err)
	}
	if got := len(hs); got != 2 {
		t.Fatalf("snapshot holder set size: got %d, want 2", got)
	}
	for _, h := range hs {
		if h == late {
			t.Error("holder added after the record date appears in the entitlement set")
		}
	}
}

func TestDividend_FrozenAndHeldCountInPosition(t *testing.T) {
	engine, _ := newTestEngine(t, core.Config{})
	a, escrow := uuid.New(), uuid.New()
	grantKYC(t, engine, 1, a)
	mustIssue(t, engine, 2, a, 1000)
	mustProcess(t, engine, &instruction.Freeze{Meta: meta(admin, 3), Holder: a, Amount: 300})
	mustProcess(t, engine, &instruction.HoldCreate{
		Meta: meta(a, 4), Holder: a, Amount: 200, Expiration: at(100), Escrow: escrow,
	})

	mustProcess(t, engine, &instruction.ScheduleDividend{
		Meta: meta(admin, 5), RecordDate: at(8), ExecutionDate: at(20), Amount: 500,
	})
	mustProcess(t, engine, &instruction.Freeze{Meta: meta(admin, 10), Holder: a, Amount: 1})

	// Entitlement is over total balance, not just the free bucket.
	pos, err := engine.DividendPosition(1, a, at(11))
	if err != nil {
		t.Fatalf("dividend position: %v", err)
	}
	if pos.Numerator.Cmp(big.NewInt(1000)) != 0 {
		t.Errorf("numerator: got %s, want 1000", pos.Numerator)
	}
}

func TestBalanceAdjustment_ComposesIntoPositions(t *testing.T) {
	engine, _ := newTestEngine(t, core.Config{})
	a := uuid.New()
	grantKYC(t, engine, 1, a)
	mustIssue(t, engine, 2, a, 1000)

	mustProcess(t, engine, &instruction.ScheduleDividend{
		Meta: meta(admin, 3), RecordDate: at(5), ExecutionDate: at(50), Amount: 500,
	})
	// A 3/10 split executing between record date and query time.
	mustProcess(t, engine, &instruction.ScheduleBalanceAdjustment{
		Meta: meta(admin, 4), ExecutionDate: at(8), Factor: 3, Decimals: 1,
	})
	mustProcess(t, engine, &instruction.Freeze{Meta: meta(admin, 10), Holder: a, Amount: 1})

	pos, err := engine.DividendPosition(1, a, at(15))
	if err != nil {
		t.Fatalf("dividend position: %v", err)
	}
	if pos.Numerator.Cmp(big.NewInt(3000)) != 0 || pos.Denominator.Cmp(big.NewInt(10)) != 0 {
		t.Errorf("adjusted position: got %s/%s, want 3000/10", pos.Numerator, pos.Denominator)
	}

	// An adjustment executing after the query time is excluded.
	pos, err = engine.DividendPosition(1, a, at(7))
	if err != nil {
		t.Fatalf("dividend position: %v", err)
	}
	if pos.Numerator.Cmp(big.NewInt(1000)) != 0 || pos.Denominator.Cmp(big.NewInt(1)) != 0 {
		t.Errorf("pre-adjustment position: got %s/%s, want 1000/1", pos.Numerator, pos.Denominator)
	}
}

func TestAction_WrongKindLookupFails(t *testing.T) {
	engine, _ := newTestEngine(t, core.Config{})
	mustProcess(t, engine, &instruction.ScheduleVoting{
		Meta: meta(admin, 1), RecordDate: at(10), Ballot: []byte("agm-2026"),
	})

	if _, err := engine.Action(1, corporate.KindVoting); err != nil {
		t.Errorf("voting lookup: %v", err)
	}
	if _, err := engine.Action(1, corporate.KindDividend); !errors.Is(err, token.ErrWrongIndexForAction) {
		t.Errorf("dividend lookup of voting id: got %v, want ErrWrongIndexForAction", err)
	}
}

// ============================================================================
// Test: envelope chain, idempotency, replay
// ============================================================================

func TestEnvelopes_FormHashChain(t *testing.T) {
	engine, persistChan := newTestEngine(t, core.Config{})
	a, b := uuid.New(), uuid.New()
	grantKYC(t, engine, 1, a, b)
	mustIssue(t, engine, 2, a, 1000)
	mustProcess(t, engine, &instruction.Transfer{Meta: meta(a, 3), From: a, To: b, Amount: 400})

	outputs := drain(persistChan)
	if len(outputs) != 4 {
		t.Fatalf("outputs: got %d, want 4", len(outputs))
	}
	for i, out := range outputs {
		env := out.Envelope
		if env.Sequence != int64(i) {
			t.Errorf("envelope %d: sequence %d", i, env.Sequence)
		}
		if i > 0 && env.PrevHash != outputs[i-1].Envelope.StateHash {
			t.Errorf("envelope %d: prev hash does not chain", i)
		}
	}
	last := outputs[len(outputs)-1].Envelope
	if engine.GetStateHash() != last.StateHash {
		t.Error("engine state hash diverges from last envelope")
	}
	if engine.GetSequence() != int64(len(outputs)) {
		t.Errorf("sequence: got %d, want %d", engine.GetSequence(), len(outputs))
	}
}

func TestDuplicateInstruction_IsNoOp(t *testing.T) {
	engine, persistChan := newTestEngine(t, core.Config{})
	a := uuid.New()
	grantKYC(t, engine, 1, a)

	issue := &instruction.Issue{Meta: meta(admin, 2), To: a, Amount: 1000}
	mustProcess(t, engine, issue)
	drain(persistChan)

	// Same idempotency key: accepted silently, applied zero times.
	if err := engine.Process(issue); err != nil {
		t.Fatalf("duplicate submit: %v", err)
	}
	if got := engine.TotalSupply(); got != 1000 {
		t.Errorf("supply: got %d, want 1000", got)
	}
	if outputs := drain(persistChan); len(outputs) != 0 {
		t.Errorf("duplicate emitted %d outputs, want 0", len(outputs))
	}
}

func TestReplay_RebuildsIdenticalState(t *testing.T) {
	source, persistChan := newTestEngine(t, core.Config{})
	a, b, escrow := uuid.New(), uuid.New(), uuid.New()
	grantKYC(t, source, 1, a, b)
	mustIssue(t, source, 2, a, 1000)
	mustProcess(t, source, &instruction.Transfer{Meta: meta(a, 3), From: a, To: b, Amount: 400})
	mustProcess(t, source, &instruction.HoldCreate{
		Meta: meta(a, 4), Holder: a, Amount: 100, Expiration: at(100), Escrow: escrow,
	})
	mustProcess(t, source, &instruction.Freeze{Meta: meta(admin, 5), Holder: b, Amount: 50})

	outputs := drain(persistChan)

	// Rebuild a second engine from the logged envelopes alone.
	replica, replicaPersist := newTestEngine(t, core.Config{})
	for _, out := range outputs {
		env := out.Envelope
		typ := instruction.ParseType(env.Type.String())
		if typ != env.Type {
			t.Fatalf("type round-trip: got %d, want %d", typ, env.Type)
		}
		ins, err := instruction.Decode(typ, env.Payload)
		if err != nil {
			t.Fatalf("decode seq %d: %v", env.Sequence, err)
		}
		if err := replica.Replay(ins); err != nil {
			t.Fatalf("replay seq %d: %v", env.Sequence, err)
		}
	}

	if replica.GetStateHash() != source.GetStateHash() {
		t.Error("replayed state hash diverges from source")
	}
	if replica.GetSequence() != source.GetSequence() {
		t.Errorf("sequence: got %d, want %d", replica.GetSequence(), source.GetSequence())
	}
	if got, want := freeOf(t, replica, a), freeOf(t, source, a); got != want {
		t.Errorf("replayed balance: got %d, want %d", got, want)
	}

	// Replay must not re-emit downstream.
	if outputs := drain(replicaPersist); len(outputs) != 0 {
		t.Errorf("replay emitted %d outputs, want 0", len(outputs))
	}
}
