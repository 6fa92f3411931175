package core

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"SecTokenLedger/internal/clearing"
	"SecTokenLedger/internal/compliance"
	"SecTokenLedger/internal/corporate"
	"SecTokenLedger/internal/freeze"
	"SecTokenLedger/internal/hold"
	"SecTokenLedger/internal/instruction"
	"SecTokenLedger/internal/ledger"
	"SecTokenLedger/internal/observability"
	"SecTokenLedger/internal/snapshot"
	"SecTokenLedger/internal/token"
)

// Config fixes the asset's immutable properties at creation time.
type Config struct {
	MultiPartition bool
	MaxSupply      int64 // 0 = unlimited

	// MaturityDate enables RedeemAtMaturity; zero means the asset is not a
	// bond.
	MaturityDate time.Time

	ControlListMode token.ControlListMode

	// ProtectedPartitions requires the wildcard role for any instruction
	// naming a non-default partition.
	ProtectedPartitions bool

	// BootstrapAdmin is granted the wildcard role at engine construction so a
	// fresh asset can issue its first GrantRole. NullHolder disables it.
	BootstrapAdmin token.Holder

	IdempotencyCapacity int
}

// Engine is the single-threaded instruction processor. All state it owns is
// mutated exclusively by Process; the reader methods are safe only from the
// same goroutine (see Runner).
type Engine struct {
	config   Config
	sequence int64
	hasher   *StateHasher

	book      *ledger.Book
	validator *ledger.InvariantValidator
	holds     *hold.Manager
	freezes   *freeze.Manager
	clearing  *clearing.Engine
	snapshots *snapshot.Engine
	corporate *corporate.Scheduler

	roles       *compliance.RoleRegistry
	kyc         *compliance.KYCProvider
	controlList *compliance.ControlList
	pause       *compliance.PauseState

	idempotency *IdempotencyChecker
	metrics     *observability.Metrics

	persistChan    chan<- CoreOutput
	projectionChan chan<- CoreOutput
}

// CoreOutput is what one applied instruction emits downstream.
type CoreOutput struct {
	Envelope   *instruction.Envelope
	Batch      *ledger.Batch
	StateDelta []byte

	// Snapshots taken while applying this instruction (usually empty).
	Assignments []snapshot.Assignment
}

func NewEngine(
	config Config,
	startSequence int64,
	persistChan, projectionChan chan<- CoreOutput,
	dbChecker DBIdempotencyChecker,
	metrics *observability.Metrics,
) *Engine {
	book := ledger.NewBook(config.MultiPartition, config.MaxSupply)
	holds := hold.NewManager(book)

	if config.IdempotencyCapacity <= 0 {
		config.IdempotencyCapacity = 1_000_000
	}

	roles := compliance.NewRoleRegistry()
	if config.BootstrapAdmin != token.NullHolder {
		roles.Grant(config.BootstrapAdmin, token.RoleWildcard)
	}

	return &Engine{
		config:         config,
		sequence:       startSequence,
		hasher:         NewStateHasher(),
		book:           book,
		validator:      ledger.NewInvariantValidator(book),
		holds:          holds,
		freezes:        freeze.NewManager(book),
		clearing:       clearing.NewEngine(book, holds),
		snapshots:      snapshot.NewEngine(),
		corporate:      corporate.NewScheduler(),
		roles:          roles,
		kyc:            compliance.NewKYCProvider(),
		controlList:    compliance.NewControlList(config.ControlListMode),
		pause:          compliance.NewPauseState(),
		idempotency:    NewIdempotencyChecker(config.IdempotencyCapacity, dbChecker),
		metrics:        metrics,
		persistChan:    persistChan,
		projectionChan: projectionChan,
	}
}

// Process is the main processing pipeline: idempotency check, compliance
// gates, snapshot-on-record-date, dispatch, invariant post-check, state hash,
// envelope emit, mark processed.
func (e *Engine) Process(ins instruction.Instruction) error {
	insType := ins.InstructionType().String()

	// Step 1: Idempotency check (two-tier)
	if e.idempotency.IsDuplicate(insType, ins.IdempotencyKey()) {
		if e.metrics != nil {
			e.metrics.InstructionsRejected.WithLabelValues(insType, "duplicate").Inc()
		}
		return nil
	}

	return e.apply(ins, true)
}

// Replay re-applies an instruction loaded back from the durable log during
// recovery. The dedup check is skipped (the instruction is in the log by
// definition) and nothing is re-emitted downstream; everything else runs
// exactly as Process does, so the hash chain rebuilds deterministically.
func (e *Engine) Replay(ins instruction.Instruction) error {
	return e.apply(ins, false)
}

func (e *Engine) apply(ins instruction.Instruction, emit bool) error {
	start := time.Now()
	insType := ins.InstructionType().String()
	idempotencyKey := ins.IdempotencyKey()

	// Step 2: Compliance gates. All failures precede any mutation.
	if err := e.checkGates(ins); err != nil {
		if e.metrics != nil {
			e.metrics.InstructionsRejected.WithLabelValues(insType, "rejected").Inc()
		}
		return fmt.Errorf("%s rejected: %w", insType, err)
	}

	// Step 3: Lazy snapshot. Captured from pre-mutation state, committed only
	// if the instruction applies cleanly.
	var pendingSnap *snapshot.Pending
	if mutatesBalances(ins.InstructionType()) {
		pendingSnap = e.snapshots.Prepare(ins.When(), e.book)
	}

	// Step 4: Dispatch
	batch, err := e.dispatch(ins)
	if err != nil {
		if e.metrics != nil {
			e.metrics.InstructionsRejected.WithLabelValues(insType, "rejected").Inc()
		}
		return fmt.Errorf("%s rejected: %w", insType, err)
	}

	assignments := e.snapshots.Commit(pendingSnap)
	for _, a := range assignments {
		e.corporate.BindSnapshot(a.ActionID, a.SnapshotID)
	}
	if e.metrics != nil && len(assignments) > 0 {
		e.metrics.SnapshotsTaken.Inc()
	}

	// Step 5: Post-checks
	if err := e.postCheckInvariants(batch); err != nil {
		panic(fmt.Sprintf("FATAL: invariant violated: %v", err))
	}

	// Step 6: State digest and hash chain
	stateDigest := e.computeStateDigest(batch)
	prevHash := e.hasher.GetPrevHash()
	stateHash := e.hasher.ComputeHash(e.sequence, stateDigest)

	payload, err := json.Marshal(ins)
	if err != nil {
		panic(fmt.Sprintf("FATAL: cannot encode instruction %s: %v", insType, err))
	}

	envelope := &instruction.Envelope{
		Sequence:       e.sequence,
		IdempotencyKey: idempotencyKey,
		Type:           ins.InstructionType(),
		Timestamp:      ins.When(),
		Operator:       ins.By(),
		Payload:        payload,
		StateHash:      stateHash,
		PrevHash:       prevHash,
	}

	output := CoreOutput{
		Envelope:    envelope,
		Batch:       batch,
		StateDelta:  stateDigest,
		Assignments: assignments,
	}
	e.sequence++

	// Step 7: Emit. Persistence is a blocking send (backpressure, nothing is
	// lost); projections are non-blocking (drop, rebuild from the log).
	if emit {
		e.persistChan <- output
		select {
		case e.projectionChan <- output:
		default:
			if e.metrics != nil {
				e.metrics.ProjectionDropped.Inc()
			}
		}
	}

	// Step 8: Mark as processed (add to LRU)
	e.idempotency.MarkProcessed(insType, idempotencyKey)

	if e.metrics != nil {
		e.metrics.InstructionsApplied.WithLabelValues(insType).Inc()
		e.metrics.InstructionDuration.WithLabelValues(insType).Observe(time.Since(start).Seconds())
		e.metrics.CoreSequence.Set(float64(e.sequence))
		for _, entry := range batch.Entries {
			e.metrics.EntriesGenerated.WithLabelValues(entry.EntryType.String()).Inc()
		}
	}

	return nil
}

// mutatesBalances reports whether an instruction type can move value and
// therefore triggers the lazy snapshot check.
func mutatesBalances(t instruction.Type) bool {
	switch t {
	case instruction.TypeIssue, instruction.TypeTransfer, instruction.TypeRedeem,
		instruction.TypeRedeemAtMaturity,
		instruction.TypeHoldCreate, instruction.TypeHoldExecute,
		instruction.TypeHoldRelease, instruction.TypeHoldReclaim,
		instruction.TypeFreeze, instruction.TypeUnfreeze,
		instruction.TypeFreezeBatch, instruction.TypeUnfreezeBatch,
		instruction.TypeClearingApprove, instruction.TypeClearingReclaim:
		return true
	}
	return false
}

// checkGates runs pause, role and eligibility checks, in that order, before
// any state is touched. Subsystem-level preconditions live in the handlers.
func (e *Engine) checkGates(ins instruction.Instruction) error {
	t := ins.InstructionType()
	op := ins.By()

	if mutatesBalances(t) {
		if err := e.pause.Check(); err != nil {
			return err
		}
	}

	if role, needed := requiredRole(t); needed {
		if err := e.roles.Require(op, role); err != nil {
			return fmt.Errorf("operator %s lacks role %q: %w", op, role, err)
		}
	}

	if err := e.checkHolderAuthority(ins); err != nil {
		return err
	}

	if err := e.checkEligibility(ins); err != nil {
		return err
	}

	return e.checkProtectedPartition(ins)
}

// checkHolderAuthority requires the submitting operator to be the holder
// whose free balance the instruction spends. The wildcard role bypasses it,
// so an administrator can force movements. Instructions acting on existing
// holds or clearing operations carry their own relationship checks in the
// managers.
func (e *Engine) checkHolderAuthority(ins instruction.Instruction) error {
	var h token.Holder
	switch i := ins.(type) {
	case *instruction.Transfer:
		h = i.From
	case *instruction.Redeem:
		h = i.Holder
	case *instruction.HoldCreate:
		h = i.Holder
	default:
		return nil
	}
	op := ins.By()
	if op == h || e.roles.Has(op, token.RoleWildcard) {
		return nil
	}
	return fmt.Errorf("operator %s is not holder %s: %w", op, h, token.ErrNotHolder)
}

// requiredRole maps instruction types to the administrative role that must be
// held by the submitting operator. Types absent from the map are authorized
// by relationship (holder, escrow) inside their handlers.
func requiredRole(t instruction.Type) (token.Role, bool) {
	switch t {
	case instruction.TypeIssue:
		return token.RoleIssuer, true
	case instruction.TypeRedeemAtMaturity, instruction.TypeScheduleCoupon:
		return token.RoleBondManager, true
	case instruction.TypeFreeze, instruction.TypeUnfreeze,
		instruction.TypeFreezeBatch, instruction.TypeUnfreezeBatch:
		return token.RoleFreezeManager, true
	case instruction.TypeClearingSetActive, instruction.TypeClearingApprove:
		return token.RoleClearing, true
	case instruction.TypeScheduleDividend, instruction.TypeScheduleVoting,
		instruction.TypeScheduleBalanceAdjustment:
		return token.RoleCorporateActions, true
	case instruction.TypeSetPaused:
		return token.RolePauser, true
	case instruction.TypeGrantRole, instruction.TypeRevokeRole:
		return token.RoleWildcard, true
	case instruction.TypeKYCGrant, instruction.TypeKYCRevoke,
		instruction.TypeControlListAdd, instruction.TypeControlListRemove:
		return token.RoleControlList, true
	}
	return "", false
}

// checkEligibility enforces KYC and control-list rules for every account that
// gains or loses value.
func (e *Engine) checkEligibility(ins instruction.Instruction) error {
	check := func(h token.Holder) error {
		if err := e.kyc.Check(h); err != nil {
			return fmt.Errorf("holder %s: %w", h, err)
		}
		if err := e.controlList.Check(h); err != nil {
			return fmt.Errorf("holder %s: %w", h, err)
		}
		return nil
	}

	switch i := ins.(type) {
	case *instruction.Issue:
		return check(i.To)
	case *instruction.Transfer:
		if err := check(i.From); err != nil {
			return err
		}
		return check(i.To)
	case *instruction.Redeem:
		return check(i.Holder)
	case *instruction.HoldCreate:
		return check(i.Holder)
	case *instruction.HoldExecute:
		if i.To != token.NullHolder {
			return check(i.To)
		}
	}
	return nil
}

// checkProtectedPartition requires the wildcard role for instructions naming
// a non-default partition on a protected-partitions asset.
func (e *Engine) checkProtectedPartition(ins instruction.Instruction) error {
	if !e.config.ProtectedPartitions {
		return nil
	}
	p := namedPartition(ins)
	if p == "" || p == token.DefaultPartition {
		return nil
	}
	if !e.roles.Has(ins.By(), token.RoleWildcard) {
		return token.ErrProtectedPartition
	}
	return nil
}

func namedPartition(ins instruction.Instruction) token.Partition {
	switch i := ins.(type) {
	case *instruction.Issue:
		return i.Partition
	case *instruction.Transfer:
		return i.Partition
	case *instruction.Redeem:
		return i.Partition
	case *instruction.HoldCreate:
		return i.Partition
	case *instruction.HoldExecute:
		return i.Partition
	case *instruction.HoldRelease:
		return i.Partition
	case *instruction.HoldReclaim:
		return i.Partition
	case *instruction.Freeze:
		return i.Partition
	case *instruction.Unfreeze:
		return i.Partition
	case *instruction.ClearingApprove:
		return i.Partition
	case *instruction.ClearingReclaim:
		return i.Partition
	}
	return ""
}

// computeStateDigest builds canonical bytes over every balance record touched
// by the batch, plus the supply counters. Deterministic ordering by
// (holder, partition).
func (e *Engine) computeStateDigest(batch *ledger.Batch) []byte {
	affected := make(map[ledger.BalanceKey]bool)
	if batch != nil {
		for _, entry := range batch.Entries {
			affected[ledger.BalanceKey{Holder: entry.Holder, Partition: entry.Partition}] = true
			if entry.Counterparty != nil {
				affected[ledger.BalanceKey{Holder: *entry.Counterparty, Partition: entry.Partition}] = true
			}
		}
	}

	keys := make([]ledger.BalanceKey, 0, len(affected))
	for key := range affected {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Holder != keys[j].Holder {
			return keys[i].Holder.String() < keys[j].Holder.String()
		}
		return keys[i].Partition < keys[j].Partition
	})

	digest := make([]byte, 0, len(keys)*80)
	for _, key := range keys {
		bal := e.book.BalanceOf(key.Holder, key.Partition)

		path := key.Holder.String() + ":" + string(key.Partition)
		digest = append(digest, byte(len(path)))
		digest = append(digest, []byte(path)...)
		digest = appendInt64LE(digest, bal.Free)
		digest = appendInt64LE(digest, bal.Held)
		digest = appendInt64LE(digest, bal.Frozen)
	}
	digest = appendInt64LE(digest, e.book.TotalSupply())

	return digest
}

func appendInt64LE(buf []byte, v int64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}

// postCheckInvariants validates the batch shape, the ledger identities for
// every balance the batch touched, then the supply identities across the
// whole book.
func (e *Engine) postCheckInvariants(batch *ledger.Batch) error {
	if batch != nil {
		if err := batch.Validate(); err != nil {
			return err
		}
		for _, entry := range batch.Entries {
			if err := e.validator.ValidateHolder(entry.Holder, entry.Partition); err != nil {
				return err
			}
			if entry.Counterparty != nil {
				if err := e.validator.ValidateHolder(*entry.Counterparty, entry.Partition); err != nil {
					return err
				}
			}
		}
	}
	return e.validator.ValidateSupply()
}

// GetSequence returns the next sequence number to assign.
func (e *Engine) GetSequence() int64 {
	return e.sequence
}

// GetStateHash returns the current state hash (chain tip).
func (e *Engine) GetStateHash() [32]byte {
	return e.hasher.GetPrevHash()
}

// WarmLRU loads recent idempotency keys into the LRU cache.
func (e *Engine) WarmLRU(keys []string) {
	e.idempotency.lru.WarmFromKeys(keys)
}
