package core

import (
	"fmt"

	"github.com/google/uuid"

	"SecTokenLedger/internal/clearing"
	"SecTokenLedger/internal/freeze"
	"SecTokenLedger/internal/hold"
	"SecTokenLedger/internal/instruction"
	"SecTokenLedger/internal/ledger"
	"SecTokenLedger/internal/token"
)

func (e *Engine) dispatch(ins instruction.Instruction) (*ledger.Batch, error) {
	switch i := ins.(type) {
	case *instruction.Issue:
		return e.handleIssue(i)
	case *instruction.Transfer:
		return e.handleTransfer(i)
	case *instruction.Redeem:
		return e.handleRedeem(i)
	case *instruction.RedeemAtMaturity:
		return e.handleRedeemAtMaturity(i)
	case *instruction.HoldCreate:
		return e.handleHoldCreate(i)
	case *instruction.HoldExecute:
		return e.handleHoldExecute(i)
	case *instruction.HoldRelease:
		return e.handleHoldRelease(i)
	case *instruction.HoldReclaim:
		return e.handleHoldReclaim(i)
	case *instruction.Freeze:
		return e.handleFreeze(i)
	case *instruction.Unfreeze:
		return e.handleUnfreeze(i)
	case *instruction.FreezeBatch:
		return e.handleFreezeBatch(i)
	case *instruction.UnfreezeBatch:
		return e.handleUnfreezeBatch(i)
	case *instruction.ClearingSetActive:
		e.clearing.SetActive(i.Active)
		return e.newBatch(i), nil
	case *instruction.ClearingApprove:
		return e.handleClearingApprove(i)
	case *instruction.ClearingReclaim:
		return e.handleClearingReclaim(i)
	case *instruction.ScheduleDividend:
		return e.handleScheduleDividend(i)
	case *instruction.ScheduleVoting:
		return e.handleScheduleVoting(i)
	case *instruction.ScheduleCoupon:
		return e.handleScheduleCoupon(i)
	case *instruction.ScheduleBalanceAdjustment:
		return e.handleScheduleBalanceAdjustment(i)
	case *instruction.SetPaused:
		e.pause.SetPaused(i.Paused)
		return e.newBatch(i), nil
	case *instruction.GrantRole:
		if i.Account == token.NullHolder {
			return nil, token.ErrZeroAddress
		}
		e.roles.Grant(i.Account, i.Role)
		return e.newBatch(i), nil
	case *instruction.RevokeRole:
		e.roles.Revoke(i.Account, i.Role)
		return e.newBatch(i), nil
	case *instruction.KYCGrant:
		if i.Account == token.NullHolder {
			return nil, token.ErrZeroAddress
		}
		e.kyc.Grant(i.Account)
		return e.newBatch(i), nil
	case *instruction.KYCRevoke:
		e.kyc.Revoke(i.Account)
		return e.newBatch(i), nil
	case *instruction.ControlListAdd:
		if i.Account == token.NullHolder {
			return nil, token.ErrZeroAddress
		}
		e.controlList.Add(i.Account)
		return e.newBatch(i), nil
	case *instruction.ControlListRemove:
		e.controlList.Remove(i.Account)
		return e.newBatch(i), nil
	default:
		return nil, fmt.Errorf("unknown instruction type: %T", ins)
	}
}

// newBatch starts an (initially empty) entry batch for one instruction.
func (e *Engine) newBatch(ins instruction.Instruction) *ledger.Batch {
	return &ledger.Batch{
		BatchID:        uuid.New(),
		InstructionRef: ins.IdempotencyKey(),
		Sequence:       e.sequence,
		Timestamp:      ins.When().UnixMicro(),
	}
}

func appendEntry(b *ledger.Batch, p token.Partition, h token.Holder, counterparty *token.Holder,
	from, to ledger.Bucket, amount int64, t ledger.EntryType) {
	b.Entries = append(b.Entries, ledger.Entry{
		EntryID:        uuid.New(),
		BatchID:        b.BatchID,
		InstructionRef: b.InstructionRef,
		Sequence:       b.Sequence,
		Partition:      p,
		Holder:         h,
		Counterparty:   counterparty,
		FromBucket:     from,
		ToBucket:       to,
		Amount:         amount,
		EntryType:      t,
		Timestamp:      b.Timestamp,
	})
}

func (e *Engine) handleIssue(i *instruction.Issue) (*ledger.Batch, error) {
	p, err := e.book.ResolvePartition(i.Partition)
	if err != nil {
		return nil, err
	}
	if err := e.book.Issue(p, i.To, i.Amount); err != nil {
		return nil, err
	}
	batch := e.newBatch(i)
	appendEntry(batch, p, i.To, nil, ledger.BucketSupply, ledger.BucketFree, i.Amount, ledger.EntryTypeIssue)
	return batch, nil
}

func (e *Engine) handleTransfer(i *instruction.Transfer) (*ledger.Batch, error) {
	p, err := e.book.ResolvePartition(i.Partition)
	if err != nil {
		return nil, err
	}

	batch := e.newBatch(i)
	if e.clearing.Active() {
		_, err := e.clearing.Create(i.When(), clearing.CreateParams{
			Kind:        clearing.OpTransfer,
			Partition:   p,
			Holder:      i.From,
			Amount:      i.Amount,
			Expiration:  i.ClearingExpiration,
			Destination: i.To,
			Payload:     i.ClearingPayload,
			Operator:    i.By(),
		})
		if err != nil {
			return nil, err
		}
		appendEntry(batch, p, i.From, nil, ledger.BucketFree, ledger.BucketHeld, i.Amount, ledger.EntryTypeClearingCreate)
		return batch, nil
	}

	if err := e.book.Transfer(p, i.From, i.To, i.Amount); err != nil {
		return nil, err
	}
	to := i.To
	appendEntry(batch, p, i.From, &to, ledger.BucketFree, ledger.BucketFree, i.Amount, ledger.EntryTypeTransfer)
	return batch, nil
}

func (e *Engine) handleRedeem(i *instruction.Redeem) (*ledger.Batch, error) {
	p, err := e.book.ResolvePartition(i.Partition)
	if err != nil {
		return nil, err
	}

	batch := e.newBatch(i)
	if e.clearing.Active() {
		_, err := e.clearing.Create(i.When(), clearing.CreateParams{
			Kind:       clearing.OpRedeem,
			Partition:  p,
			Holder:     i.Holder,
			Amount:     i.Amount,
			Expiration: i.ClearingExpiration,
			Payload:    i.ClearingPayload,
			Operator:   i.By(),
		})
		if err != nil {
			return nil, err
		}
		appendEntry(batch, p, i.Holder, nil, ledger.BucketFree, ledger.BucketHeld, i.Amount, ledger.EntryTypeClearingCreate)
		return batch, nil
	}

	if err := e.book.Redeem(p, i.Holder, i.Amount); err != nil {
		return nil, err
	}
	appendEntry(batch, p, i.Holder, nil, ledger.BucketFree, ledger.BucketSupply, i.Amount, ledger.EntryTypeRedeem)
	return batch, nil
}

func (e *Engine) handleRedeemAtMaturity(i *instruction.RedeemAtMaturity) (*ledger.Batch, error) {
	if e.config.MaturityDate.IsZero() || i.When().Before(e.config.MaturityDate) {
		return nil, token.ErrMaturityNotReached
	}
	p, err := e.book.ResolvePartition("")
	if err != nil {
		return nil, err
	}
	if err := e.book.Redeem(p, i.Holder, i.Amount); err != nil {
		return nil, err
	}
	batch := e.newBatch(i)
	appendEntry(batch, p, i.Holder, nil, ledger.BucketFree, ledger.BucketSupply, i.Amount, ledger.EntryTypeRedeem)
	return batch, nil
}

func (e *Engine) handleHoldCreate(i *instruction.HoldCreate) (*ledger.Batch, error) {
	p, err := e.book.ResolvePartition(i.Partition)
	if err != nil {
		return nil, err
	}

	params := hold.CreateParams{
		Partition:   p,
		Holder:      i.Holder,
		Amount:      i.Amount,
		Expiration:  i.Expiration,
		Escrow:      i.Escrow,
		Destination: i.Destination,
		ThirdParty:  i.ThirdParty,
		Payload:     i.Payload,
		Operator:    i.By(),
	}

	batch := e.newBatch(i)
	if e.clearing.Active() {
		_, err := e.clearing.Create(i.When(), clearing.CreateParams{
			Kind:       clearing.OpHoldCreate,
			Partition:  p,
			Holder:     i.Holder,
			Amount:     i.Amount,
			Expiration: i.Expiration,
			Payload:    i.Payload,
			Operator:   i.By(),
			HoldParams: &params,
		})
		if err != nil {
			return nil, err
		}
		appendEntry(batch, p, i.Holder, nil, ledger.BucketFree, ledger.BucketHeld, i.Amount, ledger.EntryTypeClearingCreate)
		return batch, nil
	}

	if _, err := e.holds.Create(i.When(), params); err != nil {
		return nil, err
	}
	appendEntry(batch, p, i.Holder, nil, ledger.BucketFree, ledger.BucketHeld, i.Amount, ledger.EntryTypeHoldCreate)
	return batch, nil
}

func (e *Engine) handleHoldExecute(i *instruction.HoldExecute) (*ledger.Batch, error) {
	p, err := e.book.ResolvePartition(i.Partition)
	if err != nil {
		return nil, err
	}
	dest, err := e.holds.Execute(i.When(), i.By(), i.Holder, p, i.HoldID, i.Amount, i.To)
	if err != nil {
		return nil, err
	}
	batch := e.newBatch(i)
	appendEntry(batch, p, i.Holder, &dest, ledger.BucketHeld, ledger.BucketFree, i.Amount, ledger.EntryTypeHoldExecute)
	return batch, nil
}

func (e *Engine) handleHoldRelease(i *instruction.HoldRelease) (*ledger.Batch, error) {
	p, err := e.book.ResolvePartition(i.Partition)
	if err != nil {
		return nil, err
	}
	r, err := e.holds.Get(i.Holder, p, i.HoldID)
	if err != nil {
		return nil, err
	}
	if err := e.holds.Release(i.When(), i.By(), i.Holder, p, i.HoldID); err != nil {
		return nil, err
	}
	batch := e.newBatch(i)
	appendEntry(batch, p, i.Holder, nil, ledger.BucketHeld, ledger.BucketFree, r.Amount, ledger.EntryTypeHoldRelease)
	return batch, nil
}

func (e *Engine) handleHoldReclaim(i *instruction.HoldReclaim) (*ledger.Batch, error) {
	p, err := e.book.ResolvePartition(i.Partition)
	if err != nil {
		return nil, err
	}
	r, err := e.holds.Get(i.Holder, p, i.HoldID)
	if err != nil {
		return nil, err
	}
	if err := e.holds.Reclaim(i.When(), i.By(), i.Holder, p, i.HoldID); err != nil {
		return nil, err
	}
	batch := e.newBatch(i)
	appendEntry(batch, p, i.Holder, nil, ledger.BucketHeld, ledger.BucketFree, r.Amount, ledger.EntryTypeHoldReclaim)
	return batch, nil
}

func (e *Engine) handleFreeze(i *instruction.Freeze) (*ledger.Batch, error) {
	p, err := e.book.ResolvePartition(i.Partition)
	if err != nil {
		return nil, err
	}
	if err := e.freezes.Freeze(p, i.Holder, i.Amount); err != nil {
		return nil, err
	}
	batch := e.newBatch(i)
	appendEntry(batch, p, i.Holder, nil, ledger.BucketFree, ledger.BucketFrozen, i.Amount, ledger.EntryTypeFreeze)
	return batch, nil
}

func (e *Engine) handleUnfreeze(i *instruction.Unfreeze) (*ledger.Batch, error) {
	p, err := e.book.ResolvePartition(i.Partition)
	if err != nil {
		return nil, err
	}
	if err := e.freezes.Unfreeze(p, i.Holder, i.Amount); err != nil {
		return nil, err
	}
	batch := e.newBatch(i)
	appendEntry(batch, p, i.Holder, nil, ledger.BucketFrozen, ledger.BucketFree, i.Amount, ledger.EntryTypeUnfreeze)
	return batch, nil
}

func (e *Engine) resolveFreezeTargets(in []instruction.BatchTarget) ([]freeze.Target, error) {
	out := make([]freeze.Target, 0, len(in))
	for _, t := range in {
		p, err := e.book.ResolvePartition(t.Partition)
		if err != nil {
			return nil, err
		}
		out = append(out, freeze.Target{Partition: p, Holder: t.Holder, Amount: t.Amount})
	}
	return out, nil
}

func (e *Engine) handleFreezeBatch(i *instruction.FreezeBatch) (*ledger.Batch, error) {
	targets, err := e.resolveFreezeTargets(i.Targets)
	if err != nil {
		return nil, err
	}
	if err := e.freezes.FreezeBatch(targets); err != nil {
		return nil, err
	}
	batch := e.newBatch(i)
	for _, t := range targets {
		appendEntry(batch, t.Partition, t.Holder, nil, ledger.BucketFree, ledger.BucketFrozen, t.Amount, ledger.EntryTypeFreeze)
	}
	return batch, nil
}

func (e *Engine) handleUnfreezeBatch(i *instruction.UnfreezeBatch) (*ledger.Batch, error) {
	targets, err := e.resolveFreezeTargets(i.Targets)
	if err != nil {
		return nil, err
	}
	if err := e.freezes.UnfreezeBatch(targets); err != nil {
		return nil, err
	}
	batch := e.newBatch(i)
	for _, t := range targets {
		appendEntry(batch, t.Partition, t.Holder, nil, ledger.BucketFrozen, ledger.BucketFree, t.Amount, ledger.EntryTypeUnfreeze)
	}
	return batch, nil
}

func (e *Engine) handleClearingApprove(i *instruction.ClearingApprove) (*ledger.Batch, error) {
	p, err := e.book.ResolvePartition(i.Partition)
	if err != nil {
		return nil, err
	}
	op, _, err := e.clearing.Approve(i.Holder, p, i.ClearingID)
	if err != nil {
		return nil, err
	}

	batch := e.newBatch(i)
	switch op.Kind {
	case clearing.OpTransfer:
		dest := op.Destination
		appendEntry(batch, p, i.Holder, &dest, ledger.BucketHeld, ledger.BucketFree, op.Amount, ledger.EntryTypeClearingApprove)
	case clearing.OpRedeem:
		appendEntry(batch, p, i.Holder, nil, ledger.BucketHeld, ledger.BucketSupply, op.Amount, ledger.EntryTypeClearingApprove)
	case clearing.OpHoldCreate:
		// Value stays held under the adopted hold; no bucket movement.
	}
	return batch, nil
}

func (e *Engine) handleClearingReclaim(i *instruction.ClearingReclaim) (*ledger.Batch, error) {
	p, err := e.book.ResolvePartition(i.Partition)
	if err != nil {
		return nil, err
	}
	op, err := e.clearing.Reclaim(i.When(), i.By(), i.Holder, p, i.ClearingID)
	if err != nil {
		return nil, err
	}
	batch := e.newBatch(i)
	appendEntry(batch, p, i.Holder, nil, ledger.BucketHeld, ledger.BucketFree, op.Amount, ledger.EntryTypeClearingReclaim)
	return batch, nil
}

func (e *Engine) handleScheduleDividend(i *instruction.ScheduleDividend) (*ledger.Batch, error) {
	actionID, err := e.corporate.ScheduleDividend(i.When(), i.RecordDate, i.ExecutionDate, i.Amount, i.Decimals)
	if err != nil {
		return nil, err
	}
	e.snapshots.Schedule(actionID, i.RecordDate)
	return e.newBatch(i), nil
}

func (e *Engine) handleScheduleVoting(i *instruction.ScheduleVoting) (*ledger.Batch, error) {
	actionID, err := e.corporate.ScheduleVoting(i.When(), i.RecordDate, i.Ballot)
	if err != nil {
		return nil, err
	}
	e.snapshots.Schedule(actionID, i.RecordDate)
	return e.newBatch(i), nil
}

func (e *Engine) handleScheduleCoupon(i *instruction.ScheduleCoupon) (*ledger.Batch, error) {
	actionID, err := e.corporate.ScheduleCoupon(i.When(), i.RecordDate, i.ExecutionDate, i.Rate)
	if err != nil {
		return nil, err
	}
	e.snapshots.Schedule(actionID, i.RecordDate)
	return e.newBatch(i), nil
}

func (e *Engine) handleScheduleBalanceAdjustment(i *instruction.ScheduleBalanceAdjustment) (*ledger.Batch, error) {
	if _, err := e.corporate.ScheduleBalanceAdjustment(i.When(), i.ExecutionDate, i.Factor, i.Decimals); err != nil {
		return nil, err
	}
	return e.newBatch(i), nil
}
