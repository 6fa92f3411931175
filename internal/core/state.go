package core

import (
	"time"

	"SecTokenLedger/internal/clearing"
	"SecTokenLedger/internal/corporate"
	"SecTokenLedger/internal/ledger"
	"SecTokenLedger/internal/reservation"
	"SecTokenLedger/internal/snapshot"
	"SecTokenLedger/internal/token"
)

// SnapshotState holds the full serializable in-memory state for restore.
// This mirrors persistence.SnapshotData but uses typed fields.
type SnapshotState struct {
	Sequence  int64
	StateHash [32]byte

	Balances    map[ledger.BalanceKey]ledger.Balance
	Supply      map[token.Partition]int64
	TotalSupply int64

	Holds        []reservation.Reservation
	HoldCounters map[reservation.CounterRef]uint64

	ClearingActive   bool
	ClearingOps      []clearing.Operation
	ClearingCounters map[reservation.CounterRef]uint64

	SnapshotRecords []*snapshot.Record
	SnapshotLastID  uint64
	SnapshotPending map[uint64]time.Time

	Actions []*corporate.Action

	Roles       map[token.Holder][]token.Role
	KYCStatuses map[token.Holder]token.KYCStatus
	ControlList []token.Holder
	Paused      bool

	IdempotencyKeys []string
}

// CreateSnapshotState captures the current in-memory state for persistence.
func (e *Engine) CreateSnapshotState() *SnapshotState {
	supply := make(map[token.Partition]int64)
	for _, p := range e.book.Partitions() {
		supply[p] = e.book.SupplyOf(p)
	}

	return &SnapshotState{
		Sequence:         e.sequence - 1, // Last processed sequence
		StateHash:        e.hasher.GetPrevHash(),
		Balances:         e.book.Snapshot(),
		Supply:           supply,
		TotalSupply:      e.book.TotalSupply(),
		Holds:            e.holds.All(),
		HoldCounters:     e.holds.Counters(),
		ClearingActive:   e.clearing.Active(),
		ClearingOps:      e.clearing.All(),
		ClearingCounters: e.clearing.Counters(),
		SnapshotRecords:  e.snapshots.Records(),
		SnapshotLastID:   e.snapshots.LastID(),
		SnapshotPending:  e.snapshots.PendingDates(),
		Actions:          e.corporate.All(),
		Roles:            e.roles.Grants(),
		KYCStatuses:      e.kyc.Statuses(),
		ControlList:      e.controlList.Members(),
		Paused:           e.pause.Paused(),
		IdempotencyKeys:  e.idempotency.lru.GetAllKeys(),
	}
}

// RestoreFromSnapshot restores the core's in-memory state. On warm restart
// the caller loads the latest snapshot, restores, then replays the
// instruction log from Sequence+1.
func (e *Engine) RestoreFromSnapshot(snap *SnapshotState) {
	e.sequence = snap.Sequence + 1 // Next sequence to assign
	e.hasher.SetPrevHash(snap.StateHash)

	for key, bal := range snap.Balances {
		e.book.Restore(key, bal)
	}
	e.book.RestoreSupply(snap.Supply, snap.TotalSupply)

	for _, r := range snap.Holds {
		e.holds.Restore(r)
	}
	for ref, next := range snap.HoldCounters {
		e.holds.RestoreCounter(ref, next)
	}

	e.clearing.SetActive(snap.ClearingActive)
	for _, op := range snap.ClearingOps {
		e.clearing.Restore(op)
	}
	for ref, next := range snap.ClearingCounters {
		e.clearing.RestoreCounter(ref, next)
	}

	for _, rec := range snap.SnapshotRecords {
		e.snapshots.Restore(rec)
	}
	e.snapshots.RestoreCounter(snap.SnapshotLastID)
	for actionID, recordDate := range snap.SnapshotPending {
		e.snapshots.Schedule(actionID, recordDate)
	}

	for _, a := range snap.Actions {
		e.corporate.Restore(a)
	}

	for h, roles := range snap.Roles {
		for _, role := range roles {
			e.roles.Grant(h, role)
		}
	}
	for h, status := range snap.KYCStatuses {
		switch status {
		case token.KYCGranted:
			e.kyc.Grant(h)
		case token.KYCRevoked:
			e.kyc.Revoke(h)
		}
	}
	for _, h := range snap.ControlList {
		e.controlList.Add(h)
	}
	e.pause.SetPaused(snap.Paused)

	e.idempotency.lru.WarmFromKeys(snap.IdempotencyKeys)
}
