package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SnapshotManager handles creating and loading state snapshots for recovery.
// Snapshots carry the full in-memory state: balances, supply, holds, clearing
// operations, balance records, scheduled actions, compliance state, the
// idempotency LRU and the last state hash.
type SnapshotManager struct {
	db *sql.DB
}

// SnapshotData is the JSON-serializable form of the core's state. It mirrors
// core.SnapshotState to avoid an import cycle; the orchestrator converts.
type SnapshotData struct {
	Sequence  int64  `json:"sequence"`
	StateHash []byte `json:"state_hash"`

	Balances    []BalanceSnap    `json:"balances"`
	Supply      map[string]int64 `json:"supply"` // partition -> outstanding
	TotalSupply int64            `json:"total_supply"`

	Holds        []ReservationSnap `json:"holds"`
	HoldCounters []CounterSnap     `json:"hold_counters"`

	ClearingActive   bool             `json:"clearing_active"`
	ClearingOps      []ClearingOpSnap `json:"clearing_ops"`
	ClearingCounters []CounterSnap    `json:"clearing_counters"`

	BalanceRecords []BalanceRecordSnap  `json:"balance_records"`
	RecordLastID   uint64               `json:"record_last_id"`
	PendingRecords map[uint64]time.Time `json:"pending_records"` // actionID -> record date

	Actions []ActionSnap `json:"actions"`

	Roles       map[string][]string `json:"roles"`        // holder -> granted roles
	KYCStatuses map[string]int32    `json:"kyc_statuses"` // holder -> status
	ControlList []string            `json:"control_list"`
	Paused      bool                `json:"paused"`

	IdempotencyKeys []string  `json:"idempotency_keys"` // Recent keys for LRU warming
	CreatedAt       time.Time `json:"created_at"`
}

// BalanceSnap is one (holder, partition) balance row.
type BalanceSnap struct {
	Holder    string `json:"holder"`
	Partition string `json:"partition"`
	Free      int64  `json:"free"`
	Held      int64  `json:"held"`
	Frozen    int64  `json:"frozen"`
}

// ReservationSnap is a serializable hold or clearing reservation.
type ReservationSnap struct {
	ID          uint64    `json:"id"`
	Partition   string    `json:"partition"`
	Holder      string    `json:"holder"`
	Amount      int64     `json:"amount"`
	Expiration  time.Time `json:"expiration"`
	Executor    string    `json:"executor"`
	Destination string    `json:"destination"`
	ThirdParty  bool      `json:"third_party"`
	Payload     []byte    `json:"payload,omitempty"`
	Operator    string    `json:"operator"`
}

// CounterSnap is a per-(holder, partition) id counter.
type CounterSnap struct {
	Holder    string `json:"holder"`
	Partition string `json:"partition"`
	Next      uint64 `json:"next"`
}

// ClearingOpSnap is a serializable pending clearing operation.
type ClearingOpSnap struct {
	Reservation ReservationSnap `json:"reservation"`
	Kind        int32           `json:"kind"`
	HoldParams  *HoldParamsSnap `json:"hold_params,omitempty"`
}

// HoldParamsSnap carries the deferred hold parameters of an OpHoldCreate.
type HoldParamsSnap struct {
	Partition   string    `json:"partition"`
	Holder      string    `json:"holder"`
	Amount      int64     `json:"amount"`
	Expiration  time.Time `json:"expiration"`
	Escrow      string    `json:"escrow"`
	Destination string    `json:"destination"`
	ThirdParty  bool      `json:"third_party"`
	Payload     []byte    `json:"payload,omitempty"`
	Operator    string    `json:"operator"`
}

// BalanceRecordSnap is a captured record-date balance snapshot.
type BalanceRecordSnap struct {
	ID      uint64           `json:"id"`
	TakenAt time.Time        `json:"taken_at"`
	Totals  map[string]int64 `json:"totals"` // holder -> total balance
	Holders []string         `json:"holders"`
}

// ActionSnap is a serializable scheduled corporate action.
type ActionSnap struct {
	ID             uint64    `json:"id"`
	Kind           int32     `json:"kind"`
	RecordDate     time.Time `json:"record_date"`
	ExecutionDate  time.Time `json:"execution_date"`
	Amount         int64     `json:"amount,omitempty"`
	AmountDecimals uint8     `json:"amount_decimals,omitempty"`
	Ballot         []byte    `json:"ballot,omitempty"`
	Rate           int64     `json:"rate,omitempty"`
	Factor         int64     `json:"factor,omitempty"`
	Decimals       uint8     `json:"decimals,omitempty"`
	SnapshotID     uint64    `json:"snapshot_id,omitempty"`
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// SaveSnapshot persists a snapshot to Postgres. Snapshots are taken
// periodically and verified by replaying instructions from the snapshot
// sequence forward before they become eligible for restore.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, snap *SnapshotData) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	snapshotID := uuid.New()
	sizeBytes := len(data)
	formatVersion := int32(1) // v1: JSON-encoded SnapshotData

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO instruction_log.snapshots
			(snapshot_id, sequence, data, state_hash, format_version, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
		ON CONFLICT (sequence) DO UPDATE SET data = $3, state_hash = $4, size_bytes = $6
	`, snapshotID, snap.Sequence, data, snap.StateHash, formatVersion, sizeBytes, snap.CreatedAt)

	return err
}

// LoadLatestSnapshot loads the most recent verified snapshot. On warm restart
// the caller restores it then replays the log from snapshot.sequence+1.
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*SnapshotData, error) {
	row := sm.db.QueryRowContext(ctx, `
		SELECT data FROM instruction_log.snapshots
		WHERE verified = TRUE
		ORDER BY sequence DESC
		LIMIT 1
	`)

	var data []byte
	if err := row.Scan(&data); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // No snapshot — cold start
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var snap SnapshotData
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}

	return &snap, nil
}

// MarkVerified marks a snapshot as verified after integrity check.
func (sm *SnapshotManager) MarkVerified(ctx context.Context, sequence int64) error {
	_, err := sm.db.ExecContext(ctx, `
		UPDATE instruction_log.snapshots SET verified = TRUE WHERE sequence = $1
	`, sequence)
	return err
}

// LoadInstructionsFrom loads instruction envelopes from a given sequence for
// replay. Used for warm restart (replay from snapshot) and cold restart
// (replay all).
func (sm *SnapshotManager) LoadInstructionsFrom(ctx context.Context, fromSequence int64, limit int) ([]InstructionRow, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT sequence, instruction_type, idempotency_key, operator, payload,
		       state_hash, prev_hash, timestamp
		FROM instruction_log.instructions
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []InstructionRow
	for rows.Next() {
		var r InstructionRow
		if err := rows.Scan(
			&r.Sequence, &r.InstructionType, &r.IdempotencyKey, &r.Operator,
			&r.Payload, &r.StateHash, &r.PrevHash, &r.Timestamp,
		); err != nil {
			return nil, err
		}
		out = append(out, r)
	}

	return out, rows.Err()
}

// GetLatestSequence returns the highest sequence in the instruction log.
func (sm *SnapshotManager) GetLatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := sm.db.QueryRowContext(ctx, `
		SELECT MAX(sequence) FROM instruction_log.instructions
	`).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return 0, nil // Empty instruction log
	}
	return seq.Int64, nil
}
