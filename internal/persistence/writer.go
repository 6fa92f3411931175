package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// InstructionLogWriter writes instruction envelopes and ledger entries to
// Postgres using multi-row INSERT. ON CONFLICT DO NOTHING makes every write
// idempotent so replays and retries are safe.
type InstructionLogWriter struct {
	db           *sql.DB
	batchSize    int
	flushTimeout time.Duration
}

// InstructionRow represents a row in instruction_log.instructions
type InstructionRow struct {
	Sequence        int64
	InstructionType string
	IdempotencyKey  string
	Operator        string
	Payload         []byte // JSON-encoded instruction
	StateHash       []byte
	PrevHash        []byte
	Timestamp       time.Time
}

// EntryRow represents a row in instruction_log.entries
type EntryRow struct {
	EntryID        string
	BatchID        string
	InstructionRef string
	Sequence       int64
	Partition      string
	Holder         string
	Counterparty   *string
	FromBucket     string
	ToBucket       string
	Amount         int64
	EntryType      string
	Timestamp      int64
}

func NewInstructionLogWriter(db *sql.DB, batchSize int, flushTimeout time.Duration) *InstructionLogWriter {
	return &InstructionLogWriter{
		db:           db,
		batchSize:    batchSize,
		flushTimeout: flushTimeout,
	}
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// WriteInstructionBatch writes a batch of envelopes to
// instruction_log.instructions using multi-row INSERT.
func (w *InstructionLogWriter) WriteInstructionBatch(ctx context.Context, ex execer, rows []InstructionRow) error {
	if len(rows) == 0 {
		return nil
	}

	query := `INSERT INTO instruction_log.instructions
		(sequence, instruction_type, idempotency_key, operator, payload, state_hash, prev_hash, timestamp)
		VALUES `

	values := make([]string, 0, len(rows))
	args := make([]interface{}, 0, len(rows)*8)

	for i, r := range rows {
		base := i * 8
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8,
		))
		args = append(args,
			r.Sequence, r.InstructionType, r.IdempotencyKey, r.Operator,
			r.Payload, r.StateHash, r.PrevHash, r.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (sequence) DO NOTHING"

	_, err := ex.ExecContext(ctx, query, args...)
	return err
}

// WriteEntryBatch writes a batch of ledger entries to instruction_log.entries.
func (w *InstructionLogWriter) WriteEntryBatch(ctx context.Context, ex execer, rows []EntryRow) error {
	if len(rows) == 0 {
		return nil
	}

	query := `INSERT INTO instruction_log.entries
		(entry_id, batch_id, instruction_ref, sequence, partition, holder, counterparty, from_bucket, to_bucket, amount, entry_type, timestamp)
		VALUES `

	values := make([]string, 0, len(rows))
	args := make([]interface{}, 0, len(rows)*12)

	for i, e := range rows {
		base := i * 12
		values = append(values, fmt.Sprintf(
			"($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9, base+10, base+11, base+12,
		))
		args = append(args,
			e.EntryID, e.BatchID, e.InstructionRef, e.Sequence,
			e.Partition, e.Holder, e.Counterparty, e.FromBucket, e.ToBucket,
			e.Amount, e.EntryType, e.Timestamp,
		)
	}

	query += strings.Join(values, ", ")
	query += " ON CONFLICT (entry_id) DO NOTHING"

	_, err := ex.ExecContext(ctx, query, args...)
	return err
}
