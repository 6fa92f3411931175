// Package projection maintains the Postgres read model. Projections are
// eventually consistent: the core feeds them through a non-blocking channel
// and they can always be rebuilt from the instruction log.
package projection

import (
	"context"
	"database/sql"
	"fmt"
	"log"
)

// ProjectionOutput mirrors the data needed by projection workers.
// The orchestrator bridges between core.CoreOutput and this.
type ProjectionOutput struct {
	Sequence        int64
	InstructionType string
	Entries         []Entry
	Timestamp       int64
}

// Entry is a simplified ledger entry for projection consumption. Buckets are
// string names ("supply", "free", "held", "frozen").
type Entry struct {
	Partition    string
	Holder       string
	Counterparty *string
	FromBucket   string
	ToBucket     string
	Amount       int64
	EntryType    string
}

// ProjectionWorker updates projection tables from processed instructions.
// The projection channel is non-blocking with drop: if projections fall
// behind, they are rebuilt from the instruction log.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan ProjectionOutput
	lastSeq   int64
}

func NewProjectionWorker(db *sql.DB, inputChan <-chan ProjectionOutput) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
	}
}

// Run starts the projection worker loop.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}

			if err := pw.processOutput(ctx, output); err != nil {
				log.Printf("WARN: projection update failed at seq=%d: %v", output.Sequence, err)
				// Continue — projections are eventually consistent
				// and can be rebuilt from the instruction log
			}

			pw.lastSeq = output.Sequence
		}
	}
}

func (pw *ProjectionWorker) processOutput(ctx context.Context, output ProjectionOutput) error {
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, e := range output.Entries {
		if err := pw.applyEntry(ctx, tx, output.Sequence, e); err != nil {
			return fmt.Errorf("balance projection: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE projections.progress SET last_sequence = $1, updated_at = NOW() WHERE id = 1
	`, output.Sequence); err != nil {
		return fmt.Errorf("progress update: %w", err)
	}

	return tx.Commit()
}

// applyEntry translates one bucket movement into projection updates. An entry
// debits (holder, from_bucket) and credits either the same holder's to_bucket
// or, when a counterparty is named, the counterparty's to_bucket. The supply
// bucket maps to the per-partition outstanding amount.
func (pw *ProjectionWorker) applyEntry(ctx context.Context, tx *sql.Tx, seq int64, e Entry) error {
	creditHolder := e.Holder
	if e.Counterparty != nil {
		creditHolder = *e.Counterparty
	}

	if e.FromBucket == "supply" {
		if err := pw.adjustSupply(ctx, tx, seq, e.Partition, e.Amount); err != nil {
			return err
		}
	} else {
		if err := pw.adjustBucket(ctx, tx, seq, e.Holder, e.Partition, e.FromBucket, -e.Amount); err != nil {
			return err
		}
	}

	if e.ToBucket == "supply" {
		return pw.adjustSupply(ctx, tx, seq, e.Partition, -e.Amount)
	}
	return pw.adjustBucket(ctx, tx, seq, creditHolder, e.Partition, e.ToBucket, e.Amount)
}

func (pw *ProjectionWorker) adjustBucket(ctx context.Context, tx *sql.Tx, seq int64, holder, partition, bucket string, delta int64) error {
	var col string
	switch bucket {
	case "free":
		col = "free"
	case "held":
		col = "held"
	case "frozen":
		col = "frozen"
	default:
		return fmt.Errorf("unknown bucket %q", bucket)
	}

	query := fmt.Sprintf(`
		INSERT INTO projections.balances (holder, partition, %s, updated_seq)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (holder, partition)
		DO UPDATE SET %s = projections.balances.%s + $3, updated_seq = $4, updated_at = NOW()
	`, col, col, col)

	_, err := tx.ExecContext(ctx, query, holder, partition, delta, seq)
	return err
}

func (pw *ProjectionWorker) adjustSupply(ctx context.Context, tx *sql.Tx, seq int64, partition string, delta int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.supply (partition, outstanding, updated_seq)
		VALUES ($1, $2, $3)
		ON CONFLICT (partition)
		DO UPDATE SET outstanding = projections.supply.outstanding + $2, updated_seq = $3
	`, partition, delta, seq)
	return err
}

// RebuildProjections rebuilds all projection tables from the instruction log.
// Used after a dropped projection output or a fresh deployment against an
// existing log.
func RebuildProjections(ctx context.Context, db *sql.DB) error {
	truncateStatements := []string{
		`TRUNCATE projections.balances`,
		`TRUNCATE projections.supply`,
		`UPDATE projections.progress SET last_sequence = -1 WHERE id = 1`,
	}

	for _, stmt := range truncateStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate failed: %w", err)
		}
	}

	rows, err := db.QueryContext(ctx, `
		SELECT sequence, partition, holder, counterparty, from_bucket, to_bucket, amount, entry_type
		FROM instruction_log.entries
		ORDER BY sequence ASC
	`)
	if err != nil {
		return fmt.Errorf("read entries: %w", err)
	}
	defer rows.Close()

	pw := &ProjectionWorker{db: db}
	var maxSeq int64 = -1
	for rows.Next() {
		var (
			seq int64
			e   Entry
		)
		if err := rows.Scan(&seq, &e.Partition, &e.Holder, &e.Counterparty,
			&e.FromBucket, &e.ToBucket, &e.Amount, &e.EntryType); err != nil {
			return err
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if err := pw.applyEntry(ctx, tx, seq, e); err != nil {
			tx.Rollback()
			return fmt.Errorf("rebuild at seq=%d: %w", seq, err)
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		if seq > maxSeq {
			maxSeq = seq
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	if _, err := db.ExecContext(ctx, `
		UPDATE projections.progress SET last_sequence = $1, updated_at = NOW() WHERE id = 1
	`, maxSeq); err != nil {
		return err
	}

	log.Println("INFO: projection rebuild complete")
	return nil
}
