package query

import (
	"context"
	"database/sql"
	"fmt"
)

// QueryService provides read-only access to projection tables. Queries are
// served via gRPC and HTTP/JSON (gRPC-Gateway), reading from PostgreSQL.
// All responses include as_of_sequence for freshness semantics; live
// point-in-time reads (holds, clearing, positions) go through the core's
// query channel instead.
type QueryService struct {
	db *sql.DB
}

func NewQueryService(db *sql.DB) *QueryService {
	return &QueryService{db: db}
}

// GetBalance returns a holder's balance in one partition.
func (qs *QueryService) GetBalance(ctx context.Context, holder, partition string) (*BalanceResponse, error) {
	asOfSeq, err := qs.getProgress(ctx)
	if err != nil {
		return nil, fmt.Errorf("progress: %w", err)
	}

	resp := &BalanceResponse{
		Holder:       holder,
		Partition:    partition,
		AsOfSequence: asOfSeq,
	}

	err = qs.db.QueryRowContext(ctx, `
		SELECT free, held, frozen FROM projections.balances
		WHERE holder = $1 AND partition = $2
	`, holder, partition).Scan(&resp.Free, &resp.Held, &resp.Frozen)
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}

	resp.Total = resp.Free + resp.Held + resp.Frozen
	return resp, nil
}

// GetHolderBalances returns a holder's balances across every partition they
// have ever held value in.
func (qs *QueryService) GetHolderBalances(ctx context.Context, holder string) ([]BalanceResponse, error) {
	asOfSeq, err := qs.getProgress(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT partition, free, held, frozen
		FROM projections.balances
		WHERE holder = $1
		ORDER BY partition
	`, holder)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []BalanceResponse
	for rows.Next() {
		b := BalanceResponse{Holder: holder, AsOfSequence: asOfSeq}
		if err := rows.Scan(&b.Partition, &b.Free, &b.Held, &b.Frozen); err != nil {
			return nil, err
		}
		b.Total = b.Free + b.Held + b.Frozen
		out = append(out, b)
	}

	return out, rows.Err()
}

// GetSupply returns outstanding supply. partition == nil means asset-wide.
func (qs *QueryService) GetSupply(ctx context.Context, partition *string) (*SupplyResponse, error) {
	asOfSeq, err := qs.getProgress(ctx)
	if err != nil {
		return nil, err
	}

	resp := &SupplyResponse{AsOfSequence: asOfSeq}

	if partition != nil {
		resp.Partition = *partition
		err = qs.db.QueryRowContext(ctx, `
			SELECT outstanding FROM projections.supply WHERE partition = $1
		`, *partition).Scan(&resp.Outstanding)
	} else {
		err = qs.db.QueryRowContext(ctx, `
			SELECT COALESCE(SUM(outstanding), 0) FROM projections.supply
		`).Scan(&resp.Outstanding)
	}
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}

	return resp, nil
}

// GetHolders lists holders with a non-zero balance in a partition.
func (qs *QueryService) GetHolders(ctx context.Context, partition string, limit int) (*HoldersResponse, error) {
	asOfSeq, err := qs.getProgress(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT holder FROM projections.balances
		WHERE partition = $1 AND free + held + frozen > 0
		ORDER BY holder
		LIMIT $2
	`, partition, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	resp := &HoldersResponse{Partition: partition, AsOfSequence: asOfSeq}
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		resp.Holders = append(resp.Holders, h)
	}

	return resp, rows.Err()
}

// GetEntryHistory returns ledger entries touching a holder, newest first.
// Supports cursor-based pagination on sequence.
func (qs *QueryService) GetEntryHistory(
	ctx context.Context,
	holder string,
	limit int,
	afterSequence *int64,
) ([]EntryHistoryEntry, error) {
	query := `
		SELECT entry_id, batch_id, instruction_ref, sequence,
		       partition, holder, counterparty, from_bucket, to_bucket,
		       amount, entry_type, timestamp
		FROM instruction_log.entries
		WHERE holder = $1 OR counterparty = $1
	`
	args := []interface{}{holder}
	argIdx := 2

	if afterSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *afterSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []EntryHistoryEntry
	for rows.Next() {
		var e EntryHistoryEntry
		if err := rows.Scan(
			&e.EntryID, &e.BatchID, &e.InstructionRef, &e.Sequence,
			&e.Partition, &e.Holder, &e.Counterparty, &e.FromBucket, &e.ToBucket,
			&e.Amount, &e.EntryType, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// --- Admin APIs ---

// VerifyIntegrity checks hash chain continuity and projected balance sanity.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{}

	// Check hash chain continuity
	rows, err := qs.db.QueryContext(ctx, `
		SELECT i1.sequence
		FROM instruction_log.instructions i1
		LEFT JOIN instruction_log.instructions i2 ON i2.sequence = i1.sequence - 1
		WHERE i1.sequence > 0 AND i1.prev_hash != COALESCE(i2.state_hash, i1.prev_hash)
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// No bucket may go negative; the core enforces this, so a negative
	// projection means a projection bug or a partial rebuild.
	balanceRows, err := qs.db.QueryContext(ctx, `
		SELECT holder, partition, free, held, frozen
		FROM projections.balances
		WHERE free < 0 OR held < 0 OR frozen < 0
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer balanceRows.Close()

	for balanceRows.Next() {
		var holder, partition string
		var free, held, frozen int64
		if err := balanceRows.Scan(&holder, &partition, &free, &held, &frozen); err != nil {
			return nil, err
		}
		for bucket, amt := range map[string]int64{"free": free, "held": held, "frozen": frozen} {
			if amt < 0 {
				report.NegativeBalances = append(report.NegativeBalances, NegativeBalance{
					Holder:    holder,
					Partition: partition,
					Bucket:    bucket,
					Amount:    amt,
				})
			}
		}
	}
	if err := balanceRows.Err(); err != nil {
		return nil, err
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 && len(report.NegativeBalances) == 0
	return report, nil
}

// --- helpers ---

func (qs *QueryService) getProgress(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT last_sequence FROM projections.progress WHERE id = 1
	`).Scan(&seq)
	if err == sql.ErrNoRows {
		return -1, nil
	}
	return seq, err
}
