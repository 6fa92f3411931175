package query

// BalanceResponse represents one (holder, partition) balance for API queries.
type BalanceResponse struct {
	Holder    string `json:"holder"`
	Partition string `json:"partition"`

	Free   int64 `json:"free"`
	Held   int64 `json:"held"`
	Frozen int64 `json:"frozen"`
	Total  int64 `json:"total"` // free + held + frozen

	AsOfSequence int64 `json:"as_of_sequence"` // last projected sequence
}

// SupplyResponse represents outstanding supply for API queries.
type SupplyResponse struct {
	Partition    string `json:"partition,omitempty"` // empty for asset-wide total
	Outstanding  int64  `json:"outstanding"`
	AsOfSequence int64  `json:"as_of_sequence"`
}

// HoldersResponse lists holders with a non-zero balance in a partition.
type HoldersResponse struct {
	Partition    string   `json:"partition"`
	Holders      []string `json:"holders"`
	AsOfSequence int64    `json:"as_of_sequence"`
}

// EntryHistoryEntry represents a ledger entry for API queries.
type EntryHistoryEntry struct {
	EntryID        string  `json:"entry_id"`
	BatchID        string  `json:"batch_id"`
	InstructionRef string  `json:"instruction_ref"`
	Sequence       int64   `json:"sequence"`
	Partition      string  `json:"partition"`
	Holder         string  `json:"holder"`
	Counterparty   *string `json:"counterparty,omitempty"`
	FromBucket     string  `json:"from_bucket"`
	ToBucket       string  `json:"to_bucket"`
	Amount         int64   `json:"amount"`
	EntryType      string  `json:"entry_type"`
	Timestamp      int64   `json:"timestamp"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy        bool              `json:"is_healthy"`
	HashChainBreaks  []int64           `json:"hash_chain_breaks,omitempty"`
	NegativeBalances []NegativeBalance `json:"negative_balances,omitempty"`
}

// NegativeBalance flags a projected balance bucket below zero.
type NegativeBalance struct {
	Holder    string `json:"holder"`
	Partition string `json:"partition"`
	Bucket    string `json:"bucket"`
	Amount    int64  `json:"amount"`
}
