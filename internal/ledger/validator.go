package ledger

import (
	"fmt"

	"SecTokenLedger/internal/token"
)

// InvariantValidator checks the ledger identities after mutations:
//
//	free + held + frozen == total          per (holder, partition)
//	Σ_h total(h, p)      == supply(p)      per partition
//	Σ_p supply(p)        == totalSupply
type InvariantValidator struct {
	book *Book
}

func NewInvariantValidator(book *Book) *InvariantValidator {
	return &InvariantValidator{book: book}
}

// ValidateHolder checks non-negativity for one balance record.
func (v *InvariantValidator) ValidateHolder(h token.Holder, p token.Partition) error {
	bal := v.book.BalanceOf(h, p)
	if bal.Free < 0 {
		return fmt.Errorf("holder %s has negative free balance on %q: %d", h, p, bal.Free)
	}
	if bal.Held < 0 {
		return fmt.Errorf("holder %s has negative held balance on %q: %d", h, p, bal.Held)
	}
	if bal.Frozen < 0 {
		return fmt.Errorf("holder %s has negative frozen balance on %q: %d", h, p, bal.Frozen)
	}
	return nil
}

// ValidateSupply checks the partition and asset supply identities across the
// whole book.
func (v *InvariantValidator) ValidateSupply() error {
	perPartition := make(map[token.Partition]int64)
	for key, bal := range v.book.balances {
		perPartition[key.Partition] += bal.Total()
	}

	for p, sum := range perPartition {
		if sum != v.book.supply[p] {
			return fmt.Errorf("partition %q: sum of totals %d != supply %d", p, sum, v.book.supply[p])
		}
	}
	for p, s := range v.book.supply {
		if perPartition[p] != s {
			return fmt.Errorf("partition %q: supply %d has no matching balances (sum=%d)", p, s, perPartition[p])
		}
	}

	var total int64
	for _, s := range v.book.supply {
		total += s
	}
	if total != v.book.totalSupply {
		return fmt.Errorf("sum of partition supplies %d != total supply %d", total, v.book.totalSupply)
	}
	return nil
}
