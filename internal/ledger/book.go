package ledger

import (
	"fmt"
	"sort"

	"SecTokenLedger/internal/token"
)

// BalanceKey addresses one balance record.
type BalanceKey struct {
	Holder    token.Holder
	Partition token.Partition
}

// Balance is the per (holder, partition) record. The identity
// free + held + frozen == total holds at all times.
type Balance struct {
	Free   int64
	Held   int64
	Frozen int64
}

func (b Balance) Total() int64 {
	return b.Free + b.Held + b.Frozen
}

// Book maintains all balances, per-partition supply, the asset total supply
// and the holder sets that back "all holders" queries. It is the foundation
// every derived subsystem reads and mutates.
//
// Not thread-safe — only accessed from the single-threaded core engine.
type Book struct {
	multiPartition bool
	maxSupply      int64 // 0 = unlimited

	balances    map[BalanceKey]*Balance
	supply      map[token.Partition]int64
	totalSupply int64

	// holders[p] is the set of holders with total(h,p) > 0.
	holders map[token.Partition]map[token.Holder]struct{}
}

func NewBook(multiPartition bool, maxSupply int64) *Book {
	return &Book{
		multiPartition: multiPartition,
		maxSupply:      maxSupply,
		balances:       make(map[BalanceKey]*Balance),
		supply:         make(map[token.Partition]int64),
		holders:        make(map[token.Partition]map[token.Holder]struct{}),
	}
}

// MultiPartition reports whether the asset was created in multi-partition mode.
func (bk *Book) MultiPartition() bool {
	return bk.multiPartition
}

// ResolvePartition normalizes the partition of an instruction. Single-partition
// assets restrict every operation to the default partition and reject explicit
// non-default partition ids.
func (bk *Book) ResolvePartition(p token.Partition) (token.Partition, error) {
	if p == "" {
		return token.DefaultPartition, nil
	}
	if !bk.multiPartition && p != token.DefaultPartition {
		return "", token.ErrOnlyDefaultPartitionAllowed
	}
	return p, nil
}

func (bk *Book) get(h token.Holder, p token.Partition) *Balance {
	key := BalanceKey{Holder: h, Partition: p}
	bal, ok := bk.balances[key]
	if !ok {
		bal = &Balance{}
		bk.balances[key] = bal
	}
	return bal
}

// BalanceOf returns a copy of the balance record (zero value for unknown
// holders).
func (bk *Book) BalanceOf(h token.Holder, p token.Partition) Balance {
	if bal, ok := bk.balances[BalanceKey{Holder: h, Partition: p}]; ok {
		return *bal
	}
	return Balance{}
}

func (bk *Book) FreeOf(h token.Holder, p token.Partition) int64 {
	return bk.BalanceOf(h, p).Free
}

func (bk *Book) TotalOf(h token.Holder, p token.Partition) int64 {
	return bk.BalanceOf(h, p).Total()
}

// TotalAcrossPartitions sums total(h, p) over every partition. This is the
// balance corporate actions and snapshots see — held and frozen included.
func (bk *Book) TotalAcrossPartitions(h token.Holder) int64 {
	var sum int64
	for key, bal := range bk.balances {
		if key.Holder == h {
			sum += bal.Total()
		}
	}
	return sum
}

func (bk *Book) SupplyOf(p token.Partition) int64 {
	return bk.supply[p]
}

func (bk *Book) TotalSupply() int64 {
	return bk.totalSupply
}

// Holders returns the holder set of one partition, sorted for determinism.
func (bk *Book) Holders(p token.Partition) []token.Holder {
	set := bk.holders[p]
	out := make([]token.Holder, 0, len(set))
	for h := range set {
		out = append(out, h)
	}
	sortHolders(out)
	return out
}

// AllHolders returns the union of every partition's holder set, sorted.
func (bk *Book) AllHolders() []token.Holder {
	seen := make(map[token.Holder]struct{})
	for _, set := range bk.holders {
		for h := range set {
			seen[h] = struct{}{}
		}
	}
	out := make([]token.Holder, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}
	sortHolders(out)
	return out
}

func sortHolders(hs []token.Holder) {
	sort.Slice(hs, func(i, j int) bool {
		return hs[i].String() < hs[j].String()
	})
}

// updateHolderSet maintains holder-set membership after a total changed.
func (bk *Book) updateHolderSet(h token.Holder, p token.Partition) {
	total := bk.TotalOf(h, p)
	set, ok := bk.holders[p]
	if !ok {
		set = make(map[token.Holder]struct{})
		bk.holders[p] = set
	}
	if total > 0 {
		set[h] = struct{}{}
	} else {
		delete(set, h)
		if len(set) == 0 {
			delete(bk.holders, p)
		}
		delete(bk.balances, BalanceKey{Holder: h, Partition: p})
	}
}

// Issue mints amount into the holder's free balance.
func (bk *Book) Issue(p token.Partition, h token.Holder, amount int64) error {
	if amount <= 0 {
		return token.ErrInvalidAmount
	}
	if h == token.NullHolder {
		return token.ErrZeroAddress
	}
	if bk.maxSupply > 0 && bk.totalSupply+amount > bk.maxSupply {
		return fmt.Errorf("%w: supply=%d, issue=%d, max=%d",
			token.ErrMaxSupplyExceeded, bk.totalSupply, amount, bk.maxSupply)
	}
	bk.get(h, p).Free += amount
	bk.supply[p] += amount
	bk.totalSupply += amount
	bk.updateHolderSet(h, p)
	return nil
}

// Redeem burns amount from the holder's free balance.
func (bk *Book) Redeem(p token.Partition, h token.Holder, amount int64) error {
	if amount <= 0 {
		return token.ErrInvalidAmount
	}
	bal := bk.get(h, p)
	if bal.Free < amount {
		return fmt.Errorf("%w: free=%d, need=%d", token.ErrInsufficientBalance, bal.Free, amount)
	}
	bal.Free -= amount
	bk.supply[p] -= amount
	if bk.supply[p] == 0 {
		delete(bk.supply, p)
	}
	bk.totalSupply -= amount
	bk.updateHolderSet(h, p)
	return nil
}

// Transfer moves amount between two holders' free balances within a partition.
func (bk *Book) Transfer(p token.Partition, from, to token.Holder, amount int64) error {
	if amount <= 0 {
		return token.ErrInvalidAmount
	}
	if to == token.NullHolder {
		return token.ErrZeroAddress
	}
	src := bk.get(from, p)
	if src.Free < amount {
		return fmt.Errorf("%w: free=%d, need=%d", token.ErrInsufficientBalance, src.Free, amount)
	}
	src.Free -= amount
	bk.get(to, p).Free += amount
	bk.updateHolderSet(from, p)
	bk.updateHolderSet(to, p)
	return nil
}

// Reserve moves amount from free to held. Used by hold creation and clearing
// operation creation — the two instantiations of the reservation pattern.
func (bk *Book) Reserve(p token.Partition, h token.Holder, amount int64) error {
	bal := bk.get(h, p)
	if bal.Free < amount {
		return fmt.Errorf("%w: free=%d, need=%d", token.ErrInsufficientBalance, bal.Free, amount)
	}
	bal.Free -= amount
	bal.Held += amount
	return nil
}

// ReleaseReserved moves amount from held back to free.
func (bk *Book) ReleaseReserved(p token.Partition, h token.Holder, amount int64) error {
	bal := bk.get(h, p)
	if bal.Held < amount {
		return fmt.Errorf("%w: held=%d, need=%d", token.ErrInsufficientHold, bal.Held, amount)
	}
	bal.Held -= amount
	bal.Free += amount
	return nil
}

// ExecuteReserved settles amount of the holder's held balance into the
// destination's free balance.
func (bk *Book) ExecuteReserved(p token.Partition, from, to token.Holder, amount int64) error {
	if to == token.NullHolder {
		return token.ErrZeroAddress
	}
	src := bk.get(from, p)
	if src.Held < amount {
		return fmt.Errorf("%w: held=%d, need=%d", token.ErrInsufficientHold, src.Held, amount)
	}
	src.Held -= amount
	bk.get(to, p).Free += amount
	bk.updateHolderSet(from, p)
	bk.updateHolderSet(to, p)
	return nil
}

// BurnReserved burns amount of the holder's held balance (clearing-approved
// redemption).
func (bk *Book) BurnReserved(p token.Partition, h token.Holder, amount int64) error {
	bal := bk.get(h, p)
	if bal.Held < amount {
		return fmt.Errorf("%w: held=%d, need=%d", token.ErrInsufficientHold, bal.Held, amount)
	}
	bal.Held -= amount
	bk.supply[p] -= amount
	if bk.supply[p] == 0 {
		delete(bk.supply, p)
	}
	bk.totalSupply -= amount
	bk.updateHolderSet(h, p)
	return nil
}

// Freeze moves amount from free to frozen. Independent of holds — it never
// touches held.
func (bk *Book) Freeze(p token.Partition, h token.Holder, amount int64) error {
	if amount <= 0 {
		return token.ErrInvalidAmount
	}
	bal := bk.get(h, p)
	if bal.Free < amount {
		return fmt.Errorf("%w: free=%d, need=%d", token.ErrInsufficientBalance, bal.Free, amount)
	}
	bal.Free -= amount
	bal.Frozen += amount
	return nil
}

// Unfreeze moves amount from frozen back to free.
func (bk *Book) Unfreeze(p token.Partition, h token.Holder, amount int64) error {
	if amount <= 0 {
		return token.ErrInvalidAmount
	}
	bal := bk.get(h, p)
	if bal.Frozen < amount {
		return fmt.Errorf("%w: frozen=%d, need=%d", token.ErrInsufficientFrozen, bal.Frozen, amount)
	}
	bal.Frozen -= amount
	bal.Free += amount
	return nil
}

// Snapshot returns a copy of every balance record (for state hashing and
// persistence).
func (bk *Book) Snapshot() map[BalanceKey]Balance {
	out := make(map[BalanceKey]Balance, len(bk.balances))
	for k, v := range bk.balances {
		out[k] = *v
	}
	return out
}

// Restore overwrites one balance record (snapshot recovery path).
func (bk *Book) Restore(key BalanceKey, bal Balance) {
	bk.balances[key] = &Balance{Free: bal.Free, Held: bal.Held, Frozen: bal.Frozen}
	bk.updateHolderSet(key.Holder, key.Partition)
}

// RestoreSupply overwrites the supply counters (snapshot recovery path).
func (bk *Book) RestoreSupply(supply map[token.Partition]int64, totalSupply int64) {
	bk.supply = make(map[token.Partition]int64, len(supply))
	for p, s := range supply {
		bk.supply[p] = s
	}
	bk.totalSupply = totalSupply
}

// Partitions returns every partition with non-zero supply, sorted.
func (bk *Book) Partitions() []token.Partition {
	out := make([]token.Partition, 0, len(bk.supply))
	for p := range bk.supply {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
