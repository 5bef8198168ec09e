// Package relation implements Relation (C3): a variable subset paired with
// its marginal projection of the observed table, plus a cache keyed by
// variable bitset so the same relation is never projected twice by one
// Cache instance (and so never twice across a search that shares it).
package relation

import (
	"sort"
	"sync"

	"github.com/bits-and-blooms/bitset"
	"github.com/cespare/xxhash/v2"

	"github.com/occam-ra/occam/table"
	"github.com/occam-ra/occam/variable"
)

// Relation is a variable subset together with its projected table.
type Relation struct {
	Vars  []*variable.V // sorted by Index
	Table *table.Table  // marginalize(observed, Vars)
	mask  *bitset.BitSet
}

// Mask returns the bitset over variable indices identifying this relation's
// variable set — the hash key used for model canonicalization (spec §3, §6).
func (r *Relation) Mask() *bitset.BitSet { return r.mask }

// hashBitset derives a 64-bit cache/canonical key from a bitset's byte
// representation via xxhash, avoiding an O(n) bitset comparison on every
// cache probe.
func hashBitset(b *bitset.BitSet) uint64 {
	words := b.Bytes()
	buf := make([]byte, len(words)*8)
	for i, w := range words {
		for j := 0; j < 8; j++ {
			buf[i*8+j] = byte(w >> (8 * j))
		}
	}

	return xxhash.Sum64(buf)
}

// cacheEntry lazily computes its Relation exactly once; readers that arrive
// while computation is in flight block on the same sync.Once rather than
// recomputing, giving lock-free reads once populated (spec §9).
type cacheEntry struct {
	once sync.Once
	rel  *Relation
	err  error
}

// Cache is a concurrent-safe (variable bitset) -> Relation cache shared
// read-only by all evaluator tasks within a search. It is owned by the
// search driver for the lifetime of one request.
type Cache struct {
	observed *table.Table
	entries  sync.Map // uint64 (bitset hash) -> *cacheEntry
}

// NewCache builds a relation cache rooted at observed; every relation it
// produces is a marginal projection of observed.
func NewCache(observed *table.Table) *Cache {
	return &Cache{observed: observed}
}

// Get returns the Relation over vars, computing and caching it on first
// request. Concurrent callers requesting the same variable set share one
// computation.
func (c *Cache) Get(vars []*variable.V) (*Relation, error) {
	sorted := make([]*variable.V, len(vars))
	copy(sorted, vars)
	variable.SortByIndex(sorted)

	mask := variable.Mask(sorted)
	key := hashBitset(mask)

	entryAny, _ := c.entries.LoadOrStore(key, &cacheEntry{})
	entry := entryAny.(*cacheEntry)

	entry.once.Do(func() {
		tbl, err := table.Marginalize(c.observed, sorted)
		if err != nil {
			entry.err = err
			return
		}
		entry.rel = &Relation{Vars: sorted, Table: tbl, mask: mask}
	})

	return entry.rel, entry.err
}

// Subset reports whether a's variable set is a subset of b's, used by
// model construction to prune subset-dominated relations (spec §4.3).
func Subset(a, b []*variable.V) bool {
	if len(a) > len(b) {
		return false
	}
	bSet := make(map[int]struct{}, len(b))
	for _, v := range b {
		bSet[v.Index] = struct{}{}
	}
	for _, v := range a {
		if _, ok := bSet[v.Index]; !ok {
			return false
		}
	}

	return true
}

// Equal reports whether a and b contain exactly the same variables.
func Equal(a, b []*variable.V) bool {
	return len(a) == len(b) && Subset(a, b)
}

// SortedAbbrevs returns the abbreviations of vars in Index order, used for
// canonical model-name construction (spec §6).
func SortedAbbrevs(vars []*variable.V) []string {
	sorted := make([]*variable.V, len(vars))
	copy(sorted, vars)
	variable.SortByIndex(sorted)

	out := make([]string, len(sorted))
	for i, v := range sorted {
		out[i] = v.Abbrev
	}

	return out
}

// byAbbrev is a sort.Interface ordering relations lexicographically on their
// abbreviation concatenation (spec §6). SortCanonical does not use it; it
// applies the same key through its own comparison after relation size.
type byAbbrev []*Relation

func (b byAbbrev) Len() int      { return len(b) }
func (b byAbbrev) Swap(i, j int) { b[i], b[j] = b[j], b[i] }
func (b byAbbrev) Less(i, j int) bool {
	return joinAbbrevs(b[i].Vars) < joinAbbrevs(b[j].Vars)
}

func joinAbbrevs(vars []*variable.V) string {
	s := ""
	for _, a := range SortedAbbrevs(vars) {
		s += a
	}

	return s
}

// SortCanonical orders relations by (decreasing size, then lexicographic
// abbreviation concatenation), the canonical model string order of spec §6.
func SortCanonical(rels []*Relation) {
	sort.SliceStable(rels, func(i, j int) bool {
		if len(rels[i].Vars) != len(rels[j].Vars) {
			return len(rels[i].Vars) > len(rels[j].Vars)
		}

		return joinAbbrevs(rels[i].Vars) < joinAbbrevs(rels[j].Vars)
	})
}
