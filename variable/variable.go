// Package variable implements the variable registry (C1): declaring
// variables, their cardinalities and lattice-position indices, and
// tuple/bitset encoding over subsets of the registry.
//
// Registry mutation is protected by a single sync.RWMutex, following the
// separate-locks-per-concern idiom of core.Graph (katalvlaran/lvlath): here
// there is only one concern (the name/abbrev/cardinality tables), so one
// lock suffices.
package variable

import (
	"sort"
	"sync"

	"github.com/bits-and-blooms/bitset"

	"github.com/occam-ra/occam/occamerr"
)

// V is a single declared variable. Cardinality and Index are immutable once
// returned by Registry.Declare; Index is the variable's position in the
// mixed-radix encoding order (spec §3, "lattice position index").
type V struct {
	Name        string
	Abbrev      string
	Cardinality int
	Index       int
}

// Registry owns all declared variables. The observed table and every
// derived Relation/Model reference variables by Index into this registry;
// a Registry is shared read-only with search workers once a request begins.
type Registry struct {
	mu       sync.RWMutex
	byAbbrev map[string]*V
	ordered  []*V
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{byAbbrev: make(map[string]*V)}
}

// Declare registers a new variable with the next available lattice index.
// Returns DuplicateAbbrev if abbrev is already taken, InvalidCardinality if
// cardinality < 2.
func (r *Registry) Declare(name, abbrev string, cardinality int) (*V, error) {
	if cardinality < 2 {
		return nil, occamerr.New(occamerr.InvalidCardinality,
			"cardinality must be >= 2: "+abbrev)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byAbbrev[abbrev]; exists {
		return nil, occamerr.New(occamerr.DuplicateAbbrev, "duplicate abbreviation: "+abbrev)
	}

	v := &V{
		Name:        name,
		Abbrev:      abbrev,
		Cardinality: cardinality,
		Index:       len(r.ordered),
	}
	r.byAbbrev[abbrev] = v
	r.ordered = append(r.ordered, v)

	return v, nil
}

// ByAbbrev looks up a variable by its abbreviation.
func (r *Registry) ByAbbrev(abbrev string) (*V, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	v, ok := r.byAbbrev[abbrev]
	return v, ok
}

// All returns every declared variable in lattice-position order. The
// returned slice is a defensive copy; callers may not mutate the registry
// through it.
func (r *Registry) All() []*V {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*V, len(r.ordered))
	copy(out, r.ordered)

	return out
}

// Len returns the number of declared variables.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.ordered)
}

// Mask encodes a subset of variables as a bitset over lattice-position
// indices, using github.com/bits-and-blooms/bitset so masks compose with
// Union/Intersection/Equal without a hand-rolled uint64 word array — the
// registry may hold more than 64 variables.
func Mask(vars []*V) *bitset.BitSet {
	if len(vars) == 0 {
		return bitset.New(0)
	}

	maxIdx := uint(0)
	for _, v := range vars {
		if uint(v.Index) > maxIdx {
			maxIdx = uint(v.Index)
		}
	}
	b := bitset.New(maxIdx + 1)
	for _, v := range vars {
		b.Set(uint(v.Index))
	}

	return b
}

// SortByIndex sorts vars in place by ascending lattice-position index, the
// canonical intra-relation order used by table-key encoding and canonical
// model naming (spec §3, §6).
func SortByIndex(vars []*V) {
	sort.Slice(vars, func(i, j int) bool { return vars[i].Index < vars[j].Index })
}
