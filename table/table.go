// Package table implements the contingency table (C2): dense/sparse joint
// counts keyed by the mixed-radix tuple encoding of spec §3, plus
// marginalization and normalization.
//
// A Table stores only present cells (count != 0), ordered by strictly
// increasing key, mirroring the flat-storage discipline of
// matrix.Dense (katalvlaran/lvlath) but as a sparse (key, count) sequence
// rather than a fully materialized row-major slice — most relation
// marginals over a handful of variables are small, and the observed table
// itself is frequently sparse relative to its product space.
package table

import (
	"sort"

	"github.com/occam-ra/occam/occamerr"
	"github.com/occam-ra/occam/variable"
)

// Cell is one (key, count) entry. Key order is ascending and unique within
// a Table.
type Cell struct {
	Key   uint64
	Count float64
}

// Table is a joint (or marginal) frequency/probability table over Vars,
// Vars always held in ascending lattice-position (Index) order.
type Table struct {
	Vars  []*variable.V
	cells []Cell
	total float64
}

// Size returns the number of cells in the full product space of vars
// (Π cardinality), i.e. the mixed-radix modulus, regardless of how many
// cells are actually present.
func Size(vars []*variable.V) uint64 {
	size := uint64(1)
	for _, v := range vars {
		size *= uint64(v.Cardinality)
	}

	return size
}

// EncodeKey computes the mixed-radix key for values aligned positionally
// with vars (vars must already be sorted by Index; values[i] must be in
// [0, vars[i].Cardinality)).
func EncodeKey(vars []*variable.V, values []int) uint64 {
	var key uint64
	var radix uint64 = 1
	for i, v := range vars {
		key += uint64(values[i]) * radix
		radix *= uint64(v.Cardinality)
	}

	return key
}

// DecodeKey is the inverse of EncodeKey: it recovers the per-variable value
// tuple (aligned with vars) from a mixed-radix key.
func DecodeKey(vars []*variable.V, key uint64) []int {
	values := make([]int, len(vars))
	for i, v := range vars {
		values[i] = int(key % uint64(v.Cardinality))
		key /= uint64(v.Cardinality)
	}

	return values
}

// New returns an empty Table over vars (sorted by Index).
func New(vars []*variable.V) *Table {
	sorted := make([]*variable.V, len(vars))
	copy(sorted, vars)
	variable.SortByIndex(sorted)

	return &Table{Vars: sorted}
}

// FromCells builds a Table directly from cells already in ascending,
// deduplicated key order; used by marginalize/normalize internally.
func FromCells(vars []*variable.V, cells []Cell) *Table {
	t := New(vars)
	t.cells = cells
	for _, c := range cells {
		t.total += c.Count
	}

	return t
}

// FromObservations builds the observed Table from per-variable value tuples
// and their counts. tuples[i] must have one entry per vars (in vars' given
// order, not necessarily sorted); it is reordered internally to Index order.
// Duplicate tuples are summed. Returns InvalidData if arity mismatches, a
// value is outside its variable's cardinality, or any count is negative.
func FromObservations(vars []*variable.V, tuples [][]int, counts []float64) (*Table, error) {
	if len(tuples) != len(counts) {
		return nil, occamerr.New(occamerr.InvalidData, "tuple and count slice length mismatch")
	}

	sorted := make([]*variable.V, len(vars))
	copy(sorted, vars)
	variable.SortByIndex(sorted)

	// perm[i] = position of sorted[i] within the caller's original vars order.
	perm := make([]int, len(sorted))
	for i, sv := range sorted {
		found := -1
		for j, v := range vars {
			if v == sv {
				found = j
				break
			}
		}
		if found < 0 {
			return nil, occamerr.New(occamerr.InvalidData, "variable not present in tuple schema: "+sv.Abbrev)
		}
		perm[i] = found
	}

	acc := make(map[uint64]float64, len(tuples))
	values := make([]int, len(sorted))
	for ti, tup := range tuples {
		if len(tup) != len(vars) {
			return nil, occamerr.New(occamerr.InvalidData, "tuple arity does not match variable count")
		}
		if counts[ti] < 0 {
			return nil, occamerr.New(occamerr.InvalidData, "negative count in observation")
		}
		for i := range sorted {
			val := tup[perm[i]]
			if val < 0 || val >= sorted[i].Cardinality {
				return nil, occamerr.New(occamerr.InvalidData, "observed value out of declared cardinality for "+sorted[i].Abbrev)
			}
			values[i] = val
		}
		key := EncodeKey(sorted, values)
		acc[key] += counts[ti]
	}

	cells := make([]Cell, 0, len(acc))
	for k, c := range acc {
		if c == 0 {
			continue
		}
		cells = append(cells, Cell{Key: k, Count: c})
	}
	sort.Slice(cells, func(i, j int) bool { return cells[i].Key < cells[j].Key })

	return FromCells(sorted, cells), nil
}

// Cells returns the table's cells in ascending key order. The slice is
// owned by Table and must not be mutated by the caller.
func (t *Table) Cells() []Cell { return t.cells }

// Total returns Σ count over all present cells (N for an observed table,
// 1±ε for a normalized probability table).
func (t *Table) Total() float64 { return t.total }

// Get returns the count at key, or 0 if the cell is absent.
func (t *Table) Get(key uint64) float64 {
	i := sort.Search(len(t.cells), func(i int) bool { return t.cells[i].Key >= key })
	if i < len(t.cells) && t.cells[i].Key == key {
		return t.cells[i].Count
	}

	return 0
}

// indexOfVar returns the position of a variable within t.Vars, or -1.
func (t *Table) indexOfVar(idx int) int {
	for i, v := range t.Vars {
		if v.Index == idx {
			return i
		}
	}

	return -1
}

// Marginalize sums counts over cells agreeing on to (a subset of t.Vars),
// producing a new Table over to. Complexity O(|t.cells|), per spec §4.2.
func Marginalize(t *Table, to []*variable.V) (*Table, error) {
	sortedTo := make([]*variable.V, len(to))
	copy(sortedTo, to)
	variable.SortByIndex(sortedTo)

	positions := make([]int, len(sortedTo))
	for i, v := range sortedTo {
		p := t.indexOfVar(v.Index)
		if p < 0 {
			return nil, occamerr.New(occamerr.Internal, "marginalize: target variable not in source table: "+v.Abbrev)
		}
		positions[i] = p
	}

	acc := make(map[uint64]float64, len(t.cells))
	newValues := make([]int, len(sortedTo))
	for _, cell := range t.cells {
		full := DecodeKey(t.Vars, cell.Key)
		for i, p := range positions {
			newValues[i] = full[p]
		}
		key := EncodeKey(sortedTo, newValues)
		acc[key] += cell.Count
	}

	cells := make([]Cell, 0, len(acc))
	for k, c := range acc {
		if c == 0 {
			continue
		}
		cells = append(cells, Cell{Key: k, Count: c})
	}
	sort.Slice(cells, func(i, j int) bool { return cells[i].Key < cells[j].Key })

	return FromCells(sortedTo, cells), nil
}

// Normalize divides every cell by the table's total, producing a
// probability table over the same variables and key ordering. Returns
// Internal if the table is empty (total == 0).
func Normalize(t *Table) (*Table, error) {
	if t.total == 0 {
		return nil, occamerr.New(occamerr.Internal, "normalize: table has zero total mass")
	}

	cells := make([]Cell, len(t.cells))
	for i, c := range t.cells {
		cells[i] = Cell{Key: c.Key, Count: c.Count / t.total}
	}

	return FromCells(t.Vars, cells), nil
}

// Dense materializes a full product-space slice of length Size(t.Vars),
// with absent cells as 0. Intended for BP/IPF working buffers where the
// joint is expected to be largely populated.
func (t *Table) Dense() []float64 {
	out := make([]float64, Size(t.Vars))
	for _, c := range t.cells {
		out[c.Key] = c.Count
	}

	return out
}

// FromDense rebuilds a sparse Table from a full product-space slice
// produced by BP/IPF, dropping cells at or below the near-zero threshold
// from spec §9 ("divisors below 1e-15 yield 0 contribution").
func FromDense(vars []*variable.V, dense []float64) *Table {
	sorted := make([]*variable.V, len(vars))
	copy(sorted, vars)
	variable.SortByIndex(sorted)

	cells := make([]Cell, 0, len(dense))
	for key, v := range dense {
		if v > 1e-15 || v < -1e-15 {
			cells = append(cells, Cell{Key: uint64(key), Count: v})
		}
	}

	return FromCells(sorted, cells)
}
