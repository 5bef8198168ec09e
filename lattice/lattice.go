// Package lattice implements the lattice generator (C6): enumerating the
// parents (refinements) and children (coarsenings) of a model, applying a
// filter policy, and deduplicating neighbors by canonical hash.
package lattice

import (
	"github.com/cespare/xxhash/v2"
	mapset "github.com/deckarep/golang-set/v2"

	"github.com/occam-ra/occam/model"
	"github.com/occam-ra/occam/occamerr"
	"github.com/occam-ra/occam/relation"
	"github.com/occam-ra/occam/variable"
)

// Direction selects whether Neighbors refines (Up) or coarsens (Down) the
// seed model, per spec §4.6.
type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
)

// Filter selects which neighbors Neighbors keeps, per spec §4.5.
type Filter string

const (
	FilterFull     Filter = "full"
	FilterLoopless Filter = "loopless"
	FilterDisjoint Filter = "disjoint"
)

// CanonicalHash derives a 64-bit identity for m from its canonically
// ordered relation bitsets, used both for neighbor dedup within this package
// and as the search driver's visited-set key (spec §3, "bitset-keyed").
func CanonicalHash(m *Model) uint64 {
	rels := make([]*relation.Relation, len(m.Relations))
	copy(rels, m.Relations)
	relation.SortCanonical(rels)

	h := xxhash.New()
	for _, r := range rels {
		words := r.Mask().Bytes()
		buf := make([]byte, len(words)*8)
		for i, w := range words {
			for j := 0; j < 8; j++ {
				buf[i*8+j] = byte(w >> (8 * j))
			}
		}
		_, _ = h.Write(buf)
		_, _ = h.Write([]byte{0xff}) // relation separator
	}

	return h.Sum64()
}

// Model is a local alias that keeps call sites short; lattice operates
// purely on *model.Model.
type Model = model.Model

// Children enumerates the downward (coarsening) neighbors of m: for each
// relation R of size >= 2, one candidate replaces R with the family of its
// (|R|-1)-subsets {R∖{v} : v∈R}, then re-canonicalizes (spec §4.5).
func Children(cache *relation.Cache, m *Model) ([]*Model, error) {
	var out []*Model
	for ri, r := range m.Relations {
		if len(r.Vars) < 2 {
			continue
		}

		varSets := make([][]*variable.V, 0, len(m.Relations)-1+len(r.Vars))
		for rj, other := range m.Relations {
			if rj != ri {
				varSets = append(varSets, other.Vars)
			}
		}
		for _, v := range r.Vars {
			varSets = append(varSets, without(r.Vars, v))
		}

		child, err := model.Build(cache, varSets)
		if err != nil {
			return nil, err
		}
		out = append(out, child)
	}

	return dedup(out), nil
}

// Parents enumerates the upward (refining) neighbors of m: for each pair of
// relations, one candidate merges them into their union; for each relation
// and each variable not already in it, one candidate adds that variable
// (spec §4.5).
func Parents(reg *variable.Registry, cache *relation.Cache, m *Model) ([]*Model, error) {
	var out []*Model

	for i := 0; i < len(m.Relations); i++ {
		for j := i + 1; j < len(m.Relations); j++ {
			union := unionVars(m.Relations[i].Vars, m.Relations[j].Vars)
			varSets := make([][]*variable.V, 0, len(m.Relations)-1)
			for k, r := range m.Relations {
				if k != i && k != j {
					varSets = append(varSets, r.Vars)
				}
			}
			varSets = append(varSets, union)

			parent, err := model.Build(cache, varSets)
			if err != nil {
				return nil, err
			}
			out = append(out, parent)
		}
	}

	all := reg.All()
	for i, r := range m.Relations {
		present := make(map[int]bool, len(r.Vars))
		for _, v := range r.Vars {
			present[v.Index] = true
		}
		for _, v := range all {
			if present[v.Index] {
				continue
			}
			varSets := make([][]*variable.V, 0, len(m.Relations))
			for k, other := range m.Relations {
				if k != i {
					varSets = append(varSets, other.Vars)
				}
			}
			varSets = append(varSets, append(append([]*variable.V{}, r.Vars...), v))

			parent, err := model.Build(cache, varSets)
			if err != nil {
				return nil, err
			}
			out = append(out, parent)
		}
	}

	return dedup(out), nil
}

// Neighbors enumerates m's parents or children per dir, applies filter, and
// returns a deduplicated slice.
func Neighbors(reg *variable.Registry, cache *relation.Cache, m *Model, dir Direction, filter Filter) ([]*Model, error) {
	var candidates []*Model
	var err error
	switch dir {
	case Up:
		candidates, err = Parents(reg, cache, m)
	case Down:
		candidates, err = Children(cache, m)
	default:
		return nil, occamerr.New(occamerr.InvalidParams, "unknown direction: "+string(dir))
	}
	if err != nil {
		return nil, err
	}

	return Apply(filter, candidates)
}

// Apply filters candidates per the named policy (spec §4.5). disjoint
// accepts any model whose relations are pairwise disjoint in variables; it
// does not additionally require full variable coverage (⋃ vars(R) = V) —
// Open Question 2 of spec §9, decided and recorded in DESIGN.md.
func Apply(filter Filter, candidates []*Model) ([]*Model, error) {
	switch filter {
	case FilterFull, "":
		return candidates, nil
	case FilterLoopless:
		out := make([]*Model, 0, len(candidates))
		for _, c := range candidates {
			if model.IsLoopless(c) {
				out = append(out, c)
			}
		}
		return out, nil
	case FilterDisjoint:
		out := make([]*Model, 0, len(candidates))
		for _, c := range candidates {
			if isPairwiseDisjoint(c) {
				out = append(out, c)
			}
		}
		return out, nil
	default:
		return nil, occamerr.New(occamerr.InvalidParams, "unknown filter: "+string(filter))
	}
}

func isPairwiseDisjoint(m *Model) bool {
	seen := make(map[int]bool)
	for _, r := range m.Relations {
		for _, v := range r.Vars {
			if seen[v.Index] {
				return false
			}
			seen[v.Index] = true
		}
	}

	return true
}

// dedup removes models with equal CanonicalHash, keeping the first
// occurrence; a golang-set[uint64] tracks hashes already emitted.
func dedup(models []*Model) []*Model {
	seen := mapset.NewSet[uint64]()
	out := make([]*Model, 0, len(models))
	for _, m := range models {
		h := CanonicalHash(m)
		if seen.Contains(h) {
			continue
		}
		seen.Add(h)
		out = append(out, m)
	}

	return out
}

func without(vars []*variable.V, excl *variable.V) []*variable.V {
	out := make([]*variable.V, 0, len(vars)-1)
	for _, v := range vars {
		if v != excl {
			out = append(out, v)
		}
	}

	return out
}

func unionVars(a, b []*variable.V) []*variable.V {
	seen := make(map[int]*variable.V, len(a)+len(b))
	for _, v := range a {
		seen[v.Index] = v
	}
	for _, v := range b {
		seen[v.Index] = v
	}
	out := make([]*variable.V, 0, len(seen))
	for _, v := range seen {
		out = append(out, v)
	}
	variable.SortByIndex(out)

	return out
}
