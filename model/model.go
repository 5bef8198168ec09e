// Package model implements Model (C4): a canonicalized set of relations,
// loop detection via maximum-cardinality search, degrees of freedom via
// Möbius inversion over the lattice of relation intersections, and the
// canonical model string grammar of spec §6.
package model

import (
	"strings"

	"github.com/occam-ra/occam/occamerr"
	"github.com/occam-ra/occam/relation"
	"github.com/occam-ra/occam/variable"
)

// Model is an unordered set of relations, canonicalized by sorting on
// (decreasing size, then lexicographic abbreviation concatenation) — the
// same order used for the canonical model string (spec §6).
type Model struct {
	Relations []*relation.Relation
}

// Build constructs a Model from variable-set specifications, resolving each
// through cache (so relation projections are shared and memoized), then
// applying the subset-domination pruning of spec §4.3: add_relation is
// idempotent; a new relation subsumed by an existing one is dropped, and
// existing relations subsumed by a new one are removed.
func Build(cache *relation.Cache, varSets [][]*variable.V) (*Model, error) {
	m := &Model{}
	for _, vars := range varSets {
		if err := m.addRelation(cache, vars); err != nil {
			return nil, err
		}
	}
	relation.SortCanonical(m.Relations)

	return m, nil
}

func (m *Model) addRelation(cache *relation.Cache, vars []*variable.V) error {
	for _, existing := range m.Relations {
		if relation.Subset(vars, existing.Vars) {
			return nil // new relation subsumed by an existing one: drop it
		}
	}

	kept := m.Relations[:0:0]
	for _, existing := range m.Relations {
		if !relation.Subset(existing.Vars, vars) {
			kept = append(kept, existing)
		}
	}
	m.Relations = kept

	r, err := cache.Get(vars)
	if err != nil {
		return err
	}
	m.Relations = append(m.Relations, r)

	return nil
}

// Vars returns the union of variables across all relations, in Index order.
func (m *Model) Vars() []*variable.V {
	seen := make(map[int]*variable.V)
	for _, r := range m.Relations {
		for _, v := range r.Vars {
			seen[v.Index] = v
		}
	}
	out := make([]*variable.V, 0, len(seen))
	for _, v := range seen {
		out = append(out, v)
	}
	variable.SortByIndex(out)

	return out
}

// CanonicalName renders the canonical model string of spec §6: relations
// joined by ':', each relation its variables' abbreviations in Index order
// (concatenated when all are single characters, otherwise joined by '.'),
// relations ordered by (decreasing size, then lexicographic on abbreviation
// concatenation).
func CanonicalName(m *Model) string {
	rels := make([]*relation.Relation, len(m.Relations))
	copy(rels, m.Relations)
	relation.SortCanonical(rels)

	parts := make([]string, len(rels))
	for i, r := range rels {
		abbrevs := relation.SortedAbbrevs(r.Vars)
		if maxAbbrevLen(abbrevs) > 1 {
			parts[i] = strings.Join(abbrevs, ".")
		} else {
			parts[i] = strings.Join(abbrevs, "")
		}
	}

	return strings.Join(parts, ":")
}

func maxAbbrevLen(abbrevs []string) int {
	max := 0
	for _, a := range abbrevs {
		if len(a) > max {
			max = len(a)
		}
	}

	return max
}

// Parse parses a textual model expression ("ABC:BD" or
// "Alpha.Beta:Beta.Gamma") into a Model, resolving abbreviations against
// reg. Returns ParseModel on malformed expressions or unknown
// abbreviations.
func Parse(reg *variable.Registry, cache *relation.Cache, expr string) (*Model, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, occamerr.New(occamerr.ParseModel, "empty model expression")
	}

	relExprs := strings.Split(expr, ":")
	varSets := make([][]*variable.V, 0, len(relExprs))
	for _, relExpr := range relExprs {
		relExpr = strings.TrimSpace(relExpr)
		if relExpr == "" {
			return nil, occamerr.New(occamerr.ParseModel, "empty relation in expression: "+expr)
		}

		var abbrevs []string
		if strings.Contains(relExpr, ".") {
			abbrevs = strings.Split(relExpr, ".")
		} else if _, ok := reg.ByAbbrev(relExpr); ok {
			abbrevs = []string{relExpr} // one variable, possibly a multi-character abbreviation
		} else {
			abbrevs = splitSingleChars(relExpr)
		}

		vars := make([]*variable.V, 0, len(abbrevs))
		for _, a := range abbrevs {
			if a == "" {
				return nil, occamerr.New(occamerr.ParseModel, "empty variable token in relation: "+relExpr)
			}
			v, ok := reg.ByAbbrev(a)
			if !ok {
				return nil, occamerr.New(occamerr.ParseModel, "unknown variable abbreviation: "+a)
			}
			vars = append(vars, v)
		}
		varSets = append(varSets, vars)
	}

	return Build(cache, varSets)
}

func splitSingleChars(s string) []string {
	out := make([]string, len(s))
	for i, r := range s {
		out[i] = string(r)
	}

	return out
}

// Saturated builds the top-of-lattice model {V}: one relation over every
// declared variable.
func Saturated(reg *variable.Registry, cache *relation.Cache) (*Model, error) {
	return Build(cache, [][]*variable.V{reg.All()})
}

// Independence builds the bottom-of-lattice model {{v} : v ∈ V}: one
// singleton relation per declared variable.
func Independence(reg *variable.Registry, cache *relation.Cache) (*Model, error) {
	all := reg.All()
	varSets := make([][]*variable.V, len(all))
	for i, v := range all {
		varSets[i] = []*variable.V{v}
	}

	return Build(cache, varSets)
}

// IsLoopless reports whether m admits a junction tree: its
// variable-intersection ("primal") graph is chordal, verified by maximum
// cardinality search followed by a perfect-elimination-order fill-in check
// (Tarjan–Yannakakis), *and* the model is conformal to that graph — every
// maximal clique of the primal graph is covered by some relation. Chordality
// alone is necessary but not sufficient: {AB,BC,CA} has a chordal (complete
// triangle) primal graph but no relation covers the maximal clique {A,B,C},
// so it is loopy despite having no missing fill-in edge. A loopless model's
// exact fit is computable by belief propagation (vb.FitBP); a loopy one
// requires IPF (vb.FitIPF).
func IsLoopless(m *Model) bool {
	vars := m.Vars()
	n := len(vars)
	if n <= 2 {
		return true
	}

	idx := make(map[int]int, n) // variable.Index -> local position
	for i, v := range vars {
		idx[v.Index] = i
	}

	adj := make([][]bool, n)
	for i := range adj {
		adj[i] = make([]bool, n)
	}
	for _, r := range m.Relations {
		for i := 0; i < len(r.Vars); i++ {
			for j := i + 1; j < len(r.Vars); j++ {
				a, b := idx[r.Vars[i].Index], idx[r.Vars[j].Index]
				adj[a][b] = true
				adj[b][a] = true
			}
		}
	}

	order := maximumCardinalitySearch(adj, n)

	// rank[v] = position of v in order (0 = visited first by MCS).
	rank := make([]int, n)
	for pos, v := range order {
		rank[v] = pos
	}

	// Perfect elimination check: process vertices in reverse MCS order
	// (last visited first); each vertex's neighbors that were visited
	// *before* it (smaller rank) must form a clique. The same pass
	// collects each vertex's candidate clique {v} ∪ earlier; once the
	// graph is confirmed chordal, the candidates not properly contained in
	// another candidate are exactly its maximal cliques (Golumbic).
	candidates := make([][]int, n)
	for pos := n - 1; pos >= 0; pos-- {
		v := order[pos]
		var earlier []int
		for u := 0; u < n; u++ {
			if adj[v][u] && rank[u] < rank[v] {
				earlier = append(earlier, u)
			}
		}
		for i := 0; i < len(earlier); i++ {
			for j := i + 1; j < len(earlier); j++ {
				if !adj[earlier[i]][earlier[j]] {
					return false // missing fill-in edge: not chordal
				}
			}
		}
		candidates[v] = append(append([]int{}, earlier...), v)
	}

	// Conformality: every maximal clique of the primal graph must be
	// covered by some relation's variable set, or the relations under-
	// specify the junction tree's cliques (e.g. a pairwise-only cover of a
	// triangle) and BP's clique-product/separator-division formula is not
	// the correct fit.
	relSets := make([]map[int]bool, len(m.Relations))
	for i, r := range m.Relations {
		s := make(map[int]bool, len(r.Vars))
		for _, v := range r.Vars {
			s[idx[v.Index]] = true
		}
		relSets[i] = s
	}

	for v, clique := range candidates {
		if isProperSubsetOfAny(v, clique, candidates) {
			continue // not a maximal clique
		}
		if !coveredByAnyRelation(clique, relSets) {
			return false
		}
	}

	return true
}

// isProperSubsetOfAny reports whether candidates[v] is a proper subset of
// some other candidate clique (so not itself maximal).
func isProperSubsetOfAny(v int, clique []int, all [][]int) bool {
	for u, other := range all {
		if u == v || len(other) <= len(clique) {
			continue
		}
		if isVertexSubset(clique, other) {
			return true
		}
	}

	return false
}

func isVertexSubset(small, big []int) bool {
	set := make(map[int]bool, len(big))
	for _, x := range big {
		set[x] = true
	}
	for _, x := range small {
		if !set[x] {
			return false
		}
	}

	return true
}

// coveredByAnyRelation reports whether clique (local variable positions) is
// a subset of some relation's variable set.
func coveredByAnyRelation(clique []int, relSets []map[int]bool) bool {
	for _, s := range relSets {
		covered := true
		for _, v := range clique {
			if !s[v] {
				covered = false
				break
			}
		}
		if covered {
			return true
		}
	}

	return false
}

// maximumCardinalitySearch returns a visiting order over n vertices: at
// each step, the unvisited vertex adjacent to the most already-visited
// vertices is chosen next (ties broken by lowest index for determinism).
func maximumCardinalitySearch(adj [][]bool, n int) []int {
	visited := make([]bool, n)
	weight := make([]int, n)
	order := make([]int, 0, n)

	for step := 0; step < n; step++ {
		best, bestWeight := -1, -1
		for v := 0; v < n; v++ {
			if !visited[v] && weight[v] > bestWeight {
				best, bestWeight = v, weight[v]
			}
		}
		visited[best] = true
		order = append(order, best)
		for u := 0; u < n; u++ {
			if adj[best][u] && !visited[u] {
				weight[u]++
			}
		}
	}

	return order
}

// DegreesOfFreedom computes the number of free parameters of m (spec §4.3),
// via Möbius/inclusion-exclusion over the lattice of relation
// intersections: for every nonempty subset T of m's relations, the
// intersection of their variable sets contributes ±(Π cardinality − 1),
// sign alternating with |T|. The saturated model (one relation) reduces to
// Π k_v − 1; the independence model (disjoint singletons) reduces to
// Σ (k_v − 1), since every multi-relation subset has empty intersection.
func DegreesOfFreedom(m *Model) int {
	rels := m.Relations
	n := len(rels)
	if n == 0 {
		return 0
	}

	total := 0
	for mask := 1; mask < (1 << n); mask++ {
		var inter map[int]*variable.V
		bits := 0
		for i := 0; i < n; i++ {
			if mask&(1<<i) == 0 {
				continue
			}
			bits++
			if inter == nil {
				inter = make(map[int]*variable.V, len(rels[i].Vars))
				for _, v := range rels[i].Vars {
					inter[v.Index] = v
				}
				continue
			}
			for k := range inter {
				found := false
				for _, v := range rels[i].Vars {
					if v.Index == k {
						found = true
						break
					}
				}
				if !found {
					delete(inter, k)
				}
			}
		}

		product := 1
		for _, v := range inter {
			product *= v.Cardinality
		}
		term := product - 1
		if bits%2 == 1 {
			total += term
		} else {
			total -= term
		}
	}

	return total
}

// DeltaDF returns DF(saturated) − DF(m), the degrees-of-freedom delta
// against the saturated model used by AIC/BIC (spec §4.4).
func DeltaDF(saturatedDF, m int) int { return saturatedDF - m }

// Equal reports whether two models contain exactly the same canonical
// relation set (testable property 6, parse(canonical_name(M)) = M).
func Equal(a, b *Model) bool {
	if len(a.Relations) != len(b.Relations) {
		return false
	}
	ra := make([]*relation.Relation, len(a.Relations))
	rb := make([]*relation.Relation, len(b.Relations))
	copy(ra, a.Relations)
	copy(rb, b.Relations)
	relation.SortCanonical(ra)
	relation.SortCanonical(rb)
	for i := range ra {
		if !relation.Equal(ra[i].Vars, rb[i].Vars) {
			return false
		}
	}

	return true
}
