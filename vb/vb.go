// Package vb implements the VB manager (C5): fitting a model's expected
// distribution against the observed table and computing its statistics.
// Loopless models are fit exactly by belief propagation over a junction
// tree (spec §4.4, BP path); loopy models are fit by iterative proportional
// fitting (spec §4.4, IPF path). A VB manager instance is single-use: build
// one per (observed table, model) pair via Fit.
package vb

import (
	"context"
	"fmt"
	"math"

	"github.com/gammazero/deque"
	"go.opentelemetry.io/otel/trace"

	"github.com/occam-ra/occam/model"
	"github.com/occam-ra/occam/occamerr"
	"github.com/occam-ra/occam/relation"
	"github.com/occam-ra/occam/table"
	"github.com/occam-ra/occam/variable"
)

// ipfInit selects the starting distribution for IPF (Open Question 1 of
// spec §9, decided and recorded in DESIGN.md).
type ipfInit int

const (
	ipfInitUniform ipfInit = iota
	ipfInitMarginals
)

// Options configures Fit.
type Options struct {
	maxIterations int
	tolerance     float64
	ipfInit       ipfInit
	tracer        trace.Tracer
}

func defaultOptions() Options {
	return Options{maxIterations: 500, tolerance: 1e-8, ipfInit: ipfInitUniform}
}

// Option mutates Options; see dijkstra.Option in the teacher pack for the
// same functional-options shape.
type Option func(*Options)

// WithMaxIterations overrides IPF's iteration cap (default 500).
func WithMaxIterations(n int) Option { return func(o *Options) { o.maxIterations = n } }

// WithTolerance overrides IPF's convergence threshold on max|ΔP| (default 1e-8).
func WithTolerance(t float64) Option { return func(o *Options) { o.tolerance = t } }

// WithIPFInitUniform starts IPF from the uniform distribution (the default).
func WithIPFInitUniform() Option { return func(o *Options) { o.ipfInit = ipfInitUniform } }

// WithIPFInitMarginals starts IPF from the product of the model variables'
// independent observed marginals, usually reaching convergence in fewer
// iterations than the uniform start.
func WithIPFInitMarginals() Option { return func(o *Options) { o.ipfInit = ipfInitMarginals } }

// WithTracer attaches a tracer; Fit opens one span per call when set.
func WithTracer(t trace.Tracer) Option { return func(o *Options) { o.tracer = t } }

// Result holds a model's fitted distribution and derived statistics (spec §4.4).
type Result struct {
	P          *table.Table // fitted joint distribution over m.Vars()
	H          float64      // entropy of P, in bits
	LR         float64      // likelihood-ratio statistic against the observed table
	DF         int          // degrees of freedom (free parameters) of the model
	DDF        int          // DF(saturated) - DF(model)
	AIC        float64
	BIC        float64
	Loopless   bool
	Converged  bool // always true for the BP path; IPF sets this false on cap-out
	Iterations int  // 0 for the BP path (exact, non-iterative)
}

// Fit computes m's expected distribution and statistics against observed.
// saturatedDF is DF of the top-of-lattice model, used for DDF/AIC/BIC.
//
// When m is loopless, the fit is exact via belief propagation. When m is
// loopy, IPF runs to convergence or the iteration cap; on cap-out, Fit
// returns a non-nil Result (Converged=false) alongside an
// occamerr.FitNonConverged error, so a caller may still use the partial fit
// after observing the warning.
func Fit(ctx context.Context, observed *table.Table, cache *relation.Cache, m *model.Model, saturatedDF int, opts ...Option) (*Result, error) {
	cfg := defaultOptions()
	for _, o := range opts {
		o(&cfg)
	}

	if cfg.tracer != nil {
		var span trace.Span
		_, span = cfg.tracer.Start(ctx, "vb.Fit")
		defer span.End()
	}

	loopless := model.IsLoopless(m)

	var fitted *table.Table
	converged := true
	iterations := 0
	var err error
	if loopless {
		fitted, err = fitBP(cache, m)
	} else {
		fitted, converged, iterations, err = fitIPF(cache, m, cfg)
	}
	if err != nil {
		return nil, err
	}

	obsRel, err := cache.Get(m.Vars())
	if err != nil {
		return nil, err
	}
	obsProb, err := table.Normalize(obsRel.Table)
	if err != nil {
		return nil, err
	}

	hObs := entropy(obsProb.Dense())
	hModel := entropy(fitted.Dense())
	n := observed.Total()

	df := model.DegreesOfFreedom(m)
	ddf := model.DeltaDF(saturatedDF, df)
	lr := 2 * n * math.Ln2 * (hModel - hObs)

	res := &Result{
		P:          fitted,
		H:          hModel,
		LR:         lr,
		DF:         df,
		DDF:        ddf,
		AIC:        lr - 2*float64(ddf),
		BIC:        lr - float64(ddf)*math.Log(n),
		Loopless:   loopless,
		Converged:  converged,
		Iterations: iterations,
	}

	if !converged {
		return res, occamerr.New(occamerr.FitNonConverged,
			fmt.Sprintf("IPF did not converge within %d iterations (max|delta P| tolerance %g)", cfg.maxIterations, cfg.tolerance))
	}

	return res, nil
}

// entropy computes Shannon entropy in bits over a dense probability slice,
// skipping cells at or below the near-zero guard of spec §9.
func entropy(dense []float64) float64 {
	h := 0.0
	for _, p := range dense {
		if p <= 1e-15 {
			continue
		}
		h -= p * math.Log2(p)
	}

	return h
}

// gather extracts the values at pos from full, used to project a full
// tuple over a model's variables down to one relation's sub-tuple.
func gather(full, pos []int) []int {
	out := make([]int, len(pos))
	for i, p := range pos {
		out[i] = full[p]
	}

	return out
}

// treeEdge is one junction-tree edge, carrying only the separator variables;
// the product-over-cliques-divided-by-product-over-separators formula below
// needs nothing else.
type treeEdge struct {
	sep []*variable.V
}

// fitBP computes m's exact fit via the decomposable-model factorization
// P_M(x) = [Π_{R∈M} P(x_R)] / [Π_{separators S} P(x_S)], where separators
// come from a junction tree over m's relations (spec §4.4, BP path). Because
// every clique potential is itself a genuine marginal of the same observed
// distribution, adjacent cliques already agree on their separator marginal
// by construction: no iterative collect/distribute message passing is
// needed, only the one product/division pass.
func fitBP(cache *relation.Cache, m *model.Model) (*table.Table, error) {
	cliques := m.Relations
	mVars := m.Vars()

	probTables := make([]*table.Table, len(cliques))
	for i, cl := range cliques {
		pt, err := table.Normalize(cl.Table)
		if err != nil {
			return nil, err
		}
		probTables[i] = pt
	}

	parent, sepVarsAt := buildJunctionTree(cliques)
	edges := collectEdges(parent, sepVarsAt)

	sepProbTables := make([]*table.Table, len(edges))
	for i, e := range edges {
		r, err := cache.Get(e.sep)
		if err != nil {
			return nil, err
		}
		pt, err := table.Normalize(r.Table)
		if err != nil {
			return nil, err
		}
		sepProbTables[i] = pt
	}

	posOf := make(map[int]int, len(mVars))
	for i, v := range mVars {
		posOf[v.Index] = i
	}
	cliquePos := make([][]int, len(cliques))
	for i, cl := range cliques {
		pos := make([]int, len(cl.Vars))
		for j, v := range cl.Vars {
			pos[j] = posOf[v.Index]
		}
		cliquePos[i] = pos
	}
	sepPos := make([][]int, len(edges))
	for i, e := range edges {
		pos := make([]int, len(e.sep))
		for j, v := range e.sep {
			pos[j] = posOf[v.Index]
		}
		sepPos[i] = pos
	}

	size := table.Size(mVars)
	dense := make([]float64, size)
	for key := uint64(0); key < size; key++ {
		full := table.DecodeKey(mVars, key)

		product := 1.0
		for i, cl := range cliques {
			vals := gather(full, cliquePos[i])
			product *= probTables[i].Get(table.EncodeKey(cl.Vars, vals))
		}
		for i, e := range edges {
			if len(e.sep) == 0 {
				continue // empty separator: divide by the trivial P(∅) = 1
			}
			vals := gather(full, sepPos[i])
			denom := sepProbTables[i].Get(table.EncodeKey(e.sep, vals))
			if denom < 1e-15 {
				product = 0
				break
			}
			product /= denom
		}
		dense[key] = product
	}

	return table.FromDense(mVars, dense), nil
}

// buildJunctionTree derives a maximum-weight spanning tree over cliques,
// edge weight being separator size (|vars(Ci) ∩ vars(Cj)|); for a chordal
// primal graph this is a valid junction tree (running intersection holds).
// parent[0] == -1 marks the root; sepVarsAt[j] is the separator on the edge
// (parent[j], j).
func buildJunctionTree(cliques []*relation.Relation) ([]int, [][]*variable.V) {
	n := len(cliques)
	parent := make([]int, n)
	sepVarsAt := make([][]*variable.V, n)
	if n == 0 {
		return parent, sepVarsAt
	}
	parent[0] = -1

	inTree := make([]bool, n)
	inTree[0] = true
	bestWeight := make([]int, n)
	bestFrom := make([]int, n)
	bestSep := make([][]*variable.V, n)
	for j := 1; j < n; j++ {
		bestSep[j] = intersectVars(cliques[0].Vars, cliques[j].Vars)
		bestWeight[j] = len(bestSep[j])
		bestFrom[j] = 0
	}

	for step := 1; step < n; step++ {
		next, nextWeight := -1, -1
		for j := 0; j < n; j++ {
			if !inTree[j] && bestWeight[j] > nextWeight {
				next, nextWeight = j, bestWeight[j]
			}
		}
		inTree[next] = true
		parent[next] = bestFrom[next]
		sepVarsAt[next] = bestSep[next]

		for j := 0; j < n; j++ {
			if inTree[j] {
				continue
			}
			inter := intersectVars(cliques[next].Vars, cliques[j].Vars)
			if len(inter) > bestWeight[j] {
				bestWeight[j] = len(inter)
				bestFrom[j] = next
				bestSep[j] = inter
			}
		}
	}

	return parent, sepVarsAt
}

// collectEdges walks the tree breadth-first from the root via a deque,
// flattening the parent array into an edge list for fitBP's product pass.
func collectEdges(parent []int, sepVarsAt [][]*variable.V) []treeEdge {
	n := len(parent)
	if n == 0 {
		return nil
	}

	children := make([][]int, n)
	root := 0
	for j := 0; j < n; j++ {
		if parent[j] == -1 {
			root = j
			continue
		}
		children[parent[j]] = append(children[parent[j]], j)
	}

	var edges []treeEdge
	q := deque.New[int]()
	q.PushBack(root)
	for q.Len() > 0 {
		p := q.PopFront()
		for _, c := range children[p] {
			edges = append(edges, treeEdge{sep: sepVarsAt[c]})
			q.PushBack(c)
		}
	}

	return edges
}

func intersectVars(a, b []*variable.V) []*variable.V {
	bSet := make(map[int]bool, len(b))
	for _, v := range b {
		bSet[v.Index] = true
	}
	out := make([]*variable.V, 0, len(a))
	for _, v := range a {
		if bSet[v.Index] {
			out = append(out, v)
		}
	}

	return out
}

// relFit is one relation's IPF working state: its variables' positions
// within the model's full variable ordering, and its target (observed)
// marginal probability table.
type relFit struct {
	vars []*variable.V
	pos  []int
	obs  *table.Table
}

// fitIPF runs iterative proportional fitting: each full sweep rescales the
// working distribution, relation by relation in model order, so its
// marginal over that relation's variables matches the observed marginal
// exactly; Gauss-Seidel style, each relation sees the previous relation's
// update within the same sweep (spec §4.4, IPF path).
func fitIPF(cache *relation.Cache, m *model.Model, cfg Options) (*table.Table, bool, int, error) {
	mVars := m.Vars()
	size := table.Size(mVars)

	fullTuples := make([][]int, size)
	for key := uint64(0); key < size; key++ {
		fullTuples[key] = table.DecodeKey(mVars, key)
	}

	posOf := make(map[int]int, len(mVars))
	for i, v := range mVars {
		posOf[v.Index] = i
	}

	rels := make([]relFit, len(m.Relations))
	for i, r := range m.Relations {
		obsProb, err := table.Normalize(r.Table)
		if err != nil {
			return nil, false, 0, err
		}
		pos := make([]int, len(r.Vars))
		for j, v := range r.Vars {
			pos[j] = posOf[v.Index]
		}
		rels[i] = relFit{vars: r.Vars, pos: pos, obs: obsProb}
	}

	dense := make([]float64, size)
	switch cfg.ipfInit {
	case ipfInitMarginals:
		for key, full := range fullTuples {
			p := 1.0
			for i, v := range mVars {
				r, err := cache.Get([]*variable.V{v})
				if err != nil {
					return nil, false, 0, err
				}
				pt, err := table.Normalize(r.Table)
				if err != nil {
					return nil, false, 0, err
				}
				p *= pt.Get(table.EncodeKey([]*variable.V{v}, []int{full[i]}))
			}
			dense[key] = p
		}
	default:
		u := 1.0 / float64(size)
		for i := range dense {
			dense[i] = u
		}
	}

	converged := false
	iterations := 0
	for i := 0; i < cfg.maxIterations; i++ {
		iterations = i + 1
		maxDelta := 0.0

		for _, rf := range rels {
			curMarg := marginalizeDense(dense, fullTuples, rf.pos, rf.vars)
			for key, full := range fullTuples {
				vals := gather(full, rf.pos)
				subKey := table.EncodeKey(rf.vars, vals)

				var factor float64
				if curMarg[subKey] >= 1e-15 {
					factor = rf.obs.Get(subKey) / curMarg[subKey]
				}

				newVal := dense[key] * factor
				if delta := math.Abs(newVal - dense[key]); delta > maxDelta {
					maxDelta = delta
				}
				dense[key] = newVal
			}
		}

		if maxDelta < cfg.tolerance {
			converged = true
			break
		}
	}

	return table.FromDense(mVars, dense), converged, iterations, nil
}

// marginalizeDense sums dense (indexed by full-tuple position) down onto
// relVars, using pos to project each full tuple to its sub-tuple.
func marginalizeDense(dense []float64, fullTuples [][]int, pos []int, relVars []*variable.V) []float64 {
	out := make([]float64, table.Size(relVars))
	for key, full := range fullTuples {
		vals := gather(full, pos)
		out[table.EncodeKey(relVars, vals)] += dense[key]
	}

	return out
}
