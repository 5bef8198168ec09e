// Package search implements the beam search driver (C7): level-synchronous
// expansion of the lattice, parallel evaluation of each level's candidates
// through a work pool, and progress events matching spec §6's contract.
package search

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"

	"github.com/occam-ra/occam/lattice"
	"github.com/occam-ra/occam/metrics"
	"github.com/occam-ra/occam/model"
	"github.com/occam-ra/occam/occamerr"
	"github.com/occam-ra/occam/relation"
	"github.com/occam-ra/occam/table"
	"github.com/occam-ra/occam/tracing"
	"github.com/occam-ra/occam/variable"
	"github.com/occam-ra/occam/vb"
	"github.com/occam-ra/occam/workpool"
)

// SortStatistic selects the beam-ranking criterion (spec §4.6). AIC and BIC
// rank lower-is-better; DDF ranks higher-is-better.
type SortStatistic string

const (
	SortAIC SortStatistic = "AIC"
	SortBIC SortStatistic = "BIC"
	SortDDF SortStatistic = "DDF"
)

// batchThreshold is the candidate count below which a level is evaluated
// sequentially on the calling goroutine rather than dispatched through the
// pool: thread hand-off cost dominates a 0.1-3ms BP evaluation for small
// batches. It is a fixed count; it does not scale with the pool's worker
// count.
const batchThreshold = 8

// Request is a search request (spec §6).
type Request struct {
	SeedExpr  string
	Direction lattice.Direction
	Filter    lattice.Filter
	Width     int
	Levels    int
	SortBy    SortStatistic
}

func (r Request) validate() error {
	if r.Width < 1 {
		return occamerr.New(occamerr.InvalidParams, "width must be >= 1")
	}
	if r.Levels < 1 {
		return occamerr.New(occamerr.InvalidParams, "levels must be >= 1")
	}
	switch r.SortBy {
	case SortAIC, SortBIC, SortDDF:
	default:
		return occamerr.New(occamerr.InvalidParams, "unknown sort statistic: "+string(r.SortBy))
	}

	return nil
}

// ModelResult is one evaluated model's statistics, the shape of spec §6's
// result-set entries.
type ModelResult struct {
	Name     string
	H        float64
	LR       float64
	AIC      float64
	BIC      float64
	DF       int
	DDF      int
	HasLoops bool
	NaN      bool // Internal-flagged: filtered from beam selection, retained here (spec §9, Open Question 3)
	Err      error

	m *model.Model // retained for beam re-selection; not part of the external shape
}

// StartedEvent is emitted once at the beginning of Run.
type StartedEvent struct {
	HandleID      string
	TotalLevels   int
	StatisticName string
}

// LevelCompleteEvent is emitted once per completed level.
type LevelCompleteEvent struct {
	HandleID        string
	CurrentLevel    int
	TotalLevels     int
	ModelsEvaluated int
	LooplessModels  int
	LoopModels      int
	BestModelName   string
	BestStatistic   float64
	StatisticName   string
	LevelTimeMs     float64
	ElapsedMs       float64
	AvgModelTimeMs  float64
}

// CompleteEvent is emitted once a search finishes without cancellation.
type CompleteEvent struct {
	HandleID             string
	TotalModelsEvaluated int
	BestModelName        string
	BestStatistic        float64
	ElapsedMs            float64
	AvgModelTimeMs       float64
}

// CancelledEvent is emitted instead of CompleteEvent when Run observes
// context cancellation; no further events follow it.
type CancelledEvent struct {
	HandleID       string
	PartialResults []ModelResult
}

// ProgressHandler receives one of StartedEvent, LevelCompleteEvent,
// CompleteEvent, or CancelledEvent per call.
type ProgressHandler func(event any)

// Result is Run's return value: the final result set (spec §6) plus totals.
type Result struct {
	HandleID       string
	Models         []ModelResult
	TotalEvaluated int
	Cancelled      bool
}

// Run executes the beam search of spec §4.6. pool provides the bounded
// worker set (C8) used to evaluate each level's candidates in parallel;
// callers own its lifecycle. onProgress may be nil. mx may be nil (no
// metrics recorded).
func Run(ctx context.Context, reg *variable.Registry, cache *relation.Cache, observed *table.Table,
	pool *workpool.Pool, mx *metrics.Metrics, req Request, onProgress ProgressHandler) (*Result, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	seed, err := model.Parse(reg, cache, req.SeedExpr)
	if err != nil {
		return nil, err
	}
	sat, err := model.Saturated(reg, cache)
	if err != nil {
		return nil, err
	}
	satDF := model.DegreesOfFreedom(sat)

	handleID := uuid.NewString()
	tracer := tracing.Tracer("occam/search")
	ctx, span := tracer.Start(ctx, "search.Run")
	defer span.End()

	notify := func(event any) {
		if onProgress != nil {
			onProgress(event)
		}
	}
	notify(StartedEvent{HandleID: handleID, TotalLevels: req.Levels, StatisticName: string(req.SortBy)})

	start := time.Now()
	beam := []*model.Model{seed}
	visited := mapset.NewSet[uint64]()
	visited.Add(lattice.CanonicalHash(seed))

	var allResults []ModelResult
	cancelled := false

	for level := 1; level <= req.Levels; level++ {
		if ctx.Err() != nil {
			cancelled = true
			break
		}

		levelStart := time.Now()
		candidates, err := expandLevel(reg, cache, beam, req.Direction, req.Filter, visited)
		if err != nil {
			return nil, err
		}
		if len(candidates) == 0 {
			break
		}

		results := evaluateLevel(ctx, cache, observed, candidates, satDF, pool, mx)
		if ctx.Err() != nil {
			// In-flight tasks ran to completion, but the level is
			// cancelled: discard its results entirely (spec §5).
			cancelled = true
			break
		}

		allResults = append(allResults, results...)

		ranked := rankForBeam(results, req.SortBy)
		width := req.Width
		if width > len(ranked) {
			width = len(ranked)
		}
		beam = make([]*model.Model, width)
		for i := 0; i < width; i++ {
			beam[i] = ranked[i].m
		}
		if mx != nil {
			mx.BeamWidth.Set(float64(len(beam)))
		}

		looplessN, loopyN := 0, 0
		for _, r := range results {
			if r.NaN {
				continue
			}
			if r.HasLoops {
				loopyN++
			} else {
				looplessN++
			}
		}
		elapsed := time.Since(start)
		evt := LevelCompleteEvent{
			HandleID:        handleID,
			CurrentLevel:    level,
			TotalLevels:     req.Levels,
			ModelsEvaluated: len(results),
			LooplessModels:  looplessN,
			LoopModels:      loopyN,
			StatisticName:   string(req.SortBy),
			LevelTimeMs:     msSince(levelStart),
			ElapsedMs:       elapsed.Seconds() * 1000,
		}
		if len(ranked) > 0 {
			evt.BestModelName = ranked[0].Name
			evt.BestStatistic = statValue(ranked[0], req.SortBy)
		}
		if len(allResults) > 0 {
			evt.AvgModelTimeMs = evt.ElapsedMs / float64(len(allResults))
		}
		notify(evt)

		if len(beam) == 0 {
			break
		}
	}

	final := sortFinal(allResults, req.SortBy)
	res := &Result{HandleID: handleID, Models: final, TotalEvaluated: len(allResults), Cancelled: cancelled}

	if cancelled {
		notify(CancelledEvent{HandleID: handleID, PartialResults: final})
		return res, occamerr.New(occamerr.Cancelled, "search cancelled")
	}

	completeEvt := CompleteEvent{HandleID: handleID, TotalModelsEvaluated: len(allResults)}
	if len(final) > 0 {
		best := bestOverall(final, req.SortBy)
		completeEvt.BestModelName = best.Name
		completeEvt.BestStatistic = statValue(best, req.SortBy)
	}
	elapsedMs := time.Since(start).Seconds() * 1000
	completeEvt.ElapsedMs = elapsedMs
	if len(allResults) > 0 {
		completeEvt.AvgModelTimeMs = elapsedMs / float64(len(allResults))
	}
	notify(completeEvt)

	return res, nil
}

func msSince(t time.Time) float64 { return time.Since(t).Seconds() * 1000 }

// expandLevel unions the neighbors of every model in beam, dropping any
// already visited, and marks the survivors visited.
func expandLevel(reg *variable.Registry, cache *relation.Cache, beam []*model.Model,
	dir lattice.Direction, filter lattice.Filter, visited mapset.Set[uint64]) ([]*model.Model, error) {
	seen := mapset.NewSet[uint64]()
	var candidates []*model.Model
	for _, m := range beam {
		neighbors, err := lattice.Neighbors(reg, cache, m, dir, filter)
		if err != nil {
			return nil, err
		}
		for _, n := range neighbors {
			h := lattice.CanonicalHash(n)
			if visited.Contains(h) || seen.Contains(h) {
				continue
			}
			seen.Add(h)
			candidates = append(candidates, n)
		}
	}
	for _, n := range candidates {
		visited.Add(lattice.CanonicalHash(n))
	}

	return candidates, nil
}

// evaluateLevel fits every candidate, sequentially when there are fewer than
// batchThreshold candidates (or no pool), or fanned out through pool
// otherwise. Either way, cancellation is checked before each candidate.
func evaluateLevel(ctx context.Context, cache *relation.Cache, observed *table.Table,
	candidates []*model.Model, satDF int, pool *workpool.Pool, mx *metrics.Metrics) []ModelResult {
	results := make([]ModelResult, len(candidates))
	eval := func(i int) {
		results[i] = evaluateOne(ctx, cache, observed, candidates[i], satDF, mx)
	}

	if pool == nil || len(candidates) < batchThreshold {
		for i := range candidates {
			if ctx.Err() != nil {
				break // cancelled: the caller discards this level's results
			}
			eval(i)
		}
		return results
	}

	var wg sync.WaitGroup
	for i := range candidates {
		if ctx.Err() != nil {
			break // stop dispatching further tasks; in-flight ones still finish
		}
		i := i
		wg.Add(1)
		pool.Submit(func() {
			defer wg.Done()
			if mx != nil {
				mx.ActiveWorkers.Inc()
				defer mx.ActiveWorkers.Dec()
			}
			eval(i)
		})
	}
	wg.Wait()

	return results
}

func evaluateOne(ctx context.Context, cache *relation.Cache, observed *table.Table, m *model.Model, satDF int, mx *metrics.Metrics) ModelResult {
	name := model.CanonicalName(m)
	started := time.Now()
	res, err := vb.Fit(ctx, observed, cache, m, satDF)
	if mx != nil {
		mx.FitSeconds.Observe(time.Since(started).Seconds())
		mx.ModelsEvaluated.Inc()
	}

	if err != nil && !occamerr.Is(err, occamerr.FitNonConverged) {
		return ModelResult{Name: name, NaN: true, Err: err}
	}
	if mx != nil {
		if occamerr.Is(err, occamerr.FitNonConverged) {
			mx.NonConverged.Inc()
		}
		if res.Loopless {
			mx.LooplessModels.Inc()
		} else {
			mx.LoopyModels.Inc()
		}
	}

	isNaN := math.IsNaN(res.H) || math.IsNaN(res.LR) || math.IsNaN(res.AIC) || math.IsNaN(res.BIC)

	return ModelResult{
		Name: name, H: res.H, LR: res.LR, AIC: res.AIC, BIC: res.BIC,
		DF: res.DF, DDF: res.DDF, HasLoops: !res.Loopless, NaN: isNaN, Err: err, m: m,
	}
}

// rankForBeam orders results by sortBy, excluding any NaN-flagged entry
// from beam selection (Open Question 3 of spec §9).
func rankForBeam(results []ModelResult, sortBy SortStatistic) []ModelResult {
	ranked := make([]ModelResult, 0, len(results))
	for _, r := range results {
		if r.NaN || r.m == nil {
			continue
		}
		ranked = append(ranked, r)
	}
	sort.SliceStable(ranked, func(i, j int) bool { return less(ranked[i], ranked[j], sortBy) })

	return ranked
}

// sortFinal orders the full evaluated set for the final result (spec §6):
// non-NaN entries by sortBy, NaN-flagged entries last by name.
func sortFinal(results []ModelResult, sortBy SortStatistic) []ModelResult {
	out := make([]ModelResult, len(results))
	copy(out, results)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].NaN != out[j].NaN {
			return !out[i].NaN
		}
		if out[i].NaN {
			return out[i].Name < out[j].Name
		}
		return less(out[i], out[j], sortBy)
	})

	return out
}

func bestOverall(sorted []ModelResult, sortBy SortStatistic) ModelResult {
	for _, r := range sorted {
		if !r.NaN {
			return r
		}
	}

	return sorted[0]
}

func less(a, b ModelResult, sortBy SortStatistic) bool {
	av, bv := statValue(a, sortBy), statValue(b, sortBy)
	if av != bv {
		if sortBy == SortDDF {
			return av > bv // higher DDF is better
		}
		return av < bv // lower AIC/BIC is better
	}

	return a.Name < b.Name
}

func statValue(r ModelResult, sortBy SortStatistic) float64 {
	switch sortBy {
	case SortBIC:
		return r.BIC
	case SortDDF:
		return float64(r.DDF)
	default:
		return r.AIC
	}
}
