package search_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/occam-ra/occam/lattice"
	"github.com/occam-ra/occam/metrics"
	"github.com/occam-ra/occam/relation"
	"github.com/occam-ra/occam/search"
	"github.com/occam-ra/occam/table"
	"github.com/occam-ra/occam/variable"
	"github.com/occam-ra/occam/workpool"
)

func threeBinary(t *testing.T) (*variable.Registry, *relation.Cache, *table.Table) {
	t.Helper()
	reg := variable.New()
	a, err := reg.Declare("Alpha", "A", 2)
	require.NoError(t, err)
	b, err := reg.Declare("Beta", "B", 2)
	require.NoError(t, err)
	c, err := reg.Declare("Gamma", "C", 2)
	require.NoError(t, err)

	tuples := [][]int{
		{0, 0, 0}, {0, 0, 1}, {0, 1, 0}, {0, 1, 1},
		{1, 0, 0}, {1, 0, 1}, {1, 1, 0}, {1, 1, 1},
	}
	counts := []float64{5, 3, 2, 7, 6, 1, 4, 8}
	obs, err := table.FromObservations([]*variable.V{a, b, c}, tuples, counts)
	require.NoError(t, err)

	return reg, relation.NewCache(obs), obs
}

func TestRunRejectsInvalidWidth(t *testing.T) {
	reg, cache, obs := threeBinary(t)
	pool := workpool.New(2)
	defer pool.Shutdown()

	_, err := search.Run(context.Background(), reg, cache, obs, pool, metrics.Nop(), search.Request{
		SeedExpr: "ABC", Direction: lattice.Down, Filter: lattice.FilterFull, Width: 0, Levels: 1, SortBy: search.SortAIC,
	}, nil)
	require.Error(t, err)
}

func TestRunDownwardFromSaturated(t *testing.T) {
	reg, cache, obs := threeBinary(t)
	pool := workpool.New(2)
	defer pool.Shutdown()

	res, err := search.Run(context.Background(), reg, cache, obs, pool, metrics.Nop(), search.Request{
		SeedExpr: "ABC", Direction: lattice.Down, Filter: lattice.FilterFull, Width: 2, Levels: 2, SortBy: search.SortAIC,
	}, nil)
	require.NoError(t, err)
	require.False(t, res.Cancelled)
	require.NotEmpty(t, res.Models)
	require.Equal(t, res.TotalEvaluated, len(res.Models))
}

func TestRunUpwardLooplessFilterKeepsOnlyLooplessResults(t *testing.T) {
	reg, cache, obs := threeBinary(t)
	pool := workpool.New(2)
	defer pool.Shutdown()

	res, err := search.Run(context.Background(), reg, cache, obs, pool, metrics.Nop(), search.Request{
		SeedExpr: "A:B:C", Direction: lattice.Up, Filter: lattice.FilterLoopless, Width: 2, Levels: 2, SortBy: search.SortBIC,
	}, nil)
	require.NoError(t, err)
	for _, m := range res.Models {
		if m.NaN {
			continue
		}
		require.False(t, m.HasLoops)
	}
}

func TestRunEmitsStartedAndCompleteEvents(t *testing.T) {
	reg, cache, obs := threeBinary(t)
	pool := workpool.New(2)
	defer pool.Shutdown()

	var events []any
	_, err := search.Run(context.Background(), reg, cache, obs, pool, metrics.Nop(), search.Request{
		SeedExpr: "ABC", Direction: lattice.Down, Filter: lattice.FilterFull, Width: 2, Levels: 2, SortBy: search.SortAIC,
	}, func(e any) { events = append(events, e) })
	require.NoError(t, err)
	require.NotEmpty(t, events)

	_, ok := events[0].(search.StartedEvent)
	require.True(t, ok, "first event must be StartedEvent")
	_, ok = events[len(events)-1].(search.CompleteEvent)
	require.True(t, ok, "last event must be CompleteEvent")
}

func TestRunRespectsAlreadyCancelledContext(t *testing.T) {
	reg, cache, obs := threeBinary(t)
	pool := workpool.New(2)
	defer pool.Shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := search.Run(ctx, reg, cache, obs, pool, metrics.Nop(), search.Request{
		SeedExpr: "ABC", Direction: lattice.Down, Filter: lattice.FilterFull, Width: 2, Levels: 3, SortBy: search.SortAIC,
	}, nil)
	require.Error(t, err)
	require.NotNil(t, res)
	require.True(t, res.Cancelled)
	require.Empty(t, res.Models)
}

func TestBeamWidthIsRespected(t *testing.T) {
	reg, cache, obs := threeBinary(t)
	pool := workpool.New(4)
	defer pool.Shutdown()

	var levelEvents []search.LevelCompleteEvent
	_, err := search.Run(context.Background(), reg, cache, obs, pool, metrics.Nop(), search.Request{
		SeedExpr: "A:B:C", Direction: lattice.Up, Filter: lattice.FilterFull, Width: 1, Levels: 3, SortBy: search.SortAIC,
	}, func(e any) {
		if lc, ok := e.(search.LevelCompleteEvent); ok {
			levelEvents = append(levelEvents, lc)
		}
	})
	require.NoError(t, err)
	for _, lc := range levelEvents {
		// width 1: each level expands a single model (A:B:C, then one
		// pair+singleton model), and each of those has exactly 3 parents;
		// a wider beam would give 4 candidates at level 2.
		require.LessOrEqual(t, lc.ModelsEvaluated, 3)
	}
}
