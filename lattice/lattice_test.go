package lattice_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/occam-ra/occam/lattice"
	"github.com/occam-ra/occam/model"
	"github.com/occam-ra/occam/relation"
	"github.com/occam-ra/occam/table"
	"github.com/occam-ra/occam/variable"
)

func threeBinary(t *testing.T) (*variable.Registry, *relation.Cache) {
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
	counts := make([]float64, len(tuples))
	for i := range counts {
		counts[i] = 1
	}
	obs, err := table.FromObservations([]*variable.V{a, b, c}, tuples, counts)
	require.NoError(t, err)

	return reg, relation.NewCache(obs)
}

func TestChildrenOfSaturatedReplacesRelation(t *testing.T) {
	reg, cache := threeBinary(t)
	sat, err := model.Saturated(reg, cache)
	require.NoError(t, err)

	children, err := lattice.Children(cache, sat)
	require.NoError(t, err)
	require.Len(t, children, 1, "one relation of size 3 yields exactly one coarsening candidate")

	name := model.CanonicalName(children[0])
	require.Equal(t, "AB:AC:BC", name)
}

func TestParentsOfIndependenceGrowsRelations(t *testing.T) {
	reg, cache := threeBinary(t)
	ind, err := model.Independence(reg, cache)
	require.NoError(t, err)

	parents, err := lattice.Parents(reg, cache, ind)
	require.NoError(t, err)
	require.NotEmpty(t, parents)
	for _, p := range parents {
		require.LessOrEqual(t, len(p.Relations), len(ind.Relations))
	}
}

func TestNeighborsLooplessFilterKeepsOnlyChordal(t *testing.T) {
	reg, cache := threeBinary(t)
	ind, err := model.Independence(reg, cache)
	require.NoError(t, err)

	parents, err := lattice.Neighbors(reg, cache, ind, lattice.Up, lattice.FilterLoopless)
	require.NoError(t, err)
	for _, p := range parents {
		require.True(t, model.IsLoopless(p))
	}
}

func TestNeighborsDisjointFilter(t *testing.T) {
	reg, cache := threeBinary(t)
	sat, err := model.Saturated(reg, cache)
	require.NoError(t, err)

	children, err := lattice.Neighbors(reg, cache, sat, lattice.Down, lattice.FilterDisjoint)
	require.NoError(t, err)
	require.Empty(t, children, "AB:AC:BC shares variables pairwise, so disjoint filter excludes it")
}

func TestNeighborsRejectsUnknownDirection(t *testing.T) {
	reg, cache := threeBinary(t)
	sat, err := model.Saturated(reg, cache)
	require.NoError(t, err)

	_, err = lattice.Neighbors(reg, cache, sat, "sideways", lattice.FilterFull)
	require.Error(t, err)
}

func TestCanonicalHashStableAcrossRelationOrder(t *testing.T) {
	reg, cache := threeBinary(t)
	all := reg.All()
	m1, err := model.Build(cache, [][]*variable.V{{all[0], all[1]}, {all[1], all[2]}})
	require.NoError(t, err)
	m2, err := model.Build(cache, [][]*variable.V{{all[1], all[2]}, {all[0], all[1]}})
	require.NoError(t, err)

	require.Equal(t, lattice.CanonicalHash(m1), lattice.CanonicalHash(m2))
}
