package model_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/occam-ra/occam/model"
	"github.com/occam-ra/occam/relation"
	"github.com/occam-ra/occam/table"
	"github.com/occam-ra/occam/variable"
)

func twoBinary(t *testing.T) (*variable.Registry, *relation.Cache, *variable.V, *variable.V) {
	t.Helper()
	reg := variable.New()
	a, err := reg.Declare("Alpha", "A", 2)
	require.NoError(t, err)
	b, err := reg.Declare("Beta", "B", 2)
	require.NoError(t, err)

	obs, err := table.FromObservations([]*variable.V{a, b},
		[][]int{{0, 0}, {0, 1}, {1, 0}, {1, 1}}, []float64{10, 20, 30, 40})
	require.NoError(t, err)

	return reg, relation.NewCache(obs), a, b
}

func TestCanonicalNameRoundTrip(t *testing.T) {
	reg, cache, a, b := twoBinary(t)
	m, err := model.Build(cache, [][]*variable.V{{a, b}})
	require.NoError(t, err)

	name := model.CanonicalName(m)
	require.Equal(t, "AB", name)

	parsed, err := model.Parse(reg, cache, name)
	require.NoError(t, err)
	require.True(t, model.Equal(m, parsed))
}

func TestParseRejectsUnknownAbbrev(t *testing.T) {
	reg, cache, _, _ := twoBinary(t)
	_, err := model.Parse(reg, cache, "AZ")
	require.Error(t, err)
}

func TestParseMultiCharRequiresDots(t *testing.T) {
	reg := variable.New()
	alpha, err := reg.Declare("Alpha", "Alpha", 2)
	require.NoError(t, err)
	beta, err := reg.Declare("Beta", "Beta", 2)
	require.NoError(t, err)
	obs, err := table.FromObservations([]*variable.V{alpha, beta},
		[][]int{{0, 0}, {1, 1}}, []float64{1, 1})
	require.NoError(t, err)
	cache := relation.NewCache(obs)

	m, err := model.Parse(reg, cache, "Alpha.Beta")
	require.NoError(t, err)
	require.Len(t, m.Relations, 1)

	_, err = model.Parse(reg, cache, "AlphaBeta")
	require.Error(t, err)
}

func TestAddRelationPrunesSubsets(t *testing.T) {
	_, cache, a, b := twoBinary(t)
	m, err := model.Build(cache, [][]*variable.V{{a}, {a, b}})
	require.NoError(t, err)
	require.Len(t, m.Relations, 1, "{A} is subsumed by {A,B}")

	m2, err := model.Build(cache, [][]*variable.V{{a, b}, {a}})
	require.NoError(t, err)
	require.Len(t, m2.Relations, 1, "order of insertion should not matter")
}

func TestSaturatedIsLoopless(t *testing.T) {
	_, cache, a, b := twoBinary(t)
	sat, err := model.Build(cache, [][]*variable.V{{a, b}})
	require.NoError(t, err)
	require.True(t, model.IsLoopless(sat))
}

func TestThreeCycleIsLoopy(t *testing.T) {
	reg := variable.New()
	a, _ := reg.Declare("Alpha", "A", 2)
	b, _ := reg.Declare("Beta", "B", 2)
	c, _ := reg.Declare("Gamma", "C", 2)
	obs, err := table.FromObservations([]*variable.V{a, b, c},
		[][]int{{0, 0, 0}, {1, 1, 1}, {0, 1, 0}, {1, 0, 1}}, []float64{1, 1, 1, 1})
	require.NoError(t, err)
	cache := relation.NewCache(obs)

	m, err := model.Build(cache, [][]*variable.V{{a, b}, {b, c}, {c, a}})
	require.NoError(t, err)
	require.False(t, model.IsLoopless(m))
}

func TestDegreesOfFreedomSaturatedAndIndependence(t *testing.T) {
	reg, cache, a, b := twoBinary(t)
	_ = reg

	sat, err := model.Saturated(reg, cache)
	require.NoError(t, err)
	require.Equal(t, 3, model.DegreesOfFreedom(sat)) // 2*2-1

	ind, err := model.Independence(reg, cache)
	require.NoError(t, err)
	require.Equal(t, 2, model.DegreesOfFreedom(ind)) // (k_A-1)+(k_B-1)

	satDF := model.DegreesOfFreedom(sat)
	require.Equal(t, 1, model.DeltaDF(satDF, model.DegreesOfFreedom(ind)))

	_ = a
	_ = b
}
