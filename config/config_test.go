package config_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/occam-ra/occam/config"
	"github.com/occam-ra/occam/lattice"
	"github.com/occam-ra/occam/occamerr"
	"github.com/occam-ra/occam/search"
	"github.com/occam-ra/occam/variable"
)

const loadDataYAML = `
name: demo
variables:
  - {name: Alpha, abbrev: A, cardinality: 2}
  - {name: Beta, abbrev: B, cardinality: 2}
data:
  - [0, 0]
  - [0, 1]
  - [1, 0]
  - [1, 1]
counts: [10, 20, 30, 40]
`

func TestParseAndBuildLoadDataRequest(t *testing.T) {
	req, err := config.ParseLoadDataRequest([]byte(loadDataYAML))
	require.NoError(t, err)
	require.Equal(t, "demo", req.Name)
	require.Len(t, req.Variables, 2)

	reg := variable.New()
	tbl, err := config.BuildTable(reg, req)
	require.NoError(t, err)
	require.Equal(t, float64(100), tbl.Total())
}

func TestBuildTableRejectsCountsLengthMismatch(t *testing.T) {
	req := &config.LoadDataRequest{
		Variables: []config.VariableSpec{{Name: "Alpha", Abbrev: "A", Cardinality: 2}},
		Data:      [][]int{{0}, {1}},
		Counts:    []float64{1},
	}
	reg := variable.New()
	_, err := config.BuildTable(reg, req)
	require.Error(t, err)
	require.True(t, occamerr.Is(err, occamerr.InvalidData))
}

func TestBuildTableConcurrentValidationCatchesOutOfRangeValue(t *testing.T) {
	n := 2500
	data := make([][]int, n)
	counts := make([]float64, n)
	for i := range data {
		data[i] = []int{0}
		counts[i] = 1
	}
	data[1234] = []int{5} // out of declared cardinality

	req := &config.LoadDataRequest{
		Variables: []config.VariableSpec{{Name: "Alpha", Abbrev: "A", Cardinality: 2}},
		Data:      data,
		Counts:    counts,
	}
	reg := variable.New()
	_, err := config.BuildTable(reg, req)
	require.Error(t, err)
	require.True(t, occamerr.Is(err, occamerr.InvalidData))
}

func TestToSearchRequestTranslatesEnums(t *testing.T) {
	dto := &config.SearchRequestDTO{
		SeedModelExpr: "AB", Direction: "up", Filter: "loopless", Width: 3, Levels: 2, SortBy: "BIC",
	}
	req, err := config.ToSearchRequest(dto)
	require.NoError(t, err)
	require.Equal(t, lattice.Up, req.Direction)
	require.Equal(t, lattice.FilterLoopless, req.Filter)
	require.Equal(t, search.SortBIC, req.SortBy)
}

func TestToSearchRequestRejectsUnknownDirection(t *testing.T) {
	dto := &config.SearchRequestDTO{SeedModelExpr: "AB", Direction: "sideways", Filter: "full", Width: 1, Levels: 1, SortBy: "AIC"}
	_, err := config.ToSearchRequest(dto)
	require.Error(t, err)
	require.True(t, occamerr.Is(err, occamerr.InvalidParams))
}
