// Package config decodes the collaborator-facing request shapes of spec §6
// (load-data, search, and fit requests) from YAML, and turns them into the
// core's native types. It is the only package that knows about the wire
// format; everything downstream works with *table.Table, *model.Model, and
// search.Request.
package config

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/occam-ra/occam/lattice"
	"github.com/occam-ra/occam/occamerr"
	"github.com/occam-ra/occam/search"
	"github.com/occam-ra/occam/table"
	"github.com/occam-ra/occam/variable"
)

// VariableSpec declares one variable within a LoadDataRequest.
type VariableSpec struct {
	Name        string `yaml:"name"`
	Abbrev      string `yaml:"abbrev"`
	Cardinality int    `yaml:"cardinality"`
}

// LoadDataRequest is the wire shape of spec §6's "Load data" input. Data
// rows hold per-variable state indices (0-based, aligned with Variables'
// order), not abbreviation strings — the abbreviation tuple in the spec
// text identifies which variable each column belongs to, which here is
// implicit in Variables' declared order.
type LoadDataRequest struct {
	Name      string         `yaml:"name"`
	Variables []VariableSpec `yaml:"variables"`
	Data      [][]int        `yaml:"data"`
	Counts    []float64      `yaml:"counts"`
}

// SearchRequestDTO is the wire shape of spec §6's search request.
type SearchRequestDTO struct {
	SeedModelExpr string `yaml:"seed_model_expr"`
	Direction     string `yaml:"direction"`
	Filter        string `yaml:"filter"`
	Width         int    `yaml:"width"`
	Levels        int    `yaml:"levels"`
	SortBy        string `yaml:"sort_by"`
}

// FitRequestDTO is the wire shape of spec §6's fit request.
type FitRequestDTO struct {
	ModelExpr string `yaml:"model_expr"`
}

// ParseLoadDataRequest decodes a YAML (or JSON, a subset of YAML) document.
func ParseLoadDataRequest(data []byte) (*LoadDataRequest, error) {
	var req LoadDataRequest
	if err := yaml.Unmarshal(data, &req); err != nil {
		return nil, occamerr.Wrap(occamerr.InvalidData, "malformed load-data request", err)
	}

	return &req, nil
}

// ParseSearchRequest decodes a YAML (or JSON) search request document.
func ParseSearchRequest(data []byte) (*SearchRequestDTO, error) {
	var req SearchRequestDTO
	if err := yaml.Unmarshal(data, &req); err != nil {
		return nil, occamerr.Wrap(occamerr.InvalidParams, "malformed search request", err)
	}

	return &req, nil
}

// ParseFitRequest decodes a YAML (or JSON) fit request document.
func ParseFitRequest(data []byte) (*FitRequestDTO, error) {
	var req FitRequestDTO
	if err := yaml.Unmarshal(data, &req); err != nil {
		return nil, occamerr.Wrap(occamerr.ParseModel, "malformed fit request", err)
	}

	return &req, nil
}

// parallelValidateThreshold is the row count above which BuildTable
// validates rows concurrently in chunks (below it, sequential validation
// inside table.FromObservations already does the same work cheaply).
const parallelValidateThreshold = 2000

const validateChunkSize = 500

// BuildTable declares req's variables against reg and constructs the
// observed contingency table. Large requests are pre-validated concurrently
// via errgroup, whose fail-fast cancellation fits here: a single bad row
// invalidates the whole request regardless of which chunk finds it first.
func BuildTable(reg *variable.Registry, req *LoadDataRequest) (*table.Table, error) {
	vars := make([]*variable.V, len(req.Variables))
	for i, vs := range req.Variables {
		v, err := reg.Declare(vs.Name, vs.Abbrev, vs.Cardinality)
		if err != nil {
			return nil, err
		}
		vars[i] = v
	}

	if len(req.Data) != len(req.Counts) {
		return nil, occamerr.New(occamerr.InvalidData, "data and counts length mismatch")
	}

	if len(req.Data) >= parallelValidateThreshold {
		if err := validateRowsConcurrently(vars, req.Data, req.Counts); err != nil {
			return nil, err
		}
	}

	return table.FromObservations(vars, req.Data, req.Counts)
}

func validateRowsConcurrently(vars []*variable.V, data [][]int, counts []float64) error {
	eg, ctx := errgroup.WithContext(context.Background())
	for start := 0; start < len(data); start += validateChunkSize {
		start := start
		end := start + validateChunkSize
		if end > len(data) {
			end = len(data)
		}
		eg.Go(func() error {
			for i := start; i < end; i++ {
				if ctx.Err() != nil {
					return nil // another chunk already failed
				}
				if len(data[i]) != len(vars) {
					return occamerr.New(occamerr.InvalidData, fmt.Sprintf("row %d: arity mismatch", i))
				}
				if counts[i] < 0 {
					return occamerr.New(occamerr.InvalidData, fmt.Sprintf("row %d: negative count", i))
				}
				for j, v := range vars {
					if data[i][j] < 0 || data[i][j] >= v.Cardinality {
						return occamerr.New(occamerr.InvalidData, fmt.Sprintf("row %d: value out of declared cardinality for %s", i, v.Abbrev))
					}
				}
			}

			return nil
		})
	}

	return eg.Wait()
}

// ToSearchRequest validates and converts a wire-level SearchRequestDTO into
// a search.Request.
func ToSearchRequest(dto *SearchRequestDTO) (search.Request, error) {
	var dir lattice.Direction
	switch dto.Direction {
	case "up":
		dir = lattice.Up
	case "down":
		dir = lattice.Down
	default:
		return search.Request{}, occamerr.New(occamerr.InvalidParams, "unknown direction: "+dto.Direction)
	}

	var filter lattice.Filter
	switch dto.Filter {
	case "", "full":
		filter = lattice.FilterFull
	case "loopless":
		filter = lattice.FilterLoopless
	case "disjoint":
		filter = lattice.FilterDisjoint
	default:
		return search.Request{}, occamerr.New(occamerr.InvalidParams, "unknown filter: "+dto.Filter)
	}

	var sortBy search.SortStatistic
	switch dto.SortBy {
	case "AIC", "aic":
		sortBy = search.SortAIC
	case "BIC", "bic":
		sortBy = search.SortBIC
	case "DDF", "ddf":
		sortBy = search.SortDDF
	default:
		return search.Request{}, occamerr.New(occamerr.InvalidParams, "unknown sort statistic: "+dto.SortBy)
	}

	return search.Request{
		SeedExpr:  dto.SeedModelExpr,
		Direction: dir,
		Filter:    filter,
		Width:     dto.Width,
		Levels:    dto.Levels,
		SortBy:    sortBy,
	}, nil
}
