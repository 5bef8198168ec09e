// Package occam wires the core components (C1-C8) into a single
// request-scoped Engine: a variable registry, an observed contingency
// table, its relation cache, and a work pool used for Search's parallel
// model evaluation (Fit evaluates its single model on the calling goroutine).
package occam

import (
	"context"
	"runtime"

	"github.com/occam-ra/occam/config"
	"github.com/occam-ra/occam/metrics"
	"github.com/occam-ra/occam/model"
	"github.com/occam-ra/occam/occamlog"
	"github.com/occam-ra/occam/relation"
	"github.com/occam-ra/occam/search"
	"github.com/occam-ra/occam/table"
	"github.com/occam-ra/occam/variable"
	"github.com/occam-ra/occam/vb"
	"github.com/occam-ra/occam/workpool"
)

// Engine is one request's core state: the variable registry and observed
// table own the data, the relation cache memoizes projections across every
// model a search or fit touches, and the work pool is the bounded
// concurrency substrate for parallel model evaluation (spec §9, "shared
// mutable state → immutable sharing").
type Engine struct {
	Registry *variable.Registry
	Observed *table.Table
	Cache    *relation.Cache
	Metrics  *metrics.Metrics
	Log      *occamlog.Logger

	pool *workpool.Pool
}

type engineOptions struct {
	poolSize int
	metrics  *metrics.Metrics
	logger   *occamlog.Logger
}

// Option configures New.
type Option func(*engineOptions)

// WithPoolSize overrides the work pool's worker count (default: GOMAXPROCS).
func WithPoolSize(n int) Option { return func(o *engineOptions) { o.poolSize = n } }

// WithMetrics attaches a Prometheus instrumentation bundle (default: Nop).
func WithMetrics(m *metrics.Metrics) Option { return func(o *engineOptions) { o.metrics = m } }

// WithLogger attaches a structured logger (default: Nop).
func WithLogger(l *occamlog.Logger) Option { return func(o *engineOptions) { o.logger = l } }

// New builds an Engine over an already-constructed registry and observed
// table. Most collaborators should use LoadData instead, which also
// constructs the table from a decoded request.
func New(reg *variable.Registry, observed *table.Table, opts ...Option) *Engine {
	cfg := engineOptions{poolSize: runtime.GOMAXPROCS(0)}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.metrics == nil {
		cfg.metrics = metrics.Nop()
	}
	if cfg.logger == nil {
		cfg.logger = occamlog.Nop()
	}

	return &Engine{
		Registry: reg,
		Observed: observed,
		Cache:    relation.NewCache(observed),
		Metrics:  cfg.metrics,
		Log:      cfg.logger,
		pool:     workpool.New(cfg.poolSize),
	}
}

// LoadData builds a fresh variable registry and observed table from a
// decoded load-data request (spec §6) and wires them into a new Engine.
func LoadData(req *config.LoadDataRequest, opts ...Option) (*Engine, error) {
	reg := variable.New()
	tbl, err := config.BuildTable(reg, req)
	if err != nil {
		return nil, err
	}

	return New(reg, tbl, opts...), nil
}

// Fit evaluates a single model expression against the Engine's observed
// table (spec §6's fit request).
func (e *Engine) Fit(ctx context.Context, modelExpr string) (*vb.Result, error) {
	m, err := model.Parse(e.Registry, e.Cache, modelExpr)
	if err != nil {
		return nil, err
	}
	sat, err := model.Saturated(e.Registry, e.Cache)
	if err != nil {
		return nil, err
	}
	satDF := model.DegreesOfFreedom(sat)

	e.Log.Debug("fitting model", map[string]interface{}{"model": modelExpr})

	return vb.Fit(ctx, e.Observed, e.Cache, m, satDF)
}

// Search runs a beam search over the Engine's lattice (spec §4.6),
// reporting progress through onProgress (nil is accepted).
func (e *Engine) Search(ctx context.Context, req search.Request, onProgress search.ProgressHandler) (*search.Result, error) {
	e.Log.Info("search started", map[string]interface{}{
		"seed": req.SeedExpr, "direction": string(req.Direction), "width": req.Width, "levels": req.Levels,
	})

	res, err := search.Run(ctx, e.Registry, e.Cache, e.Observed, e.pool, e.Metrics, req, onProgress)
	if err != nil {
		e.Log.Warn("search ended with error", map[string]interface{}{"error": err.Error()})
	}

	return res, err
}

// Shutdown stops the Engine's work pool. Call once the Engine is no longer
// needed; Fit and Search must not be called afterward.
func (e *Engine) Shutdown() { e.pool.Shutdown() }
