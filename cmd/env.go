package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/saferoute/internal/cache"
	"github.com/sells-group/saferoute/internal/geospatial"
	"github.com/sells-group/saferoute/internal/grid"
	"github.com/sells-group/saferoute/internal/ingest"
	"github.com/sells-group/saferoute/internal/model"
	"github.com/sells-group/saferoute/internal/resilience"
	"github.com/sells-group/saferoute/internal/scorer"
	"github.com/sells-group/saferoute/internal/store"
	"github.com/sells-group/saferoute/internal/weighting"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		return store.NewSQLite(cfg.Store.SQLitePath)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// cellReader wraps the store's read path in retry and circuit breaking.
func cellReader(st store.CellReader) *store.Retrying {
	retry, breaker := resilience.ForCellReads(cfg.Retry)
	return store.NewRetrying(st, retry, breaker)
}

// loadCategories prefers the configured YAML file, then the categories
// already in the store, then the built-in seed.
func loadCategories(ctx context.Context, st store.Store) (*grid.CategoryTable, []model.Category, error) {
	var (
		cats []model.Category
		err  error
	)
	if cfg.Categories.File != "" {
		cats, err = ingest.LoadCategories(cfg.Categories.File)
		if err != nil {
			return nil, nil, err
		}
	} else {
		cats, err = st.Categories(ctx)
		if err != nil {
			return nil, nil, eris.Wrap(err, "load categories")
		}
		if len(cats) == 0 {
			zap.L().Warn("no categories in store, using built-in seed")
			cats = grid.DefaultCategories()
		}
	}
	table, err := grid.NewCategoryTable(cats)
	if err != nil {
		return nil, nil, err
	}
	return table, cats, nil
}

func newScorer(cells scorer.CellReader) (*scorer.Scorer, error) {
	engine, err := weighting.New(weighting.DefaultConfig())
	if err != nil {
		return nil, err
	}
	return scorer.New(cells, engine, cfg.Scoring, scorer.WithResolution(cfg.Grid.Resolution))
}

func newBuilder(ctx context.Context, st store.Store, inv cache.Invalidator) (*ingest.Builder, []model.Category, error) {
	idx, err := geospatial.NewH3Indexer(cfg.Grid.Resolution)
	if err != nil {
		return nil, nil, err
	}
	table, cats, err := loadCategories(ctx, st)
	if err != nil {
		return nil, nil, err
	}
	return ingest.NewBuilder(st, idx, table, inv), cats, nil
}

// invalidationPublisher returns a NATS publisher when nats.url is set, so CLI
// rebuilds reach running servers. The returned close func is never nil.
func invalidationPublisher() (cache.Invalidator, func(), error) {
	if cfg.NATS.URL == "" {
		return nil, func() {}, nil
	}
	nc, err := cache.ConnectNATS(cfg.NATS.URL)
	if err != nil {
		return nil, func() {}, err
	}
	closeFn := func() {
		if err := nc.FlushTimeout(5 * time.Second); err != nil {
			zap.L().Warn("nats flush failed", zap.Error(err))
		}
		nc.Close()
	}
	return cache.NewNATSPublisher(nc, cfg.NATS.Subject), closeFn, nil
}

// recentMonths lists n months ending at latest, oldest first.
func recentMonths(latest time.Time, n int) []time.Time {
	latest = model.MonthStart(latest)
	out := make([]time.Time, n)
	for i := range n {
		out[i] = latest.AddDate(0, i-n+1, 0)
	}
	return out
}
