package ingest

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/saferoute/internal/cache"
	"github.com/sells-group/saferoute/internal/geospatial"
	"github.com/sells-group/saferoute/internal/grid"
	"github.com/sells-group/saferoute/internal/model"
)

// Store is the persistence the builder needs.
type Store interface {
	UpsertCells(ctx context.Context, month time.Time, cells []*model.Cell) (int64, error)
	InsertIncidents(ctx context.Context, incidents []model.Incident) (int64, error)
	IncidentsForMonth(ctx context.Context, month time.Time) ([]model.Incident, error)
	IncidentMonths(ctx context.Context) ([]time.Time, error)
	CreateRun(ctx context.Context, months []time.Time) (*model.IngestionRun, error)
	FinishRun(ctx context.Context, run *model.IngestionRun) error
}

// Builder rebuilds monthly grid cells and tells the invalidation hook which
// months changed.
type Builder struct {
	store Store
	idx   geospatial.Indexer
	cats  *grid.CategoryTable
	inv   cache.Invalidator
	now   func() time.Time
}

// NewBuilder creates a Builder. inv may be nil.
func NewBuilder(st Store, idx geospatial.Indexer, cats *grid.CategoryTable, inv cache.Invalidator) *Builder {
	return &Builder{store: st, idx: idx, cats: cats, inv: inv, now: time.Now}
}

// Ingest persists incidents and rebuilds the months they fall in.
func (b *Builder) Ingest(ctx context.Context, incidents []model.Incident) (*model.IngestionRun, error) {
	if len(incidents) == 0 {
		return nil, eris.New("ingest: no incidents to ingest")
	}
	if _, err := b.store.InsertIncidents(ctx, incidents); err != nil {
		return nil, eris.Wrap(err, "ingest: insert incidents")
	}
	groups := grid.GroupByMonth(incidents)
	return b.RebuildFromStore(ctx, grid.SortedMonths(groups))
}

// Rebuild aggregates the given incidents month by month and replaces those
// months' cells. Progress is recorded as an ingestion run.
func (b *Builder) Rebuild(ctx context.Context, incidents []model.Incident) (*model.IngestionRun, error) {
	groups := grid.GroupByMonth(incidents)
	months := grid.SortedMonths(groups)
	if len(months) == 0 {
		return nil, eris.New("ingest: no incidents to rebuild")
	}
	return b.run(ctx, months, func(_ context.Context, m time.Time) ([]model.Incident, error) {
		return groups[m], nil
	})
}

// RebuildFromStore re-aggregates incidents already persisted. An empty months
// list rebuilds every month that has incidents.
func (b *Builder) RebuildFromStore(ctx context.Context, months []time.Time) (*model.IngestionRun, error) {
	if len(months) == 0 {
		var err error
		if months, err = b.store.IncidentMonths(ctx); err != nil {
			return nil, eris.Wrap(err, "ingest: list incident months")
		}
		if len(months) == 0 {
			return nil, eris.New("ingest: store holds no incidents")
		}
	}
	norm := make([]time.Time, len(months))
	for i, m := range months {
		norm[i] = model.MonthStart(m)
	}
	return b.run(ctx, norm, b.store.IncidentsForMonth)
}

func (b *Builder) run(ctx context.Context, months []time.Time, load func(context.Context, time.Time) ([]model.Incident, error)) (*model.IngestionRun, error) {
	log := zap.L().With(zap.String("component", "ingest.rebuild"))

	run, err := b.store.CreateRun(ctx, months)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: create run")
	}
	log = log.With(zap.String("run_id", run.ID))
	log.Info("rebuild started", zap.Int("months", len(months)))

	buildErr := b.buildMonths(ctx, run, months, load, log)

	finished := b.now().UTC()
	run.FinishedAt = &finished
	run.Status = model.RunStatusSuccess
	if buildErr != nil {
		run.Status = model.RunStatusFailed
		run.ErrorMessage = buildErr.Error()
	}
	// The run outlives a cancelled request so the failure is still recorded.
	if err := b.store.FinishRun(context.WithoutCancel(ctx), run); err != nil {
		log.Error("failed to record run", zap.Error(err))
		if buildErr == nil {
			buildErr = eris.Wrap(err, "ingest: finish run")
		}
	}

	if buildErr != nil {
		log.Error("rebuild failed", zap.Error(buildErr))
		return run, buildErr
	}
	log.Info("rebuild finished",
		zap.Int("records", run.RecordsProcessed),
		zap.Int("cells", run.CellsWritten),
	)
	return run, nil
}

func (b *Builder) buildMonths(ctx context.Context, run *model.IngestionRun, months []time.Time, load func(context.Context, time.Time) ([]model.Incident, error), log *zap.Logger) error {
	for _, month := range months {
		if err := ctx.Err(); err != nil {
			return err
		}
		incidents, err := load(ctx, month)
		if err != nil {
			return eris.Wrapf(err, "ingest: load incidents for %s", month.Format("2006-01"))
		}

		cells, err := grid.Aggregate(incidents, month, b.idx, b.cats)
		if err != nil {
			return err
		}
		n, err := b.store.UpsertCells(ctx, month, grid.CellList(cells))
		if err != nil {
			return eris.Wrapf(err, "ingest: write cells for %s", month.Format("2006-01"))
		}
		run.RecordsProcessed += len(incidents)
		run.CellsWritten += int(n)

		if b.inv != nil {
			if err := b.inv.InvalidateMonth(ctx, month); err != nil {
				log.Warn("cache invalidation failed", zap.Time("month", month), zap.Error(err))
			}
		}
		log.Debug("month rebuilt",
			zap.Time("month", month),
			zap.Int("incidents", len(incidents)),
			zap.Int64("cells", n),
		)
	}
	return nil
}
