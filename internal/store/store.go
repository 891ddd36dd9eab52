// Package store persists incidents, aggregated grid cells, crime categories
// and ingestion runs. Scoring only ever reads through CellReader.
package store

import (
	"context"
	"time"

	"github.com/sells-group/saferoute/internal/model"
)

// CellReader is the read path used by scoring. Implementations must never
// return a partially rebuilt month.
type CellReader interface {
	CellsForMonth(ctx context.Context, month time.Time) ([]*model.Cell, error)
	CellsInBBox(ctx context.Context, month time.Time, bbox model.BBox) ([]*model.Cell, error)
}

// Store is the full persistence interface used by ingestion and the CLI.
type Store interface {
	CellReader

	// Cells. UpsertCells replaces every cell of month in one transaction.
	UpsertCells(ctx context.Context, month time.Time, cells []*model.Cell) (int64, error)
	DeleteCellsForMonth(ctx context.Context, month time.Time) (int64, error)

	// Incidents
	InsertIncidents(ctx context.Context, incidents []model.Incident) (int64, error)
	IncidentsForMonth(ctx context.Context, month time.Time) ([]model.Incident, error)
	IncidentMonths(ctx context.Context) ([]time.Time, error)

	// Categories
	Categories(ctx context.Context) ([]model.Category, error)
	UpsertCategories(ctx context.Context, cats []model.Category) (int64, error)

	// Runs
	CreateRun(ctx context.Context, months []time.Time) (*model.IngestionRun, error)
	FinishRun(ctx context.Context, run *model.IngestionRun) error
	GetRun(ctx context.Context, id string) (*model.IngestionRun, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

func monthStrings(months []time.Time) []string {
	out := make([]string, len(months))
	for i, m := range months {
		out[i] = model.MonthStart(m).Format("2006-01")
	}
	return out
}
