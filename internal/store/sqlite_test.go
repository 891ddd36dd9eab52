package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/saferoute/internal/model"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func shifted(ring []model.Point, dLng float64) []model.Point {
	out := make([]model.Point, len(ring))
	for i, p := range ring {
		out[i] = model.Point{Lng: p.Lng + dLng, Lat: p.Lat}
	}
	return out
}

func TestSQLiteStore_CellRoundTrip(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	cells := []*model.Cell{
		{ID: "b", Month: jan, Boundary: square(), TotalCount: 2, WeightedCount: 6, CategoryCounts: map[string]int{"robbery": 2}},
		{ID: "a", Month: jan, Boundary: shifted(square(), 1), TotalCount: 1, WeightedCount: 1, CategoryCounts: map[string]int{"drugs": 1}},
	}
	n, err := s.UpsertCells(ctx, jan, cells)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	got, err := s.CellsForMonth(ctx, jan)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, model.CellID("a"), got[0].ID)
	assert.Equal(t, model.CellID("b"), got[1].ID)
	assert.Equal(t, jan, got[1].Month)
	assert.Equal(t, 2, got[1].TotalCount)
	assert.InDelta(t, 6.0, got[1].WeightedCount, 1e-9)
	assert.Equal(t, map[string]int{"robbery": 2}, got[1].CategoryCounts)
	assert.InDelta(t, -0.10, got[1].Boundary[0].Lng, 1e-9)

	other, err := s.CellsForMonth(ctx, jan.AddDate(0, 1, 0))
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestSQLiteStore_UpsertCellsReplacesMonth(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	_, err := s.UpsertCells(ctx, jan, []*model.Cell{{ID: "old", Boundary: square(), CategoryCounts: map[string]int{}}})
	require.NoError(t, err)
	_, err = s.UpsertCells(ctx, jan, []*model.Cell{{ID: "new", Boundary: square(), CategoryCounts: map[string]int{}}})
	require.NoError(t, err)

	got, err := s.CellsForMonth(ctx, jan)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, model.CellID("new"), got[0].ID)

	n, err := s.DeleteCellsForMonth(ctx, jan)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestSQLiteStore_CellsInBBox(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	_, err := s.UpsertCells(ctx, jan, []*model.Cell{
		{ID: "near", Boundary: square(), CategoryCounts: map[string]int{}},
		{ID: "far", Boundary: shifted(square(), 2), CategoryCounts: map[string]int{}},
	})
	require.NoError(t, err)

	got, err := s.CellsInBBox(ctx, jan, model.BBox{MinLng: -0.2, MinLat: 51.4, MaxLng: 0, MaxLat: 51.6})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, model.CellID("near"), got[0].ID)
}

func TestSQLiteStore_Incidents(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()
	feb := jan.AddDate(0, 1, 0)

	n, err := s.InsertIncidents(ctx, []model.Incident{
		{ID: "x1", Category: "burglary", Month: jan, Location: model.Point{Lng: -0.1, Lat: 51.5}, LocationDesc: "On or near High Street"},
		{ID: "x2", Category: "drugs", Month: feb, Location: model.Point{Lng: -0.2, Lat: 51.4}},
		{Category: "robbery", Month: feb, Location: model.Point{Lng: -0.2, Lat: 51.4}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	// Re-inserting the same id updates in place.
	_, err = s.InsertIncidents(ctx, []model.Incident{
		{ID: "x1", Category: "theft-from-the-person", Month: jan, Location: model.Point{Lng: -0.1, Lat: 51.5}},
	})
	require.NoError(t, err)

	got, err := s.IncidentsForMonth(ctx, jan)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "theft-from-the-person", got[0].Category)
	assert.Equal(t, jan, got[0].Month)

	months, err := s.IncidentMonths(ctx)
	require.NoError(t, err)
	assert.Equal(t, []time.Time{jan, feb}, months)
}

func TestSQLiteStore_Categories(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	_, err := s.UpsertCategories(ctx, []model.Category{
		{ID: "robbery", Name: "Robbery", HarmWeight: 4, IsPersonal: true},
		{ID: "bicycle-theft", Name: "Bicycle theft", HarmWeight: 1.5, IsProperty: true},
	})
	require.NoError(t, err)
	_, err = s.UpsertCategories(ctx, []model.Category{{ID: "robbery", Name: "Robbery", HarmWeight: 4.5, IsPersonal: true}})
	require.NoError(t, err)

	cats, err := s.Categories(ctx)
	require.NoError(t, err)
	require.Len(t, cats, 2)
	assert.Equal(t, "bicycle-theft", cats[0].ID)
	assert.True(t, cats[0].IsProperty)
	assert.InDelta(t, 4.5, cats[1].HarmWeight, 1e-9)
}

func TestSQLiteStore_Runs(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	run, err := s.CreateRun(ctx, []time.Time{jan, jan.AddDate(0, 1, 0)})
	require.NoError(t, err)

	run.Status = model.RunStatusSuccess
	run.RecordsProcessed = 40
	run.CellsWritten = 9
	require.NoError(t, s.FinishRun(ctx, run))

	got, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusSuccess, got.Status)
	assert.Equal(t, []string{"2024-01", "2024-02"}, got.Months)
	assert.Equal(t, 40, got.RecordsProcessed)
	assert.Equal(t, 9, got.CellsWritten)
	assert.NotNil(t, got.FinishedAt)

	_, err = s.GetRun(ctx, "missing")
	assert.Error(t, err)
	assert.Error(t, s.FinishRun(ctx, &model.IngestionRun{ID: "missing"}))
}
