package scorer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/saferoute/internal/config"
	"github.com/sells-group/saferoute/internal/model"
	"github.com/sells-group/saferoute/internal/weighting"
)

var fixedNow = time.Date(2024, time.June, 15, 12, 0, 0, 0, time.UTC)

func month(y int, m time.Month) time.Time {
	return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
}

func square(minLng, minLat, size float64) []model.Point {
	return []model.Point{
		{Lng: minLng, Lat: minLat},
		{Lng: minLng + size, Lat: minLat},
		{Lng: minLng + size, Lat: minLat + size},
		{Lng: minLng, Lat: minLat + size},
	}
}

func cell(id string, m time.Time, boundary []model.Point, counts map[string]int) *model.Cell {
	total := 0
	for _, n := range counts {
		total += n
	}
	return &model.Cell{
		ID:             model.CellID(id),
		Month:          m,
		Boundary:       boundary,
		TotalCount:     total,
		WeightedCount:  float64(total),
		CategoryCounts: counts,
	}
}

type fakeReader struct {
	mu     sync.Mutex
	cells  map[time.Time][]*model.Cell
	err    error
	called int
}

func (f *fakeReader) CellsForMonth(_ context.Context, m time.Time) ([]*model.Cell, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.called++
	if f.err != nil {
		return nil, f.err
	}
	return f.cells[m], nil
}

type bboxReader struct {
	fakeReader
	boxes []model.BBox
}

func (b *bboxReader) CellsInBBox(ctx context.Context, m time.Time, box model.BBox) ([]*model.Cell, error) {
	b.mu.Lock()
	b.boxes = append(b.boxes, box)
	b.mu.Unlock()
	return b.CellsForMonth(ctx, m)
}

func newScorer(t *testing.T, r CellReader) *Scorer {
	t.Helper()
	s, err := New(r, weighting.MustDefault(), DefaultScoringConfig(), WithClock(func() time.Time { return fixedNow }))
	require.NoError(t, err)
	return s
}

// shortRoute runs ~70 m east along latitude 51.5, inside square(-0.01, 51.49, 0.02).
func shortRoute() []model.Point {
	return []model.Point{{Lng: 0.0, Lat: 51.5}, {Lng: 0.001, Lat: 51.5}}
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, weighting.MustDefault(), DefaultScoringConfig())
	assert.Error(t, err)

	_, err = New(&fakeReader{}, nil, DefaultScoringConfig())
	assert.Error(t, err)

	cfg := DefaultScoringConfig()
	cfg.LookbackMonths = 48
	_, err = New(&fakeReader{}, weighting.MustDefault(), cfg)
	assert.Error(t, err)

	s, err := New(&fakeReader{}, weighting.MustDefault(), config.ScoringConfig{})
	require.NoError(t, err)
	assert.Equal(t, DefaultScoringConfig(), s.Config())
}

func TestDetectHotspots(t *testing.T) {
	risks := []float64{1.0, 1.2, 1.1, 8.0, 9.0}
	segs := make([]model.SegmentRisk, len(risks))
	var total float64
	for i, r := range risks {
		segs[i] = model.SegmentRisk{Index: i, Start: model.Point{Lng: float64(i), Lat: 1}, RiskScore: r}
		total += r
	}

	hs := DetectHotspots(segs, total/float64(len(risks)), 1.5, 2.0)
	require.Len(t, hs, 2)
	assert.Equal(t, 3, hs[0].SegmentIndex)
	assert.Equal(t, model.HotspotHigh, hs[0].RiskLevel)
	assert.Equal(t, model.Point{Lng: 3, Lat: 1}, hs[0].Location)
	assert.Equal(t, "High crime area detected (risk: 8.00)", hs[0].Description)
	assert.Equal(t, 4, hs[1].SegmentIndex)
	assert.Equal(t, model.HotspotCritical, hs[1].RiskLevel)

	assert.Empty(t, DetectHotspots(segs, 0, 1.5, 2.0))
}

func TestScoreRoute_SafeDefaults(t *testing.T) {
	tests := []struct {
		name   string
		coords []model.Point
		cells  map[time.Time][]*model.Cell
	}{
		{name: "no coordinates"},
		{name: "single coordinate", coords: []model.Point{{Lng: 0, Lat: 51.5}}},
		{name: "no cells", coords: shortRoute()},
		{
			name:   "cells away from route",
			coords: shortRoute(),
			cells: map[time.Time][]*model.Cell{
				month(2024, time.June): {cell("far", month(2024, time.June), square(2, 53, 0.01), map[string]int{"burglary": 40})},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newScorer(t, &fakeReader{cells: tt.cells})
			got, err := s.ScoreRoute(context.Background(), RouteRequest{Coordinates: tt.coords})
			require.NoError(t, err)
			assert.Equal(t, model.SafeRoute(), got)
		})
	}
}

func ptr[T any](v T) *T { return &v }

func TestScoreRoute_InputErrors(t *testing.T) {
	neg := -5.0
	hour := 25
	tests := []struct {
		name  string
		req   RouteRequest
		param string
	}{
		{"lookback too large", RouteRequest{Coordinates: shortRoute(), LookbackMonths: ptr(30)}, "lookback_months"},
		{"lookback negative", RouteRequest{Coordinates: shortRoute(), LookbackMonths: ptr(-1)}, "lookback_months"},
		{"lookback zero", RouteRequest{Coordinates: shortRoute(), LookbackMonths: ptr(0)}, "lookback_months"},
		{"negative buffer", RouteRequest{Coordinates: shortRoute(), BufferMeters: &neg}, "buffer_meters"},
		{"bad time of day", RouteRequest{Coordinates: shortRoute(), TimeOfDay: "dusk"}, "time_of_day"},
		{"bad hour", RouteRequest{Coordinates: shortRoute(), DepartureHour: &hour}, "departure_hour"},
		{"bad weight", RouteRequest{Coordinates: shortRoute(), CategoryWeights: map[string]float64{"burglary": -1}}, "category_weights"},
		{"bad latitude", RouteRequest{Coordinates: []model.Point{{Lng: 0, Lat: 51}, {Lng: 0, Lat: 91}}}, "coordinates[1]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &fakeReader{}
			s := newScorer(t, r)
			_, err := s.ScoreRoute(context.Background(), tt.req)
			ie, ok := model.AsInputError(err)
			require.True(t, ok, "got %v", err)
			assert.Equal(t, tt.param, ie.Param)
			assert.Zero(t, r.called)
		})
	}
}

func TestScoreRoute_Recency(t *testing.T) {
	box := square(-0.01, 51.49, 0.02)
	counts := map[string]int{"burglary": 10}

	score := func(m time.Time) *model.ScoredRoute {
		s := newScorer(t, &fakeReader{cells: map[time.Time][]*model.Cell{m: {cell("a", m, box, counts)}}})
		got, err := s.ScoreRoute(context.Background(), RouteRequest{Coordinates: shortRoute()})
		require.NoError(t, err)
		return got
	}

	recent := score(month(2024, time.June))
	old := score(month(2023, time.October))

	assert.Equal(t, 10.0, recent.AvgSegmentRisk)
	assert.Equal(t, 5.0, old.AvgSegmentRisk)
	assert.Less(t, recent.SafetyScore, old.SafetyScore)
	assert.Equal(t, weighting.AbsoluteSafetyScore(10), recent.SafetyScore)
	assert.Equal(t, weighting.CorridorClass(recent.SafetyScore), recent.RiskClass)

	assert.Equal(t, 1, recent.SegmentCount)
	assert.Equal(t, 1, recent.CellsAnalyzed)
	assert.Equal(t, 1, recent.MonthsData)
	assert.Equal(t, map[string]float64{"burglary": 10}, recent.CrimeBreakdown)
	assert.Equal(t, map[string]float64{"burglary": 5}, old.CrimeBreakdown)
	assert.Empty(t, recent.Hotspots)
}

func TestScoreRoute_SegmentsAndHotspots(t *testing.T) {
	jun := month(2024, time.June)
	// Route runs ~1 km east; a dense cell covers only the last stretch.
	route := []model.Point{{Lng: 0.0, Lat: 51.5}, {Lng: 0.0144, Lat: 51.5}}
	r := &fakeReader{cells: map[time.Time][]*model.Cell{
		jun: {
			cell("quiet", jun, square(-0.001, 51.495, 0.013), map[string]int{"other-theft": 1}),
			cell("busy", jun, square(0.0135, 51.495, 0.004), map[string]int{"violent-crime": 30}),
		},
	}}
	s := newScorer(t, r)
	zero := 0.0

	got, err := s.ScoreRoute(context.Background(), RouteRequest{Coordinates: route, BufferMeters: &zero})
	require.NoError(t, err)

	assert.Equal(t, 10, got.SegmentCount)
	assert.Equal(t, 2, got.CellsAnalyzed)
	require.NotEmpty(t, got.Hotspots)
	last := got.Hotspots[len(got.Hotspots)-1]
	assert.Equal(t, 9, last.SegmentIndex)
	assert.Equal(t, model.HotspotCritical, last.RiskLevel)
	assert.Equal(t, got.Segments[9].Start, last.Location)
	assert.Equal(t, got.MaxSegmentRisk, got.Segments[9].RiskScore)
	assert.Equal(t, 1.0, got.Segments[0].RiskScore)
}

func TestScoreRoute_TimeOfDay(t *testing.T) {
	jun := month(2024, time.June)
	r := &fakeReader{cells: map[time.Time][]*model.Cell{
		jun: {cell("a", jun, square(-0.01, 51.49, 0.02), map[string]int{"violent-crime": 10})},
	}}
	s := newScorer(t, r)
	e := weighting.MustDefault()

	night, err := s.ScoreRoute(context.Background(), RouteRequest{Coordinates: shortRoute(), TimeOfDay: "night"})
	require.NoError(t, err)
	hour := 10
	day, err := s.ScoreRoute(context.Background(), RouteRequest{Coordinates: shortRoute(), DepartureHour: &hour})
	require.NoError(t, err)

	assert.InDelta(t, 10*e.TimeMultiplier("violent-crime", model.BucketNight), night.AvgSegmentRisk, 1e-9)
	assert.InDelta(t, 10*e.TimeMultiplier("violent-crime", model.BucketDay), day.AvgSegmentRisk, 1e-9)
	assert.Greater(t, night.AvgSegmentRisk, day.AvgSegmentRisk)
}

func TestScoreRoute_Unavailable(t *testing.T) {
	s := newScorer(t, &fakeReader{err: errors.New("connection refused")})
	_, err := s.ScoreRoute(context.Background(), RouteRequest{Coordinates: shortRoute()})
	require.Error(t, err)
	assert.True(t, model.IsUnavailable(err))
	assert.ErrorIs(t, err, model.ErrScoringUnavailable)
}

func TestScoreRoute_Cancelled(t *testing.T) {
	jun := month(2024, time.June)
	s := newScorer(t, &fakeReader{cells: map[time.Time][]*model.Cell{
		jun: {cell("a", jun, square(-0.01, 51.49, 0.02), map[string]int{"burglary": 3})},
	}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.ScoreRoute(ctx, RouteRequest{Coordinates: shortRoute()})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, model.IsUnavailable(err))
}

func TestScoreRoute_PushesDownBBox(t *testing.T) {
	r := &bboxReader{}
	s := newScorer(t, r)
	_, err := s.ScoreRoute(context.Background(), RouteRequest{Coordinates: shortRoute(), LookbackMonths: ptr(3)})
	require.NoError(t, err)

	require.Len(t, r.boxes, 3)
	for _, b := range r.boxes {
		assert.Less(t, b.MinLng, 0.0)
		assert.Greater(t, b.MaxLng, 0.001)
		assert.Less(t, b.MinLat, 51.5)
		assert.Greater(t, b.MaxLat, 51.5)
	}
}

func TestLookbackMonths(t *testing.T) {
	got := lookbackMonths(time.Date(2024, time.March, 31, 23, 0, 0, 0, time.UTC), 4)
	assert.Equal(t, []time.Time{
		month(2024, time.March), month(2024, time.February),
		month(2024, time.January), month(2023, time.December),
	}, got)
}

func TestCompareRoutes(t *testing.T) {
	jun := month(2024, time.June)
	r := &fakeReader{cells: map[time.Time][]*model.Cell{
		jun: {cell("a", jun, square(-0.01, 51.49, 0.02), map[string]int{"burglary": 10})},
	}}
	s := newScorer(t, r)

	got, err := s.CompareRoutes(context.Background(), CompareRequest{Candidates: []Candidate{
		{ID: "through", Coordinates: shortRoute()},
		{ID: "around", Coordinates: []model.Point{{Lng: 0.0, Lat: 52.0}, {Lng: 0.001, Lat: 52.0}}},
	}})
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "around", got[0].ID)
	assert.Equal(t, 1, got[0].Rank)
	assert.True(t, got[0].IsRecommended)
	assert.Equal(t, 100.0, got[0].SafetyScore)
	assert.Equal(t, model.RiskLow, got[0].RiskClass)
	assert.Zero(t, got[0].CellsAnalyzed)

	assert.Equal(t, "through", got[1].ID)
	assert.Equal(t, 2, got[1].Rank)
	assert.False(t, got[1].IsRecommended)
	assert.Equal(t, 10.0, got[1].RawRisk)
	assert.Equal(t, model.RiskHigh, got[1].RiskClass)
	assert.Equal(t, 1, got[1].CellsAnalyzed)
}

func TestCompareRoutes_TiesAndSingles(t *testing.T) {
	s := newScorer(t, &fakeReader{})

	got, err := s.CompareRoutes(context.Background(), CompareRequest{Candidates: []Candidate{
		{Coordinates: shortRoute()},
		{Coordinates: shortRoute()},
	}})
	require.NoError(t, err)
	assert.Equal(t, "route_1", got[0].ID)
	assert.Equal(t, 90.0, got[0].SafetyScore)
	assert.Equal(t, 90.0, got[1].SafetyScore)

	single, err := s.CompareRoutes(context.Background(), CompareRequest{Candidates: []Candidate{{ID: "only", Coordinates: shortRoute()}}})
	require.NoError(t, err)
	require.Len(t, single, 1)
	assert.Equal(t, 90.0, single[0].SafetyScore)
	assert.True(t, single[0].IsRecommended)
}

func TestCompareRoutes_Invalid(t *testing.T) {
	s := newScorer(t, &fakeReader{})

	_, err := s.CompareRoutes(context.Background(), CompareRequest{})
	ie, ok := model.AsInputError(err)
	require.True(t, ok)
	assert.Equal(t, "routes", ie.Param)

	_, err = s.CompareRoutes(context.Background(), CompareRequest{Candidates: []Candidate{
		{ID: "x", Coordinates: shortRoute()},
		{ID: "x", Coordinates: shortRoute()},
	}})
	ie, ok = model.AsInputError(err)
	require.True(t, ok)
	assert.Equal(t, "routes[1].id", ie.Param)
}

func TestSnapshot(t *testing.T) {
	jun, may := month(2024, time.June), month(2024, time.May)
	r := &fakeReader{cells: map[time.Time][]*model.Cell{
		jun: {
			cell("hot", jun, square(0.0, 51.5, 0.01), map[string]int{"burglary": 30}),
			cell("calm", jun, square(0.01, 51.5, 0.01), map[string]int{"burglary": 1}),
			cell("outside", jun, square(5.0, 51.5, 0.01), map[string]int{"burglary": 99}),
		},
		may: {cell("calm", may, square(0.01, 51.5, 0.01), map[string]int{"other-theft": 2})},
	}}
	s, err := New(r, weighting.MustDefault(), DefaultScoringConfig(),
		WithClock(func() time.Time { return fixedNow }), WithResolution(9))
	require.NoError(t, err)

	box := model.BBox{MinLng: -0.01, MinLat: 51.49, MaxLng: 0.03, MaxLat: 51.52}
	got, err := s.Snapshot(context.Background(), SnapshotRequest{BBox: box, LookbackMonths: ptr(6), TimeOfDay: "night"})
	require.NoError(t, err)

	require.Len(t, got.Cells, 2)
	assert.Equal(t, model.CellID("hot"), got.Cells[0].ID)
	assert.Equal(t, model.CellID("calm"), got.Cells[1].ID)
	assert.Equal(t, 2, got.Cells[1].MonthsData)
	assert.Equal(t, 3, got.Cells[1].CrimeCount)
	assert.Equal(t, map[string]int{"burglary": 1, "other-theft": 2}, got.Cells[1].CrimeBreakdown)
	assert.NotEmpty(t, got.Cells[0].Geometry)
	assert.Greater(t, got.Cells[0].RiskScore, got.Cells[1].RiskScore)
	assert.Equal(t, weighting.SafetyFromFraction(got.Cells[0].RiskScore), got.Cells[0].SafetyScore)

	assert.Equal(t, 2, got.Summary.TotalCells)
	assert.Equal(t, 33, got.Summary.TotalCrimes)
	require.NotNil(t, got.Summary.HighestRiskCell)
	assert.Equal(t, model.CellID("hot"), *got.Summary.HighestRiskCell)
	assert.Equal(t, model.CellID("calm"), *got.Summary.LowestRiskCell)
	assert.Equal(t, weighting.Round((got.Cells[0].SafetyScore+got.Cells[1].SafetyScore)/2, 1), got.Summary.AvgSafetyScore)

	require.NotNil(t, got.Meta.TimeFilter)
	assert.Equal(t, "night", *got.Meta.TimeFilter)
	assert.Equal(t, 6, got.Meta.LookbackMonths)
	assert.Equal(t, 6, got.Meta.MonthsIncluded)
	assert.Equal(t, 9, got.Meta.Resolution)
	assert.Equal(t, "h3", got.Meta.GridType)
	assert.Equal(t, box.Slice(), got.Meta.BBox)
}

func TestSnapshot_Empty(t *testing.T) {
	s := newScorer(t, &fakeReader{})
	got, err := s.Snapshot(context.Background(), SnapshotRequest{BBox: model.BBox{MinLng: 0, MinLat: 0, MaxLng: 1, MaxLat: 1}})
	require.NoError(t, err)
	assert.Empty(t, got.Cells)
	assert.Equal(t, 100.0, got.Summary.AvgSafetyScore)
	assert.Nil(t, got.Summary.HighestRiskCell)
	assert.Nil(t, got.Meta.TimeFilter)
	assert.Equal(t, 12, got.Meta.LookbackMonths)
}

func TestSnapshot_ExplicitLookbackNotCorrected(t *testing.T) {
	for _, n := range []int{0, 25} {
		r := &fakeReader{}
		s := newScorer(t, r)
		_, err := s.Snapshot(context.Background(), SnapshotRequest{
			BBox:           model.BBox{MinLng: 0, MinLat: 0, MaxLng: 1, MaxLat: 1},
			LookbackMonths: ptr(n),
		})
		ie, ok := model.AsInputError(err)
		require.True(t, ok, "lookback=%d got %v", n, err)
		assert.Equal(t, "lookback_months", ie.Param)
		assert.Zero(t, r.called)
	}
}

func TestSnapshot_BadBBox(t *testing.T) {
	s := newScorer(t, &fakeReader{})
	_, err := s.Snapshot(context.Background(), SnapshotRequest{BBox: model.BBox{MinLng: 1, MinLat: 0, MaxLng: 0, MaxLat: 1}})
	ie, ok := model.AsInputError(err)
	require.True(t, ok)
	assert.Equal(t, "bbox", ie.Param)
}
