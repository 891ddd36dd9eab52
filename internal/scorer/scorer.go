package scorer

import (
	"context"
	"math"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/saferoute/internal/config"
	"github.com/sells-group/saferoute/internal/geospatial"
	"github.com/sells-group/saferoute/internal/model"
	"github.com/sells-group/saferoute/internal/weighting"
)

// CellReader supplies aggregated cells for one month. Cells must already be
// fully aggregated; a month with no cells returns an empty slice.
type CellReader interface {
	CellsForMonth(ctx context.Context, month time.Time) ([]*model.Cell, error)
}

// BBoxReader is implemented by stores that can pre-filter cells spatially.
// The scorer still runs its own exact intersection tests on the result.
type BBoxReader interface {
	CellsInBBox(ctx context.Context, month time.Time, bbox model.BBox) ([]*model.Cell, error)
}

// Scorer is safe for concurrent use. It holds only read-only reference data.
type Scorer struct {
	cells      CellReader
	engine     *weighting.Engine
	cfg        config.ScoringConfig
	resolution int
	now        func() time.Time
}

// Option configures a Scorer.
type Option func(*Scorer)

// WithClock fixes the clock used to derive the current month.
func WithClock(now func() time.Time) Option {
	return func(s *Scorer) { s.now = now }
}

// WithResolution records the grid resolution reported in snapshot metadata.
func WithResolution(res int) Option {
	return func(s *Scorer) { s.resolution = res }
}

// New creates a Scorer. Zero config fields take their defaults.
func New(cells CellReader, engine *weighting.Engine, cfg config.ScoringConfig, opts ...Option) (*Scorer, error) {
	if cells == nil {
		return nil, eris.New("scorer: nil cell reader")
	}
	if engine == nil {
		return nil, eris.New("scorer: nil weighting engine")
	}
	cfg = withDefaults(cfg)
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	s := &Scorer{
		cells:      cells,
		engine:     engine,
		cfg:        cfg,
		resolution: geospatial.DefaultResolution,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Config returns the effective scoring configuration.
func (s *Scorer) Config() config.ScoringConfig {
	return s.cfg
}

// queryParams are the validated, defaulted knobs shared by every scoring path.
type queryParams struct {
	lookback  int
	bufferM   float64
	bufferDeg float64
	bucket    model.TimeBucket
	risk      weighting.RiskOptions
}

// resolveParams validates request knobs. Nil lookback and nil buffer take
// the configured defaults; explicit values are never corrected. An explicit
// time_of_day wins over departureHour.
func (s *Scorer) resolveParams(lookback *int, buffer *float64, timeOfDay string, departureHour *int, weights map[string]float64) (queryParams, error) {
	p := queryParams{lookback: s.cfg.LookbackMonths, bufferM: s.cfg.BufferMeters}

	if lookback != nil {
		if *lookback < MinLookbackMonths || *lookback > MaxLookbackMonths {
			return p, model.NewInputError("lookback_months", "%d is outside [%d, %d]", *lookback, MinLookbackMonths, MaxLookbackMonths)
		}
		p.lookback = *lookback
	}

	if buffer != nil {
		if math.IsNaN(*buffer) || math.IsInf(*buffer, 0) || *buffer < 0 {
			return p, model.NewInputError("buffer_meters", "must be a finite value >= 0")
		}
		p.bufferM = *buffer
	}
	p.bufferDeg = geospatial.MetersToDegrees(p.bufferM)

	bucket, err := model.ParseTimeBucket(timeOfDay)
	if err != nil {
		return p, err
	}
	if bucket == "" && departureHour != nil {
		if bucket, err = weighting.BucketOf(*departureHour); err != nil {
			return p, err
		}
	}
	p.bucket = bucket

	for cat, w := range weights {
		if math.IsNaN(w) || math.IsInf(w, 0) || w < 0 {
			return p, model.NewInputError("category_weights", "weight for %q must be a finite value >= 0", cat)
		}
	}
	p.risk = weighting.RiskOptions{Bucket: bucket, CategoryWeights: weights}
	return p, nil
}

// lookbackMonths lists first-of-month dates from the current month backwards.
func lookbackMonths(now time.Time, n int) []time.Time {
	cur := model.MonthStart(now)
	months := make([]time.Time, n)
	for i := range months {
		months[i] = cur.AddDate(0, -i, 0)
	}
	return months
}

// fetchMonths reads every month concurrently and returns the cells in month
// order. A non-nil bbox is pushed down to stores implementing BBoxReader.
// Any read failure is reported as ErrScoringUnavailable.
func (s *Scorer) fetchMonths(ctx context.Context, months []time.Time, bbox *model.BBox) ([][]*model.Cell, error) {
	results := make([][]*model.Cell, len(months))
	bboxReader, canFilter := s.cells.(BBoxReader)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.FetchConcurrency)
	for i, month := range months {
		g.Go(func() error {
			var (
				cells []*model.Cell
				err   error
			)
			if bbox != nil && canFilter {
				cells, err = bboxReader.CellsInBBox(gctx, month, *bbox)
			} else {
				cells, err = s.cells.CellsForMonth(gctx, month)
			}
			if err != nil {
				return eris.Wrapf(err, "scorer: read cells for %s", month.Format("2006-01"))
			}
			results[i] = cells
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		zap.L().Error("cell read failed", zap.String("component", "scorer"), zap.Error(err))
		return nil, model.Unavailable(err, "read cells")
	}
	return results, nil
}

// monthsWithData counts months that returned at least one cell.
func monthsWithData(results [][]*model.Cell) int {
	n := 0
	for _, cells := range results {
		if len(cells) > 0 {
			n++
		}
	}
	return n
}

// expandBBox grows b by d degrees, clamped to valid coordinates.
func expandBBox(b model.BBox, d float64) model.BBox {
	return model.BBox{
		MinLng: math.Max(-180, b.MinLng-d),
		MinLat: math.Max(-90, b.MinLat-d),
		MaxLng: math.Min(180, b.MaxLng+d),
		MaxLat: math.Min(90, b.MaxLat+d),
	}
}
