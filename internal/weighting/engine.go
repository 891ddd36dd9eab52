package weighting

import (
	"time"

	"github.com/sells-group/saferoute/internal/model"
)

// Engine applies a validated Config. It is safe for concurrent use.
type Engine struct {
	cfg Config
}

// New validates cfg and returns an Engine holding a private copy of it.
func New(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{cfg: cfg.clone()}, nil
}

// MustDefault returns an Engine over DefaultConfig.
func MustDefault() *Engine {
	e, err := New(DefaultConfig())
	if err != nil {
		panic(err)
	}
	return e
}

// RecencyWeight is the step decay for data monthsAgo months old. Negative
// ages (future months) count as current.
func (e *Engine) RecencyWeight(monthsAgo int) float64 {
	for _, s := range e.cfg.Recency {
		if monthsAgo <= s.MaxMonthsAgo {
			return s.Weight
		}
	}
	return e.cfg.RecencyFloor
}

// TimeMultiplier looks up the category's weight for bucket. Unknown categories
// and buckets weigh 1.0.
func (e *Engine) TimeMultiplier(category string, bucket model.TimeBucket) float64 {
	row, ok := e.cfg.TimeWeights[category]
	if !ok {
		return 1.0
	}
	w, ok := row[bucket]
	if !ok {
		return 1.0
	}
	return w
}

// BucketOf maps a local hour to its time bucket. Buckets are half-open:
// night [22,6), morning [6,9), day [9,17), evening [17,22).
func BucketOf(hour int) (model.TimeBucket, error) {
	switch {
	case hour < 0 || hour > 23:
		return "", model.NewInputError("departure_hour", "%d outside 0..23", hour)
	case hour < 6:
		return model.BucketNight, nil
	case hour < 9:
		return model.BucketMorning, nil
	case hour < 17:
		return model.BucketDay, nil
	case hour < 22:
		return model.BucketEvening, nil
	default:
		return model.BucketNight, nil
	}
}

// MonthsBetween counts whole calendar months from earlier to later.
func MonthsBetween(earlier, later time.Time) int {
	earlier, later = earlier.UTC(), later.UTC()
	return (later.Year()-earlier.Year())*12 + int(later.Month()) - int(earlier.Month())
}

// RiskOptions selects how a cell's raw risk is computed.
type RiskOptions struct {
	// Bucket applies time-of-day multipliers per category when set.
	Bucket model.TimeBucket
	// CategoryWeights overrides the stored weighted count by recomputing it
	// from category counts. Categories missing from the map weigh 1.0.
	CategoryWeights map[string]float64
}

// BaseRisk is a cell's risk before recency decay.
//
// With no options it is the stored weighted count. With a category override
// or a time bucket it is recomputed as Σ count × weight × multiplier over the
// category tally; weight is 1.0 unless overridden. Cells without a category
// tally keep the stored weighted count.
func (e *Engine) BaseRisk(c *model.Cell, opts RiskOptions) float64 {
	if (opts.Bucket == "" && opts.CategoryWeights == nil) || len(c.CategoryCounts) == 0 {
		return c.WeightedCount
	}
	var risk float64
	for cat, n := range c.CategoryCounts {
		w := 1.0
		if opts.CategoryWeights != nil {
			if cw, ok := opts.CategoryWeights[cat]; ok {
				w = cw
			}
		}
		if opts.Bucket != "" {
			w *= e.TimeMultiplier(cat, opts.Bucket)
		}
		risk += float64(n) * w
	}
	return risk
}

// CellRisk is BaseRisk decayed by the cell's age relative to now.
func (e *Engine) CellRisk(c *model.Cell, now time.Time, opts RiskOptions) float64 {
	return e.BaseRisk(c, opts) * e.RecencyWeight(MonthsBetween(c.Month, now))
}

// CategoryBreakdown adds count × time multiplier × recency per category of c
// into totals.
func (e *Engine) CategoryBreakdown(totals map[string]float64, c *model.Cell, now time.Time, bucket model.TimeBucket) {
	recency := e.RecencyWeight(MonthsBetween(c.Month, now))
	for cat, n := range c.CategoryCounts {
		tm := 1.0
		if bucket != "" {
			tm = e.TimeMultiplier(cat, bucket)
		}
		totals[cat] += float64(n) * tm * recency
	}
}
