// Package weighting computes recency decay, time-of-day multipliers and the
// risk→safety normalisations. Everything here is pure and deterministic.
package weighting

import (
	"sort"

	"github.com/rotisserie/eris"

	"github.com/sells-group/saferoute/internal/model"
)

// RecencyStep applies Weight to incidents at most MaxMonthsAgo months old.
type RecencyStep struct {
	MaxMonthsAgo int     `yaml:"max_months_ago" mapstructure:"max_months_ago"`
	Weight       float64 `yaml:"weight" mapstructure:"weight"`
}

// Config is the immutable weighting table set. Build one at startup and pass
// it to New; it is never mutated afterwards.
type Config struct {
	// Recency steps in ascending MaxMonthsAgo order.
	Recency []RecencyStep
	// RecencyFloor applies beyond the last step.
	RecencyFloor float64
	// TimeWeights maps category → bucket → multiplier.
	TimeWeights map[string]map[model.TimeBucket]float64
}

// Bucket sums per category must stay inside this range.
const (
	minBucketSum = 3.0
	maxBucketSum = 7.0
)

// DefaultConfig returns the production weighting tables.
func DefaultConfig() Config {
	return Config{
		Recency: []RecencyStep{
			{MaxMonthsAgo: 3, Weight: 1.0},
			{MaxMonthsAgo: 6, Weight: 0.75},
			{MaxMonthsAgo: 12, Weight: 0.5},
		},
		RecencyFloor: 0.25,
		TimeWeights:  defaultTimeWeights(),
	}
}

func defaultTimeWeights() map[string]map[model.TimeBucket]float64 {
	row := func(night, evening, day, morning float64) map[model.TimeBucket]float64 {
		return map[model.TimeBucket]float64{
			model.BucketNight:   night,
			model.BucketEvening: evening,
			model.BucketDay:     day,
			model.BucketMorning: morning,
		}
	}
	return map[string]map[model.TimeBucket]float64{
		"violent-crime":         row(1.8, 1.5, 0.8, 0.6),
		"anti-social-behaviour": row(1.7, 1.6, 0.7, 0.5),
		"burglary":              row(1.5, 1.0, 1.2, 0.8),
		"robbery":               row(1.6, 1.4, 0.9, 0.7),
		"theft-from-the-person": row(1.0, 1.5, 1.3, 0.6),
		"vehicle-crime":         row(1.7, 1.2, 0.8, 0.6),
		"shoplifting":           row(0.2, 1.3, 1.8, 0.7),
		"bicycle-theft":         row(0.8, 1.3, 1.5, 0.9),
		"drugs":                 row(1.4, 1.3, 1.0, 0.8),
		"public-order":          row(1.6, 1.5, 0.9, 0.6),
		"possession-of-weapons": row(1.5, 1.4, 1.0, 0.7),
		"criminal-damage-arson": row(1.6, 1.2, 0.9, 0.7),
		"other-theft":           row(1.0, 1.2, 1.3, 0.9),
		"other-crime":           row(1.0, 1.0, 1.0, 1.0),
	}
}

// Validate checks the table invariants: recency weights in (0, 1] and
// non-increasing with age, and each category's bucket weights summing to
// within [3, 7].
func (c Config) Validate() error {
	if len(c.Recency) == 0 {
		return eris.New("weighting: no recency steps")
	}
	prevMonths := -1
	prevWeight := 1.0
	for i, s := range c.Recency {
		if s.MaxMonthsAgo <= prevMonths {
			return eris.Errorf("weighting: recency step %d not in ascending month order", i)
		}
		if s.Weight <= 0 || s.Weight > prevWeight {
			return eris.Errorf("weighting: recency step %d weight %.2f breaks (0, %.2f]", i, s.Weight, prevWeight)
		}
		prevMonths, prevWeight = s.MaxMonthsAgo, s.Weight
	}
	if c.RecencyFloor <= 0 || c.RecencyFloor > prevWeight {
		return eris.Errorf("weighting: recency floor %.2f breaks (0, %.2f]", c.RecencyFloor, prevWeight)
	}

	cats := make([]string, 0, len(c.TimeWeights))
	for cat := range c.TimeWeights {
		cats = append(cats, cat)
	}
	sort.Strings(cats)
	for _, cat := range cats {
		var sum float64
		for _, b := range model.TimeBuckets {
			w, ok := c.TimeWeights[cat][b]
			if !ok {
				w = 1.0
			}
			if w < 0 {
				return eris.Errorf("weighting: negative %s weight for %s", b, cat)
			}
			sum += w
		}
		if sum < minBucketSum || sum > maxBucketSum {
			return eris.Errorf("weighting: %s bucket weights sum to %.2f, want [%.0f, %.0f]", cat, sum, minBucketSum, maxBucketSum)
		}
	}
	return nil
}

// clone deep-copies the tables so callers cannot mutate an Engine's config.
func (c Config) clone() Config {
	out := Config{
		Recency:      append([]RecencyStep(nil), c.Recency...),
		RecencyFloor: c.RecencyFloor,
		TimeWeights:  make(map[string]map[model.TimeBucket]float64, len(c.TimeWeights)),
	}
	for cat, row := range c.TimeWeights {
		cp := make(map[model.TimeBucket]float64, len(row))
		for b, w := range row {
			cp[b] = w
		}
		out.TimeWeights[cat] = cp
	}
	return out
}
