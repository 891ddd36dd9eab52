// Package scorer scores route corridors, compares alternative routes and
// builds heatmap snapshots from persisted grid cells.
package scorer

import (
	"github.com/rotisserie/eris"

	"github.com/sells-group/saferoute/internal/config"
	"github.com/sells-group/saferoute/internal/segment"
)

// Request bounds.
const (
	MinLookbackMonths = 1
	MaxLookbackMonths = 24
)

// DefaultScoringConfig returns a config.ScoringConfig with the standard
// corridor settings.
func DefaultScoringConfig() config.ScoringConfig {
	return config.ScoringConfig{
		LookbackMonths:     12,
		BufferMeters:       50,
		SegmentLengthM:     segment.DefaultTargetMeters,
		MaxSegmentLengthM:  segment.DefaultMaxSegmentMeters,
		MaxSegments:        segment.DefaultMaxSegments,
		HotspotMultiplier:  1.5,
		CriticalMultiplier: 2.0,
		FetchConcurrency:   4,
	}
}

// withDefaults fills zero fields from DefaultScoringConfig.
func withDefaults(cfg config.ScoringConfig) config.ScoringConfig {
	def := DefaultScoringConfig()
	if cfg.LookbackMonths == 0 {
		cfg.LookbackMonths = def.LookbackMonths
	}
	if cfg.BufferMeters == 0 {
		cfg.BufferMeters = def.BufferMeters
	}
	if cfg.SegmentLengthM == 0 {
		cfg.SegmentLengthM = def.SegmentLengthM
	}
	if cfg.MaxSegmentLengthM == 0 {
		cfg.MaxSegmentLengthM = def.MaxSegmentLengthM
	}
	if cfg.MaxSegments == 0 {
		cfg.MaxSegments = def.MaxSegments
	}
	if cfg.HotspotMultiplier == 0 {
		cfg.HotspotMultiplier = def.HotspotMultiplier
	}
	if cfg.CriticalMultiplier == 0 {
		cfg.CriticalMultiplier = def.CriticalMultiplier
	}
	if cfg.FetchConcurrency == 0 {
		cfg.FetchConcurrency = def.FetchConcurrency
	}
	return cfg
}

func validateConfig(cfg config.ScoringConfig) error {
	if cfg.LookbackMonths < MinLookbackMonths || cfg.LookbackMonths > MaxLookbackMonths {
		return eris.Errorf("scorer: lookback %d outside %d..%d", cfg.LookbackMonths, MinLookbackMonths, MaxLookbackMonths)
	}
	if cfg.BufferMeters < 0 {
		return eris.New("scorer: buffer must be >= 0")
	}
	if cfg.HotspotMultiplier <= 1 || cfg.CriticalMultiplier < cfg.HotspotMultiplier {
		return eris.Errorf("scorer: hotspot multipliers %.2f/%.2f invalid", cfg.HotspotMultiplier, cfg.CriticalMultiplier)
	}
	if cfg.FetchConcurrency < 1 || cfg.MaxSegments < 1 {
		return eris.New("scorer: fetch concurrency and max segments must be >= 1")
	}
	return nil
}
