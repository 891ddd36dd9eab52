package weighting

import (
	"math"

	"github.com/rotisserie/eris"

	"github.com/sells-group/saferoute/internal/model"
)

// ErrNoCandidates is returned by RelativeSafetyScores for an empty input.
var ErrNoCandidates = eris.New("weighting: no candidate routes")

// Absolute risk bands. thresholds[i] is the upper edge of band i, whose risk
// fraction runs from bandFloor[i] to bandFloor[i]+bandSpan[i].
var (
	thresholds = [...]float64{5, 20, 50, 100, 200}
	bandFloor  = [...]float64{0, 0.2, 0.4, 0.6, 0.8}
	bandSpan   = [...]float64{0.2, 0.2, 0.2, 0.2, 0.15}
)

const (
	saturationFloor = 0.95
	saturationSpan  = 0.05
	saturationCap   = 200.0

	tieScoreZero    = 90.0
	tieScoreNonZero = 85.0
	minMaxEpsilon   = 1e-9
)

// AbsoluteRiskFraction maps weighted risk onto [0, 1] using the threshold
// bands 5/20/50/100/200. Risk above 200 saturates towards 1 and is capped at
// 400.
func AbsoluteRiskFraction(risk float64) float64 {
	if risk <= 0 || math.IsNaN(risk) {
		return 0
	}
	lower := 0.0
	for i, upper := range thresholds {
		if risk < upper {
			return clamp01(bandFloor[i] + bandSpan[i]*(risk-lower)/(upper-lower))
		}
		lower = upper
	}
	excess := math.Min(risk-lower, saturationCap)
	return clamp01(saturationFloor + saturationSpan*excess/saturationCap)
}

// SafetyFromFraction is round((1 - f) × 100, 1), clamped to [0, 100].
func SafetyFromFraction(f float64) float64 {
	return Round(clamp(0, 100, (1-clamp01(f))*100), 1)
}

// AbsoluteSafetyScore normalises an absolute cell or corridor risk.
func AbsoluteSafetyScore(risk float64) float64 {
	return SafetyFromFraction(AbsoluteRiskFraction(risk))
}

// RelativeSafetyScores min-max normalises raw risks across competing routes.
// Ties score 90 when risk is zero and 85 otherwise. A single candidate has no
// peers, so it scores by risk density instead: 100 - 10 × risk per km, with
// 90 for zero risk. lengthsMeters may be nil when len(risks) > 1.
func RelativeSafetyScores(risks, lengthsMeters []float64) ([]float64, error) {
	switch len(risks) {
	case 0:
		return nil, ErrNoCandidates
	case 1:
		if risks[0] == 0 {
			return []float64{tieScoreZero}, nil
		}
		km := 1.0
		if len(lengthsMeters) > 0 && lengthsMeters[0] > 0 {
			km = lengthsMeters[0] / 1000
		}
		return []float64{Round(clamp(0, 100, 100-risks[0]/km*10), 1)}, nil
	}

	lo, hi := risks[0], risks[0]
	for _, r := range risks[1:] {
		lo = math.Min(lo, r)
		hi = math.Max(hi, r)
	}

	scores := make([]float64, len(risks))
	if hi == lo {
		score := tieScoreNonZero
		if hi == 0 {
			score = tieScoreZero
		}
		for i := range scores {
			scores[i] = score
		}
		return scores, nil
	}
	for i, r := range risks {
		n := (r - lo) / (hi - lo + minMaxEpsilon)
		scores[i] = SafetyFromFraction(n)
	}
	return scores, nil
}

// CorridorClass grades snapshot and route-corridor scores: 80+ low, 60+ medium.
func CorridorClass(score float64) model.RiskClass {
	switch {
	case score >= 80:
		return model.RiskLow
	case score >= 60:
		return model.RiskMedium
	default:
		return model.RiskHigh
	}
}

// ComparisonClass grades head-to-head comparison scores: 75+ low, 50+ medium.
func ComparisonClass(score float64) model.RiskClass {
	switch {
	case score >= 75:
		return model.RiskLow
	case score >= 50:
		return model.RiskMedium
	default:
		return model.RiskHigh
	}
}

// Round rounds half away from zero to the given number of decimals.
func Round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

func clamp01(v float64) float64 { return clamp(0, 1, v) }

func clamp(lo, hi, v float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
