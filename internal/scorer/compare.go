package scorer

import (
	"context"
	"fmt"
	"sort"

	"github.com/sells-group/saferoute/internal/geospatial"
	"github.com/sells-group/saferoute/internal/model"
	"github.com/sells-group/saferoute/internal/weighting"
)

// Candidate is one alternative route in a comparison.
type Candidate struct {
	ID          string        `json:"id"`
	Coordinates []model.Point `json:"coordinates"`
}

// CompareRequest ranks alternative routes against each other.
type CompareRequest struct {
	Candidates      []Candidate        `json:"routes"`
	LookbackMonths  *int               `json:"lookback_months,omitempty"`
	BufferMeters    *float64           `json:"buffer_meters,omitempty"`
	TimeOfDay       string             `json:"time_of_day,omitempty"`
	DepartureHour   *int               `json:"departure_hour,omitempty"`
	CategoryWeights map[string]float64 `json:"category_weights,omitempty"`
}

// CompareRoutes scores candidates relative to each other and returns them
// safest first. Candidates with fewer than two coordinates carry zero risk.
func (s *Scorer) CompareRoutes(ctx context.Context, req CompareRequest) ([]model.RouteComparison, error) {
	p, err := s.resolveParams(req.LookbackMonths, req.BufferMeters, req.TimeOfDay, req.DepartureHour, req.CategoryWeights)
	if err != nil {
		return nil, err
	}
	if len(req.Candidates) == 0 {
		return nil, model.NewInputError("routes", "at least one route is required")
	}

	lines := make([]*geospatial.LineString, len(req.Candidates))
	var (
		bbox    model.BBox
		hasLine bool
	)
	ids := make([]string, len(req.Candidates))
	seen := make(map[string]bool, len(req.Candidates))
	for i, c := range req.Candidates {
		ids[i] = c.ID
		if ids[i] == "" {
			ids[i] = fmt.Sprintf("route_%d", i+1)
		}
		if seen[ids[i]] {
			return nil, model.NewInputError(fmt.Sprintf("routes[%d].id", i), "duplicate id %q", ids[i])
		}
		seen[ids[i]] = true

		if err := validateCoordinates(fmt.Sprintf("routes[%d].coordinates", i), c.Coordinates); err != nil {
			return nil, err
		}
		if len(c.Coordinates) < 2 {
			continue
		}
		line, err := geospatial.NewLineString(c.Coordinates)
		if err != nil {
			return nil, model.NewInputError(fmt.Sprintf("routes[%d].coordinates", i), "%v", err)
		}
		lines[i] = line
		bbox = unionBBox(bbox, line.Bounds(), hasLine)
		hasLine = true
	}

	now := s.now()
	var results [][]*model.Cell
	if hasLine {
		expanded := expandBBox(bbox, p.bufferDeg)
		if results, err = s.fetchMonths(ctx, lookbackMonths(now, p.lookback), &expanded); err != nil {
			return nil, err
		}
	}

	risks := make([]float64, len(req.Candidates))
	lengths := make([]float64, len(req.Candidates))
	counts := make([]int, len(req.Candidates))
	for i, line := range lines {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if line == nil {
			continue
		}
		lengths[i] = line.LengthMeters()
		for _, cc := range s.filterCorridor(results, line, p, now) {
			risks[i] += cc.risk
			counts[i]++
		}
	}

	scores, err := weighting.RelativeSafetyScores(risks, lengths)
	if err != nil {
		return nil, err
	}

	out := make([]model.RouteComparison, len(req.Candidates))
	for i, id := range ids {
		out[i] = model.RouteComparison{
			ID:            id,
			SafetyScore:   scores[i],
			RiskClass:     weighting.ComparisonClass(scores[i]),
			RawRisk:       weighting.Round(risks[i], 3),
			LengthMeters:  weighting.Round(lengths[i], 1),
			CellsAnalyzed: counts[i],
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SafetyScore > out[j].SafetyScore })
	for i := range out {
		out[i].Rank = i + 1
		out[i].IsRecommended = i == 0
	}
	return out, nil
}

func unionBBox(a, b model.BBox, hasA bool) model.BBox {
	if !hasA {
		return b
	}
	return model.BBox{
		MinLng: min(a.MinLng, b.MinLng),
		MinLat: min(a.MinLat, b.MinLat),
		MaxLng: max(a.MaxLng, b.MaxLng),
		MaxLat: max(a.MaxLat, b.MaxLat),
	}
}
