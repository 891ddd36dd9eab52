package scorer

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/sells-group/saferoute/internal/geospatial"
	"github.com/sells-group/saferoute/internal/grid"
	"github.com/sells-group/saferoute/internal/model"
	"github.com/sells-group/saferoute/internal/weighting"
)

// SnapshotRequest asks for a heatmap over a bounding box.
type SnapshotRequest struct {
	BBox           model.BBox `json:"bbox"`
	LookbackMonths *int       `json:"lookback_months,omitempty"`
	TimeOfDay      string     `json:"time_of_day,omitempty"`
}

// Snapshot merges every cell overlapping the box across the lookback window
// and scores each one on the absolute scale. Cells are ordered riskiest first.
func (s *Scorer) Snapshot(ctx context.Context, req SnapshotRequest) (*model.Snapshot, error) {
	if err := req.BBox.Validate(); err != nil {
		return nil, err
	}
	p, err := s.resolveParams(req.LookbackMonths, nil, req.TimeOfDay, nil, nil)
	if err != nil {
		return nil, err
	}

	now := s.now()
	results, err := s.fetchMonths(ctx, lookbackMonths(now, p.lookback), &req.BBox)
	if err != nil {
		return nil, err
	}

	var inBox []*model.Cell
	for _, cells := range results {
		for _, c := range cells {
			poly, err := geospatial.NewPolygon(c.Boundary)
			if err != nil || !poly.OverlapsBBox(req.BBox) {
				continue
			}
			inBox = append(inBox, c)
		}
	}

	merged := grid.Merge(inBox, func(c *model.Cell) float64 {
		return s.engine.CellRisk(c, now, p.risk)
	})

	cells := make([]model.SnapshotCell, 0, len(merged))
	for _, agg := range merged {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		geometry, err := geospatial.RingGeoJSON(agg.Boundary)
		if err != nil {
			zap.L().Warn("skipping cell with invalid boundary",
				zap.String("component", "scorer"),
				zap.String("cell_id", string(agg.ID)),
				zap.Error(err),
			)
			continue
		}
		frac := weighting.AbsoluteRiskFraction(agg.WeightedCount)
		cells = append(cells, model.SnapshotCell{
			ID:             agg.ID,
			Geometry:       geometry,
			SafetyScore:    weighting.SafetyFromFraction(frac),
			RiskScore:      weighting.Round(frac, 3),
			CrimeCount:     agg.TotalCount,
			WeightedCount:  weighting.Round(agg.WeightedCount, 2),
			MonthsData:     len(agg.Months),
			CrimeBreakdown: agg.CategoryCounts,
		})
	}
	sort.SliceStable(cells, func(i, j int) bool {
		if cells[i].RiskScore != cells[j].RiskScore {
			return cells[i].RiskScore > cells[j].RiskScore
		}
		return cells[i].ID < cells[j].ID
	})

	var timeFilter *string
	if p.bucket != "" {
		tf := string(p.bucket)
		timeFilter = &tf
	}
	return &model.Snapshot{
		Cells:   cells,
		Summary: summarize(cells),
		Meta: model.SnapshotMeta{
			BBox:           req.BBox.Slice(),
			LookbackMonths: p.lookback,
			TimeFilter:     timeFilter,
			GridType:       "h3",
			Resolution:     s.resolution,
			MonthsIncluded: p.lookback,
		},
	}, nil
}

func summarize(cells []model.SnapshotCell) model.SnapshotSummary {
	sum := model.SnapshotSummary{TotalCells: len(cells), AvgSafetyScore: 100.0}
	if len(cells) == 0 {
		return sum
	}
	var safety float64
	for _, c := range cells {
		sum.TotalCrimes += c.CrimeCount
		safety += c.SafetyScore
	}
	sum.AvgSafetyScore = weighting.Round(safety/float64(len(cells)), 1)
	highest, lowest := cells[0].ID, cells[len(cells)-1].ID
	sum.HighestRiskCell = &highest
	sum.LowestRiskCell = &lowest
	return sum
}
