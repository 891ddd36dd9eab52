package scorer

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/saferoute/internal/geospatial"
	"github.com/sells-group/saferoute/internal/model"
	"github.com/sells-group/saferoute/internal/segment"
	"github.com/sells-group/saferoute/internal/weighting"
)

// RouteRequest asks for the safety of a single route.
type RouteRequest struct {
	Coordinates     []model.Point       `json:"coordinates"`
	Instructions    []model.Instruction `json:"instructions,omitempty"`
	LookbackMonths  *int                `json:"lookback_months,omitempty"`
	BufferMeters    *float64            `json:"buffer_meters,omitempty"`
	TimeOfDay       string              `json:"time_of_day,omitempty"`
	DepartureHour   *int                `json:"departure_hour,omitempty"`
	CategoryWeights map[string]float64  `json:"category_weights,omitempty"`
}

// corridorCell is a cell near the route with its risk precomputed.
type corridorCell struct {
	cell *model.Cell
	poly *geospatial.Polygon
	risk float64
}

// ScoreRoute scores a route corridor. Routes with fewer than two coordinates,
// no nearby cells or no data in the lookback window score as fully safe.
func (s *Scorer) ScoreRoute(ctx context.Context, req RouteRequest) (*model.ScoredRoute, error) {
	p, err := s.resolveParams(req.LookbackMonths, req.BufferMeters, req.TimeOfDay, req.DepartureHour, req.CategoryWeights)
	if err != nil {
		return nil, err
	}
	if err := validateCoordinates("coordinates", req.Coordinates); err != nil {
		return nil, err
	}
	if len(req.Coordinates) < 2 {
		return model.SafeRoute(), nil
	}

	line, err := geospatial.NewLineString(req.Coordinates)
	if err != nil {
		return nil, model.NewInputError("coordinates", "%v", err)
	}

	now := s.now()
	corridor, monthsData, err := s.corridor(ctx, line, p, now)
	if err != nil {
		return nil, err
	}
	if len(corridor) == 0 {
		return model.SafeRoute(), nil
	}

	segs, err := s.segment(line, req.Instructions)
	if err != nil {
		return nil, err
	}

	scored := make([]model.SegmentRisk, 0, len(segs.Segments))
	risks := make([]float64, 0, len(segs.Segments))
	for _, seg := range segs.Segments {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		risk, n, err := segmentRisk(seg, corridor, p.bufferDeg)
		if err != nil {
			return nil, err
		}
		risks = append(risks, risk)
		scored = append(scored, model.SegmentRisk{
			Index:            seg.Index,
			Start:            seg.Start,
			End:              seg.End,
			LengthMeters:     weighting.Round(seg.LengthMeters, 1),
			InstructionIndex: seg.InstructionIndex,
			RiskScore:        risk,
			CellCount:        n,
		})
	}

	var total, maxRisk float64
	for _, r := range risks {
		total += r
		if r > maxRisk {
			maxRisk = r
		}
	}
	avg := 0.0
	if len(risks) > 0 {
		avg = total / float64(len(risks))
	}

	hotspots := DetectHotspots(scored, avg, s.cfg.HotspotMultiplier, s.cfg.CriticalMultiplier)
	for i := range scored {
		scored[i].RiskScore = weighting.Round(scored[i].RiskScore, 3)
	}

	breakdown := map[string]float64{}
	for _, cc := range corridor {
		s.engine.CategoryBreakdown(breakdown, cc.cell, now, p.bucket)
	}
	for cat, v := range breakdown {
		breakdown[cat] = weighting.Round(v, 2)
	}

	score := weighting.AbsoluteSafetyScore(avg)
	return &model.ScoredRoute{
		SafetyScore:       score,
		RiskClass:         weighting.CorridorClass(score),
		TotalWeightedRisk: weighting.Round(total, 3),
		MaxSegmentRisk:    weighting.Round(maxRisk, 3),
		AvgSegmentRisk:    weighting.Round(avg, 3),
		SegmentCount:      len(scored),
		Segments:          scored,
		Hotspots:          hotspots,
		CrimeBreakdown:    breakdown,
		CellsAnalyzed:     len(corridor),
		MonthsData:        monthsData,
		Truncated:         segs.Truncated,
		DroppedMeters:     weighting.Round(segs.DroppedMeters, 1),
	}, nil
}

// corridor fetches the lookback window and keeps the cells whose boundary
// intersects the buffered route.
func (s *Scorer) corridor(ctx context.Context, line *geospatial.LineString, p queryParams, now time.Time) ([]corridorCell, int, error) {
	bbox := expandBBox(line.Bounds(), p.bufferDeg)
	results, err := s.fetchMonths(ctx, lookbackMonths(now, p.lookback), &bbox)
	if err != nil {
		return nil, 0, err
	}
	return s.filterCorridor(results, line, p, now), monthsWithData(results), nil
}

func (s *Scorer) filterCorridor(results [][]*model.Cell, line *geospatial.LineString, p queryParams, now time.Time) []corridorCell {
	var out []corridorCell
	for _, cells := range results {
		for _, c := range cells {
			poly, err := geospatial.NewPolygon(c.Boundary)
			if err != nil {
				zap.L().Warn("skipping cell with invalid boundary",
					zap.String("component", "scorer"),
					zap.String("cell_id", string(c.ID)),
					zap.Error(err),
				)
				continue
			}
			if !poly.IntersectsBuffer(line, p.bufferDeg) {
				continue
			}
			out = append(out, corridorCell{cell: c, poly: poly, risk: s.engine.CellRisk(c, now, p.risk)})
		}
	}
	return out
}

func (s *Scorer) segment(line *geospatial.LineString, instructions []model.Instruction) (segment.Result, error) {
	var (
		res segment.Result
		err error
	)
	if len(instructions) > 0 {
		res, err = segment.ByInstructions(line, instructions, s.cfg.MaxSegmentLengthM, s.cfg.MaxSegments)
	} else {
		res, err = segment.ByDistance(line, s.cfg.SegmentLengthM, s.cfg.MaxSegments)
	}
	if err != nil {
		return segment.Result{}, eris.Wrap(err, "scorer: segment route")
	}
	return res, nil
}

// segmentRisk averages the risk of the corridor cells touching the buffered
// segment. Only the corridor subset is searched.
func segmentRisk(seg model.RouteSegment, corridor []corridorCell, bufferDeg float64) (float64, int, error) {
	segLine, err := geospatial.NewLineString(seg.Path)
	if err != nil {
		return 0, 0, eris.Wrapf(err, "scorer: segment %d geometry", seg.Index)
	}
	var sum float64
	n := 0
	for _, cc := range corridor {
		if cc.poly.IntersectsBuffer(segLine, bufferDeg) {
			sum += cc.risk
			n++
		}
	}
	if n == 0 {
		return 0, 0, nil
	}
	return sum / float64(n), n, nil
}

// DetectHotspots flags segments at or above hotMult × avg; those at or above
// critMult × avg are critical. An average of zero yields no hotspots.
func DetectHotspots(segs []model.SegmentRisk, avg, hotMult, critMult float64) []model.Hotspot {
	hotspots := []model.Hotspot{}
	if avg <= 0 {
		return hotspots
	}
	for _, seg := range segs {
		if seg.RiskScore < hotMult*avg {
			continue
		}
		level := model.HotspotHigh
		if seg.RiskScore >= critMult*avg {
			level = model.HotspotCritical
		}
		hotspots = append(hotspots, model.Hotspot{
			SegmentIndex: seg.Index,
			Location:     seg.Start,
			RiskScore:    weighting.Round(seg.RiskScore, 3),
			RiskLevel:    level,
			Description:  fmt.Sprintf("High crime area detected (risk: %.2f)", seg.RiskScore),
		})
	}
	return hotspots
}

func validateCoordinates(param string, pts []model.Point) error {
	for i, pt := range pts {
		if err := pt.Validate(fmt.Sprintf("%s[%d]", param, i)); err != nil {
			return err
		}
	}
	return nil
}
