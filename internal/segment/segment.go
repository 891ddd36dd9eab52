// Package segment splits route polylines into bounded pieces for per-segment
// scoring.
package segment

import (
	"math"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/saferoute/internal/geospatial"
	"github.com/sells-group/saferoute/internal/model"
)

// Defaults used by the scorer.
const (
	DefaultTargetMeters     = 100.0
	DefaultMaxSegmentMeters = 200.0
	DefaultMaxSegments      = 200
)

// Result is a segmentation plus what, if anything, was cut off by the
// segment cap.
type Result struct {
	Segments      []model.RouteSegment
	Truncated     bool
	DroppedMeters float64
}

// ByDistance splits line into min(ceil(L/target), maxSegments) pieces of equal
// length fraction. A zero-length line yields one segment.
func ByDistance(line *geospatial.LineString, targetMeters float64, maxSegments int) (Result, error) {
	if err := checkLimits(targetMeters, maxSegments); err != nil {
		return Result{}, err
	}
	total := line.LengthMeters()
	n := int(math.Ceil(total / targetMeters))
	if n < 1 {
		n = 1
	}
	if n > maxSegments {
		n = maxSegments
	}

	segs := make([]model.RouteSegment, 0, n)
	for i := 0; i < n; i++ {
		from := float64(i) / float64(n)
		to := float64(i+1) / float64(n)
		segs = append(segs, newSegment(line, i, from, to, total, nil))
	}
	return Result{Segments: segs}, nil
}

// ByInstructions aligns segments with turn instructions. Instruction distances
// are walked cumulatively as fractions of the line length; a step longer than
// maxSegmentMeters is split into ceil(len/max) equal pieces. Zero-distance
// steps are skipped. Any tail the instructions leave uncovered becomes extra
// segments. Once maxSegments is reached the rest of the route is dropped and
// reported in the Result. With no usable instruction it falls back
// to ByDistance with maxSegmentMeters as the target.
func ByInstructions(line *geospatial.LineString, instructions []model.Instruction, maxSegmentMeters float64, maxSegments int) (Result, error) {
	if err := checkLimits(maxSegmentMeters, maxSegments); err != nil {
		return Result{}, err
	}
	total := line.LengthMeters()
	if total == 0 || !hasDistance(instructions) {
		return ByDistance(line, maxSegmentMeters, maxSegments)
	}

	var res Result
	var walked, covered float64

	for idx, inst := range instructions {
		if inst.DistanceMeters <= 0 || math.IsNaN(inst.DistanceMeters) {
			continue
		}
		from := walked / total
		to := math.Min((walked+inst.DistanceMeters)/total, 1.0)
		walked += inst.DistanceMeters
		if to <= from {
			continue
		}
		instIdx := idx
		covered = res.appendPieces(line, from, to, total, maxSegmentMeters, maxSegments, &instIdx)
		if len(res.Segments) >= maxSegments {
			break
		}
	}

	if len(res.Segments) == 0 {
		return ByDistance(line, maxSegmentMeters, maxSegments)
	}

	// Instruction distances are rounded by routing engines; score any tail
	// they leave uncovered.
	if len(res.Segments) < maxSegments && (1-covered)*total > tailToleranceMeters {
		covered = res.appendPieces(line, covered, 1, total, maxSegmentMeters, maxSegments, nil)
	}

	if remaining := (1 - covered) * total; remaining > tailToleranceMeters {
		res.Truncated = true
		res.DroppedMeters = remaining
		zap.L().Warn("segment: reached maximum segments",
			zap.Int("max_segments", maxSegments),
			zap.Float64("remaining_m", remaining),
		)
	}
	return res, nil
}

// tailToleranceMeters is the uncovered length ignored as rounding noise.
const tailToleranceMeters = 1.0

// appendPieces splits [from, to] into ceil(len/maxLen) equal pieces, stopping
// at maxSegments, and returns the fraction covered so far.
func (r *Result) appendPieces(line *geospatial.LineString, from, to, total, maxLen float64, maxSegments int, inst *int) float64 {
	pieces := 1
	if stepLen := (to - from) * total; stepLen > maxLen {
		pieces = int(math.Ceil(stepLen / maxLen))
	}
	covered := from
	for k := 0; k < pieces && len(r.Segments) < maxSegments; k++ {
		a := from + (to-from)*float64(k)/float64(pieces)
		b := from + (to-from)*float64(k+1)/float64(pieces)
		r.Segments = append(r.Segments, newSegment(line, len(r.Segments), a, b, total, inst))
		covered = b
	}
	return covered
}

func newSegment(line *geospatial.LineString, idx int, from, to, total float64, inst *int) model.RouteSegment {
	path := line.Slice(from, to)
	return model.RouteSegment{
		Index:            idx,
		Start:            path[0],
		End:              path[len(path)-1],
		LengthMeters:     (to - from) * total,
		InstructionIndex: inst,
		Path:             path,
	}
}

func hasDistance(instructions []model.Instruction) bool {
	for _, inst := range instructions {
		if inst.DistanceMeters > 0 {
			return true
		}
	}
	return false
}

func checkLimits(target float64, maxSegments int) error {
	if !(target > 0) {
		return eris.Errorf("segment: target length %.2f must be positive", target)
	}
	if maxSegments < 1 {
		return eris.Errorf("segment: max segments %d must be at least 1", maxSegments)
	}
	return nil
}
