package model

// RiskClass buckets a safety score for display.
type RiskClass string

const (
	RiskLow    RiskClass = "low"
	RiskMedium RiskClass = "medium"
	RiskHigh   RiskClass = "high"
)

// HotspotLevel grades a hotspot segment.
type HotspotLevel string

const (
	HotspotHigh     HotspotLevel = "high"
	HotspotCritical HotspotLevel = "critical"
)

// Instruction is a turn-by-turn step with the distance it covers.
type Instruction struct {
	DistanceMeters float64 `json:"distance"`
	Text           string  `json:"text,omitempty"`
}

// RouteSegment is a piece of a route produced by the segmenter. Path holds the
// full sub-polyline between Start and End.
type RouteSegment struct {
	Index            int     `json:"index"`
	Start            Point   `json:"start"`
	End              Point   `json:"end"`
	LengthMeters     float64 `json:"length_m"`
	InstructionIndex *int    `json:"instruction_index,omitempty"`
	Path             []Point `json:"-"`
}

// SegmentRisk is the scored view of a RouteSegment.
type SegmentRisk struct {
	Index            int     `json:"index"`
	Start            Point   `json:"start"`
	End              Point   `json:"end"`
	LengthMeters     float64 `json:"length_m"`
	InstructionIndex *int    `json:"instruction_index,omitempty"`
	RiskScore        float64 `json:"risk_score"`
	CellCount        int     `json:"cell_count"`
}

// Hotspot flags a segment whose risk is well above the route average.
type Hotspot struct {
	SegmentIndex int          `json:"segment_index"`
	Location     Point        `json:"location"`
	RiskScore    float64      `json:"risk_score"`
	RiskLevel    HotspotLevel `json:"risk_level"`
	Description  string       `json:"description"`
}

// ScoredRoute is the result of scoring one route corridor.
type ScoredRoute struct {
	SafetyScore       float64            `json:"safety_score"`
	RiskClass         RiskClass          `json:"risk_class"`
	TotalWeightedRisk float64            `json:"total_weighted_risk"`
	MaxSegmentRisk    float64            `json:"max_segment_risk"`
	AvgSegmentRisk    float64            `json:"avg_segment_risk"`
	SegmentCount      int                `json:"segment_count"`
	Segments          []SegmentRisk      `json:"segments"`
	Hotspots          []Hotspot          `json:"hotspots"`
	CrimeBreakdown    map[string]float64 `json:"crime_breakdown"`
	CellsAnalyzed     int                `json:"cells_analyzed"`
	MonthsData        int                `json:"months_data"`
	Truncated         bool               `json:"truncated,omitempty"`
	DroppedMeters     float64            `json:"dropped_meters,omitempty"`
}

// SafeRoute is the fixed result used when there is no evidence of danger.
func SafeRoute() *ScoredRoute {
	return &ScoredRoute{
		SafetyScore:    100.0,
		RiskClass:      RiskLow,
		Segments:       []SegmentRisk{},
		Hotspots:       []Hotspot{},
		CrimeBreakdown: map[string]float64{},
	}
}

// RouteComparison ranks one candidate among several alternatives.
type RouteComparison struct {
	ID            string    `json:"id"`
	Rank          int       `json:"rank"`
	SafetyScore   float64   `json:"safety_score"`
	RiskClass     RiskClass `json:"risk_class"`
	RawRisk       float64   `json:"raw_risk"`
	LengthMeters  float64   `json:"length_m"`
	CellsAnalyzed int       `json:"cells_analyzed"`
	IsRecommended bool      `json:"is_recommended"`
}
