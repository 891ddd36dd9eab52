package model

import "encoding/json"

// SnapshotCell is one heatmap cell merged over the lookback window.
type SnapshotCell struct {
	ID             CellID          `json:"id"`
	Geometry       json.RawMessage `json:"geometry"`
	SafetyScore    float64         `json:"safety_score"`
	RiskScore      float64         `json:"risk_score"`
	CrimeCount     int             `json:"crime_count"`
	WeightedCount  float64         `json:"crime_count_weighted"`
	MonthsData     int             `json:"months_data"`
	CrimeBreakdown map[string]int  `json:"crime_breakdown"`
}

// SnapshotSummary totals a snapshot.
type SnapshotSummary struct {
	TotalCells      int     `json:"total_cells"`
	TotalCrimes     int     `json:"total_crimes"`
	AvgSafetyScore  float64 `json:"avg_safety_score"`
	HighestRiskCell *CellID `json:"highest_risk_cell"`
	LowestRiskCell  *CellID `json:"lowest_risk_cell"`
}

// SnapshotMeta echoes the query that produced a snapshot.
type SnapshotMeta struct {
	BBox           []float64 `json:"bbox"`
	LookbackMonths int       `json:"lookback_months"`
	TimeFilter     *string   `json:"time_filter"`
	GridType       string    `json:"grid_type"`
	Resolution     int       `json:"resolution"`
	MonthsIncluded int       `json:"months_included"`
}

// Snapshot is the heatmap response for a bounding box.
type Snapshot struct {
	Cells   []SnapshotCell  `json:"cells"`
	Summary SnapshotSummary `json:"summary"`
	Meta    SnapshotMeta    `json:"meta"`
}
