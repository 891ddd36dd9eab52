package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// CellID identifies a grid cell at the deployment resolution.
type CellID string

// Cell is one grid cell's aggregate for a single month.
//
// WeightedCount is accumulated from harm weights at aggregation time and is
// kept independently of CategoryCounts; scoring can use either.
type Cell struct {
	ID             CellID         `json:"cell_id"`
	Month          time.Time      `json:"month"`
	Boundary       []Point        `json:"boundary"`
	TotalCount     int            `json:"crime_count_total"`
	WeightedCount  float64        `json:"crime_count_weighted"`
	CategoryCounts map[string]int `json:"stats"`
}

// Key is the persistence key "{cell}_{YYYYMM}".
func (c *Cell) Key() string {
	return CellKey(c.ID, c.Month)
}

// CellKey builds the persistence key for a cell-month.
func CellKey(id CellID, month time.Time) string {
	return fmt.Sprintf("%s_%s", id, month.UTC().Format("200601"))
}

// SplitCellKey splits a persistence key into cell id and month. Keys without a
// month suffix return the whole key as the id and a zero month.
func SplitCellKey(key string) (CellID, time.Time, error) {
	i := strings.LastIndex(key, "_")
	if i < 0 || len(key)-i-1 != 6 {
		return CellID(key), time.Time{}, nil
	}
	month, err := time.Parse("200601", key[i+1:])
	if err != nil {
		return "", time.Time{}, eris.Wrapf(err, "model: parse cell key %q", key)
	}
	return CellID(key[:i]), month, nil
}

// CellAggregate merges several monthly cells of the same id.
type CellAggregate struct {
	ID             CellID         `json:"id"`
	Boundary       []Point        `json:"boundary"`
	TotalCount     int            `json:"crime_count"`
	WeightedCount  float64        `json:"crime_count_weighted"`
	CategoryCounts map[string]int `json:"crime_breakdown"`
	Months         []time.Time    `json:"months"`
}
