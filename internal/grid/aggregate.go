// Package grid bins incidents into monthly grid cells and merges monthly cells
// into multi-month aggregates.
package grid

import (
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/saferoute/internal/geospatial"
	"github.com/sells-group/saferoute/internal/model"
)

// Aggregate bins one month of incidents into cells.
//
// Each cell gets the incident count, Σ harm weight over its incidents (unknown
// categories weigh 1.0) and a per-category tally. Incidents stamped with a
// different month, or with coordinates the indexer rejects, are skipped and
// logged. The result is independent of input order.
func Aggregate(incidents []model.Incident, month time.Time, idx geospatial.Indexer, cats *CategoryTable) (map[model.CellID]*model.Cell, error) {
	month = model.MonthStart(month)
	log := zap.L().With(zap.String("component", "grid.aggregate"), zap.Time("month", month))

	cells := make(map[model.CellID]*model.Cell)
	var wrongMonth, badCoords int

	for _, inc := range incidents {
		if !inc.Month.IsZero() && !model.MonthStart(inc.Month).Equal(month) {
			wrongMonth++
			continue
		}
		id, err := idx.CellID(inc.Location.Lat, inc.Location.Lng)
		if err != nil {
			badCoords++
			log.Debug("skipping incident", zap.String("incident", inc.ID), zap.Error(err))
			continue
		}
		c, ok := cells[id]
		if !ok {
			c = &model.Cell{ID: id, Month: month, CategoryCounts: map[string]int{}}
			cells[id] = c
		}
		c.TotalCount++
		c.CategoryCounts[inc.Category]++
	}

	for id, c := range cells {
		ring, err := idx.Boundary(id)
		if err != nil {
			return nil, eris.Wrapf(err, "grid: boundary for cell %s", id)
		}
		c.Boundary = ring
		c.WeightedCount = weightedCount(c.CategoryCounts, cats)
	}

	if wrongMonth > 0 || badCoords > 0 {
		log.Warn("incidents skipped during aggregation",
			zap.Int("wrong_month", wrongMonth),
			zap.Int("bad_coordinates", badCoords),
		)
	}
	return cells, nil
}

// weightedCount sums harm weights over a tally in sorted category order so the
// float result is bit-identical across runs.
func weightedCount(counts map[string]int, cats *CategoryTable) float64 {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var w float64
	for _, k := range keys {
		w += float64(counts[k]) * cats.HarmWeight(k)
	}
	return w
}

// GroupByMonth buckets incidents by first-of-month.
func GroupByMonth(incidents []model.Incident) map[time.Time][]model.Incident {
	out := make(map[time.Time][]model.Incident)
	for _, inc := range incidents {
		m := model.MonthStart(inc.Month)
		out[m] = append(out[m], inc)
	}
	return out
}

// SortedMonths returns the keys of a GroupByMonth result in ascending order.
func SortedMonths(groups map[time.Time][]model.Incident) []time.Time {
	months := make([]time.Time, 0, len(groups))
	for m := range groups {
		months = append(months, m)
	}
	sort.Slice(months, func(i, j int) bool { return months[i].Before(months[j]) })
	return months
}

// CellList flattens an Aggregate result sorted by cell id.
func CellList(cells map[model.CellID]*model.Cell) []*model.Cell {
	out := make([]*model.Cell, 0, len(cells))
	for _, c := range cells {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Merge combines monthly cells sharing an id. weight converts each monthly
// cell into its contribution to WeightedCount (for example recency-decayed
// risk); nil uses the stored weighted count. Output is sorted by id.
func Merge(cells []*model.Cell, weight func(*model.Cell) float64) []*model.CellAggregate {
	if weight == nil {
		weight = func(c *model.Cell) float64 { return c.WeightedCount }
	}

	sorted := append([]*model.Cell(nil), cells...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].ID != sorted[j].ID {
			return sorted[i].ID < sorted[j].ID
		}
		return sorted[i].Month.Before(sorted[j].Month)
	})

	var out []*model.CellAggregate
	var cur *model.CellAggregate
	for _, c := range sorted {
		if cur == nil || cur.ID != c.ID {
			cur = &model.CellAggregate{ID: c.ID, CategoryCounts: map[string]int{}}
			out = append(out, cur)
		}
		if len(cur.Boundary) == 0 && len(c.Boundary) > 0 {
			cur.Boundary = c.Boundary
		}
		cur.TotalCount += c.TotalCount
		cur.WeightedCount += weight(c)
		cur.Months = append(cur.Months, c.Month)
		for cat, n := range c.CategoryCounts {
			cur.CategoryCounts[cat] += n
		}
	}
	return out
}
