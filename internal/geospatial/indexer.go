package geospatial

import (
	"github.com/rotisserie/eris"
	"github.com/uber/h3-go/v4"

	"github.com/sells-group/saferoute/internal/model"
)

// DefaultResolution is H3 resolution 10: ~73 m edge, ~13,781 m² per cell.
const DefaultResolution = 10

// GridType names the tiling scheme in snapshot metadata.
const GridType = "h3"

// Indexer maps points to grid cells and cells back to their boundaries.
type Indexer interface {
	CellID(lat, lng float64) (model.CellID, error)
	Boundary(id model.CellID) ([]model.Point, error)
	Resolution() int
}

// H3Indexer is the hexagonal grid at a fixed resolution.
type H3Indexer struct {
	res int
}

// NewH3Indexer returns an indexer for res in [0, 15].
func NewH3Indexer(res int) (*H3Indexer, error) {
	if res < 0 || res > 15 {
		return nil, eris.Errorf("geo: h3 resolution %d outside [0, 15]", res)
	}
	return &H3Indexer{res: res}, nil
}

// Resolution implements Indexer.
func (x *H3Indexer) Resolution() int { return x.res }

// CellID implements Indexer. Out-of-range coordinates are rejected, never clamped.
func (x *H3Indexer) CellID(lat, lng float64) (model.CellID, error) {
	if err := (model.Point{Lng: lng, Lat: lat}).Validate("coordinates"); err != nil {
		return "", err
	}
	cell := h3.LatLngToCell(h3.NewLatLng(lat, lng), x.res)
	if !cell.IsValid() {
		return "", eris.Errorf("geo: no h3 cell for (%f, %f)", lat, lng)
	}
	return model.CellID(cell.String()), nil
}

// Boundary implements Indexer. The ring is closed and in [lng, lat] order.
func (x *H3Indexer) Boundary(id model.CellID) ([]model.Point, error) {
	cell := h3.Cell(h3.IndexFromString(string(id)))
	if !cell.IsValid() {
		return nil, eris.Errorf("geo: invalid h3 cell %q", id)
	}
	b := cell.Boundary()
	ring := make([]model.Point, 0, len(b)+1)
	for _, ll := range b {
		ring = append(ring, model.Point{Lng: ll.Lng, Lat: ll.Lat})
	}
	return append(ring, ring[0]), nil
}
