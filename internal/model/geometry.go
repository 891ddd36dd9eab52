package model

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// Point is a WGS84 coordinate. It serializes as a GeoJSON position [lng, lat].
type Point struct {
	Lng float64
	Lat float64
}

// Validate rejects non-finite or out-of-range coordinates. param names the
// request field in the returned InputError.
func (p Point) Validate(param string) error {
	if math.IsNaN(p.Lat) || math.IsInf(p.Lat, 0) || math.IsNaN(p.Lng) || math.IsInf(p.Lng, 0) {
		return NewInputError(param, "coordinate is not a finite number")
	}
	if p.Lat < -90 || p.Lat > 90 {
		return NewInputError(param, "latitude %.6f outside [-90, 90]", p.Lat)
	}
	if p.Lng < -180 || p.Lng > 180 {
		return NewInputError(param, "longitude %.6f outside [-180, 180]", p.Lng)
	}
	return nil
}

// MarshalJSON encodes the point as [lng, lat].
func (p Point) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]float64{p.Lng, p.Lat})
}

// UnmarshalJSON decodes a [lng, lat] position. Extra ordinates are ignored.
func (p *Point) UnmarshalJSON(data []byte) error {
	var pos []float64
	if err := json.Unmarshal(data, &pos); err != nil {
		return eris.Wrap(err, "model: decode position")
	}
	if len(pos) < 2 {
		return eris.Errorf("model: position needs 2 ordinates, got %d", len(pos))
	}
	p.Lng, p.Lat = pos[0], pos[1]
	return nil
}

// BBox is a WGS84 bounding box.
type BBox struct {
	MinLng float64 `json:"min_lng"`
	MinLat float64 `json:"min_lat"`
	MaxLng float64 `json:"max_lng"`
	MaxLat float64 `json:"max_lat"`
}

// Validate checks ranges and that min < max on both axes.
func (b BBox) Validate() error {
	if err := (Point{Lng: b.MinLng, Lat: b.MinLat}).Validate("bbox"); err != nil {
		return err
	}
	if err := (Point{Lng: b.MaxLng, Lat: b.MaxLat}).Validate("bbox"); err != nil {
		return err
	}
	if b.MinLng >= b.MaxLng || b.MinLat >= b.MaxLat {
		return NewInputError("bbox", "min values must be less than max values")
	}
	return nil
}

// Contains reports whether p lies inside or on the box.
func (b BBox) Contains(p Point) bool {
	return p.Lng >= b.MinLng && p.Lng <= b.MaxLng && p.Lat >= b.MinLat && p.Lat <= b.MaxLat
}

// Slice returns the box as [min_lng, min_lat, max_lng, max_lat].
func (b BBox) Slice() []float64 {
	return []float64{b.MinLng, b.MinLat, b.MaxLng, b.MaxLat}
}

// ParseBBox parses "min_lng,min_lat,max_lng,max_lat".
func ParseBBox(s string) (BBox, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return BBox{}, NewInputError("bbox", "expected min_lng,min_lat,max_lng,max_lat")
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return BBox{}, NewInputError("bbox", "%q is not a number", p)
		}
		v[i] = f
	}
	b := BBox{MinLng: v[0], MinLat: v[1], MaxLng: v[2], MaxLat: v[3]}
	if err := b.Validate(); err != nil {
		return BBox{}, err
	}
	return b, nil
}
