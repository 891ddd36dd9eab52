package geospatial

import (
	"sort"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
	"github.com/twpayne/go-geom/encoding/geojson"
	"github.com/twpayne/go-geom/encoding/wkt"
	"github.com/twpayne/go-geom/xy"

	"github.com/sells-group/saferoute/internal/model"
)

// SRID is WGS84.
const SRID = 4326

// Polygon is the canonical in-memory cell boundary. Stores decode into it via
// one of the Parse constructors and the scorer never sees any other form.
type Polygon struct {
	g *geom.Polygon
}

// NewPolygon builds a polygon from an exterior ring in [lng, lat] order. The
// ring is closed if the caller did not repeat the first vertex.
func NewPolygon(ring []model.Point) (*Polygon, error) {
	ring = closeRing(ring)
	if len(ring) < 4 {
		return nil, eris.Errorf("geo: polygon ring needs at least 3 distinct vertices, got %d", len(ring)-1)
	}
	coords := make([]geom.Coord, len(ring))
	for i, p := range ring {
		coords[i] = geom.Coord{p.Lng, p.Lat}
	}
	g, err := geom.NewPolygon(geom.XY).SetCoords([][]geom.Coord{coords})
	if err != nil {
		return nil, eris.Wrap(err, "geo: build polygon")
	}
	return &Polygon{g: g.SetSRID(SRID)}, nil
}

// ParsePolygonWKT decodes a POLYGON or single-part MULTIPOLYGON from WKT.
func ParsePolygonWKT(s string) (*Polygon, error) {
	g, err := wkt.Unmarshal(s)
	if err != nil {
		return nil, eris.Wrap(err, "geo: parse polygon WKT")
	}
	return polygonFromT(g)
}

// ParsePolygonGeoJSON decodes a GeoJSON Polygon geometry object.
func ParsePolygonGeoJSON(data []byte) (*Polygon, error) {
	var g geom.T
	if err := geojson.Unmarshal(data, &g); err != nil {
		return nil, eris.Wrap(err, "geo: parse polygon GeoJSON")
	}
	return polygonFromT(g)
}

// ParsePolygonEWKB decodes a polygon from PostGIS EWKB.
func ParsePolygonEWKB(data []byte) (*Polygon, error) {
	g, err := ewkb.Unmarshal(data)
	if err != nil {
		return nil, eris.Wrap(err, "geo: parse polygon EWKB")
	}
	return polygonFromT(g)
}

func polygonFromT(g geom.T) (*Polygon, error) {
	switch t := g.(type) {
	case *geom.Polygon:
		if t.NumLinearRings() == 0 {
			return nil, eris.New("geo: empty polygon")
		}
		return &Polygon{g: t}, nil
	case *geom.MultiPolygon:
		if t.NumPolygons() != 1 {
			return nil, eris.Errorf("geo: expected single-part multipolygon, got %d parts", t.NumPolygons())
		}
		return &Polygon{g: t.Polygon(0)}, nil
	default:
		return nil, eris.Errorf("geo: expected polygon, got %T", g)
	}
}

// Ring returns the closed exterior ring in [lng, lat] order.
func (p *Polygon) Ring() []model.Point {
	return pointsFromFlat(p.g.LinearRing(0).FlatCoords(), p.g.Stride())
}

// Bounds returns the polygon's bounding box.
func (p *Polygon) Bounds() model.BBox {
	return bboxOf(p.g.Bounds())
}

// ContainsPoint reports whether pt lies inside or on the exterior ring.
func (p *Polygon) ContainsPoint(pt model.Point) bool {
	return xy.IsPointInRing(p.g.Layout(), geom.Coord{pt.Lng, pt.Lat}, p.g.LinearRing(0).FlatCoords())
}

// OverlapsBBox reports whether the polygon's bounds touch b.
func (p *Polygon) OverlapsBBox(b model.BBox) bool {
	pb := p.Bounds()
	return pb.MinLng <= b.MaxLng && pb.MaxLng >= b.MinLng && pb.MinLat <= b.MaxLat && pb.MaxLat >= b.MinLat
}

// IntersectsBuffer reports whether the round-capped buffer of line by
// bufferDeg (in degrees) intersects the polygon. Equivalent to
// distance(line, polygon) <= bufferDeg in planar lng/lat space.
func (p *Polygon) IntersectsBuffer(line *LineString, bufferDeg float64) bool {
	pb := p.Bounds()
	lb := line.Bounds()
	if lb.MinLng-bufferDeg > pb.MaxLng || lb.MaxLng+bufferDeg < pb.MinLng ||
		lb.MinLat-bufferDeg > pb.MaxLat || lb.MaxLat+bufferDeg < pb.MinLat {
		return false
	}

	lineCoords := line.coords()
	for _, c := range lineCoords {
		if xy.IsPointInRing(p.g.Layout(), c, p.g.LinearRing(0).FlatCoords()) {
			return true
		}
	}

	ring := p.g.LinearRing(0).Coords()
	if len(lineCoords) == 1 {
		for j := 0; j+1 < len(ring); j++ {
			if xy.DistanceFromPointToLine(lineCoords[0], ring[j], ring[j+1]) <= bufferDeg {
				return true
			}
		}
		return false
	}
	for i := 0; i+1 < len(lineCoords); i++ {
		for j := 0; j+1 < len(ring); j++ {
			if xy.DistanceFromLineToLine(lineCoords[i], lineCoords[i+1], ring[j], ring[j+1]) <= bufferDeg {
				return true
			}
		}
	}
	return false
}

// WKT encodes the polygon as WKT.
func (p *Polygon) WKT() (string, error) {
	s, err := wkt.Marshal(p.g)
	if err != nil {
		return "", eris.Wrap(err, "geo: encode polygon WKT")
	}
	return s, nil
}

// EWKB encodes the polygon as little-endian EWKB with SRID 4326.
func (p *Polygon) EWKB() ([]byte, error) {
	data, err := ewkb.Marshal(p.g.SetSRID(SRID), ewkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "geo: encode polygon EWKB")
	}
	return data, nil
}

// GeoJSON encodes the polygon as a GeoJSON geometry object.
func (p *Polygon) GeoJSON() ([]byte, error) {
	data, err := geojson.Marshal(p.g)
	if err != nil {
		return nil, eris.Wrap(err, "geo: encode polygon GeoJSON")
	}
	return data, nil
}

// RingGeoJSON encodes a closed ring as a GeoJSON Polygon.
func RingGeoJSON(ring []model.Point) ([]byte, error) {
	p, err := NewPolygon(ring)
	if err != nil {
		return nil, err
	}
	return p.GeoJSON()
}

// LineString is a route polyline with cached cumulative great-circle lengths.
type LineString struct {
	g   *geom.LineString
	cum []float64 // cum[i] = meters from the first vertex to vertex i
}

// NewLineString builds a polyline from at least two points.
func NewLineString(pts []model.Point) (*LineString, error) {
	if len(pts) < 2 {
		return nil, eris.Errorf("geo: linestring needs at least 2 points, got %d", len(pts))
	}
	coords := make([]geom.Coord, len(pts))
	for i, p := range pts {
		coords[i] = geom.Coord{p.Lng, p.Lat}
	}
	g, err := geom.NewLineString(geom.XY).SetCoords(coords)
	if err != nil {
		return nil, eris.Wrap(err, "geo: build linestring")
	}
	cum := make([]float64, len(pts))
	for i := 1; i < len(pts); i++ {
		cum[i] = cum[i-1] + DistanceMeters(pts[i-1], pts[i])
	}
	return &LineString{g: g.SetSRID(SRID), cum: cum}, nil
}

// ParseLineStringGeoJSON decodes a GeoJSON LineString geometry object.
func ParseLineStringGeoJSON(data []byte) (*LineString, error) {
	var g geom.T
	if err := geojson.Unmarshal(data, &g); err != nil {
		return nil, eris.Wrap(err, "geo: parse linestring GeoJSON")
	}
	ls, ok := g.(*geom.LineString)
	if !ok {
		return nil, eris.Errorf("geo: expected LineString, got %T", g)
	}
	return NewLineString(pointsFromFlat(ls.FlatCoords(), ls.Stride()))
}

// Points returns the polyline vertices.
func (l *LineString) Points() []model.Point {
	return pointsFromFlat(l.g.FlatCoords(), l.g.Stride())
}

// LengthMeters is the great-circle length of the polyline.
func (l *LineString) LengthMeters() float64 {
	return l.cum[len(l.cum)-1]
}

// Bounds returns the polyline's bounding box.
func (l *LineString) Bounds() model.BBox {
	return bboxOf(l.g.Bounds())
}

// Interpolate returns the point at fraction f (0..1) of the total length.
func (l *LineString) Interpolate(f float64) model.Point {
	pts := l.Points()
	total := l.LengthMeters()
	if total == 0 || f <= 0 {
		return pts[0]
	}
	if f >= 1 {
		return pts[len(pts)-1]
	}
	target := f * total
	i := sort.SearchFloat64s(l.cum, target)
	if i == 0 {
		return pts[0]
	}
	span := l.cum[i] - l.cum[i-1]
	if span == 0 {
		return pts[i]
	}
	return interpolate(pts[i-1], pts[i], (target-l.cum[i-1])/span)
}

// Slice returns the sub-polyline between fractions from and to, including all
// interior vertices so the piece follows the original path.
func (l *LineString) Slice(from, to float64) []model.Point {
	if from > to {
		from, to = to, from
	}
	total := l.LengthMeters()
	pts := l.Points()
	out := []model.Point{l.Interpolate(from)}
	lo, hi := from*total, to*total
	for i, d := range l.cum {
		if d > lo && d < hi {
			out = append(out, pts[i])
		}
	}
	return append(out, l.Interpolate(to))
}

func (l *LineString) coords() []geom.Coord {
	return l.g.Coords()
}

func closeRing(ring []model.Point) []model.Point {
	if len(ring) == 0 || ring[0] == ring[len(ring)-1] {
		return ring
	}
	out := make([]model.Point, len(ring), len(ring)+1)
	copy(out, ring)
	return append(out, ring[0])
}

func pointsFromFlat(flat []float64, stride int) []model.Point {
	pts := make([]model.Point, 0, len(flat)/stride)
	for i := 0; i+1 < len(flat); i += stride {
		pts = append(pts, model.Point{Lng: flat[i], Lat: flat[i+1]})
	}
	return pts
}

func bboxOf(b *geom.Bounds) model.BBox {
	return model.BBox{MinLng: b.Min(0), MinLat: b.Min(1), MaxLng: b.Max(0), MaxLat: b.Max(1)}
}
