package model

import "math"

// EdgeID is the stable identifier of a road segment. It comes from the
// network source (the ROAD_ID attribute by default) and is never generated.
type EdgeID int64

// Point is a planar coordinate in the network's projected reference system.
type Point struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// DistanceTo returns the straight-line distance between two points.
func (p Point) DistanceTo(other Point) float64 {
	return math.Hypot(other.X-p.X, other.Y-p.Y)
}

// Lerp returns the point a fraction t of the way from p to other.
func (p Point) Lerp(other Point, t float64) Point {
	return Point{
		X: p.X + (other.X-p.X)*t,
		Y: p.Y + (other.Y-p.Y)*t,
	}
}

// EdgeRecord is a raw line-segment record handed over by the network source
// collaborator: a line string plus named attributes.
type EdgeRecord struct {
	Attributes  map[string]string `json:"attributes" yaml:"attributes"`
	Coordinates []Point           `json:"coordinates" yaml:"coordinates"`
	Directed    bool              `json:"directed" yaml:"directed"`
}

// Edge is an immutable road segment of the traversal network. Edges are
// built once by the registry and shared by pointer across all populations;
// nothing mutates them after construction.
type Edge struct {
	ID       EdgeID
	Start    Point
	End      Point
	Geometry []Point
	Length   float64
	Directed bool

	attributes map[string]string
}

// NewEdge builds an edge from an identifier and a raw record. The record's
// coordinates and attributes are copied so later changes to the record do
// not leak into the network.
func NewEdge(id EdgeID, rec EdgeRecord) *Edge {
	geom := append([]Point(nil), rec.Coordinates...)
	attrs := make(map[string]string, len(rec.Attributes))
	for k, v := range rec.Attributes {
		attrs[k] = v
	}

	e := &Edge{
		ID:         id,
		Geometry:   geom,
		Directed:   rec.Directed,
		attributes: attrs,
	}
	if len(geom) > 0 {
		e.Start = geom[0]
		e.End = geom[len(geom)-1]
	}
	for i := 1; i < len(geom); i++ {
		e.Length += geom[i-1].DistanceTo(geom[i])
	}
	return e
}

// Attribute returns a named attribute of the source record.
func (e *Edge) Attribute(name string) (string, bool) {
	v, ok := e.attributes[name]
	return v, ok
}

// Other returns the endpoint opposite to p. It reports false when p is not
// an endpoint of the edge.
func (e *Edge) Other(p Point) (Point, bool) {
	switch p {
	case e.Start:
		return e.End, true
	case e.End:
		return e.Start, true
	default:
		return Point{}, false
	}
}

// PointAt returns the position reached after travelling dist along the
// edge starting from the given endpoint.
func (e *Edge) PointAt(from Point, dist float64) Point {
	geom := e.Geometry
	if from == e.End && from != e.Start {
		geom = make([]Point, len(e.Geometry))
		for i, p := range e.Geometry {
			geom[len(geom)-1-i] = p
		}
	}
	if len(geom) == 0 {
		return from
	}
	if dist <= 0 {
		return geom[0]
	}
	for i := 1; i < len(geom); i++ {
		seg := geom[i-1].DistanceTo(geom[i])
		if dist <= seg && seg > 0 {
			return geom[i-1].Lerp(geom[i], dist/seg)
		}
		dist -= seg
	}
	return geom[len(geom)-1]
}
