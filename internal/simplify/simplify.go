// Package simplify reduces ring vertex counts with recursive
// tolerance-bounded subdivision (Douglas-Peucker). Tolerances are in
// coordinate degrees, supplied by configuration; the package never
// produces a ring below the minimum valid size.
package simplify

import (
	"math"

	"github.com/paulmach/orb"

	"github.com/wegman-software/osmbounds/internal/model"
)

// Ring simplifies a ring within tolerance. A closed ring is treated as
// an open chain between its repeated first/last point and stays closed.
// A tolerance of zero or less returns the ring unchanged, and so does
// any result that would fall below 4 points.
func Ring(r orb.Ring, tolerance float64) orb.Ring {
	if tolerance <= 0 || len(r) < 4 {
		return r
	}
	out := douglasPeucker(r, tolerance)
	if len(out) < 4 {
		return r
	}
	return out
}

// Polygon simplifies the outer ring and every hole of a polygon.
func Polygon(p orb.Polygon, tolerance float64) orb.Polygon {
	out := make(orb.Polygon, len(p))
	for i, r := range p {
		out[i] = Ring(r, tolerance)
	}
	return out
}

// Boundary returns a copy of b with all polygon rings simplified.
func Boundary(b model.Boundary, tolerance float64) model.Boundary {
	if len(b.Polygons) == 0 {
		return b
	}
	polygons := make([]orb.Polygon, len(b.Polygons))
	for i, p := range b.Polygons {
		polygons[i] = Polygon(p, tolerance)
	}
	b.Polygons = polygons
	return b
}

// douglasPeucker keeps the first and last points as anchors, finds the
// interior point farthest from the anchor line, and either recurses on
// both halves or collapses the interior to the anchors.
func douglasPeucker(pts []orb.Point, tolerance float64) []orb.Point {
	if len(pts) <= 2 {
		return append([]orb.Point(nil), pts...)
	}

	start, end := pts[0], pts[len(pts)-1]
	maxDist := 0.0
	maxIdx := 0
	for i := 1; i < len(pts)-1; i++ {
		if d := perpendicularDistance(pts[i], start, end); d > maxDist {
			maxDist = d
			maxIdx = i
		}
	}

	if maxDist > tolerance {
		left := douglasPeucker(pts[:maxIdx+1], tolerance)
		right := douglasPeucker(pts[maxIdx:], tolerance)
		// The split point appears in both halves; drop one copy.
		return append(left[:len(left)-1], right...)
	}
	return []orb.Point{start, end}
}

// perpendicularDistance is the distance from p to the line through a
// and b, falling back to point distance when the line is degenerate.
// For a closed ring the anchors coincide, so the fallback is what
// keeps the farthest vertex of the ring.
func perpendicularDistance(p, a, b orb.Point) float64 {
	dx, dy := b[0]-a[0], b[1]-a[1]
	if dx == 0 && dy == 0 {
		return math.Hypot(p[0]-a[0], p[1]-a[1])
	}
	num := math.Abs(dy*p[0] - dx*p[1] + b[0]*a[1] - b[1]*a[0])
	return num / math.Hypot(dx, dy)
}
