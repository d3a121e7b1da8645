// Package locate answers point-in-boundary queries. Candidate polygons
// are pre-filtered by an R-tree over their bounding boxes, then tested
// with even-odd ray casting against the outer ring minus holes. The
// index is immutable after Build and safe for unlimited concurrent use.
package locate

import (
	"github.com/dhconnelly/rtreego"
	"github.com/paulmach/orb"

	"github.com/wegman-software/osmbounds/internal/model"
)

// rectPad keeps degenerate bounding boxes representable in the R-tree.
const rectPad = 1e-9

// entry is one polygon of one boundary in the R-tree.
type entry struct {
	relationID int64
	polygon    orb.Polygon
	rect       *rtreego.Rect
}

func (e *entry) Bounds() *rtreego.Rect {
	return e.rect
}

// Index resolves coordinates to the relation id of the containing
// boundary.
type Index struct {
	tree *rtreego.Rtree
	size int
}

// Build constructs the index from assembled boundaries. Polygons
// without a usable outer ring are skipped.
func Build(boundaries []model.Boundary) *Index {
	var objs []rtreego.Spatial
	for _, b := range boundaries {
		for _, poly := range b.Polygons {
			if len(poly) == 0 || len(poly[0]) < 4 {
				continue
			}
			objs = append(objs, &entry{
				relationID: b.RelationID,
				polygon:    poly,
				rect:       rectFromBound(poly[0].Bound()),
			})
		}
	}
	return &Index{
		tree: rtreego.NewTree(2, 25, 50, objs...),
		size: len(objs),
	}
}

// Size returns the number of indexed polygons.
func (ix *Index) Size() int {
	return ix.size
}

// Locate returns the relation id of the boundary containing the point,
// or false when no boundary claims it. Points exactly on a ring edge
// count as contained. When polygons of several relations claim the
// point, the lowest relation id wins; the choice is a deterministic
// tie-break over imperfect source data, not a geodetic judgement.
func (ix *Index) Locate(lon, lat float64) (int64, bool) {
	p := orb.Point{lon, lat}
	hits := ix.tree.SearchIntersect(rtreego.Point{lon, lat}.ToRect(rectPad))

	found := false
	var best int64
	for _, h := range hits {
		e := h.(*entry)
		if found && e.relationID >= best {
			continue
		}
		if polygonContains(e.polygon, p) {
			best = e.relationID
			found = true
		}
	}
	return best, found
}

func rectFromBound(b orb.Bound) *rtreego.Rect {
	lengths := []float64{b.Max[0] - b.Min[0], b.Max[1] - b.Min[1]}
	for i := range lengths {
		if lengths[i] < rectPad {
			lengths[i] = rectPad
		}
	}
	r, err := rtreego.NewRect(rtreego.Point{b.Min[0], b.Min[1]}, lengths)
	if err != nil {
		// Only reachable with NaN coordinates; treat as a point rect.
		r, _ = rtreego.NewRect(rtreego.Point{0, 0}, []float64{rectPad, rectPad})
	}
	return r
}

// polygonContains tests the point against the outer ring minus holes.
// Any ring edge, including a hole edge, counts as contained.
func polygonContains(poly orb.Polygon, p orb.Point) bool {
	inside, onEdge := ringContains(poly[0], p)
	if onEdge {
		return true
	}
	if !inside {
		return false
	}
	for _, hole := range poly[1:] {
		hin, hedge := ringContains(hole, p)
		if hedge {
			return true
		}
		if hin {
			return false
		}
	}
	return true
}

// ringContains runs an even-odd ray cast over the ring's edges and
// additionally reports whether the point lies exactly on an edge.
// The ring is expected to be closed (first point equals last).
func ringContains(r orb.Ring, p orb.Point) (inside, onEdge bool) {
	for i := 0; i < len(r)-1; i++ {
		a, b := r[i], r[i+1]
		if onSegment(p, a, b) {
			return false, true
		}
		if (a[1] > p[1]) != (b[1] > p[1]) {
			x := (b[0]-a[0])*(p[1]-a[1])/(b[1]-a[1]) + a[0]
			if p[0] < x {
				inside = !inside
			}
		}
	}
	return inside, false
}

// onSegment reports whether p lies on the segment a-b.
func onSegment(p, a, b orb.Point) bool {
	cross := (b[0]-a[0])*(p[1]-a[1]) - (b[1]-a[1])*(p[0]-a[0])
	if cross != 0 {
		return false
	}
	if p[0] < min(a[0], b[0]) || p[0] > max(a[0], b[0]) {
		return false
	}
	if p[1] < min(a[1], b[1]) || p[1] > max(a[1], b[1]) {
		return false
	}
	return true
}
