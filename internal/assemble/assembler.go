// Package assemble stitches the unordered member ways of an area
// relation into closed rings and pairs outer rings with their holes.
// Ways are matched by their endpoint node ids, reversing segments as
// needed, so multi-way boundaries come out as geometrically coherent
// rings rather than a concatenated point soup.
package assemble

import (
	"fmt"
	"sort"

	"github.com/paulmach/orb"

	"github.com/wegman-software/osmbounds/internal/model"
)

// segment is one resolvable member way: its point geometry plus the
// node ids of both endpoints, which act as matching keys.
type segment struct {
	wayID  int64
	first  int64
	last   int64
	points []orb.Point
}

// ring is an assembled closed ring plus the way id it started from,
// used to attribute diagnostics.
type ring struct {
	geom  orb.Ring
	wayID int64
}

// Relation assembles one relation's boundary from the shared caches.
// The caches are read-only; Relation is safe to call concurrently for
// different relations. Defects degrade the geometry and surface as
// diagnostics, never as errors.
func Relation(rel model.AreaRelation, ways map[int64][]int64, nodes map[int64]orb.Point) model.Boundary {
	b := model.Boundary{
		RelationID: rel.ID,
		Name:       rel.Name(),
		LocalName:  rel.LocalName(),
		ISOAlpha2:  rel.ISOAlpha2(),
		ISOAlpha3:  rel.ISOAlpha3(),
		Tags:       rel.Tags,
	}

	var outerSegs, innerSegs []segment
	for _, m := range rel.Members {
		nodeIDs, ok := ways[m.Ref]
		if !ok {
			b.Diagnose(model.DiagUnresolvedMember, m.Ref, "way not found in source")
			continue
		}
		pts := make([]orb.Point, 0, len(nodeIDs))
		unresolved := false
		for _, nid := range nodeIDs {
			p, ok := nodes[nid]
			if !ok {
				b.Diagnose(model.DiagUnresolvedMember, m.Ref, fmt.Sprintf("node %d not found in source", nid))
				unresolved = true
				break
			}
			pts = append(pts, p)
		}
		if unresolved || len(pts) < 2 {
			if !unresolved {
				b.Diagnose(model.DiagDegenerateRing, m.Ref, "way has fewer than 2 resolvable points")
			}
			continue
		}
		seg := segment{wayID: m.Ref, first: nodeIDs[0], last: nodeIDs[len(nodeIDs)-1], points: pts}
		// An unspecified role counts as outer; real-world relations
		// frequently omit it.
		if m.Role == model.RoleInner {
			innerSegs = append(innerSegs, seg)
		} else {
			outerSegs = append(outerSegs, seg)
		}
	}

	outerRings, diags := buildRings(outerSegs)
	b.Diagnostics = append(b.Diagnostics, diags...)
	innerRings, diags := buildRings(innerSegs)
	b.Diagnostics = append(b.Diagnostics, diags...)

	polygons, diags := pairRings(outerRings, innerRings)
	b.Diagnostics = append(b.Diagnostics, diags...)
	b.Polygons = polygons

	if len(b.Polygons) == 0 {
		b.Diagnose(model.DiagNoGeometry, 0, "no closed outer ring could be assembled")
	}
	return b
}

// chain is a partially assembled ring with two open endpoints.
type chain struct {
	points  []orb.Point
	startID int64
	endID   int64
}

func (c *chain) closed() bool {
	return c.startID == c.endID
}

// extend appends a segment whose start or end matches the chain's open
// end, reversing the segment's point order when its end matched.
func (c *chain) extend(s segment) {
	if s.first == c.endID {
		c.points = append(c.points, s.points[1:]...)
		c.endID = s.last
		return
	}
	for i := len(s.points) - 2; i >= 0; i-- {
		c.points = append(c.points, s.points[i])
	}
	c.endID = s.first
}

// flip reverses the chain so extension can continue at the other open
// endpoint.
func (c *chain) flip() {
	for i, j := 0, len(c.points)-1; i < j; i, j = i+1, j-1 {
		c.points[i], c.points[j] = c.points[j], c.points[i]
	}
	c.startID, c.endID = c.endID, c.startID
}

// buildRings stitches the segment pool into rings. Segments are
// processed in ascending way-id order and extension candidates are
// chosen by lowest way id, making the result independent of member
// order in the input relation.
func buildRings(segs []segment) ([]ring, []model.Diagnostic) {
	sort.Slice(segs, func(i, j int) bool { return segs[i].wayID < segs[j].wayID })

	var rings []ring
	var diags []model.Diagnostic
	used := make([]bool, len(segs))

	for i := range segs {
		if used[i] {
			continue
		}
		used[i] = true
		c := chain{
			points:  append([]orb.Point(nil), segs[i].points...),
			startID: segs[i].first,
			endID:   segs[i].last,
		}

		flipped := false
		for !c.closed() {
			j := findExtension(segs, used, c.endID)
			if j < 0 {
				if flipped {
					break
				}
				c.flip()
				flipped = true
				continue
			}
			flipped = false
			used[j] = true
			c.extend(segs[j])
		}

		distinct := distinctPoints(c.points)
		switch {
		case c.closed() && distinct >= 3:
			rings = append(rings, ring{geom: orb.Ring(c.points), wayID: segs[i].wayID})
		case distinct >= 3:
			// Dangling chain: force closure by repeating the first
			// point, but report it.
			c.points = append(c.points, c.points[0])
			rings = append(rings, ring{geom: orb.Ring(c.points), wayID: segs[i].wayID})
			diags = append(diags, model.Diagnostic{
				Kind:   model.DiagArtificialClosure,
				Ref:    segs[i].wayID,
				Detail: "open chain force-closed",
			})
		default:
			diags = append(diags, model.Diagnostic{
				Kind:   model.DiagDegenerateRing,
				Ref:    segs[i].wayID,
				Detail: fmt.Sprintf("chain has only %d distinct points", distinct),
			})
		}
	}
	return rings, diags
}

// findExtension returns the index of the unused segment with the lowest
// way id whose start or end node matches endID, or -1. The slice is
// sorted by way id, so the first hit is the tie-break winner.
func findExtension(segs []segment, used []bool, endID int64) int {
	for j := range segs {
		if used[j] {
			continue
		}
		if segs[j].first == endID || segs[j].last == endID {
			return j
		}
	}
	return -1
}

// distinctPoints counts unique coordinates, ignoring the closing
// repeat of a closed ring.
func distinctPoints(pts []orb.Point) int {
	seen := make(map[orb.Point]struct{}, len(pts))
	for _, p := range pts {
		seen[p] = struct{}{}
	}
	return len(seen)
}

// pairRings attaches each inner ring to the first outer ring (in
// assembly order) whose bounding box contains it. Inner rings with no
// enclosing outer are dropped from the geometry and flagged.
func pairRings(outers, inners []ring) ([]orb.Polygon, []model.Diagnostic) {
	polygons := make([]orb.Polygon, len(outers))
	bounds := make([]orb.Bound, len(outers))
	for i, o := range outers {
		polygons[i] = orb.Polygon{o.geom}
		bounds[i] = o.geom.Bound()
	}

	var diags []model.Diagnostic
	for _, in := range inners {
		ib := in.geom.Bound()
		attached := false
		for i := range outers {
			if boundContains(bounds[i], ib) {
				polygons[i] = append(polygons[i], in.geom)
				attached = true
				break
			}
		}
		if !attached {
			diags = append(diags, model.Diagnostic{
				Kind:   model.DiagOrphanHole,
				Ref:    in.wayID,
				Detail: "inner ring has no enclosing outer ring",
			})
		}
	}
	return polygons, diags
}

// boundContains reports whether outer fully contains inner.
func boundContains(outer, inner orb.Bound) bool {
	return outer.Min[0] <= inner.Min[0] && outer.Max[0] >= inner.Max[0] &&
		outer.Min[1] <= inner.Min[1] && outer.Max[1] >= inner.Max[1]
}
