package assemble

import (
	"testing"

	"github.com/paulmach/orb"

	"github.com/wegman-software/osmbounds/internal/model"
)

// testNodes lays out a 10x10 outer square (nodes 1-4), an inner square
// (nodes 5-8) and a second small square far away (nodes 20-23).
func testNodes() map[int64]orb.Point {
	return map[int64]orb.Point{
		1: {0, 0},
		2: {10, 0},
		3: {10, 10},
		4: {0, 10},

		5: {4, 4},
		6: {6, 4},
		7: {6, 6},
		8: {4, 6},

		20: {100, 100},
		21: {101, 100},
		22: {101, 101},
		23: {100, 101},
	}
}

func outerMembers(refs ...int64) []model.MemberRef {
	ms := make([]model.MemberRef, len(refs))
	for i, r := range refs {
		ms[i] = model.MemberRef{Ref: r, Role: model.RoleOuter}
	}
	return ms
}

func diagnosticKinds(b model.Boundary) map[model.DiagnosticKind]int {
	kinds := make(map[model.DiagnosticKind]int)
	for _, d := range b.Diagnostics {
		kinds[d.Kind]++
	}
	return kinds
}

func TestRelationSquareFromThreeWays(t *testing.T) {
	ways := map[int64][]int64{
		10: {1, 2},
		11: {2, 3},
		12: {3, 4, 1},
	}
	rel := model.AreaRelation{
		ID:      100,
		Tags:    map[string]string{"name": "Square"},
		Members: outerMembers(10, 11, 12),
	}

	b := Relation(rel, ways, testNodes())

	if len(b.Diagnostics) != 0 {
		t.Fatalf("unexpected diagnostics: %v", b.Diagnostics)
	}
	if len(b.Polygons) != 1 {
		t.Fatalf("expected 1 polygon, got %d", len(b.Polygons))
	}
	ring := b.Polygons[0][0]
	want := orb.Ring{{0, 0}, {10, 0}, {10, 10}, {0, 10}, {0, 0}}
	if len(ring) != len(want) {
		t.Fatalf("ring has %d points, want %d", len(ring), len(want))
	}
	for i := range want {
		if ring[i] != want[i] {
			t.Errorf("ring[%d] = %v, want %v", i, ring[i], want[i])
		}
	}
}

func TestRelationReversedWay(t *testing.T) {
	// Way 11 runs backwards; assembly must reverse it, not concatenate.
	ways := map[int64][]int64{
		10: {1, 2},
		11: {3, 2},
		12: {3, 4, 1},
	}
	rel := model.AreaRelation{ID: 100, Members: outerMembers(10, 11, 12)}

	b := Relation(rel, ways, testNodes())

	if len(b.Polygons) != 1 {
		t.Fatalf("expected 1 polygon, got %d", len(b.Polygons))
	}
	ring := b.Polygons[0][0]
	if ring[0] != ring[len(ring)-1] {
		t.Error("ring is not closed")
	}
	if got := ring[2]; got != (orb.Point{10, 10}) {
		t.Errorf("ring[2] = %v, want node 3 at (10,10)", got)
	}
}

func TestRelationMemberOrderIndependent(t *testing.T) {
	ways := map[int64][]int64{
		10: {1, 2},
		11: {2, 3},
		12: {3, 4, 1},
	}
	orders := [][]int64{
		{10, 11, 12},
		{12, 10, 11},
		{11, 12, 10},
	}

	var first orb.Ring
	for _, order := range orders {
		rel := model.AreaRelation{ID: 100, Members: outerMembers(order...)}
		b := Relation(rel, ways, testNodes())
		if len(b.Polygons) != 1 {
			t.Fatalf("order %v: expected 1 polygon, got %d", order, len(b.Polygons))
		}
		ring := b.Polygons[0][0]
		if first == nil {
			first = ring
			continue
		}
		if len(ring) != len(first) {
			t.Fatalf("order %v: ring length %d differs from %d", order, len(ring), len(first))
		}
		for i := range first {
			if ring[i] != first[i] {
				t.Errorf("order %v: ring[%d] = %v, want %v", order, i, ring[i], first[i])
			}
		}
	}
}

func TestRelationMultipleOuterRings(t *testing.T) {
	ways := map[int64][]int64{
		10: {1, 2, 3, 4, 1},
		11: {20, 21, 22, 23, 20},
	}
	rel := model.AreaRelation{ID: 100, Members: outerMembers(10, 11)}

	b := Relation(rel, ways, testNodes())

	if len(b.Polygons) != 2 {
		t.Fatalf("expected 2 polygons, got %d", len(b.Polygons))
	}
	if len(b.Diagnostics) != 0 {
		t.Errorf("unexpected diagnostics: %v", b.Diagnostics)
	}
}

func TestRelationHolePairing(t *testing.T) {
	ways := map[int64][]int64{
		10: {1, 2, 3, 4, 1},
		11: {5, 6, 7, 8, 5},
	}
	rel := model.AreaRelation{
		ID: 100,
		Members: []model.MemberRef{
			{Ref: 10, Role: model.RoleOuter},
			{Ref: 11, Role: model.RoleInner},
		},
	}

	b := Relation(rel, ways, testNodes())

	if len(b.Polygons) != 1 {
		t.Fatalf("expected 1 polygon, got %d", len(b.Polygons))
	}
	if len(b.Polygons[0]) != 2 {
		t.Fatalf("expected outer ring plus hole, got %d rings", len(b.Polygons[0]))
	}
}

func TestRelationOrphanHole(t *testing.T) {
	// Inner ring lies outside the outer ring's bounding box.
	ways := map[int64][]int64{
		10: {1, 2, 3, 4, 1},
		11: {20, 21, 22, 23, 20},
	}
	rel := model.AreaRelation{
		ID: 100,
		Members: []model.MemberRef{
			{Ref: 10, Role: model.RoleOuter},
			{Ref: 11, Role: model.RoleInner},
		},
	}

	b := Relation(rel, ways, testNodes())

	if len(b.Polygons) != 1 || len(b.Polygons[0]) != 1 {
		t.Fatalf("orphan hole must be dropped from geometry, got %v", b.Polygons)
	}
	kinds := diagnosticKinds(b)
	if kinds[model.DiagOrphanHole] != 1 {
		t.Errorf("expected one orphan hole diagnostic, got %v", b.Diagnostics)
	}
}

func TestRelationMissingWay(t *testing.T) {
	ways := map[int64][]int64{
		10: {1, 2},
		11: {2, 3},
	}
	rel := model.AreaRelation{ID: 100, Members: outerMembers(10, 11, 99)}

	b := Relation(rel, ways, testNodes())

	kinds := diagnosticKinds(b)
	if kinds[model.DiagUnresolvedMember] != 1 {
		t.Errorf("expected unresolved member diagnostic, got %v", b.Diagnostics)
	}
	var found bool
	for _, d := range b.Diagnostics {
		if d.Kind == model.DiagUnresolvedMember && d.Ref == 99 {
			found = true
		}
	}
	if !found {
		t.Error("unresolved member diagnostic must name way 99")
	}
	// The surviving open chain has three distinct points and gets
	// force-closed.
	if kinds[model.DiagArtificialClosure] != 1 {
		t.Errorf("expected artificial closure diagnostic, got %v", b.Diagnostics)
	}
	if len(b.Polygons) != 1 {
		t.Fatalf("expected force-closed polygon, got %d", len(b.Polygons))
	}
	ring := b.Polygons[0][0]
	if ring[0] != ring[len(ring)-1] {
		t.Error("force-closed ring must repeat its first point")
	}
}

func TestRelationMissingNode(t *testing.T) {
	ways := map[int64][]int64{
		10: {1, 2, 999, 3},
	}
	rel := model.AreaRelation{ID: 100, Members: outerMembers(10)}

	b := Relation(rel, ways, testNodes())

	kinds := diagnosticKinds(b)
	if kinds[model.DiagUnresolvedMember] != 1 {
		t.Errorf("expected unresolved member diagnostic, got %v", b.Diagnostics)
	}
	if kinds[model.DiagNoGeometry] != 1 {
		t.Errorf("expected no-geometry diagnostic, got %v", b.Diagnostics)
	}
	if b.HasGeometry() {
		t.Error("boundary must not have geometry")
	}
}

func TestRelationDegenerateChain(t *testing.T) {
	ways := map[int64][]int64{
		10: {1, 2},
	}
	rel := model.AreaRelation{ID: 100, Members: outerMembers(10)}

	b := Relation(rel, ways, testNodes())

	kinds := diagnosticKinds(b)
	if kinds[model.DiagDegenerateRing] != 1 {
		t.Errorf("expected degenerate ring diagnostic, got %v", b.Diagnostics)
	}
	if b.HasGeometry() {
		t.Error("two points cannot form a ring")
	}
}

func TestRelationUnknownRoleCountsAsOuter(t *testing.T) {
	ways := map[int64][]int64{
		10: {1, 2, 3, 4, 1},
	}
	rel := model.AreaRelation{
		ID:      100,
		Members: []model.MemberRef{{Ref: 10, Role: model.RoleUnknown}},
	}

	b := Relation(rel, ways, testNodes())

	if len(b.Polygons) != 1 {
		t.Fatalf("expected 1 polygon from unknown-role way, got %d", len(b.Polygons))
	}
}

func TestRelationNameFallbacks(t *testing.T) {
	tests := []struct {
		name string
		tags map[string]string
		want string
	}{
		{"english preferred", map[string]string{"name": "España", "name:en": "Spain"}, "Spain"},
		{"local fallback", map[string]string{"name": "España"}, "España"},
		{"id fallback", map[string]string{}, "relation 100"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rel := model.AreaRelation{ID: 100, Tags: tt.tags}
			b := Relation(rel, nil, nil)
			if b.Name != tt.want {
				t.Errorf("Name = %q, want %q", b.Name, tt.want)
			}
		})
	}
}
