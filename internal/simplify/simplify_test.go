package simplify

import (
	"testing"

	"github.com/paulmach/orb"

	"github.com/wegman-software/osmbounds/internal/model"
)

func ringsEqual(a, b orb.Ring) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestRingZeroToleranceUnchanged(t *testing.T) {
	r := orb.Ring{{0, 0}, {1, 0.0001}, {2, 0}, {2, 2}, {0, 2}, {0, 0}}
	if got := Ring(r, 0); !ringsEqual(got, r) {
		t.Errorf("zero tolerance changed the ring: %v", got)
	}
	if got := Ring(r, -1); !ringsEqual(got, r) {
		t.Errorf("negative tolerance changed the ring: %v", got)
	}
}

func TestRingDropsNearCollinearPoint(t *testing.T) {
	// The point at (1, 0.0001) deviates far less than the tolerance.
	r := orb.Ring{{0, 0}, {1, 0.0001}, {2, 0}, {2, 2}, {0, 2}, {0, 0}}
	got := Ring(r, 0.01)

	want := orb.Ring{{0, 0}, {2, 0}, {2, 2}, {0, 2}, {0, 0}}
	if !ringsEqual(got, want) {
		t.Errorf("Ring = %v, want %v", got, want)
	}
}

func TestRingKeepsSignificantPoint(t *testing.T) {
	r := orb.Ring{{0, 0}, {1, 0.5}, {2, 0}, {2, 2}, {0, 2}, {0, 0}}
	got := Ring(r, 0.01)

	if !ringsEqual(got, r) {
		t.Errorf("significant vertex was dropped: %v", got)
	}
}

func TestRingStaysClosed(t *testing.T) {
	r := orb.Ring{{0, 0}, {1, 0.0001}, {2, 0}, {2, 2}, {1, 1.9999}, {0, 2}, {0, 0}}
	got := Ring(r, 0.01)

	if got[0] != got[len(got)-1] {
		t.Errorf("simplified ring is not closed: %v", got)
	}
}

func TestRingMinimumSizeGuard(t *testing.T) {
	// A square collapses to fewer than 4 points under a huge tolerance;
	// the original must come back instead.
	r := orb.Ring{{0, 0}, {1, 0}, {1, 1}, {0, 1}, {0, 0}}
	got := Ring(r, 100)

	if !ringsEqual(got, r) {
		t.Errorf("ring below minimum size was not restored: %v", got)
	}
}

func TestRingTooShortUnchanged(t *testing.T) {
	r := orb.Ring{{0, 0}, {1, 0}, {0, 0}}
	if got := Ring(r, 0.5); !ringsEqual(got, r) {
		t.Errorf("short ring changed: %v", got)
	}
}

func TestRingIdempotent(t *testing.T) {
	r := orb.Ring{{0, 0}, {1, 0.0001}, {2, 0}, {2, 2}, {1, 1.9999}, {0, 2}, {0, 0}}
	once := Ring(r, 0.01)
	twice := Ring(once, 0.01)

	if !ringsEqual(once, twice) {
		t.Errorf("second pass changed the ring: %v vs %v", once, twice)
	}
}

func TestPolygonSimplifiesAllRings(t *testing.T) {
	p := orb.Polygon{
		{{0, 0}, {5, 0.0001}, {10, 0}, {10, 10}, {0, 10}, {0, 0}},
		{{4, 4}, {5, 4.0001}, {6, 4}, {6, 6}, {4, 6}, {4, 4}},
	}
	got := Polygon(p, 0.01)

	if len(got[0]) != 5 {
		t.Errorf("outer ring has %d points, want 5", len(got[0]))
	}
	if len(got[1]) != 5 {
		t.Errorf("hole has %d points, want 5", len(got[1]))
	}
}

func TestBoundaryPreservesMetadata(t *testing.T) {
	b := model.Boundary{
		RelationID: 7,
		Name:       "Testland",
		Polygons: []orb.Polygon{
			{{{0, 0}, {5, 0.0001}, {10, 0}, {10, 10}, {0, 10}, {0, 0}}},
		},
		Diagnostics: []model.Diagnostic{{Kind: model.DiagArtificialClosure, Ref: 3}},
	}
	got := Boundary(b, 0.01)

	if got.RelationID != 7 || got.Name != "Testland" {
		t.Error("metadata changed during simplification")
	}
	if len(got.Diagnostics) != 1 {
		t.Error("diagnostics changed during simplification")
	}
	if len(got.Polygons[0][0]) != 5 {
		t.Errorf("outer ring has %d points, want 5", len(got.Polygons[0][0]))
	}
	// Original boundary must be untouched.
	if len(b.Polygons[0][0]) != 6 {
		t.Error("input boundary was mutated")
	}
}
