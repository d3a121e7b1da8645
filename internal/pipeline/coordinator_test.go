package pipeline

import (
	"context"
	"testing"

	"github.com/paulmach/osm"

	"github.com/wegman-software/osmbounds/internal/config"
	"github.com/wegman-software/osmbounds/internal/model"
)

type sliceScanner struct {
	objs []osm.Object
	idx  int
}

func (s *sliceScanner) Scan() bool {
	if s.idx >= len(s.objs) {
		return false
	}
	s.idx++
	return true
}

func (s *sliceScanner) Object() osm.Object { return s.objs[s.idx-1] }
func (s *sliceScanner) Err() error         { return nil }
func (s *sliceScanner) Close() error       { return nil }

type sliceSource []osm.Object

func (s sliceSource) Open(ctx context.Context) (osm.Scanner, error) {
	return &sliceScanner{objs: s}, nil
}

func adminTags(name string) osm.Tags {
	return osm.Tags{
		{Key: "boundary", Value: "administrative"},
		{Key: "admin_level", Value: "2"},
		{Key: "name", Value: name},
	}
}

// testSource holds one square country with a city inside and a hamlet
// outside of it.
func testSource() sliceSource {
	return sliceSource{
		&osm.Node{ID: 1, Lon: 0, Lat: 0},
		&osm.Node{ID: 2, Lon: 10, Lat: 0},
		&osm.Node{ID: 3, Lon: 10, Lat: 10},
		&osm.Node{ID: 4, Lon: 0, Lat: 10},
		&osm.Node{ID: 70, Lon: 5, Lat: 5, Tags: osm.Tags{
			{Key: "place", Value: "city"},
			{Key: "name", Value: "Capital"},
		}},
		&osm.Node{ID: 71, Lon: 50, Lat: 50, Tags: osm.Tags{
			{Key: "place", Value: "hamlet"},
			{Key: "name", Value: "Faraway"},
		}},
		&osm.Way{ID: 10, Nodes: osm.WayNodes{{ID: 1}, {ID: 2}, {ID: 3}}},
		&osm.Way{ID: 11, Nodes: osm.WayNodes{{ID: 3}, {ID: 4}, {ID: 1}}},
		&osm.Relation{
			ID:   100,
			Tags: adminTags("Testland"),
			Members: osm.Members{
				{Type: osm.TypeWay, Ref: 10, Role: "outer"},
				{Type: osm.TypeWay, Ref: 11, Role: "outer"},
			},
		},
	}
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Workers = 2
	cfg.MetricsInterval = 0
	cfg.SimplifyTolerance = 0
	return cfg
}

func TestCoordinatorRun(t *testing.T) {
	coord := NewCoordinator(testConfig(), testSource())

	result, err := coord.Run(context.Background(), Options{Settlements: true})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if result.Stats.Relations != 1 || result.Stats.WithGeometry != 1 {
		t.Errorf("stats = %+v", result.Stats)
	}
	if result.Stats.Partial {
		t.Error("result must not be partial")
	}

	if len(result.Boundaries) != 1 {
		t.Fatalf("got %d boundaries, want 1", len(result.Boundaries))
	}
	b := result.Boundaries[0]
	if b.RelationID != 100 || b.Name != "Testland" {
		t.Errorf("boundary = %+v", b)
	}
	if len(b.Diagnostics) != 0 {
		t.Errorf("unexpected diagnostics: %v", b.Diagnostics)
	}

	if id, ok := result.Index.Locate(5, 5); !ok || id != 100 {
		t.Errorf("Locate(5,5) = (%d, %v), want (100, true)", id, ok)
	}
	if _, ok := result.Index.Locate(50, 50); ok {
		t.Error("Locate(50,50) must miss")
	}

	if len(result.Settlements) != 2 {
		t.Fatalf("got %d settlements, want 2", len(result.Settlements))
	}
	if result.Stats.Linked != 1 {
		t.Errorf("Linked = %d, want 1", result.Stats.Linked)
	}
	for _, s := range result.Settlements {
		switch s.Name {
		case "Capital":
			if s.BoundaryID != 100 {
				t.Errorf("Capital linked to %d, want 100", s.BoundaryID)
			}
		case "Faraway":
			if s.BoundaryID != 0 {
				t.Errorf("Faraway linked to %d, want 0", s.BoundaryID)
			}
		}
	}
}

func TestCoordinatorRunWithoutSettlements(t *testing.T) {
	coord := NewCoordinator(testConfig(), testSource())

	result, err := coord.Run(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Settlements) != 0 || result.Stats.Settlements != 0 {
		t.Errorf("settlement phase ran despite being disabled: %+v", result.Stats)
	}
}

func TestCoordinatorDiagnosticsCounted(t *testing.T) {
	// Way 99 is referenced but absent, so the remaining open chain is
	// force-closed and both defects show up in the stats.
	src := testSource()
	src = append(src, &osm.Relation{
		ID:   200,
		Tags: adminTags("Brokenland"),
		Members: osm.Members{
			{Type: osm.TypeWay, Ref: 10, Role: "outer"},
			{Type: osm.TypeWay, Ref: 99, Role: "outer"},
		},
	})
	coord := NewCoordinator(testConfig(), src)

	result, err := coord.Run(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if result.Stats.MissingWays != 1 {
		t.Errorf("MissingWays = %d, want 1", result.Stats.MissingWays)
	}
	if result.Stats.Diagnostics[model.DiagUnresolvedMember] != 1 {
		t.Errorf("diagnostics = %v", result.Stats.Diagnostics)
	}
	if result.Stats.Diagnostics[model.DiagArtificialClosure] != 1 {
		t.Errorf("diagnostics = %v", result.Stats.Diagnostics)
	}
	// Boundaries come back ordered by relation id.
	if len(result.Boundaries) != 2 || result.Boundaries[0].RelationID != 100 {
		t.Errorf("boundaries = %+v", result.Boundaries)
	}
}
