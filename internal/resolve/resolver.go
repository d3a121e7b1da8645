// Package resolve builds the minimal in-memory subgraph needed to
// assemble the filtered relations: the relations themselves, the node-id
// lists of their member ways, and the coordinates of the referenced
// nodes. It streams the source three times with strictly shrinking
// target sets instead of holding the full dataset in memory.
package resolve

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/osm"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wegman-software/osmbounds/internal/config"
	"github.com/wegman-software/osmbounds/internal/logger"
	"github.com/wegman-software/osmbounds/internal/model"
)

// Result is the output of the three resolution passes. The way and node
// caches are read-only once Resolve returns and are shared by all
// assembly workers.
type Result struct {
	Relations []model.AreaRelation
	Ways      map[int64][]int64
	Nodes     map[int64]orb.Point

	// Ids referenced by the relations but absent from the source.
	MissingWays  []int64
	MissingNodes []int64

	// Partial is true when a decoder error aborted resolution; the
	// caches then hold whatever was seen before the failure.
	Partial bool
}

// Resolver runs the three-pass resolution against a re-iterable source.
type Resolver struct {
	src     Source
	filter  config.TagFilter
	workers int
}

// New creates a resolver. workers bounds the node-pass sharding; values
// below 1 disable sharding.
func New(src Source, filter config.TagFilter, workers int) *Resolver {
	if workers < 1 {
		workers = 1
	}
	return &Resolver{src: src, filter: filter, workers: workers}
}

// Resolve executes the relation, way and node passes in order. Missing
// ways and nodes are recorded, never fatal; only a source read error
// aborts, returning the partial result alongside the error.
func (r *Resolver) Resolve(ctx context.Context) (*Result, error) {
	log := logger.Get()
	res := &Result{
		Ways:  make(map[int64][]int64),
		Nodes: make(map[int64]orb.Point),
	}

	start := time.Now()
	neededWays, err := r.relationPass(ctx, res)
	if err != nil {
		res.Partial = true
		return res, fmt.Errorf("relation pass failed: %w", err)
	}
	log.Info("Relation pass complete",
		zap.Int("relations", len(res.Relations)),
		zap.Int("ways_needed", len(neededWays)),
		zap.Duration("duration", time.Since(start).Round(time.Millisecond)))

	start = time.Now()
	neededNodes, err := r.wayPass(ctx, neededWays, res)
	if err != nil {
		res.Partial = true
		return res, fmt.Errorf("way pass failed: %w", err)
	}
	log.Info("Way pass complete",
		zap.Int("ways", len(res.Ways)),
		zap.Int("ways_missing", len(res.MissingWays)),
		zap.Int("nodes_needed", len(neededNodes)),
		zap.Duration("duration", time.Since(start).Round(time.Millisecond)))

	start = time.Now()
	if err := r.nodePass(ctx, neededNodes, res); err != nil {
		res.Partial = true
		return res, fmt.Errorf("node pass failed: %w", err)
	}
	log.Info("Node pass complete",
		zap.Int("nodes", len(res.Nodes)),
		zap.Int("nodes_missing", len(res.MissingNodes)),
		zap.Duration("duration", time.Since(start).Round(time.Millisecond)))

	return res, nil
}

// relationPass retains every relation matching the tag filter and
// collects the set of way ids its members reference.
func (r *Resolver) relationPass(ctx context.Context, res *Result) (map[int64]struct{}, error) {
	sc, err := r.src.Open(ctx)
	if err != nil {
		return nil, err
	}
	defer sc.Close()

	needed := make(map[int64]struct{})
	for sc.Scan() {
		rel, ok := sc.Object().(*osm.Relation)
		if !ok {
			continue
		}
		tags := rel.Tags.Map()
		if !r.filter.Match(tags) {
			continue
		}

		area := model.AreaRelation{
			ID:   int64(rel.ID),
			Tags: tags,
		}
		for _, m := range rel.Members {
			// Member relations (relation-of-relations) are not
			// followed; only way members carry geometry here.
			if m.Type != osm.TypeWay {
				continue
			}
			area.Members = append(area.Members, model.MemberRef{
				Ref:  m.Ref,
				Role: memberRole(m.Role),
			})
			needed[m.Ref] = struct{}{}
		}
		res.Relations = append(res.Relations, area)
	}
	if err := scanErr(sc); err != nil {
		return needed, err
	}

	sort.Slice(res.Relations, func(i, j int) bool {
		return res.Relations[i].ID < res.Relations[j].ID
	})
	return needed, nil
}

// wayPass retains the ordered node-id list of every needed way and
// collects the node ids those ways reference.
func (r *Resolver) wayPass(ctx context.Context, needed map[int64]struct{}, res *Result) (map[int64]struct{}, error) {
	neededNodes := make(map[int64]struct{})
	if len(needed) == 0 {
		return neededNodes, nil
	}

	sc, err := r.src.Open(ctx)
	if err != nil {
		return nil, err
	}
	defer sc.Close()

	for sc.Scan() {
		way, ok := sc.Object().(*osm.Way)
		if !ok {
			continue
		}
		id := int64(way.ID)
		if _, want := needed[id]; !want {
			continue
		}
		nodeIDs := make([]int64, len(way.Nodes))
		for i, n := range way.Nodes {
			nodeIDs[i] = int64(n.ID)
			neededNodes[int64(n.ID)] = struct{}{}
		}
		res.Ways[id] = nodeIDs
		if len(res.Ways) == len(needed) {
			break
		}
	}
	if err := scanErr(sc); err != nil {
		return neededNodes, err
	}

	for id := range needed {
		if _, ok := res.Ways[id]; !ok {
			res.MissingWays = append(res.MissingWays, id)
		}
	}
	sort.Slice(res.MissingWays, func(i, j int) bool { return res.MissingWays[i] < res.MissingWays[j] })
	return neededNodes, nil
}

// nodePass retains the coordinates of every needed node. The collection
// is sharded across workers by id so each worker owns a disjoint map;
// the maps are merged read-only at the end.
func (r *Resolver) nodePass(ctx context.Context, needed map[int64]struct{}, res *Result) error {
	if len(needed) == 0 {
		return nil
	}

	sc, err := r.src.Open(ctx)
	if err != nil {
		return err
	}
	defer sc.Close()

	type coord struct {
		id       int64
		lon, lat float64
	}

	workers := r.workers
	shards := make([]chan coord, workers)
	results := make([]map[int64]orb.Point, workers)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		i := i
		shards[i] = make(chan coord, 4096)
		results[i] = make(map[int64]orb.Point)
		g.Go(func() error {
			for c := range shards[i] {
				results[i][c.id] = orb.Point{c.lon, c.lat}
			}
			return nil
		})
	}

	// A node id can appear more than once in a stream, so count only
	// first sightings or the early exit fires before every needed id
	// was seen.
	seen := make(map[int64]struct{}, len(needed))
	found := 0
	var scanFailure error
	for sc.Scan() {
		node, ok := sc.Object().(*osm.Node)
		if !ok {
			continue
		}
		id := int64(node.ID)
		if _, want := needed[id]; !want {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		shard := shards[uint64(id)%uint64(workers)]
		select {
		case shard <- coord{id: id, lon: node.Lon, lat: node.Lat}:
		case <-gctx.Done():
			scanFailure = gctx.Err()
		}
		if scanFailure != nil {
			break
		}
		found++
		if found == len(needed) {
			break
		}
	}
	if err := scanErr(sc); err != nil {
		scanFailure = err
	}

	for _, ch := range shards {
		close(ch)
	}
	if err := g.Wait(); err != nil && scanFailure == nil {
		scanFailure = err
	}
	for _, m := range results {
		for id, pt := range m {
			res.Nodes[id] = pt
		}
	}
	if scanFailure != nil {
		return scanFailure
	}

	for id := range needed {
		if _, ok := res.Nodes[id]; !ok {
			res.MissingNodes = append(res.MissingNodes, id)
		}
	}
	sort.Slice(res.MissingNodes, func(i, j int) bool { return res.MissingNodes[i] < res.MissingNodes[j] })
	return nil
}

// memberRole maps the raw OSM role string onto the model role. An
// empty or unrecognized role is left unknown; the assembler treats it
// as outer, matching common practice in malformed relations.
func memberRole(role string) model.Role {
	switch role {
	case "outer":
		return model.RoleOuter
	case "inner":
		return model.RoleInner
	default:
		return model.RoleUnknown
	}
}

func scanErr(sc osm.Scanner) error {
	if err := sc.Err(); err != nil && err != io.EOF {
		return err
	}
	return nil
}
