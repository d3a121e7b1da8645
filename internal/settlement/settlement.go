// Package settlement extracts populated places from an OSM source and
// links them to the administrative boundaries that contain them.
package settlement

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/osm"
	"go.uber.org/zap"

	"github.com/wegman-software/osmbounds/internal/locate"
	"github.com/wegman-software/osmbounds/internal/logger"
	"github.com/wegman-software/osmbounds/internal/model"
	"github.com/wegman-software/osmbounds/internal/resolve"
)

// Scan reads the source once and collects named nodes whose place tag
// is in the configured set. Results are ordered by node id.
func Scan(ctx context.Context, src resolve.Source, places []string) ([]model.Settlement, error) {
	log := logger.Get()

	wanted := make(map[string]struct{}, len(places))
	for _, p := range places {
		wanted[p] = struct{}{}
	}

	sc, err := src.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("opening source for settlement scan: %w", err)
	}
	defer sc.Close()

	var settlements []model.Settlement
	for sc.Scan() {
		node, ok := sc.Object().(*osm.Node)
		if !ok {
			continue
		}
		tags := node.Tags.Map()
		place, ok := tags["place"]
		if !ok {
			continue
		}
		if _, ok := wanted[place]; !ok {
			continue
		}
		name := tags["name"]
		if name == "" {
			continue
		}
		settlements = append(settlements, model.Settlement{
			ID:     int64(node.ID),
			Name:   name,
			NameEN: tags["name:en"],
			Place:  place,
			Point:  orb.Point{node.Lon, node.Lat},
		})
	}
	if err := sc.Err(); err != nil && err != io.EOF {
		return settlements, fmt.Errorf("scanning settlements: %w", err)
	}

	sort.Slice(settlements, func(i, j int) bool {
		return settlements[i].ID < settlements[j].ID
	})
	log.Info("settlement scan complete", zap.Int("settlements", len(settlements)))
	return settlements, nil
}

// Link assigns each settlement the relation id of the boundary that
// contains its point. Settlements outside every boundary keep a zero
// BoundaryID. Returns the number of linked settlements.
func Link(settlements []model.Settlement, ix *locate.Index) int {
	linked := 0
	for i := range settlements {
		id, ok := ix.Locate(settlements[i].Point[0], settlements[i].Point[1])
		if !ok {
			continue
		}
		settlements[i].BoundaryID = id
		linked++
	}
	return linked
}
