// Package export serializes assembled boundaries as GeoJSON.
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/paulmach/orb/geojson"

	"github.com/wegman-software/osmbounds/internal/model"
)

// Feature converts one boundary to a GeoJSON feature. A boundary with a
// single polygon becomes a Polygon geometry, anything more becomes a
// MultiPolygon. A boundary without geometry becomes a feature with a
// null geometry so its diagnostics still reach the output.
func Feature(b model.Boundary) *geojson.Feature {
	var f *geojson.Feature
	switch {
	case !b.HasGeometry():
		f = &geojson.Feature{Type: "Feature", Properties: make(geojson.Properties)}
	case len(b.Polygons) == 1:
		f = geojson.NewFeature(b.Polygons[0])
	default:
		f = geojson.NewFeature(b.MultiPolygon())
	}

	f.ID = b.RelationID
	f.Properties["osm_id"] = b.RelationID
	f.Properties["name"] = b.Name
	if b.LocalName != "" {
		f.Properties["name:local"] = b.LocalName
	}
	if b.ISOAlpha2 != "" {
		f.Properties["iso_alpha2"] = b.ISOAlpha2
	}
	if b.ISOAlpha3 != "" {
		f.Properties["iso_alpha3"] = b.ISOAlpha3
	}
	if v, ok := b.Tags["admin_level"]; ok {
		f.Properties["admin_level"] = v
	}
	if len(b.Diagnostics) > 0 {
		notes := make([]string, len(b.Diagnostics))
		for i, d := range b.Diagnostics {
			notes[i] = d.String()
		}
		f.Properties["diagnostics"] = notes
	}
	return f
}

// Collection converts boundaries to a feature collection ordered by
// relation id.
func Collection(boundaries []model.Boundary) *geojson.FeatureCollection {
	sorted := make([]model.Boundary, len(boundaries))
	copy(sorted, boundaries)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].RelationID < sorted[j].RelationID
	})

	fc := geojson.NewFeatureCollection()
	for _, b := range sorted {
		fc.Append(Feature(b))
	}
	return fc
}

// Write encodes the boundaries as a GeoJSON feature collection.
func Write(w io.Writer, boundaries []model.Boundary) error {
	fc := Collection(boundaries)
	enc := json.NewEncoder(w)
	if err := enc.Encode(fc); err != nil {
		return fmt.Errorf("encoding feature collection: %w", err)
	}
	return nil
}
