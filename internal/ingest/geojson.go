package ingest

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/paulmach/orb/geojson"

	"github.com/wegman-software/shp2pbf-go/internal/feature"
	"github.com/wegman-software/shp2pbf-go/internal/proj"
)

// GeoJSON reads a GeoJSON FeatureCollection held in memory
type GeoJSON struct {
	layer   string
	fc      *geojson.FeatureCollection
	pos     int
	current *feature.Feature
	crsName string
	hasCRS  bool
}

// OpenGeoJSON reads and parses the file at path. A single Feature object is
// accepted as a collection of one.
func OpenGeoJSON(path string) (*GeoJSON, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read geojson: %w", err)
	}

	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		f, ferr := geojson.UnmarshalFeature(data)
		if ferr != nil {
			return nil, fmt.Errorf("parse geojson %s: %w", path, err)
		}
		fc = geojson.NewFeatureCollection()
		fc.Append(f)
	}

	g := &GeoJSON{layer: layerName(path), fc: fc, pos: -1}
	g.crsName, g.hasCRS = crsName(fc.ExtraMembers)
	return g, nil
}

// Next advances to the next feature
func (g *GeoJSON) Next() bool {
	if g.fc == nil || g.pos+1 >= len(g.fc.Features) {
		g.current = nil
		return false
	}
	g.pos++

	f := g.fc.Features[g.pos]
	id := featureID(g.layer, g.pos)
	if f.ID != nil {
		id = fmt.Sprint(f.ID)
	}

	g.current = &feature.Feature{
		ID:         id,
		Geometry:   f.Geometry,
		Attributes: attributes(f.Properties),
	}
	return true
}

// Feature returns the current feature
func (g *GeoJSON) Feature() *feature.Feature { return g.current }

// Err always returns nil, parsing happens in OpenGeoJSON
func (g *GeoJSON) Err() error { return nil }

// Count returns the number of features in the collection
func (g *GeoJSON) Count() int {
	if g.fc == nil {
		return 0
	}
	return len(g.fc.Features)
}

// CRS returns the legacy "crs" member, or WGS84 when the member is absent
func (g *GeoJSON) CRS() (*proj.CRS, error) {
	if !g.hasCRS {
		return proj.WGS84, nil
	}
	srid, err := proj.ParseSRID(g.crsName)
	if err != nil {
		return nil, err
	}
	return proj.FromSRID(srid)
}

// Close drops the parsed collection
func (g *GeoJSON) Close() error {
	g.fc = nil
	g.current = nil
	return nil
}

// crsName extracts {"crs": {"type": "name", "properties": {"name": ...}}}
func crsName(members geojson.Properties) (string, bool) {
	crs, ok := members["crs"].(map[string]interface{})
	if !ok {
		return "", false
	}
	props, ok := crs["properties"].(map[string]interface{})
	if !ok {
		return "", false
	}
	name, ok := props["name"].(string)
	return name, ok
}

// attributes returns the properties sorted by key. Nested objects and arrays
// are kept as their JSON text.
func attributes(props geojson.Properties) []feature.Attribute {
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	attrs := make([]feature.Attribute, 0, len(keys))
	for _, k := range keys {
		v := props[k]
		switch v.(type) {
		case map[string]interface{}, []interface{}:
			if data, err := json.Marshal(v); err == nil {
				v = string(data)
			}
		}
		attrs = append(attrs, feature.Attribute{Name: k, Value: v})
	}
	return attrs
}
