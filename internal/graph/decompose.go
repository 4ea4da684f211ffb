package graph

import (
	"github.com/paulmach/orb"
	"go.uber.org/zap"

	"github.com/wegman-software/shp2pbf-go/internal/feature"
)

// Decompose splits a reprojected geometry into the lines that become ways.
// Only multi-line geometries are supported. Anything else is logged and
// reported with ok == false; it is not an error.
func Decompose(log *zap.Logger, featureID string, geometry orb.Geometry, shapeLabel string) (lines []orb.LineString, ok bool) {
	if shapeLabel != feature.MultiLineString {
		warnUnsupported(log, featureID, shapeLabel)
		return nil, false
	}

	switch g := geometry.(type) {
	case orb.MultiLineString:
		lines = make([]orb.LineString, 0, len(g))
		return append(lines, g...), true
	case nil:
		warnUnsupported(log, featureID, "null")
		return nil, false
	default:
		warnUnsupported(log, featureID, geometry.GeoJSONType())
		return nil, false
	}
}

func warnUnsupported(log *zap.Logger, featureID, shape string) {
	log.Warn("GeometryType not supported, skipping element",
		zap.String("geometry_type", shape),
		zap.String("feature", featureID),
	)
}
