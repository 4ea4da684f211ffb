package proj

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"
)

// TransformError reports a geometry that could not be reprojected
type TransformError struct {
	Source, Target int
	Point          orb.Point
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("transform EPSG:%d to EPSG:%d produced invalid coordinate %v", e.Source, e.Target, e.Point)
}

// Transformer handles coordinate transformations between projections
type Transformer struct {
	SourceSRID int
	TargetSRID int
	project    orb.Projection
}

// NewTransformer creates a transformer from source to target.
// Only transformations into WGS84 are supported.
func NewTransformer(source, target *CRS) (*Transformer, error) {
	if source == nil || target == nil {
		return nil, fmt.Errorf("source and target reference systems are required")
	}
	if target.SRID != SRID4326 {
		return nil, fmt.Errorf("unsupported target SRID: %d (only 4326 supported)", target.SRID)
	}

	t := &Transformer{SourceSRID: source.SRID, TargetSRID: target.SRID}
	switch source.SRID {
	case SRID4326:
	case SRID3857:
		t.project = project.Mercator.ToWGS84
	default:
		return nil, fmt.Errorf("unsupported source SRID: %d (supported: 4326, 3857)", source.SRID)
	}
	return t, nil
}

// NeedsTransform returns true if transformation is required
func (t *Transformer) NeedsTransform() bool {
	return t.project != nil
}

// Transform converts a single coordinate
func (t *Transformer) Transform(p orb.Point) orb.Point {
	if t.project == nil {
		return p
	}
	return t.project(p)
}

// Geometry returns a reprojected copy of g. The input is never modified.
func (t *Transformer) Geometry(g orb.Geometry) (orb.Geometry, error) {
	if g == nil {
		return nil, nil
	}
	if t.project != nil {
		g = project.Geometry(orb.Clone(g), t.project)
	}

	if p, ok := firstInvalid(g); !ok {
		return nil, &TransformError{Source: t.SourceSRID, Target: t.TargetSRID, Point: p}
	}
	return g, nil
}

// firstInvalid walks g and returns the first non-finite point, ok is false if one was found
func firstInvalid(g orb.Geometry) (orb.Point, bool) {
	switch g := g.(type) {
	case orb.Point:
		return g, finite(g)
	case orb.MultiPoint:
		return points(g)
	case orb.LineString:
		return points(g)
	case orb.Ring:
		return points(g)
	case orb.MultiLineString:
		for _, ls := range g {
			if p, ok := points(ls); !ok {
				return p, false
			}
		}
	case orb.Polygon:
		for _, r := range g {
			if p, ok := points(r); !ok {
				return p, false
			}
		}
	case orb.MultiPolygon:
		for _, poly := range g {
			if p, ok := firstInvalid(poly); !ok {
				return p, false
			}
		}
	case orb.Collection:
		for _, c := range g {
			if p, ok := firstInvalid(c); !ok {
				return p, false
			}
		}
	case orb.Bound:
		if !finite(g.Min) {
			return g.Min, false
		}
		return g.Max, finite(g.Max)
	}
	return orb.Point{}, true
}

func points(ps []orb.Point) (orb.Point, bool) {
	for _, p := range ps {
		if !finite(p) {
			return p, false
		}
	}
	return orb.Point{}, true
}

func finite(p orb.Point) bool {
	return !math.IsNaN(p[0]) && !math.IsInf(p[0], 0) &&
		!math.IsNaN(p[1]) && !math.IsInf(p[1], 0)
}
