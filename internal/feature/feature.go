package feature

import (
	"github.com/paulmach/orb"
)

// MultiLineString is the only shape label the converter turns into ways
const MultiLineString = "MultiLineString"

// Attribute is a single named value of a feature.
// Value is nil for null attributes, otherwise a string, number, bool or time.Time.
type Attribute struct {
	Name  string
	Value interface{}
}

// Feature is one record delivered by a source
type Feature struct {
	ID         string
	Geometry   orb.Geometry
	Attributes []Attribute
}

// ShapeLabel returns the geometry type name of the feature ("MultiLineString", "Point", ...)
func (f *Feature) ShapeLabel() string {
	if f.Geometry == nil {
		return ""
	}
	return f.Geometry.GeoJSONType()
}
