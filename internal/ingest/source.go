package ingest

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/wegman-software/shp2pbf-go/internal/feature"
	"github.com/wegman-software/shp2pbf-go/internal/proj"
)

// ErrUnsupportedFormat is returned by Open for unknown file extensions
var ErrUnsupportedFormat = errors.New("unsupported input format")

// Source iterates over the features of an input file.
//
//	for src.Next() {
//		f := src.Feature()
//	}
//	if err := src.Err(); err != nil { ... }
type Source interface {
	// Next advances to the next feature and reports whether there is one
	Next() bool
	// Feature returns the current feature
	Feature() *feature.Feature
	// Err returns the first error hit while iterating
	Err() error
	// CRS returns the declared reference system, nil if the input has none
	CRS() (*proj.CRS, error)
	// Count returns the total number of records in the input
	Count() int
	Close() error
}

// Open opens path with the reader matching its extension.
// charset applies to shapefile attribute text.
func Open(path, charset string) (Source, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".shp":
		src, err := OpenShapefile(path, charset)
		if err != nil {
			return nil, err
		}
		return src, nil
	case ".geojson", ".json":
		src, err := OpenGeoJSON(path)
		if err != nil {
			return nil, err
		}
		return src, nil
	default:
		return nil, fmt.Errorf("%w: %s (supported: .shp, .geojson, .json)", ErrUnsupportedFormat, path)
	}
}

// ForEach calls fn for every feature of src and closes src when done, whether
// iteration completed, fn failed or the source failed.
func ForEach(src Source, fn func(*feature.Feature) error) (err error) {
	defer func() {
		if cerr := src.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close source: %w", cerr)
		}
	}()

	for src.Next() {
		if err := fn(src.Feature()); err != nil {
			return err
		}
	}
	return src.Err()
}

// layerName is the file name without directory and extension
func layerName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func featureID(layer string, row int) string {
	return fmt.Sprintf("%s.%d", layer, row+1)
}
