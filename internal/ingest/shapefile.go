package ingest

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"

	"github.com/wegman-software/shp2pbf-go/internal/feature"
	"github.com/wegman-software/shp2pbf-go/internal/proj"
)

// Shapefile reads an ESRI shapefile (.shp with its .shx, .dbf and optional .prj)
type Shapefile struct {
	path   string
	layer  string
	reader *shp.Reader
	fields []shp.Field
	names  []string
	text   *textDecoder
	count  int

	current *feature.Feature
	read    int
	err     error
}

// OpenShapefile opens the shapefile at path. Attribute text is decoded with charset.
func OpenShapefile(path, charset string) (*Shapefile, error) {
	text, err := newTextDecoder(charset)
	if err != nil {
		return nil, err
	}

	// go-shp dereferences a nil dbf handle on attribute reads
	if _, err := os.Stat(siblingPath(path, ".dbf")); err != nil {
		return nil, fmt.Errorf("open shapefile attributes: %w", err)
	}

	reader, err := shp.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open shapefile %s: %w", path, err)
	}

	s := &Shapefile{
		path:   path,
		layer:  layerName(path),
		reader: reader,
		fields: reader.Fields(),
		text:   text,
		count:  reader.AttributeCount(),
	}
	for _, f := range s.fields {
		s.names = append(s.names, fieldName(f))
	}
	return s, nil
}

// Next reads the next record
func (s *Shapefile) Next() bool {
	if s.err != nil || s.reader == nil {
		return false
	}
	if !s.reader.Next() {
		s.current = nil
		// a clean end of file leaves no error, a short record does
		if err := s.reader.Err(); err != nil && !errors.Is(err, io.EOF) {
			s.err = fmt.Errorf("record %d of %s: %w", s.read+1, s.path, err)
		}
		return false
	}
	s.read++

	row, shape := s.reader.Shape()
	geometry, err := convertShape(shape)
	if err != nil {
		s.err = fmt.Errorf("record %d of %s: %w", row+1, s.path, err)
		return false
	}

	attrs := make([]feature.Attribute, len(s.fields))
	for i, field := range s.fields {
		raw := s.reader.ReadAttribute(row, i)
		attrs[i] = feature.Attribute{Name: s.names[i], Value: s.parseValue(field, raw)}
	}

	s.current = &feature.Feature{
		ID:         featureID(s.layer, row),
		Geometry:   geometry,
		Attributes: attrs,
	}
	return true
}

// Feature returns the current record
func (s *Shapefile) Feature() *feature.Feature { return s.current }

// Err returns the first iteration error
func (s *Shapefile) Err() error { return s.err }

// Count returns the number of records in the attribute table
func (s *Shapefile) Count() int { return s.count }

// CRS reads the sibling .prj file. A missing .prj means no CRS.
func (s *Shapefile) CRS() (*proj.CRS, error) {
	for _, ext := range []string{".prj", ".PRJ"} {
		data, err := os.ReadFile(siblingPath(s.path, ext))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read projection: %w", err)
		}
		return proj.ParsePRJ(string(data))
	}
	return nil, nil
}

// Close releases the shapefile handles
func (s *Shapefile) Close() error {
	if s.reader == nil {
		return nil
	}
	err := s.reader.Close()
	s.reader = nil
	return err
}

// parseValue types a DBF cell by its field definition. Blank and unparseable
// cells become nil.
func (s *Shapefile) parseValue(field shp.Field, raw string) interface{} {
	raw = strings.Trim(raw, " \t\r\n\x00")

	switch field.Fieldtype {
	case 'C':
		if raw == "" {
			return nil
		}
		return s.text.decode(raw)
	case 'N':
		if raw == "" {
			return nil
		}
		if field.Precision == 0 {
			if v, err := strconv.ParseInt(raw, 10, 64); err == nil {
				return v
			}
		}
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			return v
		}
		return nil
	case 'F':
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			return v
		}
		return nil
	case 'L':
		switch raw {
		case "T", "t", "Y", "y":
			return true
		case "F", "f", "N", "n":
			return false
		}
		return nil
	case 'D':
		if v, err := time.Parse("20060102", raw); err == nil {
			return v
		}
		return nil
	default:
		if raw == "" {
			return nil
		}
		return s.text.decode(raw)
	}
}

// convertShape maps shapefile records to orb geometries. Line records always
// become MultiLineString, one line per part.
func convertShape(shape shp.Shape) (orb.Geometry, error) {
	switch sh := shape.(type) {
	case nil, *shp.Null:
		return nil, nil
	case *shp.PolyLine:
		return multiLineString(sh.Parts, sh.Points)
	case *shp.PolyLineZ:
		return multiLineString(sh.Parts, sh.Points)
	case *shp.PolyLineM:
		return multiLineString(sh.Parts, sh.Points)
	case *shp.Polygon:
		return polygon(sh.Parts, sh.Points)
	case *shp.PolygonZ:
		return polygon(sh.Parts, sh.Points)
	case *shp.PolygonM:
		return polygon(sh.Parts, sh.Points)
	case *shp.Point:
		return orb.Point{sh.X, sh.Y}, nil
	case *shp.PointZ:
		return orb.Point{sh.X, sh.Y}, nil
	case *shp.PointM:
		return orb.Point{sh.X, sh.Y}, nil
	case *shp.MultiPoint:
		mp := make(orb.MultiPoint, len(sh.Points))
		for i, p := range sh.Points {
			mp[i] = orb.Point{p.X, p.Y}
		}
		return mp, nil
	default:
		return nil, fmt.Errorf("unsupported shape record %T", shape)
	}
}

// splitParts cuts the flat point list at the part offsets
func splitParts(parts []int32, points []shp.Point) ([][]orb.Point, error) {
	result := make([][]orb.Point, 0, len(parts))
	for i, start := range parts {
		end := int32(len(points))
		if i+1 < len(parts) {
			end = parts[i+1]
		}
		if start < 0 || start > end || int(end) > len(points) {
			return nil, fmt.Errorf("invalid part offsets %v for %d points", parts, len(points))
		}

		part := make([]orb.Point, 0, end-start)
		for _, p := range points[start:end] {
			part = append(part, orb.Point{p.X, p.Y})
		}
		result = append(result, part)
	}
	return result, nil
}

func multiLineString(parts []int32, points []shp.Point) (orb.Geometry, error) {
	split, err := splitParts(parts, points)
	if err != nil {
		return nil, err
	}
	mls := make(orb.MultiLineString, len(split))
	for i, part := range split {
		mls[i] = orb.LineString(part)
	}
	return mls, nil
}

func polygon(parts []int32, points []shp.Point) (orb.Geometry, error) {
	split, err := splitParts(parts, points)
	if err != nil {
		return nil, err
	}
	poly := make(orb.Polygon, len(split))
	for i, part := range split {
		poly[i] = orb.Ring(part)
	}
	return poly, nil
}

func fieldName(f shp.Field) string {
	name := string(f.Name[:])
	if i := strings.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}
	return strings.TrimSpace(name)
}

// siblingPath swaps the extension of a shapefile component
func siblingPath(path, ext string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ext
}
