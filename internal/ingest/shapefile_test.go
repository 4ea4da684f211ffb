package ingest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"

	"github.com/wegman-software/shp2pbf-go/internal/feature"
	"github.com/wegman-software/shp2pbf-go/internal/proj"
)

const webMercatorPRJ = `PROJCS["WGS_1984_Web_Mercator_Auxiliary_Sphere",GEOGCS["GCS_WGS_1984",DATUM["D_WGS_1984",SPHEROID["WGS_1984",6378137.0,298.257223563]],PRIMEM["Greenwich",0.0],UNIT["Degree",0.0174532925199433]],PROJECTION["Mercator_Auxiliary_Sphere"],UNIT["Meter",1.0]]`

func logicalField(name string) shp.Field {
	f := shp.Field{Fieldtype: 'L', Size: 1}
	copy(f.Name[:], name)
	return f
}

// writeRoads creates roads.shp with two polylines, the second one in two parts.
// Row 1 leaves NAME and LANES blank.
func writeRoads(t *testing.T, dir string) string {
	t.Helper()

	path := filepath.Join(dir, "roads.shp")
	w, err := shp.Create(path, shp.POLYLINE)
	if err != nil {
		t.Fatalf("create shapefile: %v", err)
	}

	w.SetFields([]shp.Field{
		shp.StringField("NAME", 20),
		shp.NumberField("LANES", 4),
		shp.FloatField("WIDTH", 8, 2),
		shp.DateField("BUILT"),
		logicalField("ONEWAY"),
	})

	w.Write(shp.NewPolyLine([][]shp.Point{{{X: 1, Y: 1}, {X: 2, Y: 2}}}))
	w.WriteAttribute(0, 0, "Stra\xdfe")
	w.WriteAttribute(0, 1, "2")
	w.WriteAttribute(0, 2, "7.50")
	w.WriteAttribute(0, 3, "20240115")
	w.WriteAttribute(0, 4, "T")

	w.Write(shp.NewPolyLine([][]shp.Point{
		{{X: 2, Y: 2}, {X: 3, Y: 3}},
		{{X: 4, Y: 4}, {X: 5, Y: 5}, {X: 6, Y: 4}},
	}))
	w.WriteAttribute(1, 2, "3.25")
	w.WriteAttribute(1, 4, "F")

	closeShapefile(t, w, path)
	return path
}

func readAll(t *testing.T, src Source) []*feature.Feature {
	t.Helper()

	var features []*feature.Feature
	err := ForEach(src, func(f *feature.Feature) error {
		features = append(features, f)
		return nil
	})
	if err != nil {
		t.Fatalf("iteration failed: %v", err)
	}
	return features
}

func attr(f *feature.Feature, name string) interface{} {
	for _, a := range f.Attributes {
		if a.Name == name {
			return a.Value
		}
	}
	return "missing"
}

func TestShapefileRecords(t *testing.T) {
	path := writeRoads(t, t.TempDir())

	src, err := Open(path, "ISO-8859-1")
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if src.Count() != 2 {
		t.Errorf("Count = %d, want 2", src.Count())
	}

	features := readAll(t, src)
	if len(features) != 2 {
		t.Fatalf("expected 2 features, got %d", len(features))
	}

	first := features[0]
	if first.ID != "roads.1" {
		t.Errorf("ID = %q, want roads.1", first.ID)
	}
	if first.ShapeLabel() != feature.MultiLineString {
		t.Errorf("shape label = %q", first.ShapeLabel())
	}
	want := orb.MultiLineString{{{1, 1}, {2, 2}}}
	if !orb.Equal(first.Geometry, want) {
		t.Errorf("geometry = %v, want %v", first.Geometry, want)
	}

	names := []string{}
	for _, a := range first.Attributes {
		names = append(names, a.Name)
	}
	if len(names) != 5 || names[0] != "NAME" || names[4] != "ONEWAY" {
		t.Errorf("attribute names = %v", names)
	}

	tests := []struct {
		name string
		want interface{}
	}{
		{"NAME", "Straße"},
		{"LANES", int64(2)},
		{"WIDTH", 7.5},
		{"BUILT", time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)},
		{"ONEWAY", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := attr(first, tt.name)
			if ts, ok := tt.want.(time.Time); ok {
				if gt, ok := got.(time.Time); !ok || !gt.Equal(ts) {
					t.Errorf("%s = %v, want %v", tt.name, got, tt.want)
				}
				return
			}
			if got != tt.want {
				t.Errorf("%s = %#v, want %#v", tt.name, got, tt.want)
			}
		})
	}

	second := features[1]
	if second.ID != "roads.2" {
		t.Errorf("ID = %q, want roads.2", second.ID)
	}
	mls, ok := second.Geometry.(orb.MultiLineString)
	if !ok || len(mls) != 2 || len(mls[0]) != 2 || len(mls[1]) != 3 {
		t.Errorf("expected two parts of 2 and 3 points, got %v", second.Geometry)
	}
	if attr(second, "NAME") != nil || attr(second, "LANES") != nil {
		t.Errorf("blank cells should be nil: NAME=%v LANES=%v", attr(second, "NAME"), attr(second, "LANES"))
	}
	if attr(second, "ONEWAY") != false {
		t.Errorf("ONEWAY = %v, want false", attr(second, "ONEWAY"))
	}
}

func TestShapefileCRS(t *testing.T) {
	dir := t.TempDir()
	path := writeRoads(t, dir)

	src, err := OpenShapefile(path, DefaultCharset)
	if err != nil {
		t.Fatal(err)
	}
	defer src.Close()

	crs, err := src.CRS()
	if err != nil || crs != nil {
		t.Fatalf("expected no CRS without .prj, got %v, %v", crs, err)
	}

	if err := os.WriteFile(filepath.Join(dir, "roads.prj"), []byte(webMercatorPRJ), 0o644); err != nil {
		t.Fatal(err)
	}
	crs, err = src.CRS()
	if err != nil {
		t.Fatalf("CRS failed: %v", err)
	}
	if crs.SRID != proj.SRID3857 {
		t.Errorf("SRID = %d, want 3857", crs.SRID)
	}
}

func TestShapefileMissingDBF(t *testing.T) {
	dir := t.TempDir()
	path := writeRoads(t, dir)
	if err := os.Remove(filepath.Join(dir, "roads.dbf")); err != nil {
		t.Fatal(err)
	}

	if _, err := OpenShapefile(path, DefaultCharset); err == nil {
		t.Errorf("expected error for missing .dbf")
	}
}

func TestShapefileTruncatedRecord(t *testing.T) {
	path := writeRoads(t, t.TempDir())
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	// cut into the point list of the second record
	if err := os.Truncate(path, info.Size()-40); err != nil {
		t.Fatal(err)
	}

	src, err := OpenShapefile(path, DefaultCharset)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}

	var read int
	err = ForEach(src, func(*feature.Feature) error {
		read++
		return nil
	})
	if err == nil {
		t.Fatal("expected error for truncated record")
	}
	if !strings.Contains(err.Error(), "record 2 of") {
		t.Errorf("error %q does not name the failing record", err)
	}
	if read != 1 {
		t.Errorf("expected 1 complete record, got %d", read)
	}
}

func TestShapefilePointsAreNotLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pois.shp")
	w, err := shp.Create(path, shp.POINT)
	if err != nil {
		t.Fatal(err)
	}
	w.SetFields([]shp.Field{shp.StringField("NAME", 10)})
	w.Write(&shp.Point{X: 1, Y: 2})
	w.WriteAttribute(0, 0, "cafe")
	closeShapefile(t, w, path)

	src, err := Open(path, "")
	if err != nil {
		t.Fatal(err)
	}
	features := readAll(t, src)
	if len(features) != 1 {
		t.Fatalf("expected 1 feature, got %d", len(features))
	}
	if features[0].ShapeLabel() != "Point" {
		t.Errorf("shape label = %q, want Point", features[0].ShapeLabel())
	}
}

func TestSplitPartsRejectsBadOffsets(t *testing.T) {
	points := []shp.Point{{X: 0, Y: 0}, {X: 1, Y: 1}}
	if _, err := splitParts([]int32{0, 5}, points); err == nil {
		t.Errorf("expected error for out of range part offset")
	}
	if _, err := splitParts([]int32{1, 0}, points); err == nil {
		t.Errorf("expected error for decreasing part offsets")
	}
}

// closeShapefile closes w and moves the attribute table to <base>.dbf.
// The go-shp writer names it <base>dbf.
func closeShapefile(t *testing.T, w *shp.Writer, path string) {
	t.Helper()
	w.Close()

	base := strings.TrimSuffix(path, filepath.Ext(path))
	if _, err := os.Stat(base + "dbf"); err == nil {
		if err := os.Rename(base+"dbf", base+".dbf"); err != nil {
			t.Fatalf("rename attribute table: %v", err)
		}
	}
}
