package proj

import (
	"fmt"
	"strings"
)

// SRID constants for the supported reference systems
const (
	SRID4326 = 4326 // WGS84 (lat/lon)
	SRID3857 = 3857 // Web Mercator
)

// CRS is a coordinate reference system. WKT is only set when the CRS was
// parsed from a .prj file.
type CRS struct {
	SRID int
	Name string
	WKT  string
}

func (c *CRS) String() string {
	return fmt.Sprintf("EPSG:%d (%s)", c.SRID, c.Name)
}

// WGS84 is the output reference system
var WGS84 = &CRS{SRID: SRID4326, Name: "WGS 84"}

// WebMercator is the spherical mercator used by web maps
var WebMercator = &CRS{SRID: SRID3857, Name: "WGS 84 / Pseudo-Mercator"}

// FromSRID returns the CRS for a supported SRID
func FromSRID(srid int) (*CRS, error) {
	switch srid {
	case SRID4326:
		return WGS84, nil
	case SRID3857:
		return WebMercator, nil
	default:
		return nil, fmt.Errorf("unsupported SRID: %d (supported: 4326, 3857)", srid)
	}
}

// ParseSRID parses a projection string to SRID
// Accepts: "4326", "EPSG:4326", "urn:ogc:def:crs:EPSG::4326", "CRS84" and
// the 3857 equivalents including the legacy 900913 code.
func ParseSRID(s string) (int, error) {
	code := strings.ToUpper(strings.TrimSpace(s))
	if i := strings.LastIndex(code, ":"); i >= 0 {
		code = code[i+1:]
	}

	switch code {
	case "4326", "CRS84":
		return SRID4326, nil
	case "3857", "900913", "3785", "102100":
		return SRID3857, nil
	default:
		return 0, fmt.Errorf("unsupported projection: %s (supported: 4326, 3857)", s)
	}
}

// mercatorNames are the projected CRS names ESRI, GDAL and GeoServer write
// for spherical mercator, normalized by normalizeWKT
var mercatorNames = []string{
	"PSEUDOMERCATOR",
	"WEBMERCATOR",
	"POPULARVISUALISATION",
	"MERCATORAUXILIARYSPHERE",
	"AUTHORITYEPSG3857",
	"AUTHORITYEPSG900913",
}

// ParsePRJ recognizes the contents of a .prj file
func ParsePRJ(wkt string) (*CRS, error) {
	wkt = strings.TrimSpace(strings.TrimPrefix(wkt, "\ufeff"))
	if wkt == "" {
		return nil, fmt.Errorf("empty projection definition")
	}
	norm := normalizeWKT(wkt)

	switch {
	case strings.HasPrefix(norm, "PROJCS"):
		for _, name := range mercatorNames {
			if strings.Contains(norm, name) {
				return &CRS{SRID: SRID3857, Name: WebMercator.Name, WKT: wkt}, nil
			}
		}
	case strings.HasPrefix(norm, "GEOGCS"):
		if strings.Contains(norm, "WGS84") || strings.Contains(norm, "WGS1984") {
			return &CRS{SRID: SRID4326, Name: WGS84.Name, WKT: wkt}, nil
		}
	}

	return nil, fmt.Errorf("unsupported projection: %.60s", wkt)
}

// normalizeWKT upper cases and strips everything but letters and digits
func normalizeWKT(wkt string) string {
	var b strings.Builder
	b.Grow(len(wkt))
	for _, r := range strings.ToUpper(wkt) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
