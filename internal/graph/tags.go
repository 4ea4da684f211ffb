package graph

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/paulmach/osm"

	"github.com/wegman-software/shp2pbf-go/internal/feature"
)

// ExtractTags converts feature attributes into OSM tags.
// Attributes named excludedKey, null values and values that normalize to an
// empty string are dropped. Order follows attrs and duplicate keys are kept.
func ExtractTags(attrs []feature.Attribute, excludedKey string) osm.Tags {
	tags := make(osm.Tags, 0, len(attrs))
	for _, attr := range attrs {
		if attr.Name == excludedKey {
			continue
		}
		if attr.Value == nil {
			continue
		}

		value := NormalizeValue(attr.Value)
		if value == "" {
			continue
		}
		tags = append(tags, osm.Tag{Key: attr.Name, Value: value})
	}
	return tags
}

// NormalizeValue renders an attribute value as a tag value.
// Integral floats lose their decimal point (5.0 -> "5"), other floats use the
// shortest decimal form (5.5 -> "5.5"), everything else is trimmed.
func NormalizeValue(v interface{}) string {
	switch val := v.(type) {
	case float64:
		return formatFloat(val, 64)
	case float32:
		return formatFloat(float64(val), 32)
	case string:
		return strings.TrimSpace(val)
	case int:
		return strconv.Itoa(val)
	case int32:
		return strconv.FormatInt(int64(val), 10)
	case int64:
		return strconv.FormatInt(val, 10)
	case uint32:
		return strconv.FormatUint(uint64(val), 10)
	case uint64:
		return strconv.FormatUint(val, 10)
	case bool:
		return strconv.FormatBool(val)
	case time.Time:
		if val.IsZero() {
			return ""
		}
		return val.Format("2006-01-02")
	default:
		return strings.TrimSpace(fmt.Sprint(val))
	}
}

// formatFloat relies on 'f' with precision -1: integral values print without a
// decimal point (also beyond the int64 range) and fractions print their
// shortest round-tripping form.
func formatFloat(f float64, bitSize int) string {
	if f == 0 {
		// no "-0"
		return "0"
	}
	return strconv.FormatFloat(f, 'f', -1, bitSize)
}
