package style

import (
	"github.com/wegman-software/shp2pbf-go/internal/feature"
)

// Rules selects and renames the attributes that become way tags.
// The zero value passes every attribute through unchanged.
type Rules struct {
	// Rename maps source attribute names to tag keys (e.g. NAME: name)
	Rename map[string]string `yaml:"rename,omitempty"`
	// Include lists the tag keys to keep. If empty, all keys are kept.
	Include []string `yaml:"include,omitempty"`
	// Exclude lists tag keys to drop. Applied after Include.
	Exclude []string `yaml:"exclude,omitempty"`
	// RequireAny skips features that have none of these keys with a value
	RequireAny []string `yaml:"require_any,omitempty"`
}

// Filter applies Rules to feature attributes
type Filter struct {
	rename     map[string]string
	include    map[string]bool
	exclude    map[string]bool
	requireAny []string
}

// NewFilter creates a filter from rules. A nil rules value matches everything.
func NewFilter(rules *Rules) *Filter {
	f := &Filter{}
	if rules == nil {
		return f
	}

	f.rename = rules.Rename
	f.requireAny = rules.RequireAny
	if len(rules.Include) > 0 {
		f.include = toSet(rules.Include)
	}
	if len(rules.Exclude) > 0 {
		f.exclude = toSet(rules.Exclude)
	}
	return f
}

// HasFilter returns true if filtering is enabled
func (f *Filter) HasFilter() bool {
	return len(f.rename) > 0 || f.include != nil || f.exclude != nil || len(f.requireAny) > 0
}

// Apply renames and filters attrs. Keys are matched after renaming.
// ok is false if the feature fails the require_any rule.
func (f *Filter) Apply(attrs []feature.Attribute) (result []feature.Attribute, ok bool) {
	if !f.HasFilter() {
		return attrs, true
	}

	result = make([]feature.Attribute, 0, len(attrs))
	for _, attr := range attrs {
		if key, renamed := f.rename[attr.Name]; renamed {
			attr.Name = key
		}
		if f.include != nil && !f.include[attr.Name] {
			continue
		}
		if f.exclude[attr.Name] {
			continue
		}
		result = append(result, attr)
	}

	if len(f.requireAny) == 0 {
		return result, true
	}

	// Check require_any - at least one key must carry a value
	for _, key := range f.requireAny {
		for _, attr := range result {
			if attr.Name == key && attr.Value != nil && attr.Value != "" {
				return result, true
			}
		}
	}
	return result, false
}

func toSet(keys []string) map[string]bool {
	set := make(map[string]bool, len(keys))
	for _, k := range keys {
		set[k] = true
	}
	return set
}
