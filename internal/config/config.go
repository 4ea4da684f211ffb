package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/text/encoding/htmlindex"
	"gopkg.in/yaml.v3"

	"github.com/wegman-software/shp2pbf-go/internal/nodeindex"
	"github.com/wegman-software/shp2pbf-go/internal/pbf"
	"github.com/wegman-software/shp2pbf-go/internal/style"
)

// Config holds the configuration of a conversion run
type Config struct {
	// Input settings
	InputFile string `yaml:"-"`
	Charset   string `yaml:"charset"` // DBF attribute encoding

	// Output settings
	OutputFile      string `yaml:"-"`
	WritingProgram  string `yaml:"writing_program"`
	Compress        bool   `yaml:"compress"`
	LocationsOnWays bool   `yaml:"locations_on_ways"` // Also store coordinates on way refs

	// Processing settings
	Epsilon   float64 `yaml:"epsilon"`    // Endpoint merge tolerance in degrees
	BatchSize int     `yaml:"batch_size"` // Entities per PBF block

	// Tag rules
	Tags      *style.Rules `yaml:"tags,omitempty"`
	Translate string       `yaml:"translate"` // Lua script with a translate(attrs, id) function

	// Logging and metrics
	Verbose         bool          `yaml:"-"`
	LogFile         string        `yaml:"-"`                // Path to log file (empty = no file logging)
	MetricsInterval time.Duration `yaml:"metrics_interval"` // Interval for system metrics logging
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Charset:         "UTF-8",
		WritingProgram:  pbf.DefaultWritingProgram,
		Compress:        true,
		Epsilon:         nodeindex.DefaultEpsilon,
		BatchSize:       pbf.DefaultBatchSize,
		MetricsInterval: 0, // No metrics logging by default
	}
}

// LoadFile reads a YAML file over the current values. Keys absent from the
// file keep their value.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config YAML: %w", err)
	}
	return nil
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.InputFile == "" {
		return fmt.Errorf("input file is required")
	}
	if c.OutputFile == "" {
		return fmt.Errorf("output file is required")
	}
	if samePath(c.InputFile, c.OutputFile) {
		return fmt.Errorf("output file must differ from input file")
	}
	if !(c.Epsilon > 0) {
		return fmt.Errorf("epsilon must be positive, got %g", c.Epsilon)
	}
	if c.BatchSize < 1 || c.BatchSize > pbf.MaxBatchSize {
		return fmt.Errorf("batch size must be between 1 and %d", pbf.MaxBatchSize)
	}
	if _, err := htmlindex.Get(c.Charset); err != nil {
		return fmt.Errorf("unknown charset %q", c.Charset)
	}
	if c.Translate != "" {
		if _, err := os.Stat(c.Translate); err != nil {
			return fmt.Errorf("translate script: %w", err)
		}
	}
	if c.MetricsInterval < 0 {
		return fmt.Errorf("metrics interval must not be negative")
	}
	return nil
}

func samePath(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}
	return absA == absB
}
