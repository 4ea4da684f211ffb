package pipeline

import (
	"time"
)

// Stats summarizes a conversion run
type Stats struct {
	// Input
	Features         int64 // features read from the source
	SkippedFeatures  int64 // unsupported shapes
	FilteredFeatures int64 // dropped by the translate script or the tag rules
	SourceSRID       int

	// Graph
	Nodes           int64
	Ways            int64
	MergedEndpoints int64

	// Output
	NodeBlocks  int64
	WayBlocks   int64
	OutputBytes int64

	Duration time.Duration
	PeakRSS  uint64 // only set when metrics collection is enabled
}
