package pipeline

import (
	"fmt"
	"time"
)

// progressEvery is the number of features between progress log lines
const progressEvery = 10000

// ProgressTracker tracks progress over a known number of features
type ProgressTracker struct {
	total       int64
	startTime   time.Time
	description string
}

// NewProgressTracker creates a new progress tracker. A total of zero or less
// means the total is unknown.
func NewProgressTracker(total int64, description string) *ProgressTracker {
	return &ProgressTracker{
		total:       total,
		startTime:   time.Now(),
		description: description,
	}
}

// Progress holds current progress information
type Progress struct {
	Current     int64
	Total       int64
	Percentage  float64
	Elapsed     time.Duration
	ETA         time.Duration
	Throughput  float64 // features per second
	Description string
}

// Calculate returns current progress metrics given the number of processed features
func (p *ProgressTracker) Calculate(current int64) Progress {
	return p.calculateAt(current, time.Since(p.startTime))
}

func (p *ProgressTracker) calculateAt(current int64, elapsed time.Duration) Progress {
	var throughput float64
	if elapsed.Seconds() > 0 {
		throughput = float64(current) / elapsed.Seconds()
	}

	var percentage float64
	var eta time.Duration
	if p.total > 0 && current > 0 {
		percentage = float64(current) / float64(p.total) * 100
		if percentage < 100 && throughput > 0 {
			eta = time.Duration(float64(p.total-current) / throughput * float64(time.Second))
		}
	}

	return Progress{
		Current:     current,
		Total:       p.total,
		Percentage:  percentage,
		Elapsed:     elapsed.Round(time.Second),
		ETA:         eta.Round(time.Second),
		Throughput:  throughput,
		Description: p.description,
	}
}

// FormatETA formats the ETA duration in a human-readable format
func FormatETA(d time.Duration) string {
	if d <= 0 {
		return "calculating..."
	}

	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}

// FormatThroughput formats throughput as human-readable items per second
func FormatThroughput(itemsPerSec float64) string {
	if itemsPerSec >= 1_000_000 {
		return fmt.Sprintf("%.1fM/s", itemsPerSec/1_000_000)
	}
	if itemsPerSec >= 1_000 {
		return fmt.Sprintf("%.1fK/s", itemsPerSec/1_000)
	}
	return fmt.Sprintf("%.0f/s", itemsPerSec)
}

// FormatBytes formats bytes in a human-readable format
func FormatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/GB)
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/MB)
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/KB)
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
