package metrics

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"
)

// Sample is a snapshot of process and system resource usage
type Sample struct {
	ProcessRSSBytes   uint64
	ProcessCPUPercent float64 // per core, can exceed 100% on multi-core
	SystemCPUPercent  float64
	MemoryUsedBytes   uint64
	MemoryTotalBytes  uint64
	MemoryPercent     float64
	Timestamp         time.Time
}

// Fields returns the sample as zap fields
func (s *Sample) Fields() []zap.Field {
	return []zap.Field{
		zap.String("rss", formatBytes(s.ProcessRSSBytes)),
		zap.Float64("proc_cpu", round1(s.ProcessCPUPercent)),
		zap.Float64("sys_cpu", round1(s.SystemCPUPercent)),
		zap.Float64("mem_pct", round1(s.MemoryPercent)),
		zap.String("mem_used", formatBytes(s.MemoryUsedBytes)),
	}
}

// Collector periodically samples resource usage while a conversion runs
type Collector struct {
	interval time.Duration
	logger   *zap.Logger
	proc     *process.Process

	mu      sync.RWMutex
	last    *Sample
	peakRSS uint64
}

// NewCollector creates a collector sampling every interval.
// It returns nil for a non-positive interval; a nil collector is a no-op.
func NewCollector(interval time.Duration, logger *zap.Logger) *Collector {
	if interval <= 0 {
		return nil
	}
	if interval < 100*time.Millisecond {
		interval = 100 * time.Millisecond
	}

	// Get handle to current process for CPU and RSS tracking
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		logger.Debug("Process metrics unavailable", zap.Error(err))
		proc = nil
	}

	return &Collector{
		interval: interval,
		logger:   logger,
		proc:     proc,
	}
}

// Start samples until the context is cancelled
func (c *Collector) Start(ctx context.Context) {
	if c == nil {
		return
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	// First sample primes the CPU percentage baselines
	c.collect()

	for {
		select {
		case <-ctx.Done():
			c.logger.Debug("Metrics collection stopped")
			return
		case <-ticker.C:
			s := c.collect()
			c.logger.Info("System metrics", s.Fields()...)
		}
	}
}

// Last returns the most recent sample, nil before the first one
func (c *Collector) Last() *Sample {
	if c == nil {
		return nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.last
}

// PeakRSS returns the highest process RSS seen so far
func (c *Collector) PeakRSS() uint64 {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.peakRSS
}

// Final takes one more sample and returns it, nil for a nil collector
func (c *Collector) Final() *Sample {
	if c == nil {
		return nil
	}
	return c.collect()
}

func (c *Collector) collect() *Sample {
	s := &Sample{Timestamp: time.Now()}

	if c.proc != nil {
		if info, err := c.proc.MemoryInfo(); err == nil && info != nil {
			s.ProcessRSSBytes = info.RSS
		}
		if pct, err := c.proc.Percent(0); err == nil {
			s.ProcessCPUPercent = pct
		}
	}

	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		s.SystemCPUPercent = pct[0]
	}

	if vmem, err := mem.VirtualMemory(); err == nil {
		s.MemoryUsedBytes = vmem.Used
		s.MemoryTotalBytes = vmem.Total
		s.MemoryPercent = vmem.UsedPercent
	}

	c.mu.Lock()
	c.last = s
	if s.ProcessRSSBytes > c.peakRSS {
		c.peakRSS = s.ProcessRSSBytes
	}
	c.mu.Unlock()
	return s
}

// formatBytes renders a byte count with a binary unit ("512 B", "1.5 MB")
func formatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}

func round1(f float64) float64 {
	return float64(int64(f*10+0.5)) / 10
}
