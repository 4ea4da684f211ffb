package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wegman-software/shp2pbf-go/internal/config"
	"github.com/wegman-software/shp2pbf-go/internal/feature"
	"github.com/wegman-software/shp2pbf-go/internal/graph"
	"github.com/wegman-software/shp2pbf-go/internal/ingest"
	"github.com/wegman-software/shp2pbf-go/internal/logger"
	"github.com/wegman-software/shp2pbf-go/internal/metrics"
	"github.com/wegman-software/shp2pbf-go/internal/pbf"
	"github.com/wegman-software/shp2pbf-go/internal/proj"
	"github.com/wegman-software/shp2pbf-go/internal/style"
	"github.com/wegman-software/shp2pbf-go/internal/translate"
)

// ErrMissingCRS is returned when the input declares no reference system
var ErrMissingCRS = errors.New("input has no coordinate reference system")

// Converter runs one shapefile to PBF conversion
type Converter struct {
	cfg *config.Config
	log *zap.Logger
}

// NewConverter creates a converter for a validated configuration
func NewConverter(cfg *config.Config) *Converter {
	return &Converter{cfg: cfg, log: logger.Get()}
}

// WithLogger overrides the global logger
func (c *Converter) WithLogger(log *zap.Logger) *Converter {
	c.log = log
	return c
}

// Run reads every feature, builds the node/way graph and writes the PBF file.
// The conversion and the optional metrics collector share one errgroup.
func (c *Converter) Run(ctx context.Context) (*Stats, error) {
	start := time.Now()

	src, err := ingest.Open(c.cfg.InputFile, c.cfg.Charset)
	if err != nil {
		return nil, err
	}

	transformer, srid, err := c.transformerFor(src)
	if err != nil {
		src.Close()
		return nil, err
	}
	c.log.Info("Reading features",
		zap.String("input", c.cfg.InputFile),
		zap.Int("source_srid", srid),
		zap.Bool("reproject", transformer.NeedsTransform()),
		zap.Int("records", src.Count()))

	script, err := c.loadTranslate()
	if err != nil {
		src.Close()
		return nil, err
	}
	if script != nil {
		defer script.Close()
	}

	collector := metrics.NewCollector(c.cfg.MetricsInterval, c.log)
	if collector != nil {
		c.log.Info("System metrics collection started",
			zap.Duration("interval", c.cfg.MetricsInterval))
	}

	g, gctx := errgroup.WithContext(ctx)
	metricsCtx, stopMetrics := context.WithCancel(gctx)
	defer stopMetrics()

	g.Go(func() error {
		collector.Start(metricsCtx)
		return nil
	})

	stats := &Stats{SourceSRID: srid}
	builder := graph.NewBuilder(graph.WithEpsilon(c.cfg.Epsilon), graph.WithLogger(c.log))

	g.Go(func() error {
		defer stopMetrics()
		return c.convert(gctx, src, transformer, script, builder, stats)
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	built := builder.Stats()
	stats.Features = built.Features + stats.FilteredFeatures
	stats.SkippedFeatures = built.SkippedFeatures
	stats.Nodes = built.Nodes
	stats.Ways = built.Ways
	stats.MergedEndpoints = built.MergedEndpoints

	c.log.Info("Writing PBF",
		zap.String("output", c.cfg.OutputFile),
		zap.Int64("nodes", stats.Nodes),
		zap.Int64("ways", stats.Ways))

	written, err := pbf.WriteFile(c.cfg.OutputFile, builder.Nodes(), builder.Ways(),
		pbf.WithWritingProgram(c.cfg.WritingProgram),
		pbf.WithBatchSize(c.cfg.BatchSize),
		pbf.WithCompression(c.cfg.Compress),
		pbf.WithLocationsOnWays(c.cfg.LocationsOnWays),
		pbf.WithBounds(builder.Bounds()),
	)
	if err != nil {
		return nil, err
	}
	stats.NodeBlocks = written.NodeBlocks
	stats.WayBlocks = written.WayBlocks
	stats.OutputBytes = written.Bytes
	stats.Duration = time.Since(start)

	if final := collector.Final(); final != nil {
		stats.PeakRSS = collector.PeakRSS()
		c.log.Info("Final system metrics", final.Fields()...)
	}
	return stats, nil
}

// transformerFor resolves the source reference system and the reprojection into WGS84
func (c *Converter) transformerFor(src ingest.Source) (*proj.Transformer, int, error) {
	crs, err := src.CRS()
	if err != nil {
		return nil, 0, fmt.Errorf("read source reference system: %w", err)
	}
	if crs == nil {
		return nil, 0, fmt.Errorf("%s: %w", c.cfg.InputFile, ErrMissingCRS)
	}

	transformer, err := proj.NewTransformer(crs, proj.WGS84)
	if err != nil {
		return nil, 0, fmt.Errorf("create transform: %w", err)
	}
	return transformer, crs.SRID, nil
}

// loadTranslate loads the configured Lua script, nil when none is set
func (c *Converter) loadTranslate() (*translate.Runtime, error) {
	if c.cfg.Translate == "" {
		return nil, nil
	}
	script := translate.NewRuntime(c.log)
	if err := script.LoadFile(c.cfg.Translate); err != nil {
		script.Close()
		return nil, fmt.Errorf("%s: %w", c.cfg.Translate, err)
	}
	c.log.Info("Loaded translate script", zap.String("script", c.cfg.Translate))
	return script, nil
}

// convert feeds every source feature through the transform, the translate
// script and the tag rules into the builder. The source is closed on return.
func (c *Converter) convert(ctx context.Context, src ingest.Source, transformer *proj.Transformer, script *translate.Runtime, builder *graph.Builder, stats *Stats) error {
	filter := style.NewFilter(c.cfg.Tags)
	progress := NewProgressTracker(int64(src.Count()), "features")
	var converted int64

	return ingest.ForEach(src, func(f *feature.Feature) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		geometry, err := transformer.Geometry(f.Geometry)
		if err != nil {
			return fmt.Errorf("transform feature %s: %w", f.ID, err)
		}

		attrs, ok := f.Attributes, true
		if script != nil {
			attrs, ok, err = script.Translate(f.ID, attrs)
			if err != nil {
				return err
			}
			if !ok {
				c.log.Debug("Feature dropped by translate script", zap.String("feature", f.ID))
			}
		}
		if ok {
			attrs, ok = filter.Apply(attrs)
			if !ok {
				c.log.Debug("Feature filtered by tag rules", zap.String("feature", f.ID))
			}
		}

		if !ok {
			stats.FilteredFeatures++
		} else {
			builder.AddFeature(&feature.Feature{ID: f.ID, Geometry: geometry, Attributes: attrs})
		}

		converted++
		if converted%progressEvery == 0 {
			p := progress.Calculate(converted)
			c.log.Info("Converted features",
				zap.Int64("converted", converted),
				zap.Int64("total", p.Total),
				zap.String("pct", fmt.Sprintf("%.1f%%", p.Percentage)),
				zap.String("rate", FormatThroughput(p.Throughput)),
				zap.String("eta", FormatETA(p.ETA)))
		}
		return nil
	})
}
