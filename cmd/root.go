package cmd

import (
	"context"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/wegman-software/shp2pbf-go/internal/config"
	"github.com/wegman-software/shp2pbf-go/internal/logger"
	"github.com/wegman-software/shp2pbf-go/internal/pipeline"
)

var (
	cfg             = config.DefaultConfig()
	configFile      string
	noCompress      bool
	verbose         bool
	logFile         string
	metricsInterval time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "shp2pbf --input-file <roads.shp> --output-file <roads.osm.pbf>",
	Short: "Convert line shapefiles to OSM PBF",
	Long: `shp2pbf converts a line shapefile (or GeoJSON file) into an OpenStreetMap
PBF file for routing engines and OSM tooling.

  - Every line becomes a way, every coordinate a node
  - Line endpoints closer than the merge tolerance share one node
  - Attributes become way tags
  - Input in EPSG:4326 or EPSG:3857 is written as WGS84`,
	Args: cobra.NoArgs,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		cfg.Verbose = verbose
		cfg.LogFile = logFile
		cfg.MetricsInterval = metricsInterval

		// Initialize logger with optional file output
		logger.Init(logger.Options{Debug: verbose, LogFile: logFile})
	},
	Run: runConvert,
}

func Execute() error {
	defer logger.Sync()
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")

	// Logging and metrics flags
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Path to log file for persistent logging (JSON format)")
	rootCmd.PersistentFlags().DurationVar(&metricsInterval, "metrics-interval", 0, "Interval for system metrics logging (e.g., 10s, 1m), 0 disables")

	// Conversion flags
	flags := rootCmd.Flags()
	flags.StringVarP(&cfg.InputFile, "input-file", "i", "", "Input shapefile (.shp) or GeoJSON file")
	flags.StringVarP(&cfg.OutputFile, "output-file", "o", "", "Output OSM PBF file, overwritten if it exists")
	flags.StringVarP(&cfg.Charset, "charset", "c", cfg.Charset, "Character set of the shapefile attributes")
	flags.StringVar(&configFile, "config", "", "YAML file with conversion settings and tag rules")
	flags.Float64Var(&cfg.Epsilon, "epsilon", cfg.Epsilon, "Endpoint merge tolerance in degrees")
	flags.IntVar(&cfg.BatchSize, "batch-size", cfg.BatchSize, "Entities per PBF block")
	flags.BoolVar(&noCompress, "no-compress", false, "Write uncompressed PBF blobs")
	flags.BoolVar(&cfg.LocationsOnWays, "locations-on-ways", cfg.LocationsOnWays, "Store node coordinates on ways")
	flags.StringVar(&cfg.Translate, "translate", "", "Lua script that rewrites or drops feature attributes")

	// also accept camelCase spellings such as --inputFile
	flags.SetNormalizeFunc(normalizeFlagName)
}

// normalizeFlagName maps camelCase flag names (inputFile) to kebab case (input-file)
func normalizeFlagName(f *pflag.FlagSet, name string) pflag.NormalizedName {
	var b strings.Builder
	for i, r := range name {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('-')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return pflag.NormalizedName(b.String())
}

// mergeConfigFile fills every setting whose flag was not given from the file.
// Flags win over the file, the file wins over defaults.
func mergeConfigFile(dst, file *config.Config, changed func(name string) bool) {
	if !changed("charset") {
		dst.Charset = file.Charset
	}
	if !changed("epsilon") {
		dst.Epsilon = file.Epsilon
	}
	if !changed("batch-size") {
		dst.BatchSize = file.BatchSize
	}
	if !changed("no-compress") {
		dst.Compress = file.Compress
	}
	if !changed("locations-on-ways") {
		dst.LocationsOnWays = file.LocationsOnWays
	}
	if !changed("translate") {
		dst.Translate = file.Translate
	}
	if !changed("metrics-interval") {
		dst.MetricsInterval = file.MetricsInterval
	}
	dst.WritingProgram = file.WritingProgram
	dst.Tags = file.Tags
}

func runConvert(cmd *cobra.Command, args []string) {
	log := logger.Get()

	if cmd.Flags().Changed("no-compress") {
		cfg.Compress = !noCompress
	}
	if configFile != "" {
		file := config.DefaultConfig()
		if err := file.LoadFile(configFile); err != nil {
			exitWithError("invalid config file", err)
		}
		mergeConfigFile(cfg, file, cmd.Flags().Changed)
	}

	if err := cfg.Validate(); err != nil {
		exitWithError("invalid configuration", err)
	}

	if _, err := os.Stat(cfg.OutputFile); err == nil {
		log.Info("File will be overwritten", zap.String("file", cfg.OutputFile))
	} else {
		log.Info("File created", zap.String("file", cfg.OutputFile))
	}

	log.Info("Starting shp2pbf conversion",
		zap.String("input", cfg.InputFile),
		zap.String("output", cfg.OutputFile),
		zap.String("charset", cfg.Charset),
		zap.Float64("epsilon", cfg.Epsilon),
		zap.Int("batch_size", cfg.BatchSize),
		zap.Bool("compress", cfg.Compress),
		zap.String("translate", cfg.Translate),
	)

	stats, err := pipeline.NewConverter(cfg).Run(context.Background())
	if err != nil {
		exitWithError("conversion failed", err)
	}

	fields := []zap.Field{
		zap.Duration("total_time", stats.Duration.Round(time.Millisecond)),
		zap.Int64("features", stats.Features),
		zap.Int64("skipped", stats.SkippedFeatures),
		zap.Int64("nodes", stats.Nodes),
		zap.Int64("ways", stats.Ways),
		zap.Int64("merged_endpoints", stats.MergedEndpoints),
		zap.String("size", pipeline.FormatBytes(stats.OutputBytes)),
	}
	if stats.FilteredFeatures > 0 {
		fields = append(fields, zap.Int64("filtered", stats.FilteredFeatures))
	}
	if stats.PeakRSS > 0 {
		fields = append(fields, zap.String("peak_rss", pipeline.FormatBytes(int64(stats.PeakRSS))))
	}
	log.Info("Conversion complete", fields...)
}

func exitWithError(msg string, err error) {
	log := logger.Get()
	if err != nil {
		log.Error(msg, zap.Error(err))
	} else {
		log.Error(msg)
	}
	logger.Sync()
	os.Exit(1)
}
