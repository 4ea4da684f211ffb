package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/wegman-software/shp2pbf-go/internal/pbf"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <file.osm.pbf>",
	Short: "Print a summary of an OSM PBF file",
	Long: `Decode an OSM PBF file and print its header, entity counts, id ranges
and bounding box. Useful to check the output of a conversion.`,
	Args: cobra.ExactArgs(1),
	Run:  runInspect,
}

func init() {
	rootCmd.AddCommand(inspectCmd)
}

func runInspect(cmd *cobra.Command, args []string) {
	f, err := os.Open(args[0])
	if err != nil {
		exitWithError("failed to open file", err)
	}
	defer f.Close()

	summary, err := pbf.Summarize(context.Background(), f)
	if err != nil {
		exitWithError("failed to read PBF", err)
	}
	printSummary(cmd.OutOrStdout(), args[0], summary)
}

func printSummary(w io.Writer, path string, s *pbf.Summary) {
	fmt.Fprintf(w, "File:              %s\n", path)
	fmt.Fprintf(w, "Writing program:   %s\n", s.WritingProgram)
	fmt.Fprintf(w, "Required features: %s\n", strings.Join(s.RequiredFeatures, ", "))
	if len(s.OptionalFeatures) > 0 {
		fmt.Fprintf(w, "Optional features: %s\n", strings.Join(s.OptionalFeatures, ", "))
	}
	if b := s.HeaderBounds; b != nil {
		fmt.Fprintf(w, "Header bbox:       %.7f,%.7f,%.7f,%.7f\n", b.MinLon, b.MinLat, b.MaxLon, b.MaxLat)
	}

	fmt.Fprintf(w, "Nodes:             %d", s.Nodes)
	if s.Nodes > 0 {
		fmt.Fprintf(w, " (ids %d..%d)", s.MinNodeID, s.MaxNodeID)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Ways:              %d", s.Ways)
	if s.Ways > 0 {
		fmt.Fprintf(w, " (ids %d..%d, %d node refs)", s.MinWayID, s.MaxWayID, s.WayNodes)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Relations:         %d\n", s.Relations)
	fmt.Fprintf(w, "Tags:              %d\n", s.Tags)
	if b := s.Bounds; b != nil {
		fmt.Fprintf(w, "Node bbox:         %.7f,%.7f,%.7f,%.7f\n", b.MinLon, b.MinLat, b.MaxLon, b.MaxLat)
	}
}
