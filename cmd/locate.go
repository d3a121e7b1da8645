package cmd

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/spf13/cobra"
	"github.com/wegman-software/osmbounds/internal/logger"
	"github.com/wegman-software/osmbounds/internal/pipeline"
	"github.com/wegman-software/osmbounds/internal/resolve"
)

var locatePoints []string

var locateCmd = &cobra.Command{
	Use:   "locate <input.osm.pbf>",
	Short: "Resolve coordinates to their containing boundary",
	Long: `Build the containment index from a PBF file and answer point lookups.
Each --point is printed with the relation id and name of the boundary
containing it, or "none" when no boundary claims the point.`,
	Args: cobra.ExactArgs(1),
	Run:  runLocate,
}

func init() {
	rootCmd.AddCommand(locateCmd)

	locateCmd.Flags().StringArrayVarP(&locatePoints, "point", "p", nil, "Point to locate as lon,lat (repeatable)")
	locateCmd.Flags().StringSliceVar(&filterPairs, "filter", nil, "Relation tag filter as key=value (repeatable, replaces the default)")
	locateCmd.MarkFlagRequired("point")
}

func runLocate(cmd *cobra.Command, args []string) {
	cfg.InputFile = args[0]
	log := logger.Get()

	if err := applyFilterFlags(); err != nil {
		exitWithError("Invalid filter", err)
	}

	points := make([][2]float64, 0, len(locatePoints))
	for _, raw := range locatePoints {
		lon, lat, err := parsePoint(raw)
		if err != nil {
			exitWithError("Invalid point", err)
		}
		points = append(points, [2]float64{lon, lat})
	}

	ctx := context.Background()
	src := resolve.FileSource{Path: cfg.InputFile, Procs: cfg.Workers}
	coord := pipeline.NewCoordinator(cfg, src)

	result, err := coord.Run(ctx, pipeline.Options{})
	if err != nil {
		exitWithError("Pipeline failed", err)
	}

	names := make(map[int64]string, len(result.Boundaries))
	for _, b := range result.Boundaries {
		names[b.RelationID] = b.Name
	}

	for _, p := range points {
		id, ok := result.Index.Locate(p[0], p[1])
		if !ok {
			fmt.Printf("%g,%g\tnone\n", p[0], p[1])
			continue
		}
		fmt.Printf("%g,%g\t%d\t%s\n", p[0], p[1], id, names[id])
	}

	log.Debug("Locate complete", zap.Int("points", len(points)))
}

func parsePoint(raw string) (lon, lat float64, err error) {
	lonStr, latStr, ok := strings.Cut(raw, ",")
	if !ok {
		return 0, 0, fmt.Errorf("point %q is not lon,lat", raw)
	}
	lon, err = strconv.ParseFloat(strings.TrimSpace(lonStr), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("point %q: bad longitude: %w", raw, err)
	}
	lat, err = strconv.ParseFloat(strings.TrimSpace(latStr), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("point %q: bad latitude: %w", raw, err)
	}
	return lon, lat, nil
}
