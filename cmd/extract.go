package cmd

import (
	"context"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/spf13/cobra"
	"github.com/wegman-software/osmbounds/internal/export"
	"github.com/wegman-software/osmbounds/internal/logger"
	"github.com/wegman-software/osmbounds/internal/pipeline"
	"github.com/wegman-software/osmbounds/internal/resolve"
)

var extractOutput string

var extractCmd = &cobra.Command{
	Use:   "extract <input.osm.pbf>",
	Short: "Build boundaries from a PBF file and write them as GeoJSON",
	Long: `Run the boundary pipeline without a database and write the result as a
GeoJSON feature collection, one feature per boundary relation, ordered
by relation id. Assembly diagnostics land in the feature properties.`,
	Args: cobra.ExactArgs(1),
	Run:  runExtract,
}

func init() {
	rootCmd.AddCommand(extractCmd)

	extractCmd.Flags().StringVarP(&extractOutput, "output", "o", "-", "Output file (- for stdout)")
	extractCmd.Flags().BoolVar(&allowPartial, "allow-partial", false, "Write results even when the source could not be fully read")
	extractCmd.Flags().StringSliceVar(&filterPairs, "filter", nil, "Relation tag filter as key=value (repeatable, replaces the default)")
	extractCmd.Flags().Float64Var(&cfg.SimplifyTolerance, "simplify", cfg.SimplifyTolerance, "Douglas-Peucker tolerance in degrees (0 disables)")
}

func runExtract(cmd *cobra.Command, args []string) {
	cfg.InputFile = args[0]
	log := logger.Get()

	if err := applyFilterFlags(); err != nil {
		exitWithError("Invalid filter", err)
	}

	ctx := context.Background()
	start := time.Now()

	src := resolve.FileSource{Path: cfg.InputFile, Procs: cfg.Workers}
	coord := pipeline.NewCoordinator(cfg, src)

	result, err := coord.Run(ctx, pipeline.Options{})
	if err != nil {
		if result == nil || !result.Stats.Partial || !allowPartial {
			exitWithError("Pipeline failed", err)
		}
		log.Warn("Writing partial result (--allow-partial)", zap.Error(err))
	}

	out := os.Stdout
	if extractOutput != "-" {
		f, err := os.Create(extractOutput)
		if err != nil {
			exitWithError("Cannot create output file", err)
		}
		defer f.Close()
		out = f
	}

	if err := export.Write(out, result.Boundaries); err != nil {
		exitWithError("GeoJSON export failed", err)
	}

	log.Info("Extract complete",
		zap.Int("boundaries", result.Stats.WithGeometry),
		zap.Int("relations", result.Stats.Relations),
		zap.Duration("duration", time.Since(start).Round(time.Second)))
}
