package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spf13/cobra"
	"github.com/wegman-software/osmbounds/internal/config"
	"github.com/wegman-software/osmbounds/internal/logger"
	"github.com/wegman-software/osmbounds/internal/pipeline"
	"github.com/wegman-software/osmbounds/internal/resolve"
	"github.com/wegman-software/osmbounds/internal/store"
)

var (
	createIndexes   bool
	allowPartial    bool
	skipSettlements bool
	filterPairs     []string
)

var importCmd = &cobra.Command{
	Use:   "import <input.osm.pbf>",
	Short: "Build boundaries from a PBF file and load them into PostgreSQL",
	Long: `Run the full boundary pipeline and persist the result:

  1. Resolve boundary relations, member ways and nodes in three passes
  2. Assemble member ways into closed rings and simplify them
  3. Scan settlements and link each to its containing boundary
  4. Upsert boundaries and bulk load settlements into PostgreSQL

Repeated imports refresh existing rows in place, keyed on relation id.`,
	Args: cobra.ExactArgs(1),
	Run:  runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)

	importCmd.Flags().BoolVar(&createIndexes, "create-indexes", true, "Create indexes after loading")
	importCmd.Flags().BoolVar(&allowPartial, "allow-partial", false, "Load results even when the source could not be fully read")
	importCmd.Flags().BoolVar(&skipSettlements, "skip-settlements", false, "Skip the settlement scan and linking phase")
	importCmd.Flags().StringSliceVar(&filterPairs, "filter", nil, "Relation tag filter as key=value (repeatable, replaces the default)")
	importCmd.Flags().Float64Var(&cfg.SimplifyTolerance, "simplify", cfg.SimplifyTolerance, "Douglas-Peucker tolerance in degrees (0 disables)")
}

func runImport(cmd *cobra.Command, args []string) {
	cfg.InputFile = args[0]
	log := logger.Get()

	if err := applyFilterFlags(); err != nil {
		exitWithError("Invalid filter", err)
	}
	if err := cfg.Validate(); err != nil {
		exitWithError("Invalid configuration", err)
	}

	ctx := context.Background()
	start := time.Now()

	startFields := []zap.Field{
		zap.String("input", cfg.InputFile),
		zap.Int("workers", cfg.Workers),
		zap.Float64("simplify", cfg.SimplifyTolerance),
	}
	if info, err := os.Stat(cfg.InputFile); err == nil {
		startFields = append(startFields, zap.String("input_size", pipeline.FormatBytes(info.Size())))
	}
	log.Info("Starting import", startFields...)

	st, err := store.New(ctx, cfg)
	if err != nil {
		exitWithError("Database connection failed", err)
	}
	defer st.Close()

	if err := st.EnsureSchema(ctx); err != nil {
		exitWithError("Schema setup failed", err)
	}

	src := resolve.FileSource{Path: cfg.InputFile, Procs: cfg.Workers}
	coord := pipeline.NewCoordinator(cfg, src)

	result, err := coord.Run(ctx, pipeline.Options{Settlements: !skipSettlements})
	if err != nil {
		if result == nil || !result.Stats.Partial || !allowPartial {
			exitWithError("Pipeline failed", err)
		}
		log.Warn("Loading partial result (--allow-partial)", zap.Error(err))
	}

	rows, err := st.UpsertBoundaries(ctx, result.Boundaries)
	if err != nil {
		exitWithError("Boundary load failed", err)
	}

	var settlementRows int64
	if !skipSettlements {
		settlementRows, err = st.ReplaceSettlements(ctx, result.Settlements)
		if err != nil {
			exitWithError("Settlement load failed", err)
		}
	}

	if createIndexes {
		if err := st.CreateIndexes(ctx); err != nil {
			exitWithError("Index creation failed", err)
		}
	}

	totalBoundaries, totalSettlements, err := st.Stats(ctx)
	if err != nil {
		log.Warn("Could not query table stats", zap.Error(err))
	}

	fields := []zap.Field{
		zap.Int64("boundaries", rows),
		zap.Int64("total_boundaries", totalBoundaries),
		zap.Int64("total_settlements", totalSettlements),
		zap.Int64("settlements", settlementRows),
		zap.Int("with_geometry", result.Stats.WithGeometry),
		zap.Int("linked", result.Stats.Linked),
		zap.Duration("duration", time.Since(start).Round(time.Second)),
	}
	for kind, count := range result.Stats.Diagnostics {
		fields = append(fields, zap.Int("diag_"+string(kind), count))
	}
	log.Info("Import complete", fields...)
}

// applyFilterFlags replaces the relation filter when --filter was given.
func applyFilterFlags() error {
	if len(filterPairs) == 0 {
		return nil
	}
	filter := make(config.TagFilter, len(filterPairs))
	for _, pair := range filterPairs {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || k == "" || v == "" {
			return fmt.Errorf("filter %q is not key=value", pair)
		}
		filter[k] = v
	}
	cfg.RelationFilter = filter
	return nil
}
