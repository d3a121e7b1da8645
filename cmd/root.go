package cmd

import (
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/spf13/cobra"
	"github.com/wegman-software/osmbounds/internal/config"
	"github.com/wegman-software/osmbounds/internal/logger"
)

var (
	cfg             = config.DefaultConfig()
	cfgFile         string
	verbose         bool
	logFile         string
	metricsInterval time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "osmbounds",
	Short: "Administrative boundary extraction from OSM data",
	Long: `osmbounds builds administrative boundary polygons from OSM PBF files.

It resolves boundary relations and their way and node members in three
streaming passes, stitches member ways into closed rings, simplifies the
result, and serves point-in-boundary lookups. Output goes to GeoJSON or
to PostgreSQL/PostGIS together with linked settlements.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Config file first, then flags the user actually set on top.
		if cfgFile != "" {
			if err := cfg.LoadFile(cfgFile); err != nil {
				return err
			}
		}
		flags := cmd.Flags()
		if flags.Changed("verbose") || verbose {
			cfg.Verbose = verbose
		}
		if flags.Changed("log-file") {
			cfg.LogFile = logFile
		}
		if flags.Changed("metrics-interval") {
			cfg.MetricsInterval = metricsInterval
		}

		logger.Init(cfg.Verbose, cfg.LogFile)
		return nil
	},
}

func Execute() error {
	defer logger.Sync()
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Path to YAML config file")
	rootCmd.PersistentFlags().IntVarP(&cfg.Workers, "workers", "j", cfg.Workers, "Number of parallel workers")

	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Path to log file for persistent logging (JSON format)")
	rootCmd.PersistentFlags().DurationVar(&metricsInterval, "metrics-interval", 30*time.Second, "Interval for system metrics logging (e.g., 10s, 1m)")

	rootCmd.PersistentFlags().StringVar(&cfg.DBHost, "db-host", cfg.DBHost, "PostgreSQL host")
	rootCmd.PersistentFlags().IntVar(&cfg.DBPort, "db-port", cfg.DBPort, "PostgreSQL port")
	rootCmd.PersistentFlags().StringVarP(&cfg.DBName, "db-name", "d", cfg.DBName, "PostgreSQL database name")
	rootCmd.PersistentFlags().StringVarP(&cfg.DBUser, "db-user", "U", cfg.DBUser, "PostgreSQL user")
	rootCmd.PersistentFlags().StringVarP(&cfg.DBPassword, "db-password", "W", cfg.DBPassword, "PostgreSQL password")
	rootCmd.PersistentFlags().StringVar(&cfg.DBSchema, "db-schema", cfg.DBSchema, "PostgreSQL schema")
}

func exitWithError(msg string, err error) {
	log := logger.Get()
	if err != nil {
		log.Error(msg, zap.Error(err))
	} else {
		log.Error(msg)
	}
	os.Exit(1)
}
