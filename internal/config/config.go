package config

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"gopkg.in/yaml.v3"
)

// TagFilter is a set of required-equals tag pairs. A relation matches
// when every pair is present with exactly that value.
type TagFilter map[string]string

// Match reports whether tags satisfy every required pair.
func (f TagFilter) Match(tags map[string]string) bool {
	for k, v := range f {
		if tags[k] != v {
			return false
		}
	}
	return true
}

// Config holds the global configuration for the boundary pipeline.
type Config struct {
	// Input settings
	InputFile string `yaml:"-"`

	// Relation selection and geometry settings
	RelationFilter    TagFilter `yaml:"relation_filter"`
	SimplifyTolerance float64   `yaml:"simplify_tolerance"` // degree units
	SettlementPlaces  []string  `yaml:"settlement_places"`

	// Database settings
	DBHost     string `yaml:"db_host"`
	DBPort     int    `yaml:"db_port"`
	DBName     string `yaml:"db_name"`
	DBUser     string `yaml:"db_user"`
	DBPassword string `yaml:"db_password"`
	DBSchema   string `yaml:"db_schema"`

	// Processing settings
	Workers   int `yaml:"workers"`
	BatchSize int `yaml:"batch_size"`

	// Logging and metrics
	Verbose         bool          `yaml:"verbose"`
	LogFile         string        `yaml:"log_file"`
	MetricsInterval time.Duration `yaml:"-"`
}

// UnmarshalYAML decodes the config, accepting metrics_interval as a
// duration string like "30s" or "1m".
func (c *Config) UnmarshalYAML(value *yaml.Node) error {
	type alias Config
	aux := struct {
		MetricsInterval string `yaml:"metrics_interval"`
		*alias
	}{alias: (*alias)(c)}
	if err := value.Decode(&aux); err != nil {
		return err
	}
	if aux.MetricsInterval != "" {
		d, err := time.ParseDuration(aux.MetricsInterval)
		if err != nil {
			return fmt.Errorf("invalid metrics_interval: %w", err)
		}
		c.MetricsInterval = d
	}
	return nil
}

// DefaultConfig returns a configuration with sensible defaults. The
// relation filter selects country-level administrative boundaries.
func DefaultConfig() *Config {
	return &Config{
		RelationFilter: TagFilter{
			"boundary":    "administrative",
			"admin_level": "2",
		},
		SimplifyTolerance: 0.01,
		SettlementPlaces:  []string{"city", "town", "village", "hamlet"},
		DBHost:            "localhost",
		DBPort:            5432,
		DBName:            "geodata",
		DBUser:            "postgres",
		DBPassword:        "",
		DBSchema:          "public",
		Workers:           runtime.NumCPU(),
		BatchSize:         1000,
		MetricsInterval:   30 * time.Second,
	}
}

// LoadFile overlays values from a YAML config file onto c. Keys absent
// from the file keep their current values.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config YAML: %w", err)
	}
	return nil
}

// ConnectionString returns a PostgreSQL connection string.
func (c *Config) ConnectionString() string {
	connStr := fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s sslmode=disable",
		c.DBHost, c.DBPort, c.DBName, c.DBUser,
	)
	if c.DBPassword != "" {
		connStr += fmt.Sprintf(" password=%s", c.DBPassword)
	}
	return connStr
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.InputFile == "" {
		return fmt.Errorf("input file is required")
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1")
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("batch size must be at least 1")
	}
	if len(c.RelationFilter) == 0 {
		return fmt.Errorf("relation filter must contain at least one tag pair")
	}
	if c.SimplifyTolerance < 0 {
		return fmt.Errorf("simplify tolerance must not be negative")
	}
	return nil
}
