// Package store persists assembled boundaries and settlements to
// PostgreSQL/PostGIS. Boundaries are upserted keyed on their relation
// id so repeated imports refresh in place; settlements are bulk loaded
// with COPY.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/paulmach/orb/geojson"
	"go.uber.org/zap"

	"github.com/wegman-software/osmbounds/internal/config"
	"github.com/wegman-software/osmbounds/internal/logger"
	"github.com/wegman-software/osmbounds/internal/model"
)

// Store wraps a pgx connection pool bound to the configured schema.
type Store struct {
	pool      *pgxpool.Pool
	schema    string
	batchSize int
	logger    *zap.Logger
}

// New connects to the database and verifies the connection.
func New(ctx context.Context, cfg *config.Config) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.Workers)
	if poolCfg.MaxConns < 2 {
		poolCfg.MaxConns = 2
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return &Store{
		pool:      pool,
		schema:    cfg.DBSchema,
		batchSize: cfg.BatchSize,
		logger:    logger.Get(),
	}, nil
}

// Pool exposes the underlying pool for callers that run their own SQL.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// EnsureSchema creates the schema, the PostGIS extension and the
// boundary and settlement tables if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		"CREATE EXTENSION IF NOT EXISTS postgis",
		fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", s.schema),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.boundaries (
			osm_id      BIGINT PRIMARY KEY,
			name        TEXT NOT NULL,
			local_name  TEXT,
			iso_alpha2  TEXT,
			iso_alpha3  TEXT,
			admin_level TEXT,
			diagnostics TEXT[],
			geom        geometry(Geometry, 4326),
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, s.schema),
		// geom is generated so COPY can stay on plain column types.
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.settlements (
			osm_id      BIGINT PRIMARY KEY,
			name        TEXT NOT NULL,
			name_en     TEXT,
			place       TEXT NOT NULL,
			boundary_id BIGINT,
			lon         DOUBLE PRECISION NOT NULL,
			lat         DOUBLE PRECISION NOT NULL,
			geom        geometry(Point, 4326)
			            GENERATED ALWAYS AS (ST_SetSRID(ST_MakePoint(lon, lat), 4326)) STORED
		)`, s.schema),
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensuring schema: %w", err)
		}
	}
	return nil
}

// UpsertBoundaries writes boundaries in batches, inserting new rows and
// refreshing existing ones. Boundaries without geometry get a NULL geom
// so their diagnostics are still visible. Returns the row count.
func (s *Store) UpsertBoundaries(ctx context.Context, boundaries []model.Boundary) (int64, error) {
	stmt := fmt.Sprintf(`INSERT INTO %s.boundaries
		(osm_id, name, local_name, iso_alpha2, iso_alpha3, admin_level, diagnostics, geom, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, ST_SetSRID(ST_GeomFromGeoJSON($8), 4326), now())
		ON CONFLICT (osm_id) DO UPDATE SET
			name = EXCLUDED.name,
			local_name = EXCLUDED.local_name,
			iso_alpha2 = EXCLUDED.iso_alpha2,
			iso_alpha3 = EXCLUDED.iso_alpha3,
			admin_level = EXCLUDED.admin_level,
			diagnostics = EXCLUDED.diagnostics,
			geom = EXCLUDED.geom,
			updated_at = now()`, s.schema)

	start := time.Now()
	var written int64
	batch := &pgx.Batch{}

	flush := func() error {
		if batch.Len() == 0 {
			return nil
		}
		br := s.pool.SendBatch(ctx, batch)
		for i := 0; i < batch.Len(); i++ {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return fmt.Errorf("upserting boundary batch: %w", err)
			}
		}
		if err := br.Close(); err != nil {
			return fmt.Errorf("closing boundary batch: %w", err)
		}
		written += int64(batch.Len())
		batch = &pgx.Batch{}
		return nil
	}

	for i := range boundaries {
		b := &boundaries[i]

		var geom *string
		if b.HasGeometry() {
			raw, err := json.Marshal(geojson.NewGeometry(b.MultiPolygon()))
			if err != nil {
				return written, fmt.Errorf("encoding geometry for relation %d: %w", b.RelationID, err)
			}
			g := string(raw)
			geom = &g
		}

		var diags []string
		for _, d := range b.Diagnostics {
			diags = append(diags, d.String())
		}

		batch.Queue(stmt,
			b.RelationID,
			b.Name,
			nullable(b.LocalName),
			nullable(b.ISOAlpha2),
			nullable(b.ISOAlpha3),
			nullable(b.Tags["admin_level"]),
			diags,
			geom,
		)
		if batch.Len() >= s.batchSize {
			if err := flush(); err != nil {
				return written, err
			}
		}
	}
	if err := flush(); err != nil {
		return written, err
	}

	s.logger.Info("boundaries upserted",
		zap.Int64("rows", written),
		zap.Duration("duration", time.Since(start).Round(time.Millisecond)))
	return written, nil
}

// settlementSource feeds CopyFrom one settlement row at a time.
type settlementSource struct {
	settlements []model.Settlement
	idx         int
}

func (src *settlementSource) Next() bool {
	src.idx++
	return src.idx <= len(src.settlements)
}

func (src *settlementSource) Values() ([]any, error) {
	s := src.settlements[src.idx-1]
	var boundaryID *int64
	if s.BoundaryID != 0 {
		boundaryID = &s.BoundaryID
	}
	return []any{s.ID, s.Name, nullable(s.NameEN), s.Place, boundaryID, s.Point[0], s.Point[1]}, nil
}

func (src *settlementSource) Err() error {
	return nil
}

// ReplaceSettlements truncates the settlement table and bulk loads the
// given rows with COPY. Returns the row count.
func (s *Store) ReplaceSettlements(ctx context.Context, settlements []model.Settlement) (int64, error) {
	start := time.Now()

	if _, err := s.pool.Exec(ctx, fmt.Sprintf("TRUNCATE %s.settlements", s.schema)); err != nil {
		return 0, fmt.Errorf("truncating settlements: %w", err)
	}

	rows, err := s.pool.CopyFrom(ctx,
		pgx.Identifier{s.schema, "settlements"},
		[]string{"osm_id", "name", "name_en", "place", "boundary_id", "lon", "lat"},
		&settlementSource{settlements: settlements},
	)
	if err != nil {
		return rows, fmt.Errorf("copying settlements: %w", err)
	}

	s.logger.Info("settlements loaded",
		zap.Int64("rows", rows),
		zap.Duration("duration", time.Since(start).Round(time.Millisecond)))
	return rows, nil
}

// CreateIndexes builds the query-path indexes after bulk loading.
func (s *Store) CreateIndexes(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS boundaries_geom_idx ON %s.boundaries USING GIST (geom)", s.schema),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS boundaries_name_idx ON %s.boundaries (name)", s.schema),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS settlements_geom_idx ON %s.settlements USING GIST (geom)", s.schema),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS settlements_boundary_idx ON %s.settlements (boundary_id)", s.schema),
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("creating index: %w", err)
		}
	}
	s.logger.Info("indexes created")
	return nil
}

// Stats reports current table row counts for post-import summaries.
func (s *Store) Stats(ctx context.Context) (boundaries, settlements int64, err error) {
	row := s.pool.QueryRow(ctx, fmt.Sprintf(
		"SELECT (SELECT count(*) FROM %s.boundaries), (SELECT count(*) FROM %s.settlements)",
		s.schema, s.schema))
	if err := row.Scan(&boundaries, &settlements); err != nil {
		return 0, 0, fmt.Errorf("querying table stats: %w", err)
	}
	return boundaries, settlements, nil
}

func nullable(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
