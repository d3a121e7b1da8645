// Package pipeline orchestrates the boundary build: resolve the source
// into relations, ways and nodes, assemble and simplify boundaries on a
// worker pool, index them for point lookup, and optionally scan and
// link settlements.
package pipeline

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wegman-software/osmbounds/internal/assemble"
	"github.com/wegman-software/osmbounds/internal/config"
	"github.com/wegman-software/osmbounds/internal/locate"
	"github.com/wegman-software/osmbounds/internal/logger"
	"github.com/wegman-software/osmbounds/internal/metrics"
	"github.com/wegman-software/osmbounds/internal/model"
	"github.com/wegman-software/osmbounds/internal/resolve"
	"github.com/wegman-software/osmbounds/internal/settlement"
	"github.com/wegman-software/osmbounds/internal/simplify"
)

// Stats summarizes one pipeline run.
type Stats struct {
	Relations    int
	WithGeometry int
	Polygons     int
	Diagnostics  map[model.DiagnosticKind]int
	MissingWays  int
	MissingNodes int
	Settlements  int
	Linked       int
	Partial      bool
	ResolveTime  time.Duration
	AssembleTime time.Duration
	TotalTime    time.Duration
}

// Result carries everything a pipeline run produced.
type Result struct {
	Boundaries  []model.Boundary
	Settlements []model.Settlement
	Index       *locate.Index
	Stats       Stats
}

// Options selects optional pipeline phases.
type Options struct {
	// Settlements enables the second source scan for populated places
	// and links each one to its containing boundary.
	Settlements bool
}

// Coordinator runs the boundary pipeline over one source.
type Coordinator struct {
	cfg *config.Config
	src resolve.Source
}

// NewCoordinator creates a coordinator for the given source.
func NewCoordinator(cfg *config.Config, src resolve.Source) *Coordinator {
	return &Coordinator{cfg: cfg, src: src}
}

// Run executes the pipeline. A decoder failure mid-stream yields the
// partial result alongside the error; callers decide whether partial
// output is acceptable.
func (c *Coordinator) Run(ctx context.Context, opts Options) (*Result, error) {
	log := logger.Get()
	start := time.Now()

	if c.cfg.MetricsInterval > 0 {
		metricsCtx, cancelMetrics := context.WithCancel(ctx)
		defer cancelMetrics()

		collector := metrics.NewCollector(c.cfg.MetricsInterval, log)
		go collector.Start(metricsCtx)
		log.Info("system metrics collection started",
			zap.Duration("interval", c.cfg.MetricsInterval))
	}

	result := &Result{
		Stats: Stats{Diagnostics: make(map[model.DiagnosticKind]int)},
	}

	resolveStart := time.Now()
	res, err := resolve.New(c.src, c.cfg.RelationFilter, c.cfg.Workers).Resolve(ctx)
	result.Stats.ResolveTime = time.Since(resolveStart)
	if err != nil && (res == nil || !res.Partial) {
		return nil, fmt.Errorf("resolving source: %w", err)
	}
	resolveErr := err
	if res.Partial {
		log.Warn("source resolution incomplete, continuing with partial data",
			zap.Error(resolveErr))
	}
	result.Stats.Partial = res.Partial
	result.Stats.Relations = len(res.Relations)
	result.Stats.MissingWays = len(res.MissingWays)
	result.Stats.MissingNodes = len(res.MissingNodes)

	assembleStart := time.Now()
	result.Boundaries = c.assembleAll(ctx, res)
	result.Stats.AssembleTime = time.Since(assembleStart)

	for i := range result.Boundaries {
		b := &result.Boundaries[i]
		if b.HasGeometry() {
			result.Stats.WithGeometry++
			result.Stats.Polygons += len(b.Polygons)
		}
		for _, d := range b.Diagnostics {
			result.Stats.Diagnostics[d.Kind]++
		}
	}

	result.Index = locate.Build(result.Boundaries)
	log.Info("containment index built", zap.Int("polygons", result.Index.Size()))

	if opts.Settlements {
		settlements, err := settlement.Scan(ctx, c.src, c.cfg.SettlementPlaces)
		if err != nil {
			return result, fmt.Errorf("scanning settlements: %w", err)
		}
		linked := settlement.Link(settlements, result.Index)
		result.Settlements = settlements
		result.Stats.Settlements = len(settlements)
		result.Stats.Linked = linked
		log.Info("settlements linked",
			zap.Int("settlements", len(settlements)),
			zap.Int("linked", linked))
	}

	result.Stats.TotalTime = time.Since(start)
	log.Info("pipeline complete",
		zap.Int("relations", result.Stats.Relations),
		zap.Int("with_geometry", result.Stats.WithGeometry),
		zap.Int("polygons", result.Stats.Polygons),
		zap.Bool("partial", result.Stats.Partial),
		zap.Duration("duration", result.Stats.TotalTime.Round(time.Second)))

	if res.Partial {
		return result, fmt.Errorf("pipeline produced partial output: %w", resolveErr)
	}
	return result, nil
}

// assembleAll assembles and simplifies every relation on a worker pool.
// Output order follows relation id regardless of completion order.
func (c *Coordinator) assembleAll(ctx context.Context, res *resolve.Result) []model.Boundary {
	log := logger.Get()
	boundaries := make([]model.Boundary, len(res.Relations))

	var done atomic.Int64
	tracker := NewProgressTracker(int64(len(res.Relations)), "assembling boundaries")

	reportCtx, cancelReport := context.WithCancel(ctx)
	defer cancelReport()
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-reportCtx.Done():
				return
			case <-ticker.C:
				p := tracker.Calculate(done.Load())
				log.Info("assembly progress",
					zap.Int64("relations", p.Current),
					zap.Int64("total", p.Total),
					zap.String("rate", FormatThroughput(p.Throughput)),
					zap.String("eta", FormatETA(p.ETA)))
			}
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	jobs := make(chan int)

	g.Go(func() error {
		defer close(jobs)
		for i := range res.Relations {
			select {
			case jobs <- i:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	for w := 0; w < c.cfg.Workers; w++ {
		g.Go(func() error {
			for i := range jobs {
				b := assemble.Relation(res.Relations[i], res.Ways, res.Nodes)
				boundaries[i] = simplify.Boundary(b, c.cfg.SimplifyTolerance)
				done.Add(1)
			}
			return nil
		})
	}

	// Workers only fail through context cancellation; partially filled
	// slots keep their zero value and are filtered below.
	if err := g.Wait(); err != nil {
		log.Warn("assembly interrupted", zap.Error(err))
	}

	out := boundaries[:0]
	for i := range boundaries {
		if boundaries[i].RelationID != 0 {
			out = append(out, boundaries[i])
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].RelationID < out[j].RelationID
	})
	return out
}
