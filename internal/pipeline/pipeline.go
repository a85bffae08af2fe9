package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/storm-overlap-engine/internal/domain"
	"github.com/couchcryptid/storm-overlap-engine/internal/observability"
	"github.com/couchcryptid/storm-overlap-engine/internal/overlap"
)

// Evaluator computes overlap records for all points sharing one timestamp.
type Evaluator interface {
	Evaluate(ts time.Time, pts []domain.TrackPoint) overlap.Outcome
	CacheStats() (hits, misses int64)
	OverlapCells() []domain.OverlapCell
}

// Sink receives the complete result of a run exactly once.
type Sink interface {
	Name() string
	Write(ctx context.Context, res *domain.RunResult) error
}

// Options tune a Pipeline.
type Options struct {
	Workers      int
	SustainHours float64
	ExportCells  bool
}

// Summary describes the last completed run.
type Summary struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	Duration   string    `json:"duration"`
	Tracks     int       `json:"tracks"`
	Points     int       `json:"points"`
	Timestamps int       `json:"timestamps"`
	Unresolved int       `json:"unresolved_timestamps"`
	Persistent int       `json:"persistent"`
	Transient  int       `json:"transient"`
	Cells      int       `json:"overlap_cells"`
	Rules      []string  `json:"rules"`
}

// Pipeline evaluates every timestamp of a track set, classifies the tracks
// and hands the result to its sinks.
type Pipeline struct {
	eval    Evaluator
	sinks   []Sink
	logger  *slog.Logger
	metrics *observability.Metrics
	opts    Options
	ready   atomic.Bool
	last    atomic.Pointer[Summary]
}

// New creates a Pipeline with the given evaluator, sinks and observability.
func New(eval Evaluator, sinks []Sink, logger *slog.Logger, metrics *observability.Metrics, opts Options) *Pipeline {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	return &Pipeline{
		eval:    eval,
		sinks:   sinks,
		logger:  logger,
		metrics: metrics,
		opts:    opts,
	}
}

// CheckReadiness returns nil once a run has completed, or an error
// describing why the service is not yet ready.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("no run has completed yet")
	}
	return nil
}

// LastRun returns the summary of the last completed run, or nil.
func (p *Pipeline) LastRun() *Summary {
	return p.last.Load()
}

// group is every point observed at one timestamp, with its position in the
// track set.
type group struct {
	time time.Time
	pts  []domain.TrackPoint
	refs []ref
}

type ref struct{ track, point int }

// Run evaluates, classifies and writes trackSet. It returns the result even
// when it has been written to no sink.
func (p *Pipeline) Run(ctx context.Context, trackSet []domain.Track) (*domain.RunResult, error) {
	clock := domain.Clock()
	start := clock.Now()
	res := &domain.RunResult{RunID: uuid.NewString(), StartedAt: domain.Now()}
	logger := p.logger.With("run_id", res.RunID)

	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	res.Tracks = cloneTracks(trackSet)
	groups := groupByTime(res.Tracks)
	logger.Info("run started", "tracks", len(res.Tracks), "timestamps", len(groups), "workers", p.opts.Workers)

	outcomes, err := p.evaluate(ctx, groups)
	if err != nil {
		return nil, err
	}
	unresolved := p.merge(logger, res.Tracks, groups, outcomes)

	hits, misses := p.eval.CacheStats()
	p.metrics.IndexCache.WithLabelValues("hit").Add(float64(hits))
	p.metrics.IndexCache.WithLabelValues("miss").Add(float64(misses))

	classifier := newClassifier(p.opts.SustainHours, res.Tracks)
	res.Classes = classify(logger, classifier, res.Tracks)
	for _, c := range res.Classes {
		p.metrics.TracksClassified.WithLabelValues(c.String()).Inc()
	}
	if p.opts.ExportCells {
		res.Cells = p.eval.OverlapCells()
	}

	if err := p.write(ctx, logger, res); err != nil {
		return nil, err
	}

	elapsed := clock.Since(start)
	p.metrics.RunDuration.Observe(elapsed.Seconds())

	persistent, transient := res.Count()
	sum := &Summary{
		RunID:      res.RunID,
		StartedAt:  res.StartedAt,
		Duration:   elapsed.String(),
		Tracks:     len(res.Tracks),
		Points:     pointCount(res.Tracks),
		Timestamps: len(groups),
		Unresolved: unresolved,
		Persistent: persistent,
		Transient:  transient,
		Cells:      len(res.Cells),
	}
	for _, r := range classifier.Rules() {
		sum.Rules = append(sum.Rules, r.Name())
	}
	p.last.Store(sum)
	p.ready.Store(true)

	logger.Info("run complete",
		"persistent", persistent,
		"transient", transient,
		"unresolved_timestamps", unresolved,
		"cache_hits", hits,
		"cache_misses", misses,
		"duration", elapsed,
	)
	return res, nil
}

// evaluate fans timestamps out over a bounded worker group. Each worker
// writes only its own slot.
func (p *Pipeline) evaluate(ctx context.Context, groups []group) ([]overlap.Outcome, error) {
	outcomes := make([]overlap.Outcome, len(groups))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Workers)
	for i := range groups {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			t := time.Now()
			outcomes[i] = p.eval.Evaluate(groups[i].time, groups[i].pts)
			p.metrics.TimestampDuration.Observe(time.Since(t).Seconds())
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("evaluate timestamps: %w", err)
	}
	return outcomes, nil
}

// merge attaches each outcome's records back onto their tracks and records
// the contained degradations. It returns the number of unresolved timestamps.
func (p *Pipeline) merge(logger *slog.Logger, trackSet []domain.Track, groups []group, outcomes []overlap.Outcome) int {
	unresolved := 0
	for i, g := range groups {
		out := outcomes[i]
		for j, r := range g.refs {
			trackSet[r.track].Overlap[r.point] = out.Records[j]
		}

		for _, k := range out.Missing {
			p.metrics.MissingData.WithLabelValues(string(k)).Inc()
		}
		for _, k := range out.Empty {
			p.metrics.EmptyObjectSets.WithLabelValues(string(k)).Inc()
		}
		if !out.Resolved {
			unresolved++
			p.metrics.Timestamps.WithLabelValues("unresolved").Inc()
			logger.Warn("timestamp unresolved, points marked neutral",
				"time", g.time, "points", len(g.pts), "missing", out.Missing)
			continue
		}
		p.metrics.Timestamps.WithLabelValues("resolved").Inc()
		if len(out.Missing) > 0 || len(out.Empty) > 0 {
			logger.Debug("timestamp partially covered", "time", g.time, "missing", out.Missing, "empty", out.Empty)
		}
		for _, rec := range out.Records {
			countHits(p.metrics, rec)
		}
	}
	return unresolved
}

func (p *Pipeline) write(ctx context.Context, logger *slog.Logger, res *domain.RunResult) error {
	rows := len(res.Rows())
	for _, s := range p.sinks {
		if err := s.Write(ctx, res); err != nil {
			p.metrics.SinkErrors.WithLabelValues(s.Name()).Inc()
			logger.Error("sink write failed", "sink", s.Name(), "error", err)
			return fmt.Errorf("write %s: %w", s.Name(), err)
		}
		p.metrics.RowsWritten.WithLabelValues(s.Name()).Add(float64(rows))
		logger.Info("sink written", "sink", s.Name(), "rows", rows)
	}
	return nil
}

func countHits(m *observability.Metrics, rec domain.OverlapRecord) {
	for _, k := range []domain.ObjectKind{domain.KindAR, domain.KindFront, domain.KindVortex, domain.KindCompanion} {
		if rec.Near(k) {
			m.OverlapHits.WithLabelValues(string(k)).Inc()
		}
	}
	if rec.Triple {
		m.OverlapHits.WithLabelValues("triple").Inc()
	}
}

// groupByTime buckets every point by its discretized timestamp, ascending.
// Within a bucket points keep track order.
func groupByTime(trackSet []domain.Track) []group {
	byTime := make(map[time.Time]int)
	var groups []group
	for ti, t := range trackSet {
		for pi, pt := range t.Points {
			ts := domain.Discretize(pt.Time)
			gi, ok := byTime[ts]
			if !ok {
				gi = len(groups)
				byTime[ts] = gi
				groups = append(groups, group{time: ts})
			}
			groups[gi].pts = append(groups[gi].pts, pt)
			groups[gi].refs = append(groups[gi].refs, ref{track: ti, point: pi})
		}
	}
	slices.SortFunc(groups, func(a, b group) int { return a.time.Compare(b.time) })
	return groups
}

// cloneTracks copies the track set and gives every track a neutral overlap
// slot per point, so the caller's tracks are never mutated.
func cloneTracks(in []domain.Track) []domain.Track {
	out := make([]domain.Track, len(in))
	for i, t := range in {
		out[i] = domain.Track{
			ID:       t.ID,
			Declared: t.Declared,
			Points:   slices.Clone(t.Points),
			Overlap:  make([]domain.OverlapRecord, len(t.Points)),
		}
		for j := range out[i].Overlap {
			out[i].Overlap[j] = domain.NoOverlap()
		}
	}
	return out
}

func pointCount(ts []domain.Track) int {
	n := 0
	for _, t := range ts {
		n += len(t.Points)
	}
	return n
}
