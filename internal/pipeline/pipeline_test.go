package pipeline_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/couchcryptid/storm-overlap-engine/internal/domain"
	"github.com/couchcryptid/storm-overlap-engine/internal/observability"
	"github.com/couchcryptid/storm-overlap-engine/internal/overlap"
	"github.com/couchcryptid/storm-overlap-engine/internal/pipeline"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- fakes ---

// fakeEvaluator flags points as triple when their timestamp is listed in
// triple, and reports timestamps listed in unresolved as unaligned.
type fakeEvaluator struct {
	triple     map[time.Time]bool
	unresolved map[time.Time]bool
	cells      []domain.OverlapCell
	calls      atomic.Int64
}

func (f *fakeEvaluator) Evaluate(ts time.Time, pts []domain.TrackPoint) overlap.Outcome {
	f.calls.Add(1)
	out := overlap.Outcome{Records: make([]domain.OverlapRecord, len(pts))}
	for i := range out.Records {
		out.Records[i] = domain.NoOverlap()
	}
	if f.unresolved[ts] {
		out.Missing = []domain.ObjectKind{domain.KindFront}
		return out
	}
	out.Resolved = true
	for i, p := range pts {
		hit := f.triple[ts]
		out.Records[i] = domain.OverlapRecord{
			NearAR:         hit,
			NearFront:      hit,
			NearVortex:     hit,
			Triple:         hit,
			CompanionValue: float64(p.TrackID),
			Resolved:       true,
		}
	}
	return out
}

func (f *fakeEvaluator) CacheStats() (int64, int64) { return 3, 1 }

func (f *fakeEvaluator) OverlapCells() []domain.OverlapCell { return f.cells }

type recordingSink struct {
	name string
	err  error

	mu      sync.Mutex
	results []*domain.RunResult
}

func (s *recordingSink) Name() string { return s.name }

func (s *recordingSink) Write(_ context.Context, res *domain.RunResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.results = append(s.results, res)
	return nil
}

var t0 = time.Date(1979, time.January, 2, 0, 0, 0, 0, time.UTC)

func at(step int) time.Time { return t0.Add(time.Duration(step) * 6 * time.Hour) }

func track(id int, steps ...int) domain.Track {
	t := domain.Track{ID: id, Declared: len(steps)}
	for _, s := range steps {
		t.Points = append(t.Points, domain.TrackPoint{TrackID: id, Time: at(s), Lat: 35, Lon: -100})
	}
	return t
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// --- tests ---

func TestPipeline_Run_HappyPath(t *testing.T) {
	eval := &fakeEvaluator{triple: map[time.Time]bool{at(0): true, at(1): true}}
	sink := &recordingSink{name: "csv"}
	p := pipeline.New(eval, []pipeline.Sink{sink}, discard(), observability.NewUnregisteredMetrics(), pipeline.Options{Workers: 4})

	require.Error(t, p.CheckReadiness(context.Background()))
	assert.Nil(t, p.LastRun())

	in := []domain.Track{track(1, 0, 1, 2), track(2, 2, 3)}
	res, err := p.Run(context.Background(), in)
	require.NoError(t, err)

	assert.Equal(t, domain.Persistent, res.Classes[1])
	assert.Equal(t, domain.Transient, res.Classes[2])
	assert.EqualValues(t, 4, eval.calls.Load(), "one evaluation per distinct timestamp")

	require.Len(t, res.Tracks[0].Overlap, 3)
	assert.True(t, res.Tracks[0].Overlap[0].Triple)
	assert.False(t, res.Tracks[0].Overlap[2].Triple)
	assert.Equal(t, 2.0, res.Tracks[1].Overlap[0].CompanionValue)

	require.Len(t, sink.results, 1)
	assert.Same(t, res, sink.results[0])

	require.NoError(t, p.CheckReadiness(context.Background()))
	sum := p.LastRun()
	require.NotNil(t, sum)
	assert.Equal(t, res.RunID, sum.RunID)
	assert.Equal(t, 2, sum.Tracks)
	assert.Equal(t, 5, sum.Points)
	assert.Equal(t, 4, sum.Timestamps)
	assert.Equal(t, 1, sum.Persistent)
	assert.Equal(t, 1, sum.Transient)
	assert.Equal(t, []string{"adjacent-pair", "window-3-of-4"}, sum.Rules)
}

func TestPipeline_Run_DoesNotMutateInput(t *testing.T) {
	p := pipeline.New(&fakeEvaluator{}, nil, discard(), observability.NewUnregisteredMetrics(), pipeline.Options{})
	in := []domain.Track{track(1, 0, 1)}

	_, err := p.Run(context.Background(), in)
	require.NoError(t, err)
	assert.Nil(t, in[0].Overlap)
}

func TestPipeline_Run_UnresolvedTimestampIsNeutral(t *testing.T) {
	eval := &fakeEvaluator{
		triple:     map[time.Time]bool{at(0): true, at(1): true, at(2): true},
		unresolved: map[time.Time]bool{at(1): true},
	}
	p := pipeline.New(eval, nil, discard(), observability.NewUnregisteredMetrics(), pipeline.Options{Workers: 2})

	res, err := p.Run(context.Background(), []domain.Track{track(1, 0, 1, 2)})
	require.NoError(t, err)

	rec := res.Tracks[0].Overlap[1]
	assert.False(t, rec.Resolved)
	assert.False(t, rec.Triple)
	assert.True(t, math.IsNaN(rec.CompanionValue))
	assert.Equal(t, domain.Transient, res.Classes[1], "the gap breaks every adjacent pair")
	assert.Equal(t, 1, p.LastRun().Unresolved)
}

func TestPipeline_Run_SustainedRule(t *testing.T) {
	eval := &fakeEvaluator{triple: map[time.Time]bool{at(0): true, at(2): true}}
	p := pipeline.New(eval, nil, discard(), observability.NewUnregisteredMetrics(), pipeline.Options{SustainHours: 12})

	res, err := p.Run(context.Background(), []domain.Track{track(1, 0, 1, 2, 3)})
	require.NoError(t, err)
	assert.Equal(t, domain.Transient, res.Classes[1])
	assert.Contains(t, p.LastRun().Rules, "sustained-2")
}

func TestPipeline_Run_SinkFailure(t *testing.T) {
	boom := errors.New("disk full")
	failing := &recordingSink{name: "csv", err: boom}
	after := &recordingSink{name: "sqlite"}
	p := pipeline.New(&fakeEvaluator{}, []pipeline.Sink{failing, after}, discard(), observability.NewUnregisteredMetrics(), pipeline.Options{})

	_, err := p.Run(context.Background(), []domain.Track{track(1, 0)})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "csv")
	assert.Empty(t, after.results)
	assert.Error(t, p.CheckReadiness(context.Background()))
}

func TestPipeline_Run_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sink := &recordingSink{name: "csv"}
	p := pipeline.New(&fakeEvaluator{}, []pipeline.Sink{sink}, discard(), observability.NewUnregisteredMetrics(), pipeline.Options{})
	_, err := p.Run(ctx, []domain.Track{track(1, 0, 1)})
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, sink.results)
}

func TestPipeline_Run_ExportCells(t *testing.T) {
	cells := []domain.OverlapCell{{Time: at(0), Lat: 35, Lon: -100}}
	eval := &fakeEvaluator{cells: cells}

	p := pipeline.New(eval, nil, discard(), observability.NewUnregisteredMetrics(), pipeline.Options{ExportCells: true})
	res, err := p.Run(context.Background(), []domain.Track{track(1, 0)})
	require.NoError(t, err)
	assert.Equal(t, cells, res.Cells)

	p = pipeline.New(eval, nil, discard(), observability.NewUnregisteredMetrics(), pipeline.Options{})
	res, err = p.Run(context.Background(), []domain.Track{track(1, 0)})
	require.NoError(t, err)
	assert.Nil(t, res.Cells)
}

func TestPipeline_Run_FrozenClock(t *testing.T) {
	frozen := time.Date(2024, time.April, 27, 6, 0, 0, 0, time.UTC)
	domain.SetClock(clockwork.NewFakeClockAt(frozen))
	defer domain.SetClock(nil)

	p := pipeline.New(&fakeEvaluator{}, nil, discard(), observability.NewUnregisteredMetrics(), pipeline.Options{})
	res, err := p.Run(context.Background(), []domain.Track{track(1, 0)})
	require.NoError(t, err)
	assert.Equal(t, frozen, res.StartedAt)
	assert.Equal(t, "0s", p.LastRun().Duration)
}

func TestPipeline_Run_WorkerCountDoesNotChangeResult(t *testing.T) {
	var in []domain.Track
	for id := 1; id <= 20; id++ {
		in = append(in, track(id, id%3, id%3+1, id%3+2, id%3+3))
	}
	triple := map[time.Time]bool{at(1): true, at(2): true, at(4): true}

	run := func(workers int) *domain.RunResult {
		p := pipeline.New(&fakeEvaluator{triple: triple}, nil, discard(), observability.NewUnregisteredMetrics(), pipeline.Options{Workers: workers})
		res, err := p.Run(context.Background(), in)
		require.NoError(t, err)
		return res
	}

	ignore := cmpopts.IgnoreFields(domain.RunResult{}, "RunID", "StartedAt")
	if diff := cmp.Diff(run(1), run(8), ignore, cmpopts.EquateNaNs()); diff != "" {
		t.Errorf("result depends on worker count (-1 +8):\n%s", diff)
	}
}
