package pipeline_test

import (
	"context"
	"testing"

	"github.com/couchcryptid/storm-overlap-engine/internal/config"
	"github.com/couchcryptid/storm-overlap-engine/internal/domain"
	"github.com/couchcryptid/storm-overlap-engine/internal/geo"
	"github.com/couchcryptid/storm-overlap-engine/internal/grid"
	"github.com/couchcryptid/storm-overlap-engine/internal/ingest"
	"github.com/couchcryptid/storm-overlap-engine/internal/mockdata"
	"github.com/couchcryptid/storm-overlap-engine/internal/observability"
	"github.com/couchcryptid/storm-overlap-engine/internal/overlap"
	"github.com/couchcryptid/storm-overlap-engine/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runScenario loads the synthetic dataset from disk and runs it end to end.
func runScenario(t *testing.T, mode geo.Mode, withMask bool) *domain.RunResult {
	t.Helper()
	p, err := mockdata.Default().Write(t.TempDir())
	require.NoError(t, err)

	cfg := &config.Config{
		TracksPath:       p.Tracks,
		CompanionPath:    p.Companion,
		ARPath:           p.AR,
		ARVariable:       mockdata.Variables[domain.KindAR],
		FrontPath:        p.Front,
		FrontVariable:    mockdata.Variables[domain.KindFront],
		VortexPath:       p.Vortex,
		VortexVariable:   mockdata.Variables[domain.KindVortex],
		LandMaskVariable: "LSM",
	}
	if withMask {
		cfg.LandMaskPath = p.LandMask
	}
	metrics := observability.NewUnregisteredMetrics()
	in, err := ingest.NewLoader(cfg, discard(), metrics).Load(context.Background())
	require.NoError(t, err)

	eval, err := overlap.NewEvaluator(overlap.Config{
		Metric:    geo.New(mode),
		RadiusDeg: 0.5,
		Grid:      grid.Options{Mask: in.Mask},
	}, in.Sources)
	require.NoError(t, err)

	res, err := pipeline.New(eval, nil, discard(), metrics, pipeline.Options{Workers: 3}).Run(context.Background(), in.Tracks)
	require.NoError(t, err)
	return res
}

func TestScenario_Classification(t *testing.T) {
	want := mockdata.Default().Expected
	for _, mode := range []geo.Mode{geo.Planar, geo.Spherical} {
		t.Run(string(mode), func(t *testing.T) {
			res := runScenario(t, mode, false)
			assert.Equal(t, want, res.Classes)

			persistent, transient := domain.Partition(res.Rows())
			assert.Len(t, persistent, 4)
			assert.Len(t, transient, 5)
		})
	}
}

func TestScenario_RecordsAndCompanion(t *testing.T) {
	res := runScenario(t, geo.Planar, false)

	first := res.Tracks[0].Overlap
	require.Len(t, first, 4)
	for i := 0; i < 3; i++ {
		assert.True(t, first[i].Triple, "step %d", i)
		assert.True(t, first[i].NearCompanion, "step %d", i)
	}
	assert.False(t, first[3].Triple)
	assert.True(t, first[3].Resolved)
	assert.Equal(t, 98800.0, first[3].CompanionValue)

	// Track 2 only ever sits in the AR; the companion value is still attached.
	for _, rec := range res.Tracks[1].Overlap {
		assert.True(t, rec.NearAR)
		assert.False(t, rec.NearFront)
		assert.False(t, rec.Triple)
		assert.False(t, rec.NearCompanion)
		assert.Greater(t, rec.CompanionValue, 98000.0)
	}

	assert.True(t, res.Tracks[2].Overlap[0].Triple)
}

func TestScenario_LandMaskRemovesOverLandObjects(t *testing.T) {
	res := runScenario(t, geo.Planar, true)

	rec := res.Tracks[2].Overlap[0]
	assert.True(t, rec.Resolved)
	assert.False(t, rec.NearAR)
	assert.False(t, rec.Triple)
	assert.Equal(t, domain.Persistent, res.Classes[1], "ocean objects are unaffected")
}
