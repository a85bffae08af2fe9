package config

import (
	"runtime"
	"testing"
	"time"

	"github.com/couchcryptid/storm-overlap-engine/internal/domain"
	"github.com/couchcryptid/storm-overlap-engine/internal/geo"
	"github.com/couchcryptid/storm-overlap-engine/internal/overlap"
	"github.com/couchcryptid/storm-overlap-engine/internal/timealign"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Empty(t, cfg.TracksPath)
	assert.Equal(t, "object_id", cfg.ARVariable)
	assert.Equal(t, "binary_tag", cfg.FrontVariable)
	assert.Equal(t, "object_id", cfg.VortexVariable)
	assert.Equal(t, "LSM", cfg.LandMaskVariable)
	assert.Equal(t, ".", cfg.OutputDir)
	assert.Equal(t, "overlap.csv", cfg.OverlapFile)
	assert.Equal(t, "persistent.csv", cfg.PersistentFile)
	assert.Equal(t, "transient.csv", cfg.TransientFile)
	assert.False(t, cfg.ExportCells)
	assert.Empty(t, cfg.KafkaBrokers)
	assert.Equal(t, "classified-tracks", cfg.KafkaTopic)
	assert.Equal(t, 0.5, cfg.RadiusDeg)
	assert.Equal(t, geo.Planar, cfg.MetricMode)
	assert.Equal(t, timealign.Strict, cfg.TimePolicy)
	assert.Equal(t, time.Duration(0), cfg.SnapTolerance)
	assert.Equal(t, overlap.DefaultRequired, cfg.Required)
	assert.Equal(t, overlap.VariantObjects, cfg.Variant)
	assert.False(t, cfg.Bounds.Set)
	assert.Equal(t, 0.0, cfg.SustainHours)
	assert.Equal(t, runtime.GOMAXPROCS(0), cfg.Workers)
	assert.Equal(t, 256, cfg.CacheSize)
	assert.Empty(t, cfg.HTTPAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
}

func TestLoad_CustomEnv(t *testing.T) {
	t.Setenv("TRACKS_PATH", "/data/tracks.txt")
	t.Setenv("AR_PATH", "/data/ar.nc")
	t.Setenv("FRONT_VARIABLE", "object_id")
	t.Setenv("OVERLAP_RADIUS_DEG", "1.25")
	t.Setenv("METRIC_MODE", "spherical")
	t.Setenv("TIME_POLICY", "snap")
	t.Setenv("SNAP_TOLERANCE", "3h")
	t.Setenv("REQUIRED_OBJECTS", "ar, companion, ar")
	t.Setenv("OVERLAP_VARIANT", "blobs")
	t.Setenv("BOUNDS_NORTH", "60")
	t.Setenv("BOUNDS_SOUTH", "20")
	t.Setenv("BOUNDS_EAST", "-120")
	t.Setenv("BOUNDS_WEST", "160")
	t.Setenv("PERSIST_SUSTAIN_HOURS", "12")
	t.Setenv("WORKERS", "3")
	t.Setenv("INDEX_CACHE_SIZE", "32")
	t.Setenv("KAFKA_BROKERS", "broker1:9092, broker2:9092")
	t.Setenv("SQLITE_PATH", "/tmp/overlap.db")
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "text")
	t.Setenv("SHUTDOWN_TIMEOUT", "30s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/data/tracks.txt", cfg.TracksPath)
	assert.Equal(t, "/data/ar.nc", cfg.FieldPath(domain.KindAR))
	assert.Equal(t, "object_id", cfg.FieldVariable(domain.KindFront))
	assert.Equal(t, 1.25, cfg.RadiusDeg)
	assert.Equal(t, geo.Spherical, cfg.MetricMode)
	assert.Equal(t, timealign.Aligner{Policy: timealign.Snap, Tolerance: 3 * time.Hour}, cfg.Aligner())
	assert.Equal(t, []domain.ObjectKind{domain.KindAR, domain.KindCompanion}, cfg.Required)
	assert.Equal(t, overlap.VariantBlobs, cfg.Variant)
	assert.True(t, cfg.ExportCells, "blobs variant always exports cells")
	assert.True(t, cfg.Bounds.Contains(40, 179))
	assert.False(t, cfg.Bounds.Contains(40, 0))
	assert.Equal(t, 12.0, cfg.SustainHours)
	assert.Equal(t, 3, cfg.Workers)
	assert.Equal(t, 32, cfg.CacheSize)
	assert.Equal(t, []string{"broker1:9092", "broker2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "/tmp/overlap.db", cfg.SQLitePath)
	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		key, value, want string
	}{
		{"OVERLAP_RADIUS_DEG", "0", "OVERLAP_RADIUS_DEG"},
		{"OVERLAP_RADIUS_DEG", "wide", "OVERLAP_RADIUS_DEG"},
		{"METRIC_MODE", "mercator", "METRIC_MODE"},
		{"TIME_POLICY", "fuzzy", "TIME_POLICY"},
		{"SNAP_TOLERANCE", "-1h", "SNAP_TOLERANCE"},
		{"REQUIRED_OBJECTS", "ar,jet", "REQUIRED_OBJECTS"},
		{"REQUIRED_OBJECTS", " , ", "REQUIRED_OBJECTS"},
		{"OVERLAP_VARIANT", "pixels", "OVERLAP_VARIANT"},
		{"PERSIST_SUSTAIN_HOURS", "-6", "PERSIST_SUSTAIN_HOURS"},
		{"WORKERS", "0", "WORKERS"},
		{"INDEX_CACHE_SIZE", "many", "INDEX_CACHE_SIZE"},
		{"EXPORT_OVERLAP_CELLS", "maybe", "EXPORT_OVERLAP_CELLS"},
		{"SHUTDOWN_TIMEOUT", "not-a-duration", "SHUTDOWN_TIMEOUT"},
		{"SHUTDOWN_TIMEOUT", "-1s", "SHUTDOWN_TIMEOUT"},
	}
	for _, tc := range tests {
		t.Run(tc.key+"="+tc.value, func(t *testing.T) {
			t.Setenv(tc.key, tc.value)
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestLoad_PartialBounds(t *testing.T) {
	t.Setenv("BOUNDS_NORTH", "60")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be set together")
}

func TestLoad_InvertedBounds(t *testing.T) {
	t.Setenv("BOUNDS_NORTH", "10")
	t.Setenv("BOUNDS_SOUTH", "20")
	t.Setenv("BOUNDS_EAST", "0")
	t.Setenv("BOUNDS_WEST", "10")
	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BOUNDS")
}

func TestValidate(t *testing.T) {
	full := func() *Config {
		return &Config{
			TracksPath: "tracks.txt",
			ARPath:     "ar.nc",
			FrontPath:  "front.nc",
			VortexPath: "vortex.nc",
			Required:   overlap.DefaultRequired,
			Variant:    overlap.VariantObjects,
		}
	}

	require.NoError(t, full().Validate())

	c := full()
	c.TracksPath = ""
	assert.ErrorContains(t, c.Validate(), "TRACKS_PATH")

	c = full()
	c.FrontPath = ""
	assert.ErrorContains(t, c.Validate(), "FRONT_PATH")

	c = full()
	c.Required = []domain.ObjectKind{domain.KindAR, domain.KindCompanion}
	assert.ErrorContains(t, c.Validate(), "COMPANION_PATH")

	c = full()
	c.Required = []domain.ObjectKind{domain.KindAR}
	c.VortexPath = ""
	require.NoError(t, c.Validate())
	c.Variant = overlap.VariantBlobs
	assert.ErrorContains(t, c.Validate(), "VORTEX_PATH")
}
