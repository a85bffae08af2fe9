package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/storm-overlap-engine/internal/domain"
	"github.com/couchcryptid/storm-overlap-engine/internal/geo"
	"github.com/couchcryptid/storm-overlap-engine/internal/overlap"
	"github.com/couchcryptid/storm-overlap-engine/internal/timealign"
	"github.com/joho/godotenv"
)

// Config holds all engine settings, populated from environment variables.
// It is not modified after Load returns apart from explicit CLI overrides
// applied before the run starts.
type Config struct {
	// Inputs.
	TracksPath       string
	CompanionPath    string
	ARPath           string
	ARVariable       string
	FrontPath        string
	FrontVariable    string
	VortexPath       string
	VortexVariable   string
	LandMaskPath     string
	LandMaskVariable string

	// Outputs.
	OutputDir      string
	OverlapFile    string
	PersistentFile string
	TransientFile  string
	CellsFile      string
	ExportCells    bool
	SQLitePath     string
	KafkaBrokers   []string
	KafkaTopic     string

	// Evaluation.
	RadiusDeg     float64
	MetricMode    geo.Mode
	TimePolicy    timealign.Policy
	SnapTolerance time.Duration
	Required      []domain.ObjectKind
	Variant       overlap.Variant
	Bounds        domain.Bounds
	SustainHours  float64
	Workers       int
	CacheSize     int

	// Service.
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
}

// Load reads configuration from environment variables, applying defaults
// where unset. A .env file in the working directory is honoured when present.
func Load() (*Config, error) {
	_ = godotenv.Load() // a missing .env is the normal case

	radius, err := parsePositiveFloat("OVERLAP_RADIUS_DEG", "0.5")
	if err != nil {
		return nil, err
	}
	mode, err := geo.ParseMode(envOrDefault("METRIC_MODE", string(geo.Planar)))
	if err != nil {
		return nil, fmt.Errorf("invalid METRIC_MODE: %w", err)
	}
	policy, err := timealign.ParsePolicy(envOrDefault("TIME_POLICY", "strict"))
	if err != nil {
		return nil, fmt.Errorf("invalid TIME_POLICY: %w", err)
	}
	tolerance, err := parseDuration("SNAP_TOLERANCE", "0s", true)
	if err != nil {
		return nil, err
	}
	required, err := parseKinds(envOrDefault("REQUIRED_OBJECTS", "ar,front,vortex"))
	if err != nil {
		return nil, fmt.Errorf("invalid REQUIRED_OBJECTS: %w", err)
	}
	variant, err := overlap.ParseVariant(envOrDefault("OVERLAP_VARIANT", string(overlap.VariantObjects)))
	if err != nil {
		return nil, fmt.Errorf("invalid OVERLAP_VARIANT: %w", err)
	}
	bounds, err := parseBounds()
	if err != nil {
		return nil, err
	}
	sustain, err := strconv.ParseFloat(envOrDefault("PERSIST_SUSTAIN_HOURS", "0"), 64)
	if err != nil || sustain < 0 {
		return nil, errors.New("invalid PERSIST_SUSTAIN_HOURS")
	}
	workers, err := parsePositiveInt("WORKERS", strconv.Itoa(runtime.GOMAXPROCS(0)))
	if err != nil {
		return nil, err
	}
	cacheSize, err := parsePositiveInt("INDEX_CACHE_SIZE", "256")
	if err != nil {
		return nil, err
	}
	exportCells, err := strconv.ParseBool(envOrDefault("EXPORT_OVERLAP_CELLS", "false"))
	if err != nil {
		return nil, errors.New("invalid EXPORT_OVERLAP_CELLS")
	}
	shutdownTimeout, err := parseDuration("SHUTDOWN_TIMEOUT", "10s", false)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		TracksPath:       os.Getenv("TRACKS_PATH"),
		CompanionPath:    os.Getenv("COMPANION_PATH"),
		ARPath:           os.Getenv("AR_PATH"),
		ARVariable:       envOrDefault("AR_VARIABLE", "object_id"),
		FrontPath:        os.Getenv("FRONT_PATH"),
		FrontVariable:    envOrDefault("FRONT_VARIABLE", "binary_tag"),
		VortexPath:       os.Getenv("VORTEX_PATH"),
		VortexVariable:   envOrDefault("VORTEX_VARIABLE", "object_id"),
		LandMaskPath:     os.Getenv("LANDMASK_PATH"),
		LandMaskVariable: envOrDefault("LANDMASK_VARIABLE", "LSM"),

		OutputDir:      envOrDefault("OUTPUT_DIR", "."),
		OverlapFile:    envOrDefault("OVERLAP_FILE", "overlap.csv"),
		PersistentFile: envOrDefault("PERSISTENT_FILE", "persistent.csv"),
		TransientFile:  envOrDefault("TRANSIENT_FILE", "transient.csv"),
		CellsFile:      envOrDefault("CELLS_FILE", "overlap_cells.csv"),
		ExportCells:    exportCells || variant == overlap.VariantBlobs,
		SQLitePath:     os.Getenv("SQLITE_PATH"),
		KafkaBrokers:   parseBrokers(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:     envOrDefault("KAFKA_TOPIC", "classified-tracks"),

		RadiusDeg:     radius,
		MetricMode:    mode,
		TimePolicy:    policy,
		SnapTolerance: tolerance,
		Required:      required,
		Variant:       variant,
		Bounds:        bounds,
		SustainHours:  sustain,
		Workers:       workers,
		CacheSize:     cacheSize,

		HTTPAddr:        os.Getenv("HTTP_ADDR"),
		LogLevel:        envOrDefault("LOG_LEVEL", "info"),
		LogFormat:       envOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,
	}

	if len(cfg.KafkaBrokers) > 0 && cfg.KafkaTopic == "" {
		return nil, errors.New("KAFKA_TOPIC is required when KAFKA_BROKERS is set")
	}
	return cfg, nil
}

// Validate checks that the inputs needed for a run are configured. It is
// separate from Load so CLI flags can fill paths first.
func (c *Config) Validate() error {
	if c.TracksPath == "" {
		return errors.New("TRACKS_PATH is required")
	}
	for _, k := range c.Required {
		if k == domain.KindCompanion {
			if c.CompanionPath == "" {
				return errors.New("COMPANION_PATH is required when companion is a required object")
			}
			continue
		}
		if c.FieldPath(k) == "" {
			return fmt.Errorf("%s_PATH is required when %s is a required object", strings.ToUpper(string(k)), k)
		}
	}
	if c.Variant == overlap.VariantBlobs {
		for _, k := range domain.GriddedKinds {
			if c.FieldPath(k) == "" {
				return fmt.Errorf("%s_PATH is required for the blobs variant", strings.ToUpper(string(k)))
			}
		}
	}
	return nil
}

// FieldPath returns the configured file for a gridded kind.
func (c *Config) FieldPath(k domain.ObjectKind) string {
	switch k {
	case domain.KindAR:
		return c.ARPath
	case domain.KindFront:
		return c.FrontPath
	case domain.KindVortex:
		return c.VortexPath
	}
	return ""
}

// FieldVariable returns the configured mask variable for a gridded kind.
func (c *Config) FieldVariable(k domain.ObjectKind) string {
	switch k {
	case domain.KindAR:
		return c.ARVariable
	case domain.KindFront:
		return c.FrontVariable
	case domain.KindVortex:
		return c.VortexVariable
	}
	return ""
}

// Aligner returns the configured temporal aligner.
func (c *Config) Aligner() timealign.Aligner {
	return timealign.Aligner{Policy: c.TimePolicy, Tolerance: c.SnapTolerance}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseBrokers(s string) []string {
	var out []string
	for _, b := range strings.Split(s, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

func parseKinds(s string) ([]domain.ObjectKind, error) {
	var out []domain.ObjectKind
	seen := make(map[domain.ObjectKind]bool)
	for _, tok := range strings.Split(s, ",") {
		if strings.TrimSpace(tok) == "" {
			continue
		}
		k, err := domain.ParseObjectKind(tok)
		if err != nil {
			return nil, err
		}
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	if len(out) == 0 {
		return nil, errors.New("at least one object kind is required")
	}
	return out, nil
}

func parseBounds() (domain.Bounds, error) {
	keys := []string{"BOUNDS_NORTH", "BOUNDS_SOUTH", "BOUNDS_EAST", "BOUNDS_WEST"}
	var vals [4]float64
	set := 0
	for i, k := range keys {
		s := os.Getenv(k)
		if s == "" {
			continue
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return domain.Bounds{}, fmt.Errorf("invalid %s", k)
		}
		vals[i] = v
		set++
	}
	switch set {
	case 0:
		return domain.Bounds{}, nil
	case len(keys):
		b, err := domain.NewBounds(vals[0], vals[1], vals[2], vals[3])
		if err != nil {
			return domain.Bounds{}, fmt.Errorf("invalid BOUNDS_*: %w", err)
		}
		return b, nil
	default:
		return domain.Bounds{}, errors.New("BOUNDS_NORTH, BOUNDS_SOUTH, BOUNDS_EAST and BOUNDS_WEST must be set together")
	}
}

func parsePositiveFloat(key, def string) (float64, error) {
	v, err := strconv.ParseFloat(envOrDefault(key, def), 64)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return v, nil
}

func parsePositiveInt(key, def string) (int, error) {
	v, err := strconv.Atoi(envOrDefault(key, def))
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return v, nil
}

func parseDuration(key, def string, allowZero bool) (time.Duration, error) {
	d, err := time.ParseDuration(envOrDefault(key, def))
	if err != nil || d < 0 || (d == 0 && !allowZero) {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}
