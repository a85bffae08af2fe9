// Package overlap decides, per timestep, whether track points are co-located
// with AR, frontal and vortex objects and attaches the nearest companion
// observation.
package overlap

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/couchcryptid/storm-overlap-engine/internal/domain"
	"github.com/couchcryptid/storm-overlap-engine/internal/geo"
	"github.com/couchcryptid/storm-overlap-engine/internal/grid"
	"github.com/couchcryptid/storm-overlap-engine/internal/spatial"
	"github.com/couchcryptid/storm-overlap-engine/internal/timealign"
)

// Variant selects how the triple flag is combined.
type Variant string

const (
	// VariantObjects ANDs the per-kind proximity flags.
	VariantObjects Variant = "objects"
	// VariantBlobs requires proximity to a merged triple-overlap cell.
	VariantBlobs Variant = "blobs"
)

// ParseVariant maps a configuration token to a Variant.
func ParseVariant(s string) (Variant, error) {
	switch v := Variant(strings.ToLower(strings.TrimSpace(s))); v {
	case VariantObjects, VariantBlobs:
		return v, nil
	}
	return "", fmt.Errorf("unknown overlap variant %q", s)
}

// DefaultRequired are the kinds ANDed into the triple flag by default.
var DefaultRequired = []domain.ObjectKind{domain.KindAR, domain.KindFront, domain.KindVortex}

// Config is the immutable evaluator configuration.
type Config struct {
	Metric    geo.Metric
	RadiusDeg float64
	Aligner   timealign.Aligner
	Required  []domain.ObjectKind
	Variant   Variant
	Grid      grid.Options
	CacheSize int
}

// Sources are the loaded upstream inputs. Fields not listed are treated as
// absent and their flags stay false.
type Sources struct {
	Fields    map[domain.ObjectKind]*grid.Field
	Companion *Companions
}

// Outcome is the evaluation of one timestamp.
type Outcome struct {
	Records  []domain.OverlapRecord
	Resolved bool
	// Missing lists kinds whose time axis had no match for the timestamp.
	Missing []domain.ObjectKind
	// Empty lists kinds whose object set had no active cells.
	Empty []domain.ObjectKind
}

// Evaluator runs the per-timestamp overlap test. It is safe for concurrent
// use; each call is independent of every other.
type Evaluator struct {
	cfg       Config
	fields    map[domain.ObjectKind]*grid.Field
	kinds     []domain.ObjectKind // gridded kinds with a loaded field
	companion *Companions
	cache     *indexCache
}

const mergedKind domain.ObjectKind = "merged"

// NewEvaluator validates cfg against the loaded sources.
func NewEvaluator(cfg Config, src Sources) (*Evaluator, error) {
	if cfg.Metric == nil {
		cfg.Metric = geo.New(geo.Planar)
	}
	if cfg.RadiusDeg <= 0 {
		return nil, errors.New("overlap radius must be positive")
	}
	if len(cfg.Required) == 0 {
		cfg.Required = DefaultRequired
	}
	if cfg.Variant == "" {
		cfg.Variant = VariantObjects
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 256
	}

	e := &Evaluator{
		cfg:       cfg,
		fields:    make(map[domain.ObjectKind]*grid.Field),
		companion: src.Companion,
		cache:     newIndexCache(cfg.CacheSize),
	}
	for _, k := range domain.GriddedKinds {
		if f := src.Fields[k]; f != nil {
			e.fields[k] = f
			e.kinds = append(e.kinds, k)
		}
	}

	for _, k := range cfg.Required {
		if k == domain.KindCompanion {
			if e.companion == nil {
				return nil, errors.New("companion is required but no companion source is loaded")
			}
			continue
		}
		if e.fields[k] == nil {
			return nil, fmt.Errorf("required field %s is not loaded", k)
		}
	}
	if cfg.Variant == VariantBlobs {
		for _, k := range domain.GriddedKinds {
			if e.fields[k] == nil {
				return nil, fmt.Errorf("blobs variant needs the %s field", k)
			}
		}
	}
	return e, nil
}

// Config returns the effective configuration.
func (e *Evaluator) Config() Config { return e.cfg }

// CacheStats returns cumulative index cache hits and misses.
func (e *Evaluator) CacheStats() (hits, misses int64) { return e.cache.stats() }

// Evaluate computes an OverlapRecord for every point, all of which share
// timestamp ts. Records are returned in input order.
func (e *Evaluator) Evaluate(ts time.Time, pts []domain.TrackPoint) Outcome {
	out := Outcome{Records: make([]domain.OverlapRecord, len(pts))}
	for i := range out.Records {
		out.Records[i] = domain.NoOverlap()
	}

	resolved := make(map[domain.ObjectKind]int, len(e.kinds))
	for _, k := range e.kinds {
		if ti, ok := e.cfg.Aligner.Resolve(ts, e.fields[k].Times); ok {
			resolved[k] = ti
		} else {
			out.Missing = append(out.Missing, k)
		}
	}
	compIdx, compOK := -1, false
	if e.companion != nil {
		// Companion minima are only ever attached at their own timestamp.
		compIdx, compOK = timealign.Aligner{Policy: timealign.Strict}.Resolve(ts, e.companion.Times)
		if !compOK {
			out.Missing = append(out.Missing, domain.KindCompanion)
		}
	}

	for _, k := range e.cfg.Required {
		_, ok := resolved[k]
		if k == domain.KindCompanion {
			ok = compOK
		}
		if !ok {
			return out
		}
	}
	out.Resolved = true

	queries := make([]spatial.Site, len(pts))
	for i, p := range pts {
		queries[i] = spatial.Site{Lat: p.Lat, Lon: p.Lon}
		out.Records[i].Resolved = true
	}

	for _, k := range e.kinds {
		ti, ok := resolved[k]
		if !ok {
			continue
		}
		idx := e.fieldIndex(k, ti)
		if idx.Empty() {
			out.Empty = append(out.Empty, k)
			continue
		}
		for i, near := range idx.WithinAll(queries, e.cfg.RadiusDeg) {
			out.Records[i].SetNear(k, near)
		}
	}

	if compOK {
		idx := e.cache.getOrBuild(cacheKey(domain.KindCompanion, compIdx), func() *spatial.Index {
			return spatial.New(e.cfg.Metric, e.companion.Sites[compIdx])
		})
		if idx.Empty() {
			out.Empty = append(out.Empty, domain.KindCompanion)
		} else {
			r := idx.Radius(e.cfg.RadiusDeg)
			for i, q := range queries {
				n, ok := idx.Nearest(q.Lat, q.Lon)
				if !ok {
					continue
				}
				out.Records[i].CompanionValue = idx.Site(n.Index).Value
				out.Records[i].NearCompanion = n.Distance <= r
			}
		}
	}

	switch e.cfg.Variant {
	case VariantBlobs:
		merged := spatial.Empty
		arT, arOK := resolved[domain.KindAR]
		frontT, frontOK := resolved[domain.KindFront]
		vortexT, vortexOK := resolved[domain.KindVortex]
		if arOK && frontOK && vortexOK {
			merged = e.mergedIndex(arT, frontT, vortexT)
		}
		near := merged.WithinAll(queries, e.cfg.RadiusDeg)
		for i := range out.Records {
			out.Records[i].Triple = near[i] && (!slices.Contains(e.cfg.Required, domain.KindCompanion) || out.Records[i].NearCompanion)
		}
	default:
		for i := range out.Records {
			triple := true
			for _, k := range e.cfg.Required {
				triple = triple && out.Records[i].Near(k)
			}
			out.Records[i].Triple = triple
		}
	}
	return out
}

func (e *Evaluator) fieldIndex(k domain.ObjectKind, ti int) *spatial.Index {
	return e.cache.getOrBuild(cacheKey(k, ti), func() *spatial.Index {
		return grid.BuildIndex(e.fields[k], ti, e.cfg.Metric, e.cfg.Grid)
	})
}
