// Package ingest loads every run input up front: candidate tracks, the
// companion observations, the gridded object fields and the land mask.
//
// A file that cannot be opened or decoded fails the whole load. Malformed
// lines inside the text inputs are skipped and counted.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/storm-overlap-engine/internal/adapter/netcdf"
	"github.com/couchcryptid/storm-overlap-engine/internal/config"
	"github.com/couchcryptid/storm-overlap-engine/internal/domain"
	"github.com/couchcryptid/storm-overlap-engine/internal/grid"
	"github.com/couchcryptid/storm-overlap-engine/internal/observability"
	"github.com/couchcryptid/storm-overlap-engine/internal/overlap"
	"github.com/couchcryptid/storm-overlap-engine/internal/tracks"
)

// ErrUnreadableInput wraps every whole-file input failure.
var ErrUnreadableInput = errors.New("unreadable input")

// Inputs are the decoded, immutable inputs of one run.
type Inputs struct {
	Tracks  []domain.Track
	Dialect tracks.Dialect
	Sources overlap.Sources
	Mask    *grid.LandMask
}

// Loader reads inputs named by a Config.
type Loader struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewLoader creates a Loader.
func NewLoader(cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) *Loader {
	return &Loader{cfg: cfg, logger: logger, metrics: metrics}
}

// Load reads all configured inputs. Gridded files are decoded concurrently.
func (l *Loader) Load(ctx context.Context) (*Inputs, error) {
	res, err := l.loadTracks(l.cfg.TracksPath)
	if err != nil {
		return nil, err
	}
	in := &Inputs{
		Tracks:  res.Tracks,
		Dialect: res.Dialect,
		Sources: overlap.Sources{Fields: make(map[domain.ObjectKind]*grid.Field)},
	}

	if l.cfg.CompanionPath != "" {
		c, err := l.loadCompanions(splitPaths(l.cfg.CompanionPath))
		if err != nil {
			return nil, err
		}
		in.Sources.Companion = c
	}

	fields := make([]*grid.Field, len(domain.GriddedKinds))
	g, ctx := errgroup.WithContext(ctx)
	for i, k := range domain.GriddedKinds {
		path := l.cfg.FieldPath(k)
		if path == "" {
			continue
		}
		variable := l.cfg.FieldVariable(k)
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			f, err := netcdf.OpenField(path, k, variable)
			if err != nil {
				return fmt.Errorf("%w: %w", ErrUnreadableInput, err)
			}
			fields[i] = f
			l.metrics.FieldsLoaded.WithLabelValues(string(k)).Inc()
			l.logger.Info("field loaded",
				"kind", k, "path", path, "variable", variable,
				"times", len(f.Times), "lat", len(f.Lat), "lon", len(f.Lon))
			return nil
		})
	}
	if l.cfg.LandMaskPath != "" {
		g.Go(func() error {
			m, err := netcdf.OpenLandMask(l.cfg.LandMaskPath, l.cfg.LandMaskVariable)
			if err != nil {
				return fmt.Errorf("%w: %w", ErrUnreadableInput, err)
			}
			in.Mask = m
			l.logger.Info("land mask loaded", "path", l.cfg.LandMaskPath)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	for i, k := range domain.GriddedKinds {
		if fields[i] != nil {
			in.Sources.Fields[k] = fields[i]
		}
	}
	return in, nil
}

// loadTracks parses the track file at path. It fails with tracks.ErrNoTracks
// when nothing valid was parsed.
func (l *Loader) loadTracks(path string) (tracks.Result, error) {
	res, err := parseFile(path, tracks.Parse)
	if err != nil {
		return tracks.Result{}, err
	}
	l.recordParse("tracks", path, res)
	if len(res.Tracks) == 0 || res.Points() == 0 {
		return tracks.Result{}, unreadable(path, tracks.ErrNoTracks)
	}
	l.logger.Info("tracks loaded",
		"path", path, "dialect", res.Dialect.String(),
		"tracks", len(res.Tracks), "points", res.Points(), "skipped", len(res.Skipped))
	return res, nil
}

func (l *Loader) loadCompanions(paths []string) (*overlap.Companions, error) {
	results := make([]tracks.Result, 0, len(paths))
	for _, path := range paths {
		res, err := parseFile(path, tracks.ParseNodes)
		if err != nil {
			return nil, err
		}
		l.recordParse("companion", path, res)
		results = append(results, res)
	}
	blocks := tracks.MergeNodeBlocks(results...)
	l.logger.Info("companion loaded", "files", len(paths), "timestamps", len(blocks))
	return overlap.NewCompanions(blocks...), nil
}

func (l *Loader) recordParse(input, path string, res tracks.Result) {
	l.metrics.TrackPointsParsed.WithLabelValues(input).Add(float64(res.Points()))
	if len(res.Skipped) == 0 {
		return
	}
	l.metrics.MalformedLines.WithLabelValues(input).Add(float64(len(res.Skipped)))
	for _, s := range res.Skipped {
		l.logger.Debug("skipped malformed line", "input", input, "path", path, "line", s.Line, "reason", s.Reason)
	}
	l.logger.Warn("malformed lines skipped", "input", input, "path", path, "count", len(res.Skipped))
}

func parseFile(path string, parse func(io.Reader) (tracks.Result, error)) (tracks.Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return tracks.Result{}, fmt.Errorf("%w: %w", ErrUnreadableInput, err)
	}
	defer f.Close()

	res, err := parse(f)
	if err != nil {
		return tracks.Result{}, unreadable(path, err)
	}
	return res, nil
}

func unreadable(path string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrUnreadableInput, path, err)
}

func splitPaths(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
