// Package sqlite archives run results in a SQLite database, one row per
// evaluated track point, keyed by run id.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"math"

	_ "modernc.org/sqlite"

	"github.com/couchcryptid/storm-overlap-engine/internal/domain"
)

// schema.sql creates the runs, overlap_points and overlap_cells tables.
//
//go:embed schema.sql
var schemaSQL string

const timeLayout = "2006-01-02 15:04:05"

// Store is a sink backed by a SQLite database file.
type Store struct {
	db *sql.DB
}

// Open opens (creating when needed) the database at path and applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database.
func (s *Store) Close() error { return s.db.Close() }

// Name identifies the sink in logs and metrics.
func (s *Store) Name() string { return "sqlite" }

// Write stores res in a single transaction.
func (s *Store) Write(ctx context.Context, res *domain.RunResult) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	rows := res.Rows()
	persistent, transient := res.Count()
	if _, err = tx.ExecContext(ctx,
		`INSERT INTO runs (run_id, started_at, tracks, points, persistent, transient) VALUES (?, ?, ?, ?, ?, ?)`,
		res.RunID, res.StartedAt.UTC().Format(timeLayout), len(res.Tracks), len(rows), persistent, transient,
	); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO overlap_points (
			run_id, track_id, time, lat, lon, value,
			near_ar, near_front, near_vortex, near_companion, triple_overlap,
			companion_value, resolved, class
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare points: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		o := r.Overlap
		var companion sql.NullFloat64
		if !math.IsNaN(o.CompanionValue) {
			companion = sql.NullFloat64{Float64: o.CompanionValue, Valid: true}
		}
		if _, err = stmt.ExecContext(ctx,
			res.RunID, r.Point.TrackID, r.Point.Time.UTC().Format(timeLayout),
			r.Point.Lat, r.Point.Lon, r.Point.Value,
			o.NearAR, o.NearFront, o.NearVortex, o.NearCompanion, o.Triple,
			companion, o.Resolved, r.Class.String(),
		); err != nil {
			return fmt.Errorf("insert point %d@%s: %w", r.Point.TrackID, r.Point.Time.Format(timeLayout), err)
		}
	}

	for _, c := range res.Cells {
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO overlap_cells (run_id, time, lat, lon) VALUES (?, ?, ?, ?)`,
			res.RunID, c.Time.UTC().Format(timeLayout), c.Lat, c.Lon,
		); err != nil {
			return fmt.Errorf("insert cell: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// RunCounts returns the stored persistent and transient track counts of a run.
func (s *Store) RunCounts(ctx context.Context, runID string) (persistent, transient int, err error) {
	err = s.db.QueryRowContext(ctx,
		`SELECT persistent, transient FROM runs WHERE run_id = ?`, runID,
	).Scan(&persistent, &transient)
	if err != nil {
		return 0, 0, fmt.Errorf("query run %s: %w", runID, err)
	}
	return persistent, transient, nil
}

// TracksByClass returns the distinct track ids of a run with the given class.
func (s *Store) TracksByClass(ctx context.Context, runID string, class domain.Classification) ([]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT track_id FROM overlap_points WHERE run_id = ? AND class = ? ORDER BY track_id`,
		runID, class.String(),
	)
	if err != nil {
		return nil, fmt.Errorf("query tracks: %w", err)
	}
	defer rows.Close()

	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
