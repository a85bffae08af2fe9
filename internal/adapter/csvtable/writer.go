// Package csvtable writes the overlap, persistent and transient tables and
// the optional overlap-cell table as CSV, and reads them back for validation.
package csvtable

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"github.com/couchcryptid/storm-overlap-engine/internal/domain"
)

// TimeLayout is the timestamp format of every table.
const TimeLayout = "2006-01-02 15:04:05"

// RowHeader is the column order of the overlap, persistent and transient tables.
var RowHeader = []string{
	"track_id", "time", "lat", "lon", "value",
	"near_ar", "near_front", "near_vortex", "near_companion",
	"triple_overlap", "companion_value", "resolved", "class",
}

// CellHeader is the column order of the overlap-cell table.
var CellHeader = []string{"time", "lat", "lon"}

// Files names the tables inside the output directory.
type Files struct {
	Overlap    string
	Persistent string
	Transient  string
	Cells      string
}

// Writer writes all tables of a run into one directory. Every table is
// written to a temp file first; none is renamed into place unless all of
// them were written, and a failed rename restores the tables already
// replaced.
type Writer struct {
	dir         string
	files       Files
	exportCells bool
}

// NewWriter creates a Writer.
func NewWriter(dir string, files Files, exportCells bool) *Writer {
	return &Writer{dir: dir, files: files, exportCells: exportCells}
}

// Name identifies the sink in logs and metrics.
func (w *Writer) Name() string { return "csv" }

type table struct {
	name    string
	header  []string
	records [][]string
}

// Write renders res into the configured tables.
func (w *Writer) Write(ctx context.Context, res *domain.RunResult) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	rows := res.Rows()
	persistent, transient := domain.Partition(rows)
	tables := []table{
		{w.files.Overlap, RowHeader, rowRecords(rows)},
		{w.files.Persistent, RowHeader, rowRecords(persistent)},
		{w.files.Transient, RowHeader, rowRecords(transient)},
	}
	if w.exportCells {
		tables = append(tables, table{w.files.Cells, CellHeader, cellRecords(res.Cells)})
	}

	temps := make([]string, 0, len(tables))
	cleanup := func() {
		for _, t := range temps {
			_ = os.Remove(t)
		}
	}
	for _, t := range tables {
		if err := ctx.Err(); err != nil {
			cleanup()
			return err
		}
		tmp, err := writeTemp(w.dir, t)
		if err != nil {
			cleanup()
			return fmt.Errorf("write %s: %w", t.name, err)
		}
		temps = append(temps, tmp)
	}

	if err := commit(w.dir, tables, temps); err != nil {
		cleanup()
		return err
	}
	return nil
}

// swap records one table moved into place. backup is the previous table,
// empty when there was none.
type swap struct {
	target string
	backup string
}

// commit renames every temp file onto its table. Existing tables are moved
// aside first so that a failure part way can put them back.
func commit(dir string, tables []table, temps []string) error {
	done := make([]swap, 0, len(tables))
	for i, t := range tables {
		s := swap{target: filepath.Join(dir, t.name)}
		backup, err := moveAside(dir, s.target)
		if err != nil {
			rollback(done)
			return fmt.Errorf("back up %s: %w", t.name, err)
		}
		s.backup = backup
		if err := os.Rename(temps[i], s.target); err != nil {
			if s.backup != "" {
				_ = os.Rename(s.backup, s.target)
			}
			rollback(done)
			return fmt.Errorf("rename %s: %w", t.name, err)
		}
		done = append(done, s)
	}
	for _, s := range done {
		if s.backup != "" {
			_ = os.Remove(s.backup)
		}
	}
	return nil
}

// moveAside renames an existing regular table out of the way and returns its
// new path. A directory in the way is not moved.
func moveAside(dir, target string) (string, error) {
	info, err := os.Lstat(target)
	if errors.Is(err, os.ErrNotExist) || (err == nil && info.IsDir()) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	backup := filepath.Join(dir, "."+filepath.Base(target)+".bak-"+strconv.FormatInt(info.ModTime().UnixNano(), 36))
	if err := os.Rename(target, backup); err != nil {
		return "", err
	}
	return backup, nil
}

// rollback undoes done in reverse order.
func rollback(done []swap) {
	for i := len(done) - 1; i >= 0; i-- {
		s := done[i]
		if s.backup == "" {
			_ = os.Remove(s.target)
			continue
		}
		_ = os.Rename(s.backup, s.target)
	}
}

func writeTemp(dir string, t table) (string, error) {
	if t.name == "" {
		return "", errors.New("empty table file name")
	}
	f, err := os.CreateTemp(dir, "."+t.name+".tmp-*")
	if err != nil {
		return "", err
	}
	cw := csv.NewWriter(f)
	_ = cw.Write(t.header)
	_ = cw.WriteAll(t.records)
	if err := cw.Error(); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

func rowRecords(rows []domain.Row) [][]string {
	out := make([][]string, len(rows))
	for i, r := range rows {
		o := r.Overlap
		out[i] = []string{
			strconv.Itoa(r.Point.TrackID),
			r.Point.Time.UTC().Format(TimeLayout),
			formatFloat(r.Point.Lat),
			formatFloat(r.Point.Lon),
			formatFloat(r.Point.Value),
			strconv.FormatBool(o.NearAR),
			strconv.FormatBool(o.NearFront),
			strconv.FormatBool(o.NearVortex),
			strconv.FormatBool(o.NearCompanion),
			strconv.FormatBool(o.Triple),
			formatFloat(o.CompanionValue),
			strconv.FormatBool(o.Resolved),
			r.Class.Label(),
		}
	}
	return out
}

func cellRecords(cells []domain.OverlapCell) [][]string {
	out := make([][]string, len(cells))
	for i, c := range cells {
		out[i] = []string{c.Time.UTC().Format(TimeLayout), formatFloat(c.Lat), formatFloat(c.Lon)}
	}
	return out
}

// formatFloat renders NaN as an empty cell.
func formatFloat(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
