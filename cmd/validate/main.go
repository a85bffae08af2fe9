// Command validate checks the integrity of the tables written by a run: the
// overlap table must be exactly the union of the persistent and transient
// tables, each track must carry one class, and reclassifying the exported
// triple-overlap flags must reproduce that class.
//
// Usage:
//
//	go run ./cmd/validate -dir results/ [-sustain-hours 24]
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"

	"github.com/couchcryptid/storm-overlap-engine/internal/adapter/csvtable"
	"github.com/couchcryptid/storm-overlap-engine/internal/domain"
	"github.com/couchcryptid/storm-overlap-engine/internal/persistence"
	"github.com/couchcryptid/storm-overlap-engine/internal/tracks"
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

// tables are the three row tables of one run.
type tables struct {
	overlap    []domain.Row
	persistent []domain.Row
	transient  []domain.Row
}

type key struct {
	track int
	time  int64
}

func rowKey(r domain.Row) key { return key{r.Point.TrackID, r.Point.Time.Unix()} }

func main() {
	dir := flag.String("dir", "", "directory holding overlap.csv, persistent.csv and transient.csv")
	overlapFile := flag.String("overlap", "overlap.csv", "overlap table file name")
	persistentFile := flag.String("persistent", "persistent.csv", "persistent table file name")
	transientFile := flag.String("transient", "transient.csv", "transient table file name")
	sustain := flag.Float64("sustain-hours", 0, "sustained-overlap rule used by the run, 0 when disabled")
	flag.Parse()

	if *dir == "" {
		flag.Usage()
		os.Exit(1)
	}

	t, err := load(*dir, *overlapFile, *persistentFile, *transientFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		os.Exit(1)
	}
	if !report(os.Stdout, validate(t, *sustain), t) {
		os.Exit(1)
	}
}

func load(dir, overlapFile, persistentFile, transientFile string) (tables, error) {
	var t tables
	var err error
	if t.overlap, err = csvtable.ReadRows(filepath.Join(dir, overlapFile)); err != nil {
		return t, fmt.Errorf("load overlap table: %w", err)
	}
	if t.persistent, err = csvtable.ReadRows(filepath.Join(dir, persistentFile)); err != nil {
		return t, fmt.Errorf("load persistent table: %w", err)
	}
	if t.transient, err = csvtable.ReadRows(filepath.Join(dir, transientFile)); err != nil {
		return t, fmt.Errorf("load transient table: %w", err)
	}
	return t, nil
}

func validate(t tables, sustainHours float64) []*phase {
	return []*phase{
		validateOrdering(t),
		validateUnion(t),
		validatePartition(t),
		validateRecords(t.overlap),
		validateClassification(t.overlap, sustainHours),
	}
}

// report prints the phase table and details. It returns true when every
// phase passed.
func report(w io.Writer, phases []*phase, t tables) bool {
	fmt.Fprintln(w, "=== Overlap Table Validation ===")
	fmt.Fprintln(w)
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Fprintf(w, "  %-34s %s\n", p.name, status)
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Rows: %d overlap, %d persistent, %d transient\n",
		len(t.overlap), len(t.persistent), len(t.transient))

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Fprintf(w, "\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Fprintf(w, "  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Fprintln(w, "\nAll validations passed.")
		return true
	}
	fmt.Fprintln(w, "\nValidation FAILED.")
	return false
}

// validateOrdering checks every table is sorted by (track_id, time) with no
// repeated key.
func validateOrdering(t tables) *phase {
	p := &phase{name: "Row ordering"}
	for name, rows := range map[string][]domain.Row{
		"overlap": t.overlap, "persistent": t.persistent, "transient": t.transient,
	} {
		for i := 1; i < len(rows); i++ {
			a, b := rows[i-1].Point, rows[i].Point
			if a.TrackID > b.TrackID || (a.TrackID == b.TrackID && !a.Time.Before(b.Time)) {
				p.errorf("%s: row %d (track %d, %s) not after track %d, %s",
					name, i+2, b.TrackID, b.Time.Format(csvtable.TimeLayout), a.TrackID, a.Time.Format(csvtable.TimeLayout))
			}
		}
	}
	return p
}

// validateUnion checks overlap is exactly persistent plus transient.
func validateUnion(t tables) *phase {
	p := &phase{name: "Overlap = persistent + transient"}
	if len(t.overlap) != len(t.persistent)+len(t.transient) {
		p.errorf("row count: overlap %d, persistent+transient %d",
			len(t.overlap), len(t.persistent)+len(t.transient))
	}
	all := make(map[key]domain.Row, len(t.overlap))
	for _, r := range t.overlap {
		all[rowKey(r)] = r
	}
	for _, part := range [][]domain.Row{t.persistent, t.transient} {
		for _, r := range part {
			o, ok := all[rowKey(r)]
			switch {
			case !ok:
				p.errorf("track %d at %s missing from overlap table", r.Point.TrackID, r.Point.Time.Format(csvtable.TimeLayout))
			case o.Overlap.Triple != r.Overlap.Triple || o.Class != r.Class:
				p.errorf("track %d at %s differs from overlap table", r.Point.TrackID, r.Point.Time.Format(csvtable.TimeLayout))
			}
		}
	}
	return p
}

// validatePartition checks each table holds only its class and no track id
// appears on both sides.
func validatePartition(t tables) *phase {
	p := &phase{name: "Partition disjoint"}
	persistentIDs := make(map[int]bool)
	for _, r := range t.persistent {
		persistentIDs[r.Point.TrackID] = true
		if r.Class != domain.Persistent {
			p.errorf("persistent table: track %d labelled %s", r.Point.TrackID, r.Class)
		}
	}
	reported := make(map[int]bool)
	for _, r := range t.transient {
		if r.Class != domain.Transient {
			p.errorf("transient table: track %d labelled %s", r.Point.TrackID, r.Class)
		}
		if persistentIDs[r.Point.TrackID] && !reported[r.Point.TrackID] {
			reported[r.Point.TrackID] = true
			p.errorf("track %d appears in both tables", r.Point.TrackID)
		}
	}
	return p
}

// validateRecords checks the per-point flags are self-consistent.
func validateRecords(rows []domain.Row) *phase {
	p := &phase{name: "Record consistency"}
	for _, r := range rows {
		o := r.Overlap
		id, ts := r.Point.TrackID, r.Point.Time.Format(csvtable.TimeLayout)
		if o.Triple && !o.Resolved {
			p.errorf("track %d at %s: triple overlap on an unresolved timestamp", id, ts)
		}
		if !o.Resolved && (o.NearAR || o.NearFront || o.NearVortex || o.NearCompanion) {
			p.errorf("track %d at %s: proximity flag set on an unresolved timestamp", id, ts)
		}
	}
	return p
}

// validateClassification regroups rows into tracks and checks each track's
// class is constant and reproduced by the persistence rules.
func validateClassification(rows []domain.Row, sustainHours float64) *phase {
	p := &phase{name: "Reclassification"}

	byID := make(map[int]*domain.Track)
	classes := make(map[int]domain.Classification)
	var ids []int
	for _, r := range rows {
		t, ok := byID[r.Point.TrackID]
		if !ok {
			t = &domain.Track{ID: r.Point.TrackID}
			byID[t.ID] = t
			classes[t.ID] = r.Class
			ids = append(ids, t.ID)
		} else if classes[t.ID] != r.Class {
			p.errorf("track %d has rows labelled both %s and %s", t.ID, classes[t.ID], r.Class)
		}
		t.Points = append(t.Points, r.Point)
		t.Overlap = append(t.Overlap, r.Overlap)
	}
	slices.Sort(ids)

	trackSet := make([]domain.Track, len(ids))
	for i, id := range ids {
		trackSet[i] = *byID[id]
	}
	c := persistence.NewClassifier().WithSustained(sustainHours, tracks.ModalInterval(trackSet))
	for _, t := range trackSet {
		got, rule := c.Explain(t)
		if got == classes[t.ID] {
			continue
		}
		if rule == "" {
			rule = "no rule held"
		}
		p.errorf("track %d exported as %s, rules give %s (%s)", t.ID, classes[t.ID], got, rule)
	}
	return p
}
