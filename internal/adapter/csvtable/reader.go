package csvtable

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"slices"
	"strconv"
	"time"

	"github.com/couchcryptid/storm-overlap-engine/internal/domain"
)

// ReadRows parses a table written with RowHeader.
func ReadRows(path string) ([]domain.Row, error) {
	records, err := readAll(path, RowHeader)
	if err != nil {
		return nil, err
	}
	rows := make([]domain.Row, 0, len(records))
	for i, rec := range records {
		row, err := parseRow(rec)
		if err != nil {
			return nil, fmt.Errorf("%s: row %d: %w", path, i+2, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// ReadCells parses a table written with CellHeader.
func ReadCells(path string) ([]domain.OverlapCell, error) {
	records, err := readAll(path, CellHeader)
	if err != nil {
		return nil, err
	}
	cells := make([]domain.OverlapCell, 0, len(records))
	for i, rec := range records {
		ts, err := time.Parse(TimeLayout, rec[0])
		if err != nil {
			return nil, fmt.Errorf("%s: row %d: %w", path, i+2, err)
		}
		lat, err1 := strconv.ParseFloat(rec[1], 64)
		lon, err2 := strconv.ParseFloat(rec[2], 64)
		if err1 != nil || err2 != nil {
			return nil, fmt.Errorf("%s: row %d: bad coordinate", path, i+2)
		}
		cells = append(cells, domain.OverlapCell{Time: ts, Lat: lat, Lon: lon})
	}
	return cells, nil
}

func readAll(path string, header []string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = len(header)
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if len(records) == 0 || !slices.Equal(records[0], header) {
		return nil, fmt.Errorf("%s: unexpected header", path)
	}
	return records[1:], nil
}

func parseRow(rec []string) (domain.Row, error) {
	var row domain.Row
	var err error
	if row.Point.TrackID, err = strconv.Atoi(rec[0]); err != nil {
		return row, fmt.Errorf("track_id: %w", err)
	}
	if row.Point.Time, err = time.Parse(TimeLayout, rec[1]); err != nil {
		return row, fmt.Errorf("time: %w", err)
	}
	floats := []*float64{&row.Point.Lat, &row.Point.Lon, &row.Point.Value}
	for i, dst := range floats {
		if *dst, err = strconv.ParseFloat(rec[2+i], 64); err != nil {
			return row, fmt.Errorf("%s: %w", RowHeader[2+i], err)
		}
	}
	bools := []*bool{&row.Overlap.NearAR, &row.Overlap.NearFront, &row.Overlap.NearVortex, &row.Overlap.NearCompanion, &row.Overlap.Triple}
	for i, dst := range bools {
		if *dst, err = strconv.ParseBool(rec[5+i]); err != nil {
			return row, fmt.Errorf("%s: %w", RowHeader[5+i], err)
		}
	}
	row.Overlap.CompanionValue = math.NaN()
	if rec[10] != "" {
		if row.Overlap.CompanionValue, err = strconv.ParseFloat(rec[10], 64); err != nil {
			return row, fmt.Errorf("companion_value: %w", err)
		}
	}
	if row.Overlap.Resolved, err = strconv.ParseBool(rec[11]); err != nil {
		return row, fmt.Errorf("resolved: %w", err)
	}
	if row.Class, err = domain.ParseClassification(rec[12]); err != nil {
		return row, fmt.Errorf("class: %w", err)
	}
	return row, nil
}
