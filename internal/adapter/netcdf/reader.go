// Package netcdf reads gridded object masks and land-sea masks from NetCDF
// classic files and writes synthetic mask files for fixtures.
//
// Only the classic (CDF-1/CDF-2) encodings are supported. NetCDF-4 inputs
// can be converted with "nccopy -k classic in.nc out.nc".
package netcdf

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"slices"
	"time"

	"github.com/couchcryptid/storm-overlap-engine/internal/domain"
	"github.com/couchcryptid/storm-overlap-engine/internal/grid"
	"github.com/ctessum/cdf"
)

var (
	latNames  = []string{"latitude", "lat"}
	lonNames  = []string{"longitude", "lon"}
	timeNames = []string{"time", "valid_time"}
)

// OpenField reads one mask variable from the file at path.
func OpenField(path string, kind domain.ObjectKind, variable string) (*grid.Field, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	field, err := ReadField(f, kind, variable)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return field, nil
}

// ReadField decodes a (time, latitude, longitude) mask variable.
func ReadField(rw cdf.ReaderWriterAt, kind domain.ObjectKind, variable string) (*grid.Field, error) {
	nc, err := cdf.Open(rw)
	if err != nil {
		return nil, fmt.Errorf("open netcdf: %w", err)
	}
	if err := requireVariable(nc, variable); err != nil {
		return nil, err
	}
	if dims := nc.Header.Dimensions(variable); len(dims) != 3 {
		return nil, fmt.Errorf("variable %s has dimensions %v, want (time, latitude, longitude)", variable, dims)
	}

	lat, err := readCoord(nc, latNames)
	if err != nil {
		return nil, err
	}
	lon, err := readCoord(nc, lonNames)
	if err != nil {
		return nil, err
	}
	times, err := readTimes(nc)
	if err != nil {
		return nil, err
	}
	values, err := readValues(nc, variable)
	if err != nil {
		return nil, err
	}
	return grid.NewField(variable, kind, lat, lon, times, values)
}

// OpenLandMask reads a land-sea fraction variable from the file at path.
func OpenLandMask(path, variable string) (*grid.LandMask, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	m, err := ReadLandMask(f, variable)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// ReadLandMask decodes a (latitude, longitude) or (time, latitude, longitude)
// land-sea fraction. With a time dimension only the first step is used.
func ReadLandMask(rw cdf.ReaderWriterAt, variable string) (*grid.LandMask, error) {
	nc, err := cdf.Open(rw)
	if err != nil {
		return nil, fmt.Errorf("open netcdf: %w", err)
	}
	if err := requireVariable(nc, variable); err != nil {
		return nil, err
	}
	lat, err := readCoord(nc, latNames)
	if err != nil {
		return nil, err
	}
	lon, err := readCoord(nc, lonNames)
	if err != nil {
		return nil, err
	}
	values, err := readValues(nc, variable)
	if err != nil {
		return nil, err
	}
	plane := len(lat) * len(lon)
	if len(values) < plane {
		return nil, fmt.Errorf("variable %s has %d values, want at least %d", variable, len(values), plane)
	}
	return grid.NewLandMask(lat, lon, values[:plane])
}

func requireVariable(nc *cdf.File, name string) error {
	vars := nc.Header.Variables()
	if !slices.Contains(vars, name) {
		return fmt.Errorf("variable %q not found (have %v)", name, vars)
	}
	return nil
}

func findVariable(nc *cdf.File, names []string) (string, bool) {
	vars := nc.Header.Variables()
	for _, n := range names {
		if slices.Contains(vars, n) {
			return n, true
		}
	}
	return "", false
}

func readCoord(nc *cdf.File, names []string) ([]float64, error) {
	name, ok := findVariable(nc, names)
	if !ok {
		return nil, fmt.Errorf("coordinate variable %v not found", names)
	}
	return readRaw(nc, name)
}

func readTimes(nc *cdf.File) ([]time.Time, error) {
	name, ok := findVariable(nc, timeNames)
	if !ok {
		return nil, fmt.Errorf("time variable %v not found", timeNames)
	}
	units, _ := nc.Header.GetAttribute(name, "units").(string)
	if units == "" {
		return nil, fmt.Errorf("time variable %s has no units", name)
	}
	offsets, err := readRaw(nc, name)
	if err != nil {
		return nil, err
	}
	return DecodeTimes(units, offsets)
}

// readValues reads a variable, applying CF packing and fill conventions.
// Fill and missing values become NaN.
func readValues(nc *cdf.File, name string) ([]float64, error) {
	vals, err := readRaw(nc, name)
	if err != nil {
		return nil, err
	}

	var fills []float64
	for _, attr := range []string{"_FillValue", "missing_value"} {
		if v, ok := firstFloat(nc.Header.GetAttribute(name, attr)); ok {
			fills = append(fills, v)
		}
	}
	scale, hasScale := firstFloat(nc.Header.GetAttribute(name, "scale_factor"))
	offset, hasOffset := firstFloat(nc.Header.GetAttribute(name, "add_offset"))
	if !hasScale {
		scale = 1
	}

	for i, v := range vals {
		if slices.Contains(fills, v) {
			vals[i] = math.NaN()
			continue
		}
		if hasScale || hasOffset {
			vals[i] = v*scale + offset
		}
	}
	return vals, nil
}

func readRaw(nc *cdf.File, name string) ([]float64, error) {
	r := nc.Reader(name, nil, nil)
	buf := r.Zero(-1)
	n, err := r.Read(buf)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read variable %s: %w", name, err)
	}
	vals, err := toFloat64s(buf)
	if err != nil {
		return nil, fmt.Errorf("read variable %s: %w", name, err)
	}
	if n < len(vals) {
		vals = vals[:n]
	}
	return vals, nil
}

func toFloat64s(buf any) ([]float64, error) {
	switch b := buf.(type) {
	case []float64:
		return slices.Clone(b), nil
	case []float32:
		return convert(b), nil
	case []int32:
		return convert(b), nil
	case []int16:
		return convert(b), nil
	case []int8:
		return convert(b), nil
	case []uint8:
		return convert(b), nil
	default:
		return nil, fmt.Errorf("unsupported element type %T", buf)
	}
}

func convert[T float32 | int32 | int16 | int8 | uint8](in []T) []float64 {
	out := make([]float64, len(in))
	for i, v := range in {
		out[i] = float64(v)
	}
	return out
}

func firstFloat(attr any) (float64, bool) {
	if attr == nil {
		return 0, false
	}
	vals, err := toFloat64s(attr)
	if err != nil || len(vals) == 0 {
		return 0, false
	}
	return vals[0], true
}
