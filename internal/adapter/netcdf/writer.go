package netcdf

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ctessum/cdf"
)

// TimeUnits is the CF units string used for written time axes.
const TimeUnits = "hours since 1900-01-01 00:00:00"

var epoch = time.Date(1900, time.January, 1, 0, 0, 0, 0, time.UTC)

// Grid is an in-memory (time, latitude, longitude) variable to be written.
// Times may be empty for a two-dimensional land-sea mask.
type Grid struct {
	Variable string
	Lat      []float64
	Lon      []float64
	Times    []time.Time
	Values   []float32
}

// Write encodes g as a NetCDF classic file. Time is a fixed dimension, so
// no record-count update is needed afterwards.
func Write(w *os.File, g Grid) error {
	if g.Variable == "" {
		return errors.New("netcdf: variable name is required")
	}
	nlat, nlon, nt := len(g.Lat), len(g.Lon), len(g.Times)
	want := nlat * nlon
	if nt > 0 {
		want *= nt
	}
	if len(g.Values) != want {
		return fmt.Errorf("netcdf: %d values for %d cells", len(g.Values), want)
	}

	dims := []string{"latitude", "longitude"}
	lengths := []int{nlat, nlon}
	varDims := []string{"latitude", "longitude"}
	if nt > 0 {
		dims = append([]string{"time"}, dims...)
		lengths = append([]int{nt}, lengths...)
		varDims = append([]string{"time"}, varDims...)
	}

	h := cdf.NewHeader(dims, lengths)
	h.AddAttribute("", "Conventions", "CF-1.6")
	h.AddVariable("latitude", []string{"latitude"}, []float64{0})
	h.AddAttribute("latitude", "units", "degrees_north")
	h.AddVariable("longitude", []string{"longitude"}, []float64{0})
	h.AddAttribute("longitude", "units", "degrees_east")
	if nt > 0 {
		h.AddVariable("time", []string{"time"}, []float64{0})
		h.AddAttribute("time", "units", TimeUnits)
	}
	h.AddVariable(g.Variable, varDims, []float32{0})
	h.AddAttribute(g.Variable, "_FillValue", []float32{-999})
	h.Define()

	f, err := cdf.Create(w, h)
	if err != nil {
		return fmt.Errorf("netcdf: create: %w", err)
	}

	if err := writeVar(f, "latitude", g.Lat); err != nil {
		return err
	}
	if err := writeVar(f, "longitude", g.Lon); err != nil {
		return err
	}
	if nt > 0 {
		hours := make([]float64, nt)
		for i, t := range g.Times {
			hours[i] = t.Sub(epoch).Hours()
		}
		if err := writeVar(f, "time", hours); err != nil {
			return err
		}
	}
	return writeVar(f, g.Variable, g.Values)
}

func writeVar(f *cdf.File, name string, data any) error {
	end := f.Header.Lengths(name)
	start := make([]int, len(end))
	if _, err := f.Writer(name, start, end).Write(data); err != nil {
		return fmt.Errorf("netcdf: write %s: %w", name, err)
	}
	return nil
}
