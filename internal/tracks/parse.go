// Package tracks parses candidate track and node text files into domain tracks.
package tracks

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/storm-overlap-engine/internal/domain"
)

// ErrNoTracks is returned by callers that require at least one track.
var ErrNoTracks = errors.New("no tracks parsed")

// ErrUnknownLayout is returned by Parse when the input matches neither dialect.
var ErrUnknownLayout = errors.New("unrecognized track file layout")

const maxLineBytes = 1 << 20

// Dialect identifies the text layout of a track file.
type Dialect int

const (
	// DialectTracks is the "start"-delimited multi-step layout.
	DialectTracks Dialect = iota
	// DialectNodes is the header/count-delimited single-snapshot layout.
	DialectNodes
)

func (d Dialect) String() string {
	if d == DialectNodes {
		return "nodes"
	}
	return "tracks"
}

// LineError describes a skipped input line.
type LineError struct {
	Line   int
	Reason string
}

func (e LineError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Reason)
}

// NodeBlock is the set of detections sharing one timestamp. Declared is the
// node count from the block header.
type NodeBlock struct {
	Time     time.Time
	Declared int
	Points   []domain.TrackPoint
}

// Result is the outcome of parsing one file.
type Result struct {
	Dialect Dialect
	Tracks  []domain.Track
	Blocks  []NodeBlock // populated for DialectNodes only
	Skipped []LineError
}

// Points returns the number of parsed points across all tracks.
func (r Result) Points() int {
	n := 0
	for _, t := range r.Tracks {
		n += len(t.Points)
	}
	return n
}

// Parse detects the dialect and parses r. Any "start" token selects the
// tracks dialect and any indented line the nodes dialect. Input with
// neither fails with ErrUnknownLayout.
func Parse(r io.Reader) (Result, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Result{}, fmt.Errorf("read track input: %w", err)
	}
	switch {
	case hasStartToken(data):
		return ParseTracks(bytes.NewReader(data))
	case hasIndentedLine(data):
		return ParseNodes(bytes.NewReader(data))
	default:
		return Result{}, ErrUnknownLayout
	}
}

func hasStartToken(data []byte) bool {
	for _, line := range bytes.Split(data, []byte("\n")) {
		f := bytes.Fields(line)
		if len(f) > 0 && string(f[0]) == "start" {
			return true
		}
	}
	return false
}

func hasIndentedLine(data []byte) bool {
	for _, line := range bytes.Split(data, []byte("\n")) {
		if indented(string(line)) && len(bytes.TrimSpace(line)) > 0 {
			return true
		}
	}
	return false
}

// ParseTracks reads the "start"-delimited dialect. Track ids are assigned
// 1, 2, ... in file order.
func ParseTracks(r io.Reader) (Result, error) {
	res := Result{Dialect: DialectTracks}
	var cur *domain.Track

	err := scanLines(r, func(n int, line string) {
		f := strings.Fields(line)
		if len(f) == 0 {
			return
		}
		if f[0] == "start" {
			res.Tracks = append(res.Tracks, domain.Track{ID: len(res.Tracks) + 1})
			cur = &res.Tracks[len(res.Tracks)-1]
			if len(f) > 1 {
				if declared, err := strconv.Atoi(f[1]); err == nil {
					cur.Declared = declared
				}
			}
			return
		}
		if cur == nil {
			res.Skipped = append(res.Skipped, LineError{Line: n, Reason: "data line before first start"})
			return
		}
		p, err := parseTrackLine(f)
		if err != nil {
			res.Skipped = append(res.Skipped, LineError{Line: n, Reason: err.Error()})
			return
		}
		if k := len(cur.Points); k > 0 && !p.Time.After(cur.Points[k-1].Time) {
			res.Skipped = append(res.Skipped, LineError{Line: n, Reason: "time does not increase within track"})
			return
		}
		p.TrackID = cur.ID
		cur.Points = append(cur.Points, p)
	})
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

// ParseNodes reads the header dialect. Each node becomes its own one-point
// track, numbered in file order. A header "YYYY MM DD N HH" admits at most N
// node lines; extra lines are skipped and a block that ends short is reported
// against its header line.
func ParseNodes(r io.Reader) (Result, error) {
	res := Result{Dialect: DialectNodes}
	var (
		cur        *NodeBlock
		headerLine int
		consumed   int
	)
	closeBlock := func() {
		if cur != nil && consumed < cur.Declared {
			res.Skipped = append(res.Skipped, LineError{
				Line:   headerLine,
				Reason: fmt.Sprintf("header declares %d nodes, found %d", cur.Declared, consumed),
			})
		}
		cur = nil
	}

	err := scanLines(r, func(n int, line string) {
		f := strings.Fields(line)
		if len(f) == 0 {
			return
		}
		if !indented(line) {
			closeBlock()
			ts, declared, err := parseHeader(f)
			if err != nil {
				res.Skipped = append(res.Skipped, LineError{Line: n, Reason: err.Error()})
				return
			}
			res.Blocks = append(res.Blocks, NodeBlock{Time: ts, Declared: declared})
			cur = &res.Blocks[len(res.Blocks)-1]
			headerLine, consumed = n, 0
			return
		}
		if cur == nil {
			res.Skipped = append(res.Skipped, LineError{Line: n, Reason: "node line without a valid header"})
			return
		}
		if consumed >= cur.Declared {
			res.Skipped = append(res.Skipped, LineError{
				Line:   n,
				Reason: fmt.Sprintf("node line beyond declared count %d", cur.Declared),
			})
			return
		}
		consumed++
		p, err := parseNodeLine(f)
		if err != nil {
			res.Skipped = append(res.Skipped, LineError{Line: n, Reason: err.Error()})
			return
		}
		p.Time = cur.Time
		cur.Points = append(cur.Points, p)
	})
	if err != nil {
		return Result{}, err
	}
	closeBlock()
	res.Tracks = BlocksToTracks(res.Blocks)
	return res, nil
}

// BlocksToTracks turns every node into its own one-point track.
func BlocksToTracks(blocks []NodeBlock) []domain.Track {
	var out []domain.Track
	for _, b := range blocks {
		for _, p := range b.Points {
			id := len(out) + 1
			p.TrackID = id
			out = append(out, domain.Track{ID: id, Declared: 1, Points: []domain.TrackPoint{p}})
		}
	}
	return out
}

func scanLines(r io.Reader, fn func(n int, line string)) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	n := 0
	for sc.Scan() {
		n++
		fn(n, strings.TrimRight(sc.Text(), "\r"))
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("scan line %d: %w", n+1, err)
	}
	return nil
}

func indented(line string) bool {
	return line != "" && (line[0] == ' ' || line[0] == '\t')
}

// parseTrackLine decodes "i j lon lat value [extra...] YYYY MM DD HH".
func parseTrackLine(f []string) (domain.TrackPoint, error) {
	if len(f) < 9 {
		return domain.TrackPoint{}, fmt.Errorf("expected at least 9 fields, got %d", len(f))
	}
	p, err := parsePosition(f)
	if err != nil {
		return domain.TrackPoint{}, err
	}
	ts, err := parseStamp(f[len(f)-4], f[len(f)-3], f[len(f)-2], f[len(f)-1])
	if err != nil {
		return domain.TrackPoint{}, err
	}
	p.Time = ts
	return p, nil
}

// parseNodeLine decodes "i j lon lat value [extra...]".
func parseNodeLine(f []string) (domain.TrackPoint, error) {
	if len(f) < 5 {
		return domain.TrackPoint{}, fmt.Errorf("expected at least 5 fields, got %d", len(f))
	}
	return parsePosition(f)
}

// parseHeader decodes "YYYY MM DD N HH".
func parseHeader(f []string) (time.Time, int, error) {
	if len(f) != 5 {
		return time.Time{}, 0, fmt.Errorf("expected 5 header fields, got %d", len(f))
	}
	declared, err := strconv.Atoi(f[3])
	if err != nil {
		return time.Time{}, 0, fmt.Errorf("parse node count: %w", err)
	}
	if declared < 0 {
		return time.Time{}, 0, fmt.Errorf("negative node count %d", declared)
	}
	ts, err := parseStamp(f[0], f[1], f[2], f[4])
	if err != nil {
		return time.Time{}, 0, err
	}
	return ts, declared, nil
}

func parsePosition(f []string) (domain.TrackPoint, error) {
	i, err := strconv.Atoi(f[0])
	if err != nil {
		return domain.TrackPoint{}, fmt.Errorf("parse i: %w", err)
	}
	j, err := strconv.Atoi(f[1])
	if err != nil {
		return domain.TrackPoint{}, fmt.Errorf("parse j: %w", err)
	}
	lon, err := strconv.ParseFloat(f[2], 64)
	if err != nil {
		return domain.TrackPoint{}, fmt.Errorf("parse lon: %w", err)
	}
	lat, err := strconv.ParseFloat(f[3], 64)
	if err != nil {
		return domain.TrackPoint{}, fmt.Errorf("parse lat: %w", err)
	}
	if lat < -90 || lat > 90 {
		return domain.TrackPoint{}, fmt.Errorf("latitude %v out of range", lat)
	}
	value, err := strconv.ParseFloat(f[4], 64)
	if err != nil {
		return domain.TrackPoint{}, fmt.Errorf("parse value: %w", err)
	}
	return domain.TrackPoint{
		I:     i,
		J:     j,
		Lon:   domain.NormalizeLon(lon),
		Lat:   lat,
		Value: value,
	}, nil
}

func parseStamp(ys, ms, ds, hs string) (time.Time, error) {
	var v [4]int
	for k, s := range []string{ys, ms, ds, hs} {
		n, err := strconv.Atoi(s)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse timestamp: %w", err)
		}
		v[k] = n
	}
	ts := time.Date(v[0], time.Month(v[1]), v[2], v[3], 0, 0, 0, time.UTC)
	if ts.Year() != v[0] || int(ts.Month()) != v[1] || ts.Day() != v[2] || ts.Hour() != v[3] {
		return time.Time{}, fmt.Errorf("invalid timestamp %s-%s-%s %sh", ys, ms, ds, hs)
	}
	return ts, nil
}
