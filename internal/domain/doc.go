// Package domain models candidate storm tracks and their co-location with
// atmospheric-river (AR), frontal and vortex objects.
//
// # Data Sources
//
// Object fields arrive as NetCDF classic files produced by upstream detectors
// (TempestExtremes DetectBlobs/StitchBlobs for AR and vortex objects, the
// frontal tagger for fronts). Each file carries one mask variable with
// dimensions (time, latitude, longitude). A cell is active when its value is
// greater than zero; NaN and fill values are inactive.
//
// Candidate tracks arrive as StitchNodes text output. Two dialects exist:
//
//	start 3 1979 01 02 00
//	    120  45  -150.25  35.50  1.2e-04  1979  1  2  0
//	    121  45  -149.75  35.50  1.3e-04  1979  1  2  6
//
// A "start" line opens a new track; ids are assigned 1, 2, ... in file order.
// Data lines are "i j lon lat value [extra...] YYYY MM DD HH".
//
// The DetectNodes dialect carries single-snapshot detections:
//
//	1979 1 2 2 0
//	    120  45  210.00  35.50  101325.0
//	    300  80  -20.00  55.25   99800.0
//
// The header is "YYYY MM DD N HH" with no leading whitespace, followed by N
// indented "i j lon lat value [extra...]" lines. Companion observations (SLP
// minima) use this dialect.
//
// # Conventions
//
// Longitudes are normalized exactly once, at ingestion, to [-180, 180).
// Timestamps are UTC and discretized to whole seconds before any equality
// comparison.
//
// # Classification
//
// A track is [Persistent] ("AR-MFW") when its triple-overlap sequence shows
// two adjacent hits or at least three hits in some window of four; otherwise
// it is [Transient] ("only-AR").
package domain
