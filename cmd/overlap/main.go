// Command overlap classifies candidate tracks as persistent or transient by
// testing every track point against gridded atmospheric-river, front and
// vortex objects and an optional set of companion minima.
//
// Usage:
//
//	overlap run --tracks tracks.txt --ar ar.nc --front fronts.nc --vortex vortex.nc --out results/
//	overlap inspect --tracks tracks.txt --ar ar.nc
//
// Path flags override the matching environment variables read by
// internal/config.
package main

import (
	"log/slog"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}
