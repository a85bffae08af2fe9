// Command genmock writes the synthetic scenario used by the test suites as
// real input files: a track file, a companion node file, the three NetCDF
// object masks and a land-sea mask.
//
// Usage:
//
//	go run ./cmd/genmock -out data/mock
//	go run ./cmd/overlap run --tracks data/mock/tracks.txt \
//	  --companion data/mock/slp_nodes.txt \
//	  --ar data/mock/ar_objects.nc --front data/mock/front_objects.nc \
//	  --vortex data/mock/vortex_objects.nc --out data/mock/out
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/couchcryptid/storm-overlap-engine/internal/domain"
	"github.com/couchcryptid/storm-overlap-engine/internal/mockdata"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	out := flag.String("out", "", "directory to write the scenario into")
	flag.Parse()

	if *out == "" {
		flag.Usage()
		return fmt.Errorf("missing required flag: -out")
	}
	if err := os.MkdirAll(*out, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", *out, err)
	}

	s := mockdata.Default()
	p, err := s.Write(*out)
	if err != nil {
		return err
	}

	fmt.Printf("tracks:    %s (%d tracks)\n", p.Tracks, len(s.Tracks))
	fmt.Printf("companion: %s (%d steps)\n", p.Companion, len(s.Companion))
	for _, k := range domain.GriddedKinds {
		fmt.Printf("%-10s %s (variable %s)\n", k+":", p.Field(k), mockdata.Variables[k])
	}
	fmt.Printf("land mask: %s (variable LSM)\n", p.LandMask)
	fmt.Println("\nexpected classes:")
	for id := 1; id <= len(s.Tracks); id++ {
		fmt.Printf("  track %d: %s\n", id, s.Expected[id])
	}
	return nil
}
