package overlap

import (
	"time"

	"github.com/couchcryptid/storm-overlap-engine/internal/domain"
	"github.com/couchcryptid/storm-overlap-engine/internal/spatial"
	"github.com/couchcryptid/storm-overlap-engine/internal/tracks"
)

// Companions are scalar point observations (SLP minima) grouped by time.
type Companions struct {
	Times []time.Time // ascending
	Sites [][]spatial.Site
}

// NewCompanions groups node blocks by timestamp. Blocks sharing a timestamp
// are merged.
func NewCompanions(blocks ...tracks.NodeBlock) *Companions {
	merged := tracks.MergeNodeBlocks(tracks.Result{Blocks: blocks})
	c := &Companions{
		Times: make([]time.Time, len(merged)),
		Sites: make([][]spatial.Site, len(merged)),
	}
	for i, b := range merged {
		c.Times[i] = domain.Discretize(b.Time)
		sites := make([]spatial.Site, len(b.Points))
		for j, p := range b.Points {
			sites[j] = spatial.Site{Lat: p.Lat, Lon: p.Lon, Value: p.Value}
		}
		c.Sites[i] = sites
	}
	return c
}
