package overlap

import (
	"fmt"

	"github.com/couchcryptid/storm-overlap-engine/internal/domain"
	"github.com/couchcryptid/storm-overlap-engine/internal/spatial"
	"github.com/couchcryptid/storm-overlap-engine/internal/timealign"
)

// MergeBlobs returns the frontal cells that have an AR cell and a vortex cell
// within deg degrees, where that AR cell and vortex cell are also within deg
// of each other. The indexes must share one metric.
func MergeBlobs(front []spatial.Site, ar, vortex *spatial.Index, deg float64) []spatial.Site {
	if ar.Empty() || vortex.Empty() {
		return nil
	}
	r := ar.Radius(deg)

	var out []spatial.Site
	for _, fc := range front {
		arHits := ar.Ball(fc.Lat, fc.Lon, deg)
		if len(arHits) == 0 {
			continue
		}
		vHits := vortex.Ball(fc.Lat, fc.Lon, deg)
		if len(vHits) == 0 {
			continue
		}
		if anyPairWithin(ar, arHits, vortex, vHits, r) {
			out = append(out, fc)
		}
	}
	return out
}

func anyPairWithin(a *spatial.Index, ai []int, b *spatial.Index, bi []int, r float64) bool {
	for _, i := range ai {
		for _, j := range bi {
			if a.Distance(i, b, j) <= r {
				return true
			}
		}
	}
	return false
}

func (e *Evaluator) mergedIndex(arT, frontT, vortexT int) *spatial.Index {
	key := fmt.Sprintf("%s:%d:%d:%d", mergedKind, arT, frontT, vortexT)
	return e.cache.getOrBuild(key, func() *spatial.Index {
		return spatial.New(e.cfg.Metric, e.mergedCells(arT, frontT, vortexT))
	})
}

func (e *Evaluator) mergedCells(arT, frontT, vortexT int) []spatial.Site {
	front := e.fields[domain.KindFront].Cells(frontT, e.cfg.Grid)
	return MergeBlobs(front, e.fieldIndex(domain.KindAR, arT), e.fieldIndex(domain.KindVortex, vortexT), e.cfg.RadiusDeg)
}

// OverlapCells lists the merged triple-overlap cells for every frontal time
// step that also exists exactly in the AR and vortex fields. It is only
// meaningful when all three fields are loaded.
func (e *Evaluator) OverlapCells() []domain.OverlapCell {
	front := e.fields[domain.KindFront]
	ar := e.fields[domain.KindAR]
	vortex := e.fields[domain.KindVortex]
	if front == nil || ar == nil || vortex == nil {
		return nil
	}

	exact := timealign.Aligner{Policy: timealign.Strict}
	var out []domain.OverlapCell
	for ft, ts := range front.Times {
		idx, ok := exact.ResolveAll(ts, ar.Times, vortex.Times)
		if !ok {
			continue
		}
		for _, c := range e.mergedCells(idx[0], ft, idx[1]) {
			out = append(out, domain.OverlapCell{Time: ts, Lat: c.Lat, Lon: c.Lon})
		}
	}
	return out
}
