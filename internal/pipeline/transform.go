package pipeline

import (
	"log/slog"

	"github.com/couchcryptid/storm-overlap-engine/internal/domain"
	"github.com/couchcryptid/storm-overlap-engine/internal/persistence"
	"github.com/couchcryptid/storm-overlap-engine/internal/tracks"
)

// newClassifier builds the persistence classifier for a run. The sustained
// rule is sized from the modal spacing of the tracks themselves.
func newClassifier(sustainHours float64, trackSet []domain.Track) *persistence.Classifier {
	c := persistence.NewClassifier()
	if sustainHours > 0 {
		c = c.WithSustained(sustainHours, tracks.ModalInterval(trackSet))
	}
	return c
}

// classify labels every evaluated track. Persistent verdicts are logged with
// the rule that held.
func classify(logger *slog.Logger, c *persistence.Classifier, trackSet []domain.Track) map[int]domain.Classification {
	out := make(map[int]domain.Classification, len(trackSet))
	for _, t := range trackSet {
		class, rule := c.Explain(t)
		out[t.ID] = class
		if class == domain.Persistent {
			logger.Debug("track persistent", "track_id", t.ID, "rule", rule, "points", len(t.Points))
		}
	}
	return out
}
