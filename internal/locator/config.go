package locator

import (
	"fmt"

	"github.com/mattjoyce/trialmatch/internal/config"
)

// FromConfig builds the configured strategy. The result is not cached; wrap
// it with NewCached for long-lived use.
func FromConfig(w config.WorkerConfig) (Locator, error) {
	switch w.Strategy {
	case config.StrategyFixed:
		return Fixed{Anchor: w.Anchor, Subpath: w.Subpath}, nil
	case config.StrategyAscent, "":
		return Ascent{
			Start:   w.StartDir,
			Subpath: w.Subpath,
			Marker: Marker{
				File:  w.Marker.File,
				Field: w.Marker.Field,
				Value: w.Marker.Value,
			},
		}, nil
	default:
		return nil, fmt.Errorf("unknown worker strategy %q", w.Strategy)
	}
}
