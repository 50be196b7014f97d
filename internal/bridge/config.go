package bridge

import (
	"github.com/mattjoyce/trialmatch/internal/config"
	"github.com/mattjoyce/trialmatch/internal/guard"
	"github.com/mattjoyce/trialmatch/internal/locator"
)

// FromConfig assembles a Bridge for the configured worker mode: a cached
// locator plus ProcessLauncher, or an HTTPLauncher with no locator.
func FromConfig(w config.WorkerConfig, opts Options) (*Bridge, error) {
	opts.Timeout = w.Timeout
	g := guard.New(w.MaxConcurrent)

	if w.Mode == config.WorkerModeHTTP {
		launcher := &HTTPLauncher{
			URL:            w.URL,
			MaxOutputBytes: w.MaxOutputBytes,
		}
		return New(nil, launcher, g, opts), nil
	}

	loc, err := locator.FromConfig(w)
	if err != nil {
		return nil, err
	}
	launcher := &ProcessLauncher{
		KillGrace:      w.KillGrace,
		MaxOutputBytes: w.MaxOutputBytes,
	}
	return New(locator.NewCached(loc), launcher, g, opts), nil
}
