package locator

import (
	"context"
	"path/filepath"
)

// Fixed resolves the worker at a known offset from an anchor directory.
type Fixed struct {
	Anchor  string
	Subpath string
}

// Resolve joins Anchor and Subpath and checks the result. No search is performed.
func (f Fixed) Resolve(ctx context.Context) (Location, error) {
	if err := ctx.Err(); err != nil {
		return Location{}, &ResolutionError{Strategy: "fixed", Start: f.Anchor, Reason: "cancelled", Err: err}
	}

	anchor, err := filepath.Abs(f.Anchor)
	if err != nil {
		return Location{}, &ResolutionError{Strategy: "fixed", Start: f.Anchor, Reason: "invalid anchor", Err: err}
	}

	loc, err := checkWorker(anchor, f.Subpath)
	if err != nil {
		return Location{}, &ResolutionError{Strategy: "fixed", Start: anchor, Reason: "worker unusable", Err: err}
	}
	return loc, nil
}
