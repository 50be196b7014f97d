package locator

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Location is a resolved worker program.
type Location struct {
	// Path is the absolute, symlink-resolved path of the program.
	Path string
	// Dir is the working directory for the program (its containing directory).
	Dir string
	// Root is the anchor or project root the program was resolved against.
	Root string
}

// Locator resolves the worker location.
type Locator interface {
	Resolve(ctx context.Context) (Location, error)
}

// ResolutionError reports that no usable worker program could be found.
type ResolutionError struct {
	Strategy string
	Start    string
	Searched []string
	Reason   string
	Err      error
}

func (e *ResolutionError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s locator: %s", e.Strategy, e.Reason)
	if e.Start != "" {
		fmt.Fprintf(&b, " (start: %s)", e.Start)
	}
	if len(e.Searched) > 0 {
		fmt.Fprintf(&b, "; searched %d directories up to %s", len(e.Searched), e.Searched[len(e.Searched)-1])
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// Cached memoizes the first successful resolution of Inner.
type Cached struct {
	Inner Locator

	mu  sync.Mutex
	loc *Location
}

// NewCached wraps inner with process-lifetime caching.
func NewCached(inner Locator) *Cached {
	return &Cached{Inner: inner}
}

// Resolve returns the cached location, resolving it on first use.
// Concurrent first callers wait for a single resolution.
func (c *Cached) Resolve(ctx context.Context) (Location, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.loc != nil {
		return *c.loc, nil
	}
	loc, err := c.Inner.Resolve(ctx)
	if err != nil {
		return Location{}, err
	}
	c.loc = &loc
	return loc, nil
}
