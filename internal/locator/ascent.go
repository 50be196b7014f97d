package locator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Marker identifies the project root: a manifest file whose Field equals Value.
type Marker struct {
	File  string
	Field string
	Value string
}

// Ascent searches upward from Start for the project root marker.
type Ascent struct {
	Start   string
	Marker  Marker
	Subpath string
}

// DefaultStart returns the directory of the running executable, falling back to
// the working directory.
func DefaultStart() string {
	if exe, err := os.Executable(); err == nil {
		if resolved, err := filepath.EvalSymlinks(exe); err == nil {
			return filepath.Dir(resolved)
		}
		return filepath.Dir(exe)
	}
	if wd, err := os.Getwd(); err == nil {
		return wd
	}
	return "."
}

// Resolve walks from Start toward the filesystem root. The nearest matching
// ancestor wins; markers that fail to parse or carry another value are skipped.
func (a Ascent) Resolve(ctx context.Context) (Location, error) {
	start := a.Start
	if start == "" {
		start = DefaultStart()
	}
	dir, err := filepath.Abs(start)
	if err != nil {
		return Location{}, &ResolutionError{Strategy: "ascent", Start: start, Reason: "invalid start directory", Err: err}
	}

	var searched []string
	for {
		if err := ctx.Err(); err != nil {
			return Location{}, &ResolutionError{Strategy: "ascent", Start: start, Searched: searched, Reason: "cancelled", Err: err}
		}
		searched = append(searched, dir)

		// Missing, unreadable and foreign markers all mean "keep climbing".
		if ok, _ := a.matches(dir); ok {
			loc, err := checkWorker(dir, a.Subpath)
			if err != nil {
				return Location{}, &ResolutionError{
					Strategy: "ascent", Start: start, Searched: searched,
					Reason: fmt.Sprintf("project root %s found but worker unusable", dir), Err: err,
				}
			}
			return loc, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return Location{}, &ResolutionError{
				Strategy: "ascent", Start: start, Searched: searched,
				Reason: fmt.Sprintf("no %s with %s=%q found", a.Marker.File, a.Marker.Field, a.Marker.Value),
			}
		}
		dir = parent
	}
}

func (a Ascent) matches(dir string) (bool, error) {
	data, err := os.ReadFile(filepath.Join(dir, a.Marker.File))
	if err != nil {
		return false, err
	}
	got, err := ManifestField(data, a.Marker.Field)
	if err != nil {
		return false, err
	}
	return got == a.Marker.Value, nil
}

// ManifestField extracts a dotted field (e.g. "project.name") from a YAML or
// JSON manifest and returns it as a string.
func ManifestField(data []byte, field string) (string, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return "", fmt.Errorf("failed to parse manifest: %w", err)
	}

	var cur any = doc
	for _, key := range strings.Split(field, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return "", fmt.Errorf("field %q: %q is not a mapping", field, key)
		}
		cur, ok = m[key]
		if !ok {
			return "", fmt.Errorf("field %q not present", field)
		}
	}

	switch v := cur.(type) {
	case string:
		return v, nil
	case nil:
		return "", fmt.Errorf("field %q is null", field)
	default:
		return fmt.Sprint(v), nil
	}
}
