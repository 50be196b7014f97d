package locator

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// checkWorker resolves root/subpath and enforces the trust rules.
func checkWorker(root, subpath string) (Location, error) {
	if subpath == "" {
		return Location{}, fmt.Errorf("worker subpath is empty")
	}
	if filepath.IsAbs(subpath) || strings.Contains(filepath.ToSlash(subpath), "..") {
		return Location{}, fmt.Errorf("worker subpath must be relative without '..': %s", subpath)
	}

	resolvedRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return Location{}, fmt.Errorf("failed to resolve root symlink: %w", err)
	}

	resolved, err := filepath.EvalSymlinks(filepath.Join(root, subpath))
	if err != nil {
		return Location{}, fmt.Errorf("worker not found: %w", err)
	}
	if !strings.HasPrefix(resolved, resolvedRoot+string(os.PathSeparator)) {
		return Location{}, fmt.Errorf("worker %s escapes root %s", resolved, resolvedRoot)
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return Location{}, fmt.Errorf("worker not found: %w", err)
	}
	if !info.Mode().IsRegular() {
		return Location{}, fmt.Errorf("worker is not a regular file: %s", resolved)
	}
	if info.Mode()&0111 == 0 {
		return Location{}, fmt.Errorf("worker is not executable: %s", resolved)
	}

	dir := filepath.Dir(resolved)
	dirInfo, err := os.Stat(dir)
	if err != nil {
		return Location{}, fmt.Errorf("worker directory not found: %w", err)
	}
	if dirInfo.Mode().Perm()&0002 != 0 {
		return Location{}, fmt.Errorf("worker directory is world-writable: %s", dir)
	}

	return Location{Path: resolved, Dir: dir, Root: resolvedRoot}, nil
}
