package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Filesystem types on which SQLite locking cannot be trusted.
var remoteFSTypes = map[string]bool{
	"afpfs":  true,
	"cifs":   true,
	"nfs":    true,
	"smbfs":  true,
	"smb2":   true,
	"webdav": true,
}

// RemoteFSError reports a SQLite database placed on a network mount.
type RemoteFSError struct {
	Path   string
	FSType string
}

func (e *RemoteFSError) Error() string {
	return fmt.Sprintf("database path %q is on network filesystem %q; SQLite requires a local filesystem for reliable locking. Set store.path to local disk or switch store.driver to postgres",
		e.Path, e.FSType)
}

type fsDetector func(path string) (string, error)

// CheckLocalDisk returns a *RemoteFSError when path (or the nearest existing
// parent, for a database not yet created) lives on a network filesystem.
func CheckLocalDisk(path string) error {
	return checkLocalDisk(path, detectFilesystemType)
}

func checkLocalDisk(path string, detect fsDetector) error {
	if path == "" {
		return errors.New("sqlite path is empty")
	}

	existing, err := existingAncestor(path)
	if err != nil {
		return fmt.Errorf("resolve database path %q: %w", path, err)
	}

	fsType, err := detect(existing)
	if err != nil {
		return fmt.Errorf("detect filesystem for %q: %w", existing, err)
	}
	if remoteFSTypes[strings.ToLower(strings.TrimSpace(fsType))] {
		return &RemoteFSError{Path: path, FSType: fsType}
	}
	return nil
}

func existingAncestor(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("absolute path: %w", err)
	}

	for dir := abs; ; {
		_, err := os.Stat(dir)
		switch {
		case err == nil:
			return dir, nil
		case !errors.Is(err, os.ErrNotExist):
			return "", fmt.Errorf("stat %q: %w", dir, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("no existing parent for %q", abs)
		}
		dir = parent
	}
}
