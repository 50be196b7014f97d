//go:build !darwin && !linux

package storage

import "errors"

// detectFilesystemType cannot inspect mounts here. OpenSQLite fails and
// `config check` warns; use store.driver postgres on these platforms.
func detectFilesystemType(string) (string, error) {
	return "", errors.New("cannot detect the store's filesystem on this platform; use store.driver postgres")
}
