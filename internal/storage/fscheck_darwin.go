//go:build darwin

package storage

import (
	"fmt"
	"syscall"
)

// detectFilesystemType returns the mount's f_fstypename ("apfs", "nfs",
// "smbfs", ...) for the trialmatch database path.
func detectFilesystemType(path string) (string, error) {
	var st syscall.Statfs_t
	if err := syscall.Statfs(path, &st); err != nil {
		return "", fmt.Errorf("statfs %q: %w", path, err)
	}
	name := make([]byte, 0, len(st.Fstypename))
	for _, c := range st.Fstypename {
		if c == 0 {
			break
		}
		name = append(name, byte(c))
	}
	return string(name), nil
}
