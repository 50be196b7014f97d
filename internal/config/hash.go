package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/zeebo/blake3"
	"gopkg.in/yaml.v3"
)

// ChecksumFile is the manifest name written next to config.yaml.
const ChecksumFile = ".checksums"

// ComputeBlake3Hash computes the BLAKE3 hash of a file.
func ComputeBlake3Hash(filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}

	hash := blake3.Sum256(data)
	return hex.EncodeToString(hash[:]), nil
}

// LockReport describes what Lock wrote.
type LockReport struct {
	ChecksumPath string
	File         string
	Hash         string
}

// Lock hashes the config file and writes .checksums beside it.
func Lock(configPath string) (*LockReport, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	hash, err := ComputeBlake3Hash(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to hash %s: %w", absPath, err)
	}

	manifest := ChecksumManifest{
		Version:     1,
		GeneratedAt: time.Now().UTC().Format(time.RFC3339),
		Hashes:      map[string]string{filepath.Base(absPath): hash},
	}
	data, err := yaml.Marshal(manifest)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal checksums: %w", err)
	}

	report := &LockReport{
		ChecksumPath: filepath.Join(filepath.Dir(absPath), ChecksumFile),
		File:         absPath,
		Hash:         hash,
	}
	// Restrictive permissions: the file holds the expected hashes.
	if err := os.WriteFile(report.ChecksumPath, data, 0600); err != nil {
		return nil, fmt.Errorf("failed to write checksums: %w", err)
	}
	return report, nil
}

// LoadChecksums reads .checksums from a config directory.
// It returns fs.ErrNotExist (wrapped) when no manifest is present.
func LoadChecksums(configDir string) (*ChecksumManifest, error) {
	data, err := os.ReadFile(filepath.Join(configDir, ChecksumFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read checksums: %w", err)
	}

	var manifest ChecksumManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse checksums: %w", err)
	}
	if manifest.Version != 1 {
		return nil, fmt.Errorf("unsupported checksums version: %d", manifest.Version)
	}
	return &manifest, nil
}

// VerifyConfigHash checks the config file against .checksums when one exists.
// A missing manifest is not an error; a manifest without an entry for the file is.
func VerifyConfigHash(configPath string) error {
	manifest, err := LoadChecksums(filepath.Dir(configPath))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}

	name := filepath.Base(configPath)
	expected, ok := manifest.Hashes[name]
	if !ok {
		return fmt.Errorf("%s has no hash in %s (run 'trialmatch config lock')", name, ChecksumFile)
	}

	actual, err := ComputeBlake3Hash(configPath)
	if err != nil {
		return err
	}
	if actual != expected {
		return fmt.Errorf("hash mismatch for %s: expected %s, got %s\n"+
			"If you edited this file intentionally, run: trialmatch config lock", name, expected, actual)
	}
	return nil
}
