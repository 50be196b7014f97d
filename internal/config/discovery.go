package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// EnvConfigPath overrides config discovery when set.
const EnvConfigPath = "TRIALMATCH_CONFIG"

// Discover finds the config file by checking standard locations.
// Priority: $TRIALMATCH_CONFIG, ~/.config/trialmatch/config.yaml, /etc/trialmatch/config.yaml, ./config.yaml
func Discover() (string, error) {
	var candidates []string
	if p := os.Getenv(EnvConfigPath); p != "" {
		candidates = append(candidates, p)
	}
	if homeDir, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(homeDir, ".config", "trialmatch", "config.yaml"))
	}
	candidates = append(candidates, "/etc/trialmatch/config.yaml", "./config.yaml")

	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c, nil
		}
	}
	return "", fmt.Errorf("no config found (checked: $%s, ~/.config/trialmatch, /etc/trialmatch, ./config.yaml)", EnvConfigPath)
}
