package app

import (
	"os"
	"path/filepath"
)

const (
	defaultConfigPath = "/etc/bakonf/bakonf.toml"
	defaultBaseDir    = "/var/lib/bakonf"
)

// GetDefaults returns application default paths, checking environment variables first.
// Environment variables:
//   - BAKONF_CONFIG_PATH: config file location (default: /etc/bakonf/bakonf.toml)
//   - BAKONF_HOME: base directory for bakonf data (default: /var/lib/bakonf)
func GetDefaults() (map[string]string, error) {
	baseDir := getBaseDir()
	return map[string]string{
		"config_path": getConfigPath(),
		"base_dir":    baseDir,
		"log_dir":     filepath.Join(baseDir, "log"),
	}, nil
}

func getConfigPath() string {
	if path := os.Getenv("BAKONF_CONFIG_PATH"); path != "" {
		return path
	}
	return defaultConfigPath
}

func getBaseDir() string {
	if path := os.Getenv("BAKONF_HOME"); path != "" {
		return path
	}
	return defaultBaseDir
}
