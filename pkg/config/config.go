// Package config loads sitecheck settings from INI files with a fallback chain:
// project-local .sitecheck/config, then the global ~/.config/sitecheck/config,
// then defaults embedded in the binary.
package config

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
)

//go:embed defaults
var defaultsFS embed.FS

// DefaultsFS returns the embedded defaults filesystem.
func DefaultsFS() embed.FS { return defaultsFS }

// LocalDirName is the per-project config directory looked up in the working directory.
const LocalDirName = ".sitecheck"

// Config is the merged configuration of a run.
type Config struct {
	Values
	Colors ColorConfig

	configDir string
	localDir  string
}

// ConfigDir returns the global config directory the config was loaded from.
func (c *Config) ConfigDir() string { return c.configDir }

// LocalDir returns the project-local config directory, empty if none was used.
func (c *Config) LocalDir() string { return c.localDir }

// DefaultConfigDir returns ~/.config/sitecheck, or a relative fallback when home is unknown.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".config", "sitecheck")
	}
	return filepath.Join(home, ".config", "sitecheck")
}

// Load installs defaults into configDir if needed and loads the merged config.
// empty configDir means DefaultConfigDir. A .sitecheck directory in the working
// directory, when present, overrides global values.
func Load(configDir string) (*Config, error) {
	localDir := ""
	if st, err := os.Stat(LocalDirName); err == nil && st.IsDir() {
		localDir = LocalDirName
	}
	return loadWithLocal(configDir, localDir)
}

// loadWithLocal loads config from the given global and local directories.
func loadWithLocal(configDir, localDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	if err := newDefaultsInstaller(defaultsFS).Install(configDir); err != nil {
		return nil, fmt.Errorf("install defaults: %w", err)
	}

	globalPath := filepath.Join(configDir, "config")
	localPath := ""
	if localDir != "" {
		localPath = filepath.Join(localDir, "config")
	}

	values, err := newValuesLoader(defaultsFS).Load(localPath, globalPath)
	if err != nil {
		return nil, fmt.Errorf("load values: %w", err)
	}

	colors, err := newColorLoader(defaultsFS).Load(localPath, globalPath)
	if err != nil {
		return nil, fmt.Errorf("load colors: %w", err)
	}

	// relative scenarios dir is anchored at the global config dir
	if values.ScenariosDir != "" && !filepath.IsAbs(values.ScenariosDir) {
		values.ScenariosDir = filepath.Join(configDir, values.ScenariosDir)
	}

	return &Config{Values: values, Colors: colors, configDir: configDir, localDir: localDir}, nil
}
