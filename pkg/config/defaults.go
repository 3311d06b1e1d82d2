package config

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// defaultsInstaller writes the embedded defaults into a config directory.
type defaultsInstaller struct {
	embedFS embed.FS
}

// newDefaultsInstaller creates a new defaultsInstaller with the given embedded filesystem.
func newDefaultsInstaller(embedFS embed.FS) *defaultsInstaller {
	return &defaultsInstaller{embedFS: embedFS}
}

// Install creates the config directory and installs default files if they don't exist.
// the config file is always created if missing. Example scenarios are only installed
// when the scenarios directory has no .yml files, so users can own the full set.
func (d *defaultsInstaller) Install(configDir string) error {
	// create config directory (0700 - user only)
	if err := os.MkdirAll(configDir, 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	scenariosDir := filepath.Join(configDir, "scenarios")
	if err := os.MkdirAll(scenariosDir, 0o700); err != nil {
		return fmt.Errorf("create scenarios dir: %w", err)
	}

	configPath := filepath.Join(configDir, "config")
	_, statErr := os.Stat(configPath)
	if statErr != nil && !os.IsNotExist(statErr) {
		return fmt.Errorf("check config file: %w", statErr)
	}
	if os.IsNotExist(statErr) {
		data, err := d.embedFS.ReadFile("defaults/config")
		if err != nil {
			return fmt.Errorf("read embedded config: %w", err)
		}
		if err := os.WriteFile(configPath, data, 0o600); err != nil {
			return fmt.Errorf("write config file: %w", err)
		}
	}

	if err := d.installDefaultFiles(scenariosDir, "defaults/scenarios", ".yml"); err != nil {
		return fmt.Errorf("install default scenarios: %w", err)
	}
	return nil
}

// installDefaultFiles copies embedded files with the given extension to destDir.
// files are only installed if destDir has no such files - never overwrites.
func (d *defaultsInstaller) installDefaultFiles(destDir, embedPath, ext string) error {
	existing, err := os.ReadDir(destDir)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("read %s: %w", destDir, err)
	}
	for _, entry := range existing {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ext) {
			return nil
		}
	}

	defaults, err := d.embedFS.ReadDir(embedPath)
	if err != nil {
		return fmt.Errorf("read embedded %s: %w", embedPath, err)
	}
	for _, entry := range defaults {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ext) {
			continue
		}
		data, err := d.embedFS.ReadFile(embedPath + "/" + entry.Name())
		if err != nil {
			return fmt.Errorf("read embedded %s: %w", entry.Name(), err)
		}
		if err := os.WriteFile(filepath.Join(destDir, entry.Name()), data, 0o600); err != nil {
			return fmt.Errorf("write %s: %w", entry.Name(), err)
		}
	}
	return nil
}
