package config

import (
	"embed"
	"fmt"
	"os"
	"strings"
)

// mergeable is a settings struct whose set fields can be layered over another one.
type mergeable[T any] interface {
	*T
	mergeFrom(src *T)
}

// loadLayers parses the embedded defaults, then the global and local config files, and merges
// them in that order so local wins. Missing or comment-only files are skipped.
func loadLayers[T any, PT mergeable[T]](fsys embed.FS, localPath, globalPath string, parse func([]byte) (T, error)) (T, error) {
	var zero T
	data, err := fsys.ReadFile("defaults/config")
	if err != nil {
		return zero, fmt.Errorf("read embedded defaults: %w", err)
	}
	result, err := parse(data)
	if err != nil {
		return zero, fmt.Errorf("parse embedded defaults: %w", err)
	}

	for _, layer := range []struct{ name, path string }{{"global", globalPath}, {"local", localPath}} {
		data, err := readConfigFile(layer.path)
		if err != nil {
			return zero, fmt.Errorf("parse %s config: %w", layer.name, err)
		}
		if data == nil {
			continue
		}
		v, err := parse(data)
		if err != nil {
			return zero, fmt.Errorf("parse %s config: %w", layer.name, err)
		}
		PT(&result).mergeFrom(&v)
	}
	return result, nil
}

// readConfigFile returns the config file content, nil when path is empty, missing or
// holds only comments, so commented templates fall back to embedded defaults.
func readConfigFile(path string) ([]byte, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path) //nolint:gosec // path is constructed internally
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if strings.TrimSpace(stripComments(string(data))) == "" {
		return nil, nil
	}
	return data, nil
}
