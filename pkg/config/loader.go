package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// yamlFileName is the optional file overlay looked up under the config dir.
const yamlFileName = "docsight.yaml"

// overlayYAML merges docsight.yaml (if present) over the defaults in cfg.
// A missing file is not an error; a malformed file is.
func overlayYAML(cfg *Config, configDir string) error {
	if configDir == "" {
		return nil
	}
	path := filepath.Join(configDir, yamlFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			slog.Debug("No yaml overlay found", "path", path)
			return nil
		}
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	data = []byte(os.ExpandEnv(string(data)))

	var overlay Config
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}

	if err := mergo.Merge(cfg, &overlay, mergo.WithOverride); err != nil {
		return fmt.Errorf("failed to merge %s: %w", path, err)
	}

	slog.Info("Applied yaml overlay", "path", path)
	return nil
}
