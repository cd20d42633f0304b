package vault

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"
)

// Default vault file names.
const (
	ConfigFile   = "vault.yaml"
	LogFileName  = "events.ndjson"
	KeysFileName = "keys.json"
	ManifestName = "manifest.json"
)

// Config is the per-vault configuration, stored as vault.yaml next to the
// log. Every field has a working default so a bare directory is a valid
// vault.
type Config struct {
	VaultUID     string `yaml:"vault_uid"`
	Actor        string `yaml:"actor"`
	LogFile      string `yaml:"log_file"`
	RegistryFile string `yaml:"registry_file"`
	ManifestFile string `yaml:"manifest_file"`
	// ConflictThreshold overrides the reducer default when set. An explicit 0
	// contests every disagreement; absent means the default.
	ConflictThreshold *float64 `yaml:"conflict_threshold,omitempty"`
}

// DefaultConfig returns the configuration an unconfigured vault runs with.
func DefaultConfig() Config {
	return Config{
		LogFile:      LogFileName,
		RegistryFile: KeysFileName,
		ManifestFile: ManifestName,
	}
}

// LoadConfig reads a vault.yaml, filling defaults for absent fields. A
// missing file yields the default configuration.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("vault: read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("vault: parse config: %w", err)
	}
	if cfg.LogFile == "" {
		cfg.LogFile = LogFileName
	}
	if cfg.RegistryFile == "" {
		cfg.RegistryFile = KeysFileName
	}
	if cfg.ManifestFile == "" {
		cfg.ManifestFile = ManifestName
	}
	return cfg, nil
}

// SaveConfig writes the configuration as vault.yaml.
func SaveConfig(path string, cfg Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("vault: encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("vault: write config: %w", err)
	}
	return nil
}
