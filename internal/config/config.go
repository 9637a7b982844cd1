// Package config provides configuration loading and structs for the vismatch server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug       bool              `yaml:"debug"`
	Server      ServerConfig      `yaml:"server"`
	Storage     StorageConfig     `yaml:"storage"`
	Fingerprint FingerprintConfig `yaml:"fingerprint"`
	Search      SearchConfig      `yaml:"search"`
	Ingest      IngestConfig      `yaml:"ingest"`
	Registry    RegistryConfig    `yaml:"registry"`
	Watch       WatchConfig       `yaml:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// StorageConfig holds the image root directory and the fingerprint cache path.
type StorageConfig struct {
	ImageRoot    string `yaml:"image_root"`
	DatabasePath string `yaml:"database_path"`
}

// FingerprintConfig holds fingerprint extractor settings.
// Type selects the algorithm: "average", "difference", "perceptual", or "onnx".
// HashSize is the side length of the hash grid for the hash extractors
// (dimensionality = HashSize*HashSize). Dimensions and ModelPath apply to the
// ONNX extractor only.
type FingerprintConfig struct {
	Type       string `yaml:"type"`
	HashSize   int    `yaml:"hash_size"`
	Dimensions int    `yaml:"dimensions"`
	ModelPath  string `yaml:"model_path"`
}

// SearchConfig holds similarity search settings.
type SearchConfig struct {
	Metric   string `yaml:"metric"`
	DefaultK int    `yaml:"default_k"`
	MaxK     int    `yaml:"max_k"`
}

// IngestConfig holds upload policy settings. When RequireUnique is true,
// ingesting an identifier that already exists in the project is rejected
// instead of replacing the stored record.
type IngestConfig struct {
	RequireUnique bool `yaml:"require_unique"`
}

// RegistryConfig holds per-project index lifecycle settings. IdleTTLMinutes
// enables background eviction of project indexes untouched for that long;
// zero disables eviction.
type RegistryConfig struct {
	IdleTTLMinutes       int `yaml:"idle_ttl_minutes"`
	SweepIntervalMinutes int `yaml:"sweep_interval_minutes"`
}

// WatchConfig holds image-root watch settings.
type WatchConfig struct {
	Enabled    *bool    `yaml:"enabled"`
	Extensions []string `yaml:"extensions"`
}

// EnabledOrDefault returns whether to watch the image root; defaults to true when unset.
func (w *WatchConfig) EnabledOrDefault() bool {
	if w.Enabled != nil {
		return *w.Enabled
	}
	return true
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.ImageRoot = expandPath(cfg.Storage.ImageRoot, configDir)
	cfg.Storage.DatabasePath = expandPath(cfg.Storage.DatabasePath, configDir)
	if cfg.Fingerprint.ModelPath != "" {
		cfg.Fingerprint.ModelPath = expandPath(cfg.Fingerprint.ModelPath, configDir)
	}

	return &cfg, nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
