// Package config provides configuration loading and management for mprslicer.
// It loads YAML files, or TOML files when the path ends in .toml, on top of
// default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"mprslicer/pkg/fetch"
	"mprslicer/pkg/logging"
	"mprslicer/pkg/metadata"
	"mprslicer/pkg/volume"
)

// Config represents the application configuration
type Config struct {
	// Loader parameters
	Loader struct {
		// Scheme is the address scheme served, e.g. "mpr" in mpr:/data/stack
		Scheme string `yaml:"scheme" toml:"scheme"`

		// Headers are merged into every HTTP request for stack images
		Headers map[string]string `yaml:"headers" toml:"headers"`

		// HeaderBytes is the size of header range reads
		HeaderBytes int `yaml:"headerBytes" toml:"header_bytes"`

		// UseRangeRead makes header loads fetch only HeaderBytes per image
		UseRangeRead bool `yaml:"useRangeRead" toml:"use_range_read"`
	} `yaml:"loader" toml:"loader"`

	// Processing parameters
	Processing struct {
		// NumCores specifies how many images are fetched and decoded in parallel
		NumCores int `yaml:"numCores" toml:"num_cores"`

		// Interpolation is "trilinear" or "nearest" for oblique planes
		Interpolation string `yaml:"interpolation" toml:"interpolation"`
	} `yaml:"processing" toml:"processing"`

	// Cache parameters
	Cache struct {
		// MetaDataBytes bounds the memory used for per-slice metadata
		MetaDataBytes int `yaml:"metaDataBytes" toml:"metadata_bytes"`
	} `yaml:"cache" toml:"cache"`

	// Server parameters
	Server struct {
		// Address is the listen address of the HTTP server
		Address string `yaml:"address" toml:"address"`

		// CORSOrigins lists the origins allowed to call the server
		CORSOrigins []string `yaml:"corsOrigins" toml:"cors_origins"`
	} `yaml:"server" toml:"server"`

	Logging logging.LogConfig `yaml:"logging" toml:"logging"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Loader.Scheme = "mpr"
	cfg.Loader.Headers = map[string]string{}
	cfg.Loader.HeaderBytes = fetch.DefaultHeaderBytes
	cfg.Loader.UseRangeRead = true

	cfg.Processing.NumCores = runtime.NumCPU() // Use all available cores by default
	cfg.Processing.Interpolation = volume.Trilinear.String()

	cfg.Cache.MetaDataBytes = metadata.DefaultCacheBytes

	cfg.Server.Address = "localhost:8000"

	cfg.Logging.MaxSize = 100
	cfg.Logging.MaxAge = 30

	return cfg
}

// LoadConfig loads configuration from a YAML or TOML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if isTOML(configPath) {
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("error parsing config file: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail later at first use.
func (c *Config) Validate() error {
	if _, err := c.InterpolationMode(); err != nil {
		return fmt.Errorf("invalid processing.interpolation: %w", err)
	}
	if c.Loader.Scheme == "" {
		return fmt.Errorf("loader.scheme must not be empty")
	}
	if c.Processing.NumCores < 0 || c.Loader.HeaderBytes < 0 || c.Cache.MetaDataBytes < 0 {
		return fmt.Errorf("numCores, headerBytes and metaDataBytes must not be negative")
	}
	if c.Cache.MetaDataBytes > 0 && c.Cache.MetaDataBytes < metadata.MinCacheBytes {
		return fmt.Errorf("cache.metaDataBytes must be 0 or at least %d", metadata.MinCacheBytes)
	}
	return nil
}

// InterpolationMode returns the configured oblique sampling mode.
func (c *Config) InterpolationMode() (volume.Interpolation, error) {
	return volume.ParseInterpolation(c.Processing.Interpolation)
}

// SaveConfig saves the configuration to a YAML file, or a TOML file when
// the path ends in .toml
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	var data []byte
	if isTOML(configPath) {
		var b strings.Builder
		if err := toml.NewEncoder(&b).Encode(cfg); err != nil {
			return fmt.Errorf("error marshaling config: %w", err)
		}
		data = []byte(b.String())
	} else {
		var err error
		if data, err = yaml.Marshal(cfg); err != nil {
			return fmt.Errorf("error marshaling config: %w", err)
		}
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}
