// Package config loads compiler configuration from a TOML file, following
// the same load/save shape the reference emulator config package uses.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/BurntSushi/toml"
)

// Config holds every knob the compiler driver exposes beyond the source
// file list itself.
type Config struct {
	Target struct {
		Version    int  `toml:"version"`     // 3 (ZIP), 4 (EZIP) or 5 (XZIP)
		Dedup      bool `toml:"dedup"`       // select abbreviations; identical strings are always merged
		Abbrevs    int  `toml:"abbrevs"`     // max abbreviation table entries, <=96
		MaxLocals  int  `toml:"max_locals"`  // per-routine local variable cap, <=15
		MaxObjects int  `toml:"max_objects"` // object table cap, <=255
	} `toml:"target"`

	Diagnostics struct {
		Verbose    bool `toml:"verbose"`
		MaxErrors  int  `toml:"max_errors"`
		ShowNotes  bool `toml:"show_notes"`
	} `toml:"diagnostics"`

	Output struct {
		Directory string `toml:"directory"`
		KeepTemp  bool   `toml:"keep_temp"`
	} `toml:"output"`
}

// DefaultConfig returns a Config with every field set to the compiler's
// built-in defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Target.Version = 3
	cfg.Target.Dedup = true
	cfg.Target.Abbrevs = 96
	cfg.Target.MaxLocals = 15
	cfg.Target.MaxObjects = 255

	cfg.Diagnostics.Verbose = false
	cfg.Diagnostics.MaxErrors = 50
	cfg.Diagnostics.ShowNotes = true

	cfg.Output.Directory = "."
	cfg.Output.KeepTemp = false

	return cfg
}

// GetConfigPath returns the platform-specific configuration file path.
func GetConfigPath() string {
	var configDir string

	switch runtime.GOOS {
	case "windows":
		configDir = os.Getenv("APPDATA")
		if configDir == "" {
			configDir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
		configDir = filepath.Join(configDir, "zilc")

	case "darwin", "linux":
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "zilc.toml"
		}
		configDir = filepath.Join(homeDir, ".config", "zilc")

	default:
		return "zilc.toml"
	}

	if err := os.MkdirAll(configDir, 0750); err != nil {
		return "zilc.toml"
	}

	return filepath.Join(configDir, "config.toml")
}

// Load loads configuration from the default config file.
func Load() (*Config, error) {
	return LoadFrom(GetConfigPath())
}

// LoadFrom loads configuration from the given path, falling back to
// defaults (not an error) when the file does not exist.
func LoadFrom(path string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// Save saves configuration to the default config file.
func (c *Config) Save() error {
	return c.SaveTo(GetConfigPath())
}

// SaveTo saves configuration to the given path, creating parent
// directories as needed.
func (c *Config) SaveTo(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	if err := encoder.Encode(c); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// Validate rejects configuration values outside the limits the target
// profile and image format impose.
func (c *Config) Validate() error {
	if c.Target.Version < 3 || c.Target.Version > 5 {
		return fmt.Errorf("unsupported target version %d (want 3, 4 or 5)", c.Target.Version)
	}
	if c.Target.Abbrevs < 0 || c.Target.Abbrevs > 96 {
		return fmt.Errorf("abbrevs must be between 0 and 96, got %d", c.Target.Abbrevs)
	}
	if c.Target.MaxLocals < 0 || c.Target.MaxLocals > 15 {
		return fmt.Errorf("max_locals must be between 0 and 15, got %d", c.Target.MaxLocals)
	}
	if c.Target.MaxObjects < 0 || c.Target.MaxObjects > 255 {
		return fmt.Errorf("max_objects must be between 0 and 255, got %d", c.Target.MaxObjects)
	}
	return nil
}
