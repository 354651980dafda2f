package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/avwohl/zorkie-sub001/config"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := config.DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("DefaultConfig should validate: %v", err)
	}
	if cfg.Target.Version != 3 {
		t.Errorf("Target.Version = %d, want 3", cfg.Target.Version)
	}
	if !cfg.Target.Dedup {
		t.Error("Target.Dedup should default to true")
	}
}

func TestValidateRejectsBadVersion(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Target.Version = 9
	if err := cfg.Validate(); err == nil {
		t.Error("expected Validate to reject an out-of-range version")
	}
}

func TestValidateRejectsBadAbbrevs(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Target.Abbrevs = 200
	if err := cfg.Validate(); err == nil {
		t.Error("expected Validate to reject abbrevs > 96")
	}
}

func TestValidateRejectsBadMaxLocals(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Target.MaxLocals = 16
	if err := cfg.Validate(); err == nil {
		t.Error("expected Validate to reject max_locals > 15")
	}
}

func TestSaveThenLoadFromRoundtrips(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Target.Version = 5
	cfg.Target.Abbrevs = 32
	cfg.Diagnostics.Verbose = true

	path := filepath.Join(t.TempDir(), "zilc.toml")
	if err := cfg.SaveTo(path); err != nil {
		t.Fatalf("SaveTo: %v", err)
	}

	loaded, err := config.LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if loaded.Target.Version != 5 || loaded.Target.Abbrevs != 32 || !loaded.Diagnostics.Verbose {
		t.Errorf("unexpected roundtrip: %+v", loaded)
	}
}

func TestLoadFromMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := config.LoadFrom(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	if err != nil {
		t.Fatalf("LoadFrom on a missing file should not error: %v", err)
	}
	if cfg.Target.Version != config.DefaultConfig().Target.Version {
		t.Errorf("expected defaults for a missing config file, got %+v", cfg)
	}
}

func TestLoadFromRejectsMalformedToml(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	if err := os.WriteFile(path, []byte("not = [valid toml"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := config.LoadFrom(path); err == nil {
		t.Error("expected an error loading malformed TOML")
	}
}
