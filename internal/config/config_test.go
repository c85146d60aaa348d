package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	tests := []struct {
		name     string
		got      interface{}
		expected interface{}
	}{
		{"SnapshotPath", cfg.SnapshotPath, ""},
		{"Bits", cfg.Bits, 0},
		{"ByteOrder", cfg.ByteOrder, ""},
		{"MaxPaths", cfg.MaxPaths, 10},
		{"FlowchartCacheSize", cfg.FlowchartCacheSize, 64},
		{"CachePath", cfg.CachePath, ""},
		{"Verbose", cfg.Verbose, false},
		{"JSONLogs", cfg.JSONLogs, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("DefaultConfig().%s = %v, want %v", tt.name, tt.got, tt.expected)
			}
		})
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name        string
		cfg         *Config
		wantErr     bool
		errContains string
	}{
		{
			name:    "defaults are valid",
			cfg:     DefaultConfig(),
			wantErr: false,
		},
		{
			name: "explicit 32-bit little endian",
			cfg: &Config{
				Bits:               32,
				ByteOrder:          "little",
				MaxPaths:           100,
				FlowchartCacheSize: 16,
			},
			wantErr: false,
		},
		{
			name: "unlimited paths",
			cfg: &Config{
				MaxPaths:           -1,
				FlowchartCacheSize: 16,
			},
			wantErr: false,
		},
		{
			name: "invalid bits",
			cfg: &Config{
				Bits:               48,
				FlowchartCacheSize: 16,
			},
			wantErr:     true,
			errContains: "bits",
		},
		{
			name: "invalid byte order",
			cfg: &Config{
				ByteOrder:          "middle",
				FlowchartCacheSize: 16,
			},
			wantErr:     true,
			errContains: "byte_order",
		},
		{
			name: "max paths below -1",
			cfg: &Config{
				MaxPaths:           -2,
				FlowchartCacheSize: 16,
			},
			wantErr:     true,
			errContains: "max_paths",
		},
		{
			name: "zero flowchart cache",
			cfg: &Config{
				MaxPaths: 10,
			},
			wantErr:     true,
			errContains: "flowchart_cache_size",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Validate() = nil, want error containing %q", tt.errContains)
				}
				if !strings.Contains(err.Error(), tt.errContains) {
					t.Errorf("Validate() = %v, want error containing %q", err, tt.errContains)
				}
				return
			}
			if err != nil {
				t.Errorf("Validate() = %v, want nil", err)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	content := `snapshot_path: /tmp/sample.snapshot
bits: 64
byte_order: little
max_paths: 5
flowchart_cache_size: 32
verbose: true
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}

	if cfg.SnapshotPath != "/tmp/sample.snapshot" {
		t.Errorf("SnapshotPath = %q", cfg.SnapshotPath)
	}
	if cfg.Bits != 64 {
		t.Errorf("Bits = %d, want 64", cfg.Bits)
	}
	if cfg.MaxPaths != 5 {
		t.Errorf("MaxPaths = %d, want 5", cfg.MaxPaths)
	}
	if cfg.FlowchartCacheSize != 32 {
		t.Errorf("FlowchartCacheSize = %d, want 32", cfg.FlowchartCacheSize)
	}
	if !cfg.Verbose {
		t.Error("Verbose = false, want true")
	}
}

func TestLoadFromFileMissing(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("LoadFromFile() = nil, want error for missing file")
	}
}

func TestLoadFromFileInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("bits: 48\n"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadFromFile(path); err == nil {
		t.Fatal("LoadFromFile() = nil, want validation error")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("FT_BITS", "32")
	t.Setenv("FT_BYTE_ORDER", "big")
	t.Setenv("FT_MAX_PATHS", "-1")
	t.Setenv("FT_VERBOSE", "1")

	cfg := DefaultConfig()
	applyEnvOverrides(cfg)

	if cfg.Bits != 32 {
		t.Errorf("Bits = %d, want 32", cfg.Bits)
	}
	if cfg.ByteOrder != "big" {
		t.Errorf("ByteOrder = %q, want big", cfg.ByteOrder)
	}
	if cfg.MaxPaths != -1 {
		t.Errorf("MaxPaths = %d, want -1", cfg.MaxPaths)
	}
	if !cfg.Verbose {
		t.Error("Verbose = false, want true")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.yaml")

	cfg := DefaultConfig()
	cfg.SnapshotPath = "/data/sample.yaml"
	cfg.Bits = 64
	cfg.MaxPaths = 20

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}

	if loaded.SnapshotPath != cfg.SnapshotPath {
		t.Errorf("SnapshotPath = %q, want %q", loaded.SnapshotPath, cfg.SnapshotPath)
	}
	if loaded.Bits != cfg.Bits {
		t.Errorf("Bits = %d, want %d", loaded.Bits, cfg.Bits)
	}
	if loaded.MaxPaths != cfg.MaxPaths {
		t.Errorf("MaxPaths = %d, want %d", loaded.MaxPaths, cfg.MaxPaths)
	}
}
