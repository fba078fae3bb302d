package cliconfig

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestApplyFileConfig(t *testing.T) {
	trueVal := true

	tests := []struct {
		name       string
		fileConfig FileConfig
		changed    map[string]bool
		initial    Config
		expected   Config
		wantErr    bool
	}{
		{
			name: "applies all valid config values",
			fileConfig: FileConfig{
				Source:        "slcan",
				Device:        "/dev/ttyACM0",
				Bitrate:       250000,
				Layout:        "/etc/canlog/car.toml",
				FlushInterval: "1s",
				Capacity:      1024,
				WatchLayout:   &trueVal,
			},
			changed: map[string]bool{},
			initial: Config{},
			expected: Config{
				Source:        "slcan",
				Device:        "/dev/ttyACM0",
				Bitrate:       250000,
				LayoutPath:    "/etc/canlog/car.toml",
				FlushInterval: time.Second,
				Capacity:      1024,
				WatchLayout:   true,
			},
		},
		{
			name: "respects changed flags",
			fileConfig: FileConfig{
				Source:    "candump",
				Interface: "vcan0",
			},
			changed: map[string]bool{"source": true},
			initial: Config{Source: "socketcan"},
			expected: Config{
				Source:    "socketcan", // unchanged because flag was set
				Interface: "vcan0",
			},
		},
		{
			name:       "zero values do not override",
			fileConfig: FileConfig{Capacity: 0, Storage: ""},
			changed:    map[string]bool{},
			initial:    Config{Capacity: 10, Storage: StorageCSV},
			expected:   Config{Capacity: 10, Storage: StorageCSV},
		},
		{
			name:       "returns error for invalid duration",
			fileConfig: FileConfig{StopTimeout: "soon"},
			changed:    map[string]bool{},
			wantErr:    true,
		},
		{
			name: "handles all field types correctly",
			fileConfig: FileConfig{
				Source:         "pcap",
				Interface:      "can1",
				Device:         "/dev/ttyUSB0",
				Baud:           921600,
				Bitrate:        125000,
				File:           "drive.pcapng",
				Realtime:       &trueVal,
				Layout:         "layout.yaml",
				WatchLayout:    &trueVal,
				Storage:        StorageSQLite,
				DataDir:        "/data",
				LogDir:         "/data/logs",
				DBPath:         "/data/db.sqlite",
				CollectorURL:   "http://collector",
				AuthKey:        "secret",
				HTTPTimeout:    "30s",
				Capacity:       4096,
				BatchSize:      256,
				FlushInterval:  "250ms",
				StorageGiveUp:  "1m",
				StopTimeout:    "10s",
				MinFreeMB:      64,
				CleanupMaxMB:   2048,
				CleanupLowMB:   1024,
				LogLevel:       "debug",
				LogFile:        "/var/log/canlog.log",
				StatusInterval: "5s",
			},
			changed: map[string]bool{},
			initial: Config{},
			expected: Config{
				Source:         "pcap",
				Interface:      "can1",
				Device:         "/dev/ttyUSB0",
				Baud:           921600,
				Bitrate:        125000,
				File:           "drive.pcapng",
				Realtime:       true,
				LayoutPath:     "layout.yaml",
				WatchLayout:    true,
				Storage:        StorageSQLite,
				DataDir:        "/data",
				LogDir:         "/data/logs",
				DBPath:         "/data/db.sqlite",
				CollectorURL:   "http://collector",
				AuthKey:        "secret",
				HTTPTimeout:    30 * time.Second,
				Capacity:       4096,
				BatchSize:      256,
				FlushInterval:  250 * time.Millisecond,
				StorageGiveUp:  time.Minute,
				StopTimeout:    10 * time.Second,
				MinFreeMB:      64,
				CleanupMaxMB:   2048,
				CleanupLowMB:   1024,
				LogLevel:       "debug",
				LogFile:        "/var/log/canlog.log",
				StatusInterval: 5 * time.Second,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.initial
			err := ApplyFileConfig(&cfg, tt.fileConfig, tt.changed)

			if tt.wantErr {
				if err == nil {
					t.Error("ApplyFileConfig() expected error but got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("ApplyFileConfig() unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.expected, cfg); diff != "" {
				t.Errorf("config mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestLoadFileConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")

	tomlContent := `
source = "candump"
file = "/data/drive.log"
realtime = true
layout = "/etc/canlog/layout.json"
storage = "csv"
flush_interval = "2s"
capacity = 2048
`
	if err := os.WriteFile(configPath, []byte(tomlContent), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	fc, err := LoadFileConfig(configPath)
	if err != nil {
		t.Fatalf("LoadFileConfig() error: %v", err)
	}
	if fc.Source != "candump" {
		t.Errorf("Source = %v, want candump", fc.Source)
	}
	if fc.Realtime == nil || !*fc.Realtime {
		t.Errorf("Realtime = %v, want true", fc.Realtime)
	}
	if fc.FlushInterval != "2s" {
		t.Errorf("FlushInterval = %v, want 2s", fc.FlushInterval)
	}
	if fc.Capacity != 2048 {
		t.Errorf("Capacity = %v, want 2048", fc.Capacity)
	}

	cfg := DefaultConfig()
	if err := ApplyFileConfig(&cfg, fc, map[string]bool{}); err != nil {
		t.Fatalf("ApplyFileConfig() error: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error: %v", err)
	}
	if cfg.Storage != StorageCSV {
		t.Errorf("Storage = %v, want csv", cfg.Storage)
	}
}

func TestLoadFileConfig_Errors(t *testing.T) {
	if _, err := LoadFileConfig(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Error("expected error for missing file")
	}

	path := filepath.Join(t.TempDir(), "bad.toml")
	if err := os.WriteFile(path, []byte("source = [unterminated"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFileConfig(path); err == nil {
		t.Error("expected error for invalid TOML")
	}
}

func TestDefaultConfigPath(t *testing.T) {
	p := DefaultConfigPath()
	if p == "" {
		t.Skip("no home directory")
	}
	if !strings.HasSuffix(p, filepath.Join(".canlog", "config.toml")) {
		t.Errorf("DefaultConfigPath() = %v", p)
	}
}

func TestFileExists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "x")
	if FileExists(path) {
		t.Error("FileExists() = true for missing file")
	}
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if !FileExists(path) {
		t.Error("FileExists() = false for existing file")
	}
}
