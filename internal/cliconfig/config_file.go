package cliconfig

import (
	"os"
	"path/filepath"

	toml "github.com/pelletier/go-toml/v2"
)

// FileConfig mirrors Config but uses strings for durations to make TOML friendly.
type FileConfig struct {
	Source    string `toml:"source"`
	Interface string `toml:"interface"`
	Device    string `toml:"device"`
	Baud      int    `toml:"baud"`
	Bitrate   int    `toml:"bitrate"`
	File      string `toml:"file"`
	Realtime  *bool  `toml:"realtime"`

	Layout      string `toml:"layout"`
	WatchLayout *bool  `toml:"watch_layout"`

	Storage      string `toml:"storage"`
	DataDir      string `toml:"data_dir"`
	LogDir       string `toml:"log_dir"`
	DBPath       string `toml:"db_path"`
	CollectorURL string `toml:"collector_url"`
	AuthKey      string `toml:"auth_key"`
	HTTPTimeout  string `toml:"http_timeout"`

	Capacity      int    `toml:"capacity"`
	BatchSize     int    `toml:"batch_size"`
	FlushInterval string `toml:"flush_interval"`
	StorageGiveUp string `toml:"storage_give_up"`
	StopTimeout   string `toml:"stop_timeout"`

	MinFreeMB    int `toml:"min_free_mb"`
	CleanupMaxMB int `toml:"cleanup_max_mb"`
	CleanupLowMB int `toml:"cleanup_low_mb"`

	LogLevel       string `toml:"log_level"`
	LogFile        string `toml:"log_file"`
	StatusInterval string `toml:"status_interval"`
}

// LoadFileConfig reads and parses a TOML config file from the given path.
func LoadFileConfig(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	if err := toml.Unmarshal(b, &fc); err != nil {
		return fc, err
	}
	return fc, nil
}

// DefaultConfigPath returns the default configuration file path.
// Returns ~/.canlog/config.toml if user home directory is accessible.
func DefaultConfigPath() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".canlog", "config.toml")
	}
	return ""
}

// ApplyFileConfig applies configuration from a file to the Config struct.
// It respects flags that have been explicitly set (changed map).
func ApplyFileConfig(cfg *Config, fc FileConfig, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("source", fc.Source, &cfg.Source)
	s.setString("interface", fc.Interface, &cfg.Interface)
	s.setString("device", fc.Device, &cfg.Device)
	s.setString("file", fc.File, &cfg.File)
	s.setString("layout", fc.Layout, &cfg.LayoutPath)
	s.setString("storage", fc.Storage, &cfg.Storage)
	s.setString("data-dir", fc.DataDir, &cfg.DataDir)
	s.setString("log-dir", fc.LogDir, &cfg.LogDir)
	s.setString("db", fc.DBPath, &cfg.DBPath)
	s.setString("collector-url", fc.CollectorURL, &cfg.CollectorURL)
	s.setString("auth-key", fc.AuthKey, &cfg.AuthKey)
	s.setString("log-level", fc.LogLevel, &cfg.LogLevel)
	s.setString("log-file", fc.LogFile, &cfg.LogFile)

	if err := s.setDuration("http-timeout", fc.HTTPTimeout, &cfg.HTTPTimeout); err != nil {
		return err
	}
	if err := s.setDuration("flush-interval", fc.FlushInterval, &cfg.FlushInterval); err != nil {
		return err
	}
	if err := s.setDuration("storage-give-up", fc.StorageGiveUp, &cfg.StorageGiveUp); err != nil {
		return err
	}
	if err := s.setDuration("stop-timeout", fc.StopTimeout, &cfg.StopTimeout); err != nil {
		return err
	}
	if err := s.setDuration("status-interval", fc.StatusInterval, &cfg.StatusInterval); err != nil {
		return err
	}

	s.setInt("baud", fc.Baud, &cfg.Baud)
	s.setInt("bitrate", fc.Bitrate, &cfg.Bitrate)
	s.setInt("capacity", fc.Capacity, &cfg.Capacity)
	s.setInt("batch-size", fc.BatchSize, &cfg.BatchSize)
	s.setInt("min-free-mb", fc.MinFreeMB, &cfg.MinFreeMB)
	s.setInt("cleanup-max-mb", fc.CleanupMaxMB, &cfg.CleanupMaxMB)
	s.setInt("cleanup-low-mb", fc.CleanupLowMB, &cfg.CleanupLowMB)

	s.setBool("realtime", fc.Realtime, &cfg.Realtime)
	s.setBool("watch-layout", fc.WatchLayout, &cfg.WatchLayout)

	return nil
}

// FileExists checks if a file exists at the given path.
func FileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
