package cliconfig

import "os"

// ApplyEnvConfig applies configuration from environment variables (CANLOG_*).
// It respects flags that have been explicitly set (changed map).
// Returns error if any environment variable has an invalid format.
func ApplyEnvConfig(cfg *Config, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("source", os.Getenv("CANLOG_SOURCE"), &cfg.Source)
	s.setString("interface", os.Getenv("CANLOG_INTERFACE"), &cfg.Interface)
	s.setString("device", os.Getenv("CANLOG_DEVICE"), &cfg.Device)
	s.setString("file", os.Getenv("CANLOG_FILE"), &cfg.File)
	s.setString("layout", os.Getenv("CANLOG_LAYOUT"), &cfg.LayoutPath)
	s.setString("storage", os.Getenv("CANLOG_STORAGE"), &cfg.Storage)
	s.setString("data-dir", os.Getenv("CANLOG_DATA_DIR"), &cfg.DataDir)
	s.setString("log-dir", os.Getenv("CANLOG_LOG_DIR"), &cfg.LogDir)
	s.setString("db", os.Getenv("CANLOG_DB_PATH"), &cfg.DBPath)
	s.setString("collector-url", os.Getenv("CANLOG_COLLECTOR_URL"), &cfg.CollectorURL)
	s.setString("auth-key", os.Getenv("CANLOG_AUTH_KEY"), &cfg.AuthKey)
	s.setString("log-level", os.Getenv("CANLOG_LOG_LEVEL"), &cfg.LogLevel)
	s.setString("log-file", os.Getenv("CANLOG_LOG_FILE"), &cfg.LogFile)

	if err := s.setDuration("http-timeout", os.Getenv("CANLOG_HTTP_TIMEOUT"), &cfg.HTTPTimeout); err != nil {
		return err
	}
	if err := s.setDuration("flush-interval", os.Getenv("CANLOG_FLUSH_INTERVAL"), &cfg.FlushInterval); err != nil {
		return err
	}
	if err := s.setDuration("storage-give-up", os.Getenv("CANLOG_STORAGE_GIVE_UP"), &cfg.StorageGiveUp); err != nil {
		return err
	}
	if err := s.setDuration("stop-timeout", os.Getenv("CANLOG_STOP_TIMEOUT"), &cfg.StopTimeout); err != nil {
		return err
	}
	if err := s.setDuration("status-interval", os.Getenv("CANLOG_STATUS_INTERVAL"), &cfg.StatusInterval); err != nil {
		return err
	}

	for _, e := range []struct {
		flag, env string
		dst       *int
	}{
		{"baud", "CANLOG_BAUD", &cfg.Baud},
		{"bitrate", "CANLOG_BITRATE", &cfg.Bitrate},
		{"capacity", "CANLOG_CAPACITY", &cfg.Capacity},
		{"batch-size", "CANLOG_BATCH_SIZE", &cfg.BatchSize},
		{"min-free-mb", "CANLOG_MIN_FREE_MB", &cfg.MinFreeMB},
		{"cleanup-max-mb", "CANLOG_CLEANUP_MAX_MB", &cfg.CleanupMaxMB},
		{"cleanup-low-mb", "CANLOG_CLEANUP_LOW_MB", &cfg.CleanupLowMB},
	} {
		if err := s.setIntFromString(e.flag, os.Getenv(e.env), e.dst); err != nil {
			return err
		}
	}

	s.setBoolFromString("realtime", os.Getenv("CANLOG_REALTIME"), &cfg.Realtime)
	s.setBoolFromString("watch-layout", os.Getenv("CANLOG_WATCH_LAYOUT"), &cfg.WatchLayout)

	return nil
}
