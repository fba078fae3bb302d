package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/bft-labs/canlog/internal/cliconfig"
	"github.com/bft-labs/canlog/pkg/canlog"
	"github.com/bft-labs/canlog/pkg/log"
	"github.com/bft-labs/canlog/plugins/layoutwatcher"
)

// runRecord records one session until a signal arrives or the session ends
// on its own.
func runRecord(ctx context.Context, cfg cliconfig.Config) error {
	logger, err := log.NewZerologAdapterWithOptions(log.Options{
		Level: cfg.LogLevel,
		File:  cfg.LogFile,
	})
	if err != nil {
		return err
	}
	defer logger.Close()

	// Log configuration (masking API key)
	logCfg := cfg
	if len(logCfg.AuthKey) > 0 {
		logCfg.AuthKey = "*****"
	}
	logger.Info("configuration", log.Any("config", logCfg))

	c, err := canlog.New(libConfig(cfg), libOptions(cfg, logger)...)
	if err != nil {
		return fmt.Errorf("create canlog: %w", err)
	}

	if ctx == nil {
		ctx = context.Background()
	}
	sigCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	session, err := c.Start(context.Background())
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	logger.Info("recording",
		log.String("session", session.ID),
		log.String("source", session.Source),
		log.String("destination", session.Destination),
	)

	var ticker <-chan time.Time
	if cfg.StatusInterval > 0 {
		t := time.NewTicker(cfg.StatusInterval)
		defer t.Stop()
		ticker = t.C
	}

	var runErr error
loop:
	for {
		select {
		case <-ticker:
			logStats(logger, c.Stats())
		case <-c.Done():
			session, runErr = c.Wait(context.Background())
			break loop
		case <-sigCtx.Done():
			logger.Info("received signal, stopping...")
			stopCtx, cancel := context.WithTimeout(context.Background(), cfg.StopTimeout+time.Second)
			session, runErr = c.Stop(stopCtx)
			cancel()
			if errors.Is(runErr, canlog.ErrNotActive) {
				session, runErr = c.Wait(context.Background())
			}
			break loop
		}
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), cfg.StopTimeout)
	defer cancel()
	if err := c.Close(closeCtx); err != nil {
		logger.Warn("shutdown incomplete", log.Err(err))
	}

	logger.Info("session ended",
		log.String("session", session.ID),
		log.String("status", session.Status.String()),
		log.String("destination", session.Destination),
	)
	logStats(logger, session.Stats)
	if runErr != nil {
		return fmt.Errorf("session %s: %w", session.ID, runErr)
	}
	return nil
}

func libConfig(cfg cliconfig.Config) canlog.Config {
	return canlog.Config{
		Source: canlog.SourceConfig{
			Kind:      cfg.Source,
			Interface: cfg.Interface,
			Device:    cfg.Device,
			Baud:      cfg.Baud,
			Bitrate:   cfg.Bitrate,
			File:      cfg.File,
			Realtime:  cfg.Realtime,
		},
		LayoutPath:    cfg.LayoutPath,
		Storage:       cfg.Storage,
		LogDir:        cfg.LogDir,
		StateDir:      cfg.LogDir,
		DBPath:        cfg.DBPath,
		CollectorURL:  cfg.CollectorURL,
		AuthKey:       cfg.AuthKey,
		HTTPTimeout:   cfg.HTTPTimeout,
		Capacity:      cfg.Capacity,
		BatchSize:     cfg.BatchSize,
		FlushInterval: cfg.FlushInterval,
		StorageGiveUp: cfg.StorageGiveUp,
		StopTimeout:   cfg.StopTimeout,
	}
}

func libOptions(cfg cliconfig.Config, logger canlog.Logger) []canlog.Option {
	opts := []canlog.Option{canlog.WithLogger(logger)}
	if cfg.WatchLayout {
		opts = append(opts, layoutwatcher.WithDefaultLayoutWatcher())
	}
	if cfg.CleanupMaxMB > 0 {
		opts = append(opts, canlog.WithCleanupConfig(canlog.CleanupConfig{
			Enabled:       true,
			HighWatermark: int64(cfg.CleanupMaxMB) << 20,
			LowWatermark:  int64(cfg.CleanupLowMB) << 20,
		}))
	}
	if cfg.MinFreeMB > 0 {
		opts = append(opts, canlog.WithStorageGateConfig(canlog.StorageGateConfig{
			Enabled:      true,
			MinFreeBytes: uint64(cfg.MinFreeMB) << 20,
		}))
	}
	return opts
}

func logStats(logger canlog.Logger, s canlog.Stats) {
	logger.Info("recorder stats",
		log.Uint64("frames", s.Frames),
		log.Uint64("unknown_frames", s.UnknownFrames),
		log.Uint64("produced", s.Produced),
		log.Uint64("flushed", s.Flushed),
		log.Uint64("evicted", s.Evicted),
		log.Uint64("buffered", s.Buffered),
		log.Uint64("storage_errors", s.StorageErrors),
	)
}

