package main

import (
	"fmt"
	"os"
	"runtime"
	"runtime/debug"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	pflag "github.com/spf13/pflag"

	"github.com/bft-labs/canlog/internal/cliconfig"
	"github.com/bft-labs/canlog/pkg/canlog"
)

const helpDescription = `
Record CAN bus telemetry into durable session logs.

Highlights:
  - Reception never waits for the disk: samples are buffered in a bounded
    ring and flushed in batches; when storage falls behind the oldest
    unwritten samples are dropped and counted.
  - Reads SocketCAN interfaces, SLCAN serial adapters, candump logs and
    pcap captures.
  - Decodes frames with a JSON, TOML or YAML signal layout.
  - Writes JSON lines, CSV, SQLite or a remote collector.
`

var longHelp = strings.TrimSpace(helpDescription)

var exampleUsage = strings.TrimSpace(`
  canlog --interface can0 --layout vehicle.toml
  canlog --source slcan --device /dev/ttyUSB0 --bitrate 250000 --layout vehicle.json --storage sqlite
  canlog --source candump --file drive.log --layout vehicle.yaml --realtime
  canlog dump ~/.canlog/logs/20240501T120000Z_0f8fad5b.canlog
  canlog layout check vehicle.toml
`)

func getVersion() string {
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return canlog.Version
}

func main() {
	cfg := cliconfig.DefaultConfig()
	var cfgPath string

	bootLog := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	root := &cobra.Command{
		Use:           "canlog",
		Short:         "Record CAN bus telemetry into durable session logs",
		Long:          longHelp,
		Example:       exampleUsage,
		Version:       fmt.Sprintf("%s %s/%s", getVersion(), runtime.GOOS, runtime.GOARCH),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := loadConfig(cmd, cfgPath, &cfg); err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runRecord(cmd.Context(), cfg)
		},
	}

	root.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config file (default: $HOME/.canlog/config.toml)")
	root.PersistentFlags().StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "data directory (default: $HOME/.canlog)")
	root.PersistentFlags().StringVar(&cfg.LogDir, "log-dir", cfg.LogDir, "session log directory (default: <data-dir>/logs)")
	root.PersistentFlags().StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite database path (default: <data-dir>/canlog.db)")

	root.Flags().StringVar(&cfg.Source, "source", cfg.Source, "frame source: socketcan, slcan, candump or pcap")
	root.Flags().StringVar(&cfg.Interface, "interface", cfg.Interface, "SocketCAN interface")
	root.Flags().StringVar(&cfg.Device, "device", cfg.Device, "SLCAN serial device")
	root.Flags().IntVar(&cfg.Baud, "baud", cfg.Baud, "SLCAN serial speed")
	root.Flags().IntVar(&cfg.Bitrate, "bitrate", cfg.Bitrate, "CAN bitrate configured on SLCAN adapters")
	root.Flags().StringVar(&cfg.File, "file", cfg.File, "capture file replayed by the candump and pcap sources")
	root.Flags().BoolVar(&cfg.Realtime, "realtime", cfg.Realtime, "replay captures at their recorded rate")

	root.Flags().StringVar(&cfg.LayoutPath, "layout", cfg.LayoutPath, "signal layout file (.json, .toml, .yaml)")
	root.Flags().BoolVar(&cfg.WatchLayout, "watch-layout", cfg.WatchLayout, "reload the layout file for the next session when it changes")

	root.Flags().StringVar(&cfg.Storage, "storage", cfg.Storage, "storage: jsonl, csv, sqlite or http")
	root.Flags().StringVar(&cfg.CollectorURL, "collector-url", cfg.CollectorURL, "collector base URL for http storage")
	root.Flags().StringVar(&cfg.AuthKey, "auth-key", cfg.AuthKey, "collector API key")
	root.Flags().DurationVar(&cfg.HTTPTimeout, "http-timeout", cfg.HTTPTimeout, "collector request timeout")

	root.Flags().IntVar(&cfg.Capacity, "capacity", cfg.Capacity, "ring buffer capacity in samples")
	root.Flags().IntVar(&cfg.BatchSize, "batch-size", cfg.BatchSize, "maximum samples per storage write")
	root.Flags().DurationVar(&cfg.FlushInterval, "flush-interval", cfg.FlushInterval, "flush period")
	root.Flags().DurationVar(&cfg.StorageGiveUp, "storage-give-up", cfg.StorageGiveUp, "end the session after losing samples for this long (0 never)")
	root.Flags().DurationVar(&cfg.StopTimeout, "stop-timeout", cfg.StopTimeout, "maximum time to drain the buffer on stop")

	root.Flags().IntVar(&cfg.MinFreeMB, "min-free-mb", cfg.MinFreeMB, "refuse writes below this much free disk space (0 disables)")
	root.Flags().IntVar(&cfg.CleanupMaxMB, "cleanup-max-mb", cfg.CleanupMaxMB, "remove the oldest session logs above this size (0 disables)")
	root.Flags().IntVar(&cfg.CleanupLowMB, "cleanup-low-mb", cfg.CleanupLowMB, "cleanup target size (default: 80% of cleanup-max-mb)")

	root.Flags().StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level: debug, info, warn, error")
	root.Flags().StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "also write JSON logs to this rotated file")
	root.Flags().DurationVar(&cfg.StatusInterval, "status-interval", cfg.StatusInterval, "log recorder counters at this interval (0 disables)")

	root.AddCommand(
		newDumpCmd(),
		newLayoutCmd(),
		newSessionsCmd(&cfg, &cfgPath),
	)

	if err := root.Execute(); err != nil {
		bootLog.Error().Err(err).Msg("canlog")
		os.Exit(1)
	}
}

// loadConfig layers the config file and CANLOG_* variables under the flags
// set on the command line.
func loadConfig(cmd *cobra.Command, cfgPath string, cfg *cliconfig.Config) error {
	cfgFile := cfgPath
	if cfgFile == "" {
		cfgFile = cliconfig.DefaultConfigPath()
	}

	changed := map[string]bool{}
	cmd.Flags().Visit(func(f *pflag.Flag) { changed[f.Name] = true })

	if cfgFile != "" && cliconfig.FileExists(cfgFile) {
		fc, err := cliconfig.LoadFileConfig(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if err := cliconfig.ApplyFileConfig(cfg, fc, changed); err != nil {
			return err
		}
	} else if cfgPath != "" {
		return fmt.Errorf("config file %s not found", cfgPath)
	}

	return cliconfig.ApplyEnvConfig(cfg, changed)
}
