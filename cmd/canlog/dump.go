package main

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	fsadapter "github.com/bft-labs/canlog/internal/adapters/fs"
	"github.com/bft-labs/canlog/internal/adapters/sqlite"
	"github.com/bft-labs/canlog/internal/domain"
)

func newDumpCmd() *cobra.Command {
	var (
		asCSV     bool
		sessionID string
	)
	cmd := &cobra.Command{
		Use:   "dump <file>",
		Short: "Print the samples of a session log or SQLite database",
		Long: "Print the samples of a .canlog session log, or of one session in a SQLite database " +
			"(--session). A session log cut short by a crash is read up to its last complete line.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := bufio.NewWriter(cmd.OutOrStdout())
			defer out.Flush()

			w := newSampleWriter(out, asCSV)
			if filepath.Ext(args[0]) == ".db" {
				return dumpDatabase(cmd.Context(), args[0], sessionID, w)
			}
			return dumpLog(args[0], w, cmd.ErrOrStderr())
		},
	}
	cmd.Flags().BoolVar(&asCSV, "csv", false, "print CSV instead of aligned text")
	cmd.Flags().StringVar(&sessionID, "session", "", "session id to dump from a SQLite database")
	return cmd
}

func dumpLog(path string, w *sampleWriter, info io.Writer) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var footer *fsadapter.Footer
	truncated := false
	err = fsadapter.ScanLog(f, func(h fsadapter.Header) error {
		fmt.Fprintf(info, "session %s from %s started %s\n", h.Session, h.Source, h.StartTime.Format(time.RFC3339Nano))
		return nil
	}, w.write, func(ft fsadapter.Footer) {
		footer = &ft
	}, func() {
		truncated = true
	})
	if err != nil {
		return err
	}
	if err := w.flush(); err != nil {
		return err
	}

	switch {
	case footer != nil:
		fmt.Fprintf(info, "%s at %s: %d flushed, %d evicted\n", footer.Status, footer.EndTime.Format(time.RFC3339Nano), footer.Stats.Flushed, footer.Stats.Evicted)
		if footer.Error != "" {
			fmt.Fprintf(info, "error: %s\n", footer.Error)
		}
	case truncated:
		fmt.Fprintln(info, "log ends with a torn line: session did not close cleanly")
	default:
		fmt.Fprintln(info, "no footer: session did not close cleanly")
	}
	return nil
}

func dumpDatabase(ctx context.Context, path, sessionID string, w *sampleWriter) error {
	if sessionID == "" {
		return fmt.Errorf("--session is required for SQLite databases")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	db, err := sqlite.OpenDB(path, nil)
	if err != nil {
		return err
	}
	defer db.Close()

	samples, err := sqlite.ReadSamples(ctx, db, sessionID)
	if err != nil {
		return err
	}
	for _, s := range samples {
		if err := w.write(s); err != nil {
			return err
		}
	}
	return w.flush()
}

// sampleWriter prints samples as aligned text or CSV.
type sampleWriter struct {
	out io.Writer
	csv *csv.Writer
}

func newSampleWriter(out io.Writer, asCSV bool) *sampleWriter {
	w := &sampleWriter{out: out}
	if asCSV {
		w.csv = csv.NewWriter(out)
		_ = w.csv.Write([]string{"timestamp", "can_id", "signal", "value", "unit"})
	}
	return w
}

func (w *sampleWriter) write(s domain.DecodedSample) error {
	ts := s.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z07:00")
	id := fmt.Sprintf("0x%X", s.FrameID)
	value := strconv.FormatFloat(s.Value, 'g', -1, 64)
	if w.csv != nil {
		return w.csv.Write([]string{ts, id, s.Signal, value, s.Unit})
	}
	_, err := fmt.Fprintf(w.out, "%s  %-10s %-24s %14s %s\n", ts, id, s.Signal, value, s.Unit)
	return err
}

func (w *sampleWriter) flush() error {
	if w.csv == nil {
		return nil
	}
	w.csv.Flush()
	return w.csv.Error()
}
