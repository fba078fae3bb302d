package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fsadapter "github.com/bft-labs/canlog/internal/adapters/fs"
	"github.com/bft-labs/canlog/internal/cliconfig"
	"github.com/bft-labs/canlog/internal/domain"
)

func writeTestLog(t *testing.T, dir string) string {
	t.Helper()
	layout, err := domain.NewSignalLayout(domain.MessageLayout{ID: 0x25, Signals: []domain.SignalDef{
		{Name: "SteeringAngle", Length: 16, Signed: true, Scale: 0.1, Unit: "deg"},
	}})
	require.NoError(t, err)

	ctx := context.Background()
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	session := domain.Session{ID: "0f8fad5b-d9cb-469f-a165-70867728950e", StartTime: start, Source: "can0"}
	s := fsadapter.NewLogStorage(dir, nil)
	path, err := s.Open(ctx, session, layout)
	require.NoError(t, err)
	require.NoError(t, s.Write(ctx, []domain.DecodedSample{
		{Timestamp: start, FrameID: 0x25, Signal: "SteeringAngle", Value: -3.5, Unit: "deg"},
	}))
	session.Seal(start.Add(time.Second), domain.StatusStoppedByRequest, nil)
	require.NoError(t, s.Close(ctx, session))
	return path
}

func TestDumpLog(t *testing.T) {
	path := writeTestLog(t, t.TempDir())

	var out, info bytes.Buffer
	w := newSampleWriter(&out, true)
	require.NoError(t, dumpLog(path, w, &info))

	assert.Equal(t, "timestamp,can_id,signal,value,unit\n2024-05-01T12:00:00.000000Z,0x25,SteeringAngle,-3.5,deg\n", out.String())
	assert.Contains(t, info.String(), "session 0f8fad5b-d9cb-469f-a165-70867728950e from can0")
	assert.Contains(t, info.String(), "stopped by request")
}

func TestLayoutCheckCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "layout.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[[message]]
id = "0x25"
name = "steering"

[[message.signal]]
name = "SteeringAngle"
bits = [0, 16]
signed = true
scale = 0.1
unit = "deg"
`), 0o644))

	cmd := newLayoutCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"check", path})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "SteeringAngle")
	assert.True(t, strings.HasSuffix(out.String(), "1 messages, 1 signals\n"))
}

func TestLibOptions(t *testing.T) {
	cfg := cliconfig.DefaultConfig()
	assert.Len(t, libOptions(cfg, nil), 1)

	cfg.WatchLayout = true
	cfg.CleanupMaxMB = 100
	cfg.MinFreeMB = 10
	assert.Len(t, libOptions(cfg, nil), 4)
}

func TestLibConfig(t *testing.T) {
	cfg := cliconfig.DefaultConfig()
	cfg.LayoutPath = "vehicle.toml"
	cfg.DataDir = "/data"
	require.NoError(t, cfg.Validate())

	lib := libConfig(cfg)
	assert.Equal(t, "socketcan", lib.Source.Kind)
	assert.Equal(t, "can0", lib.Source.Interface)
	assert.Equal(t, "/data/logs", lib.LogDir)
	assert.Equal(t, "/data/canlog.db", lib.DBPath)
	assert.Equal(t, cfg.Capacity, lib.Capacity)
}
