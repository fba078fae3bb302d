package canlog

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bft-labs/canlog/pkg/log"
)

func writeSized(t *testing.T, dir, name string, size int) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o644))
	return path
}

func TestWithCleanupConfig_Defaults(t *testing.T) {
	var o options
	WithCleanupConfig(CleanupConfig{Enabled: true, HighWatermark: 1000, LowWatermark: 2000})(&o)
	require.NotNil(t, o.cleanupConfig)
	assert.Equal(t, int64(750), o.cleanupConfig.LowWatermark)
	assert.Equal(t, 10*time.Minute, o.cleanupConfig.CheckInterval)

	o = options{}
	WithCleanupConfig(CleanupConfig{})(&o)
	assert.Nil(t, o.cleanupConfig)
}

func TestCleanupOnce_RemovesOldestToLowWatermark(t *testing.T) {
	dir := t.TempDir()
	oldest := writeSized(t, dir, "20240501T100000Z_aaaaaaaa.canlog", 400)
	older := writeSized(t, dir, "20240501T110000Z_bbbbbbbb.csv", 400)
	newest := writeSized(t, dir, "20240501T120000Z_cccccccc.canlog", 400)
	state := writeSized(t, dir, "sessions.json", 100)

	r := newCleanupRunner(CleanupConfig{HighWatermark: 1000, LowWatermark: 600}, dir, nil, log.NewNoopLogger())
	freed := r.cleanupOnce(context.Background())
	assert.Equal(t, int64(800), freed)

	assert.NoFileExists(t, oldest)
	assert.NoFileExists(t, older)
	assert.FileExists(t, newest)
	assert.FileExists(t, state)
}

func TestCleanupOnce_BelowHighWatermark(t *testing.T) {
	dir := t.TempDir()
	path := writeSized(t, dir, "20240501T100000Z_aaaaaaaa.canlog", 400)

	r := newCleanupRunner(CleanupConfig{HighWatermark: 1000, LowWatermark: 600}, dir, nil, log.NewNoopLogger())
	assert.Zero(t, r.cleanupOnce(context.Background()))
	assert.FileExists(t, path)
}

func TestCleanupOnce_SkipsActiveSession(t *testing.T) {
	dir := t.TempDir()
	active := writeSized(t, dir, "20240501T100000Z_aaaaaaaa.canlog", 600)
	done := writeSized(t, dir, "20240501T110000Z_bbbbbbbb.canlog", 600)

	r := newCleanupRunner(CleanupConfig{HighWatermark: 1000, LowWatermark: 600}, dir,
		func() string { return active }, log.NewNoopLogger())
	assert.Equal(t, int64(600), r.cleanupOnce(context.Background()))
	assert.FileExists(t, active)
	assert.NoFileExists(t, done)
}

func TestCleanupRunner_StartStop(t *testing.T) {
	dir := t.TempDir()
	path := writeSized(t, dir, "20240501T100000Z_aaaaaaaa.canlog", 2000)

	r := newCleanupRunner(CleanupConfig{CheckInterval: time.Hour, HighWatermark: 1000, LowWatermark: 500}, dir, nil, log.NewNoopLogger())
	r.start(context.Background())
	require.Eventually(t, func() bool {
		_, err := os.Stat(path)
		return os.IsNotExist(err)
	}, 2*time.Second, 10*time.Millisecond)
	r.stop()
}
