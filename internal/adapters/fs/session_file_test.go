package fs

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bft-labs/canlog/internal/domain"
)

func TestSessionFileRepository_Empty(t *testing.T) {
	repo := NewSessionFileRepository(t.TempDir())

	sessions, err := repo.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestSessionFileRepository_SaveAndReplace(t *testing.T) {
	dir := t.TempDir()
	repo := NewSessionFileRepository(dir)
	ctx := context.Background()
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	second := domain.Session{ID: "b", StartTime: start.Add(time.Hour), Status: domain.StatusActive}
	first := domain.Session{ID: "a", StartTime: start, Status: domain.StatusActive}
	require.NoError(t, repo.Save(ctx, second))
	require.NoError(t, repo.Save(ctx, first))

	first.Seal(start.Add(time.Minute), domain.StatusStoppedBusError, domain.NewBusError("can0", os.ErrClosed))
	first.Stats = domain.Stats{Frames: 10, Produced: 20, Flushed: 20}
	require.NoError(t, repo.Save(ctx, first))

	// A fresh repository reads what the first one wrote.
	sessions, err := NewSessionFileRepository(dir).List(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "a", sessions[0].ID)
	assert.Equal(t, "b", sessions[1].ID)
	assert.Equal(t, domain.StatusStoppedBusError, sessions[0].Status)
	assert.Equal(t, uint64(20), sessions[0].Stats.Flushed)
	require.NotNil(t, sessions[0].EndTime)
	assert.True(t, sessions[0].EndTime.Equal(start.Add(time.Minute)))
	assert.True(t, sessions[1].Active())

	_, err = os.Stat(repo.Path() + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file left behind")
}

func TestSessionFileRepository_Corrupt(t *testing.T) {
	dir := t.TempDir()
	repo := NewSessionFileRepository(dir)
	require.NoError(t, os.WriteFile(repo.Path(), []byte("{not json"), 0o600))

	_, err := repo.List(context.Background())
	assert.Error(t, err)
}
