package source

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bft-labs/canlog/internal/domain"
)

func frame(t *testing.T, id uint32, payload ...byte) domain.RawFrame {
	t.Helper()
	f, err := domain.NewRawFrame(id, payload, time.Unix(0, int64(id)))
	require.NoError(t, err)
	return f
}

func TestScripted_EndsWithBusError(t *testing.T) {
	src := NewScripted(frame(t, 0x25, 1), frame(t, 0x26, 2))
	ctx := context.Background()
	require.NoError(t, src.Open(ctx))

	for _, id := range []uint32{0x25, 0x26} {
		f, err := src.Receive(ctx)
		require.NoError(t, err)
		assert.Equal(t, id, f.ID)
	}

	_, err := src.Receive(ctx)
	assert.True(t, errors.Is(err, domain.ErrBus))
	assert.True(t, errors.Is(err, io.EOF))
}

func TestScripted_CustomEnd(t *testing.T) {
	boom := errors.New("bus-off")
	src := &Scripted{End: boom}
	_, err := src.Receive(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, err, domain.ErrBus)
}

func TestScripted_HoldUntilCancelled(t *testing.T) {
	src := &Scripted{Hold: true}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := src.Receive(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestScripted_CloseUnblocksHold(t *testing.T) {
	src := &Scripted{Hold: true}
	require.NoError(t, src.Open(context.Background()))

	done := make(chan error, 1)
	go func() {
		_, err := src.Receive(context.Background())
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, src.Close())
	require.NoError(t, src.Close())

	select {
	case err := <-done:
		assert.ErrorIs(t, err, domain.ErrBus)
	case <-time.After(time.Second):
		t.Fatal("Receive did not return after Close")
	}
}
