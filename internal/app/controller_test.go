package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bft-labs/canlog/internal/domain"
	"github.com/bft-labs/canlog/internal/ports"
	"github.com/bft-labs/canlog/pkg/log"
)

type controllerFixture struct {
	c       *Controller
	source  *chanSource
	storage *memStorage
	repo    *memRepository
	events  *recordingEvents
}

func newFixture(t *testing.T, cfg ControllerConfig) *controllerFixture {
	t.Helper()
	layout, err := domain.NewSignalLayout(domain.MessageLayout{
		ID:   0x25,
		Name: "steering",
		Signals: []domain.SignalDef{{
			Name: "SteeringAngle", Start: 0, Length: 16, Signed: true, Scale: 0.1, Unit: "deg",
		}},
	})
	require.NoError(t, err)

	f := &controllerFixture{
		source:  newChanSource(),
		storage: &memStorage{},
		repo:    &memRepository{},
		events:  &recordingEvents{},
	}
	if cfg.Recorder.FlushInterval == 0 {
		cfg.Recorder.FlushInterval = 5 * time.Millisecond
	}
	if cfg.Recorder.BackoffInitial == 0 {
		cfg.Recorder.BackoffInitial = time.Millisecond
		cfg.Recorder.BackoffMax = 2 * time.Millisecond
	}
	if cfg.StopTimeout == 0 {
		cfg.StopTimeout = time.Second
	}
	f.c, err = NewController(cfg, ControllerDeps{
		Sources:    func() (ports.FrameSource, error) { return f.source, nil },
		Layout:     func() *domain.SignalLayout { return layout },
		Storage:    f.storage,
		Repository: f.repo,
		Logger:     log.NewNoopLogger(),
		Events:     f.events,
	})
	require.NoError(t, err)
	return f
}

func steeringFrame(t *testing.T, raw int16, ts time.Time) domain.RawFrame {
	t.Helper()
	f, err := domain.NewRawFrame(0x25, []byte{byte(raw), byte(uint16(raw) >> 8)}, ts)
	require.NoError(t, err)
	return f
}

func (f *controllerFixture) waitFrames(t *testing.T, n uint64) {
	t.Helper()
	require.Eventually(t, func() bool { return f.c.Stats().Frames == n }, time.Second, time.Millisecond)
}

func TestNewController_RequiresDeps(t *testing.T) {
	_, err := NewController(ControllerConfig{}, ControllerDeps{})
	assert.True(t, errors.Is(err, domain.ErrInvalidConfig))
}

func TestController_StartStopFlushesEverything(t *testing.T) {
	f := newFixture(t, ControllerConfig{Recorder: RecorderConfig{FlushInterval: time.Hour}})

	session, err := f.c.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateActive, f.c.State())
	assert.True(t, session.Active())
	assert.Equal(t, "chan", session.Source)
	assert.Equal(t, "mem://"+session.ID, session.Destination)

	base := time.Unix(1700000000, 0)
	for i := 0; i < 100; i++ {
		f.source.frames <- steeringFrame(t, int16(i), base.Add(time.Duration(i)*time.Millisecond))
	}
	f.waitFrames(t, 100)

	ended, err := f.c.Stop(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StateIdle, f.c.State())
	assert.Equal(t, domain.StatusStoppedByRequest, ended.Status)
	require.NotNil(t, ended.EndTime)
	assert.Equal(t, uint64(100), ended.Stats.Produced)
	assert.Equal(t, uint64(100), ended.Stats.Flushed)
	assert.Zero(t, ended.Stats.Buffered)
	assert.Len(t, f.storage.Samples(), 100)

	require.Len(t, f.storage.closed, 1)
	assert.Equal(t, ended.ID, f.storage.closed[0].ID)
	saved, ok := f.repo.Get(ended.ID)
	require.True(t, ok)
	assert.Equal(t, domain.StatusStoppedByRequest, saved.Status)

	require.Len(t, f.events.Ended(), 1)
	states := f.events.Events()
	require.Len(t, states, 3)
	assert.Equal(t, StateActive, states[0].current)
	assert.Equal(t, StateClosing, states[1].current)
	assert.Equal(t, StateIdle, states[2].current)
}

func TestController_StartWhileActive(t *testing.T) {
	f := newFixture(t, ControllerConfig{})
	_, err := f.c.Start(context.Background())
	require.NoError(t, err)

	_, err = f.c.Start(context.Background())
	assert.True(t, errors.Is(err, domain.ErrAlreadyActive))

	_, err = f.c.Stop(context.Background())
	require.NoError(t, err)
}

func TestController_StopWhileIdle(t *testing.T) {
	f := newFixture(t, ControllerConfig{})

	_, err := f.c.Stop(context.Background())
	assert.True(t, errors.Is(err, domain.ErrNotActive))

	select {
	case <-f.c.Done():
	default:
		t.Error("Done() should be closed while idle")
	}
}

func TestController_BusErrorEndsSession(t *testing.T) {
	f := newFixture(t, ControllerConfig{})
	_, err := f.c.Start(context.Background())
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		f.source.frames <- steeringFrame(t, int16(i), time.Time{})
	}
	f.waitFrames(t, 10)
	f.source.errs <- errors.New("interface down")

	select {
	case <-f.c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not end after bus error")
	}

	ended, err := f.c.Wait(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrBus))
	assert.Equal(t, domain.StatusStoppedBusError, ended.Status)
	assert.Contains(t, ended.Error, "interface down")
	assert.Equal(t, uint64(10), ended.Stats.Flushed)
	assert.Equal(t, StateIdle, f.c.State())

	_, err = f.c.Stop(context.Background())
	assert.True(t, errors.Is(err, domain.ErrNotActive))
}

func TestController_SustainedStorageFailureEndsSession(t *testing.T) {
	f := newFixture(t, ControllerConfig{
		StopTimeout: 50 * time.Millisecond,
		Recorder: RecorderConfig{
			Capacity:      4,
			BatchSize:     2,
			StorageGiveUp: 20 * time.Millisecond,
		},
	})
	f.storage.setFailing(true)
	_, err := f.c.Start(context.Background())
	require.NoError(t, err)

	go func() {
		for i := 0; ; i++ {
			select {
			case <-f.c.Done():
				return
			case f.source.frames <- steeringFrame(t, int16(i), time.Time{}):
			}
			time.Sleep(100 * time.Microsecond)
		}
	}()

	select {
	case <-f.c.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("session did not end on sustained storage failure")
	}

	ended, err := f.c.Wait(context.Background())
	assert.True(t, errors.Is(err, domain.ErrStorage))
	assert.Equal(t, domain.StatusStoppedStorageError, ended.Status)
	assert.NotZero(t, ended.Stats.Evicted)
	assert.True(t, balanced(ended.Stats), "stats %+v", ended.Stats)
}

func TestController_StopDrainFailureIsStorageError(t *testing.T) {
	f := newFixture(t, ControllerConfig{
		StopTimeout: 30 * time.Millisecond,
		Recorder:    RecorderConfig{FlushInterval: time.Hour},
	})
	_, err := f.c.Start(context.Background())
	require.NoError(t, err)
	f.source.frames <- steeringFrame(t, 1, time.Time{})
	f.waitFrames(t, 1)
	f.storage.setFailing(true)

	ended, err := f.c.Stop(context.Background())
	assert.True(t, errors.Is(err, domain.ErrStorage))
	assert.Equal(t, domain.StatusStoppedStorageError, ended.Status)
	assert.Equal(t, uint64(1), ended.Stats.Buffered)
	assert.Equal(t, StateIdle, f.c.State())
}

func TestController_StopIsBounded(t *testing.T) {
	f := newFixture(t, ControllerConfig{StopTimeout: 30 * time.Millisecond})
	f.source.wedged = make(chan struct{})
	defer close(f.source.wedged)

	_, err := f.c.Start(context.Background())
	require.NoError(t, err)

	start := time.Now()
	ended, err := f.c.Stop(context.Background())
	elapsed := time.Since(start)

	assert.True(t, errors.Is(err, domain.ErrStopTimeout))
	assert.Equal(t, domain.StatusStoppedByRequest, ended.Status)
	assert.Equal(t, StateIdle, f.c.State())
	assert.Less(t, elapsed, time.Second)
}

func TestController_ClampsRegressingTimestamps(t *testing.T) {
	f := newFixture(t, ControllerConfig{})
	_, err := f.c.Start(context.Background())
	require.NoError(t, err)

	base := time.Unix(1700000000, 0)
	f.source.frames <- steeringFrame(t, 1, base.Add(2*time.Second))
	f.source.frames <- steeringFrame(t, 2, base.Add(time.Second))
	f.source.frames <- steeringFrame(t, 3, base.Add(3*time.Second))
	f.waitFrames(t, 3)

	ended, err := f.c.Stop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), ended.Stats.Clamped)

	got := f.storage.Samples()
	require.Len(t, got, 3)
	for i := 1; i < len(got); i++ {
		assert.False(t, got[i].Timestamp.Before(got[i-1].Timestamp), "sample %d goes back in time", i)
	}
	assert.Equal(t, base.Add(2*time.Second), got[1].Timestamp)
}

func TestController_CountsUnknownAndShortFrames(t *testing.T) {
	f := newFixture(t, ControllerConfig{})
	_, err := f.c.Start(context.Background())
	require.NoError(t, err)

	unknown, err := domain.NewRawFrame(0x99, []byte{1, 2}, time.Time{})
	require.NoError(t, err)
	short, err := domain.NewRawFrame(0x25, []byte{1}, time.Time{})
	require.NoError(t, err)
	f.source.frames <- unknown
	f.source.frames <- short
	f.source.frames <- steeringFrame(t, 100, time.Time{})
	f.waitFrames(t, 3)

	ended, err := f.c.Stop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), ended.Stats.UnknownFrames)
	assert.Equal(t, uint64(1), ended.Stats.Skipped)
	assert.Equal(t, uint64(1), ended.Stats.Produced)

	got := f.storage.Samples()
	require.Len(t, got, 1)
	assert.InDelta(t, 10.0, got[0].Value, 1e-9)
}

func TestController_ContextCancelStopsSession(t *testing.T) {
	f := newFixture(t, ControllerConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	_, err := f.c.Start(ctx)
	require.NoError(t, err)

	cancel()

	select {
	case <-f.c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not end on context cancellation")
	}
	ended, err := f.c.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.StatusStoppedByRequest, ended.Status)
}

func TestController_SourceOpenFailure(t *testing.T) {
	f := newFixture(t, ControllerConfig{})
	f.source.openErr = errors.New("no such device")

	session, err := f.c.Start(context.Background())
	assert.True(t, errors.Is(err, domain.ErrBus))
	assert.Equal(t, domain.StatusStoppedBusError, session.Status)
	assert.Equal(t, StateIdle, f.c.State())
	require.Len(t, f.storage.closed, 1)
}

func TestController_StorageOpenFailure(t *testing.T) {
	f := newFixture(t, ControllerConfig{})
	f.storage.openErr = errDiskGone

	_, err := f.c.Start(context.Background())
	assert.True(t, errors.Is(err, domain.ErrStorage))
	assert.Equal(t, StateIdle, f.c.State())
}

func TestController_RestartAfterStop(t *testing.T) {
	f := newFixture(t, ControllerConfig{})

	first, err := f.c.Start(context.Background())
	require.NoError(t, err)
	_, err = f.c.Stop(context.Background())
	require.NoError(t, err)

	f.source = newChanSource()
	second, err := f.c.Start(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	_, err = f.c.Stop(context.Background())
	require.NoError(t, err)

	sessions, err := f.repo.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, sessions, 2)
}
