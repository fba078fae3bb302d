package app

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/bft-labs/canlog/internal/decode"
	"github.com/bft-labs/canlog/internal/domain"
	"github.com/bft-labs/canlog/internal/ports"
	"github.com/bft-labs/canlog/pkg/log"
)

// DefaultStopTimeout bounds closing a session.
const DefaultStopTimeout = 5 * time.Second

// ControllerConfig holds session controller configuration.
type ControllerConfig struct {
	Recorder    RecorderConfig
	StopTimeout time.Duration
}

// SourceFactory creates the frame source for a new session.
type SourceFactory func() (ports.FrameSource, error)

// LayoutProvider returns the layout to decode the next session with.
type LayoutProvider func() *domain.SignalLayout

// SampleObserver sees every decoded sample after it is recorded.
// It runs on the reception task and must not block.
type SampleObserver func(domain.DecodedSample)

// Events receives controller notifications. Implementations must not block.
type Events interface {
	EventEmitter
	OnBatchFlushed(sessionID string, count int, stats domain.Stats)
	OnStorageError(sessionID string, err error, attempt int)
	OnSamplesEvicted(sessionID string, count uint64)
	OnSessionEnded(session domain.Session)
}

// ControllerDeps are the collaborators of a Controller.
// Repository, Gate, Events and Observer are optional.
type ControllerDeps struct {
	Sources    SourceFactory
	Layout     LayoutProvider
	Storage    ports.Storage
	Repository ports.SessionRepository
	Gate       ports.StorageGate
	Logger     log.Logger
	Events     Events
	Observer   SampleObserver
}

// Controller owns the session lifecycle: it starts and stops the reception
// and flush tasks and seals each session with its terminal status.
type Controller struct {
	cfg       ControllerConfig
	deps      ControllerDeps
	logger    log.Logger
	lifecycle *Lifecycle
	now       func() time.Time

	mu      sync.Mutex
	run     *run
	last    domain.Session
	lastErr error
}

// run is the state of one session.
type run struct {
	session  domain.Session
	source   ports.FrameSource
	layout   *domain.SignalLayout
	recorder *Recorder

	cancelReceive context.CancelFunc
	cancelFlush   context.CancelFunc
	receiveWG     sync.WaitGroup
	flushWG       sync.WaitGroup
	stopping      atomic.Bool

	frames  atomic.Uint64
	unknown atomic.Uint64
	skipped atomic.Uint64
	clamped atomic.Uint64

	closeOnce sync.Once
	done      chan struct{}
	result    domain.Session
	err       error
}

// NewController creates a controller in StateIdle.
func NewController(cfg ControllerConfig, deps ControllerDeps) (*Controller, error) {
	if deps.Sources == nil || deps.Layout == nil || deps.Storage == nil {
		return nil, errors.Join(domain.ErrInvalidConfig, errors.New("source factory, layout and storage are required"))
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}
	cfg.Recorder.SetDefaults()
	logger := deps.Logger
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	var emitter EventEmitter
	if deps.Events != nil {
		emitter = deps.Events
	}
	return &Controller{
		cfg:       cfg,
		deps:      deps,
		logger:    logger,
		lifecycle: NewLifecycle(logger, emitter),
		now:       time.Now,
	}, nil
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	return c.lifecycle.State()
}

// Start opens storage and the frame source and begins recording a new
// session. ctx bounds the session: cancelling it stops the session as if
// Stop had been called. Returns ErrAlreadyActive unless idle.
func (c *Controller) Start(ctx context.Context) (domain.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.run != nil || !c.lifecycle.CanStart() {
		return domain.Session{}, domain.ErrAlreadyActive
	}

	layout := c.deps.Layout()
	if layout == nil {
		return domain.Session{}, domain.ErrInvalidLayout
	}

	source, err := c.deps.Sources()
	if err != nil {
		return domain.Session{}, domain.NewBusError("", err)
	}

	session := domain.Session{
		ID:        uuid.NewString(),
		StartTime: c.now(),
		Source:    source.Name(),
		Status:    domain.StatusActive,
	}

	dest, err := c.deps.Storage.Open(ctx, session, layout)
	if err != nil {
		_ = source.Close()
		return domain.Session{}, domain.NewStorageError("open", err)
	}
	session.Destination = dest

	if err := source.Open(ctx); err != nil {
		err = domain.NewBusError(source.Name(), err)
		_ = source.Close()
		session.Seal(c.now(), domain.StatusStoppedBusError, err)
		if cerr := c.deps.Storage.Close(ctx, session); cerr != nil {
			c.logger.Warn("failed to close storage", log.Err(cerr))
		}
		c.save(ctx, session)
		c.last, c.lastErr = session, err
		return session, err
	}

	r := &run{
		session: session,
		source:  source,
		layout:  layout,
		done:    make(chan struct{}),
	}
	r.recorder = NewRecorder(c.cfg.Recorder, c.deps.Storage, c.deps.Gate, c.logger, runObserver{c: c, r: r})

	receiveCtx, cancelReceive := context.WithCancel(ctx)
	flushCtx, cancelFlush := context.WithCancel(context.Background())
	r.cancelReceive = cancelReceive
	r.cancelFlush = cancelFlush

	if err := c.lifecycle.TransitionTo(StateActive, "Start() called"); err != nil {
		cancelReceive()
		cancelFlush()
		_ = source.Close()
		return domain.Session{}, err
	}
	c.run = r
	c.save(ctx, session)

	r.receiveWG.Add(1)
	go c.receive(receiveCtx, r)
	r.flushWG.Add(1)
	go c.flush(flushCtx, r)

	c.logger.Info("session started",
		log.String("session", session.ID),
		log.String("source", session.Source),
		log.String("destination", session.Destination),
		log.Int("messages", layout.Len()),
	)
	return session, nil
}

// Stop ends the active session: reception is cancelled, every sample
// recorded before the call is flushed and the session is sealed with
// StatusStoppedByRequest. Closing is bounded by the stop timeout.
// If a fatal error is already closing the session, Stop waits for it and
// returns its result. Returns ErrNotActive when idle.
func (c *Controller) Stop(ctx context.Context) (domain.Session, error) {
	c.mu.Lock()
	r := c.run
	c.mu.Unlock()

	if r == nil {
		return domain.Session{}, domain.ErrNotActive
	}

	go c.terminate(r, domain.StatusStoppedByRequest, nil)

	select {
	case <-r.done:
		return r.result, r.err
	case <-ctx.Done():
		return domain.Session{}, ctx.Err()
	}
}

// Wait blocks until the current session ends and returns the sealed session
// and its terminal error. When idle it returns the last session.
func (c *Controller) Wait(ctx context.Context) (domain.Session, error) {
	c.mu.Lock()
	r := c.run
	last, lastErr := c.last, c.lastErr
	c.mu.Unlock()

	if r == nil {
		return last, lastErr
	}
	select {
	case <-r.done:
		return r.result, r.err
	case <-ctx.Done():
		return domain.Session{}, ctx.Err()
	}
}

// Done returns a channel closed when the current session ends.
// When idle the channel is already closed.
func (c *Controller) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.run == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.run.done
}

// Session returns the current session with live stats, or the last sealed
// session when idle. ok is false before the first session.
func (c *Controller) Session() (session domain.Session, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.run != nil {
		s := c.run.session
		s.Stats = c.run.stats()
		return s, true
	}
	return c.last, c.last.ID != ""
}

// Stats returns the counters of the current or last session.
func (c *Controller) Stats() domain.Stats {
	s, _ := c.Session()
	return s.Stats
}

// receive is the reception task: receive, clamp timestamp, decode, record.
func (c *Controller) receive(ctx context.Context, r *run) {
	defer r.receiveWG.Done()

	var last time.Time
	for {
		frame, err := r.source.Receive(ctx)
		if err != nil {
			if r.stopping.Load() {
				return
			}
			if ctx.Err() != nil {
				go c.terminate(r, domain.StatusStoppedByRequest, nil)
				return
			}
			err = domain.NewBusError(r.source.Name(), err)
			c.logger.Error("frame source failed", log.Err(err))
			go c.terminate(r, domain.StatusStoppedBusError, err)
			return
		}

		if frame.Timestamp.IsZero() {
			frame.Timestamp = c.now()
		}
		if frame.Timestamp.Before(last) {
			frame.Timestamp = last
			r.clamped.Add(1)
		}
		last = frame.Timestamp

		r.frames.Add(1)
		res := decode.DecodeFrame(frame, r.layout)
		if !res.Known {
			r.unknown.Add(1)
			continue
		}
		if res.Skipped > 0 {
			r.skipped.Add(uint64(res.Skipped))
		}
		for _, s := range res.Samples {
			r.recorder.Record(s)
			if c.deps.Observer != nil {
				c.deps.Observer(s)
			}
		}
	}
}

// flush runs the recorder flush task and escalates a fatal storage error.
func (c *Controller) flush(ctx context.Context, r *run) {
	defer r.flushWG.Done()

	if err := r.recorder.Run(ctx); err != nil {
		go c.terminate(r, domain.StatusStoppedStorageError, err)
	}
}

// terminate closes r exactly once. Concurrent callers wait for the first
// and share its result.
func (c *Controller) terminate(r *run, status domain.Status, cause error) (domain.Session, error) {
	r.closeOnce.Do(func() {
		r.result, r.err = c.close(r, status, cause)
		close(r.done)
	})
	<-r.done
	return r.result, r.err
}

func (c *Controller) close(r *run, status domain.Status, cause error) (domain.Session, error) {
	r.stopping.Store(true)
	if err := c.lifecycle.TransitionTo(StateClosing, status.String()); err != nil {
		c.logger.Warn("unexpected state while closing", log.Err(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.StopTimeout)
	defer cancel()

	// Reception stops first so nothing is recorded after the drain starts.
	r.cancelReceive()
	if err := r.source.Close(); err != nil {
		c.logger.Debug("source close", log.Err(err))
	}
	var timeoutErr error
	if err := waitGroup(ctx, &r.receiveWG); err != nil {
		c.logger.Warn("reception did not stop in time", log.Duration("timeout", c.cfg.StopTimeout))
		timeoutErr = err
	}

	r.cancelFlush()
	if err := waitGroup(ctx, &r.flushWG); err != nil {
		c.logger.Warn("flush task did not stop in time", log.Duration("timeout", c.cfg.StopTimeout))
		timeoutErr = err
	}

	if err := r.recorder.Close(ctx); err != nil {
		c.logger.Error("failed to flush buffered samples", log.Err(err))
		if status == domain.StatusStoppedByRequest {
			status = domain.StatusStoppedStorageError
			cause = err
		}
	}

	session := r.session
	session.Stats = r.stats()
	session.Seal(c.now(), status, cause)

	if err := c.deps.Storage.Close(ctx, session); err != nil {
		err = domain.NewStorageError("close", err)
		c.logger.Error("failed to close storage", log.Err(err))
		if cause == nil {
			cause = err
			session.Error = err.Error()
		}
	}
	c.save(ctx, session)

	if cause == nil {
		cause = timeoutErr
	}

	c.mu.Lock()
	c.run = nil
	c.last, c.lastErr = session, cause
	c.mu.Unlock()

	if err := c.lifecycle.TransitionTo(StateIdle, status.String()); err != nil {
		c.logger.Warn("unexpected state after closing", log.Err(err))
	}

	c.logger.Info("session ended",
		log.String("session", session.ID),
		log.String("status", session.Status.String()),
		log.Uint64("frames", session.Stats.Frames),
		log.Uint64("flushed", session.Stats.Flushed),
		log.Uint64("evicted", session.Stats.Evicted),
		log.Duration("duration", session.Duration(c.now())),
	)
	if c.deps.Events != nil {
		c.deps.Events.OnSessionEnded(session)
	}
	return session, cause
}

func (c *Controller) save(ctx context.Context, session domain.Session) {
	if c.deps.Repository == nil {
		return
	}
	if err := c.deps.Repository.Save(ctx, session); err != nil {
		c.logger.Warn("failed to record session", log.String("session", session.ID), log.Err(err))
	}
}

// stats merges the reception counters with a recorder snapshot.
func (r *run) stats() domain.Stats {
	s := r.recorder.Stats()
	s.Frames = r.frames.Load()
	s.UnknownFrames = r.unknown.Load()
	s.Skipped = r.skipped.Load()
	s.Clamped = r.clamped.Load()
	return s
}

// runObserver forwards recorder notifications tagged with the session.
type runObserver struct {
	c *Controller
	r *run
}

func (o runObserver) OnBatchFlushed(count int) {
	if o.c.deps.Events != nil {
		o.c.deps.Events.OnBatchFlushed(o.r.session.ID, count, o.r.stats())
	}
}

func (o runObserver) OnStorageError(err error, attempt int) {
	if o.c.deps.Events != nil {
		o.c.deps.Events.OnStorageError(o.r.session.ID, err, attempt)
	}
}

func (o runObserver) OnSamplesEvicted(count uint64) {
	if o.c.deps.Events != nil {
		o.c.deps.Events.OnSamplesEvicted(o.r.session.ID, count)
	}
}
