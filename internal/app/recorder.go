package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bft-labs/canlog/internal/domain"
	"github.com/bft-labs/canlog/internal/ports"
	"github.com/bft-labs/canlog/internal/ringbuf"
	"github.com/bft-labs/canlog/pkg/log"
)

// Default recorder configuration values.
const (
	DefaultCapacity       = 65536
	DefaultBatchSize      = 1024
	DefaultFlushInterval  = 500 * time.Millisecond
	DefaultStorageGiveUp  = 30 * time.Second
	defaultFlushThreshold = DefaultBatchSize
)

// RecorderConfig holds the buffering and flush policy.
type RecorderConfig struct {
	// Capacity is the maximum number of buffered samples.
	Capacity int
	// BatchSize is the maximum number of samples per storage write.
	BatchSize int
	// FlushThreshold wakes the flush task early when this many samples are buffered.
	FlushThreshold int
	// FlushInterval is the periodic flush tick.
	FlushInterval time.Duration
	// StorageGiveUp is how long storage may fail while samples are being
	// evicted before the error becomes fatal.
	StorageGiveUp time.Duration
	// BackoffInitial and BackoffMax bound the retry delay after a failed write.
	BackoffInitial time.Duration
	BackoffMax     time.Duration
}

// SetDefaults fills zero values.
func (c *RecorderConfig) SetDefaults() {
	if c.Capacity <= 0 {
		c.Capacity = DefaultCapacity
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.FlushThreshold <= 0 {
		c.FlushThreshold = min(defaultFlushThreshold, c.BatchSize)
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = DefaultFlushInterval
	}
	if c.StorageGiveUp <= 0 {
		c.StorageGiveUp = DefaultStorageGiveUp
	}
	if c.BackoffInitial <= 0 {
		c.BackoffInitial = DefaultBackoffInitial
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = DefaultBackoffMax
	}
}

// RecorderObserver receives recorder notifications.
// Calls are made from the flush task and must not block.
type RecorderObserver interface {
	OnBatchFlushed(count int)
	OnStorageError(err error, attempt int)
	OnSamplesEvicted(count uint64)
}

// Recorder buffers decoded samples in a drop-oldest ring and hands them to
// storage in batches.
//
// Record never blocks on storage. A failed batch stays in flight and is
// retried until it is acknowledged; meanwhile new samples keep buffering and
// the oldest are evicted once the ring is full.
type Recorder struct {
	cfg      RecorderConfig
	storage  ports.Storage
	gate     ports.StorageGate
	logger   log.Logger
	observer RecorderObserver
	now      func() time.Time

	// mu guards the ring, the in-flight batch and every counter so that a
	// Stats snapshot always balances.
	mu            sync.Mutex
	ring          *ringbuf.Ring[domain.DecodedSample]
	inflight      []domain.DecodedSample
	produced      uint64
	flushed       uint64
	evicted       uint64
	storageErrors uint64
	failingSince  time.Time
	lossSince     time.Time
	// evictedAtFail is the eviction count at the last failed write.
	evictedAtFail uint64

	reportedEvicted uint64

	kick  chan struct{}
	flush chan struct{} // one flusher at a time; acquired with a context
}

// NewRecorder creates a recorder writing to storage.
// gate and observer may be nil.
func NewRecorder(cfg RecorderConfig, storage ports.Storage, gate ports.StorageGate, logger log.Logger, observer RecorderObserver) *Recorder {
	cfg.SetDefaults()
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	return &Recorder{
		cfg:      cfg,
		storage:  storage,
		gate:     gate,
		logger:   logger,
		observer: observer,
		now:      time.Now,
		ring:     ringbuf.New[domain.DecodedSample](cfg.Capacity),
		inflight: make([]domain.DecodedSample, 0, cfg.BatchSize),
		kick:     make(chan struct{}, 1),
		flush:    make(chan struct{}, 1),
	}
}

// Record enqueues a sample. It never blocks on storage.
func (r *Recorder) Record(s domain.DecodedSample) {
	r.mu.Lock()
	_, evicted := r.ring.Push(s)
	r.produced++
	if evicted {
		r.evicted++
		if !r.failingSince.IsZero() && r.lossSince.IsZero() {
			r.lossSince = r.now()
		}
	}
	n := r.ring.Len()
	r.mu.Unlock()

	if n >= r.cfg.FlushThreshold {
		select {
		case r.kick <- struct{}{}:
		default:
		}
	}
}

// Stats returns a consistent snapshot of the recorder counters.
func (r *Recorder) Stats() domain.Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return domain.Stats{
		Produced:      r.produced,
		Flushed:       r.flushed,
		Evicted:       r.evicted,
		Buffered:      uint64(r.ring.Len() + len(r.inflight)),
		StorageErrors: r.storageErrors,
	}
}

// Run is the flush task. It flushes on every tick and whenever the buffer
// reaches the flush threshold, until ctx is done.
// It returns a StorageError when storage has been failing while samples were
// evicted for longer than StorageGiveUp, and nil when ctx is done.
func (r *Recorder) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-r.kick:
		}

		if err := r.flushAvailable(ctx, false); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// Close drains the ring and the in-flight batch until both are empty or ctx
// is done. Run should have returned before Close is called.
func (r *Recorder) Close(ctx context.Context) error {
	err := r.flushAvailable(ctx, true)
	if remaining := r.Stats().Buffered; remaining > 0 {
		if err == nil {
			err = ctx.Err()
		}
		return domain.NewStorageError("drain", fmt.Errorf("%d samples not flushed: %w", remaining, err))
	}
	return nil
}

// flushAvailable writes batches until the buffer is empty.
// When draining, storage failures never escalate; ctx bounds the retries.
func (r *Recorder) flushAvailable(ctx context.Context, draining bool) error {
	select {
	case r.flush <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-r.flush }()

	bo := newBackoff(r.cfg.BackoffInitial, r.cfg.BackoffMax)
	attempt := 0
	for {
		r.reportEvictions()

		batch := r.take()
		if len(batch) == 0 {
			return nil
		}

		err := r.write(ctx, batch)
		if err == nil {
			r.ack(len(batch))
			if attempt > 0 {
				r.logger.Info("storage recovered", log.Int("attempts", attempt))
			}
			attempt = 0
			bo.Reset()
			if r.observer != nil {
				r.observer.OnBatchFlushed(len(batch))
			}
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		attempt++
		fatal := r.fail()
		r.logger.Warn("storage write failed",
			log.Err(err),
			log.Int("batch", len(batch)),
			log.Int("attempt", attempt),
			log.Duration("retry_in", bo.Current()),
		)
		if r.observer != nil {
			r.observer.OnStorageError(err, attempt)
		}
		if fatal && !draining {
			r.logger.Error("storage unavailable while samples are being lost, giving up",
				log.Duration("give_up", r.cfg.StorageGiveUp),
			)
			return domain.NewStorageError("write", err)
		}
		if !bo.Wait(ctx) {
			return ctx.Err()
		}
	}
}

// take returns the in-flight batch, refilling it from the ring when empty.
func (r *Recorder) take() []domain.DecodedSample {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.inflight) == 0 {
		r.inflight = r.ring.PopBatch(r.inflight[:0], r.cfg.BatchSize)
	}
	return r.inflight
}

func (r *Recorder) write(ctx context.Context, batch []domain.DecodedSample) error {
	if r.gate != nil {
		if err := r.gate.Check(); err != nil {
			return domain.NewStorageError("gate", err)
		}
	}
	return domain.NewStorageError("write", r.storage.Write(ctx, batch))
}

func (r *Recorder) ack(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flushed += uint64(n)
	r.inflight = r.inflight[:0]
	r.failingSince = time.Time{}
	r.lossSince = time.Time{}
}

// fail records a failed write and reports whether the failure is fatal.
// Loss only counts as sustained while samples keep being evicted between
// consecutive failed attempts.
func (r *Recorder) fail() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.storageErrors++
	now := r.now()
	if r.failingSince.IsZero() {
		r.failingSince = now
	} else if r.evicted == r.evictedAtFail {
		r.lossSince = time.Time{}
	}
	r.evictedAtFail = r.evicted
	return !r.lossSince.IsZero() && now.Sub(r.lossSince) >= r.cfg.StorageGiveUp
}

func (r *Recorder) reportEvictions() {
	r.mu.Lock()
	delta := r.evicted - r.reportedEvicted
	r.reportedEvicted = r.evicted
	r.mu.Unlock()

	if delta == 0 {
		return
	}
	r.logger.Warn("buffer full, oldest samples evicted", log.Uint64("count", delta))
	if r.observer != nil {
		r.observer.OnSamplesEvicted(delta)
	}
}
