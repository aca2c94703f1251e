// ABOUTME: Background task that persists the dedupe cache after it changes
// ABOUTME: Coalesces dirty signals into debounced saves and does a bounded final save on shutdown

package saver

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/2389/ciri/internal/dedupe"
	"github.com/2389/ciri/internal/metrics"
)

const (
	// DefaultDebounce is how long the saver waits after the first dirty
	// signal so bursts of inserts end up in one write.
	DefaultDebounce = 2 * time.Second

	// DefaultShutdownTimeout bounds the final save on shutdown.
	DefaultShutdownTimeout = 5 * time.Second
)

// Snapshotter produces a consistent copy of the cache.
type Snapshotter interface {
	Snapshot() dedupe.Snapshot
}

// Writer persists a snapshot.
type Writer interface {
	Save(ctx context.Context, snap dedupe.Snapshot) error
}

// Saver writes the cache to its store whenever it has been marked dirty.
//
// Notify never blocks: it sets a dirty flag and does a non-blocking send on a
// channel of capacity one, so any number of signals raised while a save is
// pending or running collapse into a single follow-up save. The flag is
// cleared right before the snapshot is taken, which guarantees the last
// mutation is always covered by some save.
type Saver struct {
	cache    Snapshotter
	store    Writer
	logger   *slog.Logger
	observer metrics.SaveObserver

	debounce        time.Duration
	shutdownTimeout time.Duration

	dirty  atomic.Bool
	wake   chan struct{}
	saveMu sync.Mutex
	saves  atomic.Int64
}

// Option configures a Saver.
type Option func(*Saver)

// WithDebounce sets the delay between the first dirty signal and the save.
// Zero saves immediately.
func WithDebounce(d time.Duration) Option {
	return func(s *Saver) {
		s.debounce = d
	}
}

// WithShutdownTimeout bounds the final save performed when Run stops.
func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Saver) {
		s.shutdownTimeout = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Saver) {
		s.logger = logger
	}
}

// WithObserver reports save outcomes, e.g. to Prometheus.
func WithObserver(o metrics.SaveObserver) Option {
	return func(s *Saver) {
		s.observer = o
	}
}

// New creates a saver for cache writing to store.
func New(cache Snapshotter, store Writer, opts ...Option) *Saver {
	s := &Saver{
		cache:           cache,
		store:           store,
		logger:          slog.Default(),
		observer:        metrics.NoopObserver{},
		debounce:        DefaultDebounce,
		shutdownTimeout: DefaultShutdownTimeout,
		wake:            make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "saver")
	return s
}

// Notify marks the cache dirty and wakes the saver. Safe to call from any
// goroutine; never blocks.
func (s *Saver) Notify() {
	s.dirty.Store(true)
	select {
	case s.wake <- struct{}{}:
	default:
		// A wake-up is already pending and will cover this change.
	}
}

// Dirty reports whether there are changes not yet saved.
func (s *Saver) Dirty() bool {
	return s.dirty.Load()
}

// Saves returns the number of successful save cycles.
func (s *Saver) Saves() int64 {
	return s.saves.Load()
}

// Run saves the cache every time it is notified until ctx is cancelled, then
// performs one final save if anything is left unsaved. Save failures are
// logged and never stop the loop. Run always returns nil.
func (s *Saver) Run(ctx context.Context) error {
	s.logger.Debug("saver started", "debounce", s.debounce)

	for {
		select {
		case <-ctx.Done():
			s.finalSave(ctx)
			return nil
		case <-s.wake:
		}

		if s.debounce > 0 {
			timer := time.NewTimer(s.debounce)
			select {
			case <-ctx.Done():
				timer.Stop()
				s.finalSave(ctx)
				return nil
			case <-timer.C:
			}
		}

		// Signals raised during the debounce window are covered by this save.
		select {
		case <-s.wake:
		default:
		}

		_ = s.save(ctx)
	}
}

// Flush saves immediately if the cache is dirty.
func (s *Saver) Flush(ctx context.Context) error {
	return s.save(ctx)
}

func (s *Saver) finalSave(parent context.Context) {
	if !s.Dirty() {
		s.logger.Debug("saver stopped, nothing to save")
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), s.shutdownTimeout)
	defer cancel()

	if err := s.save(ctx); err != nil {
		s.logger.Warn("final cache save failed, recent history may be lost", "error", err)
		return
	}
	s.logger.Info("final cache save complete")
}

// save snapshots the cache and writes it. No cache lock is held during the
// write. On failure the cache is marked dirty again so the next signal or the
// shutdown save retries.
func (s *Saver) save(ctx context.Context) error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	if !s.dirty.Swap(false) {
		return nil
	}

	start := time.Now()
	snap := s.cache.Snapshot()
	err := s.store.Save(ctx, snap)
	elapsed := time.Since(start)

	if err != nil {
		s.dirty.Store(true)
		s.observer.RecordSave("error", elapsed.Seconds())
		s.logger.Warn("failed to save cache", "error", err, "entries", snap.Entries())
		return err
	}

	s.saves.Add(1)
	s.observer.RecordSave("ok", elapsed.Seconds())
	s.observer.RecordCacheSize(len(snap), snap.Entries())
	s.logger.Debug("cache saved",
		"scopes", len(snap),
		"entries", snap.Entries(),
		"duration", elapsed,
	)
	return nil
}
