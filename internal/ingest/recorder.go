// Package ingest records market-data and lifecycle events into the event
// log. A single writer goroutine drains a bounded queue and commits in
// batches (N events or T elapsed, whichever first); on overflow the queue
// drops the OLDEST event and counts the drop rather than blocking the feed.
package ingest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/tmflab/tmftrader/internal/metrics"
	"github.com/tmflab/tmftrader/internal/store"
)

// Config tunes the recorder.
type Config struct {
	QueueSize     int           `yaml:"queue_size"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	// CommitsPerSecond paces batch commits so a burst cannot starve the
	// trading path's store access. Zero disables pacing.
	CommitsPerSecond float64 `yaml:"commits_per_second"`
	Producer         string  `yaml:"producer"`
}

// DefaultConfig returns recorder defaults sized for one feed.
func DefaultConfig() Config {
	return Config{
		QueueSize:        4096,
		BatchSize:        200,
		FlushInterval:    2 * time.Second,
		CommitsPerSecond: 10,
		Producer:         "ingest_v1",
	}
}

// Recorder is the single-writer event recorder.
type Recorder struct {
	store   store.Store
	cfg     Config
	met     *metrics.Registry
	log     zerolog.Logger
	limiter *rate.Limiter

	mu    sync.Mutex
	queue []store.Event
	drops int64

	wake chan struct{}
	done chan struct{}
}

// NewRecorder builds a recorder. met may be nil.
func NewRecorder(st store.Store, cfg Config, met *metrics.Registry, log zerolog.Logger) *Recorder {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultConfig().FlushInterval
	}
	var limiter *rate.Limiter
	if cfg.CommitsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.CommitsPerSecond), 1)
	}
	return &Recorder{
		store:   st,
		cfg:     cfg,
		met:     met,
		log:     log.With().Str("component", "ingest").Logger(),
		limiter: limiter,
		queue:   make([]store.Event, 0, cfg.QueueSize),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// Offer enqueues one event without blocking. On a full queue the oldest
// queued event is dropped and counted.
func (r *Recorder) Offer(kind string, payload map[string]any) {
	now := time.Now()
	ev := store.Event{
		TS:       now,
		Kind:     kind,
		Payload:  store.JSONMap(payload),
		Producer: r.cfg.Producer,
		IngestTS: now,
	}
	r.mu.Lock()
	if len(r.queue) >= r.cfg.QueueSize {
		copy(r.queue, r.queue[1:])
		r.queue = r.queue[:len(r.queue)-1]
		r.drops++
		if r.met != nil {
			r.met.IngestDropsTotal.Inc()
		}
	}
	r.queue = append(r.queue, ev)
	depth := len(r.queue)
	r.mu.Unlock()

	if r.met != nil {
		r.met.IngestQueueDepth.Set(float64(depth))
	}
	if depth >= r.cfg.BatchSize {
		select {
		case r.wake <- struct{}{}:
		default:
		}
	}
}

// Drops returns the total overflow drops so far.
func (r *Recorder) Drops() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.drops
}

// Run drains the queue until ctx is done, then performs a final flush.
func (r *Recorder) Run(ctx context.Context) error {
	defer close(r.done)
	ticker := time.NewTicker(r.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			for {
				r.mu.Lock()
				empty := len(r.queue) == 0
				r.mu.Unlock()
				if empty {
					return nil
				}
				if err := r.flush(flushCtx); err != nil {
					return err
				}
			}
		case <-ticker.C:
		case <-r.wake:
		}
		if err := r.flush(ctx); err != nil {
			// store fault: keep the loop alive, events stay queued
			r.log.Error().Err(err).Msg("ingest flush failed")
		}
	}
}

// flush commits one batch inside a single transaction.
func (r *Recorder) flush(ctx context.Context) error {
	r.mu.Lock()
	if len(r.queue) == 0 {
		r.mu.Unlock()
		return nil
	}
	n := len(r.queue)
	if n > r.cfg.BatchSize {
		n = r.cfg.BatchSize
	}
	// cut the batch out under the lock so Offer's drop-oldest can never
	// shift indexes under a commit in flight
	batch := make([]store.Event, n)
	copy(batch, r.queue[:n])
	r.queue = append(r.queue[:0], r.queue[n:]...)
	r.mu.Unlock()

	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil && ctx.Err() != nil {
			// shutting down: commit without pacing
			_ = err
		}
	}

	err := r.store.Tx(ctx, func(tx store.Store) error {
		for i := range batch {
			if _, err := tx.AppendEvent(ctx, batch[i]); err != nil {
				return fmt.Errorf("failed to append event: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		// put the batch back at the front; retried on the next tick
		r.mu.Lock()
		r.queue = append(batch, r.queue...)
		r.mu.Unlock()
		return err
	}

	r.mu.Lock()
	depth := len(r.queue)
	r.mu.Unlock()

	if r.met != nil {
		r.met.IngestCommitsTotal.Inc()
		r.met.IngestQueueDepth.Set(float64(depth))
		for i := range batch {
			r.met.IngestEventsTotal.WithLabelValues(batch[i].Kind).Inc()
		}
	}
	r.log.Debug().Int("batch", n).Int("depth", depth).Msg("batch committed")
	return nil
}
