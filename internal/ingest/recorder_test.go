package ingest

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tmflab/tmftrader/internal/store"
	"github.com/tmflab/tmftrader/internal/store/sqlite"
)

func newTestRecorder(t *testing.T, cfg Config) (*Recorder, *sqlite.DB) {
	t.Helper()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "ingest.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewRecorder(db, cfg, nil, zerolog.Nop()), db
}

func TestRecorderDrainsOnShutdown(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CommitsPerSecond = 0 // no pacing in tests
	rec, db := newTestRecorder(t, cfg)

	for i := 0; i < 10; i++ {
		rec.Offer(store.KindTickFOP, map[string]any{"i": i})
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- rec.Run(ctx) }()
	cancel()
	require.NoError(t, <-errCh)

	evs, err := db.EventsByKinds(context.Background(), []string{store.KindTickFOP}, nil)
	require.NoError(t, err)
	assert.Len(t, evs, 10, "final flush must drain the queue")
	assert.Equal(t, "ingest_v1", evs[0].Producer)
	for _, ev := range evs {
		assert.WithinDuration(t, time.Now(), ev.IngestTS, time.Minute,
			"recorded event must carry a real ingest_ts")
	}
}

func TestRecorderBatchFlushWakeup(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BatchSize = 5
	cfg.FlushInterval = time.Hour // only the wake path can flush
	cfg.CommitsPerSecond = 0
	rec, db := newTestRecorder(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- rec.Run(ctx) }()

	for i := 0; i < 5; i++ {
		rec.Offer(store.KindTickFOP, map[string]any{"i": i})
	}

	require.Eventually(t, func() bool {
		evs, err := db.EventsByKinds(context.Background(), []string{store.KindTickFOP}, nil)
		return err == nil && len(evs) == 5
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	require.NoError(t, <-errCh)
}

func TestRecorderDropsOldestOnOverflow(t *testing.T) {
	cfg := DefaultConfig()
	cfg.QueueSize = 3
	cfg.CommitsPerSecond = 0
	rec, db := newTestRecorder(t, cfg)

	for i := 0; i < 5; i++ {
		rec.Offer(store.KindTickFOP, map[string]any{"i": i})
	}
	assert.Equal(t, int64(2), rec.Drops())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- rec.Run(ctx) }()
	cancel()
	require.NoError(t, <-errCh)

	evs, err := db.EventsByKinds(context.Background(), []string{store.KindTickFOP}, nil)
	require.NoError(t, err)
	require.Len(t, evs, 3)
	// the newest three survive
	first, _ := evs[0].Payload["i"].(float64)
	assert.Equal(t, 2.0, first)
}

func TestSeederMarksSynthetic(t *testing.T) {
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "seed.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	ctx := context.Background()

	s := NewSeeder(db, "smoke")
	bookID, err := s.SeedBook(ctx, "TMFB6", 20000, 20001, 10, 10)
	require.NoError(t, err)
	assert.NotZero(t, bookID)
	tickID, err := s.SeedTick(ctx, "TMFB6", 20000.5, 1, true)
	require.NoError(t, err)
	assert.Greater(t, tickID, bookID)

	ev, err := db.LatestEventByKind(ctx, store.KindBookFOP, nil, 0)
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, true, ev.Payload["synthetic"])
	assert.Equal(t, SeedProducerPrefix+"smoke", ev.Producer)
	assert.WithinDuration(t, time.Now(), ev.IngestTS, time.Minute,
		"seeded event must carry a real ingest_ts")

	prices, _ := ev.Payload["bid_price"].([]any)
	require.Len(t, prices, 1)
	assert.Equal(t, 20000.0, prices[0])
}
