package bars

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

func newTestBuilder(t *testing.T) (*Builder, *sqlite.DB) {
	t.Helper()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "bars.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db, db, DefaultConfig(), zerolog.Nop()), db
}

func appendTick(t *testing.T, db *sqlite.DB, p store.JSONMap) {
	t.Helper()
	_, err := db.AppendEvent(context.Background(), store.Event{
		TS: time.Date(2026, 3, 11, 10, 0, 0, 0, time.Local), Kind: store.KindTickFOP,
		Payload: p, Producer: "test", IngestTS: time.Now(),
	})
	require.NoError(t, err)
}

func TestBuildAggregatesOHLCV(t *testing.T) {
	b, db := newTestBuilder(t)
	ctx := context.Background()

	// three ticks in one minute, out of price order
	appendTick(t, db, store.JSONMap{"code": "TMFB6", "datetime": "2026-03-11T10:00:05", "price": 20000.0, "volume": 2.0})
	appendTick(t, db, store.JSONMap{"code": "TMFB6", "datetime": "2026-03-11T10:00:30", "price": 20010.0, "volume": 1.0})
	appendTick(t, db, store.JSONMap{"code": "TMFB6", "datetime": "2026-03-11T10:00:55", "price": 19995.0, "volume": 3.0})
	// a tick in the next minute
	appendTick(t, db, store.JSONMap{"code": "TMFB6", "datetime": "2026-03-11T10:01:10", "price": 20002.0, "volume": 1.0})

	rep, err := b.Build(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 4, rep.TickRows)
	assert.Equal(t, 2, rep.BarsUpserted)
	assert.Zero(t, rep.Skipped)
	assert.Zero(t, rep.ParserFaults)

	bars, err := db.RecentBars(ctx, store.AssetFOP, "TMFB6", 10)
	require.NoError(t, err)
	require.Len(t, bars, 2)
	// newest-first
	assert.Equal(t, "2026-03-11T10:01", bars[0].TSMin)
	first := bars[1]
	assert.Equal(t, 20000.0, first.Open)
	assert.Equal(t, 20010.0, first.High)
	assert.Equal(t, 19995.0, first.Low)
	assert.Equal(t, 19995.0, first.Close)
	assert.Equal(t, 6.0, first.Volume)
	assert.Equal(t, 3, first.NTrades)
}

// Re-running over the same events converges to the same rows.
func TestBuildIdempotent(t *testing.T) {
	b, db := newTestBuilder(t)
	ctx := context.Background()

	appendTick(t, db, store.JSONMap{"code": "TMFB6", "datetime": "2026-03-11T10:00:05", "price": 20000.0, "volume": 2.0})
	appendTick(t, db, store.JSONMap{"code": "TMFB6", "datetime": "2026-03-11T10:00:30", "price": 20010.0, "volume": 1.0})

	rep1, err := b.Build(ctx, nil)
	require.NoError(t, err)
	rep2, err := b.Build(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, rep1.BarsUpserted, rep2.BarsUpserted)

	bars, err := db.RecentBars(ctx, store.AssetFOP, "TMFB6", 10)
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.Equal(t, 3, bars[0].NTrades, "rebuild must replace, not accumulate")
}

func TestBuildSkipsAndFaults(t *testing.T) {
	b, db := newTestBuilder(t)
	ctx := context.Background()

	// no symbol
	appendTick(t, db, store.JSONMap{"datetime": "2026-03-11T10:00:05", "price": 20000.0})
	// no price (book-like payload must never fabricate a tick)
	appendTick(t, db, store.JSONMap{"code": "TMFB6", "datetime": "2026-03-11T10:00:06", "bid_price": []any{19999.0}})
	// bad timestamp falls back to the event row ts, counted as a fault
	appendTick(t, db, store.JSONMap{"code": "TMFB6", "datetime": "garbage", "price": 20001.0, "volume": 1.0})

	rep, err := b.Build(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.TickRows)
	assert.Equal(t, 2, rep.Skipped)
	assert.Equal(t, 1, rep.ParserFaults)
	assert.Equal(t, 1, rep.BarsUpserted)
}

// Alternate tick schemas map onto the same bar fields.
func TestBuildSchemaVariants(t *testing.T) {
	b, db := newTestBuilder(t)
	ctx := context.Background()

	appendTick(t, db, store.JSONMap{"symbol": "TMFB6", "ts": "2026-03-11T10:00:05", "deal_price": 20000.0, "qty": 2.0})
	appendTick(t, db, store.JSONMap{"code": "TMFB6", "recv_ts": "2026-03-11T10:00:30", "last_price": "20010", "size": 1})

	rep, err := b.Build(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.TickRows)

	bars, err := db.RecentBars(ctx, store.AssetFOP, "TMFB6", 10)
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.Equal(t, 20010.0, bars[0].Close)
	assert.Equal(t, 3.0, bars[0].Volume)
}

func TestBuildSinceFilter(t *testing.T) {
	b, db := newTestBuilder(t)
	ctx := context.Background()

	early := time.Date(2026, 3, 11, 9, 0, 0, 0, time.Local)
	late := time.Date(2026, 3, 11, 10, 0, 0, 0, time.Local)
	for _, ts := range []time.Time{early, late} {
		_, err := db.AppendEvent(ctx, store.Event{
			TS: ts, Kind: store.KindTickFOP,
			Payload:  store.JSONMap{"code": "TMFB6", "datetime": ts.Format("2006-01-02T15:04:05"), "price": 20000.0},
			IngestTS: ts,
		})
		require.NoError(t, err)
	}

	since := late.Add(-time.Minute)
	rep, err := b.Build(ctx, &since)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.TickRows)
}

func TestMinuteKey(t *testing.T) {
	ts := time.Date(2026, 3, 11, 10, 5, 59, 0, time.Local)
	assert.Equal(t, "2026-03-11T10:05", MinuteKey(ts))
}
