package risk

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

var fixedNow = time.Date(2026, 3, 11, 10, 0, 0, 0, time.Local)

func newTestEngine(t *testing.T, cfg Config) (*Engine, *sqlite.DB) {
	t.Helper()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "risk.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	eng := NewEngine(db, nil, cfg, zerolog.Nop()).WithClock(func() time.Time { return fixedNow })
	return eng, db
}

func okIntent() Intent {
	return Intent{
		Symbol: "TMFB6", Side: store.SideBuy, Qty: 2, EntryPrice: 20000,
		Meta: map[string]any{"stop_price": 19950.0},
	}
}

func TestCheckPreTradePass(t *testing.T) {
	eng, _ := newTestEngine(t, DefaultConfig())
	v, err := eng.CheckPreTrade(context.Background(), okIntent())
	require.NoError(t, err)
	require.True(t, v.OK, "verdict %+v", v)
	// 50 points * 2 contracts * 10 NTD/pt
	assert.Equal(t, 1000.0, v.Details["per_trade_risk"])
}

func TestGateTable(t *testing.T) {
	cases := []struct {
		name     string
		mutate   func(*Intent)
		wantCode string
	}{
		{"symbol_not_allowed", func(in *Intent) { in.Symbol = "NQZ5" }, CodeSymbolNotAllowed},
		{"qty_zero", func(in *Intent) { in.Qty = 0 }, CodeQtyLimit},
		{"qty_over_max", func(in *Intent) { in.Qty = 3 }, CodeQtyLimit},
		{"side_invalid", func(in *Intent) { in.Side = "HOLD" }, CodeSideInvalid},
		{"price_invalid", func(in *Intent) {
			in.EntryPrice = 0
			delete(in.Meta, "stop_price")
			in.Meta["reduce_only"] = true
		}, CodePriceInvalid},
		{"stop_required", func(in *Intent) { delete(in.Meta, "stop_price") }, CodeStopRequired},
		{"stop_nil_is_missing", func(in *Intent) { in.Meta["stop_price"] = nil }, CodeStopRequired},
		{"stop_invalid", func(in *Intent) { in.Meta["stop_price"] = "garbage" }, CodeStopInvalid},
		{"per_trade_max_loss", func(in *Intent) { in.Meta["stop_price"] = 19900.0 }, CodePerTradeMaxLoss},
		{"spread_too_wide", func(in *Intent) {
			in.Meta["market_metrics"] = map[string]any{"spread_points": 5.0}
		}, CodeSpreadTooWide},
		{"vol_too_high", func(in *Intent) {
			in.Meta["market_metrics"] = map[string]any{"atr_points": 200.0}
		}, CodeVolTooHigh},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			eng, _ := newTestEngine(t, DefaultConfig())
			in := okIntent()
			tc.mutate(&in)
			v, err := eng.CheckPreTrade(context.Background(), in)
			require.NoError(t, err)
			assert.False(t, v.OK)
			assert.Equal(t, tc.wantCode, v.Code)
		})
	}
}

// The reject envelope names the computed risk per_trade_risk so envelope
// consumers can read it back.
func TestPerTradeRiskDetailKeys(t *testing.T) {
	eng, _ := newTestEngine(t, DefaultConfig())
	in := okIntent()
	in.Meta["stop_price"] = 19900.0 // 100 pts * 2 contracts * 10 NTD/pt

	v, err := eng.CheckPreTrade(context.Background(), in)
	require.NoError(t, err)
	require.Equal(t, CodePerTradeMaxLoss, v.Code)
	assert.Equal(t, 2000.0, v.Details["per_trade_risk"])
	assert.Equal(t, DefaultConfig().PerTradeMaxLoss, v.Details["per_trade_max_loss"])
}

// MARKET intents with no explicit price derive the entry conservatively:
// BUY pays the ask, SELL hits the bid. ref_price wins over the book.
func TestEntryDerivation(t *testing.T) {
	eng, _ := newTestEngine(t, DefaultConfig())
	ctx := context.Background()

	in := okIntent()
	in.EntryPrice = 0
	in.Meta["market_metrics"] = map[string]any{"bid": 19999.0, "ask": 20001.0}
	v, err := eng.CheckPreTrade(ctx, in)
	require.NoError(t, err)
	require.True(t, v.OK, "verdict %+v", v)
	assert.Equal(t, 20001.0, v.Details["entry_price"])

	in.Side = store.SideSell
	in.Meta["stop_price"] = 20050.0
	v, err = eng.CheckPreTrade(ctx, in)
	require.NoError(t, err)
	require.True(t, v.OK, "verdict %+v", v)
	assert.Equal(t, 19999.0, v.Details["entry_price"])

	in.Meta["ref_price"] = 20010.0
	v, err = eng.CheckPreTrade(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, 20010.0, v.Details["entry_price"])
}

// Closing intents bypass the stop requirement.
func TestReduceOnlySkipsStopGate(t *testing.T) {
	eng, _ := newTestEngine(t, DefaultConfig())
	ctx := context.Background()

	for _, meta := range []map[string]any{
		{"reduce_only": true},
		{"close_only": true},
		{"intent": "CLOSE"},
		{"intent_kind": "EXIT"},
	} {
		in := okIntent()
		in.Meta = meta
		v, err := eng.CheckPreTrade(ctx, in)
		require.NoError(t, err)
		assert.True(t, v.OK, "meta %v: %+v", meta, v)
	}
}

func TestStrictMarketMetrics(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StrictRequireMarketMetrics = 1
	eng, _ := newTestEngine(t, cfg)

	v, err := eng.CheckPreTrade(context.Background(), okIntent())
	require.NoError(t, err)
	assert.Equal(t, CodeMetricsRequired, v.Code)
}

func TestLiquidityGate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinLiquidityScore = 0.5
	eng, _ := newTestEngine(t, cfg)

	in := okIntent()
	// metrics accepted as top-level meta keys too
	in.Meta["liquidity_score"] = 0.2
	v, err := eng.CheckPreTrade(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, CodeLiquidityLow, v.Code)
}

func insertClosedTrade(t *testing.T, db *sqlite.DB, closeTS time.Time, pnl float64) {
	t.Helper()
	exit := 20000.0
	require.NoError(t, db.InsertTrade(context.Background(), &store.Trade{
		OpenTS: closeTS.Add(-time.Minute), CloseTS: &closeTS, Symbol: "TMFB6",
		Side: store.DirLong, Qty: 1, Entry: 20000, Exit: &exit, PnL: &pnl,
	}))
}

func TestDailyMaxLoss(t *testing.T) {
	eng, db := newTestEngine(t, DefaultConfig())
	insertClosedTrade(t, db, fixedNow.Add(-2*time.Hour), -5500)

	v, err := eng.CheckPreTrade(context.Background(), okIntent())
	require.NoError(t, err)
	assert.Equal(t, CodeDailyMaxLoss, v.Code)
	assert.Equal(t, -5500.0, v.Details["today_realized_pnl_ntd"])
}

func TestDailyMaxLossIgnoresYesterday(t *testing.T) {
	eng, db := newTestEngine(t, DefaultConfig())
	insertClosedTrade(t, db, fixedNow.AddDate(0, 0, -1), -9000)

	v, err := eng.CheckPreTrade(context.Background(), okIntent())
	require.NoError(t, err)
	assert.True(t, v.OK, "verdict %+v", v)
}

func TestConsecutiveLossCooldown(t *testing.T) {
	eng, db := newTestEngine(t, DefaultConfig())
	for i := 0; i < 3; i++ {
		insertClosedTrade(t, db, fixedNow.Add(time.Duration(i-10)*time.Minute), -100)
	}

	v, err := eng.CheckPreTrade(context.Background(), okIntent())
	require.NoError(t, err)
	assert.Equal(t, CodeConsecLossCooldown, v.Code)
	assert.Equal(t, 3, v.Details["consecutive_losses"])
}

// Once the cooldown window since the last loss has elapsed, the streak no
// longer blocks.
func TestConsecutiveLossCooldownExpires(t *testing.T) {
	eng, db := newTestEngine(t, DefaultConfig())
	for i := 0; i < 3; i++ {
		insertClosedTrade(t, db, fixedNow.Add(time.Duration(i)*time.Minute-2*time.Hour), -100)
	}

	v, err := eng.CheckPreTrade(context.Background(), okIntent())
	require.NoError(t, err)
	assert.True(t, v.OK, "verdict %+v", v)
}

func TestPointValueOverride(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PointValueBySymbol = map[string]float64{"TMF": 100}
	eng, _ := newTestEngine(t, cfg)

	// 50 pts * 2 qty * 100 NTD/pt = 10000 > 1500 cap
	v, err := eng.CheckPreTrade(context.Background(), okIntent())
	require.NoError(t, err)
	assert.Equal(t, CodePerTradeMaxLoss, v.Code)
}
