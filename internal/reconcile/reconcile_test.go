package reconcile

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

func newTestReconciler(t *testing.T) (*Reconciler, *sqlite.DB) {
	t.Helper()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "reconcile.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db, zerolog.Nop()), db
}

func strP(s string) *string { return &s }

func TestRunCleanStore(t *testing.T) {
	r, db := newTestReconciler(t)
	ctx := context.Background()

	rep, err := r.Run(ctx)
	require.NoError(t, err)
	assert.True(t, rep.OK)
	assert.Empty(t, rep.Violations)

	// the run itself leaves an audit row
	hcs, err := db.RecentHealthChecks(ctx, 5)
	require.NoError(t, err)
	require.Len(t, hcs, 1)
	assert.Equal(t, "reconcile", hcs[0].Name)
	assert.Equal(t, "OK", hcs[0].Status)
}

func TestFilledOrderWithoutFills(t *testing.T) {
	r, db := newTestReconciler(t)
	ctx := context.Background()

	require.NoError(t, db.InsertOrder(ctx, &store.Order{
		TS: time.Now(), BrokerOrderID: "GHOST", Symbol: "TMFB6", Side: store.SideBuy,
		Qty: 2, OrderType: store.TypeMarket, Status: store.StatusFilled, FilledQty: 2,
	}))

	rep, err := r.Run(ctx)
	require.NoError(t, err)
	assert.False(t, rep.OK)
	require.Len(t, rep.Violations, 1)
	assert.Equal(t, "filled_order_has_fills", rep.Violations[0].Check)

	hcs, err := db.RecentHealthChecks(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "FAIL", hcs[0].Status)
}

func TestFilledOrderQtySumMismatch(t *testing.T) {
	r, db := newTestReconciler(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, db.InsertOrder(ctx, &store.Order{
		TS: now, BrokerOrderID: "P1", Symbol: "TMFB6", Side: store.SideBuy,
		Qty: 2, OrderType: store.TypeMarket, Status: store.StatusFilled, FilledQty: 2,
	}))
	require.NoError(t, db.InsertFill(ctx, &store.Fill{
		TS: now, BrokerOrderID: "P1", Symbol: "TMFB6", Side: store.SideBuy, Qty: 1, Price: 20000,
	}))

	rep, err := r.Run(ctx)
	require.NoError(t, err)
	assert.False(t, rep.OK)
	require.Len(t, rep.Violations, 1)
	assert.Equal(t, "filled_order_qty_sum", rep.Violations[0].Check)
}

func TestOrphanFill(t *testing.T) {
	r, db := newTestReconciler(t)
	ctx := context.Background()

	require.NoError(t, db.InsertFill(ctx, &store.Fill{
		TS: time.Now(), BrokerOrderID: "NOPE", Symbol: "TMFB6", Side: store.SideBuy, Qty: 1, Price: 20000,
	}))

	rep, err := r.Run(ctx)
	require.NoError(t, err)
	assert.False(t, rep.OK)
	require.Len(t, rep.Violations, 1)
	assert.Equal(t, "fill_has_order", rep.Violations[0].Check)
}

func TestFillSideMismatch(t *testing.T) {
	r, db := newTestReconciler(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, db.InsertOrder(ctx, &store.Order{
		TS: now, BrokerOrderID: "P1", Symbol: "TMFB6", Side: store.SideBuy,
		Qty: 1, OrderType: store.TypeMarket, Status: store.StatusSubmitted,
	}))
	require.NoError(t, db.InsertFill(ctx, &store.Fill{
		TS: now, BrokerOrderID: "P1", Symbol: "TMFB6", Side: store.SideSell, Qty: 1, Price: 20000,
	}))

	rep, err := r.Run(ctx)
	require.NoError(t, err)
	assert.False(t, rep.OK)
	require.Len(t, rep.Violations, 1)
	assert.Equal(t, "fill_order_compatible", rep.Violations[0].Check)
}

func TestIncompleteClosedTrade(t *testing.T) {
	r, db := newTestReconciler(t)
	ctx := context.Background()
	closeTS := time.Now()

	// close_ts set but pnl columns missing
	require.NoError(t, db.InsertTrade(ctx, &store.Trade{
		OpenTS: closeTS.Add(-time.Minute), CloseTS: &closeTS, Symbol: "TMFB6",
		Side: store.DirLong, Qty: 1, Entry: 20000,
	}))

	rep, err := r.Run(ctx)
	require.NoError(t, err)
	assert.False(t, rep.OK)
	require.Len(t, rep.Violations, 1)
	assert.Equal(t, "closed_trade_complete", rep.Violations[0].Check)
}

func TestPositionSideQtyInconsistent(t *testing.T) {
	r, db := newTestReconciler(t)
	ctx := context.Background()

	require.NoError(t, db.UpsertPosition(ctx, store.Position{
		Symbol: "TMFB6", Side: store.DirLong, Qty: 0, AvgPrice: 0,
	}))

	rep, err := r.Run(ctx)
	require.NoError(t, err)
	assert.False(t, rep.OK)
	require.Len(t, rep.Violations, 1)
	assert.Equal(t, "position_side_qty_consistent", rep.Violations[0].Check)
}

func TestRejectEnvelopeAuditAndStats(t *testing.T) {
	r, db := newTestReconciler(t)
	ctx := context.Background()
	now := time.Now()

	// a well-formed reject
	require.NoError(t, db.InsertOrder(ctx, &store.Order{
		TS: now, BrokerOrderID: "R1", Symbol: "TMFB6", Side: store.SideBuy,
		Qty: 1, OrderType: store.TypeMarket, Status: store.StatusRejected,
		Verdict: strP("RISK_STOP_REQUIRED"), Decision: strP("RISK"), Action: strP("REJECT"),
		Meta: store.JSONMap{"reject_decision": map[string]any{
			"code": "RISK_STOP_REQUIRED", "domain": "RISK", "action": "REJECT",
		}},
	}))
	// a reject missing its decision envelope
	require.NoError(t, db.InsertOrder(ctx, &store.Order{
		TS: now, BrokerOrderID: "R2", Symbol: "TMFB6", Side: store.SideBuy,
		Qty: 1, OrderType: store.TypeMarket, Status: store.StatusRejected,
		Verdict: strP("SAFETY_FEED_STALE"),
	}))

	rep, err := r.Run(ctx)
	require.NoError(t, err)
	assert.False(t, rep.OK)
	require.Len(t, rep.Violations, 1)
	assert.Equal(t, "rejected_order_has_decision", rep.Violations[0].Check)

	assert.Equal(t, 1, rep.RejectsByCode["RISK_STOP_REQUIRED"])
	assert.Equal(t, 1, rep.RejectsByClass["RISK"])
	assert.Equal(t, 1, rep.RejectsByAct["REJECT"])
}

func TestEnvSnapshot(t *testing.T) {
	t.Setenv("TMF_FOP_CODE", "TMFB6")
	t.Setenv("TMF_HALT_DATES_CSV", "2026-03-18")

	r, _ := newTestReconciler(t)
	rep, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "TMFB6", rep.Env["TMF_FOP_CODE"])
	assert.Equal(t, "2026-03-18", rep.Env["TMF_HALT_DATES_CSV"])
	_, present := rep.Env["TMF_DB_PATH"]
	assert.False(t, present, "unset keys stay out of the snapshot")
}
