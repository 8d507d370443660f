package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tmflab/tmftrader/internal/cost"
	"github.com/tmflab/tmftrader/internal/gateway"
	"github.com/tmflab/tmftrader/internal/market"
	"github.com/tmflab/tmftrader/internal/oms"
	"github.com/tmflab/tmftrader/internal/risk"
	"github.com/tmflab/tmftrader/internal/safety"
	"github.com/tmflab/tmftrader/internal/store"
	"github.com/tmflab/tmftrader/internal/store/sqlite"
	"github.com/tmflab/tmftrader/internal/taxonomy"
)

// smokeNow is a regular-session weekday instant; every smoke scenario runs
// against this fixed clock.
var smokeNow = time.Date(2026, 3, 11, 10, 0, 0, 0, time.Local)

func newSmokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "smoke",
		Short: "Run the end-to-end gate-chain scenarios against a throwaway store",
		Long: `Exercises the full decision chain against temporary sqlite stores:
stale-feed rejection, stop-required rejection, market-qty split,
per-trade loss cap, open/close pnl, and cooldown durability across a
simulated restart. Any verdict mismatch exits with code 2.`,
		RunE: runSmoke,
	}
}

// smokeEnv is one wired pipeline over a throwaway store.
type smokeEnv struct {
	db     *sqlite.DB
	costs  *cost.Model
	safety *safety.Engine
	oms    *oms.PaperOMS
	gw     *gateway.Gateway
}

func newSmokeEnv(dbPath string, riskCfg risk.Config) (*smokeEnv, error) {
	db, err := sqlite.Open(dbPath)
	if err != nil {
		return nil, err
	}
	clock := func() time.Time { return smokeNow }
	costs := cost.DefaultModel()

	se := safety.NewEngine(db, db, safety.DefaultConfig(), log.Logger).WithClock(clock)
	re := risk.NewEngine(db, costs, riskCfg, log.Logger).WithClock(clock)
	po := oms.New(db, costs, log.Logger).WithClock(clock)
	cal := market.NewCalendar(nil)
	gw := gateway.New(po, se, cal, re, taxonomy.DefaultPolicy(), gateway.DefaultConfig(), log.Logger).WithClock(clock)

	return &smokeEnv{db: db, costs: costs, safety: se, oms: po, gw: gw}, nil
}

func (s *smokeEnv) close() { _ = s.db.Close() }

// seedBook appends a live-looking book event whose recv_ts sits age before
// the smoke clock.
func (s *smokeEnv) seedBook(ctx context.Context, age time.Duration) error {
	_, err := s.db.AppendEvent(ctx, store.Event{
		TS:   smokeNow.Add(-age),
		Kind: store.KindBookFOP,
		Payload: store.JSONMap{
			"code":       "TMFB6",
			"bid_price":  []any{19999.0},
			"ask_price":  []any{20001.0},
			"bid_volume": []any{50.0},
			"ask_volume": []any{50.0},
			"synthetic":  false,
			"recv_ts":    smokeNow.Add(-age).Format("2006-01-02T15:04:05"),
		},
		Producer: "smoke",
		IngestTS: smokeNow.Add(-age),
	})
	return err
}

func runSmoke(cmd *cobra.Command, args []string) error {
	applyLogLevel(cmd)
	tmp, err := os.MkdirTemp("", "tmftrader-smoke-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmp)

	ctx := cmd.Context()
	scenarios := []struct {
		name string
		run  func(ctx context.Context, dbPath string) error
	}{
		{"stale_feed_rejected", smokeStaleFeed},
		{"stop_required_rejected", smokeStopRequired},
		{"market_qty_split", smokeSplit},
		{"per_trade_loss_cap", smokePerTradeCap},
		{"open_close_pnl", smokeOpenClosePnL},
		{"cooldown_durable", smokeCooldownDurable},
	}

	mismatches := 0
	for _, sc := range scenarios {
		dbPath := filepath.Join(tmp, sc.name+".sqlite")
		if err := sc.run(ctx, dbPath); err != nil {
			mismatches++
			log.Error().Err(err).Str("scenario", sc.name).Msg("smoke FAIL")
			continue
		}
		log.Info().Str("scenario", sc.name).Msg("smoke OK")
	}
	if mismatches > 0 {
		return fmt.Errorf("%w: %d of %d scenarios failed", errSmokeMismatch, mismatches, len(scenarios))
	}
	log.Info().Int("scenarios", len(scenarios)).Msg("smoke passed")
	return nil
}

func smokeStaleFeed(ctx context.Context, dbPath string) error {
	env, err := newSmokeEnv(dbPath, risk.DefaultConfig())
	if err != nil {
		return err
	}
	defer env.close()
	if err := env.seedBook(ctx, 60*time.Second); err != nil {
		return err
	}

	res, err := env.gw.PlaceOrder(ctx, gateway.Intent{
		Symbol: "TMFB6", Side: store.SideBuy, Qty: 2, OrderType: store.TypeMarket,
		Meta: map[string]any{"ref_price": 20000.0},
	})
	if err != nil {
		return err
	}
	if res.OK || res.Safety == nil || res.Safety.Code != safety.CodeFeedStale {
		return fmt.Errorf("expected %s, got %+v", safety.CodeFeedStale, res)
	}
	return nil
}

func smokeStopRequired(ctx context.Context, dbPath string) error {
	env, err := newSmokeEnv(dbPath, risk.DefaultConfig())
	if err != nil {
		return err
	}
	defer env.close()
	if err := env.seedBook(ctx, time.Second); err != nil {
		return err
	}

	res, err := env.gw.PlaceOrder(ctx, gateway.Intent{
		Symbol: "TMFB6", Side: store.SideBuy, Qty: 2, OrderType: store.TypeMarket,
		Meta: map[string]any{"ref_price": 20000.0},
	})
	if err != nil {
		return err
	}
	if res.OK || res.Risk == nil || res.Risk.Code != risk.CodeStopRequired {
		return fmt.Errorf("expected %s, got %+v", risk.CodeStopRequired, res)
	}
	// envelope carries the passing upstream verdicts
	if res.Order == nil {
		return fmt.Errorf("no persisted order on reject")
	}
	if sv, _ := res.Order.Meta["safety_verdict"].(map[string]any); sv == nil || sv["ok"] != true {
		return fmt.Errorf("safety_verdict missing or not ok in envelope")
	}
	if pv, _ := res.Order.Meta["preflight_verdict"].(map[string]any); pv == nil || pv["ok"] != true {
		return fmt.Errorf("preflight_verdict missing or not ok in envelope")
	}
	return nil
}

func smokeSplit(ctx context.Context, dbPath string) error {
	riskCfg := risk.DefaultConfig()
	riskCfg.MaxQtyPerOrder = 25
	riskCfg.StrictRequireStop = 0
	env, err := newSmokeEnv(dbPath, riskCfg)
	if err != nil {
		return err
	}
	defer env.close()
	if err := env.seedBook(ctx, time.Second); err != nil {
		return err
	}

	res, err := env.gw.PlaceOrder(ctx, gateway.Intent{
		Symbol: "TMFB6", Side: store.SideBuy, Qty: 25, OrderType: store.TypeMarket,
		Meta: map[string]any{"ref_price": 20000.0},
	})
	if err != nil {
		return err
	}
	if !res.OK || res.Status != store.StatusSplitSubmitted {
		return fmt.Errorf("expected SPLIT_SUBMITTED, got %+v", res)
	}
	if res.Exec == nil || res.Exec.Code != gateway.CodeOKSplit {
		return fmt.Errorf("expected exec code OK_SPLIT, got %+v", res.Exec)
	}
	want := []float64{10, 10, 5}
	if len(res.Children) != len(want) {
		return fmt.Errorf("expected %d children, got %d", len(want), len(res.Children))
	}
	for i, child := range res.Children {
		if child.Order == nil || math.Abs(child.Order.Qty-want[i]) > 1e-9 {
			return fmt.Errorf("child %d: expected qty %g, got %+v", i, want[i], child.Order)
		}
	}
	return nil
}

func smokePerTradeCap(ctx context.Context, dbPath string) error {
	env, err := newSmokeEnv(dbPath, risk.DefaultConfig())
	if err != nil {
		return err
	}
	defer env.close()
	if err := env.seedBook(ctx, time.Second); err != nil {
		return err
	}

	limit := 20000.0
	res, err := env.gw.PlaceOrder(ctx, gateway.Intent{
		Symbol: "TMFB6", Side: store.SideBuy, Qty: 2, OrderType: store.TypeLimit, Price: &limit,
		Meta: map[string]any{"ref_price": 20000.0, "stop_price": 19900.0},
	})
	if err != nil {
		return err
	}
	if res.OK || res.Risk == nil || res.Risk.Code != risk.CodePerTradeMaxLoss {
		return fmt.Errorf("expected %s, got %+v", risk.CodePerTradeMaxLoss, res)
	}
	if got, _ := res.Risk.Details["per_trade_risk"].(float64); math.Abs(got-2000) > 1e-9 {
		return fmt.Errorf("expected per_trade_risk=2000, got %v", res.Risk.Details["per_trade_risk"])
	}
	return nil
}

func smokeOpenClosePnL(ctx context.Context, dbPath string) error {
	env, err := newSmokeEnv(dbPath, risk.DefaultConfig())
	if err != nil {
		return err
	}
	defer env.close()

	open, err := env.oms.SubmitOrder(ctx, oms.SubmitRequest{
		Symbol: "TMFB6", Side: store.SideBuy, Qty: 2, OrderType: store.TypeMarket,
	})
	if err != nil {
		return err
	}
	if _, err := env.oms.Match(ctx, open, 20000, nil, "smoke_open"); err != nil {
		return err
	}

	limit := 20005.0
	closing, err := env.oms.SubmitOrder(ctx, oms.SubmitRequest{
		Symbol: "TMFB6", Side: store.SideSell, Qty: 2, OrderType: store.TypeLimit, Price: &limit,
	})
	if err != nil {
		return err
	}
	if _, err := env.oms.Match(ctx, closing, 20005, nil, "smoke_close"); err != nil {
		return err
	}

	trades, err := env.db.ClosedTrades(ctx, 1)
	if err != nil {
		return err
	}
	if len(trades) != 1 || trades[0].PnL == nil || trades[0].PnLFraction == nil {
		return fmt.Errorf("expected one complete closed trade, got %+v", trades)
	}
	if math.Abs(*trades[0].PnL-100) > 1e-9 {
		return fmt.Errorf("expected pnl=100, got %g", *trades[0].PnL)
	}
	if math.Abs(*trades[0].PnLFraction-0.00025) > 1e-12 {
		return fmt.Errorf("expected pnl_fraction=0.00025, got %g", *trades[0].PnLFraction)
	}
	return nil
}

func smokeCooldownDurable(ctx context.Context, dbPath string) error {
	env, err := newSmokeEnv(dbPath, risk.DefaultConfig())
	if err != nil {
		return err
	}
	if err := env.seedBook(ctx, time.Second); err != nil {
		env.close()
		return err
	}
	if err := env.safety.RequestCooldown(ctx, 60, "TEST", "smoke cooldown", nil); err != nil {
		env.close()
		return err
	}

	check := func(e *smokeEnv, phase string) error {
		res, err := e.gw.PlaceOrder(ctx, gateway.Intent{
			Symbol: "TMFB6", Side: store.SideBuy, Qty: 2, OrderType: store.TypeMarket,
			Meta: map[string]any{"ref_price": 20000.0, "stop_price": 19950.0},
		})
		if err != nil {
			return err
		}
		if res.OK || res.Safety == nil || res.Safety.Code != safety.CodeCooldownActive {
			return fmt.Errorf("%s: expected %s, got %+v", phase, safety.CodeCooldownActive, res)
		}
		return nil
	}
	if err := check(env, "before restart"); err != nil {
		env.close()
		return err
	}
	env.close()

	// restart: fresh engines over the same store within the cooldown window
	env2, err := newSmokeEnv(dbPath, risk.DefaultConfig())
	if err != nil {
		return err
	}
	defer env2.close()
	return check(env2, "after restart")
}
