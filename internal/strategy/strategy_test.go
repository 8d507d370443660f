package strategy

import (
	"fmt"
	"testing"

	"github.com/tmflab/tmftrader/internal/store"
)

func bar(minute int, o, h, l, c float64) store.Bar {
	return store.Bar{
		TSMin:      fmt.Sprintf("2026-03-11T10:%02d", minute),
		AssetClass: store.AssetFOP,
		Symbol:     "TMFB6",
		Open:       o, High: h, Low: l, Close: c,
		Volume: 10, NTrades: 5, Source: "test",
	}
}

func TestTrendWarmup(t *testing.T) {
	tr := NewTrend(TrendConfig{Qty: 2, Lookback: 5, ATRN: 3, ATRMult: 2})
	for i := 0; i < 4; i++ {
		if sig := tr.OnBar(bar(i, 20000, 20005, 19995, 20000)); sig != nil {
			t.Fatalf("bar %d: signal during warmup: %+v", i, sig)
		}
	}
}

func TestTrendBreakoutUp(t *testing.T) {
	tr := NewTrend(TrendConfig{Qty: 2, Lookback: 5, ATRN: 3, ATRMult: 2})
	// flat range, then a close at the rolling high
	for i := 0; i < 5; i++ {
		tr.OnBar(bar(i, 20000, 20010, 19990, 20000))
	}
	sig := tr.OnBar(bar(5, 20000, 20030, 20000, 20030))
	if sig == nil {
		t.Fatal("expected breakout signal")
	}
	if sig.Side != store.SideBuy || sig.OrderType != store.TypeMarket {
		t.Errorf("signal = %+v", sig)
	}
	if sig.StopPrice == nil || *sig.StopPrice >= sig.Features["c"].(float64) {
		t.Errorf("BUY stop must sit below the close: %+v", sig.StopPrice)
	}
	if sig.Confidence < 0.50 || sig.Confidence > 0.95 {
		t.Errorf("confidence out of band: %g", sig.Confidence)
	}
}

func TestTrendBreakoutDown(t *testing.T) {
	tr := NewTrend(TrendConfig{Qty: 1, Lookback: 5, ATRN: 3, ATRMult: 2})
	for i := 0; i < 5; i++ {
		tr.OnBar(bar(i, 20000, 20010, 19990, 20000))
	}
	sig := tr.OnBar(bar(5, 20000, 20000, 19960, 19960))
	if sig == nil || sig.Side != store.SideSell {
		t.Fatalf("expected SELL breakout, got %+v", sig)
	}
	if sig.StopPrice == nil || *sig.StopPrice <= 19960 {
		t.Errorf("SELL stop must sit above the close: %+v", sig.StopPrice)
	}
}

func TestMeanReversionSignals(t *testing.T) {
	m := NewMeanReversion(MeanReversionConfig{LookbackN: 10, EntryZ: 2, StopPts: 30, Qty: 2, CooldownBars: 3})
	for i := 0; i < 9; i++ {
		if sig := m.OnBar(bar(i, 20000, 20001, 19999, 20000+float64(i%2))); sig != nil {
			t.Fatalf("warmup signal: %+v", sig)
		}
	}
	// a close far below the rolling mean fades long
	sig := m.OnBar(bar(9, 19990, 19991, 19989, 19990))
	if sig == nil || sig.Side != store.SideBuy {
		t.Fatalf("expected BUY fade, got %+v", sig)
	}
	if sig.StopPrice == nil || *sig.StopPrice != 19990-30 {
		t.Errorf("stop = %v, want close-30", sig.StopPrice)
	}
	if sig.Confidence <= 0 || sig.Confidence > 0.99 {
		t.Errorf("confidence out of band: %g", sig.Confidence)
	}

	// cooldown suppresses immediate re-entry
	if sig := m.OnBar(bar(10, 19985, 19986, 19984, 19985)); sig != nil {
		t.Errorf("cooldown violated: %+v", sig)
	}
}

func TestMeanReversionSellSide(t *testing.T) {
	m := NewMeanReversion(MeanReversionConfig{LookbackN: 10, EntryZ: 2, StopPts: 30, Qty: 2, CooldownBars: 3})
	for i := 0; i < 9; i++ {
		m.OnBar(bar(i, 20000, 20001, 19999, 20000+float64(i%2)))
	}
	sig := m.OnBar(bar(9, 20010, 20011, 20009, 20010))
	if sig == nil || sig.Side != store.SideSell {
		t.Fatalf("expected SELL fade, got %+v", sig)
	}
	if sig.StopPrice == nil || *sig.StopPrice != 20010+30 {
		t.Errorf("stop = %v, want close+30", sig.StopPrice)
	}
}

func TestSignalMeta(t *testing.T) {
	stop := 19950.0
	sig := &Signal{
		Side: store.SideBuy, Qty: 2, OrderType: store.TypeMarket,
		StopPrice: &stop, Reason: "test", Confidence: 0.7, ConfidenceRaw: 0.68,
	}
	meta := SignalMeta(sig, "trend_donchian", "v1", 20000, "TMFB6")

	if meta["ref_price"] != 20000.0 {
		t.Errorf("ref_price = %v", meta["ref_price"])
	}
	if meta["stop_price"] != 19950.0 {
		t.Errorf("stop_price = %v", meta["stop_price"])
	}
	strat, _ := meta["strat"].(map[string]any)
	if strat == nil || strat["name"] != "trend_donchian" || strat["version"] != "v1" {
		t.Errorf("strat = %v", meta["strat"])
	}
	if _, ok := meta["attribution_v1"]; !ok {
		t.Errorf("attribution snapshot missing")
	}
}
