package strategy

import (
	"fmt"
	"math"

	"github.com/tmflab/tmftrader/internal/store"
)

// TrendConfig tunes the Donchian breakout strategy.
type TrendConfig struct {
	Qty      float64 `yaml:"qty"`
	Lookback int     `yaml:"lookback"`
	ATRN     int     `yaml:"atr_n"`
	ATRMult  float64 `yaml:"atr_mult"`
}

// DefaultTrendConfig returns the standard parameters.
func DefaultTrendConfig() TrendConfig {
	return TrendConfig{Qty: 2, Lookback: 20, ATRN: 14, ATRMult: 2}
}

// Trend is a dual-side Donchian breakout with an ATR stop: BUY when the
// close breaks the rolling high, SELL when it breaks the rolling low.
type Trend struct {
	cfg TrendConfig

	highs  []float64
	lows   []float64
	closes []float64

	atr       float64
	atrSet    bool
	prevClose float64
	prevSet   bool
}

// NewTrend builds a trend strategy.
func NewTrend(cfg TrendConfig) *Trend {
	if cfg.Lookback < 2 {
		cfg.Lookback = 2
	}
	if cfg.ATRN < 1 {
		cfg.ATRN = 1
	}
	return &Trend{cfg: cfg}
}

func (t *Trend) Name() string    { return "trend_donchian" }
func (t *Trend) Version() string { return "v1" }

// updateATR applies Wilder smoothing to the true range.
func (t *Trend) updateATR(h, l, c float64) float64 {
	tr := h - l
	if t.prevSet {
		if hc := math.Abs(h - t.prevClose); hc > tr {
			tr = hc
		}
		if lc := math.Abs(l - t.prevClose); lc > tr {
			tr = lc
		}
	}
	if !t.atrSet {
		t.atr = tr
		t.atrSet = true
	} else {
		n := float64(t.cfg.ATRN)
		t.atr = (t.atr*(n-1) + tr) / n
	}
	t.prevClose = c
	t.prevSet = true
	return t.atr
}

func push(buf []float64, v float64, max int) []float64 {
	buf = append(buf, v)
	if len(buf) > max {
		buf = buf[len(buf)-max:]
	}
	return buf
}

// OnBar implements Strategy.
func (t *Trend) OnBar(bar store.Bar) *Signal {
	t.highs = push(t.highs, bar.High, t.cfg.Lookback)
	t.lows = push(t.lows, bar.Low, t.cfg.Lookback)
	t.closes = push(t.closes, bar.Close, t.cfg.Lookback+2)

	atr := t.updateATR(bar.High, bar.Low, bar.Close)
	if len(t.highs) < t.cfg.Lookback || len(t.lows) < t.cfg.Lookback {
		return nil
	}

	hh, ll := t.highs[0], t.lows[0]
	for _, h := range t.highs {
		if h > hh {
			hh = h
		}
	}
	for _, l := range t.lows {
		if l < ll {
			ll = l
		}
	}
	if hh-ll <= 0 {
		return nil
	}

	c := bar.Close
	var side, reason string
	switch {
	case c >= hh:
		side, reason = store.SideBuy, "trend:donchian_breakout_up"
	case c <= ll:
		side, reason = store.SideSell, "trend:donchian_breakout_down"
	default:
		return nil
	}

	stopDist := math.Max(1e-9, t.cfg.ATRMult*atr)
	stop := c - stopDist
	if side == store.SideSell {
		stop = c + stopDist
	}

	mid := 0.5 * (hh + ll)
	strength := math.Abs(c-mid) / (atr + 1e-9)
	conf := math.Min(0.95, math.Max(0.50, 0.50+0.05*strength))

	return &Signal{
		Side:          side,
		Qty:           t.cfg.Qty,
		OrderType:     store.TypeMarket,
		StopPrice:     &stop,
		Reason:        reason,
		Confidence:    conf,
		ConfidenceRaw: conf,
		Features: map[string]any{
			"c": c, "hh": hh, "ll": ll, "mid": mid, "atr": atr,
			"lookback": t.cfg.Lookback, "atr_mult": t.cfg.ATRMult, "stop_dist": stopDist,
		},
		Tags: map[string]any{"kind": "trend", "impl": "donchian_atr", "dual_side": true},
	}
}

// String describes the strategy for logs.
func (t *Trend) String() string {
	return fmt.Sprintf("trend_donchian(lookback=%d atr_n=%d atr_mult=%g)", t.cfg.Lookback, t.cfg.ATRN, t.cfg.ATRMult)
}
