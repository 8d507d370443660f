package strategy

import (
	"fmt"
	"math"

	"github.com/tmflab/tmftrader/internal/store"
)

// MeanReversionConfig tunes the z-score strategy.
type MeanReversionConfig struct {
	LookbackN    int     `yaml:"lookback_n"`
	EntryZ       float64 `yaml:"entry_z"`
	StopPts      float64 `yaml:"stop_pts"`
	Qty          float64 `yaml:"qty"`
	CooldownBars int     `yaml:"cooldown_bars"`
}

// DefaultMeanReversionConfig returns the standard parameters.
func DefaultMeanReversionConfig() MeanReversionConfig {
	return MeanReversionConfig{LookbackN: 40, EntryZ: 2, StopPts: 30, Qty: 2, CooldownBars: 5}
}

// MeanReversion fades z-score extremes: BUY when the close sits entry_z
// stdevs below the rolling mean, SELL when it sits above. A bar-indexed
// cooldown throttles repeated signals, which stays correct in replay where
// wall-clock time is meaningless.
type MeanReversion struct {
	cfg MeanReversionConfig

	closes      []float64
	barIndex    int
	lastSignal  int
	hasSignaled bool
}

// NewMeanReversion builds a mean-reversion strategy.
func NewMeanReversion(cfg MeanReversionConfig) *MeanReversion {
	if cfg.LookbackN < 2 {
		cfg.LookbackN = 2
	}
	return &MeanReversion{cfg: cfg}
}

func (m *MeanReversion) Name() string    { return "mean_reversion_zscore" }
func (m *MeanReversion) Version() string { return "v1" }

func stdev(xs []float64) float64 {
	n := len(xs)
	if n <= 1 {
		return 0
	}
	mu := 0.0
	for _, x := range xs {
		mu += x
	}
	mu /= float64(n)
	variance := 0.0
	for _, x := range xs {
		variance += (x - mu) * (x - mu)
	}
	return math.Sqrt(variance / float64(n))
}

// OnBar implements Strategy.
func (m *MeanReversion) OnBar(bar store.Bar) *Signal {
	m.barIndex++
	m.closes = push(m.closes, bar.Close, m.cfg.LookbackN)
	if len(m.closes) < m.cfg.LookbackN {
		return nil
	}
	if m.hasSignaled && m.barIndex-m.lastSignal < m.cfg.CooldownBars {
		return nil
	}

	c := m.closes[len(m.closes)-1]
	mu := 0.0
	for _, x := range m.closes {
		mu += x
	}
	mu /= float64(len(m.closes))
	sd := stdev(m.closes)
	if sd <= 0 {
		return nil
	}
	z := (c - mu) / sd

	var side, reason string
	switch {
	case z <= -math.Abs(m.cfg.EntryZ):
		side = store.SideBuy
		reason = fmt.Sprintf("meanrev:z_le(-%g)", m.cfg.EntryZ)
	case z >= math.Abs(m.cfg.EntryZ):
		side = store.SideSell
		reason = fmt.Sprintf("meanrev:z_ge(+%g)", m.cfg.EntryZ)
	default:
		return nil
	}

	stop := c - m.cfg.StopPts
	if side == store.SideSell {
		stop = c + m.cfg.StopPts
	}

	zAbs := math.Abs(z)
	confRaw := math.Min(0.99, math.Max(0.05, zAbs/(math.Abs(m.cfg.EntryZ)*2)))
	conf := math.Min(0.99, confRaw*1.03)

	m.lastSignal = m.barIndex
	m.hasSignaled = true
	return &Signal{
		Side:          side,
		Qty:           m.cfg.Qty,
		OrderType:     store.TypeMarket,
		StopPrice:     &stop,
		Reason:        reason,
		Confidence:    conf,
		ConfidenceRaw: confRaw,
		Features: map[string]any{
			"c": c, "mean": mu, "stdev": sd, "z": z,
			"entry_z": m.cfg.EntryZ, "stop_pts": m.cfg.StopPts, "lookback_n": m.cfg.LookbackN,
		},
		Tags: map[string]any{"kind": "mean_reversion", "impl": "zscore"},
	}
}
