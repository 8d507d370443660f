package strategy

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tmflab/tmftrader/internal/gateway"
	"github.com/tmflab/tmftrader/internal/market"
	"github.com/tmflab/tmftrader/internal/store"
)

// RunnerConfig tunes the strategy runner.
type RunnerConfig struct {
	Symbol     string `yaml:"symbol"`
	AssetClass string `yaml:"asset_class"`
	RunnerTag  string `yaml:"runner_tag"`
	// BarBatch bounds how many recent bars one Step consumes.
	BarBatch int `yaml:"bar_batch"`
}

// DefaultRunnerConfig returns runner defaults for the micro contract.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		Symbol:     "TMFB6",
		AssetClass: store.AssetFOP,
		RunnerTag:  "paper_runner",
		BarBatch:   200,
	}
}

// Runner feeds bars to strategies and routes their signals through the
// gateway with provenance stamped into the intent meta.
type Runner struct {
	bars       store.BarStore
	gw         *gateway.Gateway
	metrics    *market.Reader
	strategies []Strategy
	cfg        RunnerConfig
	log        zerolog.Logger

	lastMinute string
}

// NewRunner builds a runner over the given strategies.
func NewRunner(bars store.BarStore, gw *gateway.Gateway, strategies []Strategy, cfg RunnerConfig, log zerolog.Logger) *Runner {
	if cfg.BarBatch <= 0 {
		cfg.BarBatch = DefaultRunnerConfig().BarBatch
	}
	return &Runner{
		bars:       bars,
		gw:         gw,
		strategies: strategies,
		cfg:        cfg,
		log:        log.With().Str("component", "strategy_runner").Logger(),
	}
}

// WithMetrics attaches a market-metrics reader; when set, every intent
// carries a fresh meta.market_metrics snapshot for the risk gates.
func (r *Runner) WithMetrics(m *market.Reader) *Runner {
	r.metrics = m
	return r
}

// Step reads the bars newer than the last consumed minute, feeds them to
// every strategy in order, and submits any resulting signals. Returns the
// gateway results for this step.
func (r *Runner) Step(ctx context.Context) ([]gateway.Result, error) {
	recent, err := r.bars.RecentBars(ctx, r.cfg.AssetClass, r.cfg.Symbol, r.cfg.BarBatch)
	if err != nil {
		return nil, fmt.Errorf("failed to read bars: %w", err)
	}
	// newest-first -> chronological
	for i, j := 0, len(recent)-1; i < j; i, j = i+1, j-1 {
		recent[i], recent[j] = recent[j], recent[i]
	}

	var results []gateway.Result
	for _, bar := range recent {
		if bar.TSMin <= r.lastMinute {
			continue
		}
		r.lastMinute = bar.TSMin

		for _, st := range r.strategies {
			sig := st.OnBar(bar)
			if sig == nil {
				continue
			}
			res, err := r.submit(ctx, st, sig, bar)
			if err != nil {
				return results, err
			}
			results = append(results, res)
		}
	}
	return results, nil
}

func (r *Runner) submit(ctx context.Context, st Strategy, sig *Signal, bar store.Bar) (gateway.Result, error) {
	meta := SignalMeta(sig, st.Name(), st.Version(), bar.Close, r.cfg.Symbol)
	if r.metrics != nil {
		if m, err := r.metrics.Snapshot(ctx, r.cfg.Symbol, r.cfg.Symbol, 14); err != nil {
			r.log.Warn().Err(err).Msg("market metrics snapshot failed")
		} else if m != nil {
			meta["market_metrics"] = m.AsMap()
		}
	}
	meta["intent"] = map[string]any{
		"correlation_id": uuid.NewString(),
		"strategy_id":    st.Name(),
		"signal_id":      uuid.NewString(),
		"runner":         r.cfg.RunnerTag,
	}

	res, err := r.gw.PlaceOrder(ctx, gateway.Intent{
		Symbol:    r.cfg.Symbol,
		Side:      sig.Side,
		Qty:       sig.Qty,
		OrderType: sig.OrderType,
		Price:     sig.Price,
		Meta:      meta,
	})
	if err != nil {
		return gateway.Result{}, err
	}
	evt := r.log.Info()
	if !res.OK {
		evt = r.log.Warn()
	}
	evt.Str("strategy", st.Name()).Str("side", sig.Side).Float64("qty", sig.Qty).
		Str("status", res.Status).Str("bar", bar.TSMin).Msg("signal routed")
	return res, nil
}
