// Package market derives point-in-time market quality metrics and the
// exchange open/closed calendar gate from the canonical event log.
package market

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmflab/tmftrader/internal/payload"
	"github.com/tmflab/tmftrader/internal/store"
)

// Metrics is a liquidity/volatility snapshot for one symbol. Values come
// only from observed book events and bars; nothing is fabricated.
type Metrics struct {
	Bid            float64        `json:"bid"`
	Ask            float64        `json:"ask"`
	Spread         float64        `json:"spread_points"`
	ATR            *float64       `json:"atr_points,omitempty"`
	LiquidityScore float64        `json:"liquidity_score"`
	Source         map[string]any `json:"source"`
}

// AsMap renders the snapshot into the meta.market_metrics envelope shape.
func (m *Metrics) AsMap() map[string]any {
	out := map[string]any{
		"bid":             m.Bid,
		"ask":             m.Ask,
		"spread_points":   m.Spread,
		"liquidity_score": m.LiquidityScore,
		"source":          m.Source,
	}
	if m.ATR != nil {
		out["atr_points"] = *m.ATR
	}
	return out
}

// ReaderConfig tunes the metrics reader.
type ReaderConfig struct {
	BookKind           string `yaml:"book_kind"`
	ScanLimit          int    `yaml:"scan_limit"`
	SeedProducerPrefix string `yaml:"seed_producer_prefix"` // test seeds skipped by prefix
	TopLevels          int    `yaml:"top_levels"`           // book levels summed into liquidity
}

// DefaultReaderConfig returns conservative defaults.
func DefaultReaderConfig() ReaderConfig {
	return ReaderConfig{
		BookKind:           store.KindBookFOP,
		ScanLimit:          500,
		SeedProducerPrefix: "seed_",
		TopLevels:          5,
	}
}

// Reader computes metrics snapshots from the event log and bar store.
type Reader struct {
	events store.EventStore
	bars   store.BarStore
	cfg    ReaderConfig
}

// NewReader builds a metrics reader.
func NewReader(events store.EventStore, bars store.BarStore, cfg ReaderConfig) *Reader {
	if cfg.BookKind == "" {
		cfg = DefaultReaderConfig()
	}
	return &Reader{events: events, bars: bars, cfg: cfg}
}

// Snapshot returns the current metrics for code, or nil when no usable
// (non-synthetic, non-seed) book event with both sides exists. The ATR is
// computed over the last n one-minute bars for (FOP, atrSymbol).
func (r *Reader) Snapshot(ctx context.Context, code, atrSymbol string, atrN int) (*Metrics, error) {
	if atrSymbol == "" {
		atrSymbol = code
	}
	ev, err := r.events.LatestEventByKind(ctx, r.cfg.BookKind, func(ev store.Event) bool {
		if payload.String(ev.Payload["code"]) != code {
			return false
		}
		if payload.Bool(ev.Payload["synthetic"]) {
			return false
		}
		if r.cfg.SeedProducerPrefix != "" && strings.HasPrefix(ev.Producer, r.cfg.SeedProducerPrefix) {
			return false
		}
		return true
	}, r.cfg.ScanLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to read latest book event: %w", err)
	}
	if ev == nil {
		return nil, nil
	}

	bidPrices := payload.Floats(ev.Payload["bid_price"])
	askPrices := payload.Floats(ev.Payload["ask_price"])
	if len(bidPrices) == 0 || len(askPrices) == 0 {
		return nil, nil
	}
	bid, ask := bidPrices[0], askPrices[0]

	atr, err := r.atrFromBars(ctx, atrSymbol, atrN)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		Bid:            bid,
		Ask:            ask,
		Spread:         ask - bid,
		ATR:            atr,
		LiquidityScore: r.liquidityScore(ev.Payload),
		Source: map[string]any{
			"event_id":   ev.ID,
			"event_ts":   ev.TS,
			"code":       code,
			"atr_symbol": atrSymbol,
			"atr_n":      atrN,
		},
	}, nil
}

// liquidityScore is a scale-free proxy: top-level bid plus ask volumes.
func (r *Reader) liquidityScore(p store.JSONMap) float64 {
	top := r.cfg.TopLevels
	sum := 0.0
	for _, key := range []string{"bid_volume", "ask_volume"} {
		vols := payload.Floats(p[key])
		if len(vols) > top {
			vols = vols[:top]
		}
		for _, v := range vols {
			sum += v
		}
	}
	return sum
}

// atrFromBars computes classic True Range averaged over the last n bars
// (needs n+1 closes). Returns nil when history is insufficient.
func (r *Reader) atrFromBars(ctx context.Context, symbol string, n int) (*float64, error) {
	if n <= 0 {
		return nil, nil
	}
	bars, err := r.bars.RecentBars(ctx, store.AssetFOP, symbol, n+1)
	if err != nil {
		return nil, fmt.Errorf("failed to read bars for ATR: %w", err)
	}
	if len(bars) < 2 {
		return nil, nil
	}
	// newest-first -> chronological
	for i, j := 0, len(bars)-1; i < j; i, j = i+1, j-1 {
		bars[i], bars[j] = bars[j], bars[i]
	}

	var trs []float64
	prevClose := bars[0].Close
	for _, b := range bars[1:] {
		tr := b.High - b.Low
		if hc := abs(b.High - prevClose); hc > tr {
			tr = hc
		}
		if lc := abs(b.Low - prevClose); lc > tr {
			tr = lc
		}
		trs = append(trs, tr)
		prevClose = b.Close
	}
	if len(trs) == 0 {
		return nil, nil
	}
	if len(trs) > n {
		trs = trs[len(trs)-n:]
	}
	sum := 0.0
	for _, tr := range trs {
		sum += tr
	}
	atr := sum / float64(len(trs))
	return &atr, nil
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
