// Package strategy contains the bar-driven signal generators and the runner
// that turns their signals into gateway intents with full provenance.
package strategy

import (
	"github.com/tmflab/tmftrader/internal/store"
)

// Signal is one strategy decision. Strategies always provide a stop so the
// risk gate's stop requirement holds on the normal path.
type Signal struct {
	Side      string         `json:"side"`
	Qty       float64        `json:"qty"`
	OrderType string         `json:"order_type"`
	Price     *float64       `json:"price,omitempty"`
	StopPrice *float64       `json:"stop_price,omitempty"`
	Reason    string         `json:"reason"`
	// Confidence in [0,1]; raw is the pre-adjustment value.
	Confidence    float64        `json:"confidence"`
	ConfidenceRaw float64        `json:"confidence_raw"`
	Features      map[string]any `json:"features,omitempty"`
	Tags          map[string]any `json:"tags,omitempty"`
}

// Strategy consumes 1-minute bars and optionally emits a signal.
type Strategy interface {
	Name() string
	Version() string
	// OnBar returns nil when the strategy has nothing to say.
	OnBar(bar store.Bar) *Signal
}

// SignalMeta renders the order meta carried by a signal-driven intent:
// ref_price, stop_price, and a stable attribution snapshot for audit and
// replay.
func SignalMeta(sig *Signal, stratName, stratVersion string, refPrice float64, symbol string) map[string]any {
	meta := map[string]any{}
	if refPrice > 0 {
		meta["ref_price"] = refPrice
	}
	if sig.StopPrice != nil {
		meta["stop_price"] = *sig.StopPrice
	}
	signal := map[string]any{
		"side":       sig.Side,
		"qty":        sig.Qty,
		"order_type": sig.OrderType,
	}
	if sig.Price != nil {
		signal["price"] = *sig.Price
	}
	if sig.StopPrice != nil {
		signal["stop_price"] = *sig.StopPrice
	}
	strat := map[string]any{
		"name":           stratName,
		"version":        stratVersion,
		"reason":         sig.Reason,
		"confidence":     sig.Confidence,
		"confidence_raw": sig.ConfidenceRaw,
		"features":       sig.Features,
		"tags":           sig.Tags,
	}
	meta["signal"] = signal
	meta["strat"] = strat
	meta["attribution_v1"] = map[string]any{"signal": signal, "strat": strat}
	if symbol != "" {
		meta["audit"] = map[string]any{"symbol": symbol}
	}
	return meta
}
