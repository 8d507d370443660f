// Package bars aggregates tick events from the event log into 1-minute
// OHLCV bars. The builder is idempotent: bars upsert by (minute, asset
// class, symbol), so re-running over the same event range converges to the
// same rows. Parser faults are counted and skipped, never fatal.
package bars

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/tmflab/tmftrader/internal/payload"
	"github.com/tmflab/tmftrader/internal/store"
)

// Config tunes the builder.
type Config struct {
	// Kinds are the event kinds treated as ticks.
	Kinds []string `yaml:"kinds"`
	// Source tags the produced bars.
	Source string `yaml:"source"`
}

// DefaultConfig returns the standard tick kinds.
func DefaultConfig() Config {
	return Config{
		Kinds:  []string{store.KindTickFOP, store.KindTickSTK},
		Source: "bars_1m_builder",
	}
}

// Report summarizes one builder run.
type Report struct {
	TickRows     int `json:"tick_rows"`
	BarsUpserted int `json:"bars_upserted"`
	Skipped      int `json:"skipped"`
	ParserFaults int `json:"parser_faults"`
}

// Builder turns tick events into bars.
type Builder struct {
	events store.EventStore
	bars   store.BarStore
	cfg    Config
	log    zerolog.Logger
}

// New builds a bar builder.
func New(events store.EventStore, bars store.BarStore, cfg Config, log zerolog.Logger) *Builder {
	if len(cfg.Kinds) == 0 {
		cfg.Kinds = DefaultConfig().Kinds
	}
	if cfg.Source == "" {
		cfg.Source = DefaultConfig().Source
	}
	return &Builder{events: events, bars: bars, cfg: cfg, log: log.With().Str("component", "bars").Logger()}
}

// priceKeys are checked in order across the tick schema variants.
var priceKeys = []string{"price", "last_price", "deal_price", "trade_price", "close", "last"}

// volumeKeys are checked in order; bid/ask are never used to fabricate ticks.
var volumeKeys = []string{"volume", "qty", "size", "deal_qty", "trade_volume", "total_volume"}

func pickFloat(p store.JSONMap, keys []string) (float64, bool) {
	for _, k := range keys {
		if v, ok := p[k]; ok {
			if f, ok := payload.Float(v); ok {
				return f, true
			}
		}
	}
	return 0, false
}

func assetFromKind(kind string) string {
	k := strings.ToLower(kind)
	switch {
	case strings.Contains(k, "fop") || strings.Contains(k, "fut"):
		return store.AssetFOP
	case strings.Contains(k, "stk") || strings.Contains(k, "stock"):
		return store.AssetSTK
	default:
		return store.AssetUNK
	}
}

// MinuteKey renders the ISO minute key (seconds stripped).
func MinuteKey(t time.Time) string {
	return t.Truncate(time.Minute).Format("2006-01-02T15:04")
}

type barKey struct {
	minute string
	asset  string
	symbol string
}

// Build aggregates tick events since the given time (nil means all) into
// bars and upserts them. Returns a run report.
func (b *Builder) Build(ctx context.Context, since *time.Time) (*Report, error) {
	events, err := b.events.EventsByKinds(ctx, b.cfg.Kinds, since)
	if err != nil {
		return nil, fmt.Errorf("failed to read tick events: %w", err)
	}

	rep := &Report{}
	agg := map[barKey]*store.Bar{}
	var order []barKey

	for _, ev := range events {
		sym := payload.String(ev.Payload["code"])
		if sym == "" {
			sym = payload.String(ev.Payload["symbol"])
		}
		if sym == "" {
			rep.Skipped++
			continue
		}

		var ts time.Time
		parsed := false
		for _, k := range []string{"datetime", "ts", "recv_ts"} {
			if raw, ok := ev.Payload[k]; ok && raw != nil {
				if t, ok := payload.Time(raw); ok {
					ts, parsed = t, true
				} else {
					rep.ParserFaults++
				}
				break
			}
		}
		if !parsed {
			ts = ev.TS
		}

		px, ok := pickFloat(ev.Payload, priceKeys)
		if !ok {
			rep.Skipped++
			continue
		}
		vol, _ := pickFloat(ev.Payload, volumeKeys)

		rep.TickRows++
		key := barKey{minute: MinuteKey(ts), asset: assetFromKind(ev.Kind), symbol: sym}
		bar := agg[key]
		if bar == nil {
			agg[key] = &store.Bar{
				TSMin:      key.minute,
				AssetClass: key.asset,
				Symbol:     sym,
				Open:       px, High: px, Low: px, Close: px,
				Volume:  vol,
				NTrades: 1,
				Source:  b.cfg.Source,
			}
			order = append(order, key)
			continue
		}
		if px > bar.High {
			bar.High = px
		}
		if px < bar.Low {
			bar.Low = px
		}
		bar.Close = px
		bar.Volume += vol
		bar.NTrades++
	}

	// stable upsert order keeps runs reproducible
	sort.Slice(order, func(i, j int) bool {
		a, c := order[i], order[j]
		if a.minute != c.minute {
			return a.minute < c.minute
		}
		if a.asset != c.asset {
			return a.asset < c.asset
		}
		return a.symbol < c.symbol
	})
	for _, key := range order {
		if err := b.bars.UpsertBar(ctx, *agg[key]); err != nil {
			return nil, fmt.Errorf("failed to upsert bar %s/%s: %w", key.minute, key.symbol, err)
		}
		rep.BarsUpserted++
	}

	b.log.Info().Int("tick_rows", rep.TickRows).Int("bars", rep.BarsUpserted).
		Int("skipped", rep.Skipped).Int("parser_faults", rep.ParserFaults).Msg("bar build complete")
	return rep, nil
}
