package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/tmflab/tmftrader/internal/store"
)

// SeedProducerPrefix marks seeder-written events so market-metrics and
// safety consumers can skip them.
const SeedProducerPrefix = "seed_"

// Seeder injects synthetic book events directly into the store. It exists
// for smoke runs and local development; every event it writes carries
// synthetic:true and a seed-prefixed producer tag.
type Seeder struct {
	store store.EventStore
	tag   string
}

// NewSeeder builds a seeder. tag distinguishes seed sources (e.g. "smoke").
func NewSeeder(st store.EventStore, tag string) *Seeder {
	if tag == "" {
		tag = "dev"
	}
	return &Seeder{store: st, tag: tag}
}

// SeedBook writes one synthetic level-1 book event for code.
func (s *Seeder) SeedBook(ctx context.Context, code string, bid, ask, bidVol, askVol float64) (int64, error) {
	now := time.Now()
	ev := store.Event{
		TS:   now,
		Kind: store.KindBookFOP,
		Payload: store.JSONMap{
			"code":       code,
			"bid_price":  []any{bid},
			"ask_price":  []any{ask},
			"bid_volume": []any{bidVol},
			"ask_volume": []any{askVol},
			"synthetic":  true,
			"recv_ts":    now.Format(time.RFC3339Nano),
		},
		Producer: SeedProducerPrefix + s.tag,
		IngestTS: now,
	}
	id, err := s.store.AppendEvent(ctx, ev)
	if err != nil {
		return 0, fmt.Errorf("failed to seed book event: %w", err)
	}
	return id, nil
}

// SeedTick writes one synthetic tick event for code.
func (s *Seeder) SeedTick(ctx context.Context, code string, price, qty float64, isBuy bool) (int64, error) {
	now := time.Now()
	ev := store.Event{
		TS:   now,
		Kind: store.KindTickFOP,
		Payload: store.JSONMap{
			"code":      code,
			"price":     price,
			"qty":       qty,
			"is_buy":    isBuy,
			"synthetic": true,
			"recv_ts":   now.Format(time.RFC3339Nano),
		},
		Producer: SeedProducerPrefix + s.tag,
		IngestTS: now,
	}
	id, err := s.store.AppendEvent(ctx, ev)
	if err != nil {
		return 0, fmt.Errorf("failed to seed tick event: %w", err)
	}
	return id, nil
}
