package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/tmflab/tmftrader/internal/store"
)

// AppendEvent persists one event and returns its id.
func (s *DB) AppendEvent(ctx context.Context, ev store.Event) (int64, error) {
	ctx, cancel := s.scoped(ctx)
	defer cancel()

	res, err := s.ext.ExecContext(ctx,
		`INSERT INTO events (ts, kind, payload_json, producer, ingest_ts) VALUES (?, ?, ?, ?, ?)`,
		ev.TS, ev.Kind, ev.Payload, ev.Producer, ev.IngestTS)
	if err != nil {
		return 0, fmt.Errorf("%w: insert event: %v", store.ErrUnavailable, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("%w: event id: %v", store.ErrUnavailable, err)
	}
	return id, nil
}

// LatestEventByKind scans newest-first and returns the first match.
// Ordering is id descending, so ties are impossible.
func (s *DB) LatestEventByKind(ctx context.Context, kind string, match store.EventMatch, scanLimit int) (*store.Event, error) {
	ctx, cancel := s.scoped(ctx)
	defer cancel()

	if scanLimit <= 0 {
		scanLimit = store.DefaultScanLimit
	}
	rows, err := s.ext.QueryxContext(ctx,
		`SELECT id, ts, kind, payload_json, producer, ingest_ts
		 FROM events WHERE kind = ? ORDER BY id DESC LIMIT ?`, kind, scanLimit)
	if err != nil {
		return nil, fmt.Errorf("%w: query events: %v", store.ErrUnavailable, err)
	}
	defer rows.Close()

	for rows.Next() {
		var ev store.Event
		if err := rows.StructScan(&ev); err != nil {
			return nil, fmt.Errorf("%w: scan event: %v", store.ErrUnavailable, err)
		}
		if match == nil || match(ev) {
			return &ev, nil
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate events: %v", store.ErrUnavailable, err)
	}
	return nil, nil
}

// EventsByKinds returns matching events in id-ascending order.
func (s *DB) EventsByKinds(ctx context.Context, kinds []string, sinceTS *time.Time) ([]store.Event, error) {
	ctx, cancel := s.scoped(ctx)
	defer cancel()

	if len(kinds) == 0 {
		return nil, nil
	}
	query := `SELECT id, ts, kind, payload_json, producer, ingest_ts FROM events WHERE kind IN (?)`
	args := []any{kinds}
	if sinceTS != nil {
		query += ` AND ts >= ?`
		args = append(args, *sinceTS)
	}
	query += ` ORDER BY id ASC`

	query, flat, err := sqlx.In(query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: build events query: %v", store.ErrUnavailable, err)
	}
	rows, err := s.ext.QueryxContext(ctx, query, flat...)
	if err != nil {
		return nil, fmt.Errorf("%w: query events by kinds: %v", store.ErrUnavailable, err)
	}
	defer rows.Close()

	var out []store.Event
	for rows.Next() {
		var ev store.Event
		if err := rows.StructScan(&ev); err != nil {
			return nil, fmt.Errorf("%w: scan event: %v", store.ErrUnavailable, err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate events: %v", store.ErrUnavailable, err)
	}
	return out, nil
}

// UpsertBar inserts or replaces a bar by (minute, asset class, symbol).
func (s *DB) UpsertBar(ctx context.Context, bar store.Bar) error {
	ctx, cancel := s.scoped(ctx)
	defer cancel()

	_, err := s.ext.ExecContext(ctx, `
		INSERT INTO bars_1m (ts_min, asset_class, symbol, o, h, l, c, v, n_trades, source)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(ts_min, asset_class, symbol) DO UPDATE SET
			o=excluded.o, h=excluded.h, l=excluded.l, c=excluded.c,
			v=excluded.v, n_trades=excluded.n_trades, source=excluded.source`,
		bar.TSMin, bar.AssetClass, bar.Symbol, bar.Open, bar.High, bar.Low,
		bar.Close, bar.Volume, bar.NTrades, bar.Source)
	if err != nil {
		return fmt.Errorf("%w: upsert bar: %v", store.ErrUnavailable, err)
	}
	return nil
}

// RecentBars returns up to limit bars newest-first.
func (s *DB) RecentBars(ctx context.Context, assetClass, symbol string, limit int) ([]store.Bar, error) {
	ctx, cancel := s.scoped(ctx)
	defer cancel()

	rows, err := s.ext.QueryxContext(ctx, `
		SELECT ts_min, asset_class, symbol, o, h, l, c, v, n_trades, source
		FROM bars_1m WHERE asset_class = ? AND symbol = ?
		ORDER BY ts_min DESC LIMIT ?`, assetClass, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: query bars: %v", store.ErrUnavailable, err)
	}
	defer rows.Close()

	var out []store.Bar
	for rows.Next() {
		var b store.Bar
		if err := rows.StructScan(&b); err != nil {
			return nil, fmt.Errorf("%w: scan bar: %v", store.ErrUnavailable, err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate bars: %v", store.ErrUnavailable, err)
	}
	return out, nil
}
