package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/tmflab/tmftrader/internal/store"
)

// InsertTrade persists a new (open) trade row and backfills its id.
func (s *DB) InsertTrade(ctx context.Context, t *store.Trade) error {
	ctx, cancel := s.scoped(ctx)
	defer cancel()

	res, err := s.ext.ExecContext(ctx, `
		INSERT INTO trades (open_ts, close_ts, symbol, side, qty, entry, exit,
			pnl, pnl_pct, reason_open, reason_close, meta_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.OpenTS, t.CloseTS, t.Symbol, t.Side, t.Qty, t.Entry, t.Exit,
		t.PnL, t.PnLFraction, t.ReasonOpen, t.ReasonClose, t.Meta)
	if err != nil {
		return fmt.Errorf("%w: insert trade %s: %v", store.ErrUnavailable, t.Symbol, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("%w: trade id: %v", store.ErrUnavailable, err)
	}
	t.ID = id
	return nil
}

// CloseOpenTrade closes the newest open trade for symbol.
func (s *DB) CloseOpenTrade(ctx context.Context, symbol string, closeTS time.Time, exit, pnl, pnlFraction float64, reasonClose string) error {
	ctx, cancel := s.scoped(ctx)
	defer cancel()

	_, err := s.ext.ExecContext(ctx, `
		UPDATE trades SET close_ts = ?, exit = ?, pnl = ?, pnl_pct = ?, reason_close = ?
		WHERE id = (
			SELECT id FROM trades WHERE symbol = ? AND close_ts IS NULL ORDER BY id DESC LIMIT 1
		)`,
		closeTS, exit, pnl, pnlFraction, reasonClose, symbol)
	if err != nil {
		return fmt.Errorf("%w: close trade %s: %v", store.ErrUnavailable, symbol, err)
	}
	return nil
}

// OpenTrade returns the open trade for symbol, or nil when flat.
func (s *DB) OpenTrade(ctx context.Context, symbol string) (*store.Trade, error) {
	ctx, cancel := s.scoped(ctx)
	defer cancel()

	row := s.ext.QueryRowxContext(ctx, `
		SELECT id, open_ts, close_ts, symbol, side, qty, entry, exit, pnl, pnl_pct,
			reason_open, reason_close, meta_json
		FROM trades WHERE symbol = ? AND close_ts IS NULL ORDER BY id DESC LIMIT 1`, symbol)

	var t store.Trade
	if err := row.StructScan(&t); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: open trade %s: %v", store.ErrUnavailable, symbol, err)
	}
	return &t, nil
}

// ClosedTrades returns newest-first closed trades.
func (s *DB) ClosedTrades(ctx context.Context, limit int) ([]store.Trade, error) {
	ctx, cancel := s.scoped(ctx)
	defer cancel()

	rows, err := s.ext.QueryxContext(ctx, `
		SELECT id, open_ts, close_ts, symbol, side, qty, entry, exit, pnl, pnl_pct,
			reason_open, reason_close, meta_json
		FROM trades WHERE close_ts IS NOT NULL ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: query closed trades: %v", store.ErrUnavailable, err)
	}
	defer rows.Close()

	var out []store.Trade
	for rows.Next() {
		var t store.Trade
		if err := rows.StructScan(&t); err != nil {
			return nil, fmt.Errorf("%w: scan trade: %v", store.ErrUnavailable, err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate trades: %v", store.ErrUnavailable, err)
	}
	return out, nil
}

// RealizedPnLBetween sums pnl over trades closed in [from, to).
func (s *DB) RealizedPnLBetween(ctx context.Context, from, to time.Time) (float64, error) {
	ctx, cancel := s.scoped(ctx)
	defer cancel()

	var sum float64
	err := s.ext.QueryRowxContext(ctx, `
		SELECT COALESCE(SUM(pnl), 0) FROM trades
		WHERE close_ts IS NOT NULL AND close_ts >= ? AND close_ts < ?`, from, to).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("%w: realized pnl: %v", store.ErrUnavailable, err)
	}
	return sum, nil
}

// ConsecutiveLosses counts the streak of most recent losing closed trades.
func (s *DB) ConsecutiveLosses(ctx context.Context, scanLimit int) (int, error) {
	ctx, cancel := s.scoped(ctx)
	defer cancel()

	if scanLimit <= 0 {
		scanLimit = 50
	}
	rows, err := s.ext.QueryxContext(ctx, `
		SELECT pnl FROM trades WHERE close_ts IS NOT NULL ORDER BY id DESC LIMIT ?`, scanLimit)
	if err != nil {
		return 0, fmt.Errorf("%w: query loss streak: %v", store.ErrUnavailable, err)
	}
	defer rows.Close()

	n := 0
	for rows.Next() {
		var pnl *float64
		if err := rows.Scan(&pnl); err != nil {
			return 0, fmt.Errorf("%w: scan pnl: %v", store.ErrUnavailable, err)
		}
		if pnl == nil || *pnl >= 0 {
			break
		}
		n++
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("%w: iterate loss streak: %v", store.ErrUnavailable, err)
	}
	return n, nil
}

// LastLossTime returns the close time of the most recent losing trade.
func (s *DB) LastLossTime(ctx context.Context) (*time.Time, error) {
	ctx, cancel := s.scoped(ctx)
	defer cancel()

	var ts time.Time
	err := s.ext.QueryRowxContext(ctx, `
		SELECT close_ts FROM trades
		WHERE close_ts IS NOT NULL AND pnl < 0 ORDER BY id DESC LIMIT 1`).Scan(&ts)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: last loss ts: %v", store.ErrUnavailable, err)
	}
	return &ts, nil
}

// Position returns the net position for symbol, or nil when never traded.
func (s *DB) Position(ctx context.Context, symbol string) (*store.Position, error) {
	ctx, cancel := s.scoped(ctx)
	defer cancel()

	row := s.ext.QueryRowxContext(ctx,
		`SELECT symbol, side, qty, avg_price, open_ts FROM positions WHERE symbol = ?`, symbol)

	var p store.Position
	if err := row.StructScan(&p); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: position %s: %v", store.ErrUnavailable, symbol, err)
	}
	return &p, nil
}

// UpsertPosition writes the derived position row for a symbol.
func (s *DB) UpsertPosition(ctx context.Context, p store.Position) error {
	ctx, cancel := s.scoped(ctx)
	defer cancel()

	_, err := s.ext.ExecContext(ctx, `
		INSERT INTO positions (symbol, side, qty, avg_price, open_ts)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(symbol) DO UPDATE SET
			side=excluded.side, qty=excluded.qty,
			avg_price=excluded.avg_price, open_ts=excluded.open_ts`,
		p.Symbol, p.Side, p.Qty, p.AvgPrice, p.OpenTS)
	if err != nil {
		return fmt.Errorf("%w: upsert position %s: %v", store.ErrUnavailable, p.Symbol, err)
	}
	return nil
}

// Positions returns all position rows.
func (s *DB) Positions(ctx context.Context) ([]store.Position, error) {
	ctx, cancel := s.scoped(ctx)
	defer cancel()

	rows, err := s.ext.QueryxContext(ctx,
		`SELECT symbol, side, qty, avg_price, open_ts FROM positions ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("%w: query positions: %v", store.ErrUnavailable, err)
	}
	defer rows.Close()

	var out []store.Position
	for rows.Next() {
		var p store.Position
		if err := rows.StructScan(&p); err != nil {
			return nil, fmt.Errorf("%w: scan position: %v", store.ErrUnavailable, err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate positions: %v", store.ErrUnavailable, err)
	}
	return out, nil
}
