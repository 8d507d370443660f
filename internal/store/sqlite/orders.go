package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/tmflab/tmftrader/internal/store"
)

// InsertOrder persists a new order row and backfills its id.
func (s *DB) InsertOrder(ctx context.Context, o *store.Order) error {
	ctx, cancel := s.scoped(ctx)
	defer cancel()

	res, err := s.ext.ExecContext(ctx, `
		INSERT INTO orders (ts, broker_order_id, symbol, side, qty, price, order_type,
			status, verdict, decision, action, filled_qty, meta_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.TS, o.BrokerOrderID, o.Symbol, o.Side, o.Qty, o.Price, o.OrderType,
		o.Status, o.Verdict, o.Decision, o.Action, o.FilledQty, o.Meta)
	if err != nil {
		return fmt.Errorf("%w: insert order %s: %v", store.ErrUnavailable, o.BrokerOrderID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("%w: order id: %v", store.ErrUnavailable, err)
	}
	o.ID = id
	return nil
}

// UpdateOrderStatus sets the status and filled qty, merging filled_qty into
// the meta envelope so downstream readers keep stop/metrics fields intact.
func (s *DB) UpdateOrderStatus(ctx context.Context, brokerOrderID, status string, filledQty float64) error {
	ctx, cancel := s.scoped(ctx)
	defer cancel()

	_, err := s.ext.ExecContext(ctx, `
		UPDATE orders SET status = ?, filled_qty = ?,
			meta_json = json_set(meta_json, '$.filled_qty', ?)
		WHERE broker_order_id = ?`,
		status, filledQty, filledQty, brokerOrderID)
	if err != nil {
		return fmt.Errorf("%w: update order status %s: %v", store.ErrUnavailable, brokerOrderID, err)
	}
	return nil
}

// UpdateOrderDecision records the taxonomy verdict/domain/action columns.
func (s *DB) UpdateOrderDecision(ctx context.Context, brokerOrderID, verdict, decision, action string) error {
	ctx, cancel := s.scoped(ctx)
	defer cancel()

	_, err := s.ext.ExecContext(ctx,
		`UPDATE orders SET verdict = ?, decision = ?, action = ? WHERE broker_order_id = ?`,
		verdict, decision, action, brokerOrderID)
	if err != nil {
		return fmt.Errorf("%w: update order decision %s: %v", store.ErrUnavailable, brokerOrderID, err)
	}
	return nil
}

// OrderByBrokerID returns one order or nil when absent.
func (s *DB) OrderByBrokerID(ctx context.Context, brokerOrderID string) (*store.Order, error) {
	ctx, cancel := s.scoped(ctx)
	defer cancel()

	row := s.ext.QueryRowxContext(ctx, `
		SELECT id, ts, broker_order_id, symbol, side, qty, price, order_type,
			status, verdict, decision, action, filled_qty, meta_json
		FROM orders WHERE broker_order_id = ?`, brokerOrderID)

	var o store.Order
	if err := row.StructScan(&o); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: get order %s: %v", store.ErrUnavailable, brokerOrderID, err)
	}
	return &o, nil
}

// OrdersByStatus returns newest-first orders with the given status.
func (s *DB) OrdersByStatus(ctx context.Context, status string, limit int) ([]store.Order, error) {
	ctx, cancel := s.scoped(ctx)
	defer cancel()

	rows, err := s.ext.QueryxContext(ctx, `
		SELECT id, ts, broker_order_id, symbol, side, qty, price, order_type,
			status, verdict, decision, action, filled_qty, meta_json
		FROM orders WHERE status = ? ORDER BY id DESC LIMIT ?`, status, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: query orders: %v", store.ErrUnavailable, err)
	}
	defer rows.Close()

	var out []store.Order
	for rows.Next() {
		var o store.Order
		if err := rows.StructScan(&o); err != nil {
			return nil, fmt.Errorf("%w: scan order: %v", store.ErrUnavailable, err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate orders: %v", store.ErrUnavailable, err)
	}
	return out, nil
}

// CountOrders returns the total number of order rows.
func (s *DB) CountOrders(ctx context.Context) (int64, error) {
	ctx, cancel := s.scoped(ctx)
	defer cancel()

	var n int64
	if err := s.ext.QueryRowxContext(ctx, `SELECT COUNT(*) FROM orders`).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: count orders: %v", store.ErrUnavailable, err)
	}
	return n, nil
}

// InsertFill persists an execution and backfills its id.
func (s *DB) InsertFill(ctx context.Context, f *store.Fill) error {
	ctx, cancel := s.scoped(ctx)
	defer cancel()

	res, err := s.ext.ExecContext(ctx, `
		INSERT INTO fills (ts, broker_order_id, symbol, side, qty, price, fee, tax, meta_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.TS, f.BrokerOrderID, f.Symbol, f.Side, f.Qty, f.Price, f.Fee, f.Tax, f.Meta)
	if err != nil {
		return fmt.Errorf("%w: insert fill for %s: %v", store.ErrUnavailable, f.BrokerOrderID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("%w: fill id: %v", store.ErrUnavailable, err)
	}
	f.ID = id
	return nil
}

// FillsByOrder returns fills for one order in id-ascending order.
func (s *DB) FillsByOrder(ctx context.Context, brokerOrderID string) ([]store.Fill, error) {
	ctx, cancel := s.scoped(ctx)
	defer cancel()

	return s.queryFills(ctx,
		`SELECT id, ts, broker_order_id, symbol, side, qty, price, fee, tax, meta_json
		 FROM fills WHERE broker_order_id = ? ORDER BY id ASC`, brokerOrderID)
}

// AllFills returns every fill in id-ascending order (reconciler use).
func (s *DB) AllFills(ctx context.Context) ([]store.Fill, error) {
	ctx, cancel := s.scoped(ctx)
	defer cancel()

	return s.queryFills(ctx,
		`SELECT id, ts, broker_order_id, symbol, side, qty, price, fee, tax, meta_json
		 FROM fills ORDER BY id ASC`)
}

func (s *DB) queryFills(ctx context.Context, query string, args ...any) ([]store.Fill, error) {
	rows, err := s.ext.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query fills: %v", store.ErrUnavailable, err)
	}
	defer rows.Close()

	var out []store.Fill
	for rows.Next() {
		var f store.Fill
		if err := rows.StructScan(&f); err != nil {
			return nil, fmt.Errorf("%w: scan fill: %v", store.ErrUnavailable, err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate fills: %v", store.ErrUnavailable, err)
	}
	return out, nil
}
