// Package oms is the paper order-management system: a conservative matcher
// over the canonical store that books orders, fills, trades, and the single
// net position per symbol. All state mutations for one match commit in one
// transaction, so a crash can never leave a fill without its position move.
package oms

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tmflab/tmftrader/internal/cost"
	"github.com/tmflab/tmftrader/internal/store"
)

const qtyEpsilon = 1e-9

// SubmitRequest describes one order to book. Decision fields are optional;
// the gateway sets them so an accepted order lands with its verdict in the
// same insert.
type SubmitRequest struct {
	Symbol    string
	Side      string
	Qty       float64
	OrderType string
	Price     *float64
	Meta      map[string]any

	// optional decision columns, persisted atomically with the row
	Status   string
	Verdict  *string
	Decision *string
	Action   *string

	// optional caller-chosen broker id (split children); generated if empty
	BrokerOrderID string
}

// PaperOMS books paper orders against the canonical store.
type PaperOMS struct {
	store store.Store
	costs *cost.Model
	now   func() time.Time
	log   zerolog.Logger
}

// New builds a paper OMS.
func New(st store.Store, costs *cost.Model, log zerolog.Logger) *PaperOMS {
	if costs == nil {
		costs = cost.DefaultModel()
	}
	return &PaperOMS{
		store: st,
		costs: costs,
		now:   time.Now,
		log:   log.With().Str("component", "paper_oms").Logger(),
	}
}

// WithClock overrides the OMS clock (tests).
func (p *PaperOMS) WithClock(now func() time.Time) *PaperOMS {
	p.now = now
	return p
}

// NewBrokerOrderID allocates a broker-style order id.
func NewBrokerOrderID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// SubmitOrder persists one order row and returns it. Every intent, accepted
// or rejected, goes through here exactly once.
func (p *PaperOMS) SubmitOrder(ctx context.Context, req SubmitRequest) (*store.Order, error) {
	brokerID := req.BrokerOrderID
	if brokerID == "" {
		brokerID = NewBrokerOrderID()
	}
	status := req.Status
	if status == "" {
		status = store.StatusNew
	}
	meta := store.JSONMap{}
	for k, v := range req.Meta {
		meta[k] = v
	}
	o := &store.Order{
		TS:            p.now(),
		BrokerOrderID: brokerID,
		Symbol:        req.Symbol,
		Side:          strings.ToUpper(req.Side),
		Qty:           req.Qty,
		Price:         req.Price,
		OrderType:     strings.ToUpper(req.OrderType),
		Status:        status,
		Verdict:       req.Verdict,
		Decision:      req.Decision,
		Action:        req.Action,
		Meta:          meta,
	}
	if err := p.store.InsertOrder(ctx, o); err != nil {
		return nil, fmt.Errorf("failed to insert order: %w", err)
	}
	p.log.Debug().Str("broker_order_id", brokerID).Str("symbol", req.Symbol).
		Str("side", o.Side).Float64("qty", req.Qty).Str("status", status).Msg("order booked")
	return o, nil
}

// Match attempts to fill the order at referencePrice. Semantics:
//   - MARKET fills immediately at the reference price.
//   - LIMIT BUY fills iff reference <= limit; LIMIT SELL iff reference >= limit.
//   - LIMIT without a price is REJECTED.
//   - MWP rests unfilled; there is no protection anchor to match against.
//   - liquidity, when non-nil, caps the fill quantity this call.
//
// Returned fills may be empty (no cross). Order status moves monotonically
// to PARTIALLY_FILLED or FILLED; position and trade state update in the
// same transaction.
func (p *PaperOMS) Match(ctx context.Context, order *store.Order, referencePrice float64, liquidity *float64, reason string) ([]store.Fill, error) {
	remaining := order.Qty - order.FilledQty
	if remaining <= qtyEpsilon {
		return nil, nil
	}

	cross := false
	switch order.OrderType {
	case store.TypeMarket:
		cross = true
	case store.TypeLimit:
		if order.Price == nil {
			order.Status = store.StatusRejected
			if err := p.store.UpdateOrderStatus(ctx, order.BrokerOrderID, store.StatusRejected, order.FilledQty); err != nil {
				return nil, fmt.Errorf("failed to reject priceless limit order: %w", err)
			}
			return nil, nil
		}
		if order.Side == store.SideBuy && referencePrice <= *order.Price {
			cross = true
		}
		if order.Side == store.SideSell && referencePrice >= *order.Price {
			cross = true
		}
	case store.TypeMWP:
		// the paper book has no protection anchor; MWP rests unfilled
	}
	if !cross {
		return nil, nil
	}

	fillQty := remaining
	if liquidity != nil && *liquidity < fillQty {
		fillQty = *liquidity
	}
	if fillQty <= qtyEpsilon {
		return nil, nil
	}

	fee, tax := p.costs.PerSideCost(order.Symbol, referencePrice, fillQty)
	fill := store.Fill{
		TS:            p.now(),
		BrokerOrderID: order.BrokerOrderID,
		Symbol:        order.Symbol,
		Side:          order.Side,
		Qty:           fillQty,
		Price:         referencePrice,
		Fee:           fee,
		Tax:           tax,
		Meta:          store.JSONMap{"reason": reason, "order_meta": map[string]any(order.Meta)},
	}

	newFilled := order.FilledQty + fillQty
	newStatus := store.StatusPartiallyFilled
	if newFilled+qtyEpsilon >= order.Qty {
		newStatus = store.StatusFilled
	}

	err := p.store.Tx(ctx, func(tx store.Store) error {
		if err := tx.InsertFill(ctx, &fill); err != nil {
			return fmt.Errorf("failed to insert fill: %w", err)
		}
		if err := tx.UpdateOrderStatus(ctx, order.BrokerOrderID, newStatus, newFilled); err != nil {
			return fmt.Errorf("failed to update order status: %w", err)
		}
		return p.applyFill(ctx, tx, fill)
	})
	if err != nil {
		return nil, err
	}

	order.FilledQty = newFilled
	order.Status = newStatus
	p.log.Info().Str("broker_order_id", order.BrokerOrderID).Str("symbol", order.Symbol).
		Str("side", order.Side).Float64("qty", fillQty).Float64("price", referencePrice).
		Str("status", newStatus).Msg("fill booked")
	return []store.Fill{fill}, nil
}

// applyFill runs the position/trade transition for one fill:
// open, VWAP add, reduce, close, or flip.
func (p *PaperOMS) applyFill(ctx context.Context, tx store.Store, f store.Fill) error {
	sym := f.Symbol
	mult := p.costs.Multiplier(sym)

	pos, err := tx.Position(ctx, sym)
	if err != nil {
		return fmt.Errorf("failed to load position: %w", err)
	}
	if pos == nil {
		pos = &store.Position{Symbol: sym}
	}

	signedQty := f.Qty
	if f.Side == store.SideSell {
		signedQty = -f.Qty
	}

	// flat -> open
	if pos.Qty == 0 {
		return p.openPosition(ctx, tx, pos, f, signedQty, mult)
	}

	sameDir := (pos.Side == store.DirLong && signedQty > 0) || (pos.Side == store.DirShort && signedQty < 0)
	if sameDir {
		newQty := pos.Qty + f.Qty
		pos.AvgPrice = (pos.AvgPrice*pos.Qty + f.Price*f.Qty) / newQty
		pos.Qty = newQty
		// one trade row per position; adds fold into the VWAP
		return tx.UpsertPosition(ctx, *pos)
	}

	// opposite direction: reduce keeps the trade open until flat
	if f.Qty < pos.Qty-qtyEpsilon {
		pos.Qty -= f.Qty
		return tx.UpsertPosition(ctx, *pos)
	}

	// close to flat, possibly flipping with the leftover
	closedQty := pos.Qty
	entry := pos.AvgPrice
	sign := 1.0
	if pos.Side == store.DirShort {
		sign = -1.0
	}
	pnl := (f.Price - entry) * sign * closedQty * mult
	pnlFraction := 0.0
	if entry > 0 {
		pnlFraction = pnl / (entry * closedQty * mult)
	}
	reasonClose := "fill_close"
	if r, ok := f.Meta["reason"].(string); ok && r != "" {
		reasonClose = r
	}
	if err := tx.CloseOpenTrade(ctx, sym, f.TS, f.Price, pnl, pnlFraction, reasonClose); err != nil {
		return fmt.Errorf("failed to close trade: %w", err)
	}

	leftover := f.Qty - closedQty
	pos.Qty = 0
	pos.Side = ""
	pos.AvgPrice = 0
	pos.OpenTS = nil
	if leftover > qtyEpsilon {
		return p.openPosition(ctx, tx, pos, f, sign*-leftover, mult)
	}
	return tx.UpsertPosition(ctx, *pos)
}

func (p *PaperOMS) openPosition(ctx context.Context, tx store.Store, pos *store.Position, f store.Fill, signedQty, mult float64) error {
	openQty := signedQty
	if openQty < 0 {
		openQty = -openQty
	}
	dir := store.DirLong
	if signedQty < 0 {
		dir = store.DirShort
	}
	ts := f.TS
	pos.Qty = openQty
	pos.Side = dir
	pos.AvgPrice = f.Price
	pos.OpenTS = &ts
	if err := tx.UpsertPosition(ctx, *pos); err != nil {
		return fmt.Errorf("failed to upsert position: %w", err)
	}

	orderMeta, _ := f.Meta["order_meta"].(map[string]any)
	t := &store.Trade{
		OpenTS:     f.TS,
		Symbol:     pos.Symbol,
		Side:       dir,
		Qty:        openQty,
		Entry:      f.Price,
		ReasonOpen: "fill_open",
		Meta:       store.JSONMap{"multiplier": mult, "order_meta": orderMeta},
	}
	if err := tx.InsertTrade(ctx, t); err != nil {
		return fmt.Errorf("failed to insert trade: %w", err)
	}
	return nil
}
