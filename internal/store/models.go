// Package store defines the canonical data model and repository interfaces
// for the event log and trading state. The sqlite subpackage provides the
// single-file production implementation; engines depend only on the narrow
// interfaces declared here.
package store

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Order side values.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// Order type values.
const (
	TypeMarket = "MARKET"
	TypeLimit  = "LIMIT"
	TypeMWP    = "MWP" // market-with-protection
)

// Order status values. Status is monotonic over this set.
const (
	StatusNew             = "NEW"
	StatusSubmitted       = "SUBMITTED"
	StatusPartiallyFilled = "PARTIALLY_FILLED"
	StatusFilled          = "FILLED"
	StatusCancelled       = "CANCELLED"
	StatusRejected        = "REJECTED"
	StatusSplitSubmitted  = "SPLIT_SUBMITTED"
)

// Trade / position direction values.
const (
	DirLong  = "LONG"
	DirShort = "SHORT"
)

// JSONMap is a JSON-backed map column (meta envelopes, payloads).
type JSONMap map[string]any

// Value implements driver.Valuer.
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal json map: %w", err)
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (m *JSONMap) Scan(src any) error {
	if src == nil {
		*m = JSONMap{}
		return nil
	}
	var b []byte
	switch v := src.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into JSONMap", src)
	}
	if len(b) == 0 {
		*m = JSONMap{}
		return nil
	}
	return json.Unmarshal(b, m)
}

// Event is one append-only row of the market/lifecycle event log.
// Identity is strictly increasing; payload is immutable after insert.
type Event struct {
	ID       int64     `db:"id" json:"id"`
	TS       time.Time `db:"ts" json:"ts"`
	Kind     string    `db:"kind" json:"kind"`
	Payload  JSONMap   `db:"payload_json" json:"payload"`
	Producer string    `db:"producer" json:"producer"`
	IngestTS time.Time `db:"ingest_ts" json:"ingest_ts"`
}

// Bar is a 1-minute OHLCV bar keyed (minute, asset class, symbol).
type Bar struct {
	TSMin      string  `db:"ts_min" json:"ts_min"` // ISO minute, seconds=0
	AssetClass string  `db:"asset_class" json:"asset_class"`
	Symbol     string  `db:"symbol" json:"symbol"`
	Open       float64 `db:"o" json:"o"`
	High       float64 `db:"h" json:"h"`
	Low        float64 `db:"l" json:"l"`
	Close      float64 `db:"c" json:"c"`
	Volume     float64 `db:"v" json:"v"`
	NTrades    int     `db:"n_trades" json:"n_trades"`
	Source     string  `db:"source" json:"source"`
}

// Order is one persisted intent outcome. Every intent, including rejects,
// produces exactly one row; REJECTED rows carry the full verdict envelope
// in Meta.
type Order struct {
	ID            int64     `db:"id" json:"id"`
	TS            time.Time `db:"ts" json:"ts"`
	BrokerOrderID string    `db:"broker_order_id" json:"broker_order_id"`
	Symbol        string    `db:"symbol" json:"symbol"`
	Side          string    `db:"side" json:"side"`
	Qty           float64   `db:"qty" json:"qty"`
	Price         *float64  `db:"price" json:"price,omitempty"`
	OrderType     string    `db:"order_type" json:"order_type"`
	Status        string    `db:"status" json:"status"`
	Verdict       *string   `db:"verdict" json:"verdict,omitempty"`
	Decision      *string   `db:"decision" json:"decision,omitempty"`
	Action        *string   `db:"action" json:"action,omitempty"`
	FilledQty     float64   `db:"filled_qty" json:"filled_qty"`
	Meta          JSONMap   `db:"meta_json" json:"meta"`
}

// Fill is one execution against an accepted order.
type Fill struct {
	ID            int64     `db:"id" json:"id"`
	TS            time.Time `db:"ts" json:"ts"`
	BrokerOrderID string    `db:"broker_order_id" json:"broker_order_id"`
	Symbol        string    `db:"symbol" json:"symbol"`
	Side          string    `db:"side" json:"side"`
	Qty           float64   `db:"qty" json:"qty"`
	Price         float64   `db:"price" json:"price"`
	Fee           float64   `db:"fee" json:"fee"`
	Tax           float64   `db:"tax" json:"tax"`
	Meta          JSONMap   `db:"meta_json" json:"meta"`
}

// Trade is an open or closed round-trip. At most one open trade per symbol.
type Trade struct {
	ID          int64      `db:"id" json:"id"`
	OpenTS      time.Time  `db:"open_ts" json:"open_ts"`
	CloseTS     *time.Time `db:"close_ts" json:"close_ts,omitempty"`
	Symbol      string     `db:"symbol" json:"symbol"`
	Side        string     `db:"side" json:"side"` // LONG/SHORT
	Qty         float64    `db:"qty" json:"qty"`
	Entry       float64    `db:"entry" json:"entry"`
	Exit        *float64   `db:"exit" json:"exit,omitempty"`
	PnL         *float64   `db:"pnl" json:"pnl,omitempty"`
	PnLFraction *float64   `db:"pnl_pct" json:"pnl_fraction,omitempty"`
	ReasonOpen  string     `db:"reason_open" json:"reason_open"`
	ReasonClose *string    `db:"reason_close" json:"reason_close,omitempty"`
	Meta        JSONMap    `db:"meta_json" json:"meta"`
}

// Position is the single net position per symbol, VWAP-averaged.
// Side is empty iff Qty is 0.
type Position struct {
	Symbol   string     `db:"symbol" json:"symbol"`
	Side     string     `db:"side" json:"side"`
	Qty      float64    `db:"qty" json:"qty"`
	AvgPrice float64    `db:"avg_price" json:"avg_price"`
	OpenTS   *time.Time `db:"open_ts" json:"open_ts,omitempty"`
}

// SafetyState is a durable key -> JSON value row. Known keys: "cooldown"
// ({until_epoch, code, reason, details}) and "kill" ({enabled, code,
// reason, details}). until_epoch == 0 means cleared.
type SafetyState struct {
	Key       string    `db:"key" json:"key"`
	Value     JSONMap   `db:"value_json" json:"value"`
	UpdatedTS time.Time `db:"updated_ts" json:"updated_ts"`
}

// Safety state keys.
const (
	SafetyKeyCooldown = "cooldown"
	SafetyKeyKill     = "kill"
)

// HealthCheck is one append-only audit row consumed by the daily report.
type HealthCheck struct {
	ID      int64     `db:"id" json:"id"`
	TS      time.Time `db:"ts" json:"ts"`
	Name    string    `db:"name" json:"name"`
	Kind    string    `db:"kind" json:"kind"`
	Status  string    `db:"status" json:"status"`
	Summary JSONMap   `db:"summary_json" json:"summary"`
}
