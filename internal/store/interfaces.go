package store

import (
	"context"
	"errors"
	"time"
)

// Store faults. Business rejections are verdicts, never these errors.
var (
	// ErrUnavailable marks a persistence failure (STORE_UNAVAILABLE).
	ErrUnavailable = errors.New("STORE_UNAVAILABLE")
	// ErrTxFailed marks a failed atomic commit (STORE_TX_FAILED). No partial
	// state is exposed after this error.
	ErrTxFailed = errors.New("STORE_TX_FAILED")
)

// DefaultScanLimit bounds newest-first event scans.
const DefaultScanLimit = 2000

// EventMatch is a caller-supplied predicate over a candidate event.
type EventMatch func(ev Event) bool

// EventStore is the append-only market/lifecycle event log.
type EventStore interface {
	// AppendEvent persists one event and returns its strictly increasing id.
	AppendEvent(ctx context.Context, ev Event) (int64, error)

	// LatestEventByKind scans newest-first (id descending) over at most
	// scanLimit rows of the given kind and returns the first event the
	// predicate accepts, or nil when none matches.
	LatestEventByKind(ctx context.Context, kind string, match EventMatch, scanLimit int) (*Event, error)

	// EventsByKinds returns events of the given kinds in id-ascending order,
	// optionally bounded below by sinceTS.
	EventsByKinds(ctx context.Context, kinds []string, sinceTS *time.Time) ([]Event, error)
}

// BarStore holds 1-minute bars with idempotent upsert by composite key.
type BarStore interface {
	UpsertBar(ctx context.Context, bar Bar) error
	// RecentBars returns up to limit bars newest-first for (assetClass, symbol).
	RecentBars(ctx context.Context, assetClass, symbol string, limit int) ([]Bar, error)
}

// OrderStore persists intent outcomes.
type OrderStore interface {
	InsertOrder(ctx context.Context, o *Order) error
	UpdateOrderStatus(ctx context.Context, brokerOrderID, status string, filledQty float64) error
	// UpdateOrderDecision records the taxonomy outcome on an existing row.
	UpdateOrderDecision(ctx context.Context, brokerOrderID, verdict, decision, action string) error
	OrderByBrokerID(ctx context.Context, brokerOrderID string) (*Order, error)
	OrdersByStatus(ctx context.Context, status string, limit int) ([]Order, error)
	CountOrders(ctx context.Context) (int64, error)
}

// FillStore persists executions.
type FillStore interface {
	InsertFill(ctx context.Context, f *Fill) error
	FillsByOrder(ctx context.Context, brokerOrderID string) ([]Fill, error)
	AllFills(ctx context.Context) ([]Fill, error)
}

// TradeStore persists round-trips and serves the risk engine's
// realized-loss queries.
type TradeStore interface {
	InsertTrade(ctx context.Context, t *Trade) error
	// CloseOpenTrade closes the newest open trade for symbol.
	CloseOpenTrade(ctx context.Context, symbol string, closeTS time.Time, exit, pnl, pnlFraction float64, reasonClose string) error
	OpenTrade(ctx context.Context, symbol string) (*Trade, error)
	ClosedTrades(ctx context.Context, limit int) ([]Trade, error)
	// RealizedPnLBetween sums pnl over trades closed in [from, to).
	RealizedPnLBetween(ctx context.Context, from, to time.Time) (float64, error)
	// ConsecutiveLosses counts the streak of most recent closed trades with
	// pnl < 0, scanning at most scanLimit rows.
	ConsecutiveLosses(ctx context.Context, scanLimit int) (int, error)
	// LastLossTime returns the close time of the most recent losing trade.
	LastLossTime(ctx context.Context) (*time.Time, error)
}

// PositionStore holds the single net position per symbol.
type PositionStore interface {
	Position(ctx context.Context, symbol string) (*Position, error)
	UpsertPosition(ctx context.Context, p Position) error
	Positions(ctx context.Context) ([]Position, error)
}

// SafetyStateStore is the durable cooldown/kill-switch state.
type SafetyStateStore interface {
	SafetyState(ctx context.Context, key string) (*SafetyState, error)
	SetSafetyState(ctx context.Context, key string, value JSONMap) error
}

// HealthStore is the append-only health-check audit log.
type HealthStore interface {
	InsertHealthCheck(ctx context.Context, hc *HealthCheck) error
	RecentHealthChecks(ctx context.Context, limit int) ([]HealthCheck, error)
}

// Store is the full canonical store. Tx runs fn against a transaction-scoped
// view; all writes inside fn commit atomically or the call fails with
// ErrTxFailed and no partial state is exposed.
type Store interface {
	EventStore
	BarStore
	OrderStore
	FillStore
	TradeStore
	PositionStore
	SafetyStateStore
	HealthStore

	Tx(ctx context.Context, fn func(tx Store) error) error
}
