// Package reconcile runs read-only invariant audits over the canonical
// store and records the outcome as an append-only health-check row. It
// never mutates trading state; operators read health_checks, not logs.
package reconcile

import (
	"context"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/tmflab/tmftrader/internal/store"
	"github.com/tmflab/tmftrader/internal/taxonomy"
)

const qtyEpsilon = 1e-9

// auditEnvKeys are snapshotted into every health-check row so a report can
// always be tied back to the configuration that produced it.
var auditEnvKeys = []string{
	"TMF_DB_PATH",
	"TMF_FOP_CODE",
	"TMF_STRICT_REQUIRE_STOP",
	"TMF_STRICT_REQUIRE_MARKET_METRICS",
	"TMF_REQUIRE_SESSION_OPEN",
	"TMF_SESSION_OPEN_HHMM",
	"TMF_SESSION_CLOSE_HHMM",
	"TMF_HALT_DATES_CSV",
	"TMF_MAX_BIDASK_AGE_SECONDS",
	"TMF_DEV_ALLOW_STALE_BIDASK",
	"TMF_IGNORE_MARKET_CALENDAR",
	"TMF_RUN_LOCK_DIR",
	"TMF_SPLIT_MAX_CHILDREN",
}

// Violation is one failed invariant.
type Violation struct {
	Check  string         `json:"check"`
	Detail map[string]any `json:"detail"`
}

// Report is the outcome of one reconcile run.
type Report struct {
	OK             bool               `json:"ok"`
	OrdersChecked  int                `json:"orders_checked"`
	FillsChecked   int                `json:"fills_checked"`
	TradesChecked  int                `json:"trades_checked"`
	Violations     []Violation        `json:"violations,omitempty"`
	RejectsByCode  map[string]int     `json:"rejects_by_code"`
	RejectsByClass map[string]int     `json:"rejects_by_domain"`
	RejectsByAct   map[string]int     `json:"rejects_by_action"`
	Env            map[string]string  `json:"env"`
}

// Reconciler audits the store.
type Reconciler struct {
	store store.Store
	log   zerolog.Logger
}

// New builds a reconciler.
func New(st store.Store, log zerolog.Logger) *Reconciler {
	return &Reconciler{store: st, log: log.With().Str("component", "reconcile").Logger()}
}

// Run audits all invariants and persists a health-check row. The returned
// report mirrors the persisted summary.
func (r *Reconciler) Run(ctx context.Context) (*Report, error) {
	rep := &Report{
		OK:             true,
		RejectsByCode:  map[string]int{},
		RejectsByClass: map[string]int{},
		RejectsByAct:   map[string]int{},
		Env:            envSnapshot(),
	}

	if err := r.auditFilledOrders(ctx, rep); err != nil {
		return nil, err
	}
	if err := r.auditFills(ctx, rep); err != nil {
		return nil, err
	}
	if err := r.auditClosedTrades(ctx, rep); err != nil {
		return nil, err
	}
	if err := r.auditPositions(ctx, rep); err != nil {
		return nil, err
	}
	if err := r.auditRejects(ctx, rep); err != nil {
		return nil, err
	}

	status := "OK"
	if !rep.OK {
		status = "FAIL"
	}
	hc := &store.HealthCheck{
		TS:     time.Now(),
		Name:   "reconcile",
		Kind:   "invariant_audit",
		Status: status,
		Summary: store.JSONMap{
			"ok":                rep.OK,
			"orders_checked":    rep.OrdersChecked,
			"fills_checked":     rep.FillsChecked,
			"trades_checked":    rep.TradesChecked,
			"violations":        rep.Violations,
			"rejects_by_code":   rep.RejectsByCode,
			"rejects_by_domain": rep.RejectsByClass,
			"rejects_by_action": rep.RejectsByAct,
			"env":               rep.Env,
		},
	}
	if err := r.store.InsertHealthCheck(ctx, hc); err != nil {
		return nil, fmt.Errorf("failed to persist health check: %w", err)
	}
	r.log.Info().Bool("ok", rep.OK).Int("violations", len(rep.Violations)).Msg("reconcile complete")
	return rep, nil
}

func (r *Reconciler) violate(rep *Report, check string, detail map[string]any) {
	rep.OK = false
	rep.Violations = append(rep.Violations, Violation{Check: check, Detail: detail})
}

// auditFilledOrders checks that every FILLED order has fills summing to its
// quantity.
func (r *Reconciler) auditFilledOrders(ctx context.Context, rep *Report) error {
	filled, err := r.store.OrdersByStatus(ctx, store.StatusFilled, store.DefaultScanLimit)
	if err != nil {
		return fmt.Errorf("failed to read filled orders: %w", err)
	}
	for _, o := range filled {
		rep.OrdersChecked++
		fills, err := r.store.FillsByOrder(ctx, o.BrokerOrderID)
		if err != nil {
			return fmt.Errorf("failed to read fills for order: %w", err)
		}
		if len(fills) == 0 {
			r.violate(rep, "filled_order_has_fills", map[string]any{"broker_order_id": o.BrokerOrderID})
			continue
		}
		sum := 0.0
		for _, f := range fills {
			sum += f.Qty
		}
		if math.Abs(sum-o.Qty) > qtyEpsilon {
			r.violate(rep, "filled_order_qty_sum", map[string]any{
				"broker_order_id": o.BrokerOrderID, "order_qty": o.Qty, "fills_sum": sum,
			})
		}
	}
	return nil
}

// auditFills checks that every fill references an existing order with
// compatible side and symbol.
func (r *Reconciler) auditFills(ctx context.Context, rep *Report) error {
	fills, err := r.store.AllFills(ctx)
	if err != nil {
		return fmt.Errorf("failed to read fills: %w", err)
	}
	for _, f := range fills {
		rep.FillsChecked++
		o, err := r.store.OrderByBrokerID(ctx, f.BrokerOrderID)
		if err != nil {
			return fmt.Errorf("failed to read fill's order: %w", err)
		}
		if o == nil {
			r.violate(rep, "fill_has_order", map[string]any{"fill_id": f.ID, "broker_order_id": f.BrokerOrderID})
			continue
		}
		if o.Side != f.Side || o.Symbol != f.Symbol {
			r.violate(rep, "fill_order_compatible", map[string]any{
				"fill_id": f.ID, "order_side": o.Side, "fill_side": f.Side,
				"order_symbol": o.Symbol, "fill_symbol": f.Symbol,
			})
		}
	}
	return nil
}

// auditClosedTrades checks closed trades are complete.
func (r *Reconciler) auditClosedTrades(ctx context.Context, rep *Report) error {
	trades, err := r.store.ClosedTrades(ctx, store.DefaultScanLimit)
	if err != nil {
		return fmt.Errorf("failed to read closed trades: %w", err)
	}
	for _, t := range trades {
		rep.TradesChecked++
		if t.CloseTS == nil || t.Exit == nil || t.PnL == nil || t.PnLFraction == nil {
			r.violate(rep, "closed_trade_complete", map[string]any{"trade_id": t.ID})
		}
	}
	return nil
}

// auditPositions checks side is empty iff qty is zero.
func (r *Reconciler) auditPositions(ctx context.Context, rep *Report) error {
	positions, err := r.store.Positions(ctx)
	if err != nil {
		return fmt.Errorf("failed to read positions: %w", err)
	}
	for _, p := range positions {
		flat := math.Abs(p.Qty) <= qtyEpsilon
		if flat != (p.Side == "") {
			r.violate(rep, "position_side_qty_consistent", map[string]any{
				"symbol": p.Symbol, "qty": p.Qty, "side": p.Side,
			})
		}
	}
	return nil
}

// auditRejects checks the reject envelope invariant and accumulates reject
// statistics by code, domain, and action.
func (r *Reconciler) auditRejects(ctx context.Context, rep *Report) error {
	rejected, err := r.store.OrdersByStatus(ctx, store.StatusRejected, store.DefaultScanLimit)
	if err != nil {
		return fmt.Errorf("failed to read rejected orders: %w", err)
	}
	validDomains := map[string]bool{
		taxonomy.DomainSafety: true, taxonomy.DomainExec: true,
		taxonomy.DomainRisk: true, taxonomy.DomainBroker: true, taxonomy.DomainUnknown: true,
	}
	for _, o := range rejected {
		rep.OrdersChecked++
		if o.Verdict == nil || strings.TrimSpace(*o.Verdict) == "" {
			r.violate(rep, "rejected_order_has_verdict", map[string]any{"broker_order_id": o.BrokerOrderID})
			continue
		}
		dec, _ := o.Meta["reject_decision"].(map[string]any)
		if dec == nil {
			r.violate(rep, "rejected_order_has_decision", map[string]any{"broker_order_id": o.BrokerOrderID})
			continue
		}
		domain, _ := dec["domain"].(string)
		if !validDomains[domain] {
			r.violate(rep, "reject_decision_domain_valid", map[string]any{
				"broker_order_id": o.BrokerOrderID, "domain": domain,
			})
		}
		code, _ := dec["code"].(string)
		action, _ := dec["action"].(string)
		rep.RejectsByCode[code]++
		rep.RejectsByClass[domain]++
		rep.RejectsByAct[action]++
	}
	return nil
}

func envSnapshot() map[string]string {
	out := map[string]string{}
	for _, k := range auditEnvKeys {
		if v, ok := os.LookupEnv(k); ok {
			out[k] = v
		}
	}
	return out
}
