// Package gateway is the core orchestrator: one intent in, one audited
// outcome out. It chains safety, market calendar, exchange preflight, and
// risk, persists a REJECTED row with the full verdict envelope for every
// failure, executes taxonomy actions (COOLDOWN/KILL/SPLIT), and delegates
// accepted intents to the paper OMS.
package gateway

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tmflab/tmftrader/internal/market"
	"github.com/tmflab/tmftrader/internal/oms"
	"github.com/tmflab/tmftrader/internal/payload"
	"github.com/tmflab/tmftrader/internal/preflight"
	"github.com/tmflab/tmftrader/internal/risk"
	"github.com/tmflab/tmftrader/internal/safety"
	"github.com/tmflab/tmftrader/internal/store"
	"github.com/tmflab/tmftrader/internal/taxonomy"
	"github.com/tmflab/tmftrader/internal/verdict"
)

// Gateway-level codes.
const (
	CodeDeadlineExceeded = "GATEWAY_DEADLINE_EXCEEDED"
	CodeSplitLoopGuard   = "EXEC_SPLIT_LOOP_GUARD"
	CodeOKSplit          = "OK_SPLIT"
)

// Config tunes the gateway.
type Config struct {
	// DefaultCooldownSeconds applies when a COOLDOWN action carries no
	// explicit meta.cooldown_seconds.
	DefaultCooldownSeconds int `yaml:"default_cooldown_seconds"`
	// SplitMaxChildren is the hard ceiling on split-loop children.
	SplitMaxChildren int `yaml:"split_max_children"`
}

// DefaultConfig returns the gateway defaults.
func DefaultConfig() Config {
	return Config{
		DefaultCooldownSeconds: 60,
		SplitMaxChildren:       2000,
	}
}

// Intent is one trade request entering the gateway.
type Intent struct {
	Symbol    string
	Side      string
	Qty       float64
	OrderType string
	Price     *float64
	Meta      map[string]any
}

// Result is the structured outcome of PlaceOrder. Rejections are values,
// never errors; errors signal store faults only.
type Result struct {
	OK            bool               `json:"ok"`
	Status        string             `json:"status"`
	BrokerOrderID string             `json:"broker_order_id,omitempty"`
	Order         *store.Order       `json:"order,omitempty"`
	Safety        *verdict.Verdict   `json:"safety,omitempty"`
	Calendar      *verdict.Verdict   `json:"calendar,omitempty"`
	Exec          *verdict.Verdict   `json:"exec,omitempty"`
	Risk          *verdict.Verdict   `json:"risk,omitempty"`
	Decision      *taxonomy.Decision `json:"decision,omitempty"`
	Children      []Result           `json:"children,omitempty"`
}

// Gateway wires the gate chain over the paper OMS.
type Gateway struct {
	oms      *oms.PaperOMS
	safety   *safety.Engine
	calendar *market.Calendar
	risk     *risk.Engine
	policy   *taxonomy.Policy
	cfg      Config
	now      func() time.Time
	log      zerolog.Logger
}

// New builds a gateway.
func New(o *oms.PaperOMS, se *safety.Engine, cal *market.Calendar, re *risk.Engine, policy *taxonomy.Policy, cfg Config, log zerolog.Logger) *Gateway {
	if cfg.SplitMaxChildren <= 0 {
		cfg.SplitMaxChildren = 2000
	}
	if cfg.DefaultCooldownSeconds <= 0 {
		cfg.DefaultCooldownSeconds = 60
	}
	return &Gateway{
		oms:      o,
		safety:   se,
		calendar: cal,
		risk:     re,
		policy:   policy,
		cfg:      cfg,
		now:      time.Now,
		log:      log.With().Str("component", "gateway").Logger(),
	}
}

// WithClock overrides the gateway clock (tests).
func (g *Gateway) WithClock(now func() time.Time) *Gateway {
	g.now = now
	return g
}

// enrichIntent fills the meta.intent envelope (correlation id generated if
// absent, causation id, provenance, stop spec) without touching other
// caller fields. The returned meta is a copy.
func (g *Gateway) enrichIntent(in Intent) map[string]any {
	meta := map[string]any{}
	for k, v := range in.Meta {
		meta[k] = v
	}
	// a bare string intent ("CLOSE"/"EXIT") is a reduce-only marker, not an
	// envelope; keep it readable for the risk engine
	if s, ok := meta["intent"].(string); ok {
		meta["intent_kind"] = s
	}
	envelope, _ := meta["intent"].(map[string]any)
	env := map[string]any{}
	for k, v := range envelope {
		env[k] = v
	}
	if payload.String(env["correlation_id"]) == "" {
		env["correlation_id"] = uuid.NewString()
	}
	for _, k := range []string{"causation_id", "strategy_id", "signal_id", "runner", "source_file"} {
		if _, exists := env[k]; !exists {
			if v, ok := meta[k]; ok {
				env[k] = v
			}
		}
	}
	if _, exists := env["stop"]; !exists {
		if v, ok := meta["stop_price"]; ok && v != nil {
			env["stop"] = map[string]any{"stop_price": v}
		}
	}
	meta["intent"] = env
	return meta
}

// PlaceOrder runs the full gate chain for one intent. A non-nil error means
// a store fault; business rejections come back inside the Result.
func (g *Gateway) PlaceOrder(ctx context.Context, in Intent) (Result, error) {
	meta := g.enrichIntent(in)
	in.Meta = meta

	// 1) safety
	if res, done, err := g.checkDeadline(ctx, in, nil, nil, nil); done {
		return res, err
	}
	sv, err := g.safety.CheckPreTrade(ctx, meta)
	if err != nil {
		return Result{}, err
	}
	if !sv.OK {
		return g.reject(ctx, in, &sv, nil, nil, nil, rejectFrom{safety: &sv})
	}

	// 2) market calendar
	if res, done, err := g.checkDeadline(ctx, in, &sv, nil, nil); done {
		return res, err
	}
	cv := g.calendar.OpenVerdict(g.now(), meta)
	if !cv.OK {
		res, err := g.reject(ctx, in, &sv, &cv, nil, nil, rejectFrom{exec: &cv})
		res.Calendar = &cv
		return res, err
	}

	// 3) exchange preflight; the verdict is kept in meta even when a later
	// gate rejects, so post-mortems always see it
	if res, done, err := g.checkDeadline(ctx, in, &sv, nil, nil); done {
		return res, err
	}
	pv := preflight.Guard(preflight.Request{
		Symbol:    in.Symbol,
		Side:      in.Side,
		OrderType: in.OrderType,
		Qty:       in.Qty,
		Price:     in.Price,
		Meta:      meta,
	}, g.now())
	meta["preflight_verdict"] = pv.AsMap()
	if !pv.OK {
		dec := g.policy.DecisionFromVerdict(pv.AsMap(), pv.Reason)
		if dec.Action == taxonomy.ActionSplit && pv.Code == preflight.CodeMktQtyLimit {
			return g.runSplitLoop(ctx, in, pv)
		}
		return g.rejectWithDecision(ctx, in, &sv, &pv, nil, dec, rejectFrom{exec: &pv})
	}

	// 4) risk
	if res, done, err := g.checkDeadline(ctx, in, &sv, &pv, nil); done {
		return res, err
	}
	entry := 0.0
	if rp, ok := payload.Float(meta["ref_price"]); ok {
		entry = rp
	}
	rv, err := g.risk.CheckPreTrade(ctx, risk.Intent{
		Symbol:     in.Symbol,
		Side:       in.Side,
		Qty:        in.Qty,
		EntryPrice: entry,
		Meta:       meta,
	})
	if err != nil {
		return Result{}, err
	}
	if !rv.OK {
		return g.reject(ctx, in, &sv, &pv, &rv, nil, rejectFrom{risk: &rv})
	}

	// 5) accept: pass verdicts plus the allow decision land with the order
	// row in one insert
	meta["safety_verdict"] = sv.AsMap()
	meta["risk_verdict"] = rv.AsMap()
	allow := g.policy.DecisionFromVerdict(map[string]any{"ok": true, "code": "OK", "reason": "pre-trade pass"}, "")
	order, err := g.oms.SubmitOrder(ctx, oms.SubmitRequest{
		Symbol:    in.Symbol,
		Side:      in.Side,
		Qty:       in.Qty,
		OrderType: in.OrderType,
		Price:     in.Price,
		Meta:      meta,
		Verdict:   strPtr(allow.Code),
		Decision:  strPtr(allow.Domain),
		Action:    strPtr(allow.Action),
	})
	if err != nil {
		return Result{}, err
	}
	return Result{
		OK:            true,
		Status:        order.Status,
		BrokerOrderID: order.BrokerOrderID,
		Order:         order,
		Safety:        &sv,
		Exec:          &pv,
		Risk:          &rv,
		Decision:      &allow,
	}, nil
}

// rejectFrom names which gate produced the failing verdict.
type rejectFrom struct {
	safety *verdict.Verdict
	exec   *verdict.Verdict
	risk   *verdict.Verdict
}

func (r rejectFrom) failing() *verdict.Verdict {
	switch {
	case r.safety != nil:
		return r.safety
	case r.exec != nil:
		return r.exec
	default:
		return r.risk
	}
}

func (g *Gateway) reject(ctx context.Context, in Intent, sv, pv, rv *verdict.Verdict, children []Result, from rejectFrom) (Result, error) {
	failing := from.failing()
	dec := g.policy.DecisionFromVerdict(failing.AsMap(), failing.Reason)
	res, err := g.rejectWithDecision(ctx, in, sv, pv, rv, dec, from)
	res.Children = children
	return res, err
}

// rejectWithDecision persists exactly one REJECTED row carrying the full
// verdict envelope, then executes the taxonomy action.
func (g *Gateway) rejectWithDecision(ctx context.Context, in Intent, sv, pv, rv *verdict.Verdict, dec taxonomy.Decision, from rejectFrom) (Result, error) {
	meta := map[string]any{}
	for k, v := range in.Meta {
		meta[k] = v
	}
	meta["reject_decision"] = dec.AsMap()
	if sv != nil {
		meta["safety_verdict"] = sv.AsMap()
	}
	if pv != nil {
		meta["preflight_verdict"] = pv.AsMap()
	}
	if rv != nil {
		meta["risk_verdict"] = rv.AsMap()
	}

	order, err := g.oms.SubmitOrder(ctx, oms.SubmitRequest{
		Symbol:    in.Symbol,
		Side:      in.Side,
		Qty:       in.Qty,
		OrderType: in.OrderType,
		Price:     in.Price,
		Meta:      meta,
		Status:    store.StatusRejected,
		Verdict:   strPtr(dec.Code),
		Decision:  strPtr(dec.Domain),
		Action:    strPtr(dec.Action),
	})
	if err != nil {
		return Result{}, err
	}

	// durable taxonomy actions
	switch dec.Action {
	case taxonomy.ActionCooldown:
		seconds := g.cfg.DefaultCooldownSeconds
		if s, ok := payload.Float(meta["cooldown_seconds"]); ok && s > 0 {
			seconds = int(s)
		}
		if err := g.safety.RequestCooldown(ctx, seconds, dec.Code, dec.Reason, dec.Details); err != nil {
			return Result{}, err
		}
	case taxonomy.ActionKill:
		if err := g.safety.RequestKill(ctx, dec.Code, dec.Reason, dec.Details); err != nil {
			return Result{}, err
		}
	}

	g.log.Warn().Str("broker_order_id", order.BrokerOrderID).Str("code", dec.Code).
		Str("domain", dec.Domain).Str("action", dec.Action).Msg("intent rejected")
	return Result{
		OK:            false,
		Status:        store.StatusRejected,
		BrokerOrderID: order.BrokerOrderID,
		Order:         order,
		Safety:        from.safety,
		Exec:          from.exec,
		Risk:          from.risk,
		Decision:      &dec,
	}, nil
}

// checkDeadline persists a GATEWAY_DEADLINE_EXCEEDED reject when the intent
// context has expired between gates.
func (g *Gateway) checkDeadline(ctx context.Context, in Intent, sv, pv, rv *verdict.Verdict) (Result, bool, error) {
	if ctx.Err() == nil {
		return Result{}, false, nil
	}
	dv := verdict.Fail(CodeDeadlineExceeded, "intent deadline exceeded between gates",
		map[string]any{"ctx_err": ctx.Err().Error()})
	// persist with a fresh context: the intent's own context is dead
	persistCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := g.reject(persistCtx, in, sv, pv, rv, nil, rejectFrom{exec: &dv})
	return res, true, err
}

func strPtr(s string) *string { return &s }
