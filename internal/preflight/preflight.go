// Package preflight enforces TAIFEX exchange hard constraints before any
// order reaches the OMS: per-order size caps, MWP anchor requirements, and
// dynamic-price-band regime blocks. It never places orders; it only returns
// a verdict plus an optional split plan.
//
// Rule anchors (TAIFEX, index futures TX/MTX/TMF):
//   - market order max qty: 10 regular session, 5 after-hours (since 2019-05-27)
//   - limit/MWP max qty: 100 per order
package preflight

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/tmflab/tmftrader/internal/payload"
	"github.com/tmflab/tmftrader/internal/verdict"
)

// Verdict codes.
const (
	CodeQtyInvalid       = "ORDER_QTY_INVALID"
	CodeBypass           = "OK_PREFLIGHT_BYPASS"
	CodeRegimeDPB        = "EXEC_TAIFEX_REGIME_DPB_RISK"
	CodeMWPNoAnchor      = "EXEC_TAIFEX_MWP_NO_SAMESIDE_LIMIT"
	CodeTypeUnsupported  = "ORDER_TYPE_UNSUPPORTED"
	CodeMktQtyLimit      = "EXEC_TAIFEX_MKT_QTY_LIMIT"
	CodeOrderSizeLimit   = "TAIFEX_ORDER_SIZE_LIMIT"
	CodeTIFUnsupported   = "EXEC_TIF_UNSUPPORTED_FOR_MKT_MKP"
)

// Canonical session names.
const (
	SessionRegular    = "REGULAR"
	SessionAfterHours = "AFTER_HOURS"
)

// Request is one intent to preflight.
type Request struct {
	Symbol    string
	Side      string
	OrderType string
	Qty       float64
	Price     *float64
	Meta      map[string]any
}

// NormalizeOrderType maps caller price-type aliases to canonical TAIFEX
// order types: MARKET/MKT, LIMIT/LMT, MWP/MKP.
func NormalizeOrderType(raw string) string {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "MARKET", "MKT":
		return "MARKET"
	case "LIMIT", "LMT":
		return "LIMIT"
	case "MWP", "MKP":
		return "MWP"
	default:
		return strings.ToUpper(strings.TrimSpace(raw))
	}
}

// NormalizeSessionHint maps historical session aliases to canonical names.
// Unknown values pass through uppercased; the cap table treats anything
// non-REGULAR as after-hours, which is the conservative side.
func NormalizeSessionHint(raw string) string {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "DAY", "REGULAR", "D", "R":
		return SessionRegular
	case "NIGHT", "AFTER_HOURS", "AH", "N":
		return SessionAfterHours
	default:
		return strings.ToUpper(strings.TrimSpace(raw))
	}
}

// SessionFromTime infers the TAIFEX index-futures session: regular window
// 08:45-13:45 local, everything else after-hours.
func SessionFromTime(now time.Time) string {
	hm := now.Hour()*100 + now.Minute()
	if hm >= 845 && hm <= 1345 {
		return SessionRegular
	}
	return SessionAfterHours
}

// MaxQtyPerOrder returns the TAIFEX per-order cap for the order type and
// session. Zero means the type is unsupported.
func MaxQtyPerOrder(orderType, session string) int {
	switch NormalizeOrderType(orderType) {
	case "MARKET":
		if session == SessionRegular {
			return 10
		}
		return 5
	case "LIMIT", "MWP":
		return 100
	default:
		return 0
	}
}

// PlanSplits chops totalQty into full-cap chunks plus a remainder.
func PlanSplits(totalQty, maxPerOrder int) []int {
	if maxPerOrder <= 0 {
		return nil
	}
	var out []int
	for totalQty >= maxPerOrder {
		out = append(out, maxPerOrder)
		totalQty -= maxPerOrder
	}
	if totalQty > 0 {
		out = append(out, totalQty)
	}
	return out
}

// resolveSession picks the session from meta hints, falling back to the
// clock. Accepted hint keys, in order: session_hint, session, is_night.
func resolveSession(meta map[string]any, now time.Time) string {
	var raw any
	var exists bool
	for _, k := range []string{"session_hint", "session"} {
		if v, ok := meta[k]; ok && v != nil {
			raw, exists = v, true
			break
		}
	}
	if !exists {
		if v, ok := meta["is_night"]; ok {
			if payload.Bool(v) {
				raw = "NIGHT"
			} else {
				raw = "DAY"
			}
			exists = true
		}
	}
	if exists {
		if s := NormalizeSessionHint(payload.String(raw)); s != "" {
			return s
		}
	}
	return SessionFromTime(now)
}

// Check runs the exchange preflight gates in order and returns the first
// failure, or OK with the cap applied.
func Check(req Request, now time.Time) verdict.Verdict {
	meta := req.Meta
	if meta == nil {
		meta = map[string]any{}
	}

	qty := req.Qty
	if qty <= 0 {
		return verdict.Fail(CodeQtyInvalid, "qty must be positive", map[string]any{"qty": req.Qty})
	}
	if math.Abs(qty-math.Round(qty)) > 1e-9 {
		return verdict.Fail(CodeQtyInvalid, "qty must be integer", map[string]any{"qty": req.Qty})
	}
	qtyInt := int(math.Round(qty))

	code := strings.TrimSpace(req.Symbol)
	if code == "" {
		code = "UNKNOWN"
	}

	if payload.Bool(meta["allow_preflight_bypass"]) {
		return verdict.Pass(CodeBypass, "preflight bypassed by meta", map[string]any{"meta_keys": keys(meta)})
	}

	session := resolveSession(meta, now)

	if payload.Bool(meta["regime_dpb_risk"]) {
		return verdict.Fail(CodeRegimeDPB,
			"regime indicates DPB/DPBM risk; block order to avoid exchange-protection rejects",
			map[string]any{"order_type": req.OrderType, "session": session, "regime_dpb_risk": true})
	}

	ot := NormalizeOrderType(req.OrderType)
	if ot == "MWP" {
		bsl, ok := payload.Float(meta["best_same_side_limit"])
		if !ok || bsl <= 0 {
			return verdict.Fail(CodeMWPNoAnchor,
				"MWP requires best_same_side_limit (same-side best price) to derive converted limit",
				map[string]any{"order_type": req.OrderType, "session": session, "best_same_side_limit": meta["best_same_side_limit"]})
		}
	}

	maxPerOrder := MaxQtyPerOrder(ot, session)
	if maxPerOrder <= 0 {
		return verdict.Fail(CodeTypeUnsupported, "unsupported order_type for TAIFEX preflight",
			map[string]any{"order_type": req.OrderType, "session": session})
	}

	if qtyInt <= maxPerOrder {
		return verdict.Pass("OK", "within TAIFEX order-size limits", map[string]any{
			"code":          code,
			"order_type":    req.OrderType,
			"session":       session,
			"qty":           qtyInt,
			"max_per_order": maxPerOrder,
		})
	}

	splits := PlanSplits(qtyInt, maxPerOrder)
	details := map[string]any{
		"code":             code,
		"order_type":       req.OrderType,
		"session":          session,
		"qty":              qtyInt,
		"max_per_order":    maxPerOrder,
		"allow_split":      payload.Bool(meta["allow_split"]),
		"suggested_splits": splits,
	}
	errCode := CodeOrderSizeLimit
	if ot == "MARKET" {
		// the split branch downstream consumes 'limit' + 'session_hint'
		errCode = CodeMktQtyLimit
		details["limit"] = maxPerOrder
		details["session_hint"] = session
	}
	return verdict.Fail(errCode, fmt.Sprintf("qty exceeds TAIFEX per-order maximum (%d > %d)", qtyInt, maxPerOrder), details)
}

func keys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
