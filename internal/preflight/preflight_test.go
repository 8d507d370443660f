package preflight

import (
	"reflect"
	"testing"
	"time"
)

var (
	regular    = time.Date(2026, 3, 11, 10, 0, 0, 0, time.Local)
	afterHours = time.Date(2026, 3, 11, 21, 0, 0, 0, time.Local)
)

func TestNormalizeOrderType(t *testing.T) {
	cases := map[string]string{
		"MARKET": "MARKET", "mkt": "MARKET",
		"LIMIT": "LIMIT", "lmt": "LIMIT",
		"MWP": "MWP", "MKP": "MWP",
		"weird": "WEIRD",
	}
	for in, want := range cases {
		if got := NormalizeOrderType(in); got != want {
			t.Errorf("NormalizeOrderType(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSessionFromTime(t *testing.T) {
	if got := SessionFromTime(regular); got != SessionRegular {
		t.Errorf("10:00 = %s, want REGULAR", got)
	}
	if got := SessionFromTime(afterHours); got != SessionAfterHours {
		t.Errorf("21:00 = %s, want AFTER_HOURS", got)
	}
	edge := time.Date(2026, 3, 11, 13, 45, 0, 0, time.Local)
	if got := SessionFromTime(edge); got != SessionRegular {
		t.Errorf("13:45 = %s, want REGULAR (inclusive close)", got)
	}
}

func TestMaxQtyPerOrder(t *testing.T) {
	cases := []struct {
		ot, session string
		want        int
	}{
		{"MARKET", SessionRegular, 10},
		{"MARKET", SessionAfterHours, 5},
		{"LIMIT", SessionRegular, 100},
		{"MWP", SessionAfterHours, 100},
		{"STOP", SessionRegular, 0},
	}
	for _, tc := range cases {
		if got := MaxQtyPerOrder(tc.ot, tc.session); got != tc.want {
			t.Errorf("MaxQtyPerOrder(%s, %s) = %d, want %d", tc.ot, tc.session, got, tc.want)
		}
	}
}

func TestPlanSplits(t *testing.T) {
	if got := PlanSplits(25, 10); !reflect.DeepEqual(got, []int{10, 10, 5}) {
		t.Errorf("PlanSplits(25, 10) = %v", got)
	}
	if got := PlanSplits(10, 10); !reflect.DeepEqual(got, []int{10}) {
		t.Errorf("PlanSplits(10, 10) = %v", got)
	}
	if got := PlanSplits(3, 0); got != nil {
		t.Errorf("PlanSplits(3, 0) = %v, want nil", got)
	}
}

func TestCheckCodes(t *testing.T) {
	cases := []struct {
		name     string
		req      Request
		now      time.Time
		wantOK   bool
		wantCode string
	}{
		{
			name:     "qty_zero",
			req:      Request{Symbol: "TMFB6", Side: "BUY", OrderType: "MARKET", Qty: 0},
			now:      regular,
			wantCode: CodeQtyInvalid,
		},
		{
			name:     "qty_fractional",
			req:      Request{Symbol: "TMFB6", Side: "BUY", OrderType: "MARKET", Qty: 1.5},
			now:      regular,
			wantCode: CodeQtyInvalid,
		},
		{
			name: "bypass",
			req: Request{Symbol: "TMFB6", Side: "BUY", OrderType: "MARKET", Qty: 99,
				Meta: map[string]any{"allow_preflight_bypass": true}},
			now:      regular,
			wantOK:   true,
			wantCode: CodeBypass,
		},
		{
			name: "dpb_regime_block",
			req: Request{Symbol: "TMFB6", Side: "BUY", OrderType: "MARKET", Qty: 1,
				Meta: map[string]any{"regime_dpb_risk": true}},
			now:      regular,
			wantCode: CodeRegimeDPB,
		},
		{
			name:     "mwp_without_anchor",
			req:      Request{Symbol: "TMFB6", Side: "BUY", OrderType: "MWP", Qty: 1},
			now:      regular,
			wantCode: CodeMWPNoAnchor,
		},
		{
			name: "mwp_with_anchor",
			req: Request{Symbol: "TMFB6", Side: "BUY", OrderType: "MWP", Qty: 1,
				Meta: map[string]any{"best_same_side_limit": 19999.0}},
			now:    regular,
			wantOK: true,
		},
		{
			name:     "unsupported_type",
			req:      Request{Symbol: "TMFB6", Side: "BUY", OrderType: "STOP", Qty: 1},
			now:      regular,
			wantCode: CodeTypeUnsupported,
		},
		{
			name:     "market_within_cap",
			req:      Request{Symbol: "TMFB6", Side: "BUY", OrderType: "MARKET", Qty: 10},
			now:      regular,
			wantOK:   true,
		},
		{
			name:     "market_over_cap_regular",
			req:      Request{Symbol: "TMFB6", Side: "BUY", OrderType: "MARKET", Qty: 25},
			now:      regular,
			wantCode: CodeMktQtyLimit,
		},
		{
			name:     "market_over_cap_after_hours",
			req:      Request{Symbol: "TMFB6", Side: "BUY", OrderType: "MARKET", Qty: 6},
			now:      afterHours,
			wantCode: CodeMktQtyLimit,
		},
		{
			name:     "limit_over_cap",
			req:      Request{Symbol: "TMFB6", Side: "BUY", OrderType: "LIMIT", Qty: 101},
			now:      regular,
			wantCode: CodeOrderSizeLimit,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v := Check(tc.req, tc.now)
			if v.OK != tc.wantOK {
				t.Fatalf("ok = %v, want %v (verdict %+v)", v.OK, tc.wantOK, v)
			}
			if tc.wantCode != "" && v.Code != tc.wantCode {
				t.Errorf("code = %s, want %s", v.Code, tc.wantCode)
			}
		})
	}
}

func TestCheckSplitDetails(t *testing.T) {
	v := Check(Request{Symbol: "TMFB6", Side: "BUY", OrderType: "MARKET", Qty: 25}, regular)
	if v.OK {
		t.Fatalf("expected reject, got %+v", v)
	}
	if lim, _ := v.Details["limit"].(int); lim != 10 {
		t.Errorf("limit = %v, want 10", v.Details["limit"])
	}
	if splits, _ := v.Details["suggested_splits"].([]int); !reflect.DeepEqual(splits, []int{10, 10, 5}) {
		t.Errorf("suggested_splits = %v", v.Details["suggested_splits"])
	}
	if v.Details["session_hint"] != SessionRegular {
		t.Errorf("session_hint = %v", v.Details["session_hint"])
	}
}

// The session hint in meta overrides the clock.
func TestResolveSessionHints(t *testing.T) {
	cases := []struct {
		meta map[string]any
		want string
	}{
		{map[string]any{"session_hint": "NIGHT"}, SessionAfterHours},
		{map[string]any{"session": "DAY"}, SessionRegular},
		{map[string]any{"is_night": true}, SessionAfterHours},
		{map[string]any{"is_night": false}, SessionRegular},
		{map[string]any{}, SessionRegular}, // clock fallback at 10:00
	}
	for _, tc := range cases {
		if got := resolveSession(tc.meta, regular); got != tc.want {
			t.Errorf("resolveSession(%v) = %s, want %s", tc.meta, got, tc.want)
		}
	}
}

func TestGuardTIF(t *testing.T) {
	v := Guard(Request{Symbol: "TMFB6", Side: "BUY", OrderType: "MARKET", Qty: 1,
		Meta: map[string]any{"tif": "ROD"}}, regular)
	if v.OK || v.Code != CodeTIFUnsupported {
		t.Errorf("ROD MARKET: %+v", v)
	}

	v = Guard(Request{Symbol: "TMFB6", Side: "BUY", OrderType: "MARKET", Qty: 1,
		Meta: map[string]any{"tif": "IOC"}}, regular)
	if !v.OK {
		t.Errorf("IOC MARKET should pass preflight: %+v", v)
	}

	// ROD is fine for LIMIT
	v = Guard(Request{Symbol: "TMFB6", Side: "BUY", OrderType: "LIMIT", Qty: 1,
		Meta: map[string]any{"tif": "ROD"}}, regular)
	if !v.OK {
		t.Errorf("ROD LIMIT should pass: %+v", v)
	}
}

// On an MWP anchor miss the guard suggests the same-side best price: BUY
// anchors on the bid, SELL on the ask.
func TestGuardMWPAnchorSuggestion(t *testing.T) {
	v := Guard(Request{Symbol: "TMFB6", Side: "BUY", OrderType: "MWP", Qty: 1,
		Meta: map[string]any{"bid": 19999.0, "ask": 20001.0}}, regular)
	if v.OK || v.Code != CodeMWPNoAnchor {
		t.Fatalf("expected MWP anchor miss, got %+v", v)
	}
	sug, _ := v.Details["suggested_meta"].(map[string]any)
	if sug == nil || sug["best_same_side_limit"] != 19999.0 {
		t.Errorf("BUY suggestion = %v, want bid 19999", v.Details["suggested_meta"])
	}

	v = Guard(Request{Symbol: "TMFB6", Side: "SELL", OrderType: "MWP", Qty: 1,
		Meta: map[string]any{"bid": 19999.0, "ask": 20001.0}}, regular)
	sug, _ = v.Details["suggested_meta"].(map[string]any)
	if sug == nil || sug["best_same_side_limit"] != 20001.0 {
		t.Errorf("SELL suggestion = %v, want ask 20001", v.Details["suggested_meta"])
	}
}
