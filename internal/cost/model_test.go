package cost

import (
	"math"
	"testing"
)

func TestBaseSymbol(t *testing.T) {
	cases := map[string]string{
		"TMF":   "TMF",
		"TMFB6": "TMF",
		"TXFC6": "TXF",
		"MXFB6": "MXF",
		"ZZZ":   "ZZZ",
	}
	for in, want := range cases {
		if got := BaseSymbol(in); got != want {
			t.Errorf("BaseSymbol(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMultipliers(t *testing.T) {
	m := DefaultModel()
	cases := map[string]float64{"TMFB6": 10, "MXFB6": 50, "TXFC6": 200, "ZZZ": 0}
	for sym, want := range cases {
		if got := m.Multiplier(sym); got != want {
			t.Errorf("Multiplier(%q) = %g, want %g", sym, got, want)
		}
	}
}

func TestContractNotional(t *testing.T) {
	m := DefaultModel()
	got, err := m.ContractNotional(20000, "TMFB6", 2)
	if err != nil {
		t.Fatalf("ContractNotional: %v", err)
	}
	if got != 400000 {
		t.Errorf("notional = %g, want 400000", got)
	}
	if _, err := m.ContractNotional(0, "TMF", 1); err == nil {
		t.Errorf("expected error for non-positive price")
	}
	if _, err := m.ContractNotional(20000, "ZZZ", 1); err == nil {
		t.Errorf("expected UNKNOWN_SYMBOL error")
	}
}

func TestPerSideCost(t *testing.T) {
	m := DefaultModel()
	fee, tax := m.PerSideCost("TMFB6", 20000, 2)
	if want := (4.8 + 3.2) * 2; math.Abs(fee-want) > 1e-9 {
		t.Errorf("fee = %g, want %g", fee, want)
	}
	// notional 20000*10*2 = 400000, tax 400000*0.00002 = 8
	if math.Abs(tax-8) > 1e-9 {
		t.Errorf("tax = %g, want 8", tax)
	}
}

// The round trip must equal the sum of two per-side costs.
func TestRoundTripIdentity(t *testing.T) {
	m := DefaultModel()
	rt, err := m.RoundTripCost("TMFB6", 20000, 3)
	if err != nil {
		t.Fatalf("RoundTripCost: %v", err)
	}
	fee, tax := m.PerSideCost("TMFB6", 20000, 3)
	twoSides := 2 * (fee + tax)
	if math.Abs(rt.TotalRoundTrip-twoSides) > 1e-9 {
		t.Errorf("round trip %g != 2 per-side %g", rt.TotalRoundTrip, twoSides)
	}
	if _, err := m.RoundTripCost("TMF", 20000, 0); err == nil {
		t.Errorf("expected error for zero qty")
	}
}
