package taxonomy

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDomainFromCode(t *testing.T) {
	cases := map[string]string{
		"RISK_STOP_REQUIRED":        DomainRisk,
		"SAFETY_FEED_STALE":         DomainSafety,
		"EXEC_TAIFEX_MKT_QTY_LIMIT": DomainExec,
		"BROKER_TIMEOUT":            DomainBroker,
		"STORE_UNAVAILABLE":         DomainUnknown,
		"risk_lowercase":            DomainRisk,
	}
	for code, want := range cases {
		if got := DomainFromCode(code); got != want {
			t.Errorf("DomainFromCode(%q) = %q, want %q", code, got, want)
		}
	}
}

func TestDecideActionPrecedence(t *testing.T) {
	p := &Policy{
		ByCode:   map[string]Rule{"RISK_QTY_LIMIT": {Action: "COOLDOWN", Severity: "HIGH"}},
		ByPrefix: map[string]Rule{"RISK_": {Action: "RETRY"}},
		ByDomain: map[string]Rule{DomainRisk: {Action: "KILL"}},
	}

	action, severity := p.DecideAction("RISK_QTY_LIMIT")
	if action != ActionCooldown || severity != SeverityHigh {
		t.Errorf("by_code tier: got (%s, %s)", action, severity)
	}

	action, severity = p.DecideAction("RISK_STOP_REQUIRED")
	if action != ActionRetry || severity != SeverityMed {
		t.Errorf("by_prefix tier: got (%s, %s), want (RETRY, MED default)", action, severity)
	}

	delete(p.ByPrefix, "RISK_")
	action, _ = p.DecideAction("RISK_STOP_REQUIRED")
	if action != ActionKill {
		t.Errorf("by_domain tier: got %s, want KILL", action)
	}

	action, severity = p.DecideAction("SAFETY_FEED_STALE")
	if action != ActionReject || severity != SeverityHigh {
		t.Errorf("fallback: got (%s, %s), want (REJECT, HIGH)", action, severity)
	}
}

// The longest matching prefix must win regardless of map insertion order.
func TestDecideActionLongestPrefixWins(t *testing.T) {
	p := &Policy{
		ByPrefix: map[string]Rule{
			"EXEC_":        {Action: "REJECT"},
			"EXEC_TAIFEX_": {Action: "SPLIT"},
		},
	}
	for i := 0; i < 20; i++ {
		if action, _ := p.DecideAction("EXEC_TAIFEX_MKT_QTY_LIMIT"); action != ActionSplit {
			t.Fatalf("iteration %d: got %s, want SPLIT", i, action)
		}
	}
}

func TestDecideActionNilPolicy(t *testing.T) {
	var p *Policy
	action, severity := p.DecideAction("SAFETY_KILL_SWITCH")
	if action != ActionReject || severity != SeverityHigh {
		t.Errorf("nil policy: got (%s, %s)", action, severity)
	}
}

func TestDecisionFromVerdictPass(t *testing.T) {
	p := DefaultPolicy()
	d := p.DecisionFromVerdict(map[string]any{"ok": true, "code": "OK", "reason": "pass"}, "")
	if !d.OK || d.Action != ActionAllow || d.Code != "OK" {
		t.Errorf("pass decision: %+v", d)
	}
}

func TestDecisionFromVerdictReject(t *testing.T) {
	p := DefaultPolicy()
	d := p.DecisionFromVerdict(map[string]any{
		"ok":     false,
		"code":   "EXEC_TAIFEX_MKT_QTY_LIMIT",
		"reason": "qty exceeds cap",
		"details": map[string]any{
			"limit": 10,
		},
	}, "")
	if d.OK {
		t.Fatalf("expected failing decision")
	}
	if d.Domain != DomainExec || d.Action != ActionSplit || d.Severity != SeverityMed {
		t.Errorf("decision = %+v", d)
	}
	if d.Reason != "qty exceeds cap" {
		t.Errorf("reason = %q", d.Reason)
	}
}

// Nested {risk: ...} and {safety: ...} wrappers unwrap in fixed order.
func TestDecisionFromVerdictUnwrap(t *testing.T) {
	p := DefaultPolicy()
	d := p.DecisionFromVerdict(map[string]any{
		"risk": map[string]any{"ok": false, "code": "RISK_STOP_REQUIRED", "reason": "no stop"},
	}, "")
	if d.Code != "RISK_STOP_REQUIRED" || d.Domain != DomainRisk {
		t.Errorf("unwrapped decision = %+v", d)
	}

	d = p.DecisionFromVerdict(map[string]any{
		"safety": map[string]any{"ok": false, "code": "SAFETY_FEED_STALE", "reason": "stale"},
	}, "")
	if d.Code != "SAFETY_FEED_STALE" || d.Severity != SeverityHigh {
		t.Errorf("unwrapped safety decision = %+v", d)
	}
}

func TestLoadPolicy(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")

	// JSON body in a .yaml file must load (YAML superset of JSON)
	body := `{"by_code": {"EXEC_TAIFEX_MKT_QTY_LIMIT": {"action": "SPLIT", "severity": "MED"}}}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	p, err := LoadPolicy(path)
	if err != nil {
		t.Fatalf("LoadPolicy: %v", err)
	}
	if action, _ := p.DecideAction("EXEC_TAIFEX_MKT_QTY_LIMIT"); action != ActionSplit {
		t.Errorf("action = %s, want SPLIT", action)
	}

	// non-mapping root must fail
	if err := os.WriteFile(path, []byte(`["not", "a", "map"]`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadPolicy(path); err == nil {
		t.Errorf("expected error for non-mapping root")
	}

	if _, err := LoadPolicy(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Errorf("expected error for missing file")
	}
}
