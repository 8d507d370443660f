// Package taxonomy normalizes reject codes across the risk, safety, and
// execution layers into a deterministic, auditable decision: code ->
// (domain, severity, action). Policy comes from a YAML file; unknown codes
// degrade to conservative defaults instead of failing.
package taxonomy

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Actions a decision may carry.
const (
	ActionAllow    = "ALLOW"
	ActionReject   = "REJECT"
	ActionRetry    = "RETRY"
	ActionCooldown = "COOLDOWN"
	ActionKill     = "KILL"
	ActionSplit    = "SPLIT"
)

// Domains inferred from code prefixes.
const (
	DomainRisk    = "RISK"
	DomainSafety  = "SAFETY"
	DomainExec    = "EXEC"
	DomainBroker  = "BROKER"
	DomainUnknown = "UNKNOWN"
)

// Severity levels.
const (
	SeverityLow  = "LOW"
	SeverityMed  = "MED"
	SeverityHigh = "HIGH"
)

// Rule is one policy row.
type Rule struct {
	Action   string `yaml:"action"`
	Severity string `yaml:"severity"`
}

// Policy maps codes to actions with three precedence tiers: exact code,
// code prefix, then domain. Missing tiers fall through to REJECT plus the
// domain's default severity.
type Policy struct {
	ByCode   map[string]Rule `yaml:"by_code"`
	ByPrefix map[string]Rule `yaml:"by_prefix"`
	ByDomain map[string]Rule `yaml:"by_domain"`
}

// Decision is the normalized outcome for one verdict.
type Decision struct {
	OK       bool           `json:"ok"`
	Code     string         `json:"code"`
	Domain   string         `json:"domain"`
	Severity string         `json:"severity"`
	Action   string         `json:"action"`
	Reason   string         `json:"reason"`
	Details  map[string]any `json:"details,omitempty"`
}

// AsMap renders the decision into the meta.reject_decision envelope shape.
func (d Decision) AsMap() map[string]any {
	return map[string]any{
		"ok":       d.OK,
		"code":     d.Code,
		"domain":   d.Domain,
		"severity": d.Severity,
		"action":   d.Action,
		"reason":   d.Reason,
		"details":  d.Details,
	}
}

// DefaultPolicy mirrors configs/reject_policy.yaml so the runner stays
// operable when the policy file is absent.
func DefaultPolicy() *Policy {
	return &Policy{
		ByCode: map[string]Rule{
			"EXEC_TAIFEX_MKT_QTY_LIMIT": {Action: ActionSplit, Severity: SeverityMed},
			"RISK_CONSEC_LOSS_COOLDOWN": {Action: ActionCooldown, Severity: SeverityMed},
			"RISK_DAILY_MAX_LOSS":       {Action: ActionCooldown, Severity: SeverityHigh},
			"SAFETY_KILL_SWITCH":        {Action: ActionKill, Severity: SeverityHigh},
			"STORE_UNAVAILABLE":         {Action: ActionRetry, Severity: SeverityHigh},
		},
		ByPrefix: map[string]Rule{
			"SAFETY_":      {Action: ActionReject, Severity: SeverityHigh},
			"EXEC_TAIFEX_": {Action: ActionReject, Severity: SeverityMed},
			"BROKER_":      {Action: ActionRetry, Severity: SeverityMed},
		},
		ByDomain: map[string]Rule{
			DomainRisk:    {Action: ActionReject, Severity: SeverityMed},
			DomainExec:    {Action: ActionReject, Severity: SeverityMed},
			DomainSafety:  {Action: ActionReject, Severity: SeverityHigh},
			DomainBroker:  {Action: ActionReject, Severity: SeverityMed},
			DomainUnknown: {Action: ActionReject, Severity: SeverityLow},
		},
	}
}

// LoadPolicy reads a YAML policy file. YAML is a superset of JSON, so
// JSON-bodied policy files load unchanged.
func LoadPolicy(path string) (*Policy, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read reject policy: %w", err)
	}
	// root must be a mapping
	var probe map[string]any
	if err := yaml.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("failed to parse reject policy: %w", err)
	}
	var p Policy
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("failed to parse reject policy: %w", err)
	}
	return &p, nil
}

// DomainFromCode infers the layer a code belongs to by prefix.
func DomainFromCode(code string) string {
	c := strings.ToUpper(code)
	switch {
	case strings.HasPrefix(c, "RISK_"):
		return DomainRisk
	case strings.HasPrefix(c, "SAFETY_"):
		return DomainSafety
	case strings.HasPrefix(c, "EXEC_"):
		return DomainExec
	case strings.HasPrefix(c, "BROKER_"):
		return DomainBroker
	default:
		return DomainUnknown
	}
}

func severityDefault(domain string) string {
	switch domain {
	case DomainSafety:
		return SeverityHigh
	case DomainRisk, DomainExec, DomainBroker:
		return SeverityMed
	default:
		return SeverityLow
	}
}

// DecideAction resolves (action, severity) for a code through the policy
// tiers: by_code, by_prefix, by_domain, then the REJECT fallback.
func (p *Policy) DecideAction(code string) (action, severity string) {
	c := strings.ToUpper(code)
	domain := DomainFromCode(c)

	apply := func(r Rule) (string, string) {
		a := strings.ToUpper(r.Action)
		if a == "" {
			a = ActionReject
		}
		s := strings.ToUpper(r.Severity)
		if s == "" {
			s = severityDefault(domain)
		}
		return a, s
	}

	if p != nil {
		if r, ok := p.ByCode[c]; ok {
			return apply(r)
		}
		// longest prefix wins; ties break lexicographically so the outcome
		// never depends on map iteration order
		prefixes := make([]string, 0, len(p.ByPrefix))
		for pref := range p.ByPrefix {
			prefixes = append(prefixes, pref)
		}
		sort.Slice(prefixes, func(i, j int) bool {
			if len(prefixes[i]) != len(prefixes[j]) {
				return len(prefixes[i]) > len(prefixes[j])
			}
			return prefixes[i] < prefixes[j]
		})
		for _, pref := range prefixes {
			if strings.HasPrefix(c, strings.ToUpper(pref)) {
				return apply(p.ByPrefix[pref])
			}
		}
		if r, ok := p.ByDomain[domain]; ok {
			return apply(r)
		}
	}
	return ActionReject, severityDefault(domain)
}

// unwrap peels the common wrapper shapes ({"risk": {...}}, {"safety": {...}})
// in a fixed order so the same input always yields the same decision.
func unwrap(v map[string]any) map[string]any {
	if inner, ok := v["risk"].(map[string]any); ok {
		v = inner
	}
	if inner, ok := v["safety"].(map[string]any); ok {
		v = inner
	}
	return v
}

// DecisionFromVerdict normalizes a verdict-shaped map into a Decision.
// Passing verdicts map to ALLOW; failing ones run through the policy.
func (p *Policy) DecisionFromVerdict(verdict map[string]any, reasonFallback string) Decision {
	v := unwrap(verdict)

	ok := true
	code := "OK"
	reason := "OK"
	var details map[string]any

	if v != nil {
		if raw, exists := v["ok"]; exists {
			b, _ := raw.(bool)
			ok = b
		}
		if raw, exists := v["code"]; exists {
			if s, _ := raw.(string); s != "" {
				code = s
			} else if !ok {
				code = "UNKNOWN"
			}
		}
		if raw, exists := v["reason"]; exists {
			if s, _ := raw.(string); s != "" {
				reason = s
			} else {
				reason = reasonFallback
			}
		}
		if d, isMap := v["details"].(map[string]any); isMap {
			details = d
		}
	} else {
		ok = false
		code = "UNKNOWN"
		reason = reasonFallback
	}

	if ok {
		return Decision{
			OK: true, Code: "OK", Domain: "OK", Severity: SeverityLow,
			Action: ActionAllow, Reason: "pass",
			Details: map[string]any{"verdict": verdict},
		}
	}

	domain := DomainFromCode(code)
	action, severity := p.DecideAction(code)
	return Decision{
		OK: false, Code: strings.ToUpper(code), Domain: domain,
		Severity: severity, Action: action, Reason: reason,
		Details: map[string]any{"details": details, "verdict": verdict},
	}
}
