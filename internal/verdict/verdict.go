// Package verdict defines the sealed verdict record shared by every
// pre-trade gate (safety, calendar, exchange preflight, risk).
//
// A verdict is a VALUE, never an error: gates are total functions and the
// caller decides what a failing code means. Codes are discriminated by
// prefix (SAFETY_, RISK_, EXEC_, BROKER_) which the reject taxonomy maps to
// domains and actions.
package verdict

// Verdict is the outcome of a single gate evaluation.
type Verdict struct {
	OK      bool           `json:"ok"`
	Code    string         `json:"code"`
	Reason  string         `json:"reason"`
	Details map[string]any `json:"details,omitempty"`
}

// Pass builds a passing verdict.
func Pass(code, reason string, details map[string]any) Verdict {
	return Verdict{OK: true, Code: code, Reason: reason, Details: details}
}

// Fail builds a failing verdict.
func Fail(code, reason string, details map[string]any) Verdict {
	return Verdict{OK: false, Code: code, Reason: reason, Details: details}
}

// AsMap renders the verdict into the meta envelope shape persisted on orders.
func (v Verdict) AsMap() map[string]any {
	m := map[string]any{
		"ok":     v.OK,
		"code":   v.Code,
		"reason": v.Reason,
	}
	if v.Details != nil {
		m["details"] = v.Details
	}
	return m
}
