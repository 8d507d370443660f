package market

import (
	"fmt"
	"os"
	"time"

	"github.com/tmflab/tmftrader/internal/payload"
	"github.com/tmflab/tmftrader/internal/verdict"
)

// Verdict codes emitted by the calendar gate.
const (
	CodeMarketClosed      = "EXEC_MARKET_CLOSED"
	CodeMarketOverride    = "OK_MARKET_OVERRIDE"
	CodeMarketEnvOverride = "OK_MARKET_ENV_OVERRIDE"
)

// EnvIgnoreCalendar bypasses the calendar gate for smoke/regression runs.
// It never affects production unless explicitly set.
const EnvIgnoreCalendar = "TMF_IGNORE_MARKET_CALENDAR"

// twClosedDates2026 are TWSE/TAIFEX non-trading days for 2026 (lunar new
// year block, national holidays, adjusted trading days excluded). Any year
// beyond this table must come from Calendar.ClosedDates — the static set is
// deliberately 2026-scoped.
var twClosedDates2026 = []string{
	"2026-01-01",
	"2026-02-13", "2026-02-16", "2026-02-17", "2026-02-18", "2026-02-19", "2026-02-20",
	"2026-02-27",
	"2026-04-03", "2026-04-06",
	"2026-05-01",
	"2026-06-19",
	"2026-09-25", "2026-09-28",
	"2026-10-09", "2026-10-26",
}

// Calendar is the weekend/holiday/session-break gate for TW index futures.
type Calendar struct {
	closed map[string]bool
}

// NewCalendar builds a calendar. Extra closed dates (YYYY-MM-DD) are merged
// over the static 2026 set; pass the authoritative provider's dates for any
// other year.
func NewCalendar(extraClosedDates []string) *Calendar {
	closed := make(map[string]bool, len(twClosedDates2026)+len(extraClosedDates))
	for _, d := range twClosedDates2026 {
		closed[d] = true
	}
	for _, d := range extraClosedDates {
		if d != "" {
			closed[d] = true
		}
	}
	return &Calendar{closed: closed}
}

// OpenVerdict reports whether the market is tradable at now. Overrides:
// meta allow_market_closed / sim_mode / paper_mode, or the env bypass knob.
// The 13:45-15:00 gap between the regular close and after-hours open is
// treated as closed.
func (c *Calendar) OpenVerdict(now time.Time, meta map[string]any) verdict.Verdict {
	if payload.Bool(meta["allow_market_closed"]) || payload.Bool(meta["sim_mode"]) || payload.Bool(meta["paper_mode"]) {
		return verdict.Pass(CodeMarketOverride, "market closed gate bypassed by meta override",
			map[string]any{"meta_keys": metaKeys(meta)})
	}

	day := now.Format("2006-01-02")
	if payload.Bool(os.Getenv(EnvIgnoreCalendar)) {
		return verdict.Pass(CodeMarketEnvOverride, "market calendar bypassed by env",
			map[string]any{"env": EnvIgnoreCalendar, "date": day})
	}

	if wd := now.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return verdict.Fail(CodeMarketClosed, "weekend market closed",
			map[string]any{"date": day, "weekday": int(wd)})
	}
	if c.closed[day] {
		return verdict.Fail(CodeMarketClosed, "holiday market closed", map[string]any{"date": day})
	}

	hm := now.Hour()*100 + now.Minute()
	if hm > 1345 && hm < 1500 {
		return verdict.Fail(CodeMarketClosed, "between regular close and after-hours open",
			map[string]any{"date": day, "time": now.Format("15:04:05")})
	}

	return verdict.Pass("OK", "market open",
		map[string]any{"date": day, "time": now.Format("15:04:05")})
}

func metaKeys(meta map[string]any) []string {
	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	return keys
}

// ClosedOn reports whether the given date string (YYYY-MM-DD) is a
// configured holiday.
func (c *Calendar) ClosedOn(date string) bool {
	return c.closed[date]
}

// String describes the calendar for diagnostics.
func (c *Calendar) String() string {
	return fmt.Sprintf("tw-calendar(%d closed dates)", len(c.closed))
}
