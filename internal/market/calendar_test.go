package market

import (
	"testing"
	"time"
)

func TestOpenVerdictWeekend(t *testing.T) {
	cal := NewCalendar(nil)
	sat := time.Date(2026, 3, 14, 10, 0, 0, 0, time.Local)
	v := cal.OpenVerdict(sat, nil)
	if v.OK || v.Code != CodeMarketClosed {
		t.Errorf("saturday: %+v", v)
	}
}

func TestOpenVerdictHoliday(t *testing.T) {
	cal := NewCalendar(nil)
	// lunar new year 2026
	cny := time.Date(2026, 2, 17, 10, 0, 0, 0, time.Local)
	v := cal.OpenVerdict(cny, nil)
	if v.OK {
		t.Errorf("holiday should be closed: %+v", v)
	}
	if !cal.ClosedOn("2026-02-17") {
		t.Errorf("ClosedOn should report the static holiday")
	}
}

func TestOpenVerdictExtraDates(t *testing.T) {
	cal := NewCalendar([]string{"2027-01-03"})
	d := time.Date(2027, 1, 3, 10, 0, 0, 0, time.Local) // a Sunday anyway, use ClosedOn
	_ = d
	if !cal.ClosedOn("2027-01-03") {
		t.Errorf("extra closed date not merged")
	}
}

func TestOpenVerdictSessionGap(t *testing.T) {
	cal := NewCalendar(nil)
	gap := time.Date(2026, 3, 11, 14, 15, 0, 0, time.Local)
	if v := cal.OpenVerdict(gap, nil); v.OK {
		t.Errorf("13:45-15:00 gap should be closed: %+v", v)
	}
	open := time.Date(2026, 3, 11, 10, 0, 0, 0, time.Local)
	if v := cal.OpenVerdict(open, nil); !v.OK {
		t.Errorf("wednesday 10:00 should be open: %+v", v)
	}
	night := time.Date(2026, 3, 11, 21, 0, 0, 0, time.Local)
	if v := cal.OpenVerdict(night, nil); !v.OK {
		t.Errorf("after-hours session should be open: %+v", v)
	}
}

func TestOpenVerdictMetaOverrides(t *testing.T) {
	cal := NewCalendar(nil)
	sat := time.Date(2026, 3, 14, 10, 0, 0, 0, time.Local)
	for _, key := range []string{"allow_market_closed", "sim_mode", "paper_mode"} {
		v := cal.OpenVerdict(sat, map[string]any{key: true})
		if !v.OK || v.Code != CodeMarketOverride {
			t.Errorf("override %s: %+v", key, v)
		}
	}
}

func TestOpenVerdictEnvOverride(t *testing.T) {
	t.Setenv(EnvIgnoreCalendar, "1")
	cal := NewCalendar(nil)
	sat := time.Date(2026, 3, 14, 10, 0, 0, 0, time.Local)
	v := cal.OpenVerdict(sat, nil)
	if !v.OK || v.Code != CodeMarketEnvOverride {
		t.Errorf("env override: %+v", v)
	}
}
