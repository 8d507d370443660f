// Package safety implements the system safety gates: kill switch, cooldown,
// halt days, session window, and feed staleness. The event log is the only
// truth source for feed freshness; cooldown and kill state are durable in
// the state store and survive restarts.
package safety

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/tmflab/tmftrader/internal/payload"
	"github.com/tmflab/tmftrader/internal/store"
	"github.com/tmflab/tmftrader/internal/verdict"
)

// Verdict codes, in gate order.
const (
	CodeKillSwitch     = "SAFETY_KILL_SWITCH"
	CodeCooldownActive = "SAFETY_COOLDOWN_ACTIVE"
	CodeHaltDay        = "SAFETY_HALT_DAY"
	CodeSessionClosed  = "SAFETY_SESSION_CLOSED"
	CodeBidAskMissing  = "SAFETY_BIDASK_MISSING"
	CodeBidAskTSBad    = "SAFETY_BIDASK_TS_INVALID"
	CodeFeedStale      = "SAFETY_FEED_STALE"
	CodeDevAllowStale  = "OK_DEV_ALLOW_STALE"
)

// Config enumerates the safety knobs.
type Config struct {
	RequireRecentBidAsk   int    `yaml:"require_recent_bidask"`
	BidAskKind            string `yaml:"bidask_kind"`
	FOPCode               string `yaml:"fop_code"`
	MaxBidAskAgeSeconds   int    `yaml:"max_bidask_age_seconds"`
	RejectSyntheticBidAsk int    `yaml:"reject_synthetic_bidask"`
	RequireSessionOpen    int    `yaml:"require_session_open"`
	SessionOpenHHMM       string `yaml:"session_open_hhmm"`
	SessionCloseHHMM      string `yaml:"session_close_hhmm"`
	HaltDatesCSV          string `yaml:"halt_dates_csv"`
	ScanLimit             int    `yaml:"scan_limit"`
	// DevAllowStale relaxes the staleness gate to OK_DEV_ALLOW_STALE, but
	// ONLY outside the configured session window. The in-session hardguard
	// cannot be disabled.
	DevAllowStale bool `yaml:"dev_allow_stale"`
}

// DefaultConfig returns strict paper-trading defaults.
func DefaultConfig() Config {
	return Config{
		RequireRecentBidAsk:   1,
		BidAskKind:            store.KindBookFOP,
		FOPCode:               "TMFB6",
		MaxBidAskAgeSeconds:   15,
		RejectSyntheticBidAsk: 1,
		RequireSessionOpen:    0,
		SessionOpenHHMM:       "0845",
		SessionCloseHHMM:      "1345",
		ScanLimit:             store.DefaultScanLimit,
	}
}

// Engine evaluates safety gates and owns the durable cooldown/kill state.
type Engine struct {
	events store.EventStore
	state  store.SafetyStateStore
	cfg    Config
	now    func() time.Time
	log    zerolog.Logger
}

// NewEngine builds a safety engine over the given stores.
func NewEngine(events store.EventStore, state store.SafetyStateStore, cfg Config, log zerolog.Logger) *Engine {
	if cfg.BidAskKind == "" {
		cfg.BidAskKind = store.KindBookFOP
	}
	if cfg.ScanLimit <= 0 {
		cfg.ScanLimit = store.DefaultScanLimit
	}
	return &Engine{
		events: events,
		state:  state,
		cfg:    cfg,
		now:    time.Now,
		log:    log.With().Str("component", "safety").Logger(),
	}
}

// WithClock overrides the engine clock (tests).
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Config returns the active configuration.
func (e *Engine) Config() Config { return e.cfg }

// CheckPreTrade applies the safety gates in order: kill switch, cooldown,
// halt day, session window, feed presence, feed timestamp validity, feed
// staleness. The first failing gate wins.
func (e *Engine) CheckPreTrade(ctx context.Context, meta map[string]any) (verdict.Verdict, error) {
	now := e.now()

	// 1) durable kill switch
	kill, err := e.killState(ctx)
	if err != nil {
		return verdict.Verdict{}, err
	}
	if kill != nil && payload.Bool(kill["enabled"]) {
		return verdict.Fail(CodeKillSwitch, "kill switch engaged; trading blocked", map[string]any{
			"code":   payload.String(kill["code"]),
			"reason": payload.String(kill["reason"]),
		}), nil
	}

	// 2) durable cooldown
	cd, err := e.cooldownState(ctx)
	if err != nil {
		return verdict.Verdict{}, err
	}
	if cd != nil {
		until, _ := payload.Float(cd["until_epoch"])
		if until > 0 && float64(now.Unix()) < until {
			return verdict.Fail(CodeCooldownActive, "cooldown active; trading blocked", map[string]any{
				"until_epoch": until,
				"now_epoch":   now.Unix(),
				"code":        payload.String(cd["code"]),
				"reason":      payload.String(cd["reason"]),
			}), nil
		}
	}

	// 3) manual halt day (expiry/settlement/maintenance)
	today := now.Format("2006-01-02")
	if haltDays(e.cfg.HaltDatesCSV)[today] {
		return verdict.Fail(CodeHaltDay, "today is configured as a halt/expiry/maintenance day", map[string]any{
			"today":          today,
			"halt_dates_csv": e.cfg.HaltDatesCSV,
		}), nil
	}

	// 4) session window
	inSession := e.inSession(now)
	if e.cfg.RequireSessionOpen == 1 && !inSession {
		return verdict.Fail(CodeSessionClosed, "session guard active and current time is outside session window", map[string]any{
			"open_hhmm":  e.cfg.SessionOpenHHMM,
			"close_hhmm": e.cfg.SessionCloseHHMM,
		}), nil
	}

	// 5-7) feed freshness from the event log
	if e.cfg.RequireRecentBidAsk == 1 {
		if v, err := e.checkFeedFreshness(ctx, now, inSession); err != nil || !v.OK {
			return v, err
		}
	}

	return verdict.Pass("OK", "system safety pre-trade pass", map[string]any{
		"fop_code":    e.cfg.FOPCode,
		"bidask_kind": e.cfg.BidAskKind,
	}), nil
}

func (e *Engine) checkFeedFreshness(ctx context.Context, now time.Time, inSession bool) (verdict.Verdict, error) {
	ev, err := e.events.LatestEventByKind(ctx, e.cfg.BidAskKind, func(ev store.Event) bool {
		if payload.String(ev.Payload["code"]) != e.cfg.FOPCode {
			return false
		}
		if e.cfg.RejectSyntheticBidAsk == 1 && payload.Bool(ev.Payload["synthetic"]) {
			return false
		}
		return true
	}, e.cfg.ScanLimit)
	if err != nil {
		return verdict.Verdict{}, fmt.Errorf("failed to scan book events: %w", err)
	}
	if ev == nil {
		return verdict.Fail(CodeBidAskMissing, "no book event found for required fop_code", map[string]any{
			"bidask_kind": e.cfg.BidAskKind,
			"fop_code":    e.cfg.FOPCode,
		}), nil
	}

	// Recorder-side clocks beat the outer event timestamp when present:
	// recv_ts / ingest_ts inside the payload reflect when the quote was
	// actually received, not when the row was written.
	evTS := ev.TS
	tsField := ""
	for _, key := range []string{"recv_ts", "ingest_ts"} {
		if raw, exists := ev.Payload[key]; exists {
			parsed, ok := payload.Time(raw)
			if !ok {
				return verdict.Fail(CodeBidAskTSBad, "cannot parse book event timestamp", map[string]any{
					"bidask_event_id": ev.ID,
					"field":           key,
					"value":           raw,
				}), nil
			}
			evTS = parsed
			tsField = key
			break
		}
	}

	age := now.Sub(evTS).Seconds()
	if age > float64(e.cfg.MaxBidAskAgeSeconds) {
		details := map[string]any{
			"bidask_event_id":        ev.ID,
			"bidask_ts":              evTS,
			"ts_field":               tsField,
			"age_seconds":            age,
			"max_bidask_age_seconds": e.cfg.MaxBidAskAgeSeconds,
			"fop_code":               e.cfg.FOPCode,
		}
		// Hardguard: the dev override never applies inside the session
		// window, so a stale feed can never be traded through in-session.
		if e.cfg.DevAllowStale && !inSession {
			e.log.Warn().Float64("age_seconds", age).Msg("stale feed allowed by dev override (outside session)")
			return verdict.Pass(CodeDevAllowStale, "stale feed allowed by dev override outside session window", details), nil
		}
		return verdict.Fail(CodeFeedStale,
			fmt.Sprintf("book feed stale: age_sec=%.1f > max=%d", age, e.cfg.MaxBidAskAgeSeconds),
			details), nil
	}
	return verdict.Pass("OK", "feed fresh", nil), nil
}

func (e *Engine) inSession(now time.Time) bool {
	open := parseHHMM(e.cfg.SessionOpenHHMM)
	close := parseHHMM(e.cfg.SessionCloseHHMM)
	hm := now.Hour()*100 + now.Minute()
	return hm >= open && hm <= close
}

func parseHHMM(s string) int {
	if len(s) != 4 {
		return 0
	}
	v := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0
		}
		v = v*10 + int(c-'0')
	}
	return v
}

func haltDays(csv string) map[string]bool {
	out := map[string]bool{}
	start := 0
	for i := 0; i <= len(csv); i++ {
		if i == len(csv) || csv[i] == ',' {
			if d := trimSpace(csv[start:i]); d != "" {
				out[d] = true
			}
			start = i + 1
		}
	}
	return out
}

func trimSpace(s string) string {
	for len(s) > 0 && (s[0] == ' ' || s[0] == '\t') {
		s = s[1:]
	}
	for len(s) > 0 && (s[len(s)-1] == ' ' || s[len(s)-1] == '\t') {
		s = s[:len(s)-1]
	}
	return s
}
