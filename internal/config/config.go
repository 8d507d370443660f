// Package config maps the enumerated TMF_* environment knobs onto the
// typed per-component configs. Components never read the environment
// themselves; everything is loaded here at process entry and plumbed down.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/tmflab/tmftrader/internal/gateway"
	"github.com/tmflab/tmftrader/internal/ingest"
	"github.com/tmflab/tmftrader/internal/risk"
	"github.com/tmflab/tmftrader/internal/safety"
)

// Environment knob names.
const (
	EnvDBPath              = "TMF_DB_PATH"
	EnvFOPCode             = "TMF_FOP_CODE"
	EnvSymbol              = "TMF_SYMBOL"
	EnvQty                 = "TMF_QTY"
	EnvStrictStop          = "TMF_STRICT_REQUIRE_STOP"
	EnvStrictMarketMetrics = "TMF_STRICT_REQUIRE_MARKET_METRICS"
	EnvRequireSessionOpen  = "TMF_REQUIRE_SESSION_OPEN"
	EnvSessionOpenHHMM     = "TMF_SESSION_OPEN_HHMM"
	EnvSessionCloseHHMM    = "TMF_SESSION_CLOSE_HHMM"
	EnvHaltDatesCSV        = "TMF_HALT_DATES_CSV"
	EnvMaxBidAskAgeSeconds = "TMF_MAX_BIDASK_AGE_SECONDS"
	EnvDevAllowStale       = "TMF_DEV_ALLOW_STALE_BIDASK"
	EnvAllowSynthetic      = "TMF_ALLOW_SYNTHETIC_BIDASK"
	EnvIgnoreCalendar      = "TMF_IGNORE_MARKET_CALENDAR"
	EnvRunLockDir          = "TMF_RUN_LOCK_DIR"
	EnvSplitMaxChildren    = "TMF_SPLIT_MAX_CHILDREN"
	EnvPolicyPath          = "TMF_REJECT_POLICY_PATH"
	EnvOpsListen           = "TMF_OPS_LISTEN"
	EnvFeedURL             = "TMF_FEED_URL"
)

// App carries the process-level settings that do not belong to a single
// component.
type App struct {
	DBPath     string
	Symbol     string
	FOPCode    string
	Qty        float64
	PolicyPath string
	LockDir    string
	OpsListen  string
	FeedURL    string
}

// AppFromEnv loads the process-level settings.
func AppFromEnv() App {
	return App{
		DBPath:     getStr(EnvDBPath, "data/db/market_data.sqlite"),
		Symbol:     getStr(EnvSymbol, "TMF"),
		FOPCode:    getStr(EnvFOPCode, "TMFB6"),
		Qty:        getFloat(EnvQty, 2),
		PolicyPath: getStr(EnvPolicyPath, "configs/reject_policy.yaml"),
		LockDir:    getStr(EnvRunLockDir, "data/run/paper_runner.lock"),
		OpsListen:  getStr(EnvOpsListen, ":9114"),
		FeedURL:    getStr(EnvFeedURL, ""),
	}
}

// SafetyFromEnv overlays the environment onto the safety defaults.
func SafetyFromEnv() safety.Config {
	cfg := safety.DefaultConfig()
	cfg.FOPCode = getStr(EnvFOPCode, cfg.FOPCode)
	cfg.MaxBidAskAgeSeconds = getInt(EnvMaxBidAskAgeSeconds, cfg.MaxBidAskAgeSeconds)
	cfg.RequireSessionOpen = getFlag(EnvRequireSessionOpen, cfg.RequireSessionOpen)
	cfg.SessionOpenHHMM = getStr(EnvSessionOpenHHMM, cfg.SessionOpenHHMM)
	cfg.SessionCloseHHMM = getStr(EnvSessionCloseHHMM, cfg.SessionCloseHHMM)
	cfg.HaltDatesCSV = getStr(EnvHaltDatesCSV, cfg.HaltDatesCSV)
	cfg.DevAllowStale = getBool(EnvDevAllowStale, cfg.DevAllowStale)
	if getBool(EnvAllowSynthetic, false) {
		cfg.RejectSyntheticBidAsk = 0
	}
	return cfg
}

// RiskFromEnv overlays the environment onto the risk defaults.
func RiskFromEnv() risk.Config {
	cfg := risk.DefaultConfig()
	cfg.StrictRequireStop = getFlag(EnvStrictStop, cfg.StrictRequireStop)
	cfg.StrictRequireMarketMetrics = getFlag(EnvStrictMarketMetrics, cfg.StrictRequireMarketMetrics)
	return cfg
}

// GatewayFromEnv overlays the environment onto the gateway defaults.
func GatewayFromEnv() gateway.Config {
	cfg := gateway.DefaultConfig()
	cfg.SplitMaxChildren = getInt(EnvSplitMaxChildren, cfg.SplitMaxChildren)
	return cfg
}

// IngestFromEnv returns the recorder defaults; the recorder has no knobs of
// its own beyond the feed URL, which lives in App.
func IngestFromEnv() ingest.Config {
	return ingest.DefaultConfig()
}

func getStr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return fallback
}

func getFloat(key string, fallback float64) float64 {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f
		}
	}
	return fallback
}

// getBool treats 1/true/yes/on as true, anything else set as false.
func getBool(key string, fallback bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on", "y":
		return true
	}
	return false
}

// getFlag is getBool for int-typed 0/1 config fields.
func getFlag(key string, fallback int) int {
	def := fallback != 0
	if getBool(key, def) {
		return 1
	}
	return 0
}
