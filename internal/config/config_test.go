package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppFromEnvDefaults(t *testing.T) {
	app := AppFromEnv()
	assert.Equal(t, "data/db/market_data.sqlite", app.DBPath)
	assert.Equal(t, "TMF", app.Symbol)
	assert.Equal(t, "TMFB6", app.FOPCode)
	assert.Equal(t, 2.0, app.Qty)
	assert.Equal(t, ":9114", app.OpsListen)
}

func TestAppFromEnvOverrides(t *testing.T) {
	t.Setenv(EnvDBPath, "/tmp/x.sqlite")
	t.Setenv(EnvFOPCode, "MXFB6")
	t.Setenv(EnvQty, "1")
	t.Setenv(EnvSymbol, "  MXF  ") // whitespace trimmed

	app := AppFromEnv()
	assert.Equal(t, "/tmp/x.sqlite", app.DBPath)
	assert.Equal(t, "MXFB6", app.FOPCode)
	assert.Equal(t, 1.0, app.Qty)
	assert.Equal(t, "MXF", app.Symbol)
}

func TestSafetyFromEnv(t *testing.T) {
	t.Setenv(EnvFOPCode, "TXFC6")
	t.Setenv(EnvMaxBidAskAgeSeconds, "30")
	t.Setenv(EnvRequireSessionOpen, "1")
	t.Setenv(EnvSessionOpenHHMM, "0900")
	t.Setenv(EnvHaltDatesCSV, "2026-03-18,2026-04-15")
	t.Setenv(EnvDevAllowStale, "yes")

	cfg := SafetyFromEnv()
	assert.Equal(t, "TXFC6", cfg.FOPCode)
	assert.Equal(t, 30, cfg.MaxBidAskAgeSeconds)
	assert.Equal(t, 1, cfg.RequireSessionOpen)
	assert.Equal(t, "0900", cfg.SessionOpenHHMM)
	assert.Equal(t, "2026-03-18,2026-04-15", cfg.HaltDatesCSV)
	assert.True(t, cfg.DevAllowStale)
	assert.Equal(t, 1, cfg.RejectSyntheticBidAsk)
}

func TestSyntheticOptIn(t *testing.T) {
	t.Setenv(EnvAllowSynthetic, "1")
	cfg := SafetyFromEnv()
	assert.Equal(t, 0, cfg.RejectSyntheticBidAsk)
}

func TestRiskFromEnvFlags(t *testing.T) {
	t.Setenv(EnvStrictStop, "0")
	t.Setenv(EnvStrictMarketMetrics, "1")

	cfg := RiskFromEnv()
	assert.Equal(t, 0, cfg.StrictRequireStop)
	assert.Equal(t, 1, cfg.StrictRequireMarketMetrics)
}

func TestGatewayFromEnv(t *testing.T) {
	t.Setenv(EnvSplitMaxChildren, "500")
	cfg := GatewayFromEnv()
	assert.Equal(t, 500, cfg.SplitMaxChildren)
}

func TestGetBoolForms(t *testing.T) {
	for _, v := range []string{"1", "true", "YES", "on", "y"} {
		t.Setenv("TMF_TEST_BOOL", v)
		assert.True(t, getBool("TMF_TEST_BOOL", false), "value %q", v)
	}
	for _, v := range []string{"0", "false", "off", "nope"} {
		t.Setenv("TMF_TEST_BOOL", v)
		assert.False(t, getBool("TMF_TEST_BOOL", true), "value %q", v)
	}
}

func TestGetIntMalformedFallsBack(t *testing.T) {
	t.Setenv(EnvMaxBidAskAgeSeconds, "not-a-number")
	cfg := SafetyFromEnv()
	assert.Equal(t, 15, cfg.MaxBidAskAgeSeconds)
}
