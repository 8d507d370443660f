package main

import (
	"errors"
	"io/fs"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tmflab/tmftrader/internal/config"
	"github.com/tmflab/tmftrader/internal/cost"
	"github.com/tmflab/tmftrader/internal/gateway"
	"github.com/tmflab/tmftrader/internal/market"
	"github.com/tmflab/tmftrader/internal/metrics"
	"github.com/tmflab/tmftrader/internal/oms"
	"github.com/tmflab/tmftrader/internal/risk"
	"github.com/tmflab/tmftrader/internal/safety"
	"github.com/tmflab/tmftrader/internal/store/sqlite"
	"github.com/tmflab/tmftrader/internal/taxonomy"
)

// app bundles the wired components a subcommand needs.
type app struct {
	cfg     config.App
	db      *sqlite.DB
	costs   *cost.Model
	metrics *metrics.Registry
	safety  *safety.Engine
	gw      *gateway.Gateway
}

// newApp opens the store and wires the full gate chain. Callers must Close.
func newApp(cmd *cobra.Command) (*app, error) {
	applyLogLevel(cmd)
	cfg := config.AppFromEnv()
	if dbPath, _ := cmd.Flags().GetString("db"); dbPath != "" {
		cfg.DBPath = dbPath
	}

	db, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	costs := cost.DefaultModel()
	met := metrics.NewRegistry()

	safetyCfg := config.SafetyFromEnv()
	se := safety.NewEngine(db, db, safetyCfg, log.Logger)

	cal := market.NewCalendar(splitCSV(safetyCfg.HaltDatesCSV))
	re := risk.NewEngine(db, costs, config.RiskFromEnv(), log.Logger)
	po := oms.New(db, costs, log.Logger)

	policy := loadPolicy(cfg.PolicyPath)
	gw := gateway.New(po, se, cal, re, policy, config.GatewayFromEnv(), log.Logger)

	return &app{cfg: cfg, db: db, costs: costs, metrics: met, safety: se, gw: gw}, nil
}

func (a *app) Close() {
	if err := a.db.Close(); err != nil {
		log.Warn().Err(err).Msg("store close failed")
	}
}

// loadPolicy falls back to the built-in policy when the file is absent, and
// fails loudly on a malformed file rather than trading with a wrong policy.
func loadPolicy(path string) *taxonomy.Policy {
	p, err := taxonomy.LoadPolicy(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			log.Warn().Str("path", path).Msg("reject policy file absent, using built-in defaults")
			return taxonomy.DefaultPolicy()
		}
		log.Fatal().Err(err).Str("path", path).Msg("reject policy unreadable")
	}
	return p
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
