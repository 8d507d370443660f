package main

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tmflab/tmftrader/internal/market"
	"github.com/tmflab/tmftrader/internal/ops"
	"github.com/tmflab/tmftrader/internal/runlock"
	"github.com/tmflab/tmftrader/internal/strategy"
)

func newPaperLiveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "paper-live",
		Short: "Run the live paper-trading loop",
		Long: `Consumes 1-minute bars, feeds them to the configured strategies, and
routes every signal through the full gate chain into the paper OMS.
Holds the single-instance run lock for the duration.`,
		RunE: runPaperLive,
	}
	cmd.Flags().String("strategies", "trend,meanrev", "Comma-separated strategy list (trend|meanrev)")
	cmd.Flags().Int("poll-seconds", 5, "Bar poll interval in seconds")
	cmd.Flags().Int("max-seconds", 0, "Stop after this many seconds (0 = run until signalled)")
	cmd.Flags().Bool("ops", true, "Serve /health and /metrics while running")
	return cmd
}

func runPaperLive(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	lock, err := runlock.Acquire(a.cfg.LockDir)
	if err != nil {
		return fmt.Errorf("failed to start paper runner: %w", err)
	}
	defer func() {
		if err := lock.Release(); err != nil {
			log.Warn().Err(err).Msg("run lock release failed")
		}
	}()

	strategies, err := buildStrategies(cmd, a)
	if err != nil {
		return err
	}

	runnerCfg := strategy.DefaultRunnerConfig()
	runnerCfg.Symbol = a.cfg.FOPCode
	runner := strategy.NewRunner(a.db, a.gw, strategies, runnerCfg, log.Logger).
		WithMetrics(market.NewReader(a.db, a.db, market.DefaultReaderConfig()))

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if maxSeconds, _ := cmd.Flags().GetInt("max-seconds"); maxSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(maxSeconds)*time.Second)
		defer cancel()
	}

	if serveOps, _ := cmd.Flags().GetBool("ops"); serveOps {
		srv := ops.NewServer(a.db, a.metrics, log.Logger)
		go func() {
			if err := srv.Serve(ctx, a.cfg.OpsListen); err != nil {
				log.Error().Err(err).Msg("ops server stopped")
			}
		}()
	}

	pollSeconds, _ := cmd.Flags().GetInt("poll-seconds")
	ticker := time.NewTicker(time.Duration(pollSeconds) * time.Second)
	defer ticker.Stop()

	log.Info().Str("symbol", runnerCfg.Symbol).Int("strategies", len(strategies)).Msg("paper runner started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("paper runner stopping")
			return nil
		case <-ticker.C:
			results, err := runner.Step(ctx)
			if err != nil {
				return fmt.Errorf("runner step failed: %w", err)
			}
			for _, res := range results {
				a.metrics.IntentsTotal.Inc()
				if !res.OK && res.Decision != nil {
					a.metrics.RejectsTotal.WithLabelValues(
						res.Decision.Code, res.Decision.Domain, res.Decision.Action).Inc()
				}
			}
		}
	}
}

func buildStrategies(cmd *cobra.Command, a *app) ([]strategy.Strategy, error) {
	names, _ := cmd.Flags().GetString("strategies")
	var out []strategy.Strategy
	for _, name := range strings.Split(names, ",") {
		switch strings.TrimSpace(strings.ToLower(name)) {
		case "":
		case "trend":
			cfg := strategy.DefaultTrendConfig()
			cfg.Qty = a.cfg.Qty
			out = append(out, strategy.NewTrend(cfg))
		case "meanrev", "mean_reversion":
			cfg := strategy.DefaultMeanReversionConfig()
			cfg.Qty = a.cfg.Qty
			out = append(out, strategy.NewMeanReversion(cfg))
		default:
			return nil, fmt.Errorf("unknown strategy %q", name)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no strategies selected")
	}
	return out, nil
}
