package main

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tmflab/tmftrader/internal/bars"
)

func newBarsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bars",
		Short: "Build 1-minute bars from recorded tick events",
		RunE:  runBars,
	}
	cmd.Flags().String("since", "", "Only consume events at or after this RFC3339 timestamp")
	return cmd
}

func runBars(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	var since *time.Time
	if raw, _ := cmd.Flags().GetString("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return fmt.Errorf("invalid --since: %w", err)
		}
		since = &t
	}

	builder := bars.New(a.db, a.db, bars.DefaultConfig(), log.Logger)
	rep, err := builder.Build(cmd.Context(), since)
	if err != nil {
		return err
	}
	a.metrics.BarsUpsertedTotal.Add(float64(rep.BarsUpserted))

	log.Info().
		Int("tick_rows", rep.TickRows).
		Int("bars_upserted", rep.BarsUpserted).
		Int("skipped", rep.Skipped).
		Int("parser_faults", rep.ParserFaults).
		Msg("bars built")
	return nil
}
