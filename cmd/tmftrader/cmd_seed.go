package main

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tmflab/tmftrader/internal/ingest"
)

func newSeedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Write a synthetic book and tick event for offline development",
		Long: `Seeds one bidask_fop_v1 and one tick_fop_v1 event marked synthetic.
The safety engine rejects synthetic books by default, so seeded data
exercises the pipeline without ever enabling live-looking quotes.`,
		RunE: runSeed,
	}
	cmd.Flags().Float64("bid", 20000, "Synthetic best bid")
	cmd.Flags().Float64("ask", 20001, "Synthetic best ask")
	cmd.Flags().Float64("qty", 10, "Synthetic book volume and tick qty")
	return cmd
}

func runSeed(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	bid, _ := cmd.Flags().GetFloat64("bid")
	ask, _ := cmd.Flags().GetFloat64("ask")
	qty, _ := cmd.Flags().GetFloat64("qty")

	seeder := ingest.NewSeeder(a.db, "dev")
	bookID, err := seeder.SeedBook(cmd.Context(), a.cfg.FOPCode, bid, ask, qty, qty)
	if err != nil {
		return err
	}
	tickID, err := seeder.SeedTick(cmd.Context(), a.cfg.FOPCode, (bid+ask)/2, qty, true)
	if err != nil {
		return err
	}

	log.Info().Int64("book_event", bookID).Int64("tick_event", tickID).
		Str("code", a.cfg.FOPCode).Msg("synthetic events seeded")
	return nil
}
