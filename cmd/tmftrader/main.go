package main

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const (
	appName = "tmftrader"
	version = "v1.0.0"
)

// errSmokeMismatch maps to exit code 2: the smoke chain produced a verdict
// different from the expected one.
var errSmokeMismatch = errors.New("smoke gate mismatch")

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "TAIFEX micro-futures paper trading runner",
		Version: version,
		Long: `tmftrader runs the TMF/TXF/MXF paper-trading pipeline: market data
ingest, 1-minute bars, strategy signals, and the pre-trade gate chain
(safety, calendar, preflight, risk) in front of a paper OMS backed by a
single sqlite store.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	// accept --log_level style spellings too
	rootCmd.SetGlobalNormalizationFunc(func(f *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})
	rootCmd.PersistentFlags().String("db", "", "sqlite database path (overrides TMF_DB_PATH)")
	rootCmd.PersistentFlags().String("log-level", "info", "zerolog level (trace|debug|info|warn|error)")

	rootCmd.AddCommand(
		newPaperLiveCmd(),
		newBarsCmd(),
		newReplayCmd(),
		newIngestCmd(),
		newSeedCmd(),
		newMonitorCmd(),
		newReconcileCmd(),
		newSmokeCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, errSmokeMismatch) {
			log.Error().Err(err).Msg("smoke mismatch")
			os.Exit(2)
		}
		log.Error().Err(err).Msg("runner failed")
		os.Exit(3)
	}
}

func applyLogLevel(cmd *cobra.Command) {
	lvl, _ := cmd.Flags().GetString("log-level")
	if parsed, err := zerolog.ParseLevel(lvl); err == nil {
		zerolog.SetGlobalLevel(parsed)
	}
}
