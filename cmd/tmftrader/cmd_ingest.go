package main

import (
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tmflab/tmftrader/internal/config"
	"github.com/tmflab/tmftrader/internal/ingest"
)

func newIngestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Record market data from the websocket feed into the event log",
		RunE:  runIngest,
	}
	cmd.Flags().String("url", "", "Feed websocket URL (overrides TMF_FEED_URL)")
	cmd.Flags().String("codes", "", "Comma-separated contract codes to subscribe (default: FOP code)")
	return cmd
}

func runIngest(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	url, _ := cmd.Flags().GetString("url")
	if url == "" {
		url = a.cfg.FeedURL
	}
	if url == "" {
		return fmt.Errorf("no feed url: set --url or %s", config.EnvFeedURL)
	}
	codes := splitCSV(func() string {
		if raw, _ := cmd.Flags().GetString("codes"); raw != "" {
			return raw
		}
		return a.cfg.FOPCode
	}())

	rec := ingest.NewRecorder(a.db, config.IngestFromEnv(), a.metrics, log.Logger)

	feedCfg := ingest.DefaultFeedConfig()
	feedCfg.URL = url
	feedCfg.Codes = codes
	feed := ingest.NewFeed(rec, feedCfg, a.metrics, log.Logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 2)
	go func() { errCh <- rec.Run(ctx) }()
	go func() { errCh <- feed.Run(ctx) }()

	log.Info().Str("url", url).Str("codes", strings.Join(codes, ",")).Msg("ingest started")
	select {
	case <-ctx.Done():
		// let the recorder drain
		<-errCh
		return nil
	case err := <-errCh:
		stop()
		return err
	}
}
