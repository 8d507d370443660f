package main

import (
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tmflab/tmftrader/internal/ops"
)

func newMonitorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Serve /health and /metrics over the store",
		RunE:  runMonitor,
	}
	cmd.Flags().String("listen", "", "Listen address (overrides TMF_OPS_LISTEN)")
	return cmd
}

func runMonitor(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	addr, _ := cmd.Flags().GetString("listen")
	if addr == "" {
		addr = a.cfg.OpsListen
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := ops.NewServer(a.db, a.metrics, log.Logger)
	return srv.Serve(ctx, addr)
}
