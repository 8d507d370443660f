package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tmflab/tmftrader/internal/reconcile"
)

func newReconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Audit store invariants and append a health-check row",
		RunE:  runReconcile,
	}
}

func runReconcile(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	rep, err := reconcile.New(a.db, log.Logger).Run(cmd.Context())
	if err != nil {
		return err
	}
	if err := json.NewEncoder(os.Stdout).Encode(rep); err != nil {
		return err
	}
	if !rep.OK {
		return fmt.Errorf("reconcile found %d invariant violations", len(rep.Violations))
	}
	return nil
}
