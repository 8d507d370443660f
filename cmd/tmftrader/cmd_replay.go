package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tmflab/tmftrader/internal/replay"
)

func newReplayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay <events.jsonl>",
		Short: "Replay a JSONL event log deterministically and report drift",
		Args:  cobra.ExactArgs(1),
		RunE:  runReplay,
	}
	cmd.Flags().Bool("events", false, "Print the ordered events instead of just the report")
	return cmd
}

func runReplay(cmd *cobra.Command, args []string) error {
	applyLogLevel(cmd)
	events, rep, err := replay.ReplayFile(args[0])
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	if printEvents, _ := cmd.Flags().GetBool("events"); printEvents {
		for _, ev := range events {
			if err := enc.Encode(ev.Body); err != nil {
				return fmt.Errorf("failed to write event: %w", err)
			}
		}
	}
	return enc.Encode(rep)
}
