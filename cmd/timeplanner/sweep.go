package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"timeplanner/internal/service"
)

var (
	sweepUser uint
	sweepNow  string
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Reactivate completed recurring tasks that are due",
	Long: `Run one reactivation sweep and print the result as JSON.

Examples:
  timeplanner sweep
  timeplanner sweep --user 3
  timeplanner sweep --now 2025-02-01T08:00:00Z`,
	RunE: runSweep,
}

func init() {
	sweepCmd.Flags().UintVar(&sweepUser, "user", 0, "only sweep this user (0 sweeps everyone)")
	sweepCmd.Flags().StringVar(&sweepNow, "now", "", "evaluate as of this RFC 3339 instant")
}

func runSweep(cmd *cobra.Command, args []string) error {
	opts := service.SweepOptions{UserID: sweepUser}
	if sweepNow != "" {
		now, err := time.Parse(time.RFC3339, sweepNow)
		if err != nil {
			return fmt.Errorf("invalid --now %q: %w", sweepNow, err)
		}
		opts.Now = now
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), jobTimeout)
	defer cancel()
	res, err := a.sweep.Run(ctx, opts)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}
