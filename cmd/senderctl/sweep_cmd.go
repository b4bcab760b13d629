package main

import (
	"context"
	"time"

	"github.com/sender-identity/internal/app"
	"github.com/sender-identity/internal/application/cleanup"
	"github.com/sender-identity/internal/config"
	"github.com/spf13/cobra"
)

type sweepOutput struct {
	Command    string              `json:"command"`
	DurationMS int64               `json:"duration_ms"`
	Result     cleanup.SweepResult `json:"result"`
}

func newSweepCmd() *cobra.Command {
	var limit int32

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one cleanup sweep outside of the worker schedule",
	}
	cmd.PersistentFlags().Int32Var(&limit, "limit", 100, "Maximum records examined per table")

	run := func(name string, fn func(m *cleanup.Manager, ctx context.Context, limit int32) (cleanup.SweepResult, error)) *cobra.Command {
		return &cobra.Command{
			Use:   name,
			Short: "Sweep " + name + " records",
			RunE: func(cmd *cobra.Command, args []string) error {
				infra, err := app.Open(cmd.Context(), config.Load())
				if err != nil {
					return err
				}
				defer infra.Close()

				start := time.Now()
				res, err := fn(infra.Engine().Cleaner, cmd.Context(), limit)
				if err != nil {
					return err
				}
				return writeJSON(sweepOutput{
					Command:    "sweep " + name,
					DurationMS: time.Since(start).Milliseconds(),
					Result:     res,
				})
			},
		}
	}
	cmd.AddCommand(
		run("expired", (*cleanup.Manager).SweepExpired),
		run("orphans", (*cleanup.Manager).SweepOrphans),
	)
	return cmd
}
