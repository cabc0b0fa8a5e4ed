package main

import (
	"context"
	"fmt"

	"contact-radar/internal/config"
	"contact-radar/internal/engine"
	"contact-radar/internal/scheduler"

	"github.com/spf13/cobra"
)

func newTickCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "tick [job-id]",
		Short: "Advance one job, or every active job, by a single step",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if len(args) == 1 {
				res, err := runTickJob(cmd.Context(), c.cfg, c.build, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s: %s\n", res.Status, res.Message)
				return nil
			}

			sum, err := runOnceManual(cmd.Context(), c.cfg, c.build)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "advanced=%d completed=%d failed=%d errors=%d\n", sum.Advanced, sum.Completed, sum.Failed, sum.Errors)
			return nil
		},
	}
}

// runOnceManual 构造依赖并执行一轮调度。
func runOnceManual(ctx context.Context, cfg config.Config, build builder) (scheduler.Summary, error) {
	deps, cleanup, err := build(cfg)
	defer cleanup()
	if err != nil {
		return scheduler.Summary{}, err
	}
	return deps.sched.RunOnce(ctx)
}

// runTickJob 推进指定任务一步。
func runTickJob(ctx context.Context, cfg config.Config, build builder, jobID string) (engine.Result, error) {
	deps, cleanup, err := build(cfg)
	defer cleanup()
	if err != nil {
		return engine.Result{}, err
	}
	res, err := deps.advancer.Advance(ctx, jobID)
	if err != nil {
		return engine.Result{}, fmt.Errorf("advance job %s: %w", jobID, err)
	}
	return res, nil
}
