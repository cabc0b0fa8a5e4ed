package main

import (
	"context"
	"fmt"
	"strconv"

	"contact-radar/internal/config"
	"contact-radar/internal/model"

	"github.com/spf13/cobra"
)

func newCreditsCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credits",
		Short: "Inspect or grant user credits",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "grant <user-id> <amount>",
		Short: "Add credits to a user balance",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.Atoi(args[1])
			if err != nil || n <= 0 {
				return fmt.Errorf("amount must be a positive integer, got %q", args[1])
			}
			credits, err := runGrant(cmd.Context(), c.cfg, c.build, args[0], n)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: available=%d used=%d\n", credits.UserID, credits.Available, credits.Used)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show <user-id>",
		Short: "Print a user balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, cleanup, err := c.build(c.cfg)
			defer cleanup()
			if err != nil {
				return err
			}
			credits, err := deps.ledger.GetCredits(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: available=%d used=%d\n", args[0], credits.Available, credits.Used)
			return nil
		},
	})

	return cmd
}

// runGrant 增加额度并返回最新余额。
func runGrant(ctx context.Context, cfg config.Config, build builder, userID string, n int) (model.UserCredits, error) {
	deps, cleanup, err := build(cfg)
	defer cleanup()
	if err != nil {
		return model.UserCredits{}, err
	}
	if err := deps.ledger.GrantCredits(ctx, userID, n); err != nil {
		return model.UserCredits{}, fmt.Errorf("grant credits: %w", err)
	}
	return deps.ledger.GetCredits(ctx, userID)
}
