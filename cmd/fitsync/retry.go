package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// newRetryCmd creates the retry command for stuck operations.
func newRetryCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "retry",
		Short: "Reset stuck operations and sync again",
		Long: `Reset operations that exhausted their retry budget so they become
eligible for sync again, then run a sync immediately.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(*configPath, func(a *app) error {
				n, err := a.log.RetryStuck()
				if err != nil {
					return err
				}
				if n == 0 {
					fmt.Println("No stuck operations.")
					return nil
				}
				fmt.Printf("Reset %d stuck operation(s), syncing...\n", n)
				res, err := a.engine.SyncNow(context.Background())
				if err != nil {
					return err
				}
				fmt.Printf("Synced %d/%d operations\n", res.Synced, res.Submitted)
				return nil
			})
		},
	}
}
