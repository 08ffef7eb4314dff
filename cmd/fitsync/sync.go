package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// newSyncCmd creates the sync command.
func newSyncCmd(configPath *string) *cobra.Command {
	var merge bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Push pending operations to the server",
		Long: `Push all pending operations from the operation log to the server.

Operations are submitted in the order they were recorded. Operations the
server rejects stay pending and are retried with backoff; after too many
failures they are parked until 'fitsync retry'.

Examples:
  fitsync sync            # push pending operations
  fitsync sync --merge    # push, then pull and merge remote changes`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(*configPath, func(a *app) error {
				ctx := context.Background()
				res, err := a.engine.SyncNow(ctx)
				if err != nil {
					return err
				}
				if res.NoOp {
					fmt.Println("Nothing to sync.")
				} else {
					fmt.Printf("Synced %d/%d operations", res.Synced, res.Submitted)
					if res.Failed > 0 {
						fmt.Printf(" (%d failed, will retry)", res.Failed)
					}
					fmt.Println()
				}

				if merge {
					since, err := a.state.LastSyncTime()
					if err != nil {
						return err
					}
					mr, err := a.engine.MergeRemote(ctx, since)
					if err != nil {
						return err
					}
					fmt.Printf("Merged %d new, %d updated records from server\n", mr.Inserted, mr.Updated)
					return a.facade.Reload()
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&merge, "merge", false, "pull and merge remote changes after pushing")
	return cmd
}
