package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jdziat/simple-lease-jobs/pkg/reaper"
)

func newReapCmd(a *app) *cobra.Command {
	var batchSize int

	cmd := &cobra.Command{
		Use:   "reap",
		Short: "Requeue every job whose lease has expired, once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if err := a.connect(ctx); err != nil {
				return err
			}

			ids, err := reaper.New(a.queue, reaper.BatchSize(batchSize)).RunOnce(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, id := range ids {
				fmt.Fprintln(out, id)
			}
			fmt.Fprintf(out, "requeued %d job(s)\n", len(ids))
			return nil
		},
	}

	cmd.Flags().IntVar(&batchSize, "batch-size", reaper.DefaultBatchSize, "jobs requeued per store call")
	return cmd
}
