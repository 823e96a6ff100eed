package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jdziat/simple-lease-jobs/pkg/core"
)

func newInspectCmd(a *app) *cobra.Command {
	var (
		status string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "inspect [job-id]",
		Short: "Print a job record, or the jobs in one status, as JSON",
		Example: `  jobs inspect 3f0c2a4e-6a43-4a36-9d43-5b8f1d3c1e11
  jobs inspect --status failed --limit 20`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && status == "" {
				return fmt.Errorf("give a job id or --status")
			}

			ctx := cmd.Context()
			if err := a.connect(ctx); err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")

			if len(args) == 1 {
				job, err := a.queue.Get(ctx, args[0])
				if err != nil {
					return err
				}
				return enc.Encode(job)
			}

			found, err := a.queue.ListByStatus(ctx, core.JobStatus(status), limit)
			if err != nil {
				return err
			}
			if found == nil {
				found = []*core.Job{}
			}
			return enc.Encode(found)
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "list jobs in this status instead (queued, leased, running, succeeded, failed)")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum jobs listed with --status")
	return cmd
}
