package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jdziat/simple-lease-jobs/internal/tasks"
	"github.com/jdziat/simple-lease-jobs/pkg/worker"
)

func newWorkerCmd(a *app) *cobra.Command {
	var (
		queues        []string
		concurrency   int
		leaseDuration time.Duration
	)

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run a worker until SIGINT or SIGTERM",
		Long: `Run a worker that leases jobs from the configured queues and executes the
built-in handlers (print_message, echo, send_email, generate_pdf).

Flags override QUEUE_NAMES, CONCURRENCY and LEASE_DURATION_SECONDS.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := a.connect(ctx); err != nil {
				return err
			}

			sender, err := a.emailSender()
			if err != nil {
				return err
			}
			handlers := tasks.New(tasks.Config{
				Output:       cmd.OutOrStdout(),
				Sender:       sender,
				PDFOutputDir: a.cfg.PDFOutputDir,
				Logger:       a.logger,
			})
			if err := handlers.Register(a.queue); err != nil {
				return err
			}

			if !cmd.Flags().Changed("queues") {
				queues = a.cfg.QueueNames
			}
			if !cmd.Flags().Changed("concurrency") {
				concurrency = a.cfg.Concurrency
			}
			if !cmd.Flags().Changed("lease-duration") {
				leaseDuration = a.cfg.LeaseDuration()
			}

			w := worker.NewWorker(a.queue,
				worker.Queues(queues...),
				worker.Concurrency(concurrency),
				worker.LeaseDuration(leaseDuration),
				worker.LeaseWait(a.cfg.LeaseWait),
				worker.ReaperInterval(a.cfg.ReaperInterval),
				worker.WithLogger(a.logger),
			)

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return w.Start(gctx)
			})
			g.Go(func() error {
				<-gctx.Done()
				if ctx.Err() != nil {
					a.logger.Info("shutdown requested, draining in-flight jobs", "worker_id", w.ID())
				}
				return nil
			})

			if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&queues, "queues", nil, "queues to lease from, in priority order")
	cmd.Flags().IntVarP(&concurrency, "concurrency", "c", 1, "number of job slots")
	cmd.Flags().DurationVar(&leaseDuration, "lease-duration", worker.DefaultLeaseDuration, "lease length per job")
	return cmd
}

// emailSender sends through Postmark when a server token is configured and
// logs the message otherwise.
func (a *app) emailSender() (tasks.EmailSender, error) {
	if a.cfg.PostmarkServerToken == "" {
		return tasks.NewLogSender(a.logger, a.cfg.SenderEmail), nil
	}
	return tasks.NewPostmarkSender(a.cfg.PostmarkServerToken, a.cfg.PostmarkAccountToken, a.cfg.SenderEmail)
}
