package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/jdziat/simple-lease-jobs/pkg/config"
	"github.com/jdziat/simple-lease-jobs/pkg/logger"
	"github.com/jdziat/simple-lease-jobs/pkg/queue"
	"github.com/jdziat/simple-lease-jobs/pkg/storage"
)

// app is the state shared by every subcommand.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	store  storage.Backend
	queue  *queue.Queue
}

func newRootCmd() (*cobra.Command, *app) {
	a := &app{}
	var envFiles []string

	cmd := &cobra.Command{
		Use:          "jobs",
		Short:        "A lease-based job queue",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(envFiles...)
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.logger = cfg.Logger(logger.WithOutput(cmd.ErrOrStderr()))
			logger.SetAsDefault(a.logger)
			return nil
		},
	}
	cmd.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, "env files to load (default .env)")

	cmd.AddCommand(
		newEnqueueCmd(a),
		newWorkerCmd(a),
		newReapCmd(a),
		newInspectCmd(a),
		newHelloCmd(a),
	)
	return cmd, a
}

// execute runs cmd and then closes whatever store the command opened.
// Cobra skips post-run hooks when RunE fails, so closing happens here.
func execute(ctx context.Context, cmd *cobra.Command, a *app) error {
	err := cmd.ExecuteContext(ctx)
	return errors.Join(err, a.close())
}

// connect opens the configured store and builds the queue on top of it.
func (a *app) connect(ctx context.Context) error {
	if a.store != nil {
		return nil
	}
	store, err := storage.Open(ctx, a.cfg.Store())
	if err != nil {
		return fmt.Errorf("open %s store: %w", a.cfg.StoreDriver, err)
	}
	a.store = store

	a.queue = queue.New(store)
	a.queue.SetLogger(a.logger)
	a.queue.SetRetryConfig(a.cfg.Retry())
	return nil
}

func (a *app) close() error {
	if a.store == nil {
		return nil
	}
	err := a.store.Close()
	a.store = nil
	a.queue = nil
	return err
}
