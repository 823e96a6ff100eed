package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

const greetingKey = "greeting"

func newHelloCmd(a *app) *cobra.Command {
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "hello [message]",
		Short: "Write a greeting to the store and read it back",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			msg := "Hello from the job store!"
			if len(args) == 1 {
				msg = args[0]
			}

			ctx := cmd.Context()
			if err := a.connect(ctx); err != nil {
				return err
			}

			if err := a.store.Set(ctx, greetingKey, []byte(msg), ttl); err != nil {
				return fmt.Errorf("set %s: %w", greetingKey, err)
			}
			got, err := a.store.Get(ctx, greetingKey)
			if err != nil {
				return fmt.Errorf("get %s: %w", greetingKey, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", greetingKey, got)
			return nil
		},
	}

	cmd.Flags().DurationVar(&ttl, "ttl", 0, "expire the greeting after this long (0 keeps it)")
	return cmd
}
