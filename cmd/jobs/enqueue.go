package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jdziat/simple-lease-jobs/pkg/queue"
)

func newEnqueueCmd(a *app) *cobra.Command {
	var (
		queueName string
		count     int
		kwargs    []string
	)

	cmd := &cobra.Command{
		Use:   "enqueue <handler> [args...]",
		Short: "Enqueue jobs and print their ids",
		Long: `Enqueue one or more jobs for handler.

Each positional argument is sent as JSON when it parses as JSON and as a
string otherwise, so 42 is a number, '{"to":"a@b.c"}' is an object and
hello is the string "hello".`,
		Example: `  jobs enqueue print_message "hello" "from the cli" --count 3
  jobs enqueue send_email '{"to":"user@example.com","subject":"Hi","body":"..."}'
  jobs enqueue generate_pdf '{"title":"Report","lines":["a","b"]}' --queue reports`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if count < 1 {
				return fmt.Errorf("--count must be at least 1, got %d", count)
			}
			kw, err := parseKwargs(kwargs)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			if err := a.connect(ctx); err != nil {
				return err
			}

			positional := parseArgs(args[1:])
			for range count {
				id, err := a.queue.Enqueue(ctx, args[0], positional, kw, queue.QueueOpt(queueName))
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&queueName, "queue", "q", queue.DefaultQueue, "queue to enqueue on")
	cmd.Flags().IntVarP(&count, "count", "n", 1, "number of identical jobs to enqueue")
	cmd.Flags().StringArrayVar(&kwargs, "kwarg", nil, "keyword argument as key=value (repeatable)")
	return cmd
}

func parseArgs(raw []string) []any {
	args := make([]any, 0, len(raw))
	for _, s := range raw {
		args = append(args, parseValue(s))
	}
	return args
}

func parseKwargs(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	kw := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --kwarg %q, want key=value", p)
		}
		kw[k] = parseValue(v)
	}
	return kw, nil
}

func parseValue(s string) any {
	if json.Valid([]byte(s)) {
		return json.RawMessage(s)
	}
	return s
}
