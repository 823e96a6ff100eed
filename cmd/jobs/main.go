// Command jobs enqueues, runs and inspects jobs on a lease-based queue.
//
// Settings come from the environment (and a .env file); see pkg/config.
package main

import (
	"context"
	"os"
)

func main() {
	cmd, a := newRootCmd()
	if err := execute(context.Background(), cmd, a); err != nil {
		os.Exit(1)
	}
}
