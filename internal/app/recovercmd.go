package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"kanon/internal/cli"
)

func runRecover(args []string) int {
	fs := flag.NewFlagSet("recover", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	limit := fs.Int("limit", 100, "Maximum references to re-enqueue")
	timeout := fs.Duration("timeout", time.Minute, "Command timeout")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "recover does not accept positional arguments")
		return 2
	}

	rt, err := bootstrap(envLoader, 10*time.Second)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer rt.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	enqueued, err := rt.coordinator.RecoverDue(ctx, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Recovery sweep failed: %v\n", err)
		return 1
	}

	fmt.Printf("enqueued %d resolution attempts\n", enqueued)
	return 0
}
