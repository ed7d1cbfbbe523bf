package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"kanon/internal/cli"
	"kanon/internal/locks"
)

func runHealth(args []string) int {
	fs := flag.NewFlagSet("health", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 10*time.Second, "Command timeout")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "health does not accept positional arguments")
		return 2
	}

	cfg, logger, pool, err := connectPool(envLoader, *timeout)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer pool.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := pool.DB().PingContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Database ping failed: %v\n", err)
		return 1
	}

	locker, err := locks.NewLocker(cfg.RedisAddr, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Redis ping failed: %v\n", err)
		return 1
	}
	_ = locker.Close()

	fmt.Println("ok")
	return 0
}
