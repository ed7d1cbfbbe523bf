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

func runCanonize(args []string) int {
	fs := flag.NewFlagSet("canonize", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	file := fs.String("file", "", "Path to a scraped candidate JSON file")
	timeout := fs.Duration("timeout", time.Minute, "Command timeout")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if *file == "" {
		fmt.Fprintln(os.Stderr, "--file is required")
		return 2
	}

	payload, err := os.ReadFile(*file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read %s: %v\n", *file, err)
		return 1
	}

	rt, err := bootstrap(envLoader, 10*time.Second)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer rt.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	outcome, err := rt.coordinator.CanonicalizeScraped(ctx, payload)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Canonicalization failed: %v\n", err)
		return 1
	}

	verb := "merged into"
	if outcome.Created {
		verb = "created as"
	}
	fmt.Printf("candidate %s series %s (%q)\n", verb, outcome.SeriesUUID, outcome.Title)
	return 0
}
