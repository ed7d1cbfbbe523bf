package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"kanon/internal/cli"
	"kanon/internal/resolve"
)

func runSubmit(args []string) int {
	fs := flag.NewFlagSet("submit", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	userID := fs.String("user", "", "Submitting user id (UUID)")
	rawTitle := fs.String("title", "", "Raw title of the work")
	rawURL := fs.String("url", "", "Raw source URL (optional)")
	timeout := fs.Duration("timeout", 30*time.Second, "Command timeout")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if *userID == "" || *rawTitle == "" {
		fmt.Fprintln(os.Stderr, "--user and --title are required")
		return 2
	}

	rt, err := bootstrap(envLoader, *timeout)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer rt.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	submitted, err := rt.coordinator.Submit(ctx, resolve.Submission{
		UserID:   *userID,
		RawURL:   *rawURL,
		RawTitle: *rawTitle,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Submission failed: %v\n", err)
		return 1
	}

	fmt.Printf("reference %s submitted (%s)\n", submitted.ReferenceUUID, submitted.Status)
	return 0
}
