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

func runResolve(args []string) int {
	fs := flag.NewFlagSet("resolve", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	referenceID := fs.Int64("reference", 0, "Resolve this reference id directly instead of draining jobs")
	limit := fs.Int("limit", 50, "Maximum jobs to drain in one pass")
	timeout := fs.Duration("timeout", 5*time.Minute, "Command timeout")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if *referenceID < 0 {
		fmt.Fprintln(os.Stderr, "--reference must be a positive id")
		return 2
	}
	if *limit < 1 {
		fmt.Fprintln(os.Stderr, "--limit must be >= 1")
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

	if *referenceID > 0 {
		if err := rt.coordinator.ResolveReference(ctx, *referenceID); err != nil {
			fmt.Fprintf(os.Stderr, "Resolution attempt failed: %v\n", err)
			return 1
		}
		fmt.Println("resolution attempt finished")
		return 0
	}

	jobs := rt.coordinator.Jobs()
	handled := 0
	for handled < *limit {
		job, found, err := jobs.ClaimNext(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Job claim failed: %v\n", err)
			return 1
		}
		if !found {
			break
		}

		if err := rt.coordinator.HandleJob(ctx, job); err != nil {
			if failErr := jobs.Fail(ctx, job, err); failErr != nil {
				fmt.Fprintf(os.Stderr, "Recording job failure failed: %v\n", failErr)
				return 1
			}
		} else if err := jobs.Complete(ctx, job.JobID); err != nil {
			fmt.Fprintf(os.Stderr, "Completing job failed: %v\n", err)
			return 1
		}
		handled++
	}

	fmt.Printf("drained %d jobs\n", handled)
	return 0
}
