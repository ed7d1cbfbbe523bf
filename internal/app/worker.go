package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"kanon/internal/cli"
)

func runWorker(args []string) int {
	fs := flag.NewFlagSet("worker", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	recoverEvery := fs.Duration("recover-every", 5*time.Minute, "Recovery sweep interval (0 disables)")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(os.Stderr, "worker does not accept positional arguments")
		return 2
	}

	rt, err := bootstrap(envLoader, 10*time.Second)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer rt.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		<-sigCh
		rt.logger.Info().Msg("worker shutting down")
		cancel()
	}()

	rt.logger.Info().
		Dur("poll_interval", rt.cfg.WorkerPollInterval).
		Msg("worker started")

	jobs := rt.coordinator.Jobs()
	poll := time.NewTicker(rt.cfg.WorkerPollInterval)
	defer poll.Stop()

	var recoverCh <-chan time.Time
	if *recoverEvery > 0 {
		recovery := time.NewTicker(*recoverEvery)
		defer recovery.Stop()
		recoverCh = recovery.C
	}

	for {
		select {
		case <-ctx.Done():
			return 0
		case <-recoverCh:
			if _, err := rt.coordinator.RecoverDue(ctx, 100); err != nil {
				rt.logger.Error().Err(err).Msg("recovery sweep failed")
			}
		case <-poll.C:
		}

		// Drain everything due before sleeping again.
		for {
			job, found, err := jobs.ClaimNext(ctx)
			if err != nil {
				rt.logger.Error().Err(err).Msg("job claim failed")
				break
			}
			if !found {
				break
			}

			if err := rt.coordinator.HandleJob(ctx, job); err != nil {
				if failErr := jobs.Fail(ctx, job, err); failErr != nil {
					rt.logger.Error().Err(failErr).Int64("job_id", job.JobID).Msg("recording job failure failed")
				}
				continue
			}
			if err := jobs.Complete(ctx, job.JobID); err != nil {
				rt.logger.Error().Err(err).Int64("job_id", job.JobID).Msg("completing job failed")
			}

			if ctx.Err() != nil {
				return 0
			}
		}
	}
}
