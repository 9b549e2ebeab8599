package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	workerConcurrency int
	workerPoll        time.Duration
)

// workerCmd runs the job claim loop until interrupted.
var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the background job worker",
	Long: `Polls the job store for pending jobs and executes them with bounded
concurrency. Jobs left in processing by a crashed worker are re-claimed
and restarted; completed and failed jobs are never re-executed.`,
	RunE: runWorker,
}

func init() {
	workerCmd.Flags().IntVar(&workerConcurrency, "concurrency", 2, "Jobs executed in parallel")
	workerCmd.Flags().DurationVar(&workerPoll, "poll", 2*time.Second, "Queue poll interval")
}

func runWorker(cmd *cobra.Command, args []string) error {
	e, err := buildEngine()
	if err != nil {
		return err
	}
	defer e.close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("worker starting",
		zap.Int("concurrency", workerConcurrency),
		zap.Duration("poll", workerPoll))

	err = e.worker.Run(ctx, workerConcurrency, workerPoll)
	if errors.Is(err, context.Canceled) {
		logger.Info("worker stopped")
		return nil
	}
	return err
}
