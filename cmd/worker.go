package main

import (
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.temporal.io/sdk/worker"
	"go.uber.org/zap"

	"github.com/sells-group/lead-pipeline/internal/fanout"
	"github.com/sells-group/lead-pipeline/internal/queue"
	"github.com/sells-group/lead-pipeline/internal/trigger"
)

var workerOnce bool

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Drain the enrichment continuation queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("worker"); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initCore(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if env.Queue == nil {
			return eris.New("enrich.continuation is not \"queue\"; nothing to drain")
		}

		w := queue.NewWorker(env.Queue, env.Driver.HandleTask, queue.WorkerConfigFrom(cfg.Queue))
		if !workerOnce {
			startMonitor(ctx, env)
			return w.Run(ctx)
		}

		n := 0
		for {
			worked, err := w.RunOnce(ctx)
			if err != nil {
				return err
			}
			if !worked {
				break
			}
			n++
		}
		zap.L().Info("queue drained", zap.Int("tasks", n))
		return nil
	},
}

var temporalWorkerCmd = &cobra.Command{
	Use:   "temporal-worker",
	Short: "Run the Temporal worker that delivers delayed stage triggers",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("temporal"); err != nil {
			return err
		}

		c, err := fanout.DialTemporal(cfg.Temporal)
		if err != nil {
			return err
		}
		defer c.Close()

		poster := trigger.NewClient(trigger.WithCredentials(fanout.Credentials(cfg.Fanout)))
		w := fanout.NewTemporalWorker(c, cfg.Temporal.TaskQueue, fanout.NewDeliverer(poster))

		zap.L().Info("temporal worker started",
			zap.String("task_queue", cfg.Temporal.TaskQueue),
			zap.String("namespace", cfg.Temporal.Namespace),
		)
		if err := w.Run(worker.InterruptCh()); err != nil {
			return eris.Wrap(err, "temporal worker")
		}
		return nil
	},
}

func init() {
	workerCmd.Flags().BoolVar(&workerOnce, "once", false, "process available tasks and exit")
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(temporalWorkerCmd)
}
