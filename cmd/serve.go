package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/lead-pipeline/internal/queue"
	"github.com/sells-group/lead-pipeline/internal/server"
)

var (
	servePort   int
	serveWorker bool
	serveDrain  time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the stage server",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initCore(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if err := initStages(ctx, env); err != nil {
			return err
		}

		// Background stages outlive the request and the shutdown signal
		// until the drain window closes.
		base, cancelBase := context.WithCancel(context.WithoutCancel(ctx))
		defer cancelBase()

		stages := server.New(base, server.Stages{
			Discover: env.Discover,
			Enrich:   env.Driver,
			Score:    env.Score,
			Outreach: env.Outreach,
		}, cfg.Server.AllowedOrigins)

		if serveWorker && env.Queue != nil {
			w := queue.NewWorker(env.Queue, env.Driver.HandleTask, queue.WorkerConfigFrom(cfg.Queue))
			go func() {
				_ = w.Run(ctx)
			}()
			startMonitor(ctx, env)
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           stages.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port), zap.String("public_url", cfg.Server.PublicURL))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}

		drain(stages, serveDrain, cancelBase)
		return nil
	},
}

// drain waits up to timeout for background stages, then cancels them.
func drain(s *server.Server, timeout time.Duration, cancel context.CancelFunc) {
	done := make(chan struct{})
	go func() {
		s.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		zap.L().Warn("background stages still running, cancelling", zap.Duration("drain", timeout))
		cancel()
		<-done
	}
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().BoolVar(&serveWorker, "worker", true, "drain the continuation queue in-process")
	serveCmd.Flags().DurationVar(&serveDrain, "drain", 2*time.Minute, "how long to wait for background stages on shutdown")
	rootCmd.AddCommand(serveCmd)
}
