package main

import (
	"context"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ahrav/hub-revalidator/internal/app/revalidation"
	"github.com/ahrav/hub-revalidator/pkg/common"
)

const (
	// runGracePeriod bounds how long an in-flight run may continue after a
	// shutdown signal before it is cancelled.
	runGracePeriod     = 30 * time.Second
	opsShutdownTimeout = 5 * time.Second
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	var runOnStart bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the revalidation job on its schedule until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), opts, runOnStart)
		},
	}
	cmd.Flags().BoolVar(&runOnStart, "run-on-start", false, "trigger one run immediately after starting")

	return cmd
}

func serve(parent context.Context, opts *rootOptions, runOnStart bool) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log := opts.log
	svc, err := buildService(ctx, opts.cfg, log)
	if err != nil {
		log.Error(ctx, "failed to build service", "error", err)
		return err
	}
	defer svc.Close(context.Background(), log)

	ready := &atomic.Bool{}
	ops, err := common.NewOpsServer(opts.cfg.OpsAddr, ready)
	if err != nil {
		return err
	}

	scheduler := revalidation.NewScheduler(ctx, svc.runner, log)
	if err := scheduler.Start(opts.cfg.Schedule); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(ops.Run)
	g.Go(func() error {
		<-gctx.Done()
		ready.Store(false)

		graceCtx, cancelGrace := context.WithTimeout(context.Background(), runGracePeriod)
		defer cancelGrace()
		if err := scheduler.Shutdown(graceCtx); err != nil {
			log.Warn(graceCtx, "In-flight revalidation run cancelled after grace period", "error", err)
		}

		opsCtx, cancelOps := context.WithTimeout(context.Background(), opsShutdownTimeout)
		defer cancelOps()
		return ops.Shutdown(opsCtx)
	})
	if runOnStart {
		g.Go(func() error {
			// Detached from the signal so shutdown goes through the grace period.
			if _, err := scheduler.TriggerNow(context.WithoutCancel(gctx)); err != nil {
				log.Error(gctx, "initial revalidation run failed", "error", err)
			}
			return nil
		})
	}

	ready.Store(true)
	log.Info(ctx, "Revalidator started",
		"schedule", opts.cfg.Schedule,
		"next_run", scheduler.NextRun(),
		"ops_addr", opts.cfg.OpsAddr,
	)

	if err := g.Wait(); err != nil {
		log.Error(ctx, "revalidator stopped with error", "error", err)
		return err
	}
	log.Info(context.Background(), "Revalidator stopped")
	return nil
}
