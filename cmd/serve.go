package cmd

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/huru0825/kenpo-watcher/internal/auth"
	"github.com/huru0825/kenpo-watcher/internal/scheduler"
	"github.com/huru0825/kenpo-watcher/internal/web"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var interval time.Duration

	cmd := withConfig(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP trigger server and, when an interval is set, the scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := opts.cfg

			a, err := newApp(ctx, cfg, opts.log)
			if err != nil {
				return err
			}
			defer a.Close()

			var sched *scheduler.Scheduler
			if cfg.Scheduler.Interval > 0 {
				sched = &scheduler.Scheduler{
					Runner:   a.runner,
					Interval: cfg.Scheduler.Interval,
					Log:      opts.log.Named("scheduler"),
				}
			} else {
				opts.log.Info("scheduler disabled, runs start only via /run")
			}

			bearer := auth.NewBearer(cfg.Server.RunTokenHash)
			if !bearer.Enabled() {
				opts.log.Warn("run trigger is unauthenticated; set server.run_token_hash to require a token")
			}

			ws := &web.Server{
				Runner:  a.runner,
				Auth:    bearer,
				Log:     opts.log.Named("web"),
				BaseCtx: ctx,
			}
			return serveAndDrain(ctx, sched, a.runner, func(ctx context.Context) error {
				return web.Start(ctx, cfg.Server.ListenAddr, ws.Routes(), opts.log.Named("web"))
			}, opts.log)
		},
	})

	cmd.Flags().DurationVar(&interval, "interval", 0, "override scheduler.interval (e.g. 15m, 0 disables)")
	cmd.PreRunE = func(cmd *cobra.Command, args []string) error {
		if !cmd.Flags().Changed("interval") {
			return nil
		}
		if interval < 0 {
			return errors.New("--interval must not be negative")
		}
		opts.cfg.Scheduler.Interval = interval
		opts.log.Info("scheduler interval overridden", zap.Duration("interval", interval))
		return nil
	}
	return cmd
}

type inflight interface {
	Running() bool
	Wait()
}

// serveAndDrain runs serve alongside the optional scheduler. Once serve
// returns, the scheduler is stopped and in-flight runs are waited for, so the
// caller may release the browser and store afterwards.
func serveAndDrain(ctx context.Context, sched *scheduler.Scheduler, runs inflight, serve func(context.Context) error, log *zap.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	if sched != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = sched.Run(ctx)
		}()
	}

	err := serve(ctx)
	cancel()

	if runs.Running() {
		log.Info("waiting for the in-flight run to finish")
	}
	wg.Wait()
	runs.Wait()
	return err
}
