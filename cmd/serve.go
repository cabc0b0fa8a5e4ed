package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// httpServer 便于测试替换 *http.Server。
type httpServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

func newServeCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the background job scheduler",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			deps, cleanup, err := c.build(c.cfg)
			defer cleanup()
			if err != nil {
				return err
			}

			timeout, err := time.ParseDuration(c.cfg.Server.ShutdownTimeout)
			if err != nil || timeout <= 0 {
				timeout = 5 * time.Second
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			srv := &http.Server{Addr: c.cfg.Server.Addr, Handler: deps.handler, ReadHeaderTimeout: 10 * time.Second}
			deps.logger.Info().Str("addr", c.cfg.Server.Addr).Msg("listening")
			return runServer(ctx, srv, deps.sched, timeout)
		},
	}
}

// runServer 同时运行 HTTP 服务与调度器，上下文取消后优雅关闭。
func runServer(ctx context.Context, srv httpServer, sched schedulerRunner, timeout time.Duration) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := sched.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("scheduler stopped: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
