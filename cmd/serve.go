package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/dmrv/internal/api"
	"github.com/sells-group/dmrv/internal/keeper"
	"github.com/sells-group/dmrv/internal/metrics"
	"github.com/sells-group/dmrv/internal/protocol"
)

var (
	servePort   int
	serveNoPoll bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long:  "Serves the JSON API and Prometheus metrics. Polls oracle feeds when sources are configured.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

		p, closeStore, err := openProtocol(ctx, protocol.Options{Metrics: metrics.New(reg)})
		if err != nil {
			return err
		}
		defer closeStore()

		if cfg.Temporal.Enabled {
			tc, err := dialTemporal()
			if err != nil {
				return err
			}
			defer tc.Close()
			p.SetScheduler(keeper.NewScheduler(tc, cfg.Temporal.TaskQueue))
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr: fmt.Sprintf(":%d", port),
			Handler: api.NewHandler(p, api.Options{
				CORSOrigins: cfg.Server.CORSOrigins,
				Tokens:      api.NewTokens(cfg.Server.JWTSecret, time.Duration(cfg.Server.TokenTTLMins)*time.Minute),
				Gatherer:    reg,
			}),
			ReadHeaderTimeout: 10 * time.Second,
		}

		g, gctx := errgroup.WithContext(ctx)

		if !serveNoPoll {
			poller, err := newPoller(p)
			if err != nil {
				return err
			}
			if poller != nil {
				g.Go(func() error {
					return ignoreCanceled(poller.Run(gctx, pollInterval()))
				})
			}
		}

		g.Go(func() error {
			<-gctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})

		g.Go(func() error {
			zap.L().Info("starting server", zap.Int("port", port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return eris.Wrap(err, "server listen")
			}
			return nil
		})

		return g.Wait()
	},
}

func dialTemporal() (client.Client, error) {
	tc, err := client.Dial(client.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
	})
	if err != nil {
		return nil, eris.Wrapf(err, "temporal: dial %s", cfg.Temporal.HostPort)
	}
	return tc, nil
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	serveCmd.Flags().BoolVar(&serveNoPoll, "no-poll", false, "do not poll oracle feed sources")
	rootCmd.AddCommand(serveCmd)
}
