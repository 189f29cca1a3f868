package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/dmrv/internal/keeper"
	"github.com/sells-group/dmrv/internal/protocol"
)

var keeperCmd = &cobra.Command{
	Use:   "keeper",
	Short: "Resolve disputes whose voting deadline has passed",
}

// -- keeper run --

var keeperRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the Temporal deadline worker and a periodic sweep",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("keeper"); err != nil {
			return err
		}
		who, err := requireCaller()
		if err != nil {
			return err
		}
		every, _ := cmd.Flags().GetDuration("sweep-interval")

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		p, closeStore, err := openProtocol(ctx, protocol.Options{})
		if err != nil {
			return err
		}
		defer closeStore()

		tc, err := dialTemporal()
		if err != nil {
			return err
		}
		defer tc.Close()
		p.SetScheduler(keeper.NewScheduler(tc, cfg.Temporal.TaskQueue))

		w := keeper.NewWorker(tc, cfg.Temporal.TaskQueue, &keeper.Activities{Resolver: p, Caller: who})

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			zap.L().Info("keeper: worker starting", zap.String("task_queue", cfg.Temporal.TaskQueue))
			if err := w.Run(doneCh(gctx)); err != nil {
				return eris.Wrap(err, "keeper: worker")
			}
			return nil
		})
		g.Go(func() error {
			return sweepLoop(gctx, p, who, every)
		})
		return g.Wait()
	},
}

// doneCh adapts ctx to the interrupt channel worker.Run expects.
func doneCh(ctx context.Context) <-chan interface{} {
	ch := make(chan interface{})
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch
}

func sweepLoop(ctx context.Context, p *protocol.Protocol, who string, every time.Duration) error {
	if every <= 0 {
		every = 5 * time.Minute
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		if _, err := keeper.Sweep(ctx, p, who); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			zap.L().Warn("keeper: sweep failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// -- keeper sweep --

var keeperSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Resolve every due dispute once",
	RunE: func(cmd *cobra.Command, _ []string) error {
		who, err := requireCaller()
		if err != nil {
			return err
		}
		return withProtocol(cmd, func(ctx context.Context, p *protocol.Protocol) error {
			n, err := keeper.Sweep(ctx, p, who)
			fmt.Fprintf(cmd.OutOrStdout(), "Resolved %d disputes.\n", n)
			return err
		})
	},
}

func init() {
	keeperRunCmd.Flags().Duration("sweep-interval", 5*time.Minute, "how often to sweep for due disputes")
	keeperCmd.AddCommand(keeperRunCmd, keeperSweepCmd)
	rootCmd.AddCommand(keeperCmd)
}
