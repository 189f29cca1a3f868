package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/dmrv/internal/module/oracle"
	"github.com/sells-group/dmrv/internal/protocol"
)

var oracleCmd = &cobra.Command{
	Use:   "oracle",
	Short: "Register devices, submit feed readings and aggregate oracle tasks",
}

// -- oracle device --

var oracleDeviceCmd = &cobra.Command{
	Use:   "device <id> <unit>",
	Short: "Register a measurement device and its site",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		who, err := requireCaller()
		if err != nil {
			return err
		}
		bbox, _ := cmd.Flags().GetFloat64Slice("site")
		if len(bbox) != 4 {
			return eris.New("--site takes min_lon,min_lat,max_lon,max_lat")
		}
		site := oracle.Site{MinLon: bbox[0], MinLat: bbox[1], MaxLon: bbox[2], MaxLat: bbox[3]}
		return withProtocol(cmd, func(ctx context.Context, p *protocol.Protocol) error {
			d, err := p.RegisterDevice(ctx, who, args[0], args[1], site)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), d)
		})
	},
}

// -- oracle reading --

var oracleReadingCmd = &cobra.Command{
	Use:   "reading <device-id> <feed> <value>",
	Short: "Submit a feed reading",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		who, err := requireCaller()
		if err != nil {
			return err
		}
		value, err := strconv.ParseFloat(args[2], 64)
		if err != nil {
			return eris.Wrapf(err, "parse value %q", args[2])
		}
		lon, _ := cmd.Flags().GetFloat64("lon")
		lat, _ := cmd.Flags().GetFloat64("lat")
		observed, _ := cmd.Flags().GetString("observed-at")
		at, err := parseTime(observed)
		if err != nil {
			return err
		}
		return withProtocol(cmd, func(ctx context.Context, p *protocol.Protocol) error {
			r := oracle.Reading{DeviceID: args[0], Feed: args[1], Value: value, Lon: lon, Lat: lat, ObservedAt: at}
			if err := p.SubmitReading(ctx, who, r); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Reading recorded for %s/%s.\n", args[0], args[1])
			return nil
		})
	},
}

// -- oracle aggregate --

var oracleAggregateCmd = &cobra.Command{
	Use:   "aggregate <task-id>",
	Short: "Aggregate feed readings and report the task result",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		who, err := requireCaller()
		if err != nil {
			return err
		}
		return withProtocol(cmd, func(ctx context.Context, p *protocol.Protocol) error {
			t, err := p.Aggregate(ctx, who, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), t)
		})
	},
}

// -- oracle task --

var oracleTaskCmd = &cobra.Command{
	Use:   "task <task-id>",
	Short: "Show an oracle task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withProtocol(cmd, func(ctx context.Context, p *protocol.Protocol) error {
			t, err := p.Oracle.Get(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), t)
		})
	},
}

// -- oracle poll --

var oraclePollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Poll configured feed sources",
	Long:  "Fetches readings from every configured source once, or repeatedly with --watch.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		watch, _ := cmd.Flags().GetBool("watch")
		return withProtocol(cmd, func(ctx context.Context, p *protocol.Protocol) error {
			poller, err := newPoller(p)
			if err != nil {
				return err
			}
			if poller == nil {
				return eris.New("no oracle sources configured (oracle.sources)")
			}
			if watch {
				return ignoreCanceled(poller.Run(ctx, pollInterval()))
			}
			stats, err := poller.PollOnce(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Polled %d sources: %d submitted, %d rejected, %d failed, %d skipped.\n",
				stats.Sources, stats.Submitted, stats.Rejected, stats.Failed, stats.Skipped)
			return nil
		})
	},
}

func init() {
	oracleDeviceCmd.Flags().Float64Slice("site", nil, "site bounding box: min_lon,min_lat,max_lon,max_lat")
	_ = oracleDeviceCmd.MarkFlagRequired("site")
	oracleReadingCmd.Flags().Float64("lon", 0, "reading longitude")
	oracleReadingCmd.Flags().Float64("lat", 0, "reading latitude")
	oracleReadingCmd.Flags().String("observed-at", "", "RFC3339 observation time (default now)")
	oraclePollCmd.Flags().Bool("watch", false, "keep polling at oracle.poll_interval_secs")
	oracleCmd.AddCommand(oracleDeviceCmd, oracleReadingCmd, oracleAggregateCmd, oracleTaskCmd, oraclePollCmd)
	rootCmd.AddCommand(oracleCmd)
}
