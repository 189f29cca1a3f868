package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/dmrv/internal/model"
	"github.com/sells-group/dmrv/internal/protocol"
)

var disputeCmd = &cobra.Command{
	Use:   "dispute",
	Short: "Raise, vote on and resolve disputes",
}

// -- dispute raise --

var disputeRaiseCmd = &cobra.Command{
	Use:   "raise <task-id> <claim-id>",
	Short: "Challenge a fulfilled claim",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		who, err := requireCaller()
		if err != nil {
			return err
		}
		return withProtocol(cmd, func(ctx context.Context, p *protocol.Protocol) error {
			d, err := p.RaiseDispute(ctx, who, args[0], args[1])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), d)
		})
	},
}

// -- dispute vote --

var disputeVoteCmd = &cobra.Command{
	Use:   "vote <dispute-id> <uphold|overturn>",
	Short: "Cast a juror vote",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		who, err := requireCaller()
		if err != nil {
			return err
		}
		return withProtocol(cmd, func(ctx context.Context, p *protocol.Protocol) error {
			d, err := p.CastVote(ctx, who, args[0], model.Vote(args[1]))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), d)
		})
	},
}

// -- dispute resolve --

var disputeResolveCmd = &cobra.Command{
	Use:   "resolve <dispute-id>",
	Short: "Resolve a dispute after quorum or its deadline",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		who, err := requireCaller()
		if err != nil {
			return err
		}
		return withProtocol(cmd, func(ctx context.Context, p *protocol.Protocol) error {
			d, err := p.ResolveDispute(ctx, who, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), d)
		})
	},
}

// -- dispute show --

var disputeShowCmd = &cobra.Command{
	Use:   "show <dispute-id>",
	Short: "Show a dispute",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withProtocol(cmd, func(ctx context.Context, p *protocol.Protocol) error {
			d, err := p.Council.Get(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), d)
		})
	},
}

// -- dispute list --

var disputeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List disputes",
	RunE: func(cmd *cobra.Command, _ []string) error {
		open, _ := cmd.Flags().GetBool("open")
		return withProtocol(cmd, func(ctx context.Context, p *protocol.Protocol) error {
			ds, err := p.Council.List(ctx, open)
			if err != nil {
				return err
			}
			if len(ds) == 0 {
				fmt.Fprintln(cmd.ErrOrStderr(), "No disputes found.")
				return nil
			}
			formatDisputes(cmd.OutOrStdout(), ds)
			return nil
		})
	},
}

func formatDisputes(w io.Writer, ds []model.Dispute) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tKIND\tCLAIM\tSTATUS\tVOTES\tDEADLINE\tOUTCOME")
	for _, d := range ds {
		outcome := string(d.Outcome)
		if outcome == "" {
			outcome = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s/%s\t%s\t%d/%d\t%s\t%s\n",
			d.ID, d.Kind, d.ProjectID, d.ClaimID, d.Status, len(d.Votes), len(d.Jury),
			d.Deadline.Format("2006-01-02 15:04"), outcome)
	}
	tw.Flush() //nolint:errcheck
}

func init() {
	disputeListCmd.Flags().Bool("open", false, "only unresolved disputes")
	disputeCmd.AddCommand(disputeRaiseCmd, disputeVoteCmd, disputeResolveCmd, disputeShowCmd, disputeListCmd)
	rootCmd.AddCommand(disputeCmd)
}
