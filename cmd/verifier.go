package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/dmrv/internal/model"
	"github.com/sells-group/dmrv/internal/protocol"
)

var verifierCmd = &cobra.Command{
	Use:   "verifier",
	Short: "Stake, unstake and inspect verifiers",
}

func parseAmount(s string) (int64, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, eris.Wrapf(err, "parse amount %q", s)
	}
	return n, nil
}

func stakeCommand(use, short string, op func(p *protocol.Protocol) func(context.Context, string, int64) (*model.VerifierRecord, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <amount>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			who, err := requireCaller()
			if err != nil {
				return err
			}
			amount, err := parseAmount(args[0])
			if err != nil {
				return err
			}
			return withProtocol(cmd, func(ctx context.Context, p *protocol.Protocol) error {
				v, err := op(p)(ctx, who, amount)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), v)
			})
		},
	}
}

var verifierStakeCmd = stakeCommand("stake", "Stake as a verifier",
	func(p *protocol.Protocol) func(context.Context, string, int64) (*model.VerifierRecord, error) {
		return p.Stake
	})

var verifierUnstakeCmd = stakeCommand("unstake", "Withdraw stake",
	func(p *protocol.Protocol) func(context.Context, string, int64) (*model.VerifierRecord, error) {
		return p.Unstake
	})

// -- verifier show --

var verifierShowCmd = &cobra.Command{
	Use:   "show <address>",
	Short: "Show a verifier record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withProtocol(cmd, func(ctx context.Context, p *protocol.Protocol) error {
			v, err := p.Pool.Get(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), v)
		})
	},
}

// -- verifier list --

var verifierListCmd = &cobra.Command{
	Use:   "list",
	Short: "List verifiers",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withProtocol(cmd, func(ctx context.Context, p *protocol.Protocol) error {
			vs, err := p.Pool.GetAllVerifiers(ctx)
			if err != nil {
				return err
			}
			if len(vs) == 0 {
				fmt.Fprintln(cmd.ErrOrStderr(), "No verifiers found.")
				return nil
			}
			formatVerifiers(cmd.OutOrStdout(), vs)
			return nil
		})
	},
}

func formatVerifiers(w io.Writer, vs []model.VerifierRecord) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ADDRESS\tSTAKE\tREPUTATION\tACTIVE")
	for _, v := range vs {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%t\n", v.Address, v.Stake, v.Reputation, v.IsActive)
	}
	tw.Flush() //nolint:errcheck
}

func init() {
	verifierCmd.AddCommand(verifierStakeCmd, verifierUnstakeCmd, verifierShowCmd, verifierListCmd)
	rootCmd.AddCommand(verifierCmd)
}
