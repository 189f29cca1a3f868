package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/sells-group/dmrv/internal/orchestrator"
	"github.com/sells-group/dmrv/internal/protocol"
)

var claimCmd = &cobra.Command{
	Use:   "claim",
	Short: "Submit, inspect and reverse credit claims",
}

// -- claim submit --

var claimSubmitCmd = &cobra.Command{
	Use:   "submit <project-id> <methodology-id> <evidence-uri>",
	Short: "Submit a claim for verification",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		who, err := requireCaller()
		if err != nil {
			return err
		}
		claimID, _ := cmd.Flags().GetString("claim-id")
		beneficiary, _ := cmd.Flags().GetString("beneficiary")
		return withProtocol(cmd, func(ctx context.Context, p *protocol.Protocol) error {
			c, err := p.SubmitClaim(ctx, who, orchestrator.SubmitRequest{
				ProjectID:     args[0],
				ClaimID:       claimID,
				MethodologyID: args[1],
				EvidenceURI:   args[2],
				Beneficiary:   beneficiary,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), c)
		})
	},
}

// -- claim show --

var claimShowCmd = &cobra.Command{
	Use:   "show <project-id> <claim-id>",
	Short: "Show a claim",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withProtocol(cmd, func(ctx context.Context, p *protocol.Protocol) error {
			c, err := p.Orchestrator.GetClaim(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), c)
		})
	},
}

// -- claim reverse --

var claimReverseCmd = &cobra.Command{
	Use:   "reverse <project-id> <claim-id>",
	Short: "Reverse a fulfilled claim and burn its credits",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		who, err := requireCaller()
		if err != nil {
			return err
		}
		return withProtocol(cmd, func(ctx context.Context, p *protocol.Protocol) error {
			c, err := p.ReverseFulfillment(ctx, who, args[0], args[1])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), c)
		})
	},
}

func init() {
	claimSubmitCmd.Flags().String("claim-id", "", "claim id (generated when empty)")
	claimSubmitCmd.Flags().String("beneficiary", "", "credit recipient (defaults to the project owner)")
	claimCmd.AddCommand(claimSubmitCmd, claimShowCmd, claimReverseCmd)
	rootCmd.AddCommand(claimCmd)
}
