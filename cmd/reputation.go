package main

import (
	"context"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/dmrv/internal/protocol"
)

var reputationCmd = &cobra.Command{
	Use:   "reputation",
	Short: "Work reputation-weighted verification tasks",
}

// -- reputation attest --

var reputationAttestCmd = &cobra.Command{
	Use:   "attest <task-id> <value>",
	Short: "Submit an attestation for an assigned task",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		who, err := requireCaller()
		if err != nil {
			return err
		}
		value, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return eris.Wrapf(err, "parse value %q", args[1])
		}
		credential, _ := cmd.Flags().GetString("credential")
		return withProtocol(cmd, func(ctx context.Context, p *protocol.Protocol) error {
			t, err := p.SubmitAttestation(ctx, who, args[0], value, credential)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), t)
		})
	},
}

// -- reputation task --

var reputationTaskCmd = &cobra.Command{
	Use:   "task <task-id>",
	Short: "Show a reputation task with its attestations",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withProtocol(cmd, func(ctx context.Context, p *protocol.Protocol) error {
			t, err := p.Reputation.Get(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), t)
		})
	},
}

func init() {
	reputationAttestCmd.Flags().String("credential", "", "content id of the supporting credential")
	reputationCmd.AddCommand(reputationAttestCmd, reputationTaskCmd)
	rootCmd.AddCommand(reputationCmd)
}
