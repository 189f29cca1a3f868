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

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect and move issued credits",
}

// -- ledger balance --

var ledgerBalanceCmd = &cobra.Command{
	Use:   "balance <holder>",
	Short: "Show a holder's credit balances",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withProtocol(cmd, func(ctx context.Context, p *protocol.Protocol) error {
			bs, err := p.Ledger.Holdings(ctx, args[0])
			if err != nil {
				return err
			}
			if len(bs) == 0 {
				fmt.Fprintln(cmd.ErrOrStderr(), "No holdings found.")
				return nil
			}
			formatBalances(cmd.OutOrStdout(), bs)
			return nil
		})
	},
}

// -- ledger transfer --

var ledgerTransferCmd = &cobra.Command{
	Use:   "transfer <to> <project-id> <amount>",
	Short: "Transfer credits to another holder",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		who, err := requireCaller()
		if err != nil {
			return err
		}
		amount, err := parseAmount(args[2])
		if err != nil {
			return err
		}
		return withProtocol(cmd, func(ctx context.Context, p *protocol.Protocol) error {
			e, err := p.Transfer(ctx, who, args[0], args[1], amount)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), e)
		})
	},
}

// -- ledger entries --

var ledgerEntriesCmd = &cobra.Command{
	Use:   "entries",
	Short: "List journal entries",
	RunE: func(cmd *cobra.Command, _ []string) error {
		projectID, _ := cmd.Flags().GetString("project")
		return withProtocol(cmd, func(ctx context.Context, p *protocol.Protocol) error {
			es, err := p.Ledger.Entries(ctx, projectID)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), es)
		})
	},
}

// -- ledger export --

var ledgerExportCmd = &cobra.Command{
	Use:   "export <file.xlsx>",
	Short: "Export balances and journal entries to a spreadsheet",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		projectID, _ := cmd.Flags().GetString("project")
		return withProtocol(cmd, func(ctx context.Context, p *protocol.Protocol) error {
			n, err := p.Ledger.ExportXLSX(ctx, args[0], projectID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %d entries to %s.\n", n, args[0])
			return nil
		})
	},
}

func formatBalances(w io.Writer, bs []model.Balance) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PROJECT\tHOLDER\tAMOUNT")
	for _, b := range bs {
		fmt.Fprintf(tw, "%s\t%s\t%d\n", b.ProjectID, b.Holder, b.Amount)
	}
	tw.Flush() //nolint:errcheck
}

func init() {
	ledgerEntriesCmd.Flags().String("project", "", "only entries for this project")
	ledgerExportCmd.Flags().String("project", "", "only entries for this project")
	ledgerCmd.AddCommand(ledgerBalanceCmd, ledgerTransferCmd, ledgerEntriesCmd, ledgerExportCmd)
	rootCmd.AddCommand(ledgerCmd)
}
