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

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Show the audit event log",
	RunE: func(cmd *cobra.Command, _ []string) error {
		kind, _ := cmd.Flags().GetString("entity-kind")
		id, _ := cmd.Flags().GetString("entity-id")
		typ, _ := cmd.Flags().GetString("type")
		limit, _ := cmd.Flags().GetInt("limit")
		asJSON, _ := cmd.Flags().GetBool("json")
		return withProtocol(cmd, func(ctx context.Context, p *protocol.Protocol) error {
			evs, err := p.ListEvents(ctx, model.EventFilter{EntityKind: kind, EntityID: id, Type: typ, Limit: limit})
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), evs)
			}
			if len(evs) == 0 {
				fmt.Fprintln(cmd.ErrOrStderr(), "No events found.")
				return nil
			}
			formatEvents(cmd.OutOrStdout(), evs)
			return nil
		})
	},
}

func formatEvents(w io.Writer, evs []model.Event) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tTIME\tTYPE\tENTITY\tACTOR")
	for _, e := range evs {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s/%s\t%s\n",
			e.ID, e.TS.Format("2006-01-02 15:04:05"), e.Type, e.EntityKind, e.EntityID, e.Actor)
	}
	tw.Flush() //nolint:errcheck
}

func init() {
	eventsCmd.Flags().String("entity-kind", "", "filter by entity kind")
	eventsCmd.Flags().String("entity-id", "", "filter by entity id")
	eventsCmd.Flags().String("type", "", "filter by event type")
	eventsCmd.Flags().Int("limit", 100, "maximum events to show")
	eventsCmd.Flags().Bool("json", false, "print JSON")
	rootCmd.AddCommand(eventsCmd)
}
