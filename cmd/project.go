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

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage registered projects",
}

// -- project register --

var projectRegisterCmd = &cobra.Command{
	Use:   "register <id> <metadata-uri>",
	Short: "Register a project owned by the caller",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		who, err := requireCaller()
		if err != nil {
			return err
		}
		return withProtocol(cmd, func(ctx context.Context, p *protocol.Protocol) error {
			pr, err := p.RegisterProject(ctx, who, args[0], args[1])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), pr)
		})
	},
}

// -- project status --

var projectStatusCmd = &cobra.Command{
	Use:   "status <id> <pending|active|paused|archived>",
	Short: "Change a project's lifecycle status",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		who, err := requireCaller()
		if err != nil {
			return err
		}
		return withProtocol(cmd, func(ctx context.Context, p *protocol.Protocol) error {
			pr, err := p.SetProjectStatus(ctx, who, args[0], model.ProjectStatus(args[1]))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), pr)
		})
	},
}

// -- project metadata --

var projectMetadataCmd = &cobra.Command{
	Use:   "metadata <id> <metadata-uri>",
	Short: "Replace a project's metadata URI",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		who, err := requireCaller()
		if err != nil {
			return err
		}
		return withProtocol(cmd, func(ctx context.Context, p *protocol.Protocol) error {
			pr, err := p.SetProjectMetadata(ctx, who, args[0], args[1])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), pr)
		})
	},
}

// -- project transfer --

var projectTransferCmd = &cobra.Command{
	Use:   "transfer <id> <new-owner>",
	Short: "Transfer project ownership",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		who, err := requireCaller()
		if err != nil {
			return err
		}
		return withProtocol(cmd, func(ctx context.Context, p *protocol.Protocol) error {
			pr, err := p.TransferProjectOwnership(ctx, who, args[0], args[1])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), pr)
		})
	},
}

// -- project show --

var projectShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a project and its claims",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withProtocol(cmd, func(ctx context.Context, p *protocol.Protocol) error {
			pr, err := p.Projects.Get(ctx, args[0])
			if err != nil {
				return err
			}
			claims, err := p.Orchestrator.ListClaims(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), struct {
				*model.Project
				Claims []model.Claim `json:"claims"`
			}{pr, claims})
		})
	},
}

// -- project list --

var projectListCmd = &cobra.Command{
	Use:   "list",
	Short: "List projects",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withProtocol(cmd, func(ctx context.Context, p *protocol.Protocol) error {
			projects, err := p.Projects.List(ctx)
			if err != nil {
				return err
			}
			if len(projects) == 0 {
				fmt.Fprintln(cmd.ErrOrStderr(), "No projects found.")
				return nil
			}
			formatProjects(cmd.OutOrStdout(), projects)
			return nil
		})
	},
}

func formatProjects(w io.Writer, projects []model.Project) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tOWNER\tMETADATA\tUPDATED")
	for _, p := range projects {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			p.ID, p.Status, p.Owner, p.MetadataURI, p.UpdatedAt.Format("2006-01-02 15:04"))
	}
	tw.Flush() //nolint:errcheck
}

func init() {
	projectCmd.AddCommand(projectRegisterCmd, projectStatusCmd, projectMetadataCmd,
		projectTransferCmd, projectShowCmd, projectListCmd)
	rootCmd.AddCommand(projectCmd)
}
