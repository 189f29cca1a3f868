package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/dmrv/internal/apperr"
	"github.com/sells-group/dmrv/internal/methodology"
	"github.com/sells-group/dmrv/internal/model"
	"github.com/sells-group/dmrv/internal/protocol"
)

var methodologyCmd = &cobra.Command{
	Use:     "methodology",
	Aliases: []string{"meth"},
	Short:   "Manage methodologies in the active registry",
}

func methodologyFromFlags(cmd *cobra.Command, id string) model.Methodology {
	module, _ := cmd.Flags().GetString("module")
	schemaURI, _ := cmd.Flags().GetString("schema-uri")
	schemaHash, _ := cmd.Flags().GetString("schema-hash")
	approved, _ := cmd.Flags().GetBool("approved")
	return model.Methodology{
		ID:            id,
		ModuleAddress: module,
		SchemaURI:     schemaURI,
		SchemaHash:    schemaHash,
		IsApproved:    approved,
	}
}

// -- methodology register --

var methodologyRegisterCmd = &cobra.Command{
	Use:   "register <id>",
	Short: "Register a methodology",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		who, err := requireCaller()
		if err != nil {
			return err
		}
		return withProtocol(cmd, func(ctx context.Context, p *protocol.Protocol) error {
			m, err := p.RegisterMethodology(ctx, who, methodologyFromFlags(cmd, args[0]))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), m)
		})
	},
}

// -- methodology update --

var methodologyUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Publish a new version of a methodology",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		who, err := requireCaller()
		if err != nil {
			return err
		}
		return withProtocol(cmd, func(ctx context.Context, p *protocol.Protocol) error {
			m, err := p.UpdateMethodology(ctx, who, methodologyFromFlags(cmd, args[0]))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), m)
		})
	},
}

// -- methodology deprecate --

var methodologyDeprecateCmd = &cobra.Command{
	Use:   "deprecate <id>",
	Short: "Deprecate a methodology",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		who, err := requireCaller()
		if err != nil {
			return err
		}
		return withProtocol(cmd, func(ctx context.Context, p *protocol.Protocol) error {
			m, err := p.DeprecateMethodology(ctx, who, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), m)
		})
	},
}

// -- methodology import --

var methodologyImportCmd = &cobra.Command{
	Use:   "import <catalog.yaml>",
	Short: "Register every methodology in a YAML catalog",
	Long:  "Registers catalog entries in the active registry. Entries that already exist are skipped.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		who, err := requireCaller()
		if err != nil {
			return err
		}
		cat, err := methodology.LoadCatalog(args[0])
		if err != nil {
			return err
		}
		return withProtocol(cmd, func(ctx context.Context, p *protocol.Protocol) error {
			var added, skipped int
			for _, m := range cat.Methodologies {
				_, err := p.RegisterMethodology(ctx, who, m)
				switch {
				case apperr.Is(err, apperr.DuplicateID):
					skipped++
				case err != nil:
					return err
				default:
					added++
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d methodologies (%d already registered).\n", added, skipped)
			return nil
		})
	},
}

// -- methodology use-registry --

var methodologyUseRegistryCmd = &cobra.Command{
	Use:   "use-registry <address>",
	Short: "Point the orchestrator at another methodology registry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		who, err := requireCaller()
		if err != nil {
			return err
		}
		return withProtocol(cmd, func(ctx context.Context, p *protocol.Protocol) error {
			if err := p.SetMethodologyRegistry(ctx, who, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Methodology registry set to %s.\n", args[0])
			return nil
		})
	},
}

// -- methodology show --

var methodologyShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a methodology",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withProtocol(cmd, func(ctx context.Context, p *protocol.Protocol) error {
			reg, err := p.ActiveRegistry(ctx)
			if err != nil {
				return err
			}
			m, err := reg.Get(ctx, args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), m)
		})
	},
}

// -- methodology list --

var methodologyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List methodologies in the active registry",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withProtocol(cmd, func(ctx context.Context, p *protocol.Protocol) error {
			reg, err := p.ActiveRegistry(ctx)
			if err != nil {
				return err
			}
			ms, err := reg.List(ctx)
			if err != nil {
				return err
			}
			if len(ms) == 0 {
				fmt.Fprintln(cmd.ErrOrStderr(), "No methodologies found.")
				return nil
			}
			formatMethodologies(cmd.OutOrStdout(), reg.Address(), ms)
			return nil
		})
	},
}

func formatMethodologies(w io.Writer, registry string, ms []model.Methodology) {
	fmt.Fprintf(w, "Registry: %s\n\n", registry)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tVERSION\tMODULE\tAPPROVED\tDEPRECATED")
	for _, m := range ms {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%t\t%t\n", m.ID, m.Version, m.ModuleAddress, m.IsApproved, m.IsDeprecated)
	}
	tw.Flush() //nolint:errcheck
}

func init() {
	for _, c := range []*cobra.Command{methodologyRegisterCmd, methodologyUpdateCmd} {
		c.Flags().String("module", "", "verifier module address")
		c.Flags().String("schema-uri", "", "evidence schema URI")
		c.Flags().String("schema-hash", "", "evidence schema hash")
		c.Flags().Bool("approved", true, "approve for new claims")
		_ = c.MarkFlagRequired("module")
	}
	methodologyCmd.AddCommand(methodologyRegisterCmd, methodologyUpdateCmd, methodologyDeprecateCmd,
		methodologyImportCmd, methodologyUseRegistryCmd, methodologyShowCmd, methodologyListCmd)
	rootCmd.AddCommand(methodologyCmd)
}
