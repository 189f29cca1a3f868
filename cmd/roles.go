package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sells-group/dmrv/internal/protocol"
)

var rolesCmd = &cobra.Command{
	Use:   "roles",
	Short: "Grant, revoke and list roles",
}

func roleCommand(use, short, done string, op func(p *protocol.Protocol) func(ctx context.Context, caller, addr string, role string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <role> <address>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			who, err := requireCaller()
			if err != nil {
				return err
			}
			return withProtocol(cmd, func(ctx context.Context, p *protocol.Protocol) error {
				if err := op(p)(ctx, who, args[1], args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Role %s %s %s.\n", args[0], done, args[1])
				return nil
			})
		},
	}
}

var rolesGrantCmd = roleCommand("grant", "Grant a role to an address", "granted to",
	func(p *protocol.Protocol) func(context.Context, string, string, string) error {
		return func(ctx context.Context, caller, addr, role string) error {
			r, err := parseRole(role)
			if err != nil {
				return err
			}
			return p.GrantRole(ctx, caller, addr, r)
		}
	})

var rolesRevokeCmd = roleCommand("revoke", "Revoke a role from an address", "revoked from",
	func(p *protocol.Protocol) func(context.Context, string, string, string) error {
		return func(ctx context.Context, caller, addr, role string) error {
			r, err := parseRole(role)
			if err != nil {
				return err
			}
			return p.RevokeRole(ctx, caller, addr, r)
		}
	})

// -- roles members --

var rolesMembersCmd = &cobra.Command{
	Use:   "members <role>",
	Short: "List addresses holding a role",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		role, err := parseRole(args[0])
		if err != nil {
			return err
		}
		return withProtocol(cmd, func(ctx context.Context, p *protocol.Protocol) error {
			addrs, err := p.Roles.Members(ctx, role)
			if err != nil {
				return err
			}
			for _, a := range addrs {
				fmt.Fprintln(cmd.OutOrStdout(), a)
			}
			return nil
		})
	},
}

func init() {
	rolesCmd.AddCommand(rolesGrantCmd, rolesRevokeCmd, rolesMembersCmd)
	rootCmd.AddCommand(rolesCmd)
}
