package main

import (
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/dmrv/internal/api"
)

var tokenCmd = &cobra.Command{
	Use:   "token <address>",
	Short: "Issue an API bearer token for an address",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Server.JWTSecret == "" {
			return eris.New("server.jwt_secret is required (DMRV_SERVER_JWT_SECRET)")
		}
		ttl, _ := cmd.Flags().GetDuration("ttl")
		if ttl == 0 {
			ttl = time.Duration(cfg.Server.TokenTTLMins) * time.Minute
		}
		tok, err := api.NewTokens(cfg.Server.JWTSecret, ttl).Issue(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	},
}

func init() {
	tokenCmd.Flags().Duration("ttl", 0, "token lifetime (default from config)")
	rootCmd.AddCommand(tokenCmd)
}
