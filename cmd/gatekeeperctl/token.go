package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	jwttoken "gatekeeper/internal/jwt_token"
	"gatekeeper/internal/platform/config"
	id "gatekeeper/pkg/domain"
	"gatekeeper/pkg/requestcontext"
)

// tokenCmd signs a bearer token with the configured key. It needs no backing
// services.
func tokenCmd(opts *options) *cobra.Command {
	var (
		tenant  string
		actor   string
		channel string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for a reviewer or an agent",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tenantID, err := id.ParseTenantID(tenant)
			if err != nil {
				return err
			}
			cfg := config.FromEnv()
			tokens := jwttoken.NewService(cfg.Server.JWTSigningKey, cfg.Server.JWTIssuer, cfg.Server.JWTAudience)
			token, err := tokens.Issue(jwttoken.TokenRequest{
				TenantID: tenantID,
				Actor:    id.ActorID(actor),
				Channel:  requestcontext.Channel(channel),
				TTL:      ttl,
			})
			if err != nil {
				return err
			}
			if opts.json {
				return printJSON(cmd.OutOrStdout(), map[string]string{"token": token})
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&tenant, "tenant", "", "Tenant id")
	cmd.Flags().StringVar(&actor, "actor", "", "Approver or agent id (token subject)")
	cmd.Flags().StringVar(&channel, "channel", "", "ui or agent")
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "Token lifetime")
	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("actor")
	return cmd
}
