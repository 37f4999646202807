package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"gatekeeper/internal/app"
	"gatekeeper/internal/escalation"
	id "gatekeeper/pkg/domain"
)

func sweepCmd(opts *options) *cobra.Command {
	var tenant string
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one escalation sweep now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var tenantID id.TenantID
			if tenant != "" {
				parsed, err := id.ParseTenantID(tenant)
				if err != nil {
					return err
				}
				tenantID = parsed
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				var (
					res escalation.SweepResult
					err error
				)
				if tenantID.IsNil() {
					res, err = a.Scheduler.SweepAll(ctx)
				} else {
					res, err = a.Scheduler.Sweep(ctx, tenantID, time.Now())
				}
				if err != nil {
					return err
				}
				if opts.json {
					return printJSON(cmd.OutOrStdout(), res)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "escalated=%d expired=%d reminded=%d skipped=%d failed=%d\n",
					res.Escalated, res.Expired, res.Reminded, res.Skipped, res.Failed)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&tenant, "tenant", "", "Tenant id (default: every tenant)")
	return cmd
}
