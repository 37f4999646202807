package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"gatekeeper/internal/app"
	"gatekeeper/internal/dispatcher"
	"gatekeeper/internal/events"
	pstrings "gatekeeper/pkg/platform/strings"
)

func replayCmd(opts *options) *cobra.Command {
	var (
		from, to string
		types    []string
		group    string
	)
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Re-deliver events appended within [from, to)",
		Long: `Re-append every event appended to the log within [from, to) with the
replay marker. Without --group every consumer group receives the copies and
skips events it already processed; with --group only that group receives
them and processes them again.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := replayRequest(from, to, types, group)
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				n, err := a.Dispatcher.ReplayRange(ctx, req)
				if err != nil {
					return err
				}
				if opts.json {
					return printJSON(cmd.OutOrStdout(), map[string]int{"replayed": n})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "replayed %d events\n", n)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "Start of the range, RFC 3339 (required)")
	cmd.Flags().StringVar(&to, "to", "", "End of the range, RFC 3339 (default: now)")
	cmd.Flags().StringSliceVarP(&types, "type", "t", nil, "Event types to replay (repeatable)")
	cmd.Flags().StringVarP(&group, "group", "g", "", "Only deliver to this consumer group")
	_ = cmd.MarkFlagRequired("from")
	return cmd
}

func replayRequest(from, to string, types []string, group string) (dispatcher.ReplayRangeRequest, error) {
	req := dispatcher.ReplayRangeRequest{Group: group}
	var err error
	if req.From, err = time.Parse(time.RFC3339, from); err != nil {
		return req, fmt.Errorf("--from: %w", err)
	}
	req.To = time.Now().UTC()
	if to != "" {
		if req.To, err = time.Parse(time.RFC3339, to); err != nil {
			return req, fmt.Errorf("--to: %w", err)
		}
	}
	for _, raw := range pstrings.DedupeAndTrim(types) {
		t, err := events.ParseType(raw)
		if err != nil {
			return req, err
		}
		req.Types = append(req.Types, t)
	}
	return req, nil
}
