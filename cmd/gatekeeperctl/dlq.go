package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"gatekeeper/internal/app"
	"gatekeeper/internal/dispatcher/models"
	id "gatekeeper/pkg/domain"
)

func dlqCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dlq",
		Short: "Inspect, replay and resolve dead-lettered events",
	}
	cmd.AddCommand(dlqListCmd(opts))
	cmd.AddCommand(dlqReplayCmd(opts))
	cmd.AddCommand(dlqResolveCmd())
	return cmd
}

func dlqListCmd(opts *options) *cobra.Command {
	var (
		group string
		all   bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List dead letters, unresolved only unless --all",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				letters, err := a.Dispatcher.ListDeadLetters(ctx, group, all)
				if err != nil {
					return err
				}
				if opts.json {
					return printJSON(cmd.OutOrStdout(), letters)
				}
				return printLetters(cmd, letters)
			})
		},
	}
	cmd.Flags().StringVarP(&group, "group", "g", "", "Consumer group (default: all groups)")
	cmd.Flags().BoolVar(&all, "all", false, "Include resolved dead letters")
	return cmd
}

func printLetters(cmd *cobra.Command, letters []*models.DeadLetter) error {
	if len(letters) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no dead letters")
		return nil
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tGROUP\tEVENT\tAPPROVAL\tATTEMPTS\tDEAD AT\tSTATE\tLAST ERROR")
	for _, dl := range letters {
		state := "open"
		if dl.IsResolved() {
			state = "resolved"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			dl.ID, dl.Group, dl.Event.Type, dl.Event.ApprovalItemID, dl.Attempts,
			dl.DeadAt.Format(time.RFC3339), state, dl.LastError)
	}
	return tw.Flush()
}

func dlqReplayCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "replay <dead-letter-id>",
		Short: "Re-deliver a dead-lettered event to its consumer group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			letterID, err := id.ParseDeadLetterID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				dl, err := a.Dispatcher.ReplayDeadLetter(ctx, letterID)
				if err != nil {
					return err
				}
				if opts.json {
					return printJSON(cmd.OutOrStdout(), dl)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "replayed event %s to group %s (replay #%d)\n",
					dl.Event.ID, dl.Group, dl.ReplayCount)
				return nil
			})
		},
	}
}

func dlqResolveCmd() *cobra.Command {
	var by, note string
	cmd := &cobra.Command{
		Use:   "resolve <dead-letter-id>",
		Short: "Mark a dead letter as handled without replaying it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			letterID, err := id.ParseDeadLetterID(args[0])
			if err != nil {
				return err
			}
			actor, err := id.ParseActorID(by)
			if err != nil {
				return fmt.Errorf("--by: %w", err)
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				if err := a.Dispatcher.ResolveDeadLetter(ctx, letterID, actor, note); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "resolved %s\n", letterID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&by, "by", "", "Operator resolving the dead letter (required)")
	cmd.Flags().StringVar(&note, "note", "", "Resolution note")
	_ = cmd.MarkFlagRequired("by")
	return cmd
}
