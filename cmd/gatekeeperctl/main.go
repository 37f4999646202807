// Command gatekeeperctl is the operator CLI. It builds the same dependency
// graph as the server from the environment and acts on it directly.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"gatekeeper/internal/app"
	"gatekeeper/internal/platform/config"
	"gatekeeper/internal/platform/logger"
)

var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type options struct {
	json bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "gatekeeperctl",
		Short:         "Operate the approval routing engine",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVar(&opts.json, "json", false, "Print results as JSON")

	root.AddCommand(dlqCmd(opts))
	root.AddCommand(replayCmd(opts))
	root.AddCommand(sweepCmd(opts))
	root.AddCommand(tokenCmd(opts))
	return root
}

// withApp builds the app for one command and closes it afterwards. Logs go
// to stderr so stdout stays parseable.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.FromEnv()
	log := logger.NewWithWriter(cmd.ErrOrStderr(), cfg.LogLevel)
	a, err := app.Build(ctx, cfg, log, nil)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
