// Package cli wires the solar commands: the router front-end, both transport
// bridges, and the deferred-task executor and watcher.
package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/solarhq/solar/internal/config"
	"github.com/solarhq/solar/internal/provider"
	"github.com/solarhq/solar/internal/router"
	"github.com/solarhq/solar/internal/tasks"
)

// Cfg holds the loaded configuration (set once in Execute).
var Cfg *config.Config

// Execute loads configuration and runs the CLI.
func Execute() error {
	Cfg = config.FromEnv()
	return SetupRootCmd(Cfg).Execute()
}

// SetupRootCmd configures the root command with all subcommands.
func SetupRootCmd(c *config.Config) *cobra.Command {
	Cfg = c

	rootCmd := &cobra.Command{
		Use:   "solar",
		Short: "Solar - AI request gateway",
		Long: `Solar routes chat requests to CLI AI providers with fallback,
conversation memory and deferred-task classification.

Subcommands run the router over stdin/stdout, the HTTP and WebSocket
bridges, and the asynchronous task executor.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(RouteCmd())
	rootCmd.AddCommand(ServeCmd())
	rootCmd.AddCommand(WSCmd())
	rootCmd.AddCommand(RunTaskCmd())
	rootCmd.AddCommand(WatchCmd())

	return rootCmd
}

// buildRouter assembles the in-process router with production collaborators.
func buildRouter(cfg *config.Config) *router.Router {
	creator := &tasks.Creator{Cmd: cfg.CreateTaskCmd, Dir: cfg.RepoRoot}
	return router.NewFromConfig(cfg, provider.NewRunner(cfg), creator)
}

// signalContext returns a context cancelled on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()
	return ctx, cancel
}
