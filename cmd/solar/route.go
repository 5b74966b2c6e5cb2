package cli

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/solarhq/solar/internal/router"
)

// RouteCmd creates the route command: one JSON request on stdin, one JSON
// envelope on stdout.
func RouteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "route",
		Short: "Route one request from stdin to stdout",
		Long: `Read a single JSON request from stdin, route it through the policy
engine and providers, and print the one-line JSON envelope on stdout.

Exit code 1 signals a failure, but the envelope is the authoritative
outcome; stdout carries nothing but the envelope.`,
		Run: func(cmd *cobra.Command, args []string) {
			r := buildRouter(Cfg)
			os.Exit(router.RunOnce(context.Background(), r, os.Stdin, os.Stdout))
		},
	}
}
