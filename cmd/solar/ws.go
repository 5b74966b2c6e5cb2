package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/solarhq/solar/internal/gateway"
	"github.com/solarhq/solar/internal/logging"
)

// WSCmd creates the ws command: the WebSocket bridge with the router
// in-process.
func WSCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ws",
		Short: "Start the WebSocket bridge",
		Long: `Serve the WebSocket bridge. Each frame is validated and routed through
the in-process policy engine; the response frame wraps the full router
envelope.`,
		Run: func(cmd *cobra.Command, args []string) {
			runWS()
		},
	}
}

func runWS() {
	ctx, cancel := signalContext()
	defer cancel()

	srv := gateway.NewWSServer(Cfg, buildRouter(Cfg))
	if err := srv.ListenAndServe(ctx); err != nil {
		logging.Errorf("websocket bridge: %v", err)
		os.Exit(1)
	}
}
