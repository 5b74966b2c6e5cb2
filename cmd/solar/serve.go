package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/solarhq/solar/internal/gateway"
	"github.com/solarhq/solar/internal/logging"
	"github.com/solarhq/solar/internal/telegram"
)

// ServeCmd creates the serve command: the HTTP webhook bridge.
func ServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP webhook bridge",
		Long: `Serve the webhook ingress: Telegram updates are deduplicated, ACKed
fast and processed in the background; n8n requests are answered
synchronously with the router envelope. Requests are forwarded to the
WebSocket bridge (see "solar ws").`,
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

func runServe() {
	ctx, cancel := signalContext()
	defer cancel()

	sender, err := telegram.NewSender(Cfg.TelegramBotToken, Cfg.TelegramParseMode, Cfg.TelegramDisablePreview)
	if err != nil {
		fmt.Fprintf(os.Stderr, "telegram sender: %v\n", err)
		os.Exit(1)
	}

	var dedup gateway.DedupStore
	if Cfg.DedupDB != "" {
		dedup, err = gateway.NewSQLiteDedup(Cfg.DedupDB, Cfg.DedupTTL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "dedup store: %v\n", err)
			os.Exit(1)
		}
	} else {
		dedup = gateway.NewMemoryDedup(Cfg.DedupTTL)
	}
	defer dedup.Close()

	caller := &gateway.WSCaller{URL: Cfg.WSURL(), Timeout: Cfg.RouterTimeout + 20*time.Second}
	bridge := gateway.NewHTTPBridge(Cfg, caller, dedup, sender)
	if err := bridge.ListenAndServe(ctx); err != nil {
		logging.Errorf("webhook bridge: %v", err)
		os.Exit(1)
	}
}
