// Command mcpwayd is a thin demo entrypoint for the bridge engine, not the
// CLI front-end. It
// wires a fixed stdio-child→Streamable-HTTP bridge from a handful of
// environment variables and os.Args: enough to exercise gateway.Gateway
// end-to-end, not a general-purpose launcher.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/viant/mcpway/config"
	"github.com/viant/mcpway/fault"
	"github.com/viant/mcpway/gateway"
	"github.com/viant/mcpway/telemetry"
)

func main() {
	if len(os.Args) < 2 {
		log.Fatal("usage: mcpwayd <upstream-stdio-command> [args...]")
	}

	cfg := config.FromEnv(config.Config{
		Input: config.Side{
			Transport: config.TransportStreamableHTTP,
			Addr:      "",
		},
		Output: config.Side{
			Transport: config.TransportStdioChild,
			Command:   os.Args[1],
			Args:      os.Args[2:],
		},
		Paths:      config.Paths{StreamableHTTPPath: "/mcp", HealthPath: "/healthz"},
		Stateful:   true,
		RewriteIDs: true,
		Port:       8000,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	gw, err := gateway.New(ctx, cfg, telemetry.StdSink{})
	if err != nil {
		log.Print(err)
		os.Exit(fault.ExitCode(err))
	}

	errCh := make(chan error, 1)
	go func() { errCh <- gw.Serve(ctx) }()

	select {
	case err := <-errCh:
		if err != nil {
			log.Print(err)
			os.Exit(fault.ExitCode(err))
		}
	case <-ctx.Done():
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := gw.Shutdown(shutdownCtx); err != nil {
			log.Printf("shutdown: %v", err)
		}
	}
}
