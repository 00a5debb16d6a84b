// lifxd is a local LIFX gateway.
//
// It discovers LIFX bulbs on the LAN over the UDP protocol, keeps a cache of
// their state and serves a token-protected REST API modelled on the LIFX
// cloud API. Device changes are streamed over WebSocket and, when
// configured, mirrored to MQTT and recorded in InfluxDB.
//
// Usage:
//
//	lifxd [serve] [--config path]
//
// See 'lifxd --help' for the other commands.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// Version information, set at build time via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
