package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/ktheindifferent/lifx-api-server/internal/api"
	"github.com/ktheindifferent/lifx-api-server/internal/device"
	"github.com/ktheindifferent/lifx-api-server/internal/discovery"
	"github.com/ktheindifferent/lifx-api-server/internal/infrastructure/config"
	"github.com/ktheindifferent/lifx-api-server/internal/infrastructure/logging"
	"github.com/ktheindifferent/lifx-api-server/internal/infrastructure/mdns"
	"github.com/ktheindifferent/lifx-api-server/internal/ratelimit"
	"github.com/ktheindifferent/lifx-api-server/internal/safesync"
)

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "lifxd",
		Short: "Local LIFX gateway with a LIFX-cloud style REST API",
		Long: `lifxd discovers LIFX bulbs on the local network and serves a REST API
compatible with the LIFX cloud HTTP API, without any cloud dependency.

Run without a subcommand to start the gateway.`,
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), getConfigPath(configPath))
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"Path to the YAML config file (default $"+configEnv+", or built-in defaults)")

	root.AddCommand(
		newServeCmd(&configPath),
		newDiscoverCmd(&configPath),
		newPeersCmd(),
		newTokenCmd(&configPath),
		newVersionCmd(),
	)
	return root
}

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway and API server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), getConfigPath(*configPath))
		},
	}
}

func newDiscoverCmd(configPath *string) *cobra.Command {
	var (
		bind string
		wait time.Duration
	)
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Run one discovery and print the lights found",
		Long: `Broadcast a discovery on the LAN, wait for replies and state queries,
and print the lights as JSON in the same shape as GET /v1/lights/all.

The gateway socket binds an ephemeral port by default so discover can run
next to a live lifxd.`,
		Example: `  lifxd discover
  lifxd discover --wait 5s --bind 192.168.1.10:0`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			cfg.Gateway.Bind = bind
			cfg.Discovery.AutoEnabled = false
			return runDiscover(cmd.Context(), cfg, wait, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&bind, "bind", "0.0.0.0:0", "Local UDP address for the probe socket")
	cmd.Flags().DurationVar(&wait, "wait", 3*time.Second, "How long to collect replies and state")
	return cmd
}

type discoverOutput struct {
	Discovery discovery.Metrics `json:"discovery"`
	Lights    []device.View     `json:"lights"`
}

func runDiscover(ctx context.Context, cfg *config.Config, wait time.Duration, out io.Writer) error {
	log := logging.New(cfg.Logging, version)
	monitor := safesync.NewMonitor(log)
	gw, err := newGateway(cfg, ratelimit.New(rateRules(cfg.Security.RateLimit), monitor), monitor, log)
	if err != nil {
		return err
	}
	defer gw.Close()

	gw.Start(ctx)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(wait):
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(discoverOutput{
		Discovery: gw.DiscoveryMetrics(),
		Lights:    device.Views(gw.List(device.All), time.Now()),
	})
}

func newPeersCmd() *cobra.Command {
	var (
		timeout time.Duration
		browse  config.MDNSConfig
	)
	cmd := &cobra.Command{
		Use:   "peers",
		Short: "List lifxd instances advertised on the LAN",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			peers, err := mdns.Browse(ctx, browse)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(peers) == 0 {
				fmt.Fprintln(out, "no lifxd instances found")
				return nil
			}
			for _, p := range peers {
				fmt.Fprintf(out, "%-20s %s\t%s\n", p.Instance, p.URL(), p.Meta["version"])
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", mdns.DefaultBrowseTimeout, "How long to browse")
	cmd.Flags().StringVar(&browse.Service, "service", mdns.DefaultService, "DNS-SD service type")
	cmd.Flags().StringVar(&browse.Domain, "domain", mdns.DefaultDomain, "mDNS domain")
	return cmd
}

func newTokenCmd(configPath *string) *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a signed API token",
		Long: `Issue an HS256 token signed with the configured secret key. The API
accepts it anywhere the secret itself is accepted, and it can expire.`,
		Example: `  SECRET_KEY=... lifxd token --subject kitchen-panel --ttl 720h`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			token, err := api.IssueToken(cfg.Security.SecretKey, subject, ttl, time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "lifxd-cli", "Token subject (sub claim)")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime; 0 for no expiry")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "lifxd %s\ncommit: %s\nbuilt:  %s\n", version, commit, date)
		},
	}
}

func loadConfig(flag string) (*config.Config, error) {
	cfg, err := config.Load(getConfigPath(flag))
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}
