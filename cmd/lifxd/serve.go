package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/ktheindifferent/lifx-api-server/internal/api"
	"github.com/ktheindifferent/lifx-api-server/internal/gateway"
	"github.com/ktheindifferent/lifx-api-server/internal/infrastructure/config"
	"github.com/ktheindifferent/lifx-api-server/internal/infrastructure/influxdb"
	"github.com/ktheindifferent/lifx-api-server/internal/infrastructure/logging"
	"github.com/ktheindifferent/lifx-api-server/internal/infrastructure/mdns"
	"github.com/ktheindifferent/lifx-api-server/internal/infrastructure/mqtt"
	"github.com/ktheindifferent/lifx-api-server/internal/ratelimit"
	"github.com/ktheindifferent/lifx-api-server/internal/safesync"
	"github.com/ktheindifferent/lifx-api-server/internal/states"
)

// configEnv names the environment variable consulted when --config is not
// given. With neither, only defaults and environment overrides apply.
const configEnv = "LIFXD_CONFIG"

func getConfigPath(flag string) string {
	if flag != "" {
		return flag
	}
	return os.Getenv(configEnv)
}

// run is the daemon, separated from the command for testability. It returns
// nil on a clean shutdown once ctx is cancelled.
func run(ctx context.Context, configPath string) error {
	log := logging.Default()
	log.Info("starting lifxd",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded", "path", configPath, "level", cfg.Logging.Level)

	monitor := safesync.NewMonitor(log.With("component", "safesync"))
	limiter := ratelimit.New(rateRules(cfg.Security.RateLimit), monitor)
	if cfg.Security.RateLimit.SweepInterval > 0 {
		go limiter.Run(ctx, cfg.Security.RateLimit.SweepInterval)
	}

	gw, err := newGateway(cfg, limiter, monitor, log)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("stopping gateway")
		if closeErr := gw.Close(); closeErr != nil {
			log.Error("error closing gateway", "error", closeErr)
		}
	}()

	applier := states.NewApplier(gw, states.Policy{
		MaxAttempts: cfg.States.MaxAttempts,
		BaseBackoff: cfg.States.BaseBackoff,
		MaxBackoff:  cfg.States.MaxBackoff,
	}, log.With("component", "states"))

	hub := api.NewHub(cfg.WebSocket, log.With("component", "websocket"))
	go hub.Run(ctx)
	gw.Subscribe(hub)

	// Connect to MQTT broker (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = startMQTT(ctx, cfg.MQTT, gw, applier, log)
		if err != nil {
			return err
		}
		defer stopMQTT(mqttClient, log)
	} else {
		log.Info("MQTT disabled")
	}

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Warn("InfluxDB write error", "error", err)
		})
		gw.Subscribe(influxClient)
		go recordStats(ctx, gw, influxClient, flushInterval(cfg.InfluxDB))
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Observers are in place, so the first discovery run reaches them. The
	// gateway runs before the API serves its first request.
	gw.Start(ctx)

	srv, err := api.New(api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Security: cfg.Security,
		Logger:   log.With("component", "api"),
		Gateway:  gw,
		Applier:  applier,
		Limiter:  limiter,
		Hub:      hub,
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := srv.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	// Advertise on mDNS (optional, never fatal)
	if cfg.MDNS.Enabled {
		adv, advErr := mdns.Advertise(cfg.MDNS, cfg.API.Port, mdns.Info{Version: version})
		if advErr != nil {
			log.Warn("mDNS advertisement failed", "error", advErr)
		} else {
			defer adv.Shutdown()
			log.Info("mDNS advertisement registered", "service", adv.String())
		}
	}

	if err := healthCheck(ctx, srv, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	return nil
}

func rateRules(rl config.RateLimitConfig) map[ratelimit.Kind]ratelimit.Rule {
	return map[ratelimit.Kind]ratelimit.Rule{
		ratelimit.KindAuth:   {Limit: rl.AuthFailures, Window: rl.AuthWindow},
		ratelimit.KindConfig: {Limit: rl.ConfigChanges, Window: rl.ConfigWindow},
	}
}

func newGateway(cfg *config.Config, limiter *ratelimit.Limiter, monitor *safesync.Monitor, log *logging.Logger) (*gateway.Manager, error) {
	opts, err := gateway.OptionsFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("gateway options: %w", err)
	}
	opts.Limiter = limiter
	opts.Monitor = monitor
	opts.Logger = log.With("component", "gateway")

	gw, err := gateway.New(opts)
	if err != nil {
		return nil, fmt.Errorf("opening gateway socket: %w", err)
	}
	return gw, nil
}

// startMQTT connects, wires the state mirror and subscribes to commands.
// The mirror stops with ctx.
func startMQTT(ctx context.Context, cfg config.MQTTConfig, gw *gateway.Manager, applier *states.Applier, log *logging.Logger) (*mqtt.Client, error) {
	client, err := mqtt.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	mqttLog := log.With("component", "mqtt")
	client.SetLogger(mqttLog)
	client.SetOnConnect(func() {
		mqttLog.Info("MQTT connected")
	})
	client.SetOnDisconnect(func(err error) {
		mqttLog.Warn("MQTT disconnected", "error", err)
	})

	mirror := mqtt.NewMirror(client, client.Topics(), applier, mqttLog)
	gw.Subscribe(mirror)
	go mirror.Run(ctx)

	if err := client.Subscribe(client.Topics().AllSet(), byte(cfg.QoS), mirror.HandleCommand); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("subscribing to MQTT commands: %w", err)
	}

	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.Broker.Host, cfg.Broker.Port),
		"client_id", cfg.Broker.ClientID,
		"commands", client.Topics().AllSet(),
	)
	return client, nil
}

// stopMQTT stops taking commands before disconnecting, so nothing reaches
// the applier while the rest of the process shuts down.
func stopMQTT(client *mqtt.Client, log *logging.Logger) {
	log.Info("disconnecting from MQTT")
	if err := client.Unsubscribe(client.Topics().AllSet()); err != nil {
		log.Warn("error unsubscribing from MQTT commands", "error", err)
	}
	if err := client.Close(); err != nil {
		log.Error("error closing MQTT", "error", err)
	}
}

func flushInterval(cfg config.InfluxDBConfig) time.Duration {
	if cfg.FlushInterval <= 0 {
		return 10 * time.Second
	}
	return time.Duration(cfg.FlushInterval) * time.Second
}

// recordStats samples the gateway counters into InfluxDB until ctx ends.
func recordStats(ctx context.Context, gw *gateway.Manager, client *influxdb.Client, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			client.WriteGatewayStats(gw.Stats())
		}
	}
}

// healthCheck verifies every started component. MQTT and InfluxDB may be
// nil when disabled.
func healthCheck(ctx context.Context, srv *api.Server, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := srv.HealthCheck(ctx); err != nil {
		return fmt.Errorf("api: %w", err)
	}
	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}
