package gateway

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"net"
	"time"

	"github.com/ktheindifferent/lifx-api-server/internal/device"
	"github.com/ktheindifferent/lifx-api-server/internal/discovery"
	"github.com/ktheindifferent/lifx-api-server/internal/infrastructure/config"
	"github.com/ktheindifferent/lifx-api-server/internal/ratelimit"
	"github.com/ktheindifferent/lifx-api-server/internal/safesync"
)

// Defaults applied by New when the corresponding option is zero.
const (
	DefaultAckTimeout      = 500 * time.Millisecond
	DefaultRefreshInterval = time.Second

	// receive loop backoff after consecutive socket errors
	minReadBackoff = 100 * time.Millisecond
	maxReadBackoff = 30 * time.Second
)

// Options configures a Manager.
type Options struct {
	// Bind is the local UDP address. Ignored when Conn is set.
	Bind string

	// Conn replaces the socket New would open. Tests pass a loopback
	// socket here.
	Conn net.PacketConn

	// Source identifies this client in every frame. Zero picks a random
	// non-zero value.
	Source uint32

	AckTimeout      time.Duration
	RefreshInterval time.Duration

	// DiscoveryInterval is the timer-triggered discovery period. Zero
	// disables periodic discovery.
	DiscoveryInterval time.Duration

	Discovery discovery.Options
	Policy    device.CachePolicy

	// Limiter enforces the configuration-change limit on SetLabel. Nil
	// disables the limit.
	Limiter *ratelimit.Limiter

	Monitor *safesync.Monitor
	Logger  Logger
}

// OptionsFromConfig maps the loaded configuration onto Options. Limiter,
// Monitor and Logger are left for the caller to set.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	targets, err := discovery.ParseTargets(cfg.Discovery.Targets)
	if err != nil {
		return Options{}, err
	}

	opts := Options{
		Bind:            cfg.Gateway.Bind,
		Source:          cfg.Gateway.Source,
		AckTimeout:      cfg.Gateway.AckTimeout,
		RefreshInterval: cfg.Gateway.RefreshInterval,
		Discovery: discovery.Options{
			ListenWindow:     cfg.Discovery.ListenWindow,
			Targets:          targets,
			DisableBroadcast: cfg.Discovery.DisableBroadcast,
		},
		Policy: device.CachePolicy{
			Label:         cfg.Cache.Label,
			Power:         cfg.Cache.Power,
			Color:         cfg.Cache.Color,
			Infrared:      cfg.Cache.Infrared,
			Group:         cfg.Cache.Group,
			Location:      cfg.Cache.Location,
			ConfirmWithin: cfg.Cache.ConfirmWithin,
		},
	}
	if cfg.Discovery.AutoEnabled {
		opts.DiscoveryInterval = cfg.GetDiscoveryInterval()
	}
	return opts, nil
}

func (o *Options) applyDefaults() error {
	if o.AckTimeout <= 0 {
		o.AckTimeout = DefaultAckTimeout
	}
	if o.RefreshInterval <= 0 {
		o.RefreshInterval = DefaultRefreshInterval
	}
	if o.Policy == (device.CachePolicy{}) {
		o.Policy = device.DefaultCachePolicy()
	}
	if o.Monitor == nil {
		o.Monitor = safesync.NewMonitor(o.Logger)
	}
	if o.Discovery.Monitor == nil {
		o.Discovery.Monitor = o.Monitor
	}
	if o.Discovery.Logger == nil && o.Logger != nil {
		o.Discovery.Logger = o.Logger
	}
	for o.Source == 0 {
		var b [4]byte
		if _, err := rand.Read(b[:]); err != nil {
			return fmt.Errorf("generating source id: %w", err)
		}
		o.Source = binary.LittleEndian.Uint32(b[:])
	}
	return nil
}
