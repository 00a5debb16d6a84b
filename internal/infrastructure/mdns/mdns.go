// Package mdns advertises the lifxd HTTP API on the local network and finds
// other lifxd instances.
package mdns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"

	"github.com/ktheindifferent/lifx-api-server/internal/infrastructure/config"
)

const (
	// DefaultService is the DNS-SD service type lifxd registers.
	DefaultService = "_lifx-gateway._tcp"

	// DefaultDomain is the mDNS domain.
	DefaultDomain = "local."

	// DefaultBrowseTimeout bounds Browse when the context has no deadline.
	DefaultBrowseTimeout = 3 * time.Second
)

// ErrDisabled is returned by Advertise when mDNS is turned off in config.
var ErrDisabled = errors.New("mdns: disabled in configuration")

// shutdowner is the part of *zeroconf.Server the advertiser keeps.
type shutdowner interface {
	Shutdown()
}

// registerFunc matches zeroconf.Register.
type registerFunc func(instance, service, domain string, port int, text []string, ifaces []net.Interface) (*zeroconf.Server, error)

// Advertiser keeps the service registered until Shutdown.
type Advertiser struct {
	server   shutdowner
	instance string
	service  string
	port     int

	once sync.Once
}

// Info describes the advertised service, for TXT records.
type Info struct {
	Version string
	// APIPath is the prefix of the REST routes.
	APIPath string
}

// TXT returns the TXT records for info. Keys are fixed so clients can
// filter on them.
func (i Info) TXT() []string {
	path := i.APIPath
	if path == "" {
		path = "/v1"
	}
	txt := []string{"path=" + path, "auth=bearer"}
	if i.Version != "" {
		txt = append(txt, "version="+i.Version)
	}
	return txt
}

// Advertise registers the lifxd service for port. Empty config fields fall
// back to the defaults above.
func Advertise(cfg config.MDNSConfig, port int, info Info) (*Advertiser, error) {
	return advertise(zeroconf.Register, cfg, port, info)
}

func advertise(register registerFunc, cfg config.MDNSConfig, port int, info Info) (*Advertiser, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("mdns: invalid port %d", port)
	}
	instance, service, domain := names(cfg)

	server, err := register(instance, service, domain, port, info.TXT(), nil)
	if err != nil {
		return nil, fmt.Errorf("mdns: registering %s.%s: %w", instance, service, err)
	}
	a := &Advertiser{instance: instance, service: service, port: port}
	// A typed nil must not end up in the interface.
	if server != nil {
		a.server = server
	}
	return a, nil
}

func names(cfg config.MDNSConfig) (instance, service, domain string) {
	instance = cfg.Instance
	if instance == "" {
		instance = "lifxd"
	}
	service = cfg.Service
	if service == "" {
		service = DefaultService
	}
	domain = cfg.Domain
	if domain == "" {
		domain = DefaultDomain
	}
	return instance, service, domain
}

// String returns instance.service:port for logs.
func (a *Advertiser) String() string {
	return fmt.Sprintf("%s.%s:%d", a.instance, a.service, a.port)
}

// Shutdown withdraws the registration. Safe to call more than once.
func (a *Advertiser) Shutdown() {
	if a == nil {
		return
	}
	a.once.Do(func() {
		if a.server != nil {
			a.server.Shutdown()
		}
	})
}

// Peer is a lifxd instance found by Browse.
type Peer struct {
	Instance string            `json:"instance"`
	Host     string            `json:"host"`
	Address  string            `json:"address"`
	Port     int               `json:"port"`
	Meta     map[string]string `json:"meta,omitempty"`
}

// URL returns the base URL of the peer's API.
func (p Peer) URL() string {
	path := p.Meta["path"]
	return "http://" + net.JoinHostPort(p.Address, fmt.Sprint(p.Port)) + path
}

// Browse lists lifxd instances until ctx ends, or for DefaultBrowseTimeout
// when ctx has no deadline. Results are sorted by instance name.
func Browse(ctx context.Context, cfg config.MDNSConfig) ([]Peer, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultBrowseTimeout)
		defer cancel()
	}
	_, service, domain := names(cfg)

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("mdns: creating resolver: %w", err)
	}

	var mu sync.Mutex
	seen := make(map[string]Peer)
	entries := make(chan *zeroconf.ServiceEntry)
	go func() {
		for e := range entries {
			if p, ok := parseEntry(e); ok {
				mu.Lock()
				seen[p.Instance] = p
				mu.Unlock()
			}
		}
	}()

	if err := resolver.Browse(ctx, service, domain, entries); err != nil {
		return nil, fmt.Errorf("mdns: browsing %s: %w", service, err)
	}
	<-ctx.Done()

	mu.Lock()
	defer mu.Unlock()
	return sortedPeers(seen), nil
}

func sortedPeers(seen map[string]Peer) []Peer {
	out := make([]Peer, 0, len(seen))
	for _, p := range seen {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Instance < out[j].Instance })
	return out
}

// parseEntry converts a resolved entry, preferring IPv4. Entries without an
// address or port are skipped.
func parseEntry(e *zeroconf.ServiceEntry) (Peer, bool) {
	if e == nil || e.Port <= 0 {
		return Peer{}, false
	}
	var addr string
	switch {
	case len(e.AddrIPv4) > 0:
		addr = e.AddrIPv4[0].String()
	case len(e.AddrIPv6) > 0:
		addr = e.AddrIPv6[0].String()
	default:
		return Peer{}, false
	}

	meta := make(map[string]string, len(e.Text))
	for _, txt := range e.Text {
		k, v, _ := strings.Cut(txt, "=")
		if k != "" {
			meta[k] = v
		}
	}
	return Peer{
		Instance: e.Instance,
		Host:     e.HostName,
		Address:  addr,
		Port:     e.Port,
		Meta:     meta,
	}, true
}
