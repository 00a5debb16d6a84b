package discovery

import (
	"fmt"
	"net"
	"net/netip"
	"strconv"

	"github.com/ktheindifferent/lifx-api-server/internal/lan"
)

// ParseTargets converts "host:port" or bare "host" strings into probe
// destinations. A bare host gets the LAN protocol port.
func ParseTargets(raw []string) ([]netip.AddrPort, error) {
	out := make([]netip.AddrPort, 0, len(raw))
	for _, s := range raw {
		if ap, err := netip.ParseAddrPort(s); err == nil {
			out = append(out, ap)
			continue
		}
		if a, err := netip.ParseAddr(s); err == nil {
			out = append(out, netip.AddrPortFrom(a, lan.Port))
			continue
		}
		host, port, err := net.SplitHostPort(s)
		if err != nil {
			return nil, fmt.Errorf("discovery target %q: %w", s, err)
		}
		a, err := netip.ParseAddr(host)
		if err != nil {
			return nil, fmt.Errorf("discovery target %q: %w", s, err)
		}
		p, err := strconv.ParseUint(port, 10, 16)
		if err != nil {
			return nil, fmt.Errorf("discovery target %q: %w", s, err)
		}
		out = append(out, netip.AddrPortFrom(a, uint16(p)))
	}
	return out, nil
}

// BroadcastAddrs returns the IPv4 broadcast address, on the LAN protocol
// port, of every interface that is up, not loopback and broadcast capable.
func BroadcastAddrs() ([]netip.AddrPort, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("listing interfaces: %w", err)
	}

	var out []netip.AddrPort
	seen := make(map[netip.Addr]bool)
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagBroadcast == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipnet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			bcast, ok := broadcastOf(ipnet)
			if !ok || seen[bcast] {
				continue
			}
			seen[bcast] = true
			out = append(out, netip.AddrPortFrom(bcast, lan.Port))
		}
	}
	return out, nil
}

// broadcastOf computes the directed broadcast address of an IPv4 network.
func broadcastOf(n *net.IPNet) (netip.Addr, bool) {
	ip4 := n.IP.To4()
	mask := n.Mask
	if len(mask) == net.IPv6len {
		mask = mask[12:]
	}
	if ip4 == nil || len(mask) != net.IPv4len {
		return netip.Addr{}, false
	}
	var b [4]byte
	for i := range b {
		b[i] = ip4[i] | ^mask[i]
	}
	return netip.AddrFrom4(b), true
}
