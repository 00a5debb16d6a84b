package gateway

import (
	"errors"
	"net"
	"net/netip"
	"sync"
	"testing"

	"github.com/ktheindifferent/lifx-api-server/internal/color"
	"github.com/ktheindifferent/lifx-api-server/internal/device"
	"github.com/ktheindifferent/lifx-api-server/internal/lan"
)

// fakeBulb is a LIFX device on a loopback socket. It answers queries from
// its own state and acknowledges commands unless silent is set.
type fakeBulb struct {
	t    *testing.T
	id   device.ID
	conn net.PacketConn

	mu       sync.Mutex
	label    string
	group    string
	location string
	power    uint16
	color    color.HSBK
	product  uint32
	silent   bool
	received []lan.MessageType

	wg sync.WaitGroup
}

func newFakeBulb(t *testing.T, id device.ID, label, group string) *fakeBulb {
	t.Helper()
	conn, err := net.ListenPacket("udp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	b := &fakeBulb{
		t:        t,
		id:       id,
		conn:     conn,
		label:    label,
		group:    group,
		location: "Home",
		power:    device.PowerOn,
		color:    color.HSBK{Hue: 21845, Saturation: 65535, Brightness: 32768, Kelvin: 3500},
		product:  29,
	}
	b.wg.Add(1)
	go b.serve()
	t.Cleanup(func() {
		_ = conn.Close()
		b.wg.Wait()
	})
	return b
}

func (b *fakeBulb) addr() netip.AddrPort {
	ap := b.conn.LocalAddr().(*net.UDPAddr).AddrPort()
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
}

func (b *fakeBulb) setSilent(v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.silent = v
}

func (b *fakeBulb) count(t lan.MessageType) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, r := range b.received {
		if r == t {
			n++
		}
	}
	return n
}

func (b *fakeBulb) state() (uint16, color.HSBK, string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.power, b.color, b.label
}

func (b *fakeBulb) serve() {
	defer b.wg.Done()
	buf := make([]byte, lan.MaxFrameSize)
	for {
		n, from, err := b.conn.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			continue
		}
		f, err := lan.Decode(buf[:n])
		if err != nil {
			continue
		}
		if !f.Target.IsZero() && f.Target != lan.Target(b.id) {
			continue
		}
		for _, reply := range b.handle(f) {
			data, err := lan.Encode(lan.Header{
				Source:   f.Source,
				Target:   lan.Target(b.id),
				Sequence: f.Sequence,
			}, reply)
			if err != nil {
				b.t.Errorf("fake bulb encode %s: %v", reply.Type(), err)
				continue
			}
			_, _ = b.conn.WriteTo(data, from)
		}
	}
}

func (b *fakeBulb) handle(f lan.Frame) []lan.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.received = append(b.received, f.Type)

	var out []lan.Message
	if f.AckRequired && !b.silent {
		out = append(out, lan.Acknowledgement{})
	}

	msg, err := f.Message()
	if err != nil {
		return out
	}
	switch m := msg.(type) {
	case lan.LightSetPower:
		b.power = m.Level
	case lan.LightSetColor:
		b.color = m.Color
	case lan.SetLabel:
		b.label = m.Label
	case lan.Query:
		if b.silent {
			return out
		}
		switch lan.MessageType(m) {
		case lan.MsgGetService:
			out = append(out, lan.StateService{Service: lan.ServiceUDP, Port: uint32(b.addr().Port())})
		case lan.MsgLightGet:
			out = append(out, lan.LightState{Color: b.color, Power: b.power, Label: b.label})
		case lan.MsgGetLabel:
			out = append(out, lan.StateLabel{Label: b.label})
		case lan.MsgGetGroup:
			out = append(out, lan.StateGroup{Collection: lan.Collection{ID: [16]byte{1}, Label: b.group}})
		case lan.MsgGetLocation:
			out = append(out, lan.StateLocation{Collection: lan.Collection{ID: [16]byte{2}, Label: b.location}})
		case lan.MsgGetVersion:
			out = append(out, lan.StateVersion{Vendor: device.VendorLIFX, Product: b.product})
		case lan.MsgGetHostFirmware:
			out = append(out, lan.StateHostFirmware{VersionMajor: 3, VersionMinor: 70})
		case lan.MsgLightGetInfrared:
			out = append(out, lan.LightStateInfrared{Brightness: 0})
		}
	}
	return out
}
