package gateway

import (
	"fmt"
	"net"
	"net/netip"
	"sync"
	"sync/atomic"

	"github.com/ktheindifferent/lifx-api-server/internal/device"
	"github.com/ktheindifferent/lifx-api-server/internal/lan"
)

// ackKey correlates an Acknowledgement with the frame that asked for it.
type ackKey struct {
	target lan.Target
	seq    uint8
}

// transport encodes frames onto the shared socket and tracks frames that
// are waiting for an acknowledgement.
//
// Waiters leave pending when acknowledged or when the caller gives up on
// them through release.
type transport struct {
	conn   net.PacketConn
	source uint32
	seq    atomic.Uint32

	mu      sync.Mutex
	pending map[ackKey]chan struct{}
	keys    map[<-chan struct{}]ackKey

	sent   atomic.Uint64
	failed atomic.Uint64
}

func newTransport(conn net.PacketConn, source uint32) *transport {
	return &transport{
		conn:    conn,
		source:  source,
		pending: make(map[ackKey]chan struct{}),
		keys:    make(map[<-chan struct{}]ackKey),
	}
}

func (t *transport) nextSeq() uint8 {
	return uint8(t.seq.Add(1))
}

// Send implements device.Transmitter.
func (t *transport) Send(id device.ID, addr netip.AddrPort, msg lan.Message, ack bool) (<-chan struct{}, error) {
	h := lan.Header{
		Source:      t.source,
		Target:      lan.Target(id),
		AckRequired: ack,
		Sequence:    t.nextSeq(),
	}
	data, err := lan.Encode(h, msg)
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", msg.Type(), err)
	}

	var ch chan struct{}
	key := ackKey{target: h.Target, seq: h.Sequence}
	if ack {
		ch = make(chan struct{})
		t.mu.Lock()
		if old, ok := t.pending[key]; ok {
			// The sequence number wrapped onto a waiter nobody released.
			delete(t.keys, old)
		}
		t.pending[key] = ch
		t.keys[ch] = key
		t.mu.Unlock()
	}

	if err := t.write(data, addr); err != nil {
		if ack {
			t.forget(key, ch)
		}
		return nil, fmt.Errorf("sending %s to %s: %w", msg.Type(), id, err)
	}
	return ch, nil
}

// Broadcast sends a tagged frame with the zero target to dst.
func (t *transport) Broadcast(dst netip.AddrPort, msg lan.Message) error {
	data, err := lan.Encode(lan.Header{Source: t.source, Tagged: true, Sequence: t.nextSeq()}, msg)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", msg.Type(), err)
	}
	if err := t.write(data, dst); err != nil {
		return fmt.Errorf("broadcasting %s to %s: %w", msg.Type(), dst, err)
	}
	return nil
}

func (t *transport) write(data []byte, addr netip.AddrPort) error {
	if _, err := t.conn.WriteTo(data, net.UDPAddrFromAddrPort(addr)); err != nil {
		t.failed.Add(1)
		return err
	}
	t.sent.Add(1)
	return nil
}

// acknowledge completes the waiter for (target, seq). It reports whether a
// waiter existed.
func (t *transport) acknowledge(target lan.Target, seq uint8) bool {
	key := ackKey{target: target, seq: seq}
	t.mu.Lock()
	ch, ok := t.pending[key]
	if ok {
		delete(t.pending, key)
		delete(t.keys, ch)
	}
	t.mu.Unlock()
	if ok {
		close(ch)
	}
	return ok
}

// forget drops a waiter if it is still the one registered for key.
func (t *transport) forget(key ackKey, ch chan struct{}) {
	t.mu.Lock()
	if t.pending[key] == ch {
		delete(t.pending, key)
	}
	delete(t.keys, ch)
	t.mu.Unlock()
}

// release drops the waiters behind acks that are still outstanding. Callers
// use it when they stop waiting before every ack arrived.
func (t *transport) release(acks []<-chan struct{}) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, ch := range acks {
		key, ok := t.keys[ch]
		if !ok {
			continue
		}
		delete(t.keys, ch)
		if cur, ok := t.pending[key]; ok && (<-chan struct{})(cur) == ch {
			delete(t.pending, key)
		}
	}
}

func (t *transport) waiting() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}
