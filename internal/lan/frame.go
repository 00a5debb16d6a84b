package lan

import (
	"encoding/binary"
	"fmt"
)

// Protocol constants.
const (
	// Port is the fixed UDP port devices listen on.
	Port = 56700

	// HeaderSize is the length of the frame, frame-address and protocol
	// headers combined.
	HeaderSize = 36

	// MaxFrameSize bounds accepted datagrams. The largest message modelled
	// here is well below it.
	MaxFrameSize = 1024

	protocolNumber = 1024

	addressableBit = 1 << 12
	taggedBit      = 1 << 13
	protocolMask   = 0x0FFF

	flagResRequired = 1 << 0
	flagAckRequired = 1 << 1
)

// Target is a 6-byte device address. The zero Target addresses every device.
type Target [6]byte

// IsZero reports whether t is the broadcast target.
func (t Target) IsZero() bool {
	return t == Target{}
}

// String returns the lowercase hex form.
func (t Target) String() string {
	return fmt.Sprintf("%x", t[:])
}

// Header is the decoded 36-byte frame header.
//
// Layout (little-endian):
//
//	0-1   size
//	2-3   protocol(12) | addressable(1) | tagged(1) | origin(2)
//	4-7   source
//	8-15  target (6 bytes + 2 zero)
//	16-21 reserved
//	22    flags: res_required(bit 0) | ack_required(bit 1)
//	23    sequence
//	24-31 reserved
//	32-33 message type
//	34-35 reserved
type Header struct {
	Size        uint16
	Tagged      bool
	Source      uint32
	Target      Target
	AckRequired bool
	ResRequired bool
	Sequence    uint8
	Type        MessageType
}

// Frame is a decoded datagram: header plus raw payload.
type Frame struct {
	Header
	Payload []byte
}

// Known reports whether the frame's message type is modelled by this package.
func (f Frame) Known() bool {
	_, ok := payloadSizes[f.Type]
	return ok
}

// Message decodes the payload into its typed message.
//
// Returns:
//   - Message: one of the concrete message types in this package
//   - error: ErrUnknownMessage for unmodelled types, ErrTruncated if the
//     payload is shorter than the type requires
func (f Frame) Message() (Message, error) {
	size, ok := payloadSizes[f.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownMessage, f.Type)
	}
	if len(f.Payload) < size {
		return nil, fmt.Errorf("%w: %s payload is %d bytes, need %d", ErrTruncated, f.Type, len(f.Payload), size)
	}
	return decodePayload(f.Type, f.Payload)
}

// Encode builds a complete frame for msg.
//
// The header's Size and Type fields are derived from msg and overwrite
// whatever the caller set. Tagged must be set for broadcast discovery
// frames whose target is zero.
//
// Parameters:
//   - h: header fields (source, target, sequence, flags)
//   - msg: the message to carry
//
// Returns:
//   - []byte: the encoded datagram
//   - error: if the payload cannot be encoded
func Encode(h Header, msg Message) ([]byte, error) {
	payload, err := msg.MarshalBinary()
	if err != nil {
		return nil, err
	}

	total := HeaderSize + len(payload)
	if total > MaxFrameSize {
		return nil, fmt.Errorf("%w: frame of %d bytes exceeds %d", ErrMalformedFrame, total, MaxFrameSize)
	}

	buf := make([]byte, total)
	binary.LittleEndian.PutUint16(buf[0:2], uint16(total))

	proto := uint16(protocolNumber | addressableBit)
	if h.Tagged {
		proto |= taggedBit
	}
	binary.LittleEndian.PutUint16(buf[2:4], proto)
	binary.LittleEndian.PutUint32(buf[4:8], h.Source)
	copy(buf[8:14], h.Target[:])

	var flags byte
	if h.ResRequired {
		flags |= flagResRequired
	}
	if h.AckRequired {
		flags |= flagAckRequired
	}
	buf[22] = flags
	buf[23] = h.Sequence

	binary.LittleEndian.PutUint16(buf[32:34], uint16(msg.Type()))
	copy(buf[HeaderSize:], payload)
	return buf, nil
}

// Decode parses a datagram into a Frame. The payload slice is copied so the
// caller may reuse its receive buffer.
//
// Returns ErrTruncated when data is shorter than a header or than its size
// field, and ErrMalformedFrame when the protocol number is wrong.
func Decode(data []byte) (Frame, error) {
	if len(data) < HeaderSize {
		return Frame{}, fmt.Errorf("%w: %d bytes, need at least %d", ErrTruncated, len(data), HeaderSize)
	}

	size := binary.LittleEndian.Uint16(data[0:2])
	if int(size) < HeaderSize {
		return Frame{}, fmt.Errorf("%w: size field %d below header size", ErrMalformedFrame, size)
	}
	if int(size) > len(data) {
		return Frame{}, fmt.Errorf("%w: size field %d exceeds datagram of %d bytes", ErrTruncated, size, len(data))
	}

	proto := binary.LittleEndian.Uint16(data[2:4])
	if proto&protocolMask != protocolNumber {
		return Frame{}, fmt.Errorf("%w: protocol %d", ErrMalformedFrame, proto&protocolMask)
	}

	var f Frame
	f.Size = size
	f.Tagged = proto&taggedBit != 0
	f.Source = binary.LittleEndian.Uint32(data[4:8])
	copy(f.Target[:], data[8:14])
	f.ResRequired = data[22]&flagResRequired != 0
	f.AckRequired = data[22]&flagAckRequired != 0
	f.Sequence = data[23]
	f.Type = MessageType(binary.LittleEndian.Uint16(data[32:34]))

	if n := int(size) - HeaderSize; n > 0 {
		f.Payload = make([]byte, n)
		copy(f.Payload, data[HeaderSize:size])
	}
	return f, nil
}
