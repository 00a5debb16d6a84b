package lan

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/ktheindifferent/lifx-api-server/internal/color"
)

// MessageType identifies a frame's payload.
type MessageType uint16

// Message types used by the gateway.
const (
	MsgGetService         MessageType = 2
	MsgStateService       MessageType = 3
	MsgGetHostFirmware    MessageType = 14
	MsgStateHostFirmware  MessageType = 15
	MsgGetPower           MessageType = 20
	MsgSetPower           MessageType = 21
	MsgStatePower         MessageType = 22
	MsgGetLabel           MessageType = 23
	MsgSetLabel           MessageType = 24
	MsgStateLabel         MessageType = 25
	MsgGetVersion         MessageType = 32
	MsgStateVersion       MessageType = 33
	MsgAcknowledgement    MessageType = 45
	MsgGetLocation        MessageType = 48
	MsgStateLocation      MessageType = 50
	MsgGetGroup           MessageType = 51
	MsgStateGroup         MessageType = 53
	MsgLightGet           MessageType = 101
	MsgLightSetColor      MessageType = 102
	MsgLightState         MessageType = 107
	MsgLightSetPower      MessageType = 117
	MsgLightStatePower    MessageType = 118
	MsgLightGetInfrared   MessageType = 120
	MsgLightStateInfrared MessageType = 121
	MsgLightSetInfrared   MessageType = 122
)

var messageNames = map[MessageType]string{
	MsgGetService:         "GetService",
	MsgStateService:       "StateService",
	MsgGetHostFirmware:    "GetHostFirmware",
	MsgStateHostFirmware:  "StateHostFirmware",
	MsgGetPower:           "GetPower",
	MsgSetPower:           "SetPower",
	MsgStatePower:         "StatePower",
	MsgGetLabel:           "GetLabel",
	MsgSetLabel:           "SetLabel",
	MsgStateLabel:         "StateLabel",
	MsgGetVersion:         "GetVersion",
	MsgStateVersion:       "StateVersion",
	MsgAcknowledgement:    "Acknowledgement",
	MsgGetLocation:        "GetLocation",
	MsgStateLocation:      "StateLocation",
	MsgGetGroup:           "GetGroup",
	MsgStateGroup:         "StateGroup",
	MsgLightGet:           "LightGet",
	MsgLightSetColor:      "LightSetColor",
	MsgLightState:         "LightState",
	MsgLightSetPower:      "LightSetPower",
	MsgLightStatePower:    "LightStatePower",
	MsgLightGetInfrared:   "LightGetInfrared",
	MsgLightStateInfrared: "LightStateInfrared",
	MsgLightSetInfrared:   "LightSetInfrared",
}

// String returns the protocol name of the message type.
func (t MessageType) String() string {
	if n, ok := messageNames[t]; ok {
		return n
	}
	return fmt.Sprintf("MessageType(%d)", uint16(t))
}

// payloadSizes lists the minimum payload length of every modelled type.
var payloadSizes = map[MessageType]int{
	MsgGetService:         0,
	MsgStateService:       5,
	MsgGetHostFirmware:    0,
	MsgStateHostFirmware:  20,
	MsgGetPower:           0,
	MsgSetPower:           2,
	MsgStatePower:         2,
	MsgGetLabel:           0,
	MsgSetLabel:           labelSize,
	MsgStateLabel:         labelSize,
	MsgGetVersion:         0,
	MsgStateVersion:       8,
	MsgAcknowledgement:    0,
	MsgGetLocation:        0,
	MsgStateLocation:      collectionSize,
	MsgGetGroup:           0,
	MsgStateGroup:         collectionSize,
	MsgLightGet:           0,
	MsgLightSetColor:      13,
	MsgLightState:         52,
	MsgLightSetPower:      6,
	MsgLightStatePower:    2,
	MsgLightGetInfrared:   0,
	MsgLightStateInfrared: 2,
	MsgLightSetInfrared:   2,
}

const (
	labelSize      = 32
	collectionSize = 16 + labelSize + 8

	// ServiceUDP is the only service value devices advertise in StateService.
	ServiceUDP uint8 = 1
)

// Message is a typed payload that can be carried in a Frame.
type Message interface {
	Type() MessageType
	MarshalBinary() ([]byte, error)
}

// Query is an empty-payload request such as GetLabel or LightGet.
type Query MessageType

// Type implements Message.
func (q Query) Type() MessageType { return MessageType(q) }

// MarshalBinary implements Message.
func (q Query) MarshalBinary() ([]byte, error) { return nil, nil }

// Acknowledgement confirms receipt of a frame sent with AckRequired.
type Acknowledgement struct{}

func (Acknowledgement) Type() MessageType              { return MsgAcknowledgement }
func (Acknowledgement) MarshalBinary() ([]byte, error) { return nil, nil }

// StateService is a device's reply to GetService.
type StateService struct {
	Service uint8
	Port    uint32
}

func (StateService) Type() MessageType { return MsgStateService }

func (m StateService) MarshalBinary() ([]byte, error) {
	b := make([]byte, 5)
	b[0] = m.Service
	binary.LittleEndian.PutUint32(b[1:5], m.Port)
	return b, nil
}

// StateHostFirmware reports the firmware build and version.
type StateHostFirmware struct {
	Build        uint64
	VersionMinor uint16
	VersionMajor uint16
}

func (StateHostFirmware) Type() MessageType { return MsgStateHostFirmware }

func (m StateHostFirmware) MarshalBinary() ([]byte, error) {
	b := make([]byte, 20)
	binary.LittleEndian.PutUint64(b[0:8], m.Build)
	binary.LittleEndian.PutUint16(b[16:18], m.VersionMinor)
	binary.LittleEndian.PutUint16(b[18:20], m.VersionMajor)
	return b, nil
}

// SetPower sets device power without a transition. 0 is off, 65535 is on.
type SetPower struct {
	Level uint16
}

func (SetPower) Type() MessageType { return MsgSetPower }

func (m SetPower) MarshalBinary() ([]byte, error) { return u16(m.Level), nil }

// StatePower reports device power.
type StatePower struct {
	Level uint16
}

func (StatePower) Type() MessageType { return MsgStatePower }

func (m StatePower) MarshalBinary() ([]byte, error) { return u16(m.Level), nil }

// SetLabel renames a device.
type SetLabel struct {
	Label string
}

func (SetLabel) Type() MessageType { return MsgSetLabel }

func (m SetLabel) MarshalBinary() ([]byte, error) {
	b := make([]byte, labelSize)
	if err := putLabel(b, m.Label); err != nil {
		return nil, err
	}
	return b, nil
}

// StateLabel reports a device's label.
type StateLabel struct {
	Label string
}

func (StateLabel) Type() MessageType { return MsgStateLabel }

func (m StateLabel) MarshalBinary() ([]byte, error) {
	b := make([]byte, labelSize)
	if err := putLabel(b, m.Label); err != nil {
		return nil, err
	}
	return b, nil
}

// StateVersion reports the vendor and product identifiers.
type StateVersion struct {
	Vendor  uint32
	Product uint32
	Version uint32
}

func (StateVersion) Type() MessageType { return MsgStateVersion }

func (m StateVersion) MarshalBinary() ([]byte, error) {
	b := make([]byte, 12)
	binary.LittleEndian.PutUint32(b[0:4], m.Vendor)
	binary.LittleEndian.PutUint32(b[4:8], m.Product)
	binary.LittleEndian.PutUint32(b[8:12], m.Version)
	return b, nil
}

// Collection is the shared payload of StateGroup and StateLocation.
type Collection struct {
	ID        [16]byte
	Label     string
	UpdatedAt uint64
}

func (c Collection) marshal() ([]byte, error) {
	b := make([]byte, collectionSize)
	copy(b[0:16], c.ID[:])
	if err := putLabel(b[16:16+labelSize], c.Label); err != nil {
		return nil, err
	}
	binary.LittleEndian.PutUint64(b[16+labelSize:], c.UpdatedAt)
	return b, nil
}

func decodeCollection(p []byte) Collection {
	var c Collection
	copy(c.ID[:], p[0:16])
	c.Label = getLabel(p[16 : 16+labelSize])
	c.UpdatedAt = binary.LittleEndian.Uint64(p[16+labelSize : collectionSize])
	return c
}

// StateGroup reports the group a device belongs to.
type StateGroup struct {
	Collection
}

func (StateGroup) Type() MessageType                { return MsgStateGroup }
func (m StateGroup) MarshalBinary() ([]byte, error) { return m.marshal() }

// StateLocation reports the location a device belongs to.
type StateLocation struct {
	Collection
}

func (StateLocation) Type() MessageType                { return MsgStateLocation }
func (m StateLocation) MarshalBinary() ([]byte, error) { return m.marshal() }

// LightSetColor changes colour over Duration milliseconds.
type LightSetColor struct {
	Color    color.HSBK
	Duration uint32
}

func (LightSetColor) Type() MessageType { return MsgLightSetColor }

func (m LightSetColor) MarshalBinary() ([]byte, error) {
	b := make([]byte, 13)
	putHSBK(b[1:9], m.Color)
	binary.LittleEndian.PutUint32(b[9:13], m.Duration)
	return b, nil
}

// LightState is the reply to MsgLightGet.
type LightState struct {
	Color color.HSBK
	Power uint16
	Label string
}

func (LightState) Type() MessageType { return MsgLightState }

func (m LightState) MarshalBinary() ([]byte, error) {
	b := make([]byte, 52)
	putHSBK(b[0:8], m.Color)
	binary.LittleEndian.PutUint16(b[10:12], m.Power)
	if err := putLabel(b[12:12+labelSize], m.Label); err != nil {
		return nil, err
	}
	return b, nil
}

// LightSetPower sets power with a transition of Duration milliseconds.
type LightSetPower struct {
	Level    uint16
	Duration uint32
}

func (LightSetPower) Type() MessageType { return MsgLightSetPower }

func (m LightSetPower) MarshalBinary() ([]byte, error) {
	b := make([]byte, 6)
	binary.LittleEndian.PutUint16(b[0:2], m.Level)
	binary.LittleEndian.PutUint32(b[2:6], m.Duration)
	return b, nil
}

// LightStatePower reports light power.
type LightStatePower struct {
	Level uint16
}

func (LightStatePower) Type() MessageType { return MsgLightStatePower }

func (m LightStatePower) MarshalBinary() ([]byte, error) { return u16(m.Level), nil }

// LightStateInfrared reports infrared channel brightness.
type LightStateInfrared struct {
	Brightness uint16
}

func (LightStateInfrared) Type() MessageType { return MsgLightStateInfrared }

func (m LightStateInfrared) MarshalBinary() ([]byte, error) { return u16(m.Brightness), nil }

// LightSetInfrared sets infrared channel brightness.
type LightSetInfrared struct {
	Brightness uint16
}

func (LightSetInfrared) Type() MessageType { return MsgLightSetInfrared }

func (m LightSetInfrared) MarshalBinary() ([]byte, error) { return u16(m.Brightness), nil }

func decodePayload(t MessageType, p []byte) (Message, error) {
	le := binary.LittleEndian
	switch t {
	case MsgStateService:
		return StateService{Service: p[0], Port: le.Uint32(p[1:5])}, nil
	case MsgStateHostFirmware:
		return StateHostFirmware{
			Build:        le.Uint64(p[0:8]),
			VersionMinor: le.Uint16(p[16:18]),
			VersionMajor: le.Uint16(p[18:20]),
		}, nil
	case MsgSetPower:
		return SetPower{Level: le.Uint16(p)}, nil
	case MsgStatePower:
		return StatePower{Level: le.Uint16(p)}, nil
	case MsgSetLabel:
		return SetLabel{Label: getLabel(p[:labelSize])}, nil
	case MsgStateLabel:
		return StateLabel{Label: getLabel(p[:labelSize])}, nil
	case MsgStateVersion:
		v := StateVersion{Vendor: le.Uint32(p[0:4]), Product: le.Uint32(p[4:8])}
		if len(p) >= 12 {
			v.Version = le.Uint32(p[8:12])
		}
		return v, nil
	case MsgAcknowledgement:
		return Acknowledgement{}, nil
	case MsgStateLocation:
		return StateLocation{decodeCollection(p)}, nil
	case MsgStateGroup:
		return StateGroup{decodeCollection(p)}, nil
	case MsgLightSetColor:
		return LightSetColor{Color: getHSBK(p[1:9]), Duration: le.Uint32(p[9:13])}, nil
	case MsgLightState:
		return LightState{
			Color: getHSBK(p[0:8]),
			Power: le.Uint16(p[10:12]),
			Label: getLabel(p[12 : 12+labelSize]),
		}, nil
	case MsgLightSetPower:
		return LightSetPower{Level: le.Uint16(p[0:2]), Duration: le.Uint32(p[2:6])}, nil
	case MsgLightStatePower:
		return LightStatePower{Level: le.Uint16(p)}, nil
	case MsgLightStateInfrared:
		return LightStateInfrared{Brightness: le.Uint16(p)}, nil
	case MsgLightSetInfrared:
		return LightSetInfrared{Brightness: le.Uint16(p)}, nil
	case MsgGetService, MsgGetHostFirmware, MsgGetPower, MsgGetLabel, MsgGetVersion,
		MsgGetLocation, MsgGetGroup, MsgLightGet, MsgLightGetInfrared:
		return Query(t), nil
	}
	return nil, fmt.Errorf("%w: %d", ErrUnknownMessage, t)
}

func u16(v uint16) []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, v)
	return b
}

func putHSBK(b []byte, c color.HSBK) {
	binary.LittleEndian.PutUint16(b[0:2], c.Hue)
	binary.LittleEndian.PutUint16(b[2:4], c.Saturation)
	binary.LittleEndian.PutUint16(b[4:6], c.Brightness)
	binary.LittleEndian.PutUint16(b[6:8], c.Kelvin)
}

func getHSBK(b []byte) color.HSBK {
	return color.HSBK{
		Hue:        binary.LittleEndian.Uint16(b[0:2]),
		Saturation: binary.LittleEndian.Uint16(b[2:4]),
		Brightness: binary.LittleEndian.Uint16(b[4:6]),
		Kelvin:     binary.LittleEndian.Uint16(b[6:8]),
	}
}

func putLabel(b []byte, s string) error {
	if len(s) > labelSize {
		return fmt.Errorf("%w: %d bytes", ErrLabelTooLong, len(s))
	}
	copy(b, s)
	return nil
}

func getLabel(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return strings.ToValidUTF8(string(b), "")
}

// ValidateLabel reports whether s fits the 32-byte label field.
func ValidateLabel(s string) error {
	if len(s) > labelSize {
		return fmt.Errorf("%w: %d bytes", ErrLabelTooLong, len(s))
	}
	return nil
}
