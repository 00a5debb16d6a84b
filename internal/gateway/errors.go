package gateway

import "errors"

// Domain errors for the gateway package.
var (
	// ErrDeviceUnreachable is returned when a device does not acknowledge a
	// command within the ack timeout.
	ErrDeviceUnreachable = errors.New("gateway: device did not acknowledge")

	// ErrUnknownDevice is returned when a command targets an id that is not
	// in the device map.
	ErrUnknownDevice = errors.New("gateway: unknown device")

	// ErrClosed is returned by operations on a closed Manager.
	ErrClosed = errors.New("gateway: closed")
)
