package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, device.ErrInvalidSelector) {
//	    // reject the request with 400
//	}
var (
	// ErrInvalidID is returned when a device identifier is not 12 hex characters.
	ErrInvalidID = errors.New("device: invalid id")

	// ErrInvalidSelector is returned when selector text does not match the
	// selector grammar.
	ErrInvalidSelector = errors.New("device: invalid selector")

	// ErrNoAddress is returned when a command is issued to a device whose
	// network address is not yet known.
	ErrNoAddress = errors.New("device: address unknown")
)
