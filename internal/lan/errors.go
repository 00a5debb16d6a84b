package lan

import "errors"

// Codec errors. Receivers treat all of them as per-packet faults: the frame
// is dropped and the receive loop continues.
var (
	// ErrTruncated is returned when a frame or payload is shorter than its
	// declared or required length.
	ErrTruncated = errors.New("lan: truncated frame")

	// ErrMalformedFrame is returned when header fields are inconsistent,
	// for example a wrong protocol number or a size field that disagrees
	// with the datagram length.
	ErrMalformedFrame = errors.New("lan: malformed frame")

	// ErrUnknownMessage is returned by Frame.Message for message types this
	// package does not model.
	ErrUnknownMessage = errors.New("lan: unknown message type")

	// ErrLabelTooLong is returned when a label does not fit the 32-byte field.
	ErrLabelTooLong = errors.New("lan: label exceeds 32 bytes")
)
