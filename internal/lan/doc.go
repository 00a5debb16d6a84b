// Package lan encodes and decodes LIFX LAN protocol frames.
//
// Every datagram carries a fixed 36-byte little-endian header followed by a
// type-specific payload. Encode builds a datagram from a Header and a typed
// Message; Decode parses a datagram into a Frame whose Message method yields
// the typed payload.
//
// Decoding is strict about framing (size, protocol number) and lenient about
// content: frames of unknown type decode successfully so callers can skip
// them with Frame.Known, and labels are trimmed at the first NUL and forced
// to valid UTF-8.
//
// Correlating replies to requests by (target, sequence) is the caller's job;
// see the gateway package.
package lan
