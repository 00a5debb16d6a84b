// Package gateway owns the UDP side of lifxd.
//
// A Manager holds the socket and the device map. Three kinds of goroutine
// use it concurrently:
//
//   - the receive loop, which decodes replies into device records and
//     completes acknowledgement waiters
//   - the refresh and discovery loops, which re-query stale attributes and
//     broadcast GetService
//   - HTTP handlers, which list devices and apply state
//
// The device map sits behind a safesync.Guard. A panic while it is held is
// recovered by the next caller, which drops half-inserted entries before
// continuing, so one bad packet or handler cannot wedge the gateway.
//
// Commands are sent while the map is held; waiting for acknowledgements
// happens after it is released.
package gateway
