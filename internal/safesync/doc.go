// Package safesync guards shared mutable state so that a panic inside one
// critical section never wedges or fails unrelated callers.
//
// Every shared structure in the gateway (the device map, the rate-limiter
// table, discovery metrics) lives inside a Guard. A Monitor shared between
// guards counts recovery events for the metrics endpoint.
//
//	mon := safesync.NewMonitor(log)
//	devices := safesync.NewGuard("devices", map[ID]*Record{}, mon)
//
//	err := devices.Do(func(m *map[ID]*Record) {
//	    (*m)[id] = rec
//	})
//
// TryDo is the non-blocking variant for best-effort reads that must not
// stall request handling.
package safesync
