// Package device models the gateway's cached view of each light.
//
// A Record holds one device's attributes, each wrapped in a Cell with its
// own time-to-live. Replies decoded by the lan package are folded in with
// Record.Apply; commands are issued through the Set* mutators, which send a
// frame via a Transmitter and then record the intended value provisionally
// so reads reflect the write before the device confirms it.
//
// Selectors pick devices out of the gateway's device map:
//
//	sel, err := device.ParseSelector("group:Bedroom")
//	if err != nil {
//	    return err // errors.Is(err, device.ErrInvalidSelector)
//	}
//	matched := sel.Filter(records)
//
// Records are not safe for concurrent use. The gateway package owns every
// Record and only touches them under its device map guard.
package device
