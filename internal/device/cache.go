package device

import "time"

// Cell holds one cached device attribute with a time-to-live.
//
// A Cell is valid while it holds a value and now-updated < maxAge. A maxAge
// of zero means the value never expires once present; product metadata uses
// this. Staleness is a signal to query the device, never an error.
//
// Writes made ahead of device confirmation are provisional. A provisional
// value that is not corroborated by a device reply within the confirm
// window reports NeedsRefresh even if it has not reached maxAge, so an
// optimistic write cannot mask a lost command indefinitely.
//
// Cell carries no locking of its own; the owning Record is always accessed
// under the device map guard.
type Cell[T any] struct {
	value       T
	present     bool
	updated     time.Time
	maxAge      time.Duration
	confirm     time.Duration
	provisional bool
}

// NewCell creates an empty cell. An empty cell is stale.
func NewCell[T any](maxAge time.Duration) Cell[T] {
	return Cell[T]{maxAge: maxAge}
}

// WithConfirmWindow returns c with the provisional confirm window set.
// A zero window disables the early refresh of provisional values.
func (c Cell[T]) WithConfirmWindow(d time.Duration) Cell[T] {
	c.confirm = d
	return c
}

// Get returns the current value and whether one is present. A stale value
// is still returned; callers decide whether stale data is acceptable.
func (c *Cell[T]) Get() (T, bool) {
	return c.value, c.present
}

// UpdatedAt returns the time of the last update, or the zero time.
func (c *Cell[T]) UpdatedAt() time.Time {
	return c.updated
}

// IsStale reports whether the cell lacks a value or has outlived maxAge.
func (c *Cell[T]) IsStale(now time.Time) bool {
	if !c.present {
		return true
	}
	if c.maxAge <= 0 {
		return false
	}
	return now.Sub(c.updated) >= c.maxAge
}

// Update stores a value reported by the device.
func (c *Cell[T]) Update(v T, now time.Time) {
	c.value = v
	c.present = true
	c.updated = now
	c.provisional = false
}

// UpdateProvisional stores a value the gateway expects the device to adopt.
func (c *Cell[T]) UpdateProvisional(v T, now time.Time) {
	c.Update(v, now)
	c.provisional = true
}

// Provisional reports whether the current value awaits device confirmation.
func (c *Cell[T]) Provisional() bool {
	return c.provisional
}

// NeedsRefresh reports whether the device should be queried for this
// attribute: the cell is stale, or holds a provisional value older than the
// confirm window.
func (c *Cell[T]) NeedsRefresh(now time.Time) bool {
	if c.IsStale(now) {
		return true
	}
	return c.provisional && c.confirm > 0 && now.Sub(c.updated) >= c.confirm
}

// Invalidate drops the value so the next poll refreshes it.
func (c *Cell[T]) Invalidate() {
	var zero T
	c.value = zero
	c.present = false
	c.provisional = false
}

// discardProvisional invalidates the cell if its value was never confirmed.
func (c *Cell[T]) discardProvisional() bool {
	if !c.provisional {
		return false
	}
	c.Invalidate()
	return true
}
