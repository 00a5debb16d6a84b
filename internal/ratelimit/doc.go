// Package ratelimit implements per-client sliding-window limits.
//
// Two windows are tracked independently for every client address: failed
// authentication attempts and configuration-mutating calls. A check prunes
// timestamps that have left the window, denies the event if the remaining
// count has reached the limit, and otherwise records it:
//
//	d := limiter.Check(ratelimit.KindAuth, clientIP)
//	if !d.Allowed {
//	    return d.Err(ratelimit.KindAuth) // *LimitError carries RetryAfter
//	}
//
// Memory is bounded by Sweep, which Run calls periodically.
package ratelimit
