// Package states validates and applies light state requests.
//
// A Request carries an ordered list of partial states, each with a
// selector, plus optional defaults merged into every element. The whole
// request is validated before any device is touched. Valid requests are
// applied in input order, one device at a time, with a bounded number of
// retries per device; per-device failures are reported in the Response
// rather than failing the call.
package states
