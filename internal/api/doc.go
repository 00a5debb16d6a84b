// # Routes
//
// All routes live under /v1. Everything except /v1/health requires
// "Authorization: Bearer <token>", where the token is the configured secret
// or an HS256 JWT signed with it (see IssueToken).
//
//	GET  /v1/lights/{selector}         list matching lights
//	PUT  /v1/lights/{selector}/state   apply one state (JSON or form body)
//	PUT  /v1/lights/states             apply a list of states with defaults
//	PUT  /v1/lights/{selector}/label   rename (configuration-change limited)
//	POST /v1/discover                  run discovery now
//	GET  /v1/discover/metrics          discovery counters
//	GET  /v1/system/metrics            runtime and gateway statistics
//	GET  /v1/events                    WebSocket event stream
//
// # Errors
//
// Failures use the {status, code, message} envelope. Invalid input is 400
// validation_error and nothing is sent to any device. Rate limits are 429
// with Retry-After. Per-device failures of a state request are not HTTP
// errors; they are reported in the results list.
package api
