// Package server assembles the mediaforge HTTP surface behind one
// multiplexer.
//
// The server builds a consistent middleware chain of request IDs, logging,
// metrics, security headers, rate limiting, and bearer-token auth so handlers
// all share common protections and instrumentation. The provider webhook is
// exempt from the bearer token check because it authenticates with its own
// HMAC signature.
package server
