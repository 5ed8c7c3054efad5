// Package server implements the real-time presence and broadcast gateway.
//
// A Gateway authenticates WebSocket connections with a signed token, records
// each authenticated connection in a Registry, and fans presence snapshots and
// chat messages out to every live connection. The remaining files hold the
// per-connection pumps, configuration, origin checks, rate limiting, and the
// HTTP wiring.
package server
