// Package app assembles the licensehub binaries.
//
// Authority wires the license record store, the verification endpoint, the
// bearer-protected admin API and the dormant license reaper. Monitor wires a
// monitored instance: the local settings store, the license cache and its
// background refresher, the device quota gate, the license gate middleware
// and the websocket status feed.
//
// Both servers share the same middleware chain:
//
//	RequestID → RealIP → RequestTrace → OTel → StructuredLogger → Recoverer
//
// and expose Prometheus metrics on /metrics outside of it. Run blocks until
// its context is cancelled, then shuts the HTTP server down gracefully and
// releases every store.
package app
