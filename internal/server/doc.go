// Package server wires the hub into an HTTP service: configuration, routes,
// the WebSocket upgrade endpoint, and graceful shutdown.
package server
