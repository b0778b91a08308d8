// Package hub multiplexes client WebSocket connections into per-group chat
// rooms and call-signaling rooms.
//
// The registry tracks connections and enforces one connection per user per
// group. The room manager owns the per-group chat and call rooms. The chat
// relay orders and persists messages, the call broker runs the two-party
// signaling state machine, and the gateway dispatches inbound frames to
// them. Client carries the per-connection read and write pumps.
package hub
