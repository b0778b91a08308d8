package hub

// Sink is the delivery end of a connection. Room code only ever queues
// frames through it, so rooms never block on a slow socket and tests can
// observe deliveries without a real WebSocket.
type Sink interface {
	// Enqueue hands a frame to the connection's bounded outbound queue.
	// It must not block; it reports false when the queue is full.
	Enqueue(f Frame) bool

	// Kick asks the connection to close with the given close code after
	// flushing what it can. It must be safe to call more than once.
	Kick(code int, reason string)
}
