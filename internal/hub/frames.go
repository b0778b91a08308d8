package hub

import (
	"encoding/json"
	"time"
)

// Identity is the triple a connection is bound to for its whole lifetime.
// A connection belongs to at most one group at a time.
type Identity struct {
	UserID      string
	DisplayName string
	GroupID     string
}

// Frame kinds exchanged with clients. Inbound kinds are dispatched by the
// gateway; outbound kinds are produced by the relay and the call broker.
const (
	KindChatPost      = "chat.post"
	KindChatDelivered = "chat.delivered"
	KindChatHistory   = "chat.history"
	KindCallStart     = "call.start"
	KindCallJoin      = "call.join"
	KindCallLeave     = "call.leave"
	KindCallSignal    = "call.signal"
	KindCallEnded     = "call.ended"
	KindError         = "error"
)

// Close codes sent before tearing a connection down. Distinct codes let
// clients decide whether a reconnect makes sense.
const (
	CloseNormal            = 1000
	CloseAuthFailure       = 4001
	CloseIdleTimeout       = 4002
	CloseProtocolViolation = 4003
)

// Frame is the single wire envelope for every message crossing the
// WebSocket. Fields are populated per kind; unused fields are omitted.
// Signal payloads are carried opaquely and never inspected by the hub.
type Frame struct {
	Kind      string          `json:"kind" validate:"required"`
	Body      string          `json:"body,omitempty"`
	Seq       uint64          `json:"seq,omitempty"`
	Sender    string          `json:"sender,omitempty"`
	Timestamp time.Time       `json:"timestamp,omitzero"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Reason    string          `json:"reason,omitempty"`
	ErrorKind string          `json:"error_kind,omitempty"`
	Message   string          `json:"message,omitempty"`
}

func deliveredFrame(msg Message) Frame {
	return Frame{
		Kind:      KindChatDelivered,
		Seq:       msg.Seq,
		Sender:    msg.Sender.DisplayName,
		Body:      msg.Body,
		Timestamp: msg.Timestamp,
	}
}

func historyFrame(msg Message) Frame {
	f := deliveredFrame(msg)
	f.Kind = KindChatHistory
	return f
}

func errorFrame(err error) Frame {
	return Frame{
		Kind:      KindError,
		ErrorKind: errorKind(err),
		Message:   err.Error(),
	}
}

func callEndedFrame(reason string) Frame {
	return Frame{Kind: KindCallEnded, Reason: reason}
}

// Message is an immutable chat event. Once broadcast it is only referenced
// for in-memory ordering and for the persistence collaborator.
type Message struct {
	Seq       uint64
	Sender    Identity
	Body      string
	Timestamp time.Time
}
