package hub

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// CallState enumerates the observable states of a call room. The Ended state
// from the negotiation model is transient: the broker delivers exactly one
// termination notice and resets to CallIdle within the same critical
// section, so callers never observe it.
type CallState int

const (
	CallIdle CallState = iota
	CallOffering
	CallConnected
)

func (s CallState) String() string {
	switch s {
	case CallIdle:
		return "idle"
	case CallOffering:
		return "offering"
	case CallConnected:
		return "connected"
	default:
		return "unknown"
	}
}

type participant struct {
	handle   uuid.UUID
	identity Identity
	sink     Sink
}

// CallRoom runs the two-party call state machine for one group and relays
// offer/answer/ICE payloads verbatim between the caller and the callee. It
// never inspects payload contents. Undefined (state, event) combinations are
// rejected, not silently ignored.
type CallRoom struct {
	groupID string
	log     *slog.Logger

	mu     sync.Mutex
	state  CallState
	caller *participant
	callee *participant
}

func newCallRoom(groupID string, log *slog.Logger) *CallRoom {
	return &CallRoom{groupID: groupID, log: log.With("group", groupID)}
}

// State reports the current state.
func (c *CallRoom) State() CallState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Participants returns a consistent snapshot of the recorded participants.
// It never holds more than two entries.
func (c *CallRoom) Participants() []Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	var ids []Identity
	if c.caller != nil {
		ids = append(ids, c.caller.identity)
	}
	if c.callee != nil {
		ids = append(ids, c.callee.identity)
	}
	return ids
}

// Start opens an offer. The room supports exactly one concurrent call: any
// start while a call is being offered by another user or is connected fails
// with ErrCallRoomBusy. A repeated start by the current caller is a no-op.
func (c *CallRoom) Start(handle uuid.UUID, id Identity, sink Sink) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case CallIdle:
		c.state = CallOffering
		c.caller = &participant{handle: handle, identity: id, sink: sink}
		c.log.Info("call offered", "caller", id.UserID)
		return nil
	case CallOffering:
		if c.caller.identity.UserID == id.UserID {
			return nil
		}
		return ErrCallRoomBusy
	default:
		return ErrCallRoomBusy
	}
}

// Join answers an open offer, moving the room to CallConnected. A join by
// the caller is idempotent re-entry. A third participant joining a connected
// room is rejected with ErrCallRoomBusy; joining with no open offer is
// rejected with ErrInvalidCallState.
func (c *CallRoom) Join(handle uuid.UUID, id Identity, sink Sink) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case CallOffering:
		if c.caller.identity.UserID == id.UserID {
			return nil
		}
		c.state = CallConnected
		c.callee = &participant{handle: handle, identity: id, sink: sink}
		c.log.Info("call connected", "caller", c.caller.identity.UserID, "callee", id.UserID)
		return nil
	case CallConnected:
		if c.isParticipantLocked(handle) {
			return nil
		}
		return ErrCallRoomBusy
	default:
		return ErrInvalidCallState
	}
}

// Relay forwards a signaling payload from one connected participant to the
// other. Payloads sent outside a connected call, or by a non-participant,
// fail with ErrParticipantGone and are dropped. A peer whose outbound queue
// overflows is disconnected, same policy as the chat relay.
func (c *CallRoom) Relay(handle uuid.UUID, payload json.RawMessage) error {
	c.mu.Lock()
	if c.state != CallConnected {
		c.mu.Unlock()
		return ErrParticipantGone
	}
	var from, to *participant
	switch handle {
	case c.caller.handle:
		from, to = c.caller, c.callee
	case c.callee.handle:
		from, to = c.callee, c.caller
	default:
		c.mu.Unlock()
		return ErrParticipantGone
	}

	ok := to.sink.Enqueue(Frame{
		Kind:    KindCallSignal,
		Sender:  from.identity.UserID,
		Payload: payload,
	})
	var stalled Sink
	if !ok {
		// Ending with the stalled peer as the leaver routes the single
		// termination notice to the sender, whose queue still has room.
		stalled = to.sink
		c.endLocked(to.handle, "peer connection stalled")
	}
	c.mu.Unlock()

	if stalled != nil {
		c.log.Warn("dropping stalled call participant")
		stalled.Kick(CloseNormal, "send buffer full")
		return ErrParticipantGone
	}
	return nil
}

// Leave withdraws an offer or hangs up a connected call. Leaving a connected
// call notifies the remaining participant exactly once and returns the room
// to CallIdle so a new call can start immediately. A leave from a
// non-participant is rejected with ErrInvalidCallState.
func (c *CallRoom) Leave(handle uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case CallOffering:
		if c.caller.handle != handle {
			return ErrInvalidCallState
		}
		c.log.Info("call offer withdrawn", "caller", c.caller.identity.UserID)
		c.resetLocked()
		return nil
	case CallConnected:
		if !c.isParticipantLocked(handle) {
			return ErrInvalidCallState
		}
		c.endLocked(handle, "peer left the call")
		return nil
	default:
		return ErrInvalidCallState
	}
}

// Drop is the disconnect path. Unlike Leave it is a no-op for
// non-participants, because a disconnect must never surface call errors.
func (c *CallRoom) Drop(handle uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case CallOffering:
		if c.caller.handle == handle {
			c.resetLocked()
		}
	case CallConnected:
		if c.isParticipantLocked(handle) {
			c.endLocked(handle, "peer disconnected")
		}
	}
}

// ForceEnd releases any in-progress call state when the room is destroyed.
func (c *CallRoom) ForceEnd(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == CallIdle {
		return
	}
	c.endLocked(uuid.Nil, reason)
}

func (c *CallRoom) isParticipantLocked(handle uuid.UUID) bool {
	return (c.caller != nil && c.caller.handle == handle) ||
		(c.callee != nil && c.callee.handle == handle)
}

// endLocked delivers the single termination notice to every recorded
// participant other than leaver, then clears the slots. The notice is queued
// before the reset so the remaining peer receives it exactly once.
func (c *CallRoom) endLocked(leaver uuid.UUID, reason string) {
	frame := callEndedFrame(reason)
	for _, p := range []*participant{c.caller, c.callee} {
		if p == nil || p.handle == leaver {
			continue
		}
		p.sink.Enqueue(frame)
	}
	c.log.Info("call ended", "reason", reason)
	c.resetLocked()
}

func (c *CallRoom) resetLocked() {
	c.state = CallIdle
	c.caller = nil
	c.callee = nil
}
