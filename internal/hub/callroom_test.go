package hub

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type caller struct {
	handle uuid.UUID
	id     Identity
	sink   *fakeSink
}

func newCaller(userID string) caller {
	return caller{
		handle: uuid.New(),
		id:     Identity{UserID: userID, DisplayName: userID, GroupID: "g1"},
		sink:   newFakeSink(),
	}
}

func connectedRoom(t *testing.T) (*CallRoom, caller, caller) {
	t.Helper()
	room := newCallRoom("g1", testLogger())
	a, b := newCaller("alice"), newCaller("bob")
	require.NoError(t, room.Start(a.handle, a.id, a.sink))
	require.NoError(t, room.Join(b.handle, b.id, b.sink))
	return room, a, b
}

func TestCallRoom_OfferAndAnswer(t *testing.T) {
	req := require.New(t)
	room := newCallRoom("g1", testLogger())
	a, b := newCaller("alice"), newCaller("bob")

	req.Equal(CallIdle, room.State())

	req.NoError(room.Start(a.handle, a.id, a.sink))
	req.Equal(CallOffering, room.State())
	req.Len(room.Participants(), 1)

	req.NoError(room.Join(b.handle, b.id, b.sink))
	req.Equal(CallConnected, room.State())
	req.Len(room.Participants(), 2)
}

func TestCallRoom_NeverMoreThanTwoParticipants(t *testing.T) {
	req := require.New(t)
	room, _, _ := connectedRoom(t)

	c := newCaller("carol")
	err := room.Join(c.handle, c.id, c.sink)
	req.ErrorIs(err, ErrCallRoomBusy)
	req.Len(room.Participants(), 2)
	req.Equal(CallConnected, room.State())
}

func TestCallRoom_StartWhileBusy(t *testing.T) {
	req := require.New(t)
	room, a, _ := connectedRoom(t)

	c := newCaller("carol")
	req.ErrorIs(room.Start(c.handle, c.id, c.sink), ErrCallRoomBusy)

	// Even a participant cannot start a second call in the same room.
	req.ErrorIs(room.Start(a.handle, a.id, a.sink), ErrCallRoomBusy)
}

func TestCallRoom_StartDuringOffer(t *testing.T) {
	req := require.New(t)
	room := newCallRoom("g1", testLogger())
	a, c := newCaller("alice"), newCaller("carol")

	req.NoError(room.Start(a.handle, a.id, a.sink))

	// Re-start by the caller is idempotent; another user is rejected.
	req.NoError(room.Start(a.handle, a.id, a.sink))
	req.ErrorIs(room.Start(c.handle, c.id, c.sink), ErrCallRoomBusy)
	req.Equal(CallOffering, room.State())
}

func TestCallRoom_JoinByCallerIsIdempotent(t *testing.T) {
	req := require.New(t)
	room := newCallRoom("g1", testLogger())
	a := newCaller("alice")

	req.NoError(room.Start(a.handle, a.id, a.sink))
	req.NoError(room.Join(a.handle, a.id, a.sink))
	req.Equal(CallOffering, room.State())
	req.Len(room.Participants(), 1)
}

func TestCallRoom_JoinWithoutOffer(t *testing.T) {
	room := newCallRoom("g1", testLogger())
	b := newCaller("bob")
	require.ErrorIs(t, room.Join(b.handle, b.id, b.sink), ErrInvalidCallState)
}

func TestCallRoom_RelayForwardsVerbatim(t *testing.T) {
	req := require.New(t)
	room, a, b := connectedRoom(t)

	payload := json.RawMessage(`{"type":"ice","candidate":"candidate:842163049 1 udp"}`)
	req.NoError(room.Relay(a.handle, payload))

	frames := b.sink.framesOfKind(KindCallSignal)
	req.Len(frames, 1)
	req.JSONEq(string(payload), string(frames[0].Payload))
	req.Equal("alice", frames[0].Sender)
	req.Empty(a.sink.framesOfKind(KindCallSignal), "sender must not receive its own signal")

	// And in the other direction.
	req.NoError(room.Relay(b.handle, json.RawMessage(`{"type":"answer"}`)))
	req.Len(a.sink.framesOfKind(KindCallSignal), 1)
}

func TestCallRoom_RelayAfterPeerLeft(t *testing.T) {
	req := require.New(t)
	room, a, b := connectedRoom(t)

	req.NoError(room.Leave(b.handle))
	err := room.Relay(a.handle, json.RawMessage(`{"type":"ice"}`))
	req.ErrorIs(err, ErrParticipantGone)
}

func TestCallRoom_RelayToStalledPeerDropsIt(t *testing.T) {
	req := require.New(t)
	room := newCallRoom("g1", testLogger())
	a := newCaller("alice")
	b := newCaller("bob")
	b.sink = newFullSink()

	req.NoError(room.Start(a.handle, a.id, a.sink))
	req.NoError(room.Join(b.handle, b.id, b.sink))

	err := room.Relay(a.handle, json.RawMessage(`{"type":"ice"}`))
	req.ErrorIs(err, ErrParticipantGone)

	// The overflowed peer is disconnected, the sender keeps the single
	// termination notice, and the room is free for a fresh call.
	req.True(b.sink.wasKicked())
	req.Len(a.sink.framesOfKind(KindCallEnded), 1)
	req.Empty(b.sink.framesOfKind(KindCallEnded))
	req.Equal(CallIdle, room.State())
	req.False(a.sink.wasKicked())
}

func TestCallRoom_RelayFromNonParticipant(t *testing.T) {
	room, _, _ := connectedRoom(t)
	c := newCaller("carol")
	require.ErrorIs(t, room.Relay(c.handle, json.RawMessage(`{}`)), ErrParticipantGone)
}

func TestCallRoom_LeaveNotifiesRemainingExactlyOnce(t *testing.T) {
	req := require.New(t)
	room, a, b := connectedRoom(t)

	req.NoError(room.Leave(b.handle))

	req.Len(a.sink.framesOfKind(KindCallEnded), 1)
	req.Empty(b.sink.framesOfKind(KindCallEnded), "the leaver gets no notice")
	req.Equal(CallIdle, room.State())
	req.Empty(room.Participants())

	// The room accepts a fresh call immediately.
	c := newCaller("carol")
	req.NoError(room.Start(c.handle, c.id, c.sink))
}

func TestCallRoom_WithdrawOffer(t *testing.T) {
	req := require.New(t)
	room := newCallRoom("g1", testLogger())
	a := newCaller("alice")

	req.NoError(room.Start(a.handle, a.id, a.sink))
	req.NoError(room.Leave(a.handle))
	req.Equal(CallIdle, room.State())
	req.Empty(a.sink.framesOfKind(KindCallEnded))
}

func TestCallRoom_LeaveFromNonParticipant(t *testing.T) {
	room, _, _ := connectedRoom(t)
	require.ErrorIs(t, room.Leave(uuid.New()), ErrInvalidCallState)

	idle := newCallRoom("g2", testLogger())
	require.ErrorIs(t, idle.Leave(uuid.New()), ErrInvalidCallState)
}

func TestCallRoom_DropIsSilentForNonParticipants(t *testing.T) {
	req := require.New(t)
	room, a, b := connectedRoom(t)

	room.Drop(uuid.New())
	req.Equal(CallConnected, room.State())

	room.Drop(a.handle)
	req.Equal(CallIdle, room.State())
	req.Len(b.sink.framesOfKind(KindCallEnded), 1)
}

func TestCallRoom_ForceEnd(t *testing.T) {
	req := require.New(t)
	room, a, b := connectedRoom(t)

	room.ForceEnd("room closed")
	req.Equal(CallIdle, room.State())
	req.Len(a.sink.framesOfKind(KindCallEnded), 1)
	req.Len(b.sink.framesOfKind(KindCallEnded), 1)

	room.ForceEnd("room closed")
	req.Len(a.sink.framesOfKind(KindCallEnded), 1, "force end on an idle room does nothing")
}
