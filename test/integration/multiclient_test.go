package integration

import (
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/studysprint/hub/internal/hub"
	"github.com/studysprint/hub/test/testhelpers"
)

func TestDuplicateConnectionRejectedOverSocket(t *testing.T) {
	h := testhelpers.NewHarness(t, testhelpers.GroupOf("g1", "u-alice"))

	first := h.Dial(t, "g1", "u-alice", "Alice")

	second, err := h.DialRaw("g1", testhelpers.Token(t, "u-alice", "Alice"))
	require.NoError(t, err)
	defer second.Close()
	testhelpers.ExpectClose(t, second, websocket.ClosePolicyViolation)

	// First connection is unaffected.
	testhelpers.Send(t, first, hub.Frame{Kind: hub.KindChatPost, Body: "still mine"})
	require.Equal(t, "still mine", testhelpers.RecvKind(t, first, hub.KindChatDelivered).Body)
}

func TestAllMembersObserveSameOrder(t *testing.T) {
	req := require.New(t)
	h := testhelpers.NewHarness(t, testhelpers.GroupOf("g1", "u-alice", "u-bob", "u-carol"))

	alice := h.Dial(t, "g1", "u-alice", "Alice")
	bob := h.Dial(t, "g1", "u-bob", "Bob")
	carol := h.Dial(t, "g1", "u-carol", "Carol")

	const posts = 5
	for i := 0; i < posts; i++ {
		testhelpers.Send(t, alice, hub.Frame{Kind: hub.KindChatPost, Body: "from alice"})
		testhelpers.Send(t, bob, hub.Frame{Kind: hub.KindChatPost, Body: "from bob"})
	}

	observe := func(conn *websocket.Conn) []uint64 {
		seqs := make([]uint64, 0, 2*posts)
		for i := 0; i < 2*posts; i++ {
			seqs = append(seqs, testhelpers.RecvKind(t, conn, hub.KindChatDelivered).Seq)
		}
		return seqs
	}

	seen := observe(alice)
	for i, seq := range seen {
		req.Equal(uint64(i+1), seq)
	}
	req.Equal(seen, observe(bob))
	req.Equal(seen, observe(carol))
}

func TestCallLifecycleOverSocket(t *testing.T) {
	req := require.New(t)
	h := testhelpers.NewHarness(t, testhelpers.GroupOf("g1", "u-alice", "u-bob", "u-carol"))

	alice := h.Dial(t, "g1", "u-alice", "Alice")
	bob := h.Dial(t, "g1", "u-bob", "Bob")
	carol := h.Dial(t, "g1", "u-carol", "Carol")

	// Frames on different sockets carry no ordering guarantee, so each
	// transition is awaited before the next socket sends.
	testhelpers.Send(t, alice, hub.Frame{Kind: hub.KindCallStart})
	h.WaitCallState(t, "g1", hub.CallOffering)
	testhelpers.Send(t, bob, hub.Frame{Kind: hub.KindCallJoin})
	h.WaitCallState(t, "g1", hub.CallConnected)

	// Third member is turned away while the call is live.
	testhelpers.Send(t, carol, hub.Frame{Kind: hub.KindCallStart})
	req.Equal("call_room_busy", testhelpers.RecvKind(t, carol, hub.KindError).ErrorKind)

	// Signals pass through unaltered, both directions.
	offer := []byte(`{"type":"offer","sdp":"v=0 alice"}`)
	testhelpers.Send(t, alice, hub.Frame{Kind: hub.KindCallSignal, Payload: offer})
	got := testhelpers.RecvKind(t, bob, hub.KindCallSignal)
	req.JSONEq(string(offer), string(got.Payload))
	req.Equal("u-alice", got.Sender)

	answer := []byte(`{"type":"answer","sdp":"v=0 bob"}`)
	testhelpers.Send(t, bob, hub.Frame{Kind: hub.KindCallSignal, Payload: answer})
	req.JSONEq(string(answer), string(testhelpers.RecvKind(t, alice, hub.KindCallSignal).Payload))

	// Leaving ends the call and notifies the remaining party exactly once.
	testhelpers.Send(t, bob, hub.Frame{Kind: hub.KindCallLeave})
	testhelpers.RecvKind(t, alice, hub.KindCallEnded)
	h.WaitCallState(t, "g1", hub.CallIdle)

	// The slot is free again for a fresh call.
	testhelpers.Send(t, carol, hub.Frame{Kind: hub.KindCallStart})
	h.WaitCallState(t, "g1", hub.CallOffering)
	testhelpers.Send(t, alice, hub.Frame{Kind: hub.KindCallJoin})
	h.WaitCallState(t, "g1", hub.CallConnected)
	ping := []byte(`{"type":"candidate"}`)
	testhelpers.Send(t, carol, hub.Frame{Kind: hub.KindCallSignal, Payload: ping})
	req.JSONEq(string(ping), string(testhelpers.RecvKind(t, alice, hub.KindCallSignal).Payload))
}

func TestDisconnectDuringCallNotifiesPeer(t *testing.T) {
	h := testhelpers.NewHarness(t, testhelpers.GroupOf("g1", "u-alice", "u-bob"))

	alice := h.Dial(t, "g1", "u-alice", "Alice")
	bob := h.Dial(t, "g1", "u-bob", "Bob")

	testhelpers.Send(t, alice, hub.Frame{Kind: hub.KindCallStart})
	h.WaitCallState(t, "g1", hub.CallOffering)
	testhelpers.Send(t, bob, hub.Frame{Kind: hub.KindCallJoin})
	h.WaitCallState(t, "g1", hub.CallConnected)

	require.NoError(t, testhelpers.CloseNormally(bob))

	testhelpers.RecvKind(t, alice, hub.KindCallEnded)
}
