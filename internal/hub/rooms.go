package hub

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/studysprint/hub/internal/store"
)

// RoomManager owns one ChatRoom and one CallRoom per active group. Rooms are
// created lazily on first join and destroyed synchronously when the last
// member leaves, so memory stays bounded by the number of active groups with
// no background sweep.
type RoomManager struct {
	store store.MessageStore
	log   *slog.Logger

	mu    sync.Mutex
	rooms map[string]*roomPair
}

type roomPair struct {
	chat *ChatRoom
	call *CallRoom
}

func NewRoomManager(st store.MessageStore, log *slog.Logger) *RoomManager {
	return &RoomManager{
		store: st,
		log:   log,
		rooms: make(map[string]*roomPair),
	}
}

// Join attaches a connection to the group's room pair, creating both rooms
// on first reference. The chat sequence is seeded from the store so numbers
// keep increasing across room recreation.
func (m *RoomManager) Join(groupID string, handle uuid.UUID, id Identity, sink Sink) (*ChatRoom, *CallRoom) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pair, ok := m.rooms[groupID]
	if !ok {
		pair = &roomPair{
			chat: newChatRoom(groupID, m.lastSeq(groupID), m.store, m.log),
			call: newCallRoom(groupID, m.log),
		}
		m.rooms[groupID] = pair
		m.log.Info("rooms created", "group", groupID, "active_groups", len(m.rooms))
	}
	pair.chat.attach(handle, id, sink)
	return pair.chat, pair.call
}

// Leave detaches a connection from the group's rooms and destroys the pair
// when the member set becomes empty, releasing any in-progress call state.
// It is idempotent: leaving a group the handle is not attached to is a no-op.
func (m *RoomManager) Leave(groupID string, handle uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pair, ok := m.rooms[groupID]
	if !ok {
		return
	}
	pair.call.Drop(handle)
	pair.chat.detach(handle)
	if len(pair.chat.Members()) > 0 {
		return
	}
	pair.call.ForceEnd("room closed")
	delete(m.rooms, groupID)
	m.log.Info("rooms destroyed", "group", groupID, "active_groups", len(m.rooms))
}

// OnMembership consumes the registry's membership-changed events. The left
// event is a safety net: the gateway detaches before it unregisters, so this
// leave is normally a no-op, but it guarantees no room reference survives a
// retired connection no matter how the disconnect was detected.
func (m *RoomManager) OnMembership(ev MembershipEvent) {
	if ev.Joined {
		m.log.Debug("membership changed", "group", ev.Identity.GroupID, "user", ev.Identity.UserID, "joined", true)
		return
	}
	m.Leave(ev.Identity.GroupID, ev.Handle)
}

// ActiveGroups reports how many groups currently hold live rooms.
func (m *RoomManager) ActiveGroups() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rooms)
}

// CallState reports the state of a group's call room, CallIdle when the
// group holds no live rooms.
func (m *RoomManager) CallState(groupID string) CallState {
	m.mu.Lock()
	pair, ok := m.rooms[groupID]
	m.mu.Unlock()
	if !ok {
		return CallIdle
	}
	return pair.call.State()
}

// MemberCount reports the number of connections attached to a group's rooms.
func (m *RoomManager) MemberCount(groupID string) int {
	m.mu.Lock()
	pair, ok := m.rooms[groupID]
	m.mu.Unlock()
	if !ok {
		return 0
	}
	return len(pair.chat.Members())
}

func (m *RoomManager) lastSeq(groupID string) uint64 {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	seq, err := m.store.LastSeq(ctx, groupID)
	if err != nil {
		m.log.Error("seeding room sequence failed, starting at zero", "group", groupID, "err", err)
		return 0
	}
	return seq
}
