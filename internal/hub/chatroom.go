package hub

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/studysprint/hub/internal/store"
)

// persistTimeout bounds the fire-and-forget store write so a stuck
// collaborator cannot pile up goroutines forever.
const persistTimeout = 5 * time.Second

// ChatRoom orders and broadcasts chat messages for one group. The room is a
// single-writer resource: sequence assignment and delivery for a room happen
// under one lock, so every member observes the room's messages in the same
// total order. Different rooms share nothing.
type ChatRoom struct {
	groupID string
	store   store.MessageStore
	log     *slog.Logger

	mu      sync.Mutex
	seq     uint64
	members map[uuid.UUID]roomMember
}

type roomMember struct {
	identity Identity
	sink     Sink
}

func newChatRoom(groupID string, lastSeq uint64, st store.MessageStore, log *slog.Logger) *ChatRoom {
	return &ChatRoom{
		groupID: groupID,
		store:   st,
		log:     log.With("group", groupID),
		seq:     lastSeq,
		members: make(map[uuid.UUID]roomMember),
	}
}

func (r *ChatRoom) attach(handle uuid.UUID, id Identity, sink Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.members[handle] = roomMember{identity: id, sink: sink}
}

func (r *ChatRoom) detach(handle uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.members, handle)
}

// Members returns a consistent snapshot of the identities attached to the
// room. Concurrent mutations never produce a partial set.
func (r *ChatRoom) Members() []Identity {
	r.mu.Lock()
	defer r.mu.Unlock()
	return lo.Map(lo.Values(r.members), func(m roomMember, _ int) Identity {
		return m.identity
	})
}

// Post assigns the next sequence number, broadcasts the message to every
// member, and hands it to the persistence collaborator without holding the
// room lock. Blank bodies are rejected with ErrEmptyMessage; the client
// validates first but the relay re-validates.
//
// Delivery happens while the room lock is held. Enqueue never blocks, so
// this only costs a channel send per member, and it is what guarantees two
// concurrent posts cannot interleave differently in two members' queues.
func (r *ChatRoom) Post(sender uuid.UUID, body string) (uint64, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return 0, ErrEmptyMessage
	}

	r.mu.Lock()
	from, ok := r.members[sender]
	if !ok {
		r.mu.Unlock()
		return 0, ErrUnknownConnection
	}
	r.seq++
	msg := Message{
		Seq:       r.seq,
		Sender:    from.identity,
		Body:      body,
		Timestamp: time.Now().UTC(),
	}
	frame := deliveredFrame(msg)
	var slow []uuid.UUID
	for handle, member := range r.members {
		if !member.sink.Enqueue(frame) {
			slow = append(slow, handle)
		}
	}
	r.mu.Unlock()

	r.dropSlow(slow)
	go r.persist(msg, from.sink)
	return msg.Seq, nil
}

// dropSlow disconnects members whose outbound queue overflowed. Dropping the
// connection instead of waiting is the backpressure policy: one stalled
// reader must not hold up the room's writer.
func (r *ChatRoom) dropSlow(handles []uuid.UUID) {
	for _, handle := range handles {
		r.mu.Lock()
		member, ok := r.members[handle]
		if ok {
			delete(r.members, handle)
		}
		r.mu.Unlock()
		if !ok {
			continue
		}
		r.log.Warn("dropping slow room member", "handle", handle, "user", member.identity.UserID)
		member.sink.Kick(CloseNormal, "send buffer full")
	}
}

// persist runs outside the room lock. Failures are reported to the sender as
// a soft warning and never roll back the already-broadcast message: the hub
// favors live responsiveness over strict durability.
func (r *ChatRoom) persist(msg Message, sender Sink) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	rec := store.Record{
		ID:        uuid.New(),
		GroupID:   r.groupID,
		Seq:       msg.Seq,
		Sender:    msg.Sender.DisplayName,
		Body:      msg.Body,
		Timestamp: msg.Timestamp,
	}
	if err := r.store.Append(ctx, rec); err != nil {
		r.log.Error("message persistence failed", "seq", msg.Seq, "err", err)
		sender.Enqueue(errorFrame(fmt.Errorf("%w: message %d was delivered but not saved", ErrStore, msg.Seq)))
	}
}
