package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/studysprint/hub/internal/auth"
	"github.com/studysprint/hub/internal/directory"
	"github.com/studysprint/hub/internal/store"
)

// anonymousName is substituted when a verified token carries no display name.
const anonymousName = "Anonymous"

// Gateway is the single entry point of the hub. It authenticates incoming
// connections, resolves their group, and routes every inbound frame to the
// chat relay or the call broker through a dispatch table. Component errors
// are translated into error frames for the originating connection only.
type Gateway struct {
	registry  *Registry
	rooms     *RoomManager
	verifier  auth.Verifier
	directory directory.GroupDirectory
	store     store.MessageStore
	backfill  int
	log       *slog.Logger
	validate  *validator.Validate
	dispatch  map[string]func(*session, Frame) error

	mu       sync.RWMutex
	sessions map[uuid.UUID]*session
}

// session is the per-connection context threaded through every gateway call.
// There is no process-wide connection state outside of it.
type session struct {
	handle   uuid.UUID
	identity Identity
	sink     Sink
	chat     *ChatRoom
	call     *CallRoom
}

// NewGateway wires the hub components together. The backfill limit bounds
// how many stored messages a freshly joined client receives.
func NewGateway(
	verifier auth.Verifier,
	dir directory.GroupDirectory,
	st store.MessageStore,
	backfill int,
	log *slog.Logger,
) *Gateway {
	g := &Gateway{
		verifier:  verifier,
		directory: dir,
		store:     st,
		backfill:  backfill,
		log:       log,
		validate:  validator.New(),
		sessions:  make(map[uuid.UUID]*session),
	}
	g.rooms = NewRoomManager(st, log)
	g.registry = NewRegistry(log, g.rooms.OnMembership)
	g.dispatch = map[string]func(*session, Frame) error{
		KindChatPost:   g.handleChatPost,
		KindCallStart:  g.handleCallStart,
		KindCallJoin:   g.handleCallJoin,
		KindCallLeave:  g.handleCallLeave,
		KindCallSignal: g.handleCallSignal,
	}
	return g
}

// Registry exposes the connection registry for introspection.
func (g *Gateway) Registry() *Registry { return g.registry }

// Rooms exposes the room manager for introspection.
func (g *Gateway) Rooms() *RoomManager { return g.rooms }

// HandleConnect authenticates a raw token, authorizes the group, registers
// the connection, and attaches it to the group's room pair. On success the
// new member's chat view is backfilled from the store; history and live
// frames carry distinct kinds and sequence numbers so clients can merge them.
func (g *Gateway) HandleConnect(ctx context.Context, token, groupID string, sink Sink) (uuid.UUID, error) {
	claims, err := g.verifier.Verify(token)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", ErrAuth, err)
	}
	name := claims.DisplayName
	if name == "" {
		name = anonymousName
	}
	identity := Identity{UserID: claims.UserID, DisplayName: name, GroupID: groupID}

	if err := g.authorizeGroup(ctx, groupID, claims.UserID); err != nil {
		return uuid.Nil, err
	}

	handle, err := g.registry.Register(identity)
	if err != nil {
		return uuid.Nil, err
	}

	chat, call := g.rooms.Join(groupID, handle, identity, sink)
	s := &session{handle: handle, identity: identity, sink: sink, chat: chat, call: call}
	g.mu.Lock()
	g.sessions[handle] = s
	g.mu.Unlock()

	g.sendBackfill(ctx, s)
	return handle, nil
}

func (g *Gateway) authorizeGroup(ctx context.Context, groupID, userID string) error {
	exists, err := g.directory.GroupExists(ctx, groupID)
	if err != nil {
		return fmt.Errorf("group directory unavailable: %w", err)
	}
	if !exists {
		return fmt.Errorf("%w: group %s not found", ErrGroupAccess, groupID)
	}
	member, err := g.directory.IsMember(ctx, groupID, userID)
	if err != nil {
		return fmt.Errorf("group directory unavailable: %w", err)
	}
	if !member {
		return fmt.Errorf("%w: user %s is not in group %s", ErrGroupAccess, userID, groupID)
	}
	return nil
}

// sendBackfill streams stored history to one freshly joined connection.
// Store failures are non-fatal to the live relay.
func (g *Gateway) sendBackfill(ctx context.Context, s *session) {
	if g.backfill <= 0 {
		return
	}
	records, err := g.store.ListSince(ctx, s.identity.GroupID, 0, g.backfill)
	if err != nil {
		g.log.Error("history backfill failed", "group", s.identity.GroupID, "err", err)
		return
	}
	for _, rec := range records {
		s.sink.Enqueue(historyFrame(Message{
			Seq:       rec.Seq,
			Sender:    Identity{DisplayName: rec.Sender},
			Body:      rec.Body,
			Timestamp: rec.Timestamp,
		}))
	}
}

// HandleFrame decodes one inbound frame and routes it through the dispatch
// table. Malformed or unknown frames return ErrProtocolViolation, which the
// connection layer answers by disconnecting the offending connection only.
// Component errors are reported to the sender as error frames and do not
// propagate.
func (g *Gateway) HandleFrame(handle uuid.UUID, raw []byte) error {
	g.mu.RLock()
	s, ok := g.sessions[handle]
	g.mu.RUnlock()
	if !ok {
		return ErrUnknownConnection
	}

	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		s.sink.Enqueue(errorFrame(ErrProtocolViolation))
		return fmt.Errorf("%w: %v", ErrProtocolViolation, err)
	}
	if err := g.validate.Struct(frame); err != nil {
		s.sink.Enqueue(errorFrame(ErrProtocolViolation))
		return fmt.Errorf("%w: %v", ErrProtocolViolation, err)
	}
	handler, ok := g.dispatch[frame.Kind]
	if !ok {
		s.sink.Enqueue(errorFrame(ErrProtocolViolation))
		return fmt.Errorf("%w: unknown kind %q", ErrProtocolViolation, frame.Kind)
	}

	if err := handler(s, frame); err != nil {
		g.log.Warn("frame rejected",
			"kind", frame.Kind, "user", s.identity.UserID, "group", s.identity.GroupID, "err", err)
		s.sink.Enqueue(errorFrame(err))
	}
	return nil
}

// HandleDisconnect retires a connection regardless of how the disconnect was
// detected. Room leave runs before unregistration so reference counts are
// never decremented after the connection is already retired.
func (g *Gateway) HandleDisconnect(handle uuid.UUID) {
	g.mu.Lock()
	s, ok := g.sessions[handle]
	delete(g.sessions, handle)
	g.mu.Unlock()
	if !ok {
		return
	}
	g.rooms.Leave(s.identity.GroupID, handle)
	g.registry.Unregister(handle)
}

func (g *Gateway) handleChatPost(s *session, frame Frame) error {
	_, err := s.chat.Post(s.handle, frame.Body)
	return err
}

func (g *Gateway) handleCallStart(s *session, _ Frame) error {
	return s.call.Start(s.handle, s.identity, s.sink)
}

func (g *Gateway) handleCallJoin(s *session, _ Frame) error {
	return s.call.Join(s.handle, s.identity, s.sink)
}

func (g *Gateway) handleCallLeave(s *session, _ Frame) error {
	return s.call.Leave(s.handle)
}

func (g *Gateway) handleCallSignal(s *session, frame Frame) error {
	return s.call.Relay(s.handle, frame.Payload)
}
