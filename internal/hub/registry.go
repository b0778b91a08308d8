package hub

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// MembershipEvent reports a registry mutation to the room manager.
type MembershipEvent struct {
	Joined   bool
	Handle   uuid.UUID
	Identity Identity
}

// Registry tracks every live connection and the identity it is bound to.
// It enforces at most one active connection per (user, group); a reconnect
// must retire the stale connection first.
type Registry struct {
	mu          sync.RWMutex
	connections map[uuid.UUID]Identity
	byUserGroup map[userGroupKey]uuid.UUID
	observer    func(MembershipEvent)
	log         *slog.Logger
}

type userGroupKey struct {
	userID  string
	groupID string
}

// NewRegistry creates an empty registry. The observer is invoked after each
// successful mutation, outside the registry lock; pass nil for no observer.
func NewRegistry(log *slog.Logger, observer func(MembershipEvent)) *Registry {
	return &Registry{
		connections: make(map[uuid.UUID]Identity),
		byUserGroup: make(map[userGroupKey]uuid.UUID),
		observer:    observer,
		log:         log,
	}
}

// Register binds an identity to a fresh connection handle. It fails with
// ErrDuplicateConnection while the same user already holds a live connection
// for the same group.
func (r *Registry) Register(id Identity) (uuid.UUID, error) {
	key := userGroupKey{userID: id.UserID, groupID: id.GroupID}

	r.mu.Lock()
	if _, exists := r.byUserGroup[key]; exists {
		r.mu.Unlock()
		return uuid.Nil, ErrDuplicateConnection
	}
	handle := uuid.New()
	r.connections[handle] = id
	r.byUserGroup[key] = handle
	total := len(r.connections)
	r.mu.Unlock()

	r.log.Info("connection registered",
		"handle", handle, "user", id.UserID, "group", id.GroupID, "total", total)
	r.emit(MembershipEvent{Joined: true, Handle: handle, Identity: id})
	return handle, nil
}

// Unregister retires a connection handle. It is idempotent: unknown handles
// are ignored.
func (r *Registry) Unregister(handle uuid.UUID) {
	r.mu.Lock()
	id, ok := r.connections[handle]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.connections, handle)
	key := userGroupKey{userID: id.UserID, groupID: id.GroupID}
	if r.byUserGroup[key] == handle {
		delete(r.byUserGroup, key)
	}
	total := len(r.connections)
	r.mu.Unlock()

	r.log.Info("connection unregistered",
		"handle", handle, "user", id.UserID, "group", id.GroupID, "total", total)
	r.emit(MembershipEvent{Joined: false, Handle: handle, Identity: id})
}

// Lookup resolves a handle back to its identity.
func (r *Registry) Lookup(handle uuid.UUID) (Identity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.connections[handle]
	return id, ok
}

// Len reports the number of live connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections)
}

func (r *Registry) emit(ev MembershipEvent) {
	if r.observer != nil {
		r.observer(ev)
	}
}
