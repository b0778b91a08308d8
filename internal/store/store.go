// Package store persists chat messages for join-time backfill. Persistence
// failures are soft: the live relay never waits on this package.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Record is the durable form of a chat message.
type Record struct {
	ID        uuid.UUID `json:"id"`
	GroupID   string    `json:"group_id"`
	Seq       uint64    `json:"seq"`
	Sender    string    `json:"sender"`
	Body      string    `json:"body"`
	Timestamp time.Time `json:"timestamp"`
}

// MessageStore is the persistence collaborator consumed by the chat relay.
type MessageStore interface {
	// Append stores one message for a group.
	Append(ctx context.Context, rec Record) error

	// ListSince returns up to limit messages for a group with sequence
	// numbers strictly greater than cursor, in sequence order. Cursor 0
	// starts from the beginning.
	ListSince(ctx context.Context, groupID string, cursor uint64, limit int) ([]Record, error)

	// LastSeq reports the highest sequence number stored for a group, so a
	// restarted hub keeps room sequences strictly increasing.
	LastSeq(ctx context.Context, groupID string) (uint64, error)
}
