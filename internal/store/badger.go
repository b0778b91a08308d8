package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"
)

// BadgerStore persists messages in BadgerDB.
// Keys are formatted as "msg:{group_id}:{seq_padded}" so that:
//  1. A prefix scan over one group returns messages in sequence order
//     (19-digit zero padding keeps lexicographic and numeric order aligned).
//  2. Sequence numbers are unique per group, so the key needs no extra
//     disambiguator.
type BadgerStore struct {
	db  *badger.DB
	log *slog.Logger
}

func NewBadgerStore(db *badger.DB, log *slog.Logger) *BadgerStore {
	return &BadgerStore{db: db, log: log}
}

func messageKey(groupID string, seq uint64) []byte {
	return []byte(fmt.Sprintf("msg:%s:%019d", groupID, seq))
}

func groupPrefix(groupID string) []byte {
	return []byte(fmt.Sprintf("msg:%s:", groupID))
}

// Append stores one message. The write is a single Badger transaction.
func (s *BadgerStore) Append(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	value, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding message %s: %w", rec.ID, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(messageKey(rec.GroupID, rec.Seq), value)
	})
}

// ListSince scans the group's prefix starting just past the cursor.
// It stops once limit records have been collected; limit <= 0 means no limit.
func (s *BadgerStore) ListSince(ctx context.Context, groupID string, cursor uint64, limit int) ([]Record, error) {
	var records []Record
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := groupPrefix(groupID)
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(messageKey(groupID, cursor+1)); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			if limit > 0 && len(records) == limit {
				s.log.Debug("backfill limit reached", "group", groupID, "limit", limit)
				break
			}
			var rec Record
			err := it.Item().Value(func(value []byte) error {
				return json.Unmarshal(value, &rec)
			})
			if err != nil {
				return err
			}
			records = append(records, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// LastSeq seeks the highest key under the group's prefix with a reverse
// iterator and decodes only that record.
func (s *BadgerStore) LastSeq(ctx context.Context, groupID string) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var last uint64
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := groupPrefix(groupID)
		options := badger.DefaultIteratorOptions
		options.Reverse = true
		it := txn.NewIterator(options)
		defer it.Close()

		// Seek past every possible sequence, then step back into the prefix.
		seekKey := append(append([]byte{}, prefix...), []byte("9999999999999999999")...)
		it.Seek(seekKey)
		if !it.ValidForPrefix(prefix) {
			return nil
		}
		var rec Record
		err := it.Item().Value(func(value []byte) error {
			return json.Unmarshal(value, &rec)
		})
		if err != nil {
			return err
		}
		last = rec.Seq
		return nil
	})
	return last, err
}
