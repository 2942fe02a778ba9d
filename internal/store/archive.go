// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// ArchivedMessage is a local copy of a dead-lettered queue message, kept
// so operators can inspect poison payloads without redriving the
// dead-letter queue.
type ArchivedMessage struct {
	MessageID  string          `json:"messageId"`
	GroupID    string          `json:"groupId"`
	Body       json.RawMessage `json:"body"`
	Attempts   int             `json:"attempts"`
	ArchivedAt time.Time       `json:"archivedAt"`
}

// DeadLetterArchive stores dead-lettered messages in a local badger
// database with a bounded retention. The dead-letter queue remains the
// authoritative copy; the archive is convenience only.
type DeadLetterArchive struct {
	db        *badger.DB
	retention time.Duration
	now       func() time.Time
}

const archivePrefix = "dlq:"

// OpenDeadLetterArchive opens (or creates) the archive at path. Entries
// expire after retention; a non-positive retention defaults to 7 days.
func OpenDeadLetterArchive(path string, retention time.Duration) (*DeadLetterArchive, error) {
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open dead-letter archive: %w", err)
	}
	return &DeadLetterArchive{db: db, retention: retention, now: time.Now}, nil
}

func (a *DeadLetterArchive) Close() error { return a.db.Close() }

// Put records one dead-lettered message. Keys embed the archival
// timestamp so Recent can iterate in reverse chronological order.
func (a *DeadLetterArchive) Put(_ context.Context, rec ArchivedMessage) error {
	if rec.ArchivedAt.IsZero() {
		rec.ArchivedAt = a.now()
	}
	buf, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal archived message: %w", err)
	}
	key := fmt.Appendf(nil, "%s%020d:%s", archivePrefix, rec.ArchivedAt.UnixNano(), rec.MessageID)
	return a.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry(key, buf).WithTTL(a.retention)
		return txn.SetEntry(entry)
	})
}

// Recent returns up to limit archived messages, newest first.
func (a *DeadLetterArchive) Recent(_ context.Context, limit int) ([]ArchivedMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []ArchivedMessage
	err := a.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = []byte(archivePrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration must seek past the last key of the prefix.
		seek := append([]byte(archivePrefix), 0xff)
		for it.Seek(seek); it.Valid() && len(out) < limit; it.Next() {
			var rec ArchivedMessage
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list archived messages: %w", err)
	}
	return out, nil
}
