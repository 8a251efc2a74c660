// Package bolt stores the graph changelog in a local bbolt file. It backs
// inline deployments that want durable version history without Postgres.
package bolt

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/graphmind-ai/graphmind/kg"
	"github.com/graphmind-ai/graphmind/queue"
)

var (
	changelogBucket  = []byte("kg_changelog")
	checkpointBucket = []byte("agent_checkpoints")
)

// Changelog implements kg.ChangelogStore on a bbolt database. Versions come
// from the bucket sequence, so append is atomic and monotonic.
type Changelog struct {
	db *bolt.DB
}

// Open opens (or creates) the bbolt file and the changelog bucket.
func Open(path string) (*Changelog, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt database: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(changelogBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(checkpointBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}
	return &Changelog{db: db}, nil
}

// Close closes the underlying database.
func (c *Changelog) Close() error { return c.db.Close() }

// Append assigns the next version and persists the entry under it.
func (c *Changelog) Append(ctx context.Context, entry *kg.ChangelogEntry) (*kg.ChangelogEntry, error) {
	stored := *entry
	stored.Timestamp = time.Now().UTC()

	err := c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(changelogBucket)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		stored.Version = int64(seq)
		data, err := json.Marshal(&stored)
		if err != nil {
			return fmt.Errorf("failed to encode changelog entry: %w", err)
		}
		return b.Put(versionKey(stored.Version), data)
	})
	if err != nil {
		return nil, err
	}
	return &stored, nil
}

// CurrentVersion returns the bucket sequence, 0 when nothing was appended.
func (c *Changelog) CurrentVersion(ctx context.Context) (int64, error) {
	var version int64
	err := c.db.View(func(tx *bolt.Tx) error {
		version = int64(tx.Bucket(changelogBucket).Sequence())
		return nil
	})
	return version, err
}

// Get loads one entry by version.
func (c *Changelog) Get(ctx context.Context, version int64) (*kg.ChangelogEntry, error) {
	var entry *kg.ChangelogEntry
	err := c.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(changelogBucket).Get(versionKey(version))
		if data == nil {
			return kg.ErrVersionNotFound
		}
		entry = &kg.ChangelogEntry{}
		return json.Unmarshal(data, entry)
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// Recent returns up to limit entries, newest first.
func (c *Changelog) Recent(ctx context.Context, limit int) ([]kg.ChangelogEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	var entries []kg.ChangelogEntry
	err := c.db.View(func(tx *bolt.Tx) error {
		cur := tx.Bucket(changelogBucket).Cursor()
		for k, v := cur.Last(); k != nil && len(entries) < limit; k, v = cur.Prev() {
			var entry kg.ChangelogEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return fmt.Errorf("failed to decode changelog entry: %w", err)
			}
			entries = append(entries, entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// After returns entries with version > after, ascending.
func (c *Changelog) After(ctx context.Context, after int64) ([]kg.ChangelogEntry, error) {
	var entries []kg.ChangelogEntry
	err := c.db.View(func(tx *bolt.Tx) error {
		cur := tx.Bucket(changelogBucket).Cursor()
		for k, v := cur.Seek(versionKey(after + 1)); k != nil; k, v = cur.Next() {
			var entry kg.ChangelogEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return fmt.Errorf("failed to decode changelog entry: %w", err)
			}
			entries = append(entries, entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Checkpoints exposes the agent checkpoint store sharing this database, so
// inline deployments keep conversation state across restarts.
func (c *Changelog) Checkpoints() *Checkpoints { return &Checkpoints{db: c.db} }

// Checkpoints implements queue.CheckpointStore on the same bbolt file.
type Checkpoints struct {
	db *bolt.DB
}

func (s *Checkpoints) SaveCheckpoint(ctx context.Context, threadID string, state []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(checkpointBucket).Put([]byte(threadID), state)
	})
}

func (s *Checkpoints) LoadCheckpoint(ctx context.Context, threadID string) ([]byte, error) {
	var state []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(checkpointBucket).Get([]byte(threadID))
		if data == nil {
			return queue.ErrCheckpointNotFound
		}
		state = make([]byte, len(data))
		copy(state, data)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return state, nil
}

func (s *Checkpoints) DeleteCheckpoint(ctx context.Context, threadID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(checkpointBucket).Delete([]byte(threadID))
	})
}

func versionKey(version int64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(version))
	return key
}
