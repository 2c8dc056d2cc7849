// Package boltstore is a bundled reference DataHooks implementation
// backed by go.etcd.io/bbolt, using bolt.Open + CreateBucketIfNotExists +
// db.View/db.Update the same way any single-bucket bbolt-backed store
// would. Chunks are keyed by their ingestion time in UTC milliseconds so
// IncrementalData can cheaply seek to everything added after a version
// boundary.
package boltstore

import (
	"context"
	"encoding/binary"
	"fmt"
	"strconv"

	bolt "go.etcd.io/bbolt"

	"github.com/denghuinow/kg-api-server/internal/clock"
	"github.com/denghuinow/kg-api-server/internal/hooks"
)

const chunksBucket = "chunks"

func init() {
	hooks.Register("bolt", func(full, incremental string) (hooks.DataHooks, error) {
		// full names the db file; incremental is unused (both read paths
		// share the one bucket, distinguished only by the since boundary).
		return Open(full, clock.Real{})
	})
}

// Store is a DataHooks backed by a single bbolt database file.
type Store struct {
	db    *bolt.DB
	clock clock.Clock
}

// Open opens (creating if absent) the bbolt file at path and ensures its
// chunks bucket exists.
func Open(path string, clk clock.Clock) (*Store, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("boltstore: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(chunksBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("boltstore: create bucket: %w", err)
	}
	return &Store{db: db, clock: clk}, nil
}

func millisKey(millis int64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(millis))
	return key
}

// Put stores one text chunk under the current time, for seeding the
// store in tests or a loader script.
func (s *Store) Put(ctx context.Context, text string) error {
	millis := s.clock.Now().UnixMilli()
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(chunksBucket))
		key := millisKey(millis)
		for b.Get(key) != nil {
			millis++
			key = millisKey(millis)
		}
		return b.Put(key, []byte(text))
	})
}

// FullData returns every stored chunk, oldest first.
func (s *Store) FullData(ctx context.Context) ([]string, error) {
	var chunks []string
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(chunksBucket))
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			chunks = append(chunks, string(v))
		}
		return nil
	})
	return chunks, err
}

// IncrementalData returns every chunk stored strictly after sinceVersion,
// parsed as a UTC millisecond timestamp (the same format versions use).
// An unparseable sinceVersion is treated as "since the beginning of
// time", i.e. equivalent to FullData.
func (s *Store) IncrementalData(ctx context.Context, sinceVersion string) ([]string, error) {
	millis, err := strconv.ParseInt(sinceVersion, 10, 64)
	if err != nil {
		return s.FullData(ctx)
	}

	var chunks []string
	err = s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(chunksBucket))
		c := b.Cursor()
		seekKey := millisKey(millis + 1)
		for k, v := c.Seek(seekKey); k != nil; k, v = c.Next() {
			chunks = append(chunks, string(v))
		}
		return nil
	})
	return chunks, err
}

// Close closes the underlying bbolt database.
func (s *Store) Close() error {
	return s.db.Close()
}
