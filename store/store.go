// Copyright 2024 The GNS Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may not
// use this file except in compliance with the License. You may obtain a copy of
// the License at
//
// 	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS, WITHOUT
// WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the
// License for the specific language governing permissions and limitations under
// the License.

// Package store implements the persisted state layout of spec.md §6:
// name-records and replica-controller-records, each keyed by primary name
// with a unique index on that key, plus a raft-log collection used only by
// internal/raftlog for its own write-ahead state. This is the
// default "document store adapter" (spec.md §1's external-collaborator
// noSqlRecordsClass) backed by go.etcd.io/bbolt, the embedded KV store
// evidenced in AKJUS-bsc-erigon's go.mod; the application's own document
// fields beyond the control record are opaque []byte here, consistent with
// spec.md §6 ("the application's user fields, opaque to the core").
package store

import (
	"bytes"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"

	"github.com/vava24680/GNS/common"
)

// Collection names, spec.md §6.
const (
	CollectionNameRecords              = "name-records"
	CollectionReplicaControllerRecords = "replica-controller-records"
	CollectionRaftLog                  = "raft-log"
)

// Store opens the two collections of spec.md §6, plus the raft-log
// collection, on top of a single bbolt
// file, giving the RC and AR each their own logically-separate keyspace
// while sharing one durable file and one set of fsync semantics.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if absent) the bbolt file at path and ensures all
// three collections' buckets exist.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "gns/store: open %s", path)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range []string{CollectionNameRecords, CollectionReplicaControllerRecords, CollectionRaftLog} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "gns/store: init buckets")
	}
	return &Store{db: db}, nil
}

// Close releases the underlying bbolt file.
func (s *Store) Close() error { return s.db.Close() }

// Get reads the raw document stored under key in collection. It returns
// common.ErrNotFound itself, unwrapped, if no such key exists.
func (s *Store) Get(collection, key string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(collection))
		v := b.Get([]byte(key))
		if v == nil {
			return common.ErrNotFound
		}
		out = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return nil, err
		}
		return nil, errors.Wrapf(err, "gns/store: get %s/%s", collection, key)
	}
	return out, nil
}

// Put durably writes value under key in collection, overwriting any
// existing document (the unique index on the primary key spec.md §6
// requires is bbolt's bucket key itself).
func (s *Store) Put(collection, key string, value []byte) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(collection))
		return b.Put([]byte(key), value)
	})
	if err != nil {
		return errors.Wrapf(err, "gns/store: put %s/%s", collection, key)
	}
	return nil
}

// Delete removes key from collection. Deleting an absent key is a no-op,
// matching the idempotent-handler requirements of spec.md §4.2.
func (s *Store) Delete(collection, key string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(collection))
		return b.Delete([]byte(key))
	})
	if err != nil {
		return errors.Wrapf(err, "gns/store: delete %s/%s", collection, key)
	}
	return nil
}

// CreateUnique writes value under key only if key is absent, returning
// common.ErrAlreadyExists otherwise — the unique-index enforcement spec.md
// §6 requires and spec.md §7's AlreadyExists error kind.
func (s *Store) CreateUnique(collection, key string, value []byte) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(collection))
		if b.Get([]byte(key)) != nil {
			return common.ErrAlreadyExists
		}
		return b.Put([]byte(key), value)
	})
	if err != nil {
		if errors.Is(err, common.ErrAlreadyExists) {
			return err
		}
		return errors.Wrapf(err, "gns/store: create %s/%s", collection, key)
	}
	return nil
}

// ForEachPrefix iterates all keys in collection with the given prefix, in
// key order, calling fn for each until it returns false or an error.
// Used by internal/raftlog's storage to walk its entry keys, and by ForEach
// with an empty prefix.
func (s *Store) ForEachPrefix(collection string, prefix []byte, fn func(key, value []byte) (bool, error)) error {
	return s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket([]byte(collection)).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			cont, err := fn(append([]byte(nil), k...), append([]byte(nil), v...))
			if err != nil {
				return err
			}
			if !cont {
				return nil
			}
		}
		return nil
	})
}

// ForEach iterates every key/value pair in collection, in key order.
func (s *Store) ForEach(collection string, fn func(key, value []byte) (bool, error)) error {
	return s.ForEachPrefix(collection, nil, fn)
}
