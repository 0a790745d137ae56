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

package raftlog

import (
	"encoding/binary"

	"github.com/coreos/etcd/raft"
	"github.com/coreos/etcd/raft/raftpb"
	"github.com/pkg/errors"

	"github.com/vava24680/GNS/common"
	"github.com/vava24680/GNS/store"
)

const (
	hardStateKey   = "HS"
	confStateKey   = "CS"
	entryKeyPrefix = "E"
)

// boltStorage implements raft.Storage on top of store.Store's raft-log
// collection, the same role the teacher's raftStorage (over kv.DB) plays for
// coname's keyserver replication log. It keeps no log-compaction state:
// FirstIndex is always 1, matching the ControlLog contract that the whole
// log is retained.
type boltStorage struct {
	st          *store.Store
	initialConf raftpb.ConfState
}

var _ raft.Storage = (*boltStorage)(nil)

func newBoltStorage(st *store.Store, initialConf raftpb.ConfState) *boltStorage {
	return &boltStorage{st: st, initialConf: initialConf}
}

func (s *boltStorage) initialized() (bool, error) {
	_, err := s.st.Get(store.CollectionRaftLog, hardStateKey)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, common.ErrNotFound) {
		return false, nil
	}
	return false, err
}

func (s *boltStorage) InitialState() (raftpb.HardState, raftpb.ConfState, error) {
	confState := s.initialConf
	if data, err := s.st.Get(store.CollectionRaftLog, confStateKey); err == nil {
		if uerr := confState.Unmarshal(data); uerr != nil {
			return raftpb.HardState{}, raftpb.ConfState{}, uerr
		}
	} else if !errors.Is(err, common.ErrNotFound) {
		return raftpb.HardState{}, raftpb.ConfState{}, err
	}

	data, err := s.st.Get(store.CollectionRaftLog, hardStateKey)
	if errors.Is(err, common.ErrNotFound) {
		return raftpb.HardState{}, confState, nil
	}
	if err != nil {
		return raftpb.HardState{}, raftpb.ConfState{}, err
	}
	var hardState raftpb.HardState
	if err := hardState.Unmarshal(data); err != nil {
		return raftpb.HardState{}, raftpb.ConfState{}, err
	}
	return hardState, confState, nil
}

func entryKey(index uint64) string {
	var buf [len(entryKeyPrefix) + 8]byte
	copy(buf[:], entryKeyPrefix)
	binary.BigEndian.PutUint64(buf[len(entryKeyPrefix):], index)
	return string(buf[:])
}

func (s *boltStorage) Entries(lo, hi, maxSize uint64) ([]raftpb.Entry, error) {
	last, err := s.LastIndex()
	if err != nil {
		return nil, err
	}
	if hi > last+1 {
		return nil, raft.ErrUnavailable
	}
	var entries []raftpb.Entry
	var size uint64
	err = s.st.ForEachPrefix(store.CollectionRaftLog, []byte(entryKeyPrefix), func(k, v []byte) (bool, error) {
		idx := binary.BigEndian.Uint64(k[len(entryKeyPrefix):])
		if idx < lo {
			return true, nil
		}
		if idx >= hi {
			return false, nil
		}
		var e raftpb.Entry
		if err := e.Unmarshal(v); err != nil {
			return false, err
		}
		size += uint64(e.Size())
		if size > maxSize && len(entries) > 0 {
			return false, nil
		}
		entries = append(entries, e)
		return size < maxSize, nil
	})
	return entries, err
}

func (s *boltStorage) Term(i uint64) (uint64, error) {
	if i == 0 {
		return 0, nil
	}
	entries, err := s.Entries(i, i+1, 1<<30)
	if err != nil {
		return 0, err
	}
	if len(entries) != 1 {
		return 0, raft.ErrUnavailable
	}
	return entries[0].Term, nil
}

func (s *boltStorage) LastIndex() (uint64, error) {
	var last uint64
	err := s.st.ForEachPrefix(store.CollectionRaftLog, []byte(entryKeyPrefix), func(k, v []byte) (bool, error) {
		last = binary.BigEndian.Uint64(k[len(entryKeyPrefix):])
		return true, nil
	})
	return last, err
}

// FirstIndex always returns 1: log compaction is a non-goal (spec.md §1's
// control log retains its full history; GC only trims the RC's bounded
// record state, see rc.apply's delete path).
func (s *boltStorage) FirstIndex() (uint64, error) { return 1, nil }

func (s *boltStorage) Snapshot() (raftpb.Snapshot, error) {
	return raftpb.Snapshot{}, nil
}

// save persists hardState and appends entries in one transaction-equivalent
// pass, matching the teacher's raftStorage.save (clearing any stale tail
// before the new entries, for the case of a leader-change truncation).
func (s *boltStorage) save(hardState raftpb.HardState, entries []raftpb.Entry) error {
	data, err := hardState.Marshal()
	if err != nil {
		return err
	}
	if err := s.st.Put(store.CollectionRaftLog, hardStateKey, data); err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}
	last, err := s.LastIndex()
	if err != nil {
		return err
	}
	for ix := entries[0].Index; ix <= last; ix++ {
		if err := s.st.Delete(store.CollectionRaftLog, entryKey(ix)); err != nil {
			return err
		}
	}
	for _, e := range entries {
		data, err := e.Marshal()
		if err != nil {
			return err
		}
		if err := s.st.Put(store.CollectionRaftLog, entryKey(e.Index), data); err != nil {
			return err
		}
	}
	return nil
}

func (s *boltStorage) saveConfState(cs raftpb.ConfState) error {
	data, err := cs.Marshal()
	if err != nil {
		return err
	}
	return s.st.Put(store.CollectionRaftLog, confStateKey, data)
}
