// Copyright 2026 The raftkit Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package backend

import (
	"encoding/binary"
	"fmt"
	"sync"

	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/raftkit/raftkit/raft"
	pb "github.com/raftkit/raftkit/raft/raftpb"
)

// RaftStorage implements raft.Storage on a Backend.
type RaftStorage struct {
	b *Backend

	mu        sync.Mutex
	lastIndex uint64
}

var _ raft.Storage = (*RaftStorage)(nil)

// NewRaftStorage returns the raft storage kept in b, checking that the
// stored log is contiguous from index 1.
func NewRaftStorage(b *Backend) (*RaftStorage, error) {
	s := &RaftStorage{b: b}
	err := b.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(logBucket).Cursor()
		k, _ := c.Last()
		if k == nil {
			return nil
		}
		s.lastIndex = indexFromKey(k)
		if n := uint64(tx.Bucket(logBucket).Stats().KeyN); n != s.lastIndex {
			return fmt.Errorf("log has %d entries but ends at index %d", n, s.lastIndex)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("cannot load raft log: %w", err)
	}
	b.lg.Info("loaded raft log", zap.Uint64("last-index", s.lastIndex))
	return s, nil
}

// InitialState implements the raft.Storage interface.
func (s *RaftStorage) InitialState() (pb.HardState, error) {
	var hs pb.HardState
	err := s.b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(metaBucket).Get(hardStateKey)
		if v == nil {
			return nil
		}
		return hs.Unmarshal(v)
	})
	return hs, err
}

// SetHardState implements the raft.Storage interface.
func (s *RaftStorage) SetHardState(st pb.HardState) error {
	v, err := st.Marshal()
	if err != nil {
		return err
	}
	return s.b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(metaBucket).Put(hardStateKey, v)
	})
}

// Entries implements the raft.Storage interface.
func (s *RaftStorage) Entries(lo, hi uint64) ([]pb.Entry, error) {
	s.mu.Lock()
	last := s.lastIndex
	s.mu.Unlock()
	if lo < 1 || lo > hi || hi > last+1 {
		return nil, raft.ErrUnavailable
	}
	ents := make([]pb.Entry, 0, hi-lo)
	err := s.b.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(logBucket).Cursor()
		for k, v := c.Seek(keyFromIndex(lo)); k != nil && indexFromKey(k) < hi; k, v = c.Next() {
			var e pb.Entry
			if err := e.Unmarshal(v); err != nil {
				return err
			}
			ents = append(ents, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if uint64(len(ents)) != hi-lo {
		return nil, fmt.Errorf("log range [%d, %d) has %d entries", lo, hi, len(ents))
	}
	return ents, nil
}

// Term implements the raft.Storage interface.
func (s *RaftStorage) Term(i uint64) (uint64, error) {
	if i == 0 {
		return 0, nil
	}
	ents, err := s.Entries(i, i+1)
	if err != nil {
		return 0, err
	}
	return ents[0].Term, nil
}

// LastIndex implements the raft.Storage interface.
func (s *RaftStorage) LastIndex() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastIndex, nil
}

// Append implements the raft.Storage interface. Entries stored at or after
// entries[0].Index are deleted in the same transaction.
func (s *RaftStorage) Append(entries []pb.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	offset := entries[0].Index
	if offset < 1 || offset > s.lastIndex+1 {
		return fmt.Errorf("missing log entry [last: %d, append at: %d]", s.lastIndex, offset)
	}
	err := s.b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(logBucket)
		var stale [][]byte
		c := bkt.Cursor()
		for k, _ := c.Seek(keyFromIndex(offset)); k != nil; k, _ = c.Next() {
			stale = append(stale, append([]byte(nil), k...))
		}
		for _, k := range stale {
			if err := bkt.Delete(k); err != nil {
				return err
			}
		}
		for i := range entries {
			v, err := entries[i].Marshal()
			if err != nil {
				return err
			}
			if err := bkt.Put(keyFromIndex(entries[i].Index), v); err != nil {
				return err
			}
		}
		if len(stale) > 0 {
			s.b.lg.Info("truncated raft log",
				zap.Uint64("from-index", offset),
				zap.Int("removed-entries", len(stale)),
			)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.lastIndex = entries[len(entries)-1].Index
	return nil
}

func keyFromIndex(i uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, i)
	return k
}

func indexFromKey(k []byte) uint64 {
	return binary.BigEndian.Uint64(k)
}
