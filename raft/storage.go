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

package raft

import (
	"fmt"
	"sync"

	pb "github.com/raftkit/raftkit/raft/raftpb"
)

// Storage is the durable store behind a node's log and hard state. Every
// write must be stable when the method returns: the node answers RPCs right
// after calling it.
//
// If any Storage method returns an error, the node panics; the application
// is responsible for cleanup and recovery in this case.
type Storage interface {
	// InitialState returns the saved HardState, or the zero value for a new
	// node.
	InitialState() (pb.HardState, error)
	// SetHardState durably saves the current term and vote.
	SetHardState(st pb.HardState) error
	// Entries returns a slice of log entries in the range [lo,hi).
	Entries(lo, hi uint64) ([]pb.Entry, error)
	// Term returns the term of entry i. Term(0) is 0.
	Term(i uint64) (uint64, error)
	// LastIndex returns the index of the last entry in the log, 0 if empty.
	LastIndex() (uint64, error)
	// Append durably writes the entries. Entries already stored at or after
	// entries[0].Index are discarded first; entries[0].Index must not be
	// beyond LastIndex()+1.
	Append(entries []pb.Entry) error
}

// MemoryStorage implements the Storage interface backed by an
// in-memory array.
type MemoryStorage struct {
	// Protects access to all fields. Most methods of MemoryStorage are
	// run on the node goroutine, but tests inspect it from theirs.
	sync.Mutex

	hardState pb.HardState
	// ents[i] has raft log position i; ents[0] is a dummy entry.
	ents []pb.Entry
}

// NewMemoryStorage creates an empty MemoryStorage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		// When starting from scratch populate the list with a dummy entry at term zero.
		ents: make([]pb.Entry, 1),
	}
}

// InitialState implements the Storage interface.
func (ms *MemoryStorage) InitialState() (pb.HardState, error) {
	ms.Lock()
	defer ms.Unlock()
	return ms.hardState, nil
}

// SetHardState implements the Storage interface.
func (ms *MemoryStorage) SetHardState(st pb.HardState) error {
	ms.Lock()
	defer ms.Unlock()
	ms.hardState = st
	return nil
}

// Entries implements the Storage interface.
func (ms *MemoryStorage) Entries(lo, hi uint64) ([]pb.Entry, error) {
	ms.Lock()
	defer ms.Unlock()
	if lo < 1 || lo > hi || hi > uint64(len(ms.ents)) {
		return nil, ErrUnavailable
	}
	return append([]pb.Entry(nil), ms.ents[lo:hi]...), nil
}

// Term implements the Storage interface.
func (ms *MemoryStorage) Term(i uint64) (uint64, error) {
	ms.Lock()
	defer ms.Unlock()
	if i >= uint64(len(ms.ents)) {
		return 0, ErrUnavailable
	}
	return ms.ents[i].Term, nil
}

// LastIndex implements the Storage interface.
func (ms *MemoryStorage) LastIndex() (uint64, error) {
	ms.Lock()
	defer ms.Unlock()
	return uint64(len(ms.ents)) - 1, nil
}

// Append implements the Storage interface.
func (ms *MemoryStorage) Append(entries []pb.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	ms.Lock()
	defer ms.Unlock()

	offset := entries[0].Index
	switch {
	case offset < 1:
		return fmt.Errorf("cannot append entry at index %d", offset)
	case uint64(len(ms.ents)) > offset:
		// truncate the conflicting suffix
		ms.ents = append([]pb.Entry{}, ms.ents[:offset]...)
		ms.ents = append(ms.ents, entries...)
	case uint64(len(ms.ents)) == offset:
		ms.ents = append(ms.ents, entries...)
	default:
		return fmt.Errorf("missing log entry [last: %d, append at: %d]",
			len(ms.ents)-1, offset)
	}
	return nil
}
