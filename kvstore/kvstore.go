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

// Package kvstore is an ordered key-value state machine fed by the
// committed entries of a raft node.
package kvstore

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"sync"

	"github.com/google/btree"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	pb "github.com/raftkit/raftkit/raft/raftpb"
)

type Op uint8

const (
	OpPut Op = iota + 1
	OpDelete
)

func (op Op) String() string {
	switch op {
	case OpPut:
		return "put"
	case OpDelete:
		return "delete"
	default:
		return fmt.Sprintf("Op(%d)", uint8(op))
	}
}

// Command is the payload of a log entry. ID identifies the request that
// proposed it so the proposer can wait for it to be applied.
type Command struct {
	ID    uint64
	Op    Op
	Key   string
	Value string
}

// Encode encodes c for use as log entry data.
func (c Command) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(c); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeCommand decodes log entry data written by Command.Encode.
func DecodeCommand(data []byte) (Command, error) {
	var c Command
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&c); err != nil {
		return Command{}, fmt.Errorf("cannot decode command: %w", err)
	}
	return c, nil
}

// KeyValue is a stored pair along with the log index that last wrote it.
type KeyValue struct {
	Key      string `json:"key"`
	Value    string `json:"value"`
	ModIndex uint64 `json:"mod_index"`
}

func (kv *KeyValue) Less(than btree.Item) bool {
	return kv.Key < than.(*KeyValue).Key
}

var keysTotal = prometheus.NewGauge(prometheus.GaugeOpts{
	Namespace: "raftkit",
	Subsystem: "kvstore",
	Name:      "keys_total",
	Help:      "Total number of keys in the store.",
})

func init() {
	prometheus.MustRegister(keysTotal)
}

// Store is the state machine. It implements raft.Applier.
type Store struct {
	lg *zap.Logger

	mu      sync.RWMutex
	tree    *btree.BTree
	applied uint64
	// closed and replaced each time applied moves
	appliedc chan struct{}

	wmu     sync.Mutex
	waiters map[uint64]chan struct{}
}

func New(lg *zap.Logger) *Store {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Store{
		lg:       lg,
		tree:     btree.New(32),
		appliedc: make(chan struct{}),
		waiters:  make(map[uint64]chan struct{}),
	}
}

// Apply applies committed entries in order. Entries without data or with
// undecodable data only advance the applied index.
func (s *Store) Apply(ents []pb.Entry) {
	var done []uint64
	s.mu.Lock()
	for _, e := range ents {
		if e.Index <= s.applied {
			s.lg.Panic("entry already applied",
				zap.Uint64("index", e.Index),
				zap.Uint64("applied", s.applied),
			)
		}
		s.applied = e.Index
		if len(e.Data) == 0 {
			continue
		}
		c, err := DecodeCommand(e.Data)
		if err != nil {
			s.lg.Warn("skipped undecodable entry", zap.Uint64("index", e.Index), zap.Error(err))
			continue
		}
		switch c.Op {
		case OpPut:
			s.tree.ReplaceOrInsert(&KeyValue{Key: c.Key, Value: c.Value, ModIndex: e.Index})
		case OpDelete:
			s.tree.Delete(&KeyValue{Key: c.Key})
		default:
			s.lg.Warn("skipped unknown operation", zap.Uint64("index", e.Index), zap.Stringer("op", c.Op))
		}
		if c.ID != 0 {
			done = append(done, c.ID)
		}
	}
	close(s.appliedc)
	s.appliedc = make(chan struct{})
	keysTotal.Set(float64(s.tree.Len()))
	s.mu.Unlock()

	s.wmu.Lock()
	for _, id := range done {
		if ch, ok := s.waiters[id]; ok {
			close(ch)
			delete(s.waiters, id)
		}
	}
	s.wmu.Unlock()
}

// Register returns a channel that is closed once the command with the given
// id has been applied. Callers must Cancel ids they stop waiting for.
func (s *Store) Register(id uint64) <-chan struct{} {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	ch, ok := s.waiters[id]
	if !ok {
		ch = make(chan struct{})
		s.waiters[id] = ch
	}
	return ch
}

// Cancel drops the waiter registered for id.
func (s *Store) Cancel(id uint64) {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	delete(s.waiters, id)
}

// WaitApplied blocks until the entry at index has been applied.
func (s *Store) WaitApplied(ctx context.Context, index uint64) error {
	for {
		s.mu.RLock()
		applied, ch := s.applied, s.appliedc
		s.mu.RUnlock()
		if applied >= index {
			return nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Get returns the value stored under key.
func (s *Store) Get(key string) (KeyValue, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item := s.tree.Get(&KeyValue{Key: key})
	if item == nil {
		return KeyValue{}, false
	}
	return *item.(*KeyValue), true
}

// Range returns up to limit pairs with keys in [from, to) in key order. An
// empty to means no upper bound; a limit of 0 means no limit.
func (s *Store) Range(from, to string, limit int) []KeyValue {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var kvs []KeyValue
	iter := func(i btree.Item) bool {
		kvs = append(kvs, *i.(*KeyValue))
		return limit == 0 || len(kvs) < limit
	}
	if to == "" {
		s.tree.AscendGreaterOrEqual(&KeyValue{Key: from}, iter)
	} else {
		s.tree.AscendRange(&KeyValue{Key: from}, &KeyValue{Key: to}, iter)
	}
	return kvs
}

// Len returns the number of keys.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tree.Len()
}

// AppliedIndex returns the index of the last applied entry.
func (s *Store) AppliedIndex() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.applied
}
