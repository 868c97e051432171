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
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	pb "github.com/raftkit/raftkit/raft/raftpb"
)

// Applier consumes committed entries. Apply is called from a single
// goroutine, in index order, with no gaps and each entry exactly once.
type Applier interface {
	Apply(entries []pb.Entry)
}

// ApplyFunc adapts a function to the Applier interface.
type ApplyFunc func(entries []pb.Entry)

func (f ApplyFunc) Apply(entries []pb.Entry) { f(entries) }

// notifier delivers committed entries to the Applier on its own goroutine
// so that a slow application never stalls the node. The queue between the
// node and the notifier is unbounded and preserves order.
type notifier struct {
	lg      *zap.Logger
	applier Applier

	mu      sync.Mutex
	pending []pb.Entry
	notifyc chan struct{}

	applied atomic.Uint64

	stopc chan struct{}
	donec chan struct{}
}

func newNotifier(lg *zap.Logger, a Applier) *notifier {
	if a == nil {
		a = ApplyFunc(func([]pb.Entry) {})
	}
	return &notifier{
		lg:      lg,
		applier: a,
		notifyc: make(chan struct{}, 1),
		stopc:   make(chan struct{}),
		donec:   make(chan struct{}),
	}
}

// push queues ents behind everything pushed before. It never blocks.
func (n *notifier) push(ents []pb.Entry) {
	if len(ents) == 0 {
		return
	}
	n.mu.Lock()
	n.pending = append(n.pending, ents...)
	n.mu.Unlock()
	select {
	case n.notifyc <- struct{}{}:
	default:
	}
}

func (n *notifier) run() {
	defer close(n.donec)
	for {
		select {
		case <-n.notifyc:
			n.drain()
		case <-n.stopc:
			// deliver what was committed before the stop
			n.drain()
			return
		}
	}
}

func (n *notifier) drain() {
	n.mu.Lock()
	ents := n.pending
	n.pending = nil
	n.mu.Unlock()
	if len(ents) == 0 {
		return
	}
	if prev := n.applied.Load(); ents[0].Index != prev+1 {
		n.lg.Panic("unexpected committed entry index",
			zap.Uint64("applied", prev),
			zap.Uint64("index", ents[0].Index),
		)
	}
	n.applier.Apply(ents)
	last := ents[len(ents)-1].Index
	n.applied.Store(last)
	proposalsApplied.Set(float64(last))
	n.lg.Debug("applied entries",
		zap.Uint64("first-index", ents[0].Index),
		zap.Uint64("last-index", last),
	)
}

func (n *notifier) stop() {
	close(n.stopc)
	<-n.donec
}
