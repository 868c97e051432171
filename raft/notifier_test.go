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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	pb "github.com/raftkit/raftkit/raft/raftpb"
)

func TestNotifierDeliversInOrder(t *testing.T) {
	al := &appliedLog{}
	n := newNotifier(zaptest.NewLogger(t), al)
	go n.run()

	n.push([]pb.Entry{{Index: 1, Term: 1, Data: []byte("a")}})
	n.push(nil)
	n.push([]pb.Entry{{Index: 2, Term: 1, Data: []byte("b")}, {Index: 3, Term: 2, Data: []byte("c")}})

	require.Eventually(t, func() bool { return n.applied.Load() == 3 }, 5*time.Second, time.Millisecond)
	n.stop()
	assert.Equal(t, []string{"a", "b", "c"}, al.data())
}

func TestNotifierDrainsOnStop(t *testing.T) {
	al := &appliedLog{}
	n := newNotifier(zaptest.NewLogger(t), al)
	n.push([]pb.Entry{{Index: 1, Term: 1, Data: []byte("a")}})
	go n.run()
	n.stop()

	assert.Equal(t, []string{"a"}, al.data())
	assert.Equal(t, uint64(1), n.applied.Load())
}

func TestNotifierPanicsOnGap(t *testing.T) {
	n := newNotifier(zaptest.NewLogger(t), nil)
	n.push([]pb.Entry{{Index: 2, Term: 1}})
	assert.Panics(t, n.drain)
}

func TestApplyFunc(t *testing.T) {
	var got []pb.Entry
	var a Applier = ApplyFunc(func(ents []pb.Entry) { got = ents })
	a.Apply([]pb.Entry{{Index: 1}})
	assert.Len(t, got, 1)
}
