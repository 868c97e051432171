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
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	pb "github.com/raftkit/raftkit/raft/raftpb"
)

var errBlocked = errors.New("blocked")

// localTransport delivers RPCs by calling the target node's handler
// directly.
type localTransport struct {
	from string
	c    *testCluster
}

func (t *localTransport) handler(to string) (Handler, error) {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	if t.c.blocked[t.from] || t.c.blocked[to] {
		return nil, errBlocked
	}
	h, ok := t.c.routes[to]
	if !ok {
		return nil, fmt.Errorf("no route to %s", to)
	}
	return h, nil
}

func (t *localTransport) RequestVote(ctx context.Context, to string, req *pb.RequestVoteRequest) (*pb.RequestVoteResponse, error) {
	h, err := t.handler(to)
	if err != nil {
		return nil, err
	}
	return h.HandleRequestVote(ctx, req)
}

func (t *localTransport) AppendEntries(ctx context.Context, to string, req *pb.AppendEntriesRequest) (*pb.AppendEntriesResponse, error) {
	h, err := t.handler(to)
	if err != nil {
		return nil, err
	}
	return h.HandleAppendEntries(ctx, req)
}

// appliedLog records what an Applier was handed.
type appliedLog struct {
	mu   sync.Mutex
	ents []pb.Entry
}

func (a *appliedLog) Apply(ents []pb.Entry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ents = append(a.ents, ents...)
}

func (a *appliedLog) data() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []string
	for _, e := range a.ents {
		if len(e.Data) > 0 {
			out = append(out, string(e.Data))
		}
	}
	return out
}

type testCluster struct {
	clock    clockwork.FakeClock
	nodes    map[string]*Node
	storages map[string]*MemoryStorage
	applied  map[string]*appliedLog
	routes   map[string]Handler
	blocked  map[string]bool
	mu       sync.Mutex
}

func newTestCluster(t *testing.T, size int) *testCluster {
	t.Helper()
	c := &testCluster{
		clock:    clockwork.NewFakeClock(),
		nodes:    make(map[string]*Node),
		storages: make(map[string]*MemoryStorage),
		applied:  make(map[string]*appliedLog),
		routes:   make(map[string]Handler),
		blocked:  make(map[string]bool),
	}
	peers := idsBySize(size)
	for _, id := range peers {
		c.storages[id] = NewMemoryStorage()
		c.start(t, id, peers)
	}
	t.Cleanup(func() {
		for _, n := range c.nodes {
			n.Stop()
		}
	})
	return c
}

func (c *testCluster) start(t *testing.T, id string, peers []string) *Node {
	t.Helper()
	c.applied[id] = &appliedLog{}
	cfg := newTestConfig(id, peers, c.storages[id])
	cfg.Clock = c.clock
	cfg.Applier = c.applied[id]
	cfg.Logger = zaptest.NewLogger(t)
	cfg.Transport = &localTransport{from: id, c: c}
	n, err := NewNode(*cfg)
	require.NoError(t, err)
	c.mu.Lock()
	c.routes[id] = n
	c.nodes[id] = n
	c.mu.Unlock()
	n.Start()
	return n
}

func (c *testCluster) elect(t *testing.T, id string) *Node {
	t.Helper()
	n := c.nodes[id]
	require.NoError(t, n.Campaign(context.Background()))
	require.Eventually(t, func() bool {
		for _, o := range c.nodes {
			if o.Leader() != id {
				return false
			}
		}
		return n.Role() == StateLeader
	}, 5*time.Second, time.Millisecond)
	return n
}

func TestNodeSingleMemberCommitsAndApplies(t *testing.T) {
	c := newTestCluster(t, 1)
	n := c.elect(t, "1")
	assert.Equal(t, uint64(1), n.Term())

	idx, err := n.SubmitCommand(context.Background(), []byte("foo"))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), idx)

	require.Eventually(t, func() bool {
		return n.CommitIndex() == 1 && n.Status().Applied == 1
	}, 5*time.Second, time.Millisecond)
	assert.Equal(t, []string{"foo"}, c.applied["1"].data())
}

func TestNodeReplicatesToFollowers(t *testing.T) {
	c := newTestCluster(t, 3)
	n := c.elect(t, "1")

	for _, cmd := range []string{"a", "b", "c"} {
		_, err := n.SubmitCommand(context.Background(), []byte(cmd))
		require.NoError(t, err)
	}
	for _, id := range []string{"1", "2", "3"} {
		require.Eventually(t, func() bool {
			return len(c.applied[id].data()) == 3
		}, 5*time.Second, time.Millisecond, "node %s", id)
		assert.Equal(t, []string{"a", "b", "c"}, c.applied[id].data(), "node %s", id)
		assert.Equal(t, uint64(3), c.nodes[id].CommitIndex(), "node %s", id)
	}
}

func TestNodeProposalOnFollower(t *testing.T) {
	c := newTestCluster(t, 3)

	_, err := c.nodes["2"].SubmitCommand(context.Background(), []byte("x"))
	var nle *NotLeaderError
	require.ErrorAs(t, err, &nle)
	assert.True(t, errors.Is(err, ErrNotLeader))
	assert.Equal(t, None, nle.Leader)

	c.elect(t, "1")
	_, err = c.nodes["2"].SubmitCommand(context.Background(), []byte("x"))
	require.ErrorAs(t, err, &nle)
	assert.Equal(t, "1", nle.Leader)
}

func TestNodeElectionAlarm(t *testing.T) {
	c := newTestCluster(t, 1)
	n := c.nodes["1"]
	assert.Equal(t, StateFollower, n.Role())

	// the randomized timeout is below twice the election timeout
	c.clock.Advance(200 * time.Millisecond)
	require.Eventually(t, func() bool { return n.Role() == StateLeader }, 5*time.Second, time.Millisecond)
	assert.Equal(t, uint64(1), n.Term())
}

func TestNodePersistsVoteBeforeReplying(t *testing.T) {
	c := newTestCluster(t, 3)
	c.elect(t, "1")

	for _, id := range []string{"1", "2", "3"} {
		hs, err := c.storages[id].InitialState()
		require.NoError(t, err)
		assert.Equal(t, uint64(1), hs.Term, "node %s", id)
	}
	hs, err := c.storages["1"].InitialState()
	require.NoError(t, err)
	assert.Equal(t, "1", hs.Vote)
}

func TestNodeRestart(t *testing.T) {
	c := newTestCluster(t, 3)
	n := c.elect(t, "1")
	_, err := n.SubmitCommand(context.Background(), []byte("a"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(c.applied["2"].data()) == 1 }, 5*time.Second, time.Millisecond)

	c.nodes["2"].Stop()
	n2 := c.start(t, "2", idsBySize(3))
	assert.Equal(t, StateFollower, n2.Role())
	assert.Equal(t, uint64(1), n2.Term())
	st := n2.Status()
	assert.Equal(t, uint64(1), st.LastIndex)
	// commit index is not durable and is relearned from the leader
	assert.Zero(t, st.Commit)

	_, err = n.SubmitCommand(context.Background(), []byte("b"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(c.applied["2"].data()) == 2 }, 5*time.Second, time.Millisecond)
	assert.Equal(t, []string{"a", "b"}, c.applied["2"].data())
}

func TestNodeRejectsUnknownMember(t *testing.T) {
	c := newTestCluster(t, 3)
	n := c.nodes["1"]

	_, err := n.HandleRequestVote(context.Background(), &pb.RequestVoteRequest{Term: 5, CandidateID: "9"})
	assert.ErrorIs(t, err, ErrUnknownMember)
	_, err = n.HandleAppendEntries(context.Background(), &pb.AppendEntriesRequest{Term: 5, LeaderID: "1"})
	assert.ErrorIs(t, err, ErrUnknownMember)
	assert.Zero(t, n.Term())
}

func TestNodeStaleTermReply(t *testing.T) {
	c := newTestCluster(t, 3)
	c.elect(t, "1")
	c.elect(t, "2")
	n := c.nodes["2"]
	require.Equal(t, uint64(2), n.Term())

	resp, err := n.HandleAppendEntries(context.Background(), &pb.AppendEntriesRequest{Term: 1, LeaderID: "1"})
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, uint64(2), resp.Term)

	vresp, err := n.HandleRequestVote(context.Background(), &pb.RequestVoteRequest{Term: 1, CandidateID: "3"})
	require.NoError(t, err)
	assert.False(t, vresp.VoteGranted)
	assert.Equal(t, uint64(2), vresp.Term)
}

func TestNodeRejectsTermZero(t *testing.T) {
	c := newTestCluster(t, 3)
	c.elect(t, "1")
	c.elect(t, "2")
	n := c.nodes["3"]
	before := n.Status()
	require.Equal(t, uint64(2), before.Term)
	require.Equal(t, "2", before.Lead)

	_, err := n.HandleRequestVote(context.Background(), &pb.RequestVoteRequest{Term: 0, CandidateID: "1", LastLogIndex: 9, LastLogTerm: 9})
	assert.ErrorIs(t, err, ErrStaleTerm)
	_, err = n.HandleAppendEntries(context.Background(), &pb.AppendEntriesRequest{
		Term:     0,
		LeaderID: "1",
		Entries:  []pb.Entry{{Term: 0, Index: 1, Data: []byte("x")}},
	})
	assert.ErrorIs(t, err, ErrStaleTerm)

	after := n.Status()
	assert.Equal(t, before.Term, after.Term)
	assert.Equal(t, before.Vote, after.Vote)
	assert.Equal(t, "2", after.Lead)
	assert.Equal(t, before.LastIndex, after.LastIndex)
	hs, err := c.storages["3"].InitialState()
	require.NoError(t, err)
	assert.Equal(t, before.Vote, hs.Vote)
}

func TestNodeRejectsMalformedAppend(t *testing.T) {
	tests := []struct {
		name string
		req  *pb.AppendEntriesRequest
	}{
		{"index past prev", &pb.AppendEntriesRequest{Term: 4, LeaderID: "2", Entries: []pb.Entry{{Term: 4, Index: 5}}}},
		{"gap", &pb.AppendEntriesRequest{Term: 4, LeaderID: "2", Entries: []pb.Entry{{Term: 4, Index: 1}, {Term: 4, Index: 3}}}},
		{"index before prev", &pb.AppendEntriesRequest{Term: 4, LeaderID: "2", PrevLogIndex: 2, Entries: []pb.Entry{{Term: 4, Index: 2}}}},
		{"entry term above request", &pb.AppendEntriesRequest{Term: 4, LeaderID: "2", Entries: []pb.Entry{{Term: 5, Index: 1}}}},
		{"entry term zero", &pb.AppendEntriesRequest{Term: 4, LeaderID: "2", Entries: []pb.Entry{{Term: 0, Index: 1}}}},
		{"prev term above request", &pb.AppendEntriesRequest{Term: 4, LeaderID: "2", PrevLogTerm: 5}},
	}
	c := newTestCluster(t, 3)
	n := c.nodes["1"]
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := n.HandleAppendEntries(context.Background(), tt.req)
			assert.ErrorIs(t, err, ErrMalformedMessage)
		})
	}
	assert.Zero(t, n.Term())
	assert.Zero(t, n.Status().LastIndex)

	// the actor is still serving
	resp, err := n.HandleAppendEntries(context.Background(), &pb.AppendEntriesRequest{
		Term:     4,
		LeaderID: "2",
		Entries:  []pb.Entry{{Term: 4, Index: 1, Data: []byte("x")}},
	})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, uint64(1), resp.MatchIndex)
	assert.Equal(t, uint64(4), n.Term())
}

func TestNodeUnreachablePeerDoesNotBlockCommit(t *testing.T) {
	c := newTestCluster(t, 3)
	n := c.elect(t, "1")
	c.mu.Lock()
	c.blocked["3"] = true
	c.mu.Unlock()

	_, err := n.SubmitCommand(context.Background(), []byte("a"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return n.CommitIndex() == 1 }, 5*time.Second, time.Millisecond)
	assert.Empty(t, c.applied["3"].data())
}

func TestNodeStop(t *testing.T) {
	c := newTestCluster(t, 1)
	n := c.elect(t, "1")
	n.Stop()
	// a second stop is a no-op
	n.Stop()

	_, err := n.SubmitCommand(context.Background(), []byte("x"))
	assert.ErrorIs(t, err, ErrStopped)
	assert.ErrorIs(t, n.Campaign(context.Background()), ErrStopped)
	_, err = n.HandleRequestVote(context.Background(), &pb.RequestVoteRequest{Term: 5, CandidateID: "1"})
	assert.Error(t, err)
}

func TestNodeSubmitHonorsContext(t *testing.T) {
	st := NewMemoryStorage()
	cfg := newTestConfig("1", []string{"1"}, st)
	cfg.Transport = &localTransport{}
	cfg.Logger = zaptest.NewLogger(t)
	n, err := NewNode(*cfg)
	require.NoError(t, err)
	defer n.Stop()

	// not started: nothing receives the proposal
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = n.SubmitCommand(ctx, []byte("x"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewNodeValidation(t *testing.T) {
	cfg := newTestConfig("1", []string{"1"}, NewMemoryStorage())
	_, err := NewNode(*cfg)
	assert.Error(t, err, "transport is required")

	cfg.Transport = &localTransport{}
	cfg.ElectionTimeout = cfg.HeartbeatInterval
	_, err = NewNode(*cfg)
	assert.Error(t, err)
}
