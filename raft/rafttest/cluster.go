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

package rafttest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/raftkit/raftkit/raft"
	pb "github.com/raftkit/raftkit/raft/raftpb"
)

const (
	electionTimeout   = 100 * time.Millisecond
	heartbeatInterval = 10 * time.Millisecond
)

// Member is one node of a Cluster together with its durable storage and
// what it has applied since it was last started.
type Member struct {
	ID      string
	Storage *raft.MemoryStorage

	c *Cluster

	mu      sync.Mutex
	node    *raft.Node
	stopped bool
	applied []pb.Entry
}

// Node returns the running node, or nil if the member is stopped.
func (m *Member) Node() *raft.Node {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return nil
	}
	return m.node
}

// Applied returns the entries applied since the member was last started.
func (m *Member) Applied() []pb.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]pb.Entry(nil), m.applied...)
}

// Log returns a copy of the member's durable log.
func (m *Member) Log() []pb.Entry {
	last, err := m.Storage.LastIndex()
	if err != nil || last == 0 {
		return nil
	}
	ents, err := m.Storage.Entries(1, last+1)
	if err != nil {
		return nil
	}
	return ents
}

func (m *Member) apply(ents []pb.Entry) {
	m.mu.Lock()
	n := m.node
	m.applied = append(m.applied, ents...)
	m.mu.Unlock()
	m.c.recordApplied(m.ID, n.Term(), ents)
}

type committed struct {
	entry pb.Entry
	// term of the applying node when the entry was applied
	term uint64
	by   string
}

// Cluster runs raft nodes over an in-process Network and watches them for
// safety violations while they run.
type Cluster struct {
	tb      testing.TB
	lg      *zap.Logger
	Network *Network
	peers   []string
	members map[string]*Member

	mu         sync.Mutex
	leaders    map[uint64]string
	committed  map[uint64]committed
	violations []error

	stopc chan struct{}
	donec chan struct{}
}

// NewCluster starts size nodes named "1" to size, all followers with empty
// logs. The cluster is terminated when the test ends.
func NewCluster(tb testing.TB, size int) *Cluster {
	c := &Cluster{
		tb:        tb,
		lg:        zaptest.NewLogger(tb, zaptest.Level(zap.WarnLevel)),
		Network:   NewNetwork(),
		members:   make(map[string]*Member, size),
		leaders:   make(map[uint64]string),
		committed: make(map[uint64]committed),
		stopc:     make(chan struct{}),
		donec:     make(chan struct{}),
	}
	for i := 1; i <= size; i++ {
		c.peers = append(c.peers, strconv.Itoa(i))
	}
	for _, id := range c.peers {
		m := &Member{ID: id, Storage: raft.NewMemoryStorage(), c: c, stopped: true}
		c.members[id] = m
		c.Start(id)
	}
	go c.watch()
	tb.Cleanup(c.Terminate)
	return c
}

// IDs returns the member ids in order.
func (c *Cluster) IDs() []string { return append([]string(nil), c.peers...) }

// Member returns the member called id.
func (c *Cluster) Member(id string) *Member { return c.members[id] }

// Start starts a stopped member on its existing storage.
func (c *Cluster) Start(id string) {
	m := c.members[id]
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.stopped {
		return
	}
	n, err := raft.NewNode(raft.Config{
		ID:                id,
		Peers:             c.peers,
		ElectionTimeout:   electionTimeout,
		HeartbeatInterval: heartbeatInterval,
		Storage:           m.Storage,
		Transport:         c.Network.Transport(id),
		Applier:           raft.ApplyFunc(m.apply),
		Logger:            c.lg.Named(id),
	})
	if err != nil {
		c.tb.Fatalf("start member %s: %v", id, err)
	}
	m.node = n
	m.stopped = false
	m.applied = nil
	c.Network.Register(id, n)
	n.Start()
}

// Stop stops a member. Its storage survives for a later Start.
func (c *Cluster) Stop(id string) {
	m := c.members[id]
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	n := m.node
	m.mu.Unlock()
	c.Network.Unregister(id)
	n.Stop()
}

// Terminate stops every member and the safety watcher.
func (c *Cluster) Terminate() {
	select {
	case <-c.stopc:
		return
	default:
	}
	close(c.stopc)
	<-c.donec
	for _, id := range c.peers {
		c.Stop(id)
	}
}

// Leader returns the member that leads the highest term any running member
// knows of, once a majority of the running members follow it.
func (c *Cluster) Leader() string {
	var (
		lead  string
		term  uint64
		votes = make(map[string]int)
	)
	for _, id := range c.peers {
		n := c.members[id].Node()
		if n == nil {
			continue
		}
		st := n.Status()
		if st.RaftState == raft.StateLeader && st.Term >= term {
			lead, term = id, st.Term
		}
		if st.Lead != raft.None {
			votes[st.Lead]++
		}
	}
	if lead == "" || votes[lead] <= len(c.peers)/2 {
		return ""
	}
	return lead
}

// WaitLeader waits until Leader returns a member other than any of except.
func (c *Cluster) WaitLeader(timeout time.Duration, except ...string) (string, error) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if lead := c.Leader(); lead != "" && !contains(except, lead) {
			return lead, nil
		}
		time.Sleep(heartbeatInterval / 2)
	}
	return "", fmt.Errorf("rafttest: no leader elected within %v", timeout)
}

// Propose submits data through whichever member currently leads, retrying
// until the leader accepts it or ctx is done.
func (c *Cluster) Propose(ctx context.Context, data []byte) (string, uint64, error) {
	for {
		if lead := c.Leader(); lead != "" {
			if n := c.members[lead].Node(); n != nil {
				idx, err := n.SubmitCommand(ctx, data)
				if err == nil {
					return lead, idx, nil
				}
				if !errors.Is(err, raft.ErrNotLeader) && !errors.Is(err, raft.ErrStopped) {
					return "", 0, err
				}
			}
		}
		select {
		case <-time.After(heartbeatInterval / 2):
		case <-ctx.Done():
			return "", 0, ctx.Err()
		}
	}
}

// WaitApplied waits until every given member has applied an entry whose
// data is want.
func (c *Cluster) WaitApplied(timeout time.Duration, want []byte, ids ...string) error {
	deadline := time.Now().Add(timeout)
	for _, id := range ids {
		for !hasData(c.members[id].Applied(), want) {
			if time.Now().After(deadline) {
				return fmt.Errorf("rafttest: member %s did not apply %q within %v", id, want, timeout)
			}
			time.Sleep(heartbeatInterval / 2)
		}
	}
	return nil
}

func (c *Cluster) recordApplied(id string, term uint64, ents []pb.Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range ents {
		prev, ok := c.committed[e.Index]
		if !ok {
			c.committed[e.Index] = committed{entry: e, term: term, by: id}
			continue
		}
		if !sameEntry(prev.entry, e) {
			c.violations = append(c.violations, fmt.Errorf(
				"state machine safety: %s applied %s at index %d, %s applied %s",
				id, e, e.Index, prev.by, prev.entry))
		}
	}
}

func (c *Cluster) watch() {
	defer close(c.donec)
	t := time.NewTicker(time.Millisecond)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			c.observe()
		case <-c.stopc:
			return
		}
	}
}

// observe samples every running member once.
func (c *Cluster) observe() {
	for _, id := range c.peers {
		m := c.members[id]
		n := m.Node()
		if n == nil {
			continue
		}
		st := n.Status()
		if st.RaftState != raft.StateLeader {
			continue
		}
		c.observeLeader(id, st.Term, m.Log())
	}
}

func (c *Cluster) observeLeader(id string, term uint64, log []pb.Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if prev, ok := c.leaders[term]; ok && prev != id {
		c.violations = append(c.violations, fmt.Errorf(
			"election safety: %s and %s both lead term %d", prev, id, term))
		return
	}
	c.leaders[term] = id

	// committed entries never leave a log, so a log read after the
	// member became leader holds them even if it has stepped down since
	for idx, ce := range c.committed {
		if ce.term >= term {
			continue
		}
		if idx > uint64(len(log)) || !sameEntry(log[idx-1], ce.entry) {
			c.violations = append(c.violations, fmt.Errorf(
				"leader completeness: %s leads term %d without committed entry %s", id, term, ce.entry))
		}
	}
}

// CheckSafety compares the logs and applied entries of all members and
// returns every violation seen while the cluster ran.
func (c *Cluster) CheckSafety() error {
	var errs []error
	logs := make(map[string][]pb.Entry, len(c.peers))
	for _, id := range c.peers {
		logs[id] = c.members[id].Log()
	}
	for i, a := range c.peers {
		for _, b := range c.peers[i+1:] {
			if err := checkLogMatching(a, logs[a], b, logs[b]); err != nil {
				errs = append(errs, err)
			}
		}
	}
	c.mu.Lock()
	errs = append(errs, c.violations...)
	c.mu.Unlock()
	return errors.Join(errs...)
}

// Leaders returns the leader observed in each term.
func (c *Cluster) Leaders() map[uint64]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[uint64]string, len(c.leaders))
	for t, id := range c.leaders {
		out[t] = id
	}
	return out
}

// Terms returns the terms a leader was observed in, ascending.
func (c *Cluster) Terms() []uint64 {
	ls := c.Leaders()
	terms := make([]uint64, 0, len(ls))
	for t := range ls {
		terms = append(terms, t)
	}
	sort.Slice(terms, func(i, j int) bool { return terms[i] < terms[j] })
	return terms
}

func checkLogMatching(a string, la []pb.Entry, b string, lb []pb.Entry) error {
	// the highest index where both logs hold an entry of the same term
	n := min(len(la), len(lb))
	match := -1
	for i := n - 1; i >= 0; i-- {
		if la[i].Term == lb[i].Term {
			match = i
			break
		}
	}
	for i := 0; i <= match; i++ {
		if !sameEntry(la[i], lb[i]) {
			return fmt.Errorf("log matching: %s and %s agree at index %d but differ at %d: %s != %s",
				a, b, match+1, i+1, la[i], lb[i])
		}
	}
	return nil
}

func sameEntry(a, b pb.Entry) bool {
	return a.Index == b.Index && a.Term == b.Term && bytes.Equal(a.Data, b.Data)
}

func hasData(ents []pb.Entry, data []byte) bool {
	for _, e := range ents {
		if bytes.Equal(e.Data, data) {
			return true
		}
	}
	return false
}

func contains(ids []string, id string) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}
