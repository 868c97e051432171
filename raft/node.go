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
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	pb "github.com/raftkit/raftkit/raft/raftpb"
)

// Transport carries outbound RPCs to peers. Implementations may drop,
// delay or reorder calls; an error means no response was obtained.
type Transport interface {
	RequestVote(ctx context.Context, to string, req *pb.RequestVoteRequest) (*pb.RequestVoteResponse, error)
	AppendEntries(ctx context.Context, to string, req *pb.AppendEntriesRequest) (*pb.AppendEntriesResponse, error)
}

// Handler answers inbound RPCs. *Node implements it; transports deliver
// requests from peers to it.
type Handler interface {
	HandleRequestVote(ctx context.Context, req *pb.RequestVoteRequest) (*pb.RequestVoteResponse, error)
	HandleAppendEntries(ctx context.Context, req *pb.AppendEntriesRequest) (*pb.AppendEntriesResponse, error)
}

type inbound struct {
	m      pb.Message
	replyc chan inboundReply
}

type inboundReply struct {
	m   pb.Message
	err error
}

type proposal struct {
	data    []byte
	resultc chan proposalResult
}

type proposalResult struct {
	index uint64
	err   error
}

// Node is a member of a raft group. A single goroutine owns the raft state
// machine; RPCs, proposals, alarm expiries and RPC responses all reach it
// through channels and are applied one at a time. Introspection methods
// read a snapshot published after each step and never wait for that
// goroutine.
type Node struct {
	id    string
	peers map[string]struct{}
	lg    *zap.Logger

	r          *raft
	transport  Transport
	rpcTimeout time.Duration
	limiters   map[string]*rate.Limiter

	recvc  chan inbound
	respc  chan pb.Message
	propc  chan proposal
	campc  chan struct{}
	alarmc chan alarmFire

	eAlarm *alarm
	hAlarm *alarm

	notifier *notifier

	mu     sync.RWMutex
	status Status

	// ctx is cancelled on Stop and bounds every outbound RPC.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	started  atomic.Bool
	stopc    chan struct{}
	donec    chan struct{}
	stopOnce sync.Once
}

// NewNode restores a node from cfg.Storage. The node does not act on any
// input until Start is called.
func NewNode(cfg Config) (*Node, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid raft config: %w", err)
	}
	if cfg.Transport == nil {
		return nil, errors.New("invalid raft config: transport cannot be nil")
	}

	n := &Node{
		id:         cfg.ID,
		peers:      make(map[string]struct{}, len(cfg.Peers)),
		lg:         cfg.Logger,
		transport:  cfg.Transport,
		rpcTimeout: cfg.RPCTimeout,
		limiters:   make(map[string]*rate.Limiter),
		recvc:      make(chan inbound),
		respc:      make(chan pb.Message, 128),
		propc:      make(chan proposal),
		campc:      make(chan struct{}),
		alarmc:     make(chan alarmFire),
		stopc:      make(chan struct{}),
		donec:      make(chan struct{}),
	}
	n.ctx, n.cancel = context.WithCancel(context.Background())
	for _, id := range cfg.Peers {
		n.peers[id] = struct{}{}
		if id != cfg.ID {
			n.limiters[id] = rate.NewLimiter(rate.Every(cfg.RejectRetryInterval), 1)
		}
	}
	n.eAlarm = newAlarm(electionAlarm, cfg.Clock, n.alarmc, n.stopc)
	n.hAlarm = newAlarm(heartbeatAlarm, cfg.Clock, n.alarmc, n.stopc)
	n.notifier = newNotifier(cfg.Logger, cfg.Applier)
	n.r = newRaft(&cfg, n.eAlarm, n.hAlarm)
	n.publish()
	return n, nil
}

// Start runs the node until Stop is called.
func (n *Node) Start() {
	if !n.started.CompareAndSwap(false, true) {
		return
	}
	go n.notifier.run()
	go n.run()
}

// Stop stops the node, waits for in-flight RPCs to unwind and for the
// already committed entries to be applied.
func (n *Node) Stop() {
	n.stopOnce.Do(func() {
		close(n.stopc)
		n.cancel()
		if n.started.Load() {
			<-n.donec
			n.wg.Wait()
			n.notifier.stop()
		}
		n.lg.Info("stopped raft node", zap.String("local-member-id", n.id))
	})
}

func (n *Node) run() {
	defer close(n.donec)
	defer func() {
		n.eAlarm.Stop()
		n.hAlarm.Stop()
	}()

	for {
		select {
		case in := <-n.recvc:
			n.stepInbound(in)
		case m := <-n.respc:
			if err := n.r.Step(m); err != nil {
				n.lg.Warn("failed to step response", zap.String("local-member-id", n.id), zap.Error(err))
			}
			n.advance(n.r.readMessages())
		case p := <-n.propc:
			n.propose(p)
		case <-n.campc:
			n.r.Step(pb.Message{Type: pb.MsgHup})
			n.advance(n.r.readMessages())
		case f := <-n.alarmc:
			n.fire(f)
		case <-n.stopc:
			return
		}
	}
}

func (n *Node) stepInbound(in inbound) {
	if err := n.r.Step(in.m); err != nil {
		n.lg.Warn("failed to step request", zap.String("local-member-id", n.id), zap.Error(err))
	}
	msgs := n.r.readMessages()
	reply := inboundReply{err: fmt.Errorf("raft: no reply to %s from %s", in.m.Type, in.m.From)}
	want := replyMsgType(in.m.Type)
	for i, m := range msgs {
		if m.Type == want && m.To == in.m.From {
			reply = inboundReply{m: m}
			msgs = append(msgs[:i:i], msgs[i+1:]...)
			break
		}
	}
	// hard state and log were written inside Step
	in.replyc <- reply
	n.advance(msgs)
}

func (n *Node) propose(p proposal) {
	err := n.r.Step(pb.Message{Type: pb.MsgProp, From: n.id, Entries: []pb.Entry{{Data: p.data}}})
	if err != nil {
		proposalsFailed.Inc()
		p.resultc <- proposalResult{err: err}
		n.advance(n.r.readMessages())
		return
	}
	p.resultc <- proposalResult{index: n.r.raftLog.lastIndex()}
	n.advance(n.r.readMessages())
}

func (n *Node) fire(f alarmFire) {
	a := n.eAlarm
	t := pb.MsgHup
	if f.kind == heartbeatAlarm {
		a, t = n.hAlarm, pb.MsgBeat
	}
	if !a.current(f) {
		return
	}
	a.timer = nil
	n.r.Step(pb.Message{Type: t})
	n.advance(n.r.readMessages())
}

// advance sends what the last step produced, hands newly committed entries
// to the notifier and publishes the new status.
func (n *Node) advance(msgs []pb.Message) {
	for _, m := range msgs {
		n.dispatch(m)
	}
	if ents := n.r.raftLog.nextEnts(); len(ents) > 0 {
		n.notifier.push(ents)
		n.r.raftLog.appliedTo(ents[len(ents)-1].Index)
	}
	n.publish()
}

func (n *Node) dispatch(m pb.Message) {
	switch m.Type {
	case pb.MsgVote:
		req := m.VoteRequest()
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			ctx, cancel := context.WithTimeout(n.ctx, n.rpcTimeout)
			defer cancel()
			resp, err := n.transport.RequestVote(ctx, m.To, req)
			if err != nil {
				n.unreachable(m, err)
				return
			}
			n.post(pb.VoteResponseMessage(m.To, n.id, resp))
		}()
	case pb.MsgApp:
		req := m.AppendRequest()
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			ctx, cancel := context.WithTimeout(n.ctx, n.rpcTimeout)
			defer cancel()
			resp, err := n.transport.AppendEntries(ctx, m.To, req)
			if err != nil {
				n.unreachable(m, err)
				return
			}
			if !resp.Success && resp.Term <= req.Term {
				// the rejection triggers an immediate resend; pace it
				if err := n.limiters[m.To].Wait(n.ctx); err != nil {
					return
				}
			}
			n.post(pb.AppendResponseMessage(m.To, n.id, req, resp))
		}()
	default:
		n.lg.Warn("dropped unexpected outbound message",
			zap.String("local-member-id", n.id),
			zap.String("message", DescribeMessage(m, nil)),
		)
	}
}

func (n *Node) unreachable(m pb.Message, err error) {
	n.lg.Debug("rpc failed",
		zap.String("local-member-id", n.id),
		zap.String("to", m.To),
		zap.Stringer("type", m.Type),
		zap.Error(err),
	)
	n.post(pb.Message{Type: pb.MsgUnreachable, From: m.To})
}

func (n *Node) post(m pb.Message) {
	select {
	case n.respc <- m:
	case <-n.stopc:
	}
}

func (n *Node) publish() {
	st := getStatus(n.r)
	n.mu.Lock()
	prev := n.status
	n.status = st
	n.mu.Unlock()

	if st.Lead != prev.Lead {
		if st.Lead != None {
			leaderChanges.Inc()
			n.lg.Info("elected leader",
				zap.String("local-member-id", n.id),
				zap.String("leader", st.Lead),
				zap.Uint64("term", st.Term),
			)
		} else if prev.Lead != None {
			n.lg.Info("lost leader",
				zap.String("local-member-id", n.id),
				zap.String("leader", prev.Lead),
				zap.Uint64("term", st.Term),
			)
		}
	}
	currentTerm.Set(float64(st.Term))
	commitIndex.Set(float64(st.Commit))
	proposalsCommitted.Set(float64(st.Commit))
	if st.Lead != None {
		hasLeader.Set(1)
	} else {
		hasLeader.Set(0)
	}
	if st.RaftState == StateLeader {
		isLeader.Set(1)
	} else {
		isLeader.Set(0)
	}
}

// SubmitCommand appends cmd to the leader's log and returns its index once
// the entry is durable locally. It does not wait for the entry to commit.
// On a follower or candidate it returns a *NotLeaderError.
func (n *Node) SubmitCommand(ctx context.Context, cmd []byte) (uint64, error) {
	p := proposal{data: append([]byte(nil), cmd...), resultc: make(chan proposalResult, 1)}
	select {
	case n.propc <- p:
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-n.stopc:
		return 0, ErrStopped
	}
	select {
	case res := <-p.resultc:
		return res.index, res.err
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-n.stopc:
		return 0, ErrStopped
	}
}

// Campaign makes the node start an election now, as if its election alarm
// had fired. It is a no-op on the leader.
func (n *Node) Campaign(ctx context.Context) error {
	select {
	case n.campc <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-n.stopc:
		return ErrStopped
	}
}

// HandleRequestVote answers a RequestVote RPC. The vote, if granted, is
// durable when this returns.
func (n *Node) HandleRequestVote(ctx context.Context, req *pb.RequestVoteRequest) (*pb.RequestVoteResponse, error) {
	if req.Term == 0 {
		return nil, fmt.Errorf("%w: vote request from %q carries term 0", ErrStaleTerm, req.CandidateID)
	}
	m, err := n.recv(ctx, pb.VoteRequestMessage(n.id, req))
	if err != nil {
		return nil, err
	}
	return m.VoteResponse(), nil
}

// HandleAppendEntries answers an AppendEntries RPC. Accepted entries are
// durable when this returns.
func (n *Node) HandleAppendEntries(ctx context.Context, req *pb.AppendEntriesRequest) (*pb.AppendEntriesResponse, error) {
	if err := checkAppendRequest(req); err != nil {
		return nil, err
	}
	m, err := n.recv(ctx, pb.AppendRequestMessage(n.id, req))
	if err != nil {
		return nil, err
	}
	return m.AppendResponse(), nil
}

// checkAppendRequest rejects requests that no leader sends: term 0 is
// reserved for local messages, and entries must run contiguously from
// PrevLogIndex+1 with terms in (0, Term].
func checkAppendRequest(req *pb.AppendEntriesRequest) error {
	if req.Term == 0 {
		return fmt.Errorf("%w: append request from %q carries term 0", ErrStaleTerm, req.LeaderID)
	}
	if req.PrevLogTerm > req.Term {
		return fmt.Errorf("%w: prevLogTerm %d above term %d", ErrMalformedMessage, req.PrevLogTerm, req.Term)
	}
	for i, e := range req.Entries {
		if want := req.PrevLogIndex + 1 + uint64(i); e.Index != want {
			return fmt.Errorf("%w: entry %d has index %d, want %d", ErrMalformedMessage, i, e.Index, want)
		}
		if e.Term == 0 || e.Term > req.Term {
			return fmt.Errorf("%w: entry at index %d has term %d outside (0, %d]", ErrMalformedMessage, e.Index, e.Term, req.Term)
		}
	}
	return nil
}

func (n *Node) recv(ctx context.Context, m pb.Message) (pb.Message, error) {
	if _, ok := n.peers[m.From]; !ok || m.From == n.id {
		return pb.Message{}, fmt.Errorf("%w: %q", ErrUnknownMember, m.From)
	}
	in := inbound{m: m, replyc: make(chan inboundReply, 1)}
	select {
	case n.recvc <- in:
	case <-ctx.Done():
		return pb.Message{}, ctx.Err()
	case <-n.stopc:
		return pb.Message{}, ErrStopped
	}
	select {
	case rep := <-in.replyc:
		return rep.m, rep.err
	case <-ctx.Done():
		return pb.Message{}, ctx.Err()
	case <-n.stopc:
		return pb.Message{}, ErrStopped
	}
}

// ID returns the id of the local node.
func (n *Node) ID() string { return n.id }

// Status returns the latest published status of the node.
func (n *Node) Status() Status {
	n.mu.RLock()
	st := n.status
	n.mu.RUnlock()
	st.Applied = n.notifier.applied.Load()
	return st
}

// Role returns the current role of the node.
func (n *Node) Role() StateType {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.status.RaftState
}

// Term returns the current term of the node.
func (n *Node) Term() uint64 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.status.Term
}

// CommitIndex returns the highest log index the node knows to be committed.
func (n *Node) CommitIndex() uint64 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.status.Commit
}

// Leader returns the id of the leader the node currently follows, or None.
func (n *Node) Leader() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.status.Lead
}
