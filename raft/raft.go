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
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	pb "github.com/raftkit/raftkit/raft/raftpb"
	"github.com/raftkit/raftkit/raft/tracker"
)

// Possible values for StateType.
const (
	StateFollower StateType = iota
	StateCandidate
	StateLeader
)

// StateType represents the role of a node in a cluster.
type StateType uint64

var stmap = [...]string{
	"StateFollower",
	"StateCandidate",
	"StateLeader",
}

func (st StateType) String() string {
	return stmap[uint64(st)]
}

// MarshalText implements encoding.TextMarshaler so that roles render as
// names in JSON status output.
func (st StateType) MarshalText() ([]byte, error) {
	return []byte(st.String()), nil
}

func (st *StateType) UnmarshalText(b []byte) error {
	for i, name := range stmap {
		if name == string(b) {
			*st = StateType(i)
			return nil
		}
	}
	return fmt.Errorf("unknown raft state %q", b)
}

const (
	defaultMaxSizePerMsg   = 1024 * 1024
	defaultMaxInflightMsgs = 256
)

// Config contains the parameters to start a raft node.
type Config struct {
	// ID is the identity of the local raft node. ID cannot be empty.
	ID string

	// Peers contains the IDs of all nodes (including self) in the group. The
	// set is fixed for the lifetime of the group.
	Peers []string

	// ElectionTimeout is the minimum time a follower waits without hearing
	// from a leader before it campaigns. The actual timeout is picked
	// uniformly from [ElectionTimeout, 2*ElectionTimeout) each time the
	// election alarm is armed.
	ElectionTimeout time.Duration
	// HeartbeatInterval is the period of leader heartbeats. It must be at
	// most a tenth of ElectionTimeout.
	HeartbeatInterval time.Duration

	// Storage is the storage for raft. raft writes entries and the hard state
	// to storage before answering any RPC, and reads them back on start.
	Storage Storage

	// Transport carries RequestVote and AppendEntries RPCs to the other
	// nodes. Only Node uses it.
	Transport Transport

	// Applier receives committed entries in log order. Only Node uses it; a
	// nil Applier discards them.
	Applier Applier

	// MaxSizePerMsg limits the payload size of each append message. Zero
	// means a default of 1MB.
	MaxSizePerMsg uint64
	// MaxInflightMsgs limits the number of in-flight append messages to a
	// follower during optimistic replication. Zero means 256.
	MaxInflightMsgs int

	// RPCTimeout bounds every outbound RPC. Zero means ElectionTimeout.
	RPCTimeout time.Duration

	// RejectRetryInterval paces how often a follower that keeps rejecting
	// appends is probed again. Zero means HeartbeatInterval/10.
	RejectRetryInterval time.Duration

	// Clock drives the election and heartbeat alarms. Nil means the real
	// clock.
	Clock clockwork.Clock

	// Rand picks randomized election timeouts. Nil means a source seeded from
	// the current time and ID.
	Rand *rand.Rand

	// Logger is the logger used for raft log. Nil means no logging.
	Logger *zap.Logger
}

func (c *Config) validate() error {
	if c.ID == None {
		return errors.New("cannot use none as id")
	}
	seen := make(map[string]struct{}, len(c.Peers))
	for _, p := range c.Peers {
		if p == None {
			return errors.New("cannot use none as peer id")
		}
		if _, ok := seen[p]; ok {
			return fmt.Errorf("duplicate peer id %q", p)
		}
		seen[p] = struct{}{}
	}
	if _, ok := seen[c.ID]; !ok {
		return fmt.Errorf("id %q is not in peers %v", c.ID, c.Peers)
	}

	if c.HeartbeatInterval <= 0 {
		return errors.New("heartbeat interval must be greater than 0")
	}
	if c.ElectionTimeout < 10*c.HeartbeatInterval {
		return fmt.Errorf("election timeout %v must be at least 10 times the heartbeat interval %v",
			c.ElectionTimeout, c.HeartbeatInterval)
	}

	if c.Storage == nil {
		return errors.New("storage cannot be nil")
	}
	if c.MaxInflightMsgs < 0 {
		return errors.New("max inflight messages must not be negative")
	}

	if c.MaxSizePerMsg == 0 {
		c.MaxSizePerMsg = defaultMaxSizePerMsg
	}
	if c.MaxInflightMsgs == 0 {
		c.MaxInflightMsgs = defaultMaxInflightMsgs
	}
	if c.RPCTimeout == 0 {
		c.RPCTimeout = c.ElectionTimeout
	}
	if c.RejectRetryInterval == 0 {
		c.RejectRetryInterval = c.HeartbeatInterval / 10
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Rand == nil {
		h := fnv.New64a()
		h.Write([]byte(c.ID))
		c.Rand = rand.New(rand.NewSource(time.Now().UnixNano() ^ int64(h.Sum64())))
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return nil
}

// Alarm is a resettable one-shot timer owned by the raft state machine.
// Expiry is reported back by stepping MsgHup (election) or MsgBeat
// (heartbeat).
type Alarm interface {
	// Reset cancels any pending expiry and arms the alarm to go off after d.
	Reset(d time.Duration)
	// Stop cancels any pending expiry.
	Stop()
}

type nopAlarm struct{}

func (nopAlarm) Reset(time.Duration) {}
func (nopAlarm) Stop()               {}

type raft struct {
	id string

	Term uint64
	Vote string

	// the log
	raftLog *raftLog

	maxMsgSize uint64
	trk        tracker.ProgressTracker

	state StateType

	msgs []pb.Message

	// the leader id
	lead string

	// the hard state last written to storage
	prevHardSt pb.HardState

	electionTimeout  time.Duration
	heartbeatTimeout time.Duration
	// randomizedElectionTimeout is a random number between
	// [electiontimeout, 2 * electiontimeout - 1]. It gets reset
	// when raft changes its state to follower or candidate.
	randomizedElectionTimeout time.Duration
	rand                      *rand.Rand

	electionAlarm  Alarm
	heartbeatAlarm Alarm

	step stepFunc

	logger *zap.Logger
}

// newRaft builds the state machine from the persisted state in c.Storage.
// The alarms may be nil, in which case timing is driven only by stepping
// MsgHup and MsgBeat.
func newRaft(c *Config, electionAlarm, heartbeatAlarm Alarm) *raft {
	if err := c.validate(); err != nil {
		panic(err.Error())
	}
	if electionAlarm == nil {
		electionAlarm = nopAlarm{}
	}
	if heartbeatAlarm == nil {
		heartbeatAlarm = nopAlarm{}
	}
	raftlog := newLog(c.Storage, c.Logger)
	hs, err := c.Storage.InitialState()
	if err != nil {
		c.Logger.Panic("failed to load hard state", zap.Error(err))
	}

	r := &raft{
		id:               c.ID,
		lead:             None,
		raftLog:          raftlog,
		maxMsgSize:       c.MaxSizePerMsg,
		trk:              tracker.MakeProgressTracker(c.MaxInflightMsgs, c.Peers),
		electionTimeout:  c.ElectionTimeout,
		heartbeatTimeout: c.HeartbeatInterval,
		rand:             c.Rand,
		electionAlarm:    electionAlarm,
		heartbeatAlarm:   heartbeatAlarm,
		logger:           c.Logger,
	}
	r.loadState(hs)
	r.becomeFollower(r.Term, None)

	r.logger.Info("started raft node",
		zap.String("local-member-id", r.id),
		zap.Strings("peers", r.trk.VoterNodes()),
		zap.Uint64("term", r.Term),
		zap.String("vote", r.Vote),
		zap.Uint64("last-index", r.raftLog.lastIndex()),
		zap.Uint64("last-term", r.raftLog.lastTerm()),
	)
	return r
}

func (r *raft) hasLeader() bool { return r.lead != None }

func (r *raft) hardState() pb.HardState {
	return pb.HardState{Term: r.Term, Vote: r.Vote}
}

func (r *raft) loadState(st pb.HardState) {
	r.Term = st.Term
	r.Vote = st.Vote
	r.prevHardSt = st
}

// persistHardState writes term and vote to storage if they changed since
// the last write. It runs at the end of every step, before the node lets
// any message produced by the step leave.
func (r *raft) persistHardState() {
	hs := r.hardState()
	if hs == r.prevHardSt {
		return
	}
	if err := r.raftLog.storage.SetHardState(hs); err != nil {
		r.logger.Panic("failed to persist hard state",
			zap.String("local-member-id", r.id),
			zap.Uint64("term", hs.Term),
			zap.String("vote", hs.Vote),
			zap.Error(err),
		)
	}
	r.prevHardSt = hs
}

// send schedules persisting state to a stable storage and AFTER that
// sending the message (as part of next Ready message processing).
func (r *raft) send(m pb.Message) {
	if m.From == None {
		m.From = r.id
	}
	if m.Type.IsLocal() {
		r.logger.Panic("sending a local message", zap.Stringer("type", m.Type))
	}
	m.Term = r.Term
	r.msgs = append(r.msgs, m)
}

func (r *raft) readMessages() []pb.Message {
	msgs := r.msgs
	r.msgs = nil
	return msgs
}

// sendAppend sends an append RPC with new entries (if any) and the
// current commit index to the given peer.
func (r *raft) sendAppend(to string) {
	r.maybeSendAppend(to, true)
}

// maybeSendAppend sends an append RPC with new entries to the given peer,
// if necessary. Returns true if a message was sent. The sendIfEmpty
// argument controls whether messages with no entries will be sent
// ("empty" messages are useful to convey updated Commit indexes, but
// are undesirable when we're sending multiple messages in a batch).
func (r *raft) maybeSendAppend(to string, sendIfEmpty bool) bool {
	pr := r.trk.Progress[to]
	if pr.IsPaused() {
		return false
	}
	m := pb.Message{To: to, Type: pb.MsgApp}

	m.Index = pr.Next - 1
	m.LogTerm = r.raftLog.term(m.Index)
	m.Entries = r.raftLog.entries(pr.Next, r.maxMsgSize)
	m.Commit = r.raftLog.committed
	if len(m.Entries) == 0 && !sendIfEmpty {
		return false
	}

	switch pr.State {
	// optimistically increase the next when in StateReplicate
	case tracker.StateReplicate:
		if n := len(m.Entries); n != 0 {
			last := m.Entries[n-1].Index
			pr.OptimisticUpdate(last)
			pr.Inflights.Add(last)
		}
	case tracker.StateProbe:
		pr.ProbeSent = true
	default:
		r.logger.Panic("sending append in unhandled state",
			zap.String("local-member-id", r.id),
			zap.Stringer("state", pr.State),
		)
	}
	r.send(m)
	return true
}

// sendHeartbeat sends an empty append to the given peer. A probing peer
// gets a regular (possibly non-empty) append from Next, which doubles as
// the retry of whatever probe was lost; a replicating peer gets an empty
// append anchored at its match index, which it is known to have.
func (r *raft) sendHeartbeat(to string) {
	pr := r.trk.Progress[to]
	if pr.State == tracker.StateReplicate && pr.Inflights.Full() {
		// a window that stayed full for a whole interval lost its acks
		pr.BecomeProbe()
	}
	if pr.State == tracker.StateProbe {
		pr.ProbeSent = false
		r.sendAppend(to)
		return
	}
	if r.maybeSendAppend(to, false) {
		return
	}
	r.send(pb.Message{
		To:      to,
		Type:    pb.MsgApp,
		Index:   pr.Match,
		LogTerm: r.raftLog.term(pr.Match),
		Commit:  r.raftLog.committed,
	})
}

// bcastAppend sends append RPCs, with entries and the current commit index,
// to all peers that are not paused according to the progress recorded in
// r.trk.
func (r *raft) bcastAppend() {
	r.trk.Visit(func(id string, _ *tracker.Progress) {
		if id == r.id {
			return
		}
		r.sendAppend(id)
	})
}

// bcastHeartbeat sends an append to every peer, whether or not it has
// entries to carry.
func (r *raft) bcastHeartbeat() {
	r.trk.Visit(func(id string, _ *tracker.Progress) {
		if id == r.id {
			return
		}
		r.sendHeartbeat(id)
	})
}

// maybeCommit attempts to advance the commit index. Returns true if
// the commit index changed (in which case the caller should call
// r.bcastAppend).
func (r *raft) maybeCommit() bool {
	mci := r.trk.Committed()
	if r.raftLog.maybeCommit(mci, r.Term) {
		r.logger.Debug("advanced commit index",
			zap.String("local-member-id", r.id),
			zap.Uint64("commit", r.raftLog.committed),
			zap.Uint64("term", r.Term),
		)
		return true
	}
	return false
}

func (r *raft) reset(term uint64) {
	if r.Term != term {
		r.Term = term
		r.Vote = None
	}
	r.lead = None

	r.resetRandomizedElectionTimeout()

	r.trk.ResetVotes()
	r.trk.Visit(func(id string, pr *tracker.Progress) {
		*pr = tracker.Progress{
			Match:     0,
			Next:      r.raftLog.lastIndex() + 1,
			Inflights: tracker.NewInflights(r.trk.MaxInflight),
		}
		if id == r.id {
			pr.Match = r.raftLog.lastIndex()
			pr.RecentActive = true
		}
	})
}

func (r *raft) appendEntry(es ...pb.Entry) {
	li := r.raftLog.lastIndex()
	for i := range es {
		es[i].Term = r.Term
		es[i].Index = li + 1 + uint64(i)
	}
	li = r.raftLog.append(es...)
	// the leader's own progress is always up to date
	r.trk.Progress[r.id].MaybeUpdate(li)
	// Regardless of maybeCommit's return, our caller will call bcastAppend.
	r.maybeCommit()
}

func (r *raft) becomeFollower(term uint64, lead string) {
	r.step = stepFollower
	r.reset(term)
	r.lead = lead
	r.state = StateFollower
	r.heartbeatAlarm.Stop()
	r.electionAlarm.Reset(r.randomizedElectionTimeout)
	r.logger.Info("became follower",
		zap.String("local-member-id", r.id),
		zap.Uint64("term", r.Term),
		zap.String("leader", lead),
	)
}

func (r *raft) becomeCandidate() {
	if r.state == StateLeader {
		panic("invalid transition [leader -> candidate]")
	}
	r.step = stepCandidate
	r.reset(r.Term + 1)
	r.Vote = r.id
	r.state = StateCandidate
	r.heartbeatAlarm.Stop()
	r.electionAlarm.Reset(r.randomizedElectionTimeout)
	electionsStarted.Inc()
	r.logger.Info("became candidate",
		zap.String("local-member-id", r.id),
		zap.Uint64("term", r.Term),
		zap.Duration("election-timeout", r.randomizedElectionTimeout),
	)
}

func (r *raft) becomeLeader() {
	if r.state == StateFollower {
		panic("invalid transition [follower -> leader]")
	}
	r.step = stepLeader
	r.reset(r.Term)
	r.lead = r.id
	r.state = StateLeader
	r.electionAlarm.Stop()
	r.logger.Info("became leader",
		zap.String("local-member-id", r.id),
		zap.Uint64("term", r.Term),
		zap.Uint64("last-index", r.raftLog.lastIndex()),
	)
	// establish authority before anyone else times out
	r.bcastHeartbeat()
	r.heartbeatAlarm.Reset(r.heartbeatTimeout)
}

func (r *raft) hup() {
	if r.state == StateLeader {
		r.logger.Debug("ignoring MsgHup because already leader", zap.String("local-member-id", r.id))
		return
	}
	if r.state == StateCandidate {
		granted, rejected, _ := r.trk.TallyVotes()
		r.logger.Info("election timed out without a majority",
			zap.String("local-member-id", r.id),
			zap.Uint64("term", r.Term),
			zap.Int("granted", granted),
			zap.Int("rejected", rejected),
			zap.Int("quorum", r.trk.Quorum()),
			zap.Error(ErrQuorumUnavailable),
		)
		electionsFailed.Inc()
	}
	r.logger.Info("starting a new election",
		zap.String("local-member-id", r.id),
		zap.Uint64("term", r.Term),
	)
	r.campaign()
}

func (r *raft) campaign() {
	r.becomeCandidate()
	if _, _, res := r.poll(r.id, pb.MsgVoteResp, true); res == tracker.VoteWon {
		// We won the election after voting for ourselves (which must mean that
		// this is a single-node cluster). Advance to the next state.
		r.becomeLeader()
		return
	}
	r.trk.Visit(func(id string, _ *tracker.Progress) {
		if id == r.id {
			return
		}
		r.logger.Info("sent vote request",
			zap.String("local-member-id", r.id),
			zap.Uint64("local-member-log-term", r.raftLog.lastTerm()),
			zap.Uint64("local-member-log-index", r.raftLog.lastIndex()),
			zap.String("to", id),
			zap.Uint64("term", r.Term),
		)
		r.send(pb.Message{To: id, Type: pb.MsgVote, Index: r.raftLog.lastIndex(), LogTerm: r.raftLog.lastTerm()})
	})
}

func (r *raft) poll(id string, t pb.MessageType, v bool) (granted int, rejected int, result tracker.VoteResult) {
	if v {
		r.logger.Info("received vote",
			zap.String("local-member-id", r.id), zap.Stringer("type", t), zap.String("from", id), zap.Uint64("term", r.Term))
	} else {
		r.logger.Info("received vote rejection",
			zap.String("local-member-id", r.id), zap.Stringer("type", t), zap.String("from", id), zap.Uint64("term", r.Term))
	}
	r.trk.RecordVote(id, v)
	return r.trk.TallyVotes()
}

// Step advances the state machine using the given message. Every request
// (MsgVote, MsgApp) produces exactly one reply addressed to its sender.
func (r *raft) Step(m pb.Message) error {
	defer r.persistHardState()

	// Handle the message term, which may result in our stepping down to a follower.
	switch {
	case m.Term == 0:
		// local message
	case m.Term > r.Term:
		lead := m.From
		if m.Type != pb.MsgApp {
			lead = None
		}
		r.logger.Info("received a message with higher term",
			zap.String("local-member-id", r.id),
			zap.Uint64("local-member-term", r.Term),
			zap.Stringer("message-type", m.Type),
			zap.String("from", m.From),
			zap.Uint64("message-term", m.Term),
		)
		r.becomeFollower(m.Term, lead)
	case m.Term < r.Term:
		r.logger.Debug("rejected a message with lower term",
			zap.String("local-member-id", r.id),
			zap.Uint64("local-member-term", r.Term),
			zap.Stringer("message-type", m.Type),
			zap.String("from", m.From),
			zap.Uint64("message-term", m.Term),
			zap.Error(ErrStaleTerm),
		)
		staleMessages.WithLabelValues(m.Type.String()).Inc()
		switch m.Type {
		case pb.MsgApp:
			// the reply carries our term, which makes the stale leader step down
			r.send(pb.Message{To: m.From, Type: pb.MsgAppResp, Index: m.Index, Reject: true, RejectHint: r.raftLog.lastIndex()})
		case pb.MsgVote:
			r.send(pb.Message{To: m.From, Type: pb.MsgVoteResp, Reject: true})
		}
		return nil
	}

	switch m.Type {
	case pb.MsgHup:
		r.hup()

	case pb.MsgVote:
		// We can vote if this is a repeat of a vote we've already cast or we
		// haven't voted in this term yet.
		canVote := r.Vote == m.From || r.Vote == None
		if canVote && r.raftLog.isUpToDate(m.Index, m.LogTerm) {
			r.logger.Info("cast vote",
				zap.String("local-member-id", r.id),
				zap.Uint64("local-member-log-term", r.raftLog.lastTerm()),
				zap.Uint64("local-member-log-index", r.raftLog.lastIndex()),
				zap.String("candidate", m.From),
				zap.Uint64("candidate-log-term", m.LogTerm),
				zap.Uint64("candidate-log-index", m.Index),
				zap.Uint64("term", r.Term),
			)
			r.Vote = m.From
			r.resetElectionAlarm()
			r.send(pb.Message{To: m.From, Type: pb.MsgVoteResp})
		} else {
			r.logger.Info("rejected vote",
				zap.String("local-member-id", r.id),
				zap.Uint64("local-member-log-term", r.raftLog.lastTerm()),
				zap.Uint64("local-member-log-index", r.raftLog.lastIndex()),
				zap.String("local-member-vote", r.Vote),
				zap.String("candidate", m.From),
				zap.Uint64("candidate-log-term", m.LogTerm),
				zap.Uint64("candidate-log-index", m.Index),
				zap.Uint64("term", r.Term),
			)
			r.send(pb.Message{To: m.From, Type: pb.MsgVoteResp, Reject: true})
		}

	default:
		if err := r.step(r, m); err != nil {
			return err
		}
	}
	return nil
}

type stepFunc func(r *raft, m pb.Message) error

func stepLeader(r *raft, m pb.Message) error {
	// These message types do not require any progress for m.From.
	switch m.Type {
	case pb.MsgBeat:
		r.bcastHeartbeat()
		r.heartbeatAlarm.Reset(r.heartbeatTimeout)
		return nil
	case pb.MsgProp:
		if len(m.Entries) == 0 {
			r.logger.Panic("stepped empty MsgProp", zap.String("local-member-id", r.id))
		}
		r.appendEntry(m.Entries...)
		r.bcastAppend()
		return nil
	case pb.MsgApp:
		// two leaders in one term cannot happen unless storage lost a vote
		r.logger.Warn("received append from another leader in the same term",
			zap.String("local-member-id", r.id),
			zap.String("from", m.From),
			zap.Uint64("term", r.Term),
		)
		r.send(pb.Message{To: m.From, Type: pb.MsgAppResp, Index: m.Index, Reject: true, RejectHint: r.raftLog.lastIndex()})
		return nil
	}

	// All other message types require a progress for m.From (pr).
	pr := r.trk.Progress[m.From]
	if pr == nil {
		r.logger.Debug("no progress available", zap.String("local-member-id", r.id), zap.String("from", m.From))
		return nil
	}
	switch m.Type {
	case pb.MsgAppResp:
		pr.RecentActive = true

		if m.Reject {
			r.logger.Debug("received append rejection",
				zap.String("local-member-id", r.id),
				zap.String("from", m.From),
				zap.Uint64("rejected-index", m.Index),
				zap.Uint64("follower-last-index", m.RejectHint),
				zap.Error(ErrLogInconsistency),
			)
			if pr.MaybeDecrTo(m.Index, m.RejectHint) {
				appendRejections.Inc()
				r.logger.Debug("decreased progress",
					zap.String("local-member-id", r.id),
					zap.String("to", m.From),
					zap.Stringer("progress", pr),
				)
				if pr.State == tracker.StateReplicate {
					pr.BecomeProbe()
				}
				r.sendAppend(m.From)
			}
			return nil
		}

		oldPaused := pr.IsPaused()
		if pr.MaybeUpdate(m.Index) || (pr.Match == m.Index && pr.State == tracker.StateProbe) {
			switch pr.State {
			case tracker.StateProbe:
				pr.BecomeReplicate()
			case tracker.StateReplicate:
				pr.Inflights.FreeLE(m.Index)
			}

			if r.maybeCommit() {
				r.bcastAppend()
			} else if oldPaused {
				// If we were paused before, this node may be missing the
				// latest commit index, so send it.
				r.sendAppend(m.From)
			}
			// We've updated flow control information above, which may
			// allow us to send multiple (size-limited) in-flight messages
			// at once (such as when transitioning from probe to
			// replicate). sendIfEmpty is false so that we don't send
			// empty messages.
			for r.maybeSendAppend(m.From, false) {
			}
		}

	case pb.MsgUnreachable:
		// During optimistic replication, if the remote becomes unreachable,
		// there is huge probability that a MsgApp is lost.
		if pr.State == tracker.StateReplicate {
			pr.BecomeProbe()
		}
		r.logger.Debug("failed to send message to unreachable peer",
			zap.String("local-member-id", r.id),
			zap.String("to", m.From),
			zap.Stringer("progress", pr),
		)
	}
	return nil
}

// stepCandidate is shared by StateCandidate; the only difference from the
// follower is the handling of vote responses.
func stepCandidate(r *raft, m pb.Message) error {
	switch m.Type {
	case pb.MsgProp:
		r.logger.Debug("no leader; dropping proposal",
			zap.String("local-member-id", r.id),
			zap.Uint64("term", r.Term),
		)
		return &NotLeaderError{Leader: None}
	case pb.MsgApp:
		// a leader exists for this term
		r.becomeFollower(m.Term, m.From)
		r.handleAppendEntries(m)
	case pb.MsgVoteResp:
		gr, rj, res := r.poll(m.From, m.Type, !m.Reject)
		r.logger.Info("tallied votes",
			zap.String("local-member-id", r.id),
			zap.Int("quorum", r.trk.Quorum()),
			zap.Int("granted", gr),
			zap.Int("rejected", rj),
			zap.Stringer("result", res),
		)
		switch res {
		case tracker.VoteWon:
			r.becomeLeader()
		case tracker.VoteLost:
			r.becomeFollower(r.Term, None)
		}
	}
	return nil
}

func stepFollower(r *raft, m pb.Message) error {
	switch m.Type {
	case pb.MsgProp:
		r.logger.Debug("not leader; rejecting proposal",
			zap.String("local-member-id", r.id),
			zap.Uint64("term", r.Term),
			zap.String("leader", r.lead),
		)
		return &NotLeaderError{Leader: r.lead}
	case pb.MsgApp:
		r.resetElectionAlarm()
		r.lead = m.From
		r.handleAppendEntries(m)
	}
	return nil
}

func (r *raft) handleAppendEntries(m pb.Message) {
	if m.Index < r.raftLog.committed {
		r.send(pb.Message{To: m.From, Type: pb.MsgAppResp, Index: r.raftLog.committed})
		return
	}

	if mlastIndex, ok := r.raftLog.maybeAppend(m.Index, m.LogTerm, m.Commit, m.Entries...); ok {
		r.send(pb.Message{To: m.From, Type: pb.MsgAppResp, Index: mlastIndex})
	} else {
		r.logger.Debug("rejected append",
			zap.String("local-member-id", r.id),
			zap.Uint64("local-member-log-term", r.raftLog.term(m.Index)),
			zap.Uint64("local-member-log-index", r.raftLog.lastIndex()),
			zap.Uint64("prev-log-term", m.LogTerm),
			zap.Uint64("prev-log-index", m.Index),
			zap.String("from", m.From),
			zap.Error(ErrLogInconsistency),
		)
		r.send(pb.Message{To: m.From, Type: pb.MsgAppResp, Index: m.Index, Reject: true, RejectHint: r.raftLog.lastIndex()})
	}
}

func (r *raft) resetElectionAlarm() {
	r.resetRandomizedElectionTimeout()
	r.electionAlarm.Reset(r.randomizedElectionTimeout)
}

func (r *raft) resetRandomizedElectionTimeout() {
	r.randomizedElectionTimeout = r.electionTimeout + time.Duration(r.rand.Int63n(int64(r.electionTimeout)))
}
