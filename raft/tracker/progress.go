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

package tracker

import (
	"fmt"
	"strings"
)

// StateType is the replication state of a follower as seen by the leader.
type StateType uint64

const (
	// StateProbe: the leader does not know where the follower's log matches
	// and sends at most one append per heartbeat interval until it finds out.
	StateProbe StateType = iota
	// StateReplicate: the follower's log matches up to Match and appends are
	// pipelined optimistically, bounded by Inflights.
	StateReplicate
)

var prstmap = [...]string{
	"StateProbe",
	"StateReplicate",
}

func (st StateType) String() string { return prstmap[uint64(st)] }

// Progress is the leader's view of one follower: nextIndex, matchIndex and
// the flow control state around them. The leader keeps a Progress for itself
// too, whose Match is always its last log index.
type Progress struct {
	Match, Next uint64

	State StateType

	// ProbeSent is set once an append was sent in StateProbe; further appends
	// are held back until it is answered or the next heartbeat fires.
	ProbeSent bool

	// RecentActive is true if the follower answered anything since the last
	// time the leader checked. Reset by ProgressTracker.QuorumActive callers.
	RecentActive bool

	// Inflights bounds the number of unacknowledged appends in
	// StateReplicate. Each inflight is the last index of one append.
	Inflights *Inflights
}

// ResetState moves the Progress into the given state, resetting ProbeSent
// and the inflight window.
func (pr *Progress) ResetState(state StateType) {
	pr.ProbeSent = false
	pr.State = state
	pr.Inflights.reset()
}

// ProbeAcked is called when the follower answered an append, which allows
// the next one to go out.
func (pr *Progress) ProbeAcked() {
	if pr.State == StateProbe {
		pr.ProbeSent = false
	}
}

// BecomeProbe transitions into StateProbe. Next is reset to Match+1.
func (pr *Progress) BecomeProbe() {
	pr.ResetState(StateProbe)
	pr.Next = pr.Match + 1
}

// BecomeReplicate transitions into StateReplicate, resetting Next to Match+1.
func (pr *Progress) BecomeReplicate() {
	pr.ResetState(StateReplicate)
	pr.Next = pr.Match + 1
}

// MaybeUpdate is called when an append from the leader is acknowledged up to
// index n. It returns false if the acknowledgement is stale.
func (pr *Progress) MaybeUpdate(n uint64) bool {
	var updated bool
	if pr.Match < n {
		pr.Match = n
		updated = true
		pr.ProbeAcked()
	}
	if pr.Next < n+1 {
		pr.Next = n + 1
	}
	return updated
}

// OptimisticUpdate signals that appends up to n are in flight.
func (pr *Progress) OptimisticUpdate(n uint64) { pr.Next = n + 1 }

// MaybeDecrTo adjusts Next after a rejected append whose prevLogIndex was
// rejected. matchHint is the follower's last index. It returns false when the
// rejection is stale (it does not refer to the current Next) and must be
// ignored.
//
// Next never goes below 1, and never above matchHint+1: there is no point
// probing beyond the end of the follower's log.
func (pr *Progress) MaybeDecrTo(rejected, matchHint uint64) bool {
	if pr.State == StateReplicate {
		if rejected <= pr.Match {
			return false
		}
		pr.Next = pr.Match + 1
		return true
	}

	if pr.Next-1 != rejected {
		return false
	}

	pr.Next = min(rejected, matchHint+1)
	if pr.Next < 1 {
		pr.Next = 1
	}
	pr.ProbeSent = false
	return true
}

// IsPaused reports whether sending appends to this follower is currently
// throttled. Heartbeats are always sent.
func (pr *Progress) IsPaused() bool {
	switch pr.State {
	case StateProbe:
		return pr.ProbeSent
	case StateReplicate:
		return pr.Inflights.Full()
	default:
		panic("unexpected state")
	}
}

func (pr *Progress) String() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "%s match=%d next=%d", pr.State, pr.Match, pr.Next)
	if pr.IsPaused() {
		buf.WriteString(" paused")
	}
	if !pr.RecentActive {
		buf.WriteString(" inactive")
	}
	if n := pr.Inflights.Count(); n > 0 {
		fmt.Fprintf(&buf, " inflight=%d", n)
		if pr.Inflights.Full() {
			buf.WriteString("[full]")
		}
	}
	return buf.String()
}
