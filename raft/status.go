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

	"github.com/raftkit/raftkit/raft/tracker"
)

// PeerStatus is the leader's replication state for one member.
type PeerStatus struct {
	Match  uint64 `json:"match"`
	Next   uint64 `json:"next"`
	State  string `json:"state"`
	Paused bool   `json:"paused,omitempty"`
}

// Status is a point-in-time snapshot of a node.
type Status struct {
	ID        string    `json:"id"`
	RaftState StateType `json:"state"`
	Term      uint64    `json:"term"`
	Vote      string    `json:"vote,omitempty"`
	Lead      string    `json:"leader,omitempty"`
	Commit    uint64    `json:"commit"`
	Applied   uint64    `json:"applied"`
	LastIndex uint64    `json:"lastIndex"`
	LastTerm  uint64    `json:"lastTerm"`

	// Progress is only populated on the leader.
	Progress map[string]PeerStatus `json:"progress,omitempty"`
}

func getStatus(r *raft) Status {
	s := Status{
		ID:        r.id,
		RaftState: r.state,
		Term:      r.Term,
		Vote:      r.Vote,
		Lead:      r.lead,
		Commit:    r.raftLog.committed,
		Applied:   r.raftLog.applied,
		LastIndex: r.raftLog.lastIndex(),
		LastTerm:  r.raftLog.lastTerm(),
	}
	if s.RaftState == StateLeader {
		s.Progress = make(map[string]PeerStatus, len(r.trk.Progress))
		r.trk.Visit(func(id string, pr *tracker.Progress) {
			s.Progress[id] = PeerStatus{
				Match:  pr.Match,
				Next:   pr.Next,
				State:  pr.State.String(),
				Paused: pr.IsPaused(),
			}
		})
	}
	return s
}

func (s Status) String() string {
	return fmt.Sprintf("id=%s state=%s term=%d leader=%s commit=%d applied=%d last=%d/%d",
		s.ID, s.RaftState, s.Term, s.Lead, s.Commit, s.Applied, s.LastIndex, s.LastTerm)
}
