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
	"sort"
)

// VoteResult indicates the outcome of an election.
type VoteResult uint8

const (
	// VotePending indicates that the decision of the vote depends on future
	// votes, i.e. neither "yes" nor "no" has reached quorum yet.
	VotePending VoteResult = 1 + iota
	// VoteLost indicates that the quorum has voted "no".
	VoteLost
	// VoteWon indicates that the quorum has voted "yes".
	VoteWon
)

func (v VoteResult) String() string {
	switch v {
	case VotePending:
		return "VotePending"
	case VoteLost:
		return "VoteLost"
	case VoteWon:
		return "VoteWon"
	}
	return fmt.Sprintf("VoteResult(%d)", uint8(v))
}

// ProgressTracker tracks the fixed voter set of the group, the replication
// progress of every member and the votes of the current candidacy.
type ProgressTracker struct {
	Progress map[string]*Progress

	// Votes records the answers received in the current term. It only ever
	// holds members of the group.
	Votes map[string]bool

	MaxInflight int
}

// MakeProgressTracker initializes a ProgressTracker for the given members.
func MakeProgressTracker(maxInflight int, ids []string) ProgressTracker {
	p := ProgressTracker{
		MaxInflight: maxInflight,
		Votes:       map[string]bool{},
		Progress:    map[string]*Progress{},
	}
	for _, id := range ids {
		p.Progress[id] = &Progress{Next: 1, Inflights: NewInflights(maxInflight)}
	}
	return p
}

// Quorum is the size of a strict majority of the group.
func (p *ProgressTracker) Quorum() int { return len(p.Progress)/2 + 1 }

// IsSingleton returns true if the group has exactly one member.
func (p *ProgressTracker) IsSingleton() bool { return len(p.Progress) == 1 }

// Committed returns the largest log index that a majority of the group has
// acknowledged. It says nothing about the term of that entry; the caller
// must check it before committing.
func (p *ProgressTracker) Committed() uint64 {
	if len(p.Progress) == 0 {
		return 0
	}
	srt := make([]uint64, 0, len(p.Progress))
	for _, pr := range p.Progress {
		srt = append(srt, pr.Match)
	}
	sort.Slice(srt, func(i, j int) bool { return srt[i] > srt[j] })
	return srt[p.Quorum()-1]
}

// Visit invokes the supplied closure for all tracked progresses in a stable
// order.
func (p *ProgressTracker) Visit(f func(id string, pr *Progress)) {
	for _, id := range p.VoterNodes() {
		f(id, p.Progress[id])
	}
}

// QuorumActive returns true if a majority of the group (counting entries
// with RecentActive set) has been heard from.
func (p *ProgressTracker) QuorumActive() bool {
	active := 0
	for _, pr := range p.Progress {
		if pr.RecentActive {
			active++
		}
	}
	return active >= p.Quorum()
}

// VoterNodes returns a sorted slice of members.
func (p *ProgressTracker) VoterNodes() []string {
	nodes := make([]string, 0, len(p.Progress))
	for id := range p.Progress {
		nodes = append(nodes, id)
	}
	sort.Strings(nodes)
	return nodes
}

// ResetVotes prepares for a new round of vote counting via RecordVote.
func (p *ProgressTracker) ResetVotes() {
	p.Votes = map[string]bool{}
}

// RecordVote records that the node with the given id voted for this Raft
// instance if v == true (and declined it otherwise). Only the first answer of
// a member counts, and answers from non-members are dropped.
func (p *ProgressTracker) RecordVote(id string, v bool) {
	if _, ok := p.Progress[id]; !ok {
		return
	}
	if _, ok := p.Votes[id]; !ok {
		p.Votes[id] = v
	}
}

// TallyVotes returns the number of granted and rejected Votes, and whether the
// election outcome is known.
func (p *ProgressTracker) TallyVotes() (granted int, rejected int, _ VoteResult) {
	for _, v := range p.Votes {
		if v {
			granted++
		} else {
			rejected++
		}
	}
	q := p.Quorum()
	switch {
	case granted >= q:
		return granted, rejected, VoteWon
	case rejected > len(p.Progress)-q:
		// the outstanding votes cannot make up a majority anymore
		return granted, rejected, VoteLost
	}
	return granted, rejected, VotePending
}
