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

import "github.com/prometheus/client_golang/prometheus"

var (
	currentTerm = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "raftkit",
		Subsystem: "raft",
		Name:      "term",
		Help:      "The current term of this member.",
	})
	commitIndex = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "raftkit",
		Subsystem: "raft",
		Name:      "commit_index",
		Help:      "The highest log index known to be committed by this member.",
	})
	hasLeader = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "raftkit",
		Subsystem: "raft",
		Name:      "has_leader",
		Help:      "Whether or not a leader exists. 1 is existence, 0 is not.",
	})
	isLeader = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "raftkit",
		Subsystem: "raft",
		Name:      "is_leader",
		Help:      "Whether or not this member is a leader. 1 if is, 0 otherwise.",
	})
	leaderChanges = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "raftkit",
		Subsystem: "raft",
		Name:      "leader_changes_seen_total",
		Help:      "The number of leader changes seen.",
	})
	electionsStarted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "raftkit",
		Subsystem: "raft",
		Name:      "elections_started_total",
		Help:      "The total number of elections this member started.",
	})
	electionsFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "raftkit",
		Subsystem: "raft",
		Name:      "elections_failed_total",
		Help:      "The total number of elections that timed out without a majority.",
	})
	staleMessages = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "raftkit",
		Subsystem: "raft",
		Name:      "stale_messages_total",
		Help:      "The total number of messages rejected or dropped for carrying a lower term.",
	},
		[]string{"Type"},
	)
	appendRejections = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "raftkit",
		Subsystem: "raft",
		Name:      "append_rejections_total",
		Help:      "The total number of append rejections that moved a follower's next index back.",
	})
	proposalsCommitted = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "raftkit",
		Subsystem: "raft",
		Name:      "proposals_committed_total",
		Help:      "The total number of consensus proposals committed.",
	})
	proposalsApplied = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "raftkit",
		Subsystem: "raft",
		Name:      "proposals_applied_total",
		Help:      "The total number of consensus proposals applied.",
	})
	proposalsFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "raftkit",
		Subsystem: "raft",
		Name:      "proposals_failed_total",
		Help:      "The total number of failed proposals seen.",
	})
)

func init() {
	prometheus.MustRegister(currentTerm)
	prometheus.MustRegister(commitIndex)
	prometheus.MustRegister(hasLeader)
	prometheus.MustRegister(isLeader)
	prometheus.MustRegister(leaderChanges)
	prometheus.MustRegister(electionsStarted)
	prometheus.MustRegister(electionsFailed)
	prometheus.MustRegister(staleMessages)
	prometheus.MustRegister(appendRejections)
	prometheus.MustRegister(proposalsCommitted)
	prometheus.MustRegister(proposalsApplied)
	prometheus.MustRegister(proposalsFailed)
}
