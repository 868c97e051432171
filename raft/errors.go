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
)

var (
	// ErrNotLeader is returned (wrapped in *NotLeaderError) when a command is
	// submitted to a node that is not the leader. Callers retry against the
	// leader.
	ErrNotLeader = errors.New("raft: not leader")

	// ErrStopped is returned by Node methods once the node has been stopped.
	ErrStopped = errors.New("raft: stopped")

	// ErrStaleTerm marks a request or response carrying a term older than the
	// local one. The step machine only logs it; it is returned to peers
	// whose RPC carries term 0.
	ErrStaleTerm = errors.New("raft: stale term")

	// ErrLogInconsistency marks an AppendEntries whose prevLogIndex/prevLogTerm
	// did not match. It is recovered by the leader probing further back.
	ErrLogInconsistency = errors.New("raft: log inconsistency")

	// ErrQuorumUnavailable marks an election that timed out before a majority
	// answered. The node stays candidate and campaigns again.
	ErrQuorumUnavailable = errors.New("raft: quorum unavailable")

	// ErrUnknownMember is returned for RPCs from a node outside the peer set.
	ErrUnknownMember = errors.New("raft: unknown member")

	// ErrMalformedMessage is returned for RPCs whose fields contradict each
	// other, such as entries that do not follow prevLogIndex.
	ErrMalformedMessage = errors.New("raft: malformed message")

	// ErrUnavailable is returned by Storage when a requested entry does not
	// exist.
	ErrUnavailable = errors.New("requested entry at index is unavailable")
)

// NotLeaderError carries the last leader known to the rejecting node, or
// None.
type NotLeaderError struct {
	Leader string
}

func (e *NotLeaderError) Error() string {
	if e.Leader == None {
		return "raft: not leader (leader unknown)"
	}
	return fmt.Sprintf("raft: not leader (leader is %s)", e.Leader)
}

func (e *NotLeaderError) Unwrap() error { return ErrNotLeader }
