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

/*
Package raft implements the raft consensus algorithm for a fixed group of
peers: leader election, log replication and the commit rule.

The primary object is a Node. A Node is built from a Config, which names the
group, the timing parameters and the collaborators it talks to:

	storage := raft.NewMemoryStorage()
	n, err := raft.NewNode(raft.Config{
		ID:                "a",
		Peers:             []string{"a", "b", "c"},
		ElectionTimeout:   time.Second,
		HeartbeatInterval: 100 * time.Millisecond,
		Storage:           storage,
		Transport:         transport,
		Applier:           raft.ApplyFunc(apply),
	})
	if err != nil {
		return err
	}
	n.Start()
	defer n.Stop()

The Transport delivers the node's outbound RPCs to its peers. RPCs from
peers are delivered to the node through its Handler methods,
HandleRequestVote and HandleAppendEntries; a node answers only once the
term, vote and log changes implied by the request are in Storage.

Commands are submitted on the leader:

	index, err := n.SubmitCommand(ctx, cmd)
	var nle *raft.NotLeaderError
	if errors.As(err, &nle) {
		// retry against nle.Leader
	}

A returned index means the command is durable in the leader's log, not
that it is committed. Committed entries reach the Applier in index order,
each exactly once.

Internally all inputs of a node (RPC requests, RPC responses, alarm
expiries, proposals) are turned into raftpb.Message values and stepped
through a single-threaded state machine owned by one goroutine. Replies to
inbound requests are handed back to the caller; every other outbound
message becomes an asynchronous RPC whose response is stepped when it
arrives. The election and heartbeat timers are alarms that post into the
same mailbox, so a reset or a role change always wins over a stale expiry.
*/
package raft
