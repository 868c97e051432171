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

package raftpb

import "fmt"

// MessageType enumerates the inputs a raft state machine can be stepped with.
type MessageType int32

const (
	// MsgHup is local: the election alarm fired.
	MsgHup MessageType = iota
	// MsgBeat is local: the heartbeat alarm fired.
	MsgBeat
	// MsgProp is local: a command submitted by the application.
	MsgProp
	MsgApp
	MsgAppResp
	MsgVote
	MsgVoteResp
	// MsgUnreachable is local: an RPC to From could not be completed.
	MsgUnreachable
)

var messageTypeName = map[MessageType]string{
	MsgHup:         "MsgHup",
	MsgBeat:        "MsgBeat",
	MsgProp:        "MsgProp",
	MsgApp:         "MsgApp",
	MsgAppResp:     "MsgAppResp",
	MsgVote:        "MsgVote",
	MsgVoteResp:    "MsgVoteResp",
	MsgUnreachable: "MsgUnreachable",
}

func (t MessageType) String() string {
	if s, ok := messageTypeName[t]; ok {
		return s
	}
	return fmt.Sprintf("MessageType(%d)", int32(t))
}

// IsLocal reports whether messages of this type never cross the network.
func (t MessageType) IsLocal() bool {
	return t == MsgHup || t == MsgBeat || t == MsgProp || t == MsgUnreachable
}

// IsResponse reports whether the type is the answer half of an RPC.
func (t MessageType) IsResponse() bool {
	return t == MsgAppResp || t == MsgVoteResp
}

// Entry is a single log entry. Index is 1-based and never changes once the
// entry exists; Data is the opaque application command.
type Entry struct {
	Term  uint64
	Index uint64
	Data  []byte
}

func (e Entry) String() string {
	return fmt.Sprintf("%d/%d(%d bytes)", e.Term, e.Index, len(e.Data))
}

// HardState is the part of the node state that must reach stable storage
// before any reply leaves the node.
type HardState struct {
	Term uint64
	// Vote is the candidate voted for in Term, or "" when none.
	Vote string
}

// Message is the envelope every input of the state machine travels in.
// Field meaning depends on Type:
//
//	MsgVote:     Index=lastLogIndex LogTerm=lastLogTerm
//	MsgVoteResp: Reject=!voteGranted
//	MsgApp:      Index=prevLogIndex LogTerm=prevLogTerm Commit=leaderCommit
//	MsgAppResp:  Index=matchIndex on success, the rejected prevLogIndex otherwise;
//	             RejectHint=receiver's last log index on rejection
type Message struct {
	Type       MessageType
	To         string
	From       string
	Term       uint64
	LogTerm    uint64
	Index      uint64
	Entries    []Entry
	Commit     uint64
	Reject     bool
	RejectHint uint64
}

// RequestVoteRequest is sent by candidates to gather votes.
type RequestVoteRequest struct {
	Term         uint64
	CandidateID  string
	LastLogIndex uint64
	LastLogTerm  uint64
}

type RequestVoteResponse struct {
	Term        uint64
	VoteGranted bool
}

// AppendEntriesRequest replicates entries; with no entries it is a heartbeat.
type AppendEntriesRequest struct {
	Term         uint64
	LeaderID     string
	PrevLogIndex uint64
	PrevLogTerm  uint64
	Entries      []Entry
	LeaderCommit uint64
}

type AppendEntriesResponse struct {
	Term    uint64
	Success bool
	// MatchIndex is the last index known to match the leader's log on success,
	// and the receiver's last log index otherwise.
	MatchIndex uint64
}
