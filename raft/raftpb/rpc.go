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

// VoteRequest extracts the RequestVote RPC carried by a MsgVote.
func (m Message) VoteRequest() *RequestVoteRequest {
	return &RequestVoteRequest{
		Term:         m.Term,
		CandidateID:  m.From,
		LastLogIndex: m.Index,
		LastLogTerm:  m.LogTerm,
	}
}

// VoteRequestMessage wraps an inbound RequestVote RPC addressed to "to".
func VoteRequestMessage(to string, req *RequestVoteRequest) Message {
	return Message{
		Type:    MsgVote,
		To:      to,
		From:    req.CandidateID,
		Term:    req.Term,
		Index:   req.LastLogIndex,
		LogTerm: req.LastLogTerm,
	}
}

// VoteResponse extracts the RequestVote reply carried by a MsgVoteResp.
func (m Message) VoteResponse() *RequestVoteResponse {
	return &RequestVoteResponse{Term: m.Term, VoteGranted: !m.Reject}
}

// VoteResponseMessage wraps the reply "from" sent to a vote request of "to".
func VoteResponseMessage(from, to string, resp *RequestVoteResponse) Message {
	return Message{
		Type:   MsgVoteResp,
		To:     to,
		From:   from,
		Term:   resp.Term,
		Reject: !resp.VoteGranted,
	}
}

// AppendRequest extracts the AppendEntries RPC carried by a MsgApp.
func (m Message) AppendRequest() *AppendEntriesRequest {
	return &AppendEntriesRequest{
		Term:         m.Term,
		LeaderID:     m.From,
		PrevLogIndex: m.Index,
		PrevLogTerm:  m.LogTerm,
		Entries:      m.Entries,
		LeaderCommit: m.Commit,
	}
}

// AppendRequestMessage wraps an inbound AppendEntries RPC addressed to "to".
func AppendRequestMessage(to string, req *AppendEntriesRequest) Message {
	return Message{
		Type:    MsgApp,
		To:      to,
		From:    req.LeaderID,
		Term:    req.Term,
		Index:   req.PrevLogIndex,
		LogTerm: req.PrevLogTerm,
		Entries: req.Entries,
		Commit:  req.LeaderCommit,
	}
}

// AppendResponse extracts the AppendEntries reply carried by a MsgAppResp.
func (m Message) AppendResponse() *AppendEntriesResponse {
	resp := &AppendEntriesResponse{Term: m.Term, Success: !m.Reject, MatchIndex: m.Index}
	if m.Reject {
		resp.MatchIndex = m.RejectHint
	}
	return resp
}

// AppendResponseMessage pairs a reply from "from" with the request it answers,
// so that a rejection can be matched against the prevLogIndex it refers to.
func AppendResponseMessage(from, to string, req *AppendEntriesRequest, resp *AppendEntriesResponse) Message {
	m := Message{
		Type:  MsgAppResp,
		To:    to,
		From:  from,
		Term:  resp.Term,
		Index: resp.MatchIndex,
	}
	if !resp.Success {
		m.Reject = true
		m.Index = req.PrevLogIndex
		m.RejectHint = resp.MatchIndex
	}
	return m
}
