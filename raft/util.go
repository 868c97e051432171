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
	"bytes"
	"fmt"
	"math"

	pb "github.com/raftkit/raftkit/raft/raftpb"
)

// None is a placeholder node ID used when there is no leader or no vote.
const None = ""

const noLimit = math.MaxUint64

// EntryFormatter can be implemented by the application to provide human-readable formatting
// of entry data. Nil is a valid EntryFormatter and will use a default format.
type EntryFormatter func([]byte) string

// DescribeMessage returns a concise human-readable description of a
// Message for debugging.
func DescribeMessage(m pb.Message, f EntryFormatter) string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s->%s %v Term:%d Log:%d/%d", m.From, m.To, m.Type, m.Term, m.LogTerm, m.Index)
	if m.Reject {
		fmt.Fprintf(&buf, " Rejected (Hint: %d)", m.RejectHint)
	}
	if m.Commit != 0 {
		fmt.Fprintf(&buf, " Commit:%d", m.Commit)
	}
	if len(m.Entries) > 0 {
		fmt.Fprintf(&buf, " Entries:[")
		for i, e := range m.Entries {
			if i != 0 {
				buf.WriteString(", ")
			}
			buf.WriteString(f.DescribeEntry(e))
		}
		fmt.Fprintf(&buf, "]")
	}
	return buf.String()
}

// DescribeEntry returns a concise human-readable description of an
// Entry for debugging.
func (f EntryFormatter) DescribeEntry(e pb.Entry) string {
	var formatted string
	if f == nil {
		formatted = fmt.Sprintf("%q", e.Data)
	} else {
		formatted = f(e.Data)
	}
	return fmt.Sprintf("%d/%d %s", e.Term, e.Index, formatted)
}

// DescribeEntry describes e with the default formatter.
func DescribeEntry(e pb.Entry) string {
	var f EntryFormatter
	return f.DescribeEntry(e)
}

// limitSize returns the longest prefix of ents whose payload fits in
// maxSize, but at least one entry.
func limitSize(ents []pb.Entry, maxSize uint64) []pb.Entry {
	if len(ents) == 0 {
		return ents
	}
	size := uint64(len(ents[0].Data))
	var limit int
	for limit = 1; limit < len(ents); limit++ {
		size += uint64(len(ents[limit].Data))
		if size > maxSize {
			break
		}
	}
	return ents[:limit]
}

// replyMsgType maps a request type to the type of its reply.
func replyMsgType(t pb.MessageType) pb.MessageType {
	switch t {
	case pb.MsgVote:
		return pb.MsgVoteResp
	case pb.MsgApp:
		return pb.MsgAppResp
	default:
		panic(fmt.Sprintf("not a request type: %v", t))
	}
}
