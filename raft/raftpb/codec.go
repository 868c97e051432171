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

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// The wire format is plain protobuf so that messages stay readable by any
// protobuf tooling:
//
//	message Entry                 { uint64 term = 1; uint64 index = 2; bytes data = 3; }
//	message HardState             { uint64 term = 1; string vote = 2; }
//	message RequestVoteRequest    { uint64 term = 1; string candidate_id = 2; uint64 last_log_index = 3; uint64 last_log_term = 4; }
//	message RequestVoteResponse   { uint64 term = 1; bool vote_granted = 2; }
//	message AppendEntriesRequest  { uint64 term = 1; string leader_id = 2; uint64 prev_log_index = 3;
//	                                uint64 prev_log_term = 4; repeated Entry entries = 5; uint64 leader_commit = 6; }
//	message AppendEntriesResponse { uint64 term = 1; bool success = 2; uint64 match_index = 3; }

var ErrUnexpectedWireType = errors.New("raftpb: unexpected wire type")

func appendUvarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	if !v {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, protowire.EncodeBool(v))
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

// fieldFunc decodes the value of one field from b and returns the number of
// bytes consumed. Returning -1 asks the caller to skip an unknown field.
type fieldFunc func(num protowire.Number, typ protowire.Type, b []byte) (int, error)

func unmarshal(name string, b []byte, f fieldFunc) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("raftpb: %s: %w", name, protowire.ParseError(n))
		}
		b = b[n:]
		m, err := f(num, typ, b)
		if err != nil {
			return fmt.Errorf("raftpb: %s field %d: %w", name, num, err)
		}
		if m < 0 {
			m = protowire.ConsumeFieldValue(num, typ, b)
		}
		if m < 0 {
			return fmt.Errorf("raftpb: %s field %d: %w", name, num, protowire.ParseError(m))
		}
		b = b[m:]
	}
	return nil
}

func consumeUvarint(typ protowire.Type, b []byte, v *uint64) (int, error) {
	if typ != protowire.VarintType {
		return 0, ErrUnexpectedWireType
	}
	x, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	*v = x
	return n, nil
}

func consumeBool(typ protowire.Type, b []byte, v *bool) (int, error) {
	var x uint64
	n, err := consumeUvarint(typ, b, &x)
	if err != nil {
		return 0, err
	}
	*v = protowire.DecodeBool(x)
	return n, nil
}

func consumeString(typ protowire.Type, b []byte, v *string) (int, error) {
	if typ != protowire.BytesType {
		return 0, ErrUnexpectedWireType
	}
	s, n := protowire.ConsumeString(b)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	*v = s
	return n, nil
}

func consumeBytes(typ protowire.Type, b []byte, v *[]byte) (int, error) {
	if typ != protowire.BytesType {
		return 0, ErrUnexpectedWireType
	}
	x, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	*v = append([]byte(nil), x...)
	return n, nil
}

func (e *Entry) appendTo(b []byte) []byte {
	b = appendUvarint(b, 1, e.Term)
	b = appendUvarint(b, 2, e.Index)
	return appendBytes(b, 3, e.Data)
}

func (e *Entry) Marshal() ([]byte, error) { return e.appendTo(nil), nil }

func (e *Entry) Unmarshal(b []byte) error {
	*e = Entry{}
	return unmarshal("Entry", b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeUvarint(typ, b, &e.Term)
		case 2:
			return consumeUvarint(typ, b, &e.Index)
		case 3:
			return consumeBytes(typ, b, &e.Data)
		}
		return -1, nil
	})
}

func (st *HardState) Marshal() ([]byte, error) {
	b := appendUvarint(nil, 1, st.Term)
	return appendString(b, 2, st.Vote), nil
}

func (st *HardState) Unmarshal(b []byte) error {
	*st = HardState{}
	return unmarshal("HardState", b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeUvarint(typ, b, &st.Term)
		case 2:
			return consumeString(typ, b, &st.Vote)
		}
		return -1, nil
	})
}

func (m *RequestVoteRequest) Marshal() ([]byte, error) {
	b := appendUvarint(nil, 1, m.Term)
	b = appendString(b, 2, m.CandidateID)
	b = appendUvarint(b, 3, m.LastLogIndex)
	return appendUvarint(b, 4, m.LastLogTerm), nil
}

func (m *RequestVoteRequest) Unmarshal(b []byte) error {
	*m = RequestVoteRequest{}
	return unmarshal("RequestVoteRequest", b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeUvarint(typ, b, &m.Term)
		case 2:
			return consumeString(typ, b, &m.CandidateID)
		case 3:
			return consumeUvarint(typ, b, &m.LastLogIndex)
		case 4:
			return consumeUvarint(typ, b, &m.LastLogTerm)
		}
		return -1, nil
	})
}

func (m *RequestVoteResponse) Marshal() ([]byte, error) {
	b := appendUvarint(nil, 1, m.Term)
	return appendBool(b, 2, m.VoteGranted), nil
}

func (m *RequestVoteResponse) Unmarshal(b []byte) error {
	*m = RequestVoteResponse{}
	return unmarshal("RequestVoteResponse", b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeUvarint(typ, b, &m.Term)
		case 2:
			return consumeBool(typ, b, &m.VoteGranted)
		}
		return -1, nil
	})
}

func (m *AppendEntriesRequest) Marshal() ([]byte, error) {
	b := appendUvarint(nil, 1, m.Term)
	b = appendString(b, 2, m.LeaderID)
	b = appendUvarint(b, 3, m.PrevLogIndex)
	b = appendUvarint(b, 4, m.PrevLogTerm)
	for i := range m.Entries {
		b = protowire.AppendTag(b, 5, protowire.BytesType)
		b = protowire.AppendBytes(b, m.Entries[i].appendTo(nil))
	}
	return appendUvarint(b, 6, m.LeaderCommit), nil
}

func (m *AppendEntriesRequest) Unmarshal(b []byte) error {
	*m = AppendEntriesRequest{}
	return unmarshal("AppendEntriesRequest", b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeUvarint(typ, b, &m.Term)
		case 2:
			return consumeString(typ, b, &m.LeaderID)
		case 3:
			return consumeUvarint(typ, b, &m.PrevLogIndex)
		case 4:
			return consumeUvarint(typ, b, &m.PrevLogTerm)
		case 5:
			var raw []byte
			n, err := consumeBytes(typ, b, &raw)
			if err != nil {
				return 0, err
			}
			var e Entry
			if err := e.Unmarshal(raw); err != nil {
				return 0, err
			}
			m.Entries = append(m.Entries, e)
			return n, nil
		case 6:
			return consumeUvarint(typ, b, &m.LeaderCommit)
		}
		return -1, nil
	})
}

func (m *AppendEntriesResponse) Marshal() ([]byte, error) {
	b := appendUvarint(nil, 1, m.Term)
	b = appendBool(b, 2, m.Success)
	return appendUvarint(b, 3, m.MatchIndex), nil
}

func (m *AppendEntriesResponse) Unmarshal(b []byte) error {
	*m = AppendEntriesResponse{}
	return unmarshal("AppendEntriesResponse", b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeUvarint(typ, b, &m.Term)
		case 2:
			return consumeBool(typ, b, &m.Success)
		case 3:
			return consumeUvarint(typ, b, &m.MatchIndex)
		}
		return -1, nil
	})
}
