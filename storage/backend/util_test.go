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

package backend

import (
	"context"
	"errors"

	pb "github.com/raftkit/raftkit/raft/raftpb"
)

type nopTransport struct{}

func (nopTransport) RequestVote(context.Context, string, *pb.RequestVoteRequest) (*pb.RequestVoteResponse, error) {
	return nil, errors.New("no peers")
}

func (nopTransport) AppendEntries(context.Context, string, *pb.AppendEntriesRequest) (*pb.AppendEntriesResponse, error) {
	return nil, errors.New("no peers")
}
