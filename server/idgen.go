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

package server

import (
	"hash/fnv"
	"math"
	"sync/atomic"
	"time"
)

const (
	tsLen     = 5 * 8
	cntLen    = 8
	suffixLen = tsLen + cntLen
)

// idGenerator generates request IDs unique across members and restarts.
// The high 2 bytes hold a hash of the member name; the low 6 bytes hold
// the start time in milliseconds shifted left by a byte, incremented for
// every ID.
type idGenerator struct {
	prefix uint64
	suffix atomic.Uint64
}

func newIDGenerator(name string, now time.Time) *idGenerator {
	h := fnv.New32a()
	h.Write([]byte(name))
	g := &idGenerator{prefix: uint64(h.Sum32()&math.MaxUint16) << suffixLen}
	unixMilli := uint64(now.UnixNano()) / uint64(time.Millisecond/time.Nanosecond)
	g.suffix.Store(lowbit(unixMilli, tsLen) << cntLen)
	return g
}

// next returns a new ID. It is never zero.
func (g *idGenerator) next() uint64 {
	suffix := g.suffix.Add(1)
	id := g.prefix | lowbit(suffix, suffixLen)
	if id == 0 {
		return g.next()
	}
	return id
}

func lowbit(x uint64, n uint) uint64 {
	return x & (math.MaxUint64 >> (64 - n))
}
