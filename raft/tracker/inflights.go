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

// Inflights limits the number of appends sent to a follower but not yet
// acknowledged. Each inflight is represented by the last index carried in
// that append. Callers check Full() before sending, Add() the index of every
// append sent, and release quota via FreeLE() when an acknowledgement arrives.
type Inflights struct {
	// start is the position of the oldest inflight in buffer.
	start int
	count int
	size  int

	// buffer is a ring, grown on demand up to size.
	buffer []uint64
}

// NewInflights sets up an Inflights that allows up to size inflight appends.
func NewInflights(size int) *Inflights {
	return &Inflights{size: size}
}

// Add records an append whose last index is inflight. Indexes passed to
// consecutive calls must be increasing.
func (in *Inflights) Add(inflight uint64) {
	if in.Full() {
		panic("cannot add into a Full inflights")
	}
	next := in.start + in.count
	if next >= in.size {
		next -= in.size
	}
	if next >= len(in.buffer) {
		in.grow()
	}
	in.buffer[next] = inflight
	in.count++
}

func (in *Inflights) grow() {
	newSize := len(in.buffer) * 2
	if newSize == 0 {
		newSize = 1
	} else if newSize > in.size {
		newSize = in.size
	}
	newBuffer := make([]uint64, newSize)
	copy(newBuffer, in.buffer)
	in.buffer = newBuffer
}

// FreeLE frees the inflights smaller or equal to the given index.
func (in *Inflights) FreeLE(to uint64) {
	if in.count == 0 || to < in.buffer[in.start] {
		return
	}

	idx := in.start
	var i int
	for i = 0; i < in.count; i++ {
		if to < in.buffer[idx] {
			break
		}
		if idx++; idx >= in.size {
			idx -= in.size
		}
	}
	in.count -= i
	in.start = idx
	if in.count == 0 {
		in.start = 0
	}
}

// Full returns true if no more appends can be sent at the moment.
func (in *Inflights) Full() bool { return in.count == in.size }

// Count returns the number of inflight appends.
func (in *Inflights) Count() int { return in.count }

func (in *Inflights) reset() {
	in.count = 0
	in.start = 0
}
