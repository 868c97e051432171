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

package rafttest

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/raftkit/raftkit/raft"
	pb "github.com/raftkit/raftkit/raft/raftpb"
)

// ErrDropped is returned by a Network endpoint when the request or its
// response was lost.
var ErrDropped = errors.New("rafttest: message dropped")

type link struct {
	from, to string
}

type delay struct {
	d    time.Duration
	rate float64
}

// Network connects raft nodes living in one process. Calls go straight to
// the target's raft.Handler unless a fault rule drops or delays them. A
// rule on link (a, b) applies to requests from a to b and to the responses
// b sends back to a.
type Network struct {
	mu       sync.Mutex
	handlers map[string]raft.Handler
	drops    map[link]float64
	delays   map[link]delay
	isolated map[string]bool
	rand     *rand.Rand
}

func NewNetwork() *Network {
	return &Network{
		handlers: make(map[string]raft.Handler),
		drops:    make(map[link]float64),
		delays:   make(map[link]delay),
		isolated: make(map[string]bool),
		rand:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Register routes calls addressed to id to h, replacing any earlier handler.
func (nt *Network) Register(id string, h raft.Handler) {
	nt.mu.Lock()
	defer nt.mu.Unlock()
	nt.handlers[id] = h
}

// Unregister makes id unreachable until it is registered again.
func (nt *Network) Unregister(id string) {
	nt.mu.Lock()
	defer nt.mu.Unlock()
	delete(nt.handlers, id)
}

// Transport returns the endpoint the node id sends through.
func (nt *Network) Transport(id string) raft.Transport {
	return &endpoint{id: id, nt: nt}
}

// Drop drops messages between from and to at the given rate (1.0 drops
// all messages).
func (nt *Network) Drop(from, to string, rate float64) {
	nt.mu.Lock()
	defer nt.mu.Unlock()
	nt.drops[link{from, to}] = rate
}

// Delay delays messages between from and to for (0, d] at the given rate
// (1.0 delays all messages).
func (nt *Network) Delay(from, to string, d time.Duration, rate float64) {
	nt.mu.Lock()
	defer nt.mu.Unlock()
	nt.delays[link{from, to}] = delay{d, rate}
}

// Cut drops everything between one and other, in both directions.
func (nt *Network) Cut(one, other string) {
	nt.Drop(one, other, 1.0)
	nt.Drop(other, one, 1.0)
}

// Isolate drops everything to and from id.
func (nt *Network) Isolate(id string) {
	nt.mu.Lock()
	defer nt.mu.Unlock()
	nt.isolated[id] = true
}

// Recover removes every fault rule.
func (nt *Network) Recover() {
	nt.mu.Lock()
	defer nt.mu.Unlock()
	nt.drops = make(map[link]float64)
	nt.delays = make(map[link]delay)
	nt.isolated = make(map[string]bool)
}

// lost reports whether a message on l is dropped, and how long it is held
// back otherwise.
func (nt *Network) lost(l link) (bool, time.Duration) {
	nt.mu.Lock()
	defer nt.mu.Unlock()
	if nt.isolated[l.from] || nt.isolated[l.to] {
		return true, 0
	}
	if rate, ok := nt.drops[l]; ok && nt.rand.Float64() < rate {
		return true, 0
	}
	if dl, ok := nt.delays[l]; ok && dl.d > 0 && nt.rand.Float64() < dl.rate {
		return false, time.Duration(nt.rand.Int63n(int64(dl.d))) + 1
	}
	return false, 0
}

// pass blocks for the delay of l and reports whether the message arrives.
func (nt *Network) pass(ctx context.Context, l link) error {
	drop, d := nt.lost(l)
	if drop {
		return ErrDropped
	}
	if d == 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (nt *Network) handler(to string) (raft.Handler, error) {
	nt.mu.Lock()
	defer nt.mu.Unlock()
	h, ok := nt.handlers[to]
	if !ok {
		return nil, fmt.Errorf("rafttest: no route to %s", to)
	}
	return h, nil
}

type endpoint struct {
	id string
	nt *Network
}

func (e *endpoint) deliver(ctx context.Context, to string) (raft.Handler, error) {
	if err := e.nt.pass(ctx, link{e.id, to}); err != nil {
		return nil, err
	}
	return e.nt.handler(to)
}

func (e *endpoint) RequestVote(ctx context.Context, to string, req *pb.RequestVoteRequest) (*pb.RequestVoteResponse, error) {
	h, err := e.deliver(ctx, to)
	if err != nil {
		return nil, err
	}
	resp, err := h.HandleRequestVote(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := e.nt.pass(ctx, link{to, e.id}); err != nil {
		return nil, err
	}
	return resp, nil
}

func (e *endpoint) AppendEntries(ctx context.Context, to string, req *pb.AppendEntriesRequest) (*pb.AppendEntriesResponse, error) {
	h, err := e.deliver(ctx, to)
	if err != nil {
		return nil, err
	}
	resp, err := h.HandleAppendEntries(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := e.nt.pass(ctx, link{to, e.id}); err != nil {
		return nil, err
	}
	return resp, nil
}
