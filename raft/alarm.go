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
	"time"

	"github.com/jonboulle/clockwork"
)

type alarmKind int

const (
	electionAlarm alarmKind = iota
	heartbeatAlarm
)

func (k alarmKind) String() string {
	if k == electionAlarm {
		return "election"
	}
	return "heartbeat"
}

// alarmFire is what an expired alarm posts to the node mailbox.
type alarmFire struct {
	kind alarmKind
	gen  uint64
}

// alarm is an Alarm backed by a clockwork timer. Expiry does not touch raft
// state; it posts an alarmFire into the node mailbox, and the node only acts
// on it if the alarm has not been reset or stopped since.
//
// alarm is only used from the node goroutine.
type alarm struct {
	kind  alarmKind
	clock clockwork.Clock
	timer clockwork.Timer
	gen   uint64
	firec chan<- alarmFire
	stopc <-chan struct{}
}

func newAlarm(kind alarmKind, clock clockwork.Clock, firec chan<- alarmFire, stopc <-chan struct{}) *alarm {
	return &alarm{kind: kind, clock: clock, firec: firec, stopc: stopc}
}

func (a *alarm) Reset(d time.Duration) {
	a.Stop()
	gen := a.gen
	a.timer = a.clock.AfterFunc(d, func() {
		select {
		case a.firec <- alarmFire{kind: a.kind, gen: gen}:
		case <-a.stopc:
		}
	})
}

func (a *alarm) Stop() {
	a.gen++
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
}

// current reports whether f is the pending expiry of this alarm rather than
// one that was already cancelled.
func (a *alarm) current(f alarmFire) bool {
	return a.timer != nil && f.gen == a.gen
}
