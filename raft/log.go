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
	"fmt"

	"go.uber.org/zap"

	pb "github.com/raftkit/raftkit/raft/raftpb"
)

// raftLog is the node's view of the replicated log. It mirrors storage in
// memory and writes through to it before any change becomes visible.
type raftLog struct {
	storage Storage

	// ents[i] has log position i; ents[0] is a dummy entry of term 0.
	ents []pb.Entry

	// committed is the highest log position that is known to be in
	// stable storage on a quorum of nodes.
	committed uint64
	// applied is the highest log position that the application has
	// been instructed to apply to its state machine.
	// Invariant: applied <= committed
	applied uint64

	logger *zap.Logger
}

// newLog returns a log using the given storage. It recovers the log to the
// state that it just commits and applies nothing.
func newLog(storage Storage, logger *zap.Logger) *raftLog {
	if storage == nil {
		logger.Panic("storage must not be nil")
	}
	last, err := storage.LastIndex()
	if err != nil {
		logger.Panic("failed to read last index", zap.Error(err))
	}
	ents := make([]pb.Entry, 1, last+1)
	if last > 0 {
		stored, err := storage.Entries(1, last+1)
		if err != nil {
			logger.Panic("failed to load log", zap.Uint64("last-index", last), zap.Error(err))
		}
		for i, e := range stored {
			if e.Index != uint64(i)+1 {
				logger.Panic("log is not contiguous",
					zap.Uint64("expected-index", uint64(i)+1),
					zap.Uint64("found-index", e.Index),
				)
			}
		}
		ents = append(ents, stored...)
	}
	return &raftLog{
		storage: storage,
		ents:    ents,
		logger:  logger,
	}
}

func (l *raftLog) String() string {
	return fmt.Sprintf("committed=%d, applied=%d, lastIndex=%d, lastTerm=%d",
		l.committed, l.applied, l.lastIndex(), l.lastTerm())
}

// maybeAppend returns (0, false) if the entries cannot be appended. Otherwise,
// it returns (last index of new entries, true).
func (l *raftLog) maybeAppend(index, logTerm, committed uint64, ents ...pb.Entry) (lastnewi uint64, ok bool) {
	if !l.matchTerm(index, logTerm) {
		return 0, false
	}
	lastnewi = index + uint64(len(ents))
	ci := l.findConflict(ents)
	switch {
	case ci == 0:
	case ci <= l.committed:
		l.logger.Panic("entry conflicts with committed entry",
			zap.Uint64("conflict-index", ci),
			zap.Uint64("committed", l.committed),
		)
	default:
		offset := index + 1
		l.append(ents[ci-offset:]...)
	}
	l.commitTo(min(committed, lastnewi))
	return lastnewi, true
}

// append writes ents through to storage, replacing everything from
// ents[0].Index on, and returns the new last index.
func (l *raftLog) append(ents ...pb.Entry) uint64 {
	if len(ents) == 0 {
		return l.lastIndex()
	}
	after := ents[0].Index - 1
	if after < l.committed {
		l.logger.Panic("attempted to truncate committed entries",
			zap.Uint64("after", after),
			zap.Uint64("committed", l.committed),
		)
	}
	if after > l.lastIndex() {
		l.logger.Panic("attempted to append with a gap",
			zap.Uint64("after", after),
			zap.Uint64("last-index", l.lastIndex()),
		)
	}
	if err := l.storage.Append(ents); err != nil {
		l.logger.Panic("failed to append entries", zap.Uint64("index", ents[0].Index), zap.Error(err))
	}
	l.ents = append(l.ents[:after+1:after+1], ents...)
	return l.lastIndex()
}

// findConflict finds the index of the conflict.
// It returns the first pair of conflicting entries between the existing
// entries and the given entries, if there are any.
// If there is no conflicting entries, and the existing entries contains
// all the given entries, zero will be returned.
// If there is no conflicting entries, but the given entries contains new
// entries, the index of the first new entry will be returned.
// An entry is considered to be conflicting if it has the same index but
// a different term.
// The first entry MUST have an index equal to the argument 'from'.
// The index of the given entries MUST be continuously increasing.
func (l *raftLog) findConflict(ents []pb.Entry) uint64 {
	for _, ne := range ents {
		if !l.matchTerm(ne.Index, ne.Term) {
			if ne.Index <= l.lastIndex() {
				l.logger.Info("found conflict",
					zap.Uint64("index", ne.Index),
					zap.Uint64("existing-term", l.term(ne.Index)),
					zap.Uint64("conflicting-term", ne.Term),
				)
			}
			return ne.Index
		}
	}
	return 0
}

func (l *raftLog) lastIndex() uint64 { return uint64(len(l.ents)) - 1 }

func (l *raftLog) lastTerm() uint64 { return l.ents[len(l.ents)-1].Term }

// term returns the term of entry i, or 0 if there is no such entry.
func (l *raftLog) term(i uint64) uint64 {
	if i > l.lastIndex() {
		return 0
	}
	return l.ents[i].Term
}

// entries returns entries from i on, limited to maxsize bytes of payload.
// At least one entry is returned if any exists.
func (l *raftLog) entries(i, maxsize uint64) []pb.Entry {
	if i > l.lastIndex() {
		return nil
	}
	return limitSize(l.slice(i, l.lastIndex()+1), maxsize)
}

// allEntries returns all entries in the log.
func (l *raftLog) allEntries() []pb.Entry {
	return l.entries(1, noLimit)
}

// isUpToDate determines if the given (lastIndex,term) log is more up-to-date
// by comparing the index and term of the last entries in the existing logs.
// If the logs have last entries with different terms, then the log with the
// later term is more up-to-date. If the logs end with the same term, then
// whichever log has the larger lastIndex is more up-to-date. If the logs are
// the same, the given log is up-to-date.
func (l *raftLog) isUpToDate(lasti, term uint64) bool {
	return term > l.lastTerm() || (term == l.lastTerm() && lasti >= l.lastIndex())
}

func (l *raftLog) matchTerm(i, term uint64) bool {
	if i > l.lastIndex() {
		return false
	}
	return l.ents[i].Term == term
}

// maybeCommit commits up to maxIndex only if the entry there was created in
// term. Entries of older terms are committed indirectly, never by counting
// replicas.
func (l *raftLog) maybeCommit(maxIndex, term uint64) bool {
	if maxIndex > l.committed && l.term(maxIndex) == term {
		l.commitTo(maxIndex)
		return true
	}
	return false
}

func (l *raftLog) commitTo(tocommit uint64) {
	// never decrease commit
	if l.committed < tocommit {
		if l.lastIndex() < tocommit {
			l.logger.Panic("tocommit is out of range",
				zap.Uint64("tocommit", tocommit),
				zap.Uint64("last-index", l.lastIndex()),
			)
		}
		l.committed = tocommit
	}
}

// nextEnts returns all the committed entries not yet handed to the
// application.
func (l *raftLog) nextEnts() []pb.Entry {
	if l.committed > l.applied {
		return l.slice(l.applied+1, l.committed+1)
	}
	return nil
}

func (l *raftLog) appliedTo(i uint64) {
	if i == 0 {
		return
	}
	if l.committed < i || i < l.applied {
		l.logger.Panic("applied is out of range",
			zap.Uint64("applied", i),
			zap.Uint64("prev-applied", l.applied),
			zap.Uint64("committed", l.committed),
		)
	}
	l.applied = i
}

// slice returns a copy of the log entries from lo through hi-1, inclusive.
func (l *raftLog) slice(lo, hi uint64) []pb.Entry {
	if lo >= hi {
		return nil
	}
	if lo < 1 || hi > l.lastIndex()+1 {
		l.logger.Panic("slice out of bound",
			zap.Uint64("lo", lo),
			zap.Uint64("hi", hi),
			zap.Uint64("last-index", l.lastIndex()),
		)
	}
	return append([]pb.Entry(nil), l.ents[lo:hi]...)
}
