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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	humanize "github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/raftkit/raftkit/kvstore"
	"github.com/raftkit/raftkit/raft"
	"github.com/raftkit/raftkit/version"
)

const (
	maxValueBytes = 1024 * 1024

	// LeaderHeader carries the known leader on responses to writes that
	// could not be served.
	LeaderHeader = "X-Raft-Leader"
)

var (
	errTimeout  = errors.New("request timed out")
	errNoLeader = errors.New("no leader")
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Message string `json:"message"`
}

// WriteResponse is the body of a successful put or delete.
type WriteResponse struct {
	Key   string `json:"key"`
	Index uint64 `json:"index"`
}

// PeerHealth is the prober's view of one peer.
type PeerHealth struct {
	Healthy   bool   `json:"healthy"`
	RTT       string `json:"rtt"`
	ClockDiff string `json:"clock-diff,omitempty"`
	Error     string `json:"error,omitempty"`
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	raft.Status
	Version    string                `json:"version"`
	ClusterID  string                `json:"cluster-id"`
	Keys       int                   `json:"keys"`
	KVApplied  uint64                `json:"kv-applied"`
	DBSize     int64                 `json:"db-size"`
	DBSizeText string                `json:"db-size-text"`
	Peers      map[string]PeerHealth `json:"peers,omitempty"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Health string `json:"health"`
	Reason string `json:"reason,omitempty"`
}

func (s *Server) clientHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /kv", s.handleRange)
	mux.HandleFunc("GET /kv/{key...}", s.handleGet)
	mux.HandleFunc("PUT /kv/{key...}", s.handlePut)
	mux.HandleFunc("DELETE /kv/{key...}", s.handleDelete)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /health", s.handleHealth)
	if s.cfg.EnableMetrics {
		mux.Handle("GET /metrics", promhttp.Handler())
	}
	return promhttp.InstrumentHandlerCounter(clientRequests, mux)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if key == "" {
		s.writeError(w, r, http.StatusBadRequest, errors.New("empty key"))
		return
	}
	kv, ok := s.kv.Get(key)
	if !ok {
		s.writeError(w, r, http.StatusNotFound, fmt.Errorf("key %q not found", key))
		return
	}
	writeJSON(w, http.StatusOK, kv)
}

// handleRange lists keys in [from, to) in key order.
func (s *Server) handleRange(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := 0
	if l := q.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 {
			s.writeError(w, r, http.StatusBadRequest, fmt.Errorf("invalid limit %q", l))
			return
		}
		limit = n
	}
	kvs := s.kv.Range(q.Get("from"), q.Get("to"), limit)
	if kvs == nil {
		kvs = []kvstore.KeyValue{}
	}
	writeJSON(w, http.StatusOK, kvs)
}

func (s *Server) handlePut(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if key == "" {
		s.writeError(w, r, http.StatusBadRequest, errors.New("empty key"))
		return
	}
	b, err := io.ReadAll(io.LimitReader(r.Body, maxValueBytes+1))
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	if len(b) > maxValueBytes {
		s.writeError(w, r, http.StatusRequestEntityTooLarge, fmt.Errorf("value exceeds %s", humanize.Bytes(maxValueBytes)))
		return
	}
	s.write(w, r, kvstore.Command{Op: kvstore.OpPut, Key: key, Value: string(b)})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if key == "" {
		s.writeError(w, r, http.StatusBadRequest, errors.New("empty key"))
		return
	}
	s.write(w, r, kvstore.Command{Op: kvstore.OpDelete, Key: key})
}

func (s *Server) write(w http.ResponseWriter, r *http.Request, c kvstore.Command) {
	if s.node.Role() != raft.StateLeader {
		s.redirect(w, r, s.node.Leader())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), time.Duration(s.cfg.RequestTimeout))
	defer cancel()
	index, err := s.propose(ctx, c)
	if err != nil {
		var nl *raft.NotLeaderError
		switch {
		case errors.As(err, &nl):
			s.redirect(w, r, nl.Leader)
		case errors.Is(err, context.DeadlineExceeded):
			s.writeError(w, r, http.StatusGatewayTimeout, errTimeout)
		case errors.Is(err, raft.ErrStopped), errors.Is(err, context.Canceled):
			s.writeError(w, r, http.StatusServiceUnavailable, err)
		default:
			s.writeError(w, r, http.StatusInternalServerError, err)
		}
		return
	}
	writeJSON(w, http.StatusOK, WriteResponse{Key: c.Key, Index: index})
}

// propose submits c and waits until it has been applied to the store.
func (s *Server) propose(ctx context.Context, c kvstore.Command) (uint64, error) {
	c.ID = s.idgen.next()
	data, err := c.Encode()
	if err != nil {
		return 0, err
	}
	ch := s.kv.Register(c.ID)
	start := time.Now()
	index, err := s.node.SubmitCommand(ctx, data)
	if err != nil {
		s.kv.Cancel(c.ID)
		return 0, err
	}
	select {
	case <-ch:
		proposeDuration.Observe(time.Since(start).Seconds())
		return index, nil
	case <-ctx.Done():
		s.kv.Cancel(c.ID)
		s.lg.Warn("proposal not applied in time",
			zap.Uint64("request-id", c.ID),
			zap.Uint64("index", index),
			zap.Error(ctx.Err()),
		)
		return 0, ctx.Err()
	}
}

// redirect sends the client to the leader's client URL. Without a known
// leader or its URL the write fails with 503.
func (s *Server) redirect(w http.ResponseWriter, r *http.Request, leader string) {
	if leader == raft.None {
		s.writeError(w, r, http.StatusServiceUnavailable, errNoLeader)
		return
	}
	w.Header().Set(LeaderHeader, leader)
	us, ok := s.clientURLs[leader]
	if !ok || len(us) == 0 {
		s.writeError(w, r, http.StatusServiceUnavailable, fmt.Errorf("leader %s has no known client url", leader))
		return
	}
	u := us[0]
	u.Path = r.URL.Path
	u.RawQuery = r.URL.RawQuery
	http.Redirect(w, r, u.String(), http.StatusTemporaryRedirect)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	size := s.be.Size()
	resp := StatusResponse{
		Status:     s.node.Status(),
		Version:    version.Version,
		ClusterID:  s.clusterID,
		Keys:       s.kv.Len(),
		KVApplied:  s.kv.AppliedIndex(),
		DBSize:     size,
		DBSizeText: humanize.Bytes(uint64(size)),
		Peers:      make(map[string]PeerHealth),
	}
	for _, name := range s.peers {
		if name == s.cfg.Name {
			continue
		}
		ps, err := s.tr.ProbingStatus(name)
		if err != nil {
			continue
		}
		ph := PeerHealth{
			Healthy: ps.Health(),
			RTT:     ps.SRTT().String(),
		}
		if d := ps.ClockDiff(); d != 0 {
			ph.ClockDiff = d.String()
		}
		if err := ps.Err(); err != nil {
			ph.Error = err.Error()
		}
		resp.Peers[name] = ph
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.node.Leader() == raft.None {
		healthFailures.Inc()
		writeJSON(w, http.StatusServiceUnavailable, HealthResponse{Health: "false", Reason: "RAFT NO LEADER"})
		return
	}
	healthSuccesses.Inc()
	writeJSON(w, http.StatusOK, HealthResponse{Health: "true"})
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, code int, err error) {
	if code >= http.StatusInternalServerError {
		s.lg.Warn("client request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("code", code),
			zap.Error(err),
		)
	}
	writeJSON(w, code, ErrorResponse{Message: err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
