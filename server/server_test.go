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
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/raftkit/raftkit/kvstore"
	"github.com/raftkit/raftkit/raft"
	"github.com/raftkit/raftkit/version"
)

type testMember struct {
	s         *Server
	clientURL string
	cancel    context.CancelFunc
	errc      chan error
}

func (m *testMember) stop(t *testing.T) {
	t.Helper()
	if m.cancel == nil {
		return
	}
	m.cancel()
	require.NoError(t, <-m.errc)
	m.cancel = nil
}

// newTestCluster starts size members on loopback listeners.
func newTestCluster(t *testing.T, size int) []*testMember {
	t.Helper()
	var (
		peerLs, clientLs []net.Listener
		peers, clients   []string
	)
	for i := 0; i < size; i++ {
		pl, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		cl, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		peerLs = append(peerLs, pl)
		clientLs = append(clientLs, cl)
		peers = append(peers, fmt.Sprintf("m%d=http://%s", i, pl.Addr()))
		clients = append(clients, fmt.Sprintf("m%d=http://%s", i, cl.Addr()))
	}

	ms := make([]*testMember, size)
	for i := 0; i < size; i++ {
		cfg := NewConfig()
		cfg.Name = fmt.Sprintf("m%d", i)
		cfg.DataDir = t.TempDir()
		cfg.ListenPeerURL = "http://" + peerLs[i].Addr().String()
		cfg.ListenClientURL = "http://" + clientLs[i].Addr().String()
		cfg.InitialCluster = strings.Join(peers, ",")
		cfg.InitialClusterClient = strings.Join(clients, ",")
		cfg.HeartbeatInterval = Duration(20 * time.Millisecond)
		cfg.ElectionTimeout = Duration(200 * time.Millisecond)
		cfg.MaxClientConns = 64

		s, err := New(cfg, zaptest.NewLogger(t))
		require.NoError(t, err)
		ctx, cancel := context.WithCancel(context.Background())
		m := &testMember{s: s, clientURL: cfg.ListenClientURL, cancel: cancel, errc: make(chan error, 1)}
		go func(pl, cl net.Listener) { m.errc <- s.Serve(ctx, pl, cl) }(peerLs[i], clientLs[i])
		select {
		case <-s.ReadyNotify():
		case <-time.After(5 * time.Second):
			t.Fatalf("member %s not ready", cfg.Name)
		}
		ms[i] = m
	}
	t.Cleanup(func() {
		for _, m := range ms {
			m.stop(t)
		}
	})
	return ms
}

func waitLeader(t *testing.T, ms []*testMember) (leader *testMember, followers []*testMember) {
	t.Helper()
	require.Eventually(t, func() bool {
		leader, followers = nil, nil
		for _, m := range ms {
			if m.s.Node().Role() == raft.StateLeader {
				leader = m
			} else {
				followers = append(followers, m)
			}
		}
		if leader == nil {
			return false
		}
		for _, f := range followers {
			if f.s.Node().Leader() != leader.s.Node().ID() {
				return false
			}
		}
		return true
	}, 10*time.Second, 10*time.Millisecond)
	return leader, followers
}

// noRedirect is a client that returns redirects instead of following them.
var noRedirect = &http.Client{
	CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
	Timeout:       10 * time.Second,
}

func do(t *testing.T, method, url, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := noRedirect.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestServerPutGetDelete(t *testing.T) {
	ms := newTestCluster(t, 3)
	leader, followers := waitLeader(t, ms)

	resp := do(t, http.MethodPut, leader.clientURL+"/kv/foo", "bar")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	wr := decode[WriteResponse](t, resp)
	assert.Equal(t, "foo", wr.Key)
	assert.Equal(t, uint64(1), wr.Index)

	// applied on the leader before the write returned
	resp = do(t, http.MethodGet, leader.clientURL+"/kv/foo", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	kv := decode[kvstore.KeyValue](t, resp)
	assert.Equal(t, kvstore.KeyValue{Key: "foo", Value: "bar", ModIndex: 1}, kv)

	for _, f := range followers {
		require.Eventually(t, func() bool {
			got, ok := f.s.KV().Get("foo")
			return ok && got.Value == "bar"
		}, 5*time.Second, 10*time.Millisecond)
	}

	resp = do(t, http.MethodPut, leader.clientURL+"/kv/dir/sub", "x")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp = do(t, http.MethodGet, leader.clientURL+"/kv?from=d&limit=10", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	kvs := decode[[]kvstore.KeyValue](t, resp)
	require.Len(t, kvs, 2)
	assert.Equal(t, "dir/sub", kvs[0].Key)
	assert.Equal(t, "foo", kvs[1].Key)

	resp = do(t, http.MethodDelete, leader.clientURL+"/kv/foo", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, uint64(3), decode[WriteResponse](t, resp).Index)
	resp = do(t, http.MethodGet, leader.clientURL+"/kv/foo", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.NotEmpty(t, decode[ErrorResponse](t, resp).Message)
}

func TestServerFollowerRedirectsWrites(t *testing.T) {
	ms := newTestCluster(t, 3)
	leader, followers := waitLeader(t, ms)

	resp := do(t, http.MethodPut, followers[0].clientURL+"/kv/foo?x=1", "bar")
	require.Equal(t, http.StatusTemporaryRedirect, resp.StatusCode)
	assert.Equal(t, leader.clientURL+"/kv/foo?x=1", resp.Header.Get("Location"))
	assert.Equal(t, leader.s.Node().ID(), resp.Header.Get(LeaderHeader))

	// the default client follows the redirect and resends the body
	req, err := http.NewRequest(http.MethodPut, followers[0].clientURL+"/kv/foo", strings.NewReader("bar"))
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got, ok := leader.s.KV().Get("foo")
	require.True(t, ok)
	assert.Equal(t, "bar", got.Value)
}

func TestServerBadRequests(t *testing.T) {
	ms := newTestCluster(t, 1)
	leader, _ := waitLeader(t, ms)

	assert.Equal(t, http.StatusBadRequest, do(t, http.MethodGet, leader.clientURL+"/kv/", "").StatusCode)
	assert.Equal(t, http.StatusBadRequest, do(t, http.MethodPut, leader.clientURL+"/kv/", "v").StatusCode)
	assert.Equal(t, http.StatusBadRequest, do(t, http.MethodGet, leader.clientURL+"/kv?limit=-1", "").StatusCode)
	assert.Equal(t, http.StatusMethodNotAllowed, do(t, http.MethodPost, leader.clientURL+"/kv/foo", "v").StatusCode)

	rec := httptest.NewRecorder()
	big := strings.Repeat("x", maxValueBytes+1)
	leader.s.clientHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/kv/big", strings.NewReader(big)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestServerNoLeader(t *testing.T) {
	ms := newTestCluster(t, 3)
	leader, followers := waitLeader(t, ms)
	leader.stop(t)
	followers[1].stop(t)

	// The survivor cannot win an election alone.
	f := followers[0]
	require.Eventually(t, func() bool {
		return f.s.Node().Leader() == raft.None
	}, 5*time.Second, 10*time.Millisecond)

	resp := do(t, http.MethodPut, f.clientURL+"/kv/foo", "bar")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	resp = do(t, http.MethodGet, f.clientURL+"/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, HealthResponse{Health: "false", Reason: "RAFT NO LEADER"}, decode[HealthResponse](t, resp))
}

func TestServerStatusHealthMetrics(t *testing.T) {
	ms := newTestCluster(t, 3)
	leader, _ := waitLeader(t, ms)
	require.Equal(t, http.StatusOK, do(t, http.MethodPut, leader.clientURL+"/kv/a", "1").StatusCode)

	resp := do(t, http.MethodGet, leader.clientURL+"/status", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	st := decode[StatusResponse](t, resp)
	assert.Equal(t, leader.s.Node().ID(), st.ID)
	assert.Equal(t, raft.StateLeader, st.RaftState)
	assert.Equal(t, version.Version, st.Version)
	assert.Equal(t, uint64(1), st.Commit)
	assert.Equal(t, 1, st.Keys)
	assert.Equal(t, uint64(1), st.KVApplied)
	assert.Positive(t, st.DBSize)
	assert.Len(t, st.Progress, 3)
	assert.Len(t, st.Peers, 2)

	resp = do(t, http.MethodGet, leader.clientURL+"/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "true", decode[HealthResponse](t, resp).Health)

	resp = do(t, http.MethodGet, leader.clientURL+"/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(b), "raftkit_server_client_requests_total")
	assert.Contains(t, string(b), "raftkit_kvstore_keys_total")
}

func TestServerRestartKeepsData(t *testing.T) {
	pl, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	cl, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	cfg := NewConfig()
	cfg.Name = "solo"
	cfg.DataDir = t.TempDir()
	cfg.ListenPeerURL = "http://" + pl.Addr().String()
	cfg.ListenClientURL = "http://" + cl.Addr().String()
	cfg.InitialCluster = "solo=" + cfg.ListenPeerURL
	cfg.HeartbeatInterval = Duration(20 * time.Millisecond)
	cfg.ElectionTimeout = Duration(200 * time.Millisecond)

	run := func(pl, cl net.Listener) *testMember {
		s, err := New(cfg, zaptest.NewLogger(t))
		require.NoError(t, err)
		ctx, cancel := context.WithCancel(context.Background())
		m := &testMember{s: s, clientURL: cfg.ListenClientURL, cancel: cancel, errc: make(chan error, 1)}
		go func() { m.errc <- s.Serve(ctx, pl, cl) }()
		t.Cleanup(func() { m.stop(t) })
		return m
	}

	m := run(pl, cl)
	waitLeader(t, []*testMember{m})
	require.Equal(t, http.StatusOK, do(t, http.MethodPut, m.clientURL+"/kv/k", "v1").StatusCode)
	m.stop(t)

	pl, err = net.Listen("tcp", pl.Addr().String())
	require.NoError(t, err)
	cl, err = net.Listen("tcp", cl.Addr().String())
	require.NoError(t, err)
	m = run(pl, cl)
	waitLeader(t, []*testMember{m})
	// Entries are re-applied once the new term commits an entry of its own.
	resp := do(t, http.MethodPut, m.clientURL+"/kv/k2", "v2")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, uint64(2), decode[WriteResponse](t, resp).Index)
	got, ok := m.s.KV().Get("k")
	require.True(t, ok)
	assert.Equal(t, "v1", got.Value)
}
