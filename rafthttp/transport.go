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

// Package rafthttp carries raft RPCs between members over HTTP. Each RPC is
// one POST whose body is the protobuf-encoded request and whose response
// body is the protobuf-encoded reply.
package rafthttp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/xiang90/probing"
	"go.uber.org/zap"

	"github.com/raftkit/raftkit/pkg/types"
	"github.com/raftkit/raftkit/raft"
	pb "github.com/raftkit/raftkit/raft/raftpb"
	"github.com/raftkit/raftkit/version"
)

const (
	ConnReadTimeout  = 5 * time.Second
	ConnWriteTimeout = 5 * time.Second

	defaultDialTimeout = time.Second
)

var (
	// ErrUnknownPeer is returned for RPCs addressed to a member the
	// transport has no URLs for.
	ErrUnknownPeer = errors.New("rafthttp: unknown peer")

	errClusterIDMismatch   = errors.New("rafthttp: cluster ID mismatch")
	errIncompatibleVersion = errors.New("rafthttp: incompatible version")
)

// message is what both halves of every RPC implement.
type message interface {
	Marshal() ([]byte, error)
	Unmarshal(b []byte) error
}

// Transport implements raft.Transport over HTTP and serves the inbound side
// through Handler. Start must be called before any other method, and Stop
// when the Transport is no longer used.
type Transport struct {
	Logger *zap.Logger

	DialTimeout time.Duration // maximum duration before timing out dial of the request

	ID        string       // local member ID
	ClusterID string       // raft cluster ID for request validation
	Raft      raft.Handler // raft node, to which the Transport forwards received RPCs

	rt     http.RoundTripper
	client *http.Client

	mu    sync.RWMutex // protect the peer map
	peers map[string]*urlPicker

	prober probing.Prober
}

var _ raft.Transport = (*Transport)(nil)

func (t *Transport) Start() error {
	if t.Logger == nil {
		t.Logger = zap.NewNop()
	}
	if t.DialTimeout == 0 {
		t.DialTimeout = defaultDialTimeout
	}
	t.rt = &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   t.DialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: ConnReadTimeout,
	}
	t.client = &http.Client{Transport: t.rt}
	t.peers = make(map[string]*urlPicker)
	t.prober = probing.NewProber(t.rt)
	return nil
}

// Handler returns the HTTP handler serving RPCs from peers. It must be
// mounted at the server root.
func (t *Transport) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(RaftVotePath, newRPCHandler(t.Logger, t.ClusterID, "vote", t.serveVote))
	mux.Handle(RaftAppendPath, newRPCHandler(t.Logger, t.ClusterID, "append", t.serveAppend))
	mux.Handle(ProbingPrefix, probing.NewHandler())
	return mux
}

// AddPeer adds a peer with the given peer urls. For a known peer it
// replaces the urls.
func (t *Transport) AddPeer(id string, us []string) error {
	urls, err := types.NewURLs(us)
	if err != nil {
		return fmt.Errorf("peer %s: %w", id, err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.peers[id]; ok {
		p.update(urls)
		return nil
	}
	t.peers[id] = newURLPicker(urls)
	addPeerToProber(t.Logger, t.prober, id, us, RoundTripperNameRaftMessage)
	t.Logger.Info("added remote peer",
		zap.String("local-member-id", t.ID),
		zap.String("remote-peer-id", id),
		zap.Strings("remote-peer-urls", us),
	)
	return nil
}

// RemovePeer removes the peer with the given id.
func (t *Transport) RemovePeer(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.peers[id]; !ok {
		return
	}
	delete(t.peers, id)
	t.prober.Remove(id)
	t.Logger.Info("removed remote peer",
		zap.String("local-member-id", t.ID),
		zap.String("removed-remote-peer-id", id),
	)
}

// ProbingStatus returns the health of the link to the given peer as seen by
// the background prober.
func (t *Transport) ProbingStatus(id string) (probing.Status, error) {
	return t.prober.Status(id)
}

func (t *Transport) Stop() {
	t.mu.Lock()
	t.peers = make(map[string]*urlPicker)
	t.mu.Unlock()
	t.prober.RemoveAll()
	if tr, ok := t.rt.(*http.Transport); ok {
		tr.CloseIdleConnections()
	}
}

// RequestVote implements raft.Transport.
func (t *Transport) RequestVote(ctx context.Context, to string, req *pb.RequestVoteRequest) (*pb.RequestVoteResponse, error) {
	resp := &pb.RequestVoteResponse{}
	if err := t.post(ctx, to, RaftVotePath, "vote", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// AppendEntries implements raft.Transport.
func (t *Transport) AppendEntries(ctx context.Context, to string, req *pb.AppendEntriesRequest) (*pb.AppendEntriesResponse, error) {
	resp := &pb.AppendEntriesResponse{}
	if err := t.post(ctx, to, RaftAppendPath, "append", req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (t *Transport) post(ctx context.Context, to, path, typ string, req, resp message) (err error) {
	t.mu.RLock()
	picker, ok := t.peers[to]
	t.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, to)
	}

	start := time.Now()
	defer func() {
		if err != nil {
			sentFailures.WithLabelValues(to).Inc()
			return
		}
		rpcDuration.WithLabelValues(typ).Observe(time.Since(start).Seconds())
	}()

	body, err := req.Marshal()
	if err != nil {
		return err
	}
	u := picker.pick()
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String()+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	hreq.Header.Set("Content-Type", contentType)
	hreq.Header.Set(ClusterIDHeader, t.ClusterID)
	hreq.Header.Set(FromHeader, t.ID)
	hreq.Header.Set(ServerVersionHeader, version.Version)

	hresp, err := t.client.Do(hreq)
	if err != nil {
		picker.unreachable(u)
		return err
	}
	defer hresp.Body.Close()
	sentBytes.WithLabelValues(to).Add(float64(len(body)))

	b, err := io.ReadAll(io.LimitReader(hresp.Body, maxRPCBytes+1))
	if err != nil {
		picker.unreachable(u)
		return err
	}
	switch hresp.StatusCode {
	case http.StatusOK:
	case http.StatusPreconditionFailed:
		if strings.Contains(string(b), errIncompatibleVersion.Error()) {
			t.Logger.Warn("request sent was ignored by remote peer due to server version incompatibility",
				zap.String("remote-peer-id", to),
				zap.String("remote-peer-server-version", hresp.Header.Get(ServerVersionHeader)),
				zap.String("local-member-server-version", version.Version),
			)
			return errIncompatibleVersion
		}
		t.Logger.Warn("request sent was ignored by remote peer due to cluster ID mismatch",
			zap.String("remote-peer-id", to),
			zap.String("remote-peer-cluster-id", hresp.Header.Get(ClusterIDHeader)),
			zap.String("local-member-id", t.ID),
			zap.String("local-member-cluster-id", t.ClusterID),
		)
		return errClusterIDMismatch
	default:
		return fmt.Errorf("rafthttp: unexpected http status %s while posting to %q: %s",
			http.StatusText(hresp.StatusCode), u.String()+path, bytes.TrimSpace(b))
	}
	if len(b) > maxRPCBytes {
		return fmt.Errorf("rafthttp: response from %s exceeds %d bytes", to, maxRPCBytes)
	}
	return resp.Unmarshal(b)
}

func (t *Transport) serveVote(ctx context.Context, body []byte) (message, error) {
	req := &pb.RequestVoteRequest{}
	if err := req.Unmarshal(body); err != nil {
		return nil, errBadRequest{err}
	}
	return t.Raft.HandleRequestVote(ctx, req)
}

func (t *Transport) serveAppend(ctx context.Context, body []byte) (message, error) {
	req := &pb.AppendEntriesRequest{}
	if err := req.Unmarshal(body); err != nil {
		return nil, errBadRequest{err}
	}
	return t.Raft.HandleAppendEntries(ctx, req)
}
