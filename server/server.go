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
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"

	"github.com/raftkit/raftkit/kvstore"
	"github.com/raftkit/raftkit/pkg/logutil"
	"github.com/raftkit/raftkit/pkg/types"
	"github.com/raftkit/raftkit/raft"
	"github.com/raftkit/raftkit/rafthttp"
	"github.com/raftkit/raftkit/storage/backend"
)

const shutdownTimeout = 5 * time.Second

// Server is a running member. Create it with New and run it with Serve or
// Run; a Server cannot be restarted once Serve returns.
type Server struct {
	cfg *Config
	lg  *zap.Logger

	be   *backend.Backend
	node *raft.Node
	tr   *rafthttp.Transport
	kv   *kvstore.Store

	clusterID  string
	peers      []string
	clientURLs types.URLsMap
	idgen      *idGenerator

	readyc chan struct{}
}

// New opens the member's storage and restores its raft node. Nothing is
// served until Serve or Run is called.
func New(cfg *Config, lg *zap.Logger) (s *Server, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if lg == nil {
		lg = zap.NewNop()
	}
	lg = lg.With(zap.String("local-member-id", cfg.Name))
	start := time.Now()

	peers, err := cfg.PeerURLs()
	if err != nil {
		return nil, err
	}
	clientURLs, err := cfg.ClientURLs()
	if err != nil {
		return nil, err
	}
	cid, err := cfg.ClusterID()
	if err != nil {
		return nil, err
	}

	be, err := backend.Open(backend.Config{Path: cfg.backendPath(), Logger: lg})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			be.Close()
		}
	}()
	st, err := backend.NewRaftStorage(be)
	if err != nil {
		return nil, err
	}

	tr := &rafthttp.Transport{
		Logger:    lg,
		ID:        cfg.Name,
		ClusterID: cid,
	}
	if err = tr.Start(); err != nil {
		return nil, err
	}
	for _, name := range peers.Names() {
		if name == cfg.Name {
			continue
		}
		if err = tr.AddPeer(name, peers[name].StringSlice()); err != nil {
			tr.Stop()
			return nil, err
		}
	}

	kv := kvstore.New(lg)
	node, err := raft.NewNode(raft.Config{
		ID:                cfg.Name,
		Peers:             peers.Names(),
		ElectionTimeout:   time.Duration(cfg.ElectionTimeout),
		HeartbeatInterval: time.Duration(cfg.HeartbeatInterval),
		Storage:           st,
		Transport:         tr,
		Applier:           kv,
		Logger:            lg,
	})
	if err != nil {
		tr.Stop()
		return nil, err
	}
	tr.Raft = node

	s = &Server{
		cfg:        cfg,
		lg:         lg,
		be:         be,
		node:       node,
		tr:         tr,
		kv:         kv,
		clusterID:  cid,
		peers:      peers.Names(),
		clientURLs: clientURLs,
		idgen:      newIDGenerator(cfg.Name, time.Now()),
		readyc:     make(chan struct{}),
	}
	lg.Info("restored member",
		zap.String("cluster-id", cid),
		zap.Strings("members", peers.Names()),
		zap.String("data-dir", cfg.DataDir),
		logutil.Elapsed(start),
	)
	return s, nil
}

// Node returns the member's raft node.
func (s *Server) Node() *raft.Node { return s.node }

// KV returns the member's key-value store.
func (s *Server) KV() *kvstore.Store { return s.kv }

// ReadyNotify returns a channel that is closed once the member serves
// peers and clients.
func (s *Server) ReadyNotify() <-chan struct{} { return s.readyc }

// Run listens on the configured URLs and serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	peerL, err := listen(s.cfg.ListenPeerURL)
	if err != nil {
		s.close()
		return err
	}
	clientL, err := listen(s.cfg.ListenClientURL)
	if err != nil {
		peerL.Close()
		s.close()
		return err
	}
	return s.Serve(ctx, peerL, clientL)
}

// Serve starts the raft node, serves peer RPCs on peerL and the client API
// on clientL, and blocks until ctx is done or either server fails. The node
// and its storage are closed before Serve returns.
func (s *Server) Serve(ctx context.Context, peerL, clientL net.Listener) error {
	if n := s.cfg.MaxClientConns; n > 0 {
		clientL = netutil.LimitListener(clientL, n)
	}
	peerSrv := &http.Server{
		Handler:     s.tr.Handler(),
		ReadTimeout: rafthttp.ConnReadTimeout,
	}
	clientSrv := &http.Server{
		Handler:           s.clientHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.node.Start()
	s.lg.Info("serving",
		zap.String("peer-addr", peerL.Addr().String()),
		zap.String("client-addr", clientL.Addr().String()),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return serveHTTP(peerSrv, peerL) })
	g.Go(func() error { return serveHTTP(clientSrv, clientL) })
	close(s.readyc)
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return errors.Join(clientSrv.Shutdown(sctx), peerSrv.Shutdown(sctx))
	})
	err := g.Wait()
	s.close()
	if err != nil {
		s.lg.Warn("stopped serving with error", zap.Error(err))
		return err
	}
	return nil
}

func (s *Server) close() {
	s.node.Stop()
	s.tr.Stop()
	if err := s.be.Close(); err != nil {
		s.lg.Warn("failed to close backend", zap.Error(err))
	}
}

func serveHTTP(srv *http.Server, l net.Listener) error {
	if err := srv.Serve(l); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func listen(rawurl string) (net.Listener, error) {
	host, err := listenHost(rawurl)
	if err != nil {
		return nil, err
	}
	l, err := net.Listen("tcp", host)
	if err != nil {
		return nil, fmt.Errorf("cannot listen on %s: %w", rawurl, err)
	}
	return l, nil
}
