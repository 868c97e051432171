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

package rafthttp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/coreos/go-semver/semver"
	"go.uber.org/zap"

	"github.com/raftkit/raftkit/raft"
	"github.com/raftkit/raftkit/version"
)

const (
	// maxRPCBytes limits the body of an RPC. An AppendEntries request is
	// bounded by the node's MaxSizePerMsg; this leaves room above any sane
	// setting.
	maxRPCBytes = 64 * 1024 * 1024

	contentType = "application/protobuf"

	ClusterIDHeader     = "X-Raft-Cluster-ID"
	FromHeader          = "X-Raft-From"
	ServerVersionHeader = "X-Server-Version"
)

var (
	RaftPrefix     = "/raft"
	ProbingPrefix  = RaftPrefix + "/probing"
	RaftVotePath   = RaftPrefix + "/vote"
	RaftAppendPath = RaftPrefix + "/append"
)

// errBadRequest marks a request body that could not be decoded.
type errBadRequest struct{ err error }

func (e errBadRequest) Error() string { return "rafthttp: bad request: " + e.err.Error() }
func (e errBadRequest) Unwrap() error { return e.err }

type serveFunc func(ctx context.Context, body []byte) (message, error)

type rpcHandler struct {
	lg    *zap.Logger
	cid   string
	typ   string
	serve serveFunc
}

func newRPCHandler(lg *zap.Logger, cid, typ string, serve serveFunc) http.Handler {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &rpcHandler{lg: lg, cid: cid, typ: typ, serve: serve}
}

func (h *rpcHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set(ClusterIDHeader, h.cid)

	w.Header().Set(ServerVersionHeader, version.Version)

	if err := checkClusterCompatibilityFromHeader(h.lg, h.cid, r.Header); err != nil {
		http.Error(w, err.Error(), http.StatusPreconditionFailed)
		return
	}
	if err := checkVersionCompatibility(h.lg, r.Header); err != nil {
		http.Error(w, err.Error(), http.StatusPreconditionFailed)
		return
	}

	from := r.Header.Get(FromHeader)
	b, err := io.ReadAll(io.LimitReader(r.Body, maxRPCBytes+1))
	if err != nil || len(b) > maxRPCBytes {
		if err == nil {
			err = fmt.Errorf("body exceeds %d bytes", maxRPCBytes)
		}
		h.lg.Warn("failed to read raft RPC",
			zap.String("type", h.typ),
			zap.String("remote-peer-id", from),
			zap.Error(err),
		)
		http.Error(w, "error reading raft message", http.StatusBadRequest)
		recvFailures.WithLabelValues(from).Inc()
		return
	}
	receivedBytes.WithLabelValues(from).Add(float64(len(b)))

	resp, err := h.serve(r.Context(), b)
	if err != nil {
		code := errorStatus(err)
		if code != http.StatusServiceUnavailable {
			h.lg.Warn("failed to process raft RPC",
				zap.String("type", h.typ),
				zap.String("remote-peer-id", from),
				zap.Error(err),
			)
		}
		http.Error(w, err.Error(), code)
		recvFailures.WithLabelValues(from).Inc()
		return
	}
	out, err := resp.Marshal()
	if err != nil {
		h.lg.Panic("failed to marshal raft RPC response", zap.String("type", h.typ), zap.Error(err))
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	w.Write(out)
}

func errorStatus(err error) int {
	var bad errBadRequest
	switch {
	case errors.As(err, &bad),
		errors.Is(err, raft.ErrStaleTerm),
		errors.Is(err, raft.ErrMalformedMessage):
		return http.StatusBadRequest
	case errors.Is(err, raft.ErrUnknownMember):
		return http.StatusForbidden
	case errors.Is(err, raft.ErrStopped),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// checkClusterCompatibilityFromHeader checks the cluster ID of the sender.
// A sender that sets no cluster ID is accepted.
func checkClusterCompatibilityFromHeader(lg *zap.Logger, localCID string, header http.Header) error {
	remoteCID := header.Get(ClusterIDHeader)
	if remoteCID == "" || remoteCID == localCID {
		return nil
	}
	lg.Warn("request cluster ID mismatch",
		zap.String("local-member-cluster-id", localCID),
		zap.String("remote-peer-cluster-id", remoteCID),
		zap.String("remote-peer-id", header.Get(FromHeader)),
	)
	return errClusterIDMismatch
}

// checkVersionCompatibility checks that the sender runs a release with the
// same major and minor version. A sender that sets no version is accepted.
func checkVersionCompatibility(lg *zap.Logger, header http.Header) error {
	rv := header.Get(ServerVersionHeader)
	if rv == "" {
		return nil
	}
	remote, err := semver.NewVersion(rv)
	if err != nil {
		return fmt.Errorf("%w: %s", errIncompatibleVersion, err)
	}
	if local := version.Semver(); !version.Compatible(local, remote) {
		lg.Warn("request version incompatible",
			zap.String("local-member-server-version", local.String()),
			zap.String("remote-peer-server-version", remote.String()),
			zap.String("remote-peer-id", header.Get(FromHeader)),
		)
		return errIncompatibleVersion
	}
	return nil
}
