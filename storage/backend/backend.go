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

// Package backend keeps the durable raft state of a member in a bbolt
// database: the hard state under the meta bucket and one key per log entry
// under the log bucket.
package backend

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	humanize "github.com/dustin/go-humanize"
	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"
)

var (
	metaBucket = []byte("meta")
	logBucket  = []byte("log")

	hardStateKey = []byte("hardstate")
)

const defaultOpenTimeout = 10 * time.Second

type Config struct {
	// Path is the file path to the backend file.
	Path string
	// OpenTimeout bounds the wait for the file lock. Zero means 10s.
	OpenTimeout time.Duration
	// Logger logs backend-side operations. Nil means no logging.
	Logger *zap.Logger
}

// Backend is an open bbolt database holding raft state. Every write is
// committed, and so fsynced, before the call returns.
type Backend struct {
	db *bolt.DB
	lg *zap.Logger
}

// Open opens or creates the database at cfg.Path along with its buckets.
func Open(cfg Config) (*Backend, error) {
	lg := cfg.Logger
	if lg == nil {
		lg = zap.NewNop()
	}
	timeout := cfg.OpenTimeout
	if timeout == 0 {
		timeout = defaultOpenTimeout
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0700); err != nil {
		return nil, fmt.Errorf("cannot create backend dir: %w", err)
	}

	now := time.Now()
	db, err := bolt.Open(cfg.Path, 0600, &bolt.Options{Timeout: timeout})
	if err != nil {
		lg.Warn("failed to open database", zap.String("path", cfg.Path), zap.Error(err))
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{metaBucket, logBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("cannot create bucket %s: %w", name, err)
			}
		}
		return checkStorageVersion(lg, tx)
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	b := &Backend{db: db, lg: lg}
	size := b.Size()
	lg.Info("opened backend db",
		zap.String("path", cfg.Path),
		zap.Duration("took", time.Since(now)),
		zap.Int64("current-db-size-bytes", size),
		zap.String("current-db-size", humanize.Bytes(uint64(size))),
	)
	return b, nil
}

// Size returns the current size of the database file in bytes.
func (b *Backend) Size() int64 {
	var size int64
	b.db.View(func(tx *bolt.Tx) error {
		size = tx.Size()
		return nil
	})
	return size
}

// Path returns the path of the database file.
func (b *Backend) Path() string { return b.db.Path() }

func (b *Backend) Close() error {
	size := b.Size()
	b.lg.Info("closing backend db",
		zap.String("path", b.Path()),
		zap.String("current-db-size", humanize.Bytes(uint64(size))),
	)
	return b.db.Close()
}
