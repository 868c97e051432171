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

package backend

import (
	"fmt"

	"github.com/coreos/go-semver/semver"
	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/raftkit/raftkit/version"
)

var storageVersionKey = []byte("storage-version")

// ErrUnsupportedStorageVersion is returned by Open for a database written
// by an incompatible release.
var ErrUnsupportedStorageVersion = fmt.Errorf("backend: unsupported storage version")

// StorageVersion returns the storage version recorded in the database.
func (b *Backend) StorageVersion() *semver.Version {
	var v *semver.Version
	b.db.View(func(tx *bolt.Tx) error {
		v = readStorageVersion(tx)
		return nil
	})
	return v
}

// checkStorageVersion records the storage version of this release on a
// database that has none, and refuses one written by a release with a
// different major or a newer minor version.
func checkStorageVersion(lg *zap.Logger, tx *bolt.Tx) error {
	want := version.StorageVersion
	v := readStorageVersion(tx)
	if v == nil {
		lg.Info("setting storage version", zap.String("storage-version", want.String()))
		return setStorageVersion(tx, &want)
	}
	if v.Major != want.Major || want.LessThan(semver.Version{Major: v.Major, Minor: v.Minor}) {
		return fmt.Errorf("%w: database is %s, this release supports %s",
			ErrUnsupportedStorageVersion, v, &want)
	}
	return nil
}

func readStorageVersion(tx *bolt.Tx) *semver.Version {
	raw := tx.Bucket(metaBucket).Get(storageVersionKey)
	if raw == nil {
		return nil
	}
	v, err := semver.NewVersion(string(raw))
	if err != nil {
		return nil
	}
	return v
}

func setStorageVersion(tx *bolt.Tx, v *semver.Version) error {
	sv := semver.Version{Major: v.Major, Minor: v.Minor}
	return tx.Bucket(metaBucket).Put(storageVersionKey, []byte(sv.String()))
}
