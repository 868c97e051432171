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

// Package version carries the raftkit release and the on-disk storage
// version.
package version

import (
	"strings"

	"github.com/coreos/go-semver/semver"
)

var (
	// Version is the release, overridden at link time.
	Version = "0.1.0-alpha.0"
	// GitSHA is the commit the binaries were built from, set at link time.
	GitSHA = "Not provided (use ./build instead of go build)"

	// StorageVersion is the layout of the backend database written by this
	// release. Only major and minor are used.
	StorageVersion = semver.Version{Major: 0, Minor: 1}
)

// Semver returns Version parsed.
func Semver() *semver.Version {
	return semver.Must(semver.NewVersion(Version))
}

// Cluster only keeps the major.minor.
func Cluster(v string) string {
	vs := strings.Split(v, ".")
	if len(vs) <= 2 {
		return v
	}
	return vs[0] + "." + vs[1]
}

// Compatible reports whether members running local and remote may form a
// cluster: both must share major and minor versions.
func Compatible(local, remote *semver.Version) bool {
	return local.Major == remote.Major && local.Minor == remote.Minor
}
