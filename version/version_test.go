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

package version

import (
	"testing"

	"github.com/coreos/go-semver/semver"
	"github.com/stretchr/testify/assert"
)

func TestCluster(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"0.1.0-alpha.0", "0.1"},
		{"3.6.1", "3.6"},
		{"3.6", "3.6"},
		{"3", "3"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Cluster(tt.in), tt.in)
	}
}

func TestSemver(t *testing.T) {
	v := Semver()
	assert.Equal(t, Version, v.String())
	assert.True(t, Compatible(v, &semver.Version{Major: v.Major, Minor: v.Minor, Patch: v.Patch + 3}))
	assert.False(t, Compatible(v, &semver.Version{Major: v.Major, Minor: v.Minor + 1}))
	assert.False(t, Compatible(v, &semver.Version{Major: v.Major + 1, Minor: v.Minor}))
}
