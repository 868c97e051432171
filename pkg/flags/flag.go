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

// Package flags holds pflag helpers shared by the raftkit binaries.
package flags

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"github.com/raftkit/raftkit/pkg/types"
)

// SetPflagsFromEnv sets every flag of fs that was not given on the command
// line from its environment variable, if present. The variable name is the
// flag name in UPPERCASE with dashes replaced by underscores, after prefix
// and an underscore: some-flag => PREFIX_SOME_FLAG.
func SetPflagsFromEnv(prefix string, fs *pflag.FlagSet) error {
	var err error
	fs.VisitAll(func(f *pflag.Flag) {
		if err != nil || f.Changed {
			return
		}
		key := FlagToEnv(prefix, f.Name)
		val, ok := os.LookupEnv(key)
		if !ok || val == "" {
			return
		}
		if serr := fs.Set(f.Name, val); serr != nil {
			err = fmt.Errorf("invalid value %q for %s: %w", val, key, serr)
		}
	})
	return err
}

// FlagToEnv converts flag string to upper-case environment variable key
// string.
func FlagToEnv(prefix, name string) string {
	return prefix + "_" + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
}

// URLValue is a pflag.Value holding a single http(s) URL without a path.
type URLValue string

func NewURLValue(init string) *URLValue {
	v := new(URLValue)
	if err := v.Set(init); err != nil {
		panic(fmt.Sprintf("new URLValue should never fail: %v", err))
	}
	return v
}

func (v *URLValue) Set(s string) error {
	us, err := types.NewURLs([]string{s})
	if err != nil {
		return err
	}
	*v = URLValue(us[0].String())
	return nil
}

func (v *URLValue) String() string { return string(*v) }
func (v *URLValue) Type() string   { return "url" }

// URLsMapValue is a pflag.Value holding "name=url,name=url" pairs. The raw
// string is kept once it parses.
type URLsMapValue string

func (v *URLsMapValue) Set(s string) error {
	if _, err := types.NewURLsMap(s); err != nil {
		return err
	}
	*v = URLsMapValue(s)
	return nil
}

func (v *URLsMapValue) String() string { return string(*v) }
func (v *URLsMapValue) Type() string   { return "name=url,..." }
