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

// Package server runs a raftkit member: a raft node on durable storage,
// its peer transport, and a key-value store served over an HTTP client API.
package server

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"sigs.k8s.io/yaml"

	"github.com/raftkit/raftkit/pkg/logutil"
	"github.com/raftkit/raftkit/pkg/types"
)

const (
	DefaultName            = "default"
	DefaultListenPeerURL   = "http://localhost:2380"
	DefaultListenClientURL = "http://localhost:2379"

	DefaultHeartbeatInterval = 100 * time.Millisecond
	DefaultElectionTimeout   = 1000 * time.Millisecond
	DefaultRequestTimeout    = 5 * time.Second
)

// Duration is a time.Duration that reads from YAML either as a duration
// string like "100ms" or as a number of nanoseconds.
type Duration time.Duration

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		*d = Duration(value)
		return nil
	case string:
		td, err := time.ParseDuration(value)
		if err == nil {
			*d = Duration(td)
		}
		return err
	}
	return fmt.Errorf("invalid duration %s", b)
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Config holds the configuration of a member.
type Config struct {
	Name    string `json:"name"`
	DataDir string `json:"data-dir"`

	ListenPeerURL   string `json:"listen-peer-url"`
	ListenClientURL string `json:"listen-client-url"`

	// InitialCluster lists the peer URL of every member as
	// "name=url,name=url". The member set is fixed.
	InitialCluster string `json:"initial-cluster"`
	// InitialClusterClient lists the client URL of every member in the same
	// form. Writes sent to a follower are redirected to the leader's client
	// URL from this list.
	InitialClusterClient string `json:"initial-cluster-client"`

	HeartbeatInterval Duration `json:"heartbeat-interval"`
	ElectionTimeout   Duration `json:"election-timeout"`
	RequestTimeout    Duration `json:"request-timeout"`

	LogLevel   string   `json:"log-level"`
	LogOutputs []string `json:"log-outputs"`

	EnableMetrics bool `json:"enable-metrics"`

	// MaxClientConns caps concurrent client API connections. Zero means no
	// limit.
	MaxClientConns int `json:"max-client-conns"`
}

// NewConfig returns a single-member configuration with default values.
func NewConfig() *Config {
	return &Config{
		Name:              DefaultName,
		ListenPeerURL:     DefaultListenPeerURL,
		ListenClientURL:   DefaultListenClientURL,
		InitialCluster:    DefaultName + "=" + DefaultListenPeerURL,
		HeartbeatInterval: Duration(DefaultHeartbeatInterval),
		ElectionTimeout:   Duration(DefaultElectionTimeout),
		RequestTimeout:    Duration(DefaultRequestTimeout),
		LogLevel:          logutil.DefaultLogLevel,
		LogOutputs:        []string{"stderr"},
		EnableMetrics:     true,
	}
}

// ConfigFromFile reads a YAML configuration on top of the defaults.
func ConfigFromFile(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := NewConfig()
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %q: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration and fills in derived defaults.
func (cfg *Config) Validate() error {
	if cfg.Name == "" {
		return errors.New("member name cannot be empty")
	}
	if cfg.DataDir == "" {
		cfg.DataDir = cfg.Name + ".raftkit"
	}
	for _, u := range []string{cfg.ListenPeerURL, cfg.ListenClientURL} {
		if _, err := types.NewURLs([]string{u}); err != nil {
			return fmt.Errorf("invalid listen url: %w", err)
		}
	}
	peers, err := cfg.PeerURLs()
	if err != nil {
		return err
	}
	if _, ok := peers[cfg.Name]; !ok {
		return fmt.Errorf("member %q is not in initial cluster %q", cfg.Name, cfg.InitialCluster)
	}
	clients, err := cfg.ClientURLs()
	if err != nil {
		return err
	}
	for name := range clients {
		if _, ok := peers[name]; !ok {
			return fmt.Errorf("client urls given for %q which is not in initial cluster", name)
		}
	}
	if cfg.HeartbeatInterval <= 0 {
		return errors.New("heartbeat interval must be greater than 0")
	}
	if cfg.ElectionTimeout < 10*cfg.HeartbeatInterval {
		return fmt.Errorf("election timeout %v must be at least 10 times the heartbeat interval %v",
			time.Duration(cfg.ElectionTimeout), time.Duration(cfg.HeartbeatInterval))
	}
	if cfg.MaxClientConns < 0 {
		return errors.New("max client connections must not be negative")
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = Duration(DefaultRequestTimeout)
	}
	if _, err := logutil.ConvertToZapLevel(cfg.LogLevel); err != nil {
		return err
	}
	return nil
}

// PeerURLs parses InitialCluster.
func (cfg *Config) PeerURLs() (types.URLsMap, error) {
	m, err := types.NewURLsMap(cfg.InitialCluster)
	if err != nil {
		return nil, fmt.Errorf("invalid initial cluster %q: %w", cfg.InitialCluster, err)
	}
	return m, nil
}

// ClientURLs parses InitialClusterClient. The member's own listen client
// URL is used when it is not listed.
func (cfg *Config) ClientURLs() (types.URLsMap, error) {
	m := types.URLsMap{}
	if cfg.InitialClusterClient != "" {
		var err error
		m, err = types.NewURLsMap(cfg.InitialClusterClient)
		if err != nil {
			return nil, fmt.Errorf("invalid initial cluster client %q: %w", cfg.InitialClusterClient, err)
		}
	}
	if _, ok := m[cfg.Name]; !ok && cfg.ListenClientURL != "" {
		us, err := types.NewURLs([]string{cfg.ListenClientURL})
		if err != nil {
			return nil, err
		}
		m[cfg.Name] = us
	}
	return m, nil
}

// ClusterID identifies the cluster by its member names. Members configured
// with different member sets refuse each other's RPCs.
func (cfg *Config) ClusterID() (string, error) {
	peers, err := cfg.PeerURLs()
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(strings.Join(peers.Names(), ",")))
	return hex.EncodeToString(sum[:8]), nil
}

func (cfg *Config) backendPath() string {
	return filepath.Join(cfg.DataDir, "member", "raft.db")
}

func listenHost(rawurl string) (string, error) {
	u, err := url.Parse(rawurl)
	if err != nil {
		return "", err
	}
	return u.Host, nil
}
