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

package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/raftkit/raftkit/pkg/flags"
	"github.com/raftkit/raftkit/pkg/logutil"
	"github.com/raftkit/raftkit/server"
	"github.com/raftkit/raftkit/version"
)

const envPrefix = "RAFTD"

// serveFlags mirrors server.Config for the command line. Only flags that
// were set, on the command line or through RAFTD_* variables, override the
// config file.
type serveFlags struct {
	configFile string

	name                 string
	dataDir              string
	listenPeerURL        *flags.URLValue
	listenClientURL      *flags.URLValue
	initialCluster       flags.URLsMapValue
	initialClusterClient flags.URLsMapValue

	heartbeatInterval time.Duration
	electionTimeout   time.Duration
	requestTimeout    time.Duration

	logLevel       string
	logOutputs     []string
	enableMetrics  bool
	maxClientConns int
}

func newServeFlags() *serveFlags {
	return &serveFlags{
		listenPeerURL:   flags.NewURLValue(server.DefaultListenPeerURL),
		listenClientURL: flags.NewURLValue(server.DefaultListenClientURL),
	}
}

func (sf *serveFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&sf.configFile, "config-file", "", "Path to the YAML server configuration file. Flags override its values.")
	fs.StringVar(&sf.name, "name", server.DefaultName, "Human-readable name for this member, also its raft ID.")
	fs.StringVar(&sf.dataDir, "data-dir", "", "Path to the data directory. Defaults to ${name}.raftkit.")
	fs.Var(sf.listenPeerURL, "listen-peer-url", "URL to listen on for peer traffic.")
	fs.Var(sf.listenClientURL, "listen-client-url", "URL to listen on for client traffic.")
	fs.Var(&sf.initialCluster, "initial-cluster", "Peer URL of every member, as name=url,name=url.")
	fs.Var(&sf.initialClusterClient, "initial-cluster-client", "Client URL of every member, as name=url,name=url. Used to redirect writes to the leader.")
	fs.DurationVar(&sf.heartbeatInterval, "heartbeat-interval", server.DefaultHeartbeatInterval, "Time between leader heartbeats.")
	fs.DurationVar(&sf.electionTimeout, "election-timeout", server.DefaultElectionTimeout, "Minimum time without a leader before an election. At least 10 heartbeat intervals.")
	fs.DurationVar(&sf.requestTimeout, "request-timeout", server.DefaultRequestTimeout, "Time a client write waits to be applied.")
	fs.StringVar(&sf.logLevel, "log-level", logutil.DefaultLogLevel, "Configures log level. Only supports "+strings.Join(logutil.LevelNames(), ", ")+".")
	fs.StringSliceVar(&sf.logOutputs, "log-outputs", []string{"stderr"}, "Log output targets: 'stdout', 'stderr' or file paths.")
	fs.BoolVar(&sf.enableMetrics, "enable-metrics", true, "Serve prometheus metrics on the client URL at /metrics.")
	fs.IntVar(&sf.maxClientConns, "max-client-conns", 0, "Maximum concurrent client connections. 0 is unlimited.")
}

func newServeCommand() *cobra.Command {
	sf := newServeFlags()
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Runs a raftd member until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Flags(), sf)
		},
	}
	sf.register(cmd.Flags())
	return cmd
}

func runServe(fs *pflag.FlagSet, sf *serveFlags) error {
	if err := flags.SetPflagsFromEnv(envPrefix, fs); err != nil {
		return err
	}
	cfg, err := sf.config(fs)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	lg, err := logutil.CreateDefaultZapLogger(cfg.LogLevel, cfg.LogOutputs...)
	if err != nil {
		return err
	}
	defer lg.Sync()

	lg.Info("starting raftd",
		zap.String("raftd-version", version.Version),
		zap.String("git-sha", version.GitSHA),
		zap.String("name", cfg.Name),
		zap.String("data-dir", cfg.DataDir),
		zap.String("listen-peer-url", cfg.ListenPeerURL),
		zap.String("listen-client-url", cfg.ListenClientURL),
		zap.String("initial-cluster", cfg.InitialCluster),
		zap.Duration("heartbeat-interval", time.Duration(cfg.HeartbeatInterval)),
		zap.Duration("election-timeout", time.Duration(cfg.ElectionTimeout)),
	)

	s, err := server.New(cfg, lg)
	if err != nil {
		lg.Error("failed to start raftd", zap.Error(err))
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		select {
		case <-s.ReadyNotify():
			notifySystemd(lg)
		case <-ctx.Done():
		}
	}()
	if err := s.Run(ctx); err != nil {
		return err
	}
	lg.Info("raftd stopped")
	return nil
}

func notifySystemd(lg *zap.Logger) {
	lg.Info("notifying init daemon")
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		lg.Error("failed to notify systemd for readiness", zap.Error(err))
		return
	}
	if !sent {
		lg.Debug("not running under systemd, readiness not sent")
		return
	}
	lg.Info("successfully notified init daemon")
}

// config loads the config file, if any, and applies the flags that were set.
func (sf *serveFlags) config(fs *pflag.FlagSet) (*server.Config, error) {
	cfg := server.NewConfig()
	if sf.configFile != "" {
		var err error
		if cfg, err = server.ConfigFromFile(sf.configFile); err != nil {
			return nil, err
		}
	}
	set := func(name string, apply func()) {
		if fs.Changed(name) {
			apply()
		}
	}
	set("name", func() { cfg.Name = sf.name })
	set("data-dir", func() { cfg.DataDir = sf.dataDir })
	set("listen-peer-url", func() { cfg.ListenPeerURL = sf.listenPeerURL.String() })
	set("listen-client-url", func() { cfg.ListenClientURL = sf.listenClientURL.String() })
	set("initial-cluster", func() { cfg.InitialCluster = sf.initialCluster.String() })
	set("initial-cluster-client", func() { cfg.InitialClusterClient = sf.initialClusterClient.String() })
	set("heartbeat-interval", func() { cfg.HeartbeatInterval = server.Duration(sf.heartbeatInterval) })
	set("election-timeout", func() { cfg.ElectionTimeout = server.Duration(sf.electionTimeout) })
	set("request-timeout", func() { cfg.RequestTimeout = server.Duration(sf.requestTimeout) })
	set("log-level", func() { cfg.LogLevel = sf.logLevel })
	set("log-outputs", func() { cfg.LogOutputs = sf.logOutputs })
	set("enable-metrics", func() { cfg.EnableMetrics = sf.enableMetrics })
	set("max-client-conns", func() { cfg.MaxClientConns = sf.maxClientConns })

	// A lone member named on the command line gets a cluster of itself.
	if sf.configFile == "" && !fs.Changed("initial-cluster") {
		cfg.InitialCluster = cfg.Name + "=" + cfg.ListenPeerURL
	}
	return cfg, nil
}
