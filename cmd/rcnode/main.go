// Copyright 2024 The GNS Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may not
// use this file except in compliance with the License. You may obtain a copy of
// the License at
//
// 	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS, WITHOUT
// WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the
// License for the specific language governing permissions and limitations under
// the License.

// Command rcnode runs a single Reconfigurator replica: it owns one shard of
// the replicated control log (internal/raftlog) and the rc.RC state
// machine built on top of it, and serves both over grpc (package rpc).
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/vava24680/GNS/common"
	"github.com/vava24680/GNS/config"
	"github.com/vava24680/GNS/demand"
	"github.com/vava24680/GNS/internal/raftlog"
	"github.com/vava24680/GNS/rc"
	"github.com/vava24680/GNS/rpc"
	"github.com/vava24680/GNS/store"
	"github.com/vava24680/GNS/tasks"
)

func main() {
	var (
		configPath string
		nodeID     string
		dbPath     string
		devLog     bool
	)

	root := &cobra.Command{
		Use:   "rcnode",
		Short: "Run a Reconfigurator (RC) replica",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath, common.NodeID(nodeID), dbPath, devLog)
		},
	}
	root.Flags().StringVar(&configPath, "config", "gns.yaml", "path to the node-map configuration")
	root.Flags().StringVar(&nodeID, "node-id", "", "this node's ID in the node map (required)")
	root.Flags().StringVar(&dbPath, "db", "rc.db", "path to this node's bbolt store")
	root.Flags().BoolVar(&devLog, "dev-log", false, "use zap's development log encoding")
	_ = root.MarkFlagRequired("node-id")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string, self common.NodeID, dbPath string, devLog bool) error {
	logger, err := newLogger(devLog)
	if err != nil {
		return err
	}
	defer logger.Sync()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.ValidateSelf(self); err != nil {
		return err
	}
	host, ok := cfg.Host(self)
	if !ok {
		return errors.Errorf("rcnode: %s not in node map", self)
	}

	st, err := store.Open(dbPath)
	if err != nil {
		return err
	}
	defer st.Close()

	sched := tasks.New(logger, cfg.ReconTimeout())
	pool := rpc.NewPool(cfg)
	defer pool.Close()

	rcNodes := cfg.ReconfiguratorNodes()
	peerIDs := make([]string, 0, len(rcNodes))
	for _, id := range rcNodes {
		peerIDs = append(peerIDs, string(id))
	}

	clog, err := raftlog.Open(raftlog.Options{
		Self:     string(self),
		Peers:    peerIDs,
		Storage:  st,
		Resolve:  raftResolver(cfg),
		DialOpts: []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())},
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	policy := demand.ByName(cfg.DemandProfileType)
	r := rc.New(self, clog, st, sched, pool, policy, logger)

	// Start first: it loads any persisted records (including a prior
	// NODE_CONFIG) into r.records, which is what BootstrapNodeConfig's
	// freshly-empty-store guard checks. Calling Bootstrap before Start would
	// make that guard vacuously false on every restart, overwriting a real
	// persisted NODE_CONFIG epoch with the static config file's Epoch 0.
	if err := r.Start(ctx); err != nil {
		return err
	}
	defer clog.Stop()
	if err := r.BootstrapNodeConfig(common.NewNodeSet(rcNodes...)); err != nil {
		return err
	}

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", host.StartingPort))
	if err != nil {
		return errors.Wrapf(err, "rcnode: listen on %d", host.StartingPort)
	}
	srv := grpc.NewServer()
	rpc.RegisterRCServer(srv, rpc.RCService{RC: r})
	if rl, ok := clog.(interface{ RegisterTransport(*grpc.Server) }); ok {
		rl.RegisterTransport(srv)
	}

	logger.Info("rcnode: listening", zap.String("node", string(self)), zap.Int("port", host.StartingPort))
	go func() {
		<-ctx.Done()
		srv.GracefulStop()
	}()
	return srv.Serve(lis)
}

func newLogger(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func raftResolver(cfg *config.Config) raftlog.Resolver {
	addrs := map[uint64]string{}
	for _, h := range cfg.Hosts {
		if h.Role != config.RoleReconfigurator {
			continue
		}
		addrs[raftlog.RaftID(string(h.NodeID))] = fmt.Sprintf("%s:%d", h.Address, h.StartingPort)
	}
	return func(id uint64) (string, error) {
		addr, ok := addrs[id]
		if !ok {
			return "", errors.Errorf("rcnode: no address for raft peer %d", id)
		}
		return addr, nil
	}
}
