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

// Command arnode runs a single Active Replica node: it hosts epoch
// instances for whichever names the Reconfigurator assigns it to, and
// serves the ar.AR handlers over grpc (package rpc).
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

	"github.com/vava24680/GNS/ar"
	"github.com/vava24680/GNS/common"
	"github.com/vava24680/GNS/config"
	"github.com/vava24680/GNS/demand"
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
		Use:   "arnode",
		Short: "Run an Active Replica (AR) node",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath, common.NodeID(nodeID), dbPath, devLog)
		},
	}
	root.Flags().StringVar(&configPath, "config", "gns.yaml", "path to the node-map configuration")
	root.Flags().StringVar(&nodeID, "node-id", "", "this node's ID in the node map (required)")
	root.Flags().StringVar(&dbPath, "db", "ar.db", "path to this node's bbolt store")
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
		return errors.Errorf("arnode: %s not in node map", self)
	}

	st, err := store.Open(dbPath)
	if err != nil {
		return err
	}
	defer st.Close()

	sched := tasks.New(logger, cfg.ReconTimeout())
	pool := rpc.NewPool(cfg)
	defer pool.Close()

	policy := demand.ByName(cfg.DemandProfileType)
	a := ar.New(self, st, sched, pool, pool, ar.NewMapAppStore(), policy, logger)
	if err := a.Start(); err != nil {
		return err
	}

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", host.StartingPort))
	if err != nil {
		return errors.Wrapf(err, "arnode: listen on %d", host.StartingPort)
	}
	srv := grpc.NewServer()
	rpc.RegisterARServer(srv, rpc.ARService{AR: a})

	logger.Info("arnode: listening", zap.String("node", string(self)), zap.Int("port", host.StartingPort))
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
