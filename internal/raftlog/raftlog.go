// Copyright 2014-2015 The Dename Authors.
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

// Package raftlog implements replication.ControlLog on top of
// github.com/coreos/etcd/raft, adapted from the teacher's sibling package
// (server/replication/raftlog, grounded on
// other_examples/Shawncles-coname's raftlog.go): same CSP-style single
// goroutine driving raft.Node's Ready() channel, same "ticks come from an
// injectable clock" testability hook (github.com/andres-erbsen/clock), same
// grpc peer transport — but over this module's string common.NodeID and
// store.Store instead of coname's uint64 IDs and kv.DB.
package raftlog

import (
	"context"
	"sync"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/coreos/etcd/raft"
	"github.com/coreos/etcd/raft/raftpb"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/vava24680/GNS/keyserver/replication"
	"github.com/vava24680/GNS/store"
)

// committedBuffer bounds how far commit may run ahead of the apply loop
// consuming WaitCommitted, the same cushion the teacher's raftlog gives
// itself (COMMITTED_BUFFER).
const committedBuffer = 16

// Resolver maps a logical node ID to a dialable address; config.Config's
// node map is the production implementation.
type Resolver func(nodeID uint64) (string, error)

// Options configures Open.
type Options struct {
	Self          string
	Peers         []string // initial raft quorum, including Self
	Storage       *store.Store
	Clock         clock.Clock // nil defaults to the real wall clock
	TickInterval  time.Duration
	ElectionTicks int
	HeartbeatTick int
	Resolve       Resolver
	DialOpts      []grpc.DialOption
	Logger        *zap.Logger
}

type raftLog struct {
	self   uint64
	config raft.Config
	init   []raft.Peer
	store  *boltStorage
	node   raft.Node

	clk          clock.Clock
	tickInterval time.Duration

	waitCommitted chan replication.LogEntry
	leaderHintSet chan bool
	leaderHint    bool

	resolve  Resolver
	dialOpts []grpc.DialOption
	connMu   sync.Mutex
	conns    map[uint64]*grpc.ClientConn

	members   map[uint64]bool
	membersMu sync.Mutex

	logger *zap.Logger

	stopOnce sync.Once
	stop     chan struct{}
	stopped  chan struct{}
}

var _ replication.ControlLog = (*raftLog)(nil)

// Open builds a raftLog ready to Start; it does not yet touch raft.Node
// (Start decides StartNode vs RestartNode based on whether storage already
// holds state), mirroring the teacher's Open/Start split.
func Open(opts Options) (replication.ControlLog, error) {
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}
	electionTicks := opts.ElectionTicks
	if electionTicks == 0 {
		electionTicks = 10
	}
	heartbeatTicks := opts.HeartbeatTick
	if heartbeatTicks == 0 {
		heartbeatTicks = 1
	}
	tickInterval := opts.TickInterval
	if tickInterval == 0 {
		tickInterval = 100 * time.Millisecond
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	self := raftID(opts.Self)
	var initPeers []raft.Peer
	confState := raftpb.ConfState{}
	members := map[uint64]bool{}
	for _, p := range opts.Peers {
		id := raftID(p)
		initPeers = append(initPeers, raft.Peer{ID: id})
		confState.Nodes = append(confState.Nodes, id)
		members[id] = true
	}

	st := newBoltStorage(opts.Storage, confState)

	l := &raftLog{
		self: self,
		config: raft.Config{
			ID:              self,
			ElectionTick:    electionTicks,
			HeartbeatTick:   heartbeatTicks,
			MaxSizePerMsg:   1 << 20,
			MaxInflightMsgs: 256,
		},
		init:          initPeers,
		store:         st,
		clk:           clk,
		tickInterval:  tickInterval,
		waitCommitted: make(chan replication.LogEntry, committedBuffer),
		leaderHintSet: make(chan bool, committedBuffer),
		resolve:       opts.Resolve,
		dialOpts:      opts.DialOpts,
		conns:         map[uint64]*grpc.ClientConn{},
		members:       members,
		logger:        logger,
		stop:          make(chan struct{}),
		stopped:       make(chan struct{}),
	}
	return l, nil
}

// Start implements replication.ControlLog.
func (l *raftLog) Start(lo uint64) error {
	l.config.Storage = l.store
	inited, err := l.store.initialized()
	if err != nil {
		return err
	}
	if inited {
		l.config.Applied = lo
		l.node = raft.RestartNode(&l.config)
	} else {
		if lo != 0 {
			l.logger.Panic("raftlog: storage uninitialized but replay offset nonzero", zap.Uint64("lo", lo))
		}
		hs, _, err := l.store.InitialState()
		if err != nil {
			return err
		}
		if err := l.store.save(hs, make([]raftpb.Entry, 1)); err != nil {
			return err
		}
		l.node = raft.StartNode(&l.config, l.init)
	}
	go l.run()
	return nil
}

// Stop implements replication.ControlLog.
func (l *raftLog) Stop() error {
	l.stopOnce.Do(func() {
		close(l.stop)
		<-l.stopped
		l.connMu.Lock()
		for _, c := range l.conns {
			c.Close()
		}
		l.connMu.Unlock()
	})
	return nil
}

// Propose implements replication.ControlLog.
func (l *raftLog) Propose(ctx context.Context, data []byte) {
	if err := l.node.Propose(ctx, data); err != nil {
		l.logger.Debug("raftlog: propose failed", zap.Error(err))
	}
}

// WaitCommitted implements replication.ControlLog.
func (l *raftLog) WaitCommitted() <-chan replication.LogEntry { return l.waitCommitted }

// LeaderHintSet implements replication.ControlLog.
func (l *raftLog) LeaderHintSet() <-chan bool { return l.leaderHintSet }

// GetCommitted implements replication.ControlLog.
func (l *raftLog) GetCommitted(lo, hi, maxSize uint64) ([]replication.LogEntry, error) {
	entries, err := l.store.Entries(lo, hi, maxSize)
	if err != nil {
		return nil, err
	}
	out := make([]replication.LogEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, replication.LogEntry{Data: e.Data})
	}
	return out, nil
}

// AddReplica implements replication.ControlLog. It records nodeID as an
// active transport peer for routing raft Step messages; it intentionally
// does not issue a raft ConfChange (see DESIGN.md: full raft voter
// reconfiguration is out of scope, the NODE_CONFIG record already gives the
// RC application layer an agreed, log-ordered view of membership, which is
// what AddReplica/DropReplica's doc comment requires).
func (l *raftLog) AddReplica(nodeID string) {
	l.membersMu.Lock()
	defer l.membersMu.Unlock()
	l.members[raftID(nodeID)] = true
}

// DropReplica implements replication.ControlLog; see AddReplica.
func (l *raftLog) DropReplica(nodeID string) {
	l.membersMu.Lock()
	defer l.membersMu.Unlock()
	delete(l.members, raftID(nodeID))
	l.connMu.Lock()
	if c, ok := l.conns[raftID(nodeID)]; ok {
		c.Close()
		delete(l.conns, raftID(nodeID))
	}
	l.connMu.Unlock()
}

// run is raft.Node's CSP-style driver loop: it owns every non-channel field
// above while it is running, the same invariant the teacher's raftLog.run
// documents for its own fields.
func (l *raftLog) run() {
	defer close(l.waitCommitted)
	defer close(l.stopped)
	defer close(l.leaderHintSet)

	ticker := l.clk.Ticker(l.tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			l.node.Stop()
			return
		case <-ticker.C:
			l.node.Tick()
		case rd := <-l.node.Ready():
			if !raft.IsEmptySnap(rd.Snapshot) {
				l.logger.Panic("raftlog: snapshots not supported")
			}
			if err := l.store.save(rd.HardState, rd.Entries); err != nil {
				l.logger.Panic("raftlog: persist", zap.Error(err))
			}
			for i := range rd.Messages {
				l.send(&rd.Messages[i])
			}
			for _, entry := range rd.CommittedEntries {
				switch entry.Type {
				case raftpb.EntryConfChange:
					var cc raftpb.ConfChange
					if err := cc.Unmarshal(entry.Data); err != nil {
						l.logger.Panic("raftlog: conf change decode", zap.Error(err))
					}
					cs := l.node.ApplyConfChange(cc)
					if err := l.store.saveConfState(*cs); err != nil {
						l.logger.Panic("raftlog: persist conf state", zap.Error(err))
					}
					l.waitCommitted <- replication.LogEntry{Reconfiguration: entry.Data}
				default:
					if len(entry.Data) == 0 {
						continue // raft's dummy first entry / no-op leader markers
					}
					l.waitCommitted <- replication.LogEntry{Data: entry.Data}
				}
			}

			if rd.SoftState != nil {
				hint := rd.SoftState.RaftState == raft.StateLeader
				if hint != l.leaderHint {
					l.leaderHint = hint
					l.leaderHintSet <- hint
				}
			}
			l.node.Advance()
		}
	}
}

// send dials (caching the connection) and delivers msg asynchronously,
// reporting unreachability back to raft.Node on failure — precisely the
// teacher's raftLog.send, translated onto this package's dial/step helpers.
func (l *raftLog) send(msg *raftpb.Message) {
	conn, err := l.dial(msg.To)
	if err != nil {
		l.logger.Debug("raftlog: dial failed", zap.Uint64("to", msg.To), zap.Error(err))
		go l.node.ReportUnreachable(msg.To)
		return
	}
	go func(msg raftpb.Message) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := step(ctx, conn, &msg); err != nil {
			l.logger.Debug("raftlog: step send failed", zap.Uint64("to", msg.To), zap.Error(err))
			l.node.ReportUnreachable(msg.To)
		}
	}(*msg)
}
