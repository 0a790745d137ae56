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

package rpc

import (
	"context"
	"net"
	"strconv"
	"sync"

	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/vava24680/GNS/common"
	"github.com/vava24680/GNS/config"
	"github.com/vava24680/GNS/proto"
)

// Pool lazily dials and caches one grpc.ClientConn per peer node, resolved
// from the node map (config.Config.Hosts). It implements rc.Messenger,
// ar.RCMessenger and ar.PeerMessenger directly, since every one of those
// interfaces' methods already carries the destination NodeID.
type Pool struct {
	cfg *config.Config

	mu    sync.Mutex
	conns map[common.NodeID]*grpc.ClientConn
}

// NewPool builds a Pool that resolves peer addresses from cfg's node map.
// TLS policy follows cfg.ClientSSLMode/ServerSSLMode (spec.md §6); only the
// NONE case is implemented, matching config.Default().
func NewPool(cfg *config.Config) *Pool {
	return &Pool{cfg: cfg, conns: map[common.NodeID]*grpc.ClientConn{}}
}

func (p *Pool) addr(id common.NodeID) (string, error) {
	for _, h := range p.cfg.Hosts {
		if h.NodeID == id {
			return net.JoinHostPort(h.Address, strconv.Itoa(h.StartingPort)), nil
		}
	}
	return "", errors.Errorf("rpc: node %s not in node map", id)
}

func (p *Pool) conn(id common.NodeID) (*grpc.ClientConn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if c, ok := p.conns[id]; ok {
		return c, nil
	}
	addr, err := p.addr(id)
	if err != nil {
		return nil, err
	}
	// ServerSSLMode NONE only, per NewPool's doc comment; MUTUAL_AUTH/
	// SERVER_AUTH would build a credentials.TransportCredentials here instead.
	c, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(Codec)),
	)
	if err != nil {
		return nil, errors.Wrapf(err, "rpc: dial %s at %s", id, addr)
	}
	p.conns[id] = c
	return c, nil
}

// Close tears down every cached connection.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var first error
	for id, c := range p.conns {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
		delete(p.conns, id)
	}
	return first
}

// -- rc.Messenger -------------------------------------------------------

func (p *Pool) SendStopEpoch(ctx context.Context, to common.NodeID, msg *proto.StopEpoch) error {
	c, err := p.conn(to)
	if err != nil {
		return err
	}
	return NewARClient(c).SendStopEpoch(ctx, to, msg)
}

func (p *Pool) SendStartEpoch(ctx context.Context, to common.NodeID, msg *proto.StartEpoch) error {
	c, err := p.conn(to)
	if err != nil {
		return err
	}
	return NewARClient(c).SendStartEpoch(ctx, to, msg)
}

func (p *Pool) SendDropEpochFinalState(ctx context.Context, to common.NodeID, msg *proto.DropEpochFinalState) error {
	c, err := p.conn(to)
	if err != nil {
		return err
	}
	return NewARClient(c).SendDropEpochFinalState(ctx, to, msg)
}

// -- ar.PeerMessenger -----------------------------------------------------

func (p *Pool) RequestEpochFinalState(ctx context.Context, to common.NodeID, msg *proto.RequestEpochFinalState) (*proto.EpochFinalState, error) {
	c, err := p.conn(to)
	if err != nil {
		return nil, err
	}
	return NewARClient(c).RequestEpochFinalState(ctx, to, msg)
}

// -- ar.RCMessenger -------------------------------------------------------

func (p *Pool) SendAckStopEpoch(ctx context.Context, to common.NodeID, msg *proto.AckStopEpoch) error {
	c, err := p.conn(to)
	if err != nil {
		return err
	}
	return NewRCClient(c).SendAckStopEpoch(ctx, to, msg)
}

func (p *Pool) SendAckStartEpoch(ctx context.Context, to common.NodeID, msg *proto.AckStartEpoch) error {
	c, err := p.conn(to)
	if err != nil {
		return err
	}
	return NewRCClient(c).SendAckStartEpoch(ctx, to, msg)
}

func (p *Pool) SendAckDropEpochFinalState(ctx context.Context, to common.NodeID, msg *proto.AckDropEpochFinalState) error {
	c, err := p.conn(to)
	if err != nil {
		return err
	}
	return NewRCClient(c).SendAckDropEpochFinalState(ctx, to, msg)
}

func (p *Pool) SendDemandReport(ctx context.Context, to common.NodeID, msg *proto.DemandReport) error {
	c, err := p.conn(to)
	if err != nil {
		return err
	}
	return NewRCClient(c).SendDemandReport(ctx, to, msg)
}
