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

package raftlog

import (
	"context"

	"github.com/coreos/etcd/raft/raftpb"
	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

// stepCodec marshals raftpb.Message directly, the same hand-rolled-codec
// approach rpc.wireCodec takes for the gns wire messages: raftpb.Message
// (gogo-generated) already exposes Marshal()/Unmarshal([]byte) error, so no
// protoc run or reflection-based codec is needed here either.
type stepCodec struct{}

func (stepCodec) Name() string { return "raftwire" }

func (stepCodec) Marshal(v interface{}) ([]byte, error) {
	switch m := v.(type) {
	case *raftpb.Message:
		return m.Marshal()
	case *nothing:
		return nil, nil
	default:
		return nil, errors.Errorf("raftlog: %T cannot be marshaled", v)
	}
}

func (stepCodec) Unmarshal(data []byte, v interface{}) error {
	switch m := v.(type) {
	case *raftpb.Message:
		return m.Unmarshal(data)
	case *nothing:
		return nil
	default:
		return errors.Errorf("raftlog: %T cannot be unmarshaled", v)
	}
}

// init registers stepCodec with grpc so the server side of the Step RPC,
// registered on a plain grpc.NewServer(), decodes the "raftwire"
// content-subtype the client sends.
func init() { encoding.RegisterCodec(stepCodec{}) }

// nothing is the empty Step reply; raft transport only cares about delivery,
// never about a response payload.
type nothing struct{}

// stepServer is the transport-facing server: a thin grpc.ServiceDesc wrapper
// around the raft node's Step (l.node.Step), kept in its own file because it has nothing to do
// with the state-machine logic in raftlog.go.
type stepServer struct {
	l *raftLog
}

var raftServiceDesc = grpc.ServiceDesc{
	ServiceName: "gns.RaftTransport",
	HandlerType: (*stepServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Step",
			Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
				in := new(raftpb.Message)
				if err := dec(in); err != nil {
					return nil, err
				}
				call := func(ctx context.Context, req interface{}) (interface{}, error) {
					msg := req.(*raftpb.Message)
					return new(nothing), srv.(*stepServer).l.node.Step(ctx, *msg)
				}
				if interceptor == nil {
					return call(ctx, in)
				}
				info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/gns.RaftTransport/Step"}
				return interceptor(ctx, in, info, call)
			},
		},
	},
	Metadata: "gns/raftlog.proto",
}

// RegisterTransport registers l's Step handler with an externally-owned
// grpc.Server (the same server the rpc package's RC/AR services are
// registered on, so one listener serves both the reconfiguration RPCs and
// the raft peer transport).
func (l *raftLog) RegisterTransport(s *grpc.Server) {
	s.RegisterService(&raftServiceDesc, &stepServer{l: l})
}

func (l *raftLog) dial(id uint64) (*grpc.ClientConn, error) {
	l.connMu.Lock()
	defer l.connMu.Unlock()
	if c, ok := l.conns[id]; ok {
		return c, nil
	}
	addr, err := l.resolve(id)
	if err != nil {
		return nil, err
	}
	c, err := grpc.NewClient(addr, l.dialOpts...)
	if err != nil {
		return nil, err
	}
	l.conns[id] = c
	return c, nil
}

func step(ctx context.Context, conn *grpc.ClientConn, msg *raftpb.Message) error {
	return conn.Invoke(ctx, "/gns.RaftTransport/Step", msg, new(nothing), grpc.ForceCodec(stepCodec{}))
}
