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

	"google.golang.org/grpc"

	"github.com/vava24680/GNS/common"
	"github.com/vava24680/GNS/proto"
)

// ARServer is the service an Active Replica node exposes: the RC -> AR
// requests and the AR -> AR state-transfer request of spec.md §4.2. For
// StopEpoch, StartEpoch and DropEpochFinalState the real acknowledgement
// travels back to the RC as a separate outbound message (see RCClient in
// rc_service.go), not as this call's reply — the reply only confirms the
// request was accepted for processing, matching the retransmit-until-acked
// model of spec.md §4.3. RequestEpochFinalState returns the EpochFinalState
// as the call's own reply.
type ARServer interface {
	StopEpoch(ctx context.Context, req *proto.StopEpoch) (*proto.Empty, error)
	StartEpoch(ctx context.Context, req *proto.StartEpoch) (*proto.Empty, error)
	DropEpochFinalState(ctx context.Context, req *proto.DropEpochFinalState) (*proto.Empty, error)
	RequestEpochFinalState(ctx context.Context, req *proto.RequestEpochFinalState) (*proto.EpochFinalState, error)
}

var arServiceDesc = grpc.ServiceDesc{
	ServiceName: "gns.AR",
	HandlerType: (*ARServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "StopEpoch",
			Handler: unaryHandler("/gns.AR/StopEpoch", func() proto.Message { return new(proto.StopEpoch) },
				func(srv interface{}, ctx context.Context, req proto.Message) (interface{}, error) {
					return srv.(ARServer).StopEpoch(ctx, req.(*proto.StopEpoch))
				}),
		},
		{
			MethodName: "StartEpoch",
			Handler: unaryHandler("/gns.AR/StartEpoch", func() proto.Message { return new(proto.StartEpoch) },
				func(srv interface{}, ctx context.Context, req proto.Message) (interface{}, error) {
					return srv.(ARServer).StartEpoch(ctx, req.(*proto.StartEpoch))
				}),
		},
		{
			MethodName: "DropEpochFinalState",
			Handler: unaryHandler("/gns.AR/DropEpochFinalState", func() proto.Message { return new(proto.DropEpochFinalState) },
				func(srv interface{}, ctx context.Context, req proto.Message) (interface{}, error) {
					return srv.(ARServer).DropEpochFinalState(ctx, req.(*proto.DropEpochFinalState))
				}),
		},
		{
			MethodName: "RequestEpochFinalState",
			Handler: unaryHandler("/gns.AR/RequestEpochFinalState", func() proto.Message { return new(proto.RequestEpochFinalState) },
				func(srv interface{}, ctx context.Context, req proto.Message) (interface{}, error) {
					return srv.(ARServer).RequestEpochFinalState(ctx, req.(*proto.RequestEpochFinalState))
				}),
		},
	},
	Metadata: "gns/ar.proto",
}

// RegisterARServer registers impl to accept the RPCs of ARServer on s.
func RegisterARServer(s *grpc.Server, impl ARServer) {
	s.RegisterService(&arServiceDesc, impl)
}

// ARClient calls a remote AR node; it implements both rc.Messenger (RC ->
// AR) and ar.PeerMessenger (AR -> AR state transfer) against the same
// connection, since both are simply "talk to the AR service on this node".
type ARClient struct {
	conn *grpc.ClientConn
}

// NewARClient wraps an established connection to one AR node.
func NewARClient(conn *grpc.ClientConn) *ARClient { return &ARClient{conn: conn} }

func (c *ARClient) SendStopEpoch(ctx context.Context, _ common.NodeID, msg *proto.StopEpoch) error {
	return c.conn.Invoke(ctx, "/gns.AR/StopEpoch", msg, new(proto.Empty), grpc.ForceCodec(Codec))
}

func (c *ARClient) SendStartEpoch(ctx context.Context, _ common.NodeID, msg *proto.StartEpoch) error {
	return c.conn.Invoke(ctx, "/gns.AR/StartEpoch", msg, new(proto.Empty), grpc.ForceCodec(Codec))
}

func (c *ARClient) SendDropEpochFinalState(ctx context.Context, _ common.NodeID, msg *proto.DropEpochFinalState) error {
	return c.conn.Invoke(ctx, "/gns.AR/DropEpochFinalState", msg, new(proto.Empty), grpc.ForceCodec(Codec))
}

func (c *ARClient) RequestEpochFinalState(ctx context.Context, _ common.NodeID, msg *proto.RequestEpochFinalState) (*proto.EpochFinalState, error) {
	reply := new(proto.EpochFinalState)
	if err := c.conn.Invoke(ctx, "/gns.AR/RequestEpochFinalState", msg, reply, grpc.ForceCodec(Codec)); err != nil {
		return nil, err
	}
	return reply, nil
}
