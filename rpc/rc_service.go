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

// RCServer is the service a Reconfigurator node exposes: client requests,
// operator requests, and the AR -> RC acknowledgements/reports of spec.md
// §4.3. The Ack* methods mirror rc.RC's Handle* methods exactly; the
// client-facing methods mirror its Client* methods.
type RCServer interface {
	CreateServiceName(ctx context.Context, req *proto.CreateServiceName) (*proto.Empty, error)
	DeleteServiceName(ctx context.Context, req *proto.DeleteServiceName) (*proto.Empty, error)
	ChangeReplicas(ctx context.Context, req *proto.ChangeReplicas) (*proto.Empty, error)
	RequestActiveReplicas(ctx context.Context, req *proto.RequestActiveReplicas) (*proto.ActiveReplicasReply, error)
	ReconfigureRCNodeConfig(ctx context.Context, req *proto.ReconfigureRCNodeConfig) (*proto.Empty, error)

	AckStopEpoch(ctx context.Context, req *proto.AckStopEpoch) (*proto.Empty, error)
	AckStartEpoch(ctx context.Context, req *proto.AckStartEpoch) (*proto.Empty, error)
	AckDropEpochFinalState(ctx context.Context, req *proto.AckDropEpochFinalState) (*proto.Empty, error)
	DemandReport(ctx context.Context, req *proto.DemandReport) (*proto.Empty, error)
}

var rcServiceDesc = grpc.ServiceDesc{
	ServiceName: "gns.RC",
	HandlerType: (*RCServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "CreateServiceName",
			Handler: unaryHandler("/gns.RC/CreateServiceName", func() proto.Message { return new(proto.CreateServiceName) },
				func(srv interface{}, ctx context.Context, req proto.Message) (interface{}, error) {
					return srv.(RCServer).CreateServiceName(ctx, req.(*proto.CreateServiceName))
				}),
		},
		{
			MethodName: "DeleteServiceName",
			Handler: unaryHandler("/gns.RC/DeleteServiceName", func() proto.Message { return new(proto.DeleteServiceName) },
				func(srv interface{}, ctx context.Context, req proto.Message) (interface{}, error) {
					return srv.(RCServer).DeleteServiceName(ctx, req.(*proto.DeleteServiceName))
				}),
		},
		{
			MethodName: "ChangeReplicas",
			Handler: unaryHandler("/gns.RC/ChangeReplicas", func() proto.Message { return new(proto.ChangeReplicas) },
				func(srv interface{}, ctx context.Context, req proto.Message) (interface{}, error) {
					return srv.(RCServer).ChangeReplicas(ctx, req.(*proto.ChangeReplicas))
				}),
		},
		{
			MethodName: "RequestActiveReplicas",
			Handler: unaryHandler("/gns.RC/RequestActiveReplicas", func() proto.Message { return new(proto.RequestActiveReplicas) },
				func(srv interface{}, ctx context.Context, req proto.Message) (interface{}, error) {
					return srv.(RCServer).RequestActiveReplicas(ctx, req.(*proto.RequestActiveReplicas))
				}),
		},
		{
			MethodName: "ReconfigureRCNodeConfig",
			Handler: unaryHandler("/gns.RC/ReconfigureRCNodeConfig", func() proto.Message { return new(proto.ReconfigureRCNodeConfig) },
				func(srv interface{}, ctx context.Context, req proto.Message) (interface{}, error) {
					return srv.(RCServer).ReconfigureRCNodeConfig(ctx, req.(*proto.ReconfigureRCNodeConfig))
				}),
		},
		{
			MethodName: "AckStopEpoch",
			Handler: unaryHandler("/gns.RC/AckStopEpoch", func() proto.Message { return new(proto.AckStopEpoch) },
				func(srv interface{}, ctx context.Context, req proto.Message) (interface{}, error) {
					return srv.(RCServer).AckStopEpoch(ctx, req.(*proto.AckStopEpoch))
				}),
		},
		{
			MethodName: "AckStartEpoch",
			Handler: unaryHandler("/gns.RC/AckStartEpoch", func() proto.Message { return new(proto.AckStartEpoch) },
				func(srv interface{}, ctx context.Context, req proto.Message) (interface{}, error) {
					return srv.(RCServer).AckStartEpoch(ctx, req.(*proto.AckStartEpoch))
				}),
		},
		{
			MethodName: "AckDropEpochFinalState",
			Handler: unaryHandler("/gns.RC/AckDropEpochFinalState", func() proto.Message { return new(proto.AckDropEpochFinalState) },
				func(srv interface{}, ctx context.Context, req proto.Message) (interface{}, error) {
					return srv.(RCServer).AckDropEpochFinalState(ctx, req.(*proto.AckDropEpochFinalState))
				}),
		},
		{
			MethodName: "DemandReport",
			Handler: unaryHandler("/gns.RC/DemandReport", func() proto.Message { return new(proto.DemandReport) },
				func(srv interface{}, ctx context.Context, req proto.Message) (interface{}, error) {
					return srv.(RCServer).DemandReport(ctx, req.(*proto.DemandReport))
				}),
		},
	},
	Metadata: "gns/rc.proto",
}

// RegisterRCServer registers impl to accept the RPCs of RCServer on s.
func RegisterRCServer(s *grpc.Server, impl RCServer) {
	s.RegisterService(&rcServiceDesc, impl)
}

// RCClient calls a remote RC node; it implements ar.RCMessenger (AR -> RC
// acks/reports) against a connection to one RC replica. It also carries
// wrappers for the client-facing methods (CreateServiceName etc., below),
// which are not part of any package's Messenger interface.
type RCClient struct {
	conn *grpc.ClientConn
}

// NewRCClient wraps an established connection to one RC node.
func NewRCClient(conn *grpc.ClientConn) *RCClient { return &RCClient{conn: conn} }

func (c *RCClient) SendAckStopEpoch(ctx context.Context, _ common.NodeID, msg *proto.AckStopEpoch) error {
	return c.conn.Invoke(ctx, "/gns.RC/AckStopEpoch", msg, new(proto.Empty), grpc.ForceCodec(Codec))
}

func (c *RCClient) SendAckStartEpoch(ctx context.Context, _ common.NodeID, msg *proto.AckStartEpoch) error {
	return c.conn.Invoke(ctx, "/gns.RC/AckStartEpoch", msg, new(proto.Empty), grpc.ForceCodec(Codec))
}

func (c *RCClient) SendAckDropEpochFinalState(ctx context.Context, _ common.NodeID, msg *proto.AckDropEpochFinalState) error {
	return c.conn.Invoke(ctx, "/gns.RC/AckDropEpochFinalState", msg, new(proto.Empty), grpc.ForceCodec(Codec))
}

func (c *RCClient) SendDemandReport(ctx context.Context, _ common.NodeID, msg *proto.DemandReport) error {
	return c.conn.Invoke(ctx, "/gns.RC/DemandReport", msg, new(proto.Empty), grpc.ForceCodec(Codec))
}

// CreateServiceName, DeleteServiceName, ChangeReplicas, RequestActiveReplicas
// and ReconfigureRCNodeConfig are the client/operator entry points; they are
// plain conn.Invoke wrappers rather than Messenger-interface methods since
// nothing in rc or ar calls them — only an external client or cmd/ binary
// does.

func (c *RCClient) CreateServiceName(ctx context.Context, req *proto.CreateServiceName) error {
	return c.conn.Invoke(ctx, "/gns.RC/CreateServiceName", req, new(proto.Empty), grpc.ForceCodec(Codec))
}

func (c *RCClient) DeleteServiceName(ctx context.Context, req *proto.DeleteServiceName) error {
	return c.conn.Invoke(ctx, "/gns.RC/DeleteServiceName", req, new(proto.Empty), grpc.ForceCodec(Codec))
}

func (c *RCClient) ChangeReplicas(ctx context.Context, req *proto.ChangeReplicas) error {
	return c.conn.Invoke(ctx, "/gns.RC/ChangeReplicas", req, new(proto.Empty), grpc.ForceCodec(Codec))
}

func (c *RCClient) RequestActiveReplicas(ctx context.Context, req *proto.RequestActiveReplicas) (*proto.ActiveReplicasReply, error) {
	reply := new(proto.ActiveReplicasReply)
	if err := c.conn.Invoke(ctx, "/gns.RC/RequestActiveReplicas", req, reply, grpc.ForceCodec(Codec)); err != nil {
		return nil, err
	}
	return reply, nil
}

func (c *RCClient) ReconfigureRCNodeConfig(ctx context.Context, req *proto.ReconfigureRCNodeConfig) error {
	return c.conn.Invoke(ctx, "/gns.RC/ReconfigureRCNodeConfig", req, new(proto.Empty), grpc.ForceCodec(Codec))
}
