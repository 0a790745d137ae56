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

	"github.com/vava24680/GNS/ar"
	"github.com/vava24680/GNS/common"
	"github.com/vava24680/GNS/proto"
	"github.com/vava24680/GNS/rc"
)

// RCService adapts an *rc.RC to the RCServer grpc interface; it is the only
// place request/reply shapes are translated between the wire messages and
// rc.RC's Go-native method signatures.
type RCService struct {
	RC *rc.RC
}

func (s RCService) CreateServiceName(ctx context.Context, req *proto.CreateServiceName) (*proto.Empty, error) {
	return new(proto.Empty), s.RC.ClientCreate(ctx, req)
}

func (s RCService) DeleteServiceName(ctx context.Context, req *proto.DeleteServiceName) (*proto.Empty, error) {
	return new(proto.Empty), s.RC.ClientDelete(ctx, req)
}

func (s RCService) ChangeReplicas(ctx context.Context, req *proto.ChangeReplicas) (*proto.Empty, error) {
	group := common.NewNodeSet(req.NewGroup...)
	return new(proto.Empty), s.RC.ClientChangeReplicas(ctx, req.RequestID, req.Name, group)
}

func (s RCService) RequestActiveReplicas(ctx context.Context, req *proto.RequestActiveReplicas) (*proto.ActiveReplicasReply, error) {
	return s.RC.RequestActiveReplicas(req.Name), nil
}

func (s RCService) ReconfigureRCNodeConfig(ctx context.Context, req *proto.ReconfigureRCNodeConfig) (*proto.Empty, error) {
	return new(proto.Empty), s.RC.ReconfigureRCNodeConfig(ctx, req)
}

func (s RCService) AckStopEpoch(ctx context.Context, req *proto.AckStopEpoch) (*proto.Empty, error) {
	return new(proto.Empty), s.RC.HandleAckStopEpoch(ctx, req)
}

func (s RCService) AckStartEpoch(ctx context.Context, req *proto.AckStartEpoch) (*proto.Empty, error) {
	return new(proto.Empty), s.RC.HandleAckStartEpoch(ctx, req)
}

func (s RCService) AckDropEpochFinalState(ctx context.Context, req *proto.AckDropEpochFinalState) (*proto.Empty, error) {
	return new(proto.Empty), s.RC.HandleAckDropEpochFinalState(ctx, req)
}

func (s RCService) DemandReport(ctx context.Context, req *proto.DemandReport) (*proto.Empty, error) {
	return new(proto.Empty), s.RC.HandleDemandReport(ctx, req)
}

// ARService adapts an *ar.AR to the ARServer grpc interface.
type ARService struct {
	AR *ar.AR
}

func (s ARService) StopEpoch(ctx context.Context, req *proto.StopEpoch) (*proto.Empty, error) {
	return new(proto.Empty), s.AR.HandleStopEpoch(ctx, req)
}

func (s ARService) StartEpoch(ctx context.Context, req *proto.StartEpoch) (*proto.Empty, error) {
	return new(proto.Empty), s.AR.HandleStartEpoch(ctx, req)
}

func (s ARService) DropEpochFinalState(ctx context.Context, req *proto.DropEpochFinalState) (*proto.Empty, error) {
	return new(proto.Empty), s.AR.HandleDropEpochFinalState(ctx, req)
}

func (s ARService) RequestEpochFinalState(ctx context.Context, req *proto.RequestEpochFinalState) (*proto.EpochFinalState, error) {
	return s.AR.HandleRequestEpochFinalState(ctx, req)
}
