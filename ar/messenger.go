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

package ar

import (
	"context"

	"github.com/vava24680/GNS/common"
	"github.com/vava24680/GNS/proto"
)

// RCMessenger is the AR's narrow view of the transport back to the
// Reconfigurator quorum: acknowledgements and the advisory demand report of
// spec.md §4.2/§6.
type RCMessenger interface {
	SendAckStopEpoch(ctx context.Context, to common.NodeID, msg *proto.AckStopEpoch) error
	SendAckStartEpoch(ctx context.Context, to common.NodeID, msg *proto.AckStartEpoch) error
	SendAckDropEpochFinalState(ctx context.Context, to common.NodeID, msg *proto.AckDropEpochFinalState) error
	SendDemandReport(ctx context.Context, to common.NodeID, msg *proto.DemandReport) error
}

// PeerMessenger is the AR's view of the AR-to-AR state-transfer transport of
// spec.md §4.2.
type PeerMessenger interface {
	RequestEpochFinalState(ctx context.Context, to common.NodeID, msg *proto.RequestEpochFinalState) (*proto.EpochFinalState, error)
}
