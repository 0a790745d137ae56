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

package rc

import (
	"context"

	"github.com/vava24680/GNS/common"
	"github.com/vava24680/GNS/proto"
)

// Messenger is the RC's narrow view of the transport to Active Replicas: the
// three outbound message kinds of spec.md §4.2 that an RC ever initiates. The
// production implementation is an rpc-package gRPC client per target node;
// tests substitute a recording fake.
type Messenger interface {
	SendStopEpoch(ctx context.Context, to common.NodeID, msg *proto.StopEpoch) error
	SendStartEpoch(ctx context.Context, to common.NodeID, msg *proto.StartEpoch) error
	SendDropEpochFinalState(ctx context.Context, to common.NodeID, msg *proto.DropEpochFinalState) error
}
