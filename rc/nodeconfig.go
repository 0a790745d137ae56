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

// NodeConfigName is the distinguished name spec.md §2/§12.1 reserves for the
// RC quorum's own membership: "the set of RC nodes is itself reconfigurable
// via the same protocol applied to a distinguished name." It cannot collide
// with an application-assigned name because it carries a NUL byte, which
// CreateServiceName.Name never legitimately contains.
const NodeConfigName = "\x00node-config"

func isNodeConfigName(name string) bool { return name == NodeConfigName }

// BootstrapNodeConfig seeds the record for NodeConfigName directly into
// StateReady, bypassing the normal create/start handshake: at first startup
// every founding RC node already has the control log open and already
// considers itself a member, so there is nothing to stop or start. Must be
// called after Start, so its "already have a record" guard below sees any
// NODE_CONFIG persisted by a prior run (Start's ForEach is what populates
// r.records); calling it before Start would see an empty r.records on every
// restart, not just the first, and silently clobber a real NODE_CONFIG
// epoch with Epoch 0 from the static config file.
func (r *RC) BootstrapNodeConfig(members common.NodeSet) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[NodeConfigName]; ok {
		return nil
	}
	rec := &Record{
		Name:       NodeConfigName,
		Epoch:      0,
		Actives:    members,
		State:      StateReady,
		AckedStop:  map[common.NodeID]bool{},
		AckedStart: map[common.NodeID]bool{},
		AckedDrop:  map[common.NodeID]bool{},
	}
	r.persist(rec)
	return nil
}

// ReconfigureRCNodeConfig implements the operator-facing request of spec.md
// §6/§12.1: add/remove members of the RC quorum itself, driven through the
// identical record state machine under NodeConfigName.
func (r *RC) ReconfigureRCNodeConfig(ctx context.Context, req *proto.ReconfigureRCNodeConfig) error {
	r.mu.Lock()
	rec, ok := r.records[NodeConfigName]
	if !ok {
		r.mu.Unlock()
		return common.ErrInvalidConfig
	}
	next := common.NewNodeSet(rec.Actives.Slice()...)
	for _, id := range req.Added {
		next[id] = struct{}{}
	}
	for _, id := range req.Removed {
		delete(next, id)
	}
	r.mu.Unlock()

	return r.ClientChangeReplicas(ctx, req.RequestID, NodeConfigName, next)
}

// ReconfiguratorNodes returns the current RC quorum membership, for wiring
// into config validation or operator tooling.
func (r *RC) ReconfiguratorNodes() common.NodeSet {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[NodeConfigName]
	if !ok {
		return common.NewNodeSet()
	}
	return common.NewNodeSet(rec.Actives.Slice()...)
}
