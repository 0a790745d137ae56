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

	"go.uber.org/zap"

	"github.com/vava24680/GNS/common"
	"github.com/vava24680/GNS/proto"
	"github.com/vava24680/GNS/tasks"
)

// beginStopEpoch spawns (or, for NodeConfigName, synthesizes) the StopEpoch
// fan-out of spec.md §4.1 step 3/4 to rec.Actives, the group being phased
// out. Called with r.mu held, from within apply.
func (r *RC) beginStopEpoch(ctx context.Context, rec *Record) {
	if isNodeConfigName(rec.Name) {
		// The RC's own membership has no local epoch instance to drain; it
		// acks its own stop immediately (spec.md §2 reuses the record state
		// machine for NODE_CONFIG, not the AR wire protocol).
		data, err := encodeEvent(event{Kind: evAckStop, Name: rec.Name, Epoch: rec.Epoch, Member: r.self})
		if err == nil {
			r.clog.Propose(ctx, data)
		}
		return
	}
	name, epoch, members := rec.Name, rec.Epoch, rec.Actives.Slice()
	r.scheduler.Spawn(ctx, tasks.Key(tasks.KindStopEpoch, name, epoch), func(ctx context.Context) {
		msg := &proto.StopEpoch{Name: name, Epoch: epoch, Requester: r.self}
		for _, m := range members {
			if err := r.messenger.SendStopEpoch(ctx, m, msg); err != nil {
				r.logger.Debug("gns/rc: StopEpoch send failed", zap.String("name", name), zap.String("to", string(m)), zap.Error(err))
			}
		}
	})
}

// beginStartEpoch spawns (or, for NodeConfigName, synthesizes) the StartEpoch
// fan-out to rec.Actives, the incoming group, per spec.md §4.1 steps 1/5.
func (r *RC) beginStartEpoch(ctx context.Context, rec *Record, prevGroup common.NodeSet, prevEpoch uint32, initialState []byte) {
	if isNodeConfigName(rec.Name) {
		for _, m := range rec.Actives.Slice() {
			r.clog.AddReplica(string(m))
			data, err := encodeEvent(event{Kind: evAckStart, Name: rec.Name, Epoch: rec.Epoch, Member: m})
			if err == nil {
				r.clog.Propose(ctx, data)
			}
		}
		return
	}
	name, epoch, members := rec.Name, rec.Epoch, rec.Actives.Slice()
	prevGroupSlice := prevGroup.Slice()
	r.scheduler.Spawn(ctx, tasks.Key(tasks.KindStartEpoch, name, epoch), func(ctx context.Context) {
		msg := &proto.StartEpoch{
			Name:           name,
			Epoch:          epoch,
			Members:        members,
			PrevEpochGroup: prevGroupSlice,
			PrevEpoch:      prevEpoch,
			InitialState:   initialState,
			Requester:      r.self,
		}
		for _, m := range members {
			if err := r.messenger.SendStartEpoch(ctx, m, msg); err != nil {
				r.logger.Debug("gns/rc: StartEpoch send failed", zap.String("name", name), zap.String("to", string(m)), zap.Error(err))
			}
		}
	})
}

// beginDropEpoch spawns (or, for NodeConfigName, synthesizes) the
// DropEpochFinalState fan-out to rec.PriorGroup, the outgoing group, per
// spec.md §4.1 step 7.
func (r *RC) beginDropEpoch(ctx context.Context, rec *Record) {
	priorEpoch := rec.Epoch - 1
	if isNodeConfigName(rec.Name) {
		for _, m := range rec.PriorGroup.Slice() {
			if !rec.Actives.Contains(m) {
				r.clog.DropReplica(string(m))
			}
			data, err := encodeEvent(event{Kind: evAckDrop, Name: rec.Name, Epoch: priorEpoch, Member: m})
			if err == nil {
				r.clog.Propose(ctx, data)
			}
		}
		return
	}
	name, members := rec.Name, rec.PriorGroup.Slice()
	r.scheduler.Spawn(ctx, tasks.Key(tasks.KindDropEpoch, name, priorEpoch), func(ctx context.Context) {
		msg := &proto.DropEpochFinalState{Name: name, Epoch: priorEpoch, Initiator: r.self}
		for _, m := range members {
			if err := r.messenger.SendDropEpochFinalState(ctx, m, msg); err != nil {
				r.logger.Debug("gns/rc: DropEpochFinalState send failed", zap.String("name", name), zap.String("to", string(m)), zap.Error(err))
			}
		}
	})
}
