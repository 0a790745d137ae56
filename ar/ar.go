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
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/vava24680/GNS/common"
	"github.com/vava24680/GNS/demand"
	"github.com/vava24680/GNS/proto"
	"github.com/vava24680/GNS/store"
	"github.com/vava24680/GNS/tasks"
)

// AR runs the spec.md §4.2 epoch handlers for one Active Replica node,
// hosting zero or more (name, epoch) instances at a time, bounded per name
// to the current and immediately-prior epoch until its drop is acked
// (spec.md's "bounded-retention" accounting, §12.4).
type AR struct {
	self common.NodeID

	store     *store.Store
	scheduler *tasks.Scheduler
	rc        RCMessenger
	peers     PeerMessenger
	app       AppStore
	policy    demand.Policy
	logger    *zap.Logger

	fetch singleflight.Group

	// stopOnce collapses concurrent/retransmitted StopEpoch deliveries for
	// the same (name, epoch) into a single app.Checkpoint call, per spec.md
	// §4.2 ("retransmitted StopEpochs received while stop is pending are
	// dropped — no duplicate coordinator submission").
	stopOnce singleflight.Group

	mu        sync.Mutex
	instances map[string]*Instance // key(name, epoch) -> instance
	current   map[string]uint32    // name -> highest known epoch
	profiles  map[string]demand.Profile

	// droppedEpochs counts GC'd instances per name, the bounded-retention
	// accounting of spec.md §12.4.
	droppedEpochs map[string]uint64

	// droppedCache retains the final checkpoint of a just-dropped epoch for
	// a bounded number of (name, epoch) pairs, so a RequestEpochFinalState
	// that was in flight when DropEpochFinalState landed still succeeds
	// instead of failing the state transfer outright.
	droppedCache *lru.Cache[string, []byte]
}

// droppedCacheSize bounds how many recently-dropped epochs' checkpoints
// stay fetchable after GC (spec.md §12.4's bounded-retention accounting).
const droppedCacheSize = 256

// New builds an AR. Call Start to load persisted instances before serving
// requests.
func New(self common.NodeID, st *store.Store, sched *tasks.Scheduler, rc RCMessenger, peers PeerMessenger, app AppStore, policy demand.Policy, logger *zap.Logger) *AR {
	if policy == nil {
		policy = demand.NullPolicy{}
	}
	cache, err := lru.New[string, []byte](droppedCacheSize)
	if err != nil {
		// only returns an error for a non-positive size, which droppedCacheSize never is.
		panic(err)
	}
	return &AR{
		self:          self,
		store:         st,
		scheduler:     sched,
		rc:            rc,
		peers:         peers,
		app:           app,
		policy:        policy,
		logger:        logger,
		instances:     make(map[string]*Instance),
		current:       make(map[string]uint32),
		profiles:      make(map[string]demand.Profile),
		droppedEpochs: make(map[string]uint64),
		droppedCache:  cache,
	}
}

// Start loads every persisted instance from the store's name-records
// collection.
func (a *AR) Start() error {
	return a.store.ForEach(store.CollectionNameRecords, func(_, value []byte) (bool, error) {
		inst, err := DecodeInstance(value)
		if err != nil {
			return false, err
		}
		a.instances[key(inst.Name, inst.Epoch)] = inst
		if inst.Epoch >= a.current[inst.Name] {
			a.current[inst.Name] = inst.Epoch
		}
		return true, nil
	})
}

func (a *AR) persist(inst *Instance) {
	a.instances[key(inst.Name, inst.Epoch)] = inst
	if inst.Epoch >= a.current[inst.Name] {
		a.current[inst.Name] = inst.Epoch
	}
	data, err := inst.Encode()
	if err != nil {
		a.logger.Error("gns/ar: encode instance", zap.Error(err))
		return
	}
	if err := a.store.Put(store.CollectionNameRecords, key(inst.Name, inst.Epoch), data); err != nil {
		a.logger.Error("gns/ar: persist instance", zap.Error(err))
	}
}

// HandleStopEpoch implements spec.md §4.2's StopEpoch handler: idempotent,
// and must answer even for an epoch this node never instantiated (the
// "ack" is then vacuous — an empty checkpoint — rather than the request
// hanging). The actual checkpoint/persist step runs inside a.stopOnce so two
// concurrent or retransmitted deliveries for the same (name, epoch) collapse
// into a single app.Checkpoint call instead of both racing it.
func (a *AR) HandleStopEpoch(ctx context.Context, msg *proto.StopEpoch) error {
	k := key(msg.Name, msg.Epoch)
	a.mu.Lock()
	_, ok := a.instances[k]
	a.mu.Unlock()
	if !ok {
		return a.rc.SendAckStopEpoch(ctx, msg.Requester, &proto.AckStopEpoch{
			Name: msg.Name, Epoch: msg.Epoch, Responder: a.self,
		})
	}

	v, err, _ := a.stopOnce.Do(k, func() (interface{}, error) {
		a.mu.Lock()
		inst, ok := a.instances[k]
		if !ok || inst.State != instanceActive {
			a.mu.Unlock()
			if !ok {
				return []byte(nil), nil
			}
			return inst.Checkpoint, nil
		}
		a.mu.Unlock()

		ckpt, err := a.app.Checkpoint(msg.Name)
		if err != nil {
			return nil, common.Wrapf(err, "gns/ar: checkpoint %s@%d", msg.Name, msg.Epoch)
		}

		a.mu.Lock()
		if inst, ok := a.instances[k]; ok && inst.State == instanceActive {
			inst = inst.Clone()
			inst.State = instanceStopped
			inst.Checkpoint = ckpt
			a.persist(inst)
		}
		a.mu.Unlock()
		return ckpt, nil
	})
	if err != nil {
		return err
	}

	ckpt, _ := v.([]byte)
	return a.rc.SendAckStopEpoch(ctx, msg.Requester, &proto.AckStopEpoch{
		Name: msg.Name, Epoch: msg.Epoch, Responder: a.self, FinalCheckpoint: ckpt,
	})
}

// HandleStartEpoch implements spec.md §4.2's StartEpoch handler. If the
// predecessor's final state wasn't inlined in msg.InitialState, it is
// fetched peer-to-peer from msg.PrevEpochGroup (deduplicated with
// golang.org/x/sync/singleflight so concurrent StartEpoch retransmissions
// for the same predecessor epoch trigger at most one fetch fan-out).
func (a *AR) HandleStartEpoch(ctx context.Context, msg *proto.StartEpoch) error {
	a.mu.Lock()
	if _, ok := a.instances[key(msg.Name, msg.Epoch)]; ok {
		a.mu.Unlock()
		return a.rc.SendAckStartEpoch(ctx, msg.Requester, &proto.AckStartEpoch{Name: msg.Name, Epoch: msg.Epoch, Responder: a.self})
	}
	a.mu.Unlock()

	state := msg.InitialState
	if len(state) == 0 && len(msg.PrevEpochGroup) > 0 {
		var err error
		state, err = a.fetchFinalState(ctx, msg.Name, msg.PrevEpoch, msg.PrevEpochGroup)
		if err != nil {
			return common.Wrap(err, "gns/ar: state transfer")
		}
	}
	if err := a.app.Restore(msg.Name, state); err != nil {
		return common.Wrapf(err, "gns/ar: restore %s@%d", msg.Name, msg.Epoch)
	}

	inst := &Instance{
		Name:           msg.Name,
		Epoch:          msg.Epoch,
		Members:        common.NewNodeSet(msg.Members...),
		State:          instanceActive,
		PrevEpochGroup: common.NewNodeSet(msg.PrevEpochGroup...),
		PrevEpoch:      msg.PrevEpoch,
	}
	a.mu.Lock()
	a.persist(inst)
	a.mu.Unlock()

	return a.rc.SendAckStartEpoch(ctx, msg.Requester, &proto.AckStartEpoch{Name: msg.Name, Epoch: msg.Epoch, Responder: a.self})
}

// HandleRequestEpochFinalState answers a peer AR's state-transfer request
// (spec.md §4.2), returning common.ErrBadEpoch if this node has no record of
// the requested epoch so the caller tries a different group member.
func (a *AR) HandleRequestEpochFinalState(_ context.Context, msg *proto.RequestEpochFinalState) (*proto.EpochFinalState, error) {
	k := key(msg.Name, msg.Epoch)
	a.mu.Lock()
	inst, ok := a.instances[k]
	a.mu.Unlock()
	if !ok {
		if ckpt, ok := a.droppedCache.Get(k); ok {
			return &proto.EpochFinalState{Name: msg.Name, Epoch: msg.Epoch, CheckpointBytes: ckpt}, nil
		}
		return nil, common.ErrBadEpoch
	}
	ckpt := inst.Checkpoint
	if ckpt == nil {
		var err error
		ckpt, err = a.app.Checkpoint(msg.Name)
		if err != nil {
			return nil, err
		}
	}
	return &proto.EpochFinalState{Name: msg.Name, Epoch: msg.Epoch, CheckpointBytes: ckpt}, nil
}

// HandleDropEpochFinalState implements spec.md §4.2/§12.4: release a
// superseded epoch's retained checkpoint. Idempotent; acks even if the
// instance is already gone.
func (a *AR) HandleDropEpochFinalState(ctx context.Context, msg *proto.DropEpochFinalState) error {
	a.mu.Lock()
	k := key(msg.Name, msg.Epoch)
	if inst, ok := a.instances[k]; ok {
		a.droppedCache.Add(k, inst.Checkpoint)
		delete(a.instances, k)
		a.droppedEpochs[msg.Name]++
		if err := a.store.Delete(store.CollectionNameRecords, k); err != nil {
			a.logger.Error("gns/ar: delete instance", zap.Error(err))
		}
	}
	a.mu.Unlock()
	return a.rc.SendAckDropEpochFinalState(ctx, msg.Initiator, &proto.AckDropEpochFinalState{
		Name: msg.Name, Epoch: msg.Epoch, Responder: a.self,
	})
}

// fetchFinalState pulls the final checkpoint of (name, epoch) from the first
// reachable member of group, excluding self.
func (a *AR) fetchFinalState(ctx context.Context, name string, epoch uint32, group []common.NodeID) ([]byte, error) {
	v, err, _ := a.fetch.Do(key(name, epoch), func() (interface{}, error) {
		var lastErr error = common.ErrTransientUnreachable
		for _, m := range group {
			if m == a.self {
				continue
			}
			reply, err := a.peers.RequestEpochFinalState(ctx, m, &proto.RequestEpochFinalState{
				Name: name, Epoch: epoch, Initiator: a.self,
			})
			if err != nil {
				lastErr = err
				continue
			}
			return reply.CheckpointBytes, nil
		}
		return nil, lastErr
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// RecordDemand folds one observed application request into the per-name
// demand profile and, per the policy's judgment, forwards a DemandReport to
// an RC node (spec.md §4.2 "Demand Reporting").
func (a *AR) RecordDemand(ctx context.Context, toRC common.NodeID, name string, epoch uint32, sender common.NodeID) error {
	a.mu.Lock()
	profile := a.policy.Register(a.profiles[name], sender)
	a.profiles[name] = profile
	report := a.policy.ShouldReport(profile)
	a.mu.Unlock()
	if !report {
		return nil
	}
	return a.rc.SendDemandReport(ctx, toRC, &proto.DemandReport{
		Name: name, Epoch: epoch, Sender: a.self, ProfileBlob: demand.EncodeProfile(profile),
	})
}

// DroppedEpochs returns the number of epoch instances garbage-collected for
// name so far, for metrics/introspection (spec.md §12.4).
func (a *AR) DroppedEpochs(name string) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.droppedEpochs[name]
}

// Clone deep-copies an Instance for safe mutation before a durable write.
func (i *Instance) Clone() *Instance {
	cp := *i
	cp.Members = common.NewNodeSet(i.Members.Slice()...)
	cp.PrevEpochGroup = common.NewNodeSet(i.PrevEpochGroup.Slice()...)
	cp.Checkpoint = append([]byte(nil), i.Checkpoint...)
	return &cp
}
