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
	"encoding/binary"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/vava24680/GNS/common"
	"github.com/vava24680/GNS/demand"
	"github.com/vava24680/GNS/keyserver/replication"
	"github.com/vava24680/GNS/proto"
	"github.com/vava24680/GNS/store"
	"github.com/vava24680/GNS/tasks"
)

// profileCacheSize bounds how many names' demand profiles an RC node keeps
// warm at once (spec.md §4.2 "Demand Reporting" is advisory, so evicting a
// cold name's profile under memory pressure only costs a slower future
// reconfiguration decision, never correctness).
const profileCacheSize = 4096

// appliedIndexKey stores, in the replica-controller-records collection, how
// many control-log entries this replica has applied since Start — used as
// the lo offset on the next ControlLog.Start after a restart.
const appliedIndexKey = "__applied_index__"

// RC runs the spec.md §4.1 reconfiguration-record state machine for every
// name on one Reconfigurator node, driven by a replicated ControlLog shared
// with its RC peers.
type RC struct {
	self      common.NodeID
	clog      replication.ControlLog
	store     *store.Store
	scheduler *tasks.Scheduler
	messenger Messenger
	policy    demand.Policy
	logger    *zap.Logger

	mu       sync.Mutex
	records  map[string]*Record
	profiles *lru.Cache[string, demand.Profile]
	waiters  map[common.RequestID]chan error
	applied  uint64
}

// New builds an RC. Call Start before issuing any client operation.
func New(self common.NodeID, clog replication.ControlLog, st *store.Store, sched *tasks.Scheduler, msn Messenger, policy demand.Policy, logger *zap.Logger) *RC {
	if policy == nil {
		policy = demand.NullPolicy{}
	}
	profiles, err := lru.New[string, demand.Profile](profileCacheSize)
	if err != nil {
		// only returns an error for a non-positive size, which profileCacheSize never is.
		panic(err)
	}
	return &RC{
		self:      self,
		clog:      clog,
		store:     st,
		scheduler: sched,
		messenger: msn,
		policy:    policy,
		logger:    logger,
		records:   make(map[string]*Record),
		profiles:  profiles,
		waiters:   make(map[common.RequestID]chan error),
	}
}

// Start loads every persisted record, resumes the control log from the last
// applied offset, and launches the apply loop. It must be called once before
// any client-facing method.
func (r *RC) Start(ctx context.Context) error {
	if err := r.store.ForEach(store.CollectionReplicaControllerRecords, func(key, value []byte) (bool, error) {
		if key == nil {
			return true, nil
		}
		if string(key) == appliedIndexKey {
			if len(value) == 8 {
				r.applied = binary.BigEndian.Uint64(value)
			}
			return true, nil
		}
		rec, err := DecodeRecord(value)
		if err != nil {
			return false, err
		}
		r.records[rec.Name] = rec
		return true, nil
	}); err != nil {
		return common.Wrap(err, "gns/rc: load records")
	}

	if err := r.clog.Start(r.applied); err != nil {
		return common.Wrap(err, "gns/rc: start control log")
	}
	r.resumePendingRecords(ctx)
	go r.run(ctx)
	return nil
}

// resumePendingRecords re-emits the outbound messages for every record a
// prior crash left mid-handshake, per spec.md §4.1 ("on restart, the RC
// replays the record's state and re-emits the outbound messages of that
// state"). Without this, a record loaded by Start in StateWaitAckStop/
// StateWaitAckStart/StateWaitAckDrop would otherwise sit idle forever: the
// begin* helpers are normally only invoked from apply* when a *new*
// control-log event lands, never on load.
func (r *RC) resumePendingRecords(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.records {
		switch rec.State {
		case StateWaitAckStop:
			r.beginStopEpoch(ctx, rec)
		case StateWaitAckStart:
			prevEpoch := uint32(0)
			if rec.PriorGroup.Len() > 0 {
				prevEpoch = rec.Epoch - 1
			}
			r.beginStartEpoch(ctx, rec, rec.PriorGroup, prevEpoch, rec.StopCheckpoint)
		case StateWaitAckDrop:
			r.beginDropEpoch(ctx, rec)
		}
	}
}

func (r *RC) run(ctx context.Context) {
	ch := r.clog.WaitCommitted()
	for {
		select {
		case <-ctx.Done():
			return
		case entry, ok := <-ch:
			if !ok {
				return
			}
			if entry.Data != nil {
				ev, err := decodeEvent(entry.Data)
				if err != nil {
					r.logger.Error("gns/rc: undecodable control log entry", zap.Error(err))
				} else {
					r.apply(ctx, ev)
				}
			}
			r.mu.Lock()
			r.applied++
			idx := make([]byte, 8)
			binary.BigEndian.PutUint64(idx, r.applied)
			r.mu.Unlock()
			if err := r.store.Put(store.CollectionReplicaControllerRecords, appliedIndexKey, idx); err != nil {
				r.logger.Error("gns/rc: persist applied index", zap.Error(err))
			}
		}
	}
}

// -- client-facing requests --------------------------------------------------

// ClientCreate implements spec.md §4.1 step 1. Validation errors (empty
// group) and state-independent fast-paths are answered without a log append;
// the race between concurrent creates of the same name is arbitrated by
// apply at commit time, per spec.md §8 ("exactly one returns success, the
// other AlreadyExists").
func (r *RC) ClientCreate(ctx context.Context, req *proto.CreateServiceName) error {
	if len(req.InitialGroup) == 0 {
		return common.ErrInvalidConfig
	}
	r.mu.Lock()
	if rec, ok := r.records[req.Name]; ok && rec != nil {
		r.mu.Unlock()
		return common.ErrAlreadyExists
	}
	r.mu.Unlock()

	return r.proposeAndWait(ctx, req.RequestID, event{
		Kind:         evCreate,
		Name:         req.Name,
		RequestID:    req.RequestID,
		InitialState: req.InitialState,
		Group:        req.InitialGroup,
	})
}

// ClientDelete implements the delete path (spec.md §4.1, "creation ... is
// modeled uniformly as stop of an empty previous group" run in reverse).
func (r *RC) ClientDelete(ctx context.Context, req *proto.DeleteServiceName) error {
	r.mu.Lock()
	rec, ok := r.records[req.Name]
	if !ok {
		r.mu.Unlock()
		return common.ErrNotFound
	}
	if rec.State != StateReady {
		r.mu.Unlock()
		return common.ErrBusy
	}
	r.mu.Unlock()

	return r.proposeAndWait(ctx, req.RequestID, event{
		Kind:      evDelete,
		Name:      req.Name,
		RequestID: req.RequestID,
	})
}

// ClientChangeReplicas implements spec.md §4.1 steps 3-7 for an explicit
// client-requested (or demand-driven, see demand.go) replica-group change.
func (r *RC) ClientChangeReplicas(ctx context.Context, requestID common.RequestID, name string, newGroup common.NodeSet) error {
	if newGroup.Len() == 0 {
		return common.ErrInvalidConfig
	}
	r.mu.Lock()
	rec, ok := r.records[name]
	if !ok {
		r.mu.Unlock()
		return common.ErrNotFound
	}
	if rec.State != StateReady {
		r.mu.Unlock()
		return common.ErrBusy
	}
	r.mu.Unlock()

	return r.proposeAndWait(ctx, requestID, event{
		Kind:      evChange,
		Name:      name,
		RequestID: requestID,
		Group:     newGroup.Slice(),
	})
}

// RequestActiveReplicas answers the read-only snapshot query of spec.md §6/§7
// ("it may race with an in-progress change; this is explicitly permitted").
func (r *RC) RequestActiveReplicas(name string) *proto.ActiveReplicasReply {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[name]
	if !ok {
		return &proto.ActiveReplicasReply{Name: name, Found: false}
	}
	return &proto.ActiveReplicasReply{
		Name:    name,
		Epoch:   rec.Epoch,
		Actives: rec.Actives.Slice(),
		Found:   true,
	}
}

// -- AR acknowledgements -----------------------------------------------------

// HandleAckStopEpoch folds an inbound AckStopEpoch into the control log; only
// the first ack per (name, epoch, member) changes anything (spec.md §5).
func (r *RC) HandleAckStopEpoch(ctx context.Context, msg *proto.AckStopEpoch) error {
	data, err := encodeEvent(event{
		Kind:       evAckStop,
		Name:       msg.Name,
		Epoch:      msg.Epoch,
		Member:     msg.Responder,
		Checkpoint: msg.FinalCheckpoint,
	})
	if err != nil {
		return err
	}
	r.clog.Propose(ctx, data)
	return nil
}

// HandleAckStartEpoch folds an inbound AckStartEpoch into the control log.
func (r *RC) HandleAckStartEpoch(ctx context.Context, msg *proto.AckStartEpoch) error {
	data, err := encodeEvent(event{
		Kind:   evAckStart,
		Name:   msg.Name,
		Epoch:  msg.Epoch,
		Member: msg.Responder,
	})
	if err != nil {
		return err
	}
	r.clog.Propose(ctx, data)
	return nil
}

// HandleAckDropEpochFinalState folds an inbound AckDropEpochFinalState into
// the control log.
func (r *RC) HandleAckDropEpochFinalState(ctx context.Context, msg *proto.AckDropEpochFinalState) error {
	data, err := encodeEvent(event{
		Kind:   evAckDrop,
		Name:   msg.Name,
		Epoch:  msg.Epoch,
		Member: msg.Responder,
	})
	if err != nil {
		return err
	}
	r.clog.Propose(ctx, data)
	return nil
}

// HandleDemandReport folds an advisory demand report into this node's
// per-name profile and, if the policy now recommends a different replica
// group, issues a ClientChangeReplicas on the AR's behalf (spec.md §4.2
// "Demand Reporting": advisory, never required for correctness).
func (r *RC) HandleDemandReport(ctx context.Context, msg *proto.DemandReport) error {
	r.mu.Lock()
	rec, ok := r.records[msg.Name]
	if !ok || rec.State != StateReady {
		r.mu.Unlock()
		return nil
	}
	prior, _ := r.profiles.Get(msg.Name)
	profile := r.policy.Register(prior, msg.Sender)
	if remote := demand.DecodeProfile(msg.ProfileBlob); remote != nil {
		profile = r.policy.Combine(profile, remote)
	}
	r.profiles.Add(msg.Name, profile)
	actives := rec.Actives
	r.mu.Unlock()

	newGroup, should := r.policy.ShouldReconfigure(profile, actives)
	if !should {
		return nil
	}
	return r.ClientChangeReplicas(ctx, common.NewRequestID(), msg.Name, newGroup)
}

// -- internals ----------------------------------------------------------------

func (r *RC) proposeAndWait(ctx context.Context, requestID common.RequestID, ev event) error {
	data, err := encodeEvent(ev)
	if err != nil {
		return err
	}
	ch := make(chan error, 1)
	r.mu.Lock()
	r.waiters[requestID] = ch
	r.mu.Unlock()

	r.clog.Propose(ctx, data)

	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		r.mu.Lock()
		delete(r.waiters, requestID)
		r.mu.Unlock()
		return ctx.Err()
	}
}

func (r *RC) resolve(requestID common.RequestID, err error) {
	if requestID == "" {
		return
	}
	ch, ok := r.waiters[requestID]
	if !ok {
		return
	}
	delete(r.waiters, requestID)
	ch <- err
}

// apply runs sequentially off the single control-log apply goroutine; it is
// the sole writer of r.records and the sole decision point for the state
// transitions of spec.md §4.1. It must durably persist a record before any
// side-effecting send, per spec.md §4.1's failure-semantics paragraph.
func (r *RC) apply(ctx context.Context, ev event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch ev.Kind {
	case evCreate:
		r.applyCreate(ctx, ev)
	case evDelete:
		r.applyDelete(ctx, ev)
	case evChange:
		r.applyChange(ctx, ev)
	case evAckStop:
		r.applyAckStop(ctx, ev)
	case evAckStart:
		r.applyAckStart(ctx, ev)
	case evAckDrop:
		r.applyAckDrop(ctx, ev)
	}
}

func (r *RC) applyCreate(ctx context.Context, ev event) {
	if rec, ok := r.records[ev.Name]; ok && rec != nil {
		r.resolve(ev.RequestID, common.ErrAlreadyExists)
		return
	}
	rec := &Record{
		Name:           ev.Name,
		Epoch:          0,
		Actives:        common.NewNodeSet(ev.Group...),
		State:          StateWaitAckStart,
		StopCheckpoint: ev.InitialState,
		AckedStop:      map[common.NodeID]bool{},
		AckedStart:     map[common.NodeID]bool{},
		AckedDrop:      map[common.NodeID]bool{},
		LastRequestID:  ev.RequestID,
	}
	r.persist(rec)
	r.beginStartEpoch(ctx, rec, common.NewNodeSet(), 0, rec.StopCheckpoint)
}

func (r *RC) applyDelete(ctx context.Context, ev event) {
	rec, ok := r.records[ev.Name]
	if !ok || rec.State != StateReady {
		r.resolve(ev.RequestID, common.ErrNotFound)
		return
	}
	rec = rec.Clone()
	rec.NewActives = common.NewNodeSet()
	rec.State = StateWaitAckStop
	rec.LastRequestID = ev.RequestID
	rec.AckedStop = map[common.NodeID]bool{}
	r.persist(rec)
	r.beginStopEpoch(ctx, rec)
}

func (r *RC) applyChange(ctx context.Context, ev event) {
	rec, ok := r.records[ev.Name]
	if !ok || rec.State != StateReady {
		r.resolve(ev.RequestID, common.ErrNotFound)
		return
	}
	rec = rec.Clone()
	rec.NewActives = common.NewNodeSet(ev.Group...)
	rec.State = StateWaitAckStop
	rec.LastRequestID = ev.RequestID
	rec.AckedStop = map[common.NodeID]bool{}
	r.persist(rec)
	r.beginStopEpoch(ctx, rec)
}

func (r *RC) applyAckStop(ctx context.Context, ev event) {
	rec, ok := r.records[ev.Name]
	if !ok || rec.State != StateWaitAckStop || rec.Epoch != ev.Epoch {
		return
	}
	if rec.AckedStop[ev.Member] {
		return
	}
	rec = rec.Clone()
	rec.AckedStop[ev.Member] = true
	if len(rec.AckedStop) != 1 {
		// Someone else's ack already triggered the transition below.
		r.records[rec.Name] = rec
		return
	}

	if !isNodeConfigName(rec.Name) {
		r.scheduler.Cancel(tasks.Key(tasks.KindStopEpoch, rec.Name, rec.Epoch))
	}

	priorGroup := rec.Actives
	rec.PriorGroup = priorGroup
	rec.StopCheckpoint = ev.Checkpoint
	rec.Epoch++
	deleting := rec.NewActives.Len() == 0
	rec.Actives = rec.NewActives
	rec.NewActives = nil
	rec.AckedStart = map[common.NodeID]bool{}
	rec.AckedDrop = map[common.NodeID]bool{}

	if deleting {
		rec.State = StateWaitAckDrop
		r.persist(rec)
		r.beginDropEpoch(ctx, rec)
		return
	}

	rec.State = StateWaitAckStart
	r.persist(rec)
	r.beginStartEpoch(ctx, rec, priorGroup, rec.Epoch-1, rec.StopCheckpoint)
}

func (r *RC) applyAckStart(ctx context.Context, ev event) {
	rec, ok := r.records[ev.Name]
	if !ok || rec.State != StateWaitAckStart || rec.Epoch != ev.Epoch {
		return
	}
	if rec.AckedStart[ev.Member] {
		return
	}
	rec = rec.Clone()
	rec.AckedStart[ev.Member] = true
	r.records[rec.Name] = rec

	have := make(map[common.NodeID]struct{}, len(rec.AckedStart))
	for id, acked := range rec.AckedStart {
		if acked {
			have[id] = struct{}{}
		}
	}
	if !common.CheckQuorum(common.MajorityExpr(rec.Actives), have) {
		return
	}

	if !isNodeConfigName(rec.Name) {
		r.scheduler.Cancel(tasks.Key(tasks.KindStartEpoch, rec.Name, rec.Epoch))
	}

	if rec.PriorGroup.Len() == 0 {
		// Fresh creation: no predecessor group to drop.
		rec.State = StateReady
		rec.StopCheckpoint = nil
		r.persist(rec)
		r.resolve(rec.LastRequestID, nil)
		return
	}

	rec.State = StateWaitAckDrop
	r.persist(rec)
	r.beginDropEpoch(ctx, rec)
}

func (r *RC) applyAckDrop(ctx context.Context, ev event) {
	rec, ok := r.records[ev.Name]
	if !ok || rec.State != StateWaitAckDrop || rec.Epoch-1 != ev.Epoch {
		return
	}
	if rec.AckedDrop[ev.Member] {
		return
	}
	rec = rec.Clone()
	rec.AckedDrop[ev.Member] = true
	r.records[rec.Name] = rec

	if !rec.PriorGroup.Contains(ev.Member) {
		return
	}
	for _, m := range rec.PriorGroup.Slice() {
		if !rec.AckedDrop[m] {
			return
		}
	}

	if !isNodeConfigName(rec.Name) {
		r.scheduler.Cancel(tasks.Key(tasks.KindDropEpoch, rec.Name, rec.Epoch-1))
	}

	if rec.Actives.Len() == 0 {
		delete(r.records, rec.Name)
		if err := r.store.Delete(store.CollectionReplicaControllerRecords, rec.Name); err != nil {
			r.logger.Error("gns/rc: delete record", zap.Error(err))
		}
		r.resolve(rec.LastRequestID, nil)
		return
	}

	rec.State = StateReady
	rec.PriorGroup = common.NewNodeSet()
	r.persist(rec)
	r.resolve(rec.LastRequestID, nil)
}

func (r *RC) persist(rec *Record) {
	r.records[rec.Name] = rec
	data, err := rec.Encode()
	if err != nil {
		r.logger.Error("gns/rc: encode record", zap.Error(err))
		return
	}
	if err := r.store.Put(store.CollectionReplicaControllerRecords, rec.Name, data); err != nil {
		r.logger.Error("gns/rc: persist record", zap.Error(err))
	}
}
