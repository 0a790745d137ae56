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
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vava24680/GNS/common"
	"github.com/vava24680/GNS/demand"
	"github.com/vava24680/GNS/keyserver/replication"
	"github.com/vava24680/GNS/proto"
	"github.com/vava24680/GNS/store"
	"github.com/vava24680/GNS/tasks"
)

// fakeLog is an in-process, single-replica stand-in for a ControlLog: every
// Propose is immediately "committed" in submission order, which is enough to
// exercise the record state machine without a real consensus engine.
type fakeLog struct {
	ch      chan replication.LogEntry
	mu      sync.Mutex
	members map[string]bool
}

func newFakeLog() *fakeLog {
	return &fakeLog{ch: make(chan replication.LogEntry, 4096), members: map[string]bool{}}
}

func (f *fakeLog) Start(lo uint64) error                    { return nil }
func (f *fakeLog) Propose(ctx context.Context, data []byte) { f.ch <- replication.LogEntry{Data: data} }
func (f *fakeLog) WaitCommitted() <-chan replication.LogEntry { return f.ch }
func (f *fakeLog) Stop() error                               { return nil }
func (f *fakeLog) AddReplica(nodeID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.members[nodeID] = true
}
func (f *fakeLog) DropReplica(nodeID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.members, nodeID)
}
func (f *fakeLog) LeaderHintSet() <-chan bool { return nil }
func (f *fakeLog) GetCommitted(lo, hi, maxSize uint64) ([]replication.LogEntry, error) {
	return nil, nil
}

// autoAckMessenger simulates a population of ARs that immediately acknowledge
// every StopEpoch/StartEpoch/DropEpochFinalState sent to them.
type autoAckMessenger struct {
	rc *RC
}

func (m *autoAckMessenger) SendStopEpoch(ctx context.Context, to common.NodeID, msg *proto.StopEpoch) error {
	go m.rc.HandleAckStopEpoch(ctx, &proto.AckStopEpoch{
		Name: msg.Name, Epoch: msg.Epoch, Responder: to, FinalCheckpoint: []byte("checkpoint:" + msg.Name),
	})
	return nil
}

func (m *autoAckMessenger) SendStartEpoch(ctx context.Context, to common.NodeID, msg *proto.StartEpoch) error {
	go m.rc.HandleAckStartEpoch(ctx, &proto.AckStartEpoch{Name: msg.Name, Epoch: msg.Epoch, Responder: to})
	return nil
}

func (m *autoAckMessenger) SendDropEpochFinalState(ctx context.Context, to common.NodeID, msg *proto.DropEpochFinalState) error {
	go m.rc.HandleAckDropEpochFinalState(ctx, &proto.AckDropEpochFinalState{Name: msg.Name, Epoch: msg.Epoch, Responder: to})
	return nil
}

// toggleMessenger behaves like autoAckMessenger while enabled, but drops every
// send silently once disabled — used to simulate a crash mid-handshake, where
// no ack ever reaches the RC before it goes down.
type toggleMessenger struct {
	rc *RC

	mu      sync.Mutex
	enabled bool
}

func (m *toggleMessenger) isEnabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled
}

func (m *toggleMessenger) SendStopEpoch(ctx context.Context, to common.NodeID, msg *proto.StopEpoch) error {
	if m.isEnabled() {
		go m.rc.HandleAckStopEpoch(ctx, &proto.AckStopEpoch{
			Name: msg.Name, Epoch: msg.Epoch, Responder: to, FinalCheckpoint: []byte("checkpoint:" + msg.Name),
		})
	}
	return nil
}

func (m *toggleMessenger) SendStartEpoch(ctx context.Context, to common.NodeID, msg *proto.StartEpoch) error {
	if m.isEnabled() {
		go m.rc.HandleAckStartEpoch(ctx, &proto.AckStartEpoch{Name: msg.Name, Epoch: msg.Epoch, Responder: to})
	}
	return nil
}

func (m *toggleMessenger) SendDropEpochFinalState(ctx context.Context, to common.NodeID, msg *proto.DropEpochFinalState) error {
	if m.isEnabled() {
		go m.rc.HandleAckDropEpochFinalState(ctx, &proto.AckDropEpochFinalState{Name: msg.Name, Epoch: msg.Epoch, Responder: to})
	}
	return nil
}

func newTestRC(t *testing.T) *RC {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "rc.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	sched := tasks.New(zap.NewNop(), 50*time.Millisecond)
	msn := &autoAckMessenger{}
	r := New("rc0", newFakeLog(), st, sched, msn, demand.NullPolicy{}, zap.NewNop())
	msn.rc = r
	require.NoError(t, r.Start(context.Background()))
	return r
}

func TestClientCreateReachesReady(t *testing.T) {
	r := newTestRC(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := r.ClientCreate(ctx, &proto.CreateServiceName{
		RequestID:    common.NewRequestID(),
		Name:         "svc-a",
		InitialGroup: []common.NodeID{"ar0", "ar1", "ar2"},
	})
	require.NoError(t, err)

	reply := r.RequestActiveReplicas("svc-a")
	require.True(t, reply.Found)
	require.Equal(t, uint32(0), reply.Epoch)
	require.ElementsMatch(t, []common.NodeID{"ar0", "ar1", "ar2"}, reply.Actives)
}

func TestClientCreateEmptyGroupRejectedWithoutLogging(t *testing.T) {
	r := newTestRC(t)
	err := r.ClientCreate(context.Background(), &proto.CreateServiceName{
		RequestID: common.NewRequestID(),
		Name:      "svc-b",
	})
	require.ErrorIs(t, err, common.ErrInvalidConfig)
	require.False(t, r.RequestActiveReplicas("svc-b").Found)
}

func TestConcurrentCreateExactlyOneSucceeds(t *testing.T) {
	r := newTestRC(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = r.ClientCreate(ctx, &proto.CreateServiceName{
				RequestID:    common.NewRequestID(),
				Name:         "svc-race",
				InitialGroup: []common.NodeID{"ar0"},
			})
		}(i)
	}
	wg.Wait()

	successes, conflicts := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			successes++
		case common.Is(err, common.ErrAlreadyExists):
			conflicts++
		}
	}
	require.Equal(t, 1, successes)
	require.Equal(t, 1, conflicts)
}

func TestClientChangeReplicasCyclesThroughEpoch(t *testing.T) {
	r := newTestRC(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, r.ClientCreate(ctx, &proto.CreateServiceName{
		RequestID:    common.NewRequestID(),
		Name:         "svc-c",
		InitialGroup: []common.NodeID{"ar0", "ar1", "ar2"},
	}))

	err := r.ClientChangeReplicas(ctx, common.NewRequestID(), "svc-c", common.NewNodeSet("ar2", "ar3", "ar4"))
	require.NoError(t, err)

	reply := r.RequestActiveReplicas("svc-c")
	require.True(t, reply.Found)
	require.Equal(t, uint32(1), reply.Epoch)
	require.ElementsMatch(t, []common.NodeID{"ar2", "ar3", "ar4"}, reply.Actives)
}

func TestClientChangeReplicasWhileBusyIsRejected(t *testing.T) {
	r := newTestRC(t)

	require.NoError(t, r.ClientCreate(context.Background(), &proto.CreateServiceName{
		RequestID:    common.NewRequestID(),
		Name:         "svc-d",
		InitialGroup: []common.NodeID{"ar0"},
	}))

	r.mu.Lock()
	rec := r.records["svc-d"].Clone()
	rec.State = StateWaitAckStop
	r.records["svc-d"] = rec
	r.mu.Unlock()

	err := r.ClientChangeReplicas(context.Background(), common.NewRequestID(), "svc-d", common.NewNodeSet("ar1"))
	require.ErrorIs(t, err, common.ErrBusy)
}

func TestClientDeleteRemovesRecord(t *testing.T) {
	r := newTestRC(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, r.ClientCreate(ctx, &proto.CreateServiceName{
		RequestID:    common.NewRequestID(),
		Name:         "svc-e",
		InitialGroup: []common.NodeID{"ar0", "ar1"},
	}))

	require.NoError(t, r.ClientDelete(ctx, &proto.DeleteServiceName{
		RequestID: common.NewRequestID(),
		Name:      "svc-e",
	}))

	require.False(t, r.RequestActiveReplicas("svc-e").Found)
	require.ErrorIs(t, r.ClientDelete(ctx, &proto.DeleteServiceName{RequestID: common.NewRequestID(), Name: "svc-e"}), common.ErrNotFound)
}

// TestRestartResumesInFlightReconfiguration covers spec.md §4.1's restart
// guarantee: a record left in StateWaitAckStop by a crash must have its
// outbound StopEpoch fan-out re-emitted by the next Start, not stall forever.
func TestRestartResumesInFlightReconfiguration(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "rc.db")

	st1, err := store.Open(dbPath)
	require.NoError(t, err)

	sched1 := tasks.New(zap.NewNop(), 50*time.Millisecond)
	msn1 := &toggleMessenger{enabled: true}
	r1 := New("rc0", newFakeLog(), st1, sched1, msn1, demand.NullPolicy{}, zap.NewNop())
	msn1.rc = r1
	require.NoError(t, r1.Start(context.Background()))

	setupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, r1.ClientCreate(setupCtx, &proto.CreateServiceName{
		RequestID:    common.NewRequestID(),
		Name:         "svc-restart",
		InitialGroup: []common.NodeID{"ar0", "ar1", "ar2"},
	}))

	// Stop acking before kicking off the replica change, then abandon r1
	// mid-handshake: no AR's ack ever lands, the way a crash would leave it.
	msn1.mu.Lock()
	msn1.enabled = false
	msn1.mu.Unlock()

	go r1.ClientChangeReplicas(context.Background(), common.NewRequestID(), "svc-restart", common.NewNodeSet("ar2", "ar3", "ar4"))

	require.Eventually(t, func() bool {
		r1.mu.Lock()
		defer r1.mu.Unlock()
		rec, ok := r1.records["svc-restart"]
		return ok && rec.State == StateWaitAckStop
	}, 2*time.Second, 10*time.Millisecond, "record never reached StateWaitAckStop before the simulated crash")

	require.NoError(t, st1.Close())

	// Simulate the process restart: a fresh RC over the same durable store
	// (a fresh control log too, exactly as a real raftlog replay would start
	// from the persisted applied offset), with acking restored.
	st2, err := store.Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st2.Close() })

	sched2 := tasks.New(zap.NewNop(), 50*time.Millisecond)
	msn2 := &toggleMessenger{enabled: true}
	r2 := New("rc0", newFakeLog(), st2, sched2, msn2, demand.NullPolicy{}, zap.NewNop())
	msn2.rc = r2
	require.NoError(t, r2.Start(context.Background()))

	require.Eventually(t, func() bool {
		reply := r2.RequestActiveReplicas("svc-restart")
		return reply.Found && reply.Epoch == 1
	}, 5*time.Second, 20*time.Millisecond, "Start never resumed the stalled StopEpoch fan-out")

	reply := r2.RequestActiveReplicas("svc-restart")
	require.ElementsMatch(t, []common.NodeID{"ar2", "ar3", "ar4"}, reply.Actives)
}

func TestNodeConfigReconfigurationDrivesControlLogMembership(t *testing.T) {
	r := newTestRC(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, r.BootstrapNodeConfig(common.NewNodeSet("rc0")))

	err := r.ReconfigureRCNodeConfig(ctx, &proto.ReconfigureRCNodeConfig{
		RequestID: common.NewRequestID(),
		Added:     []common.NodeID{"rc1"},
	})
	require.NoError(t, err)
	require.True(t, r.ReconfiguratorNodes().Contains("rc1"))

	fl := r.clog.(*fakeLog)
	fl.mu.Lock()
	_, added := fl.members["rc1"]
	fl.mu.Unlock()
	require.True(t, added)
}
