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
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vava24680/GNS/common"
	"github.com/vava24680/GNS/demand"
	"github.com/vava24680/GNS/proto"
	"github.com/vava24680/GNS/store"
	"github.com/vava24680/GNS/tasks"
)

type recordingRC struct {
	mu          sync.Mutex
	stopAcks    []*proto.AckStopEpoch
	startAcks   []*proto.AckStartEpoch
	dropAcks    []*proto.AckDropEpochFinalState
	reports     []*proto.DemandReport
}

func (r *recordingRC) SendAckStopEpoch(_ context.Context, _ common.NodeID, msg *proto.AckStopEpoch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopAcks = append(r.stopAcks, msg)
	return nil
}
func (r *recordingRC) SendAckStartEpoch(_ context.Context, _ common.NodeID, msg *proto.AckStartEpoch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.startAcks = append(r.startAcks, msg)
	return nil
}
func (r *recordingRC) SendAckDropEpochFinalState(_ context.Context, _ common.NodeID, msg *proto.AckDropEpochFinalState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dropAcks = append(r.dropAcks, msg)
	return nil
}
func (r *recordingRC) SendDemandReport(_ context.Context, _ common.NodeID, msg *proto.DemandReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, msg)
	return nil
}

// peerRing serves RequestEpochFinalState by looking up other AR nodes in a
// shared map, simulating a small AR cluster for state-transfer tests.
type peerRing struct {
	nodes map[common.NodeID]*AR
}

func (p *peerRing) RequestEpochFinalState(ctx context.Context, to common.NodeID, msg *proto.RequestEpochFinalState) (*proto.EpochFinalState, error) {
	peer, ok := p.nodes[to]
	if !ok {
		return nil, common.ErrTransientUnreachable
	}
	return peer.HandleRequestEpochFinalState(ctx, msg)
}

func newTestAR(t *testing.T, self common.NodeID, rc RCMessenger, peers PeerMessenger) *AR {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), string(self)+".db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	sched := tasks.New(zap.NewNop(), 50*time.Millisecond)
	a := New(self, st, sched, rc, peers, NewMapAppStore(), demand.NullPolicy{}, zap.NewNop())
	require.NoError(t, a.Start())
	return a
}

func TestHandleStopEpochUnknownInstanceAcksEmpty(t *testing.T) {
	rc := &recordingRC{}
	a := newTestAR(t, "ar0", rc, nil)

	err := a.HandleStopEpoch(context.Background(), &proto.StopEpoch{Name: "svc", Epoch: 0, Requester: "rc0"})
	require.NoError(t, err)
	require.Len(t, rc.stopAcks, 1)
	require.Empty(t, rc.stopAcks[0].FinalCheckpoint)
}

func TestStartThenStopRoundTripsCheckpoint(t *testing.T) {
	rc := &recordingRC{}
	a := newTestAR(t, "ar0", rc, nil)
	ctx := context.Background()

	require.NoError(t, a.HandleStartEpoch(ctx, &proto.StartEpoch{
		Name: "svc", Epoch: 0, Members: []common.NodeID{"ar0"}, Requester: "rc0",
	}))
	require.Len(t, rc.startAcks, 1)
	require.Equal(t, common.NodeID("ar0"), rc.startAcks[0].Responder)

	require.NoError(t, a.app.Restore("svc", []byte("state-v1")))
	require.NoError(t, a.HandleStopEpoch(ctx, &proto.StopEpoch{Name: "svc", Epoch: 0, Requester: "rc0"}))
	require.Len(t, rc.stopAcks, 1)
	require.Equal(t, []byte("state-v1"), rc.stopAcks[0].FinalCheckpoint)

	// idempotent: a duplicate StopEpoch for the same epoch reuses the cached
	// checkpoint rather than erroring or re-snapshotting a stopped instance.
	require.NoError(t, a.HandleStopEpoch(ctx, &proto.StopEpoch{Name: "svc", Epoch: 0, Requester: "rc0"}))
	require.Len(t, rc.stopAcks, 2)
	require.Equal(t, []byte("state-v1"), rc.stopAcks[1].FinalCheckpoint)
}

// countingAppStore wraps MapAppStore's state but counts and blocks on
// Checkpoint calls, so a test can hold one call open while firing concurrent
// StopEpoch deliveries at it.
type countingAppStore struct {
	*MapAppStore
	mu      sync.Mutex
	calls   int
	release chan struct{}
}

func newCountingAppStore() *countingAppStore {
	return &countingAppStore{MapAppStore: NewMapAppStore(), release: make(chan struct{})}
}

func (c *countingAppStore) Checkpoint(name string) ([]byte, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	<-c.release
	return c.MapAppStore.Checkpoint(name)
}

// TestConcurrentStopEpochChecksPointOnce covers spec.md §4.2: "retransmitted
// StopEpochs received while stop is pending are dropped (no duplicate
// coordinator submission)." Several concurrent StopEpoch deliveries for the
// same (name, epoch) must collapse into a single app.Checkpoint call.
func TestConcurrentStopEpochChecksPointOnce(t *testing.T) {
	rc := &recordingRC{}
	app := newCountingAppStore()
	st, err := store.Open(filepath.Join(t.TempDir(), "ar-concurrent.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	sched := tasks.New(zap.NewNop(), 50*time.Millisecond)
	a := New("ar0", st, sched, rc, nil, app, demand.NullPolicy{}, zap.NewNop())
	require.NoError(t, a.Start())

	ctx := context.Background()
	require.NoError(t, a.HandleStartEpoch(ctx, &proto.StartEpoch{
		Name: "svc", Epoch: 0, Members: []common.NodeID{"ar0"}, Requester: "rc0",
	}))
	require.NoError(t, app.Restore("svc", []byte("state-v1")))

	const n = 5
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			require.NoError(t, a.HandleStopEpoch(ctx, &proto.StopEpoch{Name: "svc", Epoch: 0, Requester: "rc0"}))
		}()
	}

	require.Eventually(t, func() bool {
		app.mu.Lock()
		defer app.mu.Unlock()
		return app.calls >= 1
	}, time.Second, 5*time.Millisecond, "no concurrent StopEpoch delivery ever called Checkpoint")
	close(app.release)
	wg.Wait()

	require.Len(t, rc.stopAcks, n)
	for _, ack := range rc.stopAcks {
		require.Equal(t, []byte("state-v1"), ack.FinalCheckpoint)
	}
	app.mu.Lock()
	defer app.mu.Unlock()
	require.Equal(t, 1, app.calls, "concurrent StopEpoch deliveries must collapse into a single checkpoint call")
}

func TestStartEpochFetchesFinalStateFromPeerWhenNotInlined(t *testing.T) {
	rc0, rc1 := &recordingRC{}, &recordingRC{}
	ring := &peerRing{nodes: map[common.NodeID]*AR{}}

	old := newTestAR(t, "ar-old", rc0, ring)
	ring.nodes["ar-old"] = old

	ctx := context.Background()
	require.NoError(t, old.HandleStartEpoch(ctx, &proto.StartEpoch{
		Name: "svc", Epoch: 0, Members: []common.NodeID{"ar-old"}, Requester: "rc0",
	}))
	require.NoError(t, old.app.Restore("svc", []byte("predecessor-state")))
	require.NoError(t, old.HandleStopEpoch(ctx, &proto.StopEpoch{Name: "svc", Epoch: 0, Requester: "rc0"}))

	fresh := newTestAR(t, "ar-new", rc1, ring)
	ring.nodes["ar-new"] = fresh

	err := fresh.HandleStartEpoch(ctx, &proto.StartEpoch{
		Name: "svc", Epoch: 1, Members: []common.NodeID{"ar-new"},
		PrevEpochGroup: []common.NodeID{"ar-old"}, PrevEpoch: 0, Requester: "rc0",
	})
	require.NoError(t, err)

	got, err := fresh.app.Checkpoint("svc")
	require.NoError(t, err)
	require.Equal(t, []byte("predecessor-state"), got)
}

func TestHandleDropEpochFinalStateIsIdempotentAndAccounted(t *testing.T) {
	rc := &recordingRC{}
	a := newTestAR(t, "ar0", rc, nil)
	ctx := context.Background()

	require.NoError(t, a.HandleStartEpoch(ctx, &proto.StartEpoch{
		Name: "svc", Epoch: 0, Members: []common.NodeID{"ar0"}, Requester: "rc0",
	}))

	require.NoError(t, a.HandleDropEpochFinalState(ctx, &proto.DropEpochFinalState{Name: "svc", Epoch: 0, Initiator: "rc0"}))
	require.Equal(t, uint64(1), a.DroppedEpochs("svc"))

	// dropping again is a no-op ack, not an error, and does not double count.
	require.NoError(t, a.HandleDropEpochFinalState(ctx, &proto.DropEpochFinalState{Name: "svc", Epoch: 0, Initiator: "rc0"}))
	require.Equal(t, uint64(1), a.DroppedEpochs("svc"))
	require.Len(t, rc.dropAcks, 2)
}
