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

package raftlog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vava24680/GNS/keyserver/replication"
	"github.com/vava24680/GNS/store"
)

func TestRaftIDIsDeterministicAndNeverZero(t *testing.T) {
	require.Equal(t, raftID("rc1"), raftID("rc1"))
	require.NotEqual(t, raftID("rc1"), raftID("rc2"))
	require.NotZero(t, raftID(""))
}

// newSingleNode starts a one-member raft quorum, the minimal configuration
// under which a raftLog can reach a committed entry without any peer
// transport at all.
func newSingleNode(t *testing.T) (replication.ControlLog, *clock.Mock) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "raft.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	mock := clock.NewMock()
	l, err := Open(Options{
		Self:         "rc1",
		Peers:        []string{"rc1"},
		Storage:      st,
		Clock:        mock,
		TickInterval: time.Millisecond,
		Logger:       zap.NewNop(),
	})
	require.NoError(t, err)
	require.NoError(t, l.Start(0))
	t.Cleanup(func() { l.Stop() })
	return l, mock
}

// tickUntilLeader advances the mock clock past a conservative number of
// election timeouts, giving the lone node time to campaign and win.
func tickUntilLeader(mock *clock.Mock) {
	for i := 0; i < 50; i++ {
		mock.Add(time.Millisecond)
		time.Sleep(time.Millisecond)
	}
}

func TestSingleNodeProposeCommits(t *testing.T) {
	l, mock := newSingleNode(t)
	tickUntilLeader(mock)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	l.Propose(ctx, []byte("hello"))

	select {
	case entry := <-l.WaitCommitted():
		if len(entry.Data) == 0 {
			// the bootstrap ConfChange entry (delivered with Reconfiguration
			// set, Data empty); keep waiting once.
			entry = <-l.WaitCommitted()
		}
		require.Equal(t, []byte("hello"), entry.Data)
	case <-time.After(3 * time.Second):
		t.Fatal("proposal never committed")
	}
}

func TestAddAndDropReplicaTrackMembership(t *testing.T) {
	l, _ := newSingleNode(t)
	rl := l.(*raftLog)

	l.AddReplica("rc2")
	rl.membersMu.Lock()
	_, ok := rl.members[raftID("rc2")]
	rl.membersMu.Unlock()
	require.True(t, ok)

	l.DropReplica("rc2")
	rl.membersMu.Lock()
	_, ok = rl.members[raftID("rc2")]
	rl.membersMu.Unlock()
	require.False(t, ok)
}
