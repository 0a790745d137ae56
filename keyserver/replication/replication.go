// Copyright 2014-2015 The Dename Authors.
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

// Package replication defines the external collaborator spec.md §2 calls
// "a linearizable log": the replicated control log the RC quorum uses to
// durably order reconfiguration-record transitions (spec.md §4.1, §5 "the
// RC's reconfiguration record is mutated only by the RC via the replicated
// control log"). It is the within-RC-quorum analogue of the teacher's
// keyserver/replication.LogReplicator; the within-replica-group consensus
// engine (the true non-goal of spec.md §1) has no interface in this module.
package replication

import "context"

// LogEntry is one committed slot of the control log. Exactly one of Data or
// Reconfiguration is set: Data carries an opaque, RC-encoded record
// transition (see package rc); Reconfiguration carries a raw log-membership
// change applied by ControlLog itself before the entry is handed to the
// caller, mirroring how the teacher's raftlog.go surfaces
// raftpb.EntryConfChange distinctly from ordinary entries.
type LogEntry struct {
	Data            []byte
	Reconfiguration []byte
}

// ControlLog is a generic interface to state-machine replication logs,
// adapted from the teacher's LogReplicator (golang.org/x/net/context ->
// context, uint64 node IDs -> string node IDs, and a typed LogEntry in place
// of a bare []byte so committed reconfiguration entries are distinguishable
// from ordinary ones). The log is a mapping from uint64 slot indices to
// entries in which all committed entries are reliably persistent across
// crashes of a minority of replicas, trading off availability: proposing an
// entry does not guarantee it commits. It does not support log compaction —
// it is intended for use when the entire log needs to be kept around anyway,
// which is why package rc separately tracks bounded per-record state and
// leaves pruning of the underlying log to the ControlLog implementation.
//
// Start(lo) must be called exactly once before any other method; no method
// may be called after Stop. Propose, WaitCommitted, AddReplica, DropReplica
// and LeaderHintSet may be called concurrently with each other.
type ControlLog interface {
	// Start sets the internal replay offset; WaitCommitted returns entries
	// with index >= lo. Must be called before any other method.
	Start(lo uint64) error

	// Propose asks to append data to the log. There is no guarantee the
	// entry commits — it may be dropped by leader changes or partitions.
	Propose(ctx context.Context, data []byte)

	// WaitCommitted returns a channel of newly committed entries, starting
	// at the index passed to Start. All calls return the same channel.
	WaitCommitted() <-chan LogEntry

	// Stop cleanly stops the log. No Propose may be started afterwards.
	// WaitCommitted and LeaderHintSet are closed.
	Stop() error

	// AddReplica adds nodeID to the set of replicas this replica considers
	// part of the RC quorum. Reconfiguring the RC quorum itself (spec.md §2,
	// "the set of RC nodes is itself reconfigurable via the same protocol
	// applied to ... NODE_CONFIG") drives this the same way any other
	// membership change does:
	// 1. The decision to call AddReplica/DropReplica MUST be based purely on
	//    the log's contents, and MUST be identical at every replica.
	// 2. The log entry causing the call MUST be proposed and committed under
	//    the exact configuration the new replica is being added to; a
	//    configuration change proposed but superseded before it committed
	//    MUST be ignored, not pipelined with the next one.
	AddReplica(nodeID string)

	// DropReplica removes nodeID from the set of replicas this replica
	// considers part of the RC quorum. See AddReplica for the ordering
	// requirement shared with it.
	DropReplica(nodeID string)

	// LeaderHintSet reports (best-effort, not for correctness) whether this
	// replica is likely the current log leader. Two replicas may both read
	// true concurrently; callers must not rely on it for exclusivity.
	LeaderHintSet() <-chan bool

	// GetCommitted loads already-committed entries in [lo, hi), up to
	// maxSize total bytes (the first entry always counts and is always
	// returned if any entry exists), for recovery / bulk catch-up reads.
	GetCommitted(lo, hi, maxSize uint64) ([]LogEntry, error)
}
