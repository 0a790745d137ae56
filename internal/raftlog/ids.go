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

import "hash/fnv"

// raftID deterministically derives the uint64 node ID etcd/raft requires
// from a gns common.NodeID, so every replica computes the same peer ID for
// the same logical node without needing a separate assignment step.
func raftID(nodeID string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(nodeID))
	v := h.Sum64()
	if v == 0 {
		// raft treats node ID 0 as "no leader"; keep it out of the codomain.
		v = 1
	}
	return v
}

// RaftID exports raftID for callers that need to pre-resolve a peer's
// transport address (see cmd/rcnode's node-map-to-Resolver wiring).
func RaftID(nodeID string) uint64 { return raftID(nodeID) }
