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

package common

// QuorumExpr is a boolean threshold expression over node IDs: it is
// satisfied once at least Threshold of its direct Verifiers and satisfied
// Subexpressions have reported in. A plain majority-of-N expression is the
// common case (see MajorityExpr below), but the recursive shape also
// expresses the RC's own ack-quorum bookkeeping uniformly with any future
// weighted or nested quorum policy, without a second code path.
type QuorumExpr struct {
	Threshold      uint32
	Verifiers      []NodeID
	Subexpressions []*QuorumExpr
}

// MajorityExpr builds the QuorumExpr for "a strict majority of members",
// used to evaluate AckStartEpoch quorums against a replica group (spec.md
// §4.1 steps 2 and 6).
func MajorityExpr(members NodeSet) *QuorumExpr {
	ids := members.Slice()
	return &QuorumExpr{
		Threshold: uint32(Majority(len(ids))),
		Verifiers: ids,
	}
}

// CheckQuorum evaluates whether the quorum requirement want is satisfied by
// the reports so far recorded in have. Adapted from the teacher's ACL
// quorum-expression checker: here the "verifiers" are node IDs that have
// acknowledged a protocol message (AckStopEpoch, AckStartEpoch, ...) rather
// than ACL signers, but the recursive threshold evaluation is identical.
func CheckQuorum(want *QuorumExpr, have map[NodeID]struct{}) bool {
	if want == nil {
		return true
	}
	remaining := want.Threshold
	if remaining == 0 {
		return true
	}
	for _, verifier := range want.Verifiers {
		if _, yes := have[verifier]; yes {
			if remaining--; remaining == 0 {
				return true
			}
		}
	}
	for _, e := range want.Subexpressions {
		if CheckQuorum(e, have) {
			if remaining--; remaining == 0 {
				return true
			}
		}
	}
	return false
}

// ListQuorum inserts all verifiers mentioned in e (including nested
// subexpressions) into out. If out is nil, a new set is allocated.
func ListQuorum(e *QuorumExpr, out map[NodeID]struct{}) map[NodeID]struct{} {
	if out == nil {
		out = make(map[NodeID]struct{}, len(e.Verifiers))
	}
	for _, verifier := range e.Verifiers {
		out[verifier] = struct{}{}
	}
	for _, sub := range e.Subexpressions {
		ListQuorum(sub, out)
	}
	return out
}
