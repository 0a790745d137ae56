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

// Package rc implements the Reconfigurator: the per-name reconfiguration
// record state machine of spec.md §4.1, driven by committed entries off a
// replicated control log (keyserver/replication.ControlLog).
package rc

import (
	"encoding/json"

	"github.com/vava24680/GNS/common"
)

// State is the reconfiguration record's position in the spec.md §4.1 state
// machine.
type State int

const (
	StateNonexistent State = iota
	StateReady
	StateWaitAckStop
	StateWaitAckStart
	StateWaitAckDrop
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "READY"
	case StateWaitAckStop:
		return "WAIT_ACK_STOP"
	case StateWaitAckStart:
		return "WAIT_ACK_START"
	case StateWaitAckDrop:
		return "WAIT_ACK_DROP"
	default:
		return "NONEXISTENT"
	}
}

// Record is the reconfiguration record of spec.md §3, one per name.
type Record struct {
	Name  string
	Epoch uint32

	Actives    common.NodeSet
	NewActives common.NodeSet // non-nil only while State == StateWaitAckStop

	State State

	StopCheckpoint []byte

	// PriorGroup holds the replica group being phased out while State is
	// StateWaitAckDrop, so DropEpochFinalState can be (re-)sent to it
	// without recomputing membership from a now-superseded Actives value.
	PriorGroup common.NodeSet

	// AckedStop/AckedStart/AckedDrop dedupe acknowledgements per spec.md §5
	// ("the RC state machine is driven solely by the first ack of each type
	// per (name, epoch, member) — later duplicates are no-ops") and back the
	// quorum checks of spec.md §4.1 steps 2 and 6.
	AckedStop  map[common.NodeID]bool
	AckedStart map[common.NodeID]bool
	AckedDrop  map[common.NodeID]bool

	// LastRequestID is the RequestID of the client request that started the
	// record's current transition; the apply loop resolves that request's
	// waiter with it when the record returns to READY. It is not used to
	// detect a resubmission of the same request.
	LastRequestID common.RequestID
}

// wireRecord is Record's JSON-serializable shadow. The control log and
// record store only ever see this form; Record's map fields are populated
// fresh on decode.
type wireRecord struct {
	Name           string
	Epoch          uint32
	Actives        []common.NodeID
	NewActives     []common.NodeID
	HasNewActives  bool
	State          State
	StopCheckpoint []byte
	PriorGroup     []common.NodeID
	AckedStop      []common.NodeID
	AckedStart     []common.NodeID
	AckedDrop      []common.NodeID
	LastRequestID  common.RequestID
}

// Encode serializes r for storage (spec.md §6 persisted state layout) and
// for proposing to the control log.
func (r *Record) Encode() ([]byte, error) {
	w := wireRecord{
		Name:           r.Name,
		Epoch:          r.Epoch,
		Actives:        r.Actives.Slice(),
		HasNewActives:  r.NewActives != nil,
		State:          r.State,
		StopCheckpoint: r.StopCheckpoint,
		PriorGroup:     r.PriorGroup.Slice(),
		AckedStop:      setSlice(r.AckedStop),
		AckedStart:     setSlice(r.AckedStart),
		AckedDrop:      setSlice(r.AckedDrop),
		LastRequestID:  r.LastRequestID,
	}
	if r.NewActives != nil {
		w.NewActives = r.NewActives.Slice()
	}
	return json.Marshal(w)
}

// DecodeRecord deserializes a Record previously produced by Encode.
func DecodeRecord(data []byte) (*Record, error) {
	var w wireRecord
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, err
	}
	r := &Record{
		Name:           w.Name,
		Epoch:          w.Epoch,
		Actives:        common.NewNodeSet(w.Actives...),
		State:          w.State,
		StopCheckpoint: w.StopCheckpoint,
		PriorGroup:     common.NewNodeSet(w.PriorGroup...),
		AckedStop:      boolSet(w.AckedStop),
		AckedStart:     boolSet(w.AckedStart),
		AckedDrop:      boolSet(w.AckedDrop),
		LastRequestID:  w.LastRequestID,
	}
	if w.HasNewActives {
		r.NewActives = common.NewNodeSet(w.NewActives...)
	}
	return r, nil
}

func setSlice(m map[common.NodeID]bool) []common.NodeID {
	out := make([]common.NodeID, 0, len(m))
	for id, ok := range m {
		if ok {
			out = append(out, id)
		}
	}
	return out
}

func boolSet(ids []common.NodeID) map[common.NodeID]bool {
	m := make(map[common.NodeID]bool, len(ids))
	for _, id := range ids {
		m[id] = true
	}
	return m
}

// Clone deep-copies r so callers may mutate the copy without affecting the
// machine's canonical in-memory record until a transition is durably
// committed.
func (r *Record) Clone() *Record {
	cp := *r
	cp.Actives = common.NewNodeSet(r.Actives.Slice()...)
	if r.NewActives != nil {
		cp.NewActives = common.NewNodeSet(r.NewActives.Slice()...)
	}
	cp.PriorGroup = common.NewNodeSet(r.PriorGroup.Slice()...)
	cp.AckedStop = boolSet(setSlice(r.AckedStop))
	cp.AckedStart = boolSet(setSlice(r.AckedStart))
	cp.AckedDrop = boolSet(setSlice(r.AckedDrop))
	cp.StopCheckpoint = append([]byte(nil), r.StopCheckpoint...)
	return &cp
}
