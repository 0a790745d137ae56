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

// Package ar implements the Active Replica epoch handlers of spec.md §4.2:
// per-name, per-epoch instances that process StopEpoch, StartEpoch,
// RequestEpochFinalState and DropEpochFinalState, and the state-transfer
// fetch that lets a new epoch's members obtain the predecessor's final
// application state without the Reconfigurator shipping bulk data itself.
package ar

import (
	"encoding/json"
	"fmt"

	"github.com/vava24680/GNS/common"
)

// instanceState is the AR-local lifecycle of one epoch instance.
type instanceState int

const (
	instanceActive instanceState = iota
	instanceStopped
)

// Instance is one (name, epoch) epoch instance running on this AR node,
// spec.md §3's AR-side state.
type Instance struct {
	Name  string
	Epoch uint32

	Members common.NodeSet
	State   instanceState

	// Checkpoint is the opaque final application state, populated once the
	// instance is stopped (spec.md §4.2's StopEpoch handling).
	Checkpoint []byte

	PrevEpochGroup common.NodeSet
	PrevEpoch      uint32
}

// key is this instance's entry in the AR's bounded epoch table: the name, a
// NUL byte, then the zero-padded epoch, so one name's epochs sort together
// in epoch order.
func key(name string, epoch uint32) string {
	return fmt.Sprintf("%s\x00%020d", name, epoch)
}

type wireInstance struct {
	Name           string
	Epoch          uint32
	Members        []common.NodeID
	State          instanceState
	Checkpoint     []byte
	PrevEpochGroup []common.NodeID
	PrevEpoch      uint32
}

// Encode serializes i for the store's name-records collection (spec.md §6).
func (i *Instance) Encode() ([]byte, error) {
	return json.Marshal(wireInstance{
		Name:           i.Name,
		Epoch:          i.Epoch,
		Members:        i.Members.Slice(),
		State:          i.State,
		Checkpoint:     i.Checkpoint,
		PrevEpochGroup: i.PrevEpochGroup.Slice(),
		PrevEpoch:      i.PrevEpoch,
	})
}

// DecodeInstance deserializes an Instance previously produced by Encode.
func DecodeInstance(data []byte) (*Instance, error) {
	var w wireInstance
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, err
	}
	return &Instance{
		Name:           w.Name,
		Epoch:          w.Epoch,
		Members:        common.NewNodeSet(w.Members...),
		State:          w.State,
		Checkpoint:     w.Checkpoint,
		PrevEpochGroup: common.NewNodeSet(w.PrevEpochGroup...),
		PrevEpoch:      w.PrevEpoch,
	}, nil
}
