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

package proto

import (
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/vava24680/GNS/common"
)

// Empty is the common acknowledgement-only reply for requests whose only
// meaningful response is "accepted" (e.g. AckStopEpoch, DemandReport).
type Empty struct{}

func (m *Empty) Marshal() ([]byte, error) { return nil, nil }
func (m *Empty) Unmarshal(data []byte) error { *m = Empty{}; return nil }

// CreateServiceName is the client -> RC request of spec.md §6.
type CreateServiceName struct {
	RequestID    common.RequestID
	Name         string
	InitialState []byte
	InitialGroup []common.NodeID
}

func (m *CreateServiceName) Marshal() ([]byte, error) {
	var b []byte
	b = appendString(b, 1, string(m.RequestID))
	b = appendString(b, 2, m.Name)
	b = appendBytes(b, 3, m.InitialState)
	b = appendNodeIDs(b, 4, m.InitialGroup)
	return b, nil
}

func (m *CreateServiceName) Unmarshal(data []byte) error {
	*m = CreateServiceName{}
	return fieldReader(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeString(typ, b)
			m.RequestID = common.RequestID(v)
			return n, err
		case 2:
			v, n, err := consumeString(typ, b)
			m.Name = v
			return n, err
		case 3:
			v, n, err := consumeBytes(typ, b)
			m.InitialState = v
			return n, err
		case 4:
			v, n, err := consumeString(typ, b)
			m.InitialGroup = append(m.InitialGroup, common.NodeID(v))
			return n, err
		}
		return -1, nil
	})
}

// DeleteServiceName is the client -> RC request of spec.md §6.
type DeleteServiceName struct {
	RequestID common.RequestID
	Name      string
}

func (m *DeleteServiceName) Marshal() ([]byte, error) {
	var b []byte
	b = appendString(b, 1, string(m.RequestID))
	b = appendString(b, 2, m.Name)
	return b, nil
}

func (m *DeleteServiceName) Unmarshal(data []byte) error {
	*m = DeleteServiceName{}
	return fieldReader(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeString(typ, b)
			m.RequestID = common.RequestID(v)
			return n, err
		case 2:
			v, n, err := consumeString(typ, b)
			m.Name = v
			return n, err
		}
		return -1, nil
	})
}

// ReconfigureRCNodeConfig is the operator -> RC request of spec.md §6, used
// to add/remove nodes from the RC quorum itself (spec.md §2, §12.1).
type ReconfigureRCNodeConfig struct {
	RequestID common.RequestID
	Added     []common.NodeID
	Removed   []common.NodeID
}

func (m *ReconfigureRCNodeConfig) Marshal() ([]byte, error) {
	var b []byte
	b = appendString(b, 1, string(m.RequestID))
	b = appendNodeIDs(b, 2, m.Added)
	b = appendNodeIDs(b, 3, m.Removed)
	return b, nil
}

func (m *ReconfigureRCNodeConfig) Unmarshal(data []byte) error {
	*m = ReconfigureRCNodeConfig{}
	return fieldReader(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeString(typ, b)
			m.RequestID = common.RequestID(v)
			return n, err
		case 2:
			v, n, err := consumeString(typ, b)
			m.Added = append(m.Added, common.NodeID(v))
			return n, err
		case 3:
			v, n, err := consumeString(typ, b)
			m.Removed = append(m.Removed, common.NodeID(v))
			return n, err
		}
		return -1, nil
	})
}

// RequestActiveReplicas is the client -> RC request of spec.md §6.
type RequestActiveReplicas struct {
	Name string
}

func (m *RequestActiveReplicas) Marshal() ([]byte, error) {
	var b []byte
	b = appendString(b, 1, m.Name)
	return b, nil
}

func (m *RequestActiveReplicas) Unmarshal(data []byte) error {
	*m = RequestActiveReplicas{}
	return fieldReader(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num == 1 {
			v, n, err := consumeString(typ, b)
			m.Name = v
			return n, err
		}
		return -1, nil
	})
}

// ActiveReplicasReply carries the actives snapshot spec.md §6/§7 describes
// ("RequestActiveReplicas returns the current actives snapshot; it may race
// with an in-progress change ... this is explicitly permitted").
type ActiveReplicasReply struct {
	Name    string
	Epoch   uint32
	Actives []common.NodeID
	Found   bool
}

func (m *ActiveReplicasReply) Marshal() ([]byte, error) {
	var b []byte
	b = appendString(b, 1, m.Name)
	b = appendUint32(b, 2, m.Epoch)
	b = appendNodeIDs(b, 3, m.Actives)
	if m.Found {
		b = appendUint32(b, 4, 1)
	}
	return b, nil
}

func (m *ActiveReplicasReply) Unmarshal(data []byte) error {
	*m = ActiveReplicasReply{}
	return fieldReader(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeString(typ, b)
			m.Name = v
			return n, err
		case 2:
			v, n, err := consumeUint32(typ, b)
			m.Epoch = v
			return n, err
		case 3:
			v, n, err := consumeString(typ, b)
			m.Actives = append(m.Actives, common.NodeID(v))
			return n, err
		case 4:
			v, n, err := consumeUint32(typ, b)
			m.Found = v != 0
			return n, err
		}
		return -1, nil
	})
}

// StopEpoch is the RC -> AR request of spec.md §6 / §4.2.
type StopEpoch struct {
	Name      string
	Epoch     uint32
	Requester common.NodeID
}

func (m *StopEpoch) Marshal() ([]byte, error) {
	var b []byte
	b = appendString(b, 1, m.Name)
	b = appendUint32(b, 2, m.Epoch)
	b = appendString(b, 3, string(m.Requester))
	return b, nil
}

func (m *StopEpoch) Unmarshal(data []byte) error {
	*m = StopEpoch{}
	return fieldReader(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeString(typ, b)
			m.Name = v
			return n, err
		case 2:
			v, n, err := consumeUint32(typ, b)
			m.Epoch = v
			return n, err
		case 3:
			v, n, err := consumeString(typ, b)
			m.Requester = common.NodeID(v)
			return n, err
		}
		return -1, nil
	})
}

// AckStopEpoch is the AR -> RC reply of spec.md §6 / §4.2. FinalCheckpoint
// is empty when the epoch never existed locally or was already superseded.
type AckStopEpoch struct {
	Name            string
	Epoch           uint32
	Responder       common.NodeID
	FinalCheckpoint []byte
}

func (m *AckStopEpoch) Marshal() ([]byte, error) {
	var b []byte
	b = appendString(b, 1, m.Name)
	b = appendUint32(b, 2, m.Epoch)
	b = appendString(b, 3, string(m.Responder))
	b = appendBytes(b, 4, m.FinalCheckpoint)
	return b, nil
}

func (m *AckStopEpoch) Unmarshal(data []byte) error {
	*m = AckStopEpoch{}
	return fieldReader(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeString(typ, b)
			m.Name = v
			return n, err
		case 2:
			v, n, err := consumeUint32(typ, b)
			m.Epoch = v
			return n, err
		case 3:
			v, n, err := consumeString(typ, b)
			m.Responder = common.NodeID(v)
			return n, err
		case 4:
			v, n, err := consumeBytes(typ, b)
			m.FinalCheckpoint = v
			return n, err
		}
		return -1, nil
	})
}

// StartEpoch is the RC -> AR request of spec.md §6 / §4.2.
type StartEpoch struct {
	Name           string
	Epoch          uint32
	Members        []common.NodeID
	PrevEpochGroup []common.NodeID
	PrevEpoch      uint32
	InitialState   []byte
	Requester      common.NodeID
}

func (m *StartEpoch) Marshal() ([]byte, error) {
	var b []byte
	b = appendString(b, 1, m.Name)
	b = appendUint32(b, 2, m.Epoch)
	b = appendNodeIDs(b, 3, m.Members)
	b = appendNodeIDs(b, 4, m.PrevEpochGroup)
	b = appendUint32(b, 5, m.PrevEpoch)
	b = appendBytes(b, 6, m.InitialState)
	b = appendString(b, 7, string(m.Requester))
	return b, nil
}

func (m *StartEpoch) Unmarshal(data []byte) error {
	*m = StartEpoch{}
	return fieldReader(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeString(typ, b)
			m.Name = v
			return n, err
		case 2:
			v, n, err := consumeUint32(typ, b)
			m.Epoch = v
			return n, err
		case 3:
			v, n, err := consumeString(typ, b)
			m.Members = append(m.Members, common.NodeID(v))
			return n, err
		case 4:
			v, n, err := consumeString(typ, b)
			m.PrevEpochGroup = append(m.PrevEpochGroup, common.NodeID(v))
			return n, err
		case 5:
			v, n, err := consumeUint32(typ, b)
			m.PrevEpoch = v
			return n, err
		case 6:
			v, n, err := consumeBytes(typ, b)
			m.InitialState = v
			return n, err
		case 7:
			v, n, err := consumeString(typ, b)
			m.Requester = common.NodeID(v)
			return n, err
		}
		return -1, nil
	})
}

// AckStartEpoch is the AR -> RC reply of spec.md §6 / §4.2.
type AckStartEpoch struct {
	Name      string
	Epoch     uint32
	Responder common.NodeID
}

func (m *AckStartEpoch) Marshal() ([]byte, error) {
	var b []byte
	b = appendString(b, 1, m.Name)
	b = appendUint32(b, 2, m.Epoch)
	b = appendString(b, 3, string(m.Responder))
	return b, nil
}

func (m *AckStartEpoch) Unmarshal(data []byte) error {
	*m = AckStartEpoch{}
	return fieldReader(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeString(typ, b)
			m.Name = v
			return n, err
		case 2:
			v, n, err := consumeUint32(typ, b)
			m.Epoch = v
			return n, err
		case 3:
			v, n, err := consumeString(typ, b)
			m.Responder = common.NodeID(v)
			return n, err
		}
		return -1, nil
	})
}

// DropEpochFinalState is the RC -> AR request of spec.md §6 / §4.2.
type DropEpochFinalState struct {
	Name      string
	Epoch     uint32
	Initiator common.NodeID
}

func (m *DropEpochFinalState) Marshal() ([]byte, error) {
	var b []byte
	b = appendString(b, 1, m.Name)
	b = appendUint32(b, 2, m.Epoch)
	b = appendString(b, 3, string(m.Initiator))
	return b, nil
}

func (m *DropEpochFinalState) Unmarshal(data []byte) error {
	*m = DropEpochFinalState{}
	return fieldReader(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeString(typ, b)
			m.Name = v
			return n, err
		case 2:
			v, n, err := consumeUint32(typ, b)
			m.Epoch = v
			return n, err
		case 3:
			v, n, err := consumeString(typ, b)
			m.Initiator = common.NodeID(v)
			return n, err
		}
		return -1, nil
	})
}

// AckDropEpochFinalState is the AR -> RC reply of spec.md §6 / §4.2.
type AckDropEpochFinalState struct {
	Name      string
	Epoch     uint32
	Responder common.NodeID
}

func (m *AckDropEpochFinalState) Marshal() ([]byte, error) {
	var b []byte
	b = appendString(b, 1, m.Name)
	b = appendUint32(b, 2, m.Epoch)
	b = appendString(b, 3, string(m.Responder))
	return b, nil
}

func (m *AckDropEpochFinalState) Unmarshal(data []byte) error {
	*m = AckDropEpochFinalState{}
	return fieldReader(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeString(typ, b)
			m.Name = v
			return n, err
		case 2:
			v, n, err := consumeUint32(typ, b)
			m.Epoch = v
			return n, err
		case 3:
			v, n, err := consumeString(typ, b)
			m.Responder = common.NodeID(v)
			return n, err
		}
		return -1, nil
	})
}

// RequestEpochFinalState is the AR -> AR peer-to-peer request of spec.md §6
// / §4.2 state transfer.
type RequestEpochFinalState struct {
	Name      string
	Epoch     uint32
	Initiator common.NodeID
}

func (m *RequestEpochFinalState) Marshal() ([]byte, error) {
	var b []byte
	b = appendString(b, 1, m.Name)
	b = appendUint32(b, 2, m.Epoch)
	b = appendString(b, 3, string(m.Initiator))
	return b, nil
}

func (m *RequestEpochFinalState) Unmarshal(data []byte) error {
	*m = RequestEpochFinalState{}
	return fieldReader(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeString(typ, b)
			m.Name = v
			return n, err
		case 2:
			v, n, err := consumeUint32(typ, b)
			m.Epoch = v
			return n, err
		case 3:
			v, n, err := consumeString(typ, b)
			m.Initiator = common.NodeID(v)
			return n, err
		}
		return -1, nil
	})
}

// EpochFinalState is the AR -> AR reply of spec.md §6 / §4.2 state transfer.
type EpochFinalState struct {
	Name            string
	Epoch           uint32
	CheckpointBytes []byte
}

func (m *EpochFinalState) Marshal() ([]byte, error) {
	var b []byte
	b = appendString(b, 1, m.Name)
	b = appendUint32(b, 2, m.Epoch)
	b = appendBytes(b, 3, m.CheckpointBytes)
	return b, nil
}

func (m *EpochFinalState) Unmarshal(data []byte) error {
	*m = EpochFinalState{}
	return fieldReader(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeString(typ, b)
			m.Name = v
			return n, err
		case 2:
			v, n, err := consumeUint32(typ, b)
			m.Epoch = v
			return n, err
		case 3:
			v, n, err := consumeBytes(typ, b)
			m.CheckpointBytes = v
			return n, err
		}
		return -1, nil
	})
}

// DemandReport is the AR -> RC advisory message of spec.md §6 / §4.2
// "Demand Reporting".
type DemandReport struct {
	Name        string
	Epoch       uint32
	Sender      common.NodeID
	ProfileBlob []byte
}

func (m *DemandReport) Marshal() ([]byte, error) {
	var b []byte
	b = appendString(b, 1, m.Name)
	b = appendUint32(b, 2, m.Epoch)
	b = appendString(b, 3, string(m.Sender))
	b = appendBytes(b, 4, m.ProfileBlob)
	return b, nil
}

func (m *DemandReport) Unmarshal(data []byte) error {
	*m = DemandReport{}
	return fieldReader(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeString(typ, b)
			m.Name = v
			return n, err
		case 2:
			v, n, err := consumeUint32(typ, b)
			m.Epoch = v
			return n, err
		case 3:
			v, n, err := consumeString(typ, b)
			m.Sender = common.NodeID(v)
			return n, err
		case 4:
			v, n, err := consumeBytes(typ, b)
			m.ProfileBlob = v
			return n, err
		}
		return -1, nil
	})
}

// ChangeReplicas is the client/operator -> RC request of spec.md §6,
// replacing a name's active replica group (spec.md §4.1 steps 3-7).
type ChangeReplicas struct {
	RequestID common.RequestID
	Name      string
	NewGroup  []common.NodeID
}

func (m *ChangeReplicas) Marshal() ([]byte, error) {
	var b []byte
	b = appendString(b, 1, string(m.RequestID))
	b = appendString(b, 2, m.Name)
	b = appendNodeIDs(b, 3, m.NewGroup)
	return b, nil
}

func (m *ChangeReplicas) Unmarshal(data []byte) error {
	*m = ChangeReplicas{}
	return fieldReader(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeString(typ, b)
			m.RequestID = common.RequestID(v)
			return n, err
		case 2:
			v, n, err := consumeString(typ, b)
			m.Name = v
			return n, err
		case 3:
			v, n, err := consumeString(typ, b)
			m.NewGroup = append(m.NewGroup, common.NodeID(v))
			return n, err
		}
		return -1, nil
	})
}
