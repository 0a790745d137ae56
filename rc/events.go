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
	"encoding/json"

	"github.com/vava24680/GNS/common"
)

// eventKind discriminates the control-log entries package rc proposes. Every
// client request and every AR acknowledgement is turned into one of these
// before being durably ordered, so that every RC replica that replays the log
// applies the identical sequence of record transitions (spec.md §5).
type eventKind string

const (
	evCreate     eventKind = "create"
	evDelete     eventKind = "delete"
	evChange     eventKind = "change"
	evAckStop    eventKind = "ack_stop"
	evAckStart   eventKind = "ack_start"
	evAckDrop    eventKind = "ack_drop"
)

// event is the control-log payload, encoded with Record for JSON (an
// internal durable-storage format; spec.md §6's wire messages between RC and
// AR are the proto package's protobuf-wire-format structs, a distinct
// concern from this log's own entry encoding).
type event struct {
	Kind      eventKind
	Name      string
	RequestID common.RequestID

	// create
	InitialState []byte
	Group        []common.NodeID

	// ack_stop / ack_start / ack_drop
	Epoch      uint32
	Member     common.NodeID
	Checkpoint []byte
}

func encodeEvent(e event) ([]byte, error) {
	return json.Marshal(e)
}

func decodeEvent(data []byte) (event, error) {
	var e event
	err := json.Unmarshal(data, &e)
	return e, err
}
