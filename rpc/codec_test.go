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

package rpc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vava24680/GNS/proto"
)

func TestCodecRoundTrip(t *testing.T) {
	want := &proto.StopEpoch{Name: "svc", Epoch: 3, Requester: "rc0"}
	data, err := Codec.Marshal(want)
	require.NoError(t, err)

	got := new(proto.StopEpoch)
	require.NoError(t, Codec.Unmarshal(data, got))
	require.Equal(t, want, got)
}

func TestCodecRejectsNonProtoMessage(t *testing.T) {
	_, err := Codec.Marshal("not a proto.Message")
	require.Error(t, err)

	var dst int
	err = Codec.Unmarshal([]byte{}, &dst)
	require.Error(t, err)
}

func TestEmptyMessageRoundTrips(t *testing.T) {
	data, err := Codec.Marshal(&proto.Empty{})
	require.NoError(t, err)
	require.Empty(t, data)

	got := new(proto.Empty)
	require.NoError(t, Codec.Unmarshal(data, got))
	require.Equal(t, &proto.Empty{}, got)
}
