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

// Package rpc wires the reconfiguration core's messages (package proto) onto
// google.golang.org/grpc transport, the same RPC stack the teacher's
// raftlog.go uses for its own peer transport. Because the message structs
// are hand-marshaled (see proto/wire.go) rather than code-generated from
// .proto sources, the client and server here use a codec keyed off the
// package's own proto.Message interface instead of grpc's default
// reflection-based "proto" codec.
package rpc

import (
	"github.com/pkg/errors"
	"google.golang.org/grpc/encoding"

	"github.com/vava24680/GNS/proto"
)

// wireCodec adapts proto.Message's hand-rolled Marshal/Unmarshal onto grpc's
// encoding.Codec interface.
type wireCodec struct{}

func (wireCodec) Name() string { return "gnswire" }

func (wireCodec) Marshal(v interface{}) ([]byte, error) {
	m, ok := v.(proto.Message)
	if !ok {
		return nil, errors.Errorf("rpc: %T does not implement proto.Message", v)
	}
	return m.Marshal()
}

func (wireCodec) Unmarshal(data []byte, v interface{}) error {
	m, ok := v.(proto.Message)
	if !ok {
		return errors.Errorf("rpc: %T does not implement proto.Message", v)
	}
	return m.Unmarshal(data)
}

// Codec is the shared client/server codec. Clients pass grpc.ForceCodec(Codec)
// on each call, which sends the "gnswire" content-subtype; init registers
// Codec with grpc so a server built with a plain grpc.NewServer() decodes
// that subtype through it instead of the default codec.
var Codec = wireCodec{}

func init() { encoding.RegisterCodec(Codec) }
