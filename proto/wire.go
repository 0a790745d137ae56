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

// Package proto defines the wire messages of spec.md §6. The teacher
// (ooozws-coname/proto) vendors protoc-gen-gogo output whose Marshal /
// Unmarshal methods hand-encode each message field by field rather than
// going through the reflective proto.Marshal(msg) entry point; this package
// follows the same shape but is written directly against
// google.golang.org/protobuf/encoding/protowire's low-level tag/varint/bytes
// primitives instead of vendoring protoc output (no protoc is available in
// this environment — see DESIGN.md for why the teacher's own
// timestamp.pb.go/duration.pb.go were dropped rather than adapted).
package proto

import (
	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/vava24680/GNS/common"
)

// Message is satisfied by every wire type in this package.
type Message interface {
	Marshal() ([]byte, error)
	Unmarshal([]byte) error
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	b = protowire.AppendString(b, s)
	return b
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	b = protowire.AppendBytes(b, v)
	return b
}

func appendUint32(b []byte, num protowire.Number, v uint32) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(v))
	return b
}

func appendNodeIDs(b []byte, num protowire.Number, ids []common.NodeID) []byte {
	for _, id := range ids {
		b = protowire.AppendTag(b, num, protowire.BytesType)
		b = protowire.AppendString(b, string(id))
	}
	return b
}

// fieldReader walks the length-delimited tag/value pairs of an encoded
// message, invoking set for each one. set returns an error to abort.
func fieldReader(data []byte, set func(num protowire.Number, typ protowire.Type, b []byte) (int, error)) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return errors.Wrap(protowire.ParseError(n), "gns/proto: consume tag")
		}
		data = data[n:]
		consumed, err := set(num, typ, data)
		if err != nil {
			return err
		}
		if consumed < 0 {
			m := protowire.ConsumeFieldValue(num, typ, data)
			if m < 0 {
				return errors.Wrap(protowire.ParseError(m), "gns/proto: skip field")
			}
			consumed = m
		}
		data = data[consumed:]
	}
	return nil
}

func consumeString(typ protowire.Type, b []byte) (string, int, error) {
	if typ != protowire.BytesType {
		return "", 0, errors.Errorf("gns/proto: expected bytes wire type, got %d", typ)
	}
	v, n := protowire.ConsumeString(b)
	if n < 0 {
		return "", 0, errors.Wrap(protowire.ParseError(n), "gns/proto: consume string")
	}
	return v, n, nil
}

func consumeBytes(typ protowire.Type, b []byte) ([]byte, int, error) {
	if typ != protowire.BytesType {
		return nil, 0, errors.Errorf("gns/proto: expected bytes wire type, got %d", typ)
	}
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, 0, errors.Wrap(protowire.ParseError(n), "gns/proto: consume bytes")
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, n, nil
}

func consumeUint32(typ protowire.Type, b []byte) (uint32, int, error) {
	if typ != protowire.VarintType {
		return 0, 0, errors.Errorf("gns/proto: expected varint wire type, got %d", typ)
	}
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, 0, errors.Wrap(protowire.ParseError(n), "gns/proto: consume varint")
	}
	return uint32(v), n, nil
}
