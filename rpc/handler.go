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
	"context"

	"google.golang.org/grpc"

	"github.com/vava24680/GNS/proto"
)

// unaryHandler builds a grpc.MethodDesc.Handler for one RPC method without
// requiring protoc-generated glue: newReq allocates the concrete request
// type (so the codec has something to Unmarshal into) and call dispatches to
// the service implementation.
func unaryHandler(
	fullMethod string,
	newReq func() proto.Message,
	call func(srv interface{}, ctx context.Context, req proto.Message) (interface{}, error),
) func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := newReq()
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv, ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv, ctx, req.(proto.Message))
		}
		return interceptor(ctx, in, info, handler)
	}
}
